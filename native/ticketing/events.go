package ticketing

import (
	"math/big"
	"strconv"

	"tixledger/core/types"
	"tixledger/crypto"
)

const (
	EventTypeListed         = "ticketing.listed"
	EventTypeDelisted       = "ticketing.delisted"
	EventTypePurchased      = "ticketing.purchased"
	EventTypeRefunded       = "ticketing.refunded"
	EventTypePartialRefund  = "ticketing.partial_refunded"
	EventTypeWithdrawn      = "ticketing.withdrawn"
	EventTypeEventCancelled = "ticketing.event_cancelled"
	EventTypePolicyUpdated  = "ticketing.policy_updated"
)

func addressAttr(addr [20]byte) string {
	return crypto.MustNewAddress(crypto.TixPrefix, addr[:]).String()
}

func amountAttr(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// NewListedEvent returns the canonical payload emitted when tickets are added
// to a sale listing.
func NewListedEvent(caller [20]byte, amount uint64, listing *Listing) *types.Event {
	return &types.Event{Type: EventTypeListed, Attributes: map[string]string{
		"seller":        addressAttr(caller),
		"amount":        strconv.FormatUint(amount, 10),
		"listingAmount": strconv.FormatUint(listing.Amount, 10),
		"listingPrice":  amountAttr(listing.Price),
	}}
}

// NewDelistedEvent returns the canonical payload emitted when tickets are
// withdrawn from a sale listing.
func NewDelistedEvent(caller [20]byte, amount uint64, listing *Listing) *types.Event {
	return &types.Event{Type: EventTypeDelisted, Attributes: map[string]string{
		"seller":        addressAttr(caller),
		"amount":        strconv.FormatUint(amount, 10),
		"listingAmount": strconv.FormatUint(listing.Amount, 10),
	}}
}

// NewPurchasedEvent returns the canonical payload for a completed purchase.
func NewPurchasedEvent(buyer, seller [20]byte, amount uint64, cost, fee *big.Int) *types.Event {
	return &types.Event{Type: EventTypePurchased, Attributes: map[string]string{
		"buyer":    addressAttr(buyer),
		"seller":   addressAttr(seller),
		"amount":   strconv.FormatUint(amount, 10),
		"cost":     amountAttr(cost),
		"ownerFee": amountAttr(fee),
	}}
}

// NewRefundedEvent returns the canonical payload for a full refund.
func NewRefundedEvent(caller [20]byte, amount uint64, refund *big.Int) *types.Event {
	return &types.Event{Type: EventTypeRefunded, Attributes: map[string]string{
		"caller": addressAttr(caller),
		"amount": strconv.FormatUint(amount, 10),
		"refund": amountAttr(refund),
	}}
}

// NewPartialRefundedEvent returns the canonical payload for a partial refund.
func NewPartialRefundedEvent(caller [20]byte, amount uint64, refund *big.Int) *types.Event {
	return &types.Event{Type: EventTypePartialRefund, Attributes: map[string]string{
		"caller": addressAttr(caller),
		"amount": strconv.FormatUint(amount, 10),
		"refund": amountAttr(refund),
	}}
}

// NewWithdrawnEvent returns the canonical payload for a currency withdrawal.
func NewWithdrawnEvent(caller [20]byte, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeWithdrawn, Attributes: map[string]string{
		"caller": addressAttr(caller),
		"amount": amountAttr(amount),
	}}
}

// NewEventCancelledEvent returns the canonical payload emitted when the owner
// zeroes their own ticket balance.
func NewEventCancelledEvent(caller [20]byte, cancelled uint64) *types.Event {
	return &types.Event{Type: EventTypeEventCancelled, Attributes: map[string]string{
		"caller":    addressAttr(caller),
		"cancelled": strconv.FormatUint(cancelled, 10),
	}}
}

// NewPolicyUpdatedEvent returns the canonical payload for a policy mutation.
func NewPolicyUpdatedEvent(policy *Policy) *types.Event {
	return &types.Event{Type: EventTypePolicyUpdated, Attributes: map[string]string{
		"ticketPrice":       amountAttr(policy.TicketPrice),
		"refundRatePercent": strconv.FormatUint(uint64(policy.RefundRatePercent), 10),
		"maxTicketsPerUser": strconv.FormatUint(policy.MaxTicketsPerUser, 10),
		"reserveLimit":      strconv.FormatUint(policy.ReserveLimit, 10),
	}}
}
