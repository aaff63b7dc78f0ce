package ticketing

import (
	"fmt"
	"math/big"
)

// Listing is a standing offer by one identity to sell tickets. The price is
// captured from the global policy at listing time and is not refreshed when
// the policy later changes, except by a further additive ListForSale call.
type Listing struct {
	Amount uint64   `json:"amount"`
	Price  *big.Int `json:"price"`
}

// NewListing returns an empty listing with a non-nil price.
func NewListing() *Listing {
	return &Listing{Price: big.NewInt(0)}
}

// Normalize ensures the price pointer is non-nil. Returns the receiver for
// chaining.
func (l *Listing) Normalize() *Listing {
	if l.Price == nil {
		l.Price = big.NewInt(0)
	}
	return l
}

// Clone returns a deep copy of the listing so callers can safely mutate the
// copy without affecting the stored instance.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return NewListing()
	}
	clone := &Listing{Amount: l.Amount, Price: big.NewInt(0)}
	if l.Price != nil {
		clone.Price = new(big.Int).Set(l.Price)
	}
	return clone
}

// Policy is the mutable ledger configuration. Only the owner identity may
// change it. MaxTicketsPerUser is carried in configuration; no purchase
// path consults it.
type Policy struct {
	TicketPrice       *big.Int `json:"ticketPrice"`
	RefundRatePercent uint32   `json:"refundRatePercent"`
	MaxTicketsPerUser uint64   `json:"maxTicketsPerUser"`
	ReserveLimit      uint64   `json:"reserveLimit"`
}

// DefaultPolicy returns the policy a freshly created ledger starts with.
func DefaultPolicy() *Policy {
	return &Policy{
		TicketPrice:       big.NewInt(1000),
		RefundRatePercent: 80,
		MaxTicketsPerUser: 10,
		ReserveLimit:      1000,
	}
}

// Clone returns a deep copy of the policy.
func (p *Policy) Clone() *Policy {
	if p == nil {
		return DefaultPolicy()
	}
	clone := &Policy{
		RefundRatePercent: p.RefundRatePercent,
		MaxTicketsPerUser: p.MaxTicketsPerUser,
		ReserveLimit:      p.ReserveLimit,
		TicketPrice:       big.NewInt(0),
	}
	if p.TicketPrice != nil {
		clone.TicketPrice = new(big.Int).Set(p.TicketPrice)
	}
	return clone
}

// SanitizePolicy validates a policy loaded from genesis or storage and returns
// a normalised clone.
func SanitizePolicy(p *Policy) (*Policy, error) {
	if p == nil {
		return nil, fmt.Errorf("ticketing: nil policy")
	}
	clone := p.Clone()
	if clone.TicketPrice.Sign() <= 0 {
		return nil, fmt.Errorf("ticketing: ticket price must be positive")
	}
	if clone.RefundRatePercent > 100 {
		return nil, fmt.Errorf("ticketing: refund rate must not exceed 100")
	}
	if clone.MaxTicketsPerUser == 0 {
		return nil, fmt.Errorf("ticketing: max tickets per user must be positive")
	}
	return clone, nil
}
