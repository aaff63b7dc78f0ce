package ticketing

import (
	"errors"
	"fmt"
	"math/big"

	"tixledger/core/events"
	"tixledger/core/types"
)

var errNilState = errors.New("ticketing engine: state not configured")

// engineState captures the subset of ledger state capabilities required by the
// ticketing engine. Reads return zero-valued records for identities that were
// never written.
type engineState interface {
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
	ListingGet(addr [20]byte) (*Listing, error)
	ListingPut(addr [20]byte, listing *Listing) error
	PolicyGet() (*Policy, error)
	PolicyPut(policy *Policy) error
	ReserveGet() (uint64, error)
	ReservePut(reserve uint64) error
}

type ticketingEvent struct {
	evt *types.Event
}

func (e ticketingEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e ticketingEvent) Event() *types.Event { return e.evt }

// Engine implements the ticketing ledger transitions: sale listings, direct
// purchases, refunds and owner-gated policy changes. Every operation validates
// against loaded copies, stages its writes in a changeset and flushes the
// changeset only once the last precondition has passed, so a rejected
// operation leaves the ledger byte-identical. The engine performs no locking;
// the host must serialise operations.
type Engine struct {
	state   engineState
	emitter events.Emitter
	owner   [20]byte
}

// NewEngine creates a ticketing engine owned by the supplied identity. The
// owner is fixed for the lifetime of the ledger.
func NewEngine(owner [20]byte) *Engine {
	return &Engine{
		owner:   owner,
		emitter: events.NoopEmitter{},
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// Owner returns the ledger owner identity.
func (e *Engine) Owner() [20]byte { return e.owner }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(ticketingEvent{evt: event})
}

func (e *Engine) withState() (engineState, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state, nil
}

// --- staged writes ---

// changeset collects every record an operation intends to write. Records are
// cloned on first load so validation and arithmetic never touch stored state;
// apply flushes them in load order. Loading the same address twice yields the
// same staged instance, which keeps owner-as-buyer style aliasing correct.
type changeset struct {
	state engineState

	accounts     map[[20]byte]*types.Account
	accountOrder [][20]byte
	listings     map[[20]byte]*Listing
	listingOrder [][20]byte
	reserve      *uint64
	policy       *Policy
}

func (e *Engine) newChangeset() (*changeset, error) {
	state, err := e.withState()
	if err != nil {
		return nil, err
	}
	return &changeset{
		state:    state,
		accounts: make(map[[20]byte]*types.Account),
		listings: make(map[[20]byte]*Listing),
	}, nil
}

func (cs *changeset) account(addr [20]byte) (*types.Account, error) {
	if staged, ok := cs.accounts[addr]; ok {
		return staged, nil
	}
	stored, err := cs.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	staged := stored.Clone().Normalize()
	cs.accounts[addr] = staged
	cs.accountOrder = append(cs.accountOrder, addr)
	return staged, nil
}

func (cs *changeset) listing(addr [20]byte) (*Listing, error) {
	if staged, ok := cs.listings[addr]; ok {
		return staged, nil
	}
	stored, err := cs.state.ListingGet(addr)
	if err != nil {
		return nil, err
	}
	staged := stored.Clone().Normalize()
	cs.listings[addr] = staged
	cs.listingOrder = append(cs.listingOrder, addr)
	return staged, nil
}

func (cs *changeset) setReserve(value uint64) {
	cs.reserve = &value
}

func (cs *changeset) setPolicy(policy *Policy) {
	cs.policy = policy
}

func (cs *changeset) apply() error {
	for _, addr := range cs.accountOrder {
		if err := cs.state.PutAccount(addr, cs.accounts[addr]); err != nil {
			return fmt.Errorf("ticketing: persist account: %w", err)
		}
	}
	for _, addr := range cs.listingOrder {
		if err := cs.state.ListingPut(addr, cs.listings[addr]); err != nil {
			return fmt.Errorf("ticketing: persist listing: %w", err)
		}
	}
	if cs.reserve != nil {
		if err := cs.state.ReservePut(*cs.reserve); err != nil {
			return fmt.Errorf("ticketing: persist reserve: %w", err)
		}
	}
	if cs.policy != nil {
		if err := cs.state.PolicyPut(cs.policy); err != nil {
			return fmt.Errorf("ticketing: persist policy: %w", err)
		}
	}
	return nil
}

// --- reserve accounting ---

type reserveDirection int

const (
	reserveCredit reserveDirection = iota
	reserveDebit
)

// stageReserveDelta applies a signed delta to the reserve counter inside the
// changeset. A debit larger than the current reserve floors at zero rather
// than failing; a credit that would push the counter past the policy limit is
// rejected. Listing and refund paths call this; direct purchases do not, since
// a purchased ticket was already counted when it was listed.
func (e *Engine) stageReserveDelta(cs *changeset, amount uint64, direction reserveDirection, limit uint64) error {
	state, err := e.withState()
	if err != nil {
		return err
	}
	current, err := state.ReserveGet()
	if err != nil {
		return err
	}
	var next uint64
	switch direction {
	case reserveDebit:
		if amount > current {
			next = 0
		} else {
			next = current - amount
		}
	default:
		next = current + amount
		if next < current {
			return ErrReserveLimitExceeded
		}
	}
	if next > limit {
		return ErrReserveLimitExceeded
	}
	cs.setReserve(next)
	return nil
}

// refundAmount computes amount * price * rate / 100 with truncating integer
// division.
func refundAmount(amount uint64, price *big.Int, ratePercent uint32) *big.Int {
	if price == nil {
		price = big.NewInt(0)
	}
	out := new(big.Int).SetUint64(amount)
	out.Mul(out, price)
	out.Mul(out, new(big.Int).SetUint64(uint64(ratePercent)))
	return out.Div(out, big.NewInt(100))
}

// --- transaction operations ---

// ListForSale moves amount tickets from the caller's holdings into their sale
// listing. The listing price is refreshed to the current policy price on every
// additive call, overwriting any previously captured price. Tickets already
// listed count against the caller's holdings, so a user can never list more
// than they own in aggregate.
func (e *Engine) ListForSale(caller [20]byte, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	cs, err := e.newChangeset()
	if err != nil {
		return err
	}
	policy, err := e.policy()
	if err != nil {
		return err
	}
	account, err := cs.account(caller)
	if err != nil {
		return err
	}
	listing, err := cs.listing(caller)
	if err != nil {
		return err
	}
	if listing.Amount > account.Tickets || amount > account.Tickets-listing.Amount {
		return ErrInsufficientTickets
	}
	if err := e.stageReserveDelta(cs, amount, reserveCredit, policy.ReserveLimit); err != nil {
		return err
	}
	listing.Amount += amount
	listing.Price = new(big.Int).Set(policy.TicketPrice)
	if err := cs.apply(); err != nil {
		return err
	}
	e.emit(NewListedEvent(caller, amount, listing))
	return nil
}

// Delist returns amount tickets from the caller's sale listing to their
// holdings. The captured listing price is left untouched.
func (e *Engine) Delist(caller [20]byte, amount uint64) error {
	cs, err := e.newChangeset()
	if err != nil {
		return err
	}
	policy, err := e.policy()
	if err != nil {
		return err
	}
	listing, err := cs.listing(caller)
	if err != nil {
		return err
	}
	if listing.Amount < amount {
		return ErrInsufficientTickets
	}
	if err := e.stageReserveDelta(cs, amount, reserveDebit, policy.ReserveLimit); err != nil {
		return err
	}
	listing.Amount -= amount
	if err := cs.apply(); err != nil {
		return err
	}
	e.emit(NewDelistedEvent(caller, amount, listing))
	return nil
}

// Buy transfers amount tickets from the seller's listing to the buyer at the
// listing's captured price. On top of the sale price, a fee of
// amount * currentPolicyPrice * refundRate / 100 is credited to the owner;
// the fee is computed from the current global price, not the listing price.
// The reserve counter is untouched: the tickets were counted when listed.
func (e *Engine) Buy(buyer, seller [20]byte, amount uint64) error {
	if buyer == seller {
		return ErrSameUser
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	cs, err := e.newChangeset()
	if err != nil {
		return err
	}
	policy, err := e.policy()
	if err != nil {
		return err
	}
	sellerListing, err := cs.listing(seller)
	if err != nil {
		return err
	}
	if sellerListing.Amount < amount {
		return ErrInsufficientTickets
	}
	cost := new(big.Int).Mul(new(big.Int).SetUint64(amount), sellerListing.Price)
	fee := refundAmount(amount, policy.TicketPrice, policy.RefundRatePercent)

	buyerAccount, err := cs.account(buyer)
	if err != nil {
		return err
	}
	if buyerAccount.Balance.Cmp(cost) < 0 {
		return ErrInsufficientFunds
	}
	sellerAccount, err := cs.account(seller)
	if err != nil {
		return err
	}
	if sellerAccount.Tickets < amount {
		return ErrInsufficientTickets
	}
	ownerAccount, err := cs.account(e.owner)
	if err != nil {
		return err
	}

	sellerAccount.Tickets -= amount
	sellerListing.Amount -= amount
	buyerAccount.Balance.Sub(buyerAccount.Balance, cost)
	buyerAccount.Tickets += amount
	sellerAccount.Balance.Add(sellerAccount.Balance, cost)
	ownerAccount.Balance.Add(ownerAccount.Balance, fee)

	if err := cs.apply(); err != nil {
		return err
	}
	e.emit(NewPurchasedEvent(buyer, seller, amount, cost, fee))
	return nil
}

// Refund surrenders amount of the caller's tickets back to the owner in
// exchange for amount * price * refundRate / 100 currency paid out of the
// owner's balance. The surrendered tickets are reassigned to the owner, not
// destroyed, and the reserve counter is reduced by the surrendered amount.
func (e *Engine) Refund(caller [20]byte, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	cs, err := e.newChangeset()
	if err != nil {
		return err
	}
	policy, err := e.policy()
	if err != nil {
		return err
	}
	callerAccount, err := cs.account(caller)
	if err != nil {
		return err
	}
	if callerAccount.Tickets < amount {
		return ErrInsufficientTickets
	}
	refund := refundAmount(amount, policy.TicketPrice, policy.RefundRatePercent)
	ownerAccount, err := cs.account(e.owner)
	if err != nil {
		return err
	}
	if ownerAccount.Balance.Cmp(refund) < 0 {
		return ErrTransferFailed
	}
	if err := e.stageReserveDelta(cs, amount, reserveDebit, policy.ReserveLimit); err != nil {
		return err
	}

	callerAccount.Tickets -= amount
	callerAccount.Balance.Add(callerAccount.Balance, refund)
	ownerAccount.Balance.Sub(ownerAccount.Balance, refund)
	ownerAccount.Tickets += amount

	if err := cs.apply(); err != nil {
		return err
	}
	e.emit(NewRefundedEvent(caller, amount, refund))
	return nil
}

// PartialRefund deducts amount of the caller's tickets and credits the caller
// with amount * price * refundRate / 100 currency. Unlike Refund, nothing is
// debited from the owner, the surrendered tickets are not reassigned, and the
// reserve counter is untouched. The credited currency has no compensating
// debit anywhere in the ledger.
func (e *Engine) PartialRefund(caller [20]byte, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	cs, err := e.newChangeset()
	if err != nil {
		return err
	}
	policy, err := e.policy()
	if err != nil {
		return err
	}
	callerAccount, err := cs.account(caller)
	if err != nil {
		return err
	}
	if callerAccount.Tickets < amount {
		return ErrInsufficientTickets
	}
	refund := refundAmount(amount, policy.TicketPrice, policy.RefundRatePercent)

	callerAccount.Tickets -= amount
	callerAccount.Balance.Add(callerAccount.Balance, refund)

	if err := cs.apply(); err != nil {
		return err
	}
	e.emit(NewPartialRefundedEvent(caller, amount, refund))
	return nil
}

// Withdraw deducts amount from the caller's currency balance, modelling an
// extraction to an external settlement layer.
func (e *Engine) Withdraw(caller [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	cs, err := e.newChangeset()
	if err != nil {
		return err
	}
	callerAccount, err := cs.account(caller)
	if err != nil {
		return err
	}
	if callerAccount.Balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	callerAccount.Balance.Sub(callerAccount.Balance, amount)
	if err := cs.apply(); err != nil {
		return err
	}
	e.emit(NewWithdrawnEvent(caller, amount))
	return nil
}

// CancelEvent zeroes the calling owner's own ticket balance. The scope is
// deliberately narrow: other users' holdings and listings are untouched.
func (e *Engine) CancelEvent(caller [20]byte) error {
	if caller != e.owner {
		return ErrNotOwner
	}
	cs, err := e.newChangeset()
	if err != nil {
		return err
	}
	account, err := cs.account(caller)
	if err != nil {
		return err
	}
	cancelled := account.Tickets
	account.Tickets = 0
	if err := cs.apply(); err != nil {
		return err
	}
	e.emit(NewEventCancelledEvent(caller, cancelled))
	return nil
}

func (e *Engine) policy() (*Policy, error) {
	state, err := e.withState()
	if err != nil {
		return nil, err
	}
	policy, err := state.PolicyGet()
	if err != nil {
		return nil, err
	}
	if policy == nil {
		return DefaultPolicy(), nil
	}
	return policy.Clone(), nil
}
