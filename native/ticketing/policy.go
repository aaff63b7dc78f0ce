package ticketing

import (
	"math/big"

	"tixledger/core/types"
)

// The policy setters below form the owner-gated registry. Each one stages a
// single policy write; the owner check always runs first so a non-owner caller
// observes ErrNotOwner regardless of argument validity.

// SetTicketPrice replaces the global ticket price. The price must be strictly
// positive.
func (e *Engine) SetTicketPrice(caller [20]byte, price *big.Int) error {
	if caller != e.owner {
		return ErrNotOwner
	}
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	return e.updatePolicy(func(policy *Policy) error {
		policy.TicketPrice = new(big.Int).Set(price)
		return nil
	})
}

// SetRefundRate replaces the refund rate percentage. Rates above 100 are
// rejected.
func (e *Engine) SetRefundRate(caller [20]byte, ratePercent uint32) error {
	if caller != e.owner {
		return ErrNotOwner
	}
	if ratePercent > 100 {
		return ErrInvalidRate
	}
	return e.updatePolicy(func(policy *Policy) error {
		policy.RefundRatePercent = ratePercent
		return nil
	})
}

// SetMaxTicketsPerUser replaces the per-user purchase cap. The cap must be
// strictly positive.
func (e *Engine) SetMaxTicketsPerUser(caller [20]byte, max uint64) error {
	if caller != e.owner {
		return ErrNotOwner
	}
	if max == 0 {
		return ErrInvalidAmount
	}
	return e.updatePolicy(func(policy *Policy) error {
		policy.MaxTicketsPerUser = max
		return nil
	})
}

// SetReserveLimit replaces the global reserve limit. The limit cannot be
// shrunk below the number of tickets currently counted in the reserve.
func (e *Engine) SetReserveLimit(caller [20]byte, limit uint64) error {
	if caller != e.owner {
		return ErrNotOwner
	}
	state, err := e.withState()
	if err != nil {
		return err
	}
	reserve, err := state.ReserveGet()
	if err != nil {
		return err
	}
	if limit < reserve {
		return ErrReserveLimitExceeded
	}
	return e.updatePolicy(func(policy *Policy) error {
		policy.ReserveLimit = limit
		return nil
	})
}

// IncreasePrice raises the ticket price by delta.
func (e *Engine) IncreasePrice(caller [20]byte, delta *big.Int) error {
	if caller != e.owner {
		return ErrNotOwner
	}
	if delta == nil || delta.Sign() < 0 {
		return ErrInvalidPrice
	}
	return e.updatePolicy(func(policy *Policy) error {
		policy.TicketPrice = new(big.Int).Add(policy.TicketPrice, delta)
		return nil
	})
}

// DecreasePrice lowers the ticket price by delta. The delta must be strictly
// below the current price, so the price can never reach zero through this
// path; SetTicketPrice remains the only way to jump to an arbitrary positive
// price.
func (e *Engine) DecreasePrice(caller [20]byte, delta *big.Int) error {
	if caller != e.owner {
		return ErrNotOwner
	}
	if delta == nil || delta.Sign() < 0 {
		return ErrInvalidPrice
	}
	return e.updatePolicy(func(policy *Policy) error {
		if delta.Cmp(policy.TicketPrice) >= 0 {
			return ErrInvalidPrice
		}
		policy.TicketPrice = new(big.Int).Sub(policy.TicketPrice, delta)
		return nil
	})
}

func (e *Engine) updatePolicy(mutate func(*Policy) error) error {
	cs, err := e.newChangeset()
	if err != nil {
		return err
	}
	policy, err := e.policy()
	if err != nil {
		return err
	}
	if err := mutate(policy); err != nil {
		return err
	}
	cs.setPolicy(policy)
	if err := cs.apply(); err != nil {
		return err
	}
	e.emit(NewPolicyUpdatedEvent(policy))
	return nil
}

// --- read-only projections ---

// TicketPrice returns the current global ticket price.
func (e *Engine) TicketPrice() (*big.Int, error) {
	policy, err := e.policy()
	if err != nil {
		return nil, err
	}
	return policy.TicketPrice, nil
}

// RefundRate returns the current refund rate percentage.
func (e *Engine) RefundRate() (uint32, error) {
	policy, err := e.policy()
	if err != nil {
		return 0, err
	}
	return policy.RefundRatePercent, nil
}

// CurrentPolicy returns a copy of the full policy record.
func (e *Engine) CurrentPolicy() (*Policy, error) {
	return e.policy()
}

// AccountOf returns a copy of the identity's ticket and currency balances.
// Unknown identities read as zero.
func (e *Engine) AccountOf(addr [20]byte) (*types.Account, error) {
	state, err := e.withState()
	if err != nil {
		return nil, err
	}
	account, err := state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return account.Clone().Normalize(), nil
}

// ListingOf returns a copy of the identity's sale listing. Unknown identities
// read as an empty listing.
func (e *Engine) ListingOf(addr [20]byte) (*Listing, error) {
	state, err := e.withState()
	if err != nil {
		return nil, err
	}
	listing, err := state.ListingGet(addr)
	if err != nil {
		return nil, err
	}
	return listing.Clone().Normalize(), nil
}

// Reserve returns the number of tickets currently counted against the global
// sale cap.
func (e *Engine) Reserve() (uint64, error) {
	state, err := e.withState()
	if err != nil {
		return 0, err
	}
	return state.ReserveGet()
}
