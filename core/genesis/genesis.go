package genesis

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"

	"tixledger/core/state"
	"tixledger/core/types"
	"tixledger/crypto"
	"tixledger/native/ticketing"
)

// Spec describes the initial ledger contents: the owner identity, the starting
// policy and any pre-funded accounts. It is applied exactly once, when the
// store has no recorded owner; later boots ignore the file.
type Spec struct {
	Owner  string  `json:"owner"`
	Policy *Policy `json:"policy,omitempty"`
	Alloc  []Alloc `json:"alloc,omitempty"`
}

// Policy mirrors ticketing.Policy with string-encoded currency amounts so the
// JSON form has no precision pitfalls.
type Policy struct {
	TicketPrice       string `json:"ticketPrice"`
	RefundRatePercent uint32 `json:"refundRatePercent"`
	MaxTicketsPerUser uint64 `json:"maxTicketsPerUser"`
	ReserveLimit      uint64 `json:"reserveLimit"`
}

// Alloc pre-funds a single identity with tickets and currency.
type Alloc struct {
	Address string `json:"address"`
	Tickets uint64 `json:"tickets,omitempty"`
	Balance string `json:"balance,omitempty"`
}

// LoadSpec reads and parses a genesis spec from disk.
func LoadSpec(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("genesis: read spec: %w", err)
	}
	spec := new(Spec)
	if err := json.Unmarshal(data, spec); err != nil {
		return nil, fmt.Errorf("genesis: decode spec: %w", err)
	}
	return spec, nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("genesis: invalid amount %q", raw)
	}
	return value, nil
}

func (s *Spec) ticketingPolicy() (*ticketing.Policy, error) {
	if s.Policy == nil {
		return ticketing.DefaultPolicy(), nil
	}
	price, err := parseAmount(s.Policy.TicketPrice)
	if err != nil {
		return nil, err
	}
	return ticketing.SanitizePolicy(&ticketing.Policy{
		TicketPrice:       price,
		RefundRatePercent: s.Policy.RefundRatePercent,
		MaxTicketsPerUser: s.Policy.MaxTicketsPerUser,
		ReserveLimit:      s.Policy.ReserveLimit,
	})
}

// Apply writes the genesis contents into the state manager and returns the
// owner identity. If the ledger already has an owner, Apply is a no-op and
// returns the stored owner.
func Apply(manager *state.Manager, spec *Spec) ([20]byte, error) {
	var zero [20]byte
	if manager == nil {
		return zero, fmt.Errorf("genesis: nil state manager")
	}
	if existing, ok, err := manager.OwnerGet(); err != nil {
		return zero, err
	} else if ok {
		return existing, nil
	}
	if spec == nil {
		return zero, fmt.Errorf("genesis: spec required for an empty ledger")
	}
	ownerAddr, err := crypto.DecodeAddress(strings.TrimSpace(spec.Owner))
	if err != nil {
		return zero, fmt.Errorf("genesis: invalid owner address: %w", err)
	}
	policy, err := spec.ticketingPolicy()
	if err != nil {
		return zero, err
	}
	if err := manager.OwnerPut(ownerAddr.Raw()); err != nil {
		return zero, err
	}
	if err := manager.PolicyPut(policy); err != nil {
		return zero, err
	}
	for _, alloc := range spec.Alloc {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(alloc.Address))
		if err != nil {
			return zero, fmt.Errorf("genesis: invalid alloc address %q: %w", alloc.Address, err)
		}
		balance, err := parseAmount(alloc.Balance)
		if err != nil {
			return zero, err
		}
		account := &types.Account{Tickets: alloc.Tickets, Balance: balance}
		if err := manager.PutAccount(addr.Raw(), account); err != nil {
			return zero, err
		}
	}
	return ownerAddr.Raw(), nil
}
