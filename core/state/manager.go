package state

import (
	"encoding/binary"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"tixledger/core/types"
	"tixledger/native/ticketing"
	"tixledger/storage"
)

// Manager is the single source of truth for ledger state. It persists
// per-identity accounts and sale listings plus the policy singleton, the
// reserve counter and the owner record under keccak-hashed prefixed keys.
// Reads never fail on absent keys; they return zero-valued records, which is
// the contract the ticketing engine builds on.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

var (
	accountPrefix = []byte("ticketing/account:")
	listingPrefix = []byte("ticketing/listing:")
	policyKey     = ethcrypto.Keccak256([]byte("ticketing/policy"))
	reserveKey    = ethcrypto.Keccak256([]byte("ticketing/reserve"))
	ownerKey      = ethcrypto.Keccak256([]byte("ticketing/owner"))
)

func accountKey(addr [20]byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr[:])
	return ethcrypto.Keccak256(buf)
}

func listingKey(addr [20]byte) []byte {
	buf := make([]byte, len(listingPrefix)+len(addr))
	copy(buf, listingPrefix)
	copy(buf[len(listingPrefix):], addr[:])
	return ethcrypto.Keccak256(buf)
}

func (m *Manager) get(key []byte) ([]byte, bool, error) {
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// GetAccount loads the account for an identity; absent identities read as an
// empty account.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	data, ok, err := m.get(accountKey(addr))
	if err != nil {
		return nil, fmt.Errorf("state: load account: %w", err)
	}
	if !ok {
		return types.NewAccount(), nil
	}
	account := new(types.Account)
	if err := rlp.DecodeBytes(data, account); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	return account.Normalize(), nil
}

// PutAccount persists the account for an identity.
func (m *Manager) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	encoded, err := rlp.EncodeToBytes(account.Clone().Normalize())
	if err != nil {
		return fmt.Errorf("state: encode account: %w", err)
	}
	return m.db.Put(accountKey(addr), encoded)
}

// ListingGet loads the sale listing for an identity; absent identities read as
// an empty listing.
func (m *Manager) ListingGet(addr [20]byte) (*ticketing.Listing, error) {
	data, ok, err := m.get(listingKey(addr))
	if err != nil {
		return nil, fmt.Errorf("state: load listing: %w", err)
	}
	if !ok {
		return ticketing.NewListing(), nil
	}
	listing := new(ticketing.Listing)
	if err := rlp.DecodeBytes(data, listing); err != nil {
		return nil, fmt.Errorf("state: decode listing: %w", err)
	}
	return listing.Normalize(), nil
}

// ListingPut persists the sale listing for an identity.
func (m *Manager) ListingPut(addr [20]byte, listing *ticketing.Listing) error {
	if listing == nil {
		return fmt.Errorf("state: nil listing")
	}
	encoded, err := rlp.EncodeToBytes(listing.Clone().Normalize())
	if err != nil {
		return fmt.Errorf("state: encode listing: %w", err)
	}
	return m.db.Put(listingKey(addr), encoded)
}

// PolicyGet loads the policy singleton, falling back to defaults when the
// ledger has never been configured.
func (m *Manager) PolicyGet() (*ticketing.Policy, error) {
	data, ok, err := m.get(policyKey)
	if err != nil {
		return nil, fmt.Errorf("state: load policy: %w", err)
	}
	if !ok {
		return ticketing.DefaultPolicy(), nil
	}
	policy := new(ticketing.Policy)
	if err := rlp.DecodeBytes(data, policy); err != nil {
		return nil, fmt.Errorf("state: decode policy: %w", err)
	}
	return policy, nil
}

// PolicyPut persists the policy singleton.
func (m *Manager) PolicyPut(policy *ticketing.Policy) error {
	if policy == nil {
		return fmt.Errorf("state: nil policy")
	}
	encoded, err := rlp.EncodeToBytes(policy.Clone())
	if err != nil {
		return fmt.Errorf("state: encode policy: %w", err)
	}
	return m.db.Put(policyKey, encoded)
}

// ReserveGet loads the reserve counter.
func (m *Manager) ReserveGet() (uint64, error) {
	data, ok, err := m.get(reserveKey)
	if err != nil {
		return 0, fmt.Errorf("state: load reserve: %w", err)
	}
	if !ok || len(data) != 8 {
		return 0, nil
	}
	return binary.BigEndian.Uint64(data), nil
}

// ReservePut persists the reserve counter.
func (m *Manager) ReservePut(reserve uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, reserve)
	return m.db.Put(reserveKey, buf)
}

// OwnerGet loads the ledger owner identity recorded at creation time. The
// second return reports whether the ledger has been initialised.
func (m *Manager) OwnerGet() ([20]byte, bool, error) {
	var owner [20]byte
	data, ok, err := m.get(ownerKey)
	if err != nil {
		return owner, false, fmt.Errorf("state: load owner: %w", err)
	}
	if !ok || len(data) != 20 {
		return owner, false, nil
	}
	copy(owner[:], data)
	return owner, true, nil
}

// OwnerPut records the ledger owner. It refuses to overwrite an existing
// owner: the owner is fixed at creation time.
func (m *Manager) OwnerPut(owner [20]byte) error {
	if _, ok, err := m.OwnerGet(); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("state: ledger owner already set")
	}
	return m.db.Put(ownerKey, owner[:])
}
