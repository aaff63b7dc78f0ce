package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"tixledger/core/types"
	"tixledger/native/ticketing"
	"tixledger/storage"
)

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func TestAccountDefaultsToZero(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	account, err := manager.GetAccount(testAddr(0x01))
	require.NoError(t, err)
	require.Zero(t, account.Tickets)
	require.Zero(t, account.Balance.Sign())
}

func TestAccountRoundTrip(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	addr := testAddr(0x02)
	require.NoError(t, manager.PutAccount(addr, &types.Account{Tickets: 7, Balance: big.NewInt(1234)}))

	account, err := manager.GetAccount(addr)
	require.NoError(t, err)
	require.Equal(t, uint64(7), account.Tickets)
	require.Zero(t, account.Balance.Cmp(big.NewInt(1234)))

	// A different identity is unaffected.
	other, err := manager.GetAccount(testAddr(0x03))
	require.NoError(t, err)
	require.Zero(t, other.Tickets)
}

func TestListingRoundTrip(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	addr := testAddr(0x04)

	listing, err := manager.ListingGet(addr)
	require.NoError(t, err)
	require.Zero(t, listing.Amount)

	require.NoError(t, manager.ListingPut(addr, &ticketing.Listing{Amount: 5, Price: big.NewInt(1000)}))
	listing, err = manager.ListingGet(addr)
	require.NoError(t, err)
	require.Equal(t, uint64(5), listing.Amount)
	require.Zero(t, listing.Price.Cmp(big.NewInt(1000)))
}

func TestPolicyDefaultsAndRoundTrip(t *testing.T) {
	manager := NewManager(storage.NewMemDB())

	policy, err := manager.PolicyGet()
	require.NoError(t, err)
	require.Zero(t, policy.TicketPrice.Cmp(big.NewInt(1000)))

	policy.TicketPrice = big.NewInt(2500)
	policy.RefundRatePercent = 50
	require.NoError(t, manager.PolicyPut(policy))

	loaded, err := manager.PolicyGet()
	require.NoError(t, err)
	require.Zero(t, loaded.TicketPrice.Cmp(big.NewInt(2500)))
	require.Equal(t, uint32(50), loaded.RefundRatePercent)
}

func TestReserveRoundTrip(t *testing.T) {
	manager := NewManager(storage.NewMemDB())

	reserve, err := manager.ReserveGet()
	require.NoError(t, err)
	require.Zero(t, reserve)

	require.NoError(t, manager.ReservePut(42))
	reserve, err = manager.ReserveGet()
	require.NoError(t, err)
	require.Equal(t, uint64(42), reserve)
}

func TestOwnerIsWriteOnce(t *testing.T) {
	manager := NewManager(storage.NewMemDB())

	_, ok, err := manager.OwnerGet()
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, manager.OwnerPut(testAddr(0x0A)))
	owner, ok, err := manager.OwnerGet()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, testAddr(0x0A), owner)

	require.Error(t, manager.OwnerPut(testAddr(0x0B)))
}

func TestManagerSatisfiesEngineState(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	require.NoError(t, manager.OwnerPut(testAddr(0x01)))

	engine := ticketing.NewEngine(testAddr(0x01))
	engine.SetState(manager)

	alice := testAddr(0xAA)
	require.NoError(t, manager.PutAccount(alice, &types.Account{Tickets: 5, Balance: big.NewInt(0)}))
	require.NoError(t, engine.ListForSale(alice, 5))

	reserve, err := engine.Reserve()
	require.NoError(t, err)
	require.Equal(t, uint64(5), reserve)
}
