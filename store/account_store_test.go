package store

import (
	"testing"

	"bankd/db"
	"bankd/types"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAccountStore(t *testing.T) (*GenericAccountStore, *db.MemoryProvider) {
	t.Helper()
	provider := db.NewMemoryProvider()
	as, err := NewGenericAccountStore(provider)
	require.NoError(t, err)
	return as, provider
}

func TestCreateAssignsSequentialIDs(t *testing.T) {
	as, _ := newTestAccountStore(t)

	alice, err := as.Create("alice", types.RoleCustomer)
	require.NoError(t, err)
	bob, err := as.Create("bob", types.RoleCustomer)
	require.NoError(t, err)

	assert.Equal(t, alice.ID+1, bob.ID)
	assert.Nil(t, alice.Balance, "new accounts start unfunded")
}

func TestGetMissingAccountReturnsNil(t *testing.T) {
	as, _ := newTestAccountStore(t)

	acc, err := as.Get(42)
	require.NoError(t, err)
	assert.Nil(t, acc)
}

func TestSetBalanceRoundTrip(t *testing.T) {
	as, _ := newTestAccountStore(t)
	alice, err := as.Create("alice", types.RoleCustomer)
	require.NoError(t, err)

	require.NoError(t, as.SetBalance(alice.ID, uint256.NewInt(100)))
	got, err := as.Get(alice.ID)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(100), got.Balance)

	// Clearing the balance reaps the account but keeps the record.
	require.NoError(t, as.SetBalance(alice.ID, nil))
	got, err = as.Get(alice.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Nil(t, got.Balance)
	assert.Equal(t, "alice", got.Owner)
}

func TestSetBalanceBatchUnknownAccount(t *testing.T) {
	as, _ := newTestAccountStore(t)
	alice, err := as.Create("alice", types.RoleCustomer)
	require.NoError(t, err)

	err = as.SetBalanceBatch(map[uint64]*uint256.Int{
		alice.ID: uint256.NewInt(10),
		999:      uint256.NewInt(10),
	})
	assert.Error(t, err)
}

func TestGetAllOrderedByID(t *testing.T) {
	as, _ := newTestAccountStore(t)
	for _, owner := range []string{"alice", "bob", "carol"} {
		_, err := as.Create(owner, types.RoleCustomer)
		require.NoError(t, err)
	}

	accounts, err := as.GetAll()
	require.NoError(t, err)
	require.Len(t, accounts, 3)
	for i := 1; i < len(accounts); i++ {
		assert.Less(t, accounts[i-1].ID, accounts[i].ID)
	}
}

func TestIDCounterSurvivesRestart(t *testing.T) {
	as, provider := newTestAccountStore(t)
	alice, err := as.Create("alice", types.RoleCustomer)
	require.NoError(t, err)

	// A second store over the same provider must not reuse ids.
	reopened, err := NewGenericAccountStore(provider)
	require.NoError(t, err)
	bob, err := reopened.Create("bob", types.RoleCustomer)
	require.NoError(t, err)
	assert.Greater(t, bob.ID, alice.ID)
}

func TestOwnerOf(t *testing.T) {
	as, _ := newTestAccountStore(t)
	alice, err := as.Create("alice", types.RoleManager)
	require.NoError(t, err)

	owner, err := as.OwnerOf(alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)

	_, err = as.OwnerOf(999)
	assert.Error(t, err)
}
