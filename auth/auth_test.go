package auth

import (
	"testing"

	"bankd/config"
	"bankd/db"
	"bankd/ledger"
	"bankd/store"
	"bankd/types"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	provider := db.NewMemoryProvider()
	accountStore, err := store.NewGenericAccountStore(provider)
	require.NoError(t, err)
	eventStore, err := store.NewEventStore(provider)
	require.NoError(t, err)

	cfg := &types.LedgerConfig{InterestRate: 1, ExistentialDeposit: uint256.NewInt(5)}
	ledgerSvc := ledger.NewLedger(accountStore, eventStore, store.NewConfigStore(provider), nil, cfg)
	return NewService(provider, ledgerSvc)
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newTestService(t)

	acc, err := svc.Register("alice", "s3cret", types.RoleCustomer)
	require.NoError(t, err)
	assert.Equal(t, "alice", acc.Owner)

	sess, err := svc.Login("alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, sess.UserID)
	assert.Equal(t, types.RoleCustomer, sess.Role)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Register("alice", "s3cret", types.RoleCustomer)
	require.NoError(t, err)

	_, err = svc.Login("alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// Unknown usernames fail identically so login cannot be used to probe
	// for registered names.
	_, err = svc.Login("nobody", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Register("alice", "one", types.RoleCustomer)
	require.NoError(t, err)

	_, err = svc.Register("alice", "two", types.RoleManager)
	assert.ErrorIs(t, err, ErrUsernameTaken)

	// Usernames are case insensitive.
	_, err = svc.Register("ALICE", "two", types.RoleCustomer)
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestRegisterRejectsEmptyCredentials(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Register("", "password", types.RoleCustomer)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Register("alice", "", types.RoleCustomer)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestChangePassword(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Register("alice", "old", types.RoleCustomer)
	require.NoError(t, err)

	require.NoError(t, svc.ChangePassword("alice", "old", "new"))

	_, err = svc.Login("alice", "old")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login("alice", "new")
	assert.NoError(t, err)

	assert.ErrorIs(t, svc.ChangePassword("alice", "old", "newer"), ErrInvalidCredentials)
}

func TestBootstrapSeedsGenesisUsers(t *testing.T) {
	svc := newTestService(t)

	genesis := &config.GenesisConfig{
		Users: []config.SeedUser{
			{Username: "alice", Password: "pw", Role: "customer", OpeningBalance: "100"},
			{Username: "mallory", Password: "pw", Role: "manager"},
		},
	}
	require.NoError(t, svc.Bootstrap(genesis))

	sess, err := svc.Login("alice", "pw")
	require.NoError(t, err)
	balance, err := svc.ledger.CheckBalance(*sess)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(100), balance)

	// Bootstrapping again against the same storage is a no-op.
	require.NoError(t, svc.Bootstrap(genesis))
	_, err = svc.Login("mallory", "pw")
	assert.NoError(t, err)
}
