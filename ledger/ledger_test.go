package ledger

import (
	"testing"

	"bankd/db"
	"bankd/errors"
	"bankd/store"
	"bankd/types"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testBank struct {
	ledger   *Ledger
	accounts store.AccountStore
	events   *store.EventStore
}

// newTestBank wires a ledger over the in-memory backend with a 1 percent
// interest rate and an existential deposit of 5.
func newTestBank(t *testing.T) *testBank {
	t.Helper()

	provider := db.NewMemoryProvider()
	accountStore, err := store.NewGenericAccountStore(provider)
	require.NoError(t, err)
	eventStore, err := store.NewEventStore(provider)
	require.NoError(t, err)
	configStore := store.NewConfigStore(provider)

	cfg := &types.LedgerConfig{
		InterestRate:       1,
		ExistentialDeposit: uint256.NewInt(5),
	}
	return &testBank{
		ledger:   NewLedger(accountStore, eventStore, configStore, nil, cfg),
		accounts: accountStore,
		events:   eventStore,
	}
}

func (b *testBank) customer(t *testing.T, owner string, balance uint64) types.Session {
	t.Helper()
	acc, err := b.ledger.CreateAccount(owner, types.RoleCustomer)
	require.NoError(t, err)
	if balance > 0 {
		require.NoError(t, b.ledger.SeedBalance(acc.ID, uint256.NewInt(balance)))
	}
	return types.Session{UserID: acc.ID, Role: types.RoleCustomer}
}

func (b *testBank) manager(t *testing.T) types.Session {
	t.Helper()
	acc, err := b.ledger.CreateAccount("manager", types.RoleManager)
	require.NoError(t, err)
	return types.Session{UserID: acc.ID, Role: types.RoleManager}
}

func (b *testBank) auditor(t *testing.T) types.Session {
	t.Helper()
	acc, err := b.ledger.CreateAccount("auditor", types.RoleAuditor)
	require.NoError(t, err)
	return types.Session{UserID: acc.ID, Role: types.RoleAuditor}
}

func (b *testBank) balance(t *testing.T, id uint64) *uint256.Int {
	t.Helper()
	acc, err := b.accounts.Get(id)
	require.NoError(t, err)
	require.NotNil(t, acc)
	return acc.Balance
}

func (b *testBank) eventKinds(t *testing.T) []types.EventKind {
	t.Helper()
	var kinds []types.EventKind
	for _, event := range b.events.All().Collect() {
		kinds = append(kinds, event.Kind)
	}
	return kinds
}

func TestDepositFundsAccount(t *testing.T) {
	bank := newTestBank(t)
	alice := bank.customer(t, "alice", 0)

	balance, err := bank.ledger.Deposit(alice, uint256.NewInt(10))
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(10), balance)
	assert.Equal(t, []types.EventKind{types.EventDeposit}, bank.eventKinds(t))
}

func TestDepositBelowExistentialDepositRejected(t *testing.T) {
	bank := newTestBank(t)
	alice := bank.customer(t, "alice", 0)

	_, err := bank.ledger.Deposit(alice, uint256.NewInt(4))
	assert.ErrorIs(t, err, errors.ErrBelowExistentialDeposit)
	assert.Nil(t, bank.balance(t, alice.UserID))
	assert.Empty(t, bank.eventKinds(t), "rejected operation must not append events")
}

func TestDepositZeroRejected(t *testing.T) {
	bank := newTestBank(t)
	alice := bank.customer(t, "alice", 10)

	_, err := bank.ledger.Deposit(alice, uint256.NewInt(0))
	assert.ErrorIs(t, err, errors.ErrInvalidAmount)
	assert.Equal(t, uint256.NewInt(10), bank.balance(t, alice.UserID))
}

func TestDepositThenWithdrawRestoresBalance(t *testing.T) {
	bank := newTestBank(t)
	alice := bank.customer(t, "alice", 30)

	intermediate, err := bank.ledger.Deposit(alice, uint256.NewInt(12))
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(42), intermediate)

	balance, err := bank.ledger.Withdraw(alice, uint256.NewInt(12))
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(30), balance, "withdrawing the deposited amount restores the prior balance exactly")
	assert.Equal(t, uint256.NewInt(30), bank.balance(t, alice.UserID))
	assert.Equal(t, []types.EventKind{types.EventDeposit, types.EventWithdraw}, bank.eventKinds(t))
}

func TestWithdrawKeepsBalanceAboveFloor(t *testing.T) {
	bank := newTestBank(t)
	alice := bank.customer(t, "alice", 20)

	balance, err := bank.ledger.Withdraw(alice, uint256.NewInt(15))
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(5), balance, "remainder exactly at the floor survives")
	assert.Equal(t, []types.EventKind{types.EventWithdraw}, bank.eventKinds(t))
}

func TestWithdrawReapsDust(t *testing.T) {
	bank := newTestBank(t)
	alice := bank.customer(t, "alice", 10)

	balance, err := bank.ledger.Withdraw(alice, uint256.NewInt(7))
	require.NoError(t, err)
	assert.Nil(t, balance)
	assert.Nil(t, bank.balance(t, alice.UserID), "account record survives with no balance")
	assert.Equal(t, []types.EventKind{types.EventWithdraw, types.EventReap}, bank.eventKinds(t))

	events := bank.events.All().Collect()
	assert.Equal(t, uint256.NewInt(7), events[0].Amount)
	assert.Equal(t, uint256.NewInt(3), events[1].Amount, "reap records the destroyed dust")
}

func TestWithdrawEntireBalanceReaps(t *testing.T) {
	bank := newTestBank(t)
	alice := bank.customer(t, "alice", 10)

	balance, err := bank.ledger.Withdraw(alice, uint256.NewInt(10))
	require.NoError(t, err)
	assert.Nil(t, balance)

	events := bank.events.All().Collect()
	require.Len(t, events, 2)
	assert.True(t, events[1].Amount.IsZero(), "no dust when the remainder is exactly zero")
}

func TestWithdrawInsufficientFunds(t *testing.T) {
	bank := newTestBank(t)
	alice := bank.customer(t, "alice", 10)

	_, err := bank.ledger.Withdraw(alice, uint256.NewInt(11))
	assert.ErrorIs(t, err, errors.ErrInsufficientFunds)
	assert.Equal(t, uint256.NewInt(10), bank.balance(t, alice.UserID))
}

func TestWithdrawFromReapedAccount(t *testing.T) {
	bank := newTestBank(t)
	alice := bank.customer(t, "alice", 0)

	_, err := bank.ledger.Withdraw(alice, uint256.NewInt(1))
	assert.ErrorIs(t, err, errors.ErrInsufficientFunds)
}

func TestTransferMovesFunds(t *testing.T) {
	bank := newTestBank(t)
	alice := bank.customer(t, "alice", 50)
	bob := bank.customer(t, "bob", 20)

	require.NoError(t, bank.ledger.Transfer(alice, bob.UserID, uint256.NewInt(10)))
	assert.Equal(t, uint256.NewInt(40), bank.balance(t, alice.UserID))
	assert.Equal(t, uint256.NewInt(30), bank.balance(t, bob.UserID))
	assert.Equal(t, []types.EventKind{types.EventTransfer}, bank.eventKinds(t))
}

func TestTransferReapsSource(t *testing.T) {
	bank := newTestBank(t)
	alice := bank.customer(t, "alice", 12)
	bob := bank.customer(t, "bob", 20)

	require.NoError(t, bank.ledger.Transfer(alice, bob.UserID, uint256.NewInt(10)))
	assert.Nil(t, bank.balance(t, alice.UserID))
	assert.Equal(t, uint256.NewInt(30), bank.balance(t, bob.UserID))
	assert.Equal(t, []types.EventKind{types.EventTransfer, types.EventReap}, bank.eventKinds(t))

	events := bank.events.All().Collect()
	assert.Equal(t, uint256.NewInt(2), events[1].Amount)
}

func TestTransferRejectedWhenReceiverStaysUnderFloor(t *testing.T) {
	bank := newTestBank(t)
	alice := bank.customer(t, "alice", 50)
	bob := bank.customer(t, "bob", 0)

	err := bank.ledger.Transfer(alice, bob.UserID, uint256.NewInt(4))
	assert.ErrorIs(t, err, errors.ErrBelowExistentialDeposit)
	assert.Equal(t, uint256.NewInt(50), bank.balance(t, alice.UserID), "rejected transfer leaves both sides untouched")
	assert.Nil(t, bank.balance(t, bob.UserID))
	assert.Empty(t, bank.eventKinds(t))
}

func TestTransferCanRefundReapedAccount(t *testing.T) {
	bank := newTestBank(t)
	alice := bank.customer(t, "alice", 50)
	bob := bank.customer(t, "bob", 0)

	require.NoError(t, bank.ledger.Transfer(alice, bob.UserID, uint256.NewInt(5)))
	assert.Equal(t, uint256.NewInt(5), bank.balance(t, bob.UserID))
}

func TestTransferToUnknownAccount(t *testing.T) {
	bank := newTestBank(t)
	alice := bank.customer(t, "alice", 50)

	err := bank.ledger.Transfer(alice, 999, uint256.NewInt(10))
	assert.ErrorIs(t, err, errors.ErrAccountNotFound)
	assert.Equal(t, uint256.NewInt(50), bank.balance(t, alice.UserID))
}

func TestSelfTransferIsNoOp(t *testing.T) {
	bank := newTestBank(t)
	alice := bank.customer(t, "alice", 50)

	require.NoError(t, bank.ledger.Transfer(alice, alice.UserID, uint256.NewInt(10)))
	assert.Equal(t, uint256.NewInt(50), bank.balance(t, alice.UserID))
	assert.Empty(t, bank.eventKinds(t))
}

func TestPayInterestRoundsHalfUp(t *testing.T) {
	bank := newTestBank(t)
	manager := bank.manager(t)
	bob := bank.customer(t, "bob", 20)

	rate := uint64(10)
	_, err := bank.ledger.UpdateConfig(manager, &rate, nil)
	require.NoError(t, err)

	event, err := bank.ledger.PayInterest(manager)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(22), bank.balance(t, bob.UserID), "20 at 10 percent grows to 22")
	assert.Equal(t, []uint64{bob.UserID}, event.AccountIDs)
	assert.Equal(t, uint256.NewInt(2), event.Amount)
}

func TestPayInterestSkipsReapedAccounts(t *testing.T) {
	bank := newTestBank(t)
	manager := bank.manager(t)
	bank.customer(t, "alice", 0)
	bob := bank.customer(t, "bob", 100)

	event, err := bank.ledger.PayInterest(manager)
	require.NoError(t, err)
	assert.Equal(t, []uint64{bob.UserID}, event.AccountIDs)
	assert.Equal(t, uint256.NewInt(101), bank.balance(t, bob.UserID))
}

func TestPayInterestRoundingBoundary(t *testing.T) {
	bank := newTestBank(t)
	manager := bank.manager(t)
	// At 1 percent, 49 yields 0.49 which rounds down; 50 yields 0.50 which
	// rounds up.
	low := bank.customer(t, "low", 49)
	high := bank.customer(t, "high", 50)

	_, err := bank.ledger.PayInterest(manager)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(49), bank.balance(t, low.UserID))
	assert.Equal(t, uint256.NewInt(51), bank.balance(t, high.UserID))
}

func TestPayInterestSaturatesEnormousBalances(t *testing.T) {
	bank := newTestBank(t)
	manager := bank.manager(t)
	whale, err := bank.ledger.CreateAccount("whale", types.RoleCustomer)
	require.NoError(t, err)
	// balance * rate exceeds 256 bits here, so the credit must cap at the
	// representable maximum instead of wrapping into a tiny delta.
	huge := new(uint256.Int).Lsh(uint256.NewInt(1), 255)
	require.NoError(t, bank.ledger.SeedBalance(whale.ID, huge))

	rate := uint64(2)
	_, err = bank.ledger.UpdateConfig(manager, &rate, nil)
	require.NoError(t, err)

	event, err := bank.ledger.PayInterest(manager)
	require.NoError(t, err)

	want := new(uint256.Int).Div(new(uint256.Int).SetAllOne(), uint256.NewInt(100))
	require.Len(t, event.Amounts, 1)
	assert.Equal(t, want, event.Amounts[0])
	assert.Equal(t, new(uint256.Int).Add(huge, want), bank.balance(t, whale.ID))
}

func TestCollectTaxReapsBelowFloor(t *testing.T) {
	bank := newTestBank(t)
	auditor := bank.auditor(t)
	carol := bank.customer(t, "carol", 8)

	event, err := bank.ledger.CollectTax(auditor, 50)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(4), event.Amount, "tax of 50 percent on 8 is 4")
	assert.Nil(t, bank.balance(t, carol.UserID), "remaining 4 is under the floor")

	kinds := bank.eventKinds(t)
	assert.Equal(t, []types.EventKind{types.EventTaxCollection, types.EventReap}, kinds)
	events := bank.events.All().Collect()
	assert.Equal(t, uint256.NewInt(4), events[1].Amount, "the reap destroys the remaining 4")
}

func TestCollectTaxInvalidRate(t *testing.T) {
	bank := newTestBank(t)
	auditor := bank.auditor(t)
	alice := bank.customer(t, "alice", 100)

	_, err := bank.ledger.CollectTax(auditor, 101)
	assert.ErrorIs(t, err, errors.ErrInvalidRate)
	assert.Equal(t, uint256.NewInt(100), bank.balance(t, alice.UserID))
}

func TestCollectTaxAtFullRateReapsEveryone(t *testing.T) {
	bank := newTestBank(t)
	auditor := bank.auditor(t)
	alice := bank.customer(t, "alice", 100)
	bob := bank.customer(t, "bob", 37)

	event, err := bank.ledger.CollectTax(auditor, 100)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(137), event.Amount)
	assert.Nil(t, bank.balance(t, alice.UserID))
	assert.Nil(t, bank.balance(t, bob.UserID))
}

func TestUpdateConfigEmitsChangeRecord(t *testing.T) {
	bank := newTestBank(t)
	manager := bank.manager(t)

	rate := uint64(3)
	newED := uint256.NewInt(10)
	cfg, err := bank.ledger.UpdateConfig(manager, &rate, newED)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), cfg.InterestRate)
	assert.Equal(t, uint256.NewInt(10), cfg.ExistentialDeposit)

	events := bank.events.All().Collect()
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Config)
	assert.Equal(t, uint64(1), events[0].Config.OldInterestRate)
	assert.Equal(t, uint64(3), events[0].Config.NewInterestRate)
	assert.Equal(t, uint256.NewInt(5), events[0].Config.OldED)
	assert.Equal(t, uint256.NewInt(10), events[0].Config.NewED)
}

func TestRaisingFloorDoesNotRetroactivelyReap(t *testing.T) {
	bank := newTestBank(t)
	manager := bank.manager(t)
	alice := bank.customer(t, "alice", 8)

	newED := uint256.NewInt(20)
	_, err := bank.ledger.UpdateConfig(manager, nil, newED)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(8), bank.balance(t, alice.UserID), "existing balances stay until their next operation")

	_, err = bank.ledger.Deposit(alice, uint256.NewInt(1))
	assert.ErrorIs(t, err, errors.ErrBelowExistentialDeposit, "the new floor applies to the next mutation")
}

func TestPermissionDeniedLeavesStateUnchanged(t *testing.T) {
	bank := newTestBank(t)
	manager := bank.manager(t)
	auditor := bank.auditor(t)
	alice := bank.customer(t, "alice", 100)

	_, err := bank.ledger.Deposit(manager, uint256.NewInt(10))
	assert.ErrorIs(t, err, errors.ErrPermissionDenied)
	_, err = bank.ledger.Withdraw(auditor, uint256.NewInt(10))
	assert.ErrorIs(t, err, errors.ErrPermissionDenied)
	_, err = bank.ledger.PayInterest(alice)
	assert.ErrorIs(t, err, errors.ErrPermissionDenied)
	_, err = bank.ledger.CollectTax(manager, 10)
	assert.ErrorIs(t, err, errors.ErrPermissionDenied)
	_, err = bank.ledger.Report(alice)
	assert.ErrorIs(t, err, errors.ErrPermissionDenied)
	_, err = bank.ledger.AllEvents(alice)
	assert.ErrorIs(t, err, errors.ErrPermissionDenied)

	assert.Equal(t, uint256.NewInt(100), bank.balance(t, alice.UserID))
	assert.Empty(t, bank.eventKinds(t), "denied operations must not appear in the audit trail")
}

func TestReportListsEveryAccount(t *testing.T) {
	bank := newTestBank(t)
	manager := bank.manager(t)
	alice := bank.customer(t, "alice", 100)
	bob := bank.customer(t, "bob", 0)

	rows, err := bank.ledger.Report(manager)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	byID := make(map[uint64]ReportRow, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}
	assert.Equal(t, uint256.NewInt(100), byID[alice.UserID].Balance)
	assert.True(t, byID[bob.UserID].Reaped)
	assert.True(t, byID[manager.UserID].Reaped, "manager accounts hold no balance")
}

func TestEventQueriesByAccountAndKind(t *testing.T) {
	bank := newTestBank(t)
	manager := bank.manager(t)
	alice := bank.customer(t, "alice", 100)
	bob := bank.customer(t, "bob", 50)

	_, err := bank.ledger.Deposit(alice, uint256.NewInt(10))
	require.NoError(t, err)
	require.NoError(t, bank.ledger.Transfer(alice, bob.UserID, uint256.NewInt(20)))
	_, err = bank.ledger.Withdraw(bob, uint256.NewInt(30))
	require.NoError(t, err)

	it, err := bank.ledger.EventsByAccount(manager, alice.UserID)
	require.NoError(t, err)
	aliceEvents := it.Collect()
	require.Len(t, aliceEvents, 2)
	assert.Equal(t, types.EventDeposit, aliceEvents[0].Kind)
	assert.Equal(t, types.EventTransfer, aliceEvents[1].Kind)

	it, err = bank.ledger.EventsByKind(manager, types.EventWithdraw, types.EventTransfer)
	require.NoError(t, err)
	filtered := it.Collect()
	require.Len(t, filtered, 2)
	assert.Equal(t, types.EventTransfer, filtered[0].Kind, "merged kinds come back in append order")
	assert.Equal(t, types.EventWithdraw, filtered[1].Kind)

	_, err = bank.ledger.EventsByAccount(manager, 999)
	assert.ErrorIs(t, err, errors.ErrAccountNotFound)
}

func TestEventIDsStrictlyIncrease(t *testing.T) {
	bank := newTestBank(t)
	alice := bank.customer(t, "alice", 100)

	for i := 0; i < 5; i++ {
		_, err := bank.ledger.Deposit(alice, uint256.NewInt(10))
		require.NoError(t, err)
	}

	events := bank.events.All().Collect()
	require.Len(t, events, 5)
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].ID, events[i-1].ID)
	}
}
