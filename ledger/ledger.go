package ledger

import (
	"fmt"
	"sync"

	"bankd/errors"
	"bankd/events"
	"bankd/logx"
	"bankd/monitoring"
	"bankd/permission"
	"bankd/store"
	"bankd/types"

	"github.com/holiman/uint256"
)

// Ledger executes every balance-mutating operation. Each operation is one
// atomic step behind the write lock: permission check, precondition checks,
// balance mutation, event append. On any validation failure nothing is
// mutated and nothing is appended. Read-only operations share the read
// lock and never observe a torn write.
type Ledger struct {
	mu           sync.RWMutex
	accountStore store.AccountStore
	eventStore   *store.EventStore
	configStore  *store.ConfigStore
	eventBus     *events.EventBus
	cfg          *types.LedgerConfig
}

func NewLedger(accountStore store.AccountStore, eventStore *store.EventStore, configStore *store.ConfigStore, eventBus *events.EventBus, cfg *types.LedgerConfig) *Ledger {
	return &Ledger{
		accountStore: accountStore,
		eventStore:   eventStore,
		configStore:  configStore,
		eventBus:     eventBus,
		cfg:          cfg.Clone(),
	}
}

// ReportRow is one line of the read-only account projection.
type ReportRow struct {
	ID      uint64       `json:"id"`
	Owner   string       `json:"owner"`
	Role    types.Role   `json:"role"`
	Balance *uint256.Int `json:"balance,omitempty"`
	Reaped  bool         `json:"reaped"`
}

// CreateAccount creates and stores a new, unfunded account. Registration
// is open; the auth collaborator is responsible for username uniqueness.
func (l *Ledger) CreateAccount(owner string, role types.Role) (*types.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !role.Valid() {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	return l.accountStore.Create(owner, role)
}

// SeedBalance funds an account directly during genesis bootstrap. It is
// initialization, not an operation: no permission check and no event.
// Opening balances below the existential deposit leave the account
// unfunded.
func (l *Ledger) SeedBalance(id uint64, balance *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if balance == nil || balance.IsZero() {
		return nil
	}
	if balance.Cmp(l.cfg.ExistentialDeposit) < 0 {
		logx.Warn("LEDGER", fmt.Sprintf("Genesis balance %s for account %d is below the existential deposit, leaving unfunded", balance, id))
		return nil
	}
	return l.accountStore.SetBalance(id, balance)
}

// Config returns a snapshot of the current ledger configuration.
func (l *Ledger) Config() *types.LedgerConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg.Clone()
}

// Deposit adds amount to the caller's own account. The resulting balance
// must clear the existential deposit.
func (l *Ledger) Deposit(sess types.Session, amount *uint256.Int) (bal *uint256.Int, err error) {
	defer l.record(permission.OpDeposit, &err)

	if err = permission.Check(permission.OpDeposit, sess.Role); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if amount == nil || amount.IsZero() {
		return nil, errors.ErrInvalidAmount
	}
	acc, err := l.account(sess.UserID)
	if err != nil {
		return nil, err
	}

	newBalance := new(uint256.Int)
	if acc.Funded() {
		if _, overflow := newBalance.AddOverflow(acc.Balance, amount); overflow {
			return nil, errors.ErrInvalidAmount
		}
	} else {
		newBalance.Set(amount)
	}
	if newBalance.Cmp(l.cfg.ExistentialDeposit) < 0 {
		return nil, errors.ErrBelowExistentialDeposit
	}

	if err = l.accountStore.SetBalance(acc.ID, newBalance); err != nil {
		return nil, err
	}
	l.emit(&types.Event{
		Kind:       types.EventDeposit,
		AccountIDs: []uint64{acc.ID},
		Amount:     new(uint256.Int).Set(amount),
	})
	return newBalance, nil
}

// Withdraw removes amount from the caller's own account. A remainder under
// the existential deposit reaps the account and destroys the dust; the
// returned balance is nil when the account was reaped.
func (l *Ledger) Withdraw(sess types.Session, amount *uint256.Int) (bal *uint256.Int, err error) {
	defer l.record(permission.OpWithdraw, &err)

	if err = permission.Check(permission.OpWithdraw, sess.Role); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if amount == nil || amount.IsZero() {
		return nil, errors.ErrInvalidAmount
	}
	acc, err := l.account(sess.UserID)
	if err != nil {
		return nil, err
	}
	if !acc.Funded() || acc.Balance.Cmp(amount) < 0 {
		return nil, errors.ErrInsufficientFunds
	}

	remainder := new(uint256.Int).Sub(acc.Balance, amount)
	if remainder.Cmp(l.cfg.ExistentialDeposit) >= 0 {
		if err = l.accountStore.SetBalance(acc.ID, remainder); err != nil {
			return nil, err
		}
		l.emit(&types.Event{
			Kind:       types.EventWithdraw,
			AccountIDs: []uint64{acc.ID},
			Amount:     new(uint256.Int).Set(amount),
		})
		return remainder, nil
	}

	// Remainder is zero or dust under the floor: clear the balance entry
	// and record the forfeited remainder. Dust is destroyed, not refunded.
	if err = l.accountStore.SetBalance(acc.ID, nil); err != nil {
		return nil, err
	}
	l.emit(&types.Event{
		Kind:       types.EventWithdraw,
		AccountIDs: []uint64{acc.ID},
		Amount:     new(uint256.Int).Set(amount),
	})
	l.reap(acc.ID, remainder)
	return nil, nil
}

// Transfer moves amount from the caller's account to another account as
// one atomic unit. If the deposit leg would leave the receiver under the
// existential deposit the whole transfer is rejected; the withdraw leg may
// reap the source exactly like Withdraw.
func (l *Ledger) Transfer(sess types.Session, toID uint64, amount *uint256.Int) (err error) {
	defer l.record(permission.OpTransfer, &err)

	if err = permission.Check(permission.OpTransfer, sess.Role); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if amount == nil || amount.IsZero() {
		return errors.ErrInvalidAmount
	}
	from, err := l.account(sess.UserID)
	if err != nil {
		return err
	}
	if from.ID == toID {
		// Self-transfer is a no-op, not an error.
		return nil
	}
	to, err := l.account(toID)
	if err != nil {
		return err
	}
	if !from.Funded() || from.Balance.Cmp(amount) < 0 {
		return errors.ErrInsufficientFunds
	}

	toBalance := new(uint256.Int)
	if to.Funded() {
		if _, overflow := toBalance.AddOverflow(to.Balance, amount); overflow {
			return errors.ErrInvalidAmount
		}
	} else {
		toBalance.Set(amount)
	}
	if toBalance.Cmp(l.cfg.ExistentialDeposit) < 0 {
		return errors.ErrBelowExistentialDeposit
	}

	remainder := new(uint256.Int).Sub(from.Balance, amount)
	updates := map[uint64]*uint256.Int{to.ID: toBalance}
	reaped := remainder.Cmp(l.cfg.ExistentialDeposit) < 0
	if reaped {
		updates[from.ID] = nil
	} else {
		updates[from.ID] = remainder
	}

	if err = l.accountStore.SetBalanceBatch(updates); err != nil {
		return err
	}
	l.emit(&types.Event{
		Kind:       types.EventTransfer,
		AccountIDs: []uint64{from.ID, to.ID},
		Amount:     new(uint256.Int).Set(amount),
	})
	if reaped {
		l.reap(from.ID, remainder)
	}
	return nil
}

// CheckBalance returns the caller's own balance, nil when reaped.
func (l *Ledger) CheckBalance(sess types.Session) (bal *uint256.Int, err error) {
	if err = permission.Check(permission.OpCheckBalance, sess.Role); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	acc, err := l.account(sess.UserID)
	if err != nil {
		return nil, err
	}
	if !acc.Funded() {
		return nil, nil
	}
	return new(uint256.Int).Set(acc.Balance), nil
}

// PayInterest grows every funded balance by the configured interest rate,
// rounding half up. No existential-deposit check applies. One aggregate
// event covers all affected accounts with their per-account deltas.
func (l *Ledger) PayInterest(sess types.Session) (ev *types.Event, err error) {
	defer l.record(permission.OpPayInterest, &err)

	if err = permission.Check(permission.OpPayInterest, sess.Role); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	accounts, err := l.fundedAccounts()
	if err != nil {
		return nil, err
	}

	ids := make([]uint64, 0, len(accounts))
	deltas := make([]*uint256.Int, 0, len(accounts))
	total := new(uint256.Int)
	updates := make(map[uint64]*uint256.Int, len(accounts))

	for _, acc := range accounts {
		delta := percentOf(acc.Balance, l.cfg.InterestRate)
		newBalance := new(uint256.Int)
		if _, overflow := newBalance.AddOverflow(acc.Balance, delta); overflow {
			// Saturate rather than wrap on absurd balances.
			newBalance.SetAllOne()
			delta = new(uint256.Int).Sub(newBalance, acc.Balance)
		}
		ids = append(ids, acc.ID)
		deltas = append(deltas, delta)
		total.Add(total, delta)
		updates[acc.ID] = newBalance
	}

	if err = l.accountStore.SetBalanceBatch(updates); err != nil {
		return nil, err
	}
	event := l.emit(&types.Event{
		Kind:       types.EventInterestPayout,
		AccountIDs: ids,
		Amount:     total,
		Amounts:    deltas,
	})
	logx.Info("LEDGER", fmt.Sprintf("Paid interest at %d%% to %d accounts, total %s", l.cfg.InterestRate, len(ids), total))
	return event, nil
}

// CollectTax shrinks every funded balance by rate percent, rounding half
// up. Accounts left under the existential deposit are reaped; tax can
// never push a balance negative since the rate is capped at 100.
func (l *Ledger) CollectTax(sess types.Session, rate uint64) (ev *types.Event, err error) {
	defer l.record(permission.OpCollectTax, &err)

	if err = permission.Check(permission.OpCollectTax, sess.Role); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if rate > 100 {
		return nil, errors.ErrInvalidRate
	}

	accounts, err := l.fundedAccounts()
	if err != nil {
		return nil, err
	}

	ids := make([]uint64, 0, len(accounts))
	taxes := make([]*uint256.Int, 0, len(accounts))
	total := new(uint256.Int)
	updates := make(map[uint64]*uint256.Int, len(accounts))
	type reapEntry struct {
		id   uint64
		dust *uint256.Int
	}
	var reaps []reapEntry

	for _, acc := range accounts {
		tax := percentOf(acc.Balance, rate)
		if tax.Cmp(acc.Balance) > 0 {
			// Rounding at 100% cannot exceed the balance, but cap anyway.
			tax = new(uint256.Int).Set(acc.Balance)
		}
		newBalance := new(uint256.Int).Sub(acc.Balance, tax)
		ids = append(ids, acc.ID)
		taxes = append(taxes, tax)
		total.Add(total, tax)
		if newBalance.Cmp(l.cfg.ExistentialDeposit) < 0 {
			updates[acc.ID] = nil
			reaps = append(reaps, reapEntry{id: acc.ID, dust: newBalance})
		} else {
			updates[acc.ID] = newBalance
		}
	}

	if err = l.accountStore.SetBalanceBatch(updates); err != nil {
		return nil, err
	}
	event := l.emit(&types.Event{
		Kind:       types.EventTaxCollection,
		AccountIDs: ids,
		Amount:     total,
		Amounts:    taxes,
	})
	for _, r := range reaps {
		l.reap(r.id, r.dust)
	}
	logx.Info("LEDGER", fmt.Sprintf("Collected %d%% tax from %d accounts, total %s, reaped %d", rate, len(ids), total, len(reaps)))
	return event, nil
}

// UpdateConfig changes the interest rate and/or the existential deposit in
// place. Raising the deposit does not retroactively reap sub-threshold
// balances; they are handled on their next mutating operation.
func (l *Ledger) UpdateConfig(sess types.Session, newRate *uint64, newED *uint256.Int) (cfg *types.LedgerConfig, err error) {
	defer l.record(permission.OpUpdateConfig, &err)

	if err = permission.Check(permission.OpUpdateConfig, sess.Role); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if newRate == nil && newED == nil {
		return l.cfg.Clone(), nil
	}

	change := &types.ConfigChange{
		OldInterestRate: l.cfg.InterestRate,
		NewInterestRate: l.cfg.InterestRate,
		OldED:           new(uint256.Int).Set(l.cfg.ExistentialDeposit),
		NewED:           new(uint256.Int).Set(l.cfg.ExistentialDeposit),
	}
	if newRate != nil {
		change.NewInterestRate = *newRate
	}
	if newED != nil {
		change.NewED = new(uint256.Int).Set(newED)
	}

	updated := &types.LedgerConfig{
		InterestRate:       change.NewInterestRate,
		ExistentialDeposit: new(uint256.Int).Set(change.NewED),
	}
	if err = l.configStore.Save(updated); err != nil {
		return nil, err
	}
	l.cfg = updated

	l.emit(&types.Event{
		Kind:       types.EventConfigUpdate,
		AccountIDs: []uint64{sess.UserID},
		Config:     change,
	})
	return l.cfg.Clone(), nil
}

// Report returns the read-only account projection ordered by id. It
// produces no event.
func (l *Ledger) Report(sess types.Session) (rows []ReportRow, err error) {
	if err = permission.Check(permission.OpViewReport, sess.Role); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	accounts, err := l.accountStore.GetAll()
	if err != nil {
		return nil, err
	}
	rows = make([]ReportRow, 0, len(accounts))
	for _, acc := range accounts {
		row := ReportRow{
			ID:     acc.ID,
			Owner:  acc.Owner,
			Role:   acc.Role,
			Reaped: !acc.Funded(),
		}
		if acc.Funded() {
			row.Balance = new(uint256.Int).Set(acc.Balance)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// EventsByAccount returns the audit trail of a single account in append
// order.
func (l *Ledger) EventsByAccount(sess types.Session, accountID uint64) (*store.EventIterator, error) {
	if err := permission.Check(permission.OpQueryEvents, sess.Role); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if _, err := l.account(accountID); err != nil {
		return nil, err
	}
	return l.eventStore.QueryByAccount(accountID), nil
}

// EventsByKind returns all events of the given kinds in append order.
func (l *Ledger) EventsByKind(sess types.Session, kinds ...types.EventKind) (*store.EventIterator, error) {
	if err := permission.Check(permission.OpQueryEvents, sess.Role); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.eventStore.QueryByKind(kinds...), nil
}

// AllEvents returns the full audit trail in append order.
func (l *Ledger) AllEvents(sess types.Session) (*store.EventIterator, error) {
	if err := permission.Check(permission.OpQueryEvents, sess.Role); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.eventStore.All(), nil
}

// account loads an account, mapping a missing record to the closed error
// taxonomy.
func (l *Ledger) account(id uint64) (*types.Account, error) {
	acc, err := l.accountStore.Get(id)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, errors.ErrAccountNotFound
	}
	return acc, nil
}

func (l *Ledger) fundedAccounts() ([]*types.Account, error) {
	accounts, err := l.accountStore.GetAll()
	if err != nil {
		return nil, err
	}
	funded := accounts[:0]
	for _, acc := range accounts {
		if acc.Funded() {
			funded = append(funded, acc)
		}
	}
	return funded, nil
}

// emit appends the event to the audit trail and fans it out to live
// subscribers. Validation has already passed, so the append cannot fail.
func (l *Ledger) emit(event *types.Event) *types.Event {
	appended := l.eventStore.Append(event)
	monitoring.SetEventLogSize(l.eventStore.Size())
	if l.eventBus != nil {
		l.eventBus.Publish(appended)
	}
	return appended
}

func (l *Ledger) reap(id uint64, dust *uint256.Int) {
	l.emit(&types.Event{
		Kind:       types.EventReap,
		AccountIDs: []uint64{id},
		Amount:     new(uint256.Int).Set(dust),
	})
	monitoring.IncreaseReapedCount()
}

func (l *Ledger) record(op permission.Operation, errp *error) {
	result := monitoring.OpResultOK
	if *errp != nil {
		result = monitoring.OpResultRejected
	}
	monitoring.RecordOperation(string(op), result)
}

// percentOf computes amount * rate / 100 rounded half up to the smallest
// currency unit. The intermediate product saturates at the maximum
// representable value so enormous balances cannot wrap into a tiny delta.
func percentOf(amount *uint256.Int, rate uint64) *uint256.Int {
	num, overflow := new(uint256.Int).MulOverflow(amount, uint256.NewInt(rate))
	if !overflow {
		_, overflow = num.AddOverflow(num, uint256.NewInt(50))
	}
	if overflow {
		num.SetAllOne()
	}
	return num.Div(num, uint256.NewInt(100))
}
