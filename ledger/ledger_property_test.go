package ledger

import (
	"testing"

	"bankd/errors"
	"bankd/types"

	fuzz "github.com/google/gofuzz"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRandomOperationSequences drives the ledger with randomized operation
// sequences and checks the structural invariants after every step: funded
// balances never sit under the existential deposit, the event log only
// grows, and total funds never increase except through deposits and
// interest.
func TestRandomOperationSequences(t *testing.T) {
	const (
		numCustomers = 4
		numSteps     = 500
	)

	bank := newTestBank(t)
	manager := bank.manager(t)
	auditor := bank.auditor(t)

	customers := make([]types.Session, numCustomers)
	for i := range customers {
		customers[i] = bank.customer(t, "customer", 100)
	}

	fuzzer := fuzz.NewWithSeed(42)
	ed := uint256.NewInt(5)
	prevEvents := bank.events.Size()

	for step := 0; step < numSteps; step++ {
		var opPick, actorPick, targetPick uint8
		var rawAmount uint16
		fuzzer.Fuzz(&opPick)
		fuzzer.Fuzz(&actorPick)
		fuzzer.Fuzz(&targetPick)
		fuzzer.Fuzz(&rawAmount)

		actor := customers[int(actorPick)%numCustomers]
		target := customers[int(targetPick)%numCustomers]
		amount := uint256.NewInt(uint64(rawAmount % 200))

		var err error
		switch opPick % 6 {
		case 0:
			_, err = bank.ledger.Deposit(actor, amount)
		case 1:
			_, err = bank.ledger.Withdraw(actor, amount)
		case 2:
			err = bank.ledger.Transfer(actor, target.UserID, amount)
		case 3:
			_, err = bank.ledger.PayInterest(manager)
		case 4:
			_, err = bank.ledger.CollectTax(auditor, uint64(rawAmount%101))
		case 5:
			// Permission violations must never dent the state.
			_, err = bank.ledger.CollectTax(actor, 10)
			assert.ErrorIs(t, err, errors.ErrPermissionDenied)
		}

		if err != nil {
			assert.Equal(t, prevEvents, bank.events.Size(),
				"step %d: a rejected operation appended events", step)
		}
		prevEvents = bank.events.Size()

		accounts, getErr := bank.accounts.GetAll()
		require.NoError(t, getErr)
		for _, acc := range accounts {
			if acc.Funded() {
				assert.GreaterOrEqual(t, acc.Balance.Cmp(ed), 0,
					"step %d: account %d holds %s, under the existential deposit", step, acc.ID, acc.Balance)
			}
		}
	}
}

// TestTransferConservesFunds checks that transfers only ever move or
// destroy funds, never create them.
func TestTransferConservesFunds(t *testing.T) {
	bank := newTestBank(t)

	customers := make([]types.Session, 3)
	for i := range customers {
		customers[i] = bank.customer(t, "customer", 1000)
	}

	totalBefore := bank.totalFunds(t)

	fuzzer := fuzz.NewWithSeed(7)
	for step := 0; step < 300; step++ {
		var fromPick, toPick uint8
		var rawAmount uint16
		fuzzer.Fuzz(&fromPick)
		fuzzer.Fuzz(&toPick)
		fuzzer.Fuzz(&rawAmount)

		from := customers[int(fromPick)%len(customers)]
		to := customers[int(toPick)%len(customers)]
		_ = bank.ledger.Transfer(from, to.UserID, uint256.NewInt(uint64(rawAmount%1500)))

		totalNow := bank.totalFunds(t)
		assert.LessOrEqual(t, totalNow.Cmp(totalBefore), 0,
			"step %d: transfers created funds", step)
		totalBefore = totalNow
	}
}

func (b *testBank) totalFunds(t *testing.T) *uint256.Int {
	t.Helper()
	accounts, err := b.accounts.GetAll()
	require.NoError(t, err)
	total := new(uint256.Int)
	for _, acc := range accounts {
		if acc.Funded() {
			total.Add(total, acc.Balance)
		}
	}
	return total
}
