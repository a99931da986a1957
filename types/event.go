package types

import (
	"github.com/holiman/uint256"
)

// EventKind is an enum-like string type for ledger events.
type EventKind string

const (
	EventDeposit        EventKind = "Deposit"
	EventWithdraw       EventKind = "Withdraw"
	EventTransfer       EventKind = "Transfer"
	EventInterestPayout EventKind = "InterestPayout"
	EventTaxCollection  EventKind = "TaxCollection"
	EventReap           EventKind = "Reap"
	EventConfigUpdate   EventKind = "ConfigUpdate"
)

// ConfigChange records the before/after values carried by a ConfigUpdate
// event. Nil fields were not touched by the update.
type ConfigChange struct {
	OldInterestRate uint64       `json:"old_interest_rate"`
	NewInterestRate uint64       `json:"new_interest_rate"`
	OldED           *uint256.Int `json:"old_ed"`
	NewED           *uint256.Int `json:"new_ed"`
}

// Event is one committed ledger mutation. Events are immutable once
// appended; IDs are assigned in strictly increasing insertion order and
// never reused. Amounts are unsigned magnitudes; the kind implies the
// direction (a Withdraw amount left the account, a Deposit amount entered).
type Event struct {
	ID         uint64       `json:"id"`
	Kind       EventKind    `json:"kind"`
	AccountIDs []uint64     `json:"account_ids"`
	Amount     *uint256.Int `json:"amount,omitempty"`
	// Amounts holds per-account deltas for InterestPayout and TaxCollection,
	// index-aligned with AccountIDs. Empty for single-account kinds.
	Amounts   []*uint256.Int `json:"amounts,omitempty"`
	Config    *ConfigChange  `json:"config,omitempty"`
	Timestamp uint64         `json:"timestamp"`
}

// Touches reports whether the event involves the given account.
func (e *Event) Touches(accountID uint64) bool {
	for _, id := range e.AccountIDs {
		if id == accountID {
			return true
		}
	}
	return false
}
