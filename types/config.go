package types

import (
	"github.com/holiman/uint256"
)

// LedgerConfig is the process-wide ledger configuration. It is initialized
// from genesis, read by every balance-mutating operation and updated in
// place only through the Manager-gated UpdateConfig operation.
//
// Rates are whole percentage points. Raising the existential deposit does
// not retroactively reap sub-threshold balances; they are handled on their
// next mutating operation.
type LedgerConfig struct {
	InterestRate       uint64       `json:"interest_rate"`
	ExistentialDeposit *uint256.Int `json:"existential_deposit"`
}

// Clone returns a deep copy so callers can hand out config snapshots
// without aliasing the engine's copy.
func (c *LedgerConfig) Clone() *LedgerConfig {
	cp := &LedgerConfig{InterestRate: c.InterestRate}
	if c.ExistentialDeposit != nil {
		cp.ExistentialDeposit = new(uint256.Int).Set(c.ExistentialDeposit)
	}
	return cp
}
