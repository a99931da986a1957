package permission

import (
	"bankd/errors"
	"bankd/types"
)

// Operation names every capability the ledger exposes.
type Operation string

const (
	OpDeposit      Operation = "deposit"
	OpWithdraw     Operation = "withdraw"
	OpTransfer     Operation = "transfer"
	OpCheckBalance Operation = "check_balance"
	OpPayInterest  Operation = "pay_interest"
	OpCollectTax   Operation = "collect_tax"
	OpUpdateConfig Operation = "update_config"
	OpViewReport   Operation = "view_report"
	OpQueryEvents  Operation = "query_events"
)

// table is the total permission function over {operation x role}. Customers
// move their own money; managers run interest, config and reporting;
// auditors collect tax and audit. Anything not listed is denied.
var table = map[Operation]map[types.Role]bool{
	OpDeposit:      {types.RoleCustomer: true},
	OpWithdraw:     {types.RoleCustomer: true},
	OpTransfer:     {types.RoleCustomer: true},
	OpCheckBalance: {types.RoleCustomer: true},
	OpPayInterest:  {types.RoleManager: true},
	OpCollectTax:   {types.RoleAuditor: true},
	OpUpdateConfig: {types.RoleManager: true},
	OpViewReport:   {types.RoleManager: true, types.RoleAuditor: true},
	OpQueryEvents:  {types.RoleManager: true, types.RoleAuditor: true},
}

// Check returns nil when the role may perform the operation, and
// ErrPermissionDenied otherwise. Pure: no side effects, no events.
func Check(op Operation, role types.Role) error {
	if table[op][role] {
		return nil
	}
	return errors.ErrPermissionDenied
}

// Allowed is the boolean view of Check for callers building menus.
func Allowed(op Operation, role types.Role) bool {
	return table[op][role]
}
