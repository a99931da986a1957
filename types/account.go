package types

import (
	"github.com/holiman/uint256"
)

// Role is the closed set of roles an account owner can hold. Roles are
// assigned at creation and never change.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleManager  Role = "manager"
	RoleAuditor  Role = "auditor"
)

// Valid reports whether r is one of the three known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleManager, RoleAuditor:
		return true
	}
	return false
}

// Account is a ledger account. Balance == nil means the account has been
// reaped: the record persists, only its balance entry is gone. A non-nil
// balance is always >= the existential deposit at the end of every
// completed operation.
type Account struct {
	ID      uint64       `json:"id"`
	Owner   string       `json:"owner"`
	Role    Role         `json:"role"`
	Balance *uint256.Int `json:"balance,omitempty"`
}

// Funded reports whether the account currently holds a balance.
func (a *Account) Funded() bool {
	return a != nil && a.Balance != nil
}

// Session is the identity assertion the ledger trusts. It is produced by
// the auth collaborator after credential verification; the ledger never
// sees credential material.
type Session struct {
	UserID uint64 `json:"user_id"`
	Role   Role   `json:"role"`
}
