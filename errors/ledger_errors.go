package errors

import (
	stderrors "errors"

	"bankd/jsonx"
)

// LedgerErrorCode represents standardized error codes for ledger operations
type LedgerErrorCode string

const (
	ErrCodePermissionDenied        LedgerErrorCode = "permission_denied"
	ErrCodeAccountNotFound         LedgerErrorCode = "account_not_found"
	ErrCodeInvalidAmount           LedgerErrorCode = "invalid_amount"
	ErrCodeInvalidRate             LedgerErrorCode = "invalid_rate"
	ErrCodeInsufficientFunds       LedgerErrorCode = "insufficient_funds"
	ErrCodeBelowExistentialDeposit LedgerErrorCode = "below_existential_deposit"
)

// LedgerError is the single closed error taxonomy of the ledger core.
// Errors are pure data: they propagate by return value up to the boundary,
// which alone decides how to present them.
type LedgerError struct {
	Code    LedgerErrorCode `json:"code"`
	Message string          `json:"message"`
}

// Error implements the error interface
func (e *LedgerError) Error() string {
	out, _ := jsonx.Marshal(e)
	return string(out)
}

// Is matches two LedgerErrors by code, so errors.Is works against the
// exported sentinel values below regardless of message text.
func (e *LedgerError) Is(target error) bool {
	var le *LedgerError
	if stderrors.As(target, &le) {
		return e.Code == le.Code
	}
	return false
}

// Error message constants - user-friendly and concise
const (
	ErrMsgPermissionDenied        = "Current user is not authorized to do this operation"
	ErrMsgAccountNotFound         = "Account does not exist"
	ErrMsgInvalidAmount           = "Amount is invalid or zero"
	ErrMsgInvalidRate             = "Rate must be between 0 and 100"
	ErrMsgInsufficientFunds       = "Not enough balance in the account"
	ErrMsgBelowExistentialDeposit = "Resulting balance would fall below the existential deposit"
)

var (
	ErrPermissionDenied        = NewError(ErrCodePermissionDenied, ErrMsgPermissionDenied)
	ErrAccountNotFound         = NewError(ErrCodeAccountNotFound, ErrMsgAccountNotFound)
	ErrInvalidAmount           = NewError(ErrCodeInvalidAmount, ErrMsgInvalidAmount)
	ErrInvalidRate             = NewError(ErrCodeInvalidRate, ErrMsgInvalidRate)
	ErrInsufficientFunds       = NewError(ErrCodeInsufficientFunds, ErrMsgInsufficientFunds)
	ErrBelowExistentialDeposit = NewError(ErrCodeBelowExistentialDeposit, ErrMsgBelowExistentialDeposit)
)

// NewError creates a new LedgerError and returns it as error interface
func NewError(code LedgerErrorCode, message string) error {
	return &LedgerError{
		Code:    code,
		Message: message,
	}
}

// CodeOf extracts the ledger error code from err, or "" if err is not a
// LedgerError.
func CodeOf(err error) LedgerErrorCode {
	var le *LedgerError
	if stderrors.As(err, &le) {
		return le.Code
	}
	return ""
}
