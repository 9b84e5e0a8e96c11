package services

import (
	"errors"
	"fmt"
)

var (
	ErrAccountNotFound        = errors.New("account not found")
	ErrAdminNotFound          = errors.New("administrator not found")
	ErrAdminExists            = errors.New("administrator with this email already exists")
	ErrInvalidAmount          = errors.New("amount must be positive")
	ErrUnknownTransactionType = errors.New("unknown transaction type")
	ErrBalanceConflict        = errors.New("balance changed since it was read")
	ErrSelfDeactivation       = errors.New("administrators cannot deactivate themselves")
	ErrAlreadyInState         = errors.New("administrator already in requested state")
	ErrProviderUnavailable    = errors.New("notification provider unavailable")
	ErrBalanceTraceBroken     = errors.New("balance trace broken")
)

// ValidationError wraps input that was rejected before any persistence attempt.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %v", e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func newValidationError(err error) error {
	return &ValidationError{Err: err}
}

// DeniedError carries the human-readable reason from the authorization gate.
type DeniedError struct {
	Operation Operation
	Reason    string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s denied: %s", e.Operation, e.Reason)
}

// PartialFailureError reports a mutation that succeeded while its audit entry did not.
type PartialFailureError struct {
	Action string
	Err    error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%s succeeded but audit record failed: %v", e.Action, e.Err)
}

func (e *PartialFailureError) Unwrap() error {
	return e.Err
}
