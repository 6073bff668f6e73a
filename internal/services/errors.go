// internal/services/errors.go
package services

import (
	"errors"
	"fmt"
)

// Validation errors. Surfaced to the caller, never retried.
var (
	ErrValidation               = errors.New("validation failed")
	ErrInvalidAmount            = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrIncompleteEvidence       = fmt.Errorf("%w: incomplete evidence", ErrValidation)
	ErrInvalidMilestoneType     = fmt.Errorf("%w: evidence kind does not match milestone", ErrValidation)
	ErrMissingPayoutDestination = fmt.Errorf("%w: organization has no payout destination", ErrValidation)
)

// State errors.
var (
	ErrInvalidState           = errors.New("operation not allowed in current state")
	ErrConcurrentModification = errors.New("record was modified concurrently")
	ErrNotFound               = errors.New("not found")
)

// Upstream errors. Details are logged, callers get a generic message.
var (
	ErrUpstreamCharge   = errors.New("payment provider charge failed")
	ErrUpstreamTransfer = errors.New("payment provider transfer failed")
	ErrOracleTimeout    = errors.New("verification oracle timed out")
	ErrOracle           = errors.New("verification oracle failed")
	ErrSignatureInvalid = errors.New("webhook signature invalid")
)

// ValidationError names the offending field and wraps one of the validation sentinels.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %s", e.Err, e.Reason)
	}
	return fmt.Sprintf("%v: %s %s", e.Err, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(sentinel error, field, reason string) error {
	return &ValidationError{Field: field, Reason: reason, Err: sentinel}
}
