// Package errors provides standardized error handling for the provisd system.
// It implements structured error types with proper wrapping and classification
// following Go 1.20+ error handling best practices.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions
var (
	// Validation errors (rejected synchronously, never partially applied)
	ErrInvalidTarget  = errors.New("invalid target address")
	ErrInvalidVariant = errors.New("unknown install variant")
	ErrInvalidSecret  = errors.New("invalid install secret")

	// Resource errors (rejected before any mutation)
	ErrQuotaExhausted     = errors.New("installation quota exhausted")
	ErrDuplicateActiveJob = errors.New("an active install already exists for this target")
	ErrAccountNotFound    = errors.New("quota account not found")

	// Authorization/security errors. Callers facing the outside must map all
	// of these to one uniform denial so the failing check is not revealed.
	ErrDenied        = errors.New("delivery denied")
	ErrUnknownRegion = errors.New("unknown delivery region")
	ErrTokenExpired  = errors.New("delivery token expired")
	ErrTokenTampered = errors.New("delivery token tampered")
	ErrBlocked       = errors.New("identity temporarily blocked")

	// State errors
	ErrJobNotFound       = errors.New("install job not found")
	ErrInvalidTransition = errors.New("transition not permitted from current state")

	// System errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrStoreClosed   = errors.New("store is closed")
)

// JobError represents an error related to a specific install job
type JobError struct {
	JobID     string
	Operation string
	Err       error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %s: operation %s: %v", e.JobID, e.Operation, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// LedgerError represents an error related to a quota ledger operation
type LedgerError struct {
	Owner     string
	Operation string
	Err       error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger %s: operation %s: %v", e.Owner, e.Operation, e.Err)
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

// ConfigError represents an error related to configuration
type ConfigError struct {
	Component string
	Field     string
	Err       error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config %s.%s: %v", e.Component, e.Field, e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Component, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Error wrapping constructors
func WrapJobError(jobID, operation string, err error) error {
	if err == nil {
		return nil
	}
	return &JobError{JobID: jobID, Operation: operation, Err: err}
}

func WrapLedgerError(owner, operation string, err error) error {
	if err == nil {
		return nil
	}
	return &LedgerError{Owner: owner, Operation: operation, Err: err}
}

func WrapConfigError(component, field string, err error) error {
	if err == nil {
		return nil
	}
	return &ConfigError{Component: component, Field: field, Err: err}
}

// Is and As re-export the standard helpers so callers need only one
// errors import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

// Error classification functions
func IsJobError(err error) bool {
	var je *JobError
	return errors.As(err, &je)
}

func IsLedgerError(err error) bool {
	var le *LedgerError
	return errors.As(err, &le)
}

func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Taxonomy checks
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidTarget) ||
		errors.Is(err, ErrInvalidVariant) ||
		errors.Is(err, ErrInvalidSecret)
}

func IsResourceError(err error) bool {
	return errors.Is(err, ErrQuotaExhausted) ||
		errors.Is(err, ErrDuplicateActiveJob) ||
		errors.Is(err, ErrAccountNotFound)
}

func IsSecurityError(err error) bool {
	return errors.Is(err, ErrDenied) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenTampered) ||
		errors.Is(err, ErrBlocked)
}

func IsStateError(err error) bool {
	return errors.Is(err, ErrJobNotFound) ||
		errors.Is(err, ErrInvalidTransition)
}

// Convenience functions for common error patterns
func NewJobNotFoundError(jobID string) error {
	return WrapJobError(jobID, "lookup", ErrJobNotFound)
}

func NewAccountNotFoundError(owner string) error {
	return WrapLedgerError(owner, "lookup", ErrAccountNotFound)
}

func NewConfigError(component, field string, err error) error {
	return WrapConfigError(component, field, fmt.Errorf("%w: %v", ErrInvalidConfig, err))
}

// Context-aware error handling
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// JoinErrors combines multiple errors into a single error
func JoinErrors(errs ...error) error {
	var validErrs []error
	for _, err := range errs {
		if err != nil {
			validErrs = append(validErrs, err)
		}
	}

	if len(validErrs) == 0 {
		return nil
	}
	if len(validErrs) == 1 {
		return validErrs[0]
	}

	return errors.Join(validErrs...)
}
