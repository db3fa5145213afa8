/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error kinds in one place. Every structured error unwraps to one of
  four sentinels so callers (and the HTTP layer) can branch with errors.Is.

ERROR KINDS:
  1. ErrPermissionDenied - actor lacks the capability; nothing was attempted
  2. ErrNotFound         - referenced card/purchase/installment/group missing
  3. ErrValidation       - malformed draft or illegal state transition;
                           rejected before any write
  4. ErrTransactionFailed - the atomic batch commit failed; no partial
                           effects exist, so no compensation is needed

NOT AN ERROR:
  Paying a month with no pending installments returns count 0.
  Exceeding a card's credit limit is never rejected.
*/
package billing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrPermissionDenied  = errors.New("permission denied")
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrTransactionFailed = errors.New("transaction failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// PermissionError reports which capability the actor was missing.
type PermissionError struct {
	UserID     UserID
	Permission Permission
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: user %q lacks %s", e.UserID, e.Permission)
}

func (e *PermissionError) Unwrap() error { return ErrPermissionDenied }

// NotFoundError names the missing document.
type NotFoundError struct {
	Kind string // "card", "purchase", "installment", "group", "member", "category"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// CommitError wraps the store failure behind a failed batch.
type CommitError struct {
	Op  string
	Err error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("%s: transaction failed: %v", e.Op, e.Err)
}

func (e *CommitError) Unwrap() []error { return []error{ErrTransactionFailed, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

func notFound(kind, id string) error { return &NotFoundError{Kind: kind, ID: id} }

func invalid(field, message string) error { return &ValidationError{Field: field, Message: message} }

// IsClientError returns true if the error is due to the caller's input or rights.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrPermissionDenied)
}

// IsNotFound returns true if the error indicates a missing document.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
