package ledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a referenced account, entry or match does not
// exist for the owner.
var ErrNotFound = errors.New("not found")

// ValidationError rejects a mutation before anything is written: unbalanced
// entry, inactive account, non-positive amount, unauthorized write to a
// system account, malformed request.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ConflictError signals that the target is no longer in a state the requested
// transition is legal from (already matched, already void, superseded, ...).
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return "conflict: " + e.Reason
}

// Conflictf builds a ConflictError from a format string.
func Conflictf(format string, args ...any) error {
	return &ConflictError{Reason: fmt.Sprintf(format, args...)}
}

// IntegrityError means the accounting equation failed to hold after a
// committed write. It is treated as fatal for the owner: further mutating
// calls are refused until the ledger has been investigated.
type IntegrityError struct {
	OwnerID uuid.UUID
	Detail  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity: owner %s: %s", e.OwnerID, e.Detail)
}
