package errs

import (
	"errors"
	"fmt"
)

// Common sentinel errors for cross-layer signaling.
var (
	ErrNotFound  = errors.New("not_found")
	ErrForbidden = errors.New("forbidden")
	ErrConflict  = errors.New("conflict")
	ErrInvalid   = errors.New("invalid")
	// ErrUnprocessable is used for semantic validation failures (HTTP 422)
	ErrUnprocessable = errors.New("unprocessable")
	// ErrSystemAccount indicates a system account cannot be modified/deactivated
	ErrSystemAccount = errors.New("system_account")
	// ErrImmutable indicates an attempt to change immutable fields
	ErrImmutable = errors.New("immutable")
)

// Posting and reconciliation taxonomy.
var (
	// ErrUnbalanced indicates debit and credit totals differ.
	ErrUnbalanced = errors.New("unbalanced_entry")
	// ErrInvalidAccount indicates a line references a missing, inactive or
	// wrong-currency account.
	ErrInvalidAccount = errors.New("invalid_account")
	// ErrMissingDimension indicates a required dimension tag is absent or the
	// tagged value is unknown, inactive or of the wrong type.
	ErrMissingDimension = errors.New("missing_dimension")
	// ErrDuplicate indicates an idempotency key was reused with a different payload.
	ErrDuplicate = errors.New("duplicate_posting")
	// ErrAmbiguous indicates reconciliation candidates tied with no deterministic winner.
	ErrAmbiguous = errors.New("reconciliation_ambiguous")
	// ErrStorageUnavailable indicates the backing store cannot be reached.
	// Not retried; surfaces to the caller as-is.
	ErrStorageUnavailable = errors.New("storage_unavailable")
)

// LineError ties a validation failure to the zero-based index of the journal
// line that caused it. Matched with errors.As, unwraps to the sentinel.
type LineError struct {
	Index int
	Err   error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line[%d]: %v", e.Index, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// Line wraps err with the offending line index.
func Line(index int, err error) *LineError {
	return &LineError{Index: index, Err: err}
}
