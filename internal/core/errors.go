package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure taxonomy shared across services. Callers
// classify with errors.Is; storage wraps driver errors into PersistenceError
// so the retry policy stays at the call site.
var (
	// ErrNotFound: no record resolvable, fatal for the operation (e.g. a
	// fact cannot be attached to an identity with no token record).
	ErrNotFound = errors.New("not found")

	// ErrConflict: a duplicate-key race, retried once internally where the
	// operation is idempotent, then surfaced.
	ErrConflict = errors.New("conflict")
)

// ValidationError reports a malformed input item. During batch import it is
// recorded against the item and the batch continues.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// PersistenceError wraps a storage-layer failure. Not retried internally
// beyond idempotent reads; the caller's policy decides.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
