/*
errors.go - Error taxonomy for the card ledger

ERROR CATEGORIES:
  1. Not found   - referenced card or holder is absent (recoverable)
  2. Validation  - bad amount, unknown type tag (rejected before any write)
  3. Storage     - commit failure, constraint violation, connection loss

  Storage errors may additionally carry ErrConflict (retryable) or
  ErrDuplicateCardNumber (issuance re-derives the number and retries).

USAGE:
  if errors.Is(err, cards.ErrNotFound) { ... }

  var verr *cards.ValidationError
  if errors.As(err, &verr) { ... verr.Field ... }
*/
package cards

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrStorage    = errors.New("storage failure")

	// ErrConflict marks a transient serialization or lock conflict.
	// The failed unit left no state behind and may be retried.
	ErrConflict = errors.New("concurrent modification conflict")

	// ErrDuplicateCardNumber is returned by stores when the unique card
	// number constraint rejects an insert.
	ErrDuplicateCardNumber = errors.New("card number already issued")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// NotFoundError names the missing resource.
type NotFoundError struct {
	Resource string // "card", "holder"
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.Key)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func cardNotFound(n CardNumber) error {
	return &NotFoundError{Resource: "card", Key: n.String()}
}

// ValidationError describes rejected input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// StorageError wraps a failure of the backing store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

// wrapStorage leaves typed domain errors alone and wraps everything else.
func wrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) || errors.Is(err, ErrStorage) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsRetryable reports whether a unit of work may be re-run.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
