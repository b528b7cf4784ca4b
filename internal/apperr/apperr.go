// Package apperr holds the error kinds shared by every storage-backed package.
// Domain-specific kinds live next to the code that raises them (ledger,
// trade, dispute, rating); everything is compared with errors.Is.
package apperr

import "errors"

var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStorageUnavailable wraps timeouts, lost connections and serialization
	// conflicts. It is the only kind a caller may retry.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidInput flags malformed or out-of-range request values.
	ErrInvalidInput = errors.New("invalid input")

	// ErrForbidden indicates the caller is not a party allowed to act.
	ErrForbidden = errors.New("forbidden")
)

// Retryable reports whether err may be retried by the caller.
func Retryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

// Invalid wraps a human readable message with ErrInvalidInput.
func Invalid(msg string) error {
	return &kindError{kind: ErrInvalidInput, msg: msg}
}

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }
