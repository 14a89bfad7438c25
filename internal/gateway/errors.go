// Package gateway holds the failure taxonomy and retry discipline shared by
// the external AI calls (speech-to-text and field extraction).
package gateway

import (
	"errors"
	"fmt"
)

// TransientError is a retryable failure: network error, rate limit or timeout.
// When returned by Do it means every attempt was used up.
type TransientError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("gateway: %s: transient failure after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("gateway: %s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError is a failure retrying cannot fix, such as an unsupported
// audio format, an empty payload or rejected credentials.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("gateway: %s: permanent failure: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Transient marks err as retryable.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// Permanent marks err as not retryable.
func Permanent(op string, err error) error {
	return &PermanentError{Op: op, Err: err}
}

// IsTransient reports whether err is or wraps a *TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is or wraps a *PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
