package directory

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput indicates the upstream rejected the identity number as malformed.
	ErrInvalidInput = errors.New("directory: invalid identity number")
	// ErrNotFound indicates the identity number is unknown to the directory.
	ErrNotFound = errors.New("directory: patient not found")
)

// TransientError wraps a retryable upstream fault (timeout, connection
// failure, 5xx response).
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("directory: %s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps an upstream rejection that retrying cannot fix.
type PermanentError struct {
	Op     string
	Status int
	Err    error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("directory: %s: permanent failure (status %d): %v", e.Op, e.Status, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err classifies as retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err classifies as non-retryable upstream rejection.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// IsNotFound reports whether err means the patient is unknown.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidInput reports whether err means the upstream rejected the input format.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}
