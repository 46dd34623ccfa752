package auth

import (
	"errors"
	"fmt"
)

// Sentinel errors callers branch on. The backend's own message is wrapped so
// the UI layer can decide what to show.
var (
	// ErrAuthFailed means the backend rejected the credentials.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrBackendRejected means the backend refused a registration or other
	// auth operation for a non-credential reason.
	ErrBackendRejected = errors.New("backend rejected request")

	// ErrNoSession means an operation requiring a signed-in user was called
	// without one.
	ErrNoSession = errors.New("no active session")
)

// ValidationError reports client-side validation failures caught before any
// network call is attempted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
