package registry

import "errors"

// The registry's error taxonomy. Every operation fails with exactly one of
// these kinds, wrapped with context; callers discriminate via errors.Is.
var (
	// ErrUnauthorized means the caller lacks the required relation or role.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrDuplicateRegistration means the identity already owns a patient.
	ErrDuplicateRegistration = errors.New("duplicate registration")

	// ErrNotFound means a referenced patient or doctor is missing or inactive.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput means a required field is empty or non-positive.
	ErrInvalidInput = errors.New("invalid input")
)
