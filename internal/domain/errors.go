package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a task id matches nothing.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized means the request carried no valid session or credentials.
	ErrUnauthorized = errors.New("unauthorized")
)

// ValidationError reports a missing or malformed field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// PasscodeError is returned when the shared history passcode does not match.
type PasscodeError struct{}

func (PasscodeError) Error() string { return "Incorrect passcode" }

// Invalid is shorthand for a ValidationError.
func Invalid(field, reason string) error {
	return ValidationError{Field: field, Reason: reason}
}
