// Package services implements the platform's business operations on top of the store and the
// GitHub, UAA and mail integrations.
package services

import (
	"errors"
	"fmt"
)

// ErrForbidden is returned when the acting user may not perform an operation.
var ErrForbidden = errors.New("forbidden")

// ValidationError reports invalid input. Its message is safe to show to users.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
