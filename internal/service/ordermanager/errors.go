package ordermanager

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("invalid order")
	ErrSubmissionRejected = errors.New("order submission rejected: response has no order uuid")
)

// ValidationError is returned before any network call. It matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrValidation.Error(), e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}
