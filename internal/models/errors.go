package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Common validation errors for models.
var (
	// ErrRunIDRequired indicates a record without its owning run.
	ErrRunIDRequired = errors.New("run id is required")

	// ErrInvalidRunStatus indicates an unknown run status.
	ErrInvalidRunStatus = errors.New("invalid run status: must be running, completed, failed or interrupted")
)
