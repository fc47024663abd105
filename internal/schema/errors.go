package schema

import (
	"errors"
	"fmt"
)

var (
	// ErrSchema marks malformed entity declarations and unusable backend identifiers.
	// It is fatal at startup.
	ErrSchema = errors.New("schema error")
	// ErrValidation marks a record rejected by a field validator; nothing was persisted.
	ErrValidation = errors.New("validation error")
	// ErrUnknownEntity is returned when no entity is declared under a domain/name pair.
	ErrUnknownEntity = errors.New("unknown entity")
)

// SchemaError describes a malformed declaration.
type SchemaError struct {
	Entity  string
	Field   string
	Message string
}

func (e *SchemaError) Error() string {
	switch {
	case e.Entity != "" && e.Field != "":
		return fmt.Sprintf("schema error: %s.%s: %s", e.Entity, e.Field, e.Message)
	case e.Entity != "":
		return fmt.Sprintf("schema error: %s: %s", e.Entity, e.Message)
	default:
		return "schema error: " + e.Message
	}
}

func (e *SchemaError) Unwrap() error { return ErrSchema }

// ValidationError names the offending field and why it was rejected.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError builds a ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
