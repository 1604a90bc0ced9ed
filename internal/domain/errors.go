package domain

import (
	"errors"
	"strings"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrSlotUnavailable   = errors.New("slot unavailable")
	ErrInvalidTransition = errors.New("invalid booking transition")
	ErrNotCancellable    = errors.New("booking is not cancellable")
	ErrInvalidSignature  = errors.New("invalid payment signature")
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrGateway           = errors.New("payment gateway error")
	ErrPaymentMismatch   = errors.New("payment does not match booking")
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every problem found in a request so the caller
// can fix them in one round trip.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// Err returns nil when nothing was added.
func (e *ValidationError) Err() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError is a shortcut for a single-field failure.
func NewValidationError(field, message string) error {
	v := &ValidationError{}
	v.Add(field, message)
	return v
}
