// Package apperr holds the error taxonomy shared by the application and its adapters.
// Callers match on the sentinels with errors.Is; constructors only add context.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrSignature  = errors.New("signature mismatch")
	ErrGateway    = errors.New("gateway error")
	ErrConflict   = errors.New("concurrent modification")
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationError struct {
	Message string
	Fields  []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return e.Message + " (" + strings.Join(parts, "; ") + ")"
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func Validation(msg string, fields ...FieldError) error {
	return &ValidationError{Message: msg, Fields: fields}
}

func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func Signature(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSignature, fmt.Sprintf(format, args...))
}

// Gateway keeps the remote error in the chain so the message reaches diagnostics.
func Gateway(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrGateway, op, err)
}

func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Fields returns the field errors of a ValidationError anywhere in the chain.
func Fields(err error) []FieldError {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Fields
	}
	return nil
}
