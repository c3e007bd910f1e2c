package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrProvider   = errors.New("identity provider error")
	ErrStoreRead  = errors.New("store read error")
	ErrStoreWrite = errors.New("store write error")

	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
)

// Error carries an error kind, the operation that failed and its cause.
type Error struct {
	Kind error  // one of the Err* kinds above
	Op   string // e.g. "load", "insert", "sign_in"
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func ProviderError(op string, err error) error {
	return &Error{Kind: ErrProvider, Op: op, Err: err}
}

func StoreReadError(op string, err error) error {
	return &Error{Kind: ErrStoreRead, Op: op, Err: err}
}

func StoreWriteError(op string, err error) error {
	return &Error{Kind: ErrStoreWrite, Op: op, Err: err}
}

// FieldError is a validation failure on a single input field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string { return e.Message }

func (e *FieldError) Unwrap() error { return ErrValidation }

// Invalid returns a validation error for field.
func Invalid(field, message string) error {
	return &FieldError{Field: field, Message: message}
}

// NotFound returns an ErrNotFound error naming the missing resource.
func NotFound(resource, id string) error {
	return fmt.Errorf("%s %s: %w", resource, id, ErrNotFound)
}
