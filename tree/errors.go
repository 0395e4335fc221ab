package tree

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error kinds. Match them with errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidReference    = errors.New("invalid reference")
	ErrInvalidOperation    = errors.New("invalid operation")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrValidation          = errors.New("validation failure")
)

// Error is a typed engine failure.
type Error struct {
	Kind error
	Op   string
	ID   uuid.UUID
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("tree: %s: %v", e.Op, e.Kind)
	if e.ID != uuid.Nil {
		msg += " " + e.ID.String()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches the error's kind.
func (e *Error) Is(target error) bool {
	return e != nil && e.Kind == target
}

func newError(kind error, op string, id uuid.UUID, err error) *Error {
	return &Error{Kind: kind, Op: op, ID: id, Err: err}
}

// KindOf returns the kind of a typed error, or nil.
func KindOf(err error) error {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return nil
}
