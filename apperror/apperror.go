// Package apperror defines the error taxonomy shared by tagfeed's workflows.
//
// Three kinds of failure reach the user: validation errors (local, nothing
// was sent), transient backend errors (the call was abandoned, no retry) and
// the signed-out state. Missing records are not errors; gateways report
// them as absent values instead.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrValidation  = errors.New("validation error")
	ErrSignedOut   = errors.New("not signed in")
	ErrUnavailable = errors.New("backend unavailable")
)

type AppError struct {
	Err     error  // sentinel for errors.Is
	Message string // human-readable message
	Field   string // optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// SignedOut is returned when an operation needs an identity and the session
// cache holds none. The CLI maps it to a "run login first" notice.
func SignedOut() *AppError {
	return &AppError{
		Err:     ErrSignedOut,
		Message: "not signed in, run `tagfeed login` first",
	}
}

// Unavailable wraps a backend failure the user can retry by hand.
func Unavailable(op string, err error) *AppError {
	return &AppError{
		Err:     errors.Join(ErrUnavailable, err),
		Message: fmt.Sprintf("%s: %v", op, err),
	}
}

// IsTransient reports whether err is a backend failure rather than a local
// validation or session problem.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrValidation) && !errors.Is(err, ErrSignedOut)
}
