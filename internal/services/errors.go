package services

import (
	"errors"
	"fmt"

	"onboarding/backend/internal/repository"
	"onboarding/backend/internal/stepconfig"
)

// Kind classifies a service failure. The API layer maps each kind to one
// HTTP status.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthorized
	KindNotFound
	KindValidation
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is the structured error returned by every engine operation.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func Unauthorized(msg string) *Error {
	return &Error{Kind: KindUnauthorized, Message: msg}
}

// NotFound is also used for entities of another org so their existence is
// not revealed.
func NotFound(entity string) *Error {
	return &Error{Kind: KindNotFound, Message: entity + " not found"}
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// KindOf returns the kind of err, KindInternal for anything that is not an
// *Error.
func KindOf(err error) Kind {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Kind
	}
	return KindInternal
}

// storageErr translates a repository error into the service taxonomy. Errors
// that already carry a kind pass through unchanged.
func storageErr(entity string, err error) error {
	if err == nil {
		return nil
	}
	var serr *Error
	if errors.As(err, &serr) {
		return err
	}
	var verr *stepconfig.ValidationError
	if errors.As(err, &verr) {
		return &Error{Kind: KindValidation, Message: verr.Error(), Err: err}
	}
	if errors.Is(err, repository.ErrNotFound) {
		return NotFound(entity)
	}
	return Internal("storage failure", err)
}
