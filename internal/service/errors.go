package service

import (
	"errors"
	"fmt"

	"github.com/punchamoorthee/moneybook/internal/store"
)

// Every error returned by this package wraps exactly one of these.
var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation error")
	ErrKindMismatch = errors.New("kind mismatch")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInternal     = errors.New("internal error")

	// ErrIdempotencyMismatch is a validation error: a key was reused with a
	// different request body.
	ErrIdempotencyMismatch = fmt.Errorf("%w: idempotency key reused with a different payload", ErrValidation)
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFound(what string, id int64) error {
	return fmt.Errorf("%w: %s %d", ErrNotFound, what, id)
}

// lookupErr turns a store lookup failure into NotFound or Internal.
func lookupErr(err error, what string, id int64) error {
	if errors.Is(err, store.ErrNotFound) {
		return notFound(what, id)
	}
	return internal(err)
}

// internal wraps unexpected store failures. Errors that already carry a
// service kind pass through unchanged.
func internal(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{ErrNotFound, ErrValidation, ErrKindMismatch, ErrConflict, ErrForbidden, ErrUnauthorized, ErrInternal} {
		if errors.Is(err, kind) {
			return err
		}
	}
	if errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return fmt.Errorf("%w: %w", ErrInternal, err)
}
