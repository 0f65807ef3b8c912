package store

import (
	"context"
	"errors"

	"canon/internal/identity/lock"
	dErrors "canon/pkg/domain-errors"
	"canon/pkg/platform/sentinel"
)

// ToDomainError translates store and lock failures into domain errors.
// Errors that already carry a domain code pass through unchanged. Anything
// unrecognized is treated as the store being unavailable.
func ToDomainError(err error, notFoundMsg string) error {
	if err == nil {
		return nil
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, notFoundMsg)
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "identity evidence conflict")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.Wrap(err, dErrors.CodeInvariantViolation, "identity invariant violated")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), errors.Is(err, lock.ErrNotAcquired):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "request deadline exceeded")
	default:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "identity store unavailable")
	}
}
