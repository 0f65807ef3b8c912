package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and adapters return these
// (optionally wrapped) and services translate them into domain errors.
//
//   - ErrNotFound: no record under the requested key
//   - ErrConflict: a uniqueness constraint rejected the write (identifier or evidence)
//   - ErrInvalidState: record is in the wrong state for the requested operation
//   - ErrUnavailable: backing store or cache could not be reached
//
// Validation failures never use these; they go through pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
