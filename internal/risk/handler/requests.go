package handler

import (
	"canon/internal/risk/engine"
	dErrors "canon/pkg/domain-errors"
)

// OverrideRequest is the HTTP request body for PUT /identities/{id}/risk/override.
type OverrideRequest struct {
	Score *int `json:"score"`
}

// Validate checks presence only; the range is enforced by the service so the
// error code is the same for every caller.
func (r *OverrideRequest) Validate() error {
	if r == nil || r.Score == nil {
		return dErrors.New(dErrors.CodeValidation, "score is required")
	}
	return nil
}

// AssessRequest is the optional body of POST /identities/{id}/risk/assess.
// Without signals the identity is reassessed from its current state.
type AssessRequest struct {
	Signals *engine.Signals `json:"signals,omitempty"`
}

func (r *AssessRequest) Validate() error {
	if r == nil || r.Signals == nil {
		return nil
	}
	return r.Signals.Validate()
}
