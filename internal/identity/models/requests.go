package models

import (
	"strings"

	"canon/internal/audit"
	dErrors "canon/pkg/domain-errors"
)

// MaxActorRefLength bounds external actor references.
const MaxActorRefLength = 256

type ResolveRequest struct {
	Evidence    Fingerprints `json:"evidence"`
	ActorRef    string       `json:"actorRef,omitempty"`
	PerformedBy string       `json:"performedBy,omitempty"`

	// Actor is who the audit trail credits; derived from PerformedBy or ActorRef.
	Actor audit.Actor `json:"-"`
}

func (r *ResolveRequest) Normalize() {
	if r == nil {
		return
	}
	r.Evidence = r.Evidence.Normalize()
	r.ActorRef = strings.TrimSpace(r.ActorRef)
	r.PerformedBy = strings.TrimSpace(r.PerformedBy)
}

// Validate normalizes first, then checks size, presence and syntax.
func (r *ResolveRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	r.Normalize()
	if len(r.ActorRef) > MaxActorRefLength {
		return dErrors.New(dErrors.CodeValidation, "actorRef exceeds maximum length")
	}
	if err := r.Evidence.Validate(); err != nil {
		return err
	}
	switch {
	case r.PerformedBy != "":
		actor, err := audit.ParseActor(r.PerformedBy)
		if err != nil {
			return err
		}
		// Operator and system actions come from authenticated paths only.
		if actor.Kind != audit.KindActor && actor.Kind != audit.KindAgent {
			return dErrors.New(dErrors.CodeValidation, "performedBy must name an actor or agent")
		}
		r.Actor = actor
	case r.Actor.ID != "":
	case r.ActorRef != "":
		r.Actor = audit.ExternalActor(r.ActorRef)
	default:
		r.Actor = audit.System("resolver")
	}
	return nil
}

type UpdateStatusRequest struct {
	Status string `json:"status"`

	Parsed VerificationStatus `json:"-"`
}

func (r *UpdateStatusRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	status, err := ParseVerificationStatus(r.Status)
	if err != nil {
		return err
	}
	r.Parsed = status
	return nil
}
