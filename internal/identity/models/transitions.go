package models

import (
	"fmt"
	"time"

	"canon/internal/audit"
	dErrors "canon/pkg/domain-errors"
	pkgstrings "canon/pkg/platform/strings"
)

// Every mutation of an Identity goes through one of the functions below. Each
// applies the change, maintains the counters, and returns the single audit
// event describing it. Stores persist the record and the event together.

type createdSnapshot struct {
	ID                 string             `json:"id"`
	VerificationStatus VerificationStatus `json:"verificationStatus"`
	RiskScore          int                `json:"riskScore"`
	TrustTier          TrustTier          `json:"trustTier"`
	Fingerprints       Fingerprints       `json:"evidenceFingerprints"`
	LinkedActors       []string           `json:"linkedActors"`
}

type linkSnapshot struct {
	LinkedActors    []string `json:"linkedActors"`
	ObservedDevices []string `json:"observedDevices"`
}

type riskSnapshot struct {
	RiskScore      int       `json:"riskScore"`
	TrustTier      TrustTier `json:"trustTier"`
	RiskOverridden bool      `json:"riskOverridden"`
}

// NewIdentity builds a pending identity from the evidence that missed every
// lookup, with the neutral prior score and no tier yet.
func NewIdentity(id string, evidence Fingerprints, actorRef string, actor audit.Actor, now time.Time) (*Identity, *audit.Event, error) {
	if id == "" {
		return nil, nil, dErrors.New(dErrors.CodeInvariantViolation, "identity id cannot be empty")
	}
	evidence = evidence.Normalize()
	if err := evidence.Validate(); err != nil {
		return nil, nil, err
	}

	i := &Identity{
		ID:                 id,
		VerificationStatus: StatusPending,
		RiskScore:          NeutralRiskScore,
		TrustTier:          TierUnknown,
		Fingerprints:       evidence,
		LinkedActors:       []string{},
		ObservedDevices:    []string{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	i.LinkedActors, _ = pkgstrings.AddToSet(i.LinkedActors, actorRef)
	i.ObservedDevices, _ = pkgstrings.AddToSet(i.ObservedDevices, evidence.DeviceFingerprint)

	ev := audit.New(audit.ActionCreated, actor, "identity created from evidence", nil, createdSnapshot{
		ID:                 i.ID,
		VerificationStatus: i.VerificationStatus,
		RiskScore:          i.RiskScore,
		TrustTier:          i.TrustTier,
		Fingerprints:       i.Fingerprints,
		LinkedActors:       i.LinkedActors,
	}, now)
	return i, ev, nil
}

// ApplyLink records an external actor reference and an observed device. It
// returns nil when both were already present, so repeated resolves with the
// same evidence and actor leave the record and its history untouched.
func (i *Identity) ApplyLink(actorRef, device string, actor audit.Actor, now time.Time) *audit.Event {
	prev := linkSnapshot{LinkedActors: i.LinkedActors, ObservedDevices: i.ObservedDevices}

	actors, actorAdded := pkgstrings.AddToSet(cloneOrEmpty(i.LinkedActors), actorRef)
	devices, deviceAdded := pkgstrings.AddToSet(cloneOrEmpty(i.ObservedDevices), device)
	if !actorAdded && !deviceAdded {
		return nil
	}
	i.LinkedActors = actors
	i.ObservedDevices = devices
	i.UpdatedAt = now

	detail := "linked actor " + actorRef
	switch {
	case actorAdded && deviceAdded:
		detail += " and observed new device"
	case deviceAdded:
		detail = "observed new device"
	}
	return audit.New(audit.ActionUpdated, actor, detail, prev,
		linkSnapshot{LinkedActors: i.LinkedActors, ObservedDevices: i.ObservedDevices}, now)
}

// CanTransitionTo checks a status change without applying it.
func (i *Identity) CanTransitionTo(next VerificationStatus) error {
	if !next.IsValid() {
		return dErrors.New(dErrors.CodeInvalidStatus, fmt.Sprintf("invalid verification status %q", next))
	}
	if !i.VerificationStatus.CanTransitionTo(next) {
		return dErrors.New(dErrors.CodeInvalidTransition,
			fmt.Sprintf("identity is already %s", i.VerificationStatus))
	}
	return nil
}

// ApplyStatusTransition moves the identity to next and updates the counters:
// verified counts a verification, flagged counts a flag, and every negative
// status counts an incident.
func (i *Identity) ApplyStatusTransition(next VerificationStatus, actor audit.Actor, now time.Time) (*audit.Event, error) {
	if err := i.CanTransitionTo(next); err != nil {
		return nil, err
	}
	prev := i.VerificationStatus
	i.VerificationStatus = next
	i.UpdatedAt = now

	if next == StatusVerified {
		i.Counters.TotalVerifications++
	}
	if next == StatusFlagged {
		i.Counters.FlagCount++
	}
	if next.IsNegative() {
		i.Counters.IncidentCount++
	}

	return audit.New(statusAction(prev, next), actor,
		fmt.Sprintf("status %s -> %s", prev, next), string(prev), string(next), now), nil
}

func statusAction(prev, next VerificationStatus) audit.Action {
	switch {
	case next == StatusVerified:
		return audit.ActionVerified
	case next == StatusFlagged:
		return audit.ActionFlagged
	case prev == StatusFlagged:
		return audit.ActionCleared
	default:
		return audit.ActionUpdated
	}
}

// ApplyRiskAssessment stores a computed score, its tier and breakdown. Any
// manual override is superseded.
func (i *Identity) ApplyRiskAssessment(score int, tier TrustTier, breakdown RiskBreakdown, actor audit.Actor, now time.Time) (*audit.Event, error) {
	if score < 0 || score > 100 {
		return nil, dErrors.New(dErrors.CodeOutOfRange, "risk score must be within [0,100]")
	}
	prev := i.riskSnapshot()

	breakdown.Source = SourceAssessed
	breakdown.Score = score
	breakdown.AssessedAt = now
	i.RiskScore = score
	i.TrustTier = tier
	i.RiskOverridden = false
	i.Breakdown = &breakdown
	assessedAt := now
	i.Counters.LastRiskAssessmentAt = &assessedAt
	i.UpdatedAt = now

	return audit.New(audit.ActionRiskAssessed, actor,
		fmt.Sprintf("risk score %d -> %d", prev.RiskScore, score), prev, i.riskSnapshot(), now), nil
}

// ApplyRiskOverride replaces the score by operator decision. The tier still
// follows from the score; only the caller decides which tier mapping applies.
func (i *Identity) ApplyRiskOverride(score int, tier TrustTier, actor audit.Actor, now time.Time) (*audit.Event, error) {
	if !actor.IsOperator() {
		return nil, dErrors.New(dErrors.CodeForbidden, "risk override requires an operator")
	}
	if score < 0 || score > 100 {
		return nil, dErrors.New(dErrors.CodeOutOfRange, "risk score must be within [0,100]")
	}
	prev := i.riskSnapshot()

	i.RiskScore = score
	i.TrustTier = tier
	i.RiskOverridden = true
	i.Breakdown = &RiskBreakdown{Source: SourceOverride, Raw: float64(score), Score: score, AssessedAt: now}
	i.UpdatedAt = now

	return audit.New(audit.ActionRiskAssessed, actor,
		fmt.Sprintf("risk score overridden %d -> %d", prev.RiskScore, score), prev, i.riskSnapshot(), now), nil
}

func (i *Identity) riskSnapshot() riskSnapshot {
	return riskSnapshot{RiskScore: i.RiskScore, TrustTier: i.TrustTier, RiskOverridden: i.RiskOverridden}
}

func cloneOrEmpty(s []string) []string {
	out := make([]string, len(s), len(s)+1)
	copy(out, s)
	return out
}
