package engine

import (
	"fmt"
	"math"

	"canon/internal/identity/models"
	dErrors "canon/pkg/domain-errors"
)

// Signals are the behavioral inputs of a score. A nil VerificationConfidence
// means unknown and scores like the default confidence.
type Signals struct {
	VerificationConfidence *float64 `json:"verificationConfidence,omitempty"`
	IdentityReuseCount     int      `json:"identityReuseCount"`
	DeviceReuseCount       int      `json:"deviceReuseCount"`
	IncidentCount          int      `json:"incidentCount"`
}

func (s Signals) Validate() error {
	if c := s.VerificationConfidence; c != nil && (math.IsNaN(*c) || *c < 0 || *c > 1) {
		return dErrors.New(dErrors.CodeOutOfRange, "verificationConfidence must be within [0,1]")
	}
	if s.IdentityReuseCount < 0 || s.DeviceReuseCount < 0 || s.IncidentCount < 0 {
		return dErrors.New(dErrors.CodeOutOfRange, "signal counts must not be negative")
	}
	return nil
}

// Assessment is the result of scoring one signal set.
type Assessment struct {
	Score     int
	Tier      models.TrustTier
	Breakdown models.RiskBreakdown
}

// Engine scores signals under one policy. It is safe for concurrent use.
type Engine struct {
	policy Policy
}

func New(policy Policy) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Engine{policy: policy}, nil
}

// NewDefault returns an engine with the default policy.
func NewDefault() *Engine {
	return &Engine{policy: DefaultPolicy()}
}

func (e *Engine) Policy() Policy {
	return e.policy
}

// Score computes the weighted composite of the four sub-scores, rounds it to
// the nearest integer (halves away from zero) and clamps it to [0,100] before
// mapping it to a tier.
func (e *Engine) Score(sig Signals) (Assessment, error) {
	if err := sig.Validate(); err != nil {
		return Assessment{}, err
	}
	p := e.policy

	confidence := p.Confidence.Default
	if sig.VerificationConfidence != nil {
		confidence = *sig.VerificationConfidence
	}
	verification := int(math.Round((1 - confidence) * 100))

	parts := []struct {
		name   string
		input  float64
		sub    int
		weight int
	}{
		{models.ComponentVerification, confidence, verification, p.Weights.Verification},
		{models.ComponentIdentityReuse, float64(sig.IdentityReuseCount), p.IdentityReuse.Score(sig.IdentityReuseCount), p.Weights.IdentityReuse},
		{models.ComponentDeviceReuse, float64(sig.DeviceReuseCount), p.DeviceReuse.Score(sig.DeviceReuseCount), p.Weights.DeviceReuse},
		{models.ComponentIncidents, float64(sig.IncidentCount), p.Incidents.Score(sig.IncidentCount), p.Weights.Incidents},
	}

	total := float64(p.Weights.Total())
	components := make([]models.RiskComponent, 0, len(parts))
	raw := 0.0
	for _, part := range parts {
		contribution := float64(part.sub*part.weight) / total
		raw += contribution
		components = append(components, models.RiskComponent{
			Name:         part.name,
			Input:        part.input,
			SubScore:     part.sub,
			Weight:       part.weight,
			Contribution: contribution,
		})
	}

	score := min(max(int(math.Round(raw)), 0), 100)
	tier, err := e.TierFor(score)
	if err != nil {
		return Assessment{}, err
	}
	return Assessment{
		Score: score,
		Tier:  tier,
		Breakdown: models.RiskBreakdown{
			Components: components,
			Raw:        raw,
			Score:      score,
		},
	}, nil
}

// TierFor maps a score onto its trust tier. Lower risk is higher trust.
// Scores outside [0,100] are a caller bug and are rejected, never clamped.
func (e *Engine) TierFor(score int) (models.TrustTier, error) {
	if score < 0 || score > 100 {
		return "", dErrors.New(dErrors.CodeOutOfRange, fmt.Sprintf("risk score %d outside [0,100]", score))
	}
	t := e.policy.Tiers
	switch {
	case score <= t.VerifiedMax:
		return models.TierVerified, nil
	case score <= t.HighMax:
		return models.TierHigh, nil
	case score <= t.MediumMax:
		return models.TierMedium, nil
	default:
		return models.TierLow, nil
	}
}

// SignalsFor derives signals from an identity's current state.
func (e *Engine) SignalsFor(i *models.Identity) Signals {
	confidence := e.policy.Confidence.Default
	if i.VerificationStatus == models.StatusVerified {
		confidence = e.policy.Confidence.Verified
	}
	return Signals{
		VerificationConfidence: &confidence,
		IdentityReuseCount:     len(i.LinkedActors),
		DeviceReuseCount:       len(i.ObservedDevices),
		IncidentCount:          i.Counters.IncidentCount,
	}
}
