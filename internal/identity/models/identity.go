package models

import (
	"slices"
	"time"

	"canon/internal/audit"
)

// NeutralRiskScore is the prior assigned to a freshly created identity.
const NeutralRiskScore = 50

// Identity is the canonical, deduplicated record of one real-world actor.
//
// Invariants:
//   - ID is immutable once assigned
//   - RiskScore is within [0,100] and TrustTier is the tier mapping of it,
//     except TierUnknown before the first assessment
//   - Counters change only through the Apply* transitions below
//   - Version equals the number of audit events appended for this identity
type Identity struct {
	ID                 string             `json:"id"`
	VerificationStatus VerificationStatus `json:"verificationStatus"`
	RiskScore          int                `json:"riskScore"`
	TrustTier          TrustTier          `json:"trustTier"`
	RiskOverridden     bool               `json:"riskOverridden"`
	Breakdown          *RiskBreakdown     `json:"breakdown,omitempty"`
	Fingerprints       Fingerprints       `json:"evidenceFingerprints"`
	LinkedActors       []string           `json:"linkedActors"`
	ObservedDevices    []string           `json:"observedDevices"`
	Counters           Counters           `json:"counters"`
	Version            int64              `json:"version"`
	LastEventAt        time.Time          `json:"lastEventAt"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

// Counters is derived bookkeeping maintained by the transitions.
type Counters struct {
	TotalVerifications   int        `json:"totalVerifications"`
	FlagCount            int        `json:"flagCount"`
	IncidentCount        int        `json:"incidentCount"`
	LastRiskAssessmentAt *time.Time `json:"lastRiskAssessmentAt,omitempty"`
}

// Clone returns a deep copy so stores never hand out shared slices.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	c.LinkedActors = slices.Clone(i.LinkedActors)
	c.ObservedDevices = slices.Clone(i.ObservedDevices)
	if i.Breakdown != nil {
		b := *i.Breakdown
		b.Components = slices.Clone(i.Breakdown.Components)
		c.Breakdown = &b
	}
	if i.Counters.LastRiskAssessmentAt != nil {
		t := *i.Counters.LastRiskAssessmentAt
		c.Counters.LastRiskAssessmentAt = &t
	}
	return &c
}

func (i *Identity) HasActor(actorRef string) bool {
	return slices.Contains(i.LinkedActors, actorRef)
}

// Stamp assigns the next append position to ev and clamps its timestamp so
// history timestamps never decrease even if the clock does.
func (i *Identity) Stamp(ev *audit.Event) {
	i.Version++
	ev.IdentityID = i.ID
	ev.Seq = i.Version
	if ev.Timestamp.Before(i.LastEventAt) {
		ev.Timestamp = i.LastEventAt
	}
	i.LastEventAt = ev.Timestamp
}

// SearchFilter narrows Search. Zero values mean "any".
type SearchFilter struct {
	Status   VerificationStatus
	Tier     TrustTier
	MinScore *int
	MaxScore *int
	ID       string
	Limit    int
}

const (
	DefaultSearchLimit = 50
	MaxSearchLimit     = 500
)

// Matches applies the filter to one record.
func (f SearchFilter) Matches(i *Identity) bool {
	if f.Status != "" && i.VerificationStatus != f.Status {
		return false
	}
	if f.Tier != "" && i.TrustTier != f.Tier {
		return false
	}
	if f.MinScore != nil && i.RiskScore < *f.MinScore {
		return false
	}
	if f.MaxScore != nil && i.RiskScore > *f.MaxScore {
		return false
	}
	if f.ID != "" && i.ID != f.ID {
		return false
	}
	return true
}

// EffectiveLimit clamps Limit into [1, MaxSearchLimit].
func (f SearchFilter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultSearchLimit
	case f.Limit > MaxSearchLimit:
		return MaxSearchLimit
	}
	return f.Limit
}

// MutateFunc applies one transition to a record loaded under the per-identity
// lock. Returning a nil event means nothing changed and nothing is written.
type MutateFunc = func(*Identity) (*audit.Event, error)
