package models

import "time"

// BreakdownSource says where a stored breakdown came from.
type BreakdownSource string

const (
	SourceAssessed BreakdownSource = "assessed"
	SourceOverride BreakdownSource = "override"
	SourceDerived  BreakdownSource = "derived"
)

// Component names in a breakdown.
const (
	ComponentVerification  = "verification"
	ComponentIdentityReuse = "identity_reuse"
	ComponentDeviceReuse   = "device_reuse"
	ComponentIncidents     = "incidents"
)

// RiskComponent is one weighted input of the composite score.
type RiskComponent struct {
	Name         string  `json:"name"`
	Input        float64 `json:"input"`
	SubScore     int     `json:"subScore"`
	Weight       int     `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// RiskBreakdown explains a risk score.
type RiskBreakdown struct {
	Source     BreakdownSource `json:"source"`
	Components []RiskComponent `json:"components,omitempty"`
	Raw        float64         `json:"raw"`
	Score      int             `json:"score"`
	AssessedAt time.Time       `json:"assessedAt"`
}

// Component returns the named component.
func (b *RiskBreakdown) Component(name string) (RiskComponent, bool) {
	if b == nil {
		return RiskComponent{}, false
	}
	for _, c := range b.Components {
		if c.Name == name {
			return c, true
		}
	}
	return RiskComponent{}, false
}
