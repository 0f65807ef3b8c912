// Package engine computes composite risk scores and trust tiers from
// behavioral signals. Everything here is pure; persistence lives in service.
package engine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"canon/internal/identity/models"
)

// Weights are the relative shares of each sub-score in the composite. They
// need not sum to 100; the composite divides by their total.
type Weights struct {
	Verification  int `yaml:"verification" json:"verification"`
	IdentityReuse int `yaml:"identityReuse" json:"identityReuse"`
	DeviceReuse   int `yaml:"deviceReuse" json:"deviceReuse"`
	Incidents     int `yaml:"incidents" json:"incidents"`
}

func (w Weights) Total() int {
	return w.Verification + w.IdentityReuse + w.DeviceReuse + w.Incidents
}

// Step maps counts up to and including Max onto Score.
type Step struct {
	Max   int `yaml:"max" json:"max"`
	Score int `yaml:"score" json:"score"`
}

// Ladder is a monotonic step function: the first step whose Max covers the
// count wins, counts beyond the last step score Above.
type Ladder struct {
	Steps []Step `yaml:"steps" json:"steps"`
	Above int    `yaml:"above" json:"above"`
}

func (l Ladder) Score(count int) int {
	for _, st := range l.Steps {
		if count <= st.Max {
			return st.Score
		}
	}
	return l.Above
}

func (l Ladder) validate(name string) error {
	prevMax, prevScore := -1, 0
	for _, st := range l.Steps {
		if st.Max <= prevMax {
			return fmt.Errorf("%s: step max values must increase", name)
		}
		if st.Score < prevScore || st.Score > 100 {
			return fmt.Errorf("%s: step scores must be non-decreasing within [0,100]", name)
		}
		prevMax, prevScore = st.Max, st.Score
	}
	if l.Above < prevScore || l.Above > 100 {
		return fmt.Errorf("%s: above score must be within [%d,100]", name, prevScore)
	}
	return nil
}

// IncidentCurve scores incident counts: PerLow points each up to LowMax,
// then HighBase plus PerHigh for each incident beyond LowMax up to HighMax,
// and Above past that.
type IncidentCurve struct {
	PerLow   int `yaml:"perLow" json:"perLow"`
	LowMax   int `yaml:"lowMax" json:"lowMax"`
	HighBase int `yaml:"highBase" json:"highBase"`
	PerHigh  int `yaml:"perHigh" json:"perHigh"`
	HighMax  int `yaml:"highMax" json:"highMax"`
	Above    int `yaml:"above" json:"above"`
}

func (c IncidentCurve) Score(count int) int {
	switch {
	case count <= 0:
		return 0
	case count <= c.LowMax:
		return c.PerLow * count
	case count <= c.HighMax:
		return c.HighBase + c.PerHigh*(count-c.LowMax)
	default:
		return c.Above
	}
}

func (c IncidentCurve) validate() error {
	if c.PerLow < 0 || c.PerHigh < 0 || c.LowMax < 0 || c.HighMax < c.LowMax {
		return errors.New("incidents: counts and per-incident points must be non-negative and ordered")
	}
	// Monotonic at each segment boundary and bounded by 100.
	lowTop := c.PerLow * c.LowMax
	highTop := c.HighBase + c.PerHigh*(c.HighMax-c.LowMax)
	if c.HighBase+c.PerHigh < lowTop || c.Above < highTop || c.Above > 100 || highTop > 100 {
		return errors.New("incidents: curve must be non-decreasing within [0,100]")
	}
	return nil
}

// TierBounds are the inclusive upper score of each tier. Scores above
// MediumMax are low trust.
type TierBounds struct {
	VerifiedMax int `yaml:"verifiedMax" json:"verifiedMax"`
	HighMax     int `yaml:"highMax" json:"highMax"`
	MediumMax   int `yaml:"mediumMax" json:"mediumMax"`
}

// Confidence is the verification confidence derived from status when the
// caller does not supply one.
type Confidence struct {
	Verified float64 `yaml:"verified" json:"verified"`
	Default  float64 `yaml:"default" json:"default"`
}

// Policy is the replaceable scoring configuration.
type Policy struct {
	Weights       Weights             `yaml:"weights" json:"weights"`
	IdentityReuse Ladder              `yaml:"identityReuse" json:"identityReuse"`
	DeviceReuse   Ladder              `yaml:"deviceReuse" json:"deviceReuse"`
	Incidents     IncidentCurve       `yaml:"incidents" json:"incidents"`
	Tiers         TierBounds          `yaml:"tiers" json:"tiers"`
	Confidence    Confidence          `yaml:"confidence" json:"confidence"`
	Matching      models.MatchWeights `yaml:"matching" json:"matching"`
}

func DefaultPolicy() Policy {
	return Policy{
		Weights: Weights{Verification: 40, IdentityReuse: 25, DeviceReuse: 20, Incidents: 15},
		IdentityReuse: Ladder{
			Steps: []Step{{Max: 0, Score: 0}, {Max: 2, Score: 10}, {Max: 5, Score: 40}, {Max: 10, Score: 70}},
			Above: 95,
		},
		DeviceReuse: Ladder{
			Steps: []Step{{Max: 0, Score: 0}, {Max: 3, Score: 5}, {Max: 7, Score: 35}, {Max: 15, Score: 65}},
			Above: 90,
		},
		Incidents:  IncidentCurve{PerLow: 20, LowMax: 2, HighBase: 40, PerHigh: 15, HighMax: 5, Above: 95},
		Tiers:      TierBounds{VerifiedMax: 30, HighMax: 50, MediumMax: 70},
		Confidence: Confidence{Verified: 0.9, Default: 0.5},
		Matching:   models.DefaultMatchWeights(),
	}
}

// Validate reports every problem at once.
func (p Policy) Validate() error {
	var errs []error
	w := []int{p.Weights.Verification, p.Weights.IdentityReuse, p.Weights.DeviceReuse, p.Weights.Incidents}
	if slices.Min(w) < 0 || p.Weights.Total() <= 0 {
		errs = append(errs, errors.New("weights: must be non-negative with a positive total"))
	}
	errs = append(errs,
		p.IdentityReuse.validate("identityReuse"),
		p.DeviceReuse.validate("deviceReuse"),
		p.Incidents.validate(),
	)
	t := p.Tiers
	if !(0 <= t.VerifiedMax && t.VerifiedMax < t.HighMax && t.HighMax < t.MediumMax && t.MediumMax < 100) {
		errs = append(errs, errors.New("tiers: bounds must increase strictly within [0,100)"))
	}
	for _, c := range []float64{p.Confidence.Verified, p.Confidence.Default} {
		if c < 0 || c > 1 {
			errs = append(errs, errors.New("confidence: values must be within [0,1]"))
			break
		}
	}
	if err := p.Matching.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("matching: %w", err))
	}
	return errors.Join(errs...)
}

// LoadPolicy reads a YAML policy. Omitted sections keep their defaults;
// unknown keys are rejected so typos do not silently fall back.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Policy{}, fmt.Errorf("open risk policy: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Policy{}, fmt.Errorf("decode risk policy %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, fmt.Errorf("invalid risk policy %s: %w", path, err)
	}
	return p, nil
}
