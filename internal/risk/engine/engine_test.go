package engine

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canon/internal/identity/models"
	dErrors "canon/pkg/domain-errors"
)

func confidence(v float64) *float64 { return &v }

func TestScoreWorkedExample(t *testing.T) {
	e := NewDefault()

	got, err := e.Score(Signals{
		VerificationConfidence: confidence(0.9),
		IdentityReuseCount:     2,
		DeviceReuseCount:       1,
		IncidentCount:          0,
	})
	require.NoError(t, err)

	subs := map[string]int{}
	for _, c := range got.Breakdown.Components {
		subs[c.Name] = c.SubScore
	}
	assert.Equal(t, map[string]int{
		models.ComponentVerification:  10,
		models.ComponentIdentityReuse: 10,
		models.ComponentDeviceReuse:   5,
		models.ComponentIncidents:     0,
	}, subs)
	// (10*40 + 10*25 + 5*20 + 0*15) / 100 = 7.5, rounded half away from zero.
	assert.InDelta(t, 7.5, got.Breakdown.Raw, 1e-9)
	assert.Equal(t, 8, got.Score)
	assert.Equal(t, models.TierVerified, got.Tier)
}

func TestSubScoreLadders(t *testing.T) {
	p := DefaultPolicy()

	identity := map[int]int{0: 0, 1: 10, 2: 10, 3: 40, 5: 40, 6: 70, 10: 70, 11: 95, 500: 95}
	for n, want := range identity {
		assert.Equal(t, want, p.IdentityReuse.Score(n), "identity reuse %d", n)
	}
	device := map[int]int{0: 0, 3: 5, 4: 35, 7: 35, 8: 65, 15: 65, 16: 90}
	for n, want := range device {
		assert.Equal(t, want, p.DeviceReuse.Score(n), "device reuse %d", n)
	}
	incidents := map[int]int{0: 0, 1: 20, 2: 40, 3: 55, 4: 70, 5: 85, 6: 95, 40: 95}
	for n, want := range incidents {
		assert.Equal(t, want, p.Incidents.Score(n), "incidents %d", n)
	}
}

func TestUnknownConfidenceScoresFifty(t *testing.T) {
	got, err := NewDefault().Score(Signals{})
	require.NoError(t, err)
	c, ok := got.Breakdown.Component(models.ComponentVerification)
	require.True(t, ok)
	assert.Equal(t, 50, c.SubScore)
	assert.Equal(t, 20, got.Score)
}

func TestTierFor(t *testing.T) {
	e := NewDefault()
	cases := map[int]models.TrustTier{
		0: models.TierVerified, 30: models.TierVerified,
		31: models.TierHigh, 50: models.TierHigh,
		51: models.TierMedium, 70: models.TierMedium,
		71: models.TierLow, 100: models.TierLow,
	}
	for score, want := range cases {
		got, err := e.TierFor(score)
		require.NoError(t, err)
		assert.Equal(t, want, got, "score %d", score)
	}

	for _, bad := range []int{-1, 101} {
		_, err := e.TierFor(bad)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeOutOfRange), "score %d", bad)
	}
}

func TestScoreRejectsInvalidSignals(t *testing.T) {
	e := NewDefault()
	_, err := e.Score(Signals{VerificationConfidence: confidence(1.2)})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeOutOfRange))
	_, err = e.Score(Signals{IncidentCount: -1})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeOutOfRange))
}

func randomSignals(r *rand.Rand) Signals {
	return Signals{
		VerificationConfidence: confidence(r.Float64()),
		IdentityReuseCount:     r.IntN(30),
		DeviceReuseCount:       r.IntN(30),
		IncidentCount:          r.IntN(12),
	}
}

func TestScoreRangeProperty(t *testing.T) {
	e := NewDefault()
	r := rand.New(rand.NewPCG(1, 2))
	for range 2000 {
		got, err := e.Score(randomSignals(r))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got.Score, 0)
		assert.LessOrEqual(t, got.Score, 100)
	}
}

func TestTierMonotonicProperty(t *testing.T) {
	e := NewDefault()
	r := rand.New(rand.NewPCG(3, 4))
	for range 2000 {
		a, err := e.Score(randomSignals(r))
		require.NoError(t, err)
		b, err := e.Score(randomSignals(r))
		require.NoError(t, err)
		if a.Score > b.Score {
			a, b = b, a
		}
		assert.GreaterOrEqual(t, a.Tier.Rank(), b.Tier.Rank(),
			"score %d (%s) must be at least as trusted as %d (%s)", a.Score, a.Tier, b.Score, b.Tier)
	}
}

func TestSubScoresAreMonotonic(t *testing.T) {
	p := DefaultPolicy()
	for n := range 40 {
		assert.LessOrEqual(t, p.IdentityReuse.Score(n), p.IdentityReuse.Score(n+1))
		assert.LessOrEqual(t, p.DeviceReuse.Score(n), p.DeviceReuse.Score(n+1))
		assert.LessOrEqual(t, p.Incidents.Score(n), p.Incidents.Score(n+1))
	}
}

func TestAlternativeWeights(t *testing.T) {
	p := DefaultPolicy()
	p.Weights = Weights{Verification: 0, IdentityReuse: 0, DeviceReuse: 0, Incidents: 1}
	e, err := New(p)
	require.NoError(t, err)

	got, err := e.Score(Signals{VerificationConfidence: confidence(0), IncidentCount: 3})
	require.NoError(t, err)
	assert.Equal(t, 55, got.Score)
	assert.Equal(t, models.TierMedium, got.Tier)
}

func TestSignalsFor(t *testing.T) {
	e := NewDefault()
	i := &models.Identity{
		VerificationStatus: models.StatusVerified,
		LinkedActors:       []string{"a", "b"},
		ObservedDevices:    []string{"d"},
		Counters:           models.Counters{IncidentCount: 1},
	}
	sig := e.SignalsFor(i)
	require.NotNil(t, sig.VerificationConfidence)
	assert.InDelta(t, 0.9, *sig.VerificationConfidence, 1e-9)
	assert.Equal(t, 2, sig.IdentityReuseCount)
	assert.Equal(t, 1, sig.DeviceReuseCount)
	assert.Equal(t, 1, sig.IncidentCount)

	i.VerificationStatus = models.StatusPending
	assert.InDelta(t, 0.5, *e.SignalsFor(i).VerificationConfidence, 1e-9)
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	p := DefaultPolicy()
	p.Tiers.HighMax = 20
	p.Weights.Incidents = -5
	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tiers")
	assert.Contains(t, err.Error(), "weights")

	p = DefaultPolicy()
	p.DeviceReuse.Steps[2].Score = 1
	assert.ErrorContains(t, p.Validate(), "deviceReuse")
}

func TestLoadPolicy(t *testing.T) {
	dir := t.TempDir()

	t.Run("overrides only the sections present", func(t *testing.T) {
		path := filepath.Join(dir, "policy.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
weights:
  verification: 50
  identityReuse: 25
  deviceReuse: 15
  incidents: 10
tiers:
  verifiedMax: 25
  highMax: 45
  mediumMax: 75
`), 0o600))

		p, err := LoadPolicy(path)
		require.NoError(t, err)
		assert.Equal(t, 50, p.Weights.Verification)
		assert.Equal(t, 25, p.Tiers.VerifiedMax)
		assert.Equal(t, DefaultPolicy().IdentityReuse, p.IdentityReuse)
		assert.InDelta(t, 0.90, p.Matching.DocumentHash, 1e-9)
	})

	t.Run("rejects unknown keys", func(t *testing.T) {
		path := filepath.Join(dir, "typo.yaml")
		require.NoError(t, os.WriteFile(path, []byte("weight:\n  verification: 10\n"), 0o600))
		_, err := LoadPolicy(path)
		require.Error(t, err)
	})

	t.Run("rejects invalid policy", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("confidence:\n  verified: 1.5\n"), 0o600))
		_, err := LoadPolicy(path)
		require.ErrorContains(t, err, "confidence")
	})

	t.Run("empty path keeps defaults", func(t *testing.T) {
		p, err := LoadPolicy("")
		require.NoError(t, err)
		assert.Equal(t, DefaultPolicy(), p)
	})
}
