package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBreakerIsClosed(t *testing.T) {
	b := New("identity-store")
	assert.Equal(t, "identity-store", b.Name())
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
}

// outcome is one recorded call result: true for success.
type outcome bool

const (
	ok   outcome = true
	fail outcome = false
)

func TestBreakerTransitions(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		successes int
		outcomes  []outcome
		wantOpen  bool
		// transitions reported by the final outcome
		wantOpened bool
		wantClosed bool
	}{
		{"below threshold stays closed", 3, 1, []outcome{fail, fail}, false, false, false},
		{"threshold opens", 3, 1, []outcome{fail, fail, fail}, true, true, false},
		{"success resets failure streak", 3, 1, []outcome{fail, fail, ok, fail, fail}, false, false, false},
		{"failures while open report no change", 1, 1, []outcome{fail, fail}, true, false, false},
		{"one success short stays open", 1, 2, []outcome{fail, ok}, true, false, false},
		{"success streak closes", 1, 2, []outcome{fail, ok, ok}, false, false, true},
		{"failure restarts success streak", 1, 2, []outcome{fail, ok, fail, ok}, true, false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := New("store", WithFailureThreshold(tc.failures), WithSuccessThreshold(tc.successes))
			var change StateChange
			for _, o := range tc.outcomes {
				if o {
					_, change = b.RecordSuccess()
				} else {
					_, change = b.RecordFailure()
				}
			}
			assert.Equal(t, tc.wantOpen, b.IsOpen())
			assert.Equal(t, tc.wantOpened, change.Opened)
			assert.Equal(t, tc.wantClosed, change.Closed)
		})
	}
}

func TestRecordReturnsWhichPathToUse(t *testing.T) {
	b := New("store", WithFailureThreshold(2), WithSuccessThreshold(1))

	useFallback, _ := b.RecordFailure()
	assert.False(t, useFallback, "closed breaker keeps the primary path")
	useFallback, _ = b.RecordFailure()
	assert.True(t, useFallback)

	usePrimary, change := b.RecordSuccess()
	assert.True(t, usePrimary)
	assert.True(t, change.Closed)
}

func TestAllowAdmitsOneProbePerCooldown(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	b := New("gate",
		WithFailureThreshold(2),
		WithCooldown(10*time.Second),
		WithClock(func() time.Time { return now }),
	)

	b.RecordFailure()
	b.RecordFailure()
	require.True(t, b.IsOpen())
	assert.False(t, b.Allow(), "rejects inside the cooldown window")

	now = now.Add(11 * time.Second)
	assert.True(t, b.Allow(), "probe after cooldown")
	assert.False(t, b.Allow(), "second probe waits for the next window")

	b.RecordFailure()
	now = now.Add(11 * time.Second)
	assert.True(t, b.Allow())
}

func TestReset(t *testing.T) {
	b := New("store", WithFailureThreshold(1))
	b.RecordFailure()
	require.True(t, b.IsOpen())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}
