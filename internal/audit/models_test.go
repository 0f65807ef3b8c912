package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "canon/pkg/domain-errors"
)

func TestParseActor(t *testing.T) {
	a, err := ParseActor("operator:op-7")
	require.NoError(t, err)
	assert.Equal(t, Operator("op-7"), a)
	assert.True(t, a.IsOperator())
	assert.Equal(t, "operator:op-7", a.String())

	for _, raw := range []string{"", "op-7", "robot:x", "agent:"} {
		_, err := ParseActor(raw)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation), "input %q", raw)
	}
}

func TestNewEvent(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	ev := New(ActionFlagged, Agent("agent-2"), "status changed", "pending", "flagged", now)

	assert.NotEqual(t, [16]byte{}, [16]byte(ev.ID))
	assert.Equal(t, `"pending"`, string(ev.PreviousValue))
	assert.Equal(t, `"flagged"`, string(ev.NewValue))
	assert.Equal(t, now, ev.Timestamp)
	assert.Zero(t, ev.Seq, "sequence is assigned on append")
}

func TestSnapshot(t *testing.T) {
	assert.Nil(t, Snapshot(nil))
	assert.JSONEq(t, `{"riskScore":42,"trustTier":"high"}`,
		string(Snapshot(map[string]any{"riskScore": 42, "trustTier": "high"})))
}
