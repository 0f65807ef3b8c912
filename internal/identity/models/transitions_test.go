package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"canon/internal/audit"
	dErrors "canon/pkg/domain-errors"
)

type TransitionsSuite struct {
	suite.Suite
	now time.Time
}

func TestTransitionsSuite(t *testing.T) {
	suite.Run(t, new(TransitionsSuite))
}

func (s *TransitionsSuite) SetupTest() {
	s.now = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
}

func (s *TransitionsSuite) newIdentity() *Identity {
	i, _, err := NewIdentity("ID-20250301-0A1B2C3D", Fingerprints{DocumentHash: "abc123"}, "actor-1", audit.ExternalActor("actor-1"), s.now)
	s.Require().NoError(err)
	return i
}

func (s *TransitionsSuite) TestNewIdentity() {
	s.Run("pending with neutral prior", func() {
		i, ev, err := NewIdentity("ID-20250301-0A1B2C3D", Fingerprints{DocumentHash: " abc123 ", DeviceFingerprint: "dev-9"}, "actor-1", audit.ExternalActor("actor-1"), s.now)
		s.Require().NoError(err)
		s.Equal(StatusPending, i.VerificationStatus)
		s.Equal(50, i.RiskScore)
		s.Equal(TierUnknown, i.TrustTier)
		s.Equal("abc123", i.Fingerprints.DocumentHash)
		s.Equal([]string{"actor-1"}, i.LinkedActors)
		s.Equal([]string{"dev-9"}, i.ObservedDevices)
		s.Equal(audit.ActionCreated, ev.Action)
		s.Nil(ev.PreviousValue)

		var snap map[string]any
		s.Require().NoError(json.Unmarshal(ev.NewValue, &snap))
		s.Equal("pending", snap["verificationStatus"])
		s.EqualValues(50, snap["riskScore"])
	})

	s.Run("no actor leaves linked actors empty", func() {
		i, _, err := NewIdentity("ID-1", Fingerprints{FaceEmbeddingID: "emb-1"}, "", audit.System("resolver"), s.now)
		s.Require().NoError(err)
		s.Empty(i.LinkedActors)
		s.NotNil(i.LinkedActors)
	})

	s.Run("empty evidence is insufficient", func() {
		_, _, err := NewIdentity("ID-1", Fingerprints{DocumentHash: "   "}, "", audit.System("resolver"), s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeInsufficientEvidence))
	})

	s.Run("empty id violates invariant", func() {
		_, _, err := NewIdentity("", Fingerprints{DocumentHash: "x"}, "", audit.System("resolver"), s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

func (s *TransitionsSuite) TestApplyLink() {
	s.Run("new actor is linked once", func() {
		i := s.newIdentity()
		ev := i.ApplyLink("agent-2", "", audit.Agent("agent-2"), s.now)
		s.Require().NotNil(ev)
		s.Equal(audit.ActionUpdated, ev.Action)
		s.Equal([]string{"actor-1", "agent-2"}, i.LinkedActors)

		var post linkSnapshot
		s.Require().NoError(json.Unmarshal(ev.NewValue, &post))
		s.Equal(i.LinkedActors, post.LinkedActors)

		var pre linkSnapshot
		s.Require().NoError(json.Unmarshal(ev.PreviousValue, &pre))
		s.Equal([]string{"actor-1"}, pre.LinkedActors)

		s.Nil(i.ApplyLink("agent-2", "", audit.Agent("agent-2"), s.now), "second link is a no-op")
		s.Len(i.LinkedActors, 2)
	})

	s.Run("new device alone is recorded", func() {
		i := s.newIdentity()
		ev := i.ApplyLink("actor-1", "dev-2", audit.ExternalActor("actor-1"), s.now)
		s.Require().NotNil(ev)
		s.Equal("observed new device", ev.Detail)
		s.Equal([]string{"dev-2"}, i.ObservedDevices)
	})

	s.Run("empty actor ref with no device is a no-op", func() {
		i := s.newIdentity()
		s.Nil(i.ApplyLink("", "", audit.System("resolver"), s.now))
	})
}

func (s *TransitionsSuite) TestApplyStatusTransition() {
	cases := []struct {
		name      string
		from      VerificationStatus
		to        VerificationStatus
		action    audit.Action
		verifs    int
		flags     int
		incidents int
	}{
		{"pending to verified", StatusPending, StatusVerified, audit.ActionVerified, 1, 0, 0},
		{"pending to flagged", StatusPending, StatusFlagged, audit.ActionFlagged, 0, 1, 1},
		{"pending to rejected", StatusPending, StatusRejected, audit.ActionUpdated, 0, 0, 1},
		{"pending to suspended", StatusPending, StatusSuspended, audit.ActionUpdated, 0, 0, 1},
		{"pending to under review", StatusPending, StatusUnderReview, audit.ActionUpdated, 0, 0, 0},
		{"flagged to pending clears", StatusFlagged, StatusPending, audit.ActionCleared, 0, 0, 0},
		{"flagged to verified verifies", StatusFlagged, StatusVerified, audit.ActionVerified, 1, 0, 0},
		{"verified back to pending", StatusVerified, StatusPending, audit.ActionUpdated, 0, 0, 0},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			i := s.newIdentity()
			i.VerificationStatus = tc.from

			ev, err := i.ApplyStatusTransition(tc.to, audit.Operator("op-1"), s.now)
			s.Require().NoError(err)
			s.Equal(tc.to, i.VerificationStatus)
			s.Equal(tc.action, ev.Action)
			s.Equal(`"`+string(tc.from)+`"`, string(ev.PreviousValue))
			s.Equal(`"`+string(tc.to)+`"`, string(ev.NewValue))
			s.Equal(tc.verifs, i.Counters.TotalVerifications)
			s.Equal(tc.flags, i.Counters.FlagCount)
			s.Equal(tc.incidents, i.Counters.IncidentCount)
		})
	}

	s.Run("same status is not a transition", func() {
		i := s.newIdentity()
		_, err := i.ApplyStatusTransition(StatusPending, audit.Operator("op-1"), s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	s.Run("unknown status", func() {
		i := s.newIdentity()
		_, err := i.ApplyStatusTransition("archived", audit.Operator("op-1"), s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidStatus))
		s.Equal(StatusPending, i.VerificationStatus)
	})
}

func (s *TransitionsSuite) TestApplyRiskAssessment() {
	i := s.newIdentity()
	i.RiskOverridden = true

	ev, err := i.ApplyRiskAssessment(8, TierVerified, RiskBreakdown{Raw: 7.5}, audit.System("risk-engine"), s.now)
	s.Require().NoError(err)
	s.Equal(audit.ActionRiskAssessed, ev.Action)
	s.Equal(8, i.RiskScore)
	s.Equal(TierVerified, i.TrustTier)
	s.False(i.RiskOverridden)
	s.Equal(SourceAssessed, i.Breakdown.Source)
	s.Require().NotNil(i.Counters.LastRiskAssessmentAt)
	s.Equal(s.now, *i.Counters.LastRiskAssessmentAt)
	s.JSONEq(`{"riskScore":50,"trustTier":"unknown","riskOverridden":true}`, string(ev.PreviousValue))
	s.JSONEq(`{"riskScore":8,"trustTier":"verified","riskOverridden":false}`, string(ev.NewValue))

	_, err = i.ApplyRiskAssessment(101, TierLow, RiskBreakdown{}, audit.System("risk-engine"), s.now)
	s.True(dErrors.HasCode(err, dErrors.CodeOutOfRange))
}

func (s *TransitionsSuite) TestApplyRiskOverride() {
	s.Run("operator override", func() {
		i := s.newIdentity()
		ev, err := i.ApplyRiskOverride(85, TierLow, audit.Operator("op-1"), s.now)
		s.Require().NoError(err)
		s.Equal(audit.ActionRiskAssessed, ev.Action)
		s.Contains(ev.Detail, "overridden")
		s.JSONEq(`{"riskScore":85,"trustTier":"low","riskOverridden":true}`, string(ev.NewValue))
		s.True(i.RiskOverridden)
		s.Equal(SourceOverride, i.Breakdown.Source)
		s.Nil(i.Counters.LastRiskAssessmentAt)
	})

	s.Run("non operator forbidden", func() {
		i := s.newIdentity()
		_, err := i.ApplyRiskOverride(85, TierLow, audit.Agent("agent-1"), s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		s.Equal(50, i.RiskScore)
	})

	s.Run("out of range", func() {
		i := s.newIdentity()
		_, err := i.ApplyRiskOverride(-1, TierVerified, audit.Operator("op-1"), s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeOutOfRange))
	})
}

func (s *TransitionsSuite) TestStampClampsTimestamps() {
	i := s.newIdentity()
	first := audit.New(audit.ActionCreated, audit.System("x"), "", nil, nil, s.now)
	i.Stamp(first)
	s.Equal(int64(1), first.Seq)
	s.Equal(i.ID, first.IdentityID)

	regressed := audit.New(audit.ActionUpdated, audit.System("x"), "", nil, nil, s.now.Add(-time.Minute))
	i.Stamp(regressed)
	s.Equal(int64(2), regressed.Seq)
	s.Equal(s.now, regressed.Timestamp, "timestamp never goes backwards")
	s.Equal(int64(2), i.Version)
}

func (s *TransitionsSuite) TestCloneIsDeep() {
	i := s.newIdentity()
	c := i.Clone()
	c.LinkedActors[0] = "mutated"
	s.Equal("actor-1", i.LinkedActors[0])
}
