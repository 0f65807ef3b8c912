package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"canon/internal/audit"
	"canon/internal/identity/models"
	"canon/internal/identity/store"
	"canon/internal/platform/logger"
	"canon/internal/risk/engine"
	"canon/internal/risk/service"
	"canon/pkg/platform/middleware/auth"
	"canon/pkg/testutil"
)

const (
	testIdentityID    = "ID-20250301-0000000A"
	operatorToken = "operator-token"
)

type stubValidator struct{}

func (stubValidator) ValidateToken(token string) (*auth.Claims, error) {
	if token == operatorToken {
		return &auth.Claims{Subject: "op-7", Role: auth.RoleOperator}, nil
	}
	return nil, errors.New("invalid token")
}

type RiskHandlerSuite struct {
	suite.Suite
	router http.Handler
	store  *store.InMemoryStore
}

func TestRiskHandlerSuite(t *testing.T) {
	suite.Run(t, new(RiskHandlerSuite))
}

func (s *RiskHandlerSuite) SetupTest() {
	log := logger.Discard()
	s.store = store.NewInMemory()
	identity, ev, err := models.NewIdentity(testIdentityID,
		models.Fingerprints{DocumentHash: "abc123", DeviceFingerprint: "dev-1"},
		"actor-1", audit.ExternalActor("actor-1"), time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(context.Background(), identity, ev))

	h := New(service.New(s.store, engine.NewDefault(), service.WithLogger(log)), log)
	r := chi.NewRouter()
	h.Register(r)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireOperator(stubValidator{}, log))
		h.RegisterOperator(r)
	})
	s.router = r
}

func (s *RiskHandlerSuite) operatorRequest(method, path, body string) *http.Request {
	return testutil.WithBearer(testutil.NewRequestWithBody(s.T(), method, path, body), operatorToken)
}

func (s *RiskHandlerSuite) TestBreakdownBeforeAssessmentIsDerived() {
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/identities/"+testIdentityID+"/risk"))
	testutil.AssertStatusOK(s.T(), rr)

	resp := testutil.UnmarshalResponse[BreakdownResponse](s.T(), rr)
	s.Equal(50, resp.RiskScore)
	s.Equal(models.TierUnknown, resp.TrustTier)
	s.Equal(models.SourceDerived, resp.Breakdown.Source)
	s.Len(resp.Breakdown.Components, 4)
	s.Empty(resp.RecentAssessments)
}

func (s *RiskHandlerSuite) TestAssessWithSignals() {
	rr := testutil.DoRequest(s.router, s.operatorRequest(http.MethodPost, "/identities/"+testIdentityID+"/risk/assess",
		`{"signals":{"verificationConfidence":0.9,"identityReuseCount":2,"deviceReuseCount":1,"incidentCount":0}}`))
	testutil.AssertStatusOK(s.T(), rr)

	resp := testutil.UnmarshalResponse[RiskResponse](s.T(), rr)
	s.Equal(8, resp.RiskScore)
	s.Equal(models.TierVerified, resp.TrustTier)
	s.Require().NotNil(resp.Breakdown)
	s.Equal(models.SourceAssessed, resp.Breakdown.Source)

	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/identities/"+testIdentityID+"/risk"))
	breakdown := testutil.UnmarshalResponse[BreakdownResponse](s.T(), rr)
	s.Equal(models.SourceAssessed, breakdown.Breakdown.Source)
	s.Require().Len(breakdown.RecentAssessments, 1)
	s.Equal(audit.ActionRiskAssessed, breakdown.RecentAssessments[0].Action)
	s.Equal("operator:op-7", breakdown.RecentAssessments[0].Actor.String())
}

func (s *RiskHandlerSuite) TestAssessWithoutBodyReassesses() {
	rr := testutil.DoRequest(s.router, s.operatorRequest(http.MethodPost, "/identities/"+testIdentityID+"/risk/assess", ""))
	testutil.AssertStatusOK(s.T(), rr)

	resp := testutil.UnmarshalResponse[RiskResponse](s.T(), rr)
	s.Require().NotNil(resp.Breakdown)
	s.Equal(models.SourceAssessed, resp.Breakdown.Source)
	s.Equal(resp.RiskScore, resp.Breakdown.Score)
}

func (s *RiskHandlerSuite) TestAssessRejectsInvalidSignals() {
	rr := testutil.DoRequest(s.router, s.operatorRequest(http.MethodPost, "/identities/"+testIdentityID+"/risk/assess",
		`{"signals":{"verificationConfidence":1.5}}`))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "out_of_range")
}

func (s *RiskHandlerSuite) TestOverride() {
	s.Run("requires operator token", func() {
		req := testutil.NewRequestWithBody(s.T(), http.MethodPut, "/identities/"+testIdentityID+"/risk/override", `{"score":85}`)
		testutil.AssertStatus(s.T(), testutil.DoRequest(s.router, req), http.StatusUnauthorized)
	})

	s.Run("missing score", func() {
		rr := testutil.DoRequest(s.router, s.operatorRequest(http.MethodPut, "/identities/"+testIdentityID+"/risk/override", `{}`))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")
	})

	s.Run("out of range", func() {
		rr := testutil.DoRequest(s.router, s.operatorRequest(http.MethodPut, "/identities/"+testIdentityID+"/risk/override", `{"score":101}`))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "out_of_range")
	})

	s.Run("unknown identity", func() {
		rr := testutil.DoRequest(s.router, s.operatorRequest(http.MethodPut, "/identities/ID-20250301-FFFFFFFF/risk/override", `{"score":10}`))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
	})

	s.Run("operator override sets score and tier", func() {
		rr := testutil.DoRequest(s.router, s.operatorRequest(http.MethodPut, "/identities/"+testIdentityID+"/risk/override", `{"score":85}`))
		testutil.AssertStatusOK(s.T(), rr)

		resp := testutil.UnmarshalResponse[RiskResponse](s.T(), rr)
		s.Equal(85, resp.RiskScore)
		s.Equal(models.TierLow, resp.TrustTier)
		s.True(resp.RiskOverridden)
	})
}
