package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canon/internal/audit"
	"canon/internal/identity/models"
	"canon/internal/identity/store"
	"canon/internal/platform/logger"
	"canon/internal/policy"
	"canon/pkg/testutil"
)

const identityID = "ID-20250301-0000000A"

func newRouter(t *testing.T, status models.VerificationStatus) http.Handler {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	identities := store.NewInMemory()
	identity, ev, err := models.NewIdentity(identityID, models.Fingerprints{DocumentHash: "abc123"}, "", audit.System("test"), now)
	require.NoError(t, err)
	require.NoError(t, identities.Create(ctx, identity, ev))
	if status != models.StatusPending {
		_, err = identities.Mutate(ctx, identityID, func(i *models.Identity) (*audit.Event, error) {
			return i.ApplyStatusTransition(status, audit.Operator("op-1"), now)
		})
		require.NoError(t, err)
	}

	src := policy.NewMemorySource()
	src.SetPolicy("payments", true)
	src.Assign("merchant-42", "payments")

	log := logger.Discard()
	r := chi.NewRouter()
	New(policy.NewGate(identities, src, src, policy.WithLogger(log)), log).Register(r)
	return r
}

func authorize(t *testing.T, router http.Handler, body any) *policy.Decision {
	t.Helper()
	rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/policy/authorize", body))
	testutil.AssertStatusOK(t, rr)
	return testutil.UnmarshalResponse[policy.Decision](t, rr)
}

func TestAuthorizeByActorGroup(t *testing.T) {
	pending := newRouter(t, models.StatusPending)
	d := authorize(t, pending, map[string]string{"actorRef": "merchant-42", "identityId": identityID})
	assert.False(t, d.Allowed)
	assert.Equal(t, "not_verified:pending", d.Reason)

	d = authorize(t, pending, map[string]string{"actorRef": "walk-in", "identityId": identityID})
	assert.True(t, d.Allowed)
	assert.Equal(t, "policy_not_required", d.Reason)

	verified := newRouter(t, models.StatusVerified)
	d = authorize(t, verified, map[string]string{"actorRef": "merchant-42", "identityId": identityID})
	assert.True(t, d.Allowed)
	assert.Equal(t, "verified", d.Reason)

	d = authorize(t, verified, map[string]string{"actorRef": "merchant-42", "identityId": "ID-20250301-FFFFFFFF"})
	assert.False(t, d.Allowed)
	assert.Equal(t, "no_identity", d.Reason)
}

func TestAuthorizeWithExplicitFlag(t *testing.T) {
	router := newRouter(t, models.StatusSuspended)
	d := authorize(t, router, map[string]any{"identityId": identityID, "requiresVerification": true})
	assert.Equal(t, policy.Decision{Allowed: false, Reason: "not_verified:suspended"}, *d)

	d = authorize(t, router, map[string]any{"identityId": identityID, "requiresVerification": false})
	assert.Equal(t, policy.Decision{Allowed: true, Reason: "policy_not_required"}, *d)
}

func TestAuthorizeRequiresActorOrFlag(t *testing.T) {
	router := newRouter(t, models.StatusPending)
	rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/policy/authorize", map[string]string{"identityId": identityID}))
	testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "validation_error")
}
