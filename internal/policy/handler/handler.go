package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"canon/internal/policy"
	dErrors "canon/pkg/domain-errors"
	"canon/pkg/platform/httputil"
	"canon/pkg/requestcontext"
)

// Gate defines the decisions exposed over HTTP.
type Gate interface {
	Authorize(ctx context.Context, identityID string, requiresVerification bool) policy.Decision
	AuthorizeActor(ctx context.Context, actorRef, identityID string) policy.Decision
}

// AuthorizeRequest is the HTTP request body for POST /policy/authorize. An
// explicit requiresVerification skips the actor's group policy lookup.
type AuthorizeRequest struct {
	ActorRef             string `json:"actorRef"`
	IdentityID           string `json:"identityId"`
	RequiresVerification *bool  `json:"requiresVerification,omitempty"`
}

func (r *AuthorizeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.ActorRef = strings.TrimSpace(r.ActorRef)
	r.IdentityID = strings.TrimSpace(r.IdentityID)
	if r.ActorRef == "" && r.RequiresVerification == nil {
		return dErrors.New(dErrors.CodeValidation, "actorRef or requiresVerification is required")
	}
	return nil
}

// Handler wires the policy gate to HTTP.
type Handler struct {
	gate   Gate
	logger *slog.Logger
}

func New(gate Gate, logger *slog.Logger) *Handler {
	return &Handler{gate: gate, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/policy/authorize", h.HandleAuthorize)
}

// HandleAuthorize handles POST /policy/authorize. Denials are decisions, not
// errors, so the response is always 200 once the body is valid.
func (h *Handler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[AuthorizeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	var d policy.Decision
	if req.RequiresVerification != nil {
		d = h.gate.Authorize(ctx, req.IdentityID, *req.RequiresVerification)
	} else {
		d = h.gate.AuthorizeActor(ctx, req.ActorRef, req.IdentityID)
	}

	h.logger.InfoContext(ctx, "policy decision",
		"request_id", requestID,
		"actor_ref", req.ActorRef,
		"identity_id", req.IdentityID,
		"allowed", d.Allowed,
		"reason", d.Reason,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, d)
}
