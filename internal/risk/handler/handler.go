package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"canon/internal/audit"
	"canon/internal/identity/models"
	"canon/internal/risk/engine"
	"canon/internal/risk/service"
	dErrors "canon/pkg/domain-errors"
	"canon/pkg/platform/httputil"
	"canon/pkg/requestcontext"
)

// Service defines the risk operations exposed over HTTP.
type Service interface {
	GetRiskBreakdown(ctx context.Context, id string) (*service.Breakdown, error)
	ScoreAndPersist(ctx context.Context, id string, signals engine.Signals, actor audit.Actor) (*models.Identity, error)
	Reassess(ctx context.Context, id string, actor audit.Actor) (*models.Identity, error)
	UpdateRiskOverride(ctx context.Context, id string, score int, actor audit.Actor) (*models.Identity, error)
}

// Handler wires risk endpoints to the risk service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a risk handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts the read endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Get("/identities/{id}/risk", h.HandleGetBreakdown)
}

// RegisterOperator mounts the endpoints that write scores. The router is
// expected to carry the operator auth middleware.
func (h *Handler) RegisterOperator(r chi.Router) {
	r.Put("/identities/{id}/risk/override", h.HandleOverride)
	r.Post("/identities/{id}/risk/assess", h.HandleAssess)
}

// HandleGetBreakdown handles GET /identities/{id}/risk requests.
func (h *Handler) HandleGetBreakdown(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	id, err := identityID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	b, err := h.service.GetRiskBreakdown(ctx, id)
	if err != nil {
		h.logger.ErrorContext(ctx, "risk breakdown failed",
			"request_id", requestID,
			"identity_id", id,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toBreakdownResponse(b))
}

// HandleOverride handles PUT /identities/{id}/risk/override requests.
func (h *Handler) HandleOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	actor, id, ok := h.operatorAndID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[OverrideRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	updated, err := h.service.UpdateRiskOverride(ctx, id, *req.Score, actor)
	if err != nil {
		h.logger.ErrorContext(ctx, "risk override failed",
			"request_id", requestID,
			"identity_id", id,
			"score", *req.Score,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "risk overridden",
		"request_id", requestID,
		"identity_id", id,
		"operator", actor.ID,
		"score", updated.RiskScore,
		"tier", updated.TrustTier,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, toRiskResponse(updated))
}

// HandleAssess handles POST /identities/{id}/risk/assess requests. A body
// with signals scores those signals; an empty body reassesses from state.
func (h *Handler) HandleAssess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	actor, id, ok := h.operatorAndID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[AssessRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	var (
		updated *models.Identity
		err     error
	)
	if req.Signals != nil {
		updated, err = h.service.ScoreAndPersist(ctx, id, *req.Signals, actor)
	} else {
		updated, err = h.service.Reassess(ctx, id, actor)
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "risk assessment failed",
			"request_id", requestID,
			"identity_id", id,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "risk assessed",
		"request_id", requestID,
		"identity_id", id,
		"explicit_signals", req.Signals != nil,
		"score", updated.RiskScore,
		"tier", updated.TrustTier,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, toRiskResponse(updated))
}

func (h *Handler) operatorAndID(w http.ResponseWriter, r *http.Request) (audit.Actor, string, bool) {
	operator := requestcontext.Operator(r.Context())
	if operator == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "operator authentication required"))
		return audit.Actor{}, "", false
	}
	id, err := identityID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return audit.Actor{}, "", false
	}
	return audit.Operator(operator), id, true
}

func identityID(r *http.Request) (string, error) {
	id, err := models.ParseIdentityID(chi.URLParam(r, "id"))
	if err != nil {
		return "", dErrors.New(dErrors.CodeNotFound, "identity not found")
	}
	return id, nil
}
