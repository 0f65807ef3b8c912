package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"canon/internal/audit"
	"canon/internal/identity/models"
	dErrors "canon/pkg/domain-errors"
	"canon/pkg/platform/httputil"
	"canon/pkg/requestcontext"
)

// DefaultHighRiskThreshold applies when the caller omits threshold. Listing is
// inclusive, so the default starts at the first score of the low trust tier.
const DefaultHighRiskThreshold = 71

// Service defines the identity operations exposed over HTTP.
type Service interface {
	Resolve(ctx context.Context, req models.ResolveRequest) (*models.ResolveResult, error)
	GetStatus(ctx context.Context, id string) (*models.Identity, error)
	UpdateStatus(ctx context.Context, id string, next models.VerificationStatus, actor audit.Actor) (*models.Identity, error)
	GetHistory(ctx context.Context, id string, afterSeq int64, limit int) ([]audit.Event, error)
	Search(ctx context.Context, filter models.SearchFilter) ([]*models.Identity, error)
	ListHighRisk(ctx context.Context, threshold, limit int) ([]*models.Identity, error)
}

// Handler wires identity endpoints to the identity service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs an identity handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts the read and resolve endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Post("/identities/resolve", h.HandleResolve)
	r.Get("/identities", h.HandleSearch)
	r.Get("/identities/high-risk", h.HandleListHighRisk)
	r.Get("/identities/{id}/status", h.HandleGetStatus)
	r.Get("/identities/{id}/history", h.HandleGetHistory)
}

// RegisterOperator mounts endpoints that change verification state. The
// router is expected to carry the operator auth middleware.
func (h *Handler) RegisterOperator(r chi.Router) {
	r.Patch("/identities/{id}/status", h.HandleUpdateStatus)
}

// HandleResolve handles POST /identities/resolve requests.
func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[models.ResolveRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.service.Resolve(ctx, *req)
	if err != nil {
		h.logger.ErrorContext(ctx, "identity resolution failed",
			"request_id", requestID,
			"actor_ref", req.ActorRef,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "identity resolved",
		"request_id", requestID,
		"identity_id", result.Identity.ID,
		"is_new", result.IsNew,
		"client", requestcontext.ClientSummary(ctx),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	status := http.StatusOK
	if result.IsNew {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, result.Response())
}

// HandleGetStatus handles GET /identities/{id}/status requests.
func (h *Handler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	id, err := IdentityIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	identity, err := h.service.GetStatus(ctx, id)
	if err != nil {
		h.logFailure(ctx, "get status failed", requestID, id, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, identity.StatusResponse())
}

// HandleUpdateStatus handles PATCH /identities/{id}/status requests.
func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	operator := requestcontext.Operator(ctx)
	if operator == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "operator authentication required"))
		return
	}

	id, err := IdentityIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[models.UpdateStatusRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	updated, err := h.service.UpdateStatus(ctx, id, req.Parsed, audit.Operator(operator))
	if err != nil {
		h.logFailure(ctx, "status update failed", requestID, id, err)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "identity status updated",
		"request_id", requestID,
		"identity_id", id,
		"operator", operator,
		"status", updated.VerificationStatus,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, updated.StatusResponse())
}

// HandleGetHistory handles GET /identities/{id}/history?after=&limit= requests.
func (h *Handler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	id, err := IdentityIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	query := r.URL.Query()
	after, err := queryInt64(query.Get("after"), "after")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	limit, err := queryInt(query.Get("limit"), "limit")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	events, err := h.service.GetHistory(ctx, id, after, limit)
	if err != nil {
		h.logFailure(ctx, "get history failed", requestID, id, err)
		httputil.WriteError(w, err)
		return
	}

	resp := models.HistoryResponse{IdentityID: id, Events: events}
	if limit <= 0 {
		limit = audit.DefaultPageSize
	}
	if n := len(events); n > 0 && n == min(limit, models.MaxSearchLimit) {
		resp.NextAfter = events[n-1].Seq
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleSearch handles GET /identities with optional status, trustTier,
// minScore, maxScore, id and limit filters.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	filter, err := searchFilterFromQuery(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	identities, err := h.service.Search(ctx, filter)
	if err != nil {
		h.logger.ErrorContext(ctx, "identity search failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.NewListResponse(identities))
}

// HandleListHighRisk handles GET /identities/high-risk?threshold=&limit= requests.
func (h *Handler) HandleListHighRisk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	query := r.URL.Query()
	threshold, err := queryInt(query.Get("threshold"), "threshold")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if query.Get("threshold") == "" {
		threshold = DefaultHighRiskThreshold
	}
	limit, err := queryInt(query.Get("limit"), "limit")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	identities, err := h.service.ListHighRisk(ctx, threshold, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "high risk listing failed",
			"request_id", requestID,
			"threshold", threshold,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.NewListResponse(identities))
}

func (h *Handler) logFailure(ctx context.Context, msg, requestID, id string, err error) {
	// Not-found and validation outcomes are caller mistakes, not service failures.
	if dErrors.KindOf(err) == dErrors.KindInfrastructure {
		h.logger.ErrorContext(ctx, msg,
			"request_id", requestID,
			"identity_id", id,
			"error", err,
		)
		return
	}
	h.logger.InfoContext(ctx, msg,
		"request_id", requestID,
		"identity_id", id,
		"error", err,
	)
}

// IdentityIDParam reads the {id} path parameter. A malformed identifier can
// never name a stored identity, so it is reported as not found.
func IdentityIDParam(r *http.Request) (string, error) {
	id, err := models.ParseIdentityID(chi.URLParam(r, "id"))
	if err != nil {
		return "", dErrors.New(dErrors.CodeNotFound, "identity not found")
	}
	return id, nil
}

func searchFilterFromQuery(r *http.Request) (models.SearchFilter, error) {
	query := r.URL.Query()
	var filter models.SearchFilter
	var err error

	if raw := query.Get("status"); raw != "" {
		if filter.Status, err = models.ParseVerificationStatus(raw); err != nil {
			return filter, err
		}
	}
	if raw := query.Get("trustTier"); raw != "" {
		if filter.Tier, err = models.ParseTrustTier(raw); err != nil {
			return filter, err
		}
	}
	if filter.MinScore, err = queryOptionalInt(query.Get("minScore"), "minScore"); err != nil {
		return filter, err
	}
	if filter.MaxScore, err = queryOptionalInt(query.Get("maxScore"), "maxScore"); err != nil {
		return filter, err
	}
	filter.ID = query.Get("id")
	if filter.Limit, err = queryInt(query.Get("limit"), "limit"); err != nil {
		return filter, err
	}
	return filter, nil
}

func queryInt(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeValidation, name+" must be an integer")
	}
	return v, nil
}

func queryOptionalInt(raw, name string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := queryInt(raw, name)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func queryInt64(raw, name string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeValidation, name+" must be an integer")
	}
	return v, nil
}
