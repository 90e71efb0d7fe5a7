// Package handler contains the JSON HTTP handlers for the crewgate service.
//
// This file implements the usage and resource limit endpoints.
//
// Routes:
//   - GET /api/usage                         -> Usage
//   - GET /api/limits/{resource}?current=N   -> ResourceLimit
//
// Both routes require an authenticated principal.
package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/DukeRupert/crewgate/internal/auth"
	"github.com/DukeRupert/crewgate/internal/domain"
	"github.com/DukeRupert/crewgate/internal/service"
)

// UsageHandler reports quota usage and resource caps.
type UsageHandler struct {
	quota        service.QuotaService
	entitlements service.EntitlementService
	loc          *time.Location
	logger       *slog.Logger
}

// NewUsageHandler creates a new UsageHandler. loc is the quota reference
// location whose midnight resets the counter.
func NewUsageHandler(quota service.QuotaService, entitlements service.EntitlementService, loc *time.Location, logger *slog.Logger) *UsageHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &UsageHandler{
		quota:        quota,
		entitlements: entitlements,
		loc:          loc,
		logger:       logger,
	}
}

// RegisterRoutes registers usage routes with the provided middleware.
func (h *UsageHandler) RegisterRoutes(
	mux *http.ServeMux,
	requireUser func(http.Handler) http.Handler,
) {
	mux.Handle("GET /api/usage", requireUser(http.HandlerFunc(h.Usage)))
	mux.Handle("GET /api/limits/{resource}", requireUser(http.HandlerFunc(h.ResourceLimit)))
}

// UsageResponse is the counter view returned by GET /api/usage.
type UsageResponse struct {
	Tier      string    `json:"tier"`
	Count     int64     `json:"count"`
	Limit     *int64    `json:"limit"` // null when unlimited
	Remaining *int64    `json:"remaining"`
	Unlimited bool      `json:"unlimited"`
	Date      string    `json:"date"`
	ResetsAt  time.Time `json:"resets_at"`
}

// Usage returns today's query usage for the principal.
func (h *UsageHandler) Usage(w http.ResponseWriter, r *http.Request) {
	p := auth.GetPrincipalFromRequest(r)

	counter, err := h.quota.Usage(r.Context(), p)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, newUsageResponse(counter, h.loc))
}

func newUsageResponse(c domain.UsageCounter, loc *time.Location) UsageResponse {
	resp := UsageResponse{
		Tier:      c.Tier.String(),
		Count:     c.Count,
		Unlimited: c.Limit.IsUnlimited(),
		Date:      c.Date.String(),
		ResetsAt:  c.Date.Next().Time(loc),
	}
	if !resp.Unlimited {
		limit := int64(c.Limit)
		remaining := int64(c.Limit.Remaining(c.Count))
		resp.Limit = &limit
		resp.Remaining = &remaining
	}
	return resp
}

// ResourceLimitResponse is the cap decision returned by GET /api/limits/{resource}.
type ResourceLimitResponse struct {
	Resource     string `json:"resource"`
	CanAdd       bool   `json:"can_add"`
	CurrentCount int64  `json:"current_count"`
	MaxAllowed   *int64 `json:"max_allowed"` // null when unlimited
}

// ResourceLimit decides whether the principal can add one more resource.
// A refusal is reported as a 403 with the cap in the error body.
func (h *UsageHandler) ResourceLimit(w http.ResponseWriter, r *http.Request) {
	const op = "UsageHandler.ResourceLimit"
	p := auth.GetPrincipalFromRequest(r)

	kind, ok := domain.ParseResourceKind(r.PathValue("resource"))
	if !ok {
		NotFoundResponse(w, r, h.logger)
		return
	}

	var current int64
	if raw := r.URL.Query().Get("current"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			ValidationErrorResponse(w, r, h.logger,
				domain.NewValidationError(op, "current", "Must be a non-negative integer"))
			return
		}
		current = n
	}

	decision, err := h.entitlements.CheckResourceLimit(r.Context(), p, kind, current)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	resp := ResourceLimitResponse{
		Resource:     string(kind),
		CanAdd:       decision.CanAdd,
		CurrentCount: decision.CurrentCount,
	}
	if !decision.MaxAllowed.IsUnlimited() {
		max := int64(decision.MaxAllowed)
		resp.MaxAllowed = &max
	}
	writeJSON(w, http.StatusOK, resp)
}
