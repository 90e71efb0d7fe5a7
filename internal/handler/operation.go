// Package handler contains the JSON HTTP handlers for the crewgate service.
//
// This file implements the protected operation endpoints. Entitlement and
// quota are enforced by middleware before these handlers run.
//
// Routes:
//   - POST /api/lookups -> Lookup (metered)
//   - POST /api/exports -> Export (pro)
package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/DukeRupert/crewgate/internal/auth"
	"github.com/DukeRupert/crewgate/internal/domain"
	"github.com/DukeRupert/crewgate/internal/service"
)

// QuotaMeter spends one unit of the daily quota for the request's principal.
// It returns QuotaExceeded, recording nothing, when no unit is left.
type QuotaMeter interface {
	Spend(r *http.Request) error
}

// OperationHandler serves the protected operations.
type OperationHandler struct {
	quota  service.QuotaService
	meter  QuotaMeter
	logger *slog.Logger
}

// NewOperationHandler creates a new OperationHandler.
func NewOperationHandler(quota service.QuotaService, meter QuotaMeter, logger *slog.Logger) *OperationHandler {
	return &OperationHandler{
		quota:  quota,
		meter:  meter,
		logger: logger,
	}
}

// RegisterRoutes registers operation routes. require returns the
// entitlement middleware for an operation.
func (h *OperationHandler) RegisterRoutes(
	mux *http.ServeMux,
	require func(domain.OperationKind) func(http.Handler) http.Handler,
	limitAnonymous func(http.Handler) http.Handler,
) {
	mux.Handle("POST /api/lookups", limitAnonymous(require(domain.OperationLookup)(http.HandlerFunc(h.Lookup))))
	mux.Handle("POST /api/exports", require(domain.OperationExport)(http.HandlerFunc(h.Export)))
}

// LookupRequest is the body of POST /api/lookups.
type LookupRequest struct {
	Query string `json:"query" validate:"required,max=200"`
}

// LookupResponse is returned by POST /api/lookups.
type LookupResponse struct {
	Query     string `json:"query"`
	Remaining *int64 `json:"remaining"` // null when unlimited or anonymous
}

// Lookup answers a metered query. The quota unit is spent only after the
// body validates, so a rejected request costs nothing.
func (h *OperationHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	const op = "OperationHandler.Lookup"
	p := auth.GetPrincipalFromRequest(r)

	var req LookupRequest
	if err := decodeJSON(r, op, &req); err != nil {
		ValidationErrorResponse(w, r, h.logger, err)
		return
	}

	if err := h.meter.Spend(r); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	resp := LookupResponse{Query: strings.TrimSpace(req.Query)}
	if p.IsAuthenticated() {
		counter, err := h.quota.Usage(r.Context(), p)
		if err != nil {
			ErrorResponse(w, r, h.logger, err)
			return
		}
		if !counter.Limit.IsUnlimited() {
			remaining := int64(counter.Limit.Remaining(counter.Count))
			resp.Remaining = &remaining
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// ExportRequest is the body of POST /api/exports.
type ExportRequest struct {
	Format string `json:"format" validate:"required,oneof=csv json"`
}

// ExportResponse is returned by POST /api/exports.
type ExportResponse struct {
	Format string `json:"format"`
	Status string `json:"status"`
}

// Export accepts an export request from a pro principal.
func (h *OperationHandler) Export(w http.ResponseWriter, r *http.Request) {
	const op = "OperationHandler.Export"
	p := auth.GetPrincipalFromRequest(r)

	var req ExportRequest
	if err := decodeJSON(r, op, &req); err != nil {
		ValidationErrorResponse(w, r, h.logger, err)
		return
	}

	h.logger.Info("Export accepted", "user_id", p.ID, "format", req.Format)
	writeJSON(w, http.StatusAccepted, ExportResponse{Format: req.Format, Status: "accepted"})
}
