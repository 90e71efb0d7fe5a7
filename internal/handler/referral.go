// Package handler contains the JSON HTTP handlers for the crewgate service.
//
// This file implements the referral program endpoints.
//
// Routes:
//   - POST /api/referrals/code          -> Code (requires user)
//   - GET  /api/referrals/validate      -> Validate (public)
//   - POST /api/referrals/redeem        -> Redeem (requires user)
//   - GET  /api/referrals/stats         -> Stats (requires user)
//   - GET  /api/referrals/leaderboard   -> Leaderboard (public)
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

// ReferralHandler serves the referral program.
type ReferralHandler struct {
	referrals service.ReferralService
	clientIP  func(*http.Request) string
	logger    *slog.Logger
}

// NewReferralHandler creates a new ReferralHandler. clientIP extracts the
// caller's address recorded with a redemption; nil means RemoteAddr.
func NewReferralHandler(referrals service.ReferralService, clientIP func(*http.Request) string, logger *slog.Logger) *ReferralHandler {
	if clientIP == nil {
		clientIP = func(r *http.Request) string { return r.RemoteAddr }
	}
	return &ReferralHandler{
		referrals: referrals,
		clientIP:  clientIP,
		logger:    logger,
	}
}

// RegisterRoutes registers referral routes. requireReferral gates the routes
// that act on the caller's own referral standing.
func (h *ReferralHandler) RegisterRoutes(
	mux *http.ServeMux,
	requireReferral func(http.Handler) http.Handler,
) {
	mux.Handle("POST /api/referrals/code", requireReferral(http.HandlerFunc(h.Code)))
	mux.HandleFunc("GET /api/referrals/validate", h.Validate)
	mux.Handle("POST /api/referrals/redeem", requireReferral(http.HandlerFunc(h.Redeem)))
	mux.Handle("GET /api/referrals/stats", requireReferral(http.HandlerFunc(h.Stats)))
	mux.HandleFunc("GET /api/referrals/leaderboard", h.Leaderboard)
}

// =============================================================================
// Response Types
// =============================================================================

// CodeResponse is returned by POST /api/referrals/code.
type CodeResponse struct {
	Code          string    `json:"code"`
	ReferralCount int       `json:"referral_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// ValidateResponse is returned by GET /api/referrals/validate.
type ValidateResponse struct {
	Valid  bool   `json:"valid"`
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// RedeemRequest is the body of POST /api/referrals/redeem.
type RedeemRequest struct {
	Code string `json:"code" validate:"required,max=32"`
}

// RedeemResponse is returned by POST /api/referrals/redeem.
type RedeemResponse struct {
	Redeemed bool `json:"redeemed"`
}

// StatsResponse is returned by GET /api/referrals/stats.
type StatsResponse struct {
	Code            string     `json:"code,omitempty"`
	ReferralCount   int        `json:"referral_count"`
	Tier            string     `json:"tier"`
	RewardDays      int        `json:"reward_days"`
	NextTier        string     `json:"next_tier,omitempty"`
	RemainingToNext int        `json:"remaining_to_next,omitempty"`
	ReferredBy      bool       `json:"referred_by"`
	RedeemedAt      *time.Time `json:"redeemed_at,omitempty"`
}

// LeaderboardEntryResponse is one row of GET /api/referrals/leaderboard.
type LeaderboardEntryResponse struct {
	Rank          int    `json:"rank"`
	DisplayName   string `json:"display_name"`
	ReferralCount int    `json:"referral_count"`
	Tier          string `json:"tier"`
}

// =============================================================================
// Handlers
// =============================================================================

// Code returns the caller's referral code, issuing one on first request.
func (h *ReferralHandler) Code(w http.ResponseWriter, r *http.Request) {
	p := auth.GetPrincipalFromRequest(r)

	code, err := h.referrals.Generate(r.Context(), p.ID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, CodeResponse{
		Code:          code.Code,
		ReferralCount: code.ReferralCount,
		CreatedAt:     code.CreatedAt,
	})
}

// Validate checks a typed-in code. Malformed and unknown codes are a 200
// with valid=false; only storage failures are errors.
func (h *ReferralHandler) Validate(w http.ResponseWriter, r *http.Request) {
	result, err := h.referrals.Validate(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, ValidateResponse{
		Valid:  result.Valid,
		Code:   result.Code,
		Reason: result.Reason,
	})
}

// Redeem credits the code's owner with a referral from the caller.
// The reward facts stay server-side; the redeemer only learns it worked.
func (h *ReferralHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	const op = "ReferralHandler.Redeem"
	p := auth.GetPrincipalFromRequest(r)

	var req RedeemRequest
	if err := decodeJSON(r, op, &req); err != nil {
		ValidationErrorResponse(w, r, h.logger, err)
		return
	}

	_, err := h.referrals.Redeem(r.Context(), service.RedeemParams{
		Code:       req.Code,
		RedeemerID: p.ID,
		IPAddress:  h.clientIP(r),
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, RedeemResponse{Redeemed: true})
}

// Stats returns the caller's referral standing.
func (h *ReferralHandler) Stats(w http.ResponseWriter, r *http.Request) {
	p := auth.GetPrincipalFromRequest(r)

	stats, err := h.referrals.Stats(r.Context(), p.ID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	resp := StatsResponse{
		Code:          stats.Code,
		ReferralCount: stats.ReferralCount,
		Tier:          stats.Tier.String(),
		RewardDays:    stats.RewardDays,
		ReferredBy:    stats.ReferredBy != nil,
		RedeemedAt:    stats.RedeemedAt,
	}
	if stats.NextTier != nil {
		resp.NextTier = stats.NextTier.String()
		resp.RemainingToNext = stats.RemainingToNext
	}
	writeJSON(w, http.StatusOK, resp)
}

// Leaderboard returns the top referrers with public display names.
func (h *ReferralHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	const op = "ReferralHandler.Leaderboard"

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			ValidationErrorResponse(w, r, h.logger,
				domain.NewValidationError(op, "limit", "Must be an integer"))
			return
		}
		limit = n
	}

	entries, err := h.referrals.Leaderboard(r.Context(), limit)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	resp := make([]LeaderboardEntryResponse, len(entries))
	for i, e := range entries {
		resp[i] = LeaderboardEntryResponse{
			Rank:          e.Rank,
			DisplayName:   e.DisplayName,
			ReferralCount: e.ReferralCount,
			Tier:          e.Tier.String(),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": resp})
}
