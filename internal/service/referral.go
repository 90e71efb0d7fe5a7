// Package service contains the business logic layer.
//
// This file implements the referral service for issuing, validating and
// redeeming referral codes, and for the stats and leaderboard views.
package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/DukeRupert/crewgate/internal/domain"
	"github.com/DukeRupert/crewgate/internal/metrics"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// MaxCodeAttempts bounds the retries when a generated code collides.
	MaxCodeAttempts = 5

	DefaultLeaderboardLimit = 10
	MaxLeaderboardLimit     = 100
)

// ValidationResult is the outcome of checking a code a user typed in.
type ValidationResult struct {
	Valid  bool
	Code   string
	Reason string
}

// RedeemParams contains the parameters for redeeming a referral code.
type RedeemParams struct {
	Code       string
	RedeemerID uuid.UUID
	IPAddress  string
}

// RedemptionResult reports the referrer's standing after a redemption.
// Rewards are facts for the billing collaborator; nothing is applied here.
type RedemptionResult struct {
	ReferrerID    uuid.UUID
	ReferralCount int
	Tier          domain.ReferralTier
	RewardDays    int
	BonusDays     int // only set when the redemption crossed into Tier
	TierChanged   bool
}

// ReferralStats is a user's referral standing.
type ReferralStats struct {
	Code            string // empty until the user asks for a code
	ReferralCount   int
	Tier            domain.ReferralTier
	RewardDays      int
	NextTier        *domain.ReferralTier
	RemainingToNext int
	ReferredBy      *uuid.UUID
	RedeemedAt      *time.Time
}

// =============================================================================
// Interface Definition
// =============================================================================

// ReferralService defines operations for the referral program.
type ReferralService interface {
	// Generate returns the user's referral code, issuing one on first call.
	Generate(ctx context.Context, userID uuid.UUID) (domain.ReferralCode, error)

	// Validate checks the format of input and that the code exists.
	// A well-formed but unknown code is reported as invalid, not as an error.
	Validate(ctx context.Context, input string) (ValidationResult, error)

	// Redeem credits the code's owner with one referral from the redeemer.
	Redeem(ctx context.Context, params RedeemParams) (RedemptionResult, error)

	// Stats returns the user's referral standing.
	Stats(ctx context.Context, userID uuid.UUID) (ReferralStats, error)

	// Leaderboard returns the top referrers. limit <= 0 means the default.
	Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error)
}

// ReferralConfig configures the referral service.
type ReferralConfig struct {
	// Random is the source for new codes. Nil means crypto/rand.
	Random io.Reader
	Clock  Clock
}

// =============================================================================
// Implementation
// =============================================================================

type referralService struct {
	store  ReferralStore
	random io.Reader
	clock  Clock
	logger *slog.Logger
}

// NewReferralService creates a new ReferralService.
func NewReferralService(store ReferralStore, cfg ReferralConfig, logger *slog.Logger) ReferralService {
	return &referralService{
		store:  store,
		random: cfg.Random,
		clock:  cfg.Clock,
		logger: logger,
	}
}

// Generate returns the user's existing code or issues a new one.
func (s *referralService) Generate(ctx context.Context, userID uuid.UUID) (domain.ReferralCode, error) {
	const op = "referral.generate"

	existing, err := s.store.GetReferralCodeByUser(ctx, userID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.ReferralCode{}, storageError(err, op)
	}

	for attempt := 1; attempt <= MaxCodeAttempts; attempt++ {
		code, err := domain.GenerateReferralCode(s.random)
		if err != nil {
			return domain.ReferralCode{}, domain.Internal(err, op, "failed to generate referral code")
		}

		taken, err := s.store.CodeExists(ctx, code)
		if err != nil {
			return domain.ReferralCode{}, storageError(err, op)
		}
		if taken {
			s.logger.Debug("Referral code collision", "attempt", attempt)
			continue
		}

		rc, err := s.store.CreateReferralCode(ctx, userID, code)
		if errors.Is(err, domain.ErrCodeTaken) {
			s.logger.Debug("Referral code collision on insert", "attempt", attempt)
			continue
		}
		if err != nil {
			return domain.ReferralCode{}, storageError(err, op)
		}

		// A concurrent call may have issued the user's code first.
		if rc.Code == code {
			metrics.ReferralCodesIssued.Inc()
			s.logger.Info("Referral code issued", "user_id", userID, "code", rc.Code)
		}
		return rc, nil
	}

	return domain.ReferralCode{}, domain.Internal(
		errors.New("referral code space exhausted"), op,
		"failed to allocate a unique referral code",
	)
}

// Validate reports whether input names an existing referral code.
func (s *referralService) Validate(ctx context.Context, input string) (ValidationResult, error) {
	const op = "referral.validate"

	code, err := domain.ValidateReferralCode(input)
	if err != nil {
		return ValidationResult{Reason: domain.ErrorDetail(err).Reason}, nil
	}

	exists, err := s.store.CodeExists(ctx, code)
	if err != nil {
		return ValidationResult{}, storageError(err, op)
	}
	if !exists {
		return ValidationResult{Code: code, Reason: domain.CodeReasonNotFound}, nil
	}

	return ValidationResult{Valid: true, Code: code}, nil
}

// Redeem records the redemption and returns the referrer's new standing.
func (s *referralService) Redeem(ctx context.Context, params RedeemParams) (RedemptionResult, error) {
	const op = "referral.redeem"

	code, err := domain.ValidateReferralCode(params.Code)
	if err != nil {
		metrics.Redemption("invalid")
		return RedemptionResult{}, err
	}

	owner, err := s.store.GetReferralCode(ctx, code)
	if errors.Is(err, domain.ErrNotFound) {
		metrics.Redemption("invalid")
		return RedemptionResult{}, domain.InvalidReferralCode(op, domain.CodeReasonNotFound)
	}
	if err != nil {
		metrics.Redemption(metrics.ResultError)
		return RedemptionResult{}, storageError(err, op)
	}

	// A user who has already redeemed is told so, whichever code they try.
	_, err = s.store.GetRedemptionByRedeemer(ctx, params.RedeemerID)
	switch {
	case err == nil:
		metrics.Redemption("already_redeemed")
		return RedemptionResult{}, domain.AlreadyRedeemed(op)
	case !errors.Is(err, domain.ErrNotFound):
		metrics.Redemption(metrics.ResultError)
		return RedemptionResult{}, storageError(err, op)
	}

	if owner.UserID == params.RedeemerID {
		metrics.Redemption("self_referral")
		return RedemptionResult{}, domain.SelfReferral(op)
	}

	count, err := s.store.RedeemReferral(ctx, domain.Redemption{
		Code:       code,
		ReferrerID: owner.UserID,
		RedeemerID: params.RedeemerID,
		RedeemedAt: s.clock.now(),
		IPAddress:  params.IPAddress,
	})
	switch {
	case errors.Is(err, domain.ErrAlreadyRedeemed):
		metrics.Redemption("already_redeemed")
		return RedemptionResult{}, domain.AlreadyRedeemed(op)
	case errors.Is(err, domain.ErrSelfReferral):
		metrics.Redemption("self_referral")
		return RedemptionResult{}, domain.SelfReferral(op)
	case err != nil:
		metrics.Redemption(metrics.ResultError)
		return RedemptionResult{}, storageError(err, op)
	}

	tier := domain.CalculateReferralTier(count)
	result := RedemptionResult{
		ReferrerID:    owner.UserID,
		ReferralCount: count,
		Tier:          tier,
		RewardDays:    tier.RewardDays(),
		TierChanged:   tier != domain.CalculateReferralTier(count-1),
	}
	if result.TierChanged {
		result.BonusDays = tier.BonusDays()
	}

	metrics.Redemption("redeemed")
	s.logger.Info("Referral code redeemed",
		"referrer_id", owner.UserID,
		"redeemer_id", params.RedeemerID,
		"referral_count", count,
		"tier", tier,
		"tier_changed", result.TierChanged,
	)

	return result, nil
}

// Stats reads the user's code and redemption concurrently.
func (s *referralService) Stats(ctx context.Context, userID uuid.UUID) (ReferralStats, error) {
	const op = "referral.stats"

	var (
		code       domain.ReferralCode
		hasCode    bool
		redemption domain.Redemption
		redeemed   bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rc, err := s.store.GetReferralCodeByUser(gctx, userID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		code, hasCode = rc, true
		return nil
	})
	g.Go(func() error {
		r, err := s.store.GetRedemptionByRedeemer(gctx, userID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		redemption, redeemed = r, true
		return nil
	})
	if err := g.Wait(); err != nil {
		return ReferralStats{}, storageError(err, op)
	}

	stats := ReferralStats{}
	if hasCode {
		stats.Code = code.Code
		stats.ReferralCount = code.ReferralCount
	}
	stats.Tier = domain.CalculateReferralTier(stats.ReferralCount)
	stats.RewardDays = stats.Tier.RewardDays()
	if next, remaining, ok := domain.NextReferralTier(stats.ReferralCount); ok {
		stats.NextTier = &next
		stats.RemainingToNext = remaining
	}
	if redeemed {
		referrer := redemption.ReferrerID
		at := redemption.RedeemedAt
		stats.ReferredBy = &referrer
		stats.RedeemedAt = &at
	}

	return stats, nil
}

// Leaderboard returns up to limit referrers in leaderboard order.
func (s *referralService) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	const op = "referral.leaderboard"

	limit = NormalizeLeaderboardLimit(limit)

	entries, err := s.store.Leaderboard(ctx, limit)
	if err != nil {
		return nil, storageError(err, op)
	}

	domain.SortLeaderboard(entries)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].DisplayName = PublicDisplayName(entries[i].DisplayName)
	}

	return entries, nil
}

// NormalizeLeaderboardLimit applies the default and the maximum.
func NormalizeLeaderboardLimit(limit int) int {
	if limit <= 0 {
		return DefaultLeaderboardLimit
	}
	if limit > MaxLeaderboardLimit {
		return MaxLeaderboardLimit
	}
	return limit
}

// PublicDisplayName shortens a display name to "First L." for public lists.
func PublicDisplayName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "Anonymous"
	}

	// Casers carry state and are not safe to share between goroutines.
	caser := cases.Title(language.English)
	first := caser.String(fields[0])
	if len(fields) == 1 {
		return first
	}

	last := []rune(fields[len(fields)-1])
	return first + " " + strings.ToUpper(string(last[0])) + "."
}
