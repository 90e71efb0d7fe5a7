// Package service contains the business logic layer.
//
// Services apply the entitlement rules in package domain to state read from
// the storage collaborator. They are responsible for:
// - Computing the effective tier per request
// - Enforcing quota and resource caps
// - Issuing and redeeming referral codes
// - Error translation (storage errors -> domain errors)
package service

import (
	"context"
	"time"

	"github.com/DukeRupert/crewgate/internal/domain"
	"github.com/google/uuid"
)

// =============================================================================
// Storage collaborator
// =============================================================================

// Storage implementations return domain errors: domain.ErrNotFound for
// missing rows, domain.ErrAlreadyRedeemed / domain.ErrSelfReferral for
// refused redemptions, domain.ErrCodeTaken for code collisions and
// domain.ErrStorageUnavailable for everything else.

// PrincipalStore loads principals for the auth resolver.
type PrincipalStore interface {
	GetPrincipal(ctx context.Context, id uuid.UUID) (domain.Principal, error)
	GetPrincipalBySessionHash(ctx context.Context, tokenHash string) (domain.Principal, error)
}

// UsageStore owns the daily usage counter.
type UsageStore interface {
	// GetUsage returns the stored counter and the date it was last written.
	GetUsage(ctx context.Context, id uuid.UUID) (count int64, lastQueryDate *domain.Date, err error)

	// IncrementUsage atomically increments the counter for today when the
	// count for today is below limit, resetting a counter left over from an
	// earlier day. applied is false when the limit refused the increment.
	IncrementUsage(ctx context.Context, id uuid.UUID, today domain.Date, limit domain.Limit) (count int64, applied bool, err error)
}

// ReferralStore owns referral codes and redemptions.
type ReferralStore interface {
	GetReferralCodeByUser(ctx context.Context, userID uuid.UUID) (domain.ReferralCode, error)
	GetReferralCode(ctx context.Context, code string) (domain.ReferralCode, error)
	CodeExists(ctx context.Context, code string) (bool, error)

	// CreateReferralCode stores code for the user. If the user already has a
	// code, the existing one is returned. A code owned by someone else fails
	// with domain.ErrCodeTaken.
	CreateReferralCode(ctx context.Context, userID uuid.UUID, code string) (domain.ReferralCode, error)

	// RedeemReferral records the redemption and increments the referrer's
	// count in one atomic step, returning the new count.
	RedeemReferral(ctx context.Context, r domain.Redemption) (int, error)

	GetRedemptionByRedeemer(ctx context.Context, redeemerID uuid.UUID) (domain.Redemption, error)

	// Leaderboard returns up to limit referrers with at least one referral.
	Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error)
}

// Store is the full storage collaborator.
type Store interface {
	PrincipalStore
	UsageStore
	ReferralStore
}

// Clock returns the current time. Services take one so tests can pin "today".
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}
