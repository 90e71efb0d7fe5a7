package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"time"

	"github.com/DukeRupert/crewgate/internal/domain"
	"github.com/DukeRupert/crewgate/internal/metrics"
	"github.com/DukeRupert/crewgate/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sony/gobreaker/v2"
	"github.com/sqlc-dev/pqtype"
)

// PostgreSQL error codes the store maps to domain errors.
const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
)

// PostgresConfig holds the circuit breaker settings.
type PostgresConfig struct {
	MaxFailures uint32        // consecutive failures before the breaker opens
	Timeout     time.Duration // how long the breaker stays open
}

// =============================================================================
// Postgres Implementation
// =============================================================================

// Postgres implements service.Store on top of the sqlc queries. Every call
// goes through a circuit breaker; while it is open, calls fail fast with
// StorageUnavailable. Not-found rows and constraint violations are answers,
// not faults, and never count against the breaker.
type Postgres struct {
	db      *sql.DB
	queries *repository.Queries
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
}

// NewPostgres creates a Postgres store.
func NewPostgres(db *sql.DB, cfg PostgresConfig, logger *slog.Logger) *Postgres {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	p := &Postgres{
		db:      db,
		queries: repository.New(db),
		logger:  logger,
	}
	p.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "postgres",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: isAnswer,
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState(int(to))
			logger.Warn("Storage circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	metrics.BreakerState(int(gobreaker.StateClosed))

	return p
}

// isAnswer reports whether err is a result from a healthy database.
func isAnswer(err error) bool {
	if err == nil || errors.Is(err, sql.ErrNoRows) || errors.Is(err, context.Canceled) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation || pgErr.Code == pgCheckViolation
	}
	return false
}

// execute runs fn through the breaker.
func execute[T any](p *Postgres, fn func() (T, error)) (T, error) {
	var zero T
	v, err := p.breaker.Execute(func() (any, error) {
		r, err := fn()
		return r, err
	})
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

// storageErr maps a database fault or an open breaker to StorageUnavailable.
func storageErr(err error, op string) error {
	return domain.StorageUnavailable(err, op)
}

// =============================================================================
// Principals
// =============================================================================

// GetPrincipal loads a user by ID.
func (p *Postgres) GetPrincipal(ctx context.Context, id uuid.UUID) (domain.Principal, error) {
	const op = "store.get_principal"

	user, err := execute(p, func() (repository.User, error) {
		return p.queries.GetUserByID(ctx, id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Principal{}, domain.NotFound(op, "user", id.String())
	}
	if err != nil {
		return domain.Principal{}, storageErr(err, op)
	}
	return principalFromRow(user), nil
}

// GetPrincipalBySessionHash loads the owner of an unexpired session.
func (p *Postgres) GetPrincipalBySessionHash(ctx context.Context, tokenHash string) (domain.Principal, error) {
	const op = "store.get_principal_by_session"

	user, err := execute(p, func() (repository.User, error) {
		return p.queries.GetUserBySessionTokenHash(ctx, tokenHash)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Principal{}, domain.NotFound(op, "session", "")
	}
	if err != nil {
		return domain.Principal{}, storageErr(err, op)
	}
	return principalFromRow(user), nil
}

// principalFromRow converts a repository row. Unknown tiers read as free and
// unknown statuses are kept verbatim, which IsHonored rejects.
func principalFromRow(u repository.User) domain.Principal {
	return domain.Principal{
		ID:                  u.ID,
		DisplayName:         u.DisplayName,
		Tier:                domain.TierOrFree(u.Tier),
		SubscriptionStatus:  domain.SubscriptionStatus(domain.NullStringValue(u.SubscriptionStatus)),
		SubscriptionEndDate: domain.NullTimeValue(u.SubscriptionEndDate),
		QueryCountToday:     int64(u.QueryCountToday),
		LastQueryDate:       domain.NullDateValue(u.LastQueryDate),
		CreatedAt:           u.CreatedAt,
	}
}

// NewUser contains the fields for creating a user.
type NewUser struct {
	Email               string
	DisplayName         string
	Tier                domain.Tier
	SubscriptionStatus  domain.SubscriptionStatus
	SubscriptionEndDate *time.Time
}

// CreateUser inserts a user. Billing owns these fields in production; this is
// used to seed development databases.
func (p *Postgres) CreateUser(ctx context.Context, u NewUser) (domain.Principal, error) {
	const op = "store.create_user"

	end := sql.NullTime{}
	if u.SubscriptionEndDate != nil {
		end = sql.NullTime{Time: *u.SubscriptionEndDate, Valid: true}
	}

	row, err := execute(p, func() (repository.User, error) {
		return p.queries.CreateUser(ctx, repository.CreateUserParams{
			Email:               u.Email,
			DisplayName:         u.DisplayName,
			Tier:                u.Tier.String(),
			SubscriptionStatus:  domain.ToNullString(string(u.SubscriptionStatus)),
			SubscriptionEndDate: end,
		})
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return domain.Principal{}, domain.Errorf(domain.ECONFLICT, op, "A user with email %q already exists", u.Email)
		}
		return domain.Principal{}, storageErr(err, op)
	}
	return principalFromRow(row), nil
}

// CreateSession stores a session token hash for the user.
func (p *Postgres) CreateSession(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error {
	const op = "store.create_session"

	_, err := execute(p, func() (struct{}, error) {
		return struct{}{}, p.queries.CreateSession(ctx, repository.CreateSessionParams{
			UserID:    userID,
			TokenHash: tokenHash,
			ExpiresAt: expiresAt,
		})
	})
	if err != nil {
		return storageErr(err, op)
	}
	return nil
}

// DeleteExpiredSessions removes sessions past their expiry.
func (p *Postgres) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	const op = "store.delete_expired_sessions"

	n, err := execute(p, func() (int64, error) {
		return p.queries.DeleteExpiredSessions(ctx)
	})
	if err != nil {
		return 0, storageErr(err, op)
	}
	return n, nil
}

// =============================================================================
// Usage
// =============================================================================

// GetUsage returns the stored counter and its date.
func (p *Postgres) GetUsage(ctx context.Context, id uuid.UUID) (int64, *domain.Date, error) {
	const op = "store.get_usage"

	row, err := execute(p, func() (repository.GetUsageRow, error) {
		return p.queries.GetUsage(ctx, id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, domain.NotFound(op, "user", id.String())
	}
	if err != nil {
		return 0, nil, storageErr(err, op)
	}
	return int64(row.QueryCountToday), domain.NullDateValue(row.LastQueryDate), nil
}

// IncrementUsage runs the conditional increment. When the update matches no
// row, the counter is re-read to tell a refused increment from a missing user.
func (p *Postgres) IncrementUsage(ctx context.Context, id uuid.UUID, today domain.Date, limit domain.Limit) (int64, bool, error) {
	const op = "store.increment_usage"

	dailyLimit := int32(-1)
	if !limit.IsUnlimited() {
		if limit > math.MaxInt32 {
			return 0, false, domain.Internal(fmt.Errorf("daily limit %d exceeds int32", limit), op, "Daily limit is out of range.")
		}
		dailyLimit = int32(limit)
	}

	row, err := execute(p, func() (repository.IncrementUsageRow, error) {
		return p.queries.IncrementUsage(ctx, repository.IncrementUsageParams{
			Today:      today.Time(time.UTC),
			ID:         id,
			DailyLimit: dailyLimit,
		})
	})
	if err == nil {
		return int64(row.QueryCountToday), true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, storageErr(err, op)
	}

	count, last, err := p.GetUsage(ctx, id)
	if err != nil {
		return 0, false, err
	}
	stored := domain.Principal{QueryCountToday: count, LastQueryDate: last}
	return stored.UsageOn(today), false, nil
}

// =============================================================================
// Referrals
// =============================================================================

// GetReferralCodeByUser returns the user's code.
func (p *Postgres) GetReferralCodeByUser(ctx context.Context, userID uuid.UUID) (domain.ReferralCode, error) {
	const op = "store.get_referral_code_by_user"

	row, err := execute(p, func() (repository.ReferralCode, error) {
		return p.queries.GetReferralCodeByUser(ctx, userID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ReferralCode{}, domain.NotFound(op, "referral code", userID.String())
	}
	if err != nil {
		return domain.ReferralCode{}, storageErr(err, op)
	}
	return referralCodeFromRow(row), nil
}

// GetReferralCode returns the code record.
func (p *Postgres) GetReferralCode(ctx context.Context, code string) (domain.ReferralCode, error) {
	const op = "store.get_referral_code"

	row, err := execute(p, func() (repository.ReferralCode, error) {
		return p.queries.GetReferralCode(ctx, code)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ReferralCode{}, domain.NotFound(op, "referral code", code)
	}
	if err != nil {
		return domain.ReferralCode{}, storageErr(err, op)
	}
	return referralCodeFromRow(row), nil
}

// CodeExists reports whether code is issued.
func (p *Postgres) CodeExists(ctx context.Context, code string) (bool, error) {
	const op = "store.code_exists"

	exists, err := execute(p, func() (bool, error) {
		return p.queries.ReferralCodeExists(ctx, code)
	})
	if err != nil {
		return false, storageErr(err, op)
	}
	return exists, nil
}

// CreateReferralCode inserts the user's code. The insert does nothing when
// the user already has a code, in which case the existing one is returned.
func (p *Postgres) CreateReferralCode(ctx context.Context, userID uuid.UUID, code string) (domain.ReferralCode, error) {
	const op = "store.create_referral_code"

	row, err := execute(p, func() (repository.ReferralCode, error) {
		return p.queries.CreateReferralCode(ctx, repository.CreateReferralCodeParams{
			UserID: userID,
			Code:   code,
		})
	})
	if errors.Is(err, sql.ErrNoRows) {
		return p.GetReferralCodeByUser(ctx, userID)
	}
	if err != nil {
		if violation(err, pgUniqueViolation) {
			return domain.ReferralCode{}, fmt.Errorf("%s: %w", op, domain.ErrCodeTaken)
		}
		return domain.ReferralCode{}, storageErr(err, op)
	}
	return referralCodeFromRow(row), nil
}

// RedeemReferral inserts the redemption and increments the referrer's count
// in one transaction. The unique index on redeemer_id refuses a second
// redemption by the same user.
func (p *Postgres) RedeemReferral(ctx context.Context, r domain.Redemption) (int, error) {
	const op = "store.redeem_referral"

	count, err := execute(p, func() (int32, error) {
		tx, err := p.db.BeginTx(ctx, nil)
		if err != nil {
			return 0, fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback()

		qtx := p.queries.WithTx(tx)

		if _, err := qtx.CreateRedemption(ctx, repository.CreateRedemptionParams{
			Code:       r.Code,
			ReferrerID: r.ReferrerID,
			RedeemerID: r.RedeemerID,
			IpAddress:  inetFromString(r.IPAddress),
		}); err != nil {
			return 0, err
		}

		count, err := qtx.IncrementReferralCount(ctx, r.ReferrerID)
		if err != nil {
			return 0, err
		}

		if err := tx.Commit(); err != nil {
			return 0, fmt.Errorf("commit redemption: %w", err)
		}
		return count, nil
	})
	switch {
	case err == nil:
		return int(count), nil
	case violation(err, pgUniqueViolation):
		return 0, fmt.Errorf("%s: %w", op, domain.ErrAlreadyRedeemed)
	case violation(err, pgCheckViolation):
		return 0, fmt.Errorf("%s: %w", op, domain.ErrSelfReferral)
	case errors.Is(err, sql.ErrNoRows):
		return 0, domain.NotFound(op, "referral code", r.Code)
	default:
		return 0, storageErr(err, op)
	}
}

// GetRedemptionByRedeemer returns the redemption made by the user.
func (p *Postgres) GetRedemptionByRedeemer(ctx context.Context, redeemerID uuid.UUID) (domain.Redemption, error) {
	const op = "store.get_redemption"

	row, err := execute(p, func() (repository.ReferralRedemption, error) {
		return p.queries.GetRedemptionByRedeemer(ctx, redeemerID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Redemption{}, domain.NotFound(op, "redemption", redeemerID.String())
	}
	if err != nil {
		return domain.Redemption{}, storageErr(err, op)
	}

	red := domain.Redemption{
		Code:       row.Code,
		ReferrerID: row.ReferrerID,
		RedeemerID: row.RedeemerID,
		RedeemedAt: row.RedeemedAt,
	}
	if row.IpAddress.Valid {
		red.IPAddress = row.IpAddress.IPNet.IP.String()
	}
	return red, nil
}

// Leaderboard returns up to limit referrers with at least one referral.
func (p *Postgres) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	const op = "store.leaderboard"

	rows, err := execute(p, func() ([]repository.ListLeaderboardRow, error) {
		return p.queries.ListLeaderboard(ctx, int32(limit))
	})
	if err != nil {
		return nil, storageErr(err, op)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, domain.LeaderboardEntry{
			UserID:        row.UserID,
			DisplayName:   row.DisplayName,
			ReferralCount: int(row.ReferralCount),
			CreatedAt:     row.CreatedAt,
		})
	}
	return entries, nil
}

// =============================================================================
// Helpers
// =============================================================================

func referralCodeFromRow(row repository.ReferralCode) domain.ReferralCode {
	return domain.ReferralCode{
		Code:          row.Code,
		UserID:        row.UserID,
		ReferralCount: int(row.ReferralCount),
		CreatedAt:     row.CreatedAt,
	}
}

// violation reports whether err is a PostgreSQL error with the given code.
func violation(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// inetFromString converts a client IP to an inet value. Unparseable input
// is stored as NULL.
func inetFromString(s string) pqtype.Inet {
	ip := net.ParseIP(s)
	if ip == nil {
		return pqtype.Inet{}
	}
	bits := 128
	if v4 := ip.To4(); v4 != nil {
		ip = v4
		bits = 32
	}
	return pqtype.Inet{
		IPNet: net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)},
		Valid: true,
	}
}
