// Package service contains the business logic layer.
//
// This file implements the quota service for checking and enforcing the
// daily query limit based on the effective subscription tier.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/DukeRupert/crewgate/internal/domain"
	"github.com/DukeRupert/crewgate/internal/metrics"
)

// =============================================================================
// Interface Definition
// =============================================================================

// QuotaService defines operations for checking and consuming the daily quota.
type QuotaService interface {
	// Check reports the principal's usage for today without changing it.
	// Returns QuotaExceeded if no further query fits.
	Check(ctx context.Context, p domain.Principal) (domain.UsageCounter, error)

	// Consume records one query for today. The increment is refused, and
	// QuotaExceeded returned, when the limit is already reached.
	Consume(ctx context.Context, p domain.Principal) (domain.UsageCounter, error)

	// Usage returns today's counter view, whether or not the limit is reached.
	Usage(ctx context.Context, p domain.Principal) (domain.UsageCounter, error)
}

// QuotaConfig holds the quota policy and the reference location whose
// midnight resets the daily counter.
type QuotaConfig struct {
	Policy   domain.QuotaPolicy
	Location *time.Location
	Clock    Clock
}

// =============================================================================
// Implementation
// =============================================================================

type quotaService struct {
	store  UsageStore
	policy domain.QuotaPolicy
	loc    *time.Location
	clock  Clock
	logger *slog.Logger
}

// NewQuotaService creates a new QuotaService.
func NewQuotaService(store UsageStore, cfg QuotaConfig, logger *slog.Logger) QuotaService {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	policy := cfg.Policy
	if policy.DailyQueries == nil {
		policy = domain.DefaultQuotaPolicy()
	}
	return &quotaService{
		store:  store,
		policy: policy,
		loc:    loc,
		clock:  cfg.Clock,
		logger: logger,
	}
}

// Usage returns today's counter view for the principal.
func (s *quotaService) Usage(ctx context.Context, p domain.Principal) (domain.UsageCounter, error) {
	const op = "quota.usage"

	now := s.clock.now()
	counter := domain.UsageCounter{
		Tier: p.EffectiveTier(now),
		Date: domain.DateOf(now, s.loc),
	}
	counter.Limit = s.policy.DailyLimit(counter.Tier)

	// Anonymous principals have no stored counter.
	if !p.IsAuthenticated() {
		return counter, nil
	}

	count, last, err := s.store.GetUsage(ctx, p.ID)
	if err != nil {
		return domain.UsageCounter{}, storageError(err, op)
	}

	stored := p
	stored.QueryCountToday = count
	stored.LastQueryDate = last
	counter.Count = stored.UsageOn(counter.Date)

	return counter, nil
}

// Check returns QuotaExceeded when no further query fits today.
func (s *quotaService) Check(ctx context.Context, p domain.Principal) (domain.UsageCounter, error) {
	const op = "quota.check"

	counter, err := s.Usage(ctx, p)
	if err != nil {
		return counter, err
	}

	if !counter.Allowed() {
		s.exceeded(p, counter)
		return counter, domain.QuotaExceeded(op, counter.Limit)
	}

	return counter, nil
}

// Consume records one query against today's counter.
func (s *quotaService) Consume(ctx context.Context, p domain.Principal) (domain.UsageCounter, error) {
	const op = "quota.consume"

	now := s.clock.now()
	counter := domain.UsageCounter{
		Tier: p.EffectiveTier(now),
		Date: domain.DateOf(now, s.loc),
	}
	counter.Limit = s.policy.DailyLimit(counter.Tier)

	if !p.IsAuthenticated() {
		return counter, nil
	}

	count, applied, err := s.store.IncrementUsage(ctx, p.ID, counter.Date, counter.Limit)
	if err != nil {
		return domain.UsageCounter{}, storageError(err, op)
	}
	counter.Count = count

	if !applied {
		s.exceeded(p, counter)
		return counter, domain.QuotaExceeded(op, counter.Limit)
	}

	return counter, nil
}

func (s *quotaService) exceeded(p domain.Principal, counter domain.UsageCounter) {
	metrics.QuotaDenied(counter.Tier.String())
	s.logger.Info("Daily query quota exceeded",
		"user_id", p.ID,
		"tier", counter.Tier,
		"used", counter.Count,
		"limit", int64(counter.Limit),
	)
}

// storageError converts a storage collaborator error into a domain error.
// Errors that are already domain errors pass through unchanged.
func storageError(err error, op string) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NotFound(op, "record", "")
	}
	return domain.StorageUnavailable(err, op)
}
