// Package service contains the business logic layer.
//
// This file implements the entitlement service: the single entry point that
// decides whether a principal may perform an operation.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/DukeRupert/crewgate/internal/domain"
	"github.com/DukeRupert/crewgate/internal/metrics"
)

// =============================================================================
// Interface Definition
// =============================================================================

// EntitlementService decides access to protected operations.
//
// A nil error means Allow. Every decision recomputes the effective tier from
// the principal; nothing is cached between calls.
type EntitlementService interface {
	// CheckEntitlement applies the operation catalog to the principal.
	// Metered operations also check the daily quota.
	CheckEntitlement(ctx context.Context, p domain.Principal, op domain.OperationKind) (domain.Entitlement, error)

	// CheckQuota reports today's usage, refusing once the limit is reached.
	CheckQuota(ctx context.Context, p domain.Principal) (domain.UsageCounter, error)

	// ConsumeQuota records one metered query.
	ConsumeQuota(ctx context.Context, p domain.Principal) (domain.UsageCounter, error)

	// CheckResourceLimit decides whether one more resource of kind fits.
	CheckResourceLimit(ctx context.Context, p domain.Principal, kind domain.ResourceKind, current int64) (domain.ResourceDecision, error)
}

// EntitlementConfig holds the policy tables used by the service.
type EntitlementConfig struct {
	Operations map[domain.OperationKind]domain.OperationPolicy
	Caps       domain.ResourceCaps
	Clock      Clock
}

// =============================================================================
// Implementation
// =============================================================================

type entitlementService struct {
	quota      QuotaService
	operations map[domain.OperationKind]domain.OperationPolicy
	caps       domain.ResourceCaps
	clock      Clock
	logger     *slog.Logger
}

// NewEntitlementService creates a new EntitlementService.
func NewEntitlementService(quota QuotaService, cfg EntitlementConfig, logger *slog.Logger) EntitlementService {
	ops := cfg.Operations
	if ops == nil {
		ops = domain.Operations
	}
	caps := cfg.Caps
	if caps == nil {
		caps = domain.DefaultResourceCaps()
	}
	return &entitlementService{
		quota:      quota,
		operations: ops,
		caps:       caps,
		clock:      cfg.Clock,
		logger:     logger,
	}
}

// CheckEntitlement decides whether p may perform op.
func (s *entitlementService) CheckEntitlement(ctx context.Context, p domain.Principal, op domain.OperationKind) (domain.Entitlement, error) {
	const errOp = "entitlement.check"

	ent := domain.ValidateSubscription(p, s.clock.now())
	if ent.Downgraded() {
		metrics.Downgraded(string(ent.Reason))
		s.logger.Info("Subscription downgraded for request",
			"user_id", p.ID,
			"stored_tier", ent.StoredTier,
			"reason", ent.Reason,
		)
	}

	policy, ok := s.operations[op]
	if !ok {
		metrics.EntitlementDenied(string(op))
		return ent, domain.Forbidden(errOp, "Unknown operation")
	}

	if policy.RequiresAuth && !p.IsAuthenticated() {
		metrics.EntitlementDenied(string(op))
		return ent, domain.Unauthenticated(errOp)
	}

	if !ent.EffectiveTier.AtLeast(policy.MinTier) {
		reason := domain.ReasonTierRequired
		if ent.Downgraded() {
			reason = string(ent.Reason)
		}
		metrics.EntitlementDenied(string(op))
		return ent, domain.SubscriptionInactive(errOp, reason)
	}

	if policy.Metered {
		if _, err := s.quota.Check(ctx, p); err != nil {
			s.recordFailure(op, err)
			return ent, err
		}
	}

	metrics.EntitlementAllowed(string(op))
	return ent, nil
}

// CheckQuota delegates to the quota service.
func (s *entitlementService) CheckQuota(ctx context.Context, p domain.Principal) (domain.UsageCounter, error) {
	return s.quota.Check(ctx, p)
}

// ConsumeQuota delegates to the quota service.
func (s *entitlementService) ConsumeQuota(ctx context.Context, p domain.Principal) (domain.UsageCounter, error) {
	return s.quota.Consume(ctx, p)
}

// CheckResourceLimit applies the resource caps at the effective tier.
func (s *entitlementService) CheckResourceLimit(ctx context.Context, p domain.Principal, kind domain.ResourceKind, current int64) (domain.ResourceDecision, error) {
	const op = "entitlement.check_resource_limit"

	tier := p.EffectiveTier(s.clock.now())
	decision := domain.CanAdd(s.caps, tier, kind, current)
	if !decision.CanAdd {
		s.logger.Info("Resource limit reached",
			"user_id", p.ID,
			"tier", tier,
			"resource", kind,
			"current", decision.CurrentCount,
			"limit", int64(decision.MaxAllowed),
		)
		return decision, domain.ResourceLimitReached(op, kind, decision.MaxAllowed)
	}

	return decision, nil
}

func (s *entitlementService) recordFailure(op domain.OperationKind, err error) {
	if errors.Is(err, domain.ErrStorageUnavailable) {
		metrics.EntitlementErrored(string(op))
		return
	}
	metrics.EntitlementDenied(string(op))
}
