package domain

import "time"

// DowngradeReason explains why a paid tier was not honored for a request.
type DowngradeReason string

const (
	ReasonNone           DowngradeReason = ""
	ReasonExpired        DowngradeReason = "expired"
	ReasonInactiveStatus DowngradeReason = "inactive_status"

	// ReasonTierRequired is used when the principal never had the tier an
	// operation needs, as opposed to having lost it.
	ReasonTierRequired = "tier_required"
)

// Entitlement is the per-request view of a principal's paid standing.
// It is computed fresh for every request and never cached.
type Entitlement struct {
	StoredTier    Tier
	EffectiveTier Tier
	Valid         bool
	Reason        DowngradeReason
}

// Downgraded reports whether the effective tier is below the stored tier.
func (e Entitlement) Downgraded() bool {
	return e.EffectiveTier < e.StoredTier
}

// ValidateSubscription decides whether the principal's paid tier is honored
// at now. An invalid subscription downgrades the effective tier to free for
// the rest of the request; the stored tier is left untouched.
//
// Expiry is checked before status: a past end date downgrades even when the
// status still reads active, since status can lag between billing syncs.
func ValidateSubscription(p Principal, now time.Time) Entitlement {
	if p.Anonymous || p.Tier <= TierFree {
		return Entitlement{StoredTier: TierFree, EffectiveTier: TierFree, Valid: true}
	}

	e := Entitlement{StoredTier: p.Tier, EffectiveTier: p.Tier, Valid: true}

	if p.SubscriptionEndDate != nil && !p.SubscriptionEndDate.After(now) {
		e.Valid = false
		e.Reason = ReasonExpired
	} else if !p.SubscriptionStatus.IsHonored() {
		e.Valid = false
		e.Reason = ReasonInactiveStatus
	}

	if !e.Valid {
		e.EffectiveTier = TierFree
	}
	return e
}

// EffectiveTier is shorthand for ValidateSubscription(p, now).EffectiveTier.
func (p Principal) EffectiveTier(now time.Time) Tier {
	return ValidateSubscription(p, now).EffectiveTier
}
