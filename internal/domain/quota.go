// Package domain contains core business types and interfaces.
//
// This file defines the tier limit tables: the daily query quota and the
// per-resource ownership caps.
package domain

import "strings"

// Limit is a maximum count. Unlimited is a sentinel that never compares as reached.
type Limit int64

// Unlimited marks a limit that can never be reached.
const Unlimited Limit = -1

// IsUnlimited reports whether l is the unlimited sentinel (any negative value).
func (l Limit) IsUnlimited() bool {
	return l < 0
}

// Allows reports whether one more unit fits when count units are in use.
func (l Limit) Allows(count int64) bool {
	if l.IsUnlimited() {
		return true
	}
	return count < int64(l)
}

// Remaining returns the units left, or Unlimited.
func (l Limit) Remaining(count int64) Limit {
	if l.IsUnlimited() {
		return Unlimited
	}
	if r := int64(l) - count; r > 0 {
		return Limit(r)
	}
	return 0
}

// QuotaPolicy maps each tier to its daily query limit.
type QuotaPolicy struct {
	DailyQueries map[Tier]Limit
}

// DefaultQuotaPolicy returns the default daily limits: free users get 10
// queries per day, paid tiers are unlimited.
func DefaultQuotaPolicy() QuotaPolicy {
	return QuotaPolicy{
		DailyQueries: map[Tier]Limit{
			TierFree:       10,
			TierPro:        Unlimited,
			TierEnterprise: Unlimited,
		},
	}
}

// DailyLimit returns the daily query limit for a tier, defaulting to the
// free tier's limit for tiers missing from the table.
func (p QuotaPolicy) DailyLimit(tier Tier) Limit {
	if l, ok := p.DailyQueries[tier]; ok {
		return l
	}
	if l, ok := p.DailyQueries[TierFree]; ok {
		return l
	}
	return 0
}

// UsageCounter is the derived view of a principal's daily usage.
type UsageCounter struct {
	Count int64
	Limit Limit
	Tier  Tier
	Date  Date
}

// Allowed reports whether one more query fits today.
func (u UsageCounter) Allowed() bool {
	return u.Limit.Allows(u.Count)
}

// ResourceKind identifies a capped resource.
type ResourceKind string

const (
	ResourceCountySubscriptions ResourceKind = "county_subscriptions"
	ResourceAgencies            ResourceKind = "agencies"
	ResourceStateSubscriptions  ResourceKind = "state_subscriptions"
	ResourceBookmarks           ResourceKind = "bookmarks"
)

// Label returns a human-readable name for messages.
func (k ResourceKind) Label() string {
	return strings.ReplaceAll(string(k), "_", " ")
}

// ParseResourceKind returns the kind named by s.
func ParseResourceKind(s string) (ResourceKind, bool) {
	switch k := ResourceKind(s); k {
	case ResourceCountySubscriptions, ResourceAgencies, ResourceStateSubscriptions, ResourceBookmarks:
		return k, true
	}
	return "", false
}

// ResourceCaps maps a resource kind to its per-tier ownership cap.
type ResourceCaps map[ResourceKind]map[Tier]Limit

// DefaultResourceCaps returns the default ownership caps.
func DefaultResourceCaps() ResourceCaps {
	return ResourceCaps{
		ResourceCountySubscriptions: {TierFree: 1, TierPro: Unlimited, TierEnterprise: Unlimited},
		ResourceAgencies:            {TierFree: 0, TierPro: 0, TierEnterprise: Unlimited},
		ResourceStateSubscriptions:  {TierFree: 0, TierPro: 1, TierEnterprise: Unlimited},
		ResourceBookmarks:           {TierFree: 5, TierPro: Unlimited, TierEnterprise: Unlimited},
	}
}

// Max returns the cap for kind at tier. Unknown kinds or tiers get 0.
func (c ResourceCaps) Max(kind ResourceKind, tier Tier) Limit {
	byTier, ok := c[kind]
	if !ok {
		return 0
	}
	l, ok := byTier[tier]
	if !ok {
		return 0
	}
	return l
}

// ResourceDecision is the result of a cap check.
type ResourceDecision struct {
	CanAdd       bool
	CurrentCount int64
	MaxAllowed   Limit
}

// CanAdd decides whether one more resource of kind fits for the effective tier.
// It is pure: the resource's own store performs the add.
func CanAdd(caps ResourceCaps, tier Tier, kind ResourceKind, current int64) ResourceDecision {
	if current < 0 {
		current = 0
	}
	max := caps.Max(kind, tier)
	return ResourceDecision{
		CanAdd:       max.Allows(current),
		CurrentCount: current,
		MaxAllowed:   max,
	}
}
