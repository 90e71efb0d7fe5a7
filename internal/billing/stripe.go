// Package billing maps Stripe subscription state onto the principal fields
// the entitlement rules read. The billing integration is the only writer of
// those fields; this package is the shared vocabulary between the two.
package billing

import (
	"strings"
	"time"

	"github.com/DukeRupert/crewgate/internal/domain"
	"github.com/stripe/stripe-go/v79"
)

// PriceConfig holds the Stripe price IDs for each paid tier. Monthly and
// yearly prices of the same tier are listed together.
type PriceConfig struct {
	ProPriceIDs        []string
	EnterprisePriceIDs []string
}

// ParsePriceIDs splits a comma-separated list of price IDs.
func ParsePriceIDs(s string) []string {
	var ids []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Mapper converts Stripe subscription objects into principal fields.
type Mapper struct {
	priceToTier map[string]domain.Tier // maps price ID -> tier
}

// NewMapper creates a Mapper. A price listed under both tiers maps to the
// higher one.
func NewMapper(prices PriceConfig) *Mapper {
	priceToTier := make(map[string]domain.Tier)
	for _, id := range prices.ProPriceIDs {
		priceToTier[id] = domain.TierPro
	}
	for _, id := range prices.EnterprisePriceIDs {
		priceToTier[id] = domain.TierEnterprise
	}
	return &Mapper{priceToTier: priceToTier}
}

// TierForPriceID returns the tier sold under priceID. Unknown prices grant
// nothing and map to the free tier.
func (m *Mapper) TierForPriceID(priceID string) domain.Tier {
	if t, ok := m.priceToTier[priceID]; ok {
		return t
	}
	return domain.TierFree
}

// StatusFromStripe converts a Stripe subscription status. Statuses with no
// counterpart collapse to the closest status that is not honored.
func StatusFromStripe(s stripe.SubscriptionStatus) domain.SubscriptionStatus {
	switch s {
	case stripe.SubscriptionStatusActive:
		return domain.SubscriptionStatusActive
	case stripe.SubscriptionStatusTrialing:
		return domain.SubscriptionStatusTrialing
	case stripe.SubscriptionStatusPastDue:
		return domain.SubscriptionStatusPastDue
	case stripe.SubscriptionStatusUnpaid:
		return domain.SubscriptionStatusUnpaid
	case stripe.SubscriptionStatusIncomplete:
		return domain.SubscriptionStatusIncomplete
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return domain.SubscriptionStatusCanceled
	case stripe.SubscriptionStatusPaused:
		return domain.SubscriptionStatusUnpaid
	default:
		return domain.SubscriptionStatusNone
	}
}

// SubscriptionState is the principal's billing view of one subscription.
type SubscriptionState struct {
	Tier    domain.Tier
	Status  domain.SubscriptionStatus
	EndDate *time.Time
}

// StateFromSubscription reads the tier from the subscription's highest priced
// item, the status, and the end of the current period. A scheduled
// cancellation before the period end wins.
func (m *Mapper) StateFromSubscription(sub *stripe.Subscription) SubscriptionState {
	if sub == nil {
		return SubscriptionState{Tier: domain.TierFree}
	}

	state := SubscriptionState{
		Tier:   domain.TierFree,
		Status: StatusFromStripe(sub.Status),
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil || item.Price == nil {
				continue
			}
			if t := m.TierForPriceID(item.Price.ID); t > state.Tier {
				state.Tier = t
			}
		}
	}

	end := sub.CurrentPeriodEnd
	if sub.CancelAt > 0 && (end == 0 || sub.CancelAt < end) {
		end = sub.CancelAt
	}
	if sub.EndedAt > 0 {
		end = sub.EndedAt
	}
	if end > 0 {
		t := time.Unix(end, 0).UTC()
		state.EndDate = &t
	}
	return state
}
