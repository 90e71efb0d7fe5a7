package billing

import (
	"testing"
	"time"

	"github.com/DukeRupert/crewgate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
)

func testMapper() *Mapper {
	return NewMapper(PriceConfig{
		ProPriceIDs:        []string{"price_pro_monthly", "price_pro_yearly"},
		EnterprisePriceIDs: []string{"price_ent_yearly"},
	})
}

func TestParsePriceIDs(t *testing.T) {
	assert.Equal(t, []string{"price_a", "price_b"}, ParsePriceIDs(" price_a, ,price_b,"))
	assert.Nil(t, ParsePriceIDs(""))
}

func TestMapper_TierForPriceID(t *testing.T) {
	m := testMapper()
	assert.Equal(t, domain.TierPro, m.TierForPriceID("price_pro_yearly"))
	assert.Equal(t, domain.TierEnterprise, m.TierForPriceID("price_ent_yearly"))
	assert.Equal(t, domain.TierFree, m.TierForPriceID("price_unknown"))
	assert.Equal(t, domain.TierFree, m.TierForPriceID(""))
}

func TestStatusFromStripe(t *testing.T) {
	tests := map[stripe.SubscriptionStatus]domain.SubscriptionStatus{
		stripe.SubscriptionStatusActive:            domain.SubscriptionStatusActive,
		stripe.SubscriptionStatusTrialing:          domain.SubscriptionStatusTrialing,
		stripe.SubscriptionStatusPastDue:           domain.SubscriptionStatusPastDue,
		stripe.SubscriptionStatusUnpaid:            domain.SubscriptionStatusUnpaid,
		stripe.SubscriptionStatusIncomplete:        domain.SubscriptionStatusIncomplete,
		stripe.SubscriptionStatusIncompleteExpired: domain.SubscriptionStatusCanceled,
		stripe.SubscriptionStatusCanceled:          domain.SubscriptionStatusCanceled,
		stripe.SubscriptionStatusPaused:            domain.SubscriptionStatusUnpaid,
		stripe.SubscriptionStatus("brand_new"):     domain.SubscriptionStatusNone,
	}
	for in, want := range tests {
		assert.Equal(t, want, StatusFromStripe(in), "status %q", in)
	}
}

func TestStatusFromStripe_OnlyActiveAndTrialingHonored(t *testing.T) {
	for _, s := range []stripe.SubscriptionStatus{
		stripe.SubscriptionStatusPastDue,
		stripe.SubscriptionStatusUnpaid,
		stripe.SubscriptionStatusIncomplete,
		stripe.SubscriptionStatusCanceled,
		stripe.SubscriptionStatusPaused,
	} {
		assert.False(t, StatusFromStripe(s).IsHonored(), "status %q", s)
	}
}

func TestMapper_StateFromSubscription(t *testing.T) {
	m := testMapper()
	periodEnd := time.Date(2026, 4, 14, 0, 0, 0, 0, time.UTC)

	sub := &stripe.Subscription{
		Status:           stripe.SubscriptionStatusActive,
		CurrentPeriodEnd: periodEnd.Unix(),
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{Price: &stripe.Price{ID: "price_addon"}},
				{Price: &stripe.Price{ID: "price_pro_monthly"}},
				nil,
			},
		},
	}

	state := m.StateFromSubscription(sub)
	assert.Equal(t, domain.TierPro, state.Tier)
	assert.Equal(t, domain.SubscriptionStatusActive, state.Status)
	require.NotNil(t, state.EndDate)
	assert.True(t, state.EndDate.Equal(periodEnd))

	// The state drives the same decision the validator makes per request.
	p := domain.Principal{Tier: state.Tier, SubscriptionStatus: state.Status, SubscriptionEndDate: state.EndDate}
	assert.Equal(t, domain.TierPro, p.EffectiveTier(periodEnd.Add(-time.Hour)))
	assert.Equal(t, domain.TierFree, p.EffectiveTier(periodEnd))
}

func TestMapper_StateFromSubscription_ScheduledCancel(t *testing.T) {
	m := testMapper()
	periodEnd := time.Date(2026, 4, 14, 0, 0, 0, 0, time.UTC)
	cancelAt := periodEnd.AddDate(0, 0, -10)

	state := m.StateFromSubscription(&stripe.Subscription{
		Status:           stripe.SubscriptionStatusActive,
		CurrentPeriodEnd: periodEnd.Unix(),
		CancelAt:         cancelAt.Unix(),
	})
	require.NotNil(t, state.EndDate)
	assert.True(t, state.EndDate.Equal(cancelAt))
	assert.Equal(t, domain.TierFree, state.Tier)
}

func TestMapper_StateFromSubscription_Nil(t *testing.T) {
	state := testMapper().StateFromSubscription(nil)
	assert.Equal(t, domain.TierFree, state.Tier)
	assert.Nil(t, state.EndDate)
}
