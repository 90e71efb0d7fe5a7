package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		code     string
	}{
		{"unauthenticated", Unauthenticated("op"), ErrUnauthenticated, EUNAUTHORIZED},
		{"subscription inactive", SubscriptionInactive("op", string(ReasonExpired)), ErrSubscriptionInactive, EPAYMENT},
		{"quota exceeded", QuotaExceeded("op", 10), ErrQuotaExceeded, ERATELIMIT},
		{"resource limit", ResourceLimitReached("op", ResourceBookmarks, 5), ErrResourceLimitReached, EFORBIDDEN},
		{"invalid code", InvalidReferralCode("op", CodeReasonInvalidLength), ErrInvalidReferralCode, EINVALID},
		{"self referral", SelfReferral("op"), ErrSelfReferral, EINVALID},
		{"already redeemed", AlreadyRedeemed("op"), ErrAlreadyRedeemed, ECONFLICT},
		{"storage", StorageUnavailable(errors.New("dial tcp: refused"), "op"), ErrStorageUnavailable, EUNAVAILABLE},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(tt.err, tt.sentinel))
			assert.Equal(t, tt.code, ErrorCode(tt.err))

			wrapped := fmt.Errorf("handler: %w", tt.err)
			assert.True(t, errors.Is(wrapped, tt.sentinel))
			assert.Equal(t, tt.code, ErrorCode(wrapped))
		})
	}
}

func TestQuotaExceeded_Message(t *testing.T) {
	err := QuotaExceeded("quota.consume", 10)
	assert.Equal(t, "Daily query limit reached (10). Upgrade to Pro for unlimited queries.", ErrorMessage(err))
	assert.Equal(t, Limit(10), ErrorDetail(err).Limit)
	assert.Equal(t, "quota.consume", ErrorOp(err))
}

func TestSubscriptionInactive_DoesNotLeakTier(t *testing.T) {
	for _, reason := range []string{string(ReasonExpired), string(ReasonInactiveStatus), ReasonTierRequired} {
		msg := ErrorMessage(SubscriptionInactive("op", reason))
		assert.NotContains(t, msg, "enterprise")
		assert.Equal(t, reason, ErrorDetail(SubscriptionInactive("op", reason)).Reason)
	}
}

func TestStorageUnavailable_HidesCause(t *testing.T) {
	cause := errors.New("pq: password authentication failed for user admin")
	err := StorageUnavailable(cause, "quota.consume")

	assert.True(t, errors.Is(err, cause))
	assert.NotContains(t, ErrorMessage(err), "password")
}

func TestErrorCode_Plain(t *testing.T) {
	assert.Equal(t, "", ErrorCode(nil))
	assert.Equal(t, EINTERNAL, ErrorCode(errors.New("boom")))
	assert.Equal(t, "An internal error occurred. Please try again later.", ErrorMessage(errors.New("boom")))
}

func TestResourceLimitReached_Message(t *testing.T) {
	assert.Contains(t, ErrorMessage(ResourceLimitReached("op", ResourceBookmarks, 5)), "maximum of 5 bookmarks")
	assert.Contains(t, ErrorMessage(ResourceLimitReached("op", ResourceAgencies, 0)), "does not include agencies")
}
