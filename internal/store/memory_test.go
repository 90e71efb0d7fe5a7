package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DukeRupert/crewgate/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testNow   = time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	testToday = domain.DateOf(testNow, time.UTC)
)

func newTestMemory() *Memory {
	return NewMemory(func() time.Time { return testNow })
}

// =============================================================================
// Usage Tests
// =============================================================================

func TestMemory_IncrementUsage_StopsAtLimit(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()
	u := m.SeedUser(domain.Principal{DisplayName: "Free User"})

	for i := 1; i <= 10; i++ {
		count, applied, err := m.IncrementUsage(ctx, u.ID, testToday, 10)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, int64(i), count)
	}

	count, applied, err := m.IncrementUsage(ctx, u.ID, testToday, 10)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, int64(10), count)
}

func TestMemory_IncrementUsage_ResetsOnNewDay(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()
	yesterday := domain.DateOf(testNow.Add(-24*time.Hour), time.UTC)
	u := m.SeedUser(domain.Principal{QueryCountToday: 10, LastQueryDate: &yesterday})

	count, applied, err := m.IncrementUsage(ctx, u.ID, testToday, 10)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(1), count)

	stored, last, err := m.GetUsage(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored)
	require.NotNil(t, last)
	assert.Equal(t, testToday, *last)
}

func TestMemory_IncrementUsage_Unlimited(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()
	u := m.SeedUser(domain.Principal{Tier: domain.TierPro})

	for i := 0; i < 50; i++ {
		_, applied, err := m.IncrementUsage(ctx, u.ID, testToday, domain.Unlimited)
		require.NoError(t, err)
		require.True(t, applied)
	}
}

func TestMemory_IncrementUsage_Concurrent(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()
	u := m.SeedUser(domain.Principal{})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, applied, err := m.IncrementUsage(ctx, u.ID, testToday, 10)
			if err == nil && applied {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, granted)
	count, _, err := m.GetUsage(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), count)
}

func TestMemory_UnknownUser(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()

	_, err := m.GetPrincipal(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = m.IncrementUsage(ctx, uuid.New(), testToday, 10)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemory_SetFailure(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()
	u := m.SeedUser(domain.Principal{})

	m.SetFailure(errors.New("connection refused"))
	_, err := m.GetPrincipal(ctx, u.ID)
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.Equal(t, domain.EUNAVAILABLE, domain.ErrorCode(err))

	m.SetFailure(nil)
	_, err = m.GetPrincipal(ctx, u.ID)
	assert.NoError(t, err)
}

// =============================================================================
// Session Tests
// =============================================================================

func TestMemory_GetPrincipalBySessionHash(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()
	u := m.SeedUser(domain.Principal{DisplayName: "Session User"})

	m.AddSession(u.ID, "live", testNow.Add(time.Hour))
	m.AddSession(u.ID, "expired", testNow.Add(-time.Minute))

	p, err := m.GetPrincipalBySessionHash(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, u.ID, p.ID)

	_, err = m.GetPrincipalBySessionHash(ctx, "expired")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = m.GetPrincipalBySessionHash(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemory_DeleteExpiredSessions(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()
	u := m.SeedUser(domain.Principal{DisplayName: "Session User"})

	m.AddSession(u.ID, "live", testNow.Add(time.Hour))
	m.AddSession(u.ID, "expired", testNow.Add(-time.Minute))
	m.AddSession(u.ID, "boundary", testNow)

	n, err := m.DeleteExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = m.GetPrincipalBySessionHash(ctx, "live")
	assert.NoError(t, err)
}

// =============================================================================
// Referral Tests
// =============================================================================

func TestMemory_CreateReferralCode(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()
	alice := m.SeedUser(domain.Principal{})
	bob := m.SeedUser(domain.Principal{})

	rc, err := m.CreateReferralCode(ctx, alice.ID, "CREW-AAAAAA")
	require.NoError(t, err)
	assert.Equal(t, "CREW-AAAAAA", rc.Code)

	// A second code for the same user returns the first.
	again, err := m.CreateReferralCode(ctx, alice.ID, "CREW-BBBBBB")
	require.NoError(t, err)
	assert.Equal(t, "CREW-AAAAAA", again.Code)

	// Another user cannot take the same code.
	_, err = m.CreateReferralCode(ctx, bob.ID, "CREW-AAAAAA")
	assert.ErrorIs(t, err, domain.ErrCodeTaken)

	exists, err := m.CodeExists(ctx, "CREW-AAAAAA")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestMemory_RedeemReferral(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()
	alice := m.SeedUser(domain.Principal{})
	bob := m.SeedUser(domain.Principal{})
	_, err := m.CreateReferralCode(ctx, alice.ID, "CREW-AAAAAA")
	require.NoError(t, err)

	redemption := domain.Redemption{Code: "CREW-AAAAAA", ReferrerID: alice.ID, RedeemerID: bob.ID}

	count, err := m.RedeemReferral(ctx, redemption)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = m.RedeemReferral(ctx, redemption)
	assert.ErrorIs(t, err, domain.ErrAlreadyRedeemed)

	rc, err := m.GetReferralCode(ctx, "CREW-AAAAAA")
	require.NoError(t, err)
	assert.Equal(t, 1, rc.ReferralCount)

	r, err := m.GetRedemptionByRedeemer(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, r.ReferrerID)
	assert.Equal(t, testNow, r.RedeemedAt)

	_, err = m.RedeemReferral(ctx, domain.Redemption{Code: "CREW-AAAAAA", ReferrerID: alice.ID, RedeemerID: alice.ID})
	assert.ErrorIs(t, err, domain.ErrSelfReferral)
}

func TestMemory_RedeemReferral_AlreadyRedeemedBeforeSelf(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()
	alice := m.SeedUser(domain.Principal{})
	bob := m.SeedUser(domain.Principal{})
	_, err := m.CreateReferralCode(ctx, alice.ID, "CREW-AAAAAA")
	require.NoError(t, err)
	_, err = m.CreateReferralCode(ctx, bob.ID, "CREW-BBBBBB")
	require.NoError(t, err)

	_, err = m.RedeemReferral(ctx, domain.Redemption{Code: "CREW-AAAAAA", ReferrerID: alice.ID, RedeemerID: bob.ID})
	require.NoError(t, err)

	_, err = m.RedeemReferral(ctx, domain.Redemption{Code: "CREW-BBBBBB", ReferrerID: bob.ID, RedeemerID: bob.ID})
	assert.ErrorIs(t, err, domain.ErrAlreadyRedeemed)
	assert.NotErrorIs(t, err, domain.ErrSelfReferral)
}

func TestMemory_RedeemReferral_ConcurrentSameRedeemer(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()
	alice := m.SeedUser(domain.Principal{})
	bob := m.SeedUser(domain.Principal{})
	_, err := m.CreateReferralCode(ctx, alice.ID, "CREW-AAAAAA")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.RedeemReferral(ctx, domain.Redemption{Code: "CREW-AAAAAA", ReferrerID: alice.ID, RedeemerID: bob.ID})
		}()
	}
	wg.Wait()

	rc, err := m.GetReferralCode(ctx, "CREW-AAAAAA")
	require.NoError(t, err)
	assert.Equal(t, 1, rc.ReferralCount)
}

func TestMemory_Leaderboard(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()

	seedReferrer := func(code string, created time.Time, referrals int) uuid.UUID {
		u := m.SeedUser(domain.Principal{DisplayName: code})
		m.mu.Lock()
		m.codes[code] = domain.ReferralCode{Code: code, UserID: u.ID, ReferralCount: referrals, CreatedAt: created}
		m.codeByUser[u.ID] = code
		m.mu.Unlock()
		return u.ID
	}

	early := seedReferrer("CREW-AAAAAA", testNow.Add(-48*time.Hour), 3)
	late := seedReferrer("CREW-BBBBBB", testNow.Add(-24*time.Hour), 3)
	top := seedReferrer("CREW-CCCCCC", testNow, 7)
	seedReferrer("CREW-DDDDDD", testNow, 0)

	entries, err := m.Leaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, top, entries[0].UserID)
	assert.Equal(t, early, entries[1].UserID)
	assert.Equal(t, late, entries[2].UserID)

	limited, err := m.Leaderboard(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, top, limited[0].UserID)
}
