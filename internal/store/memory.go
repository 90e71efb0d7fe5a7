// Package store provides the storage collaborator implementations used by
// the services: a PostgreSQL store for production and an in-memory store for
// development and tests.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/DukeRupert/crewgate/internal/domain"
	"github.com/google/uuid"
)

// =============================================================================
// Memory Implementation
// =============================================================================

// Memory implements service.Store in process memory. A single mutex guards
// all state, so increments and redemptions are atomic.
type Memory struct {
	mu          sync.Mutex
	users       map[uuid.UUID]domain.Principal
	sessions    map[string]memSession
	codes       map[string]domain.ReferralCode // by code
	codeByUser  map[uuid.UUID]string
	redemptions map[uuid.UUID]domain.Redemption // by redeemer
	failure     error
	now         func() time.Time
}

type memSession struct {
	userID    uuid.UUID
	expiresAt time.Time
}

// NewMemory creates an empty in-memory store. now may be nil.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		users:       make(map[uuid.UUID]domain.Principal),
		sessions:    make(map[string]memSession),
		codes:       make(map[string]domain.ReferralCode),
		codeByUser:  make(map[uuid.UUID]string),
		redemptions: make(map[uuid.UUID]domain.Redemption),
		now:         now,
	}
}

// =============================================================================
// Seeding helpers
// =============================================================================

// SeedUser stores p, assigning an ID and creation time when missing.
func (m *Memory) SeedUser(p domain.Principal) domain.Principal {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.now()
	}
	p.Anonymous = false
	m.users[p.ID] = p
	return p
}

// AddSession registers a session token hash for the user.
func (m *Memory) AddSession(userID uuid.UUID, tokenHash string, expiresAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[tokenHash] = memSession{userID: userID, expiresAt: expiresAt}
}

// CreateUser stores a new user. It mirrors Postgres.CreateUser for seeding.
func (m *Memory) CreateUser(ctx context.Context, u NewUser) (domain.Principal, error) {
	return m.SeedUser(domain.Principal{
		DisplayName:         u.DisplayName,
		Tier:                u.Tier,
		SubscriptionStatus:  u.SubscriptionStatus,
		SubscriptionEndDate: u.SubscriptionEndDate,
	}), nil
}

// CreateSession mirrors Postgres.CreateSession.
func (m *Memory) CreateSession(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error {
	m.AddSession(userID, tokenHash, expiresAt)
	return nil
}

// SetFailure makes every call fail with err until cleared with nil.
func (m *Memory) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = err
}

func (m *Memory) fail(op string) error {
	if m.failure == nil {
		return nil
	}
	return domain.StorageUnavailable(m.failure, op)
}

// =============================================================================
// Principals
// =============================================================================

// GetPrincipal returns the stored principal.
func (m *Memory) GetPrincipal(ctx context.Context, id uuid.UUID) (domain.Principal, error) {
	const op = "store.get_principal"

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail(op); err != nil {
		return domain.Principal{}, err
	}
	p, ok := m.users[id]
	if !ok {
		return domain.Principal{}, domain.NotFound(op, "user", id.String())
	}
	return p, nil
}

// GetPrincipalBySessionHash returns the principal owning an unexpired session.
func (m *Memory) GetPrincipalBySessionHash(ctx context.Context, tokenHash string) (domain.Principal, error) {
	const op = "store.get_principal_by_session"

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail(op); err != nil {
		return domain.Principal{}, err
	}
	sess, ok := m.sessions[tokenHash]
	if !ok || !sess.expiresAt.After(m.now()) {
		return domain.Principal{}, domain.NotFound(op, "session", "")
	}
	p, ok := m.users[sess.userID]
	if !ok {
		return domain.Principal{}, domain.NotFound(op, "user", sess.userID.String())
	}
	return p, nil
}

// DeleteExpiredSessions removes sessions past their expiry.
func (m *Memory) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	const op = "store.delete_expired_sessions"

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail(op); err != nil {
		return 0, err
	}
	var n int64
	now := m.now()
	for hash, sess := range m.sessions {
		if !sess.expiresAt.After(now) {
			delete(m.sessions, hash)
			n++
		}
	}
	return n, nil
}

// =============================================================================
// Usage
// =============================================================================

// GetUsage returns the stored counter and its date.
func (m *Memory) GetUsage(ctx context.Context, id uuid.UUID) (int64, *domain.Date, error) {
	const op = "store.get_usage"

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail(op); err != nil {
		return 0, nil, err
	}
	p, ok := m.users[id]
	if !ok {
		return 0, nil, domain.NotFound(op, "user", id.String())
	}
	return p.QueryCountToday, copyDate(p.LastQueryDate), nil
}

// IncrementUsage increments today's counter when it is below limit.
func (m *Memory) IncrementUsage(ctx context.Context, id uuid.UUID, today domain.Date, limit domain.Limit) (int64, bool, error) {
	const op = "store.increment_usage"

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail(op); err != nil {
		return 0, false, err
	}
	p, ok := m.users[id]
	if !ok {
		return 0, false, domain.NotFound(op, "user", id.String())
	}

	current := p.UsageOn(today)
	if !limit.Allows(current) {
		return current, false, nil
	}

	p.QueryCountToday = current + 1
	p.LastQueryDate = &today
	m.users[id] = p
	return p.QueryCountToday, true, nil
}

// =============================================================================
// Referrals
// =============================================================================

// GetReferralCodeByUser returns the user's code.
func (m *Memory) GetReferralCodeByUser(ctx context.Context, userID uuid.UUID) (domain.ReferralCode, error) {
	const op = "store.get_referral_code_by_user"

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail(op); err != nil {
		return domain.ReferralCode{}, err
	}
	code, ok := m.codeByUser[userID]
	if !ok {
		return domain.ReferralCode{}, domain.NotFound(op, "referral code", userID.String())
	}
	return m.codes[code], nil
}

// GetReferralCode returns the code record.
func (m *Memory) GetReferralCode(ctx context.Context, code string) (domain.ReferralCode, error) {
	const op = "store.get_referral_code"

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail(op); err != nil {
		return domain.ReferralCode{}, err
	}
	rc, ok := m.codes[code]
	if !ok {
		return domain.ReferralCode{}, domain.NotFound(op, "referral code", code)
	}
	return rc, nil
}

// CodeExists reports whether code is issued.
func (m *Memory) CodeExists(ctx context.Context, code string) (bool, error) {
	const op = "store.code_exists"

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail(op); err != nil {
		return false, err
	}
	_, ok := m.codes[code]
	return ok, nil
}

// CreateReferralCode stores code for the user, returning the user's existing
// code if one was issued already.
func (m *Memory) CreateReferralCode(ctx context.Context, userID uuid.UUID, code string) (domain.ReferralCode, error) {
	const op = "store.create_referral_code"

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail(op); err != nil {
		return domain.ReferralCode{}, err
	}
	if existing, ok := m.codeByUser[userID]; ok {
		return m.codes[existing], nil
	}
	if _, ok := m.codes[code]; ok {
		return domain.ReferralCode{}, fmt.Errorf("%s: %w", op, domain.ErrCodeTaken)
	}

	rc := domain.ReferralCode{
		Code:      code,
		UserID:    userID,
		CreatedAt: m.now(),
	}
	m.codes[code] = rc
	m.codeByUser[userID] = code
	return rc, nil
}

// RedeemReferral records the redemption and increments the referrer's count
// under one lock.
func (m *Memory) RedeemReferral(ctx context.Context, r domain.Redemption) (int, error) {
	const op = "store.redeem_referral"

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail(op); err != nil {
		return 0, err
	}
	if _, ok := m.redemptions[r.RedeemerID]; ok {
		return 0, fmt.Errorf("%s: %w", op, domain.ErrAlreadyRedeemed)
	}
	if r.ReferrerID == r.RedeemerID {
		return 0, fmt.Errorf("%s: %w", op, domain.ErrSelfReferral)
	}
	rc, ok := m.codes[r.Code]
	if !ok || rc.UserID != r.ReferrerID {
		return 0, domain.NotFound(op, "referral code", r.Code)
	}

	if r.RedeemedAt.IsZero() {
		r.RedeemedAt = m.now()
	}
	m.redemptions[r.RedeemerID] = r
	rc.ReferralCount++
	m.codes[r.Code] = rc
	return rc.ReferralCount, nil
}

// GetRedemptionByRedeemer returns the redemption made by the user.
func (m *Memory) GetRedemptionByRedeemer(ctx context.Context, redeemerID uuid.UUID) (domain.Redemption, error) {
	const op = "store.get_redemption"

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail(op); err != nil {
		return domain.Redemption{}, err
	}
	r, ok := m.redemptions[redeemerID]
	if !ok {
		return domain.Redemption{}, domain.NotFound(op, "redemption", redeemerID.String())
	}
	return r, nil
}

// Leaderboard returns up to limit referrers with at least one referral.
func (m *Memory) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	const op = "store.leaderboard"

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail(op); err != nil {
		return nil, err
	}

	entries := make([]domain.LeaderboardEntry, 0, len(m.codes))
	for _, rc := range m.codes {
		if rc.ReferralCount <= 0 {
			continue
		}
		entries = append(entries, domain.LeaderboardEntry{
			UserID:        rc.UserID,
			DisplayName:   m.users[rc.UserID].DisplayName,
			ReferralCount: rc.ReferralCount,
			CreatedAt:     rc.CreatedAt,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return domain.LeaderboardLess(entries[i], entries[j])
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func copyDate(d *domain.Date) *domain.Date {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}
