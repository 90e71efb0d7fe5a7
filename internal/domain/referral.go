// Package domain contains core business types and interfaces.
//
// This file defines the referral engine's pure parts: the reward tier table,
// referral code generation and validation, and leaderboard ordering.
package domain

import (
	"crypto/rand"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReferralTier is a reward level derived from a cumulative referral count.
// Tiers are totally ordered from bronze to ambassador.
type ReferralTier int

const (
	ReferralTierBronze ReferralTier = iota
	ReferralTierSilver
	ReferralTierGold
	ReferralTierPlatinum
	ReferralTierAmbassador
)

// ReferralTierInfo is one row of the reward table.
type ReferralTierInfo struct {
	Tier         ReferralTier
	Name         string
	MinReferrals int
	RewardDays   int
	BonusDays    int
}

// ReferralTiers is the reward table in ascending tier order. MinReferrals is
// strictly increasing and RewardDays never decreases down the table.
var ReferralTiers = []ReferralTierInfo{
	{Tier: ReferralTierBronze, Name: "bronze", MinReferrals: 0, RewardDays: 7, BonusDays: 0},
	{Tier: ReferralTierSilver, Name: "silver", MinReferrals: 3, RewardDays: 30, BonusDays: 30},
	{Tier: ReferralTierGold, Name: "gold", MinReferrals: 5, RewardDays: 180, BonusDays: 180},
	{Tier: ReferralTierPlatinum, Name: "platinum", MinReferrals: 10, RewardDays: 365, BonusDays: 0},
	{Tier: ReferralTierAmbassador, Name: "ambassador", MinReferrals: 25, RewardDays: 365, BonusDays: 0},
}

func (t ReferralTier) Info() ReferralTierInfo {
	if t < ReferralTierBronze || int(t) >= len(ReferralTiers) {
		return ReferralTiers[0]
	}
	return ReferralTiers[t]
}

func (t ReferralTier) String() string {
	return t.Info().Name
}

// RewardDays returns the base reward for reaching the tier.
func (t ReferralTier) RewardDays() int {
	return t.Info().RewardDays
}

// BonusDays returns the one-time bonus for reaching the tier.
func (t ReferralTier) BonusDays() int {
	return t.Info().BonusDays
}

// CalculateReferralTier returns the tier for a referral count. It is total
// and monotonic; negative counts are treated as zero.
func CalculateReferralTier(count int) ReferralTier {
	tier := ReferralTierBronze
	for _, info := range ReferralTiers {
		if count >= info.MinReferrals {
			tier = info.Tier
		}
	}
	return tier
}

// NextReferralTier returns the tier after the one count maps to and how many
// more referrals reach it. ok is false at the top tier.
func NextReferralTier(count int) (next ReferralTier, remaining int, ok bool) {
	current := CalculateReferralTier(count)
	if int(current)+1 >= len(ReferralTiers) {
		return current, 0, false
	}
	info := ReferralTiers[current+1]
	if count < 0 {
		count = 0
	}
	return info.Tier, info.MinReferrals - count, true
}

// =============================================================================
// Referral codes
// =============================================================================

const (
	ReferralCodePrefix = "CREW-"
	ReferralCodeLength = 6

	// ReferralAlphabet excludes 0, O, 1 and I. Its 32 symbols divide 256
	// evenly, so a random byte maps to a symbol without bias.
	ReferralAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// Referral code rejection reasons.
const (
	CodeReasonEmpty            = "empty"
	CodeReasonInvalidPrefix    = "invalid_prefix"
	CodeReasonInvalidLength    = "invalid_length"
	CodeReasonInvalidCharacter = "invalid_character"
	CodeReasonNotFound         = "not_found"
)

func referralReasonMessage(reason string) string {
	switch reason {
	case CodeReasonEmpty:
		return "Please enter a referral code."
	case CodeReasonInvalidPrefix:
		return "Referral codes start with CREW-."
	case CodeReasonInvalidLength:
		return fmt.Sprintf("Referral codes have %d characters after CREW-.", ReferralCodeLength)
	case CodeReasonInvalidCharacter:
		return "Referral code contains characters that are not used in codes."
	case CodeReasonNotFound:
		return "That referral code does not exist."
	default:
		return "Invalid referral code."
	}
}

// GenerateReferralCode draws a new code from r. Pass nil to use crypto/rand.
func GenerateReferralCode(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, ReferralCodeLength)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	var sb strings.Builder
	sb.Grow(len(ReferralCodePrefix) + ReferralCodeLength)
	sb.WriteString(ReferralCodePrefix)
	for _, b := range buf {
		sb.WriteByte(ReferralAlphabet[int(b)%len(ReferralAlphabet)])
	}
	return sb.String(), nil
}

// ValidateReferralCode checks input against the canonical CREW-XXXXXX form.
// Matching is case-insensitive and surrounding whitespace is ignored; nothing
// else is coerced. It returns the normalized code or an InvalidReferralCode error.
func ValidateReferralCode(input string) (string, error) {
	const op = "referral.validate_code"

	code := strings.ToUpper(strings.TrimSpace(input))
	if code == "" {
		return "", InvalidReferralCode(op, CodeReasonEmpty)
	}
	if !strings.HasPrefix(code, ReferralCodePrefix) {
		return "", InvalidReferralCode(op, CodeReasonInvalidPrefix)
	}
	body := code[len(ReferralCodePrefix):]
	if len(body) != ReferralCodeLength {
		return "", InvalidReferralCode(op, CodeReasonInvalidLength)
	}
	for i := 0; i < len(body); i++ {
		if strings.IndexByte(ReferralAlphabet, body[i]) < 0 {
			return "", InvalidReferralCode(op, CodeReasonInvalidCharacter)
		}
	}
	return code, nil
}

// ReferralCode is a user's issued code and cumulative referral count.
type ReferralCode struct {
	Code          string
	UserID        uuid.UUID
	ReferralCount int
	CreatedAt     time.Time
}

// Tier returns the reward tier derived from the count.
func (c ReferralCode) Tier() ReferralTier {
	return CalculateReferralTier(c.ReferralCount)
}

// Redemption records one user redeeming another user's code.
type Redemption struct {
	Code       string
	ReferrerID uuid.UUID
	RedeemerID uuid.UUID
	RedeemedAt time.Time
	IPAddress  string
}

// LeaderboardEntry is one row of the referral leaderboard.
type LeaderboardEntry struct {
	Rank          int
	UserID        uuid.UUID
	DisplayName   string
	ReferralCount int
	Tier          ReferralTier
	CreatedAt     time.Time
}

// LeaderboardLess orders by referral count descending, then earliest
// CreatedAt, then user ID so the order is total.
func LeaderboardLess(a, b LeaderboardEntry) bool {
	if a.ReferralCount != b.ReferralCount {
		return a.ReferralCount > b.ReferralCount
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.UserID.String() < b.UserID.String()
}

// SortLeaderboard orders entries in place and assigns ranks from 1.
func SortLeaderboard(entries []LeaderboardEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return LeaderboardLess(entries[i], entries[j])
	})
	for i := range entries {
		entries[i].Rank = i + 1
		entries[i].Tier = CalculateReferralTier(entries[i].ReferralCount)
	}
}
