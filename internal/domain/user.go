// Package domain contains core business types and interfaces.
//
// This file defines the Principal, the subscription tier and status enums, and
// the calendar Date used by the daily quota. These types are separate from the
// repository models so the entitlement rules never see sql.Null* types.
package domain

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus represents the billing state of a subscription.
// The zero value means no billing record exists.
type SubscriptionStatus string

const (
	SubscriptionStatusNone       SubscriptionStatus = ""
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
	SubscriptionStatusUnpaid     SubscriptionStatus = "unpaid"
)

// IsHonored reports whether billing considers the subscription paid up.
func (s SubscriptionStatus) IsHonored() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// Tier is the subscription level. Tiers are totally ordered:
// TierFree < TierPro < TierEnterprise.
type Tier int

const (
	TierFree Tier = iota
	TierPro
	TierEnterprise
)

var tierNames = [...]string{"free", "pro", "enterprise"}

func (t Tier) String() string {
	if t < TierFree || t > TierEnterprise {
		return fmt.Sprintf("tier(%d)", int(t))
	}
	return tierNames[t]
}

// AtLeast reports whether t is the same as or above other.
func (t Tier) AtLeast(other Tier) bool {
	return t >= other
}

// ParseTier converts a stored tier name into a Tier.
func ParseTier(s string) (Tier, error) {
	for i, name := range tierNames {
		if name == s {
			return Tier(i), nil
		}
	}
	return TierFree, fmt.Errorf("unknown tier %q", s)
}

// TierOrFree parses s and falls back to TierFree for unknown values.
func TierOrFree(s string) Tier {
	t, err := ParseTier(s)
	if err != nil {
		return TierFree
	}
	return t
}

// Date is a calendar date in the quota reference location.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	y, m, d := t.In(loc).Date()
	return Date{Year: y, Month: m, Day: d}
}

// DateFromTime reads the date fields of t as-is. Use it for values that are
// already calendar dates, such as a SQL date column.
func DateFromTime(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// Time returns midnight of the date in loc.
func (d Date) Time(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// Next returns the following calendar day.
func (d Date) Next() Date {
	return DateFromTime(time.Date(d.Year, d.Month, d.Day+1, 0, 0, 0, 0, time.UTC))
}

func (d Date) Before(other Date) bool {
	if d.Year != other.Year {
		return d.Year < other.Year
	}
	if d.Month != other.Month {
		return d.Month < other.Month
	}
	return d.Day < other.Day
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Principal is the subject of an entitlement decision.
//
// The stored Tier can be stale relative to a lapsed subscription; the
// validity of a paid tier is decided by SubscriptionStatus and
// SubscriptionEndDate (see ValidateSubscription).
type Principal struct {
	ID                  uuid.UUID
	Anonymous           bool
	DisplayName         string
	Tier                Tier
	SubscriptionStatus  SubscriptionStatus
	SubscriptionEndDate *time.Time
	QueryCountToday     int64
	LastQueryDate       *Date
	CreatedAt           time.Time
}

// Anonymous returns the principal used for unauthenticated requests.
func Anonymous() Principal {
	return Principal{Anonymous: true, Tier: TierFree}
}

// IsAuthenticated reports whether the principal names a stored user.
func (p Principal) IsAuthenticated() bool {
	return !p.Anonymous && p.ID != uuid.Nil
}

// UsageOn returns the query count that counts against the limit on today.
// The stored counter is only meaningful when it was last written today; a
// counter from any other day reads as zero.
func (p Principal) UsageOn(today Date) int64 {
	if p.LastQueryDate == nil || *p.LastQueryDate != today {
		return 0
	}
	return p.QueryCountToday
}

// =============================================================================
// Conversion helpers from repository types
// =============================================================================

// NullStringValue safely extracts a string from sql.NullString.
func NullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// NullTimeValue safely extracts a time pointer from sql.NullTime.
func NullTimeValue(nt sql.NullTime) *time.Time {
	if nt.Valid {
		t := nt.Time
		return &t
	}
	return nil
}

// NullDateValue converts a SQL date column to a Date pointer.
func NullDateValue(nt sql.NullTime) *Date {
	if nt.Valid {
		d := DateFromTime(nt.Time)
		return &d
	}
	return nil
}

// ToNullString converts a string to sql.NullString.
func ToNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
