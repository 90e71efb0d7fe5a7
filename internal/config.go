package internal

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/DukeRupert/crewgate/internal/billing"
	"github.com/DukeRupert/crewgate/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	Env      string `validate:"required,oneof=development test staging production"`
	Port     int    `validate:"min=1,max=65535"`
	LogLevel string `validate:"oneof=debug info warn error"`

	// Storage: postgres in every deployed environment, memory for local runs
	Store       string `validate:"oneof=memory postgres"`
	DatabaseUrl string `validate:"required_if=Store postgres"`

	// Storage circuit breaker
	BreakerMaxFailures uint32        `validate:"min=1"`
	BreakerTimeout     time.Duration `validate:"min=1s"`

	// Bearer token verification. Without a secret only session cookies resolve.
	JWTSecret string `validate:"omitempty,min=32"`
	JWTIssuer string

	// Quota reference timezone, an IANA name
	QuotaTimezone string         `validate:"required"`
	QuotaLocation *time.Location `validate:"-"`

	// Daily query limits; -1 means unlimited
	FreeDailyQueryLimit       int64 `validate:"min=-1,max=2147483647"`
	ProDailyQueryLimit        int64 `validate:"min=-1,max=2147483647"`
	EnterpriseDailyQueryLimit int64 `validate:"min=-1,max=2147483647"`

	// How often expired sessions are purged
	SessionSweepInterval time.Duration `validate:"min=1m"`

	// Free-tier bookmark cap
	BookmarkFreeLimit int64 `validate:"min=-1"`

	// Stripe price IDs per paid tier, comma-separated in the environment
	StripeProPriceIDs        []string
	StripeEnterprisePriceIDs []string

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string `validate:"required_with=MetricsUsername"`
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		Store:       getEnv("STORE", StorePostgres),
		DatabaseUrl: os.Getenv("DATABASE_URL"),

		BreakerMaxFailures: uint32(getEnvInt("BREAKER_MAX_FAILURES", 5)),
		BreakerTimeout:     getEnvDuration("BREAKER_TIMEOUT", 30*time.Second),

		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTIssuer: getEnv("JWT_ISSUER", "crewgate"),

		QuotaTimezone: getEnv("QUOTA_TIMEZONE", "UTC"),

		FreeDailyQueryLimit:       getEnvInt64("FREE_DAILY_QUERY_LIMIT", 10),
		ProDailyQueryLimit:        getEnvInt64("PRO_DAILY_QUERY_LIMIT", int64(domain.Unlimited)),
		EnterpriseDailyQueryLimit: getEnvInt64("ENTERPRISE_DAILY_QUERY_LIMIT", int64(domain.Unlimited)),

		SessionSweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", time.Hour),

		BookmarkFreeLimit: getEnvInt64("BOOKMARK_FREE_LIMIT", 5),

		StripeProPriceIDs:        billing.ParsePriceIDs(getEnv("STRIPE_PRO_PRICE_IDS", "")),
		StripeEnterprisePriceIDs: billing.ParsePriceIDs(getEnv("STRIPE_ENTERPRISE_PRICE_IDS", "")),

		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct tags and resolves the quota location.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	loc, err := time.LoadLocation(c.QuotaTimezone)
	if err != nil {
		return fmt.Errorf("QUOTA_TIMEZONE: %w", err)
	}
	c.QuotaLocation = loc
	return nil
}

// QuotaPolicy returns the configured daily query limits.
func (c *Config) QuotaPolicy() domain.QuotaPolicy {
	return domain.QuotaPolicy{
		DailyQueries: map[domain.Tier]domain.Limit{
			domain.TierFree:       domain.Limit(c.FreeDailyQueryLimit),
			domain.TierPro:        domain.Limit(c.ProDailyQueryLimit),
			domain.TierEnterprise: domain.Limit(c.EnterpriseDailyQueryLimit),
		},
	}
}

// ResourceCaps returns the default caps with the configured bookmark limit.
func (c *Config) ResourceCaps() domain.ResourceCaps {
	caps := domain.DefaultResourceCaps()
	caps[domain.ResourceBookmarks][domain.TierFree] = domain.Limit(c.BookmarkFreeLimit)
	return caps
}

// IsSecure reports whether cookies and HSTS should require HTTPS.
func (c *Config) IsSecure() bool {
	return c.Env != "development" && c.Env != "test"
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
