package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/DukeRupert/crewgate/internal/auth"
	"github.com/DukeRupert/crewgate/internal/domain"
	"github.com/DukeRupert/crewgate/internal/handler"
)

// AnonymousWindow is the window for anonymous per-IP metering.
const AnonymousWindow = 24 * time.Hour

// =============================================================================
// Rate Limiter
// =============================================================================

// RateLimiter tracks request counts per key with a fixed window.
type RateLimiter struct {
	maxAttempts int
	window      time.Duration
	logger      *slog.Logger
	now         func() time.Time

	mu      sync.RWMutex
	entries map[string]*rateLimitEntry
}

type rateLimitEntry struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(maxAttempts int, window time.Duration, logger *slog.Logger) *RateLimiter {
	rl := &RateLimiter{
		maxAttempts: maxAttempts,
		window:      window,
		logger:      logger,
		now:         time.Now,
		entries:     make(map[string]*rateLimitEntry),
	}

	// Start cleanup goroutine
	go rl.cleanup()

	return rl
}

// Allow checks if a request from the given key should be allowed.
// Returns true if allowed, false if rate limited.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	entry, exists := rl.entries[key]

	if !exists {
		if rl.maxAttempts <= 0 {
			return false
		}
		rl.entries[key] = &rateLimitEntry{
			count:       1,
			windowStart: now,
		}
		return true
	}

	// Check if window has expired
	if now.Sub(entry.windowStart) >= rl.window {
		entry.count = 1
		entry.windowStart = now
		return true
	}

	if entry.count < rl.maxAttempts {
		entry.count++
		return true
	}

	return false
}

// Reset clears the rate limit for a key.
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.entries, key)
}

// Exhausted reports whether key has no requests left in its current window.
// Unlike Allow it records nothing.
func (rl *RateLimiter) Exhausted(key string) bool {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	if rl.maxAttempts <= 0 {
		return true
	}
	entry, exists := rl.entries[key]
	if !exists || rl.now().Sub(entry.windowStart) >= rl.window {
		return false
	}
	return entry.count >= rl.maxAttempts
}

// TimeUntilReset returns how long until the rate limit resets for a key.
func (rl *RateLimiter) TimeUntilReset(key string) time.Duration {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	entry, exists := rl.entries[key]
	if !exists {
		return 0
	}

	elapsed := rl.now().Sub(entry.windowStart)
	if elapsed >= rl.window {
		return 0
	}

	return rl.window - elapsed
}

// cleanup periodically removes expired entries to prevent memory leaks.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		now := rl.now()
		for key, entry := range rl.entries {
			if now.Sub(entry.windowStart) >= rl.window {
				delete(rl.entries, key)
			}
		}
		rl.mu.Unlock()
	}
}

// =============================================================================
// Anonymous Limiter
// =============================================================================

// AnonymousLimiter meters anonymous principals per client IP. Authenticated
// principals pass through untouched; their quota is tracked in storage.
type AnonymousLimiter struct {
	limiter *RateLimiter
	logger  *slog.Logger
}

// NewAnonymousLimiter allows each anonymous IP limit requests per 24 hours.
func NewAnonymousLimiter(limit domain.Limit, logger *slog.Logger) *AnonymousLimiter {
	max := int(limit)
	if limit.IsUnlimited() {
		max = int(^uint(0) >> 1)
	}
	return &AnonymousLimiter{
		limiter: NewRateLimiter(max, AnonymousWindow, logger),
		logger:  logger,
	}
}

// Limit returns middleware that refuses anonymous requests once their IP has
// used up the window. It only checks; the handler spends a unit with Spend
// after the request is known to be valid.
//
// IMPORTANT: This middleware must be used AFTER Resolve in the middleware chain.
func (m *AnonymousLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.GetPrincipal(r.Context()).IsAuthenticated() {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := getClientIP(r)
		if m.limiter.Exhausted(clientIP) {
			m.refuse(w, r, clientIP)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Spend counts one request against the caller's IP. It returns
// QuotaExceeded when the window is used up.
func (m *AnonymousLimiter) Spend(r *http.Request) error {
	clientIP := getClientIP(r)
	if !m.limiter.Allow(clientIP) {
		m.logger.Info("anonymous limit exceeded",
			"ip", clientIP,
			"path", r.URL.Path,
			"method", r.Method,
		)
		return m.exceeded()
	}
	return nil
}

func (m *AnonymousLimiter) refuse(w http.ResponseWriter, r *http.Request, clientIP string) {
	m.logger.Info("anonymous limit exceeded",
		"ip", clientIP,
		"path", r.URL.Path,
		"method", r.Method,
	)

	retryAfter := int(m.limiter.TimeUntilReset(clientIP).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	handler.ErrorResponse(w, r, m.logger, m.exceeded())
}

func (m *AnonymousLimiter) exceeded() error {
	return domain.QuotaExceeded("middleware.anonymous_limit", domain.Limit(m.limiter.maxAttempts))
}

// =============================================================================
// Helpers
// =============================================================================

// getClientIP extracts the client IP from the request, considering proxy headers.
func getClientIP(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs: client, proxy1, proxy2
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if clientIP := strings.TrimSpace(first); clientIP != "" {
			return clientIP
		}
	}

	// Check X-Real-IP (nginx)
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr might not have a port
		return r.RemoteAddr
	}

	return ip
}

// ClientIP is exported for handlers that record the caller's address.
func ClientIP(r *http.Request) string {
	return getClientIP(r)
}
