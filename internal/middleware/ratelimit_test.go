package middleware

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DukeRupert/crewgate/internal/auth"
	"github.com/DukeRupert/crewgate/internal/domain"
	"github.com/DukeRupert/crewgate/internal/handler"
	"github.com/google/uuid"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// RateLimiter Tests
// =============================================================================

func TestNewRateLimiter(t *testing.T) {
	rl := NewRateLimiter(5, time.Minute, quietLogger())

	if rl == nil {
		t.Fatal("expected rate limiter to be created")
	}
	if rl.maxAttempts != 5 {
		t.Errorf("expected maxAttempts=5, got %d", rl.maxAttempts)
	}
	if rl.window != time.Minute {
		t.Errorf("expected window=1m, got %v", rl.window)
	}
}

func TestRateLimiter_Allow_AtLimit(t *testing.T) {
	rl := NewRateLimiter(5, time.Minute, quietLogger())

	for i := 0; i < 5; i++ {
		if !rl.Allow("192.168.1.1") {
			t.Errorf("request %d should be allowed", i+1)
		}
	}

	if rl.Allow("192.168.1.1") {
		t.Error("6th request should be denied")
	}
}

func TestRateLimiter_Allow_DifferentIPs(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute, quietLogger())

	rl.Allow("192.168.1.1")
	rl.Allow("192.168.1.1")
	if rl.Allow("192.168.1.1") {
		t.Error("IP 1 should be rate limited")
	}

	if !rl.Allow("192.168.1.2") {
		t.Error("IP 2 should not be rate limited")
	}
}

func TestRateLimiter_Allow_WindowExpiry(t *testing.T) {
	now := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, AnonymousWindow, quietLogger())
	rl.now = func() time.Time { return now }

	rl.Allow("192.168.1.1")
	rl.Allow("192.168.1.1")
	if rl.Allow("192.168.1.1") {
		t.Error("should be rate limited")
	}
	if got := rl.TimeUntilReset("192.168.1.1"); got != AnonymousWindow {
		t.Errorf("expected %v until reset, got %v", AnonymousWindow, got)
	}

	now = now.Add(AnonymousWindow)

	if !rl.Allow("192.168.1.1") {
		t.Error("should be allowed after window expires")
	}
}

func TestRateLimiter_ZeroLimitDeniesEverything(t *testing.T) {
	rl := NewRateLimiter(0, time.Minute, quietLogger())
	if rl.Allow("192.168.1.1") {
		t.Error("zero limit should deny the first request")
	}
}

func TestRateLimiter_Reset(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute, quietLogger())

	rl.Allow("192.168.1.1")
	if rl.Allow("192.168.1.1") {
		t.Error("should be rate limited")
	}

	rl.Reset("192.168.1.1")

	if !rl.Allow("192.168.1.1") {
		t.Error("should be allowed after reset")
	}
}

// =============================================================================
// AnonymousLimiter Tests
// =============================================================================

func serveAnonymous(h http.Handler, p domain.Principal, remoteAddr string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/api/lookups", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range header {
		req.Header.Set(k, v)
	}
	req = req.WithContext(auth.WithPrincipal(req.Context(), p))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// spendingHandler spends a unit the way a metered handler does once the
// request has validated.
func spendingHandler(l *AnonymousLimiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := l.Spend(r); err != nil {
			handler.ErrorResponse(w, r, quietLogger(), err)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAnonymousLimiter_BlocksAfterLimit(t *testing.T) {
	limiter := NewAnonymousLimiter(3, quietLogger())
	wrapped := limiter.Limit(spendingHandler(limiter))

	for i := 0; i < 3; i++ {
		rec := serveAnonymous(wrapped, domain.Anonymous(), "192.168.1.1:12345", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	rec := serveAnonymous(wrapped, domain.Anonymous(), "192.168.1.1:12345", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	var body struct {
		Error struct {
			Code  string `json:"code"`
			Limit int64  `json:"limit"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error.Code != domain.ERATELIMIT || body.Error.Limit != 3 {
		t.Errorf("unexpected error body: %+v", body.Error)
	}
}

func TestAnonymousLimiter_RejectedRequestsCostNothing(t *testing.T) {
	limiter := NewAnonymousLimiter(2, quietLogger())
	rejecting := limiter.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))

	for i := 0; i < 5; i++ {
		rec := serveAnonymous(rejecting, domain.Anonymous(), "192.168.1.7:12345", nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("request %d: expected 400, got %d", i+1, rec.Code)
		}
	}

	if limiter.limiter.Exhausted("192.168.1.7") {
		t.Fatal("rejected requests should not use up the window")
	}

	wrapped := limiter.Limit(spendingHandler(limiter))
	for i := 0; i < 2; i++ {
		rec := serveAnonymous(wrapped, domain.Anonymous(), "192.168.1.7:12345", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
}

func TestRateLimiter_Exhausted(t *testing.T) {
	now := testNow
	rl := NewRateLimiter(1, time.Hour, quietLogger())
	rl.now = func() time.Time { return now }

	if rl.Exhausted("10.1.1.1") {
		t.Error("unused key should not be exhausted")
	}
	rl.Allow("10.1.1.1")
	if !rl.Exhausted("10.1.1.1") {
		t.Error("key at its limit should be exhausted")
	}
	if !rl.Exhausted("10.1.1.1") {
		t.Error("Exhausted must not change the count")
	}

	now = now.Add(time.Hour)
	if rl.Exhausted("10.1.1.1") {
		t.Error("expired window should not be exhausted")
	}
}

func TestAnonymousLimiter_AuthenticatedPassThrough(t *testing.T) {
	wrapped := NewAnonymousLimiter(1, quietLogger()).Limit(okHandler())
	user := domain.Principal{ID: uuid.New()}

	for i := 0; i < 5; i++ {
		rec := serveAnonymous(wrapped, user, "192.168.1.1:12345", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
}

func TestAnonymousLimiter_XForwardedFor(t *testing.T) {
	limiter := NewAnonymousLimiter(2, quietLogger())
	wrapped := limiter.Limit(spendingHandler(limiter))
	header := map[string]string{"X-Forwarded-For": "203.0.113.195, 70.41.3.18"}

	for i := 0; i < 3; i++ {
		// Proxy address changes; the forwarded client does not.
		rec := serveAnonymous(wrapped, domain.Anonymous(), "10.0.0.1:1234"+string(rune('0'+i)), header)
		if i < 2 && rec.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i+1, rec.Code)
		}
		if i == 2 && rec.Code != http.StatusTooManyRequests {
			t.Errorf("request %d: expected 429, got %d", i+1, rec.Code)
		}
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		header     map[string]string
		want       string
	}{
		{"remote addr", "192.168.1.1:12345", nil, "192.168.1.1"},
		{"remote addr without port", "192.168.1.1", nil, "192.168.1.1"},
		{"x-forwarded-for", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.2"}, "203.0.113.7"},
		{"x-real-ip", "10.0.0.1:1", map[string]string{"X-Real-IP": " 198.51.100.4 "}, "198.51.100.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			if got := getClientIP(req); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
