package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DukeRupert/crewgate/internal/auth"
	"github.com/DukeRupert/crewgate/internal/domain"
	"github.com/google/uuid"
)

// logRequest runs r through the logging middleware in front of next and
// returns the recorder and the captured log output.
func logRequest(r *http.Request, next http.HandlerFunc) (*httptest.ResponseRecorder, string) {
	var buf bytes.Buffer
	mw := NewRequestLoggingMiddleware(slog.New(slog.NewTextHandler(&buf, nil)))
	if next == nil {
		next = func(w http.ResponseWriter, r *http.Request) {}
	}
	rec := httptest.NewRecorder()
	mw.Handler(next).ServeHTTP(rec, r)
	return rec, buf.String()
}

func TestRequestLoggingMiddleware_Fields(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/usage", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	req.Header.Set("X-Forwarded-For", "203.0.113.50, 10.0.0.1")
	req.Header.Set("User-Agent", "crewgate-ios/2.3")

	_, out := logRequest(req, nil)

	for _, want := range []string{
		"method=GET",
		"path=/api/usage",
		"status=200",
		"duration_ms=",
		"ip=203.0.113.50",
		"user_agent=crewgate-ios/2.3",
		"request_id=",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log should contain %q, got: %s", want, out)
		}
	}
	if strings.Contains(out, "user_id") {
		t.Errorf("anonymous request should not log user_id, got: %s", out)
	}
}

func TestRequestLoggingMiddleware_LevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "level=INFO"},
		{http.StatusTooManyRequests, "level=INFO"},
		{http.StatusServiceUnavailable, "level=WARN"},
	}

	for _, tt := range tests {
		_, out := logRequest(httptest.NewRequest("POST", "/api/lookups", nil), func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		})
		if !strings.Contains(out, tt.level) {
			t.Errorf("status %d: expected %s, got: %s", tt.status, tt.level, out)
		}
	}
}

func TestRequestLoggingMiddleware_RedactsSensitiveQueryParams(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/referrals/validate?code=CREW-ABCDEF&token=secrettoken123&limit=5", nil)

	_, out := logRequest(req, nil)

	for _, secret := range []string{"CREW-ABCDEF", "secrettoken123"} {
		if strings.Contains(out, secret) {
			t.Errorf("log should not contain %q, got: %s", secret, out)
		}
	}
	if !strings.Contains(out, "limit=5") {
		t.Errorf("non-sensitive params should be kept, got: %s", out)
	}
}

func TestRedactQuery(t *testing.T) {
	tests := map[string]string{
		"":                    "/p",
		"limit=10":            "/p?limit=10",
		"Code=CREW-ABCDEF":    "/p?Code=[REDACTED]",
		"flag":                "/p",
		"a=1&api_key=k&b=2":   "/p?a=1&api_key=[REDACTED]&b=2",
		"password=&refresh=1": "/p?password=[REDACTED]&refresh=1",
	}
	for raw, want := range tests {
		if got := redactQuery("/p", raw); got != want {
			t.Errorf("redactQuery(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestRequestLoggingMiddleware_LogsUserID(t *testing.T) {
	id := uuid.New()
	req := httptest.NewRequest("GET", "/api/referrals/stats", nil)
	req = req.WithContext(auth.WithPrincipal(req.Context(), domain.Principal{ID: id}))

	_, out := logRequest(req, nil)

	if !strings.Contains(out, "user_id="+id.String()) {
		t.Errorf("log should contain user_id, got: %s", out)
	}
}

func TestRequestLoggingMiddleware_RequestID(t *testing.T) {
	given := uuid.NewString()
	req := httptest.NewRequest("GET", "/api/usage", nil)
	req.Header.Set(RequestIDHeader, given)

	rec, out := logRequest(req, nil)

	if rec.Header().Get(RequestIDHeader) != given {
		t.Errorf("expected request ID %s to be echoed, got %q", given, rec.Header().Get(RequestIDHeader))
	}
	if !strings.Contains(out, "request_id="+given) {
		t.Errorf("log should contain request ID, got: %s", out)
	}

	req = httptest.NewRequest("GET", "/api/usage", nil)
	req.Header.Set(RequestIDHeader, "not a uuid\nforged=1")

	rec, _ = logRequest(req, nil)

	if _, err := uuid.Parse(rec.Header().Get(RequestIDHeader)); err != nil {
		t.Errorf("invalid request ID should be replaced, got %q", rec.Header().Get(RequestIDHeader))
	}
}

func TestRequestLoggingMiddleware_PassesResponseThrough(t *testing.T) {
	rec, _ := logRequest(httptest.NewRequest("POST", "/api/referrals/redeem", nil), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Custom", "value")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"redeemed":true}`))
	})

	if rec.Code != http.StatusCreated {
		t.Errorf("expected status 201, got %d", rec.Code)
	}
	if rec.Header().Get("X-Custom") != "value" {
		t.Error("custom header should be preserved")
	}
	if rec.Body.String() != `{"redeemed":true}` {
		t.Errorf("response body should be preserved, got: %s", rec.Body.String())
	}
}

func TestRequestLoggingMiddleware_SkipsQuietPaths(t *testing.T) {
	for _, path := range []string{"/health", "/metrics"} {
		rec, out := logRequest(httptest.NewRequest("GET", path, nil), nil)
		if out != "" {
			t.Errorf("%s should not be logged, got: %s", path, out)
		}
		if rec.Header().Get(RequestIDHeader) == "" {
			t.Errorf("%s should still get a request ID", path)
		}
	}
}
