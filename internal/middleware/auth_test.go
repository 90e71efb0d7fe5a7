package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DukeRupert/crewgate/internal/auth"
	"github.com/DukeRupert/crewgate/internal/domain"
	"github.com/DukeRupert/crewgate/internal/handler"
	"github.com/DukeRupert/crewgate/internal/service"
	"github.com/DukeRupert/crewgate/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

type authFixture struct {
	mem       *store.Memory
	resolver  *auth.Resolver
	principal *PrincipalMiddleware
	ent       *EntitlementMiddleware
	meter     *QuotaMeter
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	clock := func() time.Time { return testNow }
	mem := store.NewMemory(clock)
	resolver := auth.NewResolver(mem, auth.ResolverConfig{
		Secret: []byte("middleware-test-secret-0123456789"),
		Issuer: "crewgate",
		Clock:  clock,
	}, quietLogger())
	quota := service.NewQuotaService(mem, service.QuotaConfig{Clock: clock}, quietLogger())
	ents := service.NewEntitlementService(quota, service.EntitlementConfig{Clock: clock}, quietLogger())

	return &authFixture{
		mem:       mem,
		resolver:  resolver,
		principal: NewPrincipalMiddleware(resolver, quietLogger(), false),
		ent:       NewEntitlementMiddleware(ents, quietLogger()),
		meter:     NewQuotaMeter(ents, nil),
	}
}

func (f *authFixture) bearer(t *testing.T, p domain.Principal) string {
	t.Helper()
	token, err := f.resolver.IssueToken(p.ID, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func (f *authFixture) serve(h http.Handler, method, path, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	f.principal.Resolve(h).ServeHTTP(rec, req)
	return rec
}

// =============================================================================
// Resolve Tests
// =============================================================================

func TestPrincipalMiddleware_Resolve(t *testing.T) {
	f := newAuthFixture(t)
	user := f.mem.SeedUser(domain.Principal{DisplayName: "Medic"})

	var got domain.Principal
	capture := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = auth.GetPrincipal(r.Context())
	})

	f.serve(capture, "GET", "/api/usage", f.bearer(t, user))
	assert.Equal(t, user.ID, got.ID)

	f.serve(capture, "GET", "/api/usage", "")
	assert.Equal(t, domain.Anonymous(), got)

	f.serve(capture, "GET", "/api/usage", "Basic dXNlcjpwYXNz")
	assert.Equal(t, domain.Anonymous(), got)
}

func TestPrincipalMiddleware_SessionCookie(t *testing.T) {
	f := newAuthFixture(t)
	user := f.mem.SeedUser(domain.Principal{})
	token := strings.Repeat("ef", 32)
	f.mem.AddSession(user.ID, auth.HashSessionToken(token), testNow.Add(time.Hour))

	var got domain.Principal
	capture := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = auth.GetPrincipal(r.Context())
	})

	req := httptest.NewRequest("GET", "/api/usage", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token})
	rec := httptest.NewRecorder()
	f.principal.Resolve(capture).ServeHTTP(rec, req)

	assert.Equal(t, user.ID, got.ID)
	assert.Empty(t, rec.Result().Cookies())
}

func TestPrincipalMiddleware_InvalidSessionClearsCookie(t *testing.T) {
	f := newAuthFixture(t)

	req := httptest.NewRequest("GET", "/api/usage", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "stale"})
	rec := httptest.NewRecorder()
	f.principal.Resolve(okHandler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookieName, cookies[0].Name)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"":                 "",
		"Bearer abc":       "abc",
		"bearer abc":       "abc",
		"Bearer  abc ":     "abc",
		"Basic dXNlcg==":   "",
		"Bearerabc":        "",
		"Token abc.def.gh": "",
	}
	for header, want := range tests {
		req := httptest.NewRequest("GET", "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		assert.Equal(t, want, bearerToken(req), "header %q", header)
	}
}

// =============================================================================
// RequireUser Tests
// =============================================================================

func TestRequireUser(t *testing.T) {
	f := newAuthFixture(t)
	user := f.mem.SeedUser(domain.Principal{})
	h := RequireUser(quietLogger())(okHandler())

	rec := f.serve(h, "GET", "/api/referrals/stats", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), domain.EUNAUTHORIZED)

	rec = f.serve(h, "GET", "/api/referrals/stats", f.bearer(t, user))
	assert.Equal(t, http.StatusOK, rec.Code)
}

// =============================================================================
// Entitlement Middleware Tests
// =============================================================================

func TestEntitlementMiddleware_Require(t *testing.T) {
	f := newAuthFixture(t)
	future := testNow.AddDate(0, 1, 0)
	past := testNow.Add(-time.Hour)

	free := f.mem.SeedUser(domain.Principal{})
	pro := f.mem.SeedUser(domain.Principal{
		Tier:                domain.TierPro,
		SubscriptionStatus:  domain.SubscriptionStatusActive,
		SubscriptionEndDate: &future,
	})
	lapsed := f.mem.SeedUser(domain.Principal{
		Tier:                domain.TierPro,
		SubscriptionStatus:  domain.SubscriptionStatusActive,
		SubscriptionEndDate: &past,
	})

	export := f.ent.Require(domain.OperationExport)(okHandler())

	tests := []struct {
		name   string
		authz  string
		status int
	}{
		{"anonymous", "", http.StatusUnauthorized},
		{"free", f.bearer(t, free), http.StatusPaymentRequired},
		{"lapsed pro", f.bearer(t, lapsed), http.StatusPaymentRequired},
		{"active pro", f.bearer(t, pro), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.serve(export, "POST", "/api/exports", tt.authz)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestEntitlementMiddleware_MeteredOnlyChecksQuota(t *testing.T) {
	f := newAuthFixture(t)
	free := f.mem.SeedUser(domain.Principal{})
	authz := f.bearer(t, free)

	lookup := f.ent.Require(domain.OperationLookup)(okHandler())
	for i := 0; i < 3; i++ {
		rec := f.serve(lookup, "POST", "/api/lookups", authz)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	count, _, err := f.mem.GetUsage(t.Context(), free.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestQuotaMeter_SpendsAfterHandlerAccepts(t *testing.T) {
	f := newAuthFixture(t)
	free := f.mem.SeedUser(domain.Principal{})
	authz := f.bearer(t, free)

	calls := 0
	lookup := f.ent.Require(domain.OperationLookup)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Reject") != "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := f.meter.Spend(r); err != nil {
			handler.ErrorResponse(w, r, quietLogger(), err)
			return
		}
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	rejected := httptest.NewRequest("POST", "/api/lookups", nil)
	rejected.Header.Set("Authorization", authz)
	rejected.Header.Set("X-Reject", "1")
	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		f.principal.Resolve(lookup).ServeHTTP(rec, rejected)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	}

	count, _, err := f.mem.GetUsage(t.Context(), free.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	for i := 0; i < 10; i++ {
		rec := f.serve(lookup, "POST", "/api/lookups", authz)
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}

	// The eleventh is refused by the entitlement check before the handler.
	rec := f.serve(lookup, "POST", "/api/lookups", authz)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), `"limit":10`)
	assert.Equal(t, 10, calls)

	count, _, err = f.mem.GetUsage(t.Context(), free.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), count)
}

func TestEntitlementMiddleware_AnonymousMeteredPassesToLimiter(t *testing.T) {
	f := newAuthFixture(t)
	lookup := f.ent.Require(domain.OperationLookup)(okHandler())

	rec := f.serve(lookup, "POST", "/api/lookups", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQuotaMeter_Anonymous(t *testing.T) {
	unmetered := NewQuotaMeter(nil, nil)
	req := httptest.NewRequest("POST", "/api/lookups", nil)
	assert.NoError(t, unmetered.Spend(req))

	meter := NewQuotaMeter(nil, NewAnonymousLimiter(2, quietLogger()))
	req.RemoteAddr = "192.168.1.9:5000"
	assert.NoError(t, meter.Spend(req))
	assert.NoError(t, meter.Spend(req))
	err := meter.Spend(req)
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
	assert.Equal(t, domain.Limit(2), domain.ErrorDetail(err).Limit)
}

func TestEntitlementMiddleware_StorageFailureFailsClosed(t *testing.T) {
	f := newAuthFixture(t)
	free := f.mem.SeedUser(domain.Principal{})
	authz := f.bearer(t, free)

	// Resolve first, then break storage so the entitlement check fails.
	var resolved domain.Principal
	f.serve(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resolved = auth.GetPrincipal(r.Context())
	}), "GET", "/", authz)
	require.True(t, resolved.IsAuthenticated())

	f.mem.SetFailure(errors.New("connection refused"))

	req := httptest.NewRequest("POST", "/api/lookups", nil)
	req = req.WithContext(auth.WithPrincipal(req.Context(), resolved))
	rec := httptest.NewRecorder()
	f.ent.Require(domain.OperationLookup)(okHandler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
}

func TestEntitlementMiddleware_UnknownOperationDenied(t *testing.T) {
	f := newAuthFixture(t)
	h := f.ent.Require(domain.OperationKind("teleport"))(okHandler())

	rec := f.serve(h, "POST", "/api/teleport", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

// =============================================================================
// Stack Tests
// =============================================================================

func TestStack_OrdersOutermostFirst(t *testing.T) {
	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Stack(mark("a"), mark("b"), mark("c"))(okHandler())
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, []string{"a", "b", "c"}, order)
}
