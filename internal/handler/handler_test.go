package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DukeRupert/crewgate/internal/auth"
	"github.com/DukeRupert/crewgate/internal/domain"
	"github.com/DukeRupert/crewgate/internal/service"
	"github.com/DukeRupert/crewgate/internal/store"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

// apiFixture wires the handlers to an in-memory store. Requests carry the
// principal directly in the context, standing in for the principal middleware.
type apiFixture struct {
	mem          *store.Memory
	quota        service.QuotaService
	entitlements service.EntitlementService
	referrals    service.ReferralService
	mux          *http.ServeMux
}

func passThrough(next http.Handler) http.Handler { return next }

// storageMeter spends authenticated quota in the store, as the middleware
// meter does, and leaves anonymous requests unmetered.
type storageMeter struct {
	entitlements service.EntitlementService
}

func (m storageMeter) Spend(r *http.Request) error {
	p := auth.GetPrincipal(r.Context())
	if !p.IsAuthenticated() {
		return nil
	}
	_, err := m.entitlements.ConsumeQuota(r.Context(), p)
	return err
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	clock := func() time.Time { return testNow }
	mem := store.NewMemory(clock)
	logger := discardLogger()

	quota := service.NewQuotaService(mem, service.QuotaConfig{Clock: clock}, logger)
	ents := service.NewEntitlementService(quota, service.EntitlementConfig{Clock: clock}, logger)
	refs := service.NewReferralService(mem, service.ReferralConfig{Clock: clock}, logger)

	f := &apiFixture{
		mem:          mem,
		quota:        quota,
		entitlements: ents,
		referrals:    refs,
		mux:          http.NewServeMux(),
	}

	NewUsageHandler(quota, ents, time.UTC, logger).RegisterRoutes(f.mux, passThrough)
	NewReferralHandler(refs, nil, logger).RegisterRoutes(f.mux, passThrough)
	NewOperationHandler(quota, storageMeter{entitlements: ents}, logger).RegisterRoutes(f.mux,
		func(domain.OperationKind) func(http.Handler) http.Handler { return passThrough },
		passThrough,
	)
	NewHealthHandler(nil, logger).RegisterRoutes(f.mux)
	return f
}

func (f *apiFixture) do(t *testing.T, p domain.Principal, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "203.0.113.9:4242"
	req = req.WithContext(auth.WithPrincipal(req.Context(), p))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}
