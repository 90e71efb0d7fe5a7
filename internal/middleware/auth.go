// Package middleware contains HTTP middleware for the crewgate service.
//
// Middleware functions follow the standard Go pattern of wrapping http.Handler.
// They are designed to be composed using a middleware stack approach.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/DukeRupert/crewgate/internal/auth"
	"github.com/DukeRupert/crewgate/internal/domain"
	"github.com/DukeRupert/crewgate/internal/handler"
	"github.com/DukeRupert/crewgate/internal/service"
)

// =============================================================================
// Configuration Constants
// =============================================================================

const (
	// SessionCookieName is the name of the cookie that carries the session token.
	SessionCookieName = "crewgate_session"

	// SessionCookiePath ensures the cookie is sent with all requests.
	SessionCookiePath = "/"
)

// =============================================================================
// Principal Middleware
// =============================================================================

// PrincipalMiddleware resolves request credentials to a principal.
type PrincipalMiddleware struct {
	resolver *auth.Resolver
	logger   *slog.Logger
	isSecure bool // Whether to set Secure flag on cookies (true in production)
}

// NewPrincipalMiddleware creates a new PrincipalMiddleware instance.
func NewPrincipalMiddleware(resolver *auth.Resolver, logger *slog.Logger, isSecure bool) *PrincipalMiddleware {
	return &PrincipalMiddleware{
		resolver: resolver,
		logger:   logger,
		isSecure: isSecure,
	}
}

// Resolve stores the request's principal in the context and always continues.
// Requests without usable credentials carry the anonymous principal.
//
// Flow:
//
//	Request -> Resolve -> Handler
//	           |
//	           +-> Read Authorization header and session cookie
//	           +-> Resolve principal (anonymous on any failure)
//	           +-> Clear a session cookie that did not resolve
//	           +-> Call next handler (always)
func (m *PrincipalMiddleware) Resolve(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		creds := auth.Credentials{BearerToken: bearerToken(r)}
		if cookie, err := r.Cookie(SessionCookieName); err == nil {
			creds.SessionToken = cookie.Value
		}

		p := m.resolver.Resolve(r.Context(), creds)
		if !p.IsAuthenticated() && creds.SessionToken != "" && creds.BearerToken == "" {
			clearSessionCookie(w, m.isSecure)
		}

		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

// =============================================================================
// RequireUser Middleware
// =============================================================================

// RequireUser rejects anonymous principals with 401.
//
// IMPORTANT: This middleware must be used AFTER Resolve in the middleware chain.
func RequireUser(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !auth.GetPrincipal(r.Context()).IsAuthenticated() {
				handler.UnauthorizedResponse(w, r, logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// Entitlement Middleware
// =============================================================================

// EntitlementMiddleware gates routes on the operation catalog.
type EntitlementMiddleware struct {
	entitlements service.EntitlementService
	logger       *slog.Logger
}

// NewEntitlementMiddleware creates a new EntitlementMiddleware instance.
func NewEntitlementMiddleware(entitlements service.EntitlementService, logger *slog.Logger) *EntitlementMiddleware {
	return &EntitlementMiddleware{
		entitlements: entitlements,
		logger:       logger,
	}
}

// Require returns middleware that lets the request through only when the
// principal is entitled to op. For metered operations it only checks that
// quota remains; the handler spends the unit through a QuotaMeter once the
// request is known to be valid. Any error denies the request.
//
// IMPORTANT: This middleware must be used AFTER Resolve in the middleware chain.
//
// Usage:
//
//	mux.Handle("POST /api/exports", stack(entMw.Require(domain.OperationExport)(exportHandler)))
func (m *EntitlementMiddleware) Require(op domain.OperationKind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := auth.GetPrincipal(r.Context())

			if _, err := m.entitlements.CheckEntitlement(r.Context(), p, op); err != nil {
				handler.ErrorResponse(w, r, m.logger, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// Quota Meter
// =============================================================================

// QuotaMeter spends one unit of the daily quota for a metered operation.
// Authenticated principals are counted in storage by the conditional
// increment; anonymous principals are counted per client IP.
type QuotaMeter struct {
	entitlements service.EntitlementService
	anonymous    *AnonymousLimiter // nil leaves anonymous requests unmetered
}

// NewQuotaMeter creates a new QuotaMeter.
func NewQuotaMeter(entitlements service.EntitlementService, anonymous *AnonymousLimiter) *QuotaMeter {
	return &QuotaMeter{
		entitlements: entitlements,
		anonymous:    anonymous,
	}
}

// Spend records one metered unit for the request's principal. It returns
// QuotaExceeded, recording nothing, when no unit is left.
func (m *QuotaMeter) Spend(r *http.Request) error {
	p := auth.GetPrincipal(r.Context())
	if !p.IsAuthenticated() {
		if m.anonymous == nil {
			return nil
		}
		return m.anonymous.Spend(r)
	}

	_, err := m.entitlements.ConsumeQuota(r.Context(), p)
	return err
}

// =============================================================================
// Cookie Helpers
// =============================================================================

// clearSessionCookie removes the session cookie from the client.
func clearSessionCookie(w http.ResponseWriter, isSecure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     SessionCookiePath,
		MaxAge:   -1, // Delete immediately
		HttpOnly: true,
		Secure:   isSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// =============================================================================
// Request Helpers
// =============================================================================

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// =============================================================================
// Middleware Stack Helpers
// =============================================================================

// Stack composes multiple middleware functions into a single middleware.
//
// Middleware is applied in the order provided, meaning the first middleware
// in the slice is the outermost (runs first on request, last on response).
//
// Example:
//
//	stack := Stack(loggingMw, principalMw.Resolve, RequireUser(logger))
//	mux.Handle("GET /api/referrals/stats", stack(statsHandler))
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// =============================================================================
// Compile-time checks
// =============================================================================

var (
	_ func(http.Handler) http.Handler = (&PrincipalMiddleware{}).Resolve
	_ handler.QuotaMeter                = (*QuotaMeter)(nil)
)
