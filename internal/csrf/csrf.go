// Package csrf protects cookie-authenticated API calls with the
// double-submit cookie pattern.
//
// A request authenticated by the session cookie gets a readable csrf_token
// cookie. Unsafe requests must echo that value in the X-CSRF-Token header.
// A cross-site page can make the browser send both cookies but cannot read
// them, so it cannot set the header. Bearer-token requests carry no ambient
// credential and are not checked.
package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/crewgate/internal/domain"
	"github.com/DukeRupert/crewgate/internal/handler"
)

// =============================================================================
// Configuration Constants
// =============================================================================

const (
	// CookieName is the name of the CSRF token cookie.
	CookieName = "csrf_token"

	// HeaderName carries the echoed token on unsafe requests.
	HeaderName = "X-CSRF-Token"

	// TokenLength is the number of random bytes for the token.
	TokenLength = 32

	// CookieMaxAge matches the session lifetime (7 days).
	CookieMaxAge = 7 * 24 * 3600
)

// =============================================================================
// Token Generation
// =============================================================================

// GenerateToken returns 32 random bytes, base64 URL-encoded.
func GenerateToken() (string, error) {
	b := make([]byte, TokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// ValidateToken compares the cookie token with the echoed token in
// constant time. Empty tokens never match.
func ValidateToken(cookieToken, headerToken string) bool {
	if cookieToken == "" || headerToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookieToken), []byte(headerToken)) == 1
}

// =============================================================================
// Middleware
// =============================================================================

// Middleware enforces double-submit on requests that present the session
// cookie without a bearer token.
type Middleware struct {
	sessionCookie string
	isSecure      bool
	logger        *slog.Logger
}

func NewMiddleware(sessionCookie string, isSecure bool, logger *slog.Logger) *Middleware {
	return &Middleware{
		sessionCookie: sessionCookie,
		isSecure:      isSecure,
		logger:        logger,
	}
}

// Handler issues the token cookie when missing and checks it on unsafe
// methods.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.cookieAuthenticated(r) {
			next.ServeHTTP(w, r)
			return
		}

		cookieToken := tokenFromCookie(r)

		if !isSafeMethod(r.Method) {
			if !ValidateToken(cookieToken, r.Header.Get(HeaderName)) {
				m.logger.Warn("csrf token mismatch", "path", r.URL.Path, "method", r.Method)
				handler.ErrorResponse(w, r, m.logger,
					domain.Forbidden("csrf.validate", "Missing or invalid CSRF token"))
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		if cookieToken == "" {
			token, err := GenerateToken()
			if err != nil {
				handler.InternalErrorResponse(w, r, m.logger, err)
				return
			}
			m.setCookie(w, token)
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) cookieAuthenticated(r *http.Request) bool {
	if r.Header.Get("Authorization") != "" {
		return false
	}
	c, err := r.Cookie(m.sessionCookie)
	return err == nil && c.Value != ""
}

// setCookie leaves HttpOnly off so the client can echo the value.
func (m *Middleware) setCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   CookieMaxAge,
		HttpOnly: false,
		Secure:   m.isSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func tokenFromCookie(r *http.Request) string {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
