// Package auth resolves request credentials to a principal and carries the
// principal through the request context.
//
// This package is designed to be imported by both middleware and handler
// packages without causing import cycles.
package auth

import (
	"context"
	"net/http"

	"github.com/DukeRupert/crewgate/internal/domain"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// principalContextKey is the key used to store the resolved principal in context.
	principalContextKey contextKey = "principal"
)

// GetPrincipal retrieves the resolved principal from the context.
//
// Returns the anonymous principal if none was stored, so callers never see a
// partially populated value.
//
// Usage:
//
//	p := auth.GetPrincipal(r.Context())
//	if !p.IsAuthenticated() {
//	    // Handle anonymous request
//	}
func GetPrincipal(ctx context.Context) domain.Principal {
	p, ok := ctx.Value(principalContextKey).(domain.Principal)
	if !ok {
		return domain.Anonymous()
	}
	return p
}

// GetPrincipalFromRequest retrieves the principal from the request context.
func GetPrincipalFromRequest(r *http.Request) domain.Principal {
	return GetPrincipal(r.Context())
}

// WithPrincipal stores a principal in the context.
//
// This is typically called by the principal middleware after resolving the
// request credentials.
func WithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}
