package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DukeRupert/crewgate/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionTokenLength is the length of a hex-encoded session token.
const SessionTokenLength = 64

// DefaultTokenTTL is the lifetime of tokens from IssueToken.
const DefaultTokenTTL = 24 * time.Hour

// Credentials are the raw credentials presented with a request.
type Credentials struct {
	SessionToken string // session cookie value
	BearerToken  string // Authorization: Bearer value
}

// PrincipalLoader loads stored principals. The storage collaborator
// satisfies it.
type PrincipalLoader interface {
	GetPrincipal(ctx context.Context, id uuid.UUID) (domain.Principal, error)
	GetPrincipalBySessionHash(ctx context.Context, tokenHash string) (domain.Principal, error)
}

// ResolverConfig holds the bearer token settings.
type ResolverConfig struct {
	Secret []byte
	Issuer string
	Clock  func() time.Time
}

// Resolver turns credentials into a principal.
//
// Resolve never fails: any problem with the credentials or with storage
// yields the anonymous principal. Tokens only name the user; tier and
// subscription fields always come from storage.
type Resolver struct {
	loader PrincipalLoader
	secret []byte
	issuer string
	clock  func() time.Time
	logger *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(loader PrincipalLoader, cfg ResolverConfig, logger *slog.Logger) *Resolver {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Resolver{
		loader: loader,
		secret: cfg.Secret,
		issuer: cfg.Issuer,
		clock:  clock,
		logger: logger,
	}
}

// Resolve returns the principal named by the credentials, or the anonymous
// principal. A bearer token takes precedence over a session token.
func (r *Resolver) Resolve(ctx context.Context, creds Credentials) domain.Principal {
	var (
		p   domain.Principal
		err error
	)

	switch {
	case creds.BearerToken != "":
		p, err = r.resolveBearer(ctx, creds.BearerToken)
	case creds.SessionToken != "":
		p, err = r.resolveSession(ctx, creds.SessionToken)
	default:
		return domain.Anonymous()
	}

	if err != nil {
		r.logger.Debug("Credential resolution failed", "error", err)
		return domain.Anonymous()
	}
	if !p.IsAuthenticated() {
		return domain.Anonymous()
	}
	return p
}

func (r *Resolver) resolveSession(ctx context.Context, token string) (domain.Principal, error) {
	if len(token) != SessionTokenLength {
		return domain.Principal{}, errors.New("malformed session token")
	}
	if _, err := hex.DecodeString(token); err != nil {
		return domain.Principal{}, errors.New("malformed session token")
	}
	return r.loader.GetPrincipalBySessionHash(ctx, HashSessionToken(token))
}

func (r *Resolver) resolveBearer(ctx context.Context, raw string) (domain.Principal, error) {
	if len(r.secret) == 0 {
		return domain.Principal{}, errors.New("bearer tokens are not configured")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(r.clock),
	}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, opts...)
	if err != nil {
		return domain.Principal{}, fmt.Errorf("parse bearer token: %w", err)
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return domain.Principal{}, fmt.Errorf("bearer subject: %w", err)
	}
	return r.loader.GetPrincipal(ctx, id)
}

// IssueToken signs a bearer token for userID. It is used by the development
// seed and by tests; production tokens come from the auth collaborator.
func (r *Resolver) IssueToken(userID uuid.UUID, ttl time.Duration) (string, error) {
	if len(r.secret) == 0 {
		return "", errors.New("bearer tokens are not configured")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := r.clock()
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		Issuer:    r.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}

// HashSessionToken returns the SHA-256 hex digest stored for a session token.
func HashSessionToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
