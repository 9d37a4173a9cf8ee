/*
Package auth provides operator authentication for the HTTP surface.

PURPOSE:
  The engine itself never authenticates anyone - it receives an operator
  name and records it. Who that operator is, and whether they may call
  the API at all, is a policy decision injected through the AuthProvider
  capability. This package ships the pieces the server wires together:

  - AuthProvider: authenticate(username, password) -> Principal
  - StaticProvider: credential table seeded from configuration, bcrypt
    hashed. Enough for a single-warehouse deployment; swap in an LDAP or
    SSO provider without touching the engine.
  - TokenIssuer: stateless JWT sessions (HS256)
  - RequireAuth: chi middleware putting the Principal on the context

SEE ALSO:
  - api/server.go: mounts RequireAuth in front of the stock routes
  - cmd/server/main.go: builds the StaticProvider from config
*/
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for a wrong username or password.
// Deliberately one error for both cases.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Principal is an authenticated operator.
type Principal struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// AuthProvider authenticates operators. Implementations decide where
// credentials live and what a valid session is.
type AuthProvider interface {
	Authenticate(ctx context.Context, username, password string) (*Principal, error)
}

// =============================================================================
// STATIC PROVIDER
// =============================================================================

// Credential is one configured operator account.
type Credential struct {
	Username     string
	DisplayName  string
	PasswordHash string // bcrypt
}

// StaticProvider authenticates against a fixed credential table.
type StaticProvider struct {
	byUsername map[string]Credential
}

// dummyHash absorbs a comparison for unknown usernames so they cost the
// same as a wrong password.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy"), bcrypt.DefaultCost)

// NewStaticProvider builds a provider from configured credentials.
func NewStaticProvider(creds []Credential) *StaticProvider {
	byUsername := make(map[string]Credential, len(creds))
	for _, c := range creds {
		byUsername[strings.TrimSpace(c.Username)] = c
	}
	return &StaticProvider{byUsername: byUsername}
}

// Authenticate checks the password against the stored bcrypt hash.
func (p *StaticProvider) Authenticate(ctx context.Context, username, password string) (*Principal, error) {
	cred, ok := p.byUsername[strings.TrimSpace(username)]
	if !ok {
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	name := cred.DisplayName
	if name == "" {
		name = cred.Username
	}
	return &Principal{Username: cred.Username, DisplayName: name}, nil
}

// HashPassword hashes a plaintext password for storage in configuration.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// =============================================================================
// JWT SESSIONS
// =============================================================================

type sessionClaims struct {
	DisplayName string `json:"display_name"`
	jwt.RegisteredClaims
}

// TokenIssuer issues and verifies session tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer creates an issuer. ttl <= 0 defaults to 24h.
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}
}

// Issue creates a signed session token for a principal.
func (t *TokenIssuer) Issue(p Principal) (string, time.Time, error) {
	expiresAt := time.Now().Add(t.ttl)
	claims := &sessionClaims{
		DisplayName: p.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Username,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, expiresAt, nil
}

// Verify parses a session token and returns its principal.
func (t *TokenIssuer) Verify(tokenStr string) (*Principal, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &sessionClaims{}, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredentials
	}
	claims, ok := token.Claims.(*sessionClaims)
	if !ok {
		return nil, ErrInvalidCredentials
	}
	name := claims.DisplayName
	if name == "" {
		name = claims.Subject
	}
	return &Principal{Username: claims.Subject, DisplayName: name}, nil
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

type contextKey struct{}

// FromContext returns the authenticated principal, if any.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(*Principal)
	return p, ok
}

// RequireAuth rejects requests without a valid "Authorization: Bearer"
// token and puts the principal on the request context.
func RequireAuth(issuer *TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
				return
			}
			principal, err := issuer.Verify(strings.TrimSpace(parts[1]))
			if err != nil {
				http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), contextKey{}, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
