// Package auth verifies bearer credentials and produces identity claims.
//
// Tokens are signed with a shared HS256 secret known only to the gateway
// and the auth service. Claims are request-scoped: they are extracted,
// used for the policy decision and header injection, and discarded.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Sentinel errors. Callers map ErrNoCredential to 401 and
// ErrInvalidCredential to 403.
var (
	// ErrNoCredential indicates the request carried no usable bearer
	// credential (missing or malformed Authorization header).
	ErrNoCredential = errors.New("no credential supplied")

	// ErrInvalidCredential indicates a credential was present but failed
	// signature or expiry validation.
	ErrInvalidCredential = errors.New("invalid credential")
)

// RoleAdmin is the role required for admin-only routes.
const RoleAdmin = "admin"

// Claims is the verified identity extracted from a bearer token.
type Claims struct {
	Subject   string
	Role      string
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IsAdmin reports whether the claims carry the admin role.
func (c *Claims) IsAdmin() bool {
	return c != nil && c.Role == RoleAdmin
}

const bearerPrefix = "Bearer "

// ExtractBearer extracts the bearer token from the Authorization header.
// A missing header or a value without the Bearer scheme returns
// ErrNoCredential, which is distinct from a present-but-invalid token.
func ExtractBearer(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrNoCredential
	}
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", ErrNoCredential
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", ErrNoCredential
	}
	return token, nil
}

// Verifier validates bearer tokens against the shared signing secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for the given shared secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify validates the token signature and expiry and returns the claims.
// All validation failures are reported as ErrInvalidCredential.
func (v *Verifier) Verify(ctx context.Context, token string) (*Claims, error) {
	parsed, err := jwt.Parse([]byte(token),
		jwt.WithKey(jwa.HS256, v.secret),
		jwt.WithValidate(true),
		jwt.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	claims := &Claims{
		Subject:   parsed.Subject(),
		IssuedAt:  parsed.IssuedAt(),
		ExpiresAt: parsed.Expiration(),
	}

	if role, ok := parsed.Get("role"); ok {
		if s, ok := role.(string); ok {
			claims.Role = s
		}
	}
	if email, ok := parsed.Get("email"); ok {
		if s, ok := email.(string); ok {
			claims.Email = s
		}
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidCredential)
	}

	return claims, nil
}
