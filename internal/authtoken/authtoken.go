// Package authtoken issues and validates short-lived JWT session tokens
// for admin convenience: an admin exchanges a username/secret once and
// reuses the token instead of re-presenting credentials on every call.
// This is layered on top of KeyManager, not a replacement for it — the
// Auth middleware stage still validates a bearer user:secret credential
// on every request.
package authtoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identifies the admin session: the authenticated username and
// tenant scope (empty for a global admin).
type Claims struct {
	Username   string `json:"username"`
	TenantCode string `json:"tenant_code"`
	jwt.RegisteredClaims
}

const defaultTTL = 24 * time.Hour

// Issuer signs and verifies session tokens with a single HMAC secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

func New(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl}
}

// Issue signs a new session token for username bound to tenant (empty
// for global admins).
func (i *Issuer) Issue(username, tenant string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Username:   username,
		TenantCode: tenant,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Validate parses and verifies a session token, returning its claims.
func (i *Issuer) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("authtoken: invalid token")
	}
	return claims, nil
}
