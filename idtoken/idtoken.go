// Package idtoken inspects provider-issued ID tokens without verifying
// them.
//
// The identity provider is the sole verification authority; flocksync only
// needs a best-effort read of the expiry hint and profile claims to size
// the refresh window and populate the session. Opaque or malformed tokens
// yield zero values, never a failure that could surface as a logout.
package idtoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of ID token claims flocksync reads.
type Claims struct {
	Subject       string
	Email         string
	Name          string
	EmailVerified bool
	ExpiresAt     time.Time
}

var errNotAToken = errors.New("not a JWT")

// Inspect decodes raw without signature verification and extracts the
// claims flocksync cares about. Tokens that are not JWTs return an error
// the caller is expected to tolerate.
func Inspect(raw string) (Claims, error) {
	if raw == "" {
		return Claims{}, errNotAToken
	}

	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return Claims{}, errNotAToken
	}

	out := Claims{}
	if sub, err := claims.GetSubject(); err == nil {
		out.Subject = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	if email, ok := claims["email"].(string); ok {
		out.Email = email
	}
	if name, ok := claims["name"].(string); ok {
		out.Name = name
	}
	if verified, ok := claims["email_verified"].(bool); ok {
		out.EmailVerified = verified
	}
	return out, nil
}

// ExpiryHint returns the token's expiry, or the zero time for opaque or
// malformed tokens.
func ExpiryHint(raw string) time.Time {
	claims, err := Inspect(raw)
	if err != nil {
		return time.Time{}
	}
	return claims.ExpiresAt
}
