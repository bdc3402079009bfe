// Package jwtx decodes compact JWT strings into claims without verifying
// signatures. spaauth is an OAuth2 client, not a resource server: tokens
// are decoded only to read expiry and advertise claims to the hosting
// application, never to make authorization decisions.
package jwtx

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformed reports a string that is not a decodable compact JWT.
var ErrMalformed = errors.New("jwtx: malformed token")

// Token is a read-only view of a decoded JWT. The zero value represents
// "no token".
type Token struct {
	// Raw is the original encoded token string.
	Raw string

	Subject  string
	Issuer   string
	Audience []string

	// Scopes holds the token's granted scopes, read from the "scp" or
	// "scope" claim (either space-delimited string or array form).
	Scopes []string

	// Expiry is the absolute expiry from the "exp" claim, nil when the
	// token carries none.
	Expiry *time.Time

	// Claims is the full decoded claim set for anything not surfaced
	// above.
	Claims map[string]any
}

// IsZero reports whether the token is empty.
func (t Token) IsZero() bool { return t.Raw == "" }

// Valid reports whether the token has not expired at the given time.
// Tokens without an exp claim are treated as valid until replaced.
func (t Token) Valid(now time.Time) bool {
	if t.Raw == "" {
		return false
	}
	return t.Expiry == nil || now.Before(*t.Expiry)
}

// HasScope reports whether the token's scope claim includes scope.
func (t Token) HasScope(scope string) bool {
	for _, s := range t.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Parse decodes a compact JWT without verifying its signature.
func Parse(raw string) (Token, error) {
	claims := jwt.MapClaims{}

	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return Token{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	tok := Token{
		Raw:    raw,
		Claims: map[string]any(claims),
	}

	if sub, err := claims.GetSubject(); err == nil {
		tok.Subject = sub
	}
	if iss, err := claims.GetIssuer(); err == nil {
		tok.Issuer = iss
	}
	if aud, err := claims.GetAudience(); err == nil {
		tok.Audience = []string(aud)
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		t := exp.Time.UTC()
		tok.Expiry = &t
	}
	tok.Scopes = scopeClaim(claims)

	return tok, nil
}

// scopeClaim extracts scopes from the "scp" or "scope" claim. Azure AD
// uses "scp" as a space-delimited string; other providers use "scope" or
// an array form.
func scopeClaim(claims jwt.MapClaims) []string {
	for _, name := range []string{"scp", "scope", "scopes"} {
		switch v := claims[name].(type) {
		case string:
			if v == "" {
				continue
			}
			return strings.Fields(v)
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok {
					out = append(out, s)
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}
	return nil
}
