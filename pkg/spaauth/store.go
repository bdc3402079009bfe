package spaauth

import (
	"context"
	"strings"
	"time"
)

// Property store keys for in-flight authorization state. Entries under
// these keys are single-use: written when a flow starts and removed when
// the code exchange consumes them.
const (
	propCodeVerifier = "codeVerifier"
	propNonce        = "nonce"
	propScope        = "scope"
	propUsername     = "username"
	propAuthKey      = "authKey"
)

// keyPrefix namespaces every persisted key so spaauth state can share a
// storage backend with the hosting application.
const keyPrefix = "spaauth"

// storeKey joins key parts under the spaauth namespace.
func storeKey(parts ...string) string {
	return keyPrefix + "." + strings.Join(parts, ".")
}

// PropertyStore is a short-lived key/value store for in-flight flow state
// (nonce, scope, code verifier). Entries are owned by the authorization
// attempt that wrote them.
type PropertyStore interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set writes the value for key.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}

// TokenStore is the durable token cache for one authority. Access tokens
// are keyed by resource; the identity-token and refresh-token slots are
// singular with last-writer-wins semantics.
//
// Reads are expiry-aware: an expired container is never returned, the
// read reports ErrNotFound instead.
type TokenStore interface {
	// AccessToken returns the unexpired access token for resource, or
	// ErrNotFound.
	AccessToken(ctx context.Context, resource string) (TokenContainer, error)

	// SetAccessToken stores the access token for resource.
	SetAccessToken(ctx context.Context, resource string, tc TokenContainer) error

	// IDToken returns the unexpired identity token, or ErrNotFound.
	IDToken(ctx context.Context) (TokenContainer, error)

	// SetIDToken stores the identity token.
	SetIDToken(ctx context.Context, tc TokenContainer) error

	// RefreshToken returns the stored refresh token, or ErrNotFound.
	RefreshToken(ctx context.Context) (string, error)

	// SetRefreshToken stores the refresh token, replacing any prior one.
	SetRefreshToken(ctx context.Context, token string) error

	// Clear removes all tokens for the authority.
	Clear(ctx context.Context) error
}

// AuthHistory records when authentication last succeeded for an
// authority. It lives in persistent storage independent of the token
// cache mode, so a fresh session can still prefer the silent path.
type AuthHistory interface {
	// LastSuccess returns the last successful authentication time, or
	// ErrNotFound if none is recorded.
	LastSuccess(ctx context.Context) (time.Time, error)

	// SetLastSuccess records a successful authentication.
	SetLastSuccess(ctx context.Context, t time.Time) error
}
