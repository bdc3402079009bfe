package spaauth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// TokenResponse is the token endpoint's JSON response for both the
// authorization_code and refresh_token grants.
type TokenResponse struct {
	// AccessToken is the access token for the requested resource.
	AccessToken string `json:"access_token"`

	// RefreshToken is the rotating refresh token, when granted.
	RefreshToken string `json:"refresh_token,omitempty"`

	// IDToken is the OpenID Connect identity token, when granted.
	IDToken string `json:"id_token,omitempty"`

	// TokenType is typically "Bearer".
	TokenType string `json:"token_type"`

	// Scope is the space-delimited list of scopes actually granted.
	Scope string `json:"scope,omitempty"`

	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int `json:"expires_in"`

	// ExpiresAt is the absolute UTC expiry, computed exactly once when
	// the response is received. Zero when the response carried no
	// expires_in.
	ExpiresAt time.Time `json:"-"`
}

// stampExpiry fixes the absolute expiry relative to the receipt time.
func (t *TokenResponse) stampExpiry(receivedAt time.Time) {
	if t.ExpiresIn > 0 {
		t.ExpiresAt = receivedAt.UTC().Add(time.Duration(t.ExpiresIn) * time.Second)
	}
}

// accessContainer wraps the access token for storage.
func (t *TokenResponse) accessContainer() TokenContainer {
	tc := TokenContainer{Token: t.AccessToken}
	if !t.ExpiresAt.IsZero() {
		exp := t.ExpiresAt
		tc.Expires = &exp
	}
	return tc
}

// TokenContainer wraps a raw encoded token with an optional absolute UTC
// expiry. A nil expiry means "no known expiry": valid until explicitly
// cleared or replaced.
type TokenContainer struct {
	Token   string     `json:"token"`
	Expires *time.Time `json:"expires,omitempty"`
}

// Valid reports whether the container holds a token that has not expired
// at the given time.
func (c TokenContainer) Valid(now time.Time) bool {
	if c.Token == "" {
		return false
	}
	return c.Expires == nil || now.Before(*c.Expires)
}

// FailureReason classifies why an authorization-code attempt produced no
// code. These are expected outcomes that drive retry logic, not errors.
type FailureReason int

const (
	FailureNone FailureReason = iota
	FailureBlocked
	FailureCancelledByUser
	FailureTimedOut
	FailureSystem
	FailureIdPError
)

// String returns the reason name.
func (r FailureReason) String() string {
	switch r {
	case FailureNone:
		return "none"
	case FailureBlocked:
		return "blocked"
	case FailureCancelledByUser:
		return "cancelled_by_user"
	case FailureTimedOut:
		return "timed_out"
	case FailureSystem:
		return "system_failure"
	case FailureIdPError:
		return "idp_error"
	default:
		return fmt.Sprintf("failure(%d)", int(r))
	}
}

// CodeResult is the outcome of an authorization-code attempt. Exactly one
// of Code and Failure is set: a result with a code never carries a
// failure reason, and vice versa.
type CodeResult struct {
	// Code is the authorization code, empty on failure.
	Code string

	// Failure is FailureNone on success.
	Failure FailureReason

	// OAuth error details from the IdP, set for FailureIdPError.
	ErrorCode        string
	ErrorDescription string
	ErrorURI         string
}

// Succeeded reports whether a code was obtained.
func (r CodeResult) Succeeded() bool { return r.Code != "" }

// LoginState is the JSON payload carried base64url-encoded in the
// authorize request's state parameter and returned by the IdP untouched.
type LoginState struct {
	// URI is the in-application location to restore after the round trip.
	URI string `json:"uri,omitempty"`

	// ApplicationState is an opaque application-provided value.
	ApplicationState string `json:"applicationState,omitempty"`

	// AuthorityKey names the authority that started the flow, so the
	// callback can be routed when several are registered.
	AuthorityKey string `json:"authorityKey,omitempty"`
}

// Encode renders the state as unpadded base64url JSON.
func (s LoginState) Encode() (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to encode login state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeLoginState parses a state parameter produced by Encode.
func DecodeLoginState(encoded string) (LoginState, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return LoginState{}, fmt.Errorf("failed to decode login state: %w", err)
	}

	var s LoginState
	if err := json.Unmarshal(raw, &s); err != nil {
		return LoginState{}, fmt.Errorf("failed to decode login state: %w", err)
	}
	return s, nil
}
