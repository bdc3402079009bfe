package spaauth

import (
	"errors"
	"fmt"
)

// OAuth2 error codes (RFC 6749 and OpenID Connect Core) the engine reacts
// to. Codes in the first block drive prompt escalation between popup
// attempts.
const (
	ErrorCodeInteractionRequired      = "interaction_required"
	ErrorCodeLoginRequired            = "login_required"
	ErrorCodeConsentRequired          = "consent_required"
	ErrorCodeAccountSelectionRequired = "account_selection_required"

	ErrorCodeInvalidRequest = "invalid_request"
	ErrorCodeInvalidGrant   = "invalid_grant"
	ErrorCodeInvalidScope   = "invalid_scope"
	ErrorCodeAccessDenied   = "access_denied"
	ErrorCodeServerError    = "server_error"
)

// OAuth2Error is a structured error response from the token or authorize
// endpoint.
type OAuth2Error struct {
	// StatusCode is the HTTP status the error arrived with, zero when the
	// error came from a redirect query string.
	StatusCode int `json:"-"`

	// Code is the OAuth2 error code (e.g. "invalid_grant").
	Code string `json:"error"`

	// Description is the human-readable error description.
	Description string `json:"error_description"`

	// URI optionally points at documentation for the error.
	URI string `json:"error_uri,omitempty"`
}

// Error implements the error interface.
func (e *OAuth2Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

var (
	// ErrNotFound reports a missing store entry.
	ErrNotFound = errors.New("spaauth: not found")

	// ErrNoEndpoint reports that an endpoint URI could not be resolved
	// from either explicit configuration or discovery metadata. Fatal for
	// any flow that needs the endpoint.
	ErrNoEndpoint = errors.New("spaauth: could not resolve endpoint uri")

	// ErrFlowState reports missing or already-consumed PKCE flow state
	// (nonce, scope, code verifier) at exchange time. This is a flow
	// integrity violation, not a retryable condition: it means the code
	// being exchanged cannot be tied to the attempt that requested it.
	ErrFlowState = errors.New("spaauth: authorization flow state missing")
)
