package spaauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// testJWT builds an unsigned compact JWT; the engine never verifies
// signatures, so alg=none tokens are sufficient for tests.
func testJWT(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	return raw
}

// fakeIdP is an httptest-backed identity provider serving the token
// endpoint and a discovery document. Issued access tokens carry the
// requested scope in their scp claim so tests can check partitioning.
type fakeIdP struct {
	t   *testing.T
	srv *httptest.Server

	mu           sync.Mutex
	tokenCalls   []url.Values
	metadataHits int

	// grantRefresh includes a refresh token in code-exchange responses.
	grantRefresh bool

	// includeIDToken adds an id_token to code-exchange responses;
	// idTokenNonce sets its nonce claim when non-empty.
	includeIDToken bool
	idTokenNonce   string

	// rotateRefresh rotates the refresh token on every refresh grant.
	rotateRefresh bool

	// failScopes lists scope strings whose refresh grant fails with
	// invalid_scope.
	failScopes map[string]bool

	// refreshToken is the currently accepted refresh token.
	refreshToken string

	rotation int
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()

	idp := &fakeIdP{
		t:            t,
		grantRefresh: true,
		refreshToken: "refresh-1",
		failScopes:   make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", idp.handleToken)
	mux.HandleFunc("/.well-known/openid-configuration", idp.handleMetadata)

	idp.srv = httptest.NewServer(mux)
	t.Cleanup(idp.srv.Close)
	return idp
}

func (idp *fakeIdP) handleMetadata(w http.ResponseWriter, _ *http.Request) {
	idp.mu.Lock()
	idp.metadataHits++
	idp.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(MetadataDocument{
		Issuer:                idp.srv.URL,
		AuthorizationEndpoint: idp.srv.URL + "/authorize",
		TokenEndpoint:         idp.srv.URL + "/token",
		EndSessionEndpoint:    idp.srv.URL + "/logout",
	})
}

func (idp *fakeIdP) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	idp.mu.Lock()
	idp.tokenCalls = append(idp.tokenCalls, r.PostForm)
	idp.mu.Unlock()

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		idp.handleCodeGrant(w, r.PostForm)
	case "refresh_token":
		idp.handleRefreshGrant(w, r.PostForm)
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "")
	}
}

func (idp *fakeIdP) handleCodeGrant(w http.ResponseWriter, form url.Values) {
	if form.Get("code") == "" || form.Get("code_verifier") == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "code and code_verifier required")
		return
	}
	if form.Get("code") == "bad-code" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "authorization code expired")
		return
	}

	scope := "openid profile"
	resp := map[string]any{
		"access_token": testJWT(idp.t, jwt.MapClaims{
			"scp": scope,
			"exp": time.Now().Add(time.Hour).Unix(),
		}),
		"token_type": "Bearer",
		"scope":      scope,
		"expires_in": 3600,
	}

	idp.mu.Lock()
	if idp.grantRefresh {
		resp["refresh_token"] = idp.refreshToken
	}
	if idp.includeIDToken {
		claims := jwt.MapClaims{
			"sub":                "user-1",
			"preferred_username": "user@example.com",
			"exp":                time.Now().Add(time.Hour).Unix(),
		}
		if idp.idTokenNonce != "" {
			claims["nonce"] = idp.idTokenNonce
		}
		resp["id_token"] = testJWT(idp.t, claims)
	}
	idp.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (idp *fakeIdP) handleRefreshGrant(w http.ResponseWriter, form url.Values) {
	idp.mu.Lock()
	current := idp.refreshToken
	idp.mu.Unlock()

	if form.Get("refresh_token") != current {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_grant", "unknown refresh token")
		return
	}

	scope := form.Get("scope")
	if idp.failScopes[scope] {
		writeOAuthError(w, http.StatusBadRequest, "invalid_scope", "scope not allowed")
		return
	}

	resp := map[string]any{
		"access_token": testJWT(idp.t, jwt.MapClaims{
			"scp": scope,
			"exp": time.Now().Add(time.Hour).Unix(),
		}),
		"token_type": "Bearer",
		"scope":      scope,
		"expires_in": 3600,
	}

	if idp.rotateRefresh {
		idp.mu.Lock()
		idp.rotation++
		idp.refreshToken = "refresh-rotated-" + strconv.Itoa(idp.rotation)
		resp["refresh_token"] = idp.refreshToken
		idp.mu.Unlock()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (idp *fakeIdP) calls() []url.Values {
	idp.mu.Lock()
	defer idp.mu.Unlock()
	return append([]url.Values(nil), idp.tokenCalls...)
}

func (idp *fakeIdP) callsByGrant(grant string) []url.Values {
	var out []url.Values
	for _, call := range idp.calls() {
		if call.Get("grant_type") == grant {
			out = append(out, call)
		}
	}
	return out
}

func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}

// testAuthority returns authority options pointing at the fake IdP with
// explicit endpoints.
func testAuthority(idp *fakeIdP) AuthorityOptions {
	return AuthorityOptions{
		Name:                  "test",
		ClientID:              "client-1",
		AuthorizationEndpoint: idp.srv.URL + "/authorize",
		TokenEndpoint:         idp.srv.URL + "/token",
		EndSessionEndpoint:    idp.srv.URL + "/logout",
		RedirectURI:           "https://app.example.com/callback",
	}.withDefaults()
}

// fakeChannel is a scriptable interactive channel that records every
// request it receives.
type fakeChannel struct {
	mu    sync.Mutex
	opens []ChannelRequest

	// script resolves each invocation; when nil every open succeeds with
	// a redirect carrying "code-1".
	script func(ctx context.Context, req ChannelRequest) (ChannelResult, error)
}

func (c *fakeChannel) Open(ctx context.Context, req ChannelRequest) (ChannelResult, error) {
	c.mu.Lock()
	c.opens = append(c.opens, req)
	c.mu.Unlock()

	if c.script != nil {
		return c.script(ctx, req)
	}
	return successResult("code-1"), nil
}

func (c *fakeChannel) requests() []ChannelRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ChannelRequest(nil), c.opens...)
}

func successResult(code string) ChannelResult {
	return ChannelResult{RedirectURL: "https://app.example.com/callback?code=" + code}
}

func idpErrorResult(code string) ChannelResult {
	return ChannelResult{RedirectURL: "https://app.example.com/callback?error=" + code}
}

// queryOf parses the query string of an authorize URL.
func queryOf(t *testing.T, rawURL string) url.Values {
	t.Helper()

	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return u.Query()
}

// seedFlowState writes PKCE flow state the way the code provider does.
func seedFlowState(t *testing.T, props PropertyStore, nonce, scope, verifier string) {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, props.Set(ctx, propNonce, nonce))
	require.NoError(t, props.Set(ctx, propScope, scope))
	require.NoError(t, props.Set(ctx, propCodeVerifier, verifier))
}
