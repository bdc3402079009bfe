package spaauth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/aussiebroadwan/spaauth/pkg/jwtx"
	"github.com/aussiebroadwan/spaauth/pkg/scopes"
	"github.com/aussiebroadwan/spaauth/pkg/slogx"
)

// CodeExchanger trades an authorization code for tokens at the token
// endpoint, seeds the refresh token, and fans out into per-resource
// refresh calls so every resource named by the original request gets its
// own access token.
type CodeExchanger struct {
	Authority  AuthorityOptions
	HTTPClient *http.Client
	Resolver   *EndpointResolver
	Tokens     TokenStore
	Props      PropertyStore
	Refresher  *TokenRefresher
}

// Process exchanges code for tokens. The flow state written by the code
// provider (nonce, scope, code verifier) is consumed first and removed
// whether or not the exchange succeeds, so it can never be replayed.
// Missing flow state is a flow-integrity error (ErrFlowState): the code
// cannot be tied to the attempt that requested it.
//
// A successful exchange fully supersedes prior session state; the token
// store is cleared before the new tokens are written.
func (e *CodeExchanger) Process(ctx context.Context, code string) error {
	l := slogx.FromContext(ctx)

	nonce, nonceErr := e.Props.Get(ctx, propNonce)
	scopeStr, scopeErr := e.Props.Get(ctx, propScope)
	verifier, verifierErr := e.Props.Get(ctx, propCodeVerifier)

	// Single use: gone before any network call, success or not.
	for _, key := range []string{propNonce, propScope, propCodeVerifier, propAuthKey} {
		if err := e.Props.Remove(ctx, key); err != nil {
			l.Warn("failed to remove flow state", slog.String("key", key), slog.Any("error", err))
		}
	}

	if nonceErr != nil || scopeErr != nil || verifierErr != nil {
		return fmt.Errorf("%w: nonce/scope/verifier not present at exchange time", ErrFlowState)
	}

	endpoint, err := e.Resolver.TokenEndpoint(ctx, e.Authority)
	if err != nil {
		return err
	}

	// New exchange supersedes any prior session's tokens entirely.
	if err := e.Tokens.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear token store: %w", err)
	}

	resp, err := requestToken(ctx, e.HTTPClient, endpoint, url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {e.Authority.ClientID},
		"code":          {code},
		"code_verifier": {verifier},
		"redirect_uri":  {e.Authority.RedirectURI},
	})
	if err != nil {
		l.Warn("authorization code exchange failed", slog.Any("error", err))
		return fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	if resp.IDToken != "" {
		if err := e.storeIdentity(ctx, resp.IDToken, nonce); err != nil {
			return err
		}
	}

	// Surface the access token obtained directly from the exchange, even
	// when no refresh token was granted to fan out with.
	if resp.AccessToken != "" {
		resource := exchangeResource(resp.Scope, scopeStr)
		if err := e.Tokens.SetAccessToken(ctx, resource, resp.accessContainer()); err != nil {
			return err
		}
	}

	if resp.RefreshToken == "" {
		l.Debug("token endpoint granted no refresh token, skipping per-resource refresh")
		return nil
	}

	if err := e.Tokens.SetRefreshToken(ctx, resp.RefreshToken); err != nil {
		return err
	}

	// Mint a token per resource named by the originally-requested scope,
	// beyond whatever resource the exchange itself covered.
	for _, group := range scopes.Analyze(scopes.Split(scopeStr)) {
		refreshed, err := e.Refresher.Refresh(ctx, RefreshOptions{
			RefreshToken: resp.RefreshToken,
			Scopes:       group.Values(),
		})
		if err != nil {
			return err
		}
		if !refreshed {
			l.Warn("could not mint token for resource", slog.String("resource", group.Resource))
		}
	}

	return nil
}

// storeIdentity validates the identity token's nonce against the flow's
// and stores it, recording the username claim for later display.
func (e *CodeExchanger) storeIdentity(ctx context.Context, idToken, nonce string) error {
	parsed, err := jwtx.Parse(idToken)
	if err != nil {
		// Undecodable identity token: store as-is, nothing to validate.
		return e.Tokens.SetIDToken(ctx, TokenContainer{Token: idToken})
	}

	if claimed, ok := parsed.Claims["nonce"].(string); ok && claimed != nonce {
		return fmt.Errorf("%w: identity token nonce mismatch", ErrFlowState)
	}

	if err := e.Tokens.SetIDToken(ctx, idContainer(idToken)); err != nil {
		return err
	}

	if username := usernameClaim(parsed); username != "" {
		if err := e.Props.Set(ctx, propUsername, username); err != nil {
			slogx.FromContext(ctx).Warn("failed to store username", slog.Any("error", err))
		}
	}
	return nil
}

// usernameClaim picks a display username from the identity token.
func usernameClaim(tok jwtx.Token) string {
	for _, name := range []string{"preferred_username", "upn", "email"} {
		if v, ok := tok.Claims[name].(string); ok && v != "" {
			return v
		}
	}
	return tok.Subject
}

// exchangeResource decides which resource the exchange's own access token
// belongs to: the first group of the granted scope, else of the requested
// scope, else Microsoft Graph.
func exchangeResource(grantedScope, requestedScope string) string {
	for _, s := range []string{grantedScope, requestedScope} {
		if groups := scopes.Analyze(scopes.Split(s)); len(groups) > 0 {
			return groups[0].Resource
		}
	}
	return scopes.GraphResource
}
