package spaauth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/aussiebroadwan/spaauth/pkg/jwtx"
	"github.com/aussiebroadwan/spaauth/pkg/scopes"
	"github.com/aussiebroadwan/spaauth/pkg/slogx"
)

// RefreshOptions describes one refresh invocation.
type RefreshOptions struct {
	// RefreshToken to use; when empty the stored one is used.
	RefreshToken string

	// Scopes to mint tokens for, partitioned per resource. Empty means
	// the authority's default scope.
	Scopes []string
}

// TokenRefresher mints per-resource access tokens from a refresh token
// and stores the results.
type TokenRefresher struct {
	Authority  AuthorityOptions
	HTTPClient *http.Client
	Resolver   *EndpointResolver
	Tokens     TokenStore
}

// Refresh partitions the requested scopes by resource and issues one
// refresh_token grant per group, storing each resulting access token
// under its resource. Rotated refresh tokens take effect immediately for
// the remaining groups.
//
// It reports true when at least one group was refreshed. A missing
// refresh token reports false without any network I/O. Per-group
// transport failures are logged and skipped; only configuration-class
// problems surface as an error.
func (r *TokenRefresher) Refresh(ctx context.Context, opts RefreshOptions) (bool, error) {
	l := slogx.FromContext(ctx)

	refreshToken := opts.RefreshToken
	if refreshToken == "" {
		stored, err := r.Tokens.RefreshToken(ctx)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return false, nil
			}
			return false, err
		}
		refreshToken = stored
	}

	requested := opts.Scopes
	if len(requested) == 0 {
		requested = r.Authority.DefaultScopes()
	}
	groups := scopes.Analyze(requested)
	if len(groups) == 0 {
		return false, nil
	}

	endpoint, err := r.Resolver.TokenEndpoint(ctx, r.Authority)
	if err != nil {
		return false, err
	}

	refreshed := 0
	for _, group := range groups {
		resp, err := requestToken(ctx, r.HTTPClient, endpoint, url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {refreshToken},
			"client_id":     {r.Authority.ClientID},
			"scope":         {scopes.Join(group.Values())},
		})
		if err != nil {
			l.Warn("refresh failed for resource",
				slog.String("resource", group.Resource),
				slog.Any("error", err),
			)
			continue
		}

		if err := r.Tokens.SetAccessToken(ctx, group.Resource, resp.accessContainer()); err != nil {
			return refreshed > 0, err
		}
		refreshed++

		if resp.RefreshToken != "" && resp.RefreshToken != refreshToken {
			refreshToken = resp.RefreshToken
			if err := r.Tokens.SetRefreshToken(ctx, refreshToken); err != nil {
				return refreshed > 0, err
			}
		}
		if resp.IDToken != "" {
			if err := r.Tokens.SetIDToken(ctx, idContainer(resp.IDToken)); err != nil {
				return refreshed > 0, err
			}
		}
	}

	return refreshed > 0, nil
}

// idContainer wraps an identity token, taking expiry from its exp claim
// when it decodes; identity tokens without exp stay valid until replaced.
func idContainer(idToken string) TokenContainer {
	tc := TokenContainer{Token: idToken}
	if parsed, err := jwtx.Parse(idToken); err == nil {
		tc.Expires = parsed.Expiry
	}
	return tc
}
