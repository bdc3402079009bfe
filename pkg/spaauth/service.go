package spaauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aussiebroadwan/spaauth/pkg/jwtx"
	"github.com/aussiebroadwan/spaauth/pkg/scopes"
	"github.com/aussiebroadwan/spaauth/pkg/slogx"
)

// Config wires a TokenService. Only Authority and Channel are required;
// everything else has a working default.
type Config struct {
	Authority AuthorityOptions

	// Channel drives the interactive popup/iframe flow.
	Channel InteractiveChannel

	// HTTPClient for token and metadata endpoints; defaults to a client
	// with a 10 second timeout.
	HTTPClient *http.Client

	// Persist backs token storage and auth history when set. Tokens only
	// live there when the authority's cache mode is persistent; the auth
	// history always does.
	Persist *BoltStore

	// Explicit store overrides, mostly for tests.
	Tokens  TokenStore
	Props   PropertyStore
	History AuthHistory
}

// TokenService is the toolkit façade: given requested scopes it returns a
// validated, resource-keyed set of access tokens, coordinating cache
// hits, silent refresh, and fallback to interactive authorization.
type TokenService struct {
	authority AuthorityOptions
	tokens    TokenStore
	props     PropertyStore
	resolver  *EndpointResolver
	refresher *TokenRefresher
	exchanger *CodeExchanger
	provider  *CodeProvider
	notifier  *Notifier

	// flight coalesces concurrent interactive attempts per authority so
	// the single-use PKCE material is only ever in flight once.
	flight singleflight.Group
}

// New builds a TokenService for one authority.
func New(cfg Config) (*TokenService, error) {
	if err := cfg.Authority.Validate(); err != nil {
		return nil, err
	}
	authority := cfg.Authority.withDefaults()

	if cfg.Channel == nil {
		return nil, fmt.Errorf("spaauth: authority %q has no interactive channel", authority.Name)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	tokens := cfg.Tokens
	if tokens == nil {
		if cfg.Persist != nil && authority.CacheMode == CacheModePersistent {
			tokens = cfg.Persist.TokenStore(authority.Name)
		} else {
			tokens = NewMemoryTokenStore()
		}
	}

	props := cfg.Props
	if props == nil {
		// Flow state is session-scoped regardless of token cache mode.
		props = NewMemoryPropertyStore()
	}

	history := cfg.History
	if history == nil {
		if cfg.Persist != nil {
			history = cfg.Persist.History(authority.Name)
		} else {
			history = NewMemoryAuthHistory()
		}
	}

	notifier := NewNotifier()
	tokens = &notifyingTokenStore{TokenStore: tokens, authority: authority.Name, notifier: notifier}

	resolver := NewEndpointResolver(httpClient)
	refresher := &TokenRefresher{
		Authority:  authority,
		HTTPClient: httpClient,
		Resolver:   resolver,
		Tokens:     tokens,
	}

	return &TokenService{
		authority: authority,
		tokens:    tokens,
		props:     props,
		resolver:  resolver,
		refresher: refresher,
		exchanger: &CodeExchanger{
			Authority:  authority,
			HTTPClient: httpClient,
			Resolver:   resolver,
			Tokens:     tokens,
			Props:      props,
			Refresher:  refresher,
		},
		provider: &CodeProvider{
			Authority: authority,
			Channel:   cfg.Channel,
			Resolver:  resolver,
			Props:     props,
			History:   history,
		},
		notifier: notifier,
	}, nil
}

// Authority returns the service's effective authority configuration.
func (s *TokenService) Authority() AuthorityOptions { return s.authority }

// Subscribe registers an observer for token-change events and returns
// its cancel function.
func (s *TokenService) Subscribe(fn func(Event)) (cancel func()) {
	return s.notifier.Subscribe(fn)
}

// GetAccessTokens returns an access token per resource implied by the
// requested scopes. For each resource group it tries, in order: the
// token cache, a silent refresh, and finally one interactive
// authorization for the whole request. A resource that could not be
// served is absent from the result; it is never a nil entry.
//
// Concurrent calls with overlapping scopes share a single interactive
// attempt.
func (s *TokenService) GetAccessTokens(ctx context.Context, opts GetTokenOptions) (map[string]jwtx.Token, error) {
	ctx = slogx.WithAuthority(ctx, s.authority.Name)
	l := slogx.FromContext(ctx)

	requested := opts.Scopes
	if len(requested) == 0 {
		requested = s.authority.DefaultScopes()
	}
	groups := scopes.Analyze(requested)

	result := make(map[string]jwtx.Token, len(groups))
	interactiveTried := false

	for _, group := range groups {
		if tok, ok := s.cachedToken(ctx, group.Resource); ok {
			result[group.Resource] = tok
			continue
		}

		refreshed, err := s.refresher.Refresh(ctx, RefreshOptions{Scopes: group.Values()})
		if err != nil {
			return nil, err
		}
		if refreshed {
			// Re-validate after the suspension point instead of trusting
			// the refresh call's own view.
			if tok, ok := s.cachedToken(ctx, group.Resource); ok {
				result[group.Resource] = tok
				continue
			}
		}

		if !interactiveTried {
			interactiveTried = true
			if err := s.interactiveAcquire(ctx, opts); err != nil {
				return nil, err
			}
		}

		if tok, ok := s.cachedToken(ctx, group.Resource); ok {
			result[group.Resource] = tok
		} else {
			l.Info("no token could be resolved for resource", slog.String("resource", group.Resource))
		}
	}

	return result, nil
}

// interactiveAcquire runs the full authorization-code path once,
// coalescing with any attempt already in flight for this authority.
// Failure to obtain a code is not an error here; it simply leaves the
// store unchanged. Only configuration and flow-integrity problems
// surface.
func (s *TokenService) interactiveAcquire(ctx context.Context, opts GetTokenOptions) error {
	_, err, _ := s.flight.Do(s.authority.Name, func() (any, error) {
		l := slogx.FromContext(ctx)

		res, err := s.provider.Acquire(ctx, opts)
		if err != nil {
			return nil, err
		}
		if !res.Succeeded() {
			l.Info("interactive authorization yielded no code",
				slog.String("reason", res.Failure.String()),
				slog.String("oauth_error", res.ErrorCode),
			)
			return nil, nil
		}

		if err := s.exchanger.Process(ctx, res.Code); err != nil {
			if errors.Is(err, ErrFlowState) || errors.Is(err, ErrNoEndpoint) {
				return nil, err
			}
			// Transport-level exchange failure: logged, token stays absent.
			l.Warn("code exchange failed", slog.Any("error", err))
			return nil, nil
		}
		return nil, nil
	})
	return err
}

// cachedToken reads and decodes the stored access token for a resource.
// Undecodable tokens are still surfaced raw; the IdP may legitimately
// issue opaque access tokens.
func (s *TokenService) cachedToken(ctx context.Context, resource string) (jwtx.Token, bool) {
	tc, err := s.tokens.AccessToken(ctx, resource)
	if err != nil {
		return jwtx.Token{}, false
	}

	tok, err := jwtx.Parse(tc.Token)
	if err != nil {
		return jwtx.Token{Raw: tc.Token}, true
	}
	return tok, true
}

// IDToken returns the current identity token, or ErrNotFound.
func (s *TokenService) IDToken(ctx context.Context) (jwtx.Token, error) {
	tc, err := s.tokens.IDToken(ctx)
	if err != nil {
		return jwtx.Token{}, err
	}

	tok, err := jwtx.Parse(tc.Token)
	if err != nil {
		return jwtx.Token{Raw: tc.Token}, nil
	}
	return tok, nil
}

// Username returns the username recorded from the last identity token,
// or ErrNotFound.
func (s *TokenService) Username(ctx context.Context) (string, error) {
	return s.props.Get(ctx, propUsername)
}

// Logout clears all cached tokens and returns the IdP end-session URL
// the application should navigate to. The local state is cleared even
// when the end-session endpoint cannot be resolved.
func (s *TokenService) Logout(ctx context.Context) (string, error) {
	ctx = slogx.WithAuthority(ctx, s.authority.Name)

	clearErr := s.tokens.Clear(ctx)
	_ = s.props.Remove(ctx, propUsername)
	if clearErr != nil {
		return "", fmt.Errorf("failed to clear token store: %w", clearErr)
	}

	endpoint, err := s.resolver.EndSessionEndpoint(ctx, s.authority)
	if err != nil {
		return "", err
	}

	return buildURL(endpoint, map[string]string{
		"client_id":                s.authority.ClientID,
		"post_logout_redirect_uri": s.authority.RedirectURI,
	})
}
