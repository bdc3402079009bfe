package spaauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/aussiebroadwan/spaauth/pkg/slogx"
)

// MetadataDocument is the OpenID Connect discovery document, trimmed to
// the fields the engine consumes plus a few commonly present ones.
type MetadataDocument struct {
	Issuer                      string `json:"issuer"`
	AuthorizationEndpoint       string `json:"authorization_endpoint"`
	TokenEndpoint               string `json:"token_endpoint"`
	EndSessionEndpoint          string `json:"end_session_endpoint"`
	UserinfoEndpoint            string `json:"userinfo_endpoint,omitempty"`
	DeviceAuthorizationEndpoint string `json:"device_authorization_endpoint,omitempty"`
	JWKSURI                     string `json:"jwks_uri,omitempty"`
}

// EndpointResolver resolves authorization/token/end-session endpoint URIs
// for an authority: explicit configuration wins, otherwise the discovery
// document at MetadataURI is fetched once and cached for the resolver's
// lifetime.
//
// The cache is owned by the resolver instance; there is no package-level
// state, so independent resolvers (e.g. in tests) never interfere.
type EndpointResolver struct {
	httpClient *http.Client

	mu    sync.Mutex
	cache map[string]*MetadataDocument

	// fetchLimit throttles discovery fetches. Successful documents are
	// cached forever, so in practice this only slows down retries against
	// a broken IdP.
	fetchLimit *rate.Limiter
}

// NewEndpointResolver returns a resolver using the given HTTP client, or
// http.DefaultClient when nil.
func NewEndpointResolver(client *http.Client) *EndpointResolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &EndpointResolver{
		httpClient: client,
		cache:      make(map[string]*MetadataDocument),
		fetchLimit: rate.NewLimiter(rate.Limit(1), 3),
	}
}

// AuthorizationEndpoint resolves the authorize endpoint for an authority.
func (r *EndpointResolver) AuthorizationEndpoint(ctx context.Context, opts AuthorityOptions) (string, error) {
	return r.resolve(ctx, opts, opts.AuthorizationEndpoint, func(doc *MetadataDocument) string {
		return doc.AuthorizationEndpoint
	})
}

// TokenEndpoint resolves the token endpoint for an authority.
func (r *EndpointResolver) TokenEndpoint(ctx context.Context, opts AuthorityOptions) (string, error) {
	return r.resolve(ctx, opts, opts.TokenEndpoint, func(doc *MetadataDocument) string {
		return doc.TokenEndpoint
	})
}

// EndSessionEndpoint resolves the end-session (logout) endpoint for an
// authority.
func (r *EndpointResolver) EndSessionEndpoint(ctx context.Context, opts AuthorityOptions) (string, error) {
	return r.resolve(ctx, opts, opts.EndSessionEndpoint, func(doc *MetadataDocument) string {
		return doc.EndSessionEndpoint
	})
}

func (r *EndpointResolver) resolve(
	ctx context.Context,
	opts AuthorityOptions,
	explicit string,
	field func(*MetadataDocument) string,
) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	if opts.MetadataURI == "" {
		return "", fmt.Errorf("%w: authority %q", ErrNoEndpoint, opts.Name)
	}

	doc, err := r.Metadata(ctx, opts.MetadataURI)
	if err != nil {
		return "", err
	}

	uri := field(doc)
	if uri == "" {
		return "", fmt.Errorf("%w: authority %q metadata has no such endpoint", ErrNoEndpoint, opts.Name)
	}
	return uri, nil
}

// Metadata returns the discovery document at uri, fetching it on first
// use and caching it afterwards.
func (r *EndpointResolver) Metadata(ctx context.Context, uri string) (*MetadataDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if doc, ok := r.cache[uri]; ok {
		return doc, nil
	}

	if !r.fetchLimit.Allow() {
		return nil, fmt.Errorf("%w: metadata fetch throttled for %s", ErrNoEndpoint, uri)
	}

	doc, err := r.fetch(ctx, uri)
	if err != nil {
		slogx.FromContext(ctx).Warn("metadata fetch failed",
			slog.String("metadata_uri", uri),
			slog.Any("error", err),
		)
		return nil, err
	}

	r.cache[uri] = doc
	return doc, nil
}

func (r *EndpointResolver) fetch(ctx context.Context, uri string) (*MetadataDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("metadata request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var doc MetadataDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode metadata document: %w", err)
	}
	return &doc, nil
}
