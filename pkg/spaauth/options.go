package spaauth

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// CacheMode selects the durability of the token cache for an authority.
type CacheMode string

const (
	// CacheModeSession keeps tokens in memory for the process lifetime.
	CacheModeSession CacheMode = "session"

	// CacheModePersistent keeps tokens in the persistent store so they
	// survive restarts.
	CacheModePersistent CacheMode = "persistent"
)

// Prompt is the OAuth2 prompt parameter: a hint to the identity provider
// about how aggressively to force user interaction.
type Prompt string

const (
	// PromptUnset lets the provider decide.
	PromptUnset Prompt = ""

	// PromptNone demands a fully silent attempt; the provider returns an
	// error such as login_required instead of showing UI.
	PromptNone Prompt = "none"

	PromptLogin         Prompt = "login"
	PromptConsent       Prompt = "consent"
	PromptSelectAccount Prompt = "select_account"
)

// RequiresInteraction reports whether the prompt forces visible user
// interaction, ruling out the silent iframe path.
func (p Prompt) RequiresInteraction() bool {
	switch p {
	case PromptLogin, PromptConsent, PromptSelectAccount:
		return true
	default:
		return false
	}
}

// Default channel timeouts. Popups wait on a human; the silent iframe
// either succeeds quickly from an existing IdP session or not at all.
const (
	DefaultInteractiveTimeout = 300 * time.Second
	DefaultSilentTimeout      = 5 * time.Second

	DefaultPopupWidth  = 475
	DefaultPopupHeight = 600
)

// AuthorityOptions is the per-authority configuration: which identity
// provider to talk to and how. Construct once at application start; the
// engine treats it as read-only.
type AuthorityOptions struct {
	// Name identifies this authority when several are registered. It also
	// namespaces cached state, so renaming an authority orphans its cache.
	Name string

	// ClientID is the application (client) id registered with the IdP.
	ClientID string

	// MetadataURI points at the OpenID Connect discovery document. Used
	// for any endpoint not set explicitly below.
	MetadataURI string

	// Explicit endpoint URIs. When set they win over discovery.
	AuthorizationEndpoint string
	TokenEndpoint         string
	EndSessionEndpoint    string

	// RedirectURI is where the IdP sends the authorization response.
	RedirectURI string

	// DefaultScope is the space-delimited scope string used when a token
	// request names no scopes.
	DefaultScope string

	// ResponseMode is the authorize-request response_mode, default "query".
	ResponseMode string

	// CacheMode selects token cache durability, default session.
	CacheMode CacheMode

	// DisableSilentAuth skips the iframe attempt even when a previous
	// authentication succeeded.
	DisableSilentAuth bool

	// Popup window dimensions passed to the interactive channel.
	PopupWidth  int
	PopupHeight int

	// InteractiveTimeout bounds a popup attempt; SilentTimeout bounds the
	// iframe attempt.
	InteractiveTimeout time.Duration
	SilentTimeout      time.Duration
}

// ErrMissingClientID reports an authority configured without a client id.
var ErrMissingClientID = errors.New("spaauth: authority has no client id")

// ErrNoAuthority reports a lookup of an unregistered authority name.
var ErrNoAuthority = errors.New("spaauth: authority not registered")

// Validate checks that the authority can possibly produce tokens.
func (o AuthorityOptions) Validate() error {
	if strings.TrimSpace(o.ClientID) == "" {
		return ErrMissingClientID
	}
	if o.MetadataURI == "" && o.AuthorizationEndpoint == "" && o.TokenEndpoint == "" {
		return fmt.Errorf("spaauth: authority %q has neither metadata uri nor explicit endpoints", o.Name)
	}
	return nil
}

// withDefaults returns a copy with zero-valued knobs filled in.
func (o AuthorityOptions) withDefaults() AuthorityOptions {
	if o.Name == "" {
		o.Name = "default"
	}
	if o.ResponseMode == "" {
		o.ResponseMode = "query"
	}
	if o.CacheMode == "" {
		o.CacheMode = CacheModeSession
	}
	if o.PopupWidth <= 0 {
		o.PopupWidth = DefaultPopupWidth
	}
	if o.PopupHeight <= 0 {
		o.PopupHeight = DefaultPopupHeight
	}
	if o.InteractiveTimeout <= 0 {
		o.InteractiveTimeout = DefaultInteractiveTimeout
	}
	if o.SilentTimeout <= 0 {
		o.SilentTimeout = DefaultSilentTimeout
	}
	return o
}

// DefaultScopes returns the configured default scope string as a list.
func (o AuthorityOptions) DefaultScopes() []string {
	return strings.Fields(o.DefaultScope)
}

// GetTokenOptions describes a single token request. The zero value asks
// for the authority's default scopes with no interaction hints.
type GetTokenOptions struct {
	// Scopes to request; empty means the authority's default scope.
	Scopes []string

	// Prompt hints how much interaction the IdP should force. The code
	// provider may escalate this internally across retry attempts.
	Prompt Prompt

	// LoginHint pre-fills the username field at the IdP.
	LoginHint string

	// DomainHint routes the IdP's realm discovery.
	DomainHint string
}

// Registry holds named authorities for multi-tenant applications.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]AuthorityOptions
}

// NewRegistry returns an empty authority registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]AuthorityOptions)}
}

// Register validates and stores an authority, applying defaults. The last
// registration for a name wins.
func (r *Registry) Register(opts AuthorityOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	opts = opts.withDefaults()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[opts.Name] = opts
	return nil
}

// Get returns the authority registered under name.
func (r *Registry) Get(name string) (AuthorityOptions, error) {
	if name == "" {
		name = "default"
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	opts, ok := r.byID[name]
	if !ok {
		return AuthorityOptions{}, fmt.Errorf("%w: %q", ErrNoAuthority, name)
	}
	return opts, nil
}

// Names returns the registered authority names in unspecified order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byID))
	for name := range r.byID {
		out = append(out, name)
	}
	return out
}
