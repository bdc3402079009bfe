package spaauth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/aussiebroadwan/spaauth/pkg/pkce"
	"github.com/aussiebroadwan/spaauth/pkg/scopes"
	"github.com/aussiebroadwan/spaauth/pkg/slogx"
)

// maxPopupAttempts caps interactive popup attempts per Acquire call.
// The first failure always earns a retry; beyond that, an attempt only
// runs when prompt escalation actually changed the prompt.
const maxPopupAttempts = 2

// CodeProvider drives authorization-code acquisition: it builds the
// authorize URL, opens the interactive channel (silent iframe first when
// eligible, then popup), interprets the response, and retries with an
// escalated prompt on IdP-signalled failures.
type CodeProvider struct {
	Authority AuthorityOptions
	Channel   InteractiveChannel
	Resolver  *EndpointResolver
	Props     PropertyStore
	History   AuthHistory
}

// Acquire runs the acquisition state machine for one token request. The
// returned CodeResult carries either a code or a failure reason; an error
// is returned only for configuration-class problems (unresolvable
// endpoint, broken stores) where no attempt could be made at all.
//
// Side effects: the PKCE verifier, nonce, and joined scope string are
// written to the property store for the code exchange to consume.
func (p *CodeProvider) Acquire(ctx context.Context, opts GetTokenOptions) (CodeResult, error) {
	l := slogx.FromContext(ctx)

	endpoint, err := p.Resolver.AuthorizationEndpoint(ctx, p.Authority)
	if err != nil {
		return CodeResult{}, err
	}

	requested := opts.Scopes
	if len(requested) == 0 {
		requested = p.Authority.DefaultScopes()
	}
	scopeStr := scopes.Join(requested)

	verifier, err := pkce.NewVerifier()
	if err != nil {
		return CodeResult{}, fmt.Errorf("failed to create code verifier: %w", err)
	}
	challenge, err := pkce.NewChallenge(verifier)
	if err != nil {
		return CodeResult{}, fmt.Errorf("failed to create code challenge: %w", err)
	}
	nonce := ulid.Make().String()

	if err := p.storeFlowState(ctx, verifier, nonce, scopeStr); err != nil {
		return CodeResult{}, err
	}

	state := LoginState{AuthorityKey: p.Authority.Name}
	encodedState, err := state.Encode()
	if err != nil {
		return CodeResult{}, err
	}

	attempt := authorizeAttempt{
		endpoint:  endpoint,
		scope:     scopeStr,
		state:     encodedState,
		nonce:     nonce,
		challenge: challenge,
		opts:      opts,
	}

	var result CodeResult

	if p.silentEligible(ctx, opts) {
		result = p.open(ctx, attempt, PromptNone, true)
		if result.Succeeded() {
			p.markSuccess(ctx)
			return result, nil
		}
		l.Debug("silent authorization failed, falling back to popup",
			slog.String("reason", result.Failure.String()),
			slog.String("oauth_error", result.ErrorCode),
		)
	}

	prompt := opts.Prompt
	for n := 1; n <= maxPopupAttempts; n++ {
		result = p.open(ctx, attempt, prompt, false)
		if result.Succeeded() {
			p.markSuccess(ctx)
			return result, nil
		}
		if n == maxPopupAttempts {
			break
		}

		next := escalatePrompt(result)
		if n > 1 && (next == prompt || next == PromptUnset) {
			// The first failure is always retried; after that an
			// unchanged prompt cannot change the outcome.
			break
		}
		if next != PromptUnset && next != prompt {
			prompt = next
		}
		l.Info("retrying authorization",
			slog.String("oauth_error", result.ErrorCode),
			slog.String("prompt", string(prompt)),
		)
	}

	return result, nil
}

// silentEligible reports whether the iframe attempt should run first: a
// prior authentication succeeded, silent flow is enabled, and the caller
// did not demand interaction.
func (p *CodeProvider) silentEligible(ctx context.Context, opts GetTokenOptions) bool {
	if p.Authority.DisableSilentAuth || opts.Prompt.RequiresInteraction() {
		return false
	}
	if p.History == nil {
		return false
	}
	last, err := p.History.LastSuccess(ctx)
	return err == nil && !last.IsZero()
}

func (p *CodeProvider) storeFlowState(ctx context.Context, verifier, nonce, scopeStr string) error {
	for key, value := range map[string]string{
		propCodeVerifier: verifier,
		propNonce:        nonce,
		propScope:        scopeStr,
		propAuthKey:      p.Authority.Name,
	} {
		if err := p.Props.Set(ctx, key, value); err != nil {
			return fmt.Errorf("failed to store flow state %q: %w", key, err)
		}
	}
	return nil
}

func (p *CodeProvider) markSuccess(ctx context.Context) {
	if p.History == nil {
		return
	}
	if err := p.History.SetLastSuccess(ctx, time.Now()); err != nil {
		slogx.FromContext(ctx).Warn("failed to record auth success", slog.Any("error", err))
	}
}

// authorizeAttempt is the per-Acquire immutable request material shared
// by every channel invocation.
type authorizeAttempt struct {
	endpoint  string
	scope     string
	state     string
	nonce     string
	challenge pkce.Challenge
	opts      GetTokenOptions
}

// open performs one channel invocation with a bounded timeout and maps
// its outcome to a CodeResult.
func (p *CodeProvider) open(ctx context.Context, a authorizeAttempt, prompt Prompt, silent bool) CodeResult {
	authorizeURL, err := buildURL(a.endpoint, map[string]string{
		"client_id":             p.Authority.ClientID,
		"response_type":         "code",
		"response_mode":         p.Authority.ResponseMode,
		"redirect_uri":          p.Authority.RedirectURI,
		"scope":                 a.scope,
		"state":                 a.state,
		"nonce":                 a.nonce,
		"code_challenge":        a.challenge.Value,
		"code_challenge_method": a.challenge.Method,
		"prompt":                string(prompt),
		"login_hint":            a.opts.LoginHint,
		"domain_hint":           a.opts.DomainHint,
	})
	if err != nil {
		return CodeResult{Failure: FailureSystem, ErrorDescription: err.Error()}
	}

	timeout := p.Authority.InteractiveTimeout
	if silent {
		timeout = p.Authority.SilentTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := p.Channel.Open(attemptCtx, ChannelRequest{
		AuthorizeURL: authorizeURL,
		Silent:       silent,
		WindowWidth:  p.Authority.PopupWidth,
		WindowHeight: p.Authority.PopupHeight,
	})
	return resolveChannelResult(attemptCtx, res, err)
}

// escalatePrompt maps a failed attempt onto the prompt for the next one.
// IdP error codes name the missing interaction directly; any other
// failure falls back to account selection.
func escalatePrompt(result CodeResult) Prompt {
	switch result.ErrorCode {
	case ErrorCodeInteractionRequired, ErrorCodeAccountSelectionRequired:
		return PromptSelectAccount
	case ErrorCodeConsentRequired:
		return PromptConsent
	case ErrorCodeLoginRequired:
		return PromptLogin
	}
	if result.Failure != FailureNone {
		return PromptSelectAccount
	}
	return PromptUnset
}
