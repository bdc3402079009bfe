package spaauth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, channel *fakeChannel, opts AuthorityOptions) (*CodeProvider, *MemoryPropertyStore, *MemoryAuthHistory) {
	t.Helper()

	props := NewMemoryPropertyStore()
	history := NewMemoryAuthHistory()
	return &CodeProvider{
		Authority: opts,
		Channel:   channel,
		Resolver:  NewEndpointResolver(nil),
		Props:     props,
		History:   history,
	}, props, history
}

func TestCodeProviderBuildsAuthorizeRequest(t *testing.T) {
	t.Parallel()

	idp := newFakeIdP(t)
	channel := &fakeChannel{}
	provider, props, _ := newTestProvider(t, channel, testAuthority(idp))

	ctx := context.Background()
	res, err := provider.Acquire(ctx, GetTokenOptions{
		Scopes:    []string{"openid", "User.Read", "openid"},
		LoginHint: "user@example.com",
	})
	require.NoError(t, err)
	require.Equal(t, "code-1", res.Code)

	opens := channel.requests()
	require.Len(t, opens, 1)
	require.False(t, opens[0].Silent, "no history yet, so no silent attempt")
	require.Equal(t, DefaultPopupWidth, opens[0].WindowWidth)
	require.Equal(t, DefaultPopupHeight, opens[0].WindowHeight)

	q := queryOf(t, opens[0].AuthorizeURL)
	require.Equal(t, "client-1", q.Get("client_id"))
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, "query", q.Get("response_mode"))
	require.Equal(t, "https://app.example.com/callback", q.Get("redirect_uri"))
	require.Equal(t, "openid User.Read", q.Get("scope"), "duplicate scopes collapse in the request")
	require.Equal(t, "user@example.com", q.Get("login_hint"))
	require.Equal(t, "S256", q.Get("code_challenge_method"))
	require.NotEmpty(t, q.Get("code_challenge"))
	require.False(t, q.Has("prompt"))

	state, err := DecodeLoginState(q.Get("state"))
	require.NoError(t, err)
	require.Equal(t, "test", state.AuthorityKey)

	// Flow state is left behind for the code exchange.
	verifier, err := props.Get(ctx, propCodeVerifier)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(verifier), 43)

	nonce, err := props.Get(ctx, propNonce)
	require.NoError(t, err)
	require.Equal(t, nonce, q.Get("nonce"))

	scope, err := props.Get(ctx, propScope)
	require.NoError(t, err)
	require.Equal(t, "openid User.Read", scope)
}

func TestCodeProviderEscalatesPrompt(t *testing.T) {
	t.Parallel()

	cases := []struct {
		errorCode string
		want      Prompt
	}{
		{ErrorCodeLoginRequired, PromptLogin},
		{ErrorCodeConsentRequired, PromptConsent},
		{ErrorCodeInteractionRequired, PromptSelectAccount},
		{ErrorCodeAccountSelectionRequired, PromptSelectAccount},
	}

	for _, tc := range cases {
		t.Run(tc.errorCode, func(t *testing.T) {
			t.Parallel()

			idp := newFakeIdP(t)
			channel := &fakeChannel{}
			channel.script = func(_ context.Context, req ChannelRequest) (ChannelResult, error) {
				if len(channel.requests()) == 1 {
					return idpErrorResult(tc.errorCode), nil
				}
				return successResult("code-2"), nil
			}
			provider, _, _ := newTestProvider(t, channel, testAuthority(idp))

			res, err := provider.Acquire(context.Background(), GetTokenOptions{Scopes: []string{"User.Read"}})
			require.NoError(t, err)
			require.Equal(t, "code-2", res.Code)

			opens := channel.requests()
			require.Len(t, opens, 2)
			require.False(t, queryOf(t, opens[0].AuthorizeURL).Has("prompt"))
			require.Equal(t, string(tc.want), queryOf(t, opens[1].AuthorizeURL).Get("prompt"))
		})
	}
}

func TestCodeProviderRetriesFirstFailureWithUnchangedPrompt(t *testing.T) {
	t.Parallel()

	idp := newFakeIdP(t)
	channel := &fakeChannel{
		script: func(_ context.Context, _ ChannelRequest) (ChannelResult, error) {
			return idpErrorResult(ErrorCodeInteractionRequired), nil
		},
	}
	provider, _, _ := newTestProvider(t, channel, testAuthority(idp))

	res, err := provider.Acquire(context.Background(), GetTokenOptions{
		Scopes: []string{"User.Read"},
		Prompt: PromptSelectAccount,
	})
	require.NoError(t, err)
	require.False(t, res.Succeeded())
	require.Equal(t, FailureIdPError, res.Failure)
	require.Equal(t, ErrorCodeInteractionRequired, res.ErrorCode)

	// The first failure always earns a second attempt, even when
	// escalation lands on the prompt already in use.
	opens := channel.requests()
	require.Len(t, opens, 2)
	for _, open := range opens {
		require.Equal(t, string(PromptSelectAccount), queryOf(t, open.AuthorizeURL).Get("prompt"))
	}
}

func TestCodeProviderSilentFirstAfterPriorSuccess(t *testing.T) {
	t.Parallel()

	idp := newFakeIdP(t)
	channel := &fakeChannel{
		script: func(_ context.Context, req ChannelRequest) (ChannelResult, error) {
			if req.Silent {
				return ChannelResult{Reason: FailureIdPError, Err: ErrorCodeInteractionRequired}, nil
			}
			return successResult("code-3"), nil
		},
	}
	provider, _, history := newTestProvider(t, channel, testAuthority(idp))
	require.NoError(t, history.SetLastSuccess(context.Background(), time.Now()))

	res, err := provider.Acquire(context.Background(), GetTokenOptions{Scopes: []string{"User.Read"}})
	require.NoError(t, err)
	require.Equal(t, "code-3", res.Code)

	opens := channel.requests()
	require.Len(t, opens, 2)
	require.True(t, opens[0].Silent)
	require.Equal(t, string(PromptNone), queryOf(t, opens[0].AuthorizeURL).Get("prompt"))
	require.False(t, opens[1].Silent)
}

func TestCodeProviderSilentSkipped(t *testing.T) {
	t.Parallel()

	t.Run("interactive prompt requested", func(t *testing.T) {
		t.Parallel()

		idp := newFakeIdP(t)
		channel := &fakeChannel{}
		provider, _, history := newTestProvider(t, channel, testAuthority(idp))
		require.NoError(t, history.SetLastSuccess(context.Background(), time.Now()))

		_, err := provider.Acquire(context.Background(), GetTokenOptions{
			Scopes: []string{"User.Read"},
			Prompt: PromptLogin,
		})
		require.NoError(t, err)

		opens := channel.requests()
		require.Len(t, opens, 1)
		require.False(t, opens[0].Silent)
		require.Equal(t, string(PromptLogin), queryOf(t, opens[0].AuthorizeURL).Get("prompt"))
	})

	t.Run("silent auth disabled", func(t *testing.T) {
		t.Parallel()

		idp := newFakeIdP(t)
		opts := testAuthority(idp)
		opts.DisableSilentAuth = true

		channel := &fakeChannel{}
		provider, _, history := newTestProvider(t, channel, opts)
		require.NoError(t, history.SetLastSuccess(context.Background(), time.Now()))

		_, err := provider.Acquire(context.Background(), GetTokenOptions{Scopes: []string{"User.Read"}})
		require.NoError(t, err)

		opens := channel.requests()
		require.Len(t, opens, 1)
		require.False(t, opens[0].Silent)
	})
}

func TestCodeProviderTimeout(t *testing.T) {
	t.Parallel()

	idp := newFakeIdP(t)
	opts := testAuthority(idp)
	opts.InteractiveTimeout = 20 * time.Millisecond

	channel := &fakeChannel{
		script: func(ctx context.Context, _ ChannelRequest) (ChannelResult, error) {
			<-ctx.Done()
			return ChannelResult{}, ctx.Err()
		},
	}
	provider, _, _ := newTestProvider(t, channel, opts)

	res, err := provider.Acquire(context.Background(), GetTokenOptions{Scopes: []string{"User.Read"}})
	require.NoError(t, err)
	require.False(t, res.Succeeded())
	require.Equal(t, FailureTimedOut, res.Failure)
}

func TestCodeProviderCancellation(t *testing.T) {
	t.Parallel()

	idp := newFakeIdP(t)
	ctx, cancel := context.WithCancel(context.Background())

	channel := &fakeChannel{
		script: func(openCtx context.Context, _ ChannelRequest) (ChannelResult, error) {
			cancel()
			<-openCtx.Done()
			return ChannelResult{}, openCtx.Err()
		},
	}
	provider, _, _ := newTestProvider(t, channel, testAuthority(idp))

	res, err := provider.Acquire(ctx, GetTokenOptions{Scopes: []string{"User.Read"}})
	require.NoError(t, err)
	require.Equal(t, FailureCancelledByUser, res.Failure)
}

func TestCodeProviderUnresolvableEndpoint(t *testing.T) {
	t.Parallel()

	provider := &CodeProvider{
		Authority: AuthorityOptions{Name: "bare", ClientID: "client-1"}.withDefaults(),
		Channel:   &fakeChannel{},
		Resolver:  NewEndpointResolver(nil),
		Props:     NewMemoryPropertyStore(),
	}

	_, err := provider.Acquire(context.Background(), GetTokenOptions{})
	require.ErrorIs(t, err, ErrNoEndpoint)
}

func TestCodeProviderRecordsSuccess(t *testing.T) {
	t.Parallel()

	idp := newFakeIdP(t)
	channel := &fakeChannel{}
	provider, _, history := newTestProvider(t, channel, testAuthority(idp))

	_, err := provider.Acquire(context.Background(), GetTokenOptions{Scopes: []string{"User.Read"}})
	require.NoError(t, err)

	last, err := history.LastSuccess(context.Background())
	require.NoError(t, err)
	require.WithinDuration(t, time.Now(), last, time.Minute)
}
