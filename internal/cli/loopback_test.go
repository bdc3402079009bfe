package cli

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/spaauth/pkg/spaauth"
)

func TestLoopbackChannelSilentReportsInteractionRequired(t *testing.T) {
	t.Parallel()

	c := &LoopbackChannel{Out: io.Discard}
	res, err := c.Open(context.Background(), spaauth.ChannelRequest{
		AuthorizeURL: "https://idp.example.com/authorize",
		Silent:       true,
	})
	require.NoError(t, err)
	require.Equal(t, spaauth.FailureIdPError, res.Reason)
	require.Equal(t, spaauth.ErrorCodeInteractionRequired, res.Err)
}

func TestLoopbackChannelCapturesRedirect(t *testing.T) {
	t.Parallel()

	authorizeURL := "https://idp.example.com/authorize?" + url.Values{
		"client_id":    {"client-1"},
		"redirect_uri": {"http://127.0.0.1:18911/callback"},
	}.Encode()

	c := &LoopbackChannel{Out: io.Discard}

	type outcome struct {
		res spaauth.ChannelResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := c.Open(context.Background(), spaauth.ChannelRequest{AuthorizeURL: authorizeURL})
		done <- outcome{res, err}
	}()

	// Simulate the browser redirect once the listener is up.
	var resp *http.Response
	require.Eventually(t, func() bool {
		var err error
		resp, err = http.Get("http://127.0.0.1:18911/callback?code=abc&state=xyz")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	resp.Body.Close()

	out := <-done
	require.NoError(t, out.err)

	u, err := url.Parse(out.res.RedirectURL)
	require.NoError(t, err)
	require.Equal(t, "/callback", u.Path)
	require.Equal(t, "abc", u.Query().Get("code"))
}

func TestLoopbackChannelRespectsContext(t *testing.T) {
	t.Parallel()

	authorizeURL := "https://idp.example.com/authorize?" + url.Values{
		"redirect_uri": {"http://127.0.0.1:18912/callback"},
	}.Encode()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := &LoopbackChannel{Out: io.Discard}
	_, err := c.Open(ctx, spaauth.ChannelRequest{AuthorizeURL: authorizeURL})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedirectURI(t *testing.T) {
	t.Parallel()

	u, err := redirectURI("https://idp.example.com/authorize?redirect_uri=http%3A%2F%2F127.0.0.1%3A8910%2Fcallback")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:8910", u.Host)
	require.Equal(t, "/callback", u.Path)

	_, err = redirectURI("https://idp.example.com/authorize")
	require.Error(t, err)
}
