package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"

	"github.com/aussiebroadwan/spaauth/pkg/spaauth"
)

// LoopbackChannel implements the interactive channel for a terminal
// application: it prints the authorize URL for the user to open in a
// browser and waits for the IdP to redirect back to a loopback listener.
type LoopbackChannel struct {
	// Out receives the authorize URL prompt.
	Out io.Writer
}

func (c *LoopbackChannel) Open(ctx context.Context, req spaauth.ChannelRequest) (spaauth.ChannelResult, error) {
	if req.Silent {
		// No hidden iframe in a terminal; report the standard OIDC error
		// so the provider escalates to an interactive attempt.
		return spaauth.ChannelResult{
			Reason: spaauth.FailureIdPError,
			Err:    spaauth.ErrorCodeInteractionRequired,
		}, nil
	}

	redirect, err := redirectURI(req.AuthorizeURL)
	if err != nil {
		return spaauth.ChannelResult{}, err
	}

	listener, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return spaauth.ChannelResult{}, fmt.Errorf("failed to listen on %s: %w", redirect.Host, err)
	}

	results := make(chan string, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(redirect.Path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "Signed in. You can close this window.")
		select {
		case results <- (&url.URL{
			Scheme:   "http",
			Host:     r.Host,
			Path:     r.URL.Path,
			RawQuery: r.URL.RawQuery,
		}).String():
		default:
		}
	})

	server := &http.Server{Handler: mux}
	go func() { _ = server.Serve(listener) }()
	defer server.Close()

	fmt.Fprintf(c.Out, "Open the following URL in your browser to sign in:\n\n  %s\n\n", req.AuthorizeURL)

	select {
	case <-ctx.Done():
		return spaauth.ChannelResult{}, ctx.Err()
	case redirectURL := <-results:
		return spaauth.ChannelResult{RedirectURL: redirectURL}, nil
	}
}

// redirectURI extracts the redirect_uri parameter from an authorize URL
// so the listener can bind exactly where the IdP will send the browser.
func redirectURI(authorizeURL string) (*url.URL, error) {
	u, err := url.Parse(authorizeURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse authorize url: %w", err)
	}

	raw := u.Query().Get("redirect_uri")
	if raw == "" {
		return nil, fmt.Errorf("authorize url has no redirect_uri")
	}

	redirect, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redirect_uri: %w", err)
	}
	return redirect, nil
}
