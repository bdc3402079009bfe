package spaauth

import (
	"context"
	"fmt"
	"net/url"
)

// ChannelRequest asks the interactive channel to drive the user's browser
// through an authorize URL.
type ChannelRequest struct {
	// AuthorizeURL is the fully-built authorization endpoint URL.
	AuthorizeURL string

	// Silent selects the hidden iframe channel instead of a popup.
	Silent bool

	// Popup window dimensions, ignored for silent requests.
	WindowWidth  int
	WindowHeight int
}

// ChannelResult is the channel's structured outcome: either the final
// redirect URL (whose query string carries code or error), or a failure
// payload for conditions that never produced a redirect (popup blocked,
// closed by the user, and the like).
type ChannelResult struct {
	// RedirectURL is the final redirect URL on success.
	RedirectURL string

	// Reason and Err describe a channel-level failure. Reason is
	// FailureNone when RedirectURL is set.
	Reason FailureReason
	Err    string
}

// InteractiveChannel is the popup/iframe collaborator boundary. Open
// blocks until the flow resolves: a redirect arrives, the context's
// deadline passes, or the context is cancelled. Implementations must tear
// down any window, listener, or timer before returning.
type InteractiveChannel interface {
	Open(ctx context.Context, req ChannelRequest) (ChannelResult, error)
}

// parseRedirect interprets the final redirect URL's query string as an
// authorization response.
func parseRedirect(redirectURL string) CodeResult {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return CodeResult{
			Failure:          FailureSystem,
			ErrorDescription: fmt.Sprintf("unparseable redirect url: %v", err),
		}
	}

	query := u.Query()
	if code := query.Get("code"); code != "" {
		return CodeResult{Code: code}
	}

	if errCode := query.Get("error"); errCode != "" {
		return CodeResult{
			Failure:          FailureIdPError,
			ErrorCode:        errCode,
			ErrorDescription: query.Get("error_description"),
			ErrorURI:         query.Get("error_uri"),
		}
	}

	return CodeResult{
		Failure:          FailureSystem,
		ErrorDescription: "redirect url carries neither code nor error",
	}
}

// resolveChannelResult maps a channel invocation's outcome onto a
// CodeResult, folding in context cancellation and timeout.
func resolveChannelResult(ctx context.Context, res ChannelResult, err error) CodeResult {
	if err != nil {
		switch {
		case ctx.Err() == context.DeadlineExceeded:
			return CodeResult{Failure: FailureTimedOut}
		case ctx.Err() == context.Canceled:
			return CodeResult{Failure: FailureCancelledByUser}
		default:
			return CodeResult{Failure: FailureSystem, ErrorDescription: err.Error()}
		}
	}

	if res.RedirectURL != "" {
		return parseRedirect(res.RedirectURL)
	}

	reason := res.Reason
	if reason == FailureNone {
		reason = FailureSystem
	}
	return CodeResult{
		Failure:          reason,
		ErrorCode:        oauthErrorCode(res.Err, reason),
		ErrorDescription: res.Err,
	}
}

// oauthErrorCode treats a channel failure string as an OAuth error code
// when the channel reported an IdP error; otherwise there is no code.
func oauthErrorCode(errStr string, reason FailureReason) string {
	if reason == FailureIdPError {
		return errStr
	}
	return ""
}
