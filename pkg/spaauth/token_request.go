package spaauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// requestToken performs a form-encoded POST against the token endpoint
// and decodes the response, stamping the absolute expiry at receipt time.
// Non-2xx responses are returned as *OAuth2Error when the body carries
// one.
func requestToken(ctx context.Context, client *http.Client, endpoint string, data url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		endpoint,
		strings.NewReader(data.Encode()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var oauthErr OAuth2Error
		if jsonErr := json.Unmarshal(body, &oauthErr); jsonErr == nil && oauthErr.Code != "" {
			oauthErr.StatusCode = resp.StatusCode
			return nil, &oauthErr
		}
		return nil, fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	tokenResp.stampExpiry(time.Now())

	return &tokenResp, nil
}
