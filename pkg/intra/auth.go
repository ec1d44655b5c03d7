package intra

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// tokenExpiryMargin is how long before the reported expiry a token is
// already considered stale, so in-flight requests never carry a token that
// expires mid-request.
const tokenExpiryMargin = 1 * time.Minute

// refreshTokenIfNeeded fetches a fresh OAuth access token via the
// client-credentials grant when the cached one is missing or about to expire.
func (c *Client) refreshTokenIfNeeded(ctx context.Context) error {
	c.tokenMutex.RLock()
	valid := c.token != "" && c.clock.Now().Before(c.tokenExpiry.Add(-tokenExpiryMargin))
	c.tokenMutex.RUnlock()
	if valid {
		return nil
	}

	c.tokenMutex.Lock()
	defer c.tokenMutex.Unlock()

	// Another caller may have refreshed while we waited for the write lock.
	if c.token != "" && c.clock.Now().Before(c.tokenExpiry.Add(-tokenExpiryMargin)) {
		return nil
	}

	token, expiresIn, err := c.fetchToken(ctx)
	if err != nil {
		return err
	}

	c.token = token
	c.tokenExpiry = c.clock.Now().Add(time.Duration(expiresIn) * time.Second)
	slog.Info("[AUTH] Refreshed intra access token", "expires_in", expiresIn)
	return nil
}

// fetchToken performs the client-credentials token exchange.
func (c *Client) fetchToken(ctx context.Context) (token string, expiresIn int, err error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	var resp *http.Response
	err = retryWithBackoff(ctx, "POST oauth/token", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
		if err != nil {
			return fmt.Errorf("failed to create token request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		localResp, err := c.httpClient.Do(req) //nolint:bodyclose // body is closed by the caller
		if err != nil {
			return fmt.Errorf("token request failed: %w", err)
		}
		if localResp.StatusCode >= http.StatusInternalServerError {
			drainAndCloseBody(localResp.Body)
			return fmt.Errorf("http %d: server error", localResp.StatusCode)
		}
		resp = localResp
		return nil
	})
	if err != nil {
		return "", 0, err
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 512))
		if readErr != nil {
			return "", 0, fmt.Errorf("token exchange failed: status %d", resp.StatusCode)
		}
		return "", 0, fmt.Errorf("token exchange failed: status %d: %s", resp.StatusCode, string(body))
	}

	var tokenData struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenData); err != nil {
		return "", 0, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokenData.AccessToken == "" {
		return "", 0, fmt.Errorf("token exchange returned an empty access token")
	}
	if tokenData.ExpiresIn <= 0 {
		tokenData.ExpiresIn = 7200
	}

	return tokenData.AccessToken, tokenData.ExpiresIn, nil
}
