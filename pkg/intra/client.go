// Package intra provides a client for the campus intra API.
package intra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// Sentinel errors surfaced by the client. Callers distinguish a booking
// conflict (the slot was claimed or removed upstream) from plain transport
// failure via errors.Is.
var (
	ErrNotFound = errors.New("intra: not found")
	ErrConflict = errors.New("intra: conflict")
)

// Client handles all intra API interactions.
type Client struct {
	httpClient   HTTPDoer
	clock        TimeProvider
	baseURL      string
	tokenURL     string
	clientID     string
	clientSecret string
	token        string
	tokenExpiry  time.Time
	botUID       int
	cursusID     int
	tokenMutex   sync.RWMutex
}

// Config holds configuration for creating a new intra client.
type Config struct {
	BaseURL      string // API root, e.g. "https://api.intra.42.fr/v2"
	TokenURL     string // OAuth token endpoint (empty = derived from BaseURL)
	ClientID     string
	ClientSecret string
	BotUID       int // user id of the bot's service account
	CursusID     int // cursus whose levels are compared
	HTTPTimeout  time.Duration
}

// New creates a new intra API client using OAuth client-credentials.
func New(_ context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("intra client id and secret are required")
	}
	if cfg.BotUID <= 0 {
		return nil, errors.New("bot service account uid is required")
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.intra.42.fr/v2"
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = strings.TrimSuffix(baseURL, "/v2") + "/oauth/token"
	}

	return &Client{
		httpClient:   &http.Client{Timeout: cfg.HTTPTimeout},
		clock:        realTimeProvider{},
		baseURL:      baseURL,
		tokenURL:     tokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		botUID:       cfg.BotUID,
		cursusID:     cfg.CursusID,
	}, nil
}

// BotUID returns the user id of the bot's service account.
func (c *Client) BotUID() int {
	return c.botUID
}

// drainAndCloseBody drains and closes an HTTP response body to prevent resource leaks.
func drainAndCloseBody(body io.ReadCloser) {
	if _, err := io.Copy(io.Discard, body); err != nil {
		slog.Warn("Failed to drain response body", "error", err)
	}
	if err := body.Close(); err != nil {
		slog.Warn("Failed to close response body", "error", err)
	}
}

// doRequest makes an HTTP request to the intra API with retry logic.
// The path is relative to the API root; query parameters must already be encoded.
func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	if err := c.refreshTokenIfNeeded(ctx); err != nil {
		return nil, fmt.Errorf("failed to refresh access token: %w", err)
	}

	apiURL := c.baseURL + path
	slog.Info("HTTP request", "component", "http", "method", method, "url", apiURL)

	var resp *http.Response
	err := retryWithBackoff(ctx, fmt.Sprintf("%s %s", method, path), func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyBytes, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("failed to marshal request body: %w", err)
			}
			bodyReader = bytes.NewReader(bodyBytes)
		}

		req, err := http.NewRequestWithContext(ctx, method, apiURL, bodyReader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		c.tokenMutex.RLock()
		req.Header.Set("Authorization", "Bearer "+c.token)
		c.tokenMutex.RUnlock()
		req.Header.Set("Accept", "application/json")
		if method == http.MethodPost || method == http.MethodPatch || method == http.MethodPut {
			req.Header.Set("Content-Type", "application/json")
		}

		localResp, err := c.httpClient.Do(req) //nolint:bodyclose // body is closed via defer or passed to caller
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		// Rate limits and server errors trigger retry with backoff.
		if localResp.StatusCode == http.StatusTooManyRequests {
			drainAndCloseBody(localResp.Body)
			slog.Warn("Rate limited - will retry with backoff", "method", method, "path", path, "status", 429)
			return fmt.Errorf("http %d: rate limited", localResp.StatusCode)
		}
		if localResp.StatusCode >= http.StatusInternalServerError && localResp.StatusCode < 600 {
			drainAndCloseBody(localResp.Body)
			slog.Warn("Server error - will retry with backoff", "method", method, "path", path, "status", localResp.StatusCode)
			return fmt.Errorf("http %d: server error", localResp.StatusCode)
		}

		resp = localResp
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("HTTP response", "component", "http", "method", method, "url", apiURL, "status", resp.StatusCode)
	return resp, nil
}

// Retry constants.
const (
	maxRetryAttempts  = 8               // Maximum retry attempts for API calls
	initialRetryDelay = 1 * time.Second // Initial delay for retry attempts
	maxRetryDelay     = 30 * time.Second
)

// retryWithBackoff executes a function with exponential backoff using the codeGROOVE retry library.
func retryWithBackoff(ctx context.Context, operation string, fn func() error) error {
	return retry.Do(
		func() error {
			return fn()
		},
		retry.Context(ctx),
		retry.Attempts(uint(maxRetryAttempts)),
		retry.Delay(initialRetryDelay),
		retry.MaxDelay(maxRetryDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(initialRetryDelay/4),
		retry.OnRetry(func(n uint, err error) {
			slog.Info("Retry attempt", "component", "retry", "operation", operation, "attempt", n+1, "max_attempts", maxRetryAttempts, "error", err)
		}),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if err == nil {
				return false
			}
			errStr := err.Error()
			return strings.Contains(errStr, "rate limited") ||
				strings.Contains(errStr, "server error") ||
				strings.Contains(errStr, "connection refused") ||
				strings.Contains(errStr, "timeout") ||
				strings.Contains(errStr, "EOF")
		}),
	)
}

// getJSON issues a GET request and decodes a 200 response into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer drainAndCloseBody(resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	default:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}

// query builds an encoded query string from the given key/value pairs.
func query(pairs map[string]string) string {
	values := url.Values{}
	for k, v := range pairs {
		values.Set(k, v)
	}
	return values.Encode()
}

// realTimeProvider implements TimeProvider using the time package.
type realTimeProvider struct{}

func (realTimeProvider) Now() time.Time { return time.Now() }
