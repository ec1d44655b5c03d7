// Package slackbot lets reviewers claim peer++ evaluations through Slack
// direct messages.
package slackbot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const slackAPIBase = "https://slack.com/api"

// HTTPDoer provides an interface for making HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a minimal Slack Web API client covering what the bot needs:
// direct messages and profile lookups.
type Client struct {
	httpClient HTTPDoer
	baseURL    string
	token      string
}

// NewClient creates a Slack client with the given bot token.
func NewClient(token string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    slackAPIBase,
		token:      token,
	}
}

// call posts a JSON payload to a Slack Web API write method and decodes the
// response envelope into out (which must embed the "ok"/"error" fields).
func (c *Client) call(ctx context.Context, method string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	return c.do(req, method, out)
}

// get calls a Slack Web API read method. The read methods (users.info,
// users.lookupByEmail) take URL-encoded arguments only and reject JSON
// bodies.
func (c *Client) get(ctx context.Context, method string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+method+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}

	return c.do(req, method, out)
}

func (c *Client) do(req *http.Request, method string, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("Failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", method, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	return nil
}

// apiEnvelope is the common part of every Slack Web API response.
type apiEnvelope struct {
	Error string `json:"error"`
	OK    bool   `json:"ok"`
}

// PostMessage sends a message to a channel.
func (c *Client) PostMessage(ctx context.Context, channel, text string) error {
	var result apiEnvelope
	payload := map[string]string{"channel": channel, "text": text}
	if err := c.call(ctx, "chat.postMessage", payload, &result); err != nil {
		return err
	}
	if !result.OK {
		return fmt.Errorf("chat.postMessage failed: %s", result.Error)
	}
	return nil
}

// OpenDM opens (or resumes) a direct-message channel with a user.
func (c *Client) OpenDM(ctx context.Context, slackUserID string) (string, error) {
	var result struct {
		apiEnvelope
		Channel struct {
			ID string `json:"id"`
		} `json:"channel"`
	}
	payload := map[string]string{"users": slackUserID}
	if err := c.call(ctx, "conversations.open", payload, &result); err != nil {
		return "", err
	}
	if !result.OK {
		return "", fmt.Errorf("conversations.open failed: %s", result.Error)
	}
	return result.Channel.ID, nil
}

// DisplayName returns the user's profile display name. Codam convention is
// that the Slack display name equals the intra login, which is how DM
// senders are mapped onto intra users.
func (c *Client) DisplayName(ctx context.Context, slackUserID string) (string, error) {
	var result struct {
		apiEnvelope
		User struct {
			Profile struct {
				DisplayName string `json:"display_name"`
			} `json:"profile"`
		} `json:"user"`
	}
	if err := c.get(ctx, "users.info", url.Values{"user": {slackUserID}}, &result); err != nil {
		return "", err
	}
	if !result.OK {
		return "", fmt.Errorf("users.info failed: %s", result.Error)
	}
	return result.User.Profile.DisplayName, nil
}

// LookupByEmail finds the Slack user id registered under an email address.
func (c *Client) LookupByEmail(ctx context.Context, email string) (string, error) {
	var result struct {
		apiEnvelope
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	if err := c.get(ctx, "users.lookupByEmail", url.Values{"email": {email}}, &result); err != nil {
		return "", err
	}
	if !result.OK {
		return "", fmt.Errorf("users.lookupByEmail failed: %s", result.Error)
	}
	return result.User.ID, nil
}

// SendDirectMessage DMs a user. Best effort: failures are logged, never
// propagated, since notification is not worth failing a booking over.
func (c *Client) SendDirectMessage(ctx context.Context, slackUserID, text string) {
	channel, err := c.OpenDM(ctx, slackUserID)
	if err != nil {
		slog.Warn("Failed to open DM channel", "user", slackUserID, "error", err)
		return
	}
	if err := c.PostMessage(ctx, channel, text); err != nil {
		slog.Warn("Failed to send DM", "user", slackUserID, "error", err)
	}
}
