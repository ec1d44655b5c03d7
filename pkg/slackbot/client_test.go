package slackbot

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

// slackCall records one request the fake Slack server saw.
type slackCall struct {
	Query  url.Values
	Method string
}

// newSlackServer fakes the Slack Web API, returning canned bodies per method.
// It enforces the transport contract: write methods take JSON POST bodies,
// read methods take GET query parameters and reject JSON.
func newSlackServer(t *testing.T, responses map[string]string) (*Client, *[]slackCall) {
	t.Helper()
	var calls []slackCall

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := strings.TrimPrefix(r.URL.Path, "/")
		calls = append(calls, slackCall{Method: method, Query: r.URL.Query()})

		if got := r.Header.Get("Authorization"); got != "Bearer xoxb-test" {
			t.Errorf("expected bot token auth, got %q", got)
		}

		switch method {
		case "users.info", "users.lookupByEmail":
			if r.Method != http.MethodGet {
				t.Errorf("%s accepts only URL-encoded arguments, got %s", method, r.Method)
			}
			if ct := r.Header.Get("Content-Type"); strings.Contains(ct, "json") {
				t.Errorf("%s rejects JSON bodies, got Content-Type %q", method, ct)
			}
		default:
			if r.Method != http.MethodPost {
				t.Errorf("expected POST for %s, got %s", method, r.Method)
			}
			body, err := io.ReadAll(r.Body)
			if err != nil || !json.Valid(body) {
				t.Errorf("expected a JSON payload for %s, got %q", method, body)
			}
		}

		resp, ok := responses[method]
		if !ok {
			resp = `{"ok":false,"error":"unknown_method"}`
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(resp)); err != nil {
			t.Errorf("failed to write response: %v", err)
		}
	}))
	t.Cleanup(server.Close)

	client := NewClient("xoxb-test")
	client.baseURL = server.URL
	return client, &calls
}

func TestPostMessage(t *testing.T) {
	client, _ := newSlackServer(t, map[string]string{
		"chat.postMessage": `{"ok":true}`,
	})

	if err := client.PostMessage(context.Background(), "D1", "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPostMessage_APIError(t *testing.T) {
	client, _ := newSlackServer(t, map[string]string{
		"chat.postMessage": `{"ok":false,"error":"channel_not_found"}`,
	})

	err := client.PostMessage(context.Background(), "D1", "hello")
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Errorf("expected the API error surfaced, got %v", err)
	}
}

func TestDisplayName(t *testing.T) {
	client, calls := newSlackServer(t, map[string]string{
		"users.info": `{"ok":true,"user":{"profile":{"display_name":"jkoers"}}}`,
	})

	name, err := client.DisplayName(context.Background(), "U1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "jkoers" {
		t.Errorf("expected jkoers, got %q", name)
	}
	if got := (*calls)[0].Query.Get("user"); got != "U1" {
		t.Errorf("expected the user id as a query parameter, got %q", got)
	}
}

func TestLookupByEmail(t *testing.T) {
	client, calls := newSlackServer(t, map[string]string{
		"users.lookupByEmail": `{"ok":true,"user":{"id":"U99"}}`,
	})

	id, err := client.LookupByEmail(context.Background(), "joppe@student.codam.nl")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "U99" {
		t.Errorf("expected U99, got %q", id)
	}
	if got := (*calls)[0].Query.Get("email"); got != "joppe@student.codam.nl" {
		t.Errorf("expected the email as a query parameter, got %q", got)
	}
}

func TestSendDirectMessage(t *testing.T) {
	client, calls := newSlackServer(t, map[string]string{
		"conversations.open": `{"ok":true,"channel":{"id":"D42"}}`,
		"chat.postMessage":   `{"ok":true}`,
	})

	client.SendDirectMessage(context.Background(), "U1", "hello")

	want := []string{"conversations.open", "chat.postMessage"}
	if len(*calls) != 2 || (*calls)[0].Method != want[0] || (*calls)[1].Method != want[1] {
		t.Errorf("expected calls %v, got %v", want, *calls)
	}
}

func TestSendDirectMessage_OpenFails(t *testing.T) {
	client, calls := newSlackServer(t, map[string]string{
		"conversations.open": `{"ok":false,"error":"user_not_found"}`,
	})

	// Best effort: no panic, no message attempt.
	client.SendDirectMessage(context.Background(), "U1", "hello")
	if len(*calls) != 1 {
		t.Errorf("expected only the open attempt, got %v", *calls)
	}
}
