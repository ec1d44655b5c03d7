package slackbot

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/peerpp-dev/peerpp-bot/pkg/internal/testutil"
)

const signingSecret = "8f742231b10e8888abcd99yyyzzz85a5"

func signedRequest(body string, ts time.Time) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/slack/events", bytes.NewReader([]byte(body)))
	tsHeader := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(signingSecret))
	fmt.Fprintf(mac, "v0:%s:%s", tsHeader, body)
	req.Header.Set("X-Slack-Request-Timestamp", tsHeader)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return req
}

func newReceiver() (*EventReceiver, *fakeMessenger) {
	messenger := newFakeMessenger()
	bot := newTestBot(messenger, &fakeClaimer{}, testutil.NewMockIntraClient(), nil)
	return NewEventReceiver(bot, signingSecret, "UBOT"), messenger
}

func dmEvent(user, channel, text string) string {
	return fmt.Sprintf(`{"type":"event_callback","event":{"type":"message","user":%q,"channel":%q,"text":%q}}`,
		user, channel, text)
}

func TestServeHTTP_URLVerification(t *testing.T) {
	receiver, _ := newReceiver()
	body := `{"type":"url_verification","challenge":"3eZbrw1aBm2rZgRNFdxV2595E9CY3gmdALWMmHkvFXO7tYXAYM8P"}`

	recorder := httptest.NewRecorder()
	receiver.ServeHTTP(recorder, signedRequest(body, time.Now()))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if got := recorder.Body.String(); got != "3eZbrw1aBm2rZgRNFdxV2595E9CY3gmdALWMmHkvFXO7tYXAYM8P" {
		t.Errorf("expected the challenge echoed back, got %q", got)
	}
}

func TestServeHTTP_BadSignature(t *testing.T) {
	receiver, _ := newReceiver()
	req := signedRequest(dmEvent("U1", "D1", "help"), time.Now())
	req.Header.Set("X-Slack-Signature", "v0=deadbeef")

	recorder := httptest.NewRecorder()
	receiver.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for a bad signature, got %d", recorder.Code)
	}
}

func TestServeHTTP_StaleTimestamp(t *testing.T) {
	receiver, _ := newReceiver()
	req := signedRequest(dmEvent("U1", "D1", "help"), time.Now().Add(-10*time.Minute))

	recorder := httptest.NewRecorder()
	receiver.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for a replayed delivery, got %d", recorder.Code)
	}
}

func TestServeHTTP_MissingSignatureHeaders(t *testing.T) {
	receiver, _ := newReceiver()
	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(dmEvent("U1", "D1", "help")))

	recorder := httptest.NewRecorder()
	receiver.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without signature headers, got %d", recorder.Code)
	}
}

func TestServeHTTP_DispatchesDM(t *testing.T) {
	receiver, messenger := newReceiver()

	recorder := httptest.NewRecorder()
	receiver.ServeHTTP(recorder, signedRequest(dmEvent("U1", "D1", "help"), time.Now()))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if len(messenger.posts) != 1 || !strings.Contains(messenger.posts[0], "book-evaluation") {
		t.Errorf("expected the help reply, got %v", messenger.posts)
	}
}

func TestServeHTTP_IgnoresNonDMAndBotEvents(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"channel message", dmEvent("U1", "C042", "help")},
		{"own message", dmEvent("UBOT", "D1", "help")},
		{"bot message", `{"type":"event_callback","event":{"type":"message","user":"U1","bot_id":"B7","channel":"D1","text":"help"}}`},
		{"non-message event", `{"type":"event_callback","event":{"type":"reaction_added","user":"U1","channel":"D1"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			receiver, messenger := newReceiver()
			recorder := httptest.NewRecorder()
			receiver.ServeHTTP(recorder, signedRequest(tt.body, time.Now()))

			if recorder.Code != http.StatusOK {
				t.Fatalf("expected 200 ack, got %d", recorder.Code)
			}
			if len(messenger.posts) != 0 {
				t.Errorf("expected no reply, got %v", messenger.posts)
			}
		})
	}
}

func TestServeHTTP_MethodNotAllowed(t *testing.T) {
	receiver, _ := newReceiver()
	recorder := httptest.NewRecorder()
	receiver.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/slack/events", nil))
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", recorder.Code)
	}
}
