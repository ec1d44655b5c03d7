package slackbot

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// signatureMaxAge rejects replayed event deliveries.
const signatureMaxAge = 5 * time.Minute

// EventReceiver serves the Slack Events API endpoint and feeds DM messages
// into the command bot.
type EventReceiver struct {
	bot           *Bot
	signingSecret string
	botSlackID    string
}

// NewEventReceiver creates the events endpoint handler. Messages authored by
// botSlackID are dropped so the bot never answers itself.
func NewEventReceiver(bot *Bot, signingSecret, botSlackID string) *EventReceiver {
	return &EventReceiver{bot: bot, signingSecret: signingSecret, botSlackID: botSlackID}
}

// eventPayload is the subset of Slack event envelopes the bot consumes.
type eventPayload struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Event     struct {
		Type    string `json:"type"`
		User    string `json:"user"`
		BotID   string `json:"bot_id"`
		Channel string `json:"channel"`
		Text    string `json:"text"`
	} `json:"event"`
}

// ServeHTTP handles POST /slack/events.
func (er *EventReceiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBody))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if !er.signatureValid(r, body) {
		slog.Warn("Rejected Slack event with bad signature", "remote", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var payload eventPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "malformed JSON", http.StatusBadRequest)
		return
	}

	switch payload.Type {
	case "url_verification":
		w.Header().Set("Content-Type", "text/plain")
		if _, err := w.Write([]byte(payload.Challenge)); err != nil {
			slog.Warn("Failed to write challenge response", "error", err)
		}
	case "event_callback":
		// Ack immediately; Slack retries deliveries that take too long.
		w.WriteHeader(http.StatusOK)
		er.dispatch(&payload)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

const maxEventBody = 1 << 20

// dispatch feeds DM messages into the command router.
func (er *EventReceiver) dispatch(payload *eventPayload) {
	event := &payload.Event
	if event.Type != "message" {
		return
	}
	if event.BotID != "" || event.User == "" || event.User == er.botSlackID {
		return
	}
	// Only direct messages carry commands.
	if !strings.HasPrefix(event.Channel, "D") {
		return
	}

	ctx, cancel := newDispatchContext()
	defer cancel()
	er.bot.HandleMessage(ctx, event.User, event.Channel, event.Text)
}

// dispatchTimeout bounds command handling triggered by one event; Slack has
// already been acked by the time a command runs.
const dispatchTimeout = 30 * time.Second

func newDispatchContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), dispatchTimeout)
}

// signatureValid checks the v0 request signature Slack computes over the
// timestamp and raw body.
func (er *EventReceiver) signatureValid(r *http.Request, body []byte) bool {
	tsHeader := r.Header.Get("X-Slack-Request-Timestamp")
	signature := r.Header.Get("X-Slack-Signature")
	if tsHeader == "" || signature == "" {
		return false
	}

	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return false
	}
	age := time.Since(time.Unix(ts, 0))
	if age > signatureMaxAge || age < -signatureMaxAge {
		return false
	}

	mac := hmac.New(sha256.New, []byte(er.signingSecret))
	mac.Write([]byte("v0:" + tsHeader + ":"))
	mac.Write(body)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))

	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
