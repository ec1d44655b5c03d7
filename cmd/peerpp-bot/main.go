// Package main implements the peer++ bot: it watches evaluation-completion
// webhooks, plans supplementary evaluations, and lets qualified reviewers
// claim them over Slack.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/peerpp-dev/peerpp-bot/pkg/booking"
	"github.com/peerpp-dev/peerpp-bot/pkg/config"
	"github.com/peerpp-dev/peerpp-bot/pkg/eligibility"
	"github.com/peerpp-dev/peerpp-bot/pkg/history"
	"github.com/peerpp-dev/peerpp-bot/pkg/intra"
	"github.com/peerpp-dev/peerpp-bot/pkg/lockcache"
	"github.com/peerpp-dev/peerpp-bot/pkg/metrics"
	"github.com/peerpp-dev/peerpp-bot/pkg/slackbot"
	"github.com/peerpp-dev/peerpp-bot/pkg/webhook"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Bot that plans and books supplementary peer++ evaluations.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  PEERPP_CONFIG                - Path to a YAML config file\n")
		fmt.Fprintf(os.Stderr, "  PEERPP_INTRA_CLIENT_ID       - Intra OAuth client id\n")
		fmt.Fprintf(os.Stderr, "  PEERPP_INTRA_CLIENT_SECRET   - Intra OAuth client secret\n")
		fmt.Fprintf(os.Stderr, "  PEERPP_WEBHOOK_SECRET        - Shared secret for intra webhook deliveries\n")
		fmt.Fprintf(os.Stderr, "  PEERPP_SLACK_TOKEN           - Slack bot token\n")
	}
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := intra.New(ctx, intra.Config{
		BaseURL:      cfg.IntraBaseURL,
		ClientID:     cfg.IntraClientID,
		ClientSecret: cfg.IntraClientSecret,
		BotUID:       cfg.BotUID,
		CursusID:     cfg.CursusID,
		HTTPTimeout:  30 * time.Second,
	})
	if err != nil {
		slog.Error("Failed to create intra client", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	projects := cfg.WatchedProjects()
	clock := systemClock{}

	cache := lockcache.New(client, clock, lockcache.Config{
		TTL:      time.Duration(cfg.TTLSeconds) * time.Second,
		Projects: projects,
		Metrics:  m,
	})

	engine := eligibility.New(client, eligibility.Config{
		SeniorityMargin: cfg.SeniorityMargin,
	})

	auditLog := history.New(cfg.HistoryPath)

	coordinator := booking.New(cache, client, auditLog, clock, booking.Config{
		Lead: time.Duration(cfg.BookingLeadMin) * time.Minute,
	})

	slackClient := slackbot.NewClient(cfg.SlackToken)
	bot := slackbot.New(slackClient, cache, coordinator, client, clock, m, projects)
	events := slackbot.NewEventReceiver(bot, cfg.SlackSigningSecret, cfg.SlackBotID)

	receiver := webhook.New(client, engine, m, webhook.Config{
		Secret:   cfg.WebhookSecret,
		BotUID:   cfg.BotUID,
		Projects: projects,
	})

	ops := &opsServer{
		cache:       cache,
		registry:    registry,
		tokenSecret: []byte(cfg.OpsTokenSecret),
	}
	go ops.run(ctx, cfg.OpsAddr)

	slog.Info("Starting peer++ bot",
		"webhook_addr", cfg.WebhookAddr,
		"ops_addr", cfg.OpsAddr,
		"projects", len(projects),
		"ttl_seconds", cfg.TTLSeconds)

	if err := serveWebhooks(ctx, cfg.WebhookAddr, receiver, events); err != nil {
		slog.Error("Webhook server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Shut down cleanly")
}

// serveWebhooks runs the intra webhook receiver and the Slack events
// endpoint on one listener until the context is cancelled.
func serveWebhooks(ctx context.Context, addr string, receiver *webhook.Server, events *slackbot.EventReceiver) error {
	mux := http.NewServeMux()
	mux.Handle("/webhook", receiver.Handler())
	mux.Handle("/slack/events", events)

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Webhook server shutdown failed", "error", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// logLevel maps the configured level name onto slog.
func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// systemClock satisfies the Clock interfaces with real time.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
