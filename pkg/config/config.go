// Package config defines the bot's configuration and its loading rules.
package config

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/peerpp-dev/peerpp-bot/pkg/booking"
	"github.com/peerpp-dev/peerpp-bot/pkg/eligibility"
	"github.com/peerpp-dev/peerpp-bot/pkg/lockcache"
	"github.com/peerpp-dev/peerpp-bot/pkg/types"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Intra API credentials and identity.
	IntraBaseURL      string `koanf:"intra_base_url"`
	IntraClientID     string `koanf:"intra_client_id"`
	IntraClientSecret string `koanf:"intra_client_secret"`
	BotUID            int    `koanf:"bot_uid"`
	CursusID          int    `koanf:"cursus_id"`
	PeerppGroupID     int    `koanf:"peerpp_group_id"`

	// Webhook receiver.
	WebhookAddr   string `koanf:"webhook_addr"`
	WebhookSecret string `koanf:"webhook_secret"`

	// Ops server (health, metrics, operator endpoints).
	OpsAddr        string `koanf:"ops_addr"`
	OpsTokenSecret string `koanf:"ops_token_secret"`

	// Slack.
	SlackToken         string `koanf:"slack_token"`
	SlackSigningSecret string `koanf:"slack_signing_secret"`
	SlackBotID         string `koanf:"slack_bot_id"`

	// Watched projects, keyed by intra project id.
	Projects map[int]string `koanf:"projects"`

	// Policy knobs.
	TTLSeconds      int     `koanf:"ttl_seconds"`      // lock snapshot staleness bound
	SeniorityMargin float64 `koanf:"seniority_margin"` // level headroom for a senior corrector
	BookingLeadMin  int     `koanf:"booking_lead_min"` // minutes until a claimed eval starts

	// HistoryPath is where booking audit entries are appended.
	HistoryPath string `koanf:"history_path"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:        "info",
		IntraBaseURL:    "https://api.intra.42.fr/v2",
		CursusID:        21,
		WebhookAddr:     ":5000",
		OpsAddr:         ":8080",
		TTLSeconds:      int(lockcache.DefaultTTL / time.Second),
		SeniorityMargin: eligibility.DefaultSeniorityMargin,
		BookingLeadMin:  int(booking.DefaultLead / time.Minute),
		HistoryPath:     "eval_history.jsonl",
	}
}

// Validate checks the fields the bot cannot run without.
func (c *Config) Validate() error {
	if c.IntraClientID == "" || c.IntraClientSecret == "" {
		return errors.New("intra_client_id and intra_client_secret are required")
	}
	if c.BotUID <= 0 {
		return errors.New("bot_uid is required")
	}
	if c.WebhookSecret == "" {
		return errors.New("webhook_secret is required")
	}
	if len(c.Projects) == 0 {
		return errors.New("at least one watched project is required")
	}
	if c.TTLSeconds <= 0 {
		return fmt.Errorf("ttl_seconds must be positive, got %d", c.TTLSeconds)
	}
	// Zero is a deliberate choice for both knobs; only negatives are invalid.
	if c.SeniorityMargin < 0 {
		return fmt.Errorf("seniority_margin must not be negative, got %v", c.SeniorityMargin)
	}
	if c.BookingLeadMin < 0 {
		return fmt.Errorf("booking_lead_min must not be negative, got %d", c.BookingLeadMin)
	}
	return nil
}

// WatchedProjects returns the watched projects sorted by name for stable
// display order.
func (c *Config) WatchedProjects() []types.Project {
	projects := make([]types.Project, 0, len(c.Projects))
	for id, name := range c.Projects {
		projects = append(projects, types.Project{ID: id, Name: name})
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].Name < projects[j].Name })
	return projects
}
