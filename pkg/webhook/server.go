// Package webhook receives evaluation-completion events from the intra API
// and plans placeholder peer++ evaluations when one is required.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/peerpp-dev/peerpp-bot/pkg/metrics"
	"github.com/peerpp-dev/peerpp-bot/pkg/types"
)

// maxBodySize bounds webhook payloads; intra events are small.
const maxBodySize = 1 << 20

// Source is the subset of the intra API the receiver needs.
type Source interface {
	CompletedEvaluations(ctx context.Context, projectID, scaleID, teamID int) ([]types.EvaluationRecord, error)
	ProficiencyLevel(ctx context.Context, userID int) (float64, error)
	CreatePlaceholder(ctx context.Context, scaleID, teamID int) error
}

// Engine decides whether an extra review is required.
type Engine interface {
	Required(ctx context.Context, subjectLevel float64, evals []types.EvaluationRecord) (bool, error)
}

// Payload is the body of an intra scale_team webhook delivery.
type Payload struct {
	User struct {
		ID    int    `json:"id"`
		Login string `json:"login"`
	} `json:"user"`
	Team struct {
		ID        int    `json:"id"`
		Name      string `json:"name"`
		ProjectID int    `json:"project_id"`
	} `json:"team"`
	Scale struct {
		ID int `json:"id"`
	} `json:"scale"`
}

// Server handles webhook deliveries.
type Server struct {
	source   Source
	engine   Engine
	metrics  *metrics.Metrics
	projects map[int]string
	secret   string
	botUID   int
}

// Config holds configuration for creating a webhook server.
type Config struct {
	Secret   string          // shared X-Secret value issued by intra
	BotUID   int             // deliveries fired by the bot itself are ignored
	Projects []types.Project // only watched projects are considered
}

// New creates a webhook server. Metrics may be nil.
func New(source Source, engine Engine, m *metrics.Metrics, cfg Config) *Server {
	projects := make(map[int]string, len(cfg.Projects))
	for _, p := range cfg.Projects {
		projects[p.ID] = p.Name
	}
	return &Server{
		source:   source,
		engine:   engine,
		metrics:  m,
		projects: projects,
		secret:   cfg.Secret,
		botUID:   cfg.BotUID,
	}
}

// Handler returns the HTTP handler for the receiver.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", s.handleDelivery)
	return mux
}

// ListenAndServe runs the receiver on the given address until the context is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
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

	slog.Info("Starting webhook server", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleDelivery validates and processes one webhook delivery.
func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	delivery := r.Header.Get("X-Delivery")
	if delivery == "" {
		// Keep a correlation id for the logs even when intra omits one.
		delivery = "local-" + uuid.NewString()
	}
	logger := slog.With("component", "webhook", "delivery", delivery)

	if reason := s.rejectReason(r); reason != "" {
		s.countRejected()
		logger.Warn("Rejected webhook delivery", "reason", reason, "remote", r.RemoteAddr)
		status := http.StatusBadRequest
		if reason == "X-Secret header incorrect" {
			status = http.StatusPreconditionFailed
		}
		http.Error(w, reason, status)
		return
	}

	var payload Payload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&payload); err != nil {
		s.countRejected()
		logger.Warn("Malformed webhook body", "error", err)
		http.Error(w, "Malformed JSON received", http.StatusBadRequest)
		return
	}

	if s.metrics != nil {
		s.metrics.WebhooksReceived.Inc()
	}

	planned := s.process(r.Context(), logger, &payload)
	if planned {
		w.WriteHeader(http.StatusCreated)
		if _, err := w.Write([]byte("A peer++ evaluation placeholder has been created\n")); err != nil {
			logger.Warn("Failed to write response", "error", err)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// rejectReason checks the delivery headers; empty means the request is fine.
func (s *Server) rejectReason(r *http.Request) string {
	if r.Header.Get("X-Delivery") == "" {
		return "X-Delivery header missing"
	}
	secret := r.Header.Get("X-Secret")
	if secret == "" {
		return "X-Secret header missing"
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(s.secret)) != 1 {
		return "X-Secret header incorrect"
	}
	if ct := r.Header.Get("Content-Type"); ct != "application/json" {
		return "Content-Type is not application/json"
	}
	return ""
}

// process runs the eligibility decision and plans a placeholder when needed.
// Returns true when a placeholder was created.
func (s *Server) process(ctx context.Context, logger *slog.Logger, payload *Payload) bool {
	if payload.User.ID == s.botUID {
		s.countIgnored()
		logger.Info("Ignored delivery fired by the bot itself")
		return false
	}
	projectName, watched := s.projects[payload.Team.ProjectID]
	if !watched {
		s.countIgnored()
		logger.Info("Ignored delivery for unwatched project", "project_id", payload.Team.ProjectID)
		return false
	}

	evals, err := s.source.CompletedEvaluations(ctx, payload.Team.ProjectID, payload.Scale.ID, payload.Team.ID)
	if err != nil {
		logger.Warn("Failed to fetch evaluations", "team", payload.Team.ID, "error", err)
		return false
	}
	if len(evals) == 0 {
		// The webhook fires after an evaluation completed, so this state
		// points at an upstream inconsistency.
		logger.Warn("Delivery for a team with zero completed evaluations", "team", payload.Team.ID)
		return false
	}

	subjectLevel, err := s.source.ProficiencyLevel(ctx, payload.User.ID)
	if err != nil {
		logger.Warn("Failed to resolve subject level", "subject", payload.User.Login, "error", err)
		return false
	}

	required, err := s.engine.Required(ctx, subjectLevel, evals)
	if err != nil {
		logger.Warn("Eligibility decision failed", "team", payload.Team.ID, "error", err)
		return false
	}
	s.countJudged(required)
	if !required {
		logger.Info("No peer++ evaluation required", "team", payload.Team.ID, "project", projectName)
		return false
	}

	if err := s.source.CreatePlaceholder(ctx, payload.Scale.ID, payload.Team.ID); err != nil {
		if s.metrics != nil {
			s.metrics.PlaceholderErrors.Inc()
		}
		logger.Error("Failed to create placeholder evaluation", "team", payload.Team.ID, "error", err)
		return false
	}

	logger.Info("Planned peer++ evaluation", "team", payload.Team.ID, "project", projectName)
	return true
}

func (s *Server) countRejected() {
	if s.metrics != nil {
		s.metrics.WebhooksRejected.Inc()
	}
}

func (s *Server) countIgnored() {
	if s.metrics != nil {
		s.metrics.WebhooksIgnored.Inc()
	}
}

func (s *Server) countJudged(required bool) {
	if s.metrics != nil {
		label := "false"
		if required {
			label = "true"
		}
		s.metrics.EvalsJudged.WithLabelValues(label).Inc()
	}
}
