package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/peerpp-dev/peerpp-bot/pkg/lockcache"
	"github.com/peerpp-dev/peerpp-bot/pkg/opstoken"
)

// opsServer serves health, metrics, and the operator endpoints.
type opsServer struct {
	cache       *lockcache.Cache
	registry    *prometheus.Registry
	tokenSecret []byte
	started     time.Time
}

// run serves until the context is cancelled. Failures are logged, not
// fatal: the bot keeps working without its ops surface.
func (o *opsServer) run(ctx context.Context, addr string) {
	o.started = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", o.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("POST /ops/flush-locks", o.requireOperator(o.handleFlush))

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Ops server shutdown failed", "error", err)
		}
	}()

	slog.Info("Starting ops server", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Ops server failed", "error", err)
	}
}

func (o *opsServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok - up " + time.Since(o.started).Round(time.Second).String() + "\n")); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

// handleFlush discards the lock snapshot so the next listing refetches.
func (o *opsServer) handleFlush(w http.ResponseWriter, _ *http.Request) {
	o.cache.Flush()
	w.WriteHeader(http.StatusAccepted)
	if _, err := w.Write([]byte("lock snapshot flushed\n")); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

// requireOperator guards mutating endpoints with a bearer operator token.
func (o *opsServer) requireOperator(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(o.tokenSecret) == 0 {
			http.Error(w, "operator endpoints disabled", http.StatusForbidden)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		operator, err := opstoken.Verify(o.tokenSecret, token)
		if err != nil {
			slog.Warn("Rejected operator request", "remote", r.RemoteAddr, "error", err)
			http.Error(w, "invalid operator token", http.StatusUnauthorized)
			return
		}
		slog.Info("Operator request", "operator", operator, "path", r.URL.Path)
		next(w, r)
	}
}
