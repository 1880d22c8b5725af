// Package api provides the operational HTTP server for the wastebot.
//
// It exposes a health check, a pickup backlog summary, and the inbound
// webhook for transports that deliver messages over HTTP (Twilio SMS).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ecocycle/wastebot/internal/models"
	"github.com/ecocycle/wastebot/internal/store"
)

// DefaultAddr is the default listen address for the ops server.
const DefaultAddr = ":8080"

// ShutdownTimeout bounds graceful shutdown of the HTTP server.
const ShutdownTimeout = 5 * time.Second

// Opts holds configuration options for the ops server.
type Opts struct {
	Addr    string
	Webhook http.HandlerFunc
}

// Option defines a configuration option for the ops server.
type Option func(*Opts)

// WithAddr overrides the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithInboundWebhook mounts an inbound message webhook at /webhook/inbound.
func WithInboundWebhook(h http.HandlerFunc) Option {
	return func(o *Opts) {
		o.Webhook = h
	}
}

// Server serves the operational endpoints.
type Server struct {
	addr    string
	store   store.Store
	webhook http.HandlerFunc
}

// NewServer creates an ops server over the given store.
func NewServer(st store.Store, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Creating ops Server", "addr", cfg.Addr, "webhook_mounted", cfg.Webhook != nil)
	return &Server{addr: cfg.Addr, store: st, webhook: cfg.Webhook}
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/pickups/pending", s.pendingPickupsHandler)
	if s.webhook != nil {
		mux.HandleFunc("/webhook/inbound", s.webhook)
	}

	srv := &http.Server{Addr: s.addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("ops server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("ops server shutdown failed: %w", err)
		}
		return nil
	}
}

// healthHandler reports liveness plus the pickup backlog as a health signal.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	pending, err := s.store.ListPendingPickups()
	if err != nil {
		slog.Warn("Health check: failed to count pending pickups", "error", err)
		health["status"] = "degraded"
	} else {
		health["pending_pickups"] = len(pending)
	}

	status := http.StatusOK
	if health["status"] != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, health)
}

// pendingPickupsHandler lists unassigned pickup requests, oldest first.
func (s *Server) pendingPickupsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	pending, err := s.store.ListPendingPickups()
	if err != nil {
		slog.Error("Server.pendingPickupsHandler: store error", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list pending pickups"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(pending))
}

// writeJSONResponse writes a JSON response with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response any) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = []byte(`{"status":"error","message":"Internal server error"}`)
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}
