// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package webhook implements the HTTP ingestion surface: one route per
// registered provider, ack-first delivery handling and connection draining
// on shutdown.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/taskwatch/taskwatch/internal/providers"
	"github.com/taskwatch/taskwatch/pkg/config"
)

// maxBodySize bounds webhook request bodies.
const maxBodySize = 5 << 20

var deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "taskwatch_webhook_deliveries_total",
	Help: "Webhook deliveries by provider and outcome.",
}, []string{"provider", "outcome"})

// Server is the webhook ingestion server.
type Server struct {
	cfg       config.HTTPServerConfig
	providers map[string]providers.Provider
	emit      providers.EmitFunc

	srv      *http.Server
	draining atomic.Bool
	inflight sync.WaitGroup
}

// NewServer builds a Server routing one path per provider under
// {basePath}/webhook/{name}.
func NewServer(cfg config.HTTPServerConfig, provs []providers.Provider, emit providers.EmitFunc) *Server {
	byName := make(map[string]providers.Provider, len(provs))
	for _, p := range provs {
		byName[p.Metadata().Name] = p
	}
	return &Server{
		cfg:       cfg,
		providers: byName,
		emit:      emit,
	}
}

// Router builds the HTTP handler tree.
func (s *Server) Router(logger zerolog.Logger) http.Handler {
	base := strings.TrimSuffix(s.cfg.BasePath, "/")

	mux := http.NewServeMux()
	// Health lives at the root regardless of base_path; only webhook routes
	// are prefixed.
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc(base+"/webhook/", s.handleDelivery)

	return handlers.RecoveryHandler(
		handlers.PrintRecoveryStack(true),
	)(requestLogger(logger)(mux))
}

// Start runs the server until ctx is cancelled, then drains.
func (s *Server) Start(ctx context.Context, logger zerolog.Logger) error {
	s.srv = &http.Server{
		Addr:              s.cfg.GetAddress(),
		Handler:           s.Router(logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("address", s.srv.Addr).Msg("webhook server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("webhook server failed: %w", err)
	case <-ctx.Done():
		return s.Shutdown(logger)
	}
}

// Shutdown stops accepting deliveries, then waits for in-flight processing
// up to the configured drain timeout.
func (s *Server) Shutdown(logger zerolog.Logger) error {
	s.draining.Store(true)

	drain := time.Duration(s.cfg.DrainTimeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()

	var err error
	if s.srv != nil {
		err = s.srv.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info().Msg("webhook server drained")
	case <-ctx.Done():
		logger.Warn().Dur("timeout", drain).Msg("drain timeout reached, abandoning in-flight deliveries")
	}
	return err
}

// handleHealth answers as long as the listener accepts; draining does not
// affect it.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestLogger attaches the logger to the request context and records one
// line per request.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := logger.WithContext(r.Context())
			next.ServeHTTP(w, r.WithContext(ctx))
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("duration", time.Since(start)).
				Msg("request handled")
		})
	}
}
