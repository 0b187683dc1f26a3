// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package watcher ties the pieces together: a provider registry, the
// dispatcher closure that applies the comment-stream idempotency protocol,
// and the lifecycle supervisor that starts and stops the webhook server and
// the pollers.
package watcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"text/template"

	"github.com/rs/zerolog"

	"github.com/taskwatch/taskwatch/internal/events"
	"github.com/taskwatch/taskwatch/internal/executor"
	"github.com/taskwatch/taskwatch/internal/poller"
	"github.com/taskwatch/taskwatch/internal/providers"
	"github.com/taskwatch/taskwatch/internal/webhook"
	"github.com/taskwatch/taskwatch/pkg/config"
)

// ErrAlreadyStarted is returned by Start on a running watcher.
var ErrAlreadyStarted = errors.New("watcher already started")

// ErrStarted is returned when the provider registry is mutated while running.
var ErrStarted = errors.New("registry is immutable while the watcher runs")

// Watcher supervises the providers, the webhook server and the pollers.
type Watcher struct {
	cfg      *config.Config
	eventer  *events.Eventer
	executor *executor.Executor

	markerTmpl *template.Template

	mu        sync.Mutex
	started   bool
	providers []providers.Provider
	pollers   []*poller.Poller
	server    *webhook.Server
	stopSrv   context.CancelFunc
	srvDone   chan error
}

// New builds a watcher. The acknowledgement comment template is parsed
// eagerly so a broken template fails startup.
func New(cfg *config.Config, eventer *events.Eventer, exec *executor.Executor) (*Watcher, error) {
	markerTmpl, err := template.New("marker").Parse(cfg.Dedup.CommentTemplate)
	if err != nil {
		return nil, fmt.Errorf("invalid comment template: %w", err)
	}

	return &Watcher{
		cfg:        cfg,
		eventer:    eventer,
		executor:   exec,
		markerTmpl: markerTmpl,
	}, nil
}

// RegisterProvider adds a provider to the registry. Valid only while the
// watcher is stopped.
func (w *Watcher) RegisterProvider(p providers.Provider) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return ErrStarted
	}
	name := p.Metadata().Name
	for _, existing := range w.providers {
		if existing.Metadata().Name == name {
			return fmt.Errorf("provider %s is already registered", name)
		}
	}
	w.providers = append(w.providers, p)
	return nil
}

// UnregisterProvider removes a provider by name. Valid only while the
// watcher is stopped.
func (w *Watcher) UnregisterProvider(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return ErrStarted
	}
	for i, p := range w.providers {
		if p.Metadata().Name == name {
			w.providers = append(w.providers[:i], w.providers[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("provider %s is not registered", name)
}

// Start initializes every registered provider, then brings up the webhook
// server and one poller per pollable provider. An initialization failure
// aborts the start; already-initialized providers are torn down by Stop.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return ErrAlreadyStarted
	}

	logger := zerolog.Ctx(ctx)

	for _, p := range w.providers {
		if err := p.Init(ctx); err != nil {
			return &providers.ProviderError{Provider: p.Metadata().Name, Err: err}
		}
		logger.Info().Str("provider", p.Metadata().Name).Msg("provider initialized")
	}

	if len(w.providers) > 0 {
		w.server = webhook.NewServer(w.cfg.HTTPServer, w.providers, w.handleEvent)
		srvCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		w.stopSrv = cancel
		w.srvDone = make(chan error, 1)
		go func() {
			w.srvDone <- w.server.Start(srvCtx, *logger)
		}()
	}

	for _, p := range w.providers {
		if p.PollInterval() <= 0 {
			continue
		}
		pl := poller.New(p, w.handleEvent)
		pl.Start(ctx)
		w.pollers = append(w.pollers, pl)
	}

	w.started = true
	if err := w.eventer.PublishLifecycle(events.LifecycleStarted); err != nil {
		logger.Warn().Err(err).Msg("could not publish lifecycle notification")
	}
	return nil
}

// Stop tears everything down in reverse order: pollers, webhook server,
// providers. Provider shutdown errors are logged, not returned.
func (w *Watcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return nil
	}

	logger := zerolog.Ctx(ctx)

	for _, pl := range w.pollers {
		pl.Stop()
	}
	w.pollers = nil

	if w.server != nil {
		w.stopSrv()
		if err := <-w.srvDone; err != nil {
			logger.Warn().Err(err).Msg("webhook server stopped with error")
		}
		w.server = nil
	}

	for _, p := range w.providers {
		if err := p.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).
				Str("provider", p.Metadata().Name).Msg("provider shutdown failed")
		}
	}

	w.started = false
	if err := w.eventer.PublishLifecycle(events.LifecycleStopped); err != nil {
		logger.Warn().Err(err).Msg("could not publish lifecycle notification")
	}
	return nil
}

// handleEvent is the dispatcher: the single closure every provider emits
// into, from webhook handling and from polling alike.
func (w *Watcher) handleEvent(ctx context.Context, evt *events.NormalizedEvent, reactor providers.Reactor) {
	logger := zerolog.Ctx(ctx).With().
		Str("provider", evt.Provider).Str("event-id", evt.ID).Logger()
	eventsReceived.WithLabelValues(evt.Provider).Inc()

	// Comment-stream idempotency: if the newest comment on the resource is
	// ours, this event has already been handled. There is no other dedup
	// state; a retrieval error counts as "no comment".
	last, err := reactor.LastComment(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("could not fetch last comment, treating thread as fresh")
		w.reportError(logger, evt.Provider, err)
		last = nil
	}
	if last != nil && reactor.IsBotAuthor(last.Author) {
		logger.Info().Str("author", last.Author).Msg("last comment is ours, skipping event")
		eventsSkipped.WithLabelValues(evt.Provider, "duplicate").Inc()
		return
	}

	if err := w.eventer.PublishEvent(evt.Provider, evt); err != nil {
		logger.Warn().Err(err).Msg("could not publish event")
	}

	marker, err := w.renderMarker(evt)
	if err != nil {
		logger.Error().Err(err).Msg("could not render acknowledgement comment")
		w.reportError(logger, evt.Provider, err)
		eventsSkipped.WithLabelValues(evt.Provider, "marker_render").Inc()
		return
	}

	if w.executor.Enabled() {
		eventsDispatched.WithLabelValues(evt.Provider, "command").Inc()
		w.executor.Execute(ctx, evt, reactor, marker)
		return
	}

	// With no executor the acknowledgement still goes out; it is what
	// suppresses redeliveries of the same event.
	eventsDispatched.WithLabelValues(evt.Provider, "comment").Inc()
	if _, err := reactor.PostComment(ctx, marker); err != nil {
		logger.Warn().Err(err).Msg("could not post acknowledgement comment")
		w.reportError(logger, evt.Provider, err)
	}
}

// reportError surfaces an event-path error on the bus error topic; delivery
// of the notification itself is best-effort.
func (w *Watcher) reportError(logger zerolog.Logger, provider string, err error) {
	if pubErr := w.eventer.PublishError(provider, err); pubErr != nil {
		logger.Debug().Err(pubErr).Msg("could not publish error notification")
	}
}

// renderMarker renders the acknowledgement comment for an event.
func (w *Watcher) renderMarker(evt *events.NormalizedEvent) (string, error) {
	var buf bytes.Buffer
	if err := w.markerTmpl.Execute(&buf, struct{ ID string }{ID: evt.DisplayString()}); err != nil {
		return "", err
	}
	return buf.String(), nil
}
