// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package poller runs the periodic fetch loop for one provider: fixed-period
// ticks, single-flight, exponential back-off on failure and a hard-fail trip
// that disables the loop.
package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/taskwatch/taskwatch/internal/providers"
)

const (
	// DefaultBackOffBase is the delay after the first consecutive failure.
	DefaultBackOffBase = 1 * time.Second
	// DefaultBackOffCap bounds the failure delay.
	DefaultBackOffCap = 30 * time.Second
	// DefaultMaxErrorCount is the consecutive-failure threshold after which
	// the poller disables itself.
	DefaultMaxErrorCount = 5
)

// Poller drives one provider's Poll operation.
type Poller struct {
	provider providers.Provider
	emit     providers.EmitFunc

	interval      time.Duration
	backOffBase   time.Duration
	backOffCap    time.Duration
	maxErrorCount int

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration)

	running  atomic.Bool
	inFlight atomic.Bool

	mu         sync.Mutex
	errorCount int
	bo         *backoff.ExponentialBackOff

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a poller for the provider. The tick period comes from the
// provider's PollInterval; callers must not start a poller when that is zero.
func New(provider providers.Provider, emit providers.EmitFunc) *Poller {
	p := &Poller{
		provider:      provider,
		emit:          emit,
		interval:      provider.PollInterval(),
		backOffBase:   DefaultBackOffBase,
		backOffCap:    DefaultBackOffCap,
		maxErrorCount: DefaultMaxErrorCount,
		sleep:         sleepCtx,
		done:          make(chan struct{}),
	}
	p.bo = p.newBackOff()
	return p
}

// newBackOff yields the deterministic min(base * 2^(n-1), cap) series.
func (p *Poller) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.backOffBase
	bo.MaxInterval = p.backOffCap
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// Start runs the loop until ctx is cancelled, Stop is called, or the
// hard-fail threshold trips.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.running.Store(true)

	go func() {
		defer close(p.done)
		defer p.running.Store(false)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		logger := zerolog.Ctx(ctx).With().
			Str("provider", p.provider.Metadata().Name).Logger()
		logger.Info().Dur("interval", p.interval).Msg("poller started")

		for {
			select {
			case <-ctx.Done():
				logger.Info().Msg("poller stopped")
				return
			case <-ticker.C:
				if !p.inFlight.CompareAndSwap(false, true) {
					logger.Debug().Msg("previous tick still running, skipping")
					continue
				}
				tripped := p.tick(ctx, logger)
				p.inFlight.Store(false)
				if tripped {
					logger.Error().Int("failures", p.maxErrorCount).
						Msg("too many consecutive failures, disabling poller")
					return
				}
			}
		}
	}()
}

// tick runs one poll. It reports true when the consecutive-failure threshold
// has been reached. On failure it sleeps the computed back-off before
// returning, which keeps the tick in flight so intervening ticks are skipped.
func (p *Poller) tick(ctx context.Context, logger zerolog.Logger) bool {
	err := p.provider.Poll(ctx, p.emit)

	p.mu.Lock()
	if err == nil {
		p.errorCount = 0
		p.bo.Reset()
		p.mu.Unlock()
		return false
	}
	p.errorCount++
	count := p.errorCount
	delay := p.bo.NextBackOff()
	p.mu.Unlock()

	logger.Error().Err(err).Int("error-count", count).Dur("back-off", delay).
		Msg("poll failed")

	if count >= p.maxErrorCount {
		return true
	}

	p.sleep(ctx, delay)
	return false
}

// Stop cancels the loop and waits for it to exit.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

// IsRunning reports whether the loop is still live. A tripped poller reports
// false without Stop having been called.
func (p *Poller) IsRunning() bool {
	return p.running.Load()
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
