// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

package poller

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskwatch/taskwatch/internal/events"
	"github.com/taskwatch/taskwatch/internal/providers"
)

type fakeProvider struct {
	interval time.Duration
	poll     func(ctx context.Context) error
}

func (*fakeProvider) Metadata() providers.Metadata          { return providers.Metadata{Name: "fake"} }
func (*fakeProvider) Init(context.Context) error            { return nil }
func (*fakeProvider) ValidateWebhook(*http.Request, []byte) error {
	return nil
}
func (*fakeProvider) HandleWebhook(context.Context, http.Header, []byte, providers.EmitFunc) error {
	return nil
}
func (f *fakeProvider) Poll(ctx context.Context, _ providers.EmitFunc) error {
	return f.poll(ctx)
}
func (f *fakeProvider) PollInterval() time.Duration  { return f.interval }
func (*fakeProvider) Shutdown(context.Context) error { return nil }

func noopEmit(context.Context, *events.NormalizedEvent, providers.Reactor) {}

// noSleep records requested delays instead of waiting.
func noSleep(recorded *[]time.Duration, mu *sync.Mutex) func(context.Context, time.Duration) {
	return func(_ context.Context, d time.Duration) {
		mu.Lock()
		*recorded = append(*recorded, d)
		mu.Unlock()
	}
}

func TestPollerTicksAndStops(t *testing.T) {
	t.Parallel()

	var ticks atomic.Int32
	fake := &fakeProvider{
		interval: 5 * time.Millisecond,
		poll: func(context.Context) error {
			ticks.Add(1)
			return nil
		},
	}

	p := New(fake, noopEmit)
	p.Start(context.Background())
	require.True(t, p.IsRunning())

	require.Eventually(t, func() bool { return ticks.Load() >= 3 },
		2*time.Second, time.Millisecond)

	p.Stop()
	assert.False(t, p.IsRunning())
}

func TestPollerDisablesAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32
	fake := &fakeProvider{
		interval: time.Millisecond,
		poll: func(context.Context) error {
			polls.Add(1)
			return errors.New("upstream returned 500")
		},
	}

	p := New(fake, noopEmit)
	var mu sync.Mutex
	var delays []time.Duration
	p.sleep = noSleep(&delays, &mu)

	p.Start(context.Background())

	require.Eventually(t, func() bool { return !p.IsRunning() },
		2*time.Second, time.Millisecond)

	assert.Equal(t, int32(DefaultMaxErrorCount), polls.Load(),
		"the poller must stop polling once tripped")
	mu.Lock()
	defer mu.Unlock()
	// The trip happens on the fifth failure, before its sleep.
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
	}, delays)
}

func TestPollerSuccessResetsBackOff(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32
	fake := &fakeProvider{
		interval: time.Millisecond,
		poll: func(context.Context) error {
			// fail, fail, succeed, then fail forever
			n := polls.Add(1)
			if n == 3 {
				return nil
			}
			return errors.New("upstream returned 500")
		},
	}

	p := New(fake, noopEmit)
	var mu sync.Mutex
	var delays []time.Duration
	p.sleep = noSleep(&delays, &mu)

	p.Start(context.Background())

	require.Eventually(t, func() bool { return !p.IsRunning() },
		2*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	// Two failures before the success, then a fresh streak of five.
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second,
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
	}, delays)
}

func TestPollerSingleFlight(t *testing.T) {
	t.Parallel()

	var concurrent, peak atomic.Int32
	release := make(chan struct{})
	fake := &fakeProvider{
		interval: time.Millisecond,
		poll: func(context.Context) error {
			n := concurrent.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			<-release
			concurrent.Add(-1)
			return nil
		},
	}

	p := New(fake, noopEmit)
	p.Start(context.Background())

	// Let several ticks elapse while the first poll is still blocked.
	time.Sleep(20 * time.Millisecond)
	close(release)
	p.Stop()

	assert.Equal(t, int32(1), peak.Load(), "ticks must not overlap")
}
