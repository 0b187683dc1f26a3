// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package providers defines the contracts between the dispatcher and the
// platform adapters: the Provider interface realized once per platform, and
// the per-event Reactor capability the dispatcher uses to inspect and mutate
// the conversation on a resource.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/taskwatch/taskwatch/internal/events"
)

// ErrPostFailed is returned by Reactor.PostComment on transport or API
// errors.
var ErrPostFailed = errors.New("failed to post comment")

// ErrValidationFailed is returned by ValidateWebhook when the request cannot
// be authenticated.
var ErrValidationFailed = errors.New("webhook validation failed")

// ProviderError tags an error with the provider it came from. Initialization
// failures surface as ProviderErrors so the supervisor can report which
// adapter refused to start.
type ProviderError struct {
	Provider string
	Err      error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

// Unwrap returns the wrapped error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Metadata describes a provider.
type Metadata struct {
	// Name is the provider key used in webhook routes, event records and
	// configuration.
	Name string
}

// Comment is the author/body pair the dispatcher inspects for idempotency.
type Comment struct {
	Author string
	Body   string
}

// Reactor is the per-event capability wrapping "look at the thread, speak
// into the thread". It borrows the provider's platform client for the
// lifetime of a single event and must not be retained afterwards.
type Reactor interface {
	// LastComment returns the most recent comment on the resource, or nil
	// when the thread is empty. Retrieval errors are returned so the
	// caller can log them; callers treat an error as "no comment".
	LastComment(ctx context.Context) (*Comment, error)

	// PostComment appends a comment to the resource's thread and returns
	// an opaque handle for it.
	PostComment(ctx context.Context, body string) (string, error)

	// IsBotAuthor reports whether name is one of the identities the bot
	// may appear under on this platform.
	IsBotAuthor(name string) bool
}

// EmitFunc delivers one normalized event together with its reactor to the
// dispatcher. The reactor is only valid for the duration of the call.
type EmitFunc func(ctx context.Context, evt *events.NormalizedEvent, r Reactor)

// Provider is the adapter contract for one external platform.
type Provider interface {
	// Metadata returns the provider description.
	Metadata() Metadata

	// Init prepares the provider: resolves credentials, builds the API
	// client, and optionally learns the bot identity.
	Init(ctx context.Context) error

	// ValidateWebhook authenticates an incoming webhook delivery against
	// the provider's signature envelope. raw is the untouched body.
	ValidateWebhook(r *http.Request, raw []byte) error

	// HandleWebhook parses a validated delivery, filters and normalizes
	// it, and emits zero or more events.
	HandleWebhook(ctx context.Context, headers http.Header, raw []byte, emit EmitFunc) error

	// Poll fetches items updated since the provider's cursor and emits
	// the ones that pass filtering.
	Poll(ctx context.Context, emit EmitFunc) error

	// PollInterval returns the configured polling period; zero disables
	// polling for this provider.
	PollInterval() time.Duration

	// Shutdown releases provider resources.
	Shutdown(ctx context.Context) error
}
