// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package slackp provides the Slack provider implementation. Unlike the
// issue trackers, the watched resource is a conversation thread: a mention
// of the bot opens the thread, and replies land in it.
package slackp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/taskwatch/taskwatch/internal/crypto"
	"github.com/taskwatch/taskwatch/internal/httpclient"
	"github.com/taskwatch/taskwatch/internal/providers"
	"github.com/taskwatch/taskwatch/pkg/config"
)

// Class is the string that represents the Slack provider class
const Class = "slack"

const (
	signatureHeader = "X-Slack-Signature"
	timestampHeader = "X-Slack-Request-Timestamp"
)

// Provider implements the Slack adapter.
type Provider struct {
	cfg      config.SlackConfig
	interval time.Duration

	client        *slack.Client
	signingSecret string
	botUserID     string
	identities    []string

	// cursors hold the newest seen message timestamp per channel. Slack
	// timestamps are decimal strings and compare lexicographically within
	// the same epoch width, so they are kept as strings.
	cursors map[string]string
	mu      sync.Mutex
}

var _ providers.Provider = (*Provider)(nil)

// New creates a new Slack provider.
func New(cfg config.SlackConfig, identities []string) (*Provider, error) {
	interval, err := cfg.Polling.GetInterval()
	if err != nil {
		return nil, err
	}

	return &Provider{
		cfg:        cfg,
		interval:   interval,
		identities: identities,
		cursors:    make(map[string]string),
	}, nil
}

// Metadata implements providers.Provider
func (*Provider) Metadata() providers.Metadata {
	return providers.Metadata{Name: Class}
}

// PollInterval implements providers.Provider
func (p *Provider) PollInterval() time.Duration {
	if len(p.cfg.Channels) == 0 || !p.cfg.BotToken.IsSet() {
		return 0
	}
	return p.interval
}

// Init resolves credentials, builds the API client and validates the token
// with an auth.test call, which also yields the bot's own user id.
func (p *Provider) Init(ctx context.Context) error {
	token, err := p.cfg.BotToken.Resolve()
	if err != nil {
		return fmt.Errorf("failed to resolve bot token: %w", err)
	}
	if token == "" {
		return fmt.Errorf("no bot token configured")
	}
	p.client = slack.New(token)

	p.signingSecret, err = p.cfg.SigningSecret.Resolve()
	if err != nil {
		return fmt.Errorf("failed to resolve signing secret: %w", err)
	}
	if p.signingSecret == "" {
		zerolog.Ctx(ctx).Warn().Str("provider", Class).
			Msg("no signing secret configured, webhook deliveries will not be authenticated")
	}

	auth, err := p.client.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("token validation failed: %w", err)
	}
	p.botUserID = auth.UserID
	if len(p.identities) == 0 {
		p.identities = []string{auth.UserID, auth.User}
		zerolog.Ctx(ctx).Info().Str("provider", Class).
			Str("user-id", auth.UserID).Msg("learned bot identity")
	}

	return nil
}

// ValidateWebhook implements the replay-guarded envelope: a v0= signature
// over "v0:<timestamp>:<body>", with the timestamp bounded to the replay
// window.
func (p *Provider) ValidateWebhook(r *http.Request, raw []byte) error {
	if p.signingSecret == "" {
		return nil
	}

	err := crypto.VerifySlackSignature(
		r.Header.Get(signatureHeader),
		r.Header.Get(timestampHeader),
		raw,
		p.signingSecret,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", providers.ErrValidationFailed, err)
	}
	return nil
}

// Shutdown implements providers.Provider
func (*Provider) Shutdown(_ context.Context) error {
	return nil
}

func (p *Provider) isBotAuthor(name string) bool {
	if name == "" {
		return false
	}
	for _, id := range p.identities {
		if name == id {
			return true
		}
	}
	return false
}

// wrapTransient maps the platform's rate-limit error onto the retryable
// marker.
func wrapTransient(err error) error {
	if err == nil {
		return nil
	}
	var rle *slack.RateLimitedError
	if errors.As(err, &rle) {
		return &httpclient.TransientError{Status: http.StatusTooManyRequests, Err: err}
	}
	return err
}
