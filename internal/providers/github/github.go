// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package github provides the GitHub provider implementation.
package github

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/go-github/v63/github"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/taskwatch/taskwatch/internal/crypto"
	"github.com/taskwatch/taskwatch/internal/providers"
	"github.com/taskwatch/taskwatch/pkg/config"
)

// Class is the string that represents the GitHub provider class
const Class = "github"

const (
	eventHeader     = "X-GitHub-Event"
	deliveryHeader  = "X-GitHub-Delivery"
	signatureHeader = "X-Hub-Signature-256"
)

// Provider implements the GitHub adapter.
type Provider struct {
	cfg      config.GitHubConfig
	interval time.Duration

	client        *github.Client
	webhookSecret string
	identities    []string

	// cursors tracks the per-repository poll window; single-writer, the
	// owning poller's tick.
	cursors map[string]time.Time

	mu sync.Mutex
}

var _ providers.Provider = (*Provider)(nil)

// New creates a new GitHub provider. identities is the configured bot
// identity set; when empty, Init learns the authenticated login instead.
func New(cfg config.GitHubConfig, identities []string) (*Provider, error) {
	interval, err := cfg.Polling.GetInterval()
	if err != nil {
		return nil, err
	}

	return &Provider{
		cfg:        cfg,
		interval:   interval,
		identities: identities,
		cursors:    make(map[string]time.Time),
	}, nil
}

// Metadata implements providers.Provider
func (*Provider) Metadata() providers.Metadata {
	return providers.Metadata{Name: Class}
}

// PollInterval implements providers.Provider
func (p *Provider) PollInterval() time.Duration {
	if len(p.cfg.Repositories) == 0 || !p.cfg.Token.IsSet() {
		return 0
	}
	return p.interval
}

// Init resolves credentials, builds the API client and validates the token
// by asking GitHub who we are.
func (p *Provider) Init(ctx context.Context) error {
	token, err := p.cfg.Token.Resolve()
	if err != nil {
		return fmt.Errorf("failed to resolve token: %w", err)
	}
	if token == "" {
		return fmt.Errorf("no token configured")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := github.NewClient(oauth2.NewClient(ctx, ts))
	if p.cfg.Endpoint != "" {
		client, err = client.WithEnterpriseURLs(p.cfg.Endpoint, p.cfg.Endpoint)
		if err != nil {
			return fmt.Errorf("invalid endpoint %q: %w", p.cfg.Endpoint, err)
		}
	}
	p.client = client

	p.webhookSecret, err = p.cfg.WebhookSecret.Resolve()
	if err != nil {
		return fmt.Errorf("failed to resolve webhook secret: %w", err)
	}
	if p.webhookSecret == "" {
		zerolog.Ctx(ctx).Warn().Str("provider", Class).
			Msg("no webhook secret configured, webhook deliveries will not be authenticated")
	}

	user, _, err := p.client.Users.Get(ctx, "")
	if err != nil {
		return fmt.Errorf("token validation failed: %w", err)
	}
	if len(p.identities) == 0 {
		p.identities = []string{user.GetLogin()}
		zerolog.Ctx(ctx).Info().Str("provider", Class).
			Str("login", user.GetLogin()).Msg("learned bot identity")
	}

	return nil
}

// ValidateWebhook implements the HMAC prefix-tag envelope: the signature
// header carries "sha256=<hex>" over the raw body, and the event and
// delivery headers must both be present.
func (p *Provider) ValidateWebhook(r *http.Request, raw []byte) error {
	if r.Header.Get(eventHeader) == "" || r.Header.Get(deliveryHeader) == "" {
		return fmt.Errorf("%w: missing event headers", providers.ErrValidationFailed)
	}

	if p.webhookSecret == "" {
		// Operator chose to run without a secret; the event headers above
		// are the only gate.
		return nil
	}

	if err := crypto.VerifyHMACPrefix(r.Header.Get(signatureHeader), raw, p.webhookSecret); err != nil {
		return fmt.Errorf("%w: %v", providers.ErrValidationFailed, err)
	}
	return nil
}

// Shutdown implements providers.Provider
func (*Provider) Shutdown(_ context.Context) error {
	return nil
}

func (p *Provider) isBotAuthor(name string) bool {
	for _, id := range p.identities {
		if name == id {
			return true
		}
	}
	return false
}
