// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package gitlab provides the GitLab provider implementation.
package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/taskwatch/taskwatch/internal/crypto"
	"github.com/taskwatch/taskwatch/internal/providers"
	"github.com/taskwatch/taskwatch/pkg/config"
)

// Class is the string that represents the GitLab provider class
const Class = "gitlab"

const (
	tokenHeader = "X-Gitlab-Token"
	eventHeader = "X-Gitlab-Event"
)

// Provider implements the GitLab adapter.
type Provider struct {
	cfg      config.GitLabConfig
	interval time.Duration

	client        *gitlab.Client
	webhookSecret string
	identities    []string

	cursors map[string]time.Time
	mu      sync.Mutex
}

var _ providers.Provider = (*Provider)(nil)

// New creates a new GitLab provider.
func New(cfg config.GitLabConfig, identities []string) (*Provider, error) {
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
	if len(p.cfg.Projects) == 0 || !p.cfg.Token.IsSet() {
		return 0
	}
	return p.interval
}

// Init resolves credentials and builds the API client.
func (p *Provider) Init(ctx context.Context) error {
	token, err := p.cfg.Token.Resolve()
	if err != nil {
		return fmt.Errorf("failed to resolve token: %w", err)
	}
	if token == "" {
		return fmt.Errorf("no token configured")
	}

	opts := []gitlab.ClientOptionFunc{}
	if p.cfg.Endpoint != "" {
		opts = append(opts, gitlab.WithBaseURL(p.cfg.Endpoint))
	}
	client, err := gitlab.NewClient(token, opts...)
	if err != nil {
		return fmt.Errorf("could not create client: %w", err)
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

	user, _, err := p.client.Users.CurrentUser()
	if err != nil {
		return fmt.Errorf("token validation failed: %w", err)
	}
	if len(p.identities) == 0 {
		p.identities = []string{user.Username}
		zerolog.Ctx(ctx).Info().Str("provider", Class).
			Str("username", user.Username).Msg("learned bot identity")
	}

	return nil
}

// ValidateWebhook implements the token-compare envelope: the token header
// must equal the configured secret, compared in constant time.
func (p *Provider) ValidateWebhook(r *http.Request, _ []byte) error {
	if r.Header.Get(eventHeader) == "" {
		return fmt.Errorf("%w: missing event header", providers.ErrValidationFailed)
	}

	if p.webhookSecret == "" {
		return nil
	}

	if err := crypto.VerifyToken(r.Header.Get(tokenHeader), p.webhookSecret); err != nil {
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
