// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package linear provides the Linear provider implementation. Linear exposes
// a GraphQL API only, so the adapter speaks GraphQL over the shared JSON
// transport instead of a platform SDK.
package linear

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/taskwatch/taskwatch/internal/crypto"
	"github.com/taskwatch/taskwatch/internal/providers"
	"github.com/taskwatch/taskwatch/pkg/config"
)

// Class is the string that represents the Linear provider class
const Class = "linear"

// DefaultEndpoint is the public GraphQL endpoint.
const DefaultEndpoint = "https://api.linear.app/graphql"

const signatureHeader = "Linear-Signature"

// Provider implements the Linear adapter.
type Provider struct {
	cfg      config.LinearConfig
	interval time.Duration

	client        *gqlClient
	webhookSecret string
	identities    []string

	cursors map[string]time.Time
	mu      sync.Mutex
}

var _ providers.Provider = (*Provider)(nil)

// New creates a new Linear provider.
func New(cfg config.LinearConfig, identities []string) (*Provider, error) {
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
	if len(p.cfg.Teams) == 0 || !p.cfg.APIKey.IsSet() {
		return 0
	}
	return p.interval
}

// Init resolves credentials, builds the GraphQL client and validates the API
// key with a viewer query.
func (p *Provider) Init(ctx context.Context) error {
	apiKey, err := p.cfg.APIKey.Resolve()
	if err != nil {
		return fmt.Errorf("failed to resolve api key: %w", err)
	}
	if apiKey == "" {
		return fmt.Errorf("no api key configured")
	}

	endpoint := p.cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	p.client = newGQLClient(endpoint, apiKey, &http.Client{Timeout: 30 * time.Second})

	p.webhookSecret, err = p.cfg.WebhookSecret.Resolve()
	if err != nil {
		return fmt.Errorf("failed to resolve webhook secret: %w", err)
	}
	if p.webhookSecret == "" {
		zerolog.Ctx(ctx).Warn().Str("provider", Class).
			Msg("no webhook secret configured, webhook deliveries will not be authenticated")
	}

	viewer, err := p.client.viewer(ctx)
	if err != nil {
		return fmt.Errorf("api key validation failed: %w", err)
	}
	if len(p.identities) == 0 {
		p.identities = []string{viewer.DisplayName, viewer.Name}
		zerolog.Ctx(ctx).Info().Str("provider", Class).
			Str("username", viewer.DisplayName).Msg("learned bot identity")
	}

	return nil
}

// ValidateWebhook implements the bare-hex envelope: the signature header
// carries the hex HMAC-SHA256 of the raw body.
func (p *Provider) ValidateWebhook(r *http.Request, raw []byte) error {
	if p.webhookSecret == "" {
		return nil
	}

	if err := crypto.VerifyHMACHex(r.Header.Get(signatureHeader), raw, p.webhookSecret); err != nil {
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
