// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"time"
)

// ProvidersConfig groups the per-platform provider configurations.
type ProvidersConfig struct {
	GitHub GitHubConfig `mapstructure:"github"`
	GitLab GitLabConfig `mapstructure:"gitlab"`
	Linear LinearConfig `mapstructure:"linear"`
	Slack  SlackConfig  `mapstructure:"slack"`
}

// Validate checks each enabled provider's configuration.
func (p *ProvidersConfig) Validate() error {
	if p.GitHub.Enabled && !p.GitHub.Token.IsSet() {
		return fmt.Errorf("providers.github.token is required when the provider is enabled")
	}
	if p.GitLab.Enabled && !p.GitLab.Token.IsSet() {
		return fmt.Errorf("providers.gitlab.token is required when the provider is enabled")
	}
	if p.Linear.Enabled && !p.Linear.APIKey.IsSet() {
		return fmt.Errorf("providers.linear.api_key is required when the provider is enabled")
	}
	if p.Slack.Enabled && !p.Slack.BotToken.IsSet() {
		return fmt.Errorf("providers.slack.bot_token is required when the provider is enabled")
	}
	return nil
}

// PollingConfig carries the knobs shared by every provider's poll loop.
type PollingConfig struct {
	// Interval between polls, e.g. "5m". Empty disables polling for the
	// provider even when containers are configured.
	Interval string `mapstructure:"interval" default:""`
	// InitialLookbackHours is the time window used on the first poll,
	// before a cursor is established.
	InitialLookbackHours int `mapstructure:"initial_lookback_hours" default:"1"`
	// MaxItems caps the number of items fetched per container per tick.
	MaxItems int `mapstructure:"max_items" default:"50"`
}

// GetInterval parses the polling interval; zero means polling is disabled.
func (p *PollingConfig) GetInterval() (time.Duration, error) {
	if p.Interval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(p.Interval)
	if err != nil {
		return 0, fmt.Errorf("invalid polling interval %q: %w", p.Interval, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid polling interval %q: must be positive", p.Interval)
	}
	return d, nil
}

// GitHubConfig configures the GitHub provider.
type GitHubConfig struct {
	Enabled bool `mapstructure:"enabled" default:"false"`
	// Endpoint overrides the API base URL, e.g. for GitHub Enterprise.
	Endpoint      string        `mapstructure:"endpoint" default:""`
	Token         Secret        `mapstructure:"token"`
	WebhookSecret Secret        `mapstructure:"webhook_secret"`
	Repositories  []string      `mapstructure:"repositories"`
	Polling       PollingConfig `mapstructure:"polling"`
}

// GitLabConfig configures the GitLab provider.
type GitLabConfig struct {
	Enabled       bool          `mapstructure:"enabled" default:"false"`
	Endpoint      string        `mapstructure:"endpoint" default:""`
	Token         Secret        `mapstructure:"token"`
	WebhookSecret Secret        `mapstructure:"webhook_secret"`
	Projects      []string      `mapstructure:"projects"`
	Polling       PollingConfig `mapstructure:"polling"`
}

// LinearConfig configures the Linear provider.
type LinearConfig struct {
	Enabled       bool          `mapstructure:"enabled" default:"false"`
	Endpoint      string        `mapstructure:"endpoint" default:""`
	APIKey        Secret        `mapstructure:"api_key"`
	WebhookSecret Secret        `mapstructure:"webhook_secret"`
	Teams         []string      `mapstructure:"teams"`
	Polling       PollingConfig `mapstructure:"polling"`
}

// SlackConfig configures the Slack provider.
type SlackConfig struct {
	Enabled       bool          `mapstructure:"enabled" default:"false"`
	BotToken      Secret        `mapstructure:"bot_token"`
	SigningSecret Secret        `mapstructure:"signing_secret"`
	Channels      []string      `mapstructure:"channels"`
	Polling       PollingConfig `mapstructure:"polling"`
}
