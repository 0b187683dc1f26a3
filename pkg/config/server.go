// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
)

// HTTPServerConfig is the configuration for the webhook-serving HTTP listener.
type HTTPServerConfig struct {
	Host string `mapstructure:"host" default:"127.0.0.1"`
	Port int    `mapstructure:"port" default:"8080"`
	// BasePath is prepended to the webhook routes, e.g. "/api/v1".
	BasePath string `mapstructure:"base_path" default:""`
	// DrainTimeoutSeconds bounds how long Stop waits for in-flight
	// requests before force-closing connections.
	DrainTimeoutSeconds int `mapstructure:"drain_timeout_seconds" default:"30"`
}

// GetAddress returns the address to bind the HTTP server to.
func (s *HTTPServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// MetricServerConfig is the configuration for the metric server
type MetricServerConfig struct {
	Host string `mapstructure:"host" default:"127.0.0.1"`
	Port int    `mapstructure:"port" default:"9090"`
}

// GetAddress returns the address to bind the metric server to.
func (s *MetricServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// MetricsConfig is the configuration for the metrics
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" default:"false"`
}

// Text is the constant for the text log format
const Text = "text"

// LoggingConfig is the configuration for the logging package
type LoggingConfig struct {
	Level   string `mapstructure:"level" default:"info"`
	Format  string `mapstructure:"format" default:"json"`
	LogFile string `mapstructure:"logFile" default:""`
}
