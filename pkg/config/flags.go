// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// RegisterWatcherFlags registers the command-line overrides for the most
// commonly tuned settings. Everything else comes from the config file or the
// environment.
func RegisterWatcherFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := BindConfigFlag(v, flags, "http_server.host", "http-host",
		"127.0.0.1", "Webhook server listen host", flags.String); err != nil {
		return err
	}
	if err := BindConfigFlag(v, flags, "http_server.port", "http-port",
		8080, "Webhook server listen port", flags.Int); err != nil {
		return err
	}
	if err := BindConfigFlag(v, flags, "logging.level", "log-level",
		"info", "Log level", flags.String); err != nil {
		return err
	}
	if err := BindConfigFlag(v, flags, "executor.dry_run", "dry-run",
		false, "Log the would-be command instead of spawning it", flags.Bool); err != nil {
		return err
	}
	return BindConfigFlag(v, flags, "metrics.enabled", "metrics",
		false, "Expose the Prometheus metrics listener", flags.Bool)
}
