// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskwatch/taskwatch/pkg/config"
)

func TestDefaults(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfigForTest()

	assert.Equal(t, "127.0.0.1:8080", cfg.HTTPServer.GetAddress())
	assert.Equal(t, 30, cfg.HTTPServer.DrainTimeoutSeconds)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 1, cfg.Providers.GitHub.Polling.InitialLookbackHours)
	assert.True(t, cfg.Executor.UseStdin)
	assert.False(t, cfg.Executor.Enabled)
}

func TestReadConfigFromViper(t *testing.T) {
	t.Parallel()

	v := viper.New()
	config.SetViperDefaults(v)
	v.SetConfigType("yaml")
	cfgFile := filepath.Join(t.TempDir(), "taskwatch-config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`
dedup:
  bot_username: taskwatch-bot
  bot_usernames:
    - taskwatch-bot[bot]
providers:
  github:
    enabled: true
    token:
      value: ghp_testtoken
    repositories:
      - octo/spoon
    polling:
      interval: 5m
`), 0600))
	v.SetConfigFile(cfgFile)
	require.NoError(t, v.ReadInConfig())

	cfg, err := config.ReadConfigFromViper(v)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"taskwatch-bot", "taskwatch-bot[bot]"}, cfg.Dedup.BotIdentities())
	assert.Equal(t, []string{"octo/spoon"}, cfg.Providers.GitHub.Repositories)

	interval, err := cfg.Providers.GitHub.Polling.GetInterval()
	require.NoError(t, err)
	assert.Equal(t, "5m0s", interval.String())
}

func TestValidateRequiresBotIdentity(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfigForTest()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot_username")
}

func TestValidateRequiresTokenForEnabledProvider(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfigForTest()
	cfg.Dedup.BotUsername = "taskwatch-bot"
	cfg.Providers.GitLab.Enabled = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "providers.gitlab.token")
}

func TestSecretResolve(t *testing.T) {
	t.Run("literal", func(t *testing.T) {
		t.Parallel()
		s := config.Secret{Value: "hunter2"}
		got, err := s.Resolve()
		require.NoError(t, err)
		assert.Equal(t, "hunter2", got)
	})

	t.Run("file", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "secret")
		require.NoError(t, os.WriteFile(path, []byte("hunter2\n"), 0600))
		s := config.Secret{File: path}
		got, err := s.Resolve()
		require.NoError(t, err)
		assert.Equal(t, "hunter2", got)
	})

	t.Run("env", func(t *testing.T) {
		t.Setenv("TASKWATCH_TEST_SECRET", "hunter2")
		s := config.Secret{Env: "TASKWATCH_TEST_SECRET"}
		got, err := s.Resolve()
		require.NoError(t, err)
		assert.Equal(t, "hunter2", got)
	})

	t.Run("missing env", func(t *testing.T) {
		t.Parallel()
		s := config.Secret{Env: "TASKWATCH_TEST_SECRET_UNSET"}
		_, err := s.Resolve()
		require.Error(t, err)
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		s := config.Secret{}
		got, err := s.Resolve()
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.False(t, s.IsSet())
	})
}
