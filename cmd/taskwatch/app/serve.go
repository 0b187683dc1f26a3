// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/taskwatch/taskwatch/internal/events"
	"github.com/taskwatch/taskwatch/internal/executor"
	"github.com/taskwatch/taskwatch/internal/logger"
	"github.com/taskwatch/taskwatch/internal/providers"
	ghprovider "github.com/taskwatch/taskwatch/internal/providers/github"
	glprovider "github.com/taskwatch/taskwatch/internal/providers/gitlab"
	linprovider "github.com/taskwatch/taskwatch/internal/providers/linear"
	slackprovider "github.com/taskwatch/taskwatch/internal/providers/slackp"
	"github.com/taskwatch/taskwatch/internal/watcher"
	"github.com/taskwatch/taskwatch/pkg/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the watcher",
	Long:  `Starts the watcher: the webhook server, the per-provider pollers and the event dispatcher.`,
	RunE:  serve,
}

func serve(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.ReadConfigFromViper(viper.GetViper())
	if err != nil {
		return fmt.Errorf("unable to read config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	l := logger.FromFlags(cfg.Logging)
	ctx = l.WithContext(ctx)

	eventer, err := events.Setup(ctx)
	if err != nil {
		return fmt.Errorf("unable to set up eventer: %w", err)
	}

	exec, err := executor.New(cfg.Executor)
	if err != nil {
		return err
	}

	w, err := watcher.New(cfg, eventer, exec)
	if err != nil {
		return err
	}
	if err := registerProviders(w, cfg); err != nil {
		return err
	}

	errg, ctx := errgroup.WithContext(ctx)

	errg.Go(func() error {
		return eventer.Run(ctx)
	})
	<-eventer.Running()

	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("unable to start watcher: %w", err)
	}

	if cfg.Metrics.Enabled {
		errg.Go(func() error {
			return serveMetrics(ctx, cfg.MetricServer)
		})
	}

	errg.Go(func() error {
		<-ctx.Done()
		stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		defer stopCancel()
		if err := w.Stop(stopCtx); err != nil {
			l.Warn().Err(err).Msg("watcher stop failed")
		}
		return eventer.Close()
	})

	return errg.Wait()
}

// registerProviders builds one provider per enabled platform.
func registerProviders(w *watcher.Watcher, cfg *config.Config) error {
	identities := cfg.Dedup.BotIdentities()

	var provs []providers.Provider
	if cfg.Providers.GitHub.Enabled {
		p, err := ghprovider.New(cfg.Providers.GitHub, identities)
		if err != nil {
			return fmt.Errorf("github: %w", err)
		}
		provs = append(provs, p)
	}
	if cfg.Providers.GitLab.Enabled {
		p, err := glprovider.New(cfg.Providers.GitLab, identities)
		if err != nil {
			return fmt.Errorf("gitlab: %w", err)
		}
		provs = append(provs, p)
	}
	if cfg.Providers.Linear.Enabled {
		p, err := linprovider.New(cfg.Providers.Linear, identities)
		if err != nil {
			return fmt.Errorf("linear: %w", err)
		}
		provs = append(provs, p)
	}
	if cfg.Providers.Slack.Enabled {
		p, err := slackprovider.New(cfg.Providers.Slack, identities)
		if err != nil {
			return fmt.Errorf("slack: %w", err)
		}
		provs = append(provs, p)
	}

	if len(provs) == 0 {
		return errors.New("no providers enabled")
	}

	for _, p := range provs {
		if err := w.RegisterProvider(p); err != nil {
			return err
		}
	}
	return nil
}

// serveMetrics exposes the Prometheus registry on its own listener.
func serveMetrics(ctx context.Context, cfg config.MetricServerConfig) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.GetAddress(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func init() {
	RootCmd.AddCommand(serveCmd)
}
