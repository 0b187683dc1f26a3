// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package executor runs the configured external command for an event: it
// posts the acknowledgement comment, renders the prompt, curates the
// subprocess environment and optionally posts the command output back.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"text/template"

	"github.com/rs/zerolog"

	"github.com/taskwatch/taskwatch/internal/events"
	"github.com/taskwatch/taskwatch/internal/providers"
	"github.com/taskwatch/taskwatch/pkg/config"
)

const (
	promptLogLimit = 100
	stdinLogLimit  = 500
)

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// Executor spawns one subprocess per dispatched event.
type Executor struct {
	cfg config.ExecutorConfig

	defaultTmpl   *template.Template
	providerTmpls map[string]*template.Template
}

// New parses the configured prompt templates eagerly so a broken template
// fails startup instead of every event.
func New(cfg config.ExecutorConfig) (*Executor, error) {
	e := &Executor{
		cfg:           cfg,
		providerTmpls: make(map[string]*template.Template),
	}

	text := cfg.PromptTemplate
	if text == "" && cfg.PromptTemplateFile != "" {
		raw, err := os.ReadFile(cfg.PromptTemplateFile)
		if err != nil {
			return nil, fmt.Errorf("could not read prompt template: %w", err)
		}
		text = string(raw)
	}
	if text != "" {
		tmpl, err := template.New("prompt").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("invalid prompt template: %w", err)
		}
		e.defaultTmpl = tmpl
	}

	for provider, path := range cfg.Prompts {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("could not read prompt template for %s: %w", provider, err)
		}
		tmpl, err := template.New(provider).Parse(string(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid prompt template for %s: %w", provider, err)
		}
		e.providerTmpls[provider] = tmpl
	}

	return e, nil
}

// Enabled reports whether events should be dispatched to a subprocess.
func (e *Executor) Enabled() bool {
	return e.cfg.Enabled
}

// Execute runs the per-event sequence: acknowledgement comment, then the
// subprocess. Every failure is logged and swallowed; event processing is
// best-effort.
func (e *Executor) Execute(ctx context.Context, evt *events.NormalizedEvent, reactor providers.Reactor, marker string) {
	logger := zerolog.Ctx(ctx).With().Str("event-id", evt.ID).Logger()

	// The acknowledgement is the idempotency marker; it goes out before the
	// subprocess regardless of what happens after.
	if _, err := reactor.PostComment(ctx, marker); err != nil {
		logger.Warn().Err(err).Msg("could not post acknowledgement comment")
	}

	prompt, err := e.renderPrompt(evt)
	if err != nil {
		logger.Error().Err(err).Msg("prompt rendering failed, skipping command")
		return
	}

	env := eventEnv(evt, prompt, e.cfg.UseStdin)

	if e.cfg.DryRun {
		logger.Info().
			Str("command", e.cfg.Command).
			Strs("env", loggableEnv(env)).
			Str("prompt", truncate(prompt, promptLogLimit)).
			Str("stdin", truncate(stdinPreview(prompt, e.cfg.UseStdin), stdinLogLimit)).
			Msg("dry run, not spawning command")
		return
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", e.cfg.Command)
	cmd.Env = append(os.Environ(), env...)
	if e.cfg.UseStdin {
		cmd.Stdin = strings.NewReader(prompt)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		logger.Error().Err(err).
			Str("stderr", stderr.String()).
			Msg("command failed")
		return
	}

	logger.Info().Int("stdout-bytes", stdout.Len()).Msg("command completed")

	if e.cfg.FollowUp && stdout.Len() > 0 {
		if _, err := reactor.PostComment(ctx, stdout.String()); err != nil {
			logger.Warn().Err(err).Msg("could not post follow-up comment")
		}
	}
}

// renderPrompt picks the per-provider template when configured, else the
// default; no template yields an empty prompt.
func (e *Executor) renderPrompt(evt *events.NormalizedEvent) (string, error) {
	tmpl := e.defaultTmpl
	if t, ok := e.providerTmpls[evt.Provider]; ok {
		tmpl = t
	}
	if tmpl == nil {
		return "", nil
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, evt); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// eventEnv derives the curated environment additions for the subprocess.
func eventEnv(evt *events.NormalizedEvent, prompt string, useStdin bool) []string {
	env := []string{
		"EVENT_ID=" + evt.ID,
		"EVENT_SAFE_ID=" + safeID(evt.ID),
		"EVENT_SHORT_ID=" + shortID(evt),
	}
	if !useStdin {
		env = append(env, "PROMPT="+prompt)
	}
	return env
}

// loggableEnv drops the PROMPT entry, which can be arbitrarily large and is
// already logged separately with a cap.
func loggableEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		if strings.HasPrefix(kv, "PROMPT=") {
			continue
		}
		out = append(out, kv)
	}
	return out
}

// safeID replaces everything outside [A-Za-z0-9_-] with an underscore.
func safeID(id string) string {
	return unsafeIDChars.ReplaceAllString(id, "_")
}

// shortID builds a compact, filesystem- and DNS-friendly handle:
// {provider}-{repository-with-slashes-as-dashes}-{number}-{suffix}, where
// the suffix is the last 6 alphanumerics of the event id, lowercased.
func shortID(evt *events.NormalizedEvent) string {
	repo := strings.ReplaceAll(evt.Resource.Repository, "/", "-")
	return fmt.Sprintf("%s-%s-%d-%s", evt.Provider, repo, evt.Resource.Number, idSuffix(evt.ID))
}

func idSuffix(id string) string {
	var alnum []rune
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			alnum = append(alnum, r)
		}
	}
	if len(alnum) > 6 {
		alnum = alnum[len(alnum)-6:]
	}
	return strings.ToLower(string(alnum))
}

func stdinPreview(prompt string, useStdin bool) string {
	if !useStdin {
		return ""
	}
	return prompt
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
