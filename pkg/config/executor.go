// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

package config

// DedupConfig configures the comment-based idempotency protocol.
type DedupConfig struct {
	// BotUsername is the identity under which the watcher comments.
	BotUsername string `mapstructure:"bot_username" default:""`
	// BotUsernames lists additional identities the watcher may appear as,
	// e.g. a bot account plus an app-install login.
	BotUsernames []string `mapstructure:"bot_usernames"`
	// CommentTemplate renders the acknowledgement comment posted when the
	// executor is disabled. It receives {id} as template data.
	CommentTemplate string `mapstructure:"comment_template" default:"Agent is working on {{.ID}}"`
}

// BotIdentities returns the full set of configured bot identities.
func (d *DedupConfig) BotIdentities() []string {
	ids := make([]string, 0, len(d.BotUsernames)+1)
	if d.BotUsername != "" {
		ids = append(ids, d.BotUsername)
	}
	ids = append(ids, d.BotUsernames...)
	return ids
}

// ExecutorConfig configures the external command run for each event.
type ExecutorConfig struct {
	Enabled bool `mapstructure:"enabled" default:"false"`
	// Command is a shell command line, executed via "sh -c".
	Command string `mapstructure:"command" default:""`
	// PromptTemplate is the default template text for the prompt.
	PromptTemplate string `mapstructure:"prompt_template" default:""`
	// PromptTemplateFile is the path of the default template, used when
	// PromptTemplate is empty.
	PromptTemplateFile string `mapstructure:"prompt_template_file" default:""`
	// Prompts maps a provider name to a template file overriding the default.
	Prompts map[string]string `mapstructure:"prompts"`
	// UseStdin delivers the prompt on stdin; otherwise through the PROMPT
	// environment variable.
	UseStdin bool `mapstructure:"use_stdin" default:"true"`
	// FollowUp posts the subprocess stdout as a second comment.
	FollowUp bool `mapstructure:"follow_up" default:"false"`
	// DryRun logs the would-be invocation without spawning the subprocess.
	DryRun bool `mapstructure:"dry_run" default:"false"`
}
