// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/go-github/v63/github"
	"github.com/rs/zerolog"

	"github.com/taskwatch/taskwatch/internal/events"
	"github.com/taskwatch/taskwatch/internal/providers"
)

// activityProbeLimit is how many recent comments are inspected to decide
// whether a polled PR has recent human activity.
const activityProbeLimit = 5

// Poll fetches issues and pull requests updated since the per-repository
// cursor and emits the ones that pass filtering. The cursor starts at
// now - initialLookbackHours and advances to now after a successful fetch.
func (p *Provider) Poll(ctx context.Context, emit providers.EmitFunc) error {
	for _, repository := range p.cfg.Repositories {
		if err := p.pollRepository(ctx, repository, emit); err != nil {
			return fmt.Errorf("polling %s failed: %w", repository, err)
		}
	}
	return nil
}

func (p *Provider) pollRepository(ctx context.Context, repository string, emit providers.EmitFunc) error {
	owner, repo := splitFullName(repository)

	p.mu.Lock()
	since, ok := p.cursors[repository]
	p.mu.Unlock()
	if !ok {
		since = time.Now().Add(-time.Duration(p.cfg.Polling.InitialLookbackHours) * time.Hour)
	}
	tickStart := time.Now()

	// The issues listing includes pull requests.
	issues, _, err := p.client.Issues.ListByRepo(ctx, owner, repo, &github.IssueListByRepoOptions{
		State:     "all",
		Since:     since,
		Sort:      "updated",
		Direction: "desc",
		ListOptions: github.ListOptions{
			PerPage: p.cfg.Polling.MaxItems,
		},
	})
	if err != nil {
		return fmt.Errorf("could not list issues for %s: %w", repository, err)
	}

	p.mu.Lock()
	p.cursors[repository] = tickStart
	p.mu.Unlock()

	for _, issue := range issues {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		evt := normalizePolledIssue(issue, repository)

		hasActivity := true
		if evt.Type == "pull_request" {
			hasActivity = p.hasRecentHumanActivity(ctx, owner, repo, issue.GetNumber())
		}

		if ok, reason := providers.ShouldProcess(evt, hasActivity); !ok {
			zerolog.Ctx(ctx).Debug().Str("event-id", evt.ID).Str("reason", reason).
				Msg("polled item filtered")
			continue
		}

		emit(ctx, evt, p.newReactor(repository, issue.GetNumber()))
	}

	return nil
}

// hasRecentHumanActivity checks the tail of the comment thread. Errors fail
// open; the comment-based idempotency check still prevents bot loops.
func (p *Provider) hasRecentHumanActivity(ctx context.Context, owner, repo string, number int) bool {
	comments, _, err := p.client.Issues.ListComments(ctx, owner, repo, number,
		&github.IssueListCommentsOptions{
			Sort:        github.String("created"),
			Direction:   github.String("desc"),
			ListOptions: github.ListOptions{PerPage: activityProbeLimit},
		})
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).
			Str("repository", owner+"/"+repo).Int("number", number).
			Msg("could not check comment activity, assuming active")
		return true
	}
	return len(comments) > 0
}

func normalizePolledIssue(issue *github.Issue, repository string) *events.NormalizedEvent {
	raw, _ := json.Marshal(issue)
	ts := timestampOrNow(issue.GetUpdatedAt())

	return &events.NormalizedEvent{
		ID: events.NewEventID(
			Class,
			fmt.Sprintf("%s#%d", repository, issue.GetNumber()),
			events.ActionPoll,
			strconv.FormatInt(issue.GetID(), 10),
			ts,
		),
		Provider: Class,
		Type:     issueType(issue),
		Action:   events.ActionPoll,
		Resource: events.Resource{
			Number:      issue.GetNumber(),
			Title:       issue.GetTitle(),
			Description: issue.GetBody(),
			URL:         issue.GetHTMLURL(),
			State:       issue.GetState(),
			Repository:  repository,
			Author:      issue.GetUser().GetLogin(),
			Assignees:   userLogins(issue.Assignees),
			Labels:      issueLabels(issue.Labels),
		},
		Actor: events.Actor{
			Username: issue.GetUser().GetLogin(),
			ID:       strconv.FormatInt(issue.GetUser().GetID(), 10),
		},
		Metadata: events.Metadata{
			Timestamp: ts,
			Polled:    true,
		},
		Raw: raw,
	}
}
