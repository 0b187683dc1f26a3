// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

package linear

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/taskwatch/taskwatch/internal/events"
	"github.com/taskwatch/taskwatch/internal/providers"
)

// Poll fetches issues updated since the per-team cursor and emits the ones
// that pass filtering. The cursor starts at now - initialLookbackHours and
// advances to now after a successful fetch.
func (p *Provider) Poll(ctx context.Context, emit providers.EmitFunc) error {
	for _, team := range p.cfg.Teams {
		if err := p.pollTeam(ctx, team, emit); err != nil {
			return fmt.Errorf("polling %s failed: %w", team, err)
		}
	}
	return nil
}

func (p *Provider) pollTeam(ctx context.Context, team string, emit providers.EmitFunc) error {
	p.mu.Lock()
	since, ok := p.cursors[team]
	p.mu.Unlock()
	if !ok {
		since = time.Now().Add(-time.Duration(p.cfg.Polling.InitialLookbackHours) * time.Hour)
	}
	tickStart := time.Now()

	issues, err := p.client.teamIssues(ctx, team, since, p.cfg.Polling.MaxItems)
	if err != nil {
		return fmt.Errorf("could not list issues for %s: %w", team, err)
	}

	p.mu.Lock()
	p.cursors[team] = tickStart
	p.mu.Unlock()

	for i := range issues {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		issue := &issues[i]
		evt := normalizePolledIssue(issue, team)
		if ok, reason := providers.ShouldProcess(evt, true); !ok {
			zerolog.Ctx(ctx).Debug().Str("event-id", evt.ID).Str("reason", reason).
				Msg("polled item filtered")
			continue
		}
		emit(ctx, evt, p.newReactor(issue.ID))
	}

	return nil
}

func normalizePolledIssue(issue *gqlIssue, team string) *events.NormalizedEvent {
	raw, _ := json.Marshal(issue)
	ts := issue.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	tsStr := ts.UTC().Format(time.RFC3339)

	if issue.Team != nil && issue.Team.Key != "" {
		team = issue.Team.Key
	}

	evt := &events.NormalizedEvent{
		ID: events.NewEventID(
			Class,
			fmt.Sprintf("%s#%d", team, issue.Number),
			events.ActionPoll,
			issue.ID,
			tsStr,
		),
		Provider: Class,
		Type:     "issue",
		Action:   events.ActionPoll,
		Resource: events.Resource{
			Number:      issue.Number,
			Title:       issue.Title,
			Description: issue.Description,
			URL:         issue.URL,
			Repository:  team,
			Author:      issue.Creator.username(),
			Assignees:   assigneeNames(issue.Assignee),
		},
		Actor: actorOf(issue.Creator),
		Metadata: events.Metadata{
			Timestamp: tsStr,
			Polled:    true,
		},
		Raw: raw,
	}
	if issue.State != nil {
		evt.Resource.State = issue.State.Name
	}
	if issue.Labels != nil {
		for _, l := range issue.Labels.Nodes {
			evt.Resource.Labels = append(evt.Resource.Labels, l.Name)
		}
	}
	return evt
}
