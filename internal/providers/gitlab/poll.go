// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/taskwatch/taskwatch/internal/events"
	"github.com/taskwatch/taskwatch/internal/providers"
)

// activityProbeLimit is how many recent notes are inspected to decide
// whether a polled merge request has recent human activity.
const activityProbeLimit = 5

// Poll fetches issues and merge requests updated since the per-project
// cursor and emits the ones that pass filtering. The cursor starts at
// now - initialLookbackHours and advances to now after a successful fetch.
func (p *Provider) Poll(ctx context.Context, emit providers.EmitFunc) error {
	for _, project := range p.cfg.Projects {
		if err := p.pollProject(ctx, project, emit); err != nil {
			return fmt.Errorf("polling %s failed: %w", project, err)
		}
	}
	return nil
}

func (p *Provider) pollProject(ctx context.Context, project string, emit providers.EmitFunc) error {
	p.mu.Lock()
	since, ok := p.cursors[project]
	p.mu.Unlock()
	if !ok {
		since = time.Now().Add(-time.Duration(p.cfg.Polling.InitialLookbackHours) * time.Hour)
	}
	tickStart := time.Now()

	issues, _, err := p.client.Issues.ListProjectIssues(project, &gitlab.ListProjectIssuesOptions{
		UpdatedAfter: gitlab.Ptr(since),
		OrderBy:      gitlab.Ptr("updated_at"),
		Sort:         gitlab.Ptr("desc"),
		ListOptions:  gitlab.ListOptions{PerPage: p.cfg.Polling.MaxItems},
	}, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("could not list issues for %s: %w", project, err)
	}

	mrs, _, err := p.client.MergeRequests.ListProjectMergeRequests(project, &gitlab.ListProjectMergeRequestsOptions{
		UpdatedAfter: gitlab.Ptr(since),
		OrderBy:      gitlab.Ptr("updated_at"),
		Sort:         gitlab.Ptr("desc"),
		ListOptions:  gitlab.ListOptions{PerPage: p.cfg.Polling.MaxItems},
	}, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("could not list merge requests for %s: %w", project, err)
	}

	p.mu.Lock()
	p.cursors[project] = tickStart
	p.mu.Unlock()

	for _, issue := range issues {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		evt := normalizePolledIssue(issue, project)
		if ok, reason := providers.ShouldProcess(evt, true); !ok {
			zerolog.Ctx(ctx).Debug().Str("event-id", evt.ID).Str("reason", reason).
				Msg("polled item filtered")
			continue
		}
		emit(ctx, evt, p.newReactor(project, issue.IID, "issue"))
	}

	for _, mr := range mrs {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		evt := normalizePolledMergeRequest(mr, project)
		hasActivity := p.hasRecentHumanActivity(ctx, project, mr.IID)
		if ok, reason := providers.ShouldProcess(evt, hasActivity); !ok {
			zerolog.Ctx(ctx).Debug().Str("event-id", evt.ID).Str("reason", reason).
				Msg("polled item filtered")
			continue
		}
		emit(ctx, evt, p.newReactor(project, mr.IID, "merge_request"))
	}

	return nil
}

// hasRecentHumanActivity checks the tail of the note thread. Errors fail
// open; the comment-based idempotency check still prevents bot loops.
func (p *Provider) hasRecentHumanActivity(ctx context.Context, project string, iid int) bool {
	notes, _, err := p.client.Notes.ListMergeRequestNotes(project, iid,
		&gitlab.ListMergeRequestNotesOptions{
			OrderBy:     gitlab.Ptr("created_at"),
			Sort:        gitlab.Ptr("desc"),
			ListOptions: gitlab.ListOptions{PerPage: activityProbeLimit},
		}, gitlab.WithContext(ctx))
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).
			Str("project", project).Int("number", iid).
			Msg("could not check note activity, assuming active")
		return true
	}
	return len(notes) > 0
}

func timestampOrNow(t *time.Time) string {
	if t == nil {
		return nowISO()
	}
	return t.UTC().Format(time.RFC3339)
}

func normalizePolledIssue(issue *gitlab.Issue, project string) *events.NormalizedEvent {
	raw, _ := json.Marshal(issue)
	ts := timestampOrNow(issue.UpdatedAt)

	evt := &events.NormalizedEvent{
		ID: events.NewEventID(
			Class,
			fmt.Sprintf("%s#%d", project, issue.IID),
			events.ActionPoll,
			strconv.Itoa(issue.ID),
			ts,
		),
		Provider: Class,
		Type:     "issue",
		Action:   events.ActionPoll,
		Resource: events.Resource{
			Number:      issue.IID,
			Title:       issue.Title,
			Description: issue.Description,
			URL:         issue.WebURL,
			State:       issue.State,
			Repository:  project,
			Labels:      issue.Labels,
		},
		Metadata: events.Metadata{
			Timestamp: ts,
			Polled:    true,
		},
		Raw: raw,
	}
	if issue.Author != nil {
		evt.Resource.Author = issue.Author.Username
		evt.Actor = events.Actor{
			Username: issue.Author.Username,
			ID:       strconv.Itoa(issue.Author.ID),
		}
	}
	for _, a := range issue.Assignees {
		evt.Resource.Assignees = append(evt.Resource.Assignees, a.Username)
	}
	return evt
}

func normalizePolledMergeRequest(mr *gitlab.BasicMergeRequest, project string) *events.NormalizedEvent {
	raw, _ := json.Marshal(mr)
	ts := timestampOrNow(mr.UpdatedAt)

	evt := &events.NormalizedEvent{
		ID: events.NewEventID(
			Class,
			fmt.Sprintf("%s#%d", project, mr.IID),
			events.ActionPoll,
			strconv.Itoa(mr.ID),
			ts,
		),
		Provider: Class,
		Type:     "merge_request",
		Action:   events.ActionPoll,
		Resource: events.Resource{
			Number:      mr.IID,
			Title:       mr.Title,
			Description: mr.Description,
			URL:         mr.WebURL,
			State:       mr.State,
			Repository:  project,
			Labels:      mr.Labels,
			Branch:      mr.SourceBranch,
			MergeTo:     mr.TargetBranch,
		},
		Metadata: events.Metadata{
			Timestamp: ts,
			Polled:    true,
		},
		Raw: raw,
	}
	if mr.Author != nil {
		evt.Resource.Author = mr.Author.Username
		evt.Actor = events.Actor{
			Username: mr.Author.Username,
			ID:       strconv.Itoa(mr.Author.ID),
		}
	}
	for _, a := range mr.Assignees {
		evt.Resource.Assignees = append(evt.Resource.Assignees, a.Username)
	}
	return evt
}
