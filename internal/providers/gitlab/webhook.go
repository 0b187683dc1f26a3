// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/taskwatch/taskwatch/internal/events"
	"github.com/taskwatch/taskwatch/internal/providers"
)

// actionCommented is the normalized action for note hooks, which carry no
// action of their own.
const actionCommented = "commented"

// HandleWebhook parses a validated delivery, normalizes it, filters it and
// emits the resulting event.
func (p *Provider) HandleWebhook(ctx context.Context, headers http.Header, payload []byte, emit providers.EmitFunc) error {
	eventType := gitlab.EventType(headers.Get(eventHeader))

	hook, err := gitlab.ParseWebhook(eventType, payload)
	if err != nil {
		return fmt.Errorf("failed to parse %s event: %w", eventType, err)
	}

	var evt *events.NormalizedEvent
	switch ev := hook.(type) {
	case *gitlab.IssueEvent:
		evt = normalizeIssueEvent(ev)
	case *gitlab.MergeEvent:
		evt = normalizeMergeEvent(ev)
	case *gitlab.IssueCommentEvent:
		evt = normalizeIssueCommentEvent(ev)
	case *gitlab.MergeCommentEvent:
		evt = normalizeMergeCommentEvent(ev)
	default:
		zerolog.Ctx(ctx).Debug().Str("event-type", string(eventType)).
			Msg("ignoring unsupported event kind")
		return nil
	}
	evt.Raw = payload

	if err := evt.Validate(); err != nil {
		return fmt.Errorf("normalization produced an invalid event: %w", err)
	}

	if ok, reason := providers.ShouldProcess(evt, true); !ok {
		zerolog.Ctx(ctx).Debug().Str("event-id", evt.ID).Str("reason", reason).
			Msg("event filtered")
		return nil
	}

	emit(ctx, evt, p.newReactor(evt.Resource.Repository, evt.Resource.Number, evt.Type))
	return nil
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func eventID(project string, iid int, action string, nativeID int) string {
	return events.NewEventID(
		Class,
		fmt.Sprintf("%s#%d", project, iid),
		action,
		strconv.Itoa(nativeID),
		nowISO(),
	)
}

func labelTitles(labels []*gitlab.EventLabel) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		out = append(out, l.Title)
	}
	return out
}

func userNames(users *[]gitlab.EventUser) []string {
	if users == nil {
		return []string{}
	}
	out := make([]string, 0, len(*users))
	for _, u := range *users {
		out = append(out, u.Username)
	}
	return out
}

func eventUserFromUser(u *gitlab.User) *gitlab.EventUser {
	if u == nil {
		return nil
	}
	return &gitlab.EventUser{ID: u.ID, Username: u.Username}
}

func eventActor(user *gitlab.EventUser) events.Actor {
	if user == nil {
		return events.Actor{}
	}
	return events.Actor{
		Username: user.Username,
		ID:       strconv.Itoa(user.ID),
	}
}

func normalizeIssueEvent(ev *gitlab.IssueEvent) *events.NormalizedEvent {
	attrs := ev.ObjectAttributes
	project := ev.Project.PathWithNamespace

	return &events.NormalizedEvent{
		ID:       eventID(project, attrs.IID, attrs.Action, attrs.ID),
		Provider: Class,
		Type:     "issue",
		Action:   attrs.Action,
		Resource: events.Resource{
			Number:      attrs.IID,
			Title:       attrs.Title,
			Description: attrs.Description,
			URL:         attrs.URL,
			State:       attrs.State,
			Repository:  project,
			Assignees:   userNames(ev.Assignees),
			Labels:      labelTitles(ev.Labels),
		},
		Actor: eventActor(ev.User),
		Metadata: events.Metadata{
			Timestamp: nowISO(),
		},
	}
}

func normalizeMergeEvent(ev *gitlab.MergeEvent) *events.NormalizedEvent {
	attrs := ev.ObjectAttributes
	project := ev.Project.PathWithNamespace

	return &events.NormalizedEvent{
		ID:       eventID(project, attrs.IID, attrs.Action, attrs.ID),
		Provider: Class,
		Type:     "merge_request",
		Action:   attrs.Action,
		Resource: events.Resource{
			Number:      attrs.IID,
			Title:       attrs.Title,
			Description: attrs.Description,
			URL:         attrs.URL,
			State:       attrs.State,
			Repository:  project,
			Labels:      labelTitles(ev.Labels),
			Branch:      attrs.SourceBranch,
			MergeTo:     attrs.TargetBranch,
		},
		Actor: eventActor(ev.User),
		Metadata: events.Metadata{
			Timestamp: nowISO(),
		},
	}
}

func normalizeIssueCommentEvent(ev *gitlab.IssueCommentEvent) *events.NormalizedEvent {
	attrs := ev.ObjectAttributes
	project := ev.Project.PathWithNamespace

	evt := &events.NormalizedEvent{
		ID:       eventID(project, ev.Issue.IID, actionCommented, attrs.ID),
		Provider: Class,
		Type:     "issue",
		Action:   actionCommented,
		Resource: events.Resource{
			Number:     ev.Issue.IID,
			Title:      ev.Issue.Title,
			State:      ev.Issue.State,
			URL:        attrs.URL,
			Repository: project,
			Comment: &events.CommentInfo{
				Body: attrs.Note,
				URL:  attrs.URL,
			},
		},
		Actor: eventActor(eventUserFromUser(ev.User)),
		Metadata: events.Metadata{
			Timestamp: nowISO(),
		},
	}
	if ev.User != nil {
		evt.Resource.Comment.Author = ev.User.Username
	}
	return evt
}

func normalizeMergeCommentEvent(ev *gitlab.MergeCommentEvent) *events.NormalizedEvent {
	attrs := ev.ObjectAttributes
	project := ev.Project.PathWithNamespace

	evt := &events.NormalizedEvent{
		ID:       eventID(project, ev.MergeRequest.IID, actionCommented, attrs.ID),
		Provider: Class,
		Type:     "merge_request",
		Action:   actionCommented,
		Resource: events.Resource{
			Number:     ev.MergeRequest.IID,
			Title:      ev.MergeRequest.Title,
			State:      ev.MergeRequest.State,
			URL:        attrs.URL,
			Repository: project,
			Branch:     ev.MergeRequest.SourceBranch,
			MergeTo:    ev.MergeRequest.TargetBranch,
			Comment: &events.CommentInfo{
				Body: attrs.Note,
				URL:  attrs.URL,
			},
		},
		Actor: eventActor(ev.User),
		Metadata: events.Metadata{
			Timestamp: nowISO(),
		},
	}
	if ev.User != nil {
		evt.Resource.Comment.Author = ev.User.Username
	}
	return evt
}
