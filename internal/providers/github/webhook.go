// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/go-github/v63/github"
	"github.com/rs/zerolog"

	"github.com/taskwatch/taskwatch/internal/events"
	"github.com/taskwatch/taskwatch/internal/providers"
)

// HandleWebhook parses a validated delivery, normalizes it, filters it and
// emits the resulting event. Unsupported event kinds are dropped silently;
// the HTTP 202 was already sent.
func (p *Provider) HandleWebhook(ctx context.Context, headers http.Header, payload []byte, emit providers.EmitFunc) error {
	eventType := headers.Get(eventHeader)
	deliveryID := headers.Get(deliveryHeader)

	hook, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		return fmt.Errorf("failed to parse %s event: %w", eventType, err)
	}

	var evt *events.NormalizedEvent
	switch ev := hook.(type) {
	case *github.IssuesEvent:
		evt = normalizeIssuesEvent(ev, deliveryID)
	case *github.IssueCommentEvent:
		evt = normalizeIssueCommentEvent(ev, deliveryID)
	case *github.PullRequestEvent:
		evt = normalizePullRequestEvent(ev, deliveryID)
	case *github.PullRequestReviewCommentEvent:
		evt = normalizeReviewCommentEvent(ev, deliveryID)
	default:
		zerolog.Ctx(ctx).Debug().Str("event-type", eventType).
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

	emit(ctx, evt, p.newReactor(evt.Resource.Repository, evt.Resource.Number))
	return nil
}

func issueType(issue *github.Issue) string {
	if issue.IsPullRequest() {
		return "pull_request"
	}
	return "issue"
}

func issueLabels(labels []*github.Label) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		out = append(out, l.GetName())
	}
	return out
}

func userLogins(users []*github.User) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.GetLogin())
	}
	return out
}

func eventID(repo string, number int, action string, nativeID int64, delivery string) string {
	return events.NewEventID(
		Class,
		fmt.Sprintf("%s#%d", repo, number),
		action,
		strconv.FormatInt(nativeID, 10),
		delivery,
	)
}

func timestampOrNow(ts github.Timestamp) string {
	if ts.IsZero() {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return ts.UTC().Format(time.RFC3339)
}

func normalizeIssuesEvent(ev *github.IssuesEvent, deliveryID string) *events.NormalizedEvent {
	issue := ev.GetIssue()
	repo := ev.GetRepo().GetFullName()

	return &events.NormalizedEvent{
		ID:       eventID(repo, issue.GetNumber(), ev.GetAction(), issue.GetID(), deliveryID),
		Provider: Class,
		Type:     "issue",
		Action:   ev.GetAction(),
		Resource: events.Resource{
			Number:      issue.GetNumber(),
			Title:       issue.GetTitle(),
			Description: issue.GetBody(),
			URL:         issue.GetHTMLURL(),
			State:       issue.GetState(),
			Repository:  repo,
			Author:      issue.GetUser().GetLogin(),
			Assignees:   userLogins(issue.Assignees),
			Labels:      issueLabels(issue.Labels),
		},
		Actor: events.Actor{
			Username: ev.GetSender().GetLogin(),
			ID:       strconv.FormatInt(ev.GetSender().GetID(), 10),
		},
		Metadata: events.Metadata{
			Timestamp:  timestampOrNow(issue.GetUpdatedAt()),
			DeliveryID: deliveryID,
		},
	}
}

func normalizeIssueCommentEvent(ev *github.IssueCommentEvent, deliveryID string) *events.NormalizedEvent {
	issue := ev.GetIssue()
	comment := ev.GetComment()
	repo := ev.GetRepo().GetFullName()

	return &events.NormalizedEvent{
		ID:       eventID(repo, issue.GetNumber(), ev.GetAction(), comment.GetID(), deliveryID),
		Provider: Class,
		Type:     issueType(issue),
		Action:   ev.GetAction(),
		Resource: events.Resource{
			Number:      issue.GetNumber(),
			Title:       issue.GetTitle(),
			Description: issue.GetBody(),
			URL:         issue.GetHTMLURL(),
			State:       issue.GetState(),
			Repository:  repo,
			Author:      issue.GetUser().GetLogin(),
			Assignees:   userLogins(issue.Assignees),
			Labels:      issueLabels(issue.Labels),
			Comment: &events.CommentInfo{
				Body:   comment.GetBody(),
				Author: comment.GetUser().GetLogin(),
				URL:    comment.GetHTMLURL(),
			},
		},
		Actor: events.Actor{
			Username: ev.GetSender().GetLogin(),
			ID:       strconv.FormatInt(ev.GetSender().GetID(), 10),
		},
		Metadata: events.Metadata{
			Timestamp:  timestampOrNow(comment.GetUpdatedAt()),
			DeliveryID: deliveryID,
		},
	}
}

func normalizePullRequestEvent(ev *github.PullRequestEvent, deliveryID string) *events.NormalizedEvent {
	pr := ev.GetPullRequest()
	repo := ev.GetRepo().GetFullName()

	return &events.NormalizedEvent{
		ID:       eventID(repo, pr.GetNumber(), ev.GetAction(), pr.GetID(), deliveryID),
		Provider: Class,
		Type:     "pull_request",
		Action:   ev.GetAction(),
		Resource: events.Resource{
			Number:      pr.GetNumber(),
			Title:       pr.GetTitle(),
			Description: pr.GetBody(),
			URL:         pr.GetHTMLURL(),
			State:       pr.GetState(),
			Repository:  repo,
			Author:      pr.GetUser().GetLogin(),
			Assignees:   userLogins(pr.Assignees),
			Labels:      issueLabels(pr.Labels),
			Branch:      pr.GetHead().GetRef(),
			MergeTo:     pr.GetBase().GetRef(),
		},
		Actor: events.Actor{
			Username: ev.GetSender().GetLogin(),
			ID:       strconv.FormatInt(ev.GetSender().GetID(), 10),
		},
		Metadata: events.Metadata{
			Timestamp:  timestampOrNow(pr.GetUpdatedAt()),
			DeliveryID: deliveryID,
		},
	}
}

func normalizeReviewCommentEvent(ev *github.PullRequestReviewCommentEvent, deliveryID string) *events.NormalizedEvent {
	pr := ev.GetPullRequest()
	comment := ev.GetComment()
	repo := ev.GetRepo().GetFullName()

	return &events.NormalizedEvent{
		ID:       eventID(repo, pr.GetNumber(), ev.GetAction(), comment.GetID(), deliveryID),
		Provider: Class,
		Type:     "pull_request",
		Action:   ev.GetAction(),
		Resource: events.Resource{
			Number:      pr.GetNumber(),
			Title:       pr.GetTitle(),
			Description: pr.GetBody(),
			URL:         pr.GetHTMLURL(),
			State:       pr.GetState(),
			Repository:  repo,
			Author:      pr.GetUser().GetLogin(),
			Branch:      pr.GetHead().GetRef(),
			MergeTo:     pr.GetBase().GetRef(),
			Comment: &events.CommentInfo{
				Body:   comment.GetBody(),
				Author: comment.GetUser().GetLogin(),
				URL:    comment.GetHTMLURL(),
			},
		},
		Actor: events.Actor{
			Username: ev.GetSender().GetLogin(),
			ID:       strconv.FormatInt(ev.GetSender().GetID(), 10),
		},
		Metadata: events.Metadata{
			Timestamp:  timestampOrNow(comment.GetUpdatedAt()),
			DeliveryID: deliveryID,
		},
	}
}
