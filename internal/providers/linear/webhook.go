// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

package linear

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/taskwatch/taskwatch/internal/events"
	"github.com/taskwatch/taskwatch/internal/providers"
)

// webhookPayload is the generic change-event envelope: a resource type, an
// action and the resource snapshot.
type webhookPayload struct {
	Action           string          `json:"action"`
	Type             string          `json:"type"`
	CreatedAt        time.Time       `json:"createdAt"`
	Data             json.RawMessage `json:"data"`
	URL              string          `json:"url"`
	WebhookTimestamp int64           `json:"webhookTimestamp"`
	WebhookID        string          `json:"webhookId"`
}

type webhookIssue struct {
	ID          string `json:"id"`
	Identifier  string `json:"identifier"`
	Number      int    `json:"number"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	State       *struct {
		Name string `json:"name"`
	} `json:"state"`
	Team *struct {
		Key string `json:"key"`
	} `json:"team"`
	Assignee *gqlUser `json:"assignee"`
	Creator  *gqlUser `json:"creator"`
	Labels   []struct {
		Name string `json:"name"`
	} `json:"labels"`
}

type webhookComment struct {
	ID      string        `json:"id"`
	Body    string        `json:"body"`
	IssueID string        `json:"issueId"`
	URL     string        `json:"url"`
	User    *gqlUser      `json:"user"`
	Issue   *webhookIssue `json:"issue"`
}

// issueActions maps the native change actions onto the normalized action
// vocabulary shared by all providers.
var issueActions = map[string]string{
	"create": "opened",
	"update": "updated",
	"remove": "removed",
}

// HandleWebhook parses a validated delivery, normalizes it, filters it and
// emits the resulting event.
func (p *Provider) HandleWebhook(ctx context.Context, _ http.Header, payload []byte, emit providers.EmitFunc) error {
	var hook webhookPayload
	if err := json.Unmarshal(payload, &hook); err != nil {
		return fmt.Errorf("failed to parse webhook payload: %w", err)
	}

	var evt *events.NormalizedEvent
	var issueID string
	switch hook.Type {
	case "Issue":
		var issue webhookIssue
		if err := json.Unmarshal(hook.Data, &issue); err != nil {
			return fmt.Errorf("failed to parse issue data: %w", err)
		}
		evt = normalizeIssue(&hook, &issue)
		issueID = issue.ID
	case "Comment":
		var comment webhookComment
		if err := json.Unmarshal(hook.Data, &comment); err != nil {
			return fmt.Errorf("failed to parse comment data: %w", err)
		}
		evt = normalizeComment(&hook, &comment)
		issueID = comment.IssueID
	default:
		zerolog.Ctx(ctx).Debug().Str("event-type", hook.Type).
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

	emit(ctx, evt, p.newReactor(issueID))
	return nil
}

// splitIdentifier breaks "ENG-42" into its team key and number.
func splitIdentifier(identifier string) (team string, number int, ok bool) {
	team, num, found := strings.Cut(identifier, "-")
	if !found {
		return "", 0, false
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return "", 0, false
	}
	return team, n, true
}

func (h *webhookPayload) timestamp() string {
	if h.WebhookTimestamp > 0 {
		return time.UnixMilli(h.WebhookTimestamp).UTC().Format(time.RFC3339)
	}
	if !h.CreatedAt.IsZero() {
		return h.CreatedAt.UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

// issueRef resolves an issue's team key and number, falling back to the
// opaque id when the snapshot omits them.
func issueRef(issue *webhookIssue) (team string, number int) {
	if issue.Team != nil && issue.Team.Key != "" && issue.Number > 0 {
		return issue.Team.Key, issue.Number
	}
	if t, n, ok := splitIdentifier(issue.Identifier); ok {
		return t, n
	}
	return issue.ID, 0
}

func normalizeIssue(hook *webhookPayload, issue *webhookIssue) *events.NormalizedEvent {
	action, ok := issueActions[hook.Action]
	if !ok {
		action = hook.Action
	}
	team, number := issueRef(issue)
	ts := hook.timestamp()

	evt := &events.NormalizedEvent{
		ID: events.NewEventID(
			Class,
			fmt.Sprintf("%s#%d", team, number),
			action,
			issue.ID,
			ts,
		),
		Provider: Class,
		Type:     "issue",
		Action:   action,
		Resource: events.Resource{
			Number:      number,
			Title:       issue.Title,
			Description: issue.Description,
			URL:         issue.URL,
			Repository:  team,
			Author:      issue.Creator.username(),
			Assignees:   assigneeNames(issue.Assignee),
			Labels:      labelNames(issue),
		},
		Actor: actorOf(issue.Creator),
		Metadata: events.Metadata{
			Timestamp: ts,
		},
	}
	if issue.State != nil {
		evt.Resource.State = issue.State.Name
	}
	return evt
}

func normalizeComment(hook *webhookPayload, comment *webhookComment) *events.NormalizedEvent {
	const action = "commented"

	team := comment.IssueID
	number := 0
	title, state := "", ""
	if comment.Issue != nil {
		team, number = issueRef(comment.Issue)
		title = comment.Issue.Title
		if comment.Issue.State != nil {
			state = comment.Issue.State.Name
		}
	}
	ts := hook.timestamp()

	return &events.NormalizedEvent{
		ID: events.NewEventID(
			Class,
			fmt.Sprintf("%s#%d", team, number),
			action,
			comment.ID,
			ts,
		),
		Provider: Class,
		Type:     "issue",
		Action:   action,
		Resource: events.Resource{
			Number:     number,
			Title:      title,
			State:      state,
			URL:        comment.URL,
			Repository: team,
			Comment: &events.CommentInfo{
				Body:   comment.Body,
				Author: comment.User.username(),
				URL:    comment.URL,
			},
		},
		Actor: actorOf(comment.User),
		Metadata: events.Metadata{
			Timestamp: ts,
		},
	}
}

func actorOf(user *gqlUser) events.Actor {
	if user == nil {
		return events.Actor{}
	}
	return events.Actor{
		Username: user.username(),
		ID:       user.ID,
	}
}

func assigneeNames(assignee *gqlUser) []string {
	if assignee == nil {
		return nil
	}
	return []string{assignee.username()}
}

func labelNames(issue *webhookIssue) []string {
	out := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		out = append(out, l.Name)
	}
	return out
}
