// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

package slackp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack/slackevents"

	"github.com/taskwatch/taskwatch/internal/events"
	"github.com/taskwatch/taskwatch/internal/providers"
)

// actionMentioned is the normalized action for app mentions.
const actionMentioned = "mentioned"

// HandleWebhook parses a validated Events API delivery and emits an event
// for each app mention. Other callback kinds are ignored; the bot only
// reacts when it is spoken to.
func (p *Provider) HandleWebhook(ctx context.Context, _ http.Header, payload []byte, emit providers.EmitFunc) error {
	apiEvent, err := slackevents.ParseEvent(json.RawMessage(payload), slackevents.OptionNoVerifyToken())
	if err != nil {
		return fmt.Errorf("failed to parse event payload: %w", err)
	}

	// The url_verification handshake is answered by the webhook server
	// before the payload reaches the provider.
	if apiEvent.Type != slackevents.CallbackEvent {
		zerolog.Ctx(ctx).Debug().Str("event-type", apiEvent.Type).
			Msg("ignoring non-callback delivery")
		return nil
	}

	mention, ok := apiEvent.InnerEvent.Data.(*slackevents.AppMentionEvent)
	if !ok {
		zerolog.Ctx(ctx).Debug().Str("event-type", apiEvent.InnerEvent.Type).
			Msg("ignoring unsupported event kind")
		return nil
	}

	evt := normalizeMention(mention, eventID(payload))
	evt.Raw = payload

	if err := evt.Validate(); err != nil {
		return fmt.Errorf("normalization produced an invalid event: %w", err)
	}

	if ok, reason := providers.ShouldProcess(evt, true); !ok {
		zerolog.Ctx(ctx).Debug().Str("event-id", evt.ID).Str("reason", reason).
			Msg("event filtered")
		return nil
	}

	emit(ctx, evt, p.newReactor(mention.Channel, threadOf(mention)))
	return nil
}

// threadOf picks the thread a reply should land in: the existing thread for
// threaded mentions, otherwise the mention itself opens one.
func threadOf(mention *slackevents.AppMentionEvent) string {
	if mention.ThreadTimeStamp != "" {
		return mention.ThreadTimeStamp
	}
	return mention.TimeStamp
}

// eventID extracts the envelope's delivery id, when present.
func eventID(payload []byte) string {
	var envelope struct {
		EventID string `json:"event_id"`
	}
	_ = json.Unmarshal(payload, &envelope)
	return envelope.EventID
}

func normalizeMention(mention *slackevents.AppMentionEvent, deliveryID string) *events.NormalizedEvent {
	ts := time.Now().UTC().Format(time.RFC3339)

	return &events.NormalizedEvent{
		ID: events.NewEventID(
			Class,
			mention.Channel,
			actionMentioned,
			mention.TimeStamp,
			firstNonEmpty(deliveryID, ts),
		),
		Provider: Class,
		Type:     "thread",
		Action:   actionMentioned,
		Resource: events.Resource{
			Title:      mention.Text,
			Repository: mention.Channel,
			Comment: &events.CommentInfo{
				Body:   mention.Text,
				Author: mention.User,
			},
		},
		Actor: events.Actor{
			Username: mention.User,
			ID:       mention.User,
		},
		Metadata: events.Metadata{
			Timestamp:  ts,
			DeliveryID: deliveryID,
		},
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
