// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

package slackp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/taskwatch/taskwatch/internal/events"
	"github.com/taskwatch/taskwatch/internal/providers"
)

// Poll scans the configured channels for messages mentioning the bot since
// the per-channel cursor and emits an event per mention. The cursor starts
// at now - initialLookbackHours and advances to the newest seen message.
func (p *Provider) Poll(ctx context.Context, emit providers.EmitFunc) error {
	for _, channel := range p.cfg.Channels {
		if err := p.pollChannel(ctx, channel, emit); err != nil {
			return fmt.Errorf("polling %s failed: %w", channel, err)
		}
	}
	return nil
}

func (p *Provider) pollChannel(ctx context.Context, channel string, emit providers.EmitFunc) error {
	p.mu.Lock()
	oldest, ok := p.cursors[channel]
	p.mu.Unlock()
	if !ok {
		lookback := time.Now().Add(-time.Duration(p.cfg.Polling.InitialLookbackHours) * time.Hour)
		oldest = fmt.Sprintf("%d.000000", lookback.Unix())
	}

	resp, err := p.client.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: channel,
		Oldest:    oldest,
		Limit:     p.cfg.Polling.MaxItems,
	})
	if err != nil {
		return fmt.Errorf("could not fetch history for %s: %w", channel, err)
	}

	// History comes back newest first.
	if len(resp.Messages) > 0 {
		p.mu.Lock()
		p.cursors[channel] = resp.Messages[0].Timestamp
		p.mu.Unlock()
	}

	marker := "<@" + p.botUserID + ">"
	for i := range resp.Messages {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		msg := &resp.Messages[i]
		if !strings.Contains(msg.Text, marker) || p.isBotAuthor(msg.User) {
			continue
		}

		evt := normalizePolledMessage(msg, channel)
		if ok, reason := providers.ShouldProcess(evt, true); !ok {
			zerolog.Ctx(ctx).Debug().Str("event-id", evt.ID).Str("reason", reason).
				Msg("polled item filtered")
			continue
		}

		thread := msg.ThreadTimestamp
		if thread == "" {
			thread = msg.Timestamp
		}
		emit(ctx, evt, p.newReactor(channel, thread))
	}

	return nil
}

func normalizePolledMessage(msg *slack.Message, channel string) *events.NormalizedEvent {
	raw, _ := json.Marshal(msg)
	ts := time.Now().UTC().Format(time.RFC3339)

	return &events.NormalizedEvent{
		ID: events.NewEventID(
			Class,
			channel,
			events.ActionPoll,
			msg.Timestamp,
			ts,
		),
		Provider: Class,
		Type:     "thread",
		Action:   events.ActionPoll,
		Resource: events.Resource{
			Title:      msg.Text,
			Repository: channel,
			Comment: &events.CommentInfo{
				Body:   msg.Text,
				Author: msg.User,
			},
		},
		Actor: events.Actor{
			Username: msg.User,
			ID:       msg.User,
		},
		Metadata: events.Metadata{
			Timestamp: ts,
			Polled:    true,
		},
		Raw: raw,
	}
}
