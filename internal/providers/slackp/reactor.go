// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

package slackp

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/taskwatch/taskwatch/internal/httpclient"
	"github.com/taskwatch/taskwatch/internal/providers"
)

// reactor addresses one conversation thread.
type reactor struct {
	provider *Provider
	channel  string
	threadTS string
}

var _ providers.Reactor = (*reactor)(nil)

func (p *Provider) newReactor(channel, threadTS string) *reactor {
	return &reactor{provider: p, channel: channel, threadTS: threadTS}
}

// LastComment returns the newest reply in the thread, or nil when the
// thread holds nothing but its root message.
func (r *reactor) LastComment(ctx context.Context) (*providers.Comment, error) {
	var msgs []slack.Message
	err := httpclient.Retry(ctx, func() error {
		var err error
		msgs, _, _, err = r.provider.client.GetConversationRepliesContext(ctx,
			&slack.GetConversationRepliesParameters{
				ChannelID: r.channel,
				Timestamp: r.threadTS,
			})
		return wrapTransient(err)
	})
	if err != nil {
		return nil, fmt.Errorf("could not fetch thread %s in %s: %w", r.threadTS, r.channel, err)
	}
	// Replies come back oldest first, with the root message included.
	if len(msgs) < 2 {
		return nil, nil
	}
	last := msgs[len(msgs)-1]
	return &providers.Comment{
		Author: last.User,
		Body:   last.Text,
	}, nil
}

// PostComment replies into the thread and returns the message timestamp.
func (r *reactor) PostComment(ctx context.Context, body string) (string, error) {
	var ts string
	err := httpclient.Retry(ctx, func() error {
		var err error
		_, ts, err = r.provider.client.PostMessageContext(ctx, r.channel,
			slack.MsgOptionText(body, false),
			slack.MsgOptionTS(r.threadTS),
		)
		return wrapTransient(err)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", providers.ErrPostFailed, err)
	}
	return ts, nil
}

// IsBotAuthor implements providers.Reactor
func (r *reactor) IsBotAuthor(name string) bool {
	return r.provider.isBotAuthor(name)
}
