// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

package linear

import (
	"context"
	"fmt"

	"github.com/taskwatch/taskwatch/internal/providers"
)

// reactor addresses one issue by its opaque id. The GraphQL transport
// already retries transient rejections, so the reactor stays a thin mapping
// onto the comment operations.
type reactor struct {
	provider *Provider
	issueID  string
}

var _ providers.Reactor = (*reactor)(nil)

func (p *Provider) newReactor(issueID string) *reactor {
	return &reactor{provider: p, issueID: issueID}
}

// LastComment returns the newest comment, or nil for an empty thread.
func (r *reactor) LastComment(ctx context.Context) (*providers.Comment, error) {
	comment, err := r.provider.client.lastComment(ctx, r.issueID)
	if err != nil {
		return nil, fmt.Errorf("could not list comments for %s: %w", r.issueID, err)
	}
	if comment == nil {
		return nil, nil
	}
	return &providers.Comment{
		Author: comment.User.username(),
		Body:   comment.Body,
	}, nil
}

// PostComment creates a comment on the issue and returns its id.
func (r *reactor) PostComment(ctx context.Context, body string) (string, error) {
	id, err := r.provider.client.createComment(ctx, r.issueID, body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", providers.ErrPostFailed, err)
	}
	return id, nil
}

// IsBotAuthor implements providers.Reactor
func (r *reactor) IsBotAuthor(name string) bool {
	return r.provider.isBotAuthor(name)
}
