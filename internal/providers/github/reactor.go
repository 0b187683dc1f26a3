// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/go-github/v63/github"

	"github.com/taskwatch/taskwatch/internal/httpclient"
	"github.com/taskwatch/taskwatch/internal/providers"
)

// reactor is a thin closure over the provider's client and one issue or pull
// request address. It lives for a single event.
type reactor struct {
	provider *Provider
	owner    string
	repo     string
	number   int
}

var _ providers.Reactor = (*reactor)(nil)

func (p *Provider) newReactor(repository string, number int) *reactor {
	owner, repo := splitFullName(repository)
	return &reactor{
		provider: p,
		owner:    owner,
		repo:     repo,
		number:   number,
	}
}

func splitFullName(fullName string) (string, string) {
	owner, repo, found := strings.Cut(fullName, "/")
	if !found {
		return fullName, ""
	}
	return owner, repo
}

// wrapTransient marks 409/429 responses as retryable for the shared retry
// policy.
func wrapTransient(resp *github.Response, err error) error {
	if err == nil {
		return nil
	}
	if resp != nil && httpclient.IsTransientStatus(resp.StatusCode) {
		return &httpclient.TransientError{Status: resp.StatusCode, Err: err}
	}
	return err
}

// LastComment returns the newest issue comment, or nil for an empty thread.
func (r *reactor) LastComment(ctx context.Context) (*providers.Comment, error) {
	var comments []*github.IssueComment
	err := httpclient.Retry(ctx, func() error {
		var resp *github.Response
		var err error
		comments, resp, err = r.provider.client.Issues.ListComments(ctx, r.owner, r.repo, r.number,
			&github.IssueListCommentsOptions{
				Sort:        github.String("created"),
				Direction:   github.String("desc"),
				ListOptions: github.ListOptions{PerPage: 1},
			})
		return wrapTransient(resp, err)
	})
	if err != nil {
		return nil, fmt.Errorf("could not list comments for %s/%s#%d: %w", r.owner, r.repo, r.number, err)
	}
	if len(comments) == 0 {
		return nil, nil
	}
	return &providers.Comment{
		Author: comments[0].GetUser().GetLogin(),
		Body:   comments[0].GetBody(),
	}, nil
}

// PostComment creates an issue comment and returns its id.
func (r *reactor) PostComment(ctx context.Context, body string) (string, error) {
	var created *github.IssueComment
	err := httpclient.Retry(ctx, func() error {
		var resp *github.Response
		var err error
		created, resp, err = r.provider.client.Issues.CreateComment(ctx, r.owner, r.repo, r.number,
			&github.IssueComment{Body: github.String(body)})
		return wrapTransient(resp, err)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", providers.ErrPostFailed, err)
	}
	return strconv.FormatInt(created.GetID(), 10), nil
}

// IsBotAuthor implements providers.Reactor
func (r *reactor) IsBotAuthor(name string) bool {
	return r.provider.isBotAuthor(name)
}
