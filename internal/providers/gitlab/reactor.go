// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

package gitlab

import (
	"context"
	"fmt"
	"strconv"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/taskwatch/taskwatch/internal/httpclient"
	"github.com/taskwatch/taskwatch/internal/providers"
)

// reactor addresses one issue or merge request. Notes for the two resource
// kinds live on different API endpoints, so the reactor keeps the normalized
// type around.
type reactor struct {
	provider     *Provider
	project      string
	iid          int
	mergeRequest bool
}

var _ providers.Reactor = (*reactor)(nil)

func (p *Provider) newReactor(project string, iid int, eventType string) *reactor {
	return &reactor{
		provider:     p,
		project:      project,
		iid:          iid,
		mergeRequest: eventType == "merge_request",
	}
}

func wrapTransient(resp *gitlab.Response, err error) error {
	if err == nil {
		return nil
	}
	if resp != nil && httpclient.IsTransientStatus(resp.StatusCode) {
		return &httpclient.TransientError{Status: resp.StatusCode, Err: err}
	}
	return err
}

// LastComment returns the newest note, or nil for an empty thread.
func (r *reactor) LastComment(ctx context.Context) (*providers.Comment, error) {
	var notes []*gitlab.Note
	err := httpclient.Retry(ctx, func() error {
		var resp *gitlab.Response
		var err error
		if r.mergeRequest {
			notes, resp, err = r.provider.client.Notes.ListMergeRequestNotes(r.project, r.iid,
				&gitlab.ListMergeRequestNotesOptions{
					OrderBy:     gitlab.Ptr("created_at"),
					Sort:        gitlab.Ptr("desc"),
					ListOptions: gitlab.ListOptions{PerPage: 1},
				}, gitlab.WithContext(ctx))
		} else {
			notes, resp, err = r.provider.client.Notes.ListIssueNotes(r.project, r.iid,
				&gitlab.ListIssueNotesOptions{
					OrderBy:     gitlab.Ptr("created_at"),
					Sort:        gitlab.Ptr("desc"),
					ListOptions: gitlab.ListOptions{PerPage: 1},
				}, gitlab.WithContext(ctx))
		}
		return wrapTransient(resp, err)
	})
	if err != nil {
		return nil, fmt.Errorf("could not list notes for %s#%d: %w", r.project, r.iid, err)
	}
	if len(notes) == 0 {
		return nil, nil
	}
	return &providers.Comment{
		Author: notes[0].Author.Username,
		Body:   notes[0].Body,
	}, nil
}

// PostComment creates a note on the resource and returns its id.
func (r *reactor) PostComment(ctx context.Context, body string) (string, error) {
	var noteID int
	err := httpclient.Retry(ctx, func() error {
		var resp *gitlab.Response
		var err error
		if r.mergeRequest {
			var note *gitlab.Note
			note, resp, err = r.provider.client.Notes.CreateMergeRequestNote(r.project, r.iid,
				&gitlab.CreateMergeRequestNoteOptions{Body: gitlab.Ptr(body)}, gitlab.WithContext(ctx))
			if note != nil {
				noteID = note.ID
			}
		} else {
			var note *gitlab.Note
			note, resp, err = r.provider.client.Notes.CreateIssueNote(r.project, r.iid,
				&gitlab.CreateIssueNoteOptions{Body: gitlab.Ptr(body)}, gitlab.WithContext(ctx))
			if note != nil {
				noteID = note.ID
			}
		}
		return wrapTransient(resp, err)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", providers.ErrPostFailed, err)
	}
	return strconv.Itoa(noteID), nil
}

// IsBotAuthor implements providers.Reactor
func (r *reactor) IsBotAuthor(name string) bool {
	return r.provider.isBotAuthor(name)
}
