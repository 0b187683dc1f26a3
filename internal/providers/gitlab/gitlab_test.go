// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/taskwatch/taskwatch/internal/events"
	"github.com/taskwatch/taskwatch/internal/providers"
	"github.com/taskwatch/taskwatch/pkg/config"
)

const issueNotePayload = `{
  "object_kind": "note",
  "event_type": "note",
  "user": {"id": 1, "username": "alice", "name": "Alice"},
  "project": {"id": 5, "path_with_namespace": "g/p"},
  "object_attributes": {
    "id": 9,
    "note": "please look",
    "noteable_type": "Issue",
    "url": "https://gitlab.example.com/g/p/-/issues/42#note_9"
  },
  "issue": {"id": 100, "iid": 42, "title": "Something is broken", "state": "opened"}
}`

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := New(config.GitLabConfig{
		Projects: []string{"g/p"},
		Polling:  config.PollingConfig{InitialLookbackHours: 1, MaxItems: 50},
	}, []string{"taskwatch-bot"})
	require.NoError(t, err)
	return p
}

func webhookRequest(body []byte, headers map[string]string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhook/gitlab", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func TestValidateWebhook(t *testing.T) {
	t.Parallel()

	body := []byte(issueNotePayload)

	t.Run("valid token", func(t *testing.T) {
		t.Parallel()
		p := newTestProvider(t)
		p.webhookSecret = "s3cr3t"
		req := webhookRequest(body, map[string]string{
			eventHeader: "Note Hook",
			tokenHeader: "s3cr3t",
		})
		require.NoError(t, p.ValidateWebhook(req, body))
	})

	t.Run("wrong token", func(t *testing.T) {
		t.Parallel()
		p := newTestProvider(t)
		p.webhookSecret = "s3cr3t"
		req := webhookRequest(body, map[string]string{
			eventHeader: "Note Hook",
			tokenHeader: "nope",
		})
		require.ErrorIs(t, p.ValidateWebhook(req, body), providers.ErrValidationFailed)
	})

	t.Run("missing event header", func(t *testing.T) {
		t.Parallel()
		p := newTestProvider(t)
		req := webhookRequest(body, nil)
		require.ErrorIs(t, p.ValidateWebhook(req, body), providers.ErrValidationFailed)
	})

	t.Run("no secret accepts", func(t *testing.T) {
		t.Parallel()
		p := newTestProvider(t)
		req := webhookRequest(body, map[string]string{eventHeader: "Note Hook"})
		require.NoError(t, p.ValidateWebhook(req, body))
	})
}

type capturedEmit struct {
	evt     *events.NormalizedEvent
	reactor providers.Reactor
}

func captureEmits(captured *[]capturedEmit) providers.EmitFunc {
	return func(_ context.Context, evt *events.NormalizedEvent, r providers.Reactor) {
		*captured = append(*captured, capturedEmit{evt: evt, reactor: r})
	}
}

func TestHandleWebhookIssueNote(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t)
	var captured []capturedEmit

	headers := http.Header{}
	headers.Set(eventHeader, "Note Hook")

	err := p.HandleWebhook(context.Background(), headers, []byte(issueNotePayload), captureEmits(&captured))
	require.NoError(t, err)
	require.Len(t, captured, 1)

	evt := captured[0].evt
	assert.Equal(t, "gitlab", evt.Provider)
	assert.Equal(t, "issue", evt.Type)
	assert.Equal(t, actionCommented, evt.Action)
	assert.True(t, strings.HasPrefix(evt.ID, "gitlab:g/p#42:commented:9:"), evt.ID)
	assert.Equal(t, "g/p", evt.Resource.Repository)
	assert.Equal(t, 42, evt.Resource.Number)
	require.NotNil(t, evt.Resource.Comment)
	assert.Equal(t, "please look", evt.Resource.Comment.Body)
	assert.Equal(t, "alice", evt.Resource.Comment.Author)
	assert.Equal(t, "alice", evt.Actor.Username)
	assert.JSONEq(t, issueNotePayload, string(evt.Raw))

	assert.True(t, captured[0].reactor.IsBotAuthor("taskwatch-bot"))
	assert.False(t, captured[0].reactor.IsBotAuthor("alice"))
}

func TestHandleWebhookFiltersOpenedIssue(t *testing.T) {
	t.Parallel()

	payload := `{
	  "object_kind": "issue",
	  "event_type": "issue",
	  "user": {"id": 1, "username": "alice"},
	  "project": {"id": 5, "path_with_namespace": "g/p"},
	  "object_attributes": {
	    "id": 100, "iid": 42, "title": "fresh", "state": "opened", "action": "open"
	  }
	}`

	p := newTestProvider(t)
	var captured []capturedEmit

	headers := http.Header{}
	headers.Set(eventHeader, "Issue Hook")

	err := p.HandleWebhook(context.Background(), headers, []byte(payload), captureEmits(&captured))
	require.NoError(t, err)
	assert.Empty(t, captured, "freshly opened issues must be filtered")
}

func TestHandleWebhookIgnoresUnknownKind(t *testing.T) {
	t.Parallel()

	payload := `{
	  "object_kind": "push",
	  "event_name": "push",
	  "ref": "refs/heads/main",
	  "project": {"id": 5, "path_with_namespace": "g/p"}
	}`

	p := newTestProvider(t)
	var captured []capturedEmit

	headers := http.Header{}
	headers.Set(eventHeader, "Push Hook")

	err := p.HandleWebhook(context.Background(), headers, []byte(payload), captureEmits(&captured))
	require.NoError(t, err)
	assert.Empty(t, captured)
}

// newAPITestClient points a client at an httptest server.
func newAPITestClient(t *testing.T, srv *httptest.Server) *gitlab.Client {
	t.Helper()
	client, err := gitlab.NewClient("test-token", gitlab.WithBaseURL(srv.URL))
	require.NoError(t, err)
	return client
}

func TestReactorLastCommentAndPost(t *testing.T) {
	t.Parallel()

	var postedBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode([]map[string]any{
				{"id": 10, "body": "latest words", "author": map[string]any{"username": "alice"}},
			})
		case http.MethodPost:
			var in struct {
				Body string `json:"body"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			postedBody = in.Body
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]any{"id": 11, "body": in.Body})
		}
	}))
	defer srv.Close()

	p := newTestProvider(t)
	p.client = newAPITestClient(t, srv)

	r := p.newReactor("g/p", 42, "issue")

	last, err := r.LastComment(context.Background())
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "alice", last.Author)
	assert.Equal(t, "latest words", last.Body)

	handle, err := r.PostComment(context.Background(), "Agent is working on g/p#42")
	require.NoError(t, err)
	assert.Equal(t, "11", handle)
	assert.Equal(t, "Agent is working on g/p#42", postedBody)
}

func TestReactorLastCommentEmptyThread(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	p := newTestProvider(t)
	p.client = newAPITestClient(t, srv)

	last, err := p.newReactor("g/p", 42, "merge_request").LastComment(context.Background())
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestPollEmitsUpdatedItems(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/issues"):
			_ = json.NewEncoder(w).Encode([]map[string]any{
				{
					"id": 1, "iid": 7, "title": "polled issue", "state": "opened",
					"author": map[string]any{"id": 1, "username": "alice"},
				},
			})
		case strings.HasSuffix(r.URL.Path, "/merge_requests"):
			_ = json.NewEncoder(w).Encode([]map[string]any{
				{
					"id": 2, "iid": 8, "title": "quiet mr", "state": "opened",
					"source_branch": "feature", "target_branch": "main",
					"author": map[string]any{"id": 2, "username": "bob"},
				},
			})
		default:
			// note activity probe for the MR: empty thread
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	p := newTestProvider(t)
	p.client = newAPITestClient(t, srv)

	var captured []capturedEmit
	require.NoError(t, p.Poll(context.Background(), captureEmits(&captured)))

	require.Len(t, captured, 1, "the MR without human activity must be filtered")
	evt := captured[0].evt
	assert.Equal(t, "issue", evt.Type)
	assert.Equal(t, events.ActionPoll, evt.Action)
	assert.Equal(t, 7, evt.Resource.Number)
	assert.True(t, evt.Metadata.Polled)

	p.mu.Lock()
	_, ok := p.cursors["g/p"]
	p.mu.Unlock()
	assert.True(t, ok)
}
