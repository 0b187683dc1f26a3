// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

package linear

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskwatch/taskwatch/internal/events"
	"github.com/taskwatch/taskwatch/internal/providers"
	"github.com/taskwatch/taskwatch/pkg/config"
)

const commentPayload = `{
  "action": "create",
  "type": "Comment",
  "createdAt": "2025-01-02T03:04:05.000Z",
  "data": {
    "id": "c-1",
    "body": "please look",
    "issueId": "i-1",
    "url": "https://linear.app/acme/issue/ENG-42#comment-c-1",
    "user": {"id": "u-1", "name": "alice", "displayName": "alice"},
    "issue": {
      "id": "i-1",
      "identifier": "ENG-42",
      "title": "Something is broken",
      "state": {"name": "In Progress"}
    }
  },
  "webhookTimestamp": 1735787045000
}`

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := New(config.LinearConfig{
		Teams:   []string{"ENG"},
		Polling: config.PollingConfig{InitialLookbackHours: 1, MaxItems: 50},
	}, []string{"taskwatch-bot"})
	require.NoError(t, err)
	return p
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func webhookRequest(body []byte, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhook/linear", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(signatureHeader, signature)
	}
	return req
}

func TestValidateWebhook(t *testing.T) {
	t.Parallel()

	body := []byte(commentPayload)

	t.Run("valid signature", func(t *testing.T) {
		t.Parallel()
		p := newTestProvider(t)
		p.webhookSecret = "s3cr3t"
		req := webhookRequest(body, signBody("s3cr3t", body))
		require.NoError(t, p.ValidateWebhook(req, body))
	})

	t.Run("bad signature", func(t *testing.T) {
		t.Parallel()
		p := newTestProvider(t)
		p.webhookSecret = "s3cr3t"
		req := webhookRequest(body, signBody("wrong", body))
		require.ErrorIs(t, p.ValidateWebhook(req, body), providers.ErrValidationFailed)
	})

	t.Run("missing signature", func(t *testing.T) {
		t.Parallel()
		p := newTestProvider(t)
		p.webhookSecret = "s3cr3t"
		req := webhookRequest(body, "")
		require.ErrorIs(t, p.ValidateWebhook(req, body), providers.ErrValidationFailed)
	})

	t.Run("no secret accepts", func(t *testing.T) {
		t.Parallel()
		p := newTestProvider(t)
		req := webhookRequest(body, "")
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

func TestHandleWebhookComment(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t)
	var captured []capturedEmit

	err := p.HandleWebhook(context.Background(), nil, []byte(commentPayload), captureEmits(&captured))
	require.NoError(t, err)
	require.Len(t, captured, 1)

	evt := captured[0].evt
	assert.Equal(t, "linear", evt.Provider)
	assert.Equal(t, "issue", evt.Type)
	assert.Equal(t, "commented", evt.Action)
	assert.True(t, strings.HasPrefix(evt.ID, "linear:ENG#42:commented:c-1:"), evt.ID)
	assert.Equal(t, "ENG", evt.Resource.Repository)
	assert.Equal(t, 42, evt.Resource.Number)
	assert.Equal(t, "In Progress", evt.Resource.State)
	require.NotNil(t, evt.Resource.Comment)
	assert.Equal(t, "please look", evt.Resource.Comment.Body)
	assert.Equal(t, "alice", evt.Resource.Comment.Author)
	assert.Equal(t, "alice", evt.Actor.Username)
	assert.JSONEq(t, commentPayload, string(evt.Raw))

	assert.True(t, captured[0].reactor.IsBotAuthor("taskwatch-bot"))
	assert.False(t, captured[0].reactor.IsBotAuthor("alice"))
}

func TestHandleWebhookFiltersCreatedIssue(t *testing.T) {
	t.Parallel()

	payload := `{
	  "action": "create",
	  "type": "Issue",
	  "data": {
	    "id": "i-9",
	    "identifier": "ENG-9",
	    "number": 9,
	    "title": "fresh",
	    "team": {"key": "ENG"},
	    "state": {"name": "Todo"}
	  }
	}`

	p := newTestProvider(t)
	var captured []capturedEmit

	err := p.HandleWebhook(context.Background(), nil, []byte(payload), captureEmits(&captured))
	require.NoError(t, err)
	assert.Empty(t, captured, "freshly created issues must be filtered")
}

func TestHandleWebhookFiltersTerminalState(t *testing.T) {
	t.Parallel()

	payload := `{
	  "action": "update",
	  "type": "Issue",
	  "data": {
	    "id": "i-9",
	    "identifier": "ENG-9",
	    "number": 9,
	    "title": "finished",
	    "team": {"key": "ENG"},
	    "state": {"name": "Done"}
	  }
	}`

	p := newTestProvider(t)
	var captured []capturedEmit

	err := p.HandleWebhook(context.Background(), nil, []byte(payload), captureEmits(&captured))
	require.NoError(t, err)
	assert.Empty(t, captured)
}

func TestHandleWebhookIgnoresUnknownKind(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t)
	var captured []capturedEmit

	err := p.HandleWebhook(context.Background(), nil,
		[]byte(`{"action":"create","type":"Project","data":{"id":"p-1"}}`), captureEmits(&captured))
	require.NoError(t, err)
	assert.Empty(t, captured)
}

// newGraphQLTestServer fakes the GraphQL endpoint, routing by operation text.
func newGraphQLTestServer(t *testing.T, handle func(query string, vars map[string]any) any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req gqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		data := handle(req.Query, req.Variables)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
}

func TestReactorLastCommentAndPost(t *testing.T) {
	t.Parallel()

	var postedBody string
	srv := newGraphQLTestServer(t, func(query string, vars map[string]any) any {
		switch {
		case strings.Contains(query, "LastComment"):
			assert.Equal(t, "i-1", vars["id"])
			return map[string]any{
				"issue": map[string]any{
					"comments": map[string]any{
						"nodes": []any{map[string]any{
							"id":   "c-10",
							"body": "latest words",
							"user": map[string]any{"name": "alice", "displayName": "alice"},
						}},
					},
				},
			}
		case strings.Contains(query, "CreateComment"):
			postedBody, _ = vars["body"].(string)
			return map[string]any{
				"commentCreate": map[string]any{
					"success": true,
					"comment": map[string]any{"id": "c-11"},
				},
			}
		}
		t.Fatalf("unexpected query: %s", query)
		return nil
	})
	defer srv.Close()

	p := newTestProvider(t)
	p.client = newGQLClient(srv.URL, "test-key", srv.Client())

	r := p.newReactor("i-1")

	last, err := r.LastComment(context.Background())
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "alice", last.Author)
	assert.Equal(t, "latest words", last.Body)

	handle, err := r.PostComment(context.Background(), "Agent is working on ENG#42")
	require.NoError(t, err)
	assert.Equal(t, "c-11", handle)
	assert.Equal(t, "Agent is working on ENG#42", postedBody)
}

func TestReactorLastCommentEmptyThread(t *testing.T) {
	t.Parallel()

	srv := newGraphQLTestServer(t, func(_ string, _ map[string]any) any {
		return map[string]any{
			"issue": map[string]any{
				"comments": map[string]any{"nodes": []any{}},
			},
		}
	})
	defer srv.Close()

	p := newTestProvider(t)
	p.client = newGQLClient(srv.URL, "test-key", srv.Client())

	last, err := p.newReactor("i-1").LastComment(context.Background())
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestPollEmitsUpdatedIssues(t *testing.T) {
	t.Parallel()

	srv := newGraphQLTestServer(t, func(query string, _ map[string]any) any {
		require.Contains(t, query, "TeamIssues")
		return map[string]any{
			"issues": map[string]any{
				"nodes": []any{
					map[string]any{
						"id": "i-7", "identifier": "ENG-7", "number": 7,
						"title": "polled issue", "updatedAt": "2025-01-02T03:04:05Z",
						"state":   map[string]any{"name": "In Progress"},
						"team":    map[string]any{"key": "ENG"},
						"creator": map[string]any{"id": "u-1", "name": "alice", "displayName": "alice"},
					},
					map[string]any{
						"id": "i-8", "identifier": "ENG-8", "number": 8,
						"title": "finished issue", "updatedAt": "2025-01-02T03:04:05Z",
						"state": map[string]any{"name": "Done"},
						"team":  map[string]any{"key": "ENG"},
					},
				},
			},
		}
	})
	defer srv.Close()

	p := newTestProvider(t)
	p.client = newGQLClient(srv.URL, "test-key", srv.Client())

	var captured []capturedEmit
	require.NoError(t, p.Poll(context.Background(), captureEmits(&captured)))

	require.Len(t, captured, 1, "issues in a terminal state must be filtered")
	evt := captured[0].evt
	assert.Equal(t, "issue", evt.Type)
	assert.Equal(t, events.ActionPoll, evt.Action)
	assert.Equal(t, 7, evt.Resource.Number)
	assert.Equal(t, "ENG", evt.Resource.Repository)
	assert.True(t, evt.Metadata.Polled)

	p.mu.Lock()
	_, ok := p.cursors["ENG"]
	p.mu.Unlock()
	assert.True(t, ok)
}
