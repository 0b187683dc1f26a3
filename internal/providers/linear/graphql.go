// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

package linear

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/taskwatch/taskwatch/internal/httpclient"
)

// gqlClient is a thin GraphQL transport over the shared JSON codec, which
// already retries transient rejections.
type gqlClient struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

func newGQLClient(endpoint, apiKey string, hc *http.Client) *gqlClient {
	return &gqlClient{endpoint: endpoint, apiKey: apiKey, http: hc}
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// do executes a query and decodes the data field into out.
func (c *gqlClient) do(ctx context.Context, query string, vars map[string]any, out any) error {
	headers := http.Header{}
	// Personal API keys are passed as-is, not as a bearer token.
	headers.Set("Authorization", c.apiKey)

	var envelope gqlEnvelope
	if err := httpclient.PostJSON(ctx, c.http, c.endpoint, headers, gqlRequest{Query: query, Variables: vars}, &envelope); err != nil {
		return err
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("graphql request failed: %s", envelope.Errors[0].Message)
	}
	if out == nil || envelope.Data == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("failed to decode graphql data: %w", err)
	}
	return nil
}

type gqlUser struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

// username picks the handle the platform shows on comments.
func (u *gqlUser) username() string {
	if u == nil {
		return ""
	}
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Name
}

const viewerQuery = `query { viewer { id name displayName } }`

func (c *gqlClient) viewer(ctx context.Context) (*gqlUser, error) {
	var out struct {
		Viewer gqlUser `json:"viewer"`
	}
	if err := c.do(ctx, viewerQuery, nil, &out); err != nil {
		return nil, err
	}
	return &out.Viewer, nil
}

const lastCommentQuery = `query LastComment($id: String!) {
  issue(id: $id) {
    comments(last: 1) {
      nodes { id body user { id name displayName } }
    }
  }
}`

type gqlComment struct {
	ID   string   `json:"id"`
	Body string   `json:"body"`
	User *gqlUser `json:"user"`
}

func (c *gqlClient) lastComment(ctx context.Context, issueID string) (*gqlComment, error) {
	var out struct {
		Issue struct {
			Comments struct {
				Nodes []gqlComment `json:"nodes"`
			} `json:"comments"`
		} `json:"issue"`
	}
	if err := c.do(ctx, lastCommentQuery, map[string]any{"id": issueID}, &out); err != nil {
		return nil, err
	}
	if len(out.Issue.Comments.Nodes) == 0 {
		return nil, nil
	}
	return &out.Issue.Comments.Nodes[0], nil
}

const createCommentMutation = `mutation CreateComment($issueId: String!, $body: String!) {
  commentCreate(input: {issueId: $issueId, body: $body}) {
    success
    comment { id }
  }
}`

func (c *gqlClient) createComment(ctx context.Context, issueID, body string) (string, error) {
	var out struct {
		CommentCreate struct {
			Success bool `json:"success"`
			Comment struct {
				ID string `json:"id"`
			} `json:"comment"`
		} `json:"commentCreate"`
	}
	if err := c.do(ctx, createCommentMutation, map[string]any{"issueId": issueID, "body": body}, &out); err != nil {
		return "", err
	}
	if !out.CommentCreate.Success {
		return "", fmt.Errorf("comment creation was not accepted")
	}
	return out.CommentCreate.Comment.ID, nil
}

const teamIssuesQuery = `query TeamIssues($filter: IssueFilter, $first: Int) {
  issues(filter: $filter, orderBy: updatedAt, first: $first) {
    nodes {
      id identifier number title description url updatedAt
      state { name }
      team { key }
      creator { id name displayName }
      assignee { id name displayName }
      labels { nodes { name } }
    }
  }
}`

type gqlIssue struct {
	ID          string    `json:"id"`
	Identifier  string    `json:"identifier"`
	Number      int       `json:"number"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	UpdatedAt   time.Time `json:"updatedAt"`
	State       *struct {
		Name string `json:"name"`
	} `json:"state"`
	Team *struct {
		Key string `json:"key"`
	} `json:"team"`
	Creator  *gqlUser `json:"creator"`
	Assignee *gqlUser `json:"assignee"`
	Labels   *struct {
		Nodes []struct {
			Name string `json:"name"`
		} `json:"nodes"`
	} `json:"labels"`
}

func (c *gqlClient) teamIssues(ctx context.Context, team string, since time.Time, first int) ([]gqlIssue, error) {
	filter := map[string]any{
		"team":      map[string]any{"key": map[string]any{"eq": team}},
		"updatedAt": map[string]any{"gt": since.UTC().Format(time.RFC3339)},
	}
	var out struct {
		Issues struct {
			Nodes []gqlIssue `json:"nodes"`
		} `json:"issues"`
	}
	if err := c.do(ctx, teamIssuesQuery, map[string]any{"filter": filter, "first": first}, &out); err != nil {
		return nil, err
	}
	return out.Issues.Nodes, nil
}
