// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package events provides the normalized event model shared by all providers
// and the watermill-backed eventer used to fan events out to subscribers.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ActionPoll is the sentinel action for items surfaced by polling rather than
// by a webhook delivery.
const ActionPoll = "poll"

// CommentInfo carries a conversation note attached to an event.
type CommentInfo struct {
	Body   string `json:"body"`
	Author string `json:"author"`
	URL    string `json:"url,omitempty"`
}

// Resource describes the item the event is about.
type Resource struct {
	// Number is a small integer handle local to Repository; 0 when the
	// platform has none (e.g. chat messages).
	Number      int    `json:"number"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	State       string `json:"state"`
	// Repository is the logical container key: repo full name, project
	// path, team key, or channel id.
	Repository string       `json:"repository"`
	Author     string       `json:"author,omitempty"`
	Assignees  []string     `json:"assignees,omitempty"`
	Labels     []string     `json:"labels,omitempty"`
	Branch     string       `json:"branch,omitempty"`
	MergeTo    string       `json:"mergeTo,omitempty"`
	Comment    *CommentInfo `json:"comment,omitempty"`
}

// Actor identifies who caused the event.
type Actor struct {
	Username string `json:"username"`
	ID       string `json:"id,omitempty"`
}

// Metadata records event provenance.
type Metadata struct {
	// Timestamp is ISO-8601.
	Timestamp  string            `json:"timestamp"`
	DeliveryID string            `json:"deliveryId,omitempty"`
	Polled     bool              `json:"polled,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// NormalizedEvent is the single record produced by every provider and
// consumed uniformly downstream.
type NormalizedEvent struct {
	ID       string          `json:"id"`
	Provider string          `json:"provider"`
	Type     string          `json:"type"`
	Action   string          `json:"action"`
	Resource Resource        `json:"resource"`
	Actor    Actor           `json:"actor"`
	Metadata Metadata        `json:"metadata"`
	// Raw retains the source payload verbatim for template rendering.
	// The dispatcher never inspects it.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// NewEventID builds the event id in the canonical
// {provider}:{resource-key}:{action}:{native-id}:{delivery-or-ts} format.
func NewEventID(provider, resourceKey, action, nativeID, deliveryOrTS string) string {
	return strings.Join([]string{provider, resourceKey, action, nativeID, deliveryOrTS}, ":")
}

// Validate enforces the event invariants all consumers rely on.
func (e *NormalizedEvent) Validate() error {
	if e == nil {
		return errors.New("event is nil")
	}
	if e.ID == "" {
		return errors.New("event id is empty")
	}
	if e.Provider == "" {
		return errors.New("event provider is empty")
	}
	if e.Resource.Repository == "" {
		return fmt.Errorf("event %s has no repository", e.ID)
	}
	return nil
}

// DisplayString renders the human-facing handle for the resource, used in
// acknowledgement comments: "{repository}#{number}", or just the container
// key for resources without numbers.
func (e *NormalizedEvent) DisplayString() string {
	if e.Resource.Number == 0 {
		return e.Resource.Repository
	}
	return fmt.Sprintf("%s#%d", e.Resource.Repository, e.Resource.Number)
}
