// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taskwatch/taskwatch/internal/events"
)

func TestShouldProcess(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		evt      events.NormalizedEvent
		activity bool
		want     bool
	}{
		{
			name: "freshly opened issue is skipped",
			evt: events.NormalizedEvent{
				Type: "issue", Action: "opened",
				Resource: events.Resource{State: "open"},
			},
			activity: true,
			want:     false,
		},
		{
			name: "gitlab open action is skipped",
			evt: events.NormalizedEvent{
				Type: "merge_request", Action: "open",
				Resource: events.Resource{State: "opened"},
			},
			activity: true,
			want:     false,
		},
		{
			name: "issue comment proceeds",
			evt: events.NormalizedEvent{
				Type: "issue", Action: "created",
				Resource: events.Resource{State: "open"},
			},
			activity: true,
			want:     true,
		},
		{
			name: "pr synchronize is metadata only",
			evt: events.NormalizedEvent{
				Type: "pull_request", Action: "synchronize",
				Resource: events.Resource{State: "open"},
			},
			activity: true,
			want:     false,
		},
		{
			name: "mr assigned is metadata only",
			evt: events.NormalizedEvent{
				Type: "merge_request", Action: "assigned",
				Resource: events.Resource{State: "opened"},
			},
			activity: true,
			want:     false,
		},
		{
			name: "polled pr without human activity is skipped",
			evt: events.NormalizedEvent{
				Type: "pull_request", Action: events.ActionPoll,
				Resource: events.Resource{State: "open"},
			},
			activity: false,
			want:     false,
		},
		{
			name: "polled pr with human activity proceeds",
			evt: events.NormalizedEvent{
				Type: "pull_request", Action: events.ActionPoll,
				Resource: events.Resource{State: "open"},
			},
			activity: true,
			want:     true,
		},
		{
			name: "polled issue does not require activity",
			evt: events.NormalizedEvent{
				Type: "issue", Action: events.ActionPoll,
				Resource: events.Resource{State: "open"},
			},
			activity: false,
			want:     true,
		},
		{
			name: "closed resource is terminal",
			evt: events.NormalizedEvent{
				Type: "issue", Action: "commented",
				Resource: events.Resource{State: "closed"},
			},
			activity: true,
			want:     false,
		},
		{
			name: "reopened closed resource proceeds",
			evt: events.NormalizedEvent{
				Type: "issue", Action: "reopened",
				Resource: events.Resource{State: "closed"},
			},
			activity: true,
			want:     true,
		},
		{
			name: "linear Done state is terminal",
			evt: events.NormalizedEvent{
				Type: "issue", Action: "update",
				Resource: events.Resource{State: "Done"},
			},
			activity: true,
			want:     false,
		},
		{
			name: "linear Cancelled state is terminal",
			evt: events.NormalizedEvent{
				Type: "issue", Action: "update",
				Resource: events.Resource{State: "Cancelled"},
			},
			activity: true,
			want:     false,
		},
		{
			name: "message events proceed",
			evt: events.NormalizedEvent{
				Type: "message", Action: "created",
				Resource: events.Resource{State: ""},
			},
			activity: false,
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, reason := ShouldProcess(&tt.evt, tt.activity)
			assert.Equal(t, tt.want, got)
			if !got {
				assert.NotEmpty(t, reason)
			}
		})
	}
}
