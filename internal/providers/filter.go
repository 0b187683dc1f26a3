// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

package providers

import (
	"github.com/taskwatch/taskwatch/internal/events"
)

// metadataOnlyActions are review-request style actions on PRs/MRs that carry
// no conversation to respond to.
var metadataOnlyActions = map[string]bool{
	"synchronize": true,
	"update":      true,
	"edited":      true,
	"labeled":     true,
	"unlabeled":   true,
	"assigned":    true,
	"unassigned":  true,
	"locked":      true,
	"unlocked":    true,
}

// terminalStates are state names, across platforms, in which a resource no
// longer accepts work.
var terminalStates = map[string]bool{
	"closed":    true,
	"Done":      true,
	"Cancelled": true,
	"Canceled":  true,
}

func isMergeLike(eventType string) bool {
	return eventType == "pull_request" || eventType == "merge_request"
}

// ShouldProcess applies the uniform event filter to a normalized event, for
// both webhook and polled deliveries. It returns false with a reason when the
// event should be dropped. hasRecentHumanActivity only matters for polled
// PR/MR items; pass true when it could not be determined (fail-open; the
// comment-based idempotency check still prevents bot loops).
func ShouldProcess(evt *events.NormalizedEvent, hasRecentHumanActivity bool) (bool, string) {
	switch evt.Action {
	case "opened", "open":
		return false, "nothing to respond to yet"
	}

	if isMergeLike(evt.Type) {
		if metadataOnlyActions[evt.Action] {
			return false, "automated or metadata-only action"
		}
		if evt.Action == events.ActionPoll && !hasRecentHumanActivity {
			return false, "no recent human activity"
		}
	}

	if evt.Resource.State == "closed" && evt.Action != "reopened" && evt.Action != "reopen" {
		return false, "resource is closed"
	}

	if terminalStates[evt.Resource.State] && evt.Action != "reopened" && evt.Action != "reopen" {
		return false, "resource is in a terminal state"
	}

	return true, ""
}
