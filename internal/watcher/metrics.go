// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

package watcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskwatch_events_received_total",
		Help: "Normalized events handed to the dispatcher, by provider.",
	}, []string{"provider"})

	eventsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskwatch_events_skipped_total",
		Help: "Events dropped by the dispatcher, by provider and reason.",
	}, []string{"provider", "reason"})

	eventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskwatch_events_dispatched_total",
		Help: "Events that reached the command or acknowledgement step, by provider and mode.",
	}, []string{"provider", "mode"})
)
