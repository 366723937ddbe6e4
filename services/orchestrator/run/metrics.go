// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package run

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Run Execution
// =============================================================================

var (
	// runsTotal counts finished runs.
	// Labels: status (completed, failed)
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentforge",
		Subsystem: "run",
		Name:      "runs_total",
		Help:      "Total finished runs by terminal status",
	}, []string{"status"})

	// stepsTotal counts steps that reached a terminal state.
	// Labels: status (completed, failed)
	stepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentforge",
		Subsystem: "run",
		Name:      "steps_total",
		Help:      "Total steps by terminal state",
	}, []string{"status"})

	// planRevisions counts planner escalations that produced a new
	// plan.
	planRevisions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentforge",
		Subsystem: "run",
		Name:      "plan_revisions_total",
		Help:      "Total plan revisions triggered by reviewer escalation",
	})

	// runDuration observes wall-clock run time.
	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "agentforge",
		Subsystem: "run",
		Name:      "duration_seconds",
		Help:      "Wall-clock duration of finished runs",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})
)
