// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Model Routing
// =============================================================================

var (
	// tierCalls counts backend invocations.
	// Labels: tier, status (ok, invalid, error)
	tierCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentforge",
		Subsystem: "router",
		Name:      "tier_calls_total",
		Help:      "Total model backend invocations by tier and outcome",
	}, []string{"tier", "status"})

	// escalations counts moves past the initially selected tier.
	// Labels: from, to
	escalations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentforge",
		Subsystem: "router",
		Name:      "escalations_total",
		Help:      "Total escalations from one tier to another",
	}, []string{"from", "to"})

	// sentinelResponses counts generate() calls that exhausted every
	// tier and returned the error sentinel.
	sentinelResponses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentforge",
		Subsystem: "router",
		Name:      "sentinel_responses_total",
		Help:      "Total generate calls that failed across all tiers",
	})

	// promptCacheHits counts calls shaped with an already-cached
	// system prompt.
	// Labels: provider
	promptCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentforge",
		Subsystem: "router",
		Name:      "prompt_cache_hits_total",
		Help:      "Total calls whose system prompt was already cached",
	}, []string{"provider"})

	// strictReprompts counts one-shot strict diff re-prompts.
	strictReprompts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentforge",
		Subsystem: "router",
		Name:      "strict_reprompts_total",
		Help:      "Total strict unified-diff re-prompts issued",
	})

	// costEUR accumulates model spend.
	// Labels: model
	costEUR = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentforge",
		Subsystem: "router",
		Name:      "cost_eur_total",
		Help:      "Accumulated model cost in EUR",
	}, []string{"model"})
)
