// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package promptcache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeworks/agentforge/services/orchestrator/datatypes"
)

func TestPrepare_FirstUseThenHit(t *testing.T) {
	c := New(nil)

	system, msgs, cached := c.Prepare("openai", datatypes.TaskCoding, "fix the bug", nil)
	assert.False(t, cached)
	assert.Contains(t, system, "BEGIN_PATCH")
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "user", msgs[1].Role)
	assert.Equal(t, "fix the bug", msgs[1].Content)

	_, _, cached = c.Prepare("openai", datatypes.TaskCoding, "fix another bug", nil)
	assert.True(t, cached)
}

func TestPrepare_HistoryPreserved(t *testing.T) {
	c := New(nil)

	history := []datatypes.Message{
		{Role: "user", Content: "earlier question"},
		{Role: "assistant", Content: "earlier answer"},
	}
	_, msgs, _ := c.Prepare("anthropic", datatypes.TaskPlanning, "next question", history)

	require.Len(t, msgs, 4)
	assert.Equal(t, "earlier question", msgs[1].Content)
	assert.Equal(t, "earlier answer", msgs[2].Content)
	assert.Equal(t, "next question", msgs[3].Content)
}

func TestPrepare_UnknownTaskFallsBackToCoding(t *testing.T) {
	c := New(nil)
	system, _, _ := c.Prepare("local", datatypes.TaskType("mystery"), "hello", nil)
	assert.Equal(t, SystemPrompt(datatypes.TaskCoding), system)
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New(nil)
	clock := time.Now()
	c.now = func() time.Time { return clock }

	c.Prepare("openai", datatypes.TaskCoding, "p", nil)
	assert.Equal(t, 1, c.Stats().TotalEntries)

	// Jump past the TTL; inserting a different prompt triggers cleanup.
	clock = clock.Add(DefaultTTL + time.Minute)
	c.Prepare("openai", datatypes.TaskPlanning, "p", nil)

	stats := c.Stats()
	assert.Equal(t, 1, stats.TotalEntries)
}

func TestCache_LRUEviction(t *testing.T) {
	c := New(nil)
	c.maxSize = 10
	clock := time.Now()
	c.now = func() time.Time { return clock }

	// Fill past the cap with synthetic entries; each later entry is
	// more recently used.
	for i := 0; i < 11; i++ {
		clock = clock.Add(time.Second)
		key := fmt.Sprintf("key-%02d", i)
		c.entries[key] = &entry{hashKey: key, createdAt: clock, lastUsed: clock, usageCount: 1, provider: "openai"}
	}

	c.mu.Lock()
	c.cleanupLocked()
	c.mu.Unlock()

	// Down to 80% of the cap, oldest evicted first.
	assert.Equal(t, 8, len(c.entries))
	_, oldest := c.entries["key-00"]
	assert.False(t, oldest)
	_, newest := c.entries["key-10"]
	assert.True(t, newest)
}

func TestStats(t *testing.T) {
	c := New(nil)
	c.Prepare("openai", datatypes.TaskCoding, "a", nil)
	c.Prepare("openai", datatypes.TaskCoding, "b", nil)
	c.Prepare("openai", datatypes.TaskCoding, "c", nil)
	c.Prepare("anthropic", datatypes.TaskDebugging, "d", nil)

	stats := c.Stats()
	assert.Equal(t, 2, stats.TotalEntries)
	assert.Equal(t, 4, stats.TotalUsage)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
	assert.Equal(t, 3, stats.MostUsedHits)
}

func TestEstimateSavings(t *testing.T) {
	c := New(nil)
	for i := 0; i < 3; i++ {
		c.Prepare("anthropic", datatypes.TaskCoding, "p", nil)
	}

	s := c.EstimateSavings(500, 0.005)
	assert.Equal(t, 2, s.CacheHits)
	assert.Equal(t, 3, s.TotalRequests)
	// 2 hits x 500 tokens x 0.90 discount.
	assert.InDelta(t, 900.0, s.TokensSaved, 1e-9)
	// 900/1000 x 0.005 x 0.85 USD->EUR.
	assert.InDelta(t, 0.003825, s.CostSavedEUR, 1e-9)
	assert.InDelta(t, 60.0, s.SavingsPercentage, 1e-9)
}

func TestEstimateSavings_Empty(t *testing.T) {
	c := New(nil)
	s := c.EstimateSavings(500, 0.005)
	assert.Zero(t, s.TokensSaved)
	assert.Zero(t, s.CostSavedEUR)
	assert.Zero(t, s.SavingsPercentage)
}

func TestClear(t *testing.T) {
	c := New(nil)
	c.Prepare("openai", datatypes.TaskCoding, "p", nil)
	assert.Equal(t, 1, c.Clear())
	assert.Equal(t, 0, c.Stats().TotalEntries)
}
