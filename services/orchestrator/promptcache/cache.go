// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package promptcache shapes model requests around a registry of
// canonical system prompts and tracks their reuse.
//
// # Description
//
// Each task type maps to one canonical system prompt, pre-hashed with
// SHA-256. Prepare assembles the outgoing message list (system prompt,
// prior conversation, current user message) and records whether the
// system prompt was already cached, which metered providers can turn
// into prompt-caching discounts. The cache never calls a model.
//
// # Thread Safety
//
// Cache is safe for concurrent use. All state is guarded by a mutex.
package promptcache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/forgeworks/agentforge/pkg/logging"
	"github.com/forgeworks/agentforge/services/orchestrator/datatypes"
)

const (
	// DefaultMaxSize caps the number of cached prompt entries.
	DefaultMaxSize = 100
	// DefaultTTL expires entries by creation time.
	DefaultTTL = 24 * time.Hour

	usdToEUR = 0.85
)

// providerDiscount is the fraction of a cached system prompt's tokens a
// provider does not re-bill on a cache hit. Providers without native
// prompt caching save nothing.
var providerDiscount = map[string]float64{
	"anthropic": 0.90,
	"openai":    0.25,
	"local":     0.0,
}

// =============================================================================
// Canonical System Prompts
// =============================================================================

var systemPrompts = map[datatypes.TaskType]string{
	datatypes.TaskCoding: `You are an expert AI coding agent. Generate precise, minimal code changes.
Your task is to create focused patches that solve specific problems without introducing unnecessary complexity.

Guidelines:
- Generate unified diff patches in the format: BEGIN_PATCH...END_PATCH
- Focus on minimal, testable changes
- Include appropriate error handling
- Follow best practices for the given technology stack
- Add comments for complex logic
- Ensure backward compatibility where possible

Response format:
BEGIN_PATCH
<unified diff or file content changes>
END_PATCH

CHECKLIST
- Tests: OK/KO with brief explanation
- Linting: OK/KO
- Security: OK/KO
- Performance: OK/KO
- Comments: <brief summary of changes and reasoning>`,

	datatypes.TaskPlanning: `You are an AI project planning agent. Create detailed, actionable execution plans.
Your task is to break down complex goals into specific, measurable steps.

Guidelines:
- Create numbered, sequential steps
- Each step should be independently testable
- Include specific files to modify or create
- Define clear success criteria
- Estimate complexity and dependencies
- Consider potential risks and mitigation strategies

Format as numbered list with brief descriptions and specific deliverables.`,

	datatypes.TaskDebugging: `You are an expert debugging agent. Analyze errors and provide systematic solutions.
Your task is to identify root causes and implement comprehensive fixes.

Guidelines:
- Analyze stack traces and error messages thoroughly
- Consider multiple potential causes
- Provide step-by-step diagnostic approach
- Include logging and monitoring improvements
- Test fixes against edge cases
- Document the resolution process

Focus on robust solutions that prevent similar issues in the future.`,

	datatypes.TaskAnalysis: `You are an expert code analysis agent. Provide comprehensive insights into codebases.
Your task is to understand structure, patterns, and provide actionable recommendations.

Guidelines:
- Analyze architecture and design patterns
- Identify technical debt and improvement opportunities
- Assess security and performance implications
- Provide specific, actionable recommendations
- Consider maintainability and scalability
- Highlight best practices and anti-patterns

Deliver structured analysis with clear priorities and implementation suggestions.`,
}

// SystemPrompt returns the canonical system prompt for a task type.
// Unknown task types fall back to the coding prompt.
func SystemPrompt(task datatypes.TaskType) string {
	if p, ok := systemPrompts[task]; ok {
		return p
	}
	return systemPrompts[datatypes.TaskCoding]
}

// =============================================================================
// Cache
// =============================================================================

// entry is one cached system prompt.
type entry struct {
	hashKey    string
	prompt     string
	provider   string
	createdAt  time.Time
	lastUsed   time.Time
	usageCount int
}

// Cache tracks system prompt reuse per provider.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	maxSize int
	ttl     time.Duration
	hashes  map[datatypes.TaskType]string
	log     *logging.Logger
	now     func() time.Time
}

// New creates a Cache with the default size cap and TTL. A nil logger
// discards output.
func New(log *logging.Logger) *Cache {
	if log == nil {
		log = logging.Discard()
	}
	hashes := make(map[datatypes.TaskType]string, len(systemPrompts))
	for task, prompt := range systemPrompts {
		hashes[task] = hash(prompt)
	}
	return &Cache{
		entries: make(map[string]*entry),
		maxSize: DefaultMaxSize,
		ttl:     DefaultTTL,
		hashes:  hashes,
		log:     log,
		now:     time.Now,
	}
}

func hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Prepare shapes the outgoing message list for one model call.
//
// # Description
//
// Looks up the task's canonical system prompt by its pre-computed hash.
// A present entry means the provider has seen this prompt before: its
// usage stats are bumped and cacheUsed is true. Otherwise a fresh entry
// is inserted and cleanup runs.
//
// The returned messages are system prompt, then history in order, then
// the current user message. Backends that separate the system prompt
// from the turn list (Anthropic) lift the leading system message out
// themselves.
func (c *Cache) Prepare(provider string, task datatypes.TaskType, userPrompt string, history []datatypes.Message) (string, []datatypes.Message, bool) {
	systemPrompt := SystemPrompt(task)
	key, ok := c.hashes[task]
	if !ok {
		key = hash(systemPrompt)
	}

	c.mu.Lock()
	cacheUsed := false
	if e, ok := c.entries[key]; ok {
		e.lastUsed = c.now()
		e.usageCount++
		cacheUsed = true
		c.log.Debug("system prompt cache hit", "task", task, "usage_count", e.usageCount)
	} else {
		ts := c.now()
		c.entries[key] = &entry{
			hashKey:    key,
			prompt:     systemPrompt,
			provider:   provider,
			createdAt:  ts,
			lastUsed:   ts,
			usageCount: 1,
		}
		c.cleanupLocked()
		c.log.Debug("system prompt cached", "task", task, "provider", provider)
	}
	c.mu.Unlock()

	messages := make([]datatypes.Message, 0, len(history)+2)
	messages = append(messages, datatypes.Message{Role: "system", Content: systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, datatypes.Message{Role: "user", Content: userPrompt})

	return systemPrompt, messages, cacheUsed
}

// cleanupLocked removes TTL-expired entries, then evicts the least
// recently used entries down to 80% of the cap when still over it.
// Caller holds c.mu.
func (c *Cache) cleanupLocked() {
	now := c.now()
	expired := 0
	for key, e := range c.entries {
		if now.Sub(e.createdAt) > c.ttl {
			delete(c.entries, key)
			expired++
		}
	}

	if len(c.entries) > c.maxSize {
		byLastUsed := make([]*entry, 0, len(c.entries))
		for _, e := range c.entries {
			byLastUsed = append(byLastUsed, e)
		}
		sort.Slice(byLastUsed, func(i, j int) bool {
			return byLastUsed[i].lastUsed.Before(byLastUsed[j].lastUsed)
		})

		target := int(float64(c.maxSize) * 0.8)
		for _, e := range byLastUsed[:len(byLastUsed)-target] {
			delete(c.entries, e.hashKey)
		}
	}

	c.log.Debug("cache cleanup", "expired", expired, "remaining", len(c.entries))
}

// Clear drops every cached entry and returns how many were removed.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cleared := len(c.entries)
	c.entries = make(map[string]*entry)
	return cleared
}

// =============================================================================
// Reporting
// =============================================================================

// Stats summarizes cache state for reporting.
type Stats struct {
	TotalEntries int     `json:"total_entries"`
	TotalUsage   int     `json:"total_usage"`
	HitRate      float64 `json:"hit_rate"`
	MostUsedHash string  `json:"most_used_hash,omitempty"`
	MostUsedHits int     `json:"most_used_hits,omitempty"`
	SizeLimit    int     `json:"cache_size_limit"`
	TTLHours     float64 `json:"ttl_hours"`
}

// Stats returns usage statistics. Hit rate is the fraction of entries
// used more than once.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		TotalEntries: len(c.entries),
		SizeLimit:    c.maxSize,
		TTLHours:     c.ttl.Hours(),
	}

	var mostUsed *entry
	hits := 0
	for _, e := range c.entries {
		s.TotalUsage += e.usageCount
		if e.usageCount > 1 {
			hits++
		}
		if mostUsed == nil || e.usageCount > mostUsed.usageCount {
			mostUsed = e
		}
	}
	if len(c.entries) > 0 {
		s.HitRate = float64(hits) / float64(len(c.entries))
	}
	if mostUsed != nil {
		s.MostUsedHash = mostUsed.hashKey[:8]
		s.MostUsedHits = mostUsed.usageCount
	}
	return s
}

// Savings is a rough accounting of tokens and cost avoided by reuse.
type Savings struct {
	TokensSaved       float64 `json:"tokens_saved"`
	CostSavedEUR      float64 `json:"cost_saved_eur"`
	SavingsPercentage float64 `json:"savings_percentage"`
	CacheHits         int     `json:"cache_hits"`
	TotalRequests     int     `json:"total_requests"`
}

// EstimateSavings approximates what prompt reuse saved.
//
// Each entry contributes (usage_count - 1) hits. Saved tokens are hits
// times the assumed average prompt size, scaled by the provider's
// caching discount. Cost is converted from USD per 1k tokens to EUR.
// Reporting only; nothing here feeds budget enforcement.
func (c *Cache) EstimateSavings(avgPromptTokens int, costPer1KTokens float64) Savings {
	c.mu.Lock()
	defer c.mu.Unlock()

	var s Savings
	var weightedTokens float64
	for _, e := range c.entries {
		hits := e.usageCount - 1
		if hits < 0 {
			hits = 0
		}
		s.CacheHits += hits
		s.TotalRequests += e.usageCount
		weightedTokens += float64(hits*avgPromptTokens) * providerDiscount[e.provider]
	}

	s.TokensSaved = weightedTokens
	s.CostSavedEUR = weightedTokens / 1000 * costPer1KTokens * usdToEUR

	totalWithoutCache := float64(s.TotalRequests * avgPromptTokens)
	if totalWithoutCache > 0 {
		s.SavingsPercentage = weightedTokens / totalWithoutCache * 100
	}
	return s
}
