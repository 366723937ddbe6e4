// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package router selects and escalates across model-tier backends.
//
// # Description
//
// Three tiers are wired: LOCAL (free inference), MEDIUM (mid-cost
// hosted), and PREMIUM (frontier hosted). Each generate call picks an
// initial tier from the task type and remaining budget, tries the
// local backend first when it owns the pick, and escalates along a
// fixed path when responses fail structural validation. Coding
// responses are gated by the patch validator; an invalid coding
// response earns exactly one strict re-prompt per tier before the
// router moves on.
//
// # Thread Safety
//
// Router is safe for concurrent use across runs. Mutable routing state
// is mutex-guarded; conversation history and rate limits have their
// own locks.
package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/forgeworks/agentforge/pkg/logging"
	"github.com/forgeworks/agentforge/services/llm"
	"github.com/forgeworks/agentforge/services/orchestrator/datatypes"
	"github.com/forgeworks/agentforge/services/orchestrator/patch"
	"github.com/forgeworks/agentforge/services/orchestrator/promptcache"
)

// =============================================================================
// Tiers and Providers
// =============================================================================

// Tier is a model cost/capability class.
type Tier int

const (
	TierLocal Tier = iota
	TierMedium
	TierPremium
)

func (t Tier) String() string {
	switch t {
	case TierLocal:
		return "local"
	case TierMedium:
		return "medium"
	case TierPremium:
		return "premium"
	default:
		return "unknown"
	}
}

// Provider names used for rate limiting and prompt-cache accounting.
const (
	ProviderLocal     = "local"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// =============================================================================
// Tuning Constants
// =============================================================================

const (
	// DefaultMaxLocalRetries bounds local-first attempts per call.
	DefaultMaxLocalRetries = 3
	// DefaultMaxEscalationRetries bounds backend exceptions tolerated
	// while walking the escalation path.
	DefaultMaxEscalationRetries = 2

	// promptLengthThreshold pushes very long prompts to PREMIUM.
	promptLengthThreshold = 8000
	// premiumBudgetThreshold is the minimum remaining EUR budget for a
	// PREMIUM pick.
	premiumBudgetThreshold = 0.50
	// mediumBudgetThreshold is the minimum remaining EUR budget for a
	// MEDIUM pick.
	mediumBudgetThreshold = 0.10

	// minContentLength rejects degenerate responses outright.
	minContentLength = 10
)

var planningMarkers = []string{"step", "plan", "1.", "2.", "- "}

const strictPatchReprompt = "Your previous response was not a valid unified diff. " +
	"Re-emit ONLY a valid unified diff between BEGIN_PATCH and END_PATCH markers. " +
	"No commentary, no markdown fences, no explanation."

const sentinelContent = "Error: Unable to generate response with any available model"

// =============================================================================
// Types
// =============================================================================

// Response is the result of one routed generate call.
type Response struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	CostEUR          float64
}

// Failed reports whether this is the terminal sentinel response.
func (r Response) Failed() bool {
	return r.Model == "error"
}

type backend struct {
	client   llm.Client
	provider string
	disabled bool
}

// Config tunes a Router.
type Config struct {
	MaxLocalRetries      int
	MaxEscalationRetries int
	HistoryPairs         int
	Rates                RateTable
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxLocalRetries:      DefaultMaxLocalRetries,
		MaxEscalationRetries: DefaultMaxEscalationRetries,
		HistoryPairs:         DefaultHistoryPairs,
		Rates:                DefaultRates(),
	}
}

// Router routes generate calls across model tiers.
type Router struct {
	log      *logging.Logger
	cache    *promptcache.Cache
	limiters *Limiters
	rates    RateTable

	maxLocalRetries      int
	maxEscalationRetries int

	mu              sync.Mutex
	backends        map[Tier]*backend
	forceEscalation bool
	localFailures   int

	conversations *conversationStore

	// sleep is swappable so tests skip real backoff.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Router. A nil logger discards output; a nil cache gets
// a fresh one.
func New(log *logging.Logger, cache *promptcache.Cache, cfg Config) *Router {
	if log == nil {
		log = logging.Discard()
	}
	if cache == nil {
		cache = promptcache.New(log)
	}
	if cfg.MaxLocalRetries <= 0 {
		cfg.MaxLocalRetries = DefaultMaxLocalRetries
	}
	if cfg.MaxEscalationRetries <= 0 {
		cfg.MaxEscalationRetries = DefaultMaxEscalationRetries
	}
	if cfg.Rates == nil {
		cfg.Rates = DefaultRates()
	}
	return &Router{
		log:                  log,
		cache:                cache,
		limiters:             SharedLimiters(),
		rates:                cfg.Rates,
		maxLocalRetries:      cfg.MaxLocalRetries,
		maxEscalationRetries: cfg.MaxEscalationRetries,
		backends:             make(map[Tier]*backend),
		conversations:        newConversationStore(cfg.HistoryPairs),
		sleep:                sleepContext,
	}
}

// Register wires a backend into a tier. Registering nil leaves the
// tier unavailable.
func (r *Router) Register(tier Tier, provider string, client llm.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[tier] = &backend{client: client, provider: provider}
}

// SetDisabled switches a tier off or back on without unregistering it.
func (r *Router) SetDisabled(tier Tier, disabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.backends[tier]; ok {
		b.disabled = disabled
	}
}

// SetForceEscalation makes every subsequent call pick PREMIUM first.
// Used by the step loop when retrying after repeated local failures.
func (r *Router) SetForceEscalation(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forceEscalation = v
}

// EndRun drops the run's conversation history.
func (r *Router) EndRun(runID string) {
	r.conversations.clear(runID)
}

// =============================================================================
// Generate
// =============================================================================

// Generate produces a model response for the prompt, escalating across
// tiers until one passes structural validation.
//
// # Description
//
// Tier selection, local-first retries with exponential backoff, and
// the escalation walk follow the state machine described in the
// package comment. All failure modes collapse into a sentinel Response
// with Model "error"; Generate never returns an error.
func (r *Router) Generate(ctx context.Context, prompt string, task datatypes.TaskType, currentCost, budgetLimit float64, runID string) Response {
	return r.generate(ctx, prompt, task, currentCost, budgetLimit, runID, r.forced())
}

// GenerateEscalated is Generate with escalation forced for this call
// only: PREMIUM first, no local-first retries. The step loop uses it
// for retry-with-escalation without flipping shared router state.
func (r *Router) GenerateEscalated(ctx context.Context, prompt string, task datatypes.TaskType, currentCost, budgetLimit float64, runID string) Response {
	return r.generate(ctx, prompt, task, currentCost, budgetLimit, runID, true)
}

func (r *Router) generate(ctx context.Context, prompt string, task datatypes.TaskType, currentCost, budgetLimit float64, runID string, forced bool) Response {
	initial := r.determineTier(task, currentCost, budgetLimit, len(prompt))
	if forced {
		initial = TierPremium
	}
	r.log.Debug("tier selected", "tier", initial, "task", task, "run_id", runID)

	localExhausted := false
	if initial == TierLocal && !forced {
		if resp, ok := r.tryLocalFirst(ctx, prompt, task, runID); ok {
			return resp
		}
		localExhausted = true
	}

	path := r.availablePath(initial, localExhausted)
	if len(path) == 0 {
		r.log.Error("no available backends", "initial_tier", initial)
		sentinelResponses.Inc()
		return Response{Content: sentinelContent, Model: "error"}
	}

	errCount := 0
	for _, tier := range path {
		if tier != initial {
			escalations.WithLabelValues(initial.String(), tier.String()).Inc()
		}

		resp, err := r.invoke(ctx, tier, prompt, task, runID)
		if err != nil {
			tierCalls.WithLabelValues(tier.String(), "error").Inc()
			r.log.Error("tier call failed", "tier", tier, "error", err)
			errCount++
			if errCount >= r.maxEscalationRetries {
				break
			}
			continue
		}

		if isValidResponse(resp.Content, task) {
			tierCalls.WithLabelValues(tier.String(), "ok").Inc()
			if tier == TierLocal {
				r.resetLocalFailures()
			}
			r.conversations.append(runID, prompt, resp.Content)
			return resp
		}
		tierCalls.WithLabelValues(tier.String(), "invalid").Inc()
		r.log.Warn("invalid response, escalating", "tier", tier, "task", task)

		// One strict re-prompt per tier for coding tasks. The suffix is
		// never stored in history.
		if task == datatypes.TaskCoding {
			strictReprompts.Inc()
			strict := prompt + "\n\n" + strictPatchReprompt
			resp, err = r.invoke(ctx, tier, strict, task, runID)
			if err == nil && isValidResponse(resp.Content, task) {
				tierCalls.WithLabelValues(tier.String(), "ok").Inc()
				r.conversations.append(runID, prompt, resp.Content)
				return resp
			}
		}
	}

	sentinelResponses.Inc()
	return Response{Content: sentinelContent, Model: "error"}
}

// tryLocalFirst runs the local backend up to maxLocalRetries times
// with 2^attempt-second backoff between attempts.
func (r *Router) tryLocalFirst(ctx context.Context, prompt string, task datatypes.TaskType, runID string) (Response, bool) {
	for attempt := 0; attempt < r.maxLocalRetries; attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, time.Duration(1<<attempt)*time.Second); err != nil {
				return Response{}, false
			}
		}

		resp, err := r.invoke(ctx, TierLocal, prompt, task, runID)
		if err != nil {
			tierCalls.WithLabelValues(TierLocal.String(), "error").Inc()
			r.log.Warn("local attempt failed", "attempt", attempt+1, "error", err)
			r.noteLocalFailure()
			continue
		}
		if isValidResponse(resp.Content, task) {
			tierCalls.WithLabelValues(TierLocal.String(), "ok").Inc()
			r.resetLocalFailures()
			r.conversations.append(runID, prompt, resp.Content)
			return resp, true
		}
		tierCalls.WithLabelValues(TierLocal.String(), "invalid").Inc()
		r.log.Warn("local response invalid", "attempt", attempt+1, "task", task)
		r.noteLocalFailure()
	}
	return Response{}, false
}

// invoke makes one backend call: rate limit, shape messages through
// the prompt cache, generate, and price the result.
func (r *Router) invoke(ctx context.Context, tier Tier, prompt string, task datatypes.TaskType, runID string) (Response, error) {
	b := r.backend(tier)
	if b == nil || b.client == nil {
		return Response{}, fmt.Errorf("no backend registered for tier %s", tier)
	}
	if b.disabled {
		return Response{}, fmt.Errorf("tier %s is disabled", tier)
	}

	if err := r.limiters.Wait(ctx, b.provider); err != nil {
		return Response{}, fmt.Errorf("rate limit wait: %w", err)
	}

	var history []datatypes.Message
	if b.provider != ProviderLocal {
		history = r.conversations.history(runID)
	}

	_, messages, cacheUsed := r.cache.Prepare(b.provider, task, prompt, history)
	if cacheUsed {
		promptCacheHits.WithLabelValues(b.provider).Inc()
	}

	completion, err := b.client.Generate(ctx, messages, llm.DefaultParams())
	if err != nil {
		return Response{}, err
	}

	model := b.client.Model()
	cost := r.rates.Cost(model, completion.PromptTokens, completion.CompletionTokens, cacheUsed)
	costEUR.WithLabelValues(model).Add(cost)

	return Response{
		Content:          completion.Text,
		Model:            model,
		PromptTokens:     completion.PromptTokens,
		CompletionTokens: completion.CompletionTokens,
		CostEUR:          cost,
	}, nil
}

// =============================================================================
// Routing Decisions
// =============================================================================

// determineTier picks the initial tier from task type and remaining
// budget.
func (r *Router) determineTier(task datatypes.TaskType, currentCost, budgetLimit float64, promptLen int) Tier {
	if r.forced() {
		return TierPremium
	}

	remaining := budgetLimit - currentCost

	if task == datatypes.TaskDebugging || promptLen > promptLengthThreshold {
		if remaining > premiumBudgetThreshold {
			return TierPremium
		}
		return TierLocal
	}

	if task == datatypes.TaskCoding && remaining > mediumBudgetThreshold {
		return TierMedium
	}

	return TierLocal
}

// escalationPath returns the tier order for an initial preference.
func escalationPath(initial Tier) []Tier {
	switch initial {
	case TierLocal:
		return []Tier{TierLocal, TierMedium, TierPremium}
	case TierMedium:
		return []Tier{TierMedium, TierPremium, TierLocal}
	default:
		return []Tier{TierPremium, TierMedium, TierLocal}
	}
}

// availablePath filters the escalation path down to usable tiers.
func (r *Router) availablePath(initial Tier, localExhausted bool) []Tier {
	r.mu.Lock()
	defer r.mu.Unlock()

	var path []Tier
	for _, tier := range escalationPath(initial) {
		if tier == TierLocal && localExhausted {
			continue
		}
		b, ok := r.backends[tier]
		if !ok || b.client == nil || b.disabled {
			continue
		}
		path = append(path, tier)
	}
	return path
}

// isValidResponse applies the task-specific structural gate.
func isValidResponse(content string, task datatypes.TaskType) bool {
	if len(strings.TrimSpace(content)) < minContentLength {
		return false
	}

	switch task {
	case datatypes.TaskCoding:
		body := patch.Extract(content)
		return body != "" && patch.IsValid(body)
	case datatypes.TaskPlanning:
		lower := strings.ToLower(content)
		for _, marker := range planningMarkers {
			if strings.Contains(lower, marker) {
				return true
			}
		}
		return false
	}
	return true
}

// =============================================================================
// State Helpers
// =============================================================================

func (r *Router) backend(tier Tier) *backend {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.backends[tier]
}

func (r *Router) forced() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.forceEscalation
}

func (r *Router) noteLocalFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.localFailures++
}

func (r *Router) resetLocalFailures() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.localFailures = 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
