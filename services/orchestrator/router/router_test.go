// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeworks/agentforge/services/llm"
	"github.com/forgeworks/agentforge/services/orchestrator/datatypes"
)

const validDiff = "BEGIN_PATCH\ndiff --git a/x b/x\n--- a/x\n+++ b/x\n@@ -1,1 +1,1 @@\n-a\n+b\nEND_PATCH"

// fakeClient plays back scripted responses and records what it was
// asked.
type fakeClient struct {
	model     string
	responses []string
	errs      []error
	calls     int
	messages  [][]datatypes.Message
}

func (f *fakeClient) Generate(_ context.Context, msgs []datatypes.Message, _ llm.GenerationParams) (datatypes.Completion, error) {
	idx := f.calls
	f.calls++
	copied := make([]datatypes.Message, len(msgs))
	copy(copied, msgs)
	f.messages = append(f.messages, copied)

	if idx < len(f.errs) && f.errs[idx] != nil {
		return datatypes.Completion{}, f.errs[idx]
	}

	text := ""
	if len(f.responses) > 0 {
		if idx >= len(f.responses) {
			idx = len(f.responses) - 1
		}
		text = f.responses[idx]
	}
	return datatypes.Completion{Text: text, PromptTokens: 100, CompletionTokens: 50}, nil
}

func (f *fakeClient) Model() string { return f.model }

func newTestRouter() *Router {
	r := New(nil, nil, DefaultConfig())
	r.limiters = NewLimiters(1000)
	r.sleep = func(context.Context, time.Duration) error { return nil }
	return r
}

func TestDetermineTier(t *testing.T) {
	tests := []struct {
		name      string
		task      datatypes.TaskType
		cost      float64
		budget    float64
		promptLen int
		force     bool
		want      Tier
	}{
		{"debugging with budget", datatypes.TaskDebugging, 0, 5.0, 100, false, TierPremium},
		{"debugging without budget", datatypes.TaskDebugging, 4.8, 5.0, 100, false, TierLocal},
		{"long prompt with budget", datatypes.TaskAnalysis, 0, 5.0, 9000, false, TierPremium},
		{"coding with budget", datatypes.TaskCoding, 0, 5.0, 100, false, TierMedium},
		{"coding budget nearly spent", datatypes.TaskCoding, 4.95, 5.0, 100, false, TierLocal},
		{"analysis defaults local", datatypes.TaskAnalysis, 0, 5.0, 100, false, TierLocal},
		{"force escalation wins", datatypes.TaskAnalysis, 4.99, 5.0, 10, true, TierPremium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter()
			r.SetForceEscalation(tt.force)
			got := r.determineTier(tt.task, tt.cost, tt.budget, tt.promptLen)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEscalationPath(t *testing.T) {
	assert.Equal(t, []Tier{TierLocal, TierMedium, TierPremium}, escalationPath(TierLocal))
	assert.Equal(t, []Tier{TierMedium, TierPremium, TierLocal}, escalationPath(TierMedium))
	assert.Equal(t, []Tier{TierPremium, TierMedium, TierLocal}, escalationPath(TierPremium))
}

func TestGenerate_LocalFirstSuccess(t *testing.T) {
	r := newTestRouter()
	local := &fakeClient{model: "qwen2.5-coder:7b", responses: []string{"a thorough analysis of the codebase"}}
	r.Register(TierLocal, ProviderLocal, local)

	resp := r.Generate(context.Background(), "analyze this", datatypes.TaskAnalysis, 0, 5.0, "run-1")

	assert.False(t, resp.Failed())
	assert.Equal(t, "qwen2.5-coder:7b", resp.Model)
	assert.Equal(t, 1, local.calls)
	assert.Zero(t, resp.CostEUR)
}

func TestGenerate_LocalExhaustionEscalates(t *testing.T) {
	r := newTestRouter()
	local := &fakeClient{model: "local-model", responses: []string{"bad", "bad", "bad"}}
	medium := &fakeClient{model: "gpt-4o-mini", responses: []string{"a long and perfectly valid analysis"}}
	r.Register(TierLocal, ProviderLocal, local)
	r.Register(TierMedium, ProviderOpenAI, medium)

	resp := r.Generate(context.Background(), "analyze this", datatypes.TaskAnalysis, 0, 5.0, "run-1")

	assert.Equal(t, "gpt-4o-mini", resp.Model)
	// Local retried up to the cap, then the path skipped it.
	assert.Equal(t, DefaultMaxLocalRetries, local.calls)
	assert.Equal(t, 1, medium.calls)
	assert.Greater(t, resp.CostEUR, 0.0)
}

func TestGenerate_StrictRepromptForCoding(t *testing.T) {
	r := newTestRouter()
	medium := &fakeClient{model: "gpt-4o-mini", responses: []string{"sorry, I cannot produce a diff right now", validDiff}}
	r.Register(TierMedium, ProviderOpenAI, medium)

	resp := r.Generate(context.Background(), "write the patch", datatypes.TaskCoding, 0, 5.0, "run-1")

	require.False(t, resp.Failed())
	assert.Contains(t, resp.Content, "diff --git")
	require.Equal(t, 2, medium.calls)

	// The second call carried the strict contract reminder.
	second := medium.messages[1]
	lastMsg := second[len(second)-1]
	assert.Contains(t, lastMsg.Content, "ONLY a valid unified diff")

	// History keeps the original prompt, never the strict suffix.
	history := r.conversations.history("run-1")
	require.Len(t, history, 2)
	assert.Equal(t, "write the patch", history[0].Content)
	assert.NotContains(t, history[0].Content, "ONLY a valid unified diff")
}

func TestGenerate_SentinelWhenAllTiersFail(t *testing.T) {
	r := newTestRouter()
	boom := errors.New("backend down")
	medium := &fakeClient{model: "gpt-4o-mini", errs: []error{boom, boom}}
	premium := &fakeClient{model: "claude-3-5-sonnet-20241022", errs: []error{boom, boom}}
	r.Register(TierMedium, ProviderOpenAI, medium)
	r.Register(TierPremium, ProviderAnthropic, premium)

	resp := r.Generate(context.Background(), "write the patch", datatypes.TaskCoding, 0, 5.0, "run-1")

	assert.True(t, resp.Failed())
	assert.Equal(t, "error", resp.Model)
	assert.Zero(t, resp.PromptTokens)
	assert.Zero(t, resp.CostEUR)
}

func TestGenerate_NoBackends(t *testing.T) {
	r := newTestRouter()
	resp := r.Generate(context.Background(), "anything at all here", datatypes.TaskAnalysis, 0, 5.0, "run-1")
	assert.True(t, resp.Failed())
}

func TestGenerate_DisabledTierSkipped(t *testing.T) {
	r := newTestRouter()
	medium := &fakeClient{model: "gpt-4o-mini"}
	premium := &fakeClient{model: "claude-3-5-sonnet-20241022", responses: []string{validDiff}}
	r.Register(TierMedium, ProviderOpenAI, medium)
	r.Register(TierPremium, ProviderAnthropic, premium)
	r.SetDisabled(TierMedium, true)

	resp := r.Generate(context.Background(), "write the patch", datatypes.TaskCoding, 0, 5.0, "run-1")

	assert.False(t, resp.Failed())
	assert.Equal(t, 0, medium.calls)
	assert.Equal(t, 1, premium.calls)
}

func TestGenerateEscalated_SkipsLocalAndUsesPremium(t *testing.T) {
	r := newTestRouter()
	local := &fakeClient{model: "local-model", responses: []string{"a long and perfectly valid analysis"}}
	premium := &fakeClient{model: "claude-3-5-sonnet-20241022", responses: []string{"a long and perfectly valid analysis"}}
	r.Register(TierLocal, ProviderLocal, local)
	r.Register(TierPremium, ProviderAnthropic, premium)

	resp := r.GenerateEscalated(context.Background(), "analyze this", datatypes.TaskAnalysis, 0, 5.0, "run-1")

	assert.False(t, resp.Failed())
	assert.Equal(t, "claude-3-5-sonnet-20241022", resp.Model)
	assert.Zero(t, local.calls)
	assert.Equal(t, 1, premium.calls)
	// The per-call path leaves the shared flag alone.
	assert.False(t, r.forced())
}

func TestGenerate_MeteredProviderGetsHistory(t *testing.T) {
	r := newTestRouter()
	medium := &fakeClient{model: "gpt-4o-mini", responses: []string{validDiff}}
	r.Register(TierMedium, ProviderOpenAI, medium)

	r.conversations.append("run-1", "earlier prompt", "earlier answer")

	r.Generate(context.Background(), "write the patch", datatypes.TaskCoding, 0, 5.0, "run-1")

	require.Equal(t, 1, medium.calls)
	msgs := medium.messages[0]
	// system + 2 history + user
	require.Len(t, msgs, 4)
	assert.Equal(t, "earlier prompt", msgs[1].Content)
	assert.Equal(t, "earlier answer", msgs[2].Content)
}

func TestIsValidResponse(t *testing.T) {
	tests := []struct {
		name    string
		content string
		task    datatypes.TaskType
		want    bool
	}{
		{"too short", "short", datatypes.TaskAnalysis, false},
		{"coding with valid diff", validDiff, datatypes.TaskCoding, true},
		{"coding without diff", "I think you should rewrite the function entirely", datatypes.TaskCoding, false},
		{"planning with steps", "1. Do the thing\n2. Test it", datatypes.TaskPlanning, true},
		{"planning without markers", "just do whatever feels right today", datatypes.TaskPlanning, false},
		{"analysis passes", "here is my detailed analysis", datatypes.TaskAnalysis, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isValidResponse(tt.content, tt.task))
		})
	}
}

func TestConversationStore_CapTrimsOldest(t *testing.T) {
	s := newConversationStore(2)
	s.append("r", "p1", "a1")
	s.append("r", "p2", "a2")
	s.append("r", "p3", "a3")

	h := s.history("r")
	require.Len(t, h, 4)
	assert.Equal(t, "p2", h[0].Content)
	assert.Equal(t, "a3", h[3].Content)

	s.clear("r")
	assert.Empty(t, s.history("r"))
}

func TestRateTable_Cost(t *testing.T) {
	rates := DefaultRates()

	gpt := rates.Cost("gpt-4o-mini", 1000, 1000, false)
	assert.InDelta(t, (1000*0.000005+1000*0.000015)*0.85, gpt, 1e-9)

	claude := rates.Cost("claude-3-5-sonnet-20241022", 1000, 1000, false)
	assert.InDelta(t, (1000*0.000003+1000*0.000015)*0.85, claude, 1e-9)

	// Cache hit discounts prompt tokens only.
	discounted := rates.Cost("gpt-4o-mini", 1000, 1000, true)
	assert.InDelta(t, (1000*0.000005*0.75+1000*0.000015)*0.85, discounted, 1e-9)

	assert.Zero(t, rates.Cost("qwen2.5-coder:7b", 1000, 1000, false))
}

func TestLimiters_LocalPassthrough(t *testing.T) {
	l := NewLimiters(1)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// Local never consumes budget.
	for i := 0; i < 10; i++ {
		assert.NoError(t, l.Wait(ctx, ProviderLocal))
	}
}
