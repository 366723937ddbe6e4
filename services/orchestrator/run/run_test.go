// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package run

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeworks/agentforge/services/llm"
	"github.com/forgeworks/agentforge/services/orchestrator/agents"
	"github.com/forgeworks/agentforge/services/orchestrator/datatypes"
	"github.com/forgeworks/agentforge/services/orchestrator/plan"
	"github.com/forgeworks/agentforge/services/orchestrator/router"
	"github.com/forgeworks/agentforge/services/orchestrator/store"
)

const patchResponse = "BEGIN_PATCH\n" +
	"diff --git a/main.py b/main.py\n--- a/main.py\n+++ b/main.py\n@@ -1,1 +1,1 @@\n-pass\n+print()\n" +
	"END_PATCH\n"

const planResponse = "1. Implement the health endpoint\n2. Add a regression test\n"

// scriptedClient returns canned responses in call order.
type scriptedClient struct {
	mu        sync.Mutex
	model     string
	responses []string
	tokens    int
	calls     int
	prompts   []string
}

func (c *scriptedClient) Generate(_ context.Context, messages []datatypes.Message, _ llm.GenerationParams) (datatypes.Completion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.prompts = append(c.prompts, messages[len(messages)-1].Content)
	text := "fallback"
	if len(c.responses) > 0 {
		text = c.responses[0]
		if len(c.responses) > 1 {
			c.responses = c.responses[1:]
		}
	}
	return datatypes.Completion{Text: text, PromptTokens: c.tokens, CompletionTokens: c.tokens / 10}, nil
}

func (c *scriptedClient) Model() string { return c.model }

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *scriptedClient) recordedPrompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.prompts...)
}

// promptAwareClient answers by inspecting the prompt, so interleaved
// calls from concurrent runs stay coherent.
type promptAwareClient struct {
	model string
}

func (c *promptAwareClient) Generate(_ context.Context, messages []datatypes.Message, _ llm.GenerationParams) (datatypes.Completion, error) {
	prompt := messages[len(messages)-1].Content
	if strings.Contains(prompt, "BEGIN_PATCH") {
		return datatypes.Completion{Text: patchResponse}, nil
	}
	return datatypes.Completion{Text: planResponse}, nil
}

func (c *promptAwareClient) Model() string { return c.model }

type fakeApplier struct {
	ok      bool
	applied int
}

func (f *fakeApplier) Apply(context.Context, string, string) bool {
	f.applied++
	return f.ok
}

type fakeTests struct {
	results []datatypes.TestResult
}

func (f *fakeTests) RunComprehensive(context.Context, string, []string) []datatypes.TestResult {
	return f.results
}

func passing() []datatypes.TestResult {
	return []datatypes.TestResult{{Type: "pytest", Status: datatypes.StatusPassed}}
}

func failing() []datatypes.TestResult {
	return []datatypes.TestResult{{Type: "pytest", Status: datatypes.StatusFailed, Output: "assert 1 == 2"}}
}

// pythonWorkspace creates a tree that passes the python artifact check.
func pythonWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.py"), []byte("print('x')\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "requirements.txt"), []byte(""), 0o644))
	return dir
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newOrchestratorWithClient(t *testing.T, client llm.Client, provider string, opts Options) (*Orchestrator, *store.Store) {
	t.Helper()
	rt := router.New(nil, nil, router.DefaultConfig())
	rt.Register(router.TierLocal, provider, client)
	st := newTestStore(t)
	opts.Recorder = st
	return NewOrchestrator(rt, opts), st
}

func TestExecute_CompletesRun(t *testing.T) {
	client := &scriptedClient{model: "qwen2.5-coder:7b", responses: []string{planResponse, patchResponse}}
	applier := &fakeApplier{ok: true}
	o, st := newOrchestratorWithClient(t, client, router.ProviderLocal, Options{
		Applier: applier,
		Tests:   &fakeTests{results: passing()},
	})

	ctx := context.Background()
	run, err := o.ExecuteTask(ctx, "add a health endpoint", Settings{
		Stack:             "python",
		CodePath:          pythonWorkspace(t),
		MaxRetriesPerStep: 2,
		MaxPlanRevisions:  1,
	})
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, run.Status)
	assert.Equal(t, 2, run.StepsCompleted)
	assert.Equal(t, 2, applier.applied)

	rec, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, string(RunCompleted), rec.Status)
	assert.Equal(t, 2, rec.StepsCompleted)

	steps, err := st.Steps(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, string(StepCompleted), steps[0].Status)
}

func TestExecute_BudgetStopsBeforeNewStep(t *testing.T) {
	// A metered provider makes the planning call itself cost money.
	client := &scriptedClient{model: "gpt-4o-mini", responses: []string{planResponse}, tokens: 1000}
	o, _ := newOrchestratorWithClient(t, client, router.ProviderOpenAI, Options{
		Applier: &fakeApplier{ok: true},
		Tests:   &fakeTests{results: passing()},
	})

	run, err := o.ExecuteTask(context.Background(), "task", Settings{
		Stack:          "python",
		CodePath:       pythonWorkspace(t),
		DailyBudgetEUR: 0.000001,
	})
	require.NoError(t, err)
	assert.Equal(t, RunFailed, run.Status)
	assert.Equal(t, 0, run.StepsCompleted)
	assert.Equal(t, 1, client.callCount(), "no step may start once the budget is spent")
	assert.Greater(t, run.CostUsedEUR, 0.0)
}

func TestExecute_ReviewerFailEndsRun(t *testing.T) {
	retryJSON := `{"feedback": "fix the assertion", "confidence": 0.8}`
	escalationJSON := `{"should_escalate": false, "confidence": 0.9, "feedback": "implementation bug"}`
	client := &scriptedClient{model: "qwen2.5-coder:7b", responses: []string{
		planResponse,
		patchResponse, retryJSON,
		patchResponse, retryJSON,
		patchResponse, escalationJSON,
	}}
	o, st := newOrchestratorWithClient(t, client, router.ProviderLocal, Options{
		Applier: &fakeApplier{ok: true},
		Tests:   &fakeTests{results: failing()},
	})

	ctx := context.Background()
	run, err := o.ExecuteTask(ctx, "task", Settings{
		Stack:             "python",
		CodePath:          pythonWorkspace(t),
		MaxRetriesPerStep: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, RunFailed, run.Status)
	assert.Equal(t, 0, run.StepsCompleted)
	assert.Equal(t, 7, client.callCount())

	steps, err := st.Steps(ctx, run.ID)
	require.NoError(t, err)
	require.NotEmpty(t, steps)
	assert.Equal(t, string(StepFailed), steps[0].Status)
	assert.Contains(t, steps[0].Feedback, "Step failed after 3 attempts.")
}

func TestExecute_EscalationBeyondCeilingFails(t *testing.T) {
	escalationJSON := `{"should_escalate": true, "confidence": 0.9, "feedback": "step design conflicts with the schema"}`
	client := &scriptedClient{model: "qwen2.5-coder:7b", responses: []string{
		planResponse,
		patchResponse, escalationJSON,
	}}
	o, _ := newOrchestratorWithClient(t, client, router.ProviderLocal, Options{
		Applier: &fakeApplier{ok: true},
		Tests:   &fakeTests{results: failing()},
	})

	run, err := o.ExecuteTask(context.Background(), "task", Settings{
		Stack:             "python",
		CodePath:          pythonWorkspace(t),
		MaxRetriesPerStep: 1,
		MaxPlanRevisions:  0,
	})
	require.NoError(t, err)
	assert.Equal(t, RunFailed, run.Status)
	assert.Equal(t, 1, run.PlanRevisions)
}

func TestExecute_EscalationTriggersPlanRevision(t *testing.T) {
	escalationJSON := `{"should_escalate": true, "confidence": 0.9, "feedback": "split the step"}`
	client := &scriptedClient{model: "qwen2.5-coder:7b", responses: []string{
		"1. Do everything at once\n",
		patchResponse, escalationJSON,
		"1. Create the module\n",
		patchResponse,
	}}
	o, _ := newOrchestratorWithClient(t, client, router.ProviderLocal, Options{
		Applier: &fakeApplier{ok: true},
		Tests:   &countingTests{failFirst: 1},
	})

	// The first step attempt fails its tests and escalates; the
	// revised plan's step passes.
	run := NewRun("task", Settings{
		Stack:             "python",
		CodePath:          pythonWorkspace(t),
		MaxRetriesPerStep: 1,
		MaxPlanRevisions:  1,
	})
	got, err := o.Execute(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, got.Status)
	assert.Equal(t, 1, got.PlanRevisions)
	assert.Equal(t, 1, got.StepsCompleted)
}

// countingTests fails the first invocations, then passes.
type countingTests struct {
	mu        sync.Mutex
	calls     int
	failFirst int
}

func (c *countingTests) RunComprehensive(context.Context, string, []string) []datatypes.TestResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= c.failFirst {
		return failing()
	}
	return passing()
}

func TestExecute_CancelledBeforeFirstStep(t *testing.T) {
	client := &scriptedClient{model: "qwen2.5-coder:7b", responses: []string{planResponse}}
	o, _ := newOrchestratorWithClient(t, client, router.ProviderLocal, Options{
		Applier: &fakeApplier{ok: true},
		Tests:   &fakeTests{results: passing()},
	})

	run := NewRun("task", Settings{Stack: "python", CodePath: pythonWorkspace(t)})
	run.Cancel()
	got, err := o.Execute(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, got.Status)
	assert.Equal(t, 1, client.callCount(), "only the planning call may run")
}

func TestExecute_PlanningFailureReturnsError(t *testing.T) {
	// With escalation forced and no premium backend registered the
	// router returns its sentinel immediately and the planner surfaces
	// ErrPlanParsing, without sitting through local retry backoff.
	rt := router.New(nil, nil, router.DefaultConfig())
	rt.SetForceEscalation(true)
	o := NewOrchestrator(rt, Options{
		Applier: &fakeApplier{ok: true},
		Tests:   &fakeTests{results: passing()},
	})

	run, err := o.Execute(context.Background(), NewRun("task", Settings{
		Stack:    "python",
		CodePath: pythonWorkspace(t),
	}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, agents.ErrPlanParsing))
	assert.Equal(t, RunFailed, run.Status)
}

func TestExecuteAll_IsolatedConcurrentRuns(t *testing.T) {
	client := &promptAwareClient{model: "qwen2.5-coder:7b"}
	o, _ := newOrchestratorWithClient(t, client, router.ProviderLocal, Options{
		Applier: &fakeApplier{ok: true},
		Tests:   &fakeTests{results: passing()},
	})

	runs, err := o.ExecuteAll(context.Background(), []Request{
		{Task: "task one", Settings: Settings{Stack: "python", CodePath: pythonWorkspace(t)}},
		{Task: "task two", Settings: Settings{Stack: "python", CodePath: pythonWorkspace(t)}},
	})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, RunCompleted, r.Status)
	}
	assert.NotEqual(t, runs[0].ID, runs[1].ID)
}

// slowClient delays each call so sibling runs overlap in time.
type slowClient struct {
	inner llm.Client
	delay time.Duration
}

func (c *slowClient) Generate(ctx context.Context, messages []datatypes.Message, params llm.GenerationParams) (datatypes.Completion, error) {
	time.Sleep(c.delay)
	return c.inner.Generate(ctx, messages, params)
}

func (c *slowClient) Model() string { return c.inner.Model() }

func TestExecuteAll_OneFailureLeavesSiblingsRunning(t *testing.T) {
	client := &slowClient{inner: &promptAwareClient{model: "qwen2.5-coder:7b"}, delay: 30 * time.Millisecond}
	o, _ := newOrchestratorWithClient(t, client, router.ProviderLocal, Options{
		Applier: &fakeApplier{ok: true},
		Tests:   &fakeTests{results: passing()},
	})

	// The first request fails workspace validation immediately. The
	// second is still mid-flight at that point and must reach its own
	// terminal status anyway.
	runs, err := o.ExecuteAll(context.Background(), []Request{
		{Task: "doomed", Settings: Settings{Stack: "Not A Stack", CodePath: t.TempDir()}},
		{Task: "healthy", Settings: Settings{Stack: "python", CodePath: pythonWorkspace(t)}},
	})
	require.Error(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, RunFailed, runs[0].Status)
	assert.Equal(t, RunCompleted, runs[1].Status)
	assert.Positive(t, runs[1].StepsCompleted)
}

func TestExecute_RetryForcesPremiumTier(t *testing.T) {
	local := &scriptedClient{model: "qwen2.5-coder:7b", responses: []string{
		"1. Implement the health endpoint\n",
		`{"feedback": "tighten the handler", "confidence": 0.8}`,
	}}
	medium := &scriptedClient{model: "gpt-4o-mini", responses: []string{patchResponse}}
	premium := &scriptedClient{model: "claude-3-5-sonnet-20241022", responses: []string{patchResponse}}

	rt := router.New(nil, nil, router.DefaultConfig())
	rt.Register(router.TierLocal, router.ProviderLocal, local)
	rt.Register(router.TierMedium, router.ProviderOpenAI, medium)
	rt.Register(router.TierPremium, router.ProviderAnthropic, premium)
	o := NewOrchestrator(rt, Options{
		Applier:  &fakeApplier{ok: true},
		Tests:    &countingTests{failFirst: 1},
		Recorder: newTestStore(t),
	})

	run, err := o.ExecuteTask(context.Background(), "task", Settings{
		Stack:    "python",
		CodePath: pythonWorkspace(t),
	})
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, run.Status)
	assert.Equal(t, 1, medium.callCount(), "first patch attempt follows normal tier selection")
	assert.Equal(t, 1, premium.callCount(), "retried patch attempt is forced to premium")
}

func TestExecute_CodingPromptRecapsCompletedSteps(t *testing.T) {
	client := &scriptedClient{model: "qwen2.5-coder:7b", responses: []string{
		planResponse, patchResponse, patchResponse,
	}}
	o, _ := newOrchestratorWithClient(t, client, router.ProviderLocal, Options{
		Applier: &fakeApplier{ok: true},
		Tests:   &fakeTests{results: passing()},
	})

	run, err := o.ExecuteTask(context.Background(), "add a health endpoint", Settings{
		Stack:    "python",
		CodePath: pythonWorkspace(t),
	})
	require.NoError(t, err)
	require.Equal(t, 2, run.StepsCompleted)

	prompts := client.recordedPrompts()
	require.Len(t, prompts, 3)
	assert.NotContains(t, prompts[1], "Previously completed steps")
	assert.Contains(t, prompts[2], "Previously completed steps in this run:")
	assert.Contains(t, prompts[2], "Step 1: Implement the health endpoint")
}

func TestExecutor_RetryBudgetExhaustionFails(t *testing.T) {
	gen := &taskAwareGen{}
	developer := agents.NewDeveloper(gen, nil, nil, nil)
	reviewer := agents.NewReviewer(gen, nil).WithMaxRetries(10)
	st := newTestStore(t)
	executor := NewExecutor(developer, reviewer, &fakeApplier{ok: true}, &fakeTests{results: failing()}, nil, st, nil)

	run := NewRun("task", Settings{Stack: "python", CodePath: t.TempDir(), MaxRetriesPerStep: 2})
	outcome := executor.ExecuteStep(context.Background(), run, plan.Step{ID: 1, Description: "do work"})
	assert.Equal(t, StepFailed, outcome.State)
	assert.False(t, outcome.Escalate)
	assert.Contains(t, outcome.Feedback, "exhausted 2 retries")
}

// taskAwareGen answers coding calls with a patch and analysis calls
// with retry-feedback JSON.
type taskAwareGen struct{}

func (taskAwareGen) Generate(_ context.Context, _ string, task datatypes.TaskType, _ string) router.Response {
	if task == datatypes.TaskCoding {
		return router.Response{Content: patchResponse, Model: "fake"}
	}
	return router.Response{Content: `{"feedback": "try again", "confidence": 0.7}`, Model: "fake"}
}

func TestSettings_WithDefaults(t *testing.T) {
	s := Settings{}.withDefaults()
	assert.Equal(t, DefaultMaxSteps, s.MaxSteps)
	assert.Equal(t, DefaultMaxRetriesPerStep, s.MaxRetriesPerStep)
	assert.Equal(t, DefaultDailyBudgetEUR, s.DailyBudgetEUR)

	zeroRevisions := Settings{MaxPlanRevisions: 0}.withDefaults()
	assert.Equal(t, 0, zeroRevisions.MaxPlanRevisions, "zero keeps revisions disabled")

	negative := Settings{MaxPlanRevisions: -1}.withDefaults()
	assert.Equal(t, DefaultMaxPlanRevisions, negative.MaxPlanRevisions)
}
