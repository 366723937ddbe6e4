// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package run drives whole runs: it plans a task, walks each step
// through the generate/apply/test/review state machine, and finalizes
// the run status against budget, step-count and artifact checks.
//
// # Thread Safety
//
// One Run's steps execute strictly sequentially. Concurrency exists
// only across runs; each run owns its working tree and per-run model
// state, so runs share nothing but the router's process-wide rate
// limiter.
package run

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/forgeworks/agentforge/services/orchestrator/datatypes"
	"github.com/forgeworks/agentforge/services/orchestrator/router"
	"github.com/forgeworks/agentforge/services/orchestrator/store"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// StepState is the lifecycle state of one step.
type StepState string

const (
	StepPending   StepState = "pending"
	StepRunning   StepState = "running"
	StepCompleted StepState = "completed"
	StepFailed    StepState = "failed"
	StepRetrying  StepState = "retrying"
)

// Default ceilings for a run.
const (
	DefaultMaxSteps          = 20
	DefaultMaxRetriesPerStep = 3
	DefaultMaxPlanRevisions  = 2
	DefaultDailyBudgetEUR    = 5.0
)

// Settings bound one run's resource usage and identify its workspace.
type Settings struct {
	// Stack is the target technology stack key (laravel, react, ...).
	Stack string

	// ProjectName seeds scaffolding and package names.
	ProjectName string

	// CodePath is the run's isolated working tree. Patches apply here
	// and tests run here. Runs must never share a CodePath.
	CodePath string

	// DailyBudgetEUR stops the loop once model spend reaches it.
	DailyBudgetEUR float64

	MaxSteps          int
	MaxRetriesPerStep int

	// MaxPlanRevisions bounds reviewer-triggered re-planning. Zero
	// disallows revisions; negative values take the default.
	MaxPlanRevisions int
}

// withDefaults fills zero fields with the default ceilings.
func (s Settings) withDefaults() Settings {
	if s.MaxSteps <= 0 {
		s.MaxSteps = DefaultMaxSteps
	}
	if s.MaxRetriesPerStep <= 0 {
		s.MaxRetriesPerStep = DefaultMaxRetriesPerStep
	}
	if s.MaxPlanRevisions < 0 {
		s.MaxPlanRevisions = DefaultMaxPlanRevisions
	}
	if s.DailyBudgetEUR <= 0 {
		s.DailyBudgetEUR = DefaultDailyBudgetEUR
	}
	return s
}

// Run is the in-memory state of one run.
type Run struct {
	ID       string
	Task     string
	Settings Settings

	Status         RunStatus
	CostUsedEUR    float64
	StepsCompleted int
	PlanRevisions  int

	cancelled atomic.Bool
}

// NewRun creates a pending run with a fresh id.
func NewRun(task string, settings Settings) *Run {
	return &Run{
		ID:       uuid.NewString(),
		Task:     task,
		Settings: settings.withDefaults(),
		Status:   RunPending,
	}
}

// Cancel marks the run for cancellation. The loop checks the flag at
// the top of each step iteration; in-flight external calls complete
// and their results are discarded.
func (r *Run) Cancel() {
	r.cancelled.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (r *Run) Cancelled() bool {
	return r.cancelled.Load()
}

// Recorder is the persistence surface the run loop needs. *store.Store
// satisfies it.
type Recorder interface {
	SaveRun(ctx context.Context, rec store.RunRecord) error
	UpdateRun(ctx context.Context, runID, status string, costUsedEUR float64, stepsCompleted int) error
	SaveStep(ctx context.Context, rec store.StepRecord) error
	AppendLog(ctx context.Context, runID, level, message string) error
}

// nopRecorder discards everything. Used when no store is wired.
type nopRecorder struct{}

func (nopRecorder) SaveRun(context.Context, store.RunRecord) error { return nil }

func (nopRecorder) UpdateRun(context.Context, string, string, float64, int) error { return nil }

func (nopRecorder) SaveStep(context.Context, store.StepRecord) error { return nil }

func (nopRecorder) AppendLog(context.Context, string, string, string) error { return nil }

// budgetedGenerator adapts the router to the agents' Generator
// contract, threading the run's accumulated cost and budget into
// every call and folding each response's cost back in. While the
// escalate flag is set, calls go through the router's forced-premium
// path. The flag is per run, so concurrent runs never cross-talk.
type budgetedGenerator struct {
	router   *router.Router
	budget   float64
	escalate atomic.Bool

	mu   sync.Mutex
	cost float64
}

func newBudgetedGenerator(rt *router.Router, budgetEUR float64) *budgetedGenerator {
	return &budgetedGenerator{router: rt, budget: budgetEUR}
}

func (g *budgetedGenerator) Generate(ctx context.Context, prompt string, task datatypes.TaskType, runID string) router.Response {
	g.mu.Lock()
	current := g.cost
	g.mu.Unlock()

	var resp router.Response
	if g.escalate.Load() {
		resp = g.router.GenerateEscalated(ctx, prompt, task, current, g.budget, runID)
	} else {
		resp = g.router.Generate(ctx, prompt, task, current, g.budget, runID)
	}

	g.mu.Lock()
	g.cost += resp.CostEUR
	g.mu.Unlock()
	return resp
}

// SetEscalation switches subsequent calls onto the forced-premium
// path. The step loop sets it around retried patch attempts.
func (g *budgetedGenerator) SetEscalation(on bool) {
	g.escalate.Store(on)
}

// CostUsed returns the total model spend so far in EUR.
func (g *budgetedGenerator) CostUsed() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cost
}
