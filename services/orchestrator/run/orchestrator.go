// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package run

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/forgeworks/agentforge/pkg/logging"
	"github.com/forgeworks/agentforge/pkg/validation"
	"github.com/forgeworks/agentforge/services/orchestrator/agents"
	"github.com/forgeworks/agentforge/services/orchestrator/patch"
	"github.com/forgeworks/agentforge/services/orchestrator/plan"
	"github.com/forgeworks/agentforge/services/orchestrator/router"
	"github.com/forgeworks/agentforge/services/orchestrator/stacks"
	"github.com/forgeworks/agentforge/services/orchestrator/store"
	"github.com/forgeworks/agentforge/services/orchestrator/tools"
)

// Options configure an Orchestrator's collaborators. Zero-value fields
// get working defaults; RAG and Checker may stay nil.
type Options struct {
	RAG      agents.ContextProvider
	Checker  agents.PatchChecker
	Applier  PatchApplier
	Tests    TestRunner
	Registry *stacks.Registry
	Recorder Recorder
	Tools    *tools.Manager
	Logger   *logging.Logger
}

// Orchestrator drives runs end to end.
type Orchestrator struct {
	router   *router.Router
	rag      agents.ContextProvider
	checker  agents.PatchChecker
	applier  PatchApplier
	tests    TestRunner
	registry *stacks.Registry
	rec      Recorder
	tools    *tools.Manager
	log      *logging.Logger
}

// NewOrchestrator creates an Orchestrator over a configured router.
func NewOrchestrator(rt *router.Router, opts Options) *Orchestrator {
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	toolMgr := opts.Tools
	if toolMgr == nil {
		toolMgr = tools.NewManager(log)
	}
	applier := opts.Applier
	if applier == nil {
		applier = patch.NewApplier(log)
	}
	tests := opts.Tests
	if tests == nil {
		tests = toolMgr
	}
	registry := opts.Registry
	if registry == nil {
		registry = stacks.Default()
	}
	rec := opts.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Orchestrator{
		router:   rt,
		rag:      opts.RAG,
		checker:  opts.Checker,
		applier:  applier,
		tests:    tests,
		registry: registry,
		rec:      rec,
		tools:    toolMgr,
		log:      log,
	}
}

// Execute drives one run from planning to a terminal status.
//
// # Description
//
// The loop plans once, then walks steps through the step state
// machine. It stops on cancellation, budget exhaustion, the max-step
// ceiling, or a terminal step failure. Reviewer escalation triggers a
// bounded plan revision. On exit the run is COMPLETED only if at
// least one step succeeded and the stack's expected artifacts mostly
// exist; every other exit is FAILED.
//
// # Outputs
//
//   - *Run: Always non-nil with the final status and cost.
//   - error: Non-nil for infrastructure failures (planning included);
//     a FAILED run with nil error is a normal outcome.
func (o *Orchestrator) Execute(ctx context.Context, run *Run) (*Run, error) {
	started := time.Now()
	run.Status = RunRunning
	o.saveRun(ctx, run)
	defer o.router.EndRun(run.ID)

	gen := newBudgetedGenerator(o.router, run.Settings.DailyBudgetEUR)
	planner := agents.NewPlanner(gen, o.rag, o.log)
	developer := agents.NewDeveloper(gen, o.rag, o.checker, o.log)
	reviewer := agents.NewReviewer(gen, o.log).WithMaxRetries(run.Settings.MaxRetriesPerStep)
	executor := NewExecutor(developer, reviewer, o.applier, o.tests, o.registry, o.rec, o.log).WithEscalation(gen)

	if err := o.ensureWorkspace(ctx, run); err != nil {
		o.finalize(ctx, run, gen, RunFailed, started)
		return run, err
	}

	pc := agents.ProjectContext{
		CodePath:    run.Settings.CodePath,
		ProjectPath: run.Settings.CodePath,
		Stack:       run.Settings.Stack,
		ProjectName: run.Settings.ProjectName,
	}

	planRes, err := planner.GeneratePlan(ctx, run.Task, pc, run.ID)
	if err != nil {
		o.appendLog(ctx, run, "error", "planning failed: "+err.Error())
		o.finalize(ctx, run, gen, RunFailed, started)
		return run, err
	}
	o.appendLog(ctx, run, "info", "plan ready: "+plan.Describe(planRes.Steps))

	steps := planRes.Steps
	stepsExecuted := 0
	terminalFailure := false

	idx := 0
	for idx < len(steps) {
		if run.Cancelled() || ctx.Err() != nil {
			o.appendLog(ctx, run, "warn", "run cancelled")
			terminalFailure = true
			break
		}
		if gen.CostUsed() >= run.Settings.DailyBudgetEUR {
			o.appendLog(ctx, run, "warn", fmt.Sprintf("budget exhausted: %.2f EUR used of %.2f", gen.CostUsed(), run.Settings.DailyBudgetEUR))
			break
		}
		if stepsExecuted >= run.Settings.MaxSteps {
			o.appendLog(ctx, run, "warn", fmt.Sprintf("step ceiling reached: %d", run.Settings.MaxSteps))
			break
		}

		step := steps[idx]
		stepsExecuted++
		outcome := executor.ExecuteStep(ctx, run, step)

		switch {
		case outcome.State == StepCompleted:
			run.StepsCompleted++
			idx++

		case outcome.Escalate:
			revised, ok := o.revisePlan(ctx, run, planner, pc, step, outcome.Feedback)
			if !ok {
				terminalFailure = true
				break
			}
			steps = revised
			idx = 0

		default:
			o.appendLog(ctx, run, "error", fmt.Sprintf("step %d failed: %s", step.ID, outcome.Feedback))
			terminalFailure = true
		}
		if terminalFailure {
			break
		}
	}

	status := RunFailed
	if !terminalFailure && run.StepsCompleted > 0 &&
		o.registry.VerifyArtifacts(o.log, run.Settings.CodePath, run.Settings.Stack) {
		status = RunCompleted
	}
	o.finalize(ctx, run, gen, status, started)
	return run, nil
}

// ExecuteTask is a convenience wrapper that creates the run record.
func (o *Orchestrator) ExecuteTask(ctx context.Context, task string, settings Settings) (*Run, error) {
	return o.Execute(ctx, NewRun(task, settings))
}

// Request pairs a task with its run settings for batch execution.
type Request struct {
	Task     string
	Settings Settings
}

// ExecuteAll drives several runs concurrently, each with its own
// isolated workspace. One run's failure never cancels its siblings;
// every run reaches its own terminal status. The returned error is
// the first run error observed, for callers that want to know any
// run had an infrastructure failure.
func (o *Orchestrator) ExecuteAll(ctx context.Context, requests []Request) ([]*Run, error) {
	runs := make([]*Run, len(requests))
	var g errgroup.Group
	for i, req := range requests {
		runs[i] = NewRun(req.Task, req.Settings)
		g.Go(func() error {
			_, err := o.Execute(ctx, runs[i])
			return err
		})
	}
	err := g.Wait()
	return runs, err
}

// revisePlan asks the Planner for a new plan after a reviewer
// escalation, bounded by the run's revision ceiling.
func (o *Orchestrator) revisePlan(ctx context.Context, run *Run, planner *agents.Planner, pc agents.ProjectContext, failed plan.Step, feedback string) ([]plan.Step, bool) {
	run.PlanRevisions++
	if run.PlanRevisions > run.Settings.MaxPlanRevisions {
		o.appendLog(ctx, run, "error", fmt.Sprintf("plan revision ceiling reached (%d)", run.Settings.MaxPlanRevisions))
		return nil, false
	}

	task := fmt.Sprintf("%s\n\nA previous plan failed at step %d (%s).\nReviewer analysis:\n%s\nRevise the plan to avoid this problem; already completed work need not be repeated.",
		run.Task, failed.ID, failed.Description, feedback)
	planRes, err := planner.GeneratePlan(ctx, task, pc, run.ID)
	if err != nil {
		o.appendLog(ctx, run, "error", "plan revision failed: "+err.Error())
		return nil, false
	}

	planRevisions.Inc()
	o.appendLog(ctx, run, "info", fmt.Sprintf("plan revised (revision %d): %s", run.PlanRevisions, plan.Describe(planRes.Steps)))
	return planRes.Steps, true
}

// ensureWorkspace scaffolds the run's working tree when it does not
// exist yet and puts it under git so patches can apply.
func (o *Orchestrator) ensureWorkspace(ctx context.Context, run *Run) error {
	path := run.Settings.CodePath
	if path == "" {
		return fmt.Errorf("run %s: code path is required", run.ID)
	}
	if err := validation.ValidateStack(run.Settings.Stack); err != nil {
		return fmt.Errorf("run %s: %w", run.ID, err)
	}
	if run.Settings.ProjectName != "" {
		if err := validation.ValidateProjectName(run.Settings.ProjectName); err != nil {
			return fmt.Errorf("run %s: %w", run.ID, err)
		}
	}
	if _, err := os.Stat(path); err == nil {
		o.tools.InitRepo(ctx, path)
		return nil
	}

	handler, err := o.registry.Get(run.Settings.Stack)
	if err != nil {
		return fmt.Errorf("run %s: %w", run.ID, err)
	}
	if err := handler.Skeleton(path, run.Settings.ProjectName); err != nil {
		return fmt.Errorf("run %s: scaffold %s workspace: %w", run.ID, handler.Name, err)
	}
	o.tools.InitRepo(ctx, path)
	o.tools.Commit(ctx, path, "Initial project scaffold")
	o.appendLog(ctx, run, "info", "workspace scaffolded for stack "+handler.Name)
	return nil
}

func (o *Orchestrator) finalize(ctx context.Context, run *Run, gen *budgetedGenerator, status RunStatus, started time.Time) {
	run.Status = status
	run.CostUsedEUR = gen.CostUsed()
	if err := o.rec.UpdateRun(ctx, run.ID, string(status), run.CostUsedEUR, run.StepsCompleted); err != nil {
		o.log.Warn("run record update failed", "run_id", run.ID, "error", err)
	}
	runsTotal.WithLabelValues(string(status)).Inc()
	runDuration.Observe(time.Since(started).Seconds())
	o.log.Info("run finished",
		"run_id", run.ID,
		"status", string(status),
		"steps_completed", run.StepsCompleted,
		"cost_eur", run.CostUsedEUR,
		"elapsed", time.Since(started).String(),
	)
}

func (o *Orchestrator) saveRun(ctx context.Context, run *Run) {
	err := o.rec.SaveRun(ctx, store.RunRecord{
		ID:     run.ID,
		Task:   run.Task,
		Stack:  run.Settings.Stack,
		Status: string(run.Status),
	})
	if err != nil {
		o.log.Warn("run record write failed", "run_id", run.ID, "error", err)
	}
}

func (o *Orchestrator) appendLog(ctx context.Context, run *Run, level, message string) {
	if err := o.rec.AppendLog(ctx, run.ID, level, message); err != nil {
		o.log.Warn("run log write failed", "run_id", run.ID, "error", err)
	}
}
