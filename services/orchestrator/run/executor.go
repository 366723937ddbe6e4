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
	"strings"

	"github.com/forgeworks/agentforge/pkg/logging"
	"github.com/forgeworks/agentforge/services/orchestrator/agents"
	"github.com/forgeworks/agentforge/services/orchestrator/datatypes"
	"github.com/forgeworks/agentforge/services/orchestrator/plan"
	"github.com/forgeworks/agentforge/services/orchestrator/stacks"
	"github.com/forgeworks/agentforge/services/orchestrator/store"
)

// PatchApplier applies a patch to a working tree. *patch.Applier
// satisfies it.
type PatchApplier interface {
	Apply(ctx context.Context, patchText, workingDir string) bool
}

// TestRunner executes a stack's test suites. *tools.Manager satisfies
// it.
type TestRunner interface {
	RunComprehensive(ctx context.Context, projectPath string, testTypes []string) []datatypes.TestResult
}

// Escalator switches subsequent model calls onto the forced-premium
// path. The run's budgeted generator satisfies it.
type Escalator interface {
	SetEscalation(on bool)
}

// StepReader recalls earlier step records for prompt context.
// *store.Store satisfies it.
type StepReader interface {
	Steps(ctx context.Context, runID string) ([]store.StepRecord, error)
}

// StepOutcome is the terminal result of driving one step.
type StepOutcome struct {
	State    StepState
	Escalate bool
	Attempts int
	Feedback string
}

// Executor drives one step through generate, apply, test, review.
type Executor struct {
	developer *agents.Developer
	reviewer  *agents.Reviewer
	applier   PatchApplier
	tests     TestRunner
	registry  *stacks.Registry
	rec       Recorder
	esc       Escalator
	log       *logging.Logger
}

// NewExecutor wires the step state machine's collaborators.
func NewExecutor(developer *agents.Developer, reviewer *agents.Reviewer, applier PatchApplier, tests TestRunner, registry *stacks.Registry, rec Recorder, log *logging.Logger) *Executor {
	if registry == nil {
		registry = stacks.Default()
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Executor{
		developer: developer,
		reviewer:  reviewer,
		applier:   applier,
		tests:     tests,
		registry:  registry,
		rec:       rec,
		log:       log,
	}
}

// WithEscalation wires the escalation switch retried patch attempts
// flip. A nil escalator leaves retries on normal tier selection.
func (e *Executor) WithEscalation(esc Escalator) *Executor {
	e.esc = esc
	return e
}

// ExecuteStep runs one step to a terminal decision.
//
// # Description
//
// Per attempt: the Developer produces a validated patch, the applier
// applies it (an apply failure is logged and flows into failing
// tests, it does not abort the step), the test runner executes the
// stack's suites, and the Reviewer maps the results to a decision.
// RETRY loops with the Reviewer's feedback injected into the next
// Developer prompt and the generator forced onto the premium tier for
// the retried patch attempt. Exhausting the retry budget on RETRY
// decisions alone is a step failure.
func (e *Executor) ExecuteStep(ctx context.Context, r *Run, step plan.Step) StepOutcome {
	stack := r.Settings.Stack
	pc := agents.ProjectContext{
		CodePath:      r.Settings.CodePath,
		ProjectPath:   r.Settings.CodePath,
		Stack:         stack,
		ProjectName:   r.Settings.ProjectName,
		PreviousSteps: e.previousSteps(ctx, r.ID),
	}

	feedback := ""
	for attempt := 1; attempt <= r.Settings.MaxRetriesPerStep; attempt++ {
		state := StepRunning
		if attempt > 1 {
			state = StepRetrying
		}
		e.recordStep(ctx, r, step, state, attempt, feedback)

		attemptStep := step
		if feedback != "" {
			attemptStep.Description = step.Description +
				"\n\nReviewer feedback from the previous attempt:\n" + feedback
		}

		if e.esc != nil && attempt > 1 {
			e.esc.SetEscalation(true)
		}
		patchRes, err := e.developer.GeneratePatch(ctx, attemptStep, pc, nil, r.ID)
		if e.esc != nil {
			e.esc.SetEscalation(false)
		}
		if err != nil {
			e.log.Warn("patch generation exhausted", "run_id", r.ID, "step", step.ID, "error", err)
			e.appendLog(ctx, r, "error", fmt.Sprintf("step %d: %v", step.ID, err))
			out := StepOutcome{State: StepFailed, Attempts: attempt, Feedback: err.Error()}
			e.recordStep(ctx, r, step, StepFailed, attempt, out.Feedback)
			stepsTotal.WithLabelValues(string(StepFailed)).Inc()
			return out
		}

		if !e.applier.Apply(ctx, patchRes.PatchText, r.Settings.CodePath) {
			// Tests against the unchanged tree surface the failure.
			e.log.Warn("patch apply failed", "run_id", r.ID, "step", step.ID, "attempt", attempt)
			e.appendLog(ctx, r, "warn", fmt.Sprintf("step %d attempt %d: patch did not apply", step.ID, attempt))
		}

		results := e.tests.RunComprehensive(ctx, r.Settings.CodePath, e.testTypes(stack))
		review := e.reviewer.ReviewStepResult(ctx, step, patchRes.PatchText, results, attempt, feedback, stack, r.ID)
		e.log.Info("step reviewed",
			"run_id", r.ID,
			"step", step.ID,
			"attempt", attempt,
			"decision", string(review.Decision),
			"tests_passed", review.Summary.Passed,
			"tests_failed", review.Summary.Failed,
		)

		switch review.Decision {
		case agents.DecisionAccept:
			e.recordStep(ctx, r, step, StepCompleted, attempt, review.Feedback)
			stepsTotal.WithLabelValues(string(StepCompleted)).Inc()
			return StepOutcome{State: StepCompleted, Attempts: attempt, Feedback: review.Feedback}

		case agents.DecisionRetry:
			feedback = review.Feedback

		case agents.DecisionEscalate:
			e.recordStep(ctx, r, step, StepFailed, attempt, review.Feedback)
			stepsTotal.WithLabelValues(string(StepFailed)).Inc()
			return StepOutcome{State: StepFailed, Escalate: true, Attempts: attempt, Feedback: review.Feedback}

		default: // agents.DecisionFail
			e.recordStep(ctx, r, step, StepFailed, attempt, review.Feedback)
			stepsTotal.WithLabelValues(string(StepFailed)).Inc()
			return StepOutcome{State: StepFailed, Attempts: attempt, Feedback: review.Feedback}
		}
	}

	// Retry budget spent on RETRY decisions alone.
	feedback = fmt.Sprintf("step %d exhausted %d retries without acceptance", step.ID, r.Settings.MaxRetriesPerStep)
	e.recordStep(ctx, r, step, StepFailed, r.Settings.MaxRetriesPerStep, feedback)
	stepsTotal.WithLabelValues(string(StepFailed)).Inc()
	return StepOutcome{State: StepFailed, Attempts: r.Settings.MaxRetriesPerStep, Feedback: feedback}
}

const (
	// maxSummarySteps bounds the completed-step recap in prompts.
	maxSummarySteps = 5
	// maxSummaryLine bounds one step description in the recap.
	maxSummaryLine = 160
)

// previousSteps summarizes the run's completed steps for the coding
// prompt. Returns "" when the recorder keeps no step history.
func (e *Executor) previousSteps(ctx context.Context, runID string) string {
	reader, ok := e.rec.(StepReader)
	if !ok {
		return ""
	}
	recs, err := reader.Steps(ctx, runID)
	if err != nil {
		e.log.Warn("step history read failed", "run_id", runID, "error", err)
		return ""
	}

	var completed []string
	for _, rec := range recs {
		if rec.Status != string(StepCompleted) {
			continue
		}
		desc := rec.Description
		if len(desc) > maxSummaryLine {
			desc = desc[:maxSummaryLine] + "..."
		}
		completed = append(completed, fmt.Sprintf("- Step %d: %s", rec.StepID, desc))
	}
	if len(completed) == 0 {
		return ""
	}
	if len(completed) > maxSummarySteps {
		completed = completed[len(completed)-maxSummarySteps:]
	}
	return strings.Join(completed, "\n")
}

// testTypes resolves the stack's comprehensive test matrix. Unknown
// stacks run nothing, which the Reviewer treats as not-passed.
func (e *Executor) testTypes(stack string) []string {
	h, err := e.registry.Get(stack)
	if err != nil {
		return nil
	}
	return h.TestTypes
}

func (e *Executor) recordStep(ctx context.Context, r *Run, step plan.Step, state StepState, attempts int, feedback string) {
	err := e.rec.SaveStep(ctx, store.StepRecord{
		RunID:       r.ID,
		StepID:      step.ID,
		Description: step.Description,
		Status:      string(state),
		Attempts:    attempts,
		Feedback:    feedback,
	})
	if err != nil {
		e.log.Warn("step record write failed", "run_id", r.ID, "step", step.ID, "error", err)
	}
}

func (e *Executor) appendLog(ctx context.Context, r *Run, level, message string) {
	if err := e.rec.AppendLog(ctx, r.ID, level, message); err != nil {
		e.log.Warn("run log write failed", "run_id", r.ID, "error", err)
	}
}
