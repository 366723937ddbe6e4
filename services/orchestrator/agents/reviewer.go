// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/forgeworks/agentforge/pkg/logging"
	"github.com/forgeworks/agentforge/services/orchestrator/datatypes"
	"github.com/forgeworks/agentforge/services/orchestrator/plan"
)

// DefaultMaxRetryAttempts is the attempt count at which the Reviewer
// stops recommending retries.
const DefaultMaxRetryAttempts = 3

// Decision is the Reviewer's verdict on a step attempt.
type Decision string

const (
	DecisionAccept   Decision = "accept"
	DecisionRetry    Decision = "retry"
	DecisionEscalate Decision = "escalate_to_planner"
	DecisionFail     Decision = "fail"
)

// TestFailure is one failed test's truncated output.
type TestFailure struct {
	Type   string
	Output string
}

// TestSummary aggregates a step attempt's test results.
type TestSummary struct {
	AllPassed bool
	Total     int
	Passed    int
	Failed    int
	Types     []string
	Failures  []TestFailure
}

// ReviewResult is the Reviewer's structured verdict.
type ReviewResult struct {
	Decision       Decision
	Feedback       string
	Confidence     float64
	Summary        TestSummary
	Suggestions    []string
	ShouldEscalate bool
}

// Reviewer evaluates step outcomes and produces retry feedback.
type Reviewer struct {
	gen        Generator
	maxRetries int
	log        *logging.Logger
}

// NewReviewer creates a Reviewer.
func NewReviewer(gen Generator, log *logging.Logger) *Reviewer {
	if log == nil {
		log = logging.Discard()
	}
	return &Reviewer{gen: gen, maxRetries: DefaultMaxRetryAttempts, log: log}
}

// WithMaxRetries overrides the attempt ceiling, keeping the Reviewer's
// escalation check aligned with the run's retry budget.
func (r *Reviewer) WithMaxRetries(n int) *Reviewer {
	if n > 0 {
		r.maxRetries = n
	}
	return r
}

// ReviewStepResult reviews one step attempt.
//
// # Description
//
// Decision table:
//
//   - Every test passed: ACCEPT with fixed high confidence.
//   - Attempt ceiling reached: ask the model whether the failure is a
//     plan-design problem (ESCALATE_TO_PLANNER) or a terminal
//     implementation failure (FAIL). Any model or parse error defaults
//     to the FAIL branch with low confidence.
//   - Otherwise: ask the model for structured retry feedback; on error
//     fall back to a templated summary of the failures.
//
// An empty test result list counts as not-passed.
func (r *Reviewer) ReviewStepResult(ctx context.Context, step plan.Step, patchText string, results []datatypes.TestResult, attemptNumber int, previousFeedback, stack, runID string) ReviewResult {
	summary := summarizeTests(results)

	if summary.AllPassed {
		return ReviewResult{
			Decision:   DecisionAccept,
			Feedback:   "All tests passed successfully. Step completed.",
			Confidence: 0.95,
			Summary:    summary,
		}
	}

	if attemptNumber >= r.maxRetries {
		esc := r.analyzeEscalation(ctx, step, patchText, summary, previousFeedback, stack, runID)
		if esc.shouldEscalate {
			return ReviewResult{
				Decision:       DecisionEscalate,
				Feedback:       esc.feedback,
				Confidence:     esc.confidence,
				Summary:        summary,
				Suggestions:    esc.suggestions,
				ShouldEscalate: true,
			}
		}
		return ReviewResult{
			Decision:   DecisionFail,
			Feedback:   fmt.Sprintf("Step failed after %d attempts. %s", attemptNumber, esc.feedback),
			Confidence: 0.8,
			Summary:    summary,
		}
	}

	feedback := r.retryFeedback(ctx, step, patchText, summary, previousFeedback, stack, runID)
	return ReviewResult{
		Decision:    DecisionRetry,
		Feedback:    feedback.feedback,
		Confidence:  feedback.confidence,
		Summary:     summary,
		Suggestions: feedback.suggestions,
	}
}

// summarizeTests builds the summary. No results means nothing ran,
// which is never a pass.
func summarizeTests(results []datatypes.TestResult) TestSummary {
	s := TestSummary{Total: len(results)}
	if len(results) == 0 {
		return s
	}

	for _, res := range results {
		s.Types = append(s.Types, res.Type)
		if res.Passed() {
			s.Passed++
			continue
		}
		s.Failed++
		s.Failures = append(s.Failures, TestFailure{
			Type:   res.Type,
			Output: truncate(res.Output, 500),
		})
	}
	s.AllPassed = s.Failed == 0
	return s
}

// =============================================================================
// Model-backed Analysis
// =============================================================================

type escalationAnalysis struct {
	shouldEscalate bool
	confidence     float64
	feedback       string
	suggestions    []string
}

func (r *Reviewer) analyzeEscalation(ctx context.Context, step plan.Step, patchText string, summary TestSummary, previousFeedback, stack, runID string) escalationAnalysis {
	var failures strings.Builder
	for _, f := range summary.Failures {
		fmt.Fprintf(&failures, "- %s: %s...\n", f.Type, truncate(f.Output, 200))
	}
	if previousFeedback == "" {
		previousFeedback = "None"
	}

	prompt := fmt.Sprintf(`You are a senior technical reviewer analyzing a development step that has failed multiple times.

STEP DETAILS:
- Step #%d: %s
- Technology Stack: %s
- Attempt: Final attempt before escalation

PATCH APPLIED:
%s...

TEST FAILURES:
%s
PREVIOUS FEEDBACK:
%s

ANALYSIS REQUIRED:
Determine if this failure indicates:
1. A fundamental issue with the step design that requires plan revision (ESCALATE)
2. A technical implementation issue that should be marked as failed (FAIL)

Consider these factors:
- Are the test failures due to architectural/design issues?
- Does the step conflict with existing code structure?
- Are the requirements unclear or impossible to implement?
- Would breaking this step into smaller steps help?

Respond in JSON format:
{
    "should_escalate": true/false,
    "confidence": 0.0-1.0,
    "feedback": "Detailed explanation of the decision",
    "suggestions": ["suggestion1", "suggestion2"]
}`, step.ID, step.Description, stack, truncate(patchText, 1000), failures.String(), previousFeedback)

	resp := r.gen.Generate(ctx, prompt, datatypes.TaskAnalysis, runID)
	if resp.Failed() {
		return escalationAnalysis{
			confidence: 0.3,
			feedback:   "Unable to analyze escalation need due to error: " + resp.Content,
		}
	}

	var payload struct {
		ShouldEscalate *bool    `json:"should_escalate"`
		Confidence     *float64 `json:"confidence"`
		Feedback       *string  `json:"feedback"`
		Suggestions    []string `json:"suggestions"`
	}
	if err := decodeJSONObject(resp.Content, &payload); err != nil {
		r.log.Warn("escalation analysis parse failed", "error", err)
		return escalationAnalysis{
			confidence: 0.3,
			feedback:   "Unable to analyze escalation need due to error: " + err.Error(),
		}
	}

	out := escalationAnalysis{
		confidence:  0.5,
		feedback:    "Unable to determine escalation need",
		suggestions: payload.Suggestions,
	}
	if payload.ShouldEscalate != nil {
		out.shouldEscalate = *payload.ShouldEscalate
	}
	if payload.Confidence != nil {
		out.confidence = *payload.Confidence
	}
	if payload.Feedback != nil {
		out.feedback = *payload.Feedback
	}
	return out
}

type retryAdvice struct {
	feedback    string
	confidence  float64
	suggestions []string
}

func (r *Reviewer) retryFeedback(ctx context.Context, step plan.Step, patchText string, summary TestSummary, previousFeedback, stack, runID string) retryAdvice {
	var failures strings.Builder
	for _, f := range summary.Failures {
		fmt.Fprintf(&failures, "\n%s FAILURE:\n%s\n", strings.ToUpper(f.Type), f.Output)
	}

	filesInvolved := "Not specified"
	if len(step.FilesInvolved) > 0 {
		filesInvolved = strings.Join(step.FilesInvolved, ", ")
	}
	if previousFeedback == "" {
		previousFeedback = "This is the first attempt"
	}

	prompt := fmt.Sprintf(`You are a senior code reviewer providing feedback to improve a failing code patch.

STEP CONTEXT:
- Step #%d: %s
- Technology Stack: %s
- Files involved: %s

CURRENT PATCH:
%s

TEST FAILURES:
%s
PREVIOUS FEEDBACK (if any):
%s

TASK:
Provide specific, actionable feedback to fix the test failures. Focus on:
1. Root cause analysis of each failure
2. Specific code changes needed
3. Best practices for the %s stack
4. Common pitfalls to avoid

Respond in JSON format:
{
    "feedback": "Detailed, actionable feedback for the developer",
    "confidence": 0.0-1.0,
    "suggestions": ["Specific suggestion 1", "Specific suggestion 2"]
}`, step.ID, step.Description, stack, filesInvolved, patchText, failures.String(), previousFeedback, stack)

	fallback := retryAdvice{
		feedback:    "Tests failed. Please review the following failures and adjust your implementation:\n" + truncate(failures.String(), 500),
		confidence:  0.5,
		suggestions: []string{"Review test failures", "Check syntax and logic", "Ensure proper imports"},
	}

	resp := r.gen.Generate(ctx, prompt, datatypes.TaskAnalysis, runID)
	if resp.Failed() {
		return fallback
	}

	var payload struct {
		Feedback    *string  `json:"feedback"`
		Confidence  *float64 `json:"confidence"`
		Suggestions []string `json:"suggestions"`
	}
	if err := decodeJSONObject(resp.Content, &payload); err != nil {
		r.log.Warn("retry feedback parse failed", "error", err)
		return fallback
	}

	out := retryAdvice{
		feedback:    "Please review test failures and adjust implementation",
		confidence:  0.7,
		suggestions: payload.Suggestions,
	}
	if payload.Feedback != nil {
		out.feedback = *payload.Feedback
	}
	if payload.Confidence != nil {
		out.confidence = *payload.Confidence
	}
	return out
}

// decodeJSONObject extracts the first JSON object in text, tolerating
// markdown fences and surrounding prose.
func decodeJSONObject(text string, v any) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return fmt.Errorf("no JSON object in response")
	}
	return json.Unmarshal([]byte(text[start:end+1]), v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
