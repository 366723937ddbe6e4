// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes holds the wire and exchange types shared between the
// orchestrator core, the LLM backends, and the persistence layer.
package datatypes

// Message is a single turn in a model conversation.
type Message struct {
	// Role is "system", "user", or "assistant".
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`
}

// TaskType classifies a router request so validation and tier selection
// can adapt to what the caller expects back.
type TaskType string

const (
	// TaskCoding requests a unified diff patch.
	TaskCoding TaskType = "coding"

	// TaskPlanning requests a structured step plan.
	TaskPlanning TaskType = "planning"

	// TaskDebugging requests root-cause analysis of a failure.
	TaskDebugging TaskType = "debugging"

	// TaskAnalysis requests free-form codebase analysis.
	TaskAnalysis TaskType = "analysis"
)

// String returns the string representation of the task type.
func (t TaskType) String() string {
	return string(t)
}

// Completion is the raw result of one backend invocation, before cost
// accounting is applied by the router.
type Completion struct {
	// Text is the model output.
	Text string `json:"text"`

	// PromptTokens is the number of input tokens billed.
	PromptTokens int `json:"prompt_tokens"`

	// CompletionTokens is the number of output tokens billed.
	CompletionTokens int `json:"completion_tokens"`
}

// TestResult is one entry from a test-runner collaborator invocation.
type TestResult struct {
	// Type names the tool that produced the result (pest, phpstan, jest...).
	Type string `json:"type"`

	// Status is "passed" or "failed".
	Status string `json:"status"`

	// Output carries captured stdout/stderr for diagnostics.
	Output string `json:"output"`
}

const (
	// StatusPassed marks a successful test result.
	StatusPassed = "passed"

	// StatusFailed marks a failed test result.
	StatusFailed = "failed"
)

// Passed reports whether the result succeeded.
func (r TestResult) Passed() bool {
	return r.Status == StatusPassed
}

// AllPassed reports whether every result in the slice passed. An empty
// slice passes vacuously; stacks without a configured test matrix do not
// block step progress on their own.
func AllPassed(results []TestResult) bool {
	for _, r := range results {
		if !r.Passed() {
			return false
		}
	}
	return true
}
