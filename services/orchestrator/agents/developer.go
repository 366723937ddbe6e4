// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/forgeworks/agentforge/pkg/logging"
	"github.com/forgeworks/agentforge/services/orchestrator/datatypes"
	"github.com/forgeworks/agentforge/services/orchestrator/patch"
	"github.com/forgeworks/agentforge/services/orchestrator/plan"
)

const (
	// DefaultMaxPatchAttempts bounds Developer retries per step.
	DefaultMaxPatchAttempts = 3

	// maxDeveloperSnippets caps RAG context embedded in the coding
	// prompt.
	maxDeveloperSnippets = 8
)

// stackGuidelines are style/tooling conventions injected per stack.
var stackGuidelines = map[string]string{
	"laravel": "- PHP 8+, PSR-12, Laravel conventions.\n" +
		"- Prefer dependency injection, FormRequests, Eloquent models.\n" +
		"- Update routes, controllers, tests (Pest).\n" +
		"- Provide migrations/factories when schema changes.",
	"react": "- React 18, functional components, hooks.\n" +
		"- TypeScript preferred, Vite or CRA layout respected.\n" +
		"- Unit tests with Jest/RTL when altering logic.",
	"vue": "- Vue 3 + Vite, single-file components (.vue).\n" +
		"- Composition API.\n" +
		"- Unit tests with Vitest where applicable.",
	"python": "- Python 3.10+, PEP8/Flake8, type hints where useful.\n" +
		"- Pytest tests for new behavior; keep functions small and pure.",
	"node": "- Node 18+, ESM or CommonJS consistently.\n" +
		"- Add Jest tests for business logic.",
}

const genericGuidelines = "- Follow idiomatic patterns for the language.\n" +
	"- Include minimal tests or usage examples when changing logic."

// PatchResult is one validated patch plus generation metadata. Not
// persisted beyond the call's return.
type PatchResult struct {
	StepID    int
	Stack     string
	PatchText string
	Attempts  int
	Validated bool
}

// Developer turns a plan step into a validated unified diff.
type Developer struct {
	gen         Generator
	rag         ContextProvider
	checker     PatchChecker
	maxAttempts int
	log         *logging.Logger
}

// NewDeveloper creates a Developer. RAG provider and patch checker may
// be nil; a nil checker accepts every structurally valid patch.
func NewDeveloper(gen Generator, rag ContextProvider, checker PatchChecker, log *logging.Logger) *Developer {
	if log == nil {
		log = logging.Discard()
	}
	return &Developer{
		gen:         gen,
		rag:         rag,
		checker:     checker,
		maxAttempts: DefaultMaxPatchAttempts,
		log:         log,
	}
}

// GeneratePatch produces a patch for the step, retrying with failure
// feedback up to the attempt ceiling.
//
// # Description
//
// Each attempt builds a stack-aware prompt (guidelines, RAG snippets,
// project layout, and the previous failure reason), asks the router
// for a coding response, extracts the diff, checks it structurally,
// and finally runs the semantic patch checker. Checker errors count
// as validation failure, never abort the loop.
//
// # Outputs
//
//   - PatchResult: With Validated=true on success.
//   - error: Wraps ErrPatchValidation after exhausting attempts.
func (d *Developer) GeneratePatch(ctx context.Context, step plan.Step, pc ProjectContext, ragContext []string, runID string) (PatchResult, error) {
	if ragContext == nil {
		ragContext = fetchContext(ctx, d.rag, pc.CodePath)
	}
	stack := strings.ToLower(pc.Stack)
	if stack == "" {
		stack = "generic"
	}

	lastError := ""
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		prompt := d.buildPrompt(step, stack, ragContext, pc, lastError)

		resp := d.gen.Generate(ctx, prompt, datatypes.TaskCoding, runID)
		if resp.Failed() {
			lastError = "model generation failed: " + resp.Content
			d.log.Warn("patch generation attempt failed", "step", step.ID, "attempt", attempt, "error", lastError)
			continue
		}

		patchText := patch.Extract(resp.Content)
		if patchText == "" {
			lastError = "no patch found between BEGIN_PATCH/END_PATCH"
			d.log.Info("no patch in response", "step", step.ID, "attempt", attempt)
			continue
		}
		if res := patch.Validate(patchText); !res.Valid {
			lastError = "invalid diff: " + res.Reason
			d.log.Info("structural validation failed", "step", step.ID, "attempt", attempt, "reason", res.Reason)
			continue
		}

		valid := true
		if d.checker != nil {
			ok, err := d.checker.Validate(ctx, pc.ProjectPath, patchText, stack)
			if err != nil {
				valid = false
				lastError = "validation error: " + err.Error()
				d.log.Warn("patch checker errored", "step", step.ID, "error", err)
			} else if !ok {
				valid = false
				lastError = "patch validation failed"
			}
		}

		if valid {
			return PatchResult{
				StepID:    step.ID,
				Stack:     stack,
				PatchText: patchText,
				Attempts:  attempt,
				Validated: true,
			}, nil
		}
		d.log.Info("attempt failed validation, retrying", "step", step.ID, "attempt", attempt)
	}

	return PatchResult{}, fmt.Errorf("%w: step %d after %d attempts: %s", ErrPatchValidation, step.ID, d.maxAttempts, lastError)
}

func (d *Developer) buildPrompt(step plan.Step, stack string, ragContext []string, pc ProjectContext, lastError string) string {
	guidelines, ok := stackGuidelines[stack]
	if !ok {
		guidelines = genericGuidelines
	}

	ragBlock := "(no additional context)"
	if len(ragContext) > 0 {
		n := len(ragContext)
		if n > maxDeveloperSnippets {
			n = maxDeveloperSnippets
		}
		ragBlock = strings.Join(ragContext[:n], "\n")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a senior software developer. Implement the following step as a precise code diff.\n\n")
	fmt.Fprintf(&b, "Step #%d: %s\n\n", step.ID, step.Description)
	fmt.Fprintf(&b, "Target stack: %s\n\n", stack)
	fmt.Fprintf(&b, "Context from RAG (may include code excerpts, constraints):\n%s\n\n", ragBlock)
	if pc.PreviousSteps != "" {
		fmt.Fprintf(&b, "Previously completed steps in this run:\n%s\n\n", strings.TrimSpace(pc.PreviousSteps))
	}
	if pc.FileTree != "" {
		fmt.Fprintf(&b, "Existing project structure (partial):\n%s\n\n", strings.TrimSpace(pc.FileTree))
	}
	fmt.Fprintf(&b, "Coding standards and constraints for this stack:\n%s\n\n", guidelines)
	if lastError != "" {
		fmt.Fprintf(&b, "Previous attempt failed: %s.\n", lastError)
	}
	b.WriteString("Output a unified diff that can be applied with `git apply`.\n" +
		"Wrap ONLY the diff between the exact markers below:\n" +
		"BEGIN_PATCH\n" +
		"<git unified diff here>\n" +
		"END_PATCH\n")
	return b.String()
}
