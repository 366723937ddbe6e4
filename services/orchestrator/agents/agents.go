// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package agents implements the three thin roles driving a run: the
// Planner decomposes a task into steps, the Developer turns one step
// into a validated patch, and the Reviewer turns test results into an
// accept/retry/escalate/fail decision.
//
// Each agent is a stateless wrapper over the model router plus its
// external collaborators; all run state lives with the caller.
package agents

import (
	"context"
	"errors"

	"github.com/forgeworks/agentforge/services/orchestrator/datatypes"
	"github.com/forgeworks/agentforge/services/orchestrator/router"
)

var (
	// ErrPlanParsing means plan generation or parsing produced no
	// usable steps.
	ErrPlanParsing = errors.New("plan parsing failed")

	// ErrPatchValidation means the Developer exhausted its attempts
	// without a valid patch.
	ErrPatchValidation = errors.New("patch validation failed")
)

// Generator is the slice of the model router the agents consume. The
// run orchestrator supplies an implementation that carries the run's
// cost and budget into every call.
type Generator interface {
	Generate(ctx context.Context, prompt string, task datatypes.TaskType, runID string) router.Response
}

// ContextProvider fetches retrieval-augmented context for a code path.
// Agents treat it as best-effort: errors degrade to an empty context.
type ContextProvider interface {
	Context(ctx context.Context, codePath string) ([]string, error)
}

// PatchChecker validates a patch semantically (linters, compilers,
// quick test runs) before the Developer accepts it. Distinct from the
// structural validator; errors count as validation failure.
type PatchChecker interface {
	Validate(ctx context.Context, projectPath, patchText, stack string) (bool, error)
}

// ProjectContext describes the project an agent is working on.
type ProjectContext struct {
	// CodePath is the directory the RAG collaborator indexes.
	CodePath string
	// ProjectPath is the working tree patches apply to.
	ProjectPath string
	// Stack is the target technology stack key.
	Stack string
	// FileTree is an optional partial listing embedded in prompts.
	FileTree string
	// PreviousSteps recaps the run's completed steps for coding
	// prompts. Empty when the run keeps no step history.
	PreviousSteps string
	// ProjectName seeds scaffolding and package names.
	ProjectName string
}

// fetchContext pulls RAG snippets, swallowing collaborator errors.
func fetchContext(ctx context.Context, provider ContextProvider, codePath string) []string {
	if provider == nil {
		return nil
	}
	docs, err := provider.Context(ctx, codePath)
	if err != nil {
		return nil
	}
	return docs
}
