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
	"github.com/forgeworks/agentforge/services/orchestrator/plan"
)

// maxPlannerSnippets caps RAG context embedded in the planning prompt.
const maxPlannerSnippets = 5

// PlanResult is the outcome of one planning call.
type PlanResult struct {
	PlanText string
	Steps    []plan.Step
	Context  []string
}

// Planner turns a task description into an ordered step list.
type Planner struct {
	gen    Generator
	rag    ContextProvider
	parser *plan.Parser
	log    *logging.Logger
}

// NewPlanner creates a Planner. The RAG provider may be nil.
func NewPlanner(gen Generator, rag ContextProvider, log *logging.Logger) *Planner {
	if log == nil {
		log = logging.Discard()
	}
	return &Planner{gen: gen, rag: rag, parser: plan.NewParser(), log: log}
}

// GeneratePlan produces and parses a plan for the task.
//
// # Outputs
//
//   - PlanResult: Plan text, parsed steps, and the RAG context used.
//   - error: Wraps ErrPlanParsing when generation fails or parsing
//     yields no steps.
func (p *Planner) GeneratePlan(ctx context.Context, task string, pc ProjectContext, runID string) (PlanResult, error) {
	contextDocs := fetchContext(ctx, p.rag, pc.CodePath)

	prompt := p.buildPrompt(task, contextDocs)
	resp := p.gen.Generate(ctx, prompt, datatypes.TaskPlanning, runID)
	if resp.Failed() {
		return PlanResult{}, fmt.Errorf("%w: generation failed: %s", ErrPlanParsing, resp.Content)
	}

	steps, err := p.parser.Parse(resp.Content)
	if err != nil {
		return PlanResult{}, fmt.Errorf("%w: %v", ErrPlanParsing, err)
	}
	if len(steps) == 0 {
		return PlanResult{}, fmt.Errorf("%w: generated plan is empty", ErrPlanParsing)
	}

	p.log.Info("plan generated", "run_id", runID, "summary", plan.Describe(steps))
	return PlanResult{PlanText: resp.Content, Steps: steps, Context: contextDocs}, nil
}

func (p *Planner) buildPrompt(task string, contextDocs []string) string {
	var parts []string
	parts = append(parts, "You are a planning agent tasked with decomposing a high level task into a sequence of clear, ordered steps.")
	if len(contextDocs) > 0 {
		n := len(contextDocs)
		if n > maxPlannerSnippets {
			n = maxPlannerSnippets
		}
		parts = append(parts, "The following context from the project may be relevant:\n"+strings.Join(contextDocs[:n], "\n"))
	}
	parts = append(parts,
		"Please produce a numbered plan where each step begins with the step number followed by a description.\n"+
			"Include additional metadata when available, such as files involved, commands to run, durations and dependencies.")
	parts = append(parts, "Task: "+strings.TrimSpace(task))
	parts = append(parts, "Return the plan in plain text. Do not wrap it in JSON or any other format.")
	return strings.Join(parts, "\n\n")
}
