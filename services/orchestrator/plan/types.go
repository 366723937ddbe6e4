// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package plan converts semi-structured LLM plan text into typed steps.
//
// # Description
//
// Language models produce plans in a range of loosely structured formats:
// numbered lists, bullet lists, markdown sections, French/English labels,
// and inline metadata blocks. This package parses those into Step records
// with an inferred action type, dependencies, file references, commands,
// durations, and priorities. Parsing is heuristic by design; it is a set
// of independent line classifiers, not a grammar.
//
// # Thread Safety
//
// Parser is stateless and safe for concurrent use. Steps are immutable
// once returned.
package plan

// ActionType classifies the high-level action of a step.
type ActionType string

const (
	// ActionCreateFile creates a new source or config file.
	ActionCreateFile ActionType = "create_file"

	// ActionModifyFile edits an existing file.
	ActionModifyFile ActionType = "modify_file"

	// ActionDeleteFile removes a file.
	ActionDeleteFile ActionType = "delete_file"

	// ActionRunTests executes a test suite.
	ActionRunTests ActionType = "run_tests"

	// ActionInstallPackage installs a dependency.
	ActionInstallPackage ActionType = "install_package"

	// ActionConfigure changes project configuration.
	ActionConfigure ActionType = "configure"

	// ActionDebug investigates or fixes a defect.
	ActionDebug ActionType = "debug"

	// ActionRefactor restructures existing code.
	ActionRefactor ActionType = "refactor"

	// ActionOther is the fallback when no keyword rule matches.
	ActionOther ActionType = "other"
)

// String returns the string representation of the action type.
func (a ActionType) String() string {
	return string(a)
}

// Step is a discrete unit of work in a generated plan.
//
// Steps are created by Parser.Parse and never mutated afterwards. The ID
// is assigned sequentially in parse order starting at 1; numerals found
// in the source text are advisory only and deliberately ignored, since
// models frequently number steps inconsistently.
type Step struct {
	// ID is the 1-based position of the step within the plan.
	ID int `json:"id"`

	// Description is the step's own line of text, never empty.
	Description string `json:"description"`

	// Action is the inferred action type.
	Action ActionType `json:"action"`

	// Dependencies lists step IDs this step depends on, in the order
	// they were mentioned. The parser does not validate the edges form
	// a DAG; that is the caller's concern.
	Dependencies []int `json:"dependencies,omitempty"`

	// FilesInvolved lists file-path-like tokens mentioned in the step's
	// text, de-duplicated in first-seen order.
	FilesInvolved []string `json:"files_involved,omitempty"`

	// Commands lists shell commands extracted from fenced code blocks
	// and "Command:"/"Run:" lines, in order.
	Commands []string `json:"commands,omitempty"`

	// EstimatedDuration is the step's estimate in minutes (hours are
	// converted). Zero means unspecified.
	EstimatedDuration int `json:"estimated_duration,omitempty"`

	// Priority is 1 (high), 2 (medium), or 3 (low). Zero means
	// unspecified.
	Priority int `json:"priority,omitempty"`
}
