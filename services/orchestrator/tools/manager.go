// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package tools runs external commands for the orchestrator: test
// suites, dependency installers, and git operations.
//
// # Thread Safety
//
// Manager is stateless apart from its configuration and safe for
// concurrent use; every call spawns its own subprocess.
package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/forgeworks/agentforge/pkg/logging"
	"github.com/forgeworks/agentforge/services/orchestrator/datatypes"
	"github.com/forgeworks/agentforge/services/orchestrator/stacks"
)

// DefaultTimeout is the hard wall-clock limit per subprocess.
const DefaultTimeout = 300 * time.Second

// testCommands maps a test type to the command sequence that runs it.
var testCommands = map[string][][]string{
	"pest":       {{"php", "artisan", "test"}},
	"phpstan":    {{"./vendor/bin/phpstan", "analyse"}},
	"pint":       {{"./vendor/bin/pint", "--test"}},
	"jest":       {{"npm", "test"}},
	"eslint":     {{"npm", "run", "lint"}},
	"playwright": {{"npx", "playwright", "test"}},
	"composer":   {{"composer", "test"}},
	"npm":        {{"npm", "test"}},
	"pytest":     {{"pytest", "-q"}},
}

// Manager executes external commands with a hard timeout.
type Manager struct {
	log     *logging.Logger
	timeout time.Duration
}

// NewManager creates a Manager with the default timeout. A nil logger
// discards output.
func NewManager(log *logging.Logger) *Manager {
	if log == nil {
		log = logging.Discard()
	}
	return &Manager{log: log, timeout: DefaultTimeout}
}

// WithTimeout overrides the subprocess timeout.
func (m *Manager) WithTimeout(d time.Duration) *Manager {
	m.timeout = d
	return m
}

// Run executes one command under the manager's timeout.
//
// # Outputs
//
//   - stacks.CommandResult: Exit code plus captured output. A non-zero
//     exit code is NOT an error; callers inspect ExitCode.
//   - error: Non-nil only when the process could not run or was killed
//     by the timeout.
func (m *Manager) Run(ctx context.Context, cwd string, args []string) (stacks.CommandResult, error) {
	if len(args) == 0 {
		return stacks.CommandResult{ExitCode: -1}, errors.New("empty command")
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = cwd

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := stacks.CommandResult{
		ExitCode: -1,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		m.log.Error("command timed out", "command", strings.Join(args, " "), "timeout", m.timeout)
		return res, fmt.Errorf("command timed out after %s: %s", m.timeout, strings.Join(args, " "))
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return res, err
	}
	return res, nil
}

// Runner adapts the Manager for the stack handlers.
func (m *Manager) Runner() stacks.Runner {
	return m.Run
}

// RunTest runs one test type in the project directory.
//
// Commands for the type run in order; the first non-zero exit fails
// the whole type. Unknown types and subprocess errors (including
// timeouts) map to a failed result, never an error.
func (m *Manager) RunTest(ctx context.Context, projectPath, testType string) datatypes.TestResult {
	commands, ok := testCommands[testType]
	if !ok {
		return datatypes.TestResult{
			Type:   testType,
			Status: datatypes.StatusFailed,
			Output: fmt.Sprintf("Unknown test type: %s", testType),
		}
	}

	for _, command := range commands {
		res, err := m.Run(ctx, projectPath, command)
		if err != nil {
			return datatypes.TestResult{
				Type:   testType,
				Status: datatypes.StatusFailed,
				Output: fmt.Sprintf("Error: %v", err),
			}
		}
		if res.ExitCode != 0 {
			return datatypes.TestResult{
				Type:   testType,
				Status: datatypes.StatusFailed,
				Output: fmt.Sprintf("Command failed: %s\n\nSTDOUT:\n%s\n\nSTDERR:\n%s", strings.Join(command, " "), res.Stdout, res.Stderr),
			}
		}
	}

	return datatypes.TestResult{
		Type:   testType,
		Status: datatypes.StatusPassed,
		Output: fmt.Sprintf("All %s tests passed", testType),
	}
}

// RunComprehensive runs every test type the stack declares and
// returns one result per type. An empty list means the stack declares
// no test matrix.
func (m *Manager) RunComprehensive(ctx context.Context, projectPath string, testTypes []string) []datatypes.TestResult {
	results := make([]datatypes.TestResult, 0, len(testTypes))
	for _, tt := range testTypes {
		results = append(results, m.RunTest(ctx, projectPath, tt))
	}
	return results
}
