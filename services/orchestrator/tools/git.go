// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"context"
	"os"
	"path/filepath"

	"github.com/forgeworks/agentforge/pkg/validation"
)

// InitRepo initializes a git repository in the project directory if
// one is not already present.
func (m *Manager) InitRepo(ctx context.Context, projectPath string) bool {
	if _, err := os.Stat(filepath.Join(projectPath, ".git")); err == nil {
		return true
	}
	res, err := m.Run(ctx, projectPath, []string{"git", "init"})
	if err != nil {
		m.log.Error("git init failed", "path", projectPath, "error", err)
		return false
	}
	return res.ExitCode == 0
}

// Commit stages everything and commits with the given message.
// Returns false when there is nothing to commit or git fails.
func (m *Manager) Commit(ctx context.Context, projectPath, message string) bool {
	res, err := m.Run(ctx, projectPath, []string{"git", "add", "."})
	if err != nil || res.ExitCode != 0 {
		return false
	}
	res, err = m.Run(ctx, projectPath, []string{"git", "commit", "-m", message})
	if err != nil || res.ExitCode != 0 {
		return false
	}
	return true
}

// PushBranch creates a branch from the current tree and pushes it to
// origin. Actual pull-request creation needs a forge API and stays
// out of scope here.
func (m *Manager) PushBranch(ctx context.Context, projectPath, branch string) bool {
	if err := validation.ValidateBranch(branch); err != nil {
		m.log.Error("refusing branch push", "error", err)
		return false
	}
	res, err := m.Run(ctx, projectPath, []string{"git", "checkout", "-b", branch})
	if err != nil || res.ExitCode != 0 {
		return false
	}
	res, err = m.Run(ctx, projectPath, []string{"git", "push", "origin", branch})
	if err != nil || res.ExitCode != 0 {
		return false
	}
	m.log.Info("branch pushed", "branch", branch)
	return true
}
