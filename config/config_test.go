// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5.0, cfg.Budget.DailyBudgetEUR)
	assert.Equal(t, 20, cfg.Budget.MaxSteps)
	assert.Equal(t, "qwen2.5-coder:7b", cfg.Backends.OllamaModel)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_MissingFileFallsBack(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentforge.yaml")
	body := "budget:\n  daily_budget_eur: 2.5\n  max_steps: 5\nlog_level: debug\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2.5, cfg.Budget.DailyBudgetEUR)
	assert.Equal(t, 5, cfg.Budget.MaxSteps)
	assert.Equal(t, "debug", cfg.LogLevel)
	// Untouched sections keep their defaults.
	assert.Equal(t, 3, cfg.Budget.MaxRetriesPerStep)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("budget:\n  max_steps: 5\n"), 0o644))
	t.Setenv("AGENTFORGE_MAX_STEPS", "7")
	t.Setenv("AGENTFORGE_DAILY_BUDGET_EUR", "1.5")
	t.Setenv("AGENTFORGE_OLLAMA_URL", "http://gpu-box:11434")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Budget.MaxSteps)
	assert.Equal(t, 1.5, cfg.Budget.DailyBudgetEUR)
	assert.Equal(t, "http://gpu-box:11434", cfg.Backends.OllamaURL)
}

func TestLoad_InvalidFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("budget: ["), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	bad := Default()
	bad.LogLevel = "verbose"
	assert.Error(t, bad.Validate())

	bad = Default()
	bad.Budget.MaxSteps = 0
	assert.Error(t, bad.Validate())

	bad = Default()
	bad.Workspace.Root = ""
	assert.Error(t, bad.Validate())

	assert.NoError(t, Default().Validate())
}
