// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads agentforge configuration with priority
// env > file > defaults.
//
// Thread Safety: a Config is safe to read concurrently. Not safe to
// modify after creation.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	// Backends configures the model tiers.
	Backends BackendsConfig `yaml:"backends"`

	// Budget contains cost and retry ceilings.
	Budget BudgetConfig `yaml:"budget"`

	// Workspace contains filesystem settings.
	Workspace WorkspaceConfig `yaml:"workspace"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// BackendsConfig selects model endpoints per tier. Empty API keys
// leave the metered tiers unregistered; the router then runs
// local-only.
type BackendsConfig struct {
	OllamaURL      string `yaml:"ollama_url"`
	OllamaModel    string `yaml:"ollama_model"`
	OpenAIModel    string `yaml:"openai_model"`
	OpenAIKey      string `yaml:"openai_key"`
	AnthropicModel string `yaml:"anthropic_model"`
	AnthropicKey   string `yaml:"anthropic_key"`
}

// BudgetConfig bounds a run's resource usage.
type BudgetConfig struct {
	DailyBudgetEUR    float64 `yaml:"daily_budget_eur"`
	MaxSteps          int     `yaml:"max_steps"`
	MaxRetriesPerStep int     `yaml:"max_retries_per_step"`
	MaxPlanRevisions  int     `yaml:"max_plan_revisions"`
}

// WorkspaceConfig locates run workspaces and persistence.
type WorkspaceConfig struct {
	// Root is the directory run working trees are created under.
	Root string `yaml:"root"`

	// StorePath is the BadgerDB directory. Empty disables persistence.
	StorePath string `yaml:"store_path"`
}

// Default returns production defaults.
func Default() Config {
	return Config{
		Backends: BackendsConfig{
			OllamaURL:      "http://localhost:11434",
			OllamaModel:    "qwen2.5-coder:7b",
			OpenAIModel:    "gpt-4o-mini",
			AnthropicModel: "claude-3-5-sonnet-20241022",
		},
		Budget: BudgetConfig{
			DailyBudgetEUR:    5.0,
			MaxSteps:          20,
			MaxRetriesPerStep: 3,
			MaxPlanRevisions:  2,
		},
		Workspace: WorkspaceConfig{
			Root:      "./workspaces",
			StorePath: "./data/agentforge",
		},
		LogLevel: "info",
	}
}

// Load merges defaults, an optional YAML file, and environment
// overrides.
//
// # Inputs
//
//   - path: YAML config file. Empty or missing files fall back to
//     defaults silently; a present but invalid file is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	loadEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the orchestrator cannot run with.
func (c Config) Validate() error {
	if c.Budget.DailyBudgetEUR < 0 {
		return fmt.Errorf("daily_budget_eur must not be negative")
	}
	if c.Budget.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be positive")
	}
	if c.Budget.MaxRetriesPerStep <= 0 {
		return fmt.Errorf("max_retries_per_step must be positive")
	}
	if c.Budget.MaxPlanRevisions < 0 {
		return fmt.Errorf("max_plan_revisions must not be negative")
	}
	if c.Workspace.Root == "" {
		return fmt.Errorf("workspace root must not be empty")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("AGENTFORGE_OLLAMA_URL"); v != "" {
		cfg.Backends.OllamaURL = v
	}
	if v := os.Getenv("AGENTFORGE_OLLAMA_MODEL"); v != "" {
		cfg.Backends.OllamaModel = v
	}
	if v := os.Getenv("AGENTFORGE_OPENAI_MODEL"); v != "" {
		cfg.Backends.OpenAIModel = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Backends.OpenAIKey = v
	}
	if v := os.Getenv("AGENTFORGE_ANTHROPIC_MODEL"); v != "" {
		cfg.Backends.AnthropicModel = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Backends.AnthropicKey = v
	}
	if v := os.Getenv("AGENTFORGE_DAILY_BUDGET_EUR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Budget.DailyBudgetEUR = f
		}
	}
	if v := os.Getenv("AGENTFORGE_MAX_STEPS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Budget.MaxSteps = i
		}
	}
	if v := os.Getenv("AGENTFORGE_MAX_RETRIES_PER_STEP"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Budget.MaxRetriesPerStep = i
		}
	}
	if v := os.Getenv("AGENTFORGE_MAX_PLAN_REVISIONS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Budget.MaxPlanRevisions = i
		}
	}
	if v := os.Getenv("AGENTFORGE_WORKSPACE_ROOT"); v != "" {
		cfg.Workspace.Root = v
	}
	if v := os.Getenv("AGENTFORGE_STORE_PATH"); v != "" {
		cfg.Workspace.StorePath = v
	}
	if v := os.Getenv("AGENTFORGE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}
