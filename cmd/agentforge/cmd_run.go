// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forgeworks/agentforge/pkg/logging"
	"github.com/forgeworks/agentforge/pkg/ux"
	"github.com/forgeworks/agentforge/services/llm"
	"github.com/forgeworks/agentforge/services/orchestrator/promptcache"
	"github.com/forgeworks/agentforge/services/orchestrator/router"
	"github.com/forgeworks/agentforge/services/orchestrator/run"
	"github.com/forgeworks/agentforge/services/orchestrator/stacks"
	"github.com/forgeworks/agentforge/services/orchestrator/store"
)

func newRunCmd() *cobra.Command {
	var (
		stack       string
		projectName string
		workDir     string
		budget      float64
		quiet       bool
	)

	cmd := &cobra.Command{
		Use:   "run [task description]",
		Short: "Plan a task and drive it through patch, test and review cycles",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task := strings.Join(args, " ")
			printer := ux.NewPrinter(cmd.OutOrStdout(), quiet)

			log, err := logging.New(logging.Config{
				Level:   logging.ParseLevel(cfg.LogLevel),
				Service: "agentforge",
			})
			if err != nil {
				return err
			}
			defer log.Close()

			rt, err := buildRouter(log)
			if err != nil {
				return err
			}

			opts := run.Options{Logger: log}
			if cfg.Workspace.StorePath != "" {
				st, err := store.Open(cfg.Workspace.StorePath, log)
				if err != nil {
					return fmt.Errorf("open run store: %w", err)
				}
				defer st.Close()
				opts.Recorder = st
			}

			settings := run.Settings{
				Stack:             stack,
				ProjectName:       projectName,
				CodePath:          workDir,
				DailyBudgetEUR:    budget,
				MaxSteps:          cfg.Budget.MaxSteps,
				MaxRetriesPerStep: cfg.Budget.MaxRetriesPerStep,
				MaxPlanRevisions:  cfg.Budget.MaxPlanRevisions,
			}
			if settings.CodePath == "" {
				settings.CodePath = filepath.Join(cfg.Workspace.Root, projectName)
			}
			if settings.DailyBudgetEUR <= 0 {
				settings.DailyBudgetEUR = cfg.Budget.DailyBudgetEUR
			}

			printer.Title("agentforge run")
			printer.Info("stack: %s  workspace: %s  budget: %.2f EUR", stack, settings.CodePath, settings.DailyBudgetEUR)

			spinner := ux.NewSpinner(cmd.ErrOrStderr(), "working on: "+task)
			if !quiet {
				spinner.Start()
			}
			result, runErr := run.NewOrchestrator(rt, opts).ExecuteTask(cmd.Context(), task, settings)
			spinner.Stop()

			printer.Info("run %s finished: %s", result.ID, ux.StatusGlyph(string(result.Status)))
			printer.Info("steps completed: %d  plan revisions: %d  cost: %.4f EUR",
				result.StepsCompleted, result.PlanRevisions, result.CostUsedEUR)
			if runErr != nil {
				return runErr
			}
			if result.Status != run.RunCompleted {
				return fmt.Errorf("run %s did not complete", result.ID)
			}
			printer.Success("workspace ready at %s", settings.CodePath)
			return nil
		},
	}

	cmd.Flags().StringVar(&stack, "stack", "python", "target technology stack")
	cmd.Flags().StringVar(&projectName, "project", "app", "project name used for scaffolding")
	cmd.Flags().StringVar(&workDir, "workdir", "", "working tree for the run (default <workspace root>/<project>)")
	cmd.Flags().Float64Var(&budget, "budget", 0, "model spend ceiling in EUR (default from config)")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "only print warnings and errors")
	return cmd
}

func newStacksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stacks",
		Short: "List the supported technology stacks",
		Run: func(cmd *cobra.Command, args []string) {
			printer := ux.NewPrinter(cmd.OutOrStdout(), false)
			registry := stacks.Default()
			for _, name := range registry.Names() {
				h, err := registry.Get(name)
				if err != nil {
					continue
				}
				printer.Info("%s  tests: %s", ux.Styles.Bold.Render(name), strings.Join(h.TestTypes, ", "))
			}
		},
	}
}

// buildRouter wires the configured model backends into the escalation
// router. Metered tiers without an API key stay unregistered.
func buildRouter(log *logging.Logger) (*router.Router, error) {
	rt := router.New(log, promptcache.New(log), router.DefaultConfig())

	local, err := llm.NewOllamaClient(cfg.Backends.OllamaURL, cfg.Backends.OllamaModel)
	if err != nil {
		return nil, fmt.Errorf("configure local backend: %w", err)
	}
	rt.Register(router.TierLocal, router.ProviderLocal, local)

	if cfg.Backends.OpenAIKey != "" {
		medium, err := llm.NewOpenAIClient(cfg.Backends.OpenAIKey, cfg.Backends.OpenAIModel)
		if err != nil {
			return nil, fmt.Errorf("configure medium backend: %w", err)
		}
		rt.Register(router.TierMedium, router.ProviderOpenAI, medium)
	}
	if cfg.Backends.AnthropicKey != "" {
		premium, err := llm.NewAnthropicClient(cfg.Backends.AnthropicKey, cfg.Backends.AnthropicModel)
		if err != nil {
			return nil, fmt.Errorf("configure premium backend: %w", err)
		}
		rt.Register(router.TierPremium, router.ProviderAnthropic, premium)
	}
	return rt, nil
}
