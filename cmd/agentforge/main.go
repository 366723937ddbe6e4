// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// agentforge plans a development task with an LLM, turns each step
// into a reviewed patch, and drives the run to completion against the
// target stack's test suite.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forgeworks/agentforge/config"
	"github.com/forgeworks/agentforge/pkg/ux"
)

var (
	version = "dev"

	configPath string
	cfg        config.Config

	rootCmd = &cobra.Command{
		Use:           "agentforge",
		Short:         "LLM agent orchestration for code generation runs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		ux.NewPrinter(os.Stderr, false).Error("%v", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "agentforge.yaml", "path to the YAML config file")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	}

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newStacksCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the agentforge version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("agentforge " + version)
		},
	}
}
