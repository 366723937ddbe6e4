// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides clients for the model backends the escalation
// router drives: a local Ollama server, an OpenAI-compatible mid-cost
// tier, and Anthropic's API as the premium tier.
package llm

import (
	"context"

	"github.com/forgeworks/agentforge/services/orchestrator/datatypes"
)

// GenerationParams carries optional sampling parameters. Nil fields fall
// back to backend defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// Client is the standard interface for any LLM backend.
type Client interface {
	// Generate produces a completion for the given messages. The first
	// message may carry the system role; backends map roles to their
	// native request shape. Transport failures return an error.
	Generate(ctx context.Context, messages []datatypes.Message, params GenerationParams) (datatypes.Completion, error)

	// Model returns the backend's configured model identifier.
	Model() string
}

func defaultTemperature() *float32 {
	t := float32(0.1)
	return &t
}

func defaultMaxTokens() *int {
	n := 2048
	return &n
}

// DefaultParams returns the conservative sampling defaults used for
// patch and plan generation: low temperature, bounded output.
func DefaultParams() GenerationParams {
	return GenerationParams{
		Temperature: defaultTemperature(),
		MaxTokens:   defaultMaxTokens(),
	}
}
