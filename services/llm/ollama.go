// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/forgeworks/agentforge/services/orchestrator/datatypes"
)

var ollamaTracer = otel.Tracer("agentforge.llm.ollama")

// OllamaClient talks to a local Ollama server. It is the free tier:
// completions cost nothing, but the model is weaker and slower than the
// hosted tiers, so callers should expect structural validation failures
// and retry accordingly.
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []datatypes.Message `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message         datatypes.Message `json:"message"`
	Done            bool              `json:"done"`
	PromptEvalCount int               `json:"prompt_eval_count"`
	EvalCount       int               `json:"eval_count"`
	Error           string            `json:"error,omitempty"`
}

// NewOllamaClient creates a client for the given server URL and model.
//
// Local inference is slow compared to hosted APIs; the HTTP timeout is
// deliberately generous so long generations are not cut off mid-stream.
func NewOllamaClient(baseURL, model string) (*OllamaClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("ollama base URL not set")
	}
	if model == "" {
		model = "qwen2.5-coder:7b"
		slog.Warn("ollama model not set, using default", "model", model)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	slog.Info("initializing ollama client", "base_url", baseURL, "model", model)
	return &OllamaClient{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    baseURL,
		model:      model,
	}, nil
}

// Model returns the configured model identifier.
func (o *OllamaClient) Model() string {
	return o.model
}

// Generate implements the Client interface against /api/chat.
func (o *OllamaClient) Generate(ctx context.Context, messages []datatypes.Message, params GenerationParams) (datatypes.Completion, error) {
	ctx, span := ollamaTracer.Start(ctx, "OllamaClient.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	options := map[string]any{"temperature": float32(0.1), "top_p": float32(0.9), "num_predict": 2048}
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	if params.MaxTokens != nil {
		options["num_predict"] = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		options["stop"] = params.Stop
	}

	body, err := json.Marshal(ollamaChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   false,
		Options:  options,
	})
	if err != nil {
		return datatypes.Completion{}, fmt.Errorf("marshaling ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return datatypes.Completion{}, fmt.Errorf("building ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return datatypes.Completion{}, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return datatypes.Completion{}, fmt.Errorf("reading ollama response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return datatypes.Completion{}, fmt.Errorf("ollama API error: status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var parsed ollamaChatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return datatypes.Completion{}, fmt.Errorf("decoding ollama response: %w", err)
	}
	if parsed.Error != "" {
		return datatypes.Completion{}, fmt.Errorf("ollama API error: %s", parsed.Error)
	}

	slog.Debug("ollama completion received",
		"model", o.model,
		"prompt_tokens", parsed.PromptEvalCount,
		"completion_tokens", parsed.EvalCount)

	return datatypes.Completion{
		Text:             parsed.Message.Content,
		PromptTokens:     parsed.PromptEvalCount,
		CompletionTokens: parsed.EvalCount,
	}, nil
}

// Ping checks the server and verifies the configured model is present.
func (o *OllamaClient) Ping(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		slog.Warn("ollama not reachable", "error", err)
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}
	for _, m := range tags.Models {
		if strings.Contains(m.Name, o.model) {
			return true
		}
	}
	slog.Warn("ollama reachable but model missing", "model", o.model)
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
