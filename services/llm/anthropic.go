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
	"time"

	"github.com/forgeworks/agentforge/services/orchestrator/datatypes"
)

const (
	anthropicAPIVersion  = "2023-06-01"
	anthropicMessagesURL = "https://api.anthropic.com/v1/messages"
)

type anthropicRequest struct {
	Model       string              `json:"model"`
	Messages    []datatypes.Message `json:"messages"`
	System      string              `json:"system,omitempty"`
	MaxTokens   int                 `json:"max_tokens"`
	Temperature *float32            `json:"temperature,omitempty"`
	TopP        *float32            `json:"top_p,omitempty"`
	StopSeqs    []string            `json:"stop_sequences,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type anthropicResponse struct {
	ID      string             `json:"id"`
	Content []anthropicContent `json:"content"`
	Usage   anthropicUsage     `json:"usage"`
	Error   *anthropicError    `json:"error,omitempty"`
}

// AnthropicClient is the premium tier backend.
type AnthropicClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewAnthropicClient creates an Anthropic client. Returns an error when
// no API key is configured so the router can mark the tier unavailable.
func NewAnthropicClient(apiKey, model string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key not set")
	}
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
		slog.Warn("anthropic model not set, defaulting", "model", model)
	}
	slog.Info("initializing anthropic client", "model", model)
	return &AnthropicClient{
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		baseURL:    anthropicMessagesURL,
		apiKey:     apiKey,
		model:      model,
	}, nil
}

// Model returns the configured model identifier.
func (a *AnthropicClient) Model() string {
	return a.model
}

// Generate implements the Client interface. Anthropic separates the
// system prompt from the message list; a leading system-role message is
// lifted into the request's System field.
func (a *AnthropicClient) Generate(ctx context.Context, messages []datatypes.Message, params GenerationParams) (datatypes.Completion, error) {
	system := ""
	if len(messages) > 0 && messages[0].Role == "system" {
		system = messages[0].Content
		messages = messages[1:]
	}

	maxTokens := 2048
	if params.MaxTokens != nil {
		maxTokens = *params.MaxTokens
	}

	body, err := json.Marshal(anthropicRequest{
		Model:       a.model,
		Messages:    messages,
		System:      system,
		MaxTokens:   maxTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		StopSeqs:    params.Stop,
	})
	if err != nil {
		return datatypes.Completion{}, fmt.Errorf("marshaling anthropic request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(body))
	if err != nil {
		return datatypes.Completion{}, fmt.Errorf("building anthropic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return datatypes.Completion{}, fmt.Errorf("anthropic request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return datatypes.Completion{}, fmt.Errorf("reading anthropic response: %w", err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return datatypes.Completion{}, fmt.Errorf("decoding anthropic response: status %d: %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return datatypes.Completion{}, fmt.Errorf("anthropic API error: %s: %s", parsed.Error.Type, parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return datatypes.Completion{}, fmt.Errorf("anthropic API error: status %d", resp.StatusCode)
	}

	var text string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return datatypes.Completion{}, fmt.Errorf("anthropic returned no text content")
	}

	slog.Debug("anthropic completion received",
		"model", a.model,
		"prompt_tokens", parsed.Usage.InputTokens,
		"completion_tokens", parsed.Usage.OutputTokens)

	return datatypes.Completion{
		Text:             text,
		PromptTokens:     parsed.Usage.InputTokens,
		CompletionTokens: parsed.Usage.OutputTokens,
	}, nil
}
