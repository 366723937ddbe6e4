// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package router

import (
	"sync"

	"github.com/forgeworks/agentforge/services/orchestrator/datatypes"
)

// DefaultHistoryPairs caps retained request/response pairs per run.
const DefaultHistoryPairs = 8

// conversationStore keeps per-run conversation history so metered
// providers get multi-turn context. History stores the original user
// prompt, never the strict-patch re-prompt suffix.
type conversationStore struct {
	mu       sync.Mutex
	byRun    map[string][]datatypes.Message
	maxPairs int
}

func newConversationStore(maxPairs int) *conversationStore {
	if maxPairs <= 0 {
		maxPairs = DefaultHistoryPairs
	}
	return &conversationStore{
		byRun:    make(map[string][]datatypes.Message),
		maxPairs: maxPairs,
	}
}

// append records one request/response pair, trimming the oldest pairs
// once the cap is exceeded.
func (s *conversationStore) append(runID, prompt, response string) {
	if runID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	history := append(s.byRun[runID],
		datatypes.Message{Role: "user", Content: prompt},
		datatypes.Message{Role: "assistant", Content: response},
	)
	if excess := len(history) - s.maxPairs*2; excess > 0 {
		history = history[excess:]
	}
	s.byRun[runID] = history
}

// history returns a copy of the run's retained messages.
func (s *conversationStore) history(runID string) []datatypes.Message {
	if runID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.byRun[runID]
	if len(stored) == 0 {
		return nil
	}
	out := make([]datatypes.Message, len(stored))
	copy(out, stored)
	return out
}

// clear drops a run's history once the run ends.
func (s *conversationStore) clear(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byRun, runID)
}
