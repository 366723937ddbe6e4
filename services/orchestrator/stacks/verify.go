// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stacks

import (
	"os"
	"path/filepath"

	"github.com/forgeworks/agentforge/pkg/logging"
)

// VerifyArtifacts checks that a run actually produced a scaffold.
//
// # Description
//
// Each stack lists the artifact paths a working project must contain.
// At least half of them (floor, minimum one) must exist under
// codePath. Unknown stacks fall back to the python expectation list.
// This is a sanity backstop: tests passing against an empty tree is a
// failure mode this catches.
func (r *Registry) VerifyArtifacts(log *logging.Logger, codePath, stack string) bool {
	if log == nil {
		log = logging.Discard()
	}

	if info, err := os.Stat(codePath); err != nil || !info.IsDir() {
		log.Warn("code path does not exist", "path", codePath)
		return false
	}

	expected := []string{"main.py"}
	if h, err := r.Get(stack); err == nil {
		expected = h.ExpectedArtifacts
	} else {
		log.Warn("unknown stack, using fallback artifact list", "stack", stack)
	}

	existing := 0
	for _, rel := range expected {
		if _, err := os.Stat(filepath.Join(codePath, rel)); err == nil {
			existing++
		} else {
			log.Warn("missing expected artifact", "artifact", rel, "stack", stack)
		}
	}

	threshold := len(expected) / 2
	if threshold < 1 {
		threshold = 1
	}

	ok := existing >= threshold
	if ok {
		log.Info("artifact verification passed", "found", existing, "expected", len(expected), "stack", stack)
	} else {
		log.Error("artifact verification failed", "found", existing, "expected", len(expected), "threshold", threshold, "stack", stack)
	}
	return ok
}
