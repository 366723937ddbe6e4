// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package patch

import "strings"

const (
	// BeginMarker and EndMarker delimit the patch body in the coding
	// prompt contract sent to model backends.
	BeginMarker = "BEGIN_PATCH"
	EndMarker   = "END_PATCH"
)

// Extract recovers the unified diff body from raw model output.
//
// # Description
//
// Resolution order:
//
//  1. Text between BEGIN_PATCH and END_PATCH markers, with any
//     surrounding markdown fence stripped.
//  2. The interior of the first markdown code fence that contains a
//     "diff --git" header or an "@@" hunk marker.
//  3. Everything from the first "diff --git" line onward.
//  4. The whole trimmed text, if it contains "@@".
//
// Returns "" when no diff-shaped content is found. The result is not
// guaranteed valid; callers gate it with Validate.
func Extract(text string) string {
	if text == "" {
		return ""
	}

	start := strings.Index(text, BeginMarker)
	end := strings.Index(text, EndMarker)
	if start != -1 && end != -1 && start < end {
		body := strings.TrimSpace(text[start+len(BeginMarker) : end])
		return stripFence(body)
	}

	if body := fencedDiff(text); body != "" {
		return body
	}

	if idx := strings.Index(text, "diff --git"); idx != -1 {
		return strings.TrimSpace(stripTrailingFence(text[idx:]))
	}

	trimmed := strings.TrimSpace(text)
	if strings.Contains(trimmed, "@@") {
		return trimmed
	}
	return ""
}

// fencedDiff returns the interior of the first code fence whose body
// looks like a diff.
func fencedDiff(text string) string {
	lines := strings.Split(text, "\n")
	for i := 0; i < len(lines); i++ {
		if !strings.HasPrefix(strings.TrimSpace(lines[i]), "```") {
			continue
		}
		j := i + 1
		for j < len(lines) && !strings.HasPrefix(strings.TrimSpace(lines[j]), "```") {
			j++
		}
		body := strings.TrimSpace(strings.Join(lines[i+1:min(j, len(lines))], "\n"))
		if strings.Contains(body, "diff --git") || strings.Contains(body, "@@") {
			return body
		}
		i = j
	}
	return ""
}

// stripFence removes a markdown fence wrapping the whole body, e.g.
// "```diff\n...\n```".
func stripFence(body string) string {
	if !strings.HasPrefix(body, "```") {
		return body
	}
	lines := strings.Split(body, "\n")
	if len(lines) < 2 {
		return body
	}
	lines = lines[1:]
	if strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// stripTrailingFence drops a closing fence left over when the diff was
// cut out of a larger fenced block.
func stripTrailingFence(body string) string {
	lines := strings.Split(strings.TrimRight(body, "\n"), "\n")
	for len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
