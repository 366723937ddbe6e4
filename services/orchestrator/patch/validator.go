// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package patch validates, extracts, and applies unified diffs produced
// by model backends.
//
// # Description
//
// Model output is untrusted: it may wrap the diff in prose or markdown
// fences, omit headers, or interleave commentary with hunk lines. This
// package checks structural well-formedness before anything touches a
// working tree, recovers the diff body from decorated output, and
// applies it through git with a hard timeout.
//
// # Thread Safety
//
// Validate and Extract are pure functions. Applier is safe for
// concurrent use; each Apply call works in its own temp file.
package patch

import (
	"fmt"
	"strings"
)

// Line prefixes that identify diff metadata rather than hunk content.
var headerPrefixes = []string{
	"diff --git",
	"index ",
	"--- ",
	"+++ ",
	"@@",
	"new file",
	"deleted file",
	"similarity",
}

// ValidationResult carries the outcome of a structural check. Reason is
// empty when Valid is true.
type ValidationResult struct {
	Valid  bool
	Reason string
}

func invalid(format string, args ...any) ValidationResult {
	return ValidationResult{Reason: fmt.Sprintf(format, args...)}
}

// IsValid reports whether text is a structurally well-formed unified
// diff. It never panics; all malformed input maps to false.
func IsValid(text string) bool {
	return Validate(text).Valid
}

// Validate checks that text is a structurally well-formed unified diff
// and, when it is not, says why.
//
// # Description
//
// All of the following must hold:
//
//   - Non-empty after trimming.
//   - The first line starts with "diff --git".
//   - At least one "--- " line and at least one "+++ " line.
//   - At least one hunk header: a line starting with "@@" that contains
//     a second "@@" later in the line.
//   - Every other non-blank line starts with ' ', '+', or '-'.
//
// Structural validity only: a diff can pass here and still fail to
// apply against the actual tree.
func Validate(text string) ValidationResult {
	if strings.TrimSpace(text) == "" {
		return invalid("empty patch")
	}

	lines := strings.Split(strings.TrimSpace(text), "\n")

	if !strings.HasPrefix(lines[0], "diff --git") {
		return invalid("missing 'diff --git' header")
	}

	var hasOldFile, hasNewFile bool
	for _, line := range lines {
		if strings.HasPrefix(line, "--- ") {
			hasOldFile = true
		} else if strings.HasPrefix(line, "+++ ") {
			hasNewFile = true
		}
	}
	if !hasOldFile || !hasNewFile {
		return invalid("missing '---' or '+++' file headers")
	}

	hasHunk := false
	for _, line := range lines {
		if strings.HasPrefix(line, "@@") && strings.Contains(line[2:], "@@") {
			hasHunk = true
			break
		}
	}
	if !hasHunk {
		return invalid("missing hunk headers '@@'")
	}

	for i, line := range lines {
		if isHeaderLine(line) {
			continue
		}
		if line == "" || strings.TrimSpace(line) == "" {
			continue
		}
		switch line[0] {
		case ' ', '+', '-':
		default:
			return invalid("invalid line format at line %d: %q", i+1, clip(line, 50))
		}
	}

	return ValidationResult{Valid: true}
}

func isHeaderLine(line string) bool {
	for _, p := range headerPrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
