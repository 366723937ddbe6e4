// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package patch

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/forgeworks/agentforge/pkg/logging"
)

// DefaultApplyTimeout bounds a single git apply invocation.
const DefaultApplyTimeout = 60 * time.Second

// Applier applies unified diffs to a working tree via git apply.
//
// Apply never returns an error to the caller; every failure mode maps
// to false so the step loop can carry the failure into the test phase.
type Applier struct {
	log     *logging.Logger
	timeout time.Duration
}

// NewApplier creates an Applier. A nil logger discards output.
func NewApplier(log *logging.Logger) *Applier {
	if log == nil {
		log = logging.Discard()
	}
	return &Applier{log: log, timeout: DefaultApplyTimeout}
}

// Apply applies patchText to workingDir.
//
// # Description
//
// The patch is re-validated structurally, normalized (CRLF stripped,
// trailing newline ensured), written to a temp file, and checked with
// `git apply --check` before the real `git apply` runs. Diffs without
// a/ b/ path prefixes are applied with -p0.
//
// # Outputs
//
//   - bool: True only when git applied the patch cleanly.
func (a *Applier) Apply(ctx context.Context, patchText, workingDir string) bool {
	if res := Validate(patchText); !res.Valid {
		a.log.Error("patch rejected before apply", "reason", res.Reason)
		return false
	}

	normalized := Normalize(patchText)

	// Parse for the log line; git apply stays the authority on whether
	// the patch actually fits the tree.
	if files, err := ChangedFiles(normalized); err != nil {
		a.log.Warn("patch parse failed, attempting apply anyway", "error", err)
	} else {
		a.log.Info("applying patch", "files", files, "working_dir", workingDir)
	}

	tmp, err := os.CreateTemp("", "agentforge-*.patch")
	if err != nil {
		a.log.Error("failed to create patch file", "error", err)
		return false
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(normalized); err != nil {
		tmp.Close()
		a.log.Error("failed to write patch file", "error", err)
		return false
	}
	if err := tmp.Close(); err != nil {
		a.log.Error("failed to close patch file", "error", err)
		return false
	}

	strip := stripLevel(normalized)

	if out, err := a.git(ctx, workingDir, "apply", "--check", strip, tmp.Name()); err != nil {
		a.log.Warn("git apply --check failed", "error", err, "output", strings.TrimSpace(out))
		return false
	}

	if out, err := a.git(ctx, workingDir, "apply", strip, tmp.Name()); err != nil {
		a.log.Error("git apply failed", "error", err, "output", strings.TrimSpace(out))
		return false
	}

	return true
}

func (a *Applier) git(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// Normalize strips carriage returns and guarantees a trailing newline.
// git apply rejects diffs whose last hunk line is unterminated, which
// model output frequently is.
func Normalize(patchText string) string {
	normalized := strings.ReplaceAll(patchText, "\r\n", "\n")
	if !strings.HasSuffix(normalized, "\n") {
		normalized += "\n"
	}
	return normalized
}

// ChangedFiles returns the new-side paths touched by the diff, with
// the b/ prefix stripped.
func ChangedFiles(patchText string) ([]string, error) {
	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(patchText)).ReadAllFiles()
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(fileDiffs))
	for _, fd := range fileDiffs {
		name := fd.NewName
		if name == "/dev/null" {
			name = fd.OrigName
		}
		name = strings.TrimPrefix(name, "b/")
		name = strings.TrimPrefix(name, "a/")
		files = append(files, name)
	}
	return files, nil
}

// stripLevel picks the -p flag for git apply based on whether the file
// headers carry the conventional a/ b/ prefixes.
func stripLevel(patchText string) string {
	for _, line := range strings.Split(patchText, "\n") {
		if strings.HasPrefix(line, "--- ") {
			target := strings.TrimSpace(strings.TrimPrefix(line, "--- "))
			if target == "/dev/null" || strings.HasPrefix(target, "a/") {
				return "-p1"
			}
			return "-p0"
		}
	}
	return "-p1"
}
