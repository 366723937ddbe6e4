// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation for security-critical
// operations.
//
// Run settings flow into file paths, scaffold file contents, and git
// subprocess invocations. These validators reject inputs that could
// carry path traversal or command injection into those sinks.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// projectNamePattern matches safe project names: letters, digits,
// underscores and dashes, starting with an alphanumeric. Max length 64.
var projectNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// stackPattern matches stack keys: lowercase letters and digits only.
var stackPattern = regexp.MustCompile(`^[a-z][a-z0-9]{0,31}$`)

// branchPattern matches safe git branch names. Slashes are allowed for
// the usual feature/x convention; leading dashes are not, so a branch
// can never be parsed as a git flag.
var branchPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]{0,127}$`)

// ValidateProjectName checks a project name before it is embedded in
// scaffold files and directory names.
func ValidateProjectName(name string) error {
	if name == "" {
		return fmt.Errorf("project name must not be empty")
	}
	if !projectNamePattern.MatchString(name) {
		return fmt.Errorf("invalid project name %q: use letters, digits, dashes and underscores (max 64 chars)", name)
	}
	return nil
}

// ValidateStack checks a stack key before registry lookup.
func ValidateStack(stack string) error {
	if stack == "" {
		return fmt.Errorf("stack must not be empty")
	}
	if !stackPattern.MatchString(strings.ToLower(strings.TrimSpace(stack))) {
		return fmt.Errorf("invalid stack %q: use lowercase letters and digits", stack)
	}
	return nil
}

// ValidateBranch checks a git branch name before it reaches a git
// subprocess.
func ValidateBranch(branch string) error {
	if branch == "" {
		return fmt.Errorf("branch must not be empty")
	}
	if strings.Contains(branch, "..") {
		return fmt.Errorf("invalid branch %q: %q is not allowed", branch, "..")
	}
	if !branchPattern.MatchString(branch) {
		return fmt.Errorf("invalid branch %q", branch)
	}
	return nil
}
