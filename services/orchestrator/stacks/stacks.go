// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package stacks maps technology stack names to capability records:
// how to scaffold a project, install its dependencies, run its tests,
// and which artifact files a working scaffold must contain.
//
// # Description
//
// Dispatch is a registry keyed by lowercase stack name. Each Handler
// is a plain record of functions and data rather than a type
// hierarchy; adding a stack means registering one more record.
//
// # Thread Safety
//
// Registry is safe for concurrent use after construction. Handlers
// themselves are immutable records.
package stacks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// CommandResult is the outcome of one external command.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner executes an external command in a working directory. The
// orchestrator wires in the tool manager's subprocess runner.
type Runner func(ctx context.Context, cwd string, args []string) (CommandResult, error)

// Handler is one stack's capability record.
type Handler struct {
	// Name is the canonical lowercase stack key.
	Name string

	// TestCommand runs the stack's default test suite.
	TestCommand []string

	// TestTypes name the tool-manager test kinds for a comprehensive
	// run (suite, static analysis, formatting).
	TestTypes []string

	// ExpectedArtifacts are paths (relative to the code root) a
	// working scaffold must mostly contain.
	ExpectedArtifacts []string

	// Skeleton writes the stack's minimal project scaffold.
	Skeleton func(codePath, projectName string) error

	// Install installs the stack's dependencies.
	Install func(ctx context.Context, run Runner, codePath string) error
}

// Registry maps stack names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]*Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]*Handler)}
}

// Register adds a handler under its name plus any aliases.
func (r *Registry) Register(h *Handler, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[normalize(h.Name)] = h
	for _, alias := range aliases {
		r.handlers[normalize(alias)] = h
	}
}

// Get returns the handler for a stack name, or an error for unknown
// stacks.
func (r *Registry) Get(name string) (*Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.handlers[normalize(name)]; ok {
		return h, nil
	}
	return nil, fmt.Errorf("no handler registered for stack %q", name)
}

// Names returns the registered canonical names, aliases included.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Default returns a registry with every built-in stack wired.
func Default() *Registry {
	r := NewRegistry()
	r.Register(laravelHandler())
	r.Register(reactHandler())
	r.Register(vueHandler())
	r.Register(pythonHandler())
	r.Register(nodeHandler(), "nodejs")
	return r
}

// writeFiles creates each file, making parent directories as needed.
func writeFiles(codePath string, files map[string]string) error {
	for rel, content := range files {
		path := filepath.Join(codePath, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", rel, err)
		}
	}
	return nil
}

// makeDirs creates each directory under the code root.
func makeDirs(codePath string, dirs []string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(filepath.Join(codePath, dir), 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// npmInstall prefers yarn when a lockfile exists, falling back to npm.
func npmInstall(ctx context.Context, run Runner, codePath string) error {
	if _, err := os.Stat(filepath.Join(codePath, "yarn.lock")); err == nil {
		if res, err := run(ctx, codePath, []string{"yarn", "install"}); err == nil && res.ExitCode == 0 {
			return nil
		}
	}
	res, err := run(ctx, codePath, []string{"npm", "install"})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("npm install failed: %s", strings.TrimSpace(res.Stderr))
	}
	return nil
}
