// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the agentforge CLI.
package ux

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Forge color palette - ember oranges over cold steel
var (
	ColorEmber   = lipgloss.Color("#FF8C42") // Highlights, brand accents
	ColorForge   = lipgloss.Color("#E4572E") // Primary brand color
	ColorSteel   = lipgloss.Color("#5C6B73") // Muted text, borders
	ColorIron    = lipgloss.Color("#29353B") // Deep backgrounds
	ColorSuccess = lipgloss.Color("#4CB963")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Box       lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorEmber),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSteel),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Bold(true).Foreground(ColorForge),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorSteel).
		Padding(0, 1),
}

// StatusGlyph maps a run or step status string to a styled indicator.
func StatusGlyph(status string) string {
	switch status {
	case "completed":
		return Styles.Success.Render("✓ " + status)
	case "failed":
		return Styles.Error.Render("✗ " + status)
	case "retrying":
		return Styles.Warning.Render("↻ " + status)
	case "running":
		return Styles.Highlight.Render("▶ " + status)
	default:
		return Styles.Muted.Render("· " + status)
	}
}

// Printer writes styled lines to a terminal. Quiet mode suppresses
// everything below warnings.
type Printer struct {
	mu    sync.Mutex
	out   io.Writer
	quiet bool
}

// NewPrinter creates a Printer. A nil writer defaults to stdout.
func NewPrinter(out io.Writer, quiet bool) *Printer {
	if out == nil {
		out = os.Stdout
	}
	return &Printer{out: out, quiet: quiet}
}

// Title prints a bold section heading.
func (p *Printer) Title(format string, args ...any) {
	p.print(false, Styles.Title.Render(fmt.Sprintf(format, args...)))
}

// Info prints a plain line.
func (p *Printer) Info(format string, args ...any) {
	p.print(false, fmt.Sprintf(format, args...))
}

// Success prints a green checkmarked line.
func (p *Printer) Success(format string, args ...any) {
	p.print(false, Styles.Success.Render("✓ ")+fmt.Sprintf(format, args...))
}

// Warn prints an amber line. Shown even in quiet mode.
func (p *Printer) Warn(format string, args ...any) {
	p.print(true, Styles.Warning.Render("! ")+fmt.Sprintf(format, args...))
}

// Error prints a red line. Shown even in quiet mode.
func (p *Printer) Error(format string, args ...any) {
	p.print(true, Styles.Error.Render("✗ ")+fmt.Sprintf(format, args...))
}

// Box prints content inside a rounded border.
func (p *Printer) Box(content string) {
	p.print(false, Styles.Box.Render(content))
}

func (p *Printer) print(always bool, line string) {
	if p.quiet && !always {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, line)
}
