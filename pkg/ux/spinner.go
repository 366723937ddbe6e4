// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner renders an animated progress indicator on one terminal line.
// Intended for long model calls and test runs; disable it when output
// is not a terminal.
type Spinner struct {
	mu      sync.Mutex
	out     io.Writer
	message string
	active  bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSpinner creates a stopped spinner. A nil writer defaults to
// stderr so spinner frames never mix with piped output.
func NewSpinner(out io.Writer, message string) *Spinner {
	if out == nil {
		out = os.Stderr
	}
	return &Spinner{out: out, message: message}
}

// Start begins animating. Calling Start on a running spinner is a
// no-op.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	s.active = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run(s.stopCh, s.doneCh)
}

// Stop halts the animation and clears the line. Safe to call on a
// stopped spinner.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// SetMessage swaps the text after the spinner glyph.
func (s *Spinner) SetMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

func (s *Spinner) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()

	frame := 0
	for {
		select {
		case <-stopCh:
			s.mu.Lock()
			fmt.Fprint(s.out, "\r\033[K")
			s.mu.Unlock()
			return
		case <-ticker.C:
			s.mu.Lock()
			glyph := Styles.Highlight.Render(spinnerFrames[frame%len(spinnerFrames)])
			fmt.Fprintf(s.out, "\r\033[K%s %s", glyph, s.message)
			s.mu.Unlock()
			frame++
		}
	}
}
