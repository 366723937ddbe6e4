// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusGlyph(t *testing.T) {
	assert.Contains(t, StatusGlyph("completed"), "completed")
	assert.Contains(t, StatusGlyph("failed"), "failed")
	assert.Contains(t, StatusGlyph("retrying"), "retrying")
	assert.Contains(t, StatusGlyph("running"), "running")
	assert.Contains(t, StatusGlyph("pending"), "pending")
}

func TestPrinter_Levels(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, false)
	p.Title("run %s", "abc")
	p.Info("step done")
	p.Success("all tests passed")
	p.Warn("patch did not apply")
	p.Error("budget exhausted")

	out := buf.String()
	assert.Contains(t, out, "run abc")
	assert.Contains(t, out, "step done")
	assert.Contains(t, out, "all tests passed")
	assert.Contains(t, out, "patch did not apply")
	assert.Contains(t, out, "budget exhausted")
}

func TestPrinter_QuietSuppressesInfo(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, true)
	p.Info("hidden")
	p.Success("hidden too")
	p.Warn("visible")
	p.Error("also visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
	assert.Contains(t, out, "also visible")
}

func TestSpinner_StartStop(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinner(&buf, "thinking")
	s.Start()
	s.Start() // second start is a no-op
	time.Sleep(200 * time.Millisecond)
	s.SetMessage("still thinking")
	time.Sleep(100 * time.Millisecond)
	s.Stop()
	s.Stop() // second stop is a no-op

	assert.Contains(t, buf.String(), "thinking")
}
