// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract_BetweenMarkers(t *testing.T) {
	text := "Some preamble\nBEGIN_PATCH\n" + minimalDiff + "END_PATCH\ntrailing chatter"
	got := Extract(text)
	assert.True(t, IsValid(got))
	assert.Equal(t, "diff --git a/x b/x", firstLine(got))
}

func TestExtract_MarkersWithFence(t *testing.T) {
	text := "BEGIN_PATCH\n```diff\n" + minimalDiff + "```\nEND_PATCH"
	got := Extract(text)
	assert.True(t, IsValid(got))
}

// A fenced diff without BEGIN_PATCH markers must still be recovered,
// since it contains hunk markers.
func TestExtract_FencedDiffWithoutMarkers(t *testing.T) {
	text := "Sure! Here's the diff:\n```\n" + minimalDiff + "```"
	got := Extract(text)
	assert.True(t, IsValid(got))
	assert.NotContains(t, got, "Sure!")
	assert.NotContains(t, got, "```")
}

func TestExtract_RawDiff(t *testing.T) {
	got := Extract(minimalDiff)
	assert.Equal(t, "diff --git a/x b/x", firstLine(got))
	assert.True(t, IsValid(got))
}

func TestExtract_DiffAfterProse(t *testing.T) {
	text := "I made the change you asked for.\n\n" + minimalDiff
	got := Extract(text)
	assert.True(t, IsValid(got))
	assert.Equal(t, "diff --git a/x b/x", firstLine(got))
}

func TestExtract_NoDiff(t *testing.T) {
	assert.Empty(t, Extract(""))
	assert.Empty(t, Extract("I could not produce a patch for this step."))
}

func TestExtract_EmptyMarkerBody(t *testing.T) {
	assert.Empty(t, Extract("BEGIN_PATCH\n\nEND_PATCH"))
}

func TestNormalize(t *testing.T) {
	got := Normalize("diff --git a/x b/x\r\n--- a/x\r\n+++ b/x")
	assert.NotContains(t, got, "\r")
	assert.Equal(t, byte('\n'), got[len(got)-1])
}

func TestChangedFiles(t *testing.T) {
	files, err := ChangedFiles(minimalDiff)
	assert.NoError(t, err)
	assert.Equal(t, []string{"x"}, files)
}

func TestStripLevel(t *testing.T) {
	assert.Equal(t, "-p1", stripLevel(minimalDiff))
	assert.Equal(t, "-p0", stripLevel("diff --git x x\n--- x\n+++ x\n@@ -1 +1 @@\n-a\n+b\n"))
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
