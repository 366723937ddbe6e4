// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package patch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const minimalDiff = "diff --git a/x b/x\n--- a/x\n+++ b/x\n@@ -1,1 +1,1 @@\n-a\n+b\n"

func TestValidate_MinimalDiff(t *testing.T) {
	res := Validate(minimalDiff)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Reason)
}

// Removing any one structural marker from an otherwise valid diff must
// make validation fail.
func TestValidate_MissingMarkers(t *testing.T) {
	tests := []struct {
		name   string
		marker string
	}{
		{"no diff --git header", "diff --git a/x b/x\n"},
		{"no old file header", "--- a/x\n"},
		{"no new file header", "+++ b/x\n"},
		{"no hunk header", "@@ -1,1 +1,1 @@\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mutated := strings.Replace(minimalDiff, tt.marker, "", 1)
			res := Validate(mutated)
			assert.False(t, res.Valid, "diff without %q should be invalid", tt.marker)
			assert.NotEmpty(t, res.Reason)
		})
	}
}

func TestValidate_EmptyInput(t *testing.T) {
	assert.False(t, IsValid(""))
	assert.False(t, IsValid("   \n\t "))
}

func TestValidate_BadContentLine(t *testing.T) {
	bad := minimalDiff + "here is some commentary\n"
	res := Validate(bad)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Reason, "invalid line format")
}

func TestValidate_MetadataLinesAllowed(t *testing.T) {
	text := "diff --git a/new.go b/new.go\n" +
		"new file mode 100644\n" +
		"index 0000000..e69de29\n" +
		"--- /dev/null\n" +
		"+++ b/new.go\n" +
		"@@ -0,0 +1,1 @@\n" +
		"+package main\n"
	assert.True(t, IsValid(text))
}

func TestValidate_BlankLinesAllowed(t *testing.T) {
	text := "diff --git a/x b/x\n--- a/x\n+++ b/x\n@@ -1,2 +1,2 @@\n-a\n\n+b\n"
	assert.True(t, IsValid(text))
}

func TestValidate_HunkHeaderNeedsClosingMarker(t *testing.T) {
	text := "diff --git a/x b/x\n--- a/x\n+++ b/x\n@@ -1,1 +1,1\n-a\n+b\n"
	res := Validate(text)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Reason, "hunk")
}
