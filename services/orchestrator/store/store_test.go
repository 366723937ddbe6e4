// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RunRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := RunRecord{ID: "run-1", Task: "build auth", Stack: "laravel", Status: "running"}
	require.NoError(t, s.SaveRun(ctx, rec))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "build auth", got.Task)
	assert.Equal(t, "running", got.Status)
	assert.False(t, got.CreatedAt.IsZero())
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestStore_GetRunNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetRun(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_UpdateRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRun(ctx, RunRecord{ID: "run-1", Status: "running"}))
	require.NoError(t, s.UpdateRun(ctx, "run-1", "completed", 1.25, 3))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "completed", got.Status)
	assert.Equal(t, 1.25, got.CostUsedEUR)
	assert.Equal(t, 3, got.StepsCompleted)
}

func TestStore_StepsOrderedByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []int{3, 1, 2} {
		require.NoError(t, s.SaveStep(ctx, StepRecord{RunID: "run-1", StepID: id, Status: "completed"}))
	}
	require.NoError(t, s.SaveStep(ctx, StepRecord{RunID: "run-2", StepID: 9}))

	steps, err := s.Steps(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, 1, steps[0].StepID)
	assert.Equal(t, 2, steps[1].StepID)
	assert.Equal(t, 3, steps[2].StepID)
}

func TestStore_StepOverwriteKeepsLatest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveStep(ctx, StepRecord{RunID: "run-1", StepID: 1, Status: "retrying", Attempts: 1}))
	require.NoError(t, s.SaveStep(ctx, StepRecord{RunID: "run-1", StepID: 1, Status: "completed", Attempts: 2}))

	steps, err := s.Steps(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "completed", steps[0].Status)
	assert.Equal(t, 2, steps[0].Attempts)
}

func TestStore_LogsPreserveAppendOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendLog(ctx, "run-1", "info", "first"))
	require.NoError(t, s.AppendLog(ctx, "run-1", "warn", "second"))
	require.NoError(t, s.AppendLog(ctx, "run-2", "info", "other run"))

	logs, err := s.Logs(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "first", logs[0].Message)
	assert.Equal(t, "second", logs[1].Message)
	assert.Equal(t, "warn", logs[1].Level)
}

func TestStore_PersistentRequiresPath(t *testing.T) {
	_, err := Open("", nil)
	require.Error(t, err)
}
