// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store persists run and step records in an embedded BadgerDB.
//
// # Description
//
// The orchestrator only needs create/read/update-status/append-log
// semantics keyed by opaque run and step ids, so the layout is a flat
// JSON-per-key scheme:
//
//	run/<run_id>                 RunRecord
//	step/<run_id>/<step_id>      StepRecord
//	log/<run_id>/<seq>           LogEntry
//
// # Thread Safety
//
// All methods are safe for concurrent use; BadgerDB transactions
// provide per-key atomicity and the log sequence is guarded by a
// mutex.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/forgeworks/agentforge/pkg/logging"
)

// ErrNotFound is returned when a run or step record does not exist.
var ErrNotFound = errors.New("record not found")

// RunRecord is the persisted state of one run.
type RunRecord struct {
	ID             string    `json:"id"`
	Task           string    `json:"task"`
	Stack          string    `json:"stack"`
	Status         string    `json:"status"`
	CostUsedEUR    float64   `json:"cost_used_eur"`
	StepsTotal     int       `json:"steps_total"`
	StepsCompleted int       `json:"steps_completed"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// StepRecord is the persisted state of one step of a run.
type StepRecord struct {
	RunID       string    `json:"run_id"`
	StepID      int       `json:"step_id"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	Feedback    string    `json:"feedback,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// LogEntry is one appended run log line.
type LogEntry struct {
	RunID   string    `json:"run_id"`
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// Store is a BadgerDB-backed persistence layer for runs.
type Store struct {
	db  *badger.DB
	log *logging.Logger

	mu  sync.Mutex
	seq uint64
}

// Open opens a persistent store at path, creating the directory if
// needed.
func Open(path string, log *logging.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("path is required for persistent store")
	}
	if err := os.MkdirAll(path, 0750); err != nil {
		return nil, fmt.Errorf("create store directory %s: %w", path, err)
	}
	opts := badger.DefaultOptions(path).WithLogger(nil)
	return open(opts, log)
}

// OpenInMemory opens a store with no disk persistence. Data is lost on
// Close. Intended for tests.
func OpenInMemory(log *logging.Logger) (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	return open(opts, log)
}

func open(opts badger.Options, log *logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.Discard()
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// Runs
// =============================================================================

// SaveRun writes the full run record, stamping UpdatedAt.
func (s *Store) SaveRun(ctx context.Context, rec RunRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec.UpdatedAt = time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}
	return s.put(runKey(rec.ID), rec)
}

// GetRun loads one run record.
func (s *Store) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return RunRecord{}, err
	}
	var rec RunRecord
	err := s.get(runKey(runID), &rec)
	return rec, err
}

// UpdateRun rewrites a run's status, cost and completion counters.
func (s *Store) UpdateRun(ctx context.Context, runID, status string, costUsedEUR float64, stepsCompleted int) error {
	rec, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	rec.Status = status
	rec.CostUsedEUR = costUsedEUR
	rec.StepsCompleted = stepsCompleted
	return s.SaveRun(ctx, rec)
}

// =============================================================================
// Steps
// =============================================================================

// SaveStep writes the full step record, stamping UpdatedAt.
func (s *Store) SaveStep(ctx context.Context, rec StepRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec.UpdatedAt = time.Now().UTC()
	return s.put(stepKey(rec.RunID, rec.StepID), rec)
}

// Steps returns all step records of a run ordered by step id.
func (s *Store) Steps(ctx context.Context, runID string) ([]StepRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []StepRecord
	err := s.scan([]byte("step/"+runID+"/"), func(val []byte) error {
		var rec StepRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

// =============================================================================
// Logs
// =============================================================================

// AppendLog adds one log line to the run's ordered log.
func (s *Store) AppendLog(ctx context.Context, runID, level, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	entry := LogEntry{RunID: runID, Time: time.Now().UTC(), Level: level, Message: message}
	return s.put(logKey(runID, seq), entry)
}

// Logs returns the run's log lines in append order.
func (s *Store) Logs(ctx context.Context, runID string) ([]LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []LogEntry
	err := s.scan([]byte("log/"+runID+"/"), func(val []byte) error {
		var entry LogEntry
		if err := json.Unmarshal(val, &entry); err != nil {
			return err
		}
		out = append(out, entry)
		return nil
	})
	return out, err
}

// =============================================================================
// Internals
// =============================================================================

func runKey(runID string) []byte {
	return []byte("run/" + runID)
}

func stepKey(runID string, stepID int) []byte {
	return []byte(fmt.Sprintf("step/%s/%06d", runID, stepID))
}

func logKey(runID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("log/%s/%020d", runID, seq))
}

func (s *Store) put(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func (s *Store) get(key []byte, v any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
}

// scan iterates all values under a key prefix in key order.
func (s *Store) scan(prefix []byte, fn func(val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}
