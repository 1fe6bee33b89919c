// Copyright 2024 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// PipelineHistory is one append-only run record.
type PipelineHistory struct {
	ID              string         `db:"id"`
	RunID           string         `db:"run_id"`
	PipelineType    string         `db:"pipeline_type"`
	Status          string         `db:"status"`
	StartedAt       string         `db:"started_at"`
	CompletedAt     sql.NullString `db:"completed_at"`
	ItemsProcessed  int            `db:"items_processed"`
	ErrorMessage    sql.NullString `db:"error_message"`
}

// InsertHistoryStarted writes the PipelineHistory row the Executor creates
// when a run starts.
func (s *Store) InsertHistoryStarted(ctx context.Context, runID, pipelineType string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO pipeline_history (id, run_id, pipeline_type, status, started_at, items_processed)
VALUES (?, ?, ?, 'running', ?, 0)`, id, runID, pipelineType, nowUTC())
	if err != nil {
		return "", fmt.Errorf("insert history started run=%s: %w", runID, err)
	}
	return id, nil
}

// CompleteHistory records the terminal status, item count, and optional
// error message for a run already begun by InsertHistoryStarted.
func (s *Store) CompleteHistory(ctx context.Context, id, status string, itemsProcessed int, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE pipeline_history
SET status = ?, completed_at = ?, items_processed = ?, error_message = ?
WHERE id = ?`, status, nowUTC(), itemsProcessed, nullIfEmpty(errMsg), id)
	if err != nil {
		return fmt.Errorf("complete history %s: %w", id, err)
	}
	return nil
}

// LatestIncompleteRunID returns the run id of the most recent
// pipeline_history row for pipelineType still in status "running", if
// any. The Executor uses this to resume a run's checkpoints under the
// same run id after a crash rather than starting a fresh cursor from
// zero.
func (s *Store) LatestIncompleteRunID(ctx context.Context, pipelineType string) (string, bool, error) {
	var runID string
	err := s.db.GetContext(ctx, &runID, `
SELECT run_id FROM pipeline_history
WHERE pipeline_type = ? AND status = 'running'
ORDER BY started_at DESC
LIMIT 1`, pipelineType)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("latest incomplete run %s: %w", pipelineType, err)
	}
	return runID, true, nil
}

// ListHistory returns the most recent runs for a pipeline type, newest
// first.
func (s *Store) ListHistory(ctx context.Context, pipelineType string, limit int) ([]*PipelineHistory, error) {
	var rows []*PipelineHistory
	err := s.db.SelectContext(ctx, &rows, `
SELECT * FROM pipeline_history
WHERE pipeline_type = ?
ORDER BY started_at DESC
LIMIT ?`, pipelineType, limit)
	if err != nil {
		return nil, fmt.Errorf("list history %s: %w", pipelineType, err)
	}
	return rows, nil
}

// ListHistorySince returns completed runs started after the given
// RFC3339Nano timestamp, oldest first, capped at limit rows. Used by the
// analytics mirror to export one batch of newly finished runs at a time.
func (s *Store) ListHistorySince(ctx context.Context, since string, limit int) ([]*PipelineHistory, error) {
	var rows []*PipelineHistory
	err := s.db.SelectContext(ctx, &rows, `
SELECT * FROM pipeline_history
WHERE started_at > ? AND status != 'running'
ORDER BY started_at ASC
LIMIT ?`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list history since %s: %w", since, err)
	}
	return rows, nil
}

// ListHistoryAll returns the most recent runs across every pipeline
// type, newest first — the Control API's "GET history" with no type
// filter.
func (s *Store) ListHistoryAll(ctx context.Context, limit int) ([]*PipelineHistory, error) {
	var rows []*PipelineHistory
	err := s.db.SelectContext(ctx, &rows, `
SELECT * FROM pipeline_history
ORDER BY started_at DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list history all: %w", err)
	}
	return rows, nil
}
