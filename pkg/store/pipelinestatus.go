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
)

// PipelineState is one of the Scheduler's status state machine values.
type PipelineState string

const (
	PipelineStateIdle      PipelineState = "idle"
	PipelineStateScheduled PipelineState = "scheduled"
	PipelineStateRunning   PipelineState = "running"
	PipelineStateError     PipelineState = "error"
)

// PipelineStatus is the long-lived singleton row per pipeline type.
type PipelineStatus struct {
	PipelineType string         `db:"pipeline_type"`
	Status       string         `db:"status"`
	IsRunning    bool           `db:"is_running"`
	LastRunAt    sql.NullString `db:"last_run_at"`
	NextRunAt    sql.NullString `db:"next_run_at"`
	LastError    sql.NullString `db:"last_error"`
	UpdatedAt    string         `db:"updated_at"`
}

// GetPipelineStatus returns the status row, creating an idle default if
// none exists yet.
func (s *Store) GetPipelineStatus(ctx context.Context, pipelineType string) (*PipelineStatus, error) {
	var st PipelineStatus
	err := s.db.GetContext(ctx, &st, `SELECT * FROM pipeline_status WHERE pipeline_type = ?`, pipelineType)
	if errors.Is(err, sql.ErrNoRows) {
		if err := s.initPipelineStatus(ctx, pipelineType); err != nil {
			return nil, err
		}
		return s.GetPipelineStatus(ctx, pipelineType)
	}
	if err != nil {
		return nil, fmt.Errorf("get pipeline status %s: %w", pipelineType, err)
	}
	return &st, nil
}

func (s *Store) initPipelineStatus(ctx context.Context, pipelineType string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO pipeline_status (pipeline_type, status, is_running, updated_at)
VALUES (?, ?, 0, ?)
ON CONFLICT(pipeline_type) DO NOTHING`, pipelineType, PipelineStateIdle, nowUTC())
	if err != nil {
		return fmt.Errorf("init pipeline status %s: %w", pipelineType, err)
	}
	return nil
}

// TryAcquireRunning atomically transitions is_running false → true. It
// returns false without error if another run already holds the flag — the
// Scheduler's concurrency guard (at most one running row per pipeline type).
func (s *Store) TryAcquireRunning(ctx context.Context, pipelineType string) (bool, error) {
	if err := s.initPipelineStatus(ctx, pipelineType); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE pipeline_status
SET is_running = 1, status = ?, updated_at = ?
WHERE pipeline_type = ? AND is_running = 0`, PipelineStateRunning, nowUTC(), pipelineType)
	if err != nil {
		return false, fmt.Errorf("acquire running guard %s: %w", pipelineType, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected for acquire running guard %s: %w", pipelineType, err)
	}
	return n == 1, nil
}

// ReleaseRunning clears is_running and records the terminal status
// (idle or error) plus last_run_at/last_error.
func (s *Store) ReleaseRunning(ctx context.Context, pipelineType string, terminal PipelineState, lastErr string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE pipeline_status
SET is_running = 0, status = ?, last_run_at = ?, last_error = ?, updated_at = ?
WHERE pipeline_type = ?`, terminal, nowUTC(), nullIfEmpty(lastErr), nowUTC(), pipelineType)
	if err != nil {
		return fmt.Errorf("release running guard %s: %w", pipelineType, err)
	}
	return nil
}

// SetNextRun records the next scheduled fire time and transitions idle →
// scheduled.
func (s *Store) SetNextRun(ctx context.Context, pipelineType string, nextRun string) error {
	if err := s.initPipelineStatus(ctx, pipelineType); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE pipeline_status
SET next_run_at = ?, status = CASE WHEN status = ? THEN ? ELSE status END, updated_at = ?
WHERE pipeline_type = ?`, nextRun, PipelineStateIdle, PipelineStateScheduled, nowUTC(), pipelineType)
	if err != nil {
		return fmt.Errorf("set next run %s: %w", pipelineType, err)
	}
	return nil
}

// ResetPipelineStatus forces a pipeline type back to idle, clearing
// is_running and last_error — the Control API's Reset command.
func (s *Store) ResetPipelineStatus(ctx context.Context, pipelineType string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE pipeline_status
SET status = ?, is_running = 0, last_error = NULL, updated_at = ?
WHERE pipeline_type = ?`, PipelineStateIdle, nowUTC(), pipelineType)
	if err != nil {
		return fmt.Errorf("reset pipeline status %s: %w", pipelineType, err)
	}
	return nil
}

// ListPipelineStatuses returns every known pipeline type's status row.
func (s *Store) ListPipelineStatuses(ctx context.Context) ([]*PipelineStatus, error) {
	var rows []*PipelineStatus
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM pipeline_status ORDER BY pipeline_type`)
	if err != nil {
		return nil, fmt.Errorf("list pipeline statuses: %w", err)
	}
	return rows, nil
}
