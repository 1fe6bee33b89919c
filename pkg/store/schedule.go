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

// PipelineSchedule is the cron definition for one pipeline type.
type PipelineSchedule struct {
	PipelineType string         `db:"pipeline_type"`
	CronExpr     string         `db:"cron_expr"`
	IsActive     bool           `db:"is_active"`
	Parameters   string         `db:"parameters"`
	Description  sql.NullString `db:"description"`
	UpdatedAt    string         `db:"updated_at"`
}

// UpsertSchedule creates or replaces the schedule for a pipeline type.
func (s *Store) UpsertSchedule(ctx context.Context, sched *PipelineSchedule) error {
	if sched.Parameters == "" {
		sched.Parameters = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO pipeline_schedules (pipeline_type, cron_expr, is_active, parameters, description, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(pipeline_type) DO UPDATE SET
	cron_expr   = excluded.cron_expr,
	is_active   = excluded.is_active,
	parameters  = excluded.parameters,
	description = excluded.description,
	updated_at  = excluded.updated_at`,
		sched.PipelineType, sched.CronExpr, sched.IsActive, sched.Parameters, sched.Description, nowUTC())
	if err != nil {
		return fmt.Errorf("upsert schedule %s: %w", sched.PipelineType, err)
	}
	return nil
}

// GetSchedule returns the schedule for a pipeline type.
func (s *Store) GetSchedule(ctx context.Context, pipelineType string) (*PipelineSchedule, error) {
	var sched PipelineSchedule
	err := s.db.GetContext(ctx, &sched, `SELECT * FROM pipeline_schedules WHERE pipeline_type = ?`, pipelineType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Entity: "pipeline_schedule", Key: pipelineType}
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule %s: %w", pipelineType, err)
	}
	return &sched, nil
}

// ListSchedules returns every registered schedule.
func (s *Store) ListSchedules(ctx context.Context) ([]*PipelineSchedule, error) {
	var rows []*PipelineSchedule
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM pipeline_schedules ORDER BY pipeline_type`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return rows, nil
}

// SetScheduleActive toggles a schedule on or off without touching its cron
// expression or parameters.
func (s *Store) SetScheduleActive(ctx context.Context, pipelineType string, active bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE pipeline_schedules SET is_active = ?, updated_at = ? WHERE pipeline_type = ?`, active, nowUTC(), pipelineType)
	if err != nil {
		return fmt.Errorf("set schedule active %s: %w", pipelineType, err)
	}
	return nil
}
