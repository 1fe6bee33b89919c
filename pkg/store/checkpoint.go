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

// SaveCheckpoint persists a stage's cursor after a committed batch, so a
// restarted run resumes instead of re-processing from the beginning.
func (s *Store) SaveCheckpoint(ctx context.Context, runID, stageName, cursor string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO pipeline_checkpoints (run_id, stage_name, cursor, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(run_id, stage_name) DO UPDATE SET cursor = excluded.cursor, updated_at = excluded.updated_at`,
		runID, stageName, cursor, nowUTC())
	if err != nil {
		return fmt.Errorf("save checkpoint run=%s stage=%s: %w", runID, stageName, err)
	}
	return nil
}

// GetCheckpoint returns the last saved cursor for a run/stage pair, or ""
// if the stage has never checkpointed.
func (s *Store) GetCheckpoint(ctx context.Context, runID, stageName string) (string, error) {
	var cursor string
	err := s.db.GetContext(ctx, &cursor, `SELECT cursor FROM pipeline_checkpoints WHERE run_id = ? AND stage_name = ?`, runID, stageName)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get checkpoint run=%s stage=%s: %w", runID, stageName, err)
	}
	return cursor, nil
}
