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
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ListHistoryOlderThan returns completed runs started before the given
// RFC3339Nano cutoff, oldest first, capped at limit rows — candidates
// for cold-storage archival.
func (s *Store) ListHistoryOlderThan(ctx context.Context, cutoff string, limit int) ([]*PipelineHistory, error) {
	var rows []*PipelineHistory
	err := s.db.SelectContext(ctx, &rows, `
SELECT * FROM pipeline_history
WHERE started_at < ? AND status != 'running'
ORDER BY started_at ASC
LIMIT ?`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list history older than %s: %w", cutoff, err)
	}
	return rows, nil
}

// DeleteHistoryByIDs removes rows already archived to cold storage.
func (s *Store) DeleteHistoryByIDs(ctx context.Context, tx *sqlx.Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	exec := sqlExecer(s, tx)
	query, args, err := sqlx.In(`DELETE FROM pipeline_history WHERE id IN (?)`, ids)
	if err != nil {
		return fmt.Errorf("build delete history query: %w", err)
	}
	if _, err := exec.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("delete %d archived history rows: %w", len(ids), err)
	}
	return nil
}

// ListRankingsOlderThan returns ranking snapshots calculated before the
// given RFC3339Nano cutoff, oldest first, capped at limit rows —
// candidates for cold-storage archival.
func (s *Store) ListRankingsOlderThan(ctx context.Context, cutoff string, limit int) ([]*ContributorRanking, error) {
	var rows []*ContributorRanking
	err := s.db.SelectContext(ctx, &rows, `
SELECT * FROM contributor_rankings
WHERE calculated_at < ?
ORDER BY calculated_at ASC
LIMIT ?`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list rankings older than %s: %w", cutoff, err)
	}
	return rows, nil
}

// DeleteRankingsByIDs removes rows already archived to cold storage.
func (s *Store) DeleteRankingsByIDs(ctx context.Context, tx *sqlx.Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	exec := sqlExecer(s, tx)
	query, args, err := sqlx.In(`DELETE FROM contributor_rankings WHERE id IN (?)`, ids)
	if err != nil {
		return fmt.Errorf("build delete rankings query: %w", err)
	}
	if _, err := exec.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("delete %d archived ranking rows: %w", len(ids), err)
	}
	return nil
}
