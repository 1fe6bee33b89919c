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
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// RawPayload is a single buffered blob awaiting transform. Kind tags which
// upstream resource it holds (e.g. "merge_request", "commit") so one
// table serves every fetch stage instead of per-kind tables.
type RawPayload struct {
	ID          int64          `db:"id"`
	Kind        string         `db:"kind"`
	Payload     string         `db:"payload"`
	IsProcessed bool           `db:"is_processed"`
	RunID       sql.NullString `db:"run_id"`
	LeasedAt    sql.NullString `db:"leased_at"`
	CreatedAt   string         `db:"created_at"`
	UpdatedAt   string         `db:"updated_at"`
}

// EnqueueRawPayload stores a raw JSON blob awaiting transform.
func (s *Store) EnqueueRawPayload(ctx context.Context, tx *sqlx.Tx, kind, payload string) (int64, error) {
	exec := sqlExecer(s, tx)
	now := nowUTC()
	res, err := exec.ExecContext(ctx, `
INSERT INTO raw_payloads (kind, payload, is_processed, created_at, updated_at)
VALUES (?, ?, 0, ?, ?)`, kind, payload, now, now)
	if err != nil {
		return 0, fmt.Errorf("enqueue raw payload kind=%s: %w", kind, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read inserted raw payload id: %w", err)
	}
	return id, nil
}

// DequeueRawPayloads returns up to limit unprocessed rows of the given kind
// in insertion order and leases them to runID, making them ineligible for a
// concurrent dequeue until leaseTTL elapses.
func (s *Store) DequeueRawPayloads(ctx context.Context, kind, runID string, limit int, leaseTTL time.Duration) ([]*RawPayload, error) {
	var rows []*RawPayload
	cutoff := time.Now().UTC().Add(-leaseTTL).Format(time.RFC3339Nano)

	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &rows, `
SELECT * FROM raw_payloads
WHERE kind = ? AND is_processed = 0 AND (leased_at IS NULL OR leased_at < ?)
ORDER BY id ASC
LIMIT ?`, kind, cutoff, limit); err != nil {
			return fmt.Errorf("select dequeue candidates: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		now := nowUTC()
		for _, r := range rows {
			if _, err := tx.ExecContext(ctx, `UPDATE raw_payloads SET run_id = ?, leased_at = ?, updated_at = ? WHERE id = ?`, runID, now, now, r.ID); err != nil {
				return fmt.Errorf("lease raw payload %d: %w", r.ID, err)
			}
			r.RunID = sql.NullString{String: runID, Valid: true}
			r.LeasedAt = sql.NullString{String: now, Valid: true}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkRawPayloadProcessed flips a row to processed once its derived rows
// have committed, per the "deleted or marked processed only after derived
// rows are committed" invariant.
func (s *Store) MarkRawPayloadProcessed(ctx context.Context, tx *sqlx.Tx, id int64) error {
	exec := sqlExecer(s, tx)
	_, err := exec.ExecContext(ctx, `UPDATE raw_payloads SET is_processed = 1, updated_at = ? WHERE id = ?`, nowUTC(), id)
	if err != nil {
		return fmt.Errorf("mark raw payload %d processed: %w", id, err)
	}
	return nil
}

// ReleaseRawPayload clears a failed row's lease so a different run may
// re-dequeue it immediately rather than waiting out the lease TTL.
func (s *Store) ReleaseRawPayload(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE raw_payloads SET run_id = NULL, leased_at = NULL, updated_at = ? WHERE id = ?`, nowUTC(), id)
	if err != nil {
		return fmt.Errorf("release raw payload %d: %w", id, err)
	}
	return nil
}

// QueueDepth returns the count of unprocessed rows for a kind, read by
// pkg/rawbuffer's backpressure gate and its Depth method.
func (s *Store) QueueDepth(ctx context.Context, kind string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM raw_payloads WHERE kind = ? AND is_processed = 0`, kind)
	if err != nil {
		return 0, fmt.Errorf("queue depth for kind %s: %w", kind, err)
	}
	return n, nil
}
