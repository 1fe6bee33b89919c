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

	"github.com/google/uuid"
)

// AuditLogEntry records a single mutating Control API call.
type AuditLogEntry struct {
	ID         string         `db:"id"`
	Actor      string         `db:"actor"`
	Action     string         `db:"action"`
	BeforeJSON sql.NullString `db:"before_json"`
	AfterJSON  sql.NullString `db:"after_json"`
	CreatedAt  string         `db:"created_at"`
}

// InsertAuditLogEntry writes one audit row. Every mutating Control API
// method calls this, unconditionally, before returning success.
func (s *Store) InsertAuditLogEntry(ctx context.Context, actor, action, beforeJSON, afterJSON string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO audit_log_entries (id, actor, action, before_json, after_json, created_at)
VALUES (?, ?, ?, ?, ?, ?)`, uuid.NewString(), actor, action, nullIfEmpty(beforeJSON), nullIfEmpty(afterJSON), nowUTC())
	if err != nil {
		return fmt.Errorf("insert audit log entry action=%s: %w", action, err)
	}
	return nil
}

// ListAuditLog returns the most recent audit entries, newest first.
func (s *Store) ListAuditLog(ctx context.Context, limit int) ([]*AuditLogEntry, error) {
	var rows []*AuditLogEntry
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM audit_log_entries ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	return rows, nil
}

// InsertEnrichmentAttemptReset logs an operator-triggered reset of an
// entity's enrichment_attempts counter (spec resolution: resets are
// explicit-only, never time-based).
func (s *Store) InsertEnrichmentAttemptReset(ctx context.Context, entityType string, upstreamID int64, actor string, previousAttempts int) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO enrichment_attempt_resets (id, entity_type, upstream_id, actor, previous_attempts, reset_at)
VALUES (?, ?, ?, ?, ?, ?)`, uuid.NewString(), entityType, upstreamID, actor, previousAttempts, nowUTC())
	if err != nil {
		return fmt.Errorf("insert enrichment attempt reset %s/%d: %w", entityType, upstreamID, err)
	}
	return nil
}

// ResetRepositoryEnrichmentAttempts zeroes a repository's attempt counter
// and is_enriched flag and logs the reset.
func (s *Store) ResetRepositoryEnrichmentAttempts(ctx context.Context, upstreamID int64, actor string) error {
	r, err := s.GetRepositoryByUpstreamID(ctx, upstreamID)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE repositories SET enrichment_attempts = 0, is_enriched = 0, updated_at = ? WHERE upstream_id = ?`, nowUTC(), upstreamID)
	if err != nil {
		return fmt.Errorf("reset repository enrichment attempts %d: %w", upstreamID, err)
	}
	return s.InsertEnrichmentAttemptReset(ctx, "repository", upstreamID, actor, r.EnrichmentAttempts)
}

// ResetContributorEnrichmentAttempts zeroes a contributor's attempt counter
// and is_enriched flag and logs the reset.
func (s *Store) ResetContributorEnrichmentAttempts(ctx context.Context, upstreamID int64, actor string) error {
	c, err := s.GetContributorByUpstreamID(ctx, upstreamID)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE contributors SET enrichment_attempts = 0, is_enriched = 0, updated_at = ? WHERE upstream_id = ?`, nowUTC(), upstreamID)
	if err != nil {
		return fmt.Errorf("reset contributor enrichment attempts %d: %w", upstreamID, err)
	}
	return s.InsertEnrichmentAttemptReset(ctx, "contributor", upstreamID, actor, c.EnrichmentAttempts)
}
