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
	"github.com/jmoiron/sqlx"
)

// Repository is the persisted row shape for an upstream repository.
type Repository struct {
	ID                 string         `db:"id"`
	UpstreamID         int64          `db:"upstream_id"`
	FullName           string         `db:"full_name"`
	DisplayName        sql.NullString `db:"display_name"`
	Description        sql.NullString `db:"description"`
	URL                sql.NullString `db:"url"`
	Stars              int            `db:"stars"`
	Forks              int            `db:"forks"`
	WatcherCount       int            `db:"watcher_count"`
	OpenIssuesCount    int            `db:"open_issues_count"`
	Size               int            `db:"size"`
	PrimaryLanguage    sql.NullString `db:"primary_language"`
	License            sql.NullString `db:"license"`
	DefaultBranch      sql.NullString `db:"default_branch"`
	IsFork             bool           `db:"is_fork"`
	IsArchived         bool           `db:"is_archived"`
	LastUpdatedAt      sql.NullString `db:"last_updated_at"`
	OwnerID            sql.NullString `db:"owner_id"`
	OwnerUpstreamID    sql.NullInt64  `db:"owner_upstream_id"`
	IsEnriched         bool           `db:"is_enriched"`
	EnrichmentAttempts int            `db:"enrichment_attempts"`
	ActivityLevel      string         `db:"activity_level"`
	CreatedAt          string         `db:"created_at"`
	UpdatedAt          string         `db:"updated_at"`
}

// UpsertRepository inserts or updates a Repository keyed on upstream id.
// COALESCE ordering guarantees an UPDATE never clobbers a populated column
// with a caller-supplied NULL.
func (s *Store) UpsertRepository(ctx context.Context, tx *sqlx.Tx, r *Repository) (string, error) {
	exec := sqlExecer(s, tx)

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := nowUTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	if r.ActivityLevel == "" {
		r.ActivityLevel = "low"
	}

	const q = `
INSERT INTO repositories (
	id, upstream_id, full_name, display_name, description, url, stars, forks,
	watcher_count, open_issues_count, size, primary_language, license,
	default_branch, is_fork, is_archived, last_updated_at, owner_id,
	owner_upstream_id, is_enriched, enrichment_attempts, activity_level, created_at, updated_at
) VALUES (
	:id, :upstream_id, :full_name, :display_name, :description, :url, :stars, :forks,
	:watcher_count, :open_issues_count, :size, :primary_language, :license,
	:default_branch, :is_fork, :is_archived, :last_updated_at, :owner_id,
	:owner_upstream_id, :is_enriched, :enrichment_attempts, :activity_level, :created_at, :updated_at
)
ON CONFLICT(upstream_id) DO UPDATE SET
	full_name           = excluded.full_name,
	display_name        = COALESCE(excluded.display_name, repositories.display_name),
	description         = COALESCE(excluded.description, repositories.description),
	url                 = COALESCE(excluded.url, repositories.url),
	stars               = excluded.stars,
	forks               = excluded.forks,
	watcher_count       = excluded.watcher_count,
	open_issues_count   = excluded.open_issues_count,
	size                = excluded.size,
	primary_language    = COALESCE(excluded.primary_language, repositories.primary_language),
	license             = COALESCE(excluded.license, repositories.license),
	default_branch      = COALESCE(excluded.default_branch, repositories.default_branch),
	is_fork             = excluded.is_fork,
	is_archived         = excluded.is_archived,
	last_updated_at     = COALESCE(excluded.last_updated_at, repositories.last_updated_at),
	owner_id            = COALESCE(excluded.owner_id, repositories.owner_id),
	owner_upstream_id   = COALESCE(excluded.owner_upstream_id, repositories.owner_upstream_id),
	activity_level      = excluded.activity_level,
	updated_at          = excluded.updated_at
`

	if _, err := exec.NamedExec(q, r); err != nil {
		return "", fmt.Errorf("upsert repository %d: %w", r.UpstreamID, err)
	}

	// ON CONFLICT keeps the original row's id; re-read it so callers always
	// get the canonical local id back, not the generated-but-discarded one.
	existing, err := s.getRepositoryByUpstreamIDExec(ctx, exec, r.UpstreamID)
	if err != nil {
		return "", err
	}
	return existing.ID, nil
}

// GetRepositoryByUpstreamID looks up a Repository by its upstream numeric id.
func (s *Store) GetRepositoryByUpstreamID(ctx context.Context, upstreamID int64) (*Repository, error) {
	return s.getRepositoryByUpstreamIDExec(ctx, s.db, upstreamID)
}

// GetRepositoryByID looks up a Repository by its local id.
func (s *Store) GetRepositoryByID(ctx context.Context, id string) (*Repository, error) {
	var r Repository
	err := s.db.GetContext(ctx, &r, `SELECT * FROM repositories WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Entity: "repository", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get repository by id %s: %w", id, err)
	}
	return &r, nil
}

func (s *Store) getRepositoryByUpstreamIDExec(ctx context.Context, q sqlx.QueryerContext, upstreamID int64) (*Repository, error) {
	var r Repository
	err := sqlx.GetContext(ctx, q, &r, `SELECT * FROM repositories WHERE upstream_id = ?`, upstreamID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Entity: "repository", Key: fmt.Sprintf("upstream_id=%d", upstreamID)}
	}
	if err != nil {
		return nil, fmt.Errorf("get repository by upstream id %d: %w", upstreamID, err)
	}
	return &r, nil
}

// ListUnenrichedRepositories returns up to limit repositories with
// is_enriched=false and enrichment_attempts below maxAttempts, oldest first.
func (s *Store) ListUnenrichedRepositories(ctx context.Context, maxAttempts, limit int) ([]*Repository, error) {
	var rows []*Repository
	err := s.db.SelectContext(ctx, &rows, `
SELECT * FROM repositories
WHERE is_enriched = 0 AND enrichment_attempts < ?
ORDER BY created_at ASC
LIMIT ?`, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("list unenriched repositories: %w", err)
	}
	return rows, nil
}

// IncrementRepositoryEnrichmentAttempts bumps the attempt counter before an
// upstream enrichment call, per the monotonic-attempts invariant.
func (s *Store) IncrementRepositoryEnrichmentAttempts(ctx context.Context, tx *sqlx.Tx, id string) error {
	exec := sqlExecer(s, tx)
	_, err := exec.ExecContext(ctx, `UPDATE repositories SET enrichment_attempts = enrichment_attempts + 1, updated_at = ? WHERE id = ?`, nowUTC(), id)
	if err != nil {
		return fmt.Errorf("increment repository enrichment attempts %s: %w", id, err)
	}
	return nil
}

// SetRepositoryActivityLevel updates the derived activity classification the
// Repository processor computes from observed commit frequency.
func (s *Store) SetRepositoryActivityLevel(ctx context.Context, tx *sqlx.Tx, id, level string) error {
	exec := sqlExecer(s, tx)
	_, err := exec.ExecContext(ctx, `UPDATE repositories SET activity_level = ?, updated_at = ? WHERE id = ?`, level, nowUTC(), id)
	if err != nil {
		return fmt.Errorf("set repository activity level %s: %w", id, err)
	}
	return nil
}

// TopLanguagesForOwner returns the primary languages of repositories owned
// by contributorID, most-common first, used to populate a contributor's
// top_languages enrichment field from locally known data rather than a
// further upstream call.
func (s *Store) TopLanguagesForOwner(ctx context.Context, contributorID string, limit int) ([]string, error) {
	var langs []string
	err := s.db.SelectContext(ctx, &langs, `
SELECT primary_language FROM repositories
WHERE owner_id = ? AND primary_language IS NOT NULL AND primary_language != ''
GROUP BY primary_language
ORDER BY COUNT(*) DESC
LIMIT ?`, contributorID, limit)
	if err != nil {
		return nil, fmt.Errorf("top languages for owner %s: %w", contributorID, err)
	}
	return langs, nil
}

// MarkRepositoryEnriched sets is_enriched=true for the given local id.
func (s *Store) MarkRepositoryEnriched(ctx context.Context, tx *sqlx.Tx, id string) error {
	exec := sqlExecer(s, tx)
	_, err := exec.ExecContext(ctx, `UPDATE repositories SET is_enriched = 1, updated_at = ? WHERE id = ?`, nowUTC(), id)
	if err != nil {
		return fmt.Errorf("mark repository enriched %s: %w", id, err)
	}
	return nil
}
