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

// MergeRequestState enumerates the normalized pull-request lifecycle state.
type MergeRequestState string

const (
	MergeRequestStateOpen   MergeRequestState = "open"
	MergeRequestStateClosed MergeRequestState = "closed"
	MergeRequestStateMerged MergeRequestState = "merged"
)

// MergeRequest is the persisted row shape for an upstream pull request.
type MergeRequest struct {
	ID                   string         `db:"id"`
	Number               int            `db:"number"`
	RepositoryID         string         `db:"repository_id"`
	RepositoryUpstreamID int64          `db:"repository_upstream_id"`
	AuthorID             sql.NullString `db:"author_id"`
	AuthorUpstreamID     sql.NullInt64  `db:"author_upstream_id"`
	Title                sql.NullString `db:"title"`
	Description          sql.NullString `db:"description"`
	State                string         `db:"state"`
	IsDraft              bool           `db:"is_draft"`
	CreatedAt            string         `db:"created_at"`
	UpdatedAt            sql.NullString `db:"updated_at"`
	ClosedAt             sql.NullString `db:"closed_at"`
	MergedAt             sql.NullString `db:"merged_at"`
	MergerID             sql.NullString `db:"merger_id"`
	MergerUpstreamID     sql.NullInt64  `db:"merger_upstream_id"`
	CommitCount          int            `db:"commit_count"`
	Additions            int            `db:"additions"`
	Deletions            int            `db:"deletions"`
	ChangedFiles         int            `db:"changed_files"`
	ReviewCount          int            `db:"review_count"`
	CommentCount         int            `db:"comment_count"`
	ComplexityScore      sql.NullFloat64 `db:"complexity_score"`
	ReviewTimeHours      sql.NullFloat64 `db:"review_time_hours"`
	CycleTimeHours       sql.NullFloat64 `db:"cycle_time_hours"`
	Labels               string         `db:"labels"`
	HeadBranch           sql.NullString `db:"head_branch"`
	BaseBranch           sql.NullString `db:"base_branch"`
	IsEnriched           bool           `db:"is_enriched"`
	EnrichmentAttempts   int            `db:"enrichment_attempts"`
}

// UpsertMergeRequest inserts or updates a MergeRequest keyed on
// (repository upstream id, PR number).
func (s *Store) UpsertMergeRequest(ctx context.Context, tx *sqlx.Tx, mr *MergeRequest) (string, error) {
	exec := sqlExecer(s, tx)

	if mr.ID == "" {
		mr.ID = uuid.NewString()
	}
	if mr.Labels == "" {
		mr.Labels = "[]"
	}

	const q = `
INSERT INTO merge_requests (
	id, number, repository_id, repository_upstream_id, author_id, author_upstream_id,
	title, description, state, is_draft, created_at, updated_at, closed_at, merged_at,
	merger_id, merger_upstream_id, commit_count, additions, deletions, changed_files,
	review_count, comment_count, complexity_score, review_time_hours, cycle_time_hours,
	labels, head_branch, base_branch, is_enriched, enrichment_attempts
) VALUES (
	:id, :number, :repository_id, :repository_upstream_id, :author_id, :author_upstream_id,
	:title, :description, :state, :is_draft, :created_at, :updated_at, :closed_at, :merged_at,
	:merger_id, :merger_upstream_id, :commit_count, :additions, :deletions, :changed_files,
	:review_count, :comment_count, :complexity_score, :review_time_hours, :cycle_time_hours,
	:labels, :head_branch, :base_branch, :is_enriched, :enrichment_attempts
)
ON CONFLICT(repository_upstream_id, number) DO UPDATE SET
	author_id          = COALESCE(excluded.author_id, merge_requests.author_id),
	author_upstream_id = COALESCE(excluded.author_upstream_id, merge_requests.author_upstream_id),
	title              = COALESCE(excluded.title, merge_requests.title),
	description        = COALESCE(excluded.description, merge_requests.description),
	state              = excluded.state,
	is_draft           = excluded.is_draft,
	updated_at         = COALESCE(excluded.updated_at, merge_requests.updated_at),
	closed_at          = COALESCE(excluded.closed_at, merge_requests.closed_at),
	merged_at          = COALESCE(excluded.merged_at, merge_requests.merged_at),
	merger_id          = COALESCE(excluded.merger_id, merge_requests.merger_id),
	merger_upstream_id = COALESCE(excluded.merger_upstream_id, merge_requests.merger_upstream_id),
	commit_count       = excluded.commit_count,
	additions          = excluded.additions,
	deletions          = excluded.deletions,
	changed_files      = excluded.changed_files,
	review_count       = excluded.review_count,
	comment_count      = excluded.comment_count,
	complexity_score   = COALESCE(excluded.complexity_score, merge_requests.complexity_score),
	review_time_hours  = COALESCE(excluded.review_time_hours, merge_requests.review_time_hours),
	cycle_time_hours   = COALESCE(excluded.cycle_time_hours, merge_requests.cycle_time_hours),
	labels             = excluded.labels,
	head_branch        = COALESCE(excluded.head_branch, merge_requests.head_branch),
	base_branch        = COALESCE(excluded.base_branch, merge_requests.base_branch)
`

	if _, err := exec.NamedExec(q, mr); err != nil {
		return "", fmt.Errorf("upsert merge request %d/#%d: %w", mr.RepositoryUpstreamID, mr.Number, err)
	}

	existing, err := s.getMergeRequestByRepoAndNumberExec(ctx, exec, mr.RepositoryUpstreamID, mr.Number)
	if err != nil {
		return "", err
	}
	return existing.ID, nil
}

// GetMergeRequestByRepoAndNumber looks up a MergeRequest by its natural key.
func (s *Store) GetMergeRequestByRepoAndNumber(ctx context.Context, repoUpstreamID int64, number int) (*MergeRequest, error) {
	return s.getMergeRequestByRepoAndNumberExec(ctx, s.db, repoUpstreamID, number)
}

func (s *Store) getMergeRequestByRepoAndNumberExec(ctx context.Context, q sqlx.QueryerContext, repoUpstreamID int64, number int) (*MergeRequest, error) {
	var mr MergeRequest
	err := sqlx.GetContext(ctx, q, &mr, `SELECT * FROM merge_requests WHERE repository_upstream_id = ? AND number = ?`, repoUpstreamID, number)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Entity: "merge_request", Key: fmt.Sprintf("repo=%d number=%d", repoUpstreamID, number)}
	}
	if err != nil {
		return nil, fmt.Errorf("get merge request repo=%d number=%d: %w", repoUpstreamID, number, err)
	}
	return &mr, nil
}

// ListUnenrichedMergeRequests returns up to limit merge requests pending
// enrichment.
func (s *Store) ListUnenrichedMergeRequests(ctx context.Context, maxAttempts, limit int) ([]*MergeRequest, error) {
	var rows []*MergeRequest
	err := s.db.SelectContext(ctx, &rows, `
SELECT * FROM merge_requests
WHERE is_enriched = 0 AND enrichment_attempts < ?
ORDER BY created_at ASC
LIMIT ?`, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("list unenriched merge requests: %w", err)
	}
	return rows, nil
}

// IncrementMergeRequestEnrichmentAttempts bumps the attempt counter before
// an upstream enrichment call (e.g. fetching first-review timestamp).
func (s *Store) IncrementMergeRequestEnrichmentAttempts(ctx context.Context, tx *sqlx.Tx, id string) error {
	exec := sqlExecer(s, tx)
	_, err := exec.ExecContext(ctx, `UPDATE merge_requests SET enrichment_attempts = enrichment_attempts + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("increment merge request enrichment attempts %s: %w", id, err)
	}
	return nil
}

// MarkMergeRequestEnriched sets is_enriched=true and stores the derived
// review-time/cycle-time metrics.
func (s *Store) MarkMergeRequestEnriched(ctx context.Context, tx *sqlx.Tx, id string, reviewTimeHours, cycleTimeHours *float64) error {
	exec := sqlExecer(s, tx)
	_, err := exec.ExecContext(ctx, `
UPDATE merge_requests SET
	is_enriched = 1,
	review_time_hours = COALESCE(?, review_time_hours),
	cycle_time_hours = COALESCE(?, cycle_time_hours)
WHERE id = ?`, nullFloat(reviewTimeHours), nullFloat(cycleTimeHours), id)
	if err != nil {
		return fmt.Errorf("mark merge request enriched %s: %w", id, err)
	}
	return nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
