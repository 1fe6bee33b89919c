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
	"github.com/jmoiron/sqlx"
)

// FileStatus enumerates how a file changed within a commit.
type FileStatus string

const (
	FileStatusAdded    FileStatus = "added"
	FileStatusModified FileStatus = "modified"
	FileStatusDeleted  FileStatus = "deleted"
	FileStatusRenamed  FileStatus = "renamed"
)

// Commit is a single (sha, repository, filename) row. A commit SHA that
// touches N files produces N of these; callers aggregating commit counts
// must COUNT(DISTINCT sha).
type Commit struct {
	ID                      string          `db:"id"`
	SHA                     string          `db:"sha"`
	RepositoryID            string          `db:"repository_id"`
	RepositoryUpstreamID    int64           `db:"repository_upstream_id"`
	ContributorID           sql.NullString  `db:"contributor_id"`
	ContributorUpstreamID   sql.NullInt64   `db:"contributor_upstream_id"`
	MergeRequestID          sql.NullString  `db:"merge_request_id"`
	MergeRequestUpstreamID  sql.NullInt64   `db:"merge_request_upstream_id"`
	Message                 sql.NullString  `db:"message"`
	CommittedAt             sql.NullString  `db:"committed_at"`
	ParentSHAs              string          `db:"parent_shas"`
	Filename                string          `db:"filename"`
	FileStatus              string          `db:"file_status"`
	Additions               int             `db:"additions"`
	Deletions               int             `db:"deletions"`
	Patch                   sql.NullString  `db:"patch"`
	ComplexityScore         sql.NullFloat64 `db:"complexity_score"`
	IsMergeCommit           bool            `db:"is_merge_commit"`
	IsEnriched              bool            `db:"is_enriched"`
	EnrichmentAttempts      int             `db:"enrichment_attempts"`
}

// UpsertCommitFile inserts or updates a single (sha, repository, filename)
// row. Patch text is truncated by the caller (pkg/stage) before this call,
// per the size limit S the Commit processor contract names.
func (s *Store) UpsertCommitFile(ctx context.Context, tx *sqlx.Tx, c *Commit) (string, error) {
	exec := sqlExecer(s, tx)

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.ParentSHAs == "" {
		c.ParentSHAs = "[]"
	}

	const q = `
INSERT INTO commits (
	id, sha, repository_id, repository_upstream_id, contributor_id, contributor_upstream_id,
	merge_request_id, merge_request_upstream_id, message, committed_at, parent_shas, filename,
	file_status, additions, deletions, patch, complexity_score, is_merge_commit, is_enriched,
	enrichment_attempts
) VALUES (
	:id, :sha, :repository_id, :repository_upstream_id, :contributor_id, :contributor_upstream_id,
	:merge_request_id, :merge_request_upstream_id, :message, :committed_at, :parent_shas, :filename,
	:file_status, :additions, :deletions, :patch, :complexity_score, :is_merge_commit, :is_enriched,
	:enrichment_attempts
)
ON CONFLICT(sha, repository_id, filename) DO UPDATE SET
	contributor_id            = COALESCE(excluded.contributor_id, commits.contributor_id),
	contributor_upstream_id   = COALESCE(excluded.contributor_upstream_id, commits.contributor_upstream_id),
	merge_request_id          = COALESCE(excluded.merge_request_id, commits.merge_request_id),
	merge_request_upstream_id = COALESCE(excluded.merge_request_upstream_id, commits.merge_request_upstream_id),
	message                   = COALESCE(excluded.message, commits.message),
	committed_at              = COALESCE(excluded.committed_at, commits.committed_at),
	additions                 = excluded.additions,
	deletions                 = excluded.deletions,
	patch                     = COALESCE(excluded.patch, commits.patch),
	complexity_score          = COALESCE(excluded.complexity_score, commits.complexity_score),
	is_merge_commit           = excluded.is_merge_commit
`

	if _, err := exec.NamedExec(q, c); err != nil {
		return "", fmt.Errorf("upsert commit %s/%s: %w", c.SHA, c.Filename, err)
	}

	var id string
	err := sqlx.GetContext(ctx, exec.(sqlx.QueryerContext), &id, `SELECT id FROM commits WHERE sha = ? AND repository_id = ? AND filename = ?`, c.SHA, c.RepositoryID, c.Filename)
	if err != nil {
		return "", fmt.Errorf("read back commit id %s/%s: %w", c.SHA, c.Filename, err)
	}
	return id, nil
}

// ListUnenrichedCommits returns up to limit commit-file rows pending
// enrichment.
func (s *Store) ListUnenrichedCommits(ctx context.Context, maxAttempts, limit int) ([]*Commit, error) {
	var rows []*Commit
	err := s.db.SelectContext(ctx, &rows, `
SELECT * FROM commits
WHERE is_enriched = 0 AND enrichment_attempts < ?
ORDER BY rowid ASC
LIMIT ?`, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("list unenriched commits: %w", err)
	}
	return rows, nil
}

// CommitSHAExists reports whether any row for sha within repositoryID has
// already been recorded, used by the Commit processor to decide whether a
// commit is newly observed (and should bump contributor_repositories
// aggregates) or a re-delivery of one already processed.
func (s *Store) CommitSHAExists(ctx context.Context, repositoryID, sha string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM commits WHERE repository_id = ? AND sha = ?`, repositoryID, sha)
	if err != nil {
		return false, fmt.Errorf("check commit sha exists %s/%s: %w", repositoryID, sha, err)
	}
	return n > 0, nil
}

// CountDistinctCommitsByRepository returns the number of distinct commit
// SHAs recorded for a repository, honoring the one-row-per-file invariant.
func (s *Store) CountDistinctCommitsByRepository(ctx context.Context, repositoryID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(DISTINCT sha) FROM commits WHERE repository_id = ?`, repositoryID)
	if err != nil {
		return 0, fmt.Errorf("count distinct commits for repository %s: %w", repositoryID, err)
	}
	return n, nil
}

// IncrementCommitEnrichmentAttempts bumps the attempt counter before an
// upstream enrichment call for a single commit-file row.
func (s *Store) IncrementCommitEnrichmentAttempts(ctx context.Context, tx *sqlx.Tx, id string) error {
	exec := sqlExecer(s, tx)
	_, err := exec.ExecContext(ctx, `UPDATE commits SET enrichment_attempts = enrichment_attempts + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("increment commit enrichment attempts %s: %w", id, err)
	}
	return nil
}

// MarkCommitEnriched sets is_enriched=true and stores the patch text and
// complexity score a full commit fetch produces.
func (s *Store) MarkCommitEnriched(ctx context.Context, tx *sqlx.Tx, id string, patch sql.NullString, complexityScore sql.NullFloat64) error {
	exec := sqlExecer(s, tx)
	_, err := exec.ExecContext(ctx, `
UPDATE commits SET
	is_enriched = 1,
	patch = COALESCE(?, patch),
	complexity_score = COALESCE(?, complexity_score)
WHERE id = ?`, patch, complexityScore, id)
	if err != nil {
		return fmt.Errorf("mark commit enriched %s: %w", id, err)
	}
	return nil
}
