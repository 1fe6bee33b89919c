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

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ContributorRepository is the per-(contributor, repository) aggregate row.
type ContributorRepository struct {
	ID                  string `db:"id"`
	ContributorID       string `db:"contributor_id"`
	RepositoryID        string `db:"repository_id"`
	CommitCount         int    `db:"commit_count"`
	MergeRequestCount   int    `db:"merge_request_count"`
	ReviewCount         int    `db:"review_count"`
	IssuesOpenedCount   int    `db:"issues_opened_count"`
	FirstContributedAt  string `db:"first_contributed_at"`
	LastContributedAt   string `db:"last_contributed_at"`
	LinesAdded          int    `db:"lines_added"`
	LinesRemoved        int    `db:"lines_removed"`
}

// UpsertContributorRepository adds the supplied deltas to the aggregate row
// for (contributorID, repositoryID), creating it if absent. FirstContributedAt
// only moves earlier, LastContributedAt only moves later.
func (s *Store) UpsertContributorRepository(ctx context.Context, tx *sqlx.Tx, contributorID, repositoryID string, commitDelta, mrDelta, reviewDelta, issuesDelta, linesAddedDelta, linesRemovedDelta int, contributedAt string) error {
	exec := sqlExecer(s, tx)

	const q = `
INSERT INTO contributor_repositories (
	id, contributor_id, repository_id, commit_count, merge_request_count, review_count,
	issues_opened_count, first_contributed_at, last_contributed_at, lines_added, lines_removed
) VALUES (
	?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
)
ON CONFLICT(contributor_id, repository_id) DO UPDATE SET
	commit_count         = contributor_repositories.commit_count + excluded.commit_count,
	merge_request_count  = contributor_repositories.merge_request_count + excluded.merge_request_count,
	review_count         = contributor_repositories.review_count + excluded.review_count,
	issues_opened_count  = contributor_repositories.issues_opened_count + excluded.issues_opened_count,
	first_contributed_at = MIN(contributor_repositories.first_contributed_at, excluded.first_contributed_at),
	last_contributed_at  = MAX(contributor_repositories.last_contributed_at, excluded.last_contributed_at),
	lines_added          = contributor_repositories.lines_added + excluded.lines_added,
	lines_removed        = contributor_repositories.lines_removed + excluded.lines_removed
`
	_, err := exec.ExecContext(ctx, q, uuid.NewString(), contributorID, repositoryID, commitDelta, mrDelta,
		reviewDelta, issuesDelta, contributedAt, contributedAt, linesAddedDelta, linesRemovedDelta)
	if err != nil {
		return fmt.Errorf("upsert contributor_repository %s/%s: %w", contributorID, repositoryID, err)
	}
	return nil
}

// ListContributorRepositories returns every aggregate row for a contributor,
// used by the Ranking processor's repo_popularity_score/repo_influence_score.
func (s *Store) ListContributorRepositories(ctx context.Context, contributorID string) ([]*ContributorRepository, error) {
	var rows []*ContributorRepository
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM contributor_repositories WHERE contributor_id = ?`, contributorID)
	if err != nil {
		return nil, fmt.Errorf("list contributor_repositories for %s: %w", contributorID, err)
	}
	return rows, nil
}
