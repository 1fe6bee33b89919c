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
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// placeholderUpstreamIDSeq mints synthetic negative upstream ids for
// bot/email-only contributors that have no real upstream id to key on.
// upstream_id is NOT NULL UNIQUE, so every placeholder still needs a
// distinct value; real GitHub ids are always positive, so the negative
// range can never collide with one.
var placeholderUpstreamIDSeq = int64(-time.Now().UnixNano() % 1_000_000_000_000)

func nextPlaceholderUpstreamID() int64 {
	return atomic.AddInt64(&placeholderUpstreamIDSeq, -1)
}

// Contributor is the persisted row shape for an upstream user, including
// anonymous/placeholder and bot identities.
type Contributor struct {
	ID                  string         `db:"id"`
	UpstreamID          int64          `db:"upstream_id"`
	Username            sql.NullString `db:"username"`
	DisplayName         sql.NullString `db:"display_name"`
	AvatarURL           sql.NullString `db:"avatar_url"`
	Bio                 sql.NullString `db:"bio"`
	Company             sql.NullString `db:"company"`
	Blog                sql.NullString `db:"blog"`
	Location            sql.NullString `db:"location"`
	Twitter             sql.NullString `db:"twitter"`
	FollowerCount       int            `db:"follower_count"`
	PublicRepoCount     int            `db:"public_repo_count"`
	ImpactScore         float64        `db:"impact_score"`
	Role                sql.NullString `db:"role"`
	TopLanguages        string         `db:"top_languages"`
	Organizations       string         `db:"organizations"`
	FirstContributedAt  sql.NullString `db:"first_contributed_at"`
	LastContributedAt   sql.NullString `db:"last_contributed_at"`
	CommitCount         int            `db:"commit_count"`
	MergedPRCount       int            `db:"merged_pr_count"`
	RejectedPRCount     int            `db:"rejected_pr_count"`
	ReviewCount         int            `db:"review_count"`
	IsPlaceholder       bool           `db:"is_placeholder"`
	IsBot               bool           `db:"is_bot"`
	IsEnriched          bool           `db:"is_enriched"`
	EnrichmentAttempts  int            `db:"enrichment_attempts"`
	CreatedAt           string         `db:"created_at"`
	UpdatedAt           string         `db:"updated_at"`
}

// UpsertContributor inserts or updates a Contributor keyed on upstream id.
// Resolution for callers that only have a username or bot name (no upstream
// id yet) goes through ResolveContributor instead.
func (s *Store) UpsertContributor(ctx context.Context, tx *sqlx.Tx, c *Contributor) (string, error) {
	exec := sqlExecer(s, tx)

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.TopLanguages == "" {
		c.TopLanguages = "[]"
	}
	if c.Organizations == "" {
		c.Organizations = "[]"
	}
	now := nowUTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	const q = `
INSERT INTO contributors (
	id, upstream_id, username, display_name, avatar_url, bio, company, blog,
	location, twitter, follower_count, public_repo_count, impact_score, role,
	top_languages, organizations, first_contributed_at, last_contributed_at,
	commit_count, merged_pr_count, rejected_pr_count, review_count,
	is_placeholder, is_bot, is_enriched, enrichment_attempts, created_at, updated_at
) VALUES (
	:id, :upstream_id, :username, :display_name, :avatar_url, :bio, :company, :blog,
	:location, :twitter, :follower_count, :public_repo_count, :impact_score, :role,
	:top_languages, :organizations, :first_contributed_at, :last_contributed_at,
	:commit_count, :merged_pr_count, :rejected_pr_count, :review_count,
	:is_placeholder, :is_bot, :is_enriched, :enrichment_attempts, :created_at, :updated_at
)
ON CONFLICT(upstream_id) DO UPDATE SET
	username            = COALESCE(excluded.username, contributors.username),
	display_name        = COALESCE(excluded.display_name, contributors.display_name),
	avatar_url          = COALESCE(excluded.avatar_url, contributors.avatar_url),
	bio                 = COALESCE(excluded.bio, contributors.bio),
	company             = COALESCE(excluded.company, contributors.company),
	blog                = COALESCE(excluded.blog, contributors.blog),
	location            = COALESCE(excluded.location, contributors.location),
	twitter             = COALESCE(excluded.twitter, contributors.twitter),
	follower_count      = excluded.follower_count,
	public_repo_count   = excluded.public_repo_count,
	is_placeholder      = CASE WHEN contributors.is_placeholder = 0 THEN 0 ELSE excluded.is_placeholder END,
	is_bot              = excluded.is_bot,
	updated_at          = excluded.updated_at
`

	if _, err := exec.NamedExec(q, c); err != nil {
		return "", fmt.Errorf("upsert contributor %d: %w", c.UpstreamID, err)
	}

	existing, err := s.getContributorByUpstreamIDExec(ctx, exec, c.UpstreamID)
	if err != nil {
		return "", err
	}
	return existing.ID, nil
}

// GetContributorByUpstreamID looks up a Contributor by upstream numeric id.
func (s *Store) GetContributorByUpstreamID(ctx context.Context, upstreamID int64) (*Contributor, error) {
	return s.getContributorByUpstreamIDExec(ctx, s.db, upstreamID)
}

func (s *Store) getContributorByUpstreamIDExec(ctx context.Context, q sqlx.QueryerContext, upstreamID int64) (*Contributor, error) {
	var c Contributor
	err := sqlx.GetContext(ctx, q, &c, `SELECT * FROM contributors WHERE upstream_id = ?`, upstreamID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Entity: "contributor", Key: fmt.Sprintf("upstream_id=%d", upstreamID)}
	}
	if err != nil {
		return nil, fmt.Errorf("get contributor by upstream id %d: %w", upstreamID, err)
	}
	return &c, nil
}

// GetContributorByUsername looks up a Contributor by username (nullable
// column; placeholders never match here).
func (s *Store) GetContributorByUsername(ctx context.Context, username string) (*Contributor, error) {
	return s.getContributorByUsernameExec(ctx, s.db, username)
}

func (s *Store) getContributorByUsernameExec(ctx context.Context, q sqlx.QueryerContext, username string) (*Contributor, error) {
	var c Contributor
	err := sqlx.GetContext(ctx, q, &c, `SELECT * FROM contributors WHERE username = ?`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Entity: "contributor", Key: fmt.Sprintf("username=%s", username)}
	}
	if err != nil {
		return nil, fmt.Errorf("get contributor by username %s: %w", username, err)
	}
	return &c, nil
}

// ResolveContributor returns the local id of the contributor with
// upstreamID if one exists. On a miss it inserts a new row: a resolved
// record when username is known, otherwise a placeholder with a null
// username for bot/email-only identities. It does not look up by username.
func (s *Store) ResolveContributor(ctx context.Context, tx *sqlx.Tx, upstreamID int64, username string, isBot bool) (string, error) {
	exec := sqlExecer(s, tx)

	if upstreamID != 0 {
		existing, err := s.getContributorByUpstreamIDExec(ctx, exec, upstreamID)
		if err == nil {
			return existing.ID, nil
		}
		var nfe *NotFoundError
		if !errors.As(err, &nfe) {
			return "", err
		}
	}

	placeholder := username == ""
	if upstreamID == 0 {
		// No real upstream id to key on (bot/email-only identity): mint a
		// synthetic one so the upstream_id UNIQUE constraint doesn't fold
		// every such contributor into a single row.
		upstreamID = nextPlaceholderUpstreamID()
	}
	c := &Contributor{
		UpstreamID:    upstreamID,
		Username:      nullIfEmpty(username),
		IsPlaceholder: placeholder,
		IsBot:         isBot,
	}
	return s.UpsertContributor(ctx, tx, c)
}

// MergeContributors folds src into dst and repoints every foreign key that
// references src. dst is kept whichever of the two local ids is lower. Both
// local ids must already exist; src is deleted once repointed.
func (s *Store) MergeContributors(ctx context.Context, tx *sqlx.Tx, dstID, srcID string) error {
	if dstID == srcID {
		return nil
	}
	exec := sqlExecer(s, tx)

	statements := []string{
		`UPDATE repositories SET owner_id = ? WHERE owner_id = ?`,
		`UPDATE merge_requests SET author_id = ? WHERE author_id = ?`,
		`UPDATE merge_requests SET merger_id = ? WHERE merger_id = ?`,
		`UPDATE commits SET contributor_id = ? WHERE contributor_id = ?`,
		`UPDATE contributor_repositories SET contributor_id = ? WHERE contributor_id = ?`,
		`UPDATE contributor_rankings SET contributor_id = ? WHERE contributor_id = ?`,
	}
	for _, stmt := range statements {
		if _, err := exec.ExecContext(ctx, stmt, dstID, srcID); err != nil {
			return fmt.Errorf("repoint contributor refs (%s -> %s): %w", srcID, dstID, err)
		}
	}

	if _, err := exec.ExecContext(ctx, `DELETE FROM contributors WHERE id = ?`, srcID); err != nil {
		return fmt.Errorf("delete merged contributor %s: %w", srcID, err)
	}
	return nil
}

// ResolveContributorIdentity promotes a placeholder contributor (real
// upstream id, username not yet known) to a resolved identity once
// enrichment discovers its login. If another row already exists under that
// username — e.g. a synthetic placeholder minted earlier from an
// email-only commit author for the same person — it is folded into id via
// MergeContributors rather than left as a duplicate.
func (s *Store) ResolveContributorIdentity(ctx context.Context, tx *sqlx.Tx, id, username string) error {
	exec := sqlExecer(s, tx)

	existing, err := s.getContributorByUsernameExec(ctx, exec, username)
	if err == nil && existing.ID != id {
		if err := s.MergeContributors(ctx, tx, id, existing.ID); err != nil {
			return fmt.Errorf("resolve contributor identity %s: %w", id, err)
		}
	} else if err != nil {
		var nfe *NotFoundError
		if !errors.As(err, &nfe) {
			return fmt.Errorf("resolve contributor identity %s: %w", id, err)
		}
	}

	if _, err := exec.ExecContext(ctx, `UPDATE contributors SET username = ?, is_placeholder = 0, updated_at = ? WHERE id = ?`,
		username, nowUTC(), id); err != nil {
		return fmt.Errorf("resolve contributor identity %s: set username: %w", id, err)
	}
	return nil
}

// ListUnenrichedContributors returns up to limit contributors with
// is_enriched=false and enrichment_attempts below maxAttempts.
func (s *Store) ListUnenrichedContributors(ctx context.Context, maxAttempts, limit int) ([]*Contributor, error) {
	var rows []*Contributor
	err := s.db.SelectContext(ctx, &rows, `
SELECT * FROM contributors
WHERE is_enriched = 0 AND enrichment_attempts < ?
ORDER BY created_at ASC
LIMIT ?`, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("list unenriched contributors: %w", err)
	}
	return rows, nil
}

// IncrementContributorEnrichmentAttempts bumps the attempt counter before an
// upstream enrichment call.
func (s *Store) IncrementContributorEnrichmentAttempts(ctx context.Context, tx *sqlx.Tx, id string) error {
	exec := sqlExecer(s, tx)
	_, err := exec.ExecContext(ctx, `UPDATE contributors SET enrichment_attempts = enrichment_attempts + 1, updated_at = ? WHERE id = ?`, nowUTC(), id)
	if err != nil {
		return fmt.Errorf("increment contributor enrichment attempts %s: %w", id, err)
	}
	return nil
}

// UpdateContributorEnrichment persists the extended profile fields an
// enrichment call produces and marks the record enriched.
func (s *Store) UpdateContributorEnrichment(ctx context.Context, tx *sqlx.Tx, id string, bio, company, blog, location, twitter string, followers int, topLanguagesJSON, organizationsJSON string) error {
	exec := sqlExecer(s, tx)
	_, err := exec.ExecContext(ctx, `
UPDATE contributors SET
	bio = COALESCE(?, bio),
	company = COALESCE(?, company),
	blog = COALESCE(?, blog),
	location = COALESCE(?, location),
	twitter = COALESCE(?, twitter),
	follower_count = ?,
	top_languages = ?,
	organizations = ?,
	is_enriched = 1,
	updated_at = ?
WHERE id = ?`,
		nullIfEmpty(bio), nullIfEmpty(company), nullIfEmpty(blog), nullIfEmpty(location), nullIfEmpty(twitter),
		followers, topLanguagesJSON, organizationsJSON, nowUTC(), id)
	if err != nil {
		return fmt.Errorf("update contributor enrichment %s: %w", id, err)
	}
	return nil
}
