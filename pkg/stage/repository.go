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

package stage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/abcxyz/pkg/logging"

	"github.com/abcxyz/repo-pulse/pkg/store"
)

// ContributorRef identifies a contributor by whatever upstream data is
// available: an upstream id, a username, or neither (bot/email-only).
type ContributorRef struct {
	UpstreamID int64
	Username   string
	IsBot      bool
}

// RepositoryInput is the Repository processor's typed input: an upstream
// repository record, optionally with its owner sub-record inline.
type RepositoryInput struct {
	UpstreamID      int64
	FullName        string
	DisplayName     string
	Description     string
	URL             string
	Stars           int
	Forks           int
	WatcherCount    int
	OpenIssuesCount int
	Size            int
	PrimaryLanguage string
	License         string
	DefaultBranch   string
	IsFork          bool
	IsArchived      bool
	LastUpdatedAt   time.Time
	Owner           *ContributorRef
}

// RepositoryProcessor upserts repositories, resolving and recursively
// upserting the owner as a Contributor first within the same transaction.
type RepositoryProcessor struct {
	store        *store.Store
	contributors *ContributorProcessor
}

// NewRepositoryProcessor builds a RepositoryProcessor over s.
func NewRepositoryProcessor(s *store.Store) *RepositoryProcessor {
	return &RepositoryProcessor{store: s, contributors: NewContributorProcessor(s)}
}

// Process upserts one repository, returning its stable local id.
func (p *RepositoryProcessor) Process(ctx context.Context, in *RepositoryInput) (string, error) {
	var localID string
	err := p.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		var ownerID string
		if in.Owner != nil {
			id, resolveErr := p.contributors.Resolve(ctx, tx, *in.Owner)
			if resolveErr != nil {
				// Owner resolution failing is not fatal to the repository
				// record: it is persisted with a null owner and remains
				// eligible for future enrichment passes.
				logging.FromContext(ctx).WarnContext(ctx, "repository owner resolution failed, leaving owner null",
					"repository_upstream_id", in.UpstreamID, "error", resolveErr.Error())
			} else {
				ownerID = id
			}
		}

		r := &store.Repository{
			UpstreamID:      in.UpstreamID,
			FullName:        in.FullName,
			DisplayName:     nullableString(in.DisplayName),
			Description:     nullableString(in.Description),
			URL:             nullableString(in.URL),
			Stars:           in.Stars,
			Forks:           in.Forks,
			WatcherCount:    in.WatcherCount,
			OpenIssuesCount: in.OpenIssuesCount,
			Size:            in.Size,
			PrimaryLanguage: nullableString(in.PrimaryLanguage),
			License:         nullableString(in.License),
			DefaultBranch:   nullableString(in.DefaultBranch),
			IsFork:          in.IsFork,
			IsArchived:      in.IsArchived,
			OwnerID:         nullableString(ownerID),
		}
		if !in.LastUpdatedAt.IsZero() {
			r.LastUpdatedAt = nullableString(in.LastUpdatedAt.UTC().Format(time.RFC3339Nano))
		}

		id, err := p.store.UpsertRepository(ctx, tx, r)
		if err != nil {
			return fmt.Errorf("upsert repository %s: %w", in.FullName, err)
		}

		commitCount, err := p.store.CountDistinctCommitsByRepository(ctx, id)
		if err != nil {
			return fmt.Errorf("count commits for activity classification %s: %w", id, err)
		}
		if err := p.store.SetRepositoryActivityLevel(ctx, tx, id, classifyActivityLevel(commitCount)); err != nil {
			return err
		}

		localID = id
		return nil
	})
	if err != nil {
		return "", err
	}
	return localID, nil
}

// classifyActivityLevel buckets a repository's observed distinct-commit
// count into a three-tier activity label.
func classifyActivityLevel(commitCount int) string {
	switch {
	case commitCount >= 100:
		return "high"
	case commitCount >= 20:
		return "medium"
	default:
		return "low"
	}
}

// nullableString converts a plain-string processor field into the
// sql.NullString the Store's nullable columns expect, treating a blank
// string as absent rather than an explicit empty value.
func nullableString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
