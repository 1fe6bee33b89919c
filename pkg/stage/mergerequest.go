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
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/abcxyz/repo-pulse/pkg/store"
)

// MergeRequestInput is the Merge request processor's typed input: an
// upstream pull request record plus the repository it belongs to, already
// resolved to a local id by a RepositoryProcessor pass.
type MergeRequestInput struct {
	RepositoryID         string
	RepositoryUpstreamID int64

	Number      int
	Title       string
	Description string
	State       string // upstream state, e.g. "open" or "closed"
	Merged      bool
	IsDraft     bool

	Author *ContributorRef
	Merger *ContributorRef

	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  time.Time
	MergedAt  time.Time

	CommitCount  int
	Additions    int
	Deletions    int
	ChangedFiles int
	ReviewCount  int
	CommentCount int

	Labels     []string
	HeadBranch string
	BaseBranch string
}

// MergeRequestProcessor upserts pull requests, resolving the author and
// merger as Contributors first and computing the metrics derivable without
// a further upstream call (cycle time, complexity). Review time requires a
// second, batched Client call and is left to the Enrichment processor.
type MergeRequestProcessor struct {
	store        *store.Store
	contributors *ContributorProcessor
}

// NewMergeRequestProcessor builds a MergeRequestProcessor over s.
func NewMergeRequestProcessor(s *store.Store) *MergeRequestProcessor {
	return &MergeRequestProcessor{store: s, contributors: NewContributorProcessor(s)}
}

// Process upserts one pull request, returning its stable local id.
func (p *MergeRequestProcessor) Process(ctx context.Context, in *MergeRequestInput) (string, error) {
	var localID string
	err := p.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, getErr := p.store.GetMergeRequestByRepoAndNumber(ctx, in.RepositoryUpstreamID, in.Number)
		var nfe *store.NotFoundError
		isNew := errors.As(getErr, &nfe)

		authorID, authorUpstreamID := p.resolveRef(ctx, tx, in.Author)
		mergerID, mergerUpstreamID := p.resolveRef(ctx, tx, in.Merger)

		labelsJSON, err := json.Marshal(in.Labels)
		if err != nil {
			return fmt.Errorf("marshal labels for pull request %d/#%d: %w", in.RepositoryUpstreamID, in.Number, err)
		}

		mr := &store.MergeRequest{
			Number:               in.Number,
			RepositoryID:         in.RepositoryID,
			RepositoryUpstreamID: in.RepositoryUpstreamID,
			AuthorID:             nullableString(authorID),
			AuthorUpstreamID:     nullableInt64(authorUpstreamID),
			Title:                nullableString(in.Title),
			Description:          nullableString(in.Description),
			State:                string(mapMergeRequestState(in.State, in.Merged)),
			IsDraft:              in.IsDraft,
			CreatedAt:            formatTimestamp(in.CreatedAt),
			UpdatedAt:            nullableTimestamp(in.UpdatedAt),
			ClosedAt:             nullableTimestamp(in.ClosedAt),
			MergedAt:             nullableTimestamp(in.MergedAt),
			MergerID:             nullableString(mergerID),
			MergerUpstreamID:     nullableInt64(mergerUpstreamID),
			CommitCount:          in.CommitCount,
			Additions:            in.Additions,
			Deletions:            in.Deletions,
			ChangedFiles:         in.ChangedFiles,
			ReviewCount:          in.ReviewCount,
			CommentCount:         in.CommentCount,
			ComplexityScore:      nullableFloat(complexityScore(in.ChangedFiles, in.Additions, in.Deletions)),
			CycleTimeHours:       nullableFloat(cycleTimeHours(in.CreatedAt, in.MergedAt, in.Merged)),
			Labels:               string(labelsJSON),
			HeadBranch:           nullableString(in.HeadBranch),
			BaseBranch:           nullableString(in.BaseBranch),
		}

		id, err := p.store.UpsertMergeRequest(ctx, tx, mr)
		if err != nil {
			return fmt.Errorf("upsert pull request %d/#%d: %w", in.RepositoryUpstreamID, in.Number, err)
		}
		localID = id

		if isNew && authorID != "" {
			if err := p.store.UpsertContributorRepository(ctx, tx, authorID, in.RepositoryID,
				0, 1, 0, 0, in.Additions, in.Deletions, formatTimestamp(in.CreatedAt)); err != nil {
				return fmt.Errorf("update contributor_repositories for pull request %d/#%d: %w", in.RepositoryUpstreamID, in.Number, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return localID, nil
}

// resolveRef resolves an optional contributor reference within tx, returning
// a zero local id and zero upstream id when ref is nil.
func (p *MergeRequestProcessor) resolveRef(ctx context.Context, tx *sqlx.Tx, ref *ContributorRef) (string, int64) {
	if ref == nil {
		return "", 0
	}
	id, err := p.contributors.Resolve(ctx, tx, *ref)
	if err != nil {
		// As with repository owner resolution, a contributor lookup failure
		// is not fatal to persisting the pull request.
		return "", 0
	}
	return id, ref.UpstreamID
}

// mapMergeRequestState normalizes upstream state + merged flag to the
// three-value lifecycle the store persists.
func mapMergeRequestState(upstreamState string, merged bool) store.MergeRequestState {
	if merged {
		return store.MergeRequestStateMerged
	}
	if strings.EqualFold(upstreamState, "closed") {
		return store.MergeRequestStateClosed
	}
	return store.MergeRequestStateOpen
}

// complexityScore combines the breadth (files touched) and depth (lines
// changed) of a change into a single magnitude, log-dampening the line
// count so very large diffs don't dominate the score linearly.
func complexityScore(changedFiles, additions, deletions int) *float64 {
	if changedFiles <= 0 {
		return nil
	}
	v := float64(changedFiles) * math.Log(float64(additions+deletions+1))
	return &v
}

// cycleTimeHours is the elapsed time between creation and merge, nil for
// pull requests that are not merged.
func cycleTimeHours(createdAt, mergedAt time.Time, merged bool) *float64 {
	if !merged || createdAt.IsZero() || mergedAt.IsZero() {
		return nil
	}
	v := mergedAt.Sub(createdAt).Hours()
	return &v
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableTimestamp(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func nullableInt64(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}

func nullableFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
