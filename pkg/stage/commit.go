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
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/abcxyz/repo-pulse/pkg/store"
)

// maxPatchBytes truncates patch text above this size before it is
// persisted; full diffs of large commits are not useful at the row level
// and bloat storage for no analytical benefit.
const maxPatchBytes = 16 * 1024

// CommitFileInput is one changed file within a commit.
type CommitFileInput struct {
	Filename  string
	Status    string
	Additions int
	Deletions int
	Patch     string
}

// CommitInput is the Commit processor's typed input: a single commit SHA
// and every file it touched. One CommitInput produces one row per file.
type CommitInput struct {
	SHA                    string
	RepositoryID           string
	RepositoryUpstreamID   int64
	Contributor            *ContributorRef
	MergeRequestID         string
	MergeRequestUpstreamID int64
	Message                string
	CommittedAt            time.Time
	ParentSHAs             []string
	Files                  []CommitFileInput
}

// CommitProcessor expands a commit into (sha, repository, filename) rows,
// one upsert per file, flagging merge commits without skipping them.
type CommitProcessor struct {
	store        *store.Store
	contributors *ContributorProcessor
}

// NewCommitProcessor builds a CommitProcessor over s.
func NewCommitProcessor(s *store.Store) *CommitProcessor {
	return &CommitProcessor{store: s, contributors: NewContributorProcessor(s)}
}

// Process upserts one row per file touched by in.SHA, returning an Outcome
// tallying per-file success/failure. A single file's failure does not abort
// the rest of the commit.
func (p *CommitProcessor) Process(ctx context.Context, in *CommitInput) (Outcome, error) {
	var out Outcome

	parentSHAsJSON, err := json.Marshal(in.ParentSHAs)
	if err != nil {
		return out, fmt.Errorf("marshal parent shas for commit %s: %w", in.SHA, err)
	}
	isMerge := len(in.ParentSHAs) >= 2

	err = p.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		var contributorID string
		var contributorUpstreamID int64
		if in.Contributor != nil {
			id, resolveErr := p.contributors.Resolve(ctx, tx, *in.Contributor)
			if resolveErr == nil {
				contributorID = id
				contributorUpstreamID = in.Contributor.UpstreamID
			}
		}

		if len(in.Files) == 0 {
			out.Skipped++
			return nil
		}

		// A commit already on record for this repository was seen on a
		// previous run; its contributor_repositories deltas were already
		// applied, so this pass only refreshes the file rows.
		alreadySeen, err := p.store.CommitSHAExists(ctx, in.RepositoryID, in.SHA)
		if err != nil {
			return err
		}

		var linesAdded, linesRemoved int
		for _, f := range in.Files {
			c := &store.Commit{
				SHA:                    in.SHA,
				RepositoryID:           in.RepositoryID,
				RepositoryUpstreamID:   in.RepositoryUpstreamID,
				ContributorID:          nullableString(contributorID),
				ContributorUpstreamID:  nullableInt64(contributorUpstreamID),
				MergeRequestID:         nullableString(in.MergeRequestID),
				MergeRequestUpstreamID: nullableInt64(in.MergeRequestUpstreamID),
				Message:                nullableString(in.Message),
				CommittedAt:            nullableTimestamp(in.CommittedAt),
				ParentSHAs:             string(parentSHAsJSON),
				Filename:               f.Filename,
				FileStatus:             f.Status,
				Additions:              f.Additions,
				Deletions:              f.Deletions,
				Patch:                  nullableString(truncatePatch(f.Patch)),
				ComplexityScore:        nullableFloat(fileComplexityScore(f.Additions, f.Deletions)),
				IsMergeCommit:          isMerge,
			}
			if _, err := p.store.UpsertCommitFile(ctx, tx, c); err != nil {
				out.addError(fmt.Errorf("upsert commit file %s/%s: %w", in.SHA, f.Filename, err))
				continue
			}
			linesAdded += f.Additions
			linesRemoved += f.Deletions
			out.Processed++
		}

		if !alreadySeen && contributorID != "" {
			if err := p.store.UpsertContributorRepository(ctx, tx, contributorID, in.RepositoryID,
				1, 0, 0, 0, linesAdded, linesRemoved, formatTimestamp(in.CommittedAt)); err != nil {
				return fmt.Errorf("update contributor_repositories for commit %s: %w", in.SHA, err)
			}
		}
		return nil
	})
	if err != nil {
		return out, err
	}
	return out, nil
}

// truncatePatch caps patch text at maxPatchBytes, leaving a marker so
// readers know the diff was cut rather than naturally short.
func truncatePatch(patch string) string {
	if len(patch) <= maxPatchBytes {
		return patch
	}
	return patch[:maxPatchBytes] + "\n... (truncated)"
}

// fileComplexityScore log-dampens a single file's line churn, matching the
// pull-request-level complexity score's shape at finer grain.
func fileComplexityScore(additions, deletions int) *float64 {
	if additions+deletions == 0 {
		return nil
	}
	v := math.Log(float64(additions + deletions + 1))
	return &v
}
