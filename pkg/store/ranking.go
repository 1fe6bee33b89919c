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

// ContributorRanking is a single scored snapshot for one contributor.
// Rows are never updated; each ranking run inserts a fresh snapshot so
// trend analysis can read the full history.
type ContributorRanking struct {
	ID                        string  `db:"id"`
	ContributorID              string  `db:"contributor_id"`
	TotalScore                 float64 `db:"total_score"`
	CodeVolumeScore             float64 `db:"code_volume_score"`
	CodeEfficiencyScore         float64 `db:"code_efficiency_score"`
	CommitImpactScore           float64 `db:"commit_impact_score"`
	CollaborationScore          float64 `db:"collaboration_score"`
	RepoPopularityScore         float64 `db:"repo_popularity_score"`
	RepoInfluenceScore          float64 `db:"repo_influence_score"`
	FollowersScore              float64 `db:"followers_score"`
	ProfileCompletenessScore    float64 `db:"profile_completeness_score"`
	RawMetrics                  string  `db:"raw_metrics"`
	RankPosition                *int    `db:"rank_position"`
	CalculatedAt                 string  `db:"calculated_at"`
}

// InsertRanking appends a new ContributorRanking snapshot.
func (s *Store) InsertRanking(ctx context.Context, tx *sqlx.Tx, r *ContributorRanking) error {
	exec := sqlExecer(s, tx)

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.RawMetrics == "" {
		r.RawMetrics = "{}"
	}
	if r.CalculatedAt == "" {
		r.CalculatedAt = nowUTC()
	}

	const q = `
INSERT INTO contributor_rankings (
	id, contributor_id, total_score, code_volume_score, code_efficiency_score,
	commit_impact_score, collaboration_score, repo_popularity_score, repo_influence_score,
	followers_score, profile_completeness_score, raw_metrics, rank_position, calculated_at
) VALUES (
	:id, :contributor_id, :total_score, :code_volume_score, :code_efficiency_score,
	:commit_impact_score, :collaboration_score, :repo_popularity_score, :repo_influence_score,
	:followers_score, :profile_completeness_score, :raw_metrics, :rank_position, :calculated_at
)`

	if _, err := exec.NamedExec(q, r); err != nil {
		return fmt.Errorf("insert ranking for contributor %s: %w", r.ContributorID, err)
	}
	return nil
}

// LatestRankingForContributor returns the most recent ranking snapshot.
func (s *Store) LatestRankingForContributor(ctx context.Context, contributorID string) (*ContributorRanking, error) {
	var r ContributorRanking
	err := s.db.GetContext(ctx, &r, `
SELECT * FROM contributor_rankings
WHERE contributor_id = ?
ORDER BY calculated_at DESC
LIMIT 1`, contributorID)
	if err != nil {
		return nil, fmt.Errorf("latest ranking for contributor %s: %w", contributorID, err)
	}
	return &r, nil
}

// ListRankingsSince returns ranking snapshots calculated after the given
// RFC3339Nano timestamp, oldest first, capped at limit rows. Used by the
// analytics mirror to export one batch of newly calculated snapshots at
// a time.
func (s *Store) ListRankingsSince(ctx context.Context, since string, limit int) ([]*ContributorRanking, error) {
	var rows []*ContributorRanking
	err := s.db.SelectContext(ctx, &rows, `
SELECT * FROM contributor_rankings
WHERE calculated_at > ?
ORDER BY calculated_at ASC
LIMIT ?`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list rankings since %s: %w", since, err)
	}
	return rows, nil
}

// RankingWeights returns the component-name → weight map the Ranking
// processor reads to compute total_score, kept as queryable data so
// weights are tunable without a redeploy.
func (s *Store) RankingWeights(ctx context.Context) (map[string]float64, error) {
	type row struct {
		Component string  `db:"component"`
		Weight    float64 `db:"weight"`
	}
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, `SELECT component, weight FROM ranking_weights`); err != nil {
		return nil, fmt.Errorf("list ranking weights: %w", err)
	}
	out := make(map[string]float64, len(rows))
	for _, r := range rows {
		out[r.Component] = r.Weight
	}
	return out, nil
}

// SetRankingWeight upserts a single component's weight, used by the Control
// API to retune scoring without a redeploy.
func (s *Store) SetRankingWeight(ctx context.Context, component string, weight float64) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO ranking_weights (component, weight) VALUES (?, ?)
ON CONFLICT(component) DO UPDATE SET weight = excluded.weight`, component, weight)
	if err != nil {
		return fmt.Errorf("set ranking weight %s: %w", component, err)
	}
	return nil
}

// ContributorsWithContributions returns every contributor who has at least
// one commit or merge request, the Ranking processor's input population.
func (s *Store) ContributorsWithContributions(ctx context.Context) ([]*Contributor, error) {
	var rows []*Contributor
	err := s.db.SelectContext(ctx, &rows, `
SELECT DISTINCT c.* FROM contributors c
WHERE EXISTS (SELECT 1 FROM commits cm WHERE cm.contributor_id = c.id)
   OR EXISTS (SELECT 1 FROM merge_requests mr WHERE mr.author_id = c.id)`)
	if err != nil {
		return nil, fmt.Errorf("list contributors with contributions: %w", err)
	}
	return rows, nil
}
