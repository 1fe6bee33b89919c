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
	"sort"

	"github.com/abcxyz/repo-pulse/pkg/store"
)

// rankingComponents names the eight scored dimensions, in the fixed order
// raw metrics are computed and percentile-normalized.
var rankingComponents = []string{
	"code_volume_score",
	"code_efficiency_score",
	"commit_impact_score",
	"collaboration_score",
	"repo_popularity_score",
	"repo_influence_score",
	"followers_score",
	"profile_completeness_score",
}

// contributorMetrics holds one contributor's raw (pre-normalization)
// component values plus the identifiers needed to persist a snapshot.
type contributorMetrics struct {
	contributorID string
	raw           map[string]float64
}

// RankingProcessor computes per-contributor component scores, each
// percentile-normalized to [0,100] across the scored population, combines
// them into a weighted total, and appends a ranking snapshot per
// contributor.
type RankingProcessor struct {
	store *store.Store
}

// NewRankingProcessor builds a RankingProcessor over s.
func NewRankingProcessor(s *store.Store) *RankingProcessor {
	return &RankingProcessor{store: s}
}

// Run scores every contributor with at least one contribution and inserts a
// fresh ranking snapshot for each, ordered by rank within the run.
func (p *RankingProcessor) Run(ctx context.Context) (Outcome, error) {
	var out Outcome

	contributors, err := p.store.ContributorsWithContributions(ctx)
	if err != nil {
		return out, err
	}
	if len(contributors) == 0 {
		return out, nil
	}

	weights, err := p.store.RankingWeights(ctx)
	if err != nil {
		return out, err
	}

	metrics := make([]contributorMetrics, 0, len(contributors))
	for _, c := range contributors {
		m, err := p.rawMetrics(ctx, c)
		if err != nil {
			out.addError(err)
			continue
		}
		metrics = append(metrics, m)
	}

	normalized := percentileNormalize(metrics)

	snapshots := make([]*store.ContributorRanking, 0, len(normalized))
	for i, m := range metrics {
		scores := normalized[i]
		total := 0.0
		for _, component := range rankingComponents {
			total += scores[component] * weights[component]
		}
		rawJSON, err := json.Marshal(m.raw)
		if err != nil {
			out.addError(fmt.Errorf("marshal raw metrics for contributor %s: %w", m.contributorID, err))
			continue
		}
		snapshots = append(snapshots, &store.ContributorRanking{
			ContributorID:            m.contributorID,
			TotalScore:               total,
			CodeVolumeScore:          scores["code_volume_score"],
			CodeEfficiencyScore:      scores["code_efficiency_score"],
			CommitImpactScore:        scores["commit_impact_score"],
			CollaborationScore:       scores["collaboration_score"],
			RepoPopularityScore:      scores["repo_popularity_score"],
			RepoInfluenceScore:       scores["repo_influence_score"],
			FollowersScore:           scores["followers_score"],
			ProfileCompletenessScore: scores["profile_completeness_score"],
			RawMetrics:               string(rawJSON),
		})
	}

	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].TotalScore > snapshots[j].TotalScore })
	for i, s := range snapshots {
		rank := i + 1
		s.RankPosition = &rank
	}

	for _, s := range snapshots {
		if err := p.store.InsertRanking(ctx, nil, s); err != nil {
			out.addError(fmt.Errorf("insert ranking for contributor %s: %w", s.ContributorID, err))
			continue
		}
		out.Processed++
	}
	return out, nil
}

// rawMetrics gathers a contributor's unnormalized component inputs from the
// store: contribution volume and breadth from contributor_repositories,
// profile fields from the contributor row itself.
func (p *RankingProcessor) rawMetrics(ctx context.Context, c *store.Contributor) (contributorMetrics, error) {
	repos, err := p.store.ListContributorRepositories(ctx, c.ID)
	if err != nil {
		return contributorMetrics{}, fmt.Errorf("raw metrics for contributor %s: %w", c.ID, err)
	}

	var linesChanged, commitCount, mergeRequestCount, reviewCount, issuesOpened, starWeight float64
	for _, r := range repos {
		linesChanged += float64(r.LinesAdded + r.LinesRemoved)
		commitCount += float64(r.CommitCount)
		mergeRequestCount += float64(r.MergeRequestCount)
		reviewCount += float64(r.ReviewCount)
		issuesOpened += float64(r.IssuesOpenedCount)

		repo, err := p.store.GetRepositoryByID(ctx, r.RepositoryID)
		if err == nil {
			starWeight += float64(repo.Stars)
		}
	}

	raw := map[string]float64{
		"code_volume_score":          linesChanged,
		"code_efficiency_score":      commitCount / (linesChanged + 1),
		"commit_impact_score":        commitCount + mergeRequestCount,
		"collaboration_score":        reviewCount + issuesOpened,
		"repo_popularity_score":      starWeight,
		"repo_influence_score":       float64(len(repos)),
		"followers_score":            float64(c.FollowerCount),
		"profile_completeness_score": profileCompleteness(c),
	}
	return contributorMetrics{contributorID: c.ID, raw: raw}, nil
}

// profileCompleteness counts how many of the five optional profile fields
// are populated, out of 5.
func profileCompleteness(c *store.Contributor) float64 {
	n := 0
	for _, v := range []bool{c.Bio.Valid, c.Company.Valid, c.Blog.Valid, c.Location.Valid, c.Twitter.Valid} {
		if v {
			n++
		}
	}
	return float64(n)
}

// percentileNormalize rescales each component independently to [0,100]
// across the population, based on rank order (ties share the same
// percentile). A population of size 1 scores every component at 100.
func percentileNormalize(metrics []contributorMetrics) []map[string]float64 {
	out := make([]map[string]float64, len(metrics))
	for i := range out {
		out[i] = make(map[string]float64, len(rankingComponents))
	}
	if len(metrics) == 0 {
		return out
	}
	if len(metrics) == 1 {
		for _, component := range rankingComponents {
			out[0][component] = 100
		}
		return out
	}

	for _, component := range rankingComponents {
		idx := make([]int, len(metrics))
		for i := range idx {
			idx[i] = i
		}
		sort.Slice(idx, func(a, b int) bool { return metrics[idx[a]].raw[component] < metrics[idx[b]].raw[component] })

		n := float64(len(metrics) - 1)
		rank := 0
		for pos, i := range idx {
			// Equal raw values keep the position of the first of their run.
			if pos > 0 && metrics[i].raw[component] != metrics[idx[pos-1]].raw[component] {
				rank = pos
			}
			out[i][component] = (float64(rank) / n) * 100
		}
	}
	return out
}
