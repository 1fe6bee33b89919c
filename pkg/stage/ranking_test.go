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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRankingProcessor_RunRanksContributorsByTotalScore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	repoProc := NewRepositoryProcessor(s)
	repoID, err := repoProc.Process(ctx, &RepositoryInput{UpstreamID: 1, FullName: "octo/widgets", Stars: 50})
	if err != nil {
		t.Fatalf("seed repository: %v", err)
	}

	commitProc := NewCommitProcessor(s)
	// heavy contributes a lot more than light, so it should outrank light.
	if _, err := commitProc.Process(ctx, &CommitInput{
		SHA: "c1", RepositoryID: repoID, RepositoryUpstreamID: 1,
		Contributor: &ContributorRef{UpstreamID: 100, Username: "heavy"},
		CommittedAt: time.Now(),
		Files: []CommitFileInput{
			{Filename: "a.go", Additions: 500, Deletions: 100},
		},
	}); err != nil {
		t.Fatalf("seed heavy commit: %v", err)
	}
	if _, err := commitProc.Process(ctx, &CommitInput{
		SHA: "c2", RepositoryID: repoID, RepositoryUpstreamID: 1,
		Contributor: &ContributorRef{UpstreamID: 200, Username: "light"},
		CommittedAt: time.Now(),
		Files: []CommitFileInput{
			{Filename: "b.go", Additions: 2, Deletions: 0},
		},
	}); err != nil {
		t.Fatalf("seed light commit: %v", err)
	}

	p := NewRankingProcessor(s)
	out, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Processed != 2 {
		t.Fatalf("expected 2 contributors ranked, got %+v", out)
	}

	heavyID, err := s.GetContributorByUpstreamID(ctx, 100)
	if err != nil {
		t.Fatalf("GetContributorByUpstreamID heavy: %v", err)
	}
	lightID, err := s.GetContributorByUpstreamID(ctx, 200)
	if err != nil {
		t.Fatalf("GetContributorByUpstreamID light: %v", err)
	}

	heavyRanking, err := s.LatestRankingForContributor(ctx, heavyID.ID)
	if err != nil {
		t.Fatalf("LatestRankingForContributor heavy: %v", err)
	}
	lightRanking, err := s.LatestRankingForContributor(ctx, lightID.ID)
	if err != nil {
		t.Fatalf("LatestRankingForContributor light: %v", err)
	}

	if heavyRanking.RankPosition == nil || lightRanking.RankPosition == nil {
		t.Fatal("expected both contributors to have a rank position assigned")
	}
	if *heavyRanking.RankPosition != 1 {
		t.Fatalf("expected the higher-volume contributor to rank first, got position %d", *heavyRanking.RankPosition)
	}
	if heavyRanking.TotalScore <= lightRanking.TotalScore {
		t.Fatalf("expected heavy's total score (%f) to exceed light's (%f)", heavyRanking.TotalScore, lightRanking.TotalScore)
	}
}

func TestRankingProcessor_RunIsNoopWithNoContributions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := NewRankingProcessor(s)
	out, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Processed != 0 {
		t.Fatalf("expected no-op when there are no contributing contributors, got %+v", out)
	}
}

func TestPercentileNormalize_SingleContributorScoresMax(t *testing.T) {
	metrics := []contributorMetrics{
		{contributorID: "a", raw: map[string]float64{"code_volume_score": 42}},
	}
	normalized := percentileNormalize(metrics)
	if len(normalized) != 1 {
		t.Fatalf("expected 1 normalized entry, got %d", len(normalized))
	}
	assert.InDelta(t, 100, normalized[0]["code_volume_score"], 0.0001, "a lone contributor should score 100")
}

func TestPercentileNormalize_PreservesOrdering(t *testing.T) {
	metrics := []contributorMetrics{
		{contributorID: "low", raw: map[string]float64{"code_volume_score": 1}},
		{contributorID: "mid", raw: map[string]float64{"code_volume_score": 50}},
		{contributorID: "high", raw: map[string]float64{"code_volume_score": 1000}},
	}
	normalized := percentileNormalize(metrics)
	if !(normalized[0]["code_volume_score"] < normalized[1]["code_volume_score"] &&
		normalized[1]["code_volume_score"] < normalized[2]["code_volume_score"]) {
		t.Fatalf("expected monotonically increasing percentiles, got %v", normalized)
	}
	for _, n := range normalized {
		if n["code_volume_score"] < 0 || n["code_volume_score"] > 100 {
			t.Fatalf("expected percentile in [0,100], got %f", n["code_volume_score"])
		}
	}
}
