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

package analyticsexport

import (
	"context"
	"fmt"

	"github.com/abcxyz/pkg/logging"

	"github.com/abcxyz/repo-pulse/pkg/store"
)

const (
	rankingsExportName = "contributor_rankings"
	historyExportName  = "pipeline_history"
)

// RankingRow is one mirrored ContributorRanking snapshot.
type RankingRow struct {
	ID                       string  `bigquery:"id"`
	ContributorID            string  `bigquery:"contributor_id"`
	TotalScore               float64 `bigquery:"total_score"`
	CodeVolumeScore          float64 `bigquery:"code_volume_score"`
	CodeEfficiencyScore      float64 `bigquery:"code_efficiency_score"`
	CommitImpactScore        float64 `bigquery:"commit_impact_score"`
	CollaborationScore       float64 `bigquery:"collaboration_score"`
	RepoPopularityScore      float64 `bigquery:"repo_popularity_score"`
	RepoInfluenceScore       float64 `bigquery:"repo_influence_score"`
	FollowersScore           float64 `bigquery:"followers_score"`
	ProfileCompletenessScore float64 `bigquery:"profile_completeness_score"`
	CalculatedAt             string  `bigquery:"calculated_at"`
}

// HistoryRow is one mirrored PipelineHistory run record.
type HistoryRow struct {
	ID             string `bigquery:"id"`
	RunID          string `bigquery:"run_id"`
	PipelineType   string `bigquery:"pipeline_type"`
	Status         string `bigquery:"status"`
	StartedAt      string `bigquery:"started_at"`
	CompletedAt    string `bigquery:"completed_at"`
	ItemsProcessed int    `bigquery:"items_processed"`
	ErrorMessage   string `bigquery:"error_message"`
}

// tableWriter is the seam Exporter writes through, implemented by
// *Client against a real BigQuery dataset and by a fake in tests.
type tableWriter interface {
	WriteRankings(ctx context.Context, tableID string, rows []*RankingRow) error
	WriteHistory(ctx context.Context, tableID string, rows []*HistoryRow) error
}

var _ tableWriter = (*Client)(nil)

// Exporter mirrors ranking and history rows into BigQuery, tracking
// progress through each local table with a persisted cursor so a
// restart resumes rather than re-streaming already-exported rows.
type Exporter struct {
	store *store.Store
	bq    tableWriter
	cfg   *Config
}

// New builds an Exporter over s and bq, using cfg's table names and
// batch size.
func New(s *store.Store, bq *Client, cfg *Config) *Exporter {
	return &Exporter{store: s, bq: bq, cfg: cfg}
}

// Run exports one batch of newly calculated rankings and one batch of
// newly completed pipeline runs. It is designed to be called
// repeatedly (e.g. on the scheduler's tick) rather than run to
// completion in one pass.
func (e *Exporter) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx)

	rankingsExported, err := e.exportRankings(ctx)
	if err != nil {
		return fmt.Errorf("export rankings: %w", err)
	}
	historyExported, err := e.exportHistory(ctx)
	if err != nil {
		return fmt.Errorf("export history: %w", err)
	}

	logger.InfoContext(ctx, "analytics export pass complete",
		"rankings_exported", rankingsExported, "history_exported", historyExported)
	return nil
}

func (e *Exporter) exportRankings(ctx context.Context) (int, error) {
	cursor, err := e.store.ExportCursor(ctx, rankingsExportName)
	if err != nil {
		return 0, fmt.Errorf("read rankings cursor: %w", err)
	}

	rankings, err := e.store.ListRankingsSince(ctx, cursor, e.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list rankings since %s: %w", cursor, err)
	}
	if len(rankings) == 0 {
		return 0, nil
	}

	rows := make([]*RankingRow, 0, len(rankings))
	for _, r := range rankings {
		rows = append(rows, &RankingRow{
			ID:                       r.ID,
			ContributorID:            r.ContributorID,
			TotalScore:               r.TotalScore,
			CodeVolumeScore:          r.CodeVolumeScore,
			CodeEfficiencyScore:      r.CodeEfficiencyScore,
			CommitImpactScore:        r.CommitImpactScore,
			CollaborationScore:       r.CollaborationScore,
			RepoPopularityScore:      r.RepoPopularityScore,
			RepoInfluenceScore:       r.RepoInfluenceScore,
			FollowersScore:           r.FollowersScore,
			ProfileCompletenessScore: r.ProfileCompletenessScore,
			CalculatedAt:             r.CalculatedAt,
		})
	}

	if err := e.bq.WriteRankings(ctx, e.cfg.RankingsTableID, rows); err != nil {
		return 0, err
	}

	last := rankings[len(rankings)-1]
	if err := e.store.SetExportCursor(ctx, rankingsExportName, last.CalculatedAt); err != nil {
		return 0, fmt.Errorf("advance rankings cursor: %w", err)
	}
	return len(rows), nil
}

func (e *Exporter) exportHistory(ctx context.Context) (int, error) {
	cursor, err := e.store.ExportCursor(ctx, historyExportName)
	if err != nil {
		return 0, fmt.Errorf("read history cursor: %w", err)
	}

	runs, err := e.store.ListHistorySince(ctx, cursor, e.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list history since %s: %w", cursor, err)
	}
	if len(runs) == 0 {
		return 0, nil
	}

	rows := make([]*HistoryRow, 0, len(runs))
	for _, h := range runs {
		rows = append(rows, &HistoryRow{
			ID:             h.ID,
			RunID:          h.RunID,
			PipelineType:   h.PipelineType,
			Status:         h.Status,
			StartedAt:      h.StartedAt,
			CompletedAt:    h.CompletedAt.String,
			ItemsProcessed: h.ItemsProcessed,
			ErrorMessage:   h.ErrorMessage.String,
		})
	}

	if err := e.bq.WriteHistory(ctx, e.cfg.HistoryTableID, rows); err != nil {
		return 0, err
	}

	last := runs[len(runs)-1]
	if err := e.store.SetExportCursor(ctx, historyExportName, last.StartedAt); err != nil {
		return 0, fmt.Errorf("advance history cursor: %w", err)
	}
	return len(rows), nil
}
