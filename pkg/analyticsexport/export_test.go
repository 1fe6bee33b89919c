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
	"testing"

	"github.com/abcxyz/repo-pulse/pkg/store"
)

type fakeWriter struct {
	rankingTableID string
	rankings       []*RankingRow
	historyTableID string
	history        []*HistoryRow
	failRankings   bool
	failHistory    bool
}

func (f *fakeWriter) WriteRankings(ctx context.Context, tableID string, rows []*RankingRow) error {
	if f.failRankings {
		return fmt.Errorf("injected failure")
	}
	f.rankingTableID = tableID
	f.rankings = append(f.rankings, rows...)
	return nil
}

func (f *fakeWriter) WriteHistory(ctx context.Context, tableID string, rows []*HistoryRow) error {
	if f.failHistory {
		return fmt.Errorf("injected failure")
	}
	f.historyTableID = tableID
	f.history = append(f.history, rows...)
	return nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), &store.Config{
		DBPath:        ":memory:",
		MaxOpenConns:  1,
		MaxIdleConns:  1,
		BusyTimeoutMS: 5000,
	})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testConfig() *Config {
	return &Config{
		ProjectID:       "test-project",
		DatasetID:       "test_dataset",
		RankingsTableID: "contributor_rankings",
		HistoryTableID:  "pipeline_history",
		BatchSize:       2,
	}
}

func TestExporter_RunExportsNewRankingsAndHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.InsertRanking(ctx, nil, &store.ContributorRanking{ContributorID: "c1", TotalScore: 9, CalculatedAt: "2024-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("InsertRanking: %v", err)
	}
	id, err := s.InsertHistoryStarted(ctx, "run-1", "repository_sync")
	if err != nil {
		t.Fatalf("InsertHistoryStarted: %v", err)
	}
	if err := s.CompleteHistory(ctx, id, "success", 3, ""); err != nil {
		t.Fatalf("CompleteHistory: %v", err)
	}

	fw := &fakeWriter{}
	e := &Exporter{store: s, bq: fw, cfg: testConfig()}

	if err := e.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(fw.rankings) != 1 || fw.rankings[0].ContributorID != "c1" {
		t.Fatalf("rankings = %+v, want one row for c1", fw.rankings)
	}
	if fw.rankingTableID != "contributor_rankings" {
		t.Fatalf("rankingTableID = %q", fw.rankingTableID)
	}
	if len(fw.history) != 1 || fw.history[0].RunID != "run-1" {
		t.Fatalf("history = %+v, want one row for run-1", fw.history)
	}
}

func TestExporter_RunSkipsAlreadyExportedRows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.InsertRanking(ctx, nil, &store.ContributorRanking{ContributorID: "c1", TotalScore: 1, CalculatedAt: "2024-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("InsertRanking: %v", err)
	}

	fw := &fakeWriter{}
	e := &Exporter{store: s, bq: fw, cfg: testConfig()}

	if err := e.Run(ctx); err != nil {
		t.Fatalf("Run (first pass): %v", err)
	}
	if len(fw.rankings) != 1 {
		t.Fatalf("got %d rankings after first pass, want 1", len(fw.rankings))
	}

	if err := e.Run(ctx); err != nil {
		t.Fatalf("Run (second pass): %v", err)
	}
	if len(fw.rankings) != 1 {
		t.Fatalf("got %d rankings after second pass, want still 1 (no new rows)", len(fw.rankings))
	}
}

func TestExporter_RunAdvancesCursorOnlyAfterSuccessfulWrite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.InsertRanking(ctx, nil, &store.ContributorRanking{ContributorID: "c1", TotalScore: 1, CalculatedAt: "2024-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("InsertRanking: %v", err)
	}

	fw := &fakeWriter{failRankings: true}
	e := &Exporter{store: s, bq: fw, cfg: testConfig()}

	if err := e.Run(ctx); err == nil {
		t.Fatal("Run: expected error from injected write failure, got nil")
	}

	cursor, err := s.ExportCursor(ctx, rankingsExportName)
	if err != nil {
		t.Fatalf("ExportCursor: %v", err)
	}
	if cursor != "" {
		t.Fatalf("cursor advanced despite failed write: %q", cursor)
	}
}
