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
	"testing"
)

func TestExportCursorDefaultsToEmptyAndPersistsAdvances(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cursor, err := s.ExportCursor(ctx, "contributor_rankings")
	if err != nil {
		t.Fatalf("ExportCursor: %v", err)
	}
	if cursor != "" {
		t.Fatalf("ExportCursor on unseen name = %q, want empty", cursor)
	}

	if err := s.SetExportCursor(ctx, "contributor_rankings", "2024-01-01T00:00:00Z"); err != nil {
		t.Fatalf("SetExportCursor: %v", err)
	}
	cursor, err = s.ExportCursor(ctx, "contributor_rankings")
	if err != nil {
		t.Fatalf("ExportCursor: %v", err)
	}
	if cursor != "2024-01-01T00:00:00Z" {
		t.Fatalf("ExportCursor = %q, want 2024-01-01T00:00:00Z", cursor)
	}

	if err := s.SetExportCursor(ctx, "contributor_rankings", "2024-02-01T00:00:00Z"); err != nil {
		t.Fatalf("SetExportCursor overwrite: %v", err)
	}
	cursor, err = s.ExportCursor(ctx, "contributor_rankings")
	if err != nil {
		t.Fatalf("ExportCursor: %v", err)
	}
	if cursor != "2024-02-01T00:00:00Z" {
		t.Fatalf("ExportCursor after overwrite = %q, want 2024-02-01T00:00:00Z", cursor)
	}
}

func TestListRankingsSinceExcludesOlderRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertContributor(ctx, nil, &Contributor{ID: "c1", UpstreamID: 1}); err != nil {
		t.Fatalf("UpsertContributor: %v", err)
	}
	if err := s.InsertRanking(ctx, nil, &ContributorRanking{ContributorID: "c1", TotalScore: 1, CalculatedAt: "2024-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("InsertRanking 1: %v", err)
	}
	if err := s.InsertRanking(ctx, nil, &ContributorRanking{ContributorID: "c1", TotalScore: 2, CalculatedAt: "2024-01-02T00:00:00Z"}); err != nil {
		t.Fatalf("InsertRanking 2: %v", err)
	}
	if err := s.InsertRanking(ctx, nil, &ContributorRanking{ContributorID: "c1", TotalScore: 3, CalculatedAt: "2024-01-03T00:00:00Z"}); err != nil {
		t.Fatalf("InsertRanking 3: %v", err)
	}

	rows, err := s.ListRankingsSince(ctx, "2024-01-01T00:00:00Z", 10)
	if err != nil {
		t.Fatalf("ListRankingsSince: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].TotalScore != 2 || rows[1].TotalScore != 3 {
		t.Fatalf("unexpected ordering: %+v", rows)
	}
}

func TestListRankingsSinceRespectsLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertContributor(ctx, nil, &Contributor{ID: "c1", UpstreamID: 1}); err != nil {
		t.Fatalf("UpsertContributor: %v", err)
	}
	for i, ts := range []string{"2024-01-01T00:00:00Z", "2024-01-02T00:00:00Z", "2024-01-03T00:00:00Z"} {
		if err := s.InsertRanking(ctx, nil, &ContributorRanking{ContributorID: "c1", TotalScore: float64(i), CalculatedAt: ts}); err != nil {
			t.Fatalf("InsertRanking %d: %v", i, err)
		}
	}

	rows, err := s.ListRankingsSince(ctx, "", 2)
	if err != nil {
		t.Fatalf("ListRankingsSince: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
}

func TestListHistorySinceExcludesRunningAndOlderRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.InsertHistoryStarted(ctx, "run-1", "repository_sync")
	if err != nil {
		t.Fatalf("InsertHistoryStarted: %v", err)
	}
	if err := s.CompleteHistory(ctx, id, "success", 5, ""); err != nil {
		t.Fatalf("CompleteHistory: %v", err)
	}

	if _, err := s.InsertHistoryStarted(ctx, "run-2", "repository_sync"); err != nil {
		t.Fatalf("InsertHistoryStarted run-2: %v", err)
	}

	rows, err := s.ListHistorySince(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListHistorySince: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1 (still-running run excluded): %+v", len(rows), rows)
	}
	if rows[0].RunID != "run-1" {
		t.Fatalf("RunID = %q, want run-1", rows[0].RunID)
	}
}
