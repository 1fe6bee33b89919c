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

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := &Config{
		DBPath:        ":memory:",
		MaxOpenConns:  1,
		MaxIdleConns:  1,
		BusyTimeoutMS: 5000,
	}
	s, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAppliesMigrationsAndSeeds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	weights, err := s.RankingWeights(ctx)
	if err != nil {
		t.Fatalf("RankingWeights: %v", err)
	}
	if len(weights) != 8 {
		t.Fatalf("expected 8 seeded weights, got %d", len(weights))
	}
	var total float64
	for _, w := range weights {
		total += w
	}
	if total < 0.99 || total > 1.01 {
		t.Fatalf("expected weights to sum to ~1.0, got %f", total)
	}
}

func TestUpsertRepositoryIsIdempotentAndNullSafe(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &Repository{
		UpstreamID:      100,
		FullName:        "octo/widgets",
		PrimaryLanguage: nullIfEmpty("Go"),
		Stars:           10,
	}
	id1, err := s.UpsertRepository(ctx, nil, first)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	// Re-upsert with an all-null optional field and a changed counter. The
	// populated primary_language must survive; stars must update.
	second := &Repository{
		UpstreamID: 100,
		FullName:   "octo/widgets",
		Stars:      42,
	}
	id2, err := s.UpsertRepository(ctx, nil, second)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected stable local id across upserts, got %s and %s", id1, id2)
	}

	got, err := s.GetRepositoryByUpstreamID(ctx, 100)
	if err != nil {
		t.Fatalf("GetRepositoryByUpstreamID: %v", err)
	}
	if got.Stars != 42 {
		t.Fatalf("expected stars to update to 42, got %d", got.Stars)
	}
	if !got.PrimaryLanguage.Valid || got.PrimaryLanguage.String != "Go" {
		t.Fatalf("expected primary_language to survive a null-overwrite upsert, got %+v", got.PrimaryLanguage)
	}
}

func TestResolveContributorPlaceholder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.ResolveContributor(ctx, nil, 0, "", true)
	if err != nil {
		t.Fatalf("ResolveContributor: %v", err)
	}
	if id == "" {
		t.Fatal("expected a local id for the placeholder contributor")
	}

	var c Contributor
	if err := s.db.GetContext(ctx, &c, `SELECT * FROM contributors WHERE id = ?`, id); err != nil {
		t.Fatalf("read back placeholder: %v", err)
	}
	if !c.IsPlaceholder {
		t.Fatal("expected is_placeholder=true for a bot identity with no username")
	}
	if c.Username.Valid {
		t.Fatalf("expected null username for placeholder, got %+v", c.Username)
	}
}

func TestResolveContributorDistinctPlaceholdersDoNotCollide(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.ResolveContributor(ctx, nil, 0, "", true)
	if err != nil {
		t.Fatalf("ResolveContributor first: %v", err)
	}
	second, err := s.ResolveContributor(ctx, nil, 0, "", true)
	if err != nil {
		t.Fatalf("ResolveContributor second: %v", err)
	}
	if first == second {
		t.Fatal("two independent placeholder identities collapsed into one row")
	}
}

func TestMergeContributorsRepointsForeignKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	placeholderID, err := s.ResolveContributor(ctx, nil, 0, "", false)
	if err != nil {
		t.Fatalf("ResolveContributor placeholder: %v", err)
	}

	repoID, err := s.UpsertRepository(ctx, nil, &Repository{UpstreamID: 1, FullName: "a/b"})
	if err != nil {
		t.Fatalf("upsert repository: %v", err)
	}

	mrID, err := s.UpsertMergeRequest(ctx, nil, &MergeRequest{
		Number:               1,
		RepositoryID:         repoID,
		RepositoryUpstreamID: 1,
		AuthorID:             nullIfEmpty(placeholderID),
		State:                string(MergeRequestStateOpen),
		CreatedAt:            nowUTC(),
	})
	if err != nil {
		t.Fatalf("upsert merge request: %v", err)
	}

	canonicalID, err := s.UpsertContributor(ctx, nil, &Contributor{UpstreamID: 555, Username: nullIfEmpty("real-user")})
	if err != nil {
		t.Fatalf("upsert canonical contributor: %v", err)
	}

	if err := s.MergeContributors(ctx, nil, canonicalID, placeholderID); err != nil {
		t.Fatalf("MergeContributors: %v", err)
	}

	var mr MergeRequest
	if err := s.db.GetContext(ctx, &mr, `SELECT * FROM merge_requests WHERE id = ?`, mrID); err != nil {
		t.Fatalf("read back merge request: %v", err)
	}
	if mr.AuthorID.String != canonicalID {
		t.Fatalf("expected merge request author repointed to %s, got %s", canonicalID, mr.AuthorID.String)
	}

	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM contributors WHERE id = ?`, placeholderID); err != nil {
		t.Fatalf("count placeholder: %v", err)
	}
	if count != 0 {
		t.Fatal("expected placeholder contributor to be deleted after merge")
	}
}

func TestPipelineStatusConcurrencyGuard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	acquired, err := s.TryAcquireRunning(ctx, "repo_sync")
	if err != nil {
		t.Fatalf("TryAcquireRunning: %v", err)
	}
	if !acquired {
		t.Fatal("expected first acquire to succeed")
	}

	acquiredAgain, err := s.TryAcquireRunning(ctx, "repo_sync")
	if err != nil {
		t.Fatalf("TryAcquireRunning second call: %v", err)
	}
	if acquiredAgain {
		t.Fatal("expected second concurrent acquire to be rejected")
	}

	if err := s.ReleaseRunning(ctx, "repo_sync", PipelineStateIdle, ""); err != nil {
		t.Fatalf("ReleaseRunning: %v", err)
	}

	acquiredAfterRelease, err := s.TryAcquireRunning(ctx, "repo_sync")
	if err != nil {
		t.Fatalf("TryAcquireRunning after release: %v", err)
	}
	if !acquiredAfterRelease {
		t.Fatal("expected acquire to succeed again after release")
	}
}

func TestRawPayloadDequeueLeasing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.EnqueueRawPayload(ctx, nil, "merge_request", `{"number":1}`); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	leased, err := s.DequeueRawPayloads(ctx, "merge_request", "run-a", 10, 0)
	if err != nil {
		t.Fatalf("dequeue run-a: %v", err)
	}
	if len(leased) != 1 {
		t.Fatalf("expected 1 leased row, got %d", len(leased))
	}

	// A concurrent dequeue with a fresh (non-expired) lease sees nothing.
	stillLeased, err := s.DequeueRawPayloads(ctx, "merge_request", "run-b", 10, 1_000_000_000)
	if err != nil {
		t.Fatalf("dequeue run-b: %v", err)
	}
	if len(stillLeased) != 0 {
		t.Fatalf("expected leased row to be invisible to a second run, got %d", len(stillLeased))
	}

	if err := s.MarkRawPayloadProcessed(ctx, nil, leased[0].ID); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	depth, err := s.QueueDepth(ctx, "merge_request")
	if err != nil {
		t.Fatalf("queue depth: %v", err)
	}
	if depth != 0 {
		t.Fatalf("expected queue depth 0 after processing, got %d", depth)
	}
}
