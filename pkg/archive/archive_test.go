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

package archive

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/abcxyz/repo-pulse/pkg/store"
)

type fakeObjectWriter struct {
	writes map[string][]byte
	fail   bool
}

func newFakeObjectWriter() *fakeObjectWriter {
	return &fakeObjectWriter{writes: map[string][]byte{}}
}

func (f *fakeObjectWriter) WriteObject(ctx context.Context, content io.Reader, objectDescriptor string) error {
	if f.fail {
		return fmt.Errorf("injected failure")
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	f.writes[objectDescriptor] = data
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

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestArchiver_RunArchivesAndDeletesRetiredHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.InsertHistoryStarted(ctx, "run-old", "repository_sync")
	if err != nil {
		t.Fatalf("InsertHistoryStarted: %v", err)
	}
	if err := s.CompleteHistory(ctx, id, "success", 1, ""); err != nil {
		t.Fatalf("CompleteHistory: %v", err)
	}

	fw := newFakeObjectWriter()
	a := &Archiver{
		store:   s,
		objects: fw,
		cfg:     &Config{BucketURI: "gs://test-bucket/archives", RetentionDays: 0, BatchSize: 100},
		now:     fixedNow(time.Now().Add(365 * 24 * time.Hour)),
	}

	if err := a.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(fw.writes) != 1 {
		t.Fatalf("got %d written objects, want 1: %v", len(fw.writes), fw.writes)
	}

	remaining, err := s.ListHistory(ctx, "repository_sync", 10)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("got %d remaining history rows, want 0 (archived row should be deleted)", len(remaining))
	}
}

func TestArchiver_RunLeavesRowsWithinRetentionWindow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.InsertHistoryStarted(ctx, "run-fresh", "repository_sync")
	if err != nil {
		t.Fatalf("InsertHistoryStarted: %v", err)
	}
	if err := s.CompleteHistory(ctx, id, "success", 1, ""); err != nil {
		t.Fatalf("CompleteHistory: %v", err)
	}

	fw := newFakeObjectWriter()
	a := &Archiver{
		store:   s,
		objects: fw,
		cfg:     &Config{BucketURI: "gs://test-bucket/archives", RetentionDays: 30, BatchSize: 100},
		now:     fixedNow(time.Now()),
	}

	if err := a.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(fw.writes) != 0 {
		t.Fatalf("got %d written objects, want 0 (row is within retention window)", len(fw.writes))
	}

	remaining, err := s.ListHistory(ctx, "repository_sync", 10)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("got %d remaining history rows, want 1", len(remaining))
	}
}

func TestArchiver_RunDoesNotDeleteRowsOnWriteFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.InsertRanking(ctx, nil, &store.ContributorRanking{ContributorID: "c1", TotalScore: 1, CalculatedAt: "2000-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("InsertRanking: %v", err)
	}

	fw := newFakeObjectWriter()
	fw.fail = true
	a := &Archiver{
		store:   s,
		objects: fw,
		cfg:     &Config{BucketURI: "gs://test-bucket/archives", RetentionDays: 1, BatchSize: 100},
		now:     fixedNow(time.Now()),
	}

	if err := a.Run(ctx); err == nil {
		t.Fatal("Run: expected error from injected write failure, got nil")
	}

	rows, err := s.ListRankingsSince(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListRankingsSince: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rankings, want 1 (row must survive a failed archive write)", len(rows))
	}
}

func TestParseGCSURI(t *testing.T) {
	t.Parallel()
	cases := []struct {
		uri        string
		wantBucket string
		wantObject string
		wantErr    bool
	}{
		{uri: "gs://my-bucket/path/to/object.json", wantBucket: "my-bucket", wantObject: "path/to/object.json"},
		{uri: "gs://my-bucket/object.json", wantBucket: "my-bucket", wantObject: "object.json"},
		{uri: "not-a-gcs-uri", wantErr: true},
		{uri: "gs://bucket-only", wantErr: true},
	}
	for _, tc := range cases {
		bucket, object, err := parseGCSURI(tc.uri)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseGCSURI(%q): expected error, got nil", tc.uri)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseGCSURI(%q): unexpected error: %v", tc.uri, err)
			continue
		}
		if bucket != tc.wantBucket || object != tc.wantObject {
			t.Errorf("parseGCSURI(%q) = (%q, %q), want (%q, %q)", tc.uri, bucket, object, tc.wantBucket, tc.wantObject)
		}
	}
}
