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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/abcxyz/pkg/logging"

	"github.com/abcxyz/repo-pulse/pkg/store"
)

// objectWriter is the seam Archiver writes through, implemented by
// *ObjectStore against real Cloud Storage and by a fake in tests.
type objectWriter interface {
	WriteObject(ctx context.Context, content io.Reader, objectDescriptor string) error
}

var _ objectWriter = (*ObjectStore)(nil)

// Archiver moves rows past the retention window out of the local store
// into Cloud Storage, one batch per table per Run call.
type Archiver struct {
	store   *store.Store
	objects objectWriter
	cfg     *Config
	now     func() time.Time
}

// New builds an Archiver over s and objects, using cfg's bucket,
// retention window, and batch size.
func New(s *store.Store, objects *ObjectStore, cfg *Config) *Archiver {
	return &Archiver{store: s, objects: objects, cfg: cfg, now: time.Now}
}

// Run archives one batch each of retired PipelineHistory and
// ContributorRanking rows. It is designed to be called repeatedly
// (e.g. on the scheduler's tick) rather than run to completion in one
// pass.
func (a *Archiver) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx)
	cutoff := a.now().UTC().AddDate(0, 0, -a.cfg.RetentionDays).Format(time.RFC3339Nano)

	historyArchived, err := a.archiveHistory(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive history: %w", err)
	}
	rankingsArchived, err := a.archiveRankings(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive rankings: %w", err)
	}

	logger.InfoContext(ctx, "archive pass complete",
		"cutoff", cutoff, "history_archived", historyArchived, "rankings_archived", rankingsArchived)
	return nil
}

func (a *Archiver) archiveHistory(ctx context.Context, cutoff string) (int, error) {
	rows, err := a.store.ListHistoryOlderThan(ctx, cutoff, a.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list history older than %s: %w", cutoff, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	if err := a.writeBatch(ctx, "pipeline_history", rows); err != nil {
		return 0, err
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	if err := a.store.DeleteHistoryByIDs(ctx, nil, ids); err != nil {
		return 0, fmt.Errorf("delete archived history rows: %w", err)
	}
	return len(rows), nil
}

func (a *Archiver) archiveRankings(ctx context.Context, cutoff string) (int, error) {
	rows, err := a.store.ListRankingsOlderThan(ctx, cutoff, a.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list rankings older than %s: %w", cutoff, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	if err := a.writeBatch(ctx, "contributor_rankings", rows); err != nil {
		return 0, err
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	if err := a.store.DeleteRankingsByIDs(ctx, nil, ids); err != nil {
		return 0, fmt.Errorf("delete archived ranking rows: %w", err)
	}
	return len(rows), nil
}

func (a *Archiver) writeBatch(ctx context.Context, table string, rows any) error {
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("marshal %s archive batch: %w", table, err)
	}

	objectName := fmt.Sprintf("%s/%s/%s.json", strings.TrimSuffix(a.cfg.BucketURI, "/"), table, uuid.NewString())
	if err := a.objects.WriteObject(ctx, bytes.NewReader(data), objectName); err != nil {
		return fmt.Errorf("write %s archive batch: %w", table, err)
	}
	return nil
}
