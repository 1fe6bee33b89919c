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

package sitemap

import (
	"context"
	"fmt"

	"github.com/abcxyz/pkg/logging"
	"github.com/abcxyz/repo-pulse/pkg/store"
)

// EntityTypes are the indexable entities the sitemap walks, in the
// fixed order each Run pass visits them.
var EntityTypes = []string{"repository", "contributor", "merge_request"}

// Indexer paginates each indexable entity type and records its walk
// progress in SitemapMetadata.
type Indexer struct {
	store    *store.Store
	pageSize int
}

// New builds an Indexer over s using cfg's fixed page size.
func New(s *store.Store, cfg *Config) *Indexer {
	return &Indexer{store: s, pageSize: cfg.PageSize}
}

// Run walks every entity type exactly one page forward from its last
// recorded current_page, wrapping back to page 1 once the walk passes
// the last page — a continuous re-index rather than a one-shot scan,
// so SitemapMetadata never goes stale for a long-lived deployment.
func (idx *Indexer) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx)
	for _, entityType := range EntityTypes {
		if err := idx.advance(ctx, entityType); err != nil {
			return fmt.Errorf("advance sitemap entity %s: %w", entityType, err)
		}
		logger.InfoContext(ctx, "sitemap entity advanced", "entity_type", entityType)
	}
	return nil
}

func (idx *Indexer) advance(ctx context.Context, entityType string) error {
	total, err := idx.store.CountSitemapEntities(ctx, entityType)
	if err != nil {
		return err
	}

	existing, err := idx.currentMetadata(ctx, entityType)
	if err != nil {
		return err
	}

	page := existing.CurrentPage + 1
	totalPages := totalPages(total, idx.pageSize)
	if totalPages == 0 || page > totalPages {
		page = 1
	}

	offset := (page - 1) * idx.pageSize
	ids, err := idx.store.ListSitemapPageIDs(ctx, entityType, idx.pageSize, offset)
	if err != nil {
		return err
	}

	return idx.store.UpsertSitemapMetadata(ctx, entityType, page, len(ids))
}

func (idx *Indexer) currentMetadata(ctx context.Context, entityType string) (*store.SitemapMetadata, error) {
	rows, err := idx.store.ListSitemapMetadata(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if r.EntityType == entityType {
			return r, nil
		}
	}
	return &store.SitemapMetadata{EntityType: entityType, CurrentPage: 0}, nil
}

func totalPages(total, pageSize int) int {
	if total == 0 {
		return 0
	}
	pages := total / pageSize
	if total%pageSize != 0 {
		pages++
	}
	return pages
}
