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
)

// SitemapMetadata tracks pagination progress for one indexable entity type.
type SitemapMetadata struct {
	EntityType  string `db:"entity_type"`
	CurrentPage int    `db:"current_page"`
	URLCount    int    `db:"url_count"`
	UpdatedAt   string `db:"updated_at"`
}

// UpsertSitemapMetadata records the sitemap indexer's progress for an
// entity type.
func (s *Store) UpsertSitemapMetadata(ctx context.Context, entityType string, currentPage, urlCount int) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sitemap_metadata (entity_type, current_page, url_count, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(entity_type) DO UPDATE SET
	current_page = excluded.current_page,
	url_count    = excluded.url_count,
	updated_at   = excluded.updated_at`, entityType, currentPage, urlCount, nowUTC())
	if err != nil {
		return fmt.Errorf("upsert sitemap metadata %s: %w", entityType, err)
	}
	return nil
}

// ListSitemapMetadata returns the sitemap progress for every entity type,
// read by the external HTTP layer that renders the actual XML.
func (s *Store) ListSitemapMetadata(ctx context.Context) ([]*SitemapMetadata, error) {
	var rows []*SitemapMetadata
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM sitemap_metadata ORDER BY entity_type`)
	if err != nil {
		return nil, fmt.Errorf("list sitemap metadata: %w", err)
	}
	return rows, nil
}

// sitemapTables maps the indexable entity types to the table the
// indexer paginates over. Every indexable entity carries a
// primary key column literally named "id" (see migrations/0001*.sql),
// so a single parameterized-table query shape covers all three.
var sitemapTables = map[string]string{
	"repository":    "repositories",
	"contributor":   "contributors",
	"merge_request": "merge_requests",
}

// CountSitemapEntities returns the total row count for entityType, the
// denominator the indexer uses to know when it has reached the last page.
func (s *Store) CountSitemapEntities(ctx context.Context, entityType string) (int, error) {
	table, ok := sitemapTables[entityType]
	if !ok {
		return 0, &NotFoundError{Entity: "sitemap entity type", Key: entityType}
	}
	var count int
	if err := s.db.GetContext(ctx, &count, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)); err != nil {
		return 0, fmt.Errorf("count sitemap entities %s: %w", entityType, err)
	}
	return count, nil
}

// ListSitemapPageIDs returns the ids on one fixed-size page of
// entityType, ordered by id for a stable walk across repeated runs.
func (s *Store) ListSitemapPageIDs(ctx context.Context, entityType string, pageSize, offset int) ([]string, error) {
	table, ok := sitemapTables[entityType]
	if !ok {
		return nil, &NotFoundError{Entity: "sitemap entity type", Key: entityType}
	}
	var ids []string
	q := fmt.Sprintf(`SELECT id FROM %s ORDER BY id LIMIT ? OFFSET ?`, table)
	if err := s.db.SelectContext(ctx, &ids, q, pageSize, offset); err != nil {
		return nil, fmt.Errorf("list sitemap page %s: %w", entityType, err)
	}
	return ids, nil
}
