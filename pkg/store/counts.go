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

// EntityCounts is the Control API's "GET counts" response shape.
type EntityCounts struct {
	Repositories  int `json:"repositories"`
	MergeRequests int `json:"merge_requests"`
	Contributors  int `json:"contributors"`
	Commits       int `json:"commits"`
}

// CountEntities returns the current row counts across the four
// headline entity tables. Commits are counted as distinct (sha,
// repository_id) pairs, honoring the one-row-per-touched-file storage
// shape rather than the raw row count.
func (s *Store) CountEntities(ctx context.Context) (*EntityCounts, error) {
	var counts EntityCounts
	if err := s.db.GetContext(ctx, &counts.Repositories, `SELECT COUNT(*) FROM repositories`); err != nil {
		return nil, fmt.Errorf("count repositories: %w", err)
	}
	if err := s.db.GetContext(ctx, &counts.MergeRequests, `SELECT COUNT(*) FROM merge_requests`); err != nil {
		return nil, fmt.Errorf("count merge requests: %w", err)
	}
	if err := s.db.GetContext(ctx, &counts.Contributors, `SELECT COUNT(*) FROM contributors`); err != nil {
		return nil, fmt.Errorf("count contributors: %w", err)
	}
	if err := s.db.GetContext(ctx, &counts.Commits, `
SELECT COUNT(*) FROM (SELECT DISTINCT sha, repository_id FROM commits)`); err != nil {
		return nil, fmt.Errorf("count commits: %w", err)
	}
	return &counts, nil
}
