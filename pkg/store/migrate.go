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
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// criticalColumns lists the tables and columns the rest of this package
// assumes exist. Migrate verifies all of them after applying pending
// migrations; a missing one is a fatal configuration error rather than a
// silent NULL-swallowing upsert later.
var criticalColumns = map[string][]string{
	"repositories":             {"id", "upstream_id", "full_name", "owner_id", "is_enriched", "enrichment_attempts", "activity_level"},
	"contributors":             {"id", "upstream_id", "username", "is_placeholder", "is_enriched", "enrichment_attempts"},
	"merge_requests":           {"id", "number", "repository_id", "author_id", "state"},
	"commits":                  {"id", "sha", "repository_id", "filename", "file_status"},
	"contributor_repositories": {"contributor_id", "repository_id"},
	"contributor_rankings":     {"contributor_id", "total_score", "calculated_at"},
	"ranking_weights":          {"component", "weight"},
	"raw_payloads":             {"id", "kind", "payload", "is_processed", "run_id", "leased_at"},
	"pipeline_status":          {"pipeline_type", "status", "is_running"},
	"pipeline_schedules":       {"pipeline_type", "cron_expr", "is_active"},
	"pipeline_history":         {"run_id", "pipeline_type", "status"},
	"pipeline_checkpoints":     {"run_id", "stage_name", "cursor"},
	"sitemap_metadata":         {"entity_type", "current_page", "url_count"},
	"enrichment_attempt_resets": {"entity_type", "upstream_id", "actor"},
	"audit_log_entries":        {"actor", "action", "created_at"},
}

// Migrate applies every pending migration under migrations/ in filename
// order and then runs the critical-tables/critical-columns verification
// gate. It never deletes or downgrades; rollback is an operator action via
// the goose CLI against the same embedded migrations.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	if err := verifySchema(db); err != nil {
		return fmt.Errorf("schema verification: %w", err)
	}
	return nil
}

// verifySchema queries sqlite_master and PRAGMA table_info to confirm every
// table/column this package depends on actually exists post-migration.
func verifySchema(db *sql.DB) error {
	for table, columns := range criticalColumns {
		var name string
		row := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table)
		if err := row.Scan(&name); err != nil {
			return fmt.Errorf("critical table %q missing: %w", table, err)
		}

		rows, err := db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, table))
		if err != nil {
			return fmt.Errorf("inspect table %q: %w", table, err)
		}
		present := make(map[string]bool)
		for rows.Next() {
			var (
				cid        int
				colName    string
				colType    string
				notNull    int
				dfltValue  sql.NullString
				primaryKey int
			)
			if err := rows.Scan(&cid, &colName, &colType, &notNull, &dfltValue, &primaryKey); err != nil {
				rows.Close()
				return fmt.Errorf("scan table_info(%s): %w", table, err)
			}
			present[colName] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate table_info(%s): %w", table, err)
		}

		for _, col := range columns {
			if !present[col] {
				return fmt.Errorf("critical column %q.%q missing", table, col)
			}
		}
	}
	return nil
}
