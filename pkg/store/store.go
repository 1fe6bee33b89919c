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

// Package store is the embedded relational persistence layer: schema
// management, idempotent upserts, the raw payload buffer tables, and the
// pipeline/schedule/history/sitemap/audit bookkeeping tables that back every
// other component.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Store wraps a SQLite-backed sqlx.DB. A single Store instance is intended
// to be shared across all pipeline types within a process; callers enforce
// single-writer-per-pipeline-type discipline above this layer (pkg/scheduler).
type Store struct {
	db  *sqlx.DB
	cfg *Config
}

// Open creates the database file's parent directory if needed, opens a
// SQLite connection in WAL mode with foreign keys enabled, applies pending
// migrations, and runs the critical-schema verification gate.
func Open(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory %q: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?%s", cfg.DBPath, url.Values{
		"_journal_mode": {"WAL"},
		"_foreign_keys": {"on"},
		"_busy_timeout": {fmt.Sprintf("%d", cfg.BusyTimeoutMS)},
	}.Encode())

	db, err := sqlx.ConnectContext(ctx, "sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to sqlite at %q: %w", cfg.DBPath, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	if err := Migrate(db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: db, cfg: cfg}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying sqlx handle for packages (pkg/rawbuffer,
// pkg/pipeline) that need raw query access beyond this package's typed
// helpers.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// WithTx runs fn inside a transaction, committing on a nil return and
// rolling back otherwise. It is the only way multi-row derived writes (e.g.
// a placeholder Contributor plus the MergeRequest referencing it) reach the
// database, so a failed FK never leaves a dangling row.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// nowUTC returns the current time formatted as the RFC3339 strings every
// timestamp column in this schema stores.
func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// nullIfEmpty converts an empty string into a typed NULL for optional text
// columns.
func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// execer is satisfied by both *sqlx.DB and *sqlx.Tx, letting every upsert
// helper run either standalone or as part of a caller-managed transaction.
type execer interface {
	NamedExec(query string, arg interface{}) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// sqlExecer returns tx if the caller supplied one, otherwise the Store's
// own pooled connection.
func sqlExecer(s *Store, tx *sqlx.Tx) execer {
	if tx != nil {
		return tx
	}
	return s.db
}
