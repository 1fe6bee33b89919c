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
	"database/sql"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

// TestGetRepositoryByUpstreamIDWrapsDriverError exercises the failure path
// that a real SQLite disk error (as opposed to a no-rows miss) would take,
// which the in-memory integration tests in store_test.go never trigger.
func TestGetRepositoryByUpstreamIDWrapsDriverError(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer mockDB.Close()

	mock.ExpectQuery(`SELECT \* FROM repositories WHERE upstream_id = \?`).
		WithArgs(int64(7)).
		WillReturnError(errors.New("disk I/O error"))

	s := &Store{db: sqlx.NewDb(mockDB, "sqlmock"), cfg: &Config{}}

	_, err = s.GetRepositoryByUpstreamID(context.Background(), 7)
	if err == nil {
		t.Fatal("expected an error from GetRepositoryByUpstreamID")
	}
	var nfe *NotFoundError
	if errors.As(err, &nfe) {
		t.Fatal("expected a driver error to propagate, not a NotFoundError")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

// TestGetRepositoryByUpstreamIDNotFound confirms sql.ErrNoRows is translated
// into the typed NotFoundError the rest of the codebase matches on.
func TestGetRepositoryByUpstreamIDNotFound(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer mockDB.Close()

	mock.ExpectQuery(`SELECT \* FROM repositories WHERE upstream_id = \?`).
		WithArgs(int64(9)).
		WillReturnError(sql.ErrNoRows)

	s := &Store{db: sqlx.NewDb(mockDB, "sqlmock"), cfg: &Config{}}

	_, err = s.GetRepositoryByUpstreamID(context.Background(), 9)
	var nfe *NotFoundError
	if !errors.As(err, &nfe) {
		t.Fatalf("expected a NotFoundError, got %v", err)
	}
}
