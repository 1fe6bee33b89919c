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
	"fmt"
)

// ExportCursor tracks how far an out-of-process mirror has progressed
// through a append-only local table, keyed by an arbitrary name the
// caller picks (one per mirrored table).
func (s *Store) ExportCursor(ctx context.Context, exportName string) (string, error) {
	var cursor string
	err := s.db.GetContext(ctx, &cursor, `SELECT cursor FROM export_cursors WHERE export_name = ?`, exportName)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get export cursor %s: %w", exportName, err)
	}
	return cursor, nil
}

// SetExportCursor advances the named export's cursor.
func (s *Store) SetExportCursor(ctx context.Context, exportName, cursor string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO export_cursors (export_name, cursor, updated_at) VALUES (?, ?, ?)
ON CONFLICT(export_name) DO UPDATE SET cursor = excluded.cursor, updated_at = excluded.updated_at`,
		exportName, cursor, nowUTC())
	if err != nil {
		return fmt.Errorf("set export cursor %s: %w", exportName, err)
	}
	return nil
}
