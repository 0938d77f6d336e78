// Copyright 2025 CloudWeGo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
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

	"github.com/pkg/errors"

	"github.com/cloudwego/promptpipe/pipeline"
)

// SQLiteStore persists checkpoints in a SQLite table, one row per run.
//
// It expects an *sql.DB opened with a SQLite driver; the caller imports the
// driver, e.g.:
//
//	import _ "modernc.org/sqlite"
//	db, _ := sql.Open("sqlite", "checkpoints.db")
type SQLiteStore struct {
	db *sql.DB
}

var _ pipeline.CheckpointStore = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the schema and returns the store.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			run_id TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		);`,
	)
	return errors.Wrap(err, "init checkpoint schema")
}

// Put upserts in a single statement; SQLite makes the replacement atomic.
func (s *SQLiteStore) Put(ctx context.Context, runID string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (run_id, data, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(run_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		runID, data,
	)
	return errors.Wrap(err, "upsert checkpoint")
}

func (s *SQLiteStore) Get(ctx context.Context, runID string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM checkpoints WHERE run_id = ?`, runID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pipeline.ErrNoCheckpoint
	}
	if err != nil {
		return nil, errors.Wrap(err, "select checkpoint")
	}
	return data, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE run_id = ?`, runID)
	return errors.Wrap(err, "delete checkpoint")
}
