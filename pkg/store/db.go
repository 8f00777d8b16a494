/*
 * Copyright 2025 VenueVision Labs.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package store persists device records and the keep-awake audit log in
// sqlite.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Open opens (creating if needed) the sqlite database at path. The special
// path ":memory:" opens an in-memory database.
func Open(path string) (*sql.DB, error) {
	dsn := "file::memory:?mode=memory&cache=shared"

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir data dir: %w", err)
		}

		dsn = fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()

		return nil, err
	}

	if _, err := db.Exec(`PRAGMA synchronous=NORMAL; PRAGMA temp_store=MEMORY;`); err != nil {
		_ = db.Close()

		return nil, err
	}

	return db, nil
}

// Migrate creates the schema when it does not exist yet.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS devices (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			address TEXT NOT NULL,
			port INTEGER NOT NULL,
			capabilities_json TEXT NOT NULL DEFAULT '[]',
			status TEXT NOT NULL DEFAULT 'offline',
			keep_awake_enabled INTEGER NOT NULL DEFAULT 0,
			keep_awake_start TEXT NOT NULL DEFAULT '',
			keep_awake_end TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS keep_awake_logs (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			action TEXT NOT NULL,
			success INTEGER NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			ts DATETIME NOT NULL,
			FOREIGN KEY(device_id) REFERENCES devices(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_keep_awake_logs_device_ts ON keep_awake_logs(device_id, ts DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_devices_status ON devices(status);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate failed: %w", err)
		}
	}

	return nil
}
