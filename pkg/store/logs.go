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

package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/venuevision/fleetwatch/pkg/models"
)

// KeepAwakeLogStore is the sqlite-backed append-only audit log.
type KeepAwakeLogStore struct {
	db *sql.DB
}

// NewKeepAwakeLogStore returns a KeepAwakeLogStore on the given database.
func NewKeepAwakeLogStore(db *sql.DB) *KeepAwakeLogStore {
	return &KeepAwakeLogStore{db: db}
}

// Create appends one audit entry.
func (s *KeepAwakeLogStore) Create(ctx context.Context, entry *models.KeepAwakeLogEntry) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO keep_awake_logs
		(id, device_id, action, success, error, ts) VALUES (?,?,?,?,?,?)`,
		entry.ID, entry.DeviceID, string(entry.Action), entry.Success,
		entry.Error, entry.Timestamp.UTC())

	return err
}

// FindByDeviceID returns up to limit entries for the device, newest first.
func (s *KeepAwakeLogStore) FindByDeviceID(ctx context.Context, id string, limit int) ([]models.KeepAwakeLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, device_id, action, success, error, ts
		FROM keep_awake_logs WHERE device_id = ? ORDER BY ts DESC LIMIT ?`, id, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.KeepAwakeLogEntry

	for rows.Next() {
		var e models.KeepAwakeLogEntry

		err := rows.Scan(&e.ID, &e.DeviceID, &e.Action, &e.Success, &e.Error, &e.Timestamp)
		if err != nil {
			return nil, err
		}

		list = append(list, e)
	}

	return list, rows.Err()
}

// PruneBefore deletes audit entries older than the cutoff and returns the
// number removed.
func (s *KeepAwakeLogStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM keep_awake_logs WHERE ts < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}
