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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/venuevision/fleetwatch/pkg/models"
)

// ErrDeviceNotFound indicates a lookup for an id with no device row.
var ErrDeviceNotFound = errors.New("device not found")

// DeviceStore is the sqlite-backed device repository.
type DeviceStore struct {
	db *sql.DB
}

// NewDeviceStore returns a DeviceStore on the given database.
func NewDeviceStore(db *sql.DB) *DeviceStore {
	return &DeviceStore{db: db}
}

const deviceColumns = `id, name, address, port, capabilities_json, status, keep_awake_enabled, keep_awake_start, keep_awake_end`

func scanDevice(row interface{ Scan(...any) error }) (*models.Device, error) {
	var (
		d        models.Device
		capsJSON string
	)

	err := row.Scan(&d.ID, &d.Name, &d.Address, &d.Port, &capsJSON,
		&d.Status, &d.KeepAwakeEnabled, &d.KeepAwakeStart, &d.KeepAwakeEnd)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(capsJSON), &d.Capabilities); err != nil {
		return nil, fmt.Errorf("decode capabilities for %s: %w", d.ID, err)
	}

	return &d, nil
}

// Upsert inserts the device or updates its record in place.
func (s *DeviceStore) Upsert(ctx context.Context, d *models.Device) error {
	caps := d.Capabilities
	if caps == nil {
		caps = []string{}
	}

	capsJSON, err := json.Marshal(caps)
	if err != nil {
		return fmt.Errorf("encode capabilities for %s: %w", d.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO devices
		(id, name, address, port, capabilities_json, status, keep_awake_enabled, keep_awake_start, keep_awake_end)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, address=excluded.address, port=excluded.port,
			capabilities_json=excluded.capabilities_json`,
		d.ID, d.Name, d.Address, d.Port, string(capsJSON),
		d.Status, d.KeepAwakeEnabled, d.KeepAwakeStart, d.KeepAwakeEnd)

	return err
}

// FindByID returns the device with the given id, or ErrDeviceNotFound.
func (s *DeviceStore) FindByID(ctx context.Context, id string) (*models.Device, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)

	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}

	return d, err
}

// FindAll returns every device ordered by id.
func (s *DeviceStore) FindAll(ctx context.Context) ([]models.Device, error) {
	return s.queryDevices(ctx,
		`SELECT `+deviceColumns+` FROM devices ORDER BY id`)
}

// FindByStatus returns devices with the given persisted status.
func (s *DeviceStore) FindByStatus(ctx context.Context, status models.DeviceStatus) ([]models.Device, error) {
	return s.queryDevices(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE status = ? ORDER BY id`, string(status))
}

// FindWithKeepAwakeEnabled returns devices with keep-awake turned on.
func (s *DeviceStore) FindWithKeepAwakeEnabled(ctx context.Context) ([]models.Device, error) {
	return s.queryDevices(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE keep_awake_enabled = 1 ORDER BY id`)
}

func (s *DeviceStore) queryDevices(ctx context.Context, query string, args ...any) ([]models.Device, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Device

	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}

		list = append(list, *d)
	}

	return list, rows.Err()
}

// UpdateKeepAwakeSettings persists the keep-awake flag and, when non-nil,
// the window times.
func (s *DeviceStore) UpdateKeepAwakeSettings(ctx context.Context, id string, enabled bool, start, end *string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE devices SET
			keep_awake_enabled = ?,
			keep_awake_start = COALESCE(?, keep_awake_start),
			keep_awake_end = COALESCE(?, keep_awake_end)
		WHERE id = ?`,
		enabled, start, end, id)
	if err != nil {
		return err
	}

	return s.requireRow(res, id)
}

// UpdateOnlineStatus persists the derived online/offline status.
func (s *DeviceStore) UpdateOnlineStatus(ctx context.Context, id string, online bool) error {
	status := models.DeviceStatusOffline
	if online {
		status = models.DeviceStatusOnline
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE devices SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return err
	}

	return s.requireRow(res, id)
}

func (*DeviceStore) requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}

	return nil
}
