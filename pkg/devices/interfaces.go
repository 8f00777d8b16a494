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

// Package devices defines the collaborator contracts for reaching set-top
// boxes and manages per-device connection state.
package devices

import (
	"context"
	"time"

	"github.com/venuevision/fleetwatch/pkg/models"
)

// ScreenState reports whether a device's display is currently on.
type ScreenState string

const (
	ScreenOn      ScreenState = "on"
	ScreenOff     ScreenState = "off"
	ScreenUnknown ScreenState = "unknown"
)

// DeviceClient is a live handle to one device. The wire protocol behind it
// is opaque to the resilience layer; all calls are expected to carry their
// own bounded timeouts.
type DeviceClient interface {
	ExecuteShellCommand(ctx context.Context, cmd string) (string, error)
	KeepAwake(ctx context.Context, enable bool) (bool, error)
	GetScreenState(ctx context.Context) (ScreenState, error)
	AllowSleep(ctx context.Context) (bool, error)
	Close() error
}

// ConnectionState is the transient, in-memory state of a device connection.
// A device with no entry at all is "absent".
type ConnectionState string

const (
	ConnectionConnecting ConnectionState = "connecting"
	ConnectionConnected  ConnectionState = "connected"
	ConnectionError      ConnectionState = "error"
)

// ConnectionStatus is a snapshot of one device's connection entry.
type ConnectionStatus struct {
	State     ConnectionState
	Client    DeviceClient // non-nil only while connected
	LastError error
	Since     time.Time
}

// Connected reports whether the entry holds a usable client.
func (s *ConnectionStatus) Connected() bool {
	return s.State == ConnectionConnected && s.Client != nil
}

// ConnectionProvider creates, tracks and tears down device connections.
type ConnectionProvider interface {
	GetOrCreateConnection(ctx context.Context, id, address string, port int) (DeviceClient, error)
	GetConnectionStatus(id string) (*ConnectionStatus, bool)
	Reconnect(ctx context.Context, id string) error
	Release(id string)
}

// ClientFactory dials a device and returns a live client. Implementations
// own the wire protocol.
type ClientFactory interface {
	NewClient(ctx context.Context, address string, port int) (DeviceClient, error)
}

// DeviceRepository is the external owner of device records.
type DeviceRepository interface {
	FindByID(ctx context.Context, id string) (*models.Device, error)
	FindAll(ctx context.Context) ([]models.Device, error)
	FindByStatus(ctx context.Context, status models.DeviceStatus) ([]models.Device, error)
	FindWithKeepAwakeEnabled(ctx context.Context) ([]models.Device, error)
	UpdateKeepAwakeSettings(ctx context.Context, id string, enabled bool, start, end *string) error
	UpdateOnlineStatus(ctx context.Context, id string, online bool) error
}

// LogRepository owns the append-only keep-awake audit log.
type LogRepository interface {
	Create(ctx context.Context, entry *models.KeepAwakeLogEntry) error
	FindByDeviceID(ctx context.Context, id string, limit int) ([]models.KeepAwakeLogEntry, error)
}
