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

package devices

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/venuevision/fleetwatch/pkg/logger"
)

var (
	ErrUnknownConnection    = errors.New("no connection entry for device")
	ErrConnectionInFlight   = errors.New("connection attempt already in flight")
	ErrConnectionSuperseded = errors.New("connection entry superseded during dial")
)

// connEntry is the single owner of one device's client handle. The handle
// belongs to its entry until replaced or released.
type connEntry struct {
	state   ConnectionState
	client  DeviceClient
	lastErr error
	since   time.Time
	address string
	port    int
}

// Manager implements ConnectionProvider over an injected ClientFactory,
// keeping at most one connection entry per device id.
type Manager struct {
	factory ClientFactory
	logger  logger.Logger

	mu    sync.Mutex
	conns map[string]*connEntry
}

// NewManager creates a connection manager.
func NewManager(factory ClientFactory, log logger.Logger) *Manager {
	return &Manager{
		factory: factory,
		logger:  log.WithComponent("connection-manager"),
		conns:   make(map[string]*connEntry),
	}
}

// GetOrCreateConnection returns the live client for a device, dialing one
// when absent or errored. A second caller arriving while a dial is in
// flight gets ErrConnectionInFlight rather than a racing attempt.
func (m *Manager) GetOrCreateConnection(ctx context.Context, id, address string, port int) (DeviceClient, error) {
	m.mu.Lock()

	entry, ok := m.conns[id]
	if ok {
		switch {
		case entry.state == ConnectionConnected && entry.client != nil:
			client := entry.client
			m.mu.Unlock()

			return client, nil
		case entry.state == ConnectionConnecting:
			m.mu.Unlock()

			return nil, fmt.Errorf("%w: %s", ErrConnectionInFlight, id)
		}
	}

	// Replacing an errored entry: the old handle, if any, is closed before
	// a new one is dialed so ownership never becomes shared.
	var replaced DeviceClient
	if entry != nil {
		replaced = entry.client
	}

	pending := &connEntry{
		state:   ConnectionConnecting,
		since:   time.Now(),
		address: address,
		port:    port,
	}
	m.conns[id] = pending
	m.mu.Unlock()

	if replaced != nil {
		_ = replaced.Close()
	}

	client, err := m.factory.NewClient(ctx, address, port)

	m.mu.Lock()

	// A Release or Reconnect may have removed or replaced the entry while
	// the dial was in flight; its outcome then belongs to nobody.
	if m.conns[id] != pending {
		m.mu.Unlock()

		if client != nil {
			_ = client.Close()
		}

		m.logger.Debug().Str("device_id", id).Msg("Connection entry superseded during dial")

		return nil, fmt.Errorf("%w: %s", ErrConnectionSuperseded, id)
	}

	defer m.mu.Unlock()

	if err != nil {
		m.conns[id] = &connEntry{
			state:   ConnectionError,
			lastErr: err,
			since:   time.Now(),
			address: address,
			port:    port,
		}

		m.logger.Debug().Err(err).Str("device_id", id).Str("address", address).Msg("Connection attempt failed")

		return nil, err
	}

	m.conns[id] = &connEntry{
		state:   ConnectionConnected,
		client:  client,
		since:   time.Now(),
		address: address,
		port:    port,
	}

	m.logger.Info().Str("device_id", id).Str("address", address).Int("port", port).Msg("Device connected")

	return client, nil
}

// GetConnectionStatus returns a snapshot of the device's connection entry.
// The second return is false when no entry exists (the "absent" state).
func (m *Manager) GetConnectionStatus(id string) (*ConnectionStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.conns[id]
	if !ok {
		return nil, false
	}

	return &ConnectionStatus{
		State:     entry.state,
		Client:    entry.client,
		LastError: entry.lastErr,
		Since:     entry.since,
	}, true
}

// Reconnect tears down the device's current connection and dials a new one
// to the previously known address.
func (m *Manager) Reconnect(ctx context.Context, id string) error {
	m.mu.Lock()

	entry, ok := m.conns[id]
	if !ok {
		m.mu.Unlock()

		return fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}

	address, port := entry.address, entry.port
	m.mu.Unlock()

	m.Release(id)

	_, err := m.GetOrCreateConnection(ctx, id, address, port)

	return err
}

// Release closes and removes the device's connection entry.
func (m *Manager) Release(id string) {
	m.mu.Lock()

	entry, ok := m.conns[id]
	delete(m.conns, id)
	m.mu.Unlock()

	if ok && entry.client != nil {
		_ = entry.client.Close()

		m.logger.Debug().Str("device_id", id).Msg("Connection released")
	}
}

// ReleaseAll closes every tracked connection.
func (m *Manager) ReleaseAll() {
	m.mu.Lock()

	entries := m.conns
	m.conns = make(map[string]*connEntry)
	m.mu.Unlock()

	for id, entry := range entries {
		if entry.client != nil {
			_ = entry.client.Close()
		}

		m.logger.Debug().Str("device_id", id).Msg("Connection released")
	}
}
