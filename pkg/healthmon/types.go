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

package healthmon

import (
	"sync"
	"time"

	"github.com/venuevision/fleetwatch/pkg/devices"
	"github.com/venuevision/fleetwatch/pkg/logger"
	"github.com/venuevision/fleetwatch/pkg/metrics"
)

// HealthCheckResult is one per-tick snapshot for a device. Results are
// immutable; the next tick supersedes them.
type HealthCheckResult struct {
	DeviceID          string    `json:"device_id"`
	Name              string    `json:"name"`
	Address           string    `json:"address"`
	Healthy           bool      `json:"healthy"`
	Timestamp         time.Time `json:"timestamp"`
	Error             string    `json:"error,omitempty"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
}

// Statistics are the monitor's aggregate counts.
type Statistics struct {
	TotalDevices      int    `json:"total_devices"`
	HealthyDevices    int    `json:"healthy_devices"`
	UnhealthyDevices  int    `json:"unhealthy_devices"`
	ActiveAlerts      int    `json:"active_alerts"`
	PendingReconnects int    `json:"pending_reconnects"`
	TicksCompleted    uint64 `json:"ticks_completed"`
	ChecksPerformed   uint64 `json:"checks_performed"`
	CheckFailures     uint64 `json:"check_failures"`
	AlertsRaised      uint64 `json:"alerts_raised"`
}

// reconnState tracks one unhealthy device's retry bookkeeping. At most one
// scheduled-retry timer exists per device.
type reconnState struct {
	attempts  int
	timer     Timer
	downSince time.Time
	alerted   bool
}

// Monitor owns the periodic health check tick for every registered device.
type Monitor struct {
	config   Config
	delay    DelayFunc
	repo     devices.DeviceRepository
	provider devices.ConnectionProvider
	clock    Clock
	logger   logger.Logger
	metrics  *metrics.Registry

	mu      sync.RWMutex
	health  map[string]*HealthCheckResult
	reconns map[string]*reconnState
	running bool
	stopped bool

	ticker    Ticker
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	tickMu    sync.Mutex // serializes ticks; a new tick never overlaps the previous one

	ticksCompleted  uint64
	checksPerformed uint64
	checkFailures   uint64
	alertsRaised    uint64
}

// checkOutcome carries one device's result plus whether the monitor should
// enter reconnection for it.
type checkOutcome struct {
	result            *HealthCheckResult
	scheduleReconnect bool
}
