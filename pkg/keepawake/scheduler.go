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

// Package keepawake schedules daily wake and allow-sleep actions per device
// and keeps screens lit inside the configured window.
package keepawake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/venuevision/fleetwatch/pkg/devices"
	"github.com/venuevision/fleetwatch/pkg/logger"
	"github.com/venuevision/fleetwatch/pkg/metrics"
	"github.com/venuevision/fleetwatch/pkg/models"
)

const (
	defaultKeepAliveInterval = 5 * time.Minute

	// actionTimeout bounds each device call issued from a timer callback.
	actionTimeout = 15 * time.Second
)

// Config represents keep-awake scheduler configuration.
type Config struct {
	KeepAliveInterval models.Duration `json:"keep_alive_interval"`
}

// Validate implements config.Validator, filling in defaults.
func (c *Config) Validate() error {
	if time.Duration(c.KeepAliveInterval) == 0 {
		c.KeepAliveInterval = models.Duration(defaultKeepAliveInterval)
	}

	return nil
}

// deviceSchedule holds the three live timer handles for one device. The
// entry is installed and torn down as a unit.
type deviceSchedule struct {
	startMin  int
	endMin    int
	start     string
	end       string
	wake      Timer
	sleep     Timer
	keepAlive Timer
	// gen distinguishes this installation from later ones so a callback
	// that fired just before a reschedule does not re-arm a stale entry.
	gen uint64
}

// DeviceScheduleStatus is a read-only snapshot of one device's keep-awake
// state.
type DeviceScheduleStatus struct {
	DeviceID   string                    `json:"device_id"`
	Name       string                    `json:"name"`
	Enabled    bool                      `json:"enabled"`
	Window     string                    `json:"window,omitempty"`
	TimersLive bool                      `json:"timers_live"`
	LastAction *models.KeepAwakeLogEntry `json:"last_action,omitempty"`
}

// Scheduler owns the per-device keep-awake timers.
type Scheduler struct {
	config   Config
	repo     devices.DeviceRepository
	logs     devices.LogRepository
	provider devices.ConnectionProvider
	clock    Clock
	logger   logger.Logger
	metrics  *metrics.Registry

	mu        sync.Mutex
	schedules map[string]*deviceSchedule
	nextGen   uint64
	stopped   bool
}

// New creates a keep-awake scheduler. A nil clock defaults to the real
// clock.
func New(config *Config, repo devices.DeviceRepository, logs devices.LogRepository, provider devices.ConnectionProvider, clock Clock, log logger.Logger) *Scheduler {
	if clock == nil {
		clock = realClock{}
	}

	_ = config.Validate()

	return &Scheduler{
		config:    *config,
		repo:      repo,
		logs:      logs,
		provider:  provider,
		clock:     clock,
		logger:    log.WithComponent("keep-awake"),
		schedules: make(map[string]*deviceSchedule),
	}
}

// SetMetrics attaches a metrics registry. Safe to leave unset.
func (s *Scheduler) SetMetrics(r *metrics.Registry) {
	s.metrics = r
}

// InitializeSchedules installs timers for every device with keep-awake
// enabled. Per-device failures are logged and skipped.
func (s *Scheduler) InitializeSchedules(ctx context.Context) error {
	list, err := s.repo.FindWithKeepAwakeEnabled(ctx)
	if err != nil {
		return fmt.Errorf("failed to list keep-awake devices: %w", err)
	}

	installed := 0

	for i := range list {
		d := &list[i]

		if err := s.ScheduleDevice(ctx, d.ID, d.KeepAwakeStart, d.KeepAwakeEnd); err != nil {
			s.logger.Error().Err(err).Str("device_id", d.ID).Msg("Failed to install keep-awake schedule")

			continue
		}

		installed++
	}

	s.logger.Info().Int("devices", installed).Msg("Keep-awake schedules initialized")

	return nil
}

// ScheduleDevice installs or replaces the schedule for one device. Invalid
// window times are returned synchronously; nothing is installed on error.
func (s *Scheduler) ScheduleDevice(ctx context.Context, id, start, end string) error {
	if start == "" || end == "" {
		return ErrWindowIncomplete
	}

	startMin, err := parseClock(start)
	if err != nil {
		return err
	}

	endMin, err := parseClock(end)
	if err != nil {
		return err
	}

	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return fmt.Errorf("failed to load device %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}

	s.cancelLocked(id)

	s.nextGen++

	entry := &deviceSchedule{
		startMin: startMin,
		endMin:   endMin,
		start:    start,
		end:      end,
		gen:      s.nextGen,
	}
	gen := entry.gen

	now := s.clock.Now()

	entry.wake = s.clock.AfterFunc(untilNext(now, startMin), func() {
		s.fireDaily(id, gen, models.ActionWake)
	})
	entry.sleep = s.clock.AfterFunc(untilNext(now, endMin), func() {
		s.fireDaily(id, gen, models.ActionAllowSleep)
	})
	entry.keepAlive = s.clock.AfterFunc(time.Duration(s.config.KeepAliveInterval), func() {
		s.fireKeepAlive(id, gen)
	})

	s.schedules[id] = entry

	s.logger.Info().
		Str("device_id", id).
		Str("window", start+"-"+end).
		Msg("Keep-awake schedule installed")

	return nil
}

// CancelSchedule cancels every timer for the device and removes its entry.
// Unknown devices are a no-op.
func (s *Scheduler) CancelSchedule(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelLocked(id) {
		s.logger.Info().Str("device_id", id).Msg("Keep-awake schedule canceled")
	}
}

// cancelLocked stops all timer handles for id and removes the entry. The
// caller holds s.mu.
func (s *Scheduler) cancelLocked(id string) bool {
	entry, ok := s.schedules[id]
	if !ok {
		return false
	}

	for _, t := range []Timer{entry.wake, entry.sleep, entry.keepAlive} {
		if t != nil {
			t.Stop()
		}
	}

	delete(s.schedules, id)

	return true
}

// UpdateDeviceSchedule persists new keep-awake settings for the device and
// then reinstalls or cancels its timers to match. Nil start or end keeps
// the stored value.
func (s *Scheduler) UpdateDeviceSchedule(ctx context.Context, id string, enabled bool, start, end *string) error {
	if start != nil {
		if _, err := parseClock(*start); err != nil {
			return err
		}
	}

	if end != nil {
		if _, err := parseClock(*end); err != nil {
			return err
		}
	}

	if err := s.repo.UpdateKeepAwakeSettings(ctx, id, enabled, start, end); err != nil {
		return fmt.Errorf("failed to update keep-awake settings for %s: %w", id, err)
	}

	if !enabled {
		s.CancelSchedule(id)

		return nil
	}

	device, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to reload device %s: %w", id, err)
	}

	return s.ScheduleDevice(ctx, id, device.KeepAwakeStart, device.KeepAwakeEnd)
}

// GetKeepAwakeStatus reports the keep-awake state of every known device,
// including the most recent audit entry where one exists.
func (s *Scheduler) GetKeepAwakeStatus(ctx context.Context) ([]DeviceScheduleStatus, error) {
	list, err := s.repo.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	statuses := make([]DeviceScheduleStatus, 0, len(list))

	for i := range list {
		d := &list[i]

		status := DeviceScheduleStatus{
			DeviceID: d.ID,
			Name:     d.Name,
			Enabled:  d.KeepAwakeEnabled,
		}

		s.mu.Lock()
		if entry, ok := s.schedules[d.ID]; ok {
			status.TimersLive = true
			status.Window = entry.start + "-" + entry.end
		}
		s.mu.Unlock()

		if status.Window == "" && d.KeepAwakeStart != "" && d.KeepAwakeEnd != "" {
			status.Window = d.KeepAwakeStart + "-" + d.KeepAwakeEnd
		}

		entries, err := s.logs.FindByDeviceID(ctx, d.ID, 1)
		if err != nil {
			s.logger.Debug().Err(err).Str("device_id", d.ID).Msg("Failed to load last keep-awake action")
		} else if len(entries) > 0 {
			last := entries[0]
			status.LastAction = &last
		}

		statuses = append(statuses, status)
	}

	return statuses, nil
}

// StopAll cancels every schedule and prevents new installations. Fired
// callbacks observing a stale generation become no-ops.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true

	for id := range s.schedules {
		s.cancelLocked(id)
	}

	s.logger.Info().Msg("Keep-awake scheduler stopped")
}

// rearm re-installs one daily timer for its next occurrence, or marks the
// entry stale. Returns false when the entry no longer matches gen.
func (s *Scheduler) rearm(id string, gen uint64, action models.KeepAwakeAction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.schedules[id]
	if !ok || s.stopped || entry.gen != gen {
		return false
	}

	switch action {
	case models.ActionWake:
		entry.wake = s.clock.AfterFunc(untilNext(s.clock.Now(), entry.startMin), func() {
			s.fireDaily(id, gen, models.ActionWake)
		})
	case models.ActionAllowSleep:
		entry.sleep = s.clock.AfterFunc(untilNext(s.clock.Now(), entry.endMin), func() {
			s.fireDaily(id, gen, models.ActionAllowSleep)
		})
	case models.ActionKeepAwake:
		entry.keepAlive = s.clock.AfterFunc(time.Duration(s.config.KeepAliveInterval), func() {
			s.fireKeepAlive(id, gen)
		})
	}

	return true
}

// fireDaily runs a wake or allow-sleep trigger, records the outcome in the
// audit log, and re-arms for the next day.
func (s *Scheduler) fireDaily(id string, gen uint64, action models.KeepAwakeAction) {
	if !s.rearm(id, gen, action) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	err := s.performAction(ctx, id, action)
	s.recordAction(ctx, id, action, err)

	if err != nil {
		s.logger.Error().Err(err).
			Str("device_id", id).
			Str("action", string(action)).
			Msg("Keep-awake action failed")
	}
}

// fireKeepAlive runs one keep-alive beat. Outside the window it does
// nothing; inside it reissues wake when the screen is off. Failures are
// swallowed at debug level.
func (s *Scheduler) fireKeepAlive(id string, gen uint64) {
	s.mu.Lock()
	entry, ok := s.schedules[id]

	var startMin, endMin int
	if ok && entry.gen == gen {
		startMin, endMin = entry.startMin, entry.endMin
	}
	s.mu.Unlock()

	if !ok || !s.rearm(id, gen, models.ActionKeepAwake) {
		return
	}

	if !inWindow(s.clock.Now(), startMin, endMin) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	client, err := s.deviceClient(ctx, id)
	if err != nil {
		s.logger.Debug().Err(err).Str("device_id", id).Msg("Keep-alive skipped; device unreachable")

		return
	}

	state, err := client.GetScreenState(ctx)
	if err != nil {
		s.logger.Debug().Err(err).Str("device_id", id).Msg("Keep-alive screen query failed")

		return
	}

	if state != devices.ScreenOff {
		return
	}

	_, err = client.KeepAwake(ctx, true)
	s.recordAction(ctx, id, models.ActionKeepAwake, err)

	if err != nil {
		s.logger.Debug().Err(err).Str("device_id", id).Msg("Keep-alive wake failed")
	}
}

// performAction issues the device call for a daily trigger.
func (s *Scheduler) performAction(ctx context.Context, id string, action models.KeepAwakeAction) error {
	client, err := s.deviceClient(ctx, id)
	if err != nil {
		return err
	}

	switch action {
	case models.ActionWake:
		_, err = client.KeepAwake(ctx, true)
	case models.ActionAllowSleep:
		_, err = client.AllowSleep(ctx)
	case models.ActionKeepAwake:
		_, err = client.KeepAwake(ctx, true)
	}

	return err
}

// deviceClient resolves a live client for the device, dialing if needed.
func (s *Scheduler) deviceClient(ctx context.Context, id string) (devices.DeviceClient, error) {
	device, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load device %s: %w", id, err)
	}

	client, err := s.provider.GetOrCreateConnection(ctx, device.ID, device.Address, device.Port)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device %s: %w", id, err)
	}

	return client, nil
}

// recordAction appends one audit entry for an issued action.
func (s *Scheduler) recordAction(ctx context.Context, id string, action models.KeepAwakeAction, actionErr error) {
	entry := &models.KeepAwakeLogEntry{
		ID:        uuid.New().String(),
		DeviceID:  id,
		Action:    action,
		Success:   actionErr == nil,
		Timestamp: s.clock.Now(),
	}
	if actionErr != nil {
		entry.Error = actionErr.Error()
	}

	result := "ok"
	if actionErr != nil {
		result = "failed"
	}

	s.metrics.IncKeepAwakeAction(string(action), result)

	if err := s.logs.Create(ctx, entry); err != nil {
		s.logger.Error().Err(err).Str("device_id", id).Msg("Failed to append keep-awake audit entry")
	}
}
