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

// Package healthmon monitors device reachability and drives bounded,
// backed-off automatic reconnection with threshold-based alerting.
package healthmon

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/venuevision/fleetwatch/pkg/devices"
	"github.com/venuevision/fleetwatch/pkg/logger"
	"github.com/venuevision/fleetwatch/pkg/metrics"
	"github.com/venuevision/fleetwatch/pkg/models"
)

// verifyCommand is the cheap command issued to confirm a connection that
// reports connected is actually usable.
const verifyCommand = "echo ok"

// New creates a new health monitor. A nil clock defaults to the real clock.
func New(config *Config, repo devices.DeviceRepository, provider devices.ConnectionProvider, clock Clock, log logger.Logger) *Monitor {
	if clock == nil {
		clock = realClock{}
	}

	_ = config.Validate()

	return &Monitor{
		config:   *config,
		delay:    config.Backoff.delayFunc(),
		repo:     repo,
		provider: provider,
		clock:    clock,
		logger:   log.WithComponent("health-monitor"),
		health:   make(map[string]*HealthCheckResult),
		reconns:  make(map[string]*reconnState),
		done:     make(chan struct{}),
	}
}

// SetMetrics attaches a metrics registry. Safe to leave unset.
func (m *Monitor) SetMetrics(r *metrics.Registry) {
	m.metrics = r
}

var (
	sharedMonitor *Monitor
	sharedOnce    sync.Once
)

// InitShared initializes the process-wide monitor exactly once and returns
// it. Later calls return the existing instance regardless of arguments.
func InitShared(config *Config, repo devices.DeviceRepository, provider devices.ConnectionProvider, clock Clock, log logger.Logger) *Monitor {
	sharedOnce.Do(func() {
		sharedMonitor = New(config, repo, provider, clock, log)
	})

	return sharedMonitor
}

// Shared returns the process-wide monitor, or nil before InitShared.
func Shared() *Monitor {
	return sharedMonitor
}

// Start runs the periodic tick until the context is canceled or Stop is
// called. Calling Start on a running monitor is a logged no-op.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()

	if m.running {
		m.mu.Unlock()
		m.logger.Warn().Msg("Start called on running health monitor; ignoring")

		return nil
	}

	m.running = true
	m.mu.Unlock()

	interval := time.Duration(m.config.CheckInterval)
	m.ticker = m.clock.Ticker(interval)

	defer m.ticker.Stop()

	m.logger.Info().Dur("interval", interval).Msg("Starting health monitor")

	m.runTick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			return nil
		case <-m.ticker.Chan():
			m.wg.Add(1)

			go func() {
				defer m.wg.Done()

				m.runTick(ctx)
			}()
		}
	}
}

// Stop cancels the tick and every pending reconnection timer. Nothing fires
// after Stop returns.
func (m *Monitor) Stop(_ context.Context) error {
	m.closeOnce.Do(func() {
		close(m.done)
	})

	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()

	// A retry callback may still be in flight; the flag keeps it from
	// arming a fresh timer after Stop has returned.
	m.stopped = true

	for id, rs := range m.reconns {
		if rs.timer != nil {
			rs.timer.Stop()
			rs.timer = nil

			m.logger.Debug().Str("device_id", id).Msg("Canceled pending reconnection")
		}
	}

	m.running = false

	m.logger.Info().Msg("Health monitor stopped")

	return nil
}

// ForceCheck runs one tick immediately, waiting for any in-flight tick to
// finish first.
func (m *Monitor) ForceCheck(ctx context.Context) {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	m.tick(ctx)
}

// runTick runs a tick unless the previous one is still in flight; ticks for
// the monitor never overlap.
func (m *Monitor) runTick(ctx context.Context) {
	if !m.tickMu.TryLock() {
		m.logger.Debug().Msg("Previous tick still in flight; skipping")

		return
	}

	defer m.tickMu.Unlock()

	m.tick(ctx)
}

// tick evaluates every registered device. It never returns an error upward:
// per-device failures are recorded, not raised.
func (m *Monitor) tick(ctx context.Context) {
	devs, err := m.repo.FindAll(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to load device list; skipping tick")

		return
	}

	outcomes := make(chan *checkOutcome, len(devs))

	var wg sync.WaitGroup

	for i := range devs {
		wg.Add(1)

		go func(dev models.Device) {
			defer wg.Done()

			outcomes <- m.checkDevice(ctx, &dev)
		}(devs[i])
	}

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	collected := make([]*checkOutcome, 0, len(devs))

	for outcome := range outcomes {
		collected = append(collected, outcome)
	}

	for _, outcome := range collected {
		m.applyOutcome(ctx, outcome)
	}

	m.scanDowntime()

	m.mu.Lock()
	m.ticksCompleted++
	m.mu.Unlock()

	m.logger.Debug().Int("devices", len(devs)).Msg("Health check tick completed")
}

// checkDevice performs the reach-the-device part of one check. It mutates
// no monitor state; state changes happen in applyOutcome.
func (m *Monitor) checkDevice(ctx context.Context, dev *models.Device) *checkOutcome {
	checkCtx, cancel := context.WithTimeout(ctx, time.Duration(m.config.CheckTimeout))
	defer cancel()

	start := m.clock.Now()

	healthy := false
	scheduleReconnect := false
	errMsg := ""

	status, ok := m.provider.GetConnectionStatus(dev.ID)

	switch {
	case !ok:
		// No connection yet: attempt creation.
		_, err := m.provider.GetOrCreateConnection(checkCtx, dev.ID, dev.Address, dev.Port)
		if err != nil {
			scheduleReconnect = true
			errMsg = err.Error()
		} else {
			healthy = true
		}

	case status.Connected():
		// Verify the connection is actually usable.
		_, err := status.Client.ExecuteShellCommand(checkCtx, verifyCommand)
		if err != nil {
			scheduleReconnect = true
			errMsg = err.Error()
		} else {
			healthy = true
		}

	case status.State == devices.ConnectionConnecting:
		// An attempt is in flight; leave it alone rather than racing it.
		errMsg = "connection attempt in progress"

	default:
		// Errored connection. Once backoff is exhausted the tick itself
		// becomes the retry cadence.
		if m.reconnAttempts(dev.ID) >= m.config.Backoff.MaxAttempts {
			err := m.provider.Reconnect(checkCtx, dev.ID)
			if err != nil {
				errMsg = err.Error()
			} else {
				healthy = true
			}
		} else {
			scheduleReconnect = true

			if status.LastError != nil {
				errMsg = status.LastError.Error()
			} else {
				errMsg = "connection in error state"
			}
		}
	}

	m.metrics.ObserveCheckDuration(m.clock.Now().Sub(start).Seconds())

	if healthy {
		m.metrics.IncCheck("ok")
	} else {
		m.metrics.IncCheck("failed")
	}

	return &checkOutcome{
		result: &HealthCheckResult{
			DeviceID:  dev.ID,
			Name:      dev.Name,
			Address:   dev.Address,
			Healthy:   healthy,
			Timestamp: m.clock.Now(),
			Error:     errMsg,
		},
		scheduleReconnect: scheduleReconnect,
	}
}

func (m *Monitor) reconnAttempts(id string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if rs, ok := m.reconns[id]; ok {
		return rs.attempts
	}

	return 0
}

// applyOutcome folds one device's check result into monitor state.
func (m *Monitor) applyOutcome(ctx context.Context, outcome *checkOutcome) {
	result := outcome.result
	id := result.DeviceID

	m.mu.Lock()

	previous := m.health[id]
	m.checksPerformed++

	if result.Healthy {
		m.clearReconnectionLocked(id)
	} else {
		m.checkFailures++

		rs := m.reconns[id]
		if rs == nil {
			rs = &reconnState{}
			m.reconns[id] = rs
		}

		if rs.downSince.IsZero() {
			rs.downSince = m.clock.Now()
		}

		result.ReconnectAttempts = rs.attempts

		if outcome.scheduleReconnect && rs.attempts < m.config.Backoff.MaxAttempts {
			m.scheduleReconnectLocked(id, rs)
		}
	}

	m.health[id] = result

	transitioned := previous == nil || previous.Healthy != result.Healthy
	m.mu.Unlock()

	if transitioned {
		if err := m.repo.UpdateOnlineStatus(ctx, id, result.Healthy); err != nil {
			m.logger.Warn().Err(err).Str("device_id", id).Msg("Failed to persist online status")
		}

		if !result.Healthy {
			m.logger.Warn().Str("device_id", id).Str("error", result.Error).Msg("Device became unhealthy")
		} else {
			m.logger.Info().Str("device_id", id).Msg("Device healthy")
		}
	}
}

// clearReconnectionLocked clears retry and downtime tracking after a
// recovery. Caller holds mu.
func (m *Monitor) clearReconnectionLocked(id string) {
	rs, ok := m.reconns[id]
	if !ok {
		return
	}

	if rs.timer != nil {
		rs.timer.Stop()
		rs.timer = nil
	}

	if *m.config.Backoff.ResetOnSuccess {
		delete(m.reconns, id)

		return
	}

	// Attempt counter deliberately survives the recovery to dampen storms.
	rs.downSince = time.Time{}
	rs.alerted = false
}

// scheduleReconnectLocked schedules the next retry. A new schedule cancels
// any prior pending timer, and the attempt counter is incremented before
// the attempt resolves so rapid failures cannot stack timers. Caller holds mu.
func (m *Monitor) scheduleReconnectLocked(id string, rs *reconnState) {
	if m.stopped {
		return
	}

	if rs.timer != nil {
		rs.timer.Stop()
	}

	rs.attempts++

	delay := m.delay(rs.attempts)

	m.metrics.IncReconnectAttempt()

	m.logger.Debug().
		Str("device_id", id).
		Int("attempt", rs.attempts).
		Dur("delay", delay).
		Msg("Scheduling reconnection")

	rs.timer = m.clock.AfterFunc(delay, func() {
		m.attemptReconnect(id)
	})
}

// attemptReconnect is the scheduled-retry callback.
func (m *Monitor) attemptReconnect(id string) {
	select {
	case <-m.done:
		return
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(m.config.CheckTimeout))
	defer cancel()

	err := m.provider.Reconnect(ctx, id)

	m.mu.Lock()

	rs := m.reconns[id]
	if rs == nil {
		// Recovered through another path in the meantime.
		m.mu.Unlock()

		return
	}

	rs.timer = nil

	if err == nil {
		if previous, ok := m.health[id]; ok {
			m.health[id] = &HealthCheckResult{
				DeviceID:  id,
				Name:      previous.Name,
				Address:   previous.Address,
				Healthy:   true,
				Timestamp: m.clock.Now(),
			}
		}

		m.clearReconnectionLocked(id)
		m.mu.Unlock()

		m.logger.Info().Str("device_id", id).Msg("Device reconnected")

		if updateErr := m.repo.UpdateOnlineStatus(ctx, id, true); updateErr != nil {
			m.logger.Warn().Err(updateErr).Str("device_id", id).Msg("Failed to persist online status")
		}

		return
	}

	if rs.attempts < m.config.Backoff.MaxAttempts {
		m.scheduleReconnectLocked(id, rs)
		m.mu.Unlock()

		return
	}

	attempts := rs.attempts
	m.mu.Unlock()

	m.logger.Warn().
		Str("device_id", id).
		Int("attempts", attempts).
		Msg("Reconnection attempts exhausted; device re-evaluated at tick cadence")
}

// scanDowntime raises exactly one alert per continuous-downtime episode.
func (m *Monitor) scanDowntime() {
	threshold := time.Duration(m.config.DownTimeThreshold)
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, rs := range m.reconns {
		if rs.downSince.IsZero() || rs.alerted {
			continue
		}

		downFor := now.Sub(rs.downSince)
		if downFor <= threshold {
			continue
		}

		rs.alerted = true
		m.alertsRaised++

		m.metrics.IncAlertRaised()

		m.logger.Error().
			Str("device_id", id).
			Dur("down_for", downFor).
			Msg("Device down beyond threshold; alert raised")
	}
}

// GetHealthStatus returns a snapshot of every device's latest result,
// ordered by device id.
func (m *Monitor) GetHealthStatus() []HealthCheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]HealthCheckResult, 0, len(m.health))

	for _, r := range m.health {
		results = append(results, *r)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].DeviceID < results[j].DeviceID
	})

	return results
}

// GetDeviceHealthStatus returns the latest result for one device.
func (m *Monitor) GetDeviceHealthStatus(id string) (HealthCheckResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.health[id]
	if !ok {
		return HealthCheckResult{}, ErrDeviceNotTracked
	}

	return *r, nil
}

// GetStatistics returns the monitor's aggregate counts.
func (m *Monitor) GetStatistics() Statistics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Statistics{
		TotalDevices:    len(m.health),
		TicksCompleted:  m.ticksCompleted,
		ChecksPerformed: m.checksPerformed,
		CheckFailures:   m.checkFailures,
		AlertsRaised:    m.alertsRaised,
	}

	for _, r := range m.health {
		if r.Healthy {
			stats.HealthyDevices++
		} else {
			stats.UnhealthyDevices++
		}
	}

	for _, rs := range m.reconns {
		if rs.alerted {
			stats.ActiveAlerts++
		}

		if rs.timer != nil {
			stats.PendingReconnects++
		}
	}

	return stats
}
