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
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venuevision/fleetwatch/pkg/devices"
	"github.com/venuevision/fleetwatch/pkg/logger"
	"github.com/venuevision/fleetwatch/pkg/models"
)

var errUnreachable = errors.New("connection refused")

// fakeClock is a manually driven Clock.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	tickCh chan time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	mu      sync.Mutex
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.fired || t.stopped {
		return false
	}

	t.stopped = true

	return true
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:    time.Unix(1700000000, 0),
		tickCh: make(chan time.Time),
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func (c *fakeClock) Ticker(time.Duration) Ticker {
	return &fakeTicker{ch: c.tickCh}
}

func (c *fakeClock) AfterFunc(_ time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &fakeTimer{f: f}
	c.timers = append(c.timers, t)

	return t
}

// pendingTimers counts timers that are neither fired nor stopped.
func (c *fakeClock) pendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0

	for _, t := range c.timers {
		t.mu.Lock()
		if !t.fired && !t.stopped {
			count++
		}
		t.mu.Unlock()
	}

	return count
}

// firePending synchronously runs every live timer callback.
func (c *fakeClock) firePending() {
	c.mu.Lock()
	timers := append([]*fakeTimer(nil), c.timers...)
	c.mu.Unlock()

	for _, t := range timers {
		t.mu.Lock()

		if t.fired || t.stopped {
			t.mu.Unlock()
			continue
		}

		t.fired = true
		f := t.f
		t.mu.Unlock()

		f()
	}
}

type fakeTicker struct {
	ch chan time.Time
}

func (f *fakeTicker) Chan() <-chan time.Time { return f.ch }
func (*fakeTicker) Stop()                    {}

// fakeProvider mimics the connection manager's status bookkeeping.
type fakeProvider struct {
	mu             sync.Mutex
	statuses       map[string]*devices.ConnectionStatus
	createErr      map[string]error
	reconnectErr   map[string]error
	createCalls    map[string]int
	reconnectCalls map[string]int

	// When set, Reconnect signals entry and then blocks until released,
	// letting tests hold a retry callback in flight.
	reconnectEntered chan struct{}
	reconnectRelease chan struct{}
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		statuses:       make(map[string]*devices.ConnectionStatus),
		createErr:      make(map[string]error),
		reconnectErr:   make(map[string]error),
		createCalls:    make(map[string]int),
		reconnectCalls: make(map[string]int),
	}
}

func (p *fakeProvider) GetOrCreateConnection(_ context.Context, id, _ string, _ int) (devices.DeviceClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.createCalls[id]++

	if err := p.createErr[id]; err != nil {
		p.statuses[id] = &devices.ConnectionStatus{State: devices.ConnectionError, LastError: err}
		return nil, err
	}

	client := &stubClient{}
	p.statuses[id] = &devices.ConnectionStatus{State: devices.ConnectionConnected, Client: client}

	return client, nil
}

func (p *fakeProvider) GetConnectionStatus(id string) (*devices.ConnectionStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.statuses[id]

	return s, ok
}

func (p *fakeProvider) Reconnect(_ context.Context, id string) error {
	p.mu.Lock()
	entered, release := p.reconnectEntered, p.reconnectRelease
	p.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
		<-release
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.reconnectCalls[id]++

	if err := p.reconnectErr[id]; err != nil {
		p.statuses[id] = &devices.ConnectionStatus{State: devices.ConnectionError, LastError: err}
		return err
	}

	p.statuses[id] = &devices.ConnectionStatus{State: devices.ConnectionConnected, Client: &stubClient{}}

	return nil
}

func (p *fakeProvider) Release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.statuses, id)
}

// stubClient answers the verification command and nothing else.
type stubClient struct {
	shellErr error
}

func (c *stubClient) ExecuteShellCommand(context.Context, string) (string, error) {
	return "ok", c.shellErr
}

func (*stubClient) KeepAwake(context.Context, bool) (bool, error) { return true, nil }

func (*stubClient) GetScreenState(context.Context) (devices.ScreenState, error) {
	return devices.ScreenOn, nil
}

func (*stubClient) AllowSleep(context.Context) (bool, error) { return true, nil }
func (*stubClient) Close() error                             { return nil }

// fakeRepo serves a fixed device list and records status writes.
type fakeRepo struct {
	mu       sync.Mutex
	devs     []models.Device
	statuses map[string]bool
}

func newFakeRepo(devs ...models.Device) *fakeRepo {
	return &fakeRepo{devs: devs, statuses: make(map[string]bool)}
}

func (r *fakeRepo) FindByID(_ context.Context, id string) (*models.Device, error) {
	for i := range r.devs {
		if r.devs[i].ID == id {
			d := r.devs[i]
			return &d, nil
		}
	}

	return nil, errors.New("not found")
}

func (r *fakeRepo) FindAll(context.Context) ([]models.Device, error) {
	return r.devs, nil
}

func (r *fakeRepo) FindByStatus(_ context.Context, status models.DeviceStatus) ([]models.Device, error) {
	out := []models.Device{}

	for _, d := range r.devs {
		if d.Status == status {
			out = append(out, d)
		}
	}

	return out, nil
}

func (r *fakeRepo) FindWithKeepAwakeEnabled(context.Context) ([]models.Device, error) {
	out := []models.Device{}

	for _, d := range r.devs {
		if d.KeepAwakeEnabled {
			out = append(out, d)
		}
	}

	return out, nil
}

func (r *fakeRepo) UpdateKeepAwakeSettings(context.Context, string, bool, *string, *string) error {
	return nil
}

func (r *fakeRepo) UpdateOnlineStatus(_ context.Context, id string, online bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.statuses[id] = online

	return nil
}

func (r *fakeRepo) onlineStatus(id string) (bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.statuses[id]

	return v, ok
}

func testConfig(maxAttempts int, resetOnSuccess bool) *Config {
	return &Config{
		CheckInterval:     models.Duration(30 * time.Second),
		CheckTimeout:      models.Duration(5 * time.Second),
		DownTimeThreshold: models.Duration(5 * time.Minute),
		Backoff: BackoffConfig{
			Policy:         BackoffFixed,
			InitialDelay:   models.Duration(time.Second),
			MaxDelay:       models.Duration(time.Minute),
			MaxAttempts:    maxAttempts,
			ResetOnSuccess: &resetOnSuccess,
		},
	}
}

func testDevice(id string) models.Device {
	return models.Device{ID: id, Name: "Box " + id, Address: "10.0.0.1", Port: 5555, Status: models.DeviceStatusOnline}
}

func TestMonitor_TickMarksHealthyOnCreation(t *testing.T) {
	clock := newFakeClock()
	provider := newFakeProvider()
	repo := newFakeRepo(testDevice("d1"))

	m := New(testConfig(3, true), repo, provider, clock, logger.NewTestLogger())
	m.ForceCheck(context.Background())

	result, err := m.GetDeviceHealthStatus("d1")
	require.NoError(t, err)
	assert.True(t, result.Healthy)
	assert.Equal(t, "Box d1", result.Name)

	online, ok := repo.onlineStatus("d1")
	require.True(t, ok)
	assert.True(t, online)

	stats := m.GetStatistics()
	assert.Equal(t, 1, stats.HealthyDevices)
	assert.Equal(t, uint64(1), stats.TicksCompleted)
}

func TestMonitor_FailedCreationSchedulesReconnect(t *testing.T) {
	clock := newFakeClock()
	provider := newFakeProvider()
	provider.createErr["d1"] = errUnreachable
	repo := newFakeRepo(testDevice("d1"))

	m := New(testConfig(3, true), repo, provider, clock, logger.NewTestLogger())
	m.ForceCheck(context.Background())

	result, err := m.GetDeviceHealthStatus("d1")
	require.NoError(t, err)
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Error, "connection refused")

	assert.Equal(t, 1, clock.pendingTimers(), "exactly one retry timer must be scheduled")

	online, ok := repo.onlineStatus("d1")
	require.True(t, ok)
	assert.False(t, online)
}

func TestMonitor_AttemptCounterIncreasesToMaxThenStops(t *testing.T) {
	clock := newFakeClock()
	provider := newFakeProvider()
	provider.createErr["d1"] = errUnreachable
	provider.reconnectErr["d1"] = errUnreachable
	repo := newFakeRepo(testDevice("d1"))

	m := New(testConfig(3, true), repo, provider, clock, logger.NewTestLogger())
	m.ForceCheck(context.Background())

	require.Equal(t, 1, m.reconnAttempts("d1"))

	// Each fired retry fails and schedules the next, one at a time.
	clock.firePending()
	assert.Equal(t, 2, m.reconnAttempts("d1"))
	assert.Equal(t, 1, clock.pendingTimers())

	clock.firePending()
	assert.Equal(t, 3, m.reconnAttempts("d1"))
	assert.Equal(t, 1, clock.pendingTimers())

	// Final retry exhausts the budget; no further timer.
	clock.firePending()
	assert.Equal(t, 3, m.reconnAttempts("d1"))
	assert.Equal(t, 0, clock.pendingTimers())

	// The next tick now retries inline at tick cadence.
	before := provider.reconnectCalls["d1"]
	m.ForceCheck(context.Background())
	assert.Equal(t, before+1, provider.reconnectCalls["d1"])
	assert.Equal(t, 0, clock.pendingTimers())
}

func TestMonitor_RecoveryResetsAttemptCounter(t *testing.T) {
	clock := newFakeClock()
	provider := newFakeProvider()
	provider.createErr["d1"] = errUnreachable
	provider.reconnectErr["d1"] = errUnreachable
	repo := newFakeRepo(testDevice("d1"))

	m := New(testConfig(5, true), repo, provider, clock, logger.NewTestLogger())
	m.ForceCheck(context.Background())

	clock.firePending() // attempt 1 fails, schedules attempt 2
	require.Equal(t, 2, m.reconnAttempts("d1"))

	// Device comes back; the next retry succeeds.
	provider.mu.Lock()
	delete(provider.reconnectErr, "d1")
	provider.mu.Unlock()

	clock.firePending()

	assert.Equal(t, 0, m.reconnAttempts("d1"))

	result, err := m.GetDeviceHealthStatus("d1")
	require.NoError(t, err)
	assert.True(t, result.Healthy)

	online, ok := repo.onlineStatus("d1")
	require.True(t, ok)
	assert.True(t, online)

	stats := m.GetStatistics()
	assert.Equal(t, 0, stats.PendingReconnects)
	assert.Equal(t, 0, stats.ActiveAlerts)
}

func TestMonitor_AttemptCounterKeptWhenResetDisabled(t *testing.T) {
	clock := newFakeClock()
	provider := newFakeProvider()
	provider.createErr["d1"] = errUnreachable
	repo := newFakeRepo(testDevice("d1"))

	m := New(testConfig(5, false), repo, provider, clock, logger.NewTestLogger())
	m.ForceCheck(context.Background())

	require.Equal(t, 1, m.reconnAttempts("d1"))

	// Retry succeeds but the counter deliberately survives.
	clock.firePending()

	assert.Equal(t, 1, m.reconnAttempts("d1"))

	result, err := m.GetDeviceHealthStatus("d1")
	require.NoError(t, err)
	assert.True(t, result.Healthy)
}

func TestMonitor_OneAlertPerDowntimeEpisode(t *testing.T) {
	clock := newFakeClock()
	provider := newFakeProvider()
	provider.createErr["d1"] = errUnreachable
	provider.reconnectErr["d1"] = errUnreachable
	repo := newFakeRepo(testDevice("d1"))

	m := New(testConfig(2, true), repo, provider, clock, logger.NewTestLogger())
	m.ForceCheck(context.Background())

	assert.Equal(t, uint64(0), m.GetStatistics().AlertsRaised)

	// Still down past the threshold: exactly one alert.
	clock.Advance(6 * time.Minute)
	m.ForceCheck(context.Background())
	assert.Equal(t, uint64(1), m.GetStatistics().AlertsRaised)
	assert.Equal(t, 1, m.GetStatistics().ActiveAlerts)

	clock.Advance(10 * time.Minute)
	m.ForceCheck(context.Background())
	assert.Equal(t, uint64(1), m.GetStatistics().AlertsRaised, "no second alert for the same episode")

	// Recovery clears the episode; a fresh outage alerts again.
	provider.mu.Lock()
	delete(provider.createErr, "d1")
	delete(provider.reconnectErr, "d1")
	provider.mu.Unlock()
	provider.Release("d1")

	m.ForceCheck(context.Background())
	require.Equal(t, 0, m.GetStatistics().ActiveAlerts)

	provider.mu.Lock()
	provider.reconnectErr["d1"] = errUnreachable
	provider.mu.Unlock()
	provider.statuses["d1"] = &devices.ConnectionStatus{State: devices.ConnectionError, LastError: errUnreachable}

	m.ForceCheck(context.Background())
	clock.Advance(6 * time.Minute)
	m.ForceCheck(context.Background())
	assert.Equal(t, uint64(2), m.GetStatistics().AlertsRaised)
}

func TestMonitor_ConnectingStatusLeftAlone(t *testing.T) {
	clock := newFakeClock()
	provider := newFakeProvider()
	provider.statuses["d1"] = &devices.ConnectionStatus{State: devices.ConnectionConnecting}
	repo := newFakeRepo(testDevice("d1"))

	m := New(testConfig(3, true), repo, provider, clock, logger.NewTestLogger())
	m.ForceCheck(context.Background())

	result, err := m.GetDeviceHealthStatus("d1")
	require.NoError(t, err)
	assert.False(t, result.Healthy)

	// No reconnection scheduled and no racing dial attempts.
	assert.Equal(t, 0, clock.pendingTimers())
	assert.Equal(t, 0, provider.createCalls["d1"])
	assert.Equal(t, 0, provider.reconnectCalls["d1"])
}

func TestMonitor_VerificationFailureEntersReconnection(t *testing.T) {
	clock := newFakeClock()
	provider := newFakeProvider()
	provider.statuses["d1"] = &devices.ConnectionStatus{
		State:  devices.ConnectionConnected,
		Client: &stubClient{shellErr: errUnreachable},
	}
	repo := newFakeRepo(testDevice("d1"))

	m := New(testConfig(3, true), repo, provider, clock, logger.NewTestLogger())
	m.ForceCheck(context.Background())

	result, err := m.GetDeviceHealthStatus("d1")
	require.NoError(t, err)
	assert.False(t, result.Healthy)
	assert.Equal(t, 1, clock.pendingTimers())
}

func TestMonitor_OneDeviceFailureDoesNotAffectOthers(t *testing.T) {
	clock := newFakeClock()
	provider := newFakeProvider()
	provider.createErr["bad"] = errUnreachable
	repo := newFakeRepo(testDevice("bad"), testDevice("good"))

	m := New(testConfig(3, true), repo, provider, clock, logger.NewTestLogger())
	m.ForceCheck(context.Background())

	stats := m.GetStatistics()
	assert.Equal(t, 2, stats.TotalDevices)
	assert.Equal(t, 1, stats.HealthyDevices)
	assert.Equal(t, 1, stats.UnhealthyDevices)

	results := m.GetHealthStatus()
	require.Len(t, results, 2)
	assert.Equal(t, "bad", results[0].DeviceID)
	assert.Equal(t, "good", results[1].DeviceID)
}

func TestMonitor_GetDeviceHealthStatusUnknown(t *testing.T) {
	m := New(testConfig(3, true), newFakeRepo(), newFakeProvider(), newFakeClock(), logger.NewTestLogger())

	_, err := m.GetDeviceHealthStatus("ghost")
	require.ErrorIs(t, err, ErrDeviceNotTracked)
}

func TestMonitor_StartIsIdempotentAndStopCancelsTimers(t *testing.T) {
	clock := newFakeClock()
	provider := newFakeProvider()
	provider.createErr["d1"] = errUnreachable
	repo := newFakeRepo(testDevice("d1"))

	m := New(testConfig(3, true), repo, provider, clock, logger.NewTestLogger())

	started := make(chan error, 1)

	go func() {
		started <- m.Start(context.Background())
	}()

	// Wait for the initial tick to have scheduled the retry timer.
	require.Eventually(t, func() bool {
		return clock.pendingTimers() == 1
	}, time.Second, 5*time.Millisecond)

	// Duplicate start is a logged no-op.
	require.NoError(t, m.Start(context.Background()))

	require.NoError(t, m.Stop(context.Background()))
	require.NoError(t, <-started)

	assert.Equal(t, 0, clock.pendingTimers(), "stop must cancel pending reconnection timers")
}

func TestMonitor_StopBlocksRearmFromInFlightRetry(t *testing.T) {
	clock := newFakeClock()
	provider := newFakeProvider()
	provider.createErr["d1"] = errUnreachable
	provider.reconnectErr["d1"] = errUnreachable
	repo := newFakeRepo(testDevice("d1"))

	m := New(testConfig(3, true), repo, provider, clock, logger.NewTestLogger())
	m.ForceCheck(context.Background())
	require.Equal(t, 1, clock.pendingTimers())

	provider.mu.Lock()
	provider.reconnectEntered = make(chan struct{})
	provider.reconnectRelease = make(chan struct{})
	provider.mu.Unlock()

	// Fire the retry and hold its callback inside the reconnect call.
	fired := make(chan struct{})

	go func() {
		clock.firePending()
		close(fired)
	}()

	<-provider.reconnectEntered

	require.NoError(t, m.Stop(context.Background()))
	require.Equal(t, 0, clock.pendingTimers())

	// The callback resumes after Stop has returned; it must not arm a
	// fresh timer.
	close(provider.reconnectRelease)
	<-fired

	assert.Equal(t, 0, clock.pendingTimers(), "no timer may be armed after Stop returns")
	assert.Equal(t, 0, m.GetStatistics().PendingReconnects)
}

func TestInitShared_Singleton(t *testing.T) {
	cfg := testConfig(3, true)
	repo := newFakeRepo()
	provider := newFakeProvider()

	a := InitShared(cfg, repo, provider, newFakeClock(), logger.NewTestLogger())
	b := InitShared(cfg, repo, provider, newFakeClock(), logger.NewTestLogger())

	assert.Same(t, a, b)
	assert.Same(t, a, Shared())
}
