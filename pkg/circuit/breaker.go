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

// Package circuit implements a circuit breaker for calls to unreliable
// remote services, with a process-wide registry of named breakers.
package circuit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/venuevision/fleetwatch/pkg/logger"
)

// State represents the current state of a breaker.
type State int

const (
	// StateClosed - calls are executed normally.
	StateClosed State = iota
	// StateOpen - calls are rejected without invoking the operation.
	StateOpen
	// StateHalfOpen - a single trial call probes whether the downstream
	// service has recovered.
	StateHalfOpen
)

// String returns a string representation of the breaker state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Operation is a call protected by a breaker. Arguments are carried by the
// closure; the operation must respect ctx cancellation.
type Operation func(ctx context.Context) (interface{}, error)

// Fallback handles a rejected call. It receives the error that caused the
// rejection and must never itself be protected by the same breaker. Fallback
// errors propagate to the caller unmodified.
type Fallback func(ctx context.Context, err error) (interface{}, error)

// Config holds configuration for a breaker.
type Config struct {
	// Timeout bounds each invocation of the operation. Exceeding it counts
	// as a failure. Zero disables timeout enforcement.
	Timeout time.Duration
	// ErrorThresholdPercentage is the failure rate (failures+timeouts over
	// total calls) above which the breaker opens.
	ErrorThresholdPercentage float64
	// VolumeThreshold is the minimum number of calls in the rolling window
	// before the failure rate is evaluated.
	VolumeThreshold int
	// ResetTimeout is how long the breaker stays open before admitting a
	// single half-open trial call.
	ResetTimeout time.Duration
	// Fallback, when set, is invoked for rejected calls instead of
	// returning ErrCircuitOpen.
	Fallback Fallback
	// OnStateChange, when set, is notified of every state transition.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:                  10 * time.Second,
		ErrorThresholdPercentage: 50,
		VolumeThreshold:          10,
		ResetTimeout:             30 * time.Second,
	}
}

// latencyBuckets are the upper bounds of the execution latency histogram.
var latencyBuckets = [...]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	2500 * time.Millisecond,
	5 * time.Second,
}

// LatencySummary is a snapshot of the execution latency histogram.
type LatencySummary struct {
	Count   uint64            `json:"count"`
	Min     time.Duration     `json:"min"`
	Max     time.Duration     `json:"max"`
	Mean    time.Duration     `json:"mean"`
	Buckets map[string]uint64 `json:"buckets"`
}

// Stats is a snapshot of a breaker's rolling counters.
type Stats struct {
	Name      string         `json:"name"`
	State     string         `json:"state"`
	Successes uint64         `json:"successes"`
	Failures  uint64         `json:"failures"`
	Timeouts  uint64         `json:"timeouts"`
	Rejects   uint64         `json:"rejects"`
	Fallbacks uint64         `json:"fallbacks"`
	OpenedAt  time.Time      `json:"opened_at,omitempty"`
	Latency   LatencySummary `json:"latency"`
}

// Breaker wraps one unreliable operation. Instances are long-lived: a fresh
// instance is the only way to reset accumulated stats.
type Breaker struct {
	name   string
	config Config
	logger logger.Logger
	now    func() time.Time

	mu               sync.Mutex
	state            State
	openedAt         time.Time
	halfOpenInFlight bool

	successes uint64
	failures  uint64
	timeouts  uint64
	rejects   uint64
	fallbacks uint64

	latCounts [len(latencyBuckets) + 1]uint64
	latCount  uint64
	latSum    time.Duration
	latMin    time.Duration
	latMax    time.Duration
}

// New creates a new breaker with the given configuration.
func New(name string, config Config, log logger.Logger) *Breaker {
	return &Breaker{
		name:   name,
		config: config,
		state:  StateClosed,
		logger: log,
		now:    time.Now,
	}
}

// Name returns the breaker's registry name.
func (b *Breaker) Name() string {
	return b.name
}

// Execute runs op through the breaker. When the breaker is open the
// operation is never invoked: the call fails with ErrCircuitOpen or is
// routed to the configured fallback.
func (b *Breaker) Execute(ctx context.Context, op Operation) (interface{}, error) {
	if err := b.beforeCall(); err != nil {
		if b.config.Fallback != nil {
			b.recordFallback()
			return b.config.Fallback(ctx, err)
		}

		return nil, err
	}

	start := b.now()
	result, err := b.run(ctx, op)
	b.afterCall(b.now().Sub(start), err)

	return result, err
}

// run invokes op under the configured timeout.
func (b *Breaker) run(ctx context.Context, op Operation) (interface{}, error) {
	if b.config.Timeout <= 0 {
		return op(ctx)
	}

	opCtx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	type opResult struct {
		value interface{}
		err   error
	}

	done := make(chan opResult, 1)

	go func() {
		value, err := op(opCtx)
		done <- opResult{value: value, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-opCtx.Done():
		if ctx.Err() != nil {
			// Caller cancellation, not a breaker timeout.
			return nil, ctx.Err()
		}

		return nil, fmt.Errorf("%w: %s exceeded %s", ErrTimeout, b.name, b.config.Timeout)
	}
}

// beforeCall decides whether the call may proceed, handling the
// open -> half-open transition and the single-trial admission.
func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.config.ResetTimeout {
			b.transition(StateHalfOpen)
			b.halfOpenInFlight = true

			return nil
		}

		b.rejects++

		return fmt.Errorf("%w: %s", ErrCircuitOpen, b.name)

	case StateHalfOpen:
		if b.halfOpenInFlight {
			// Exactly one trial call is admitted; concurrent calls are
			// rejected, not queued.
			b.rejects++

			return fmt.Errorf("%w: %s", ErrCircuitOpen, b.name)
		}

		b.halfOpenInFlight = true

		return nil

	default:
		b.rejects++

		return fmt.Errorf("%w: %s", ErrCircuitOpen, b.name)
	}
}

// afterCall records counters and latency for an executed call and applies
// state transitions.
func (b *Breaker) afterCall(elapsed time.Duration, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.observeLatency(elapsed)

	failed := err != nil

	switch {
	case errors.Is(err, ErrTimeout):
		b.timeouts++
	case failed:
		b.failures++
	default:
		b.successes++
	}

	switch b.state {
	case StateHalfOpen:
		b.halfOpenInFlight = false

		if failed {
			b.openedAt = b.now()
			b.transition(StateOpen)

			b.logger.Warn().
				Str("circuit_breaker", b.name).
				Msg("Circuit breaker reopened after failed half-open trial")

			return
		}

		b.resetCounters()
		b.successes = 1
		b.transition(StateClosed)

		b.logger.Info().
			Str("circuit_breaker", b.name).
			Msg("Circuit breaker closed after successful recovery")

	case StateClosed:
		if !failed {
			return
		}

		total := b.successes + b.failures + b.timeouts
		if total < uint64(b.config.VolumeThreshold) {
			return
		}

		rate := float64(b.failures+b.timeouts) / float64(total) * 100
		if rate > b.config.ErrorThresholdPercentage {
			b.openedAt = b.now()
			b.transition(StateOpen)

			b.logger.Warn().
				Str("circuit_breaker", b.name).
				Float64("failure_rate", rate).
				Uint64("total_calls", total).
				Msg("Circuit breaker opened due to failures")
		}
	}
}

// transition changes state and fires the OnStateChange hook. Caller holds mu.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to

	if b.config.OnStateChange != nil && from != to {
		b.config.OnStateChange(b.name, from, to)
	}
}

// resetCounters clears the rolling window. Caller holds mu.
func (b *Breaker) resetCounters() {
	b.successes = 0
	b.failures = 0
	b.timeouts = 0
	b.rejects = 0
	b.fallbacks = 0
	b.latCounts = [len(latencyBuckets) + 1]uint64{}
	b.latCount = 0
	b.latSum = 0
	b.latMin = 0
	b.latMax = 0
}

// observeLatency records one execution latency sample. Caller holds mu.
func (b *Breaker) observeLatency(elapsed time.Duration) {
	idx := len(latencyBuckets)

	for i, bound := range latencyBuckets {
		if elapsed <= bound {
			idx = i
			break
		}
	}

	b.latCounts[idx]++
	b.latCount++
	b.latSum += elapsed

	if b.latCount == 1 || elapsed < b.latMin {
		b.latMin = elapsed
	}

	if elapsed > b.latMax {
		b.latMax = elapsed
	}
}

func (b *Breaker) recordFallback() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.fallbacks++
}

// State returns the current state of the breaker.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// Opened reports whether the breaker is currently open.
func (b *Breaker) Opened() bool {
	return b.State() == StateOpen
}

// HalfOpen reports whether the breaker is currently half-open.
func (b *Breaker) HalfOpen() bool {
	return b.State() == StateHalfOpen
}

// Stats returns a snapshot of the breaker's rolling counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	buckets := make(map[string]uint64, len(latencyBuckets)+1)

	for i, bound := range latencyBuckets {
		buckets["le_"+bound.String()] = b.latCounts[i]
	}

	buckets["le_inf"] = b.latCounts[len(latencyBuckets)]

	var mean time.Duration
	if b.latCount > 0 {
		mean = b.latSum / time.Duration(b.latCount)
	}

	return Stats{
		Name:      b.name,
		State:     b.state.String(),
		Successes: b.successes,
		Failures:  b.failures,
		Timeouts:  b.timeouts,
		Rejects:   b.rejects,
		Fallbacks: b.fallbacks,
		OpenedAt:  b.openedAt,
		Latency: LatencySummary{
			Count:   b.latCount,
			Min:     b.latMin,
			Max:     b.latMax,
			Mean:    mean,
			Buckets: buckets,
		},
	}
}
