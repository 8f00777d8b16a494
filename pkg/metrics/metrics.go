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

// Package metrics holds the Prometheus instrumentation for the resilience
// layer. All methods are nil-safe so components can run without metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all Prometheus metrics.
type Registry struct {
	checksTotal       *prometheus.CounterVec
	reconnectAttempts prometheus.Counter
	alertsRaised      prometheus.Counter
	keepAwakeActions  *prometheus.CounterVec
	breakerState      *prometheus.GaugeVec
	breakerRejects    *prometheus.CounterVec
	checkDuration     prometheus.Histogram
}

// NewRegistry creates a new metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		checksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetwatch_health_checks_total",
			Help: "Total number of per-device health checks, by outcome",
		}, []string{"outcome"}),
		reconnectAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fleetwatch_reconnect_attempts_total",
			Help: "Total number of scheduled reconnection attempts",
		}),
		alertsRaised: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fleetwatch_downtime_alerts_total",
			Help: "Total number of downtime alerts raised",
		}),
		keepAwakeActions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetwatch_keep_awake_actions_total",
			Help: "Total number of keep-awake actions, by action and result",
		}, []string{"action", "result"}),
		breakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fleetwatch_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		breakerRejects: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetwatch_circuit_breaker_rejects_total",
			Help: "Total number of calls rejected by an open circuit breaker",
		}, []string{"name"}),
		checkDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fleetwatch_health_check_duration_seconds",
			Help:    "Duration of per-device health checks",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}),
	}
}

// IncCheck records one health check outcome ("ok" or "failed").
func (r *Registry) IncCheck(outcome string) {
	if r == nil {
		return
	}

	r.checksTotal.WithLabelValues(outcome).Inc()
}

// IncReconnectAttempt records one scheduled reconnection attempt.
func (r *Registry) IncReconnectAttempt() {
	if r == nil {
		return
	}

	r.reconnectAttempts.Inc()
}

// IncAlertRaised records one downtime alert.
func (r *Registry) IncAlertRaised() {
	if r == nil {
		return
	}

	r.alertsRaised.Inc()
}

// IncKeepAwakeAction records one keep-awake action with its result
// ("ok" or "failed").
func (r *Registry) IncKeepAwakeAction(action, result string) {
	if r == nil {
		return
	}

	r.keepAwakeActions.WithLabelValues(action, result).Inc()
}

// SetBreakerState records a breaker state transition.
func (r *Registry) SetBreakerState(name string, state int) {
	if r == nil {
		return
	}

	r.breakerState.WithLabelValues(name).Set(float64(state))
}

// IncBreakerReject records one rejected breaker call.
func (r *Registry) IncBreakerReject(name string) {
	if r == nil {
		return
	}

	r.breakerRejects.WithLabelValues(name).Inc()
}

// ObserveCheckDuration records the duration of one health check in seconds.
func (r *Registry) ObserveCheckDuration(seconds float64) {
	if r == nil {
		return
	}

	r.checkDuration.Observe(seconds)
}
