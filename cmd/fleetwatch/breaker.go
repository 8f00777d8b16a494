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

package main

import (
	"context"
	"errors"

	"github.com/venuevision/fleetwatch/pkg/circuit"
	"github.com/venuevision/fleetwatch/pkg/devices"
	"github.com/venuevision/fleetwatch/pkg/metrics"
)

// breakerFactory wraps a client factory with a per-device circuit breaker
// so a dead box cannot absorb dial attempts indefinitely.
type breakerFactory struct {
	inner    devices.ClientFactory
	registry *circuit.Registry
	metrics  *metrics.Registry
}

func newBreakerFactory(inner devices.ClientFactory, registry *circuit.Registry, m *metrics.Registry) *breakerFactory {
	return &breakerFactory{inner: inner, registry: registry, metrics: m}
}

func (f *breakerFactory) NewClient(ctx context.Context, address string, port int) (devices.DeviceClient, error) {
	name := "dial:" + address

	cfg := circuit.DefaultConfig()
	cfg.OnStateChange = func(name string, _, to circuit.State) {
		f.metrics.SetBreakerState(name, int(to))
	}

	breaker := f.registry.GetOrCreate(name, cfg)

	v, err := breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return f.inner.NewClient(ctx, address, port)
	})
	if err != nil {
		if errors.Is(err, circuit.ErrCircuitOpen) {
			f.metrics.IncBreakerReject(name)
		}

		return nil, err
	}

	return v.(devices.DeviceClient), nil
}
