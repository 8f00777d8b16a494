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

package circuit

import (
	"sync"

	"github.com/venuevision/fleetwatch/pkg/logger"
)

// Registry tracks named breakers so their state and stats are discoverable
// process-wide.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	logger   logger.Logger
}

// NewRegistry creates an empty breaker registry.
func NewRegistry(log logger.Logger) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		logger:   log,
	}
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the process-wide registry, creating it lazily.
// There is exactly one logical registry per process regardless of how many
// times the package is reached.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry(logger.NewTestLogger())
	})

	return defaultRegistry
}

// GetOrCreate returns the breaker registered under name, creating and
// registering it with config when absent. The config of an existing breaker
// is left untouched.
func (r *Registry) GetOrCreate(name string, config Config) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}

	b := New(name, config, r.logger)
	r.breakers[name] = b

	r.logger.Debug().Str("circuit_breaker", name).Msg("Registered circuit breaker")

	return b
}

// Get returns the breaker registered under name, if any.
func (r *Registry) Get(name string) (*Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.breakers[name]

	return b, ok
}

// GetCircuitStates returns the current state of every registered breaker.
func (r *Registry) GetCircuitStates() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make(map[string]string, len(r.breakers))

	for name, b := range r.breakers {
		states[name] = b.State().String()
	}

	return states
}

// GetAllStats returns a stats snapshot for every registered breaker.
func (r *Registry) GetAllStats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]Stats, len(r.breakers))

	for name, b := range r.breakers {
		stats[name] = b.Stats()
	}

	return stats
}
