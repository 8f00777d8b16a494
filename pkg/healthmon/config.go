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
	"time"

	"github.com/venuevision/fleetwatch/pkg/models"
)

const (
	defaultCheckInterval     = 30 * time.Second
	defaultCheckTimeout      = 10 * time.Second
	defaultDownTimeThreshold = 5 * time.Minute
	defaultInitialDelay      = 5 * time.Second
	defaultMaxDelay          = 2 * time.Minute
	defaultMaxAttempts       = 5
)

// BackoffConfig controls reconnection retry behavior.
type BackoffConfig struct {
	Policy       BackoffPolicy   `json:"policy"`
	InitialDelay models.Duration `json:"initial_delay"`
	MaxDelay     models.Duration `json:"max_delay"`
	MaxAttempts  int             `json:"max_attempts"`
	// ResetOnSuccess controls whether a successful reconnection resets the
	// attempt counter. Some deployments keep the counter to dampen future
	// failure storms. Defaults to true.
	ResetOnSuccess *bool `json:"reset_on_success,omitempty"`
}

// Config represents health monitor configuration.
type Config struct {
	CheckInterval     models.Duration `json:"check_interval"`
	CheckTimeout      models.Duration `json:"check_timeout"`
	DownTimeThreshold models.Duration `json:"downtime_threshold"`
	Backoff           BackoffConfig   `json:"backoff"`
}

// Validate implements config.Validator, filling in defaults.
func (c *Config) Validate() error {
	if time.Duration(c.CheckInterval) == 0 {
		c.CheckInterval = models.Duration(defaultCheckInterval)
	}

	if time.Duration(c.CheckTimeout) == 0 {
		c.CheckTimeout = models.Duration(defaultCheckTimeout)
	}

	if time.Duration(c.DownTimeThreshold) == 0 {
		c.DownTimeThreshold = models.Duration(defaultDownTimeThreshold)
	}

	if c.Backoff.Policy == "" {
		c.Backoff.Policy = BackoffExponential
	}

	if time.Duration(c.Backoff.InitialDelay) == 0 {
		c.Backoff.InitialDelay = models.Duration(defaultInitialDelay)
	}

	if time.Duration(c.Backoff.MaxDelay) == 0 {
		c.Backoff.MaxDelay = models.Duration(defaultMaxDelay)
	}

	if c.Backoff.MaxAttempts == 0 {
		c.Backoff.MaxAttempts = defaultMaxAttempts
	}

	if c.Backoff.ResetOnSuccess == nil {
		reset := true
		c.Backoff.ResetOnSuccess = &reset
	}

	return nil
}
