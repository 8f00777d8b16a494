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
)

// BackoffPolicy selects how reconnection delays grow with the attempt count.
type BackoffPolicy string

const (
	BackoffFixed       BackoffPolicy = "fixed"
	BackoffLinear      BackoffPolicy = "linear"
	BackoffExponential BackoffPolicy = "exponential"
)

// DelayFunc computes the delay before retry number attempt (1-based).
// It is pure so policies are testable without timers.
type DelayFunc func(attempt int) time.Duration

// delayFunc builds the DelayFunc for the configured policy. Every policy is
// capped at MaxDelay.
func (c *BackoffConfig) delayFunc() DelayFunc {
	initial := time.Duration(c.InitialDelay)
	maxDelay := time.Duration(c.MaxDelay)

	clamp := func(d time.Duration) time.Duration {
		if maxDelay > 0 && d > maxDelay {
			return maxDelay
		}

		return d
	}

	switch c.Policy {
	case BackoffLinear:
		return func(attempt int) time.Duration {
			if attempt < 1 {
				attempt = 1
			}

			return clamp(initial * time.Duration(attempt))
		}

	case BackoffExponential:
		return func(attempt int) time.Duration {
			if attempt < 1 {
				attempt = 1
			}

			d := initial

			for i := 1; i < attempt; i++ {
				d *= 2
				if maxDelay > 0 && d >= maxDelay {
					return maxDelay
				}
			}

			return clamp(d)
		}

	default: // BackoffFixed
		return func(int) time.Duration {
			return clamp(initial)
		}
	}
}
