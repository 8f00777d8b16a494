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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venuevision/fleetwatch/pkg/logger"
)

func TestRegistry_GetOrCreateReturnsSameInstance(t *testing.T) {
	r := NewRegistry(logger.NewTestLogger())

	a := r.GetOrCreate("device-check", DefaultConfig())
	b := r.GetOrCreate("device-check", Config{VolumeThreshold: 99})

	assert.Same(t, a, b, "second registration must not replace the breaker")
}

func TestRegistry_StatesAndStats(t *testing.T) {
	r := NewRegistry(logger.NewTestLogger())

	healthy := r.GetOrCreate("healthy", Config{
		ErrorThresholdPercentage: 50,
		VolumeThreshold:          1,
		ResetTimeout:             time.Minute,
	})
	broken := r.GetOrCreate("broken", Config{
		ErrorThresholdPercentage: 50,
		VolumeThreshold:          1,
		ResetTimeout:             time.Minute,
	})

	_, err := healthy.Execute(context.Background(), succeedingOp)
	require.NoError(t, err)

	_, err = broken.Execute(context.Background(), failingOp)
	require.Error(t, err)

	states := r.GetCircuitStates()
	assert.Equal(t, "closed", states["healthy"])
	assert.Equal(t, "open", states["broken"])

	stats := r.GetAllStats()
	require.Len(t, stats, 2)
	assert.Equal(t, uint64(1), stats["healthy"].Successes)
	assert.Equal(t, uint64(1), stats["broken"].Failures)
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry(logger.NewTestLogger())

	_, ok := r.Get("missing")
	assert.False(t, ok)

	created := r.GetOrCreate("present", DefaultConfig())

	got, ok := r.Get("present")
	require.True(t, ok)
	assert.Same(t, created, got)
}

func TestDefaultRegistry_Singleton(t *testing.T) {
	assert.Same(t, DefaultRegistry(), DefaultRegistry())
}
