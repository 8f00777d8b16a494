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

package keepawake

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const minutesPerDay = 24 * 60

// parseClock parses a wall-clock time in "HH:MM" form into minutes since
// midnight. Hours run 0-23 and minutes 0-59.
func parseClock(value string) (int, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClockTime, value)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClockTime, value)
	}

	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClockTime, value)
	}

	return hour*60 + minute, nil
}

// inWindow reports whether now falls inside the [startMin, endMin) window.
// Windows where endMin < startMin cross midnight; the end is shifted by a
// day and now is tested both as-is and shifted by a day.
func inWindow(now time.Time, startMin, endMin int) bool {
	if endMin < startMin {
		endMin += minutesPerDay
	}

	m := now.Hour()*60 + now.Minute()
	if m >= startMin && m < endMin {
		return true
	}

	shifted := m + minutesPerDay

	return shifted >= startMin && shifted < endMin
}

// untilNext returns the duration from now to the next occurrence of the
// given minutes-since-midnight wall-clock time.
func untilNext(now time.Time, minOfDay int) time.Duration {
	target := time.Date(now.Year(), now.Month(), now.Day(),
		minOfDay/60, minOfDay%60, 0, 0, now.Location())
	if !target.After(now) {
		target = target.Add(24 * time.Hour)
	}

	return target.Sub(now)
}
