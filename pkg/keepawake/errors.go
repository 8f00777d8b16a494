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

import "errors"

var (
	// ErrInvalidClockTime indicates a schedule time that is not "HH:MM".
	ErrInvalidClockTime = errors.New("invalid clock time")

	// ErrWindowIncomplete indicates a schedule missing its start or end time.
	ErrWindowIncomplete = errors.New("schedule window requires both start and end times")
)
