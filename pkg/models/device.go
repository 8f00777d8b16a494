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

// Package models contains the shared domain types for the fleet.
package models

import "time"

// DeviceStatus describes the persisted operational state of a device.
type DeviceStatus string

const (
	DeviceStatusOnline  DeviceStatus = "online"
	DeviceStatusOffline DeviceStatus = "offline"
)

// Device is a network-attached streaming set-top box. Device records are
// owned by the device repository; the resilience layer only reads them and
// writes back derived operational fields.
type Device struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Address          string       `json:"address"`
	Port             int          `json:"port"`
	Capabilities     []string     `json:"capabilities,omitempty"`
	Status           DeviceStatus `json:"status"`
	KeepAwakeEnabled bool         `json:"keep_awake_enabled"`
	KeepAwakeStart   string       `json:"keep_awake_start,omitempty"` // "HH:MM"
	KeepAwakeEnd     string       `json:"keep_awake_end,omitempty"`   // "HH:MM"
}

// HasCapability reports whether the device advertises the named capability.
func (d *Device) HasCapability(name string) bool {
	for _, c := range d.Capabilities {
		if c == name {
			return true
		}
	}

	return false
}

// KeepAwakeAction identifies the kind of action recorded in the audit log.
type KeepAwakeAction string

const (
	ActionWake       KeepAwakeAction = "wake"
	ActionKeepAwake  KeepAwakeAction = "keep_awake"
	ActionAllowSleep KeepAwakeAction = "allow_sleep"
)

// KeepAwakeLogEntry is one append-only audit record for a keep-awake action.
type KeepAwakeLogEntry struct {
	ID        string          `json:"id"`
	DeviceID  string          `json:"device_id"`
	Action    KeepAwakeAction `json:"action"`
	Success   bool            `json:"success"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
