// Copyright 2025 The Geotrackd Authors
// SPDX-License-Identifier: Apache-2.0

// Package track runs the location-acquisition pipeline: a provider feeds
// raw fixes into a state machine that fuses each fix with a best-effort
// reverse-geocoded address and broadcasts the result.
package track

// State is the acquisition lifecycle state. It is owned exclusively by
// the Tracker and transitions only through its public operations.
type State int

const (
	// StateIdle means no acquisition session is active.
	StateIdle State = iota
	// StateStarting means authorization and provider registration are in progress.
	StateStarting
	// StateTracking means fixes are being accepted and fused.
	StateTracking
	// StateStopping means the session is deregistering and draining.
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateTracking:
		return "tracking"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}
