// Copyright 2025 The Geotrackd Authors
// SPDX-License-Identifier: Apache-2.0

package track

import (
	"context"
	"time"

	"github.com/geotrackd/geotrackd/geocode"
	"github.com/geotrackd/geotrackd/spatial"
)

// Priority selects the provider's accuracy/power tradeoff.
type Priority int

const (
	// PriorityBalancedPower favors battery over precision.
	PriorityBalancedPower Priority = iota
	// PriorityHighAccuracy favors precision over battery.
	PriorityHighAccuracy
)

func (p Priority) String() string {
	if p == PriorityHighAccuracy {
		return "high_accuracy"
	}

	return "balanced_power"
}

// UpdatePolicy bounds the cadence of provider fixes. The provider owns
// displacement filtering; consumers must tolerate providers that over-
// or under-deliver.
type UpdatePolicy struct {
	// Interval is the base fix interval.
	Interval time.Duration `yaml:"interval"`

	// FastestInterval is the fastest fix delivery the consumer accepts.
	FastestInterval time.Duration `yaml:"fastest_interval"`

	// MinDisplacementMeters suppresses fixes closer together than this.
	MinDisplacementMeters float64 `yaml:"min_displacement_meters"`

	// MaxBatchingDelay bounds how long the provider may batch fixes.
	MaxBatchingDelay time.Duration `yaml:"max_batching_delay"`

	Priority Priority `yaml:"priority"`
}

// DefaultUpdatePolicy returns the standard tracking cadence.
func DefaultUpdatePolicy() UpdatePolicy {
	return UpdatePolicy{
		Interval:              10 * time.Second,
		FastestInterval:       5 * time.Second,
		MinDisplacementMeters: 5,
		MaxBatchingDelay:      20 * time.Second,
		Priority:              PriorityHighAccuracy,
	}
}

// normalize fills zero fields from the defaults.
func (p UpdatePolicy) normalize() UpdatePolicy {
	def := DefaultUpdatePolicy()

	if p.Interval <= 0 {
		p.Interval = def.Interval
	}

	if p.FastestInterval <= 0 {
		p.FastestInterval = def.FastestInterval
	}

	if p.MinDisplacementMeters <= 0 {
		p.MinDisplacementMeters = def.MinDisplacementMeters
	}

	if p.MaxBatchingDelay <= 0 {
		p.MaxBatchingDelay = def.MaxBatchingDelay
	}

	return p
}

// Registration is an opaque handle for an active fix subscription.
type Registration any

// FixSink receives fixes and terminal failures from a registration.
// Fixes are delivered in provider-emission order.
type FixSink interface {
	OnFix(fix spatial.Fix)

	// OnProviderError signals a terminal failure of the registration,
	// such as services becoming unavailable or permissions being
	// revoked mid-session.
	OnProviderError(err error)
}

// Provider is the abstract device location capability.
type Provider interface {
	// RegisterForUpdates starts fix delivery honoring the policy and
	// returns a handle for Deregister.
	RegisterForUpdates(ctx context.Context, policy UpdatePolicy, sink FixSink) (Registration, error)

	// Deregister stops fix delivery. It tolerates a registration that
	// was already deregistered.
	Deregister(reg Registration) error

	// LastKnownFix returns a recent cached fix, if any.
	LastKnownFix() (spatial.Fix, bool)

	// RequestCurrentFix obtains a single fresh fix. It honors ctx
	// cancellation.
	RequestCurrentFix(ctx context.Context, priority Priority) (spatial.Fix, error)
}

// positionSource adapts a Provider to the geocode package's
// PositionSource interface.
type positionSource struct {
	provider Provider
	priority Priority
}

// PositionSource adapts a Provider for current-device address lookups.
func PositionSource(p Provider, priority Priority) geocode.PositionSource {
	return positionSource{provider: p, priority: priority}
}

func (s positionSource) LastKnownFix() (spatial.Fix, bool) {
	return s.provider.LastKnownFix()
}

func (s positionSource) CurrentFix(ctx context.Context) (spatial.Fix, error) {
	return s.provider.RequestCurrentFix(ctx, s.priority)
}
