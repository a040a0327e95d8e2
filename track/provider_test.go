// Copyright 2025 The Geotrackd Authors
// SPDX-License-Identifier: Apache-2.0

package track

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geotrackd/geotrackd/spatial"
)

func TestUpdatePolicyNormalize(t *testing.T) {
	def := DefaultUpdatePolicy()

	assert.Equal(t, def, UpdatePolicy{}.normalize())

	partial := UpdatePolicy{Interval: time.Second, Priority: PriorityBalancedPower}
	normalized := partial.normalize()

	assert.Equal(t, time.Second, normalized.Interval)
	assert.Equal(t, def.FastestInterval, normalized.FastestInterval)
	assert.Equal(t, def.MinDisplacementMeters, normalized.MinDisplacementMeters)
	assert.Equal(t, def.MaxBatchingDelay, normalized.MaxBatchingDelay)
	assert.Equal(t, PriorityBalancedPower, normalized.Priority)
}

func TestPriorityString(t *testing.T) {
	assert.Equal(t, "balanced_power", PriorityBalancedPower.String())
	assert.Equal(t, "high_accuracy", PriorityHighAccuracy.String())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "starting", StateStarting.String())
	assert.Equal(t, "tracking", StateTracking.String())
	assert.Equal(t, "stopping", StateStopping.String())
}

func TestPositionSourceAdapter(t *testing.T) {
	fix := spatial.Fix{Point: spatial.Point{Lat: 1, Lng: 2}}
	provider := &fakeProvider{lastKnown: &fix}

	source := PositionSource(provider, PriorityHighAccuracy)

	cached, ok := source.LastKnownFix()
	require.True(t, ok)
	assert.Equal(t, fix.Point, cached.Point)

	provider.lastKnown = nil
	provider.currentFix = &fix

	fresh, err := source.CurrentFix(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fix.Point, fresh.Point)
}
