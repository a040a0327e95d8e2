// Copyright 2025 The Geotrackd Authors
// SPDX-License-Identifier: Apache-2.0

package track

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/geotrackd/geotrackd/spatial"
)

// ErrTrackExhausted signals that a replay provider ran out of recorded
// fixes. It reaches the tracker as a terminal provider failure.
var ErrTrackExhausted = errors.New("replay track exhausted")

// ErrNoFixAvailable is returned when a fresh fix is requested from an
// empty replay track.
var ErrNoFixAvailable = errors.New("no fix available")

// ReplayProvider is a Provider that replays a recorded track on the
// policy cadence, with client-side displacement filtering. It backs the
// CLI and the pipeline tests.
type ReplayProvider struct {
	fixes []spatial.Fix

	mu      sync.Mutex
	last    spatial.Fix
	hasLast bool
	cursor  int
}

// NewReplayProvider builds a provider over recorded fixes. The slice is
// not copied; callers must not mutate it afterwards.
func NewReplayProvider(fixes []spatial.Fix) *ReplayProvider {
	return &ReplayProvider{fixes: fixes}
}

type replayRegistration struct {
	stop chan struct{}
	once sync.Once
}

// RegisterForUpdates starts a goroutine emitting the recorded fixes at
// the policy interval. Fixes closer to the previously emitted one than
// the minimum displacement are suppressed. When the track runs out the
// sink receives ErrTrackExhausted as a terminal failure.
func (p *ReplayProvider) RegisterForUpdates(ctx context.Context, policy UpdatePolicy, sink FixSink) (Registration, error) {
	if sink == nil {
		return nil, errors.New("nil fix sink")
	}

	policy = policy.normalize()
	reg := &replayRegistration{stop: make(chan struct{})}

	go p.run(ctx, policy, sink, reg)

	return reg, nil
}

func (p *ReplayProvider) run(ctx context.Context, policy UpdatePolicy, sink FixSink, reg *replayRegistration) {
	ticker := time.NewTicker(policy.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-reg.stop:
			return
		case <-ticker.C:
		}

		fix, ok := p.next(policy.MinDisplacementMeters)
		if !ok {
			sink.OnProviderError(ErrTrackExhausted)

			return
		}

		sink.OnFix(fix)
	}
}

// next advances the cursor past fixes that do not clear the displacement
// filter and returns the next emittable fix.
func (p *ReplayProvider) next(minDisplacement float64) (spatial.Fix, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.cursor < len(p.fixes) {
		fix := p.fixes[p.cursor]
		p.cursor++

		if p.hasLast && p.last.Point.HaversineDistance(fix.Point) < minDisplacement {
			continue
		}

		if fix.Time.IsZero() {
			fix.Time = time.Now()
		}

		p.last = fix
		p.hasLast = true

		return fix, true
	}

	return spatial.Fix{}, false
}

// Deregister stops fix delivery. Unknown or already-deregistered handles
// are tolerated.
func (p *ReplayProvider) Deregister(reg Registration) error {
	r, ok := reg.(*replayRegistration)
	if !ok {
		return nil
	}

	r.once.Do(func() {
		close(r.stop)
	})

	return nil
}

// LastKnownFix returns the most recently emitted fix.
func (p *ReplayProvider) LastKnownFix() (spatial.Fix, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.last, p.hasLast
}

// RequestCurrentFix returns the fix at the cursor without advancing it,
// falling back to the last emitted one.
func (p *ReplayProvider) RequestCurrentFix(_ context.Context, _ Priority) (spatial.Fix, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cursor < len(p.fixes) {
		fix := p.fixes[p.cursor]
		if fix.Time.IsZero() {
			fix.Time = time.Now()
		}

		return fix, nil
	}

	if p.hasLast {
		return p.last, nil
	}

	return spatial.Fix{}, ErrNoFixAvailable
}

// LoadTrack loads recorded fixes from a GeoJSON file: the first
// LineString feature of a FeatureCollection, coordinates in [lng, lat]
// order. An optional numeric "accuracy_meters" property applies to every
// fix.
func LoadTrack(path string) ([]spatial.Fix, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is provided by admin
	if err != nil {
		return nil, fmt.Errorf("reading track file: %w", err)
	}

	var geoJSON struct {
		Features []struct {
			Geometry struct {
				Type        string      `json:"type"`
				Coordinates [][]float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties struct {
				AccuracyMeters float64 `json:"accuracy_meters"`
			} `json:"properties"`
		} `json:"features"`
	}

	if err := json.Unmarshal(data, &geoJSON); err != nil {
		return nil, fmt.Errorf("parsing track JSON: %w", err)
	}

	for _, feature := range geoJSON.Features {
		if feature.Geometry.Type != "LineString" {
			continue
		}

		fixes := make([]spatial.Fix, 0, len(feature.Geometry.Coordinates))

		for i, coords := range feature.Geometry.Coordinates {
			if len(coords) < 2 {
				return nil, fmt.Errorf("track point %d: expected [lng, lat]", i)
			}

			point, err := spatial.NewPoint(coords[1], coords[0])
			if err != nil {
				return nil, fmt.Errorf("track point %d: %w", i, err)
			}

			fixes = append(fixes, spatial.Fix{
				Point:          point,
				AccuracyMeters: feature.Properties.AccuracyMeters,
			})
		}

		return fixes, nil
	}

	return nil, errors.New("no LineString feature in track file")
}
