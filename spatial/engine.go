// Copyright 2025 The Geotrackd Authors
// SPDX-License-Identifier: Apache-2.0

package spatial

import (
	"sort"
	"time"
)

// Filter computes the distance from reference to every candidate and
// retains those within thresholdMeters. When sortByDistance is true the
// result is ordered ascending by distance, ties broken by input order.
// The candidates slice and its entities are never mutated; returned
// entities are copies carrying DistanceMeters.
func Filter(reference Point, candidates []Entity, thresholdMeters float64, sortByDistance bool) (*FilterResult, error) {
	if len(candidates) == 0 {
		return nil, &InvalidArgumentError{Argument: "candidates", Message: "candidate set is empty"}
	}

	if thresholdMeters <= 0 {
		return nil, &InvalidArgumentError{Argument: "thresholdMeters", Message: "threshold must be positive"}
	}

	start := time.Now()

	matched := make([]Entity, 0, len(candidates))

	for _, c := range candidates {
		d := reference.HaversineDistance(c.Point)
		if d <= thresholdMeters {
			matched = append(matched, c.withDistance(d))
		}
	}

	if sortByDistance {
		sort.SliceStable(matched, func(i, j int) bool {
			return *matched[i].DistanceMeters < *matched[j].DistanceMeters
		})
	}

	return &FilterResult{
		Entities:        matched,
		TotalFound:      len(matched),
		ThresholdMeters: thresholdMeters,
		Reference:       reference,
		ElapsedMs:       time.Since(start).Milliseconds(),
	}, nil
}

// FilterByRanges re-runs Filter independently for every threshold.
// Duplicate thresholds overwrite the map entry.
func FilterByRanges(reference Point, candidates []Entity, thresholds []float64) (map[float64]*FilterResult, error) {
	results := make(map[float64]*FilterResult, len(thresholds))

	for _, threshold := range thresholds {
		result, err := Filter(reference, candidates, threshold, true)
		if err != nil {
			return nil, err
		}

		results[threshold] = result
	}

	return results, nil
}

// Closest returns the count nearest candidates, ascending by distance,
// or all of them if fewer exist. ThresholdMeters in the result is the
// maximum distance actually returned, 0 when the result is empty.
func Closest(reference Point, candidates []Entity, count int) (*FilterResult, error) {
	if len(candidates) == 0 {
		return nil, &InvalidArgumentError{Argument: "candidates", Message: "candidate set is empty"}
	}

	if count <= 0 {
		return nil, &InvalidArgumentError{Argument: "count", Message: "count must be positive"}
	}

	start := time.Now()

	ranked := make([]Entity, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, c.withDistance(reference.HaversineDistance(c.Point)))
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return *ranked[i].DistanceMeters < *ranked[j].DistanceMeters
	})

	if count < len(ranked) {
		ranked = ranked[:count]
	}

	maxDistance := 0.0
	if len(ranked) > 0 {
		maxDistance = *ranked[len(ranked)-1].DistanceMeters
	}

	return &FilterResult{
		Entities:        ranked,
		TotalFound:      len(ranked),
		ThresholdMeters: maxDistance,
		Reference:       reference,
		ElapsedMs:       time.Since(start).Milliseconds(),
	}, nil
}

// IsWithin reports whether point lies within radiusMeters of center.
func IsWithin(point, center Point, radiusMeters float64) bool {
	return point.HaversineDistance(center) <= radiusMeters
}

// Statistics computes min, max, and mean distance from reference over
// the full candidate set, unfiltered.
func Statistics(reference Point, candidates []Entity) (*DistanceStatistics, error) {
	if len(candidates) == 0 {
		return nil, &InvalidArgumentError{Argument: "candidates", Message: "candidate set is empty"}
	}

	stats := &DistanceStatistics{SampleCount: len(candidates)}

	var sum float64

	for i, c := range candidates {
		d := reference.HaversineDistance(c.Point)
		sum += d

		if i == 0 || d < stats.Min {
			stats.Min = d
		}

		if d > stats.Max {
			stats.Max = d
		}
	}

	stats.Average = sum / float64(len(candidates))

	return stats, nil
}
