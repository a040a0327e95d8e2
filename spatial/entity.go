// Copyright 2025 The Geotrackd Authors
// SPDX-License-Identifier: Apache-2.0

package spatial

// MetaField is a single key/value pair of entity metadata. Metadata is
// kept as a slice because insertion order is part of the contract.
type MetaField struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Entity is a named, uniquely identified point of interest, such as an
// employee or a vehicle.
type Entity struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Point    Point       `json:"point"`
	Metadata []MetaField `json:"metadata,omitempty"`

	// DistanceMeters is populated only on entities returned by a
	// filtering operation. The same logical entity may carry different
	// values across calls.
	DistanceMeters *float64 `json:"distance_meters,omitempty"`
}

// withDistance returns a copy of the entity carrying the given distance.
// The receiver is never modified.
func (e Entity) withDistance(d float64) Entity {
	e.DistanceMeters = &d

	return e
}

// FilterResult is an immutable snapshot produced by a filtering operation.
type FilterResult struct {
	Entities        []Entity `json:"entities"`
	TotalFound      int      `json:"total_found"`
	ThresholdMeters float64  `json:"threshold_meters"`
	Reference       Point    `json:"reference"`
	ElapsedMs       int64    `json:"elapsed_ms"`
}

// DistanceStatistics summarizes distances from a reference point over a
// full candidate set.
type DistanceStatistics struct {
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Average     float64 `json:"average"`
	SampleCount int     `json:"sample_count"`
}
