// Copyright 2025 The Geotrackd Authors
// SPDX-License-Identifier: Apache-2.0

package spatial

import (
	"fmt"

	"github.com/uber/h3-go/v4"
)

// DefaultIndexResolution is a good compromise for neighborhoods of a few
// kilometers: res 8 hexagons average ~0.74 km².
const DefaultIndexResolution = 8

// CellIndex buckets an entity roster by H3 cell so proximity queries can
// pre-select a coarse candidate neighborhood before running the exact
// Haversine filter.
type CellIndex struct {
	resolution int
	cells      map[h3.Cell][]Entity
	size       int
}

// NewCellIndex indexes the given entities at the given H3 resolution.
// The input slice is not retained.
func NewCellIndex(entities []Entity, resolution int) (*CellIndex, error) {
	if resolution < 0 || resolution > h3.MaxResolution {
		return nil, &InvalidArgumentError{
			Argument: "resolution",
			Message:  fmt.Sprintf("resolution must be between 0 and %d", h3.MaxResolution),
		}
	}

	index := &CellIndex{
		resolution: resolution,
		cells:      make(map[h3.Cell][]Entity),
	}

	for _, e := range entities {
		cell, err := h3.LatLngToCell(h3.NewLatLng(e.Point.Lat, e.Point.Lng), resolution)
		if err != nil {
			return nil, fmt.Errorf("indexing entity %q: %w", e.ID, err)
		}

		index.cells[cell] = append(index.cells[cell], e)
		index.size++
	}

	return index, nil
}

// Resolution returns the H3 resolution the index was built at.
func (ci *CellIndex) Resolution() int {
	return ci.resolution
}

// Len returns the number of indexed entities.
func (ci *CellIndex) Len() int {
	return ci.size
}

// avgEdgeMeters is the average H3 hexagon edge length per resolution.
var avgEdgeMeters = [h3.MaxResolution + 1]float64{
	1107712, 418676, 158244, 59810, 22606, 8544, 3229, 1220,
	461, 174, 65.9, 24.9, 9.4, 3.5, 1.3, 0.5,
}

// RingForRadius returns a grid-disk ring size whose coverage is a
// conservative superset of the given radius at the index resolution.
func (ci *CellIndex) RingForRadius(radiusMeters float64) int {
	if radiusMeters <= 0 {
		return 0
	}

	// A ring of k cells spans at least k incircle widths (edge * 1.5)
	// from the origin cell; one extra ring absorbs the origin offset.
	edge := avgEdgeMeters[ci.resolution]

	return int(radiusMeters/(edge*1.5)) + 1
}

// Candidates returns the entities in the reference cell and its ring-k
// neighborhood. The result is a superset of any exact filter whose
// radius fits inside the ring, and must still be distance-filtered.
func (ci *CellIndex) Candidates(reference Point, ring int) ([]Entity, error) {
	if ring < 0 {
		return nil, &InvalidArgumentError{Argument: "ring", Message: "ring must not be negative"}
	}

	origin, err := h3.LatLngToCell(h3.NewLatLng(reference.Lat, reference.Lng), ci.resolution)
	if err != nil {
		return nil, fmt.Errorf("locating reference cell: %w", err)
	}

	disk, err := h3.GridDisk(origin, ring)
	if err != nil {
		return nil, fmt.Errorf("expanding cell neighborhood: %w", err)
	}

	var candidates []Entity
	for _, cell := range disk {
		candidates = append(candidates, ci.cells[cell]...)
	}

	return candidates, nil
}
