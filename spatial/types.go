// Copyright 2025 The Geotrackd Authors
// SPDX-License-Identifier: Apache-2.0

// Package spatial provides validated geographic points and a
// Haversine-based distance and filtering engine.
package spatial

import (
	"fmt"
	"math"
	"time"
)

const earthRadius = 6371e3 // meters

// Point represents a geographical point with latitude and longitude.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// NewPoint builds a Point, range-checking each axis independently.
func NewPoint(lat, lng float64) (Point, error) {
	if lat < -90 || lat > 90 {
		return Point{}, &ValidationError{
			Field:   "latitude",
			Value:   lat,
			Message: "latitude must be between -90 and 90",
		}
	}

	if lng < -180 || lng > 180 {
		return Point{}, &ValidationError{
			Field:   "longitude",
			Value:   lng,
			Message: "longitude must be between -180 and 180",
		}
	}

	return Point{Lat: lat, Lng: lng}, nil
}

// String returns a string representation of the Point.
func (p Point) String() string {
	return fmt.Sprintf("POINT(%f %f)", p.Lng, p.Lat)
}

// HaversineDistance calculates the great-circle distance between two
// points on Earth in meters.
func (p Point) HaversineDistance(other Point) float64 {
	lat1 := p.Lat * math.Pi / 180
	lat2 := other.Lat * math.Pi / 180
	dLat := (other.Lat - p.Lat) * math.Pi / 180
	dLng := (other.Lng - p.Lng) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c
}

// Fix is a single raw position sample from a location provider. Fields
// beyond the coordinate are provider-native and carried through opaquely.
type Fix struct {
	Point          Point     `json:"point"`
	AccuracyMeters float64   `json:"accuracy_meters"`
	Time           time.Time `json:"time"`
}
