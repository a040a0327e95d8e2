// Copyright 2025 The Geotrackd Authors
// SPDX-License-Identifier: Apache-2.0

package spatial

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// LoadRoster loads an entity roster from a GeoJSON FeatureCollection
// file. Each feature needs an id, a name, and a Point geometry; other
// string properties are carried over as metadata in document order.
func LoadRoster(path string) ([]Entity, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is provided by admin
	if err != nil {
		return nil, fmt.Errorf("reading roster file: %w", err)
	}

	var geoJSON struct {
		Features []struct {
			Geometry struct {
				Type        string    `json:"type"`
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties json.RawMessage `json:"properties"`
		} `json:"features"`
	}

	if err := json.Unmarshal(data, &geoJSON); err != nil {
		return nil, fmt.Errorf("parsing roster JSON: %w", err)
	}

	entities := make([]Entity, 0, len(geoJSON.Features))

	for i, feature := range geoJSON.Features {
		if feature.Geometry.Type != "Point" || len(feature.Geometry.Coordinates) < 2 {
			return nil, fmt.Errorf("feature %d: geometry is not a point", i)
		}

		// GeoJSON order is [lng, lat]
		point, err := NewPoint(feature.Geometry.Coordinates[1], feature.Geometry.Coordinates[0])
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}

		entity := Entity{Point: point}

		properties, err := decodeProperties(feature.Properties)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}

		for _, prop := range properties {
			var value string
			if err := json.Unmarshal(prop.value, &value); err != nil {
				// non-string property, keep its raw JSON text
				value = strings.TrimSpace(string(prop.value))
			}

			switch prop.key {
			case "id":
				entity.ID = value
			case "name":
				entity.Name = value
			default:
				entity.Metadata = append(entity.Metadata, MetaField{Key: prop.key, Value: value})
			}
		}

		if entity.ID == "" {
			return nil, fmt.Errorf("feature %d: missing id property", i)
		}

		entities = append(entities, entity)
	}

	return entities, nil
}

// rawProperty is one properties entry with its document position kept.
type rawProperty struct {
	key   string
	value json.RawMessage
}

// decodeProperties tokenizes a feature's properties object, preserving
// key order. encoding/json maps lose ordering, so the raw object is
// walked token by token instead.
func decodeProperties(raw json.RawMessage) ([]rawProperty, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("reading properties: %w", err)
	}

	if tok != json.Delim('{') {
		return nil, fmt.Errorf("properties is not an object")
	}

	var properties []rawProperty

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("reading property key: %w", err)
		}

		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v in properties", tok)
		}

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("reading property %q: %w", key, err)
		}

		properties = append(properties, rawProperty{key: key, value: value})
	}

	return properties, nil
}
