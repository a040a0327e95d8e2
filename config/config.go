// Copyright 2025 The Geotrackd Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the geotrackd YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/geotrackd/geotrackd/track"
)

// Config is the root configuration.
type Config struct {
	Geocoder GeocoderConfig `yaml:"geocoder"`
	Tracker  TrackerConfig  `yaml:"tracker"`
	Server   ServerConfig   `yaml:"server"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// GeocoderConfig configures the reverse-geocoding client.
type GeocoderConfig struct {
	BaseURL        string        `yaml:"base_url"`
	UserAgent      string        `yaml:"user_agent"`
	RequestsPerSec float64       `yaml:"requests_per_sec"`
	Timeout        time.Duration `yaml:"timeout"`
	Trace          bool          `yaml:"trace"`
}

// TrackerConfig configures the acquisition update policy.
type TrackerConfig struct {
	Interval              time.Duration `yaml:"interval"`
	FastestInterval       time.Duration `yaml:"fastest_interval"`
	MinDisplacementMeters float64       `yaml:"min_displacement_meters"`
	MaxBatchingDelay      time.Duration `yaml:"max_batching_delay"`
	Priority              string        `yaml:"priority"` // high_accuracy or balanced_power
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	RosterPath string `yaml:"roster_path"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	policy := track.DefaultUpdatePolicy()

	return &Config{
		Geocoder: GeocoderConfig{
			RequestsPerSec: 1,
			Timeout:        10 * time.Second,
		},
		Tracker: TrackerConfig{
			Interval:              policy.Interval,
			FastestInterval:       policy.FastestInterval,
			MinDisplacementMeters: policy.MinDisplacementMeters,
			MaxBatchingDelay:      policy.MaxBatchingDelay,
			Priority:              track.PriorityHighAccuracy.String(),
		},
		Server: ServerConfig{
			ListenAddr: "localhost:8080",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Load reads a YAML configuration file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path) // #nosec G304 - path is provided by admin
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Geocoder.RequestsPerSec < 0 {
		return fmt.Errorf("geocoder.requests_per_sec must not be negative (got %f)", c.Geocoder.RequestsPerSec)
	}

	if c.Geocoder.Timeout < 0 {
		return fmt.Errorf("geocoder.timeout must not be negative (got %s)", c.Geocoder.Timeout)
	}

	if c.Tracker.FastestInterval > c.Tracker.Interval {
		return fmt.Errorf(
			"tracker.fastest_interval (%s) must not exceed tracker.interval (%s)",
			c.Tracker.FastestInterval, c.Tracker.Interval,
		)
	}

	if _, err := c.Tracker.priority(); err != nil {
		return err
	}

	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr must not be empty")
	}

	return nil
}

// Policy converts the tracker section into an update policy.
func (c *TrackerConfig) Policy() (track.UpdatePolicy, error) {
	priority, err := c.priority()
	if err != nil {
		return track.UpdatePolicy{}, err
	}

	return track.UpdatePolicy{
		Interval:              c.Interval,
		FastestInterval:       c.FastestInterval,
		MinDisplacementMeters: c.MinDisplacementMeters,
		MaxBatchingDelay:      c.MaxBatchingDelay,
		Priority:              priority,
	}, nil
}

func (c *TrackerConfig) priority() (track.Priority, error) {
	switch c.Priority {
	case "", track.PriorityHighAccuracy.String():
		return track.PriorityHighAccuracy, nil
	case track.PriorityBalancedPower.String():
		return track.PriorityBalancedPower, nil
	default:
		return 0, fmt.Errorf("tracker.priority must be high_accuracy or balanced_power (got %q)", c.Priority)
	}
}
