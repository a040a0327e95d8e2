// Copyright 2025 The Geotrackd Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/geotrackd/geotrackd/config"
	"github.com/geotrackd/geotrackd/geocode"
	"github.com/geotrackd/geotrackd/track"
)

type logWriter struct {
	writer io.Writer
}

func (w *logWriter) Write(bytes []byte) (int, error) {
	return fmt.Fprintf(w.writer, "%s %s", time.Now().Format("2006-01-02 15:04:05"), string(bytes))
}

func init() {
	log.SetFlags(0)
	log.SetOutput(&logWriter{writer: os.Stderr})
}

var rootCmd = &cobra.Command{
	Use:   "geotrackd",
	Short: "proximity-aware location tracking pipeline",
	Long: `
geotrackd runs a location-acquisition pipeline: provider fixes are fused
with best-effort reverse-geocoded addresses and broadcast to observers,
and a roster of entities can be filtered and ranked by proximity.
`,
}

var Version = "dev"

func Execute(version string) {
	Version = version

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file, or the defaults when no path was given.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}

	return config.Load(path)
}

// newGeocoder builds the geocoding client from the config, optionally
// wired to a provider for current-device lookups.
func newGeocoder(cfg *config.Config, positions geocode.PositionSource, trace bool) *geocode.Client {
	userAgent := cfg.Geocoder.UserAgent
	if userAgent == "" {
		userAgent = "geotrackd/" + Version
	}

	var traceWriter io.Writer
	if trace || cfg.Geocoder.Trace {
		traceWriter = os.Stderr
	}

	return geocode.NewClient(geocode.Options{
		BaseURL:        cfg.Geocoder.BaseURL,
		UserAgent:      userAgent,
		RequestsPerSec: cfg.Geocoder.RequestsPerSec,
		Timeout:        cfg.Geocoder.Timeout,
		Positions:      positions,
		TraceWriter:    traceWriter,
	})
}

// policyFromConfig converts the tracker config section, falling back to
// defaults on zero values.
func policyFromConfig(cfg *config.Config) (track.UpdatePolicy, error) {
	return cfg.Tracker.Policy()
}
