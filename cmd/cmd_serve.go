// Copyright 2025 The Geotrackd Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/geotrackd/geotrackd/observability"
	"github.com/geotrackd/geotrackd/server"
	"github.com/geotrackd/geotrackd/spatial"
	"github.com/geotrackd/geotrackd/track"
)

var serveOptions struct {
	configPath string
	rosterPath string
	trackPath  string
	listenAddr string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the proximity and tracking HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig(serveOptions.configPath)
		if err != nil {
			return err
		}

		if serveOptions.rosterPath != "" {
			cfg.Server.RosterPath = serveOptions.rosterPath
		}

		if serveOptions.listenAddr != "" {
			cfg.Server.ListenAddr = serveOptions.listenAddr
		}

		var roster []spatial.Entity
		if cfg.Server.RosterPath != "" {
			roster, err = spatial.LoadRoster(cfg.Server.RosterPath)
			if err != nil {
				return fmt.Errorf("loading roster: %w", err)
			}

			log.Printf("Loaded %d roster entities from %s", len(roster), cfg.Server.RosterPath)
		}

		var collector *observability.PipelineCollector
		if cfg.Metrics.Enabled {
			collector, err = observability.NewPipelineCollector(nil)
			if err != nil {
				return fmt.Errorf("registering metrics: %w", err)
			}
		}

		policy, err := policyFromConfig(cfg)
		if err != nil {
			return err
		}

		var tracker *track.Tracker

		geocoder := newGeocoder(cfg, nil, false)
		defer geocoder.Close()

		if serveOptions.trackPath != "" {
			fixes, err := track.LoadTrack(serveOptions.trackPath)
			if err != nil {
				return fmt.Errorf("loading track: %w", err)
			}

			provider := track.NewReplayProvider(fixes)
			tracker = track.NewTracker(provider, geocoder, track.NewBroadcaster(), track.TrackerOptions{
				Policy:     policy,
				Authorized: func() bool { return true },
				Metrics:    collector,
			})

			if err := tracker.Start(context.Background()); err != nil {
				return fmt.Errorf("starting tracker: %w", err)
			}

			log.Printf("Replaying %d fixes on %s cadence", len(fixes), policy.Interval)
		}

		srv, err := server.NewServer(server.Options{
			ListenAddr: cfg.Server.ListenAddr,
			Roster:     roster,
			Geocoder:   geocoder,
			Tracker:    tracker,
			Metrics:    collector,
		})
		if err != nil {
			return fmt.Errorf("building server: %w", err)
		}

		log.Printf("Serving on %s", cfg.Server.ListenAddr)

		return srv.Run()
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveOptions.configPath, "config", "c", "", "path to the configuration file")
	serveCmd.Flags().StringVar(&serveOptions.rosterPath, "roster", "", "GeoJSON roster of entities to serve proximity queries over")
	serveCmd.Flags().StringVar(&serveOptions.trackPath, "track", "", "GeoJSON track to replay through the tracking pipeline")
	serveCmd.Flags().StringVar(&serveOptions.listenAddr, "listen", "", "listen address, overrides the configuration")

	rootCmd.AddCommand(serveCmd)
}
