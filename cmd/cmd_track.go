// Copyright 2025 The Geotrackd Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/geotrackd/geotrackd/observability"
	"github.com/geotrackd/geotrackd/track"
)

var trackOptions struct {
	configPath string
	trace      bool
}

var trackCmd = &cobra.Command{
	Use:   "track <trackfile>",
	Short: "Replay a recorded track through the acquisition pipeline",
	Long: `
Replays a GeoJSON LineString track as provider fixes, fusing each fix
with a reverse-geocoded address and logging the broadcast updates until
the track is exhausted or the process is interrupted.
`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		cfg, err := loadConfig(trackOptions.configPath)
		if err != nil {
			return err
		}

		policy, err := policyFromConfig(cfg)
		if err != nil {
			return err
		}

		fixes, err := track.LoadTrack(args[0])
		if err != nil {
			return fmt.Errorf("loading track: %w", err)
		}

		provider := track.NewReplayProvider(fixes)
		geocoder := newGeocoder(cfg, track.PositionSource(provider, policy.Priority), trackOptions.trace)

		var collector *observability.PipelineCollector
		if cfg.Metrics.Enabled {
			collector, err = observability.NewPipelineCollector(nil)
			if err != nil {
				return fmt.Errorf("registering metrics: %w", err)
			}
		}

		broadcaster := track.NewBroadcaster()
		tracker := track.NewTracker(provider, geocoder, broadcaster, track.TrackerOptions{
			Policy:     policy,
			Authorized: func() bool { return true },
			Metrics:    collector,
		})

		sub := broadcaster.Subscribe()
		defer broadcaster.Unsubscribe(sub)

		ctx := context.Background()
		if err := tracker.Start(ctx); err != nil {
			return fmt.Errorf("starting tracker: %w", err)
		}

		log.Printf("Tracking %d recorded fixes every %s", len(fixes), policy.Interval)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		for {
			select {
			case update := <-sub.C:
				if update.Address != nil {
					log.Printf(
						"Position %.5f,%.5f - %s",
						update.Fix.Point.Lat, update.Fix.Point.Lng, update.Address.ShortName,
					)
				} else {
					log.Printf(
						"Position %.5f,%.5f - address unresolved",
						update.Fix.Point.Lat, update.Fix.Point.Lng,
					)
				}
			case err := <-tracker.Err():
				if errors.Is(err, track.ErrTrackExhausted) {
					log.Println("Track exhausted, done")

					return nil
				}

				return err
			case <-sigCh:
				log.Println("Interrupted, stopping tracker")

				return tracker.Stop(ctx)
			}
		}
	},
}

func init() {
	trackCmd.Flags().StringVarP(&trackOptions.configPath, "config", "c", "", "path to the configuration file")
	trackCmd.Flags().BoolVar(&trackOptions.trace, "trace", false, "trace geocoding HTTP requests")

	rootCmd.AddCommand(trackCmd)
}
