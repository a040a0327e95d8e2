// Copyright 2025 The Geotrackd Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/geotrackd/geotrackd/spatial"
)

var geocodeOptions struct {
	configPath string
	trace      bool
	maxProcs   int
}

var geocodeCmd = &cobra.Command{
	Use:   "geocode",
	Short: "Query the reverse-geocoding service",
}

var geocodeSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search addresses by free-text query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		cfg, err := loadConfig(geocodeOptions.configPath)
		if err != nil {
			return err
		}

		client := newGeocoder(cfg, nil, geocodeOptions.trace)
		defer client.Close()

		results := client.SearchAll(context.Background(), strings.Join(args, " "))
		if len(results) == 0 {
			return fmt.Errorf("no match for query")
		}

		for _, r := range results {
			fmt.Printf("%.6f,%.6f\t%s\n", r.Lat, r.Lng, r.DisplayName)
		}

		return nil
	},
}

var geocodeReverseCmd = &cobra.Command{
	Use:   "reverse <lat> <lng>",
	Short: "Resolve a coordinate to an address",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		lat, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("parsing latitude: %w", err)
		}

		lng, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("parsing longitude: %w", err)
		}

		cfg, err := loadConfig(geocodeOptions.configPath)
		if err != nil {
			return err
		}

		client := newGeocoder(cfg, nil, geocodeOptions.trace)
		defer client.Close()

		address, err := client.Reverse(context.Background(), lat, lng)
		if err != nil {
			return err
		}

		fmt.Println(address.DisplayName)

		return nil
	},
}

var geocodeRosterCmd = &cobra.Command{
	Use:   "roster <file>",
	Short: "Batch-geocode roster entity names",
	Long: `
Looks up each roster entity's name against the geocoding service and
prints the best-match coordinate next to the roster one, for spotting
stale roster positions.
`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		cfg, err := loadConfig(geocodeOptions.configPath)
		if err != nil {
			return err
		}

		entities, err := spatial.LoadRoster(args[0])
		if err != nil {
			return fmt.Errorf("loading roster: %w", err)
		}

		client := newGeocoder(cfg, nil, geocodeOptions.trace)
		defer client.Close()

		n := len(entities)

		var bar *progressbar.ProgressBar
		if isatty.IsTerminal(os.Stderr.Fd()) {
			bar = progressbar.NewOptions(n,
				progressbar.OptionSetDescription("Geocoding roster"),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}

		type match struct {
			entity spatial.Entity
			lat    float64
			lng    float64
			found  bool
		}

		var wg sync.WaitGroup

		semaphore := make(chan struct{}, geocodeOptions.maxProcs)
		matches := make([]match, n)

		for i, entity := range entities {
			wg.Add(1)

			go func(i int, entity spatial.Entity) {
				defer wg.Done()
				semaphore <- struct{}{}

				defer func() { <-semaphore }()

				result := client.Search(context.Background(), entity.Name)
				if result != nil {
					matches[i] = match{entity: entity, lat: result.Lat, lng: result.Lng, found: true}
				} else {
					matches[i] = match{entity: entity}
				}

				if bar != nil {
					_ = bar.Add(1)
				}
			}(i, entity)
		}

		wg.Wait()

		misses := 0

		for _, m := range matches {
			if !m.found {
				misses++

				fmt.Printf("%s\t%s\tno match\n", m.entity.ID, m.entity.Name)

				continue
			}

			fmt.Printf(
				"%s\t%s\t%.6f,%.6f\troster %.6f,%.6f\n",
				m.entity.ID, m.entity.Name, m.lat, m.lng, m.entity.Point.Lat, m.entity.Point.Lng,
			)
		}

		log.Printf("Geocoded %d roster entities, %d without a match", n, misses)

		return nil
	},
}

func init() {
	geocodeCmd.PersistentFlags().StringVarP(&geocodeOptions.configPath, "config", "c", "", "path to the configuration file")
	geocodeCmd.PersistentFlags().BoolVar(&geocodeOptions.trace, "trace", false, "trace geocoding HTTP requests")
	geocodeRosterCmd.Flags().IntVar(&geocodeOptions.maxProcs, "max-procs", 4, "maximum concurrent lookups")

	geocodeCmd.AddCommand(geocodeSearchCmd)
	geocodeCmd.AddCommand(geocodeReverseCmd)
	geocodeCmd.AddCommand(geocodeRosterCmd)
	rootCmd.AddCommand(geocodeCmd)
}
