// Copyright 2025 The Geotrackd Authors
// SPDX-License-Identifier: Apache-2.0

// Package server exposes the proximity engine, the geocoding client,
// and the live tracking position over HTTP.
package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/geotrackd/geotrackd/geocode"
	"github.com/geotrackd/geotrackd/observability"
	"github.com/geotrackd/geotrackd/spatial"
	"github.com/geotrackd/geotrackd/track"
)

// Server serves proximity queries over a roster plus the most recent
// tracked position.
type Server struct {
	roster   []spatial.Entity
	index    *spatial.CellIndex
	geocoder *geocode.Client
	tracker  *track.Tracker
	metrics  *observability.PipelineCollector

	listenAddr string
}

// Options configures a Server. Tracker and Metrics are optional.
type Options struct {
	ListenAddr string
	Roster     []spatial.Entity
	Geocoder   *geocode.Client
	Tracker    *track.Tracker
	Metrics    *observability.PipelineCollector
}

// NewServer builds a server, indexing the roster for coarse candidate
// pre-selection.
func NewServer(options Options) (*Server, error) {
	var index *spatial.CellIndex

	if len(options.Roster) > 0 {
		var err error

		index, err = spatial.NewCellIndex(options.Roster, spatial.DefaultIndexResolution)
		if err != nil {
			return nil, err
		}
	}

	return &Server{
		roster:     options.Roster,
		index:      index,
		geocoder:   options.Geocoder,
		tracker:    options.Tracker,
		metrics:    options.Metrics,
		listenAddr: options.ListenAddr,
	}, nil
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.Default()

	r.GET("/api/nearby", s.nearby)
	r.GET("/api/closest", s.closest)
	r.GET("/api/stats", s.stats)
	r.GET("/api/position/latest", s.latestPosition)
	r.GET("/api/geocode/search", s.searchAddress)
	r.GET("/api/geocode/reverse", s.reverseAddress)

	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	return r
}

// Run serves until the listener fails.
func (s *Server) Run() error {
	return s.Router().Run(s.listenAddr)
}

// queryPoint parses and validates lat/lng query parameters.
func queryPoint(ctx *gin.Context) (spatial.Point, bool) {
	lat, err := strconv.ParseFloat(ctx.Query("lat"), 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "lat query parameter is required"})

		return spatial.Point{}, false
	}

	lng, err := strconv.ParseFloat(ctx.Query("lng"), 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "lng query parameter is required"})

		return spatial.Point{}, false
	}

	point, err := spatial.NewPoint(lat, lng)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return spatial.Point{}, false
	}

	return point, true
}

func (s *Server) nearby(ctx *gin.Context) {
	reference, ok := queryPoint(ctx)
	if !ok {
		return
	}

	radius, err := strconv.ParseFloat(ctx.Query("radius"), 64)
	if err != nil || radius <= 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "radius query parameter must be a positive number"})

		return
	}

	candidates := s.roster
	if s.index != nil {
		ring := s.index.RingForRadius(radius)

		candidates, err = s.index.Candidates(reference, ring)
		if err != nil {
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

			return
		}
	}

	if len(candidates) == 0 {
		ctx.JSON(http.StatusOK, &spatial.FilterResult{
			Entities:        []spatial.Entity{},
			ThresholdMeters: radius,
			Reference:       reference,
		})

		return
	}

	result, err := spatial.Filter(reference, candidates, radius, true)
	if err != nil {
		status := http.StatusInternalServerError
		if spatial.IsInvalidArgument(err) {
			status = http.StatusBadRequest
		}

		ctx.JSON(status, gin.H{"error": err.Error()})

		return
	}

	// optional cap on returned entities; TotalFound still reports the
	// full match count
	if rawLimit := ctx.Query("limit"); rawLimit != "" {
		limit, err := strconv.Atoi(rawLimit)
		if err != nil || limit <= 0 {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "limit query parameter must be a positive integer"})

			return
		}

		if limit < len(result.Entities) {
			result.Entities = result.Entities[:limit]
		}
	}

	ctx.JSON(http.StatusOK, result)
}

func (s *Server) closest(ctx *gin.Context) {
	reference, ok := queryPoint(ctx)
	if !ok {
		return
	}

	count, err := strconv.Atoi(ctx.DefaultQuery("count", "1"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "count query parameter must be an integer"})

		return
	}

	result, err := spatial.Closest(reference, s.roster, count)
	if err != nil {
		status := http.StatusInternalServerError
		if spatial.IsInvalidArgument(err) {
			status = http.StatusBadRequest
		}

		ctx.JSON(status, gin.H{"error": err.Error()})

		return
	}

	ctx.JSON(http.StatusOK, result)
}

func (s *Server) stats(ctx *gin.Context) {
	reference, ok := queryPoint(ctx)
	if !ok {
		return
	}

	stats, err := spatial.Statistics(reference, s.roster)
	if err != nil {
		status := http.StatusInternalServerError
		if spatial.IsInvalidArgument(err) {
			status = http.StatusBadRequest
		}

		ctx.JSON(status, gin.H{"error": err.Error()})

		return
	}

	ctx.JSON(http.StatusOK, stats)
}

func (s *Server) latestPosition(ctx *gin.Context) {
	if s.tracker == nil {
		ctx.Status(http.StatusNoContent)

		return
	}

	update, ok := s.tracker.Broadcaster().Latest()
	if !ok {
		ctx.Status(http.StatusNoContent)

		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"state":  s.tracker.State().String(),
		"update": update,
	})
}

func (s *Server) searchAddress(ctx *gin.Context) {
	query := ctx.Query("q")
	if query == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "q query parameter is required"})

		return
	}

	if s.geocoder == nil {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "geocoding is not configured"})

		return
	}

	result := s.geocoder.Search(ctx.Request.Context(), query)
	if result == nil {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "no match for query"})

		return
	}

	ctx.JSON(http.StatusOK, result)
}

func (s *Server) reverseAddress(ctx *gin.Context) {
	reference, ok := queryPoint(ctx)
	if !ok {
		return
	}

	if s.geocoder == nil {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "geocoding is not configured"})

		return
	}

	address, err := s.geocoder.Reverse(ctx.Request.Context(), reference.Lat, reference.Lng)
	if err != nil {
		var geoErr *geocode.GeocodingError

		status := http.StatusBadGateway

		if errors.As(err, &geoErr) {
			switch geoErr.Type {
			case geocode.ErrorTypeNotFound:
				status = http.StatusNotFound
			case geocode.ErrorTypeInvalidRequest:
				status = http.StatusBadRequest
			}
		}

		ctx.JSON(status, gin.H{"error": err.Error()})

		return
	}

	ctx.JSON(http.StatusOK, address)
}
