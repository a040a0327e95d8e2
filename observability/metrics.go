// Copyright 2025 The Geotrackd Authors
// SPDX-License-Identifier: Apache-2.0

// Package observability bundles Prometheus metrics for the geolocation
// pipeline and provides an HTTP handler to expose them.
package observability

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for geocode requests.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Reason labels for discarded updates.
const (
	ReasonStale        = "stale"
	ReasonSessionEnded = "session_ended"
)

// PipelineCollector bundles Prometheus metrics for the acquisition
// pipeline. A nil collector is valid and records nothing.
type PipelineCollector struct {
	gatherer prometheus.Gatherer

	FixesAccepted    prometheus.Counter
	GeocodeRequests  *prometheus.CounterVec
	GeocodeDuration  prometheus.Histogram
	UpdatesPublished prometheus.Counter
	UpdatesDiscarded *prometheus.CounterVec
	TrackerState     prometheus.Gauge
}

// NewPipelineCollector registers pipeline metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewPipelineCollector(reg prometheus.Registerer) (*PipelineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	fixes, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "geotrackd",
		Name:      "fixes_accepted_total",
		Help:      "Total number of raw provider fixes accepted by the tracker.",
	}))
	if err != nil {
		return nil, err
	}

	geocodeRequests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geotrackd",
		Name:      "geocode_requests_total",
		Help:      "Total number of reverse-geocode requests, labeled by outcome.",
	}, []string{"outcome"}))
	if err != nil {
		return nil, err
	}

	geocodeDuration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "geotrackd",
		Name:      "geocode_duration_seconds",
		Help:      "Reverse-geocode round-trip latency in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}))
	if err != nil {
		return nil, err
	}

	published, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "geotrackd",
		Name:      "updates_published_total",
		Help:      "Total number of fused location updates published.",
	}))
	if err != nil {
		return nil, err
	}

	discarded, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geotrackd",
		Name:      "updates_discarded_total",
		Help:      "Total number of geocode results discarded before publish, labeled by reason.",
	}, []string{"reason"}))
	if err != nil {
		return nil, err
	}

	state, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "geotrackd",
		Name:      "tracker_state",
		Help:      "Current tracker state (0 idle, 1 starting, 2 tracking, 3 stopping).",
	}))
	if err != nil {
		return nil, err
	}

	return &PipelineCollector{
		gatherer:         gatherer,
		FixesAccepted:    fixes,
		GeocodeRequests:  geocodeRequests,
		GeocodeDuration:  geocodeDuration,
		UpdatesPublished: published,
		UpdatesDiscarded: discarded,
		TrackerState:     state,
	}, nil
}

// Handler returns an HTTP handler serving the collector's registry.
func (c *PipelineCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}

	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// FixAccepted records one accepted raw fix.
func (c *PipelineCollector) FixAccepted() {
	if c == nil {
		return
	}

	c.FixesAccepted.Inc()
}

// GeocodeObserved records one reverse-geocode round trip.
func (c *PipelineCollector) GeocodeObserved(outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}

	c.GeocodeRequests.WithLabelValues(outcome).Inc()
	c.GeocodeDuration.Observe(elapsed.Seconds())
}

// UpdatePublished records one fused update delivered to the broadcaster.
func (c *PipelineCollector) UpdatePublished() {
	if c == nil {
		return
	}

	c.UpdatesPublished.Inc()
}

// UpdateDiscarded records one geocode result dropped before publish.
func (c *PipelineCollector) UpdateDiscarded(reason string) {
	if c == nil {
		return
	}

	c.UpdatesDiscarded.WithLabelValues(reason).Inc()
}

// SetTrackerState records the current tracker state ordinal.
func (c *PipelineCollector) SetTrackerState(state int) {
	if c == nil {
		return
	}

	c.TrackerState.Set(float64(state))
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return already.ExistingCollector.(prometheus.Counter), nil
		}

		return nil, err
	}

	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return already.ExistingCollector.(*prometheus.CounterVec), nil
		}

		return nil, err
	}

	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return already.ExistingCollector.(prometheus.Histogram), nil
		}

		return nil, err
	}

	return hist, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return already.ExistingCollector.(prometheus.Gauge), nil
		}

		return nil, err
	}

	return gauge, nil
}
