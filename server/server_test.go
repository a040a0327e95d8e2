// Copyright 2025 The Geotrackd Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geotrackd/geotrackd/geocode"
	"github.com/geotrackd/geotrackd/observability"
	"github.com/geotrackd/geotrackd/spatial"
	"github.com/geotrackd/geotrackd/track"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testRoster() []spatial.Entity {
	return []spatial.Entity{
		{ID: "hq", Name: "Headquarters", Point: spatial.Point{Lat: -6.2090, Lng: 106.8460}},
		{ID: "warehouse", Name: "Warehouse", Point: spatial.Point{Lat: -6.2100, Lng: 106.8470}},
		{ID: "branch", Name: "Branch Office", Point: spatial.Point{Lat: -6.3000, Lng: 106.9000}},
	}
}

func newTestServer(t *testing.T, options Options) *gin.Engine {
	t.Helper()

	server, err := NewServer(options)
	require.NoError(t, err)

	return server.Router()
}

func doGet(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)

	return w
}

func TestNearby(t *testing.T) {
	router := newTestServer(t, Options{Roster: testRoster()})

	w := doGet(router, "/api/nearby?lat=-6.2088&lng=106.8456&radius=1000")
	require.Equal(t, http.StatusOK, w.Code)

	var result spatial.FilterResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))

	require.Len(t, result.Entities, 2)
	assert.Equal(t, "hq", result.Entities[0].ID)
	assert.Equal(t, "warehouse", result.Entities[1].ID)
	assert.Equal(t, 2, result.TotalFound)

	for _, entity := range result.Entities {
		require.NotNil(t, entity.DistanceMeters)
		assert.LessOrEqual(t, *entity.DistanceMeters, 1000.0)
	}
}

func TestNearbyLimit(t *testing.T) {
	router := newTestServer(t, Options{Roster: testRoster()})

	w := doGet(router, "/api/nearby?lat=-6.2088&lng=106.8456&radius=1000&limit=1")
	require.Equal(t, http.StatusOK, w.Code)

	var result spatial.FilterResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))

	require.Len(t, result.Entities, 1)
	assert.Equal(t, "hq", result.Entities[0].ID)
	assert.Equal(t, 2, result.TotalFound, "limit caps entities, not the match count")

	w = doGet(router, "/api/nearby?lat=-6.2088&lng=106.8456&radius=1000&limit=0")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNearbyFarReference(t *testing.T) {
	router := newTestServer(t, Options{Roster: testRoster()})

	// Reykjavik is nowhere near any roster entity; the coarse index
	// yields no candidates and the response is an empty result, not an
	// error.
	w := doGet(router, "/api/nearby?lat=64.1466&lng=-21.9426&radius=500")
	require.Equal(t, http.StatusOK, w.Code)

	var result spatial.FilterResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))

	assert.Empty(t, result.Entities)
	assert.Zero(t, result.TotalFound)
}

func TestNearbyValidation(t *testing.T) {
	router := newTestServer(t, Options{Roster: testRoster()})

	tests := []struct {
		name string
		path string
	}{
		{name: "missing lat", path: "/api/nearby?lng=106.8&radius=100"},
		{name: "missing lng", path: "/api/nearby?lat=-6.2&radius=100"},
		{name: "latitude out of range", path: "/api/nearby?lat=91&lng=106.8&radius=100"},
		{name: "missing radius", path: "/api/nearby?lat=-6.2&lng=106.8"},
		{name: "negative radius", path: "/api/nearby?lat=-6.2&lng=106.8&radius=-5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doGet(router, tt.path)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "error")
		})
	}
}

func TestClosest(t *testing.T) {
	router := newTestServer(t, Options{Roster: testRoster()})

	w := doGet(router, "/api/closest?lat=-6.2088&lng=106.8456")
	require.Equal(t, http.StatusOK, w.Code)

	var result spatial.FilterResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))

	require.Len(t, result.Entities, 1)
	assert.Equal(t, "hq", result.Entities[0].ID)
}

func TestClosestCount(t *testing.T) {
	router := newTestServer(t, Options{Roster: testRoster()})

	w := doGet(router, "/api/closest?lat=-6.2088&lng=106.8456&count=2")
	require.Equal(t, http.StatusOK, w.Code)

	var result spatial.FilterResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))

	require.Len(t, result.Entities, 2)
	assert.Equal(t, "hq", result.Entities[0].ID)
	assert.Equal(t, "warehouse", result.Entities[1].ID)
}

func TestStats(t *testing.T) {
	router := newTestServer(t, Options{Roster: testRoster()})

	w := doGet(router, "/api/stats?lat=-6.2088&lng=106.8456")
	require.Equal(t, http.StatusOK, w.Code)

	var stats spatial.DistanceStatistics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))

	assert.Equal(t, 3, stats.SampleCount)
	assert.Greater(t, stats.Max, stats.Min)
	assert.GreaterOrEqual(t, stats.Average, stats.Min)
	assert.LessOrEqual(t, stats.Average, stats.Max)
}

func TestLatestPositionWithoutTracker(t *testing.T) {
	router := newTestServer(t, Options{Roster: testRoster()})

	w := doGet(router, "/api/position/latest")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

// staticProvider delivers a single fix at registration time.
type staticProvider struct {
	fix spatial.Fix
}

func (p *staticProvider) RegisterForUpdates(_ context.Context, _ track.UpdatePolicy, sink track.FixSink) (track.Registration, error) {
	go sink.OnFix(p.fix)

	return p, nil
}

func (p *staticProvider) Deregister(track.Registration) error { return nil }

func (p *staticProvider) LastKnownFix() (spatial.Fix, bool) { return p.fix, true }

func (p *staticProvider) RequestCurrentFix(context.Context, track.Priority) (spatial.Fix, error) {
	return p.fix, nil
}

type staticGeocoder struct{}

func (staticGeocoder) Reverse(_ context.Context, lat, lng float64) (*geocode.AddressResult, error) {
	return &geocode.AddressResult{ShortName: "Jalan Sudirman", Lat: lat, Lng: lng}, nil
}

func (staticGeocoder) Close() {}

func TestLatestPosition(t *testing.T) {
	provider := &staticProvider{
		fix: spatial.Fix{Point: spatial.Point{Lat: -6.2088, Lng: 106.8456}, Time: time.Now()},
	}

	broadcaster := track.NewBroadcaster()
	sub := broadcaster.Subscribe()

	tracker := track.NewTracker(provider, staticGeocoder{}, broadcaster, track.TrackerOptions{
		Authorized: func() bool { return true },
	})

	require.NoError(t, tracker.Start(context.Background()))

	select {
	case <-sub.C:
	case <-time.After(2 * time.Second):
		t.Fatal("no fused update published")
	}

	router := newTestServer(t, Options{Roster: testRoster(), Tracker: tracker})

	w := doGet(router, "/api/position/latest")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		State  string            `json:"state"`
		Update track.FusedUpdate `json:"update"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	assert.Equal(t, "tracking", body.State)
	require.NotNil(t, body.Update.Address)
	assert.Equal(t, "Jalan Sudirman", body.Update.Address.ShortName)
}

// newGeocodeBackend fakes the upstream geocoding service.
func newGeocodeBackend(t *testing.T, handler http.HandlerFunc) *geocode.Client {
	t.Helper()

	backend := httptest.NewServer(handler)
	t.Cleanup(backend.Close)

	client := geocode.NewClient(geocode.Options{
		BaseURL:        backend.URL,
		RequestsPerSec: 1000,
	})
	t.Cleanup(client.Close)

	return client
}

func TestReverseAddress(t *testing.T) {
	client := newGeocodeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"display_name": "Jalan Thamrin, Jakarta",
			"lat":          r.URL.Query().Get("lat"),
			"lon":          r.URL.Query().Get("lon"),
		})
	})

	router := newTestServer(t, Options{Geocoder: client})

	w := doGet(router, "/api/geocode/reverse?lat=-6.19&lng=106.82")
	require.Equal(t, http.StatusOK, w.Code)

	var address geocode.AddressResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &address))
	assert.Equal(t, "Jalan Thamrin", address.ShortName)
}

func TestReverseAddressErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		upstream   int
		wantStatus int
	}{
		{name: "not found", upstream: http.StatusNotFound, wantStatus: http.StatusNotFound},
		{name: "invalid request", upstream: http.StatusBadRequest, wantStatus: http.StatusBadRequest},
		{name: "unavailable", upstream: http.StatusServiceUnavailable, wantStatus: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newGeocodeBackend(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.upstream)
			})

			router := newTestServer(t, Options{Geocoder: client})

			w := doGet(router, "/api/geocode/reverse?lat=-6.19&lng=106.82")
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestSearchAddress(t *testing.T) {
	client := newGeocodeBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"display_name": "Plaza Indonesia, Jakarta", "lat": "-6.1931", "lon": "106.8217"},
		})
	})

	router := newTestServer(t, Options{Geocoder: client})

	w := doGet(router, "/api/geocode/search?q=plaza")
	require.Equal(t, http.StatusOK, w.Code)

	var address geocode.AddressResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &address))
	assert.Equal(t, "Plaza Indonesia", address.ShortName)
}

func TestSearchAddressValidation(t *testing.T) {
	router := newTestServer(t, Options{Roster: testRoster()})

	w := doGet(router, "/api/geocode/search")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doGet(router, fmt.Sprintf("/api/geocode/search?q=%s", "anywhere"))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "no geocoder configured")
}

func TestSearchAddressNoMatch(t *testing.T) {
	client := newGeocodeBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("[]"))
	})

	router := newTestServer(t, Options{Geocoder: client})

	w := doGet(router, "/api/geocode/search?q=nowhere")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	collector, err := observability.NewPipelineCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	collector.FixAccepted()

	router := newTestServer(t, Options{Roster: testRoster(), Metrics: collector})

	w := doGet(router, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "geotrackd_fixes_accepted_total")
}
