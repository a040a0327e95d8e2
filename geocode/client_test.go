// Copyright 2025 The Geotrackd Authors
// SPDX-License-Identifier: Apache-2.0

package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geotrackd/geotrackd/spatial"
)

// newTestClient points a client at the given handler with a generous
// rate limit so tests don't stall on the limiter.
func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(Options{
		BaseURL:        server.URL,
		UserAgent:      "geotrackd-test",
		RequestsPerSec: 1000,
		Timeout:        2 * time.Second,
	})
}

func TestReverse(t *testing.T) {
	var gotQuery map[string]string

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"lat":    r.URL.Query().Get("lat"),
			"lon":    r.URL.Query().Get("lon"),
			"format": r.URL.Query().Get("format"),
			"agent":  r.Header.Get("User-Agent"),
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"display_name": "Jalan Sudirman, Tanah Abang, Jakarta Pusat, Indonesia",
			"lat":          "-6.2089",
			"lon":          "106.8457",
			"licence":      "ignored",
		})
	}))
	defer client.Close()

	address, err := client.Reverse(context.Background(), -6.2088, 106.8456)
	require.NoError(t, err)

	assert.Equal(t, "Jalan Sudirman", address.ShortName)
	assert.Equal(t, "Jalan Sudirman, Tanah Abang, Jakarta Pusat, Indonesia", address.DisplayName)
	assert.InDelta(t, -6.2089, address.Lat, 1e-9)
	assert.InDelta(t, 106.8457, address.Lng, 1e-9)

	assert.Equal(t, "-6.2088", gotQuery["lat"])
	assert.Equal(t, "106.8456", gotQuery["lon"])
	assert.Equal(t, "json", gotQuery["format"])
	assert.Equal(t, "geotrackd-test", gotQuery["agent"])
}

func TestReverseMissingCoordinatesDegradeToRequest(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"display_name": "Somewhere, Nowhere",
		})
	}))
	defer client.Close()

	address, err := client.Reverse(context.Background(), -6.2088, 106.8456)
	require.NoError(t, err)

	assert.Equal(t, "Somewhere", address.ShortName)
	assert.InDelta(t, -6.2088, address.Lat, 1e-9)
	assert.InDelta(t, 106.8456, address.Lng, 1e-9)
}

func TestReverseInvalidCoordinate(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("no request should have been issued")
	}))
	defer client.Close()

	_, err := client.Reverse(context.Background(), 91, 0)
	require.Error(t, err)

	var geoErr *GeocodingError

	require.True(t, errors.As(err, &geoErr))
	assert.Equal(t, ErrorTypeInvalidRequest, geoErr.Type)
}

func TestReverseErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantType ErrorType
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, wantType: ErrorTypeRateLimit},
		{name: "not found", status: http.StatusNotFound, wantType: ErrorTypeNotFound},
		{name: "bad request", status: http.StatusBadRequest, wantType: ErrorTypeInvalidRequest},
		{name: "unavailable", status: http.StatusServiceUnavailable, wantType: ErrorTypeNetworkError},
		{name: "teapot", status: http.StatusTeapot, wantType: ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer client.Close()

			_, err := client.Reverse(context.Background(), 0, 0)
			require.Error(t, err)

			var geoErr *GeocodingError

			require.True(t, errors.As(err, &geoErr))
			assert.Equal(t, tt.wantType, geoErr.Type)
		})
	}
}

func TestReverseDecodeError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer client.Close()

	_, err := client.Reverse(context.Background(), 0, 0)
	require.Error(t, err)

	var geoErr *GeocodingError

	require.True(t, errors.As(err, &geoErr))
	assert.Equal(t, ErrorTypeDecode, geoErr.Type)
}

func TestSearch(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "plaza indonesia", r.URL.Query().Get("q"), "query must be folded")
		assert.Equal(t, "1", r.URL.Query().Get("limit"))

		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"display_name": "Plaza Indonesia, Jakarta", "lat": "-6.1931", "lon": "106.8217"},
		})
	}))
	defer client.Close()

	result := client.Search(context.Background(), "  Plaza Indónesia ")
	require.NotNil(t, result)

	assert.Equal(t, "Plaza Indonesia", result.ShortName)
	assert.InDelta(t, -6.1931, result.Lat, 1e-9)
}

func TestSearchFailureIsAbsentNotError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer client.Close()

	assert.Nil(t, client.Search(context.Background(), "anywhere"))
}

func TestSearchAllDropsUnparseableCoordinates(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "20", r.URL.Query().Get("limit"))

		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"display_name": "First, Ok", "lat": "1.0", "lon": "2.0"},
			{"display_name": "Broken", "lat": "not-a-number", "lon": "2.0"},
			{"display_name": "Missing"},
			{"display_name": "Second, Ok", "lat": "-3.5", "lon": "4.25"},
		})
	}))
	defer client.Close()

	results := client.SearchAll(context.Background(), "office")
	require.Len(t, results, 2)

	assert.Equal(t, "First", results[0].ShortName)
	assert.Equal(t, "Second", results[1].ShortName)
}

func TestSearchAllTotalFailureIsEmpty(t *testing.T) {
	client := NewClient(Options{
		BaseURL:        "http://127.0.0.1:0",
		RequestsPerSec: 1000,
		Timeout:        200 * time.Millisecond,
	})
	defer client.Close()

	assert.Empty(t, client.SearchAll(context.Background(), "anywhere"))
}

type fakePositions struct {
	cached    *spatial.Fix
	fresh     *spatial.Fix
	freshErr  error
	freshUsed bool
}

func (f *fakePositions) LastKnownFix() (spatial.Fix, bool) {
	if f.cached == nil {
		return spatial.Fix{}, false
	}

	return *f.cached, true
}

func (f *fakePositions) CurrentFix(_ context.Context) (spatial.Fix, error) {
	f.freshUsed = true

	if f.freshErr != nil {
		return spatial.Fix{}, f.freshErr
	}

	return *f.fresh, nil
}

func TestCurrentDeviceAddressPrefersCachedFix(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"display_name": "Cached Street, Town",
			"lat":          r.URL.Query().Get("lat"),
			"lon":          r.URL.Query().Get("lon"),
		})
	})

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	positions := &fakePositions{
		cached: &spatial.Fix{Point: spatial.Point{Lat: 1, Lng: 2}},
	}

	client := NewClient(Options{
		BaseURL:        server.URL,
		RequestsPerSec: 1000,
		Positions:      positions,
	})
	defer client.Close()

	address, err := client.CurrentDeviceAddress(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Cached Street", address.ShortName)
	assert.False(t, positions.freshUsed, "cached fix must be preferred")
}

func TestCurrentDeviceAddressFallsBackToFreshFix(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"display_name": "Fresh Road, Town"})
	}))
	defer client.Close()

	positions := &fakePositions{
		fresh: &spatial.Fix{Point: spatial.Point{Lat: 3, Lng: 4}},
	}
	client.positions = positions

	address, err := client.CurrentDeviceAddress(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Fresh Road", address.ShortName)
	assert.True(t, positions.freshUsed)
}

func TestCurrentDeviceAddressWithoutSource(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer client.Close()

	_, err := client.CurrentDeviceAddress(context.Background())
	require.Error(t, err)
	assert.True(t, IsGeocodingError(err))
}

func TestCloseIsIdempotent(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	client.Close()
	client.Close()
	client.Close()
}
