// Copyright 2025 The Geotrackd Authors
// SPDX-License-Identifier: Apache-2.0

// Package geocode resolves coordinates and free-text queries against a
// Nominatim-shaped reverse-geocoding service. The service is best-effort
// and rate-limited; every operation degrades to "no address" rather than
// propagating failure into the tracking pipeline.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/geotrackd/geotrackd/spatial"
	"github.com/geotrackd/geotrackd/utils"
)

// DefaultBaseURL is the public OSM Nominatim endpoint.
const DefaultBaseURL = "https://nominatim.openstreetmap.org"

// searchLimit bounds SearchAll results.
const searchLimit = 20

// AddressResult is a resolved human-readable address. The zero value
// represents an unresolved address.
type AddressResult struct {
	ShortName   string  `json:"short_name"`
	DisplayName string  `json:"display_name"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
}

// PositionSource supplies the device's position for current-device
// address lookups. A cached fix is preferred over a fresh request.
type PositionSource interface {
	LastKnownFix() (spatial.Fix, bool)
	CurrentFix(ctx context.Context) (spatial.Fix, error)
}

// Options configures a Client.
type Options struct {
	// BaseURL overrides the geocoding service endpoint.
	BaseURL string

	// UserAgent is the User-Agent header to use in HTTP requests.
	// Nominatim's usage policy requires one.
	UserAgent string

	// RequestsPerSec is the client-side rate limit, default 1.
	RequestsPerSec float64

	// Timeout is the per-request timeout, default 10s.
	Timeout time.Duration

	// Positions supplies the device position for CurrentDeviceAddress.
	Positions PositionSource

	// TraceWriter enables light tracing of HTTP requests and responses.
	TraceWriter io.Writer

	// DumpBody enables full HTTP body tracing.
	DumpBody bool
}

// Client is a reverse-geocoding client over a Nominatim-shaped service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	positions  PositionSource
	closeOnce  sync.Once
}

// NewClient creates a geocoding client with the provided options.
func NewClient(options Options) *Client {
	if options.BaseURL == "" {
		options.BaseURL = DefaultBaseURL
	}

	if options.RequestsPerSec == 0 {
		options.RequestsPerSec = 1
	}

	if options.Timeout == 0 {
		options.Timeout = 10 * time.Second
	}

	userAgent := "geotrackd/unknown"
	if options.UserAgent != "" {
		userAgent = options.UserAgent
	}

	transport := &http.Transport{
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   4,
		MaxConnsPerHost:       4,
		IdleConnTimeout:       30 * time.Second,
		ResponseHeaderTimeout: options.Timeout,
	}

	loggingTransport := &LoggingRoundTripper{
		Writer:    options.TraceWriter,
		DumpBody:  options.DumpBody,
		Transport: transport,
	}

	headerTransport := &AppendRequestHeadersRoundTripper{
		Headers: map[string]string{
			"User-Agent": userAgent,
			"Accept":     "application/json",
		},
		Transport: loggingTransport,
	}

	return &Client{
		baseURL: strings.TrimRight(options.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout:   options.Timeout,
			Transport: headerTransport,
		},
		limiter:   rate.NewLimiter(rate.Limit(options.RequestsPerSec), 1),
		positions: options.Positions,
	}
}

// nominatimPlace is the wire shape shared by the reverse and search
// endpoints. Coordinates are string-typed; unknown fields are ignored.
type nominatimPlace struct {
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
}

// shortName derives the short form of a display name: the text before
// the first comma, trimmed.
func shortName(displayName string) string {
	name, _, _ := strings.Cut(displayName, ",")

	return strings.TrimSpace(name)
}

// asAddress converts a wire place into an AddressResult. Coordinates
// that fail to parse degrade to the fallback values; ok reports whether
// at least one axis was parseable when no fallback is wanted.
func (p *nominatimPlace) asAddress(fallbackLat, fallbackLng float64) AddressResult {
	lat, errLat := strconv.ParseFloat(p.Lat, 64)
	if errLat != nil {
		lat = fallbackLat
	}

	lng, errLng := strconv.ParseFloat(p.Lon, 64)
	if errLng != nil {
		lng = fallbackLng
	}

	return AddressResult{
		ShortName:   shortName(p.DisplayName),
		DisplayName: p.DisplayName,
		Lat:         lat,
		Lng:         lng,
	}
}

// hasCoordinates reports whether both wire coordinates parse.
func (p *nominatimPlace) hasCoordinates() bool {
	_, errLat := strconv.ParseFloat(p.Lat, 64)
	_, errLng := strconv.ParseFloat(p.Lon, 64)

	return errLat == nil && errLng == nil
}

// get issues a single rate-limited request and decodes the JSON body.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return classifyTransportError(err)
	}

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return &GeocodingError{Type: ErrorTypeInvalidRequest, Message: "building request", Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ClassifyHTTPError(resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &GeocodingError{Type: ErrorTypeDecode, Message: "decoding response", Err: err}
	}

	return nil
}

func classifyTransportError(err error) *GeocodingError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &GeocodingError{Type: ErrorTypeTimeout, Message: "request timed out", Err: err}
	}

	return &GeocodingError{Type: ErrorTypeNetworkError, Message: "request failed", Err: err}
}

// Reverse resolves a coordinate to an address with a single request.
// Missing wire coordinates degrade to the request's own coordinate; any
// transport, decode, or service failure comes back as a GeocodingError.
func (c *Client) Reverse(ctx context.Context, lat, lng float64) (*AddressResult, error) {
	if _, err := spatial.NewPoint(lat, lng); err != nil {
		return nil, &GeocodingError{Type: ErrorTypeInvalidRequest, Message: "invalid coordinate", Err: err}
	}

	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))
	params.Set("format", "json")

	var place nominatimPlace
	if err := c.get(ctx, "/reverse", params, &place); err != nil {
		return nil, err
	}

	if place.DisplayName == "" {
		return nil, &GeocodingError{Type: ErrorTypeNotFound, Message: "no address for coordinate"}
	}

	address := place.asAddress(lat, lng)

	return &address, nil
}

// CurrentDeviceAddress resolves the device's current coordinate,
// preferring a recent cached fix and falling back to a fresh fix
// request, then delegates to Reverse.
func (c *Client) CurrentDeviceAddress(ctx context.Context) (*AddressResult, error) {
	if c.positions == nil {
		return nil, &GeocodingError{Type: ErrorTypeInvalidRequest, Message: "no position source configured"}
	}

	fix, ok := c.positions.LastKnownFix()
	if !ok {
		var err error

		fix, err = c.positions.CurrentFix(ctx)
		if err != nil {
			return nil, &GeocodingError{Type: ErrorTypeNetworkError, Message: "obtaining device position", Err: err}
		}
	}

	return c.Reverse(ctx, fix.Point.Lat, fix.Point.Lng)
}

// Search returns the single best match for a free-text query, or nil.
// Search is advisory, not critical-path, so failures are not errors.
func (c *Client) Search(ctx context.Context, query string) *AddressResult {
	results := c.searchAll(ctx, query, 1)
	if len(results) == 0 {
		return nil
	}

	return &results[0]
}

// SearchAll returns up to 20 matches for a free-text query. Entries
// lacking parseable coordinates are dropped; total failure yields an
// empty result.
func (c *Client) SearchAll(ctx context.Context, query string) []AddressResult {
	return c.searchAll(ctx, query, searchLimit)
}

func (c *Client) searchAll(ctx context.Context, query string, limit int) []AddressResult {
	params := url.Values{}
	params.Set("q", utils.LowerASCIIFolding(query))
	params.Set("format", "json")
	params.Set("limit", strconv.Itoa(limit))

	var places []nominatimPlace
	if err := c.get(ctx, "/search", params, &places); err != nil {
		return nil
	}

	results := make([]AddressResult, 0, len(places))

	for i := range places {
		if !places[i].hasCoordinates() {
			continue
		}

		results = append(results, places[i].asAddress(0, 0))
	}

	return results
}

// Close releases held network resources. Safe to call multiple times.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.httpClient.CloseIdleConnections()
	})
}
