// Package geo provides geocoding via the Nominatim search API.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ecocycle/wastebot/internal/models"
)

// Constants for Nominatim client configuration
const (
	// DefaultNominatimBaseURL is the public Nominatim endpoint.
	DefaultNominatimBaseURL = "https://nominatim.openstreetmap.org"
	// DefaultUserAgent identifies this application to Nominatim, which
	// rejects anonymous clients.
	DefaultUserAgent = "wastebot"
	// DefaultTimeout bounds a single geocoding request.
	DefaultTimeout = 10 * time.Second
)

// Opts holds configuration options for the Nominatim geocoder.
type Opts struct {
	BaseURL   string
	UserAgent string
	Client    *http.Client
}

// Option defines a configuration option for the Nominatim geocoder.
type Option func(*Opts)

// WithBaseURL overrides the Nominatim endpoint (e.g. a self-hosted instance).
func WithBaseURL(u string) Option {
	return func(o *Opts) {
		o.BaseURL = u
	}
}

// WithUserAgent sets the User-Agent header sent to Nominatim.
func WithUserAgent(ua string) Option {
	return func(o *Opts) {
		o.UserAgent = ua
	}
}

// WithHTTPClient sets a custom HTTP client (used by tests).
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.Client = c
	}
}

// Nominatim is a Geocoder backed by the Nominatim search API.
type Nominatim struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

// NewNominatim creates a Nominatim geocoder, applying any provided options.
func NewNominatim(opts ...Option) *Nominatim {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultNominatimBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: DefaultTimeout}
	}
	slog.Debug("Nominatim geocoder created", "base_url", cfg.BaseURL, "user_agent", cfg.UserAgent)
	return &Nominatim{baseURL: cfg.BaseURL, userAgent: cfg.UserAgent, client: cfg.Client}
}

// nominatimResult is the subset of the search response we consume.
type nominatimResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Geocode resolves free text into coordinates using the /search endpoint.
// A response with no matches returns (nil, nil).
func (n *Nominatim) Geocode(ctx context.Context, freeText string) (*models.Coordinates, error) {
	q := url.Values{}
	q.Set("q", freeText)
	q.Set("format", "json")
	q.Set("limit", "1")

	reqURL := n.baseURL + "/search?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		slog.Error("Nominatim request construction failed", "error", err)
		return nil, fmt.Errorf("failed to build geocode request: %w", err)
	}
	req.Header.Set("User-Agent", n.userAgent)

	resp, err := n.client.Do(req)
	if err != nil {
		slog.Error("Nominatim request failed", "error", err, "query", freeText)
		return nil, fmt.Errorf("geocode request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Error("Nominatim returned non-OK status", "status", resp.StatusCode, "query", freeText)
		return nil, fmt.Errorf("geocode request returned status %d", resp.StatusCode)
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		slog.Error("Nominatim response decode failed", "error", err)
		return nil, fmt.Errorf("failed to decode geocode response: %w", err)
	}

	if len(results) == 0 {
		slog.Debug("Nominatim found no match", "query", freeText)
		return nil, nil
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid latitude in geocode response: %w", err)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid longitude in geocode response: %w", err)
	}

	slog.Debug("Nominatim geocode succeeded", "query", freeText, "lat", lat, "lon", lon)
	return &models.Coordinates{Lat: lat, Lon: lon}, nil
}
