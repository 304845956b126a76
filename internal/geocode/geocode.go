// Package geocode wraps the Google Maps Geocoding API to resolve free-text
// "City, State" answers into coordinates for distance eligibility checks.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/clinicontact/leadscreen/internal/geo"
)

// DefaultAPIURL is the Google Maps Geocoding endpoint.
const DefaultAPIURL = "https://maps.googleapis.com/maps/api/geocode/json"

// Opts holds configuration options for the geocoding client.
type Opts struct {
	APIKey     string
	APIURL     string
	HTTPClient *http.Client
}

// Option defines a configuration option for the geocoding client.
type Option func(*Opts)

// WithAPIKey sets the Maps API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithAPIURL overrides the API endpoint (used by tests).
func WithAPIURL(u string) Option {
	return func(o *Opts) { o.APIURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client resolves location text via the Google Maps Geocoding API.
type Client struct {
	apiKey string
	apiURL string
	http   *http.Client
}

// NewClient creates a geocoding client, falling back to the MAPS_API_KEY
// environment variable when no key option is provided.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("MAPS_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("maps API key must be provided")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{apiKey: cfg.APIKey, apiURL: cfg.APIURL, http: cfg.HTTPClient}, nil
}

type geocodeResponse struct {
	Results []struct {
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
	Status string `json:"status"`
}

// Geocode resolves location text to coordinates. A lookup with no results
// returns (nil, nil): inability to resolve a location is a policy decision
// for the rule evaluator, not a transport error.
func (c *Client) Geocode(ctx context.Context, locationText string) (*geo.Coords, error) {
	q := url.Values{}
	q.Set("address", locationText)
	q.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build geocode request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("geocode API returned status %d", resp.StatusCode)
	}

	var parsed geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode geocode response: %w", err)
	}

	if len(parsed.Results) == 0 {
		slog.Warn("geocode: no results for location text", "location", locationText, "status", parsed.Status)
		return nil, nil
	}

	loc := parsed.Results[0].Geometry.Location
	slog.Debug("geocode: location resolved", "location", locationText, "lat", loc.Lat, "lon", loc.Lng)
	return &geo.Coords{Latitude: loc.Lat, Longitude: loc.Lng}, nil
}
