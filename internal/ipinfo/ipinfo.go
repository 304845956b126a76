// Package ipinfo wraps the ipinfo.io API. Its output only enriches the notes
// attached to recorded outcomes; it never affects the eligibility verdict.
package ipinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// DefaultAPIURL is the ipinfo.io endpoint.
const DefaultAPIURL = "https://ipinfo.io"

// Opts holds configuration options for the IP metadata client.
type Opts struct {
	Token      string
	APIURL     string
	HTTPClient *http.Client
}

// Option defines a configuration option for the IP metadata client.
type Option func(*Opts)

// WithToken sets the ipinfo.io access token.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithAPIURL overrides the API endpoint (used by tests).
func WithAPIURL(u string) Option {
	return func(o *Opts) { o.APIURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client fetches freeform metadata about a source IP address.
type Client struct {
	token  string
	apiURL string
	http   *http.Client
}

// NewClient creates an IP metadata client, falling back to the IPINFO_TOKEN
// environment variable when no token option is provided.
func NewClient(opts ...Option) *Client {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Token == "" {
		cfg.Token = os.Getenv("IPINFO_TOKEN")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{token: cfg.Token, apiURL: cfg.APIURL, http: cfg.HTTPClient}
}

// Lookup returns freeform key/value metadata for an IP address. Failures and
// empty inputs return an empty map; the caller's notes simply stay sparse.
func (c *Client) Lookup(ctx context.Context, ip string) (map[string]string, error) {
	if ip == "" {
		return map[string]string{}, nil
	}

	u := fmt.Sprintf("%s/%s?token=%s", c.apiURL, ip, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build ipinfo request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ipinfo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("ipinfo API returned status %d", resp.StatusCode)
	}

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode ipinfo response: %w", err)
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	slog.Debug("ipinfo: lookup succeeded", "ip", ip, "keys", len(out))
	return out, nil
}

// NotesText formats IP metadata into the freeform notes attached to a
// recorded outcome.
func NotesText(info map[string]string) string {
	if len(info) == 0 {
		return ""
	}
	var parts []string
	if ip := info["ip"]; ip != "" {
		parts = append(parts, "IP: "+ip)
	} else {
		parts = append(parts, "IP: N/A")
	}
	if info["city"] != "" && info["region"] != "" {
		parts = append(parts, fmt.Sprintf("Location (IP): %s, %s, %s", info["city"], info["region"], info["country"]))
	}
	if org := info["org"]; org != "" {
		parts = append(parts, "Org: "+org)
	}
	return strings.Join(parts, "\n")
}
