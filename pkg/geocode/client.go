// Package geocode resolves free-form addresses to coordinates via the
// Nominatim search API.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public Nominatim search endpoint.
const DefaultBaseURL = "https://nominatim.openstreetmap.org/search"

// Client geocodes addresses.
type Client interface {
	// Geocode geocodes a single address. An address with no match, or a
	// failed request, yields a Result with Matched == false and no error.
	Geocode(ctx context.Context, address string) (*Result, error)

	// BatchGeocode geocodes multiple addresses in order.
	BatchGeocode(ctx context.Context, addresses []string) ([]Result, error)
}

// Result holds the geocoding output for an address.
type Result struct {
	Address     string
	Latitude    float64
	Longitude   float64
	DisplayName string
	Source      string // "nominatim"
	Quality     string // Nominatim place type, e.g. "house", "city"
	Matched     bool
}

// Option configures the geocoder.
type Option func(*geocoder)

// WithBaseURL overrides the search endpoint.
func WithBaseURL(u string) Option {
	return func(g *geocoder) {
		if u != "" {
			g.baseURL = u
		}
	}
}

// WithUserAgent sets the User-Agent header. Nominatim rejects requests
// without an identifying agent.
func WithUserAgent(ua string) Option {
	return func(g *geocoder) {
		if ua != "" {
			g.userAgent = ua
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *geocoder) {
		g.httpClient = hc
	}
}

// WithRateLimit sets the requests-per-second limit.
func WithRateLimit(rps float64) Option {
	return func(g *geocoder) {
		if rps > 0 {
			g.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

type geocoder struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	limiter    *rate.Limiter
}

// NewClient creates a new geocoding Client with the given options.
func NewClient(opts ...Option) Client {
	g := &geocoder{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    DefaultBaseURL,
		userAgent:  "riskmap-cli/1.0",
		limiter:    rate.NewLimiter(1, 1), // Nominatim usage policy: 1 req/s
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// nominatimPlace is one element of the Nominatim search response.
// Coordinates are encoded as strings.
type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
	Class       string `json:"class"`
	Type        string `json:"type"`
}

// Geocode geocodes a single address using the first Nominatim result.
func (g *geocoder) Geocode(ctx context.Context, address string) (*Result, error) {
	result, err := g.search(ctx, address)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, eris.Wrapf(ctx.Err(), "geocode: %s", address)
		}
		zap.L().Warn("geocode: lookup failed",
			zap.String("address", address),
			zap.Error(err),
		)
		return &Result{Address: address, Source: "nominatim", Matched: false}, nil
	}
	return result, nil
}

// BatchGeocode geocodes addresses one at a time under the rate limit.
func (g *geocoder) BatchGeocode(ctx context.Context, addresses []string) ([]Result, error) {
	if len(addresses) == 0 {
		return nil, nil
	}
	results := make([]Result, len(addresses))
	for i, addr := range addresses {
		r, err := g.Geocode(ctx, addr)
		if err != nil {
			return nil, err
		}
		results[i] = *r
	}
	return results, nil
}

func (g *geocoder) search(ctx context.Context, address string) (*Result, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return &Result{Source: "nominatim", Matched: false}, nil
	}

	if err := g.limiter.Wait(ctx); err != nil {
		// Wait fails early when the next slot falls after the deadline.
		if ctx.Err() == nil {
			if _, ok := ctx.Deadline(); ok {
				return nil, eris.Wrapf(context.DeadlineExceeded, "geocode: rate limit: %v", err)
			}
		}
		return nil, eris.Wrap(err, "geocode: rate limit")
	}

	params := url.Values{
		"q":      {address},
		"format": {"json"},
		"limit":  {"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: build request")
	}
	req.Header.Set("User-Agent", g.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("geocode: nominatim returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: read body")
	}

	var places []nominatimPlace
	if err := json.Unmarshal(body, &places); err != nil {
		return nil, eris.Wrap(err, "geocode: parse response")
	}
	if len(places) == 0 {
		return &Result{Address: address, Source: "nominatim", Matched: false}, nil
	}

	p := places[0]
	lat, err := strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: parse lat %q", p.Lat)
	}
	lon, err := strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: parse lon %q", p.Lon)
	}

	return &Result{
		Address:     address,
		Latitude:    lat,
		Longitude:   lon,
		DisplayName: p.DisplayName,
		Source:      "nominatim",
		Quality:     p.Type,
		Matched:     true,
	}, nil
}
