// Package geo adds place names to scene descriptions by reverse geocoding the
// robot's GPS fix against a Nominatim-compatible service.
package geo

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-alzar/internal/httpc"
	"github.com/teslashibe/go-alzar/internal/log"
	"github.com/teslashibe/go-alzar/pkg/observe"
	"github.com/teslashibe/go-alzar/pkg/state"
)

const (
	// DefaultPrecision rounds coordinates to about 100 m for caching.
	DefaultPrecision = 3
	DefaultTimeout   = 5 * time.Second
	DefaultCacheSize = 256
	userAgent        = "go-alzar/1.0"
)

// Place is a reverse-geocoding result.
type Place struct {
	Name    string `json:"name,omitempty"`
	Road    string `json:"road,omitempty"`
	Area    string `json:"area,omitempty"`
	City    string `json:"city,omitempty"`
	Country string `json:"country,omitempty"`
}

// String renders the place from most to least specific.
func (p Place) String() string {
	parts := make([]string, 0, 5)
	seen := make(map[string]bool)
	for _, s := range []string{p.Name, p.Road, p.Area, p.City, p.Country} {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		parts = append(parts, s)
	}
	return strings.Join(parts, ", ")
}

// Option configures a Geocoder.
type Option func(*Geocoder)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Geocoder) {
		g.client = c
	}
}

// WithPrecision sets how many decimal places the cache key keeps.
func WithPrecision(decimals int) Option {
	return func(g *Geocoder) {
		g.precision = decimals
	}
}

// WithCacheSize bounds the number of cached places.
func WithCacheSize(n int) Option {
	return func(g *Geocoder) {
		g.cacheSize = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Geocoder) {
		g.logger = l
	}
}

type cacheKey struct {
	lat, lng int64
}

// Geocoder implements observe.GeoContext.
type Geocoder struct {
	baseURL   string
	client    *http.Client
	precision int
	cacheSize int
	logger    *slog.Logger

	mu    sync.Mutex
	cache map[cacheKey]Place
	order []cacheKey

	lookups atomic.Uint64
	hits    atomic.Uint64
	errors  atomic.Uint64
}

// New creates a geocoder for the service at baseURL.
func New(baseURL string, opts ...Option) *Geocoder {
	g := &Geocoder{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		precision: DefaultPrecision,
		cacheSize: DefaultCacheSize,
		cache:     make(map[cacheKey]Place),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.client == nil {
		g.client = httpc.NewClient(DefaultTimeout)
	}
	g.logger = log.OrDefault(g.logger, "geo")
	return g
}

// Enrich appends the place name to description. Any failure returns the
// description unchanged.
func (g *Geocoder) Enrich(ctx context.Context, description string, fix *state.GPSFix) string {
	if fix == nil || !fix.Valid() {
		return description
	}
	place, err := g.Lookup(ctx, fix.Lat, fix.Lng)
	if err != nil {
		g.logger.Debug("reverse geocode failed", "error", err)
		return description
	}
	name := place.String()
	if name == "" {
		return description
	}
	return description + "\nLocation: " + name
}

// Lookup reverse geocodes a coordinate, using the cache when possible.
func (g *Geocoder) Lookup(ctx context.Context, lat, lng float64) (Place, error) {
	key := g.key(lat, lng)

	g.mu.Lock()
	place, ok := g.cache[key]
	g.mu.Unlock()
	if ok {
		g.hits.Add(1)
		return place, nil
	}

	g.lookups.Add(1)
	place, err := g.fetch(ctx, lat, lng)
	if err != nil {
		g.errors.Add(1)
		return Place{}, err
	}

	g.mu.Lock()
	if _, ok := g.cache[key]; !ok {
		g.cache[key] = place
		g.order = append(g.order, key)
		if len(g.order) > g.cacheSize {
			delete(g.cache, g.order[0])
			g.order = g.order[1:]
		}
	}
	g.mu.Unlock()
	return place, nil
}

type reverseResponse struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
	Address     struct {
		Road          string `json:"road"`
		Pedestrian    string `json:"pedestrian"`
		Suburb        string `json:"suburb"`
		Neighbourhood string `json:"neighbourhood"`
		City          string `json:"city"`
		Town          string `json:"town"`
		Village       string `json:"village"`
		Country       string `json:"country"`
	} `json:"address"`
}

func (g *Geocoder) fetch(ctx context.Context, lat, lng float64) (Place, error) {
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", fmt.Sprintf("%.6f", lat))
	q.Set("lon", fmt.Sprintf("%.6f", lng))
	q.Set("zoom", "17")
	q.Set("addressdetails", "1")

	header := http.Header{}
	header.Set("User-Agent", userAgent)
	header.Set("Accept", "application/json")

	var resp reverseResponse
	if err := httpc.GetJSON(ctx, g.client, g.baseURL+"/reverse?"+q.Encode(), header, &resp); err != nil {
		return Place{}, fmt.Errorf("geo: %w", err)
	}
	if resp.Error != "" {
		return Place{}, fmt.Errorf("geo: %s", resp.Error)
	}

	a := resp.Address
	return Place{
		Name:    resp.Name,
		Road:    firstNonEmpty(a.Road, a.Pedestrian),
		Area:    firstNonEmpty(a.Neighbourhood, a.Suburb),
		City:    firstNonEmpty(a.City, a.Town, a.Village),
		Country: a.Country,
	}, nil
}

func (g *Geocoder) key(lat, lng float64) cacheKey {
	scale := math.Pow(10, float64(g.precision))
	return cacheKey{
		lat: int64(math.Round(lat * scale)),
		lng: int64(math.Round(lng * scale)),
	}
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}

// Stats contains geocoder counters.
type Stats struct {
	Lookups uint64 `json:"lookups"`
	Hits    uint64 `json:"cache_hits"`
	Errors  uint64 `json:"errors"`
	Cached  int    `json:"cached"`
}

// Stats returns geocoder counters.
func (g *Geocoder) Stats() Stats {
	g.mu.Lock()
	cached := len(g.cache)
	g.mu.Unlock()
	return Stats{
		Lookups: g.lookups.Load(),
		Hits:    g.hits.Load(),
		Errors:  g.errors.Load(),
		Cached:  cached,
	}
}

var _ observe.GeoContext = (*Geocoder)(nil)
