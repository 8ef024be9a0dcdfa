package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/teslashibe/go-alzar/pkg/state"
)

const lisbon = `{
	"name": "Praça do Comércio",
	"display_name": "Praça do Comércio, Baixa, Lisboa, Portugal",
	"address": {"pedestrian": "Praça do Comércio", "suburb": "Baixa", "city": "Lisboa", "country": "Portugal"}
}`

func newTestGeocoder(t *testing.T, handler http.HandlerFunc, opts ...Option) *Geocoder {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(server.URL+"/", opts...)
}

func TestEnrich(t *testing.T) {
	g := newTestGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/reverse" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("lat") != "38.707500" || q.Get("lon") != "-9.136400" || q.Get("format") != "jsonv2" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		if r.Header.Get("User-Agent") == "" {
			t.Error("User-Agent not set")
		}
		w.Write([]byte(lisbon))
	})

	got := g.Enrich(context.Background(), "A wide square.", &state.GPSFix{Lat: 38.7075, Lng: -9.1364})
	want := "A wide square.\nLocation: Praça do Comércio, Baixa, Lisboa, Portugal"
	if got != want {
		t.Errorf("Enrich() = %q, want %q", got, want)
	}
}

func TestEnrichWithoutFix(t *testing.T) {
	g := newTestGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	if got := g.Enrich(context.Background(), "desc", nil); got != "desc" {
		t.Errorf("Enrich(nil) = %q", got)
	}
	if got := g.Enrich(context.Background(), "desc", &state.GPSFix{Lat: 120}); got != "desc" {
		t.Errorf("Enrich(invalid) = %q", got)
	}
}

func TestEnrichFailureKeepsDescription(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"service error", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"error":"Unable to geocode"}`))
		}},
		{"malformed", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`not json`))
		}},
		{"empty place", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"address":{}}`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGeocoder(t, tt.handler)
			got := g.Enrich(context.Background(), "desc", &state.GPSFix{Lat: 1, Lng: 2})
			if got != "desc" {
				t.Errorf("Enrich() = %q, want unchanged", got)
			}
		})
	}
}

func TestLookupCachesNearbyFixes(t *testing.T) {
	var calls atomic.Int32
	g := newTestGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(lisbon))
	})

	ctx := context.Background()
	for _, fix := range [][2]float64{{38.70741, -9.13641}, {38.70739, -9.13639}} {
		if _, err := g.Lookup(ctx, fix[0], fix[1]); err != nil {
			t.Fatal(err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}

	if _, err := g.Lookup(ctx, 38.72, -9.14); err != nil {
		t.Fatal(err)
	}
	st := g.Stats()
	if st.Lookups != 2 || st.Hits != 1 || st.Cached != 2 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestCacheEviction(t *testing.T) {
	g := newTestGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(lisbon))
	}, WithCacheSize(2))

	for i := 0; i < 3; i++ {
		g.Lookup(context.Background(), float64(i), 0)
	}
	if st := g.Stats(); st.Cached != 2 {
		t.Errorf("cached = %d, want 2", st.Cached)
	}
}

func TestPlaceString(t *testing.T) {
	p := Place{Name: "Lisboa", City: "Lisboa", Country: "Portugal"}
	if got := p.String(); got != "Lisboa, Portugal" {
		t.Errorf("String() = %q", got)
	}
	if !strings.Contains(Place{Road: "Rua Augusta"}.String(), "Rua Augusta") {
		t.Error("road missing")
	}
}
