package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/esglend/verify-cli/internal/model"
	"github.com/esglend/verify-cli/internal/resilience"
)

func TestWeatherProviderFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/air_pollution", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("appid"))
		assert.Equal(t, "51.5000", r.URL.Query().Get("lat"))
		w.Write([]byte(`{"list":[{"dt":1700000000,"main":{"aqi":3},"components":{"pm2_5":18.2}}]}`))
	}))
	defer srv.Close()

	p := NewWeatherProvider(NewHTTPClient(time.Second), srv.URL, "test-key")
	r, err := p.Fetch(context.Background(), Params{Coord: geom.Coord{-0.12, 51.5}})
	require.NoError(t, err)
	assert.InDelta(t, 18.2, r.Value, 0.001)
	assert.Equal(t, "ug/m3", r.Unit)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), r.Timestamp)
}

func TestSatelliteProviderCountsDetections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("latitude,longitude,bright_ti4,acq_date\n51.1,-0.2,330.1,2026-02-20\n51.2,-0.1,340.8,2026-02-21\n"))
	}))
	defer srv.Close()

	p := NewSatelliteProvider(NewHTTPClient(time.Second), srv.URL, "firms-key")
	r, err := p.Fetch(context.Background(), Params{
		Coord:    geom.Coord{-0.12, 51.5},
		RadiusKm: 50,
		Days:     30,
	})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, r.Value, 0.001)
	assert.Equal(t, "detections", r.Unit)
}

func TestSatelliteBBox(t *testing.T) {
	b := bbox(geom.Coord{-0.12, 51.5}, 111)
	assert.InDelta(t, -1.12, b.Min(0), 0.001)
	assert.InDelta(t, 50.5, b.Min(1), 0.001)
	assert.InDelta(t, 0.88, b.Max(0), 0.001)
	assert.InDelta(t, 52.5, b.Max(1), 0.001)
}

func TestCarbonProviderPrefersActual(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/regional/postcode/EC1A", r.URL.Path)
		w.Write([]byte(`{"data":[{"data":[{"from":"2026-02-20T12:00Z","intensity":{"forecast":210,"actual":198}}]}]}`))
	}))
	defer srv.Close()

	p := NewCarbonProvider(NewHTTPClient(time.Second), srv.URL)
	r, err := p.Fetch(context.Background(), Params{Postcode: "EC1A"})
	require.NoError(t, err)
	assert.InDelta(t, 198.0, r.Value, 0.001)
	assert.Equal(t, "gCO2/kWh", r.Unit)
}

func TestESGRatingProviderPicksPillar(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GFM", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{"symbol":"GFM","environmental_score":72,"social_score":64,"governance_score":81,"as_of":"2026-01-15"}`))
	}))
	defer srv.Close()

	p := NewESGRatingProvider(NewHTTPClient(time.Second), srv.URL, "av-key")

	r, err := p.Fetch(context.Background(), Params{Symbol: "GFM", Series: string(model.CategoryGovernance)})
	require.NoError(t, err)
	assert.InDelta(t, 81.0, r.Value, 0.001)

	r, err = p.Fetch(context.Background(), Params{Symbol: "GFM", Series: "board_diversity"})
	require.NoError(t, err)
	assert.InDelta(t, 72.0, r.Value, 0.001, "unknown series falls back to the environmental pillar")
}

func TestNumericProviderFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/series/workforce_diversity/latest", r.URL.Path)
		w.Write([]byte(`{"series":"workforce_diversity","value":38.5,"unit":"percent","timestamp":"2026-02-01T00:00:00Z"}`))
	}))
	defer srv.Close()

	p := NewNumericProvider(NewHTTPClient(time.Second), srv.URL)
	r, err := p.Fetch(context.Background(), Params{Series: "workforce_diversity"})
	require.NoError(t, err)
	assert.InDelta(t, 38.5, r.Value, 0.001)
	assert.Equal(t, "percent", r.Unit)
}

func TestHTTPClientRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(2 * time.Second)
	c.retry.InitialBackoff = time.Millisecond
	c.retry.MaxBackoff = 5 * time.Millisecond

	var out struct {
		OK bool `json:"ok"`
	}
	err := c.GetJSON(context.Background(), srv.URL, &out)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, int64(3), calls.Load())
}

func TestHTTPClientDoesNotRetryClientError(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewHTTPClient(time.Second)
	c.retry.InitialBackoff = time.Millisecond

	var out map[string]any
	err := c.GetJSON(context.Background(), srv.URL, &out)
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
	assert.Equal(t, int64(1), calls.Load())
}

func TestFetchMissingParameterErrors(t *testing.T) {
	client := NewHTTPClient(time.Second)

	tests := []struct {
		name     string
		provider Provider
		params   Params
	}{
		{"weather without location", NewWeatherProvider(client, "http://x", "k"), Params{}},
		{"satellite without location", NewSatelliteProvider(client, "http://x", "k"), Params{}},
		{"carbon without postcode", NewCarbonProvider(client, "http://x"), Params{}},
		{"esg without symbol", NewESGRatingProvider(client, "http://x", "k"), Params{}},
		{"numeric without series", NewNumericProvider(client, "http://x"), Params{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.provider.Fetch(context.Background(), tt.params)
			var ce *ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.provider.Name(), ce.Provider)
		})
	}
}

func TestConfiguredErrors(t *testing.T) {
	client := NewHTTPClient(time.Second)

	tests := []struct {
		name     string
		provider Provider
		wantErr  bool
	}{
		{"weather without key", NewWeatherProvider(client, "http://x", ""), true},
		{"weather configured", NewWeatherProvider(client, "http://x", "k"), false},
		{"satellite without key", NewSatelliteProvider(client, "http://x", ""), true},
		{"carbon without url", NewCarbonProvider(client, ""), true},
		{"carbon configured", NewCarbonProvider(client, "http://x"), false},
		{"esg without key", NewESGRatingProvider(client, "http://x", ""), true},
		{"numeric without url", NewNumericProvider(client, ""), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.provider.Configured()
			if tt.wantErr {
				var mce *MisconfiguredError
				require.ErrorAs(t, err, &mce)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
