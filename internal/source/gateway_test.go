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

	"github.com/esglend/verify-cli/internal/config"
	"github.com/esglend/verify-cli/internal/model"
)

func testLoan() model.Loan {
	return model.Loan{
		ID:           "loan-1",
		BorrowerName: "Greenfield Manufacturing",
		Location:     model.GeoPoint{Latitude: 51.5, Longitude: -0.12},
		Postcode:     "EC1A",
		TickerSymbol: "GFM",
	}
}

func testKPI() model.KPI {
	return model.KPI{
		ID:       "kpi-1",
		LoanID:   "loan-1",
		Name:     "Scope 1 Emissions",
		Category: model.CategoryEnvironmental,
		Unit:     "tCO2e",
		Baseline: 100,
		Target:   70,
	}
}

func testGatewayConfig() config.GatewayConfig {
	return config.GatewayConfig{
		CacheTTLHours:      24,
		CallTimeoutSecs:    2,
		RunBudgetSecs:      10,
		MaxConcurrentCalls: 4,
		FireRadiusKm:       50,
		FireWindowDays:     30,
	}
}

func TestLoadCatalogDefaults(t *testing.T) {
	c, err := LoadCatalog("")
	require.NoError(t, err)

	env := c.ProvidersFor(model.CategoryEnvironmental)
	assert.Contains(t, env, "openweathermap")
	assert.Contains(t, env, "nasa_firms")
	assert.Contains(t, env, "carbon_intensity")
	assert.Contains(t, env, "esg_ratings")

	gov := c.ProvidersFor(model.CategoryGovernance)
	assert.Contains(t, gov, "esg_ratings")
	assert.Contains(t, gov, "numeric_facts")
	assert.NotContains(t, gov, "openweathermap")

	assert.InDelta(t, 92.0, c.Reliability("nasa_firms"), 0.001)
	assert.Zero(t, c.Reliability("unknown"))
}

func TestNewGatewayRejectsUnregisteredCatalogEntry(t *testing.T) {
	catalog := &Catalog{Providers: map[string]CatalogEntry{
		"ghost": {Reliability: 80, Categories: []string{"environmental"}},
	}}

	_, err := NewGateway(testGatewayConfig(), catalog, NewMemoryCache(time.Hour))
	require.Error(t, err)

	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "ghost", ce.Provider)
}

func TestFetchLiveThenCacheThenSimulator(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) > 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"list":[{"dt":1700000000,"main":{"aqi":2},"components":{"pm2_5":12.5}}]}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(2 * time.Second)
	provider := NewWeatherProvider(client, srv.URL, "test-key")
	catalog := &Catalog{Providers: map[string]CatalogEntry{
		"openweathermap": {Reliability: 88, Categories: []string{"environmental"}},
	}}

	gw, err := NewGateway(testGatewayConfig(), catalog, NewMemoryCache(time.Hour), provider)
	require.NoError(t, err)

	// First call succeeds live and populates the cache.
	r1, err := gw.Fetch(context.Background(), "openweathermap", testLoan(), testKPI())
	require.NoError(t, err)
	assert.Equal(t, model.ProvenanceLive, r1.Provenance)
	assert.InDelta(t, 12.5, r1.Value, 0.001)
	assert.InDelta(t, 88.0, r1.Reliability, 0.001)

	// Second call hits a failing server and serves the cached value.
	r2, err := gw.Fetch(context.Background(), "openweathermap", testLoan(), testKPI())
	require.NoError(t, err)
	assert.Equal(t, model.ProvenanceFallback, r2.Provenance)
	assert.InDelta(t, 12.5, r2.Value, 0.001)

	status := gw.Status()
	require.Len(t, status, 1)
	assert.Equal(t, int64(1), status[0].LiveCalls)
	assert.Equal(t, int64(1), status[0].FallbackCalls)
	assert.Equal(t, int64(1), status[0].Failures)
	require.NotNil(t, status[0].LastSuccess)
}

func TestFetchSimulatorWhenUnconfigured(t *testing.T) {
	client := NewHTTPClient(time.Second)
	provider := NewWeatherProvider(client, "http://unused", "") // no key
	catalog := &Catalog{Providers: map[string]CatalogEntry{
		"openweathermap": {Reliability: 88, Categories: []string{"environmental"}},
	}}

	gw, err := NewGateway(testGatewayConfig(), catalog, NewMemoryCache(time.Hour), provider)
	require.NoError(t, err)

	kpi := testKPI()
	r, err := gw.Fetch(context.Background(), "openweathermap", testLoan(), kpi)
	require.NoError(t, err)
	assert.Equal(t, model.ProvenanceFallback, r.Provenance)
	// Simulated values sit within ±10% of the target.
	assert.GreaterOrEqual(t, r.Value, kpi.Target*0.90)
	assert.LessOrEqual(t, r.Value, kpi.Target*1.10)
}

func TestFetchSimulatorOnCancelledContext(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"list":[{"dt":1700000000,"components":{"pm2_5":9.9}}]}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(time.Second)
	provider := NewWeatherProvider(client, srv.URL, "test-key")
	catalog := &Catalog{Providers: map[string]CatalogEntry{
		"openweathermap": {Reliability: 88, Categories: []string{"environmental"}},
	}}
	gw, err := NewGateway(testGatewayConfig(), catalog, NewMemoryCache(time.Hour), provider)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, err := gw.Fetch(ctx, "openweathermap", testLoan(), testKPI())
	require.NoError(t, err)
	assert.Equal(t, model.ProvenanceFallback, r.Provenance)
	assert.Zero(t, calls.Load(), "no live call after cancellation")
}

func TestFetchMissingLocationIsConfigurationError(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"list":[{"dt":1700000000,"components":{"pm2_5":9.9}}]}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(time.Second)
	provider := NewWeatherProvider(client, srv.URL, "test-key")
	catalog := &Catalog{Providers: map[string]CatalogEntry{
		"openweathermap": {Reliability: 88, Categories: []string{"environmental"}},
	}}
	gw, err := NewGateway(testGatewayConfig(), catalog, NewMemoryCache(time.Hour), provider)
	require.NoError(t, err)

	// A configured geospatial provider asked about a loan with no facility
	// location can never succeed; the call fails fast instead of serving a
	// fallback reading.
	loan := testLoan()
	loan.Location = model.GeoPoint{}

	r, err := gw.Fetch(context.Background(), "openweathermap", loan, testKPI())
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "openweathermap", ce.Provider)
	assert.Equal(t, model.SourceReading{}, r)
	assert.Zero(t, calls.Load(), "precondition checked before any live call")

	status := gw.Status()
	require.Len(t, status, 1)
	assert.Zero(t, status[0].FallbackCalls, "no fallback for a misconfigured call")
	assert.Equal(t, int64(1), status[0].Failures)
}

func TestFetchUnknownProviderIsConfigurationError(t *testing.T) {
	catalog := &Catalog{Providers: map[string]CatalogEntry{}}
	gw, err := NewGateway(testGatewayConfig(), catalog, NewMemoryCache(time.Hour))
	require.NoError(t, err)

	_, err = gw.Fetch(context.Background(), "ghost", testLoan(), testKPI())
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "ghost", ce.Provider)
}

func TestSimulateDeterministic(t *testing.T) {
	kpi := testKPI()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	a := Simulate(kpi, "openweathermap", now)
	b := Simulate(kpi, "openweathermap", now)
	assert.Equal(t, a.Value, b.Value)

	c := Simulate(kpi, "nasa_firms", now)
	assert.NotEqual(t, a.Value, c.Value, "different providers draw different values")

	other := kpi
	other.ID = "kpi-2"
	d := Simulate(other, "openweathermap", now)
	assert.NotEqual(t, a.Value, d.Value, "different KPIs draw different values")
}

func TestMemoryCacheTTL(t *testing.T) {
	cache := NewMemoryCache(time.Hour)
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return current }

	cache.Put("k", RawReading{Value: 1})
	_, ok := cache.Get("k")
	assert.True(t, ok)

	current = current.Add(2 * time.Hour)
	_, ok = cache.Get("k")
	assert.False(t, ok, "entry expires after ttl")

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Zero(t, stats.Entries)
}
