package source

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/esglend/verify-cli/internal/config"
	"github.com/esglend/verify-cli/internal/model"
)

// providerStats tracks per-provider outcomes since process start.
type providerStats struct {
	liveCalls     int64
	fallbackCalls int64
	failures      int64
	lastSuccess   time.Time
	lastError     string
}

// StatusSnapshot is one row of the provider status surface.
type StatusSnapshot struct {
	Provider      string     `json:"provider"`
	Reliability   float64    `json:"reliability"`
	Configured    bool       `json:"configured"`
	LiveCalls     int64      `json:"live_calls"`
	FallbackCalls int64      `json:"fallback_calls"`
	Failures      int64      `json:"failures"`
	LastSuccess   *time.Time `json:"last_success,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// Gateway routes verification reads to providers and degrades per provider
// from live call to cached data to the simulator. Callers always get a
// reading; provenance and reliability tell downstream scoring how much to
// trust it.
type Gateway struct {
	cfg       config.GatewayConfig
	catalog   *Catalog
	cache     Cache
	providers map[string]Provider

	mu    sync.Mutex
	stats map[string]*providerStats

	now func() time.Time
}

// NewGateway wires the catalogue to the registered provider implementations.
// A catalogue entry without a matching implementation is a wiring defect and
// fails startup. A provider missing credentials is logged and held on the
// fallback path.
func NewGateway(cfg config.GatewayConfig, catalog *Catalog, cache Cache, providers ...Provider) (*Gateway, error) {
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}

	for name := range catalog.Providers {
		p, ok := byName[name]
		if !ok {
			return nil, &ConfigurationError{Provider: name, Reason: "listed in catalog but not registered"}
		}
		if err := p.Configured(); err != nil {
			zap.L().Warn("provider not configured for live calls, using fallback path",
				zap.String("provider", name),
				zap.Error(err),
			)
		}
	}

	stats := make(map[string]*providerStats, len(catalog.Providers))
	for name := range catalog.Providers {
		stats[name] = &providerStats{}
	}

	return &Gateway{
		cfg:       cfg,
		catalog:   catalog,
		cache:     cache,
		providers: byName,
		stats:     stats,
		now:       time.Now,
	}, nil
}

// ProvidersFor returns the providers registered for a KPI category.
func (g *Gateway) ProvidersFor(cat model.KPICategory) []string {
	return g.catalog.ProvidersFor(cat)
}

// Fetch obtains one reading for a KPI from the named provider. The live call
// is bounded by the configured per-call timeout; transport failures degrade to
// the cache and then the simulator. A *ConfigurationError means the call can
// never succeed as configured (unknown provider, or a required parameter the
// loan does not carry) and is returned without touching the fallback ladder.
func (g *Gateway) Fetch(ctx context.Context, providerName string, loan model.Loan, kpi model.KPI) (model.SourceReading, error) {
	provider, ok := g.providers[providerName]
	if !ok {
		return model.SourceReading{}, &ConfigurationError{Provider: providerName, Reason: "unknown provider"}
	}
	reliability := g.catalog.Reliability(providerName)
	cacheKey := providerName + "|" + kpi.ID

	if provider.Configured() == nil && ctx.Err() == nil {
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout())
		raw, err := provider.Fetch(callCtx, g.paramsFor(loan, kpi))
		cancel()

		if err == nil {
			g.cache.Put(cacheKey, raw)
			g.recordLive(providerName)
			return model.SourceReading{
				Provider:    providerName,
				Reliability: reliability,
				Value:       raw.Value,
				Unit:        raw.Unit,
				Timestamp:   raw.Timestamp,
				Provenance:  model.ProvenanceLive,
			}, nil
		}

		var ce *ConfigurationError
		if errors.As(err, &ce) {
			g.recordFailure(providerName, err)
			return model.SourceReading{}, err
		}

		g.recordFailure(providerName, err)
		zap.L().Debug("live provider call failed, degrading",
			zap.String("provider", providerName),
			zap.String("kpi", kpi.Name),
			zap.Error(err),
		)
	}

	if raw, ok := g.cache.Get(cacheKey); ok {
		g.recordFallback(providerName)
		return model.SourceReading{
			Provider:    providerName,
			Reliability: reliability,
			Value:       raw.Value,
			Unit:        raw.Unit,
			Timestamp:   raw.Timestamp,
			Provenance:  model.ProvenanceFallback,
		}, nil
	}

	raw := Simulate(kpi, providerName, g.now().UTC())
	g.recordFallback(providerName)
	return model.SourceReading{
		Provider:    providerName,
		Reliability: reliability,
		Value:       raw.Value,
		Unit:        raw.Unit,
		Timestamp:   raw.Timestamp,
		Provenance:  model.ProvenanceFallback,
	}, nil
}

// paramsFor translates loan and KPI attributes into provider request inputs.
// A loan without a facility location leaves Coord unset so geospatial
// providers can reject the call instead of querying the zero coordinate.
func (g *Gateway) paramsFor(loan model.Loan, kpi model.KPI) Params {
	series := string(kpi.Category)
	if kpi.Name != "" {
		series = slugify(kpi.Name)
	}
	p := Params{
		Postcode: loan.Postcode,
		Symbol:   loan.TickerSymbol,
		Series:   series,
		RadiusKm: g.cfg.FireRadiusKm,
		Days:     g.cfg.FireWindowDays,
	}
	if loan.Location != (model.GeoPoint{}) {
		p.Coord = geom.Coord{loan.Location.Longitude, loan.Location.Latitude}
	}
	return p
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, s)
}

func (g *Gateway) recordLive(provider string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s := g.stats[provider]; s != nil {
		s.liveCalls++
		s.lastSuccess = g.now()
	}
}

func (g *Gateway) recordFallback(provider string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s := g.stats[provider]; s != nil {
		s.fallbackCalls++
	}
}

func (g *Gateway) recordFailure(provider string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s := g.stats[provider]; s != nil {
		s.failures++
		s.lastError = err.Error()
	}
}

// Status reports the current per-provider health snapshot, sorted by name.
func (g *Gateway) Status() []StatusSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]StatusSnapshot, 0, len(g.stats))
	for name, s := range g.stats {
		snap := StatusSnapshot{
			Provider:      name,
			Reliability:   g.catalog.Reliability(name),
			LiveCalls:     s.liveCalls,
			FallbackCalls: s.fallbackCalls,
			Failures:      s.failures,
			LastError:     s.lastError,
		}
		if p := g.providers[name]; p != nil {
			snap.Configured = p.Configured() == nil
		}
		if !s.lastSuccess.IsZero() {
			t := s.lastSuccess
			snap.LastSuccess = &t
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// CacheStats exposes cache effectiveness for the status surface.
func (g *Gateway) CacheStats() CacheStats {
	return g.cache.Stats()
}
