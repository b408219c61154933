package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/esglend/verify-cli/internal/pricing"
	"github.com/esglend/verify-cli/internal/risk"
	"github.com/esglend/verify-cli/internal/source"
	"github.com/esglend/verify-cli/internal/store"
	"github.com/esglend/verify-cli/internal/verify"
)

// env holds the wired pipeline components shared by the commands.
type env struct {
	Store        store.Store
	Gateway      *source.Gateway
	Orchestrator *verify.Orchestrator
	Scorer       *risk.Scorer
	Engine       *pricing.Engine
}

func (e *env) Close() {
	if e.Store != nil {
		e.Store.Close()
	}
}

// initEnv opens the store and wires the gateway and the three pipeline
// stages from config.
func initEnv(ctx context.Context) (*env, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	catalog, err := source.LoadCatalog(cfg.Gateway.CatalogPath)
	if err != nil {
		st.Close()
		return nil, err
	}

	client := source.NewHTTPClient(cfg.Gateway.CallTimeout())
	gw, err := source.NewGateway(cfg.Gateway, catalog,
		source.NewMemoryCache(cfg.Gateway.CacheTTL()),
		source.NewWeatherProvider(client, cfg.Gateway.WeatherURL, cfg.Gateway.WeatherKey),
		source.NewSatelliteProvider(client, cfg.Gateway.SatelliteURL, cfg.Gateway.SatelliteKey),
		source.NewCarbonProvider(client, cfg.Gateway.CarbonURL),
		source.NewESGRatingProvider(client, cfg.Gateway.ESGRatingURL, cfg.Gateway.ESGRatingKey),
		source.NewNumericProvider(client, cfg.Gateway.NumericURL),
	)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &env{
		Store:        st,
		Gateway:      gw,
		Orchestrator: verify.NewOrchestrator(st, gw, cfg.Verification, cfg.Gateway),
		Scorer:       risk.NewScorer(st, cfg.Risk, cfg.Verification),
		Engine:       pricing.NewEngine(st, cfg.Pricing),
	}, nil
}

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
