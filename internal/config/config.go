package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Gateway      GatewayConfig      `yaml:"gateway" mapstructure:"gateway"`
	Verification VerificationConfig `yaml:"verification" mapstructure:"verification"`
	Risk         RiskConfig         `yaml:"risk" mapstructure:"risk"`
	Pricing      PricingConfig      `yaml:"pricing" mapstructure:"pricing"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite | postgres
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// GatewayConfig configures the data source gateway and the fan-out budget
// for a verification run.
type GatewayConfig struct {
	CatalogPath        string `yaml:"catalog_path" mapstructure:"catalog_path"`
	CacheTTLHours      int    `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	CallTimeoutSecs    int    `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	RunBudgetSecs      int    `yaml:"run_budget_secs" mapstructure:"run_budget_secs"`
	MaxConcurrentCalls int    `yaml:"max_concurrent_calls" mapstructure:"max_concurrent_calls"`

	WeatherKey     string  `yaml:"weather_api_key" mapstructure:"weather_api_key"`
	SatelliteKey   string  `yaml:"satellite_api_key" mapstructure:"satellite_api_key"`
	ESGRatingKey   string  `yaml:"esg_rating_api_key" mapstructure:"esg_rating_api_key"`
	WeatherURL     string  `yaml:"weather_base_url" mapstructure:"weather_base_url"`
	SatelliteURL   string  `yaml:"satellite_base_url" mapstructure:"satellite_base_url"`
	CarbonURL      string  `yaml:"carbon_base_url" mapstructure:"carbon_base_url"`
	ESGRatingURL   string  `yaml:"esg_rating_base_url" mapstructure:"esg_rating_base_url"`
	NumericURL     string  `yaml:"numeric_base_url" mapstructure:"numeric_base_url"`
	FireRadiusKm   float64 `yaml:"fire_radius_km" mapstructure:"fire_radius_km"`
	FireWindowDays int     `yaml:"fire_window_days" mapstructure:"fire_window_days"`
}

// CacheTTL returns the cache TTL as a duration.
func (g GatewayConfig) CacheTTL() time.Duration {
	return time.Duration(g.CacheTTLHours) * time.Hour
}

// CallTimeout returns the per-provider-call timeout.
func (g GatewayConfig) CallTimeout() time.Duration {
	return time.Duration(g.CallTimeoutSecs) * time.Second
}

// RunBudget returns the overall verification run budget.
func (g GatewayConfig) RunBudget() time.Duration {
	return time.Duration(g.RunBudgetSecs) * time.Second
}

// VerificationConfig holds the tunable constants of the verification math.
// ReliabilityWeight blends mean provider reliability against live coverage in
// the aggregate confidence score. The 70/30 internal/external split mentioned
// in older product notes has no documented derivation; these constants are the
// testable contract and stay configurable until product settles the question.
type VerificationConfig struct {
	MaterialityThresholdPct float64 `yaml:"materiality_threshold_pct" mapstructure:"materiality_threshold_pct"`
	ReliabilityWeight       float64 `yaml:"reliability_weight" mapstructure:"reliability_weight"`
	FallbackWeightFactor    float64 `yaml:"fallback_weight_factor" mapstructure:"fallback_weight_factor"`
	ConfidenceFloor         float64 `yaml:"confidence_floor" mapstructure:"confidence_floor"`
	ConfidenceCeiling       float64 `yaml:"confidence_ceiling" mapstructure:"confidence_ceiling"`
	Epsilon                 float64 `yaml:"epsilon" mapstructure:"epsilon"`
}

// RiskConfig holds risk scorer weights and the trend extrapolation window.
// The component weights are a fixed downstream contract; changing them breaks
// category threshold compatibility.
type RiskConfig struct {
	CovenantWeight  float64 `yaml:"covenant_weight" mapstructure:"covenant_weight"`
	ESGWeight       float64 `yaml:"esg_weight" mapstructure:"esg_weight"`
	FinancialWeight float64 `yaml:"financial_weight" mapstructure:"financial_weight"`
	TrendPoints     int     `yaml:"trend_points" mapstructure:"trend_points"`
	HorizonMonths   int     `yaml:"horizon_months" mapstructure:"horizon_months"`
}

// TierConfig is one row of the pricing tier table.
type TierConfig struct {
	Name          string  `yaml:"name" mapstructure:"name"`
	MinScore      float64 `yaml:"min_score" mapstructure:"min_score"`
	AdjustmentBps int     `yaml:"adjustment_bps" mapstructure:"adjustment_bps"`
}

// PricingConfig holds the ordered pricing tier table, best tier first.
type PricingConfig struct {
	Tiers []TierConfig `yaml:"tiers" mapstructure:"tiers"`
}

// Validate checks that the tier table is ordered by descending score band and
// that adjustments are monotonic: a lower score never yields a more favorable
// adjustment.
func (p PricingConfig) Validate() error {
	if len(p.Tiers) == 0 {
		return eris.New("config: pricing tier table is empty")
	}
	for i := 1; i < len(p.Tiers); i++ {
		prev, cur := p.Tiers[i-1], p.Tiers[i]
		if cur.MinScore >= prev.MinScore {
			return eris.Errorf("config: pricing tiers out of order: %s (min %.1f) after %s (min %.1f)",
				cur.Name, cur.MinScore, prev.Name, prev.MinScore)
		}
		if cur.AdjustmentBps < prev.AdjustmentBps {
			return eris.Errorf("config: pricing tier %s adjustment %+dbps more favorable than higher tier %s (%+dbps)",
				cur.Name, cur.AdjustmentBps, prev.Name, prev.AdjustmentBps)
		}
	}
	if p.Tiers[len(p.Tiers)-1].MinScore != 0 {
		return eris.New("config: lowest pricing tier must start at score 0")
	}
	return nil
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultTiers is the shipped pricing tier table.
func DefaultTiers() []TierConfig {
	return []TierConfig{
		{Name: "excellent", MinScore: 90, AdjustmentBps: -25},
		{Name: "good", MinScore: 75, AdjustmentBps: -10},
		{Name: "fair", MinScore: 60, AdjustmentBps: 0},
		{Name: "poor", MinScore: 40, AdjustmentBps: 15},
		{Name: "critical", MinScore: 0, AdjustmentBps: 40},
	}
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ESGLEND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "esglend.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)

	v.SetDefault("gateway.cache_ttl_hours", 24)
	v.SetDefault("gateway.call_timeout_secs", 5)
	v.SetDefault("gateway.run_budget_secs", 30)
	v.SetDefault("gateway.max_concurrent_calls", 8)
	v.SetDefault("gateway.weather_base_url", "https://api.openweathermap.org/data/2.5")
	v.SetDefault("gateway.satellite_base_url", "https://firms.modaps.eosdis.nasa.gov/api")
	v.SetDefault("gateway.carbon_base_url", "https://api.carbonintensity.org.uk")
	v.SetDefault("gateway.esg_rating_base_url", "https://www.alphavantage.co")
	v.SetDefault("gateway.fire_radius_km", 50.0)
	v.SetDefault("gateway.fire_window_days", 30)

	v.SetDefault("verification.materiality_threshold_pct", 10.0)
	v.SetDefault("verification.reliability_weight", 0.7)
	v.SetDefault("verification.fallback_weight_factor", 0.5)
	v.SetDefault("verification.confidence_floor", 60.0)
	v.SetDefault("verification.confidence_ceiling", 98.0)
	v.SetDefault("verification.epsilon", 1e-4)

	v.SetDefault("risk.covenant_weight", 0.40)
	v.SetDefault("risk.esg_weight", 0.30)
	v.SetDefault("risk.financial_weight", 0.30)
	v.SetDefault("risk.trend_points", 6)
	v.SetDefault("risk.horizon_months", 12)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if len(cfg.Pricing.Tiers) == 0 {
		cfg.Pricing.Tiers = DefaultTiers()
	}
	if err := cfg.Pricing.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
