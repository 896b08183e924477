// Package config loads service configuration from a YAML file with
// optional .env and environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tax-harvest-lab/internal/domain"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Engine    EngineConfig    `yaml:"engine"`
	Harvest   HarvestConfig   `yaml:"harvest"`
	Storage   StorageConfig   `yaml:"storage"`
	Providers ProvidersConfig `yaml:"providers"`
	WarmRuns  WarmRunsConfig  `yaml:"warm_runs"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// EngineConfig controls run timing and fan-out.
type EngineConfig struct {
	Workers              int `yaml:"workers"`
	LookupTimeoutSeconds int `yaml:"lookup_timeout_seconds"`
	RunDeadlineSeconds   int `yaml:"run_deadline_seconds"`
	ResultTTLSeconds     int `yaml:"result_ttl_seconds"`
}

// HarvestConfig holds the default computation parameters. Per-request
// parameters override these.
type HarvestConfig struct {
	TaxRate           float64 `yaml:"tax_rate"`
	MinLossUSD        float64 `yaml:"min_loss_usd"`
	MinLiquidityScore float64 `yaml:"min_liquidity_score"`
	MinRiskScore      float64 `yaml:"min_risk_score"`
	MaxGasRatio       float64 `yaml:"max_gas_ratio"`
	MaxRiskLevel      string  `yaml:"max_risk_level"`
	ExcludeWashSale   bool    `yaml:"exclude_wash_sale"`
	WashSaleDays      int     `yaml:"wash_sale_days"`
}

// StorageConfig selects the persistence backends. Empty DSNs select
// in-memory stores.
type StorageConfig struct {
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"`
}

// ProvidersConfig holds external service endpoints.
type ProvidersConfig struct {
	PriceOracleURL string  `yaml:"price_oracle_url"`
	PriceFeedWSURL string  `yaml:"price_feed_ws_url"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
}

// WarmRunsConfig schedules background computations so interactive
// requests hit a warm result cache.
type WarmRunsConfig struct {
	Cron  string   `yaml:"cron"`
	Users []string `yaml:"users"`
}

// LogConfig controls log level and format.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // console | json
}

// Load reads the YAML file at path, then applies .env and environment
// overrides. A missing .env file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied, used when
// no config file is given.
func Default() *Config {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	setDefaults(cfg)
	return cfg
}

// HarvestDefaults converts the configured defaults into the engine's
// parameter type.
func (c *Config) HarvestDefaults() domain.HarvestConfig {
	h := domain.DefaultHarvestConfig()
	if c.Harvest.TaxRate > 0 {
		h.TaxRate = c.Harvest.TaxRate
	}
	if c.Harvest.MinLossUSD > 0 {
		h.MinLossUSD = c.Harvest.MinLossUSD
	}
	if c.Harvest.MinLiquidityScore > 0 {
		h.MinLiquidityScore = c.Harvest.MinLiquidityScore
	}
	if c.Harvest.MinRiskScore > 0 {
		h.MinRiskScore = c.Harvest.MinRiskScore
	}
	if c.Harvest.MaxGasRatio > 0 {
		h.MaxGasRatio = c.Harvest.MaxGasRatio
	}
	if c.Harvest.MaxRiskLevel != "" {
		h.MaxRiskLevel = domain.RiskLevel(strings.ToUpper(c.Harvest.MaxRiskLevel))
	}
	h.ExcludeWashSale = c.Harvest.ExcludeWashSale
	if c.Harvest.WashSaleDays > 0 {
		h.WashSaleWindow = time.Duration(c.Harvest.WashSaleDays) * 24 * time.Hour
	}
	return h
}

// LookupTimeout returns the per-lookup timeout as a duration.
func (c *Config) LookupTimeout() time.Duration {
	return time.Duration(c.Engine.LookupTimeoutSeconds) * time.Second
}

// RunDeadline returns the overall run deadline as a duration.
func (c *Config) RunDeadline() time.Duration {
	return time.Duration(c.Engine.RunDeadlineSeconds) * time.Second
}

// ResultTTL returns the result cache TTL as a duration.
func (c *Config) ResultTTL() time.Duration {
	return time.Duration(c.Engine.ResultTTLSeconds) * time.Second
}

// Validate rejects configurations the service cannot start with.
// Errors wrap domain.ErrInvalidConfig.
func (c *Config) Validate() error {
	h := c.HarvestDefaults()
	if err := h.Validate(); err != nil {
		return err
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", domain.ErrInvalidConfig, c.Log.Level)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", domain.ErrInvalidConfig, c.Log.Format)
	}
	if len(c.WarmRuns.Users) > 0 && c.WarmRuns.Cron == "" {
		return fmt.Errorf("%w: warm run users configured without a cron expression", domain.ErrInvalidConfig)
	}
	return nil
}

// applyEnvOverrides overrides values present in the environment.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HARVEST_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("HARVEST_POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("HARVEST_CLICKHOUSE_DSN"); v != "" {
		cfg.Storage.ClickhouseDSN = v
	}
	if v := os.Getenv("HARVEST_PRICE_ORACLE_URL"); v != "" {
		cfg.Providers.PriceOracleURL = v
	}
	if v := os.Getenv("HARVEST_PRICE_FEED_WS_URL"); v != "" {
		cfg.Providers.PriceFeedWSURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// setDefaults fills required values with sensible defaults.
func setDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Engine.Workers <= 0 {
		cfg.Engine.Workers = 8
	}
	if cfg.Engine.LookupTimeoutSeconds <= 0 {
		cfg.Engine.LookupTimeoutSeconds = 5
	}
	if cfg.Engine.RunDeadlineSeconds <= 0 {
		cfg.Engine.RunDeadlineSeconds = 10
	}
	if cfg.Engine.ResultTTLSeconds <= 0 {
		cfg.Engine.ResultTTLSeconds = 300
	}
	if cfg.Providers.RateLimitRPS <= 0 {
		cfg.Providers.RateLimitRPS = 10
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}
