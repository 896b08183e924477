package domain

import (
	"fmt"
	"time"
)

// Default harvest parameter values.
const (
	DefaultTaxRate           = 0.24
	DefaultMinLossUSD        = 20.0
	DefaultMinLiquidityScore = 50.0
	DefaultMinRiskScore      = 3.0
	DefaultMaxGasRatio       = 1.0
	DefaultWashSaleWindow    = 30 * 24 * time.Hour
)

// HarvestConfig carries the per-request parameters of one computation run.
type HarvestConfig struct {
	TaxRate           float64
	MinLossUSD        float64
	MinLiquidityScore float64
	MinRiskScore      float64
	MaxGasRatio       float64
	MaxRiskLevel      RiskLevel
	ExcludeWashSale   bool
	WashSaleWindow    time.Duration
	ForceRefresh      bool

	// ReportAllChecks disables eligibility short-circuiting so every
	// failed check is reported (diagnostics mode).
	ReportAllChecks bool

	// DisabledChecks lists eligibility check names to skip.
	DisabledChecks []string
}

// DefaultHarvestConfig returns the standard parameter set.
func DefaultHarvestConfig() HarvestConfig {
	return HarvestConfig{
		TaxRate:           DefaultTaxRate,
		MinLossUSD:        DefaultMinLossUSD,
		MinLiquidityScore: DefaultMinLiquidityScore,
		MinRiskScore:      DefaultMinRiskScore,
		MaxGasRatio:       DefaultMaxGasRatio,
		MaxRiskLevel:      RiskHigh,
		WashSaleWindow:    DefaultWashSaleWindow,
	}
}

// Validate rejects parameter sets the engine cannot run with.
// Errors wrap ErrInvalidConfig so callers can map them to the
// configuration branch of the error taxonomy.
func (c *HarvestConfig) Validate() error {
	if c.TaxRate <= 0 || c.TaxRate > 1 {
		return fmt.Errorf("%w: tax rate %v outside (0, 1]", ErrInvalidConfig, c.TaxRate)
	}
	if c.MinLossUSD < 0 {
		return fmt.Errorf("%w: negative min loss %v", ErrInvalidConfig, c.MinLossUSD)
	}
	if c.MinLiquidityScore < 0 || c.MinLiquidityScore > 100 {
		return fmt.Errorf("%w: min liquidity score %v outside [0, 100]", ErrInvalidConfig, c.MinLiquidityScore)
	}
	if c.MinRiskScore < 0 || c.MinRiskScore > 10 {
		return fmt.Errorf("%w: min risk score %v outside [0, 10]", ErrInvalidConfig, c.MinRiskScore)
	}
	if c.MaxGasRatio <= 0 {
		return fmt.Errorf("%w: max gas ratio %v must be positive", ErrInvalidConfig, c.MaxGasRatio)
	}
	switch c.MaxRiskLevel {
	case RiskLow, RiskMedium, RiskHigh:
	case "":
		c.MaxRiskLevel = RiskHigh
	default:
		return fmt.Errorf("%w: unknown risk level %q", ErrInvalidConfig, c.MaxRiskLevel)
	}
	if c.ExcludeWashSale && c.WashSaleWindow <= 0 {
		c.WashSaleWindow = DefaultWashSaleWindow
	}
	return nil
}
