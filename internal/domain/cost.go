package domain

import "time"

// Cost estimate source codes.
const (
	CostSourceLive      = "live"      // fresh quote from the external source
	CostSourceCache     = "cache"     // unexpired cached quote
	CostSourceStale     = "stale"     // expired cache reused after source failure
	CostSourceHeuristic = "heuristic" // static fallback table
)

// CostComponent is one estimated cost element (gas, slippage or fee).
type CostComponent struct {
	ValueUSD   float64
	Confidence int    // 0-100
	Source     string // one of the CostSource* codes
}

// CostEstimate aggregates all execution costs for selling one position.
// Lifetime is bounded by the estimator cache TTLs; expired entries are
// refreshed or, on external failure, reused with Source marked stale.
type CostEstimate struct {
	GasCostUSD      float64
	SlippageCostUSD float64
	TradingFeeUSD   float64
	Confidence      int    // min over components, 0-100
	Source          string // worst component source
	ComputedAt      time.Time
}

// TotalUSD returns the sum of all cost components.
func (c *CostEstimate) TotalUSD() float64 {
	return c.GasCostUSD + c.SlippageCostUSD + c.TradingFeeUSD
}

// Combine merges component estimates into one CostEstimate, taking the
// lowest confidence and the least trustworthy source.
func Combine(gas, slippage, fee CostComponent, at time.Time) CostEstimate {
	est := CostEstimate{
		GasCostUSD:      gas.ValueUSD,
		SlippageCostUSD: slippage.ValueUSD,
		TradingFeeUSD:   fee.ValueUSD,
		Confidence:      gas.Confidence,
		Source:          gas.Source,
		ComputedAt:      at,
	}
	for _, c := range []CostComponent{slippage, fee} {
		if c.Confidence < est.Confidence {
			est.Confidence = c.Confidence
		}
		if sourceRank(c.Source) > sourceRank(est.Source) {
			est.Source = c.Source
		}
	}
	return est
}

// sourceRank orders sources from most to least trustworthy.
func sourceRank(s string) int {
	switch s {
	case CostSourceLive:
		return 0
	case CostSourceCache:
		return 1
	case CostSourceStale:
		return 2
	case CostSourceHeuristic:
		return 3
	default:
		return 4
	}
}
