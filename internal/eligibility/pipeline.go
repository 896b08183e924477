// Package eligibility decides whether a loss candidate qualifies for
// action. Checks run in a fixed order, cheapest first, and short-circuit
// on the first failure unless diagnostics mode asks for every reason.
package eligibility

import "tax-harvest-lab/internal/domain"

// Check names, reported in EligibilityResult.FailedChecks and usable in
// HarvestConfig.DisabledChecks.
const (
	CheckMinLoss     = "min_loss"
	CheckLiquidity   = "liquidity"
	CheckRiskScore   = "risk_score"
	CheckGasRatio    = "gas_ratio"
	CheckTradability = "tradability"
	CheckWashSale    = "wash_sale"
)

// Input bundles a candidate with the externally-derived signals the
// checks consume. Tradable comes from the tradability service;
// RecentRepurchase from the wash-sale window scan over the same history.
type Input struct {
	Candidate        domain.OpportunityCandidate
	Cost             domain.CostEstimate
	Tradable         bool
	RecentRepurchase bool
}

// check is one named predicate. Predicates are pure over Input + config.
type check struct {
	name string
	pass func(in Input, cfg *domain.HarvestConfig) bool
}

// Ordered check chain. Gas ratio and tradability sit last: they depend
// on the cost estimate and the external venue signal.
var checks = []check{
	{CheckMinLoss, func(in Input, cfg *domain.HarvestConfig) bool {
		return in.Candidate.Snapshot.LossUSD() >= cfg.MinLossUSD
	}},
	{CheckLiquidity, func(in Input, cfg *domain.HarvestConfig) bool {
		return in.Candidate.Risk.LiquidityScore >= cfg.MinLiquidityScore
	}},
	{CheckRiskScore, func(in Input, cfg *domain.HarvestConfig) bool {
		return in.Candidate.Risk.RiskScore >= cfg.MinRiskScore
	}},
	{CheckGasRatio, func(in Input, cfg *domain.HarvestConfig) bool {
		return in.Cost.GasCostUSD < in.Candidate.Snapshot.LossUSD()*cfg.MaxGasRatio
	}},
	{CheckTradability, func(in Input, cfg *domain.HarvestConfig) bool {
		return in.Tradable
	}},
	{CheckWashSale, func(in Input, cfg *domain.HarvestConfig) bool {
		return !in.RecentRepurchase
	}},
}

// CheckEligibility runs the chain. Composition is AND across enabled
// checks; an empty candidate trivially fails nothing that is disabled.
func CheckEligibility(in Input, cfg domain.HarvestConfig) domain.EligibilityResult {
	disabled := make(map[string]bool, len(cfg.DisabledChecks))
	for _, name := range cfg.DisabledChecks {
		disabled[name] = true
	}
	// Wash-sale participates only when explicitly requested.
	if !cfg.ExcludeWashSale {
		disabled[CheckWashSale] = true
	}

	result := domain.EligibilityResult{Passed: true}
	for _, c := range checks {
		if disabled[c.name] {
			continue
		}
		if c.pass(in, &cfg) {
			continue
		}
		result.Passed = false
		result.FailedChecks = append(result.FailedChecks, c.name)
		if !cfg.ReportAllChecks {
			break
		}
	}
	return result
}

// CheckNames returns the chain's check names in evaluation order.
func CheckNames() []string {
	names := make([]string, len(checks))
	for i, c := range checks {
		names[i] = c.name
	}
	return names
}
