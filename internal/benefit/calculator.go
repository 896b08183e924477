// Package benefit computes the net financial benefit of realizing a loss.
// Pure computation, no I/O.
package benefit

import "tax-harvest-lab/internal/domain"

// Calculate combines the tax-rate-adjusted loss value with execution
// costs. lossUSD may be passed signed or absolute; the magnitude is used.
//
//	tax_savings = |loss| * tax_rate
//	net_benefit = tax_savings - (gas + slippage + fee)
//	efficiency  = net_benefit / tax_savings * 100 (0 when no savings)
func Calculate(lossUSD, taxRate, gasUSD, slippageUSD, feeUSD float64) domain.NetBenefitResult {
	loss := lossUSD
	if loss < 0 {
		loss = -loss
	}

	taxSavings := loss * taxRate
	totalCost := gasUSD + slippageUSD + feeUSD
	net := taxSavings - totalCost

	efficiency := 0.0
	if taxSavings > 0 {
		efficiency = net / taxSavings * 100
	}

	return domain.NetBenefitResult{
		TaxSavingsUSD: taxSavings,
		TotalCostUSD:  totalCost,
		NetBenefitUSD: net,
		Recommended:   net > 0,
		EfficiencyPct: efficiency,
	}
}

// FromEstimate is Calculate with the costs taken from a CostEstimate.
func FromEstimate(lossUSD, taxRate float64, est domain.CostEstimate) domain.NetBenefitResult {
	return Calculate(lossUSD, taxRate, est.GasCostUSD, est.SlippageCostUSD, est.TradingFeeUSD)
}
