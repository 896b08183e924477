package costs

import "tax-harvest-lab/internal/domain"

// FeeSchedule prices venue trading fees in basis points per chain.
// Fees are deterministic (published venue schedules), so no external
// lookup or fallback is involved.
type FeeSchedule struct {
	bpsByChain map[domain.Chain]float64
	defaultBps float64
}

// DefaultFeeSchedule returns the standard DEX fee tiers.
func DefaultFeeSchedule() *FeeSchedule {
	return &FeeSchedule{
		bpsByChain: map[domain.Chain]float64{
			domain.ChainEthereum: 30, // 0.30%
			domain.ChainPolygon:  30,
			domain.ChainArbitrum: 30,
			domain.ChainBase:     30,
			domain.ChainSolana:   25, // 0.25%
		},
		defaultBps: 30,
	}
}

// FeeUSD returns the trading fee component for selling notionalUSD on
// the token's chain.
func (f *FeeSchedule) FeeUSD(token domain.Token, notionalUSD float64) domain.CostComponent {
	bps, ok := f.bpsByChain[token.Chain]
	if !ok {
		bps = f.defaultBps
	}
	return domain.CostComponent{
		ValueUSD:   notionalUSD * bps / 10_000,
		Confidence: confidenceLive,
		Source:     domain.CostSourceLive,
	}
}
