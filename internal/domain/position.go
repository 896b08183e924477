package domain

import "time"

// Long-term threshold in days for holding-period classification.
const LongTermDays = 365

// PositionSnapshot is the derived valuation of a lot at a point in time.
// Recomputed every evaluation cycle, never persisted as authoritative:
// it is a pure function of (lot, current price, evaluation time).
type PositionSnapshot struct {
	Lot                Lot
	CurrentUnitPriceUSD float64
	UnrealizedPnLUSD   float64
	HoldingPeriodDays  int
	IsLongTerm         bool
	AsOf               time.Time

	// LowConfidence is set when the snapshot was derived from suspect
	// inputs (e.g. clock skew forced the holding period to clamp at 0).
	LowConfidence bool
}

// IsLoss reports whether the snapshot carries an unrealized loss.
func (p *PositionSnapshot) IsLoss() bool {
	return p.UnrealizedPnLUSD < 0
}

// LossUSD returns the absolute loss value, 0 for non-loss positions.
func (p *PositionSnapshot) LossUSD() float64 {
	if p.UnrealizedPnLUSD >= 0 {
		return 0
	}
	return -p.UnrealizedPnLUSD
}
