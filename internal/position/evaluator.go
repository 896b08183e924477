// Package position derives valuation snapshots from lots and current
// prices. Pure computation, no I/O.
package position

import (
	"time"

	"tax-harvest-lab/internal/domain"
)

// Evaluate computes the unrealized PnL and holding period for one lot at
// the given price and evaluation time. A negative holding period (clock
// skew) clamps to 0 and marks the snapshot low-confidence.
func Evaluate(lot domain.Lot, currentPriceUSD float64, asOf time.Time) domain.PositionSnapshot {
	snap := domain.PositionSnapshot{
		Lot:                 lot,
		CurrentUnitPriceUSD: currentPriceUSD,
		UnrealizedPnLUSD:    (currentPriceUSD - lot.AcquiredUnitPriceUSD) * lot.RemainingQuantity,
		AsOf:                asOf,
	}

	days := int(asOf.Sub(lot.AcquiredAt).Hours() / 24)
	if days < 0 {
		days = 0
		snap.LowConfidence = true
	}
	snap.HoldingPeriodDays = days
	snap.IsLongTerm = days > domain.LongTermDays
	return snap
}

// EvaluateAll maps Evaluate over a set of lots with a shared price,
// preserving input order.
func EvaluateAll(lots []domain.Lot, currentPriceUSD float64, asOf time.Time) []domain.PositionSnapshot {
	snaps := make([]domain.PositionSnapshot, 0, len(lots))
	for _, lot := range lots {
		snaps = append(snaps, Evaluate(lot, currentPriceUSD, asOf))
	}
	return snaps
}
