package domain

import "time"

// Lot is a discrete acquisition batch with its own cost basis.
// Created when a buy/transfer_in is processed; depleted oldest-first by
// later sells. Invariant: 0 <= RemainingQuantity <= AcquiredQuantity.
// A lot with RemainingQuantity == 0 is closed and never resurrected.
type Lot struct {
	Token                Token
	AcquiredAt           time.Time
	AcquiredQuantity     float64
	AcquiredUnitPriceUSD float64
	RemainingQuantity    float64
}

// Open reports whether the lot still holds quantity.
func (l *Lot) Open() bool {
	return l.RemainingQuantity > 0
}

// CostBasisUSD returns the cost basis of the remaining quantity.
func (l *Lot) CostBasisUSD() float64 {
	return l.RemainingQuantity * l.AcquiredUnitPriceUSD
}
