// Package ledger reconstructs cost-basis lots from a transaction history
// using first-in-first-out depletion.
package ledger

import (
	"fmt"
	"sort"

	"tax-harvest-lab/internal/domain"
)

// BuildLots replays transactions in chronological order and returns the
// resulting lots, including closed ones. Buys and transfers-in open a new
// lot; sells and transfers-out deplete lots of the same token
// oldest-first, so mixed-token histories replay correctly. The input
// slice is not mutated. Identical inputs always produce identical lots.
//
// An oversell returns *domain.InsufficientQuantityError; the caller
// decides whether the token is excluded or the run aborted.
func BuildLots(txs []domain.Transaction) ([]domain.Lot, error) {
	ordered := make([]domain.Transaction, len(txs))
	copy(ordered, txs)

	// Stable sort by timestamp; equal timestamps keep ingestion order.
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Timestamp.Equal(ordered[j].Timestamp) {
			return ordered[i].Timestamp.Before(ordered[j].Timestamp)
		}
		return ordered[i].Index < ordered[j].Index
	})

	var lots []domain.Lot
	for _, tx := range ordered {
		if err := tx.Validate(); err != nil {
			return nil, fmt.Errorf("transaction %s: %w", tx.TxID, err)
		}
		switch {
		case tx.Type.Acquires():
			lots = append(lots, domain.Lot{
				Token:                tx.Token,
				AcquiredAt:           tx.Timestamp,
				AcquiredQuantity:     tx.Quantity,
				AcquiredUnitPriceUSD: tx.UnitPriceUSD,
				RemainingQuantity:    tx.Quantity,
			})
		case tx.Type.Disposes():
			if err := deplete(lots, tx); err != nil {
				return nil, err
			}
		}
	}
	return lots, nil
}

// deplete consumes tx.Quantity from the open lots of tx.Token in
// acquisition order. Lots were appended in chronological order, so a
// forward scan is FIFO. Lots of other tokens are never touched.
func deplete(lots []domain.Lot, tx domain.Transaction) error {
	tokenKey := tx.Token.Key()
	remaining := tx.Quantity
	held := 0.0
	for i := range lots {
		if lots[i].Token.Key() == tokenKey {
			held += lots[i].RemainingQuantity
		}
	}
	if remaining > held+quantityEpsilon {
		return &domain.InsufficientQuantityError{
			Token:  tx.Token,
			Needed: tx.Quantity,
			Held:   held,
		}
	}
	for i := range lots {
		if remaining <= quantityEpsilon {
			break
		}
		lot := &lots[i]
		if lot.Token.Key() != tokenKey || lot.RemainingQuantity <= 0 {
			continue
		}
		take := lot.RemainingQuantity
		if take > remaining {
			take = remaining
		}
		lot.RemainingQuantity -= take
		remaining -= take
		if lot.RemainingQuantity < quantityEpsilon {
			lot.RemainingQuantity = 0
		}
	}
	return nil
}

// quantityEpsilon absorbs float64 accumulation noise when comparing
// quantities that should be exactly equal.
const quantityEpsilon = 1e-9

// OpenLots filters lots down to those with quantity remaining.
func OpenLots(lots []domain.Lot) []domain.Lot {
	var open []domain.Lot
	for _, l := range lots {
		if l.Open() {
			open = append(open, l)
		}
	}
	return open
}

// NetPosition sums the remaining quantity across lots.
func NetPosition(lots []domain.Lot) float64 {
	total := 0.0
	for _, l := range lots {
		total += l.RemainingQuantity
	}
	return total
}
