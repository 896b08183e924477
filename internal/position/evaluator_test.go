package position

import (
	"math"
	"testing"
	"time"

	"tax-harvest-lab/internal/domain"
)

func lot(qty, price float64, acquired time.Time) domain.Lot {
	return domain.Lot{
		Token:                domain.Token{Chain: domain.ChainEthereum, Symbol: "UNI", Address: "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984"},
		AcquiredAt:           acquired,
		AcquiredQuantity:     qty,
		AcquiredUnitPriceUSD: price,
		RemainingQuantity:    qty,
	}
}

func TestEvaluate_UnrealizedLoss(t *testing.T) {
	// 10 units at $100 cost basis, current price $80 → PnL -200.
	acquired := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	asOf := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	snap := Evaluate(lot(10, 100, acquired), 80, asOf)

	if math.Abs(snap.UnrealizedPnLUSD-(-200)) > 1e-6 {
		t.Errorf("UnrealizedPnLUSD = %v, want -200", snap.UnrealizedPnLUSD)
	}
	if !snap.IsLoss() {
		t.Error("expected IsLoss")
	}
	if snap.LossUSD() != 200 {
		t.Errorf("LossUSD = %v, want 200", snap.LossUSD())
	}
	if snap.IsLongTerm {
		t.Error("151 days should not be long term")
	}
}

func TestEvaluate_UnrealizedGain(t *testing.T) {
	acquired := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Evaluate(lot(4, 50, acquired), 60, acquired.AddDate(0, 1, 0))

	if math.Abs(snap.UnrealizedPnLUSD-40) > 1e-6 {
		t.Errorf("UnrealizedPnLUSD = %v, want 40", snap.UnrealizedPnLUSD)
	}
	if snap.IsLoss() {
		t.Error("gain must not report as loss")
	}
	if snap.LossUSD() != 0 {
		t.Errorf("LossUSD = %v, want 0 for a gain", snap.LossUSD())
	}
}

func TestEvaluate_LongTermBoundary(t *testing.T) {
	acquired := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	exactly365 := Evaluate(lot(1, 10, acquired), 9, acquired.Add(365*24*time.Hour))
	if exactly365.IsLongTerm {
		t.Error("exactly 365 days must not be long term (strict >)")
	}

	over := Evaluate(lot(1, 10, acquired), 9, acquired.Add(366*24*time.Hour))
	if !over.IsLongTerm {
		t.Error("366 days should be long term")
	}
}

func TestEvaluate_ClockSkewClampsToZero(t *testing.T) {
	acquired := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	asOf := acquired.Add(-48 * time.Hour)

	snap := Evaluate(lot(1, 10, acquired), 10, asOf)
	if snap.HoldingPeriodDays != 0 {
		t.Errorf("HoldingPeriodDays = %d, want 0 (clamped)", snap.HoldingPeriodDays)
	}
	if !snap.LowConfidence {
		t.Error("clamped holding period must flag low confidence")
	}
}

func TestEvaluateAll_PreservesOrder(t *testing.T) {
	acquired := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	lots := []domain.Lot{
		lot(1, 100, acquired),
		lot(2, 50, acquired.AddDate(0, 0, 1)),
	}
	snaps := EvaluateAll(lots, 75, acquired.AddDate(0, 2, 0))
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
	if snaps[0].Lot.AcquiredUnitPriceUSD != 100 || snaps[1].Lot.AcquiredUnitPriceUSD != 50 {
		t.Error("snapshot order does not match input lot order")
	}
}
