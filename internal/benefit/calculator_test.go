package benefit

import (
	"math"
	"testing"
)

const tolerance = 1e-6

func TestCalculate_SimpleLossScenario(t *testing.T) {
	// Loss -200, tax 24%, costs 5+3+1 → savings 48, cost 9, net 39.
	got := Calculate(-200, 0.24, 5, 3, 1)

	if math.Abs(got.TaxSavingsUSD-48) > tolerance {
		t.Errorf("TaxSavingsUSD = %v, want 48", got.TaxSavingsUSD)
	}
	if math.Abs(got.TotalCostUSD-9) > tolerance {
		t.Errorf("TotalCostUSD = %v, want 9", got.TotalCostUSD)
	}
	if math.Abs(got.NetBenefitUSD-39) > tolerance {
		t.Errorf("NetBenefitUSD = %v, want 39", got.NetBenefitUSD)
	}
	if !got.Recommended {
		t.Error("positive net benefit must be recommended")
	}
	if math.Abs(got.EfficiencyPct-39.0/48*100) > tolerance {
		t.Errorf("EfficiencyPct = %v, want %v", got.EfficiencyPct, 39.0/48*100)
	}
}

func TestCalculate_SignedAndAbsoluteLossAgree(t *testing.T) {
	signed := Calculate(-150, 0.3, 2, 2, 1)
	absolute := Calculate(150, 0.3, 2, 2, 1)
	if signed != absolute {
		t.Errorf("signed and absolute loss diverge: %+v vs %+v", signed, absolute)
	}
}

func TestCalculate_NotRecommendedWhenCostsExceedSavings(t *testing.T) {
	got := Calculate(-10, 0.24, 15, 0, 0)
	if got.Recommended {
		t.Error("net-negative opportunity must not be recommended")
	}
	if got.NetBenefitUSD >= 0 {
		t.Errorf("NetBenefitUSD = %v, want negative", got.NetBenefitUSD)
	}
}

func TestCalculate_ZeroSavingsZeroEfficiency(t *testing.T) {
	got := Calculate(0, 0.24, 1, 1, 1)
	if got.EfficiencyPct != 0 {
		t.Errorf("EfficiencyPct = %v, want 0 when there are no savings", got.EfficiencyPct)
	}
	if got.Recommended {
		t.Error("pure-cost result must not be recommended")
	}
}

func TestCalculate_MonotonicInTaxRate(t *testing.T) {
	prev := Calculate(-100, 0.10, 3, 2, 1).NetBenefitUSD
	for rate := 0.15; rate <= 0.50; rate += 0.05 {
		cur := Calculate(-100, rate, 3, 2, 1).NetBenefitUSD
		if cur <= prev {
			t.Fatalf("net benefit not strictly increasing in tax rate at %v: %v <= %v", rate, cur, prev)
		}
		prev = cur
	}
}

func TestCalculate_MonotonicDecreasingInCosts(t *testing.T) {
	base := Calculate(-100, 0.24, 3, 2, 1).NetBenefitUSD
	for _, bumped := range []float64{
		Calculate(-100, 0.24, 4, 2, 1).NetBenefitUSD,
		Calculate(-100, 0.24, 3, 3, 1).NetBenefitUSD,
		Calculate(-100, 0.24, 3, 2, 2).NetBenefitUSD,
	} {
		if bumped >= base {
			t.Errorf("increasing a cost component did not decrease net benefit: %v >= %v", bumped, base)
		}
	}
}

func TestCalculate_CostOrderIndependent(t *testing.T) {
	a := Calculate(-100, 0.24, 5, 3, 1)
	b := Calculate(-100, 0.24, 1, 5, 3)
	if math.Abs(a.TotalCostUSD-b.TotalCostUSD) > tolerance ||
		math.Abs(a.NetBenefitUSD-b.NetBenefitUSD) > tolerance {
		t.Errorf("cost sum is order dependent: %+v vs %+v", a, b)
	}
}
