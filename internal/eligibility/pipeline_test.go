package eligibility

import (
	"testing"
	"time"

	"tax-harvest-lab/internal/domain"
)

// candidate builds an Input that passes every check under the default
// config: $200 loss, liquid, safe, cheap to exit, tradable.
func passingInput() Input {
	return Input{
		Candidate: domain.OpportunityCandidate{
			Snapshot: domain.PositionSnapshot{
				Lot: domain.Lot{
					Token:                domain.Token{Chain: domain.ChainEthereum, Symbol: "UNI", Address: "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984"},
					AcquiredAt:           time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
					AcquiredQuantity:     10,
					AcquiredUnitPriceUSD: 100,
					RemainingQuantity:    10,
				},
				CurrentUnitPriceUSD: 80,
				UnrealizedPnLUSD:    -200,
			},
			Risk: domain.RiskAssessment{RiskScore: 8, LiquidityScore: 90, Level: domain.RiskLow},
		},
		Cost:     domain.CostEstimate{GasCostUSD: 5, SlippageCostUSD: 3, TradingFeeUSD: 1},
		Tradable: true,
	}
}

func TestCheckEligibility_AllPass(t *testing.T) {
	got := CheckEligibility(passingInput(), domain.DefaultHarvestConfig())
	if !got.Passed {
		t.Fatalf("expected pass, failed checks: %v", got.FailedChecks)
	}
	if len(got.FailedChecks) != 0 {
		t.Errorf("FailedChecks = %v, want empty", got.FailedChecks)
	}
}

func TestCheckEligibility_MinLossShortCircuits(t *testing.T) {
	in := passingInput()
	in.Candidate.Snapshot.UnrealizedPnLUSD = -10 // below $20 default
	in.Tradable = false                          // would also fail, must not be reported

	got := CheckEligibility(in, domain.DefaultHarvestConfig())
	if got.Passed {
		t.Fatal("expected failure")
	}
	if len(got.FailedChecks) != 1 || got.FailedChecks[0] != CheckMinLoss {
		t.Errorf("FailedChecks = %v, want [%s] only (short-circuit)", got.FailedChecks, CheckMinLoss)
	}
}

func TestCheckEligibility_ReportAllChecks(t *testing.T) {
	in := passingInput()
	in.Candidate.Snapshot.UnrealizedPnLUSD = -10
	in.Tradable = false

	cfg := domain.DefaultHarvestConfig()
	cfg.ReportAllChecks = true

	got := CheckEligibility(in, cfg)
	if got.Passed {
		t.Fatal("expected failure")
	}
	// min_loss fails, gas_ratio fails (gas 5 >= 10*... wait loss 10, 5 < 10) —
	// only min_loss and tradability fail for this input.
	want := map[string]bool{CheckMinLoss: true, CheckTradability: true}
	if len(got.FailedChecks) != len(want) {
		t.Fatalf("FailedChecks = %v, want exactly %v", got.FailedChecks, want)
	}
	for _, name := range got.FailedChecks {
		if !want[name] {
			t.Errorf("unexpected failed check %q", name)
		}
	}
}

func TestCheckEligibility_GasRatio(t *testing.T) {
	// Loss of $10 with $15 gas: fails min_loss and the gas ratio check.
	in := passingInput()
	in.Candidate.Snapshot.UnrealizedPnLUSD = -10
	in.Cost.GasCostUSD = 15

	cfg := domain.DefaultHarvestConfig()
	cfg.ReportAllChecks = true

	got := CheckEligibility(in, cfg)
	if got.Passed {
		t.Fatal("expected failure")
	}
	failed := map[string]bool{}
	for _, name := range got.FailedChecks {
		failed[name] = true
	}
	if !failed[CheckMinLoss] || !failed[CheckGasRatio] {
		t.Errorf("FailedChecks = %v, want min_loss and gas_ratio", got.FailedChecks)
	}
}

func TestCheckEligibility_DisabledCheckSkipped(t *testing.T) {
	in := passingInput()
	in.Tradable = false

	cfg := domain.DefaultHarvestConfig()
	cfg.DisabledChecks = []string{CheckTradability}

	if got := CheckEligibility(in, cfg); !got.Passed {
		t.Errorf("disabled check still failed the candidate: %v", got.FailedChecks)
	}
}

func TestCheckEligibility_WashSaleOnlyWhenRequested(t *testing.T) {
	in := passingInput()
	in.RecentRepurchase = true

	cfg := domain.DefaultHarvestConfig()
	if got := CheckEligibility(in, cfg); !got.Passed {
		t.Errorf("wash-sale check ran without ExcludeWashSale: %v", got.FailedChecks)
	}

	cfg.ExcludeWashSale = true
	got := CheckEligibility(in, cfg)
	if got.Passed {
		t.Fatal("expected wash-sale failure")
	}
	if got.FailedChecks[0] != CheckWashSale {
		t.Errorf("FailedChecks = %v, want wash_sale", got.FailedChecks)
	}
}

func TestCheckEligibility_Monotonicity(t *testing.T) {
	// Disabling checks never shrinks the eligible set: an input that
	// passes with all checks on still passes with any subset disabled.
	in := passingInput()
	cfg := domain.DefaultHarvestConfig()
	cfg.ExcludeWashSale = true

	if !CheckEligibility(in, cfg).Passed {
		t.Fatal("baseline input should pass")
	}
	for _, name := range CheckNames() {
		sub := cfg
		sub.DisabledChecks = []string{name}
		if !CheckEligibility(in, sub).Passed {
			t.Errorf("disabling %q flipped a passing candidate to failing", name)
		}
	}

	// And with everything disabled, any loss candidate passes.
	all := cfg
	all.DisabledChecks = CheckNames()
	in.Candidate.Snapshot.UnrealizedPnLUSD = -0.01
	in.Tradable = false
	in.RecentRepurchase = true
	if !CheckEligibility(in, all).Passed {
		t.Error("with all checks disabled every loss candidate must pass")
	}
}
