// Package main runs one opportunity computation against an in-memory
// fixture portfolio and prints the ranked result. Useful for demoing
// the pipeline without any external services.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tax-harvest-lab/internal/costs"
	costsstub "tax-harvest-lab/internal/costs/stub"
	"tax-harvest-lab/internal/domain"
	"tax-harvest-lab/internal/orchestrator"
	pricingstub "tax-harvest-lab/internal/pricing/stub"
	"tax-harvest-lab/internal/risk"
	riskstub "tax-harvest-lab/internal/risk/stub"
	"tax-harvest-lab/internal/storage/memory"
	"tax-harvest-lab/internal/tradability"
	tradstub "tax-harvest-lab/internal/tradability/stub"
	txstub "tax-harvest-lab/internal/txsource/stub"
)

const fixtureUser = "demo-user"

func main() {
	taxRate := flag.Float64("tax-rate", domain.DefaultTaxRate, "Marginal tax rate (0, 1]")
	minLoss := flag.Float64("min-loss", domain.DefaultMinLossUSD, "Minimum loss in USD to consider")
	washSale := flag.Bool("exclude-wash-sale", false, "Exclude tokens repurchased within the wash sale window")
	verbose := flag.Bool("verbose", false, "Debug logging")
	flag.Parse()

	level := zerolog.WarnLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	ctx := context.Background()
	engine := buildEngine(log)

	cfg := domain.DefaultHarvestConfig()
	cfg.TaxRate = *taxRate
	cfg.MinLossUSD = *minLoss
	cfg.ExcludeWashSale = *washSale

	report, err := engine.Compute(ctx, fixtureUser, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "compute: %v\n", err)
		os.Exit(1)
	}

	printReport(report)
}

func buildEngine(log zerolog.Logger) *orchestrator.Engine {
	now := time.Now()
	source := txstub.NewSource(map[string][]*domain.Transaction{
		fixtureUser: fixtureTransactions(now),
	})
	oracle := pricingstub.NewOracle(fixturePrices(), now)

	limiter := rate.NewLimiter(rate.Limit(50), 1)
	gasEst := costs.NewGasEstimator(costsstub.NewFeeSource(map[domain.Chain]float64{
		domain.ChainEthereum: 4.50,
		domain.ChainSolana:   0.01,
	}), limiter, log)
	slipEst := costs.NewSlippageEstimator(costsstub.NewQuoteSource(0.008), limiter, log)

	return orchestrator.New(orchestrator.Options{
		Source:      source,
		Oracle:      oracle,
		Risk:        risk.NewAssessor(riskstub.NewProvider(nil), time.Minute, log),
		Costs:       costs.NewEstimator(gasEst, slipEst, costs.DefaultFeeSchedule(), 4),
		Tradability: tradability.NewChecker(tradstub.NewVenue(), time.Minute, log),
		RunStore:    memory.NewRunStore(),
		Log:         log,
	})
}

// Fixture portfolio: two losing positions of different sizes, one
// winner, and one token with a recent repurchase to exercise the wash
// sale filter.
func fixtureTransactions(now time.Time) []*domain.Transaction {
	weth := domain.Token{Chain: domain.ChainEthereum, Symbol: "WETH", Address: "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"}
	uni := domain.Token{Chain: domain.ChainEthereum, Symbol: "UNI", Address: "0x1f9840a85d5af5bf1d1762f925bdaddc4201f984"}
	sol := domain.Token{Chain: domain.ChainSolana, Symbol: "SOL", Address: "So11111111111111111111111111111111111111112"}
	arb := domain.Token{Chain: domain.ChainEthereum, Symbol: "ARB", Address: "0x912ce59144191c1204e64559fe8253a0e49e6548"}

	txs := []*domain.Transaction{
		{Token: weth, Type: domain.TxBuy, Quantity: 10, UnitPriceUSD: 3200, Timestamp: now.AddDate(0, -14, 0)},
		{Token: weth, Type: domain.TxSell, Quantity: 2, UnitPriceUSD: 3400, Timestamp: now.AddDate(0, -10, 0)},
		{Token: uni, Type: domain.TxBuy, Quantity: 400, UnitPriceUSD: 11.50, Timestamp: now.AddDate(0, -5, 0)},
		{Token: sol, Type: domain.TxBuy, Quantity: 50, UnitPriceUSD: 95, Timestamp: now.AddDate(0, -8, 0)},
		{Token: arb, Type: domain.TxBuy, Quantity: 1000, UnitPriceUSD: 1.80, Timestamp: now.AddDate(-1, 0, 0)},
		{Token: arb, Type: domain.TxBuy, Quantity: 200, UnitPriceUSD: 0.90, Timestamp: now.AddDate(0, 0, -5)},
	}
	for i, tx := range txs {
		tx.UserID = fixtureUser
		tx.TxID = fmt.Sprintf("fixture-%02d", i)
		tx.Index = i
	}
	return txs
}

func fixturePrices() map[string]float64 {
	return map[string]float64{
		"ethereum:0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2":   2600,  // WETH down from 3200
		"ethereum:0x1f9840a85d5af5bf1d1762f925bdaddc4201f984":   14.20, // UNI up
		"solana:So11111111111111111111111111111111111111112":    70,    // SOL down from 95
		"ethereum:0x912ce59144191c1204e64559fe8253a0e49e6548":   0.85,  // ARB down, recently repurchased
	}
}

func printReport(report *domain.HarvestReport) {
	fmt.Printf("Run %s for %s (computed in %s)\n", report.RunID, report.UserID, report.Duration.Round(time.Millisecond))
	if report.Partial {
		fmt.Println("warning: partial result, run deadline was hit")
	}
	fmt.Println()

	if len(report.Opportunities) == 0 {
		fmt.Println("No harvest opportunities found.")
	} else {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TOKEN\tACQUIRED\tLOSS USD\tSAVINGS\tCOSTS\tNET BENEFIT\tRISK\tTERM\tACTION")
		for i := range report.Opportunities {
			opp := &report.Opportunities[i]
			snap := opp.Candidate.Snapshot
			term := "short"
			if snap.IsLongTerm {
				term = "long"
			}
			action := "skip"
			if opp.Benefit.Recommended {
				action = "harvest"
			}
			fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\t%.2f\t%.2f\t%s\t%s\t%s\n",
				snap.Lot.Token.Symbol,
				snap.Lot.AcquiredAt.Format("2006-01-02"),
				snap.LossUSD(),
				opp.Benefit.TaxSavingsUSD,
				opp.Benefit.TotalCostUSD,
				opp.Benefit.NetBenefitUSD,
				opp.Candidate.Risk.Level,
				term,
				action)
		}
		w.Flush()
	}

	if len(report.Excluded) > 0 {
		fmt.Println()
		fmt.Println("Excluded:")
		for _, ex := range report.Excluded {
			fmt.Printf("  %s (%s): %s\n", ex.Token.Symbol, ex.Token.Key(), ex.Reason)
		}
	}
}
