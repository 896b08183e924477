package costs

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"tax-harvest-lab/internal/domain"
	"tax-harvest-lab/internal/observability"
)

var (
	ethToken = domain.Token{Chain: domain.ChainEthereum, Symbol: "UNI", Address: "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984"}
	solToken = domain.Token{Chain: domain.ChainSolana, Symbol: "WSOL", Address: "So11111111111111111111111111111111111111112"}
)

// fastPolicy keeps retry sleeps out of test time.
var fastPolicy = retryPolicy{maxAttempts: 3, retryDelay: time.Millisecond, maxDelay: 5 * time.Millisecond, backoffMult: 2}

type fakeFeeSource struct {
	mu      sync.Mutex
	gasUSD  float64
	gasErr  error
	rate    float64
	rateErr error
	calls   int
}

func (f *fakeFeeSource) GasCostUSD(_ context.Context, _ domain.Chain) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.gasUSD, f.gasErr
}

func (f *fakeFeeSource) FeeRateUSDPerGas(_ context.Context, _ domain.Chain) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rate, f.rateErr
}

type fakeQuoteSource struct {
	mu    sync.Mutex
	pct   float64
	err   error
	calls int
}

func (f *fakeQuoteSource) SlippagePct(_ context.Context, _ domain.Token, _ float64) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.pct, f.err
}

func newGas(src NetworkFeeSource) *GasEstimator {
	e := NewGasEstimator(src, nil, zerolog.Nop())
	e.retryPolicy = fastPolicy
	return e
}

func newSlippage(src TradeQuoteSource) *SlippageEstimator {
	e := NewSlippageEstimator(src, nil, zerolog.Nop())
	e.retryPolicy = fastPolicy
	return e
}

func TestGasEstimator_LiveThenCache(t *testing.T) {
	src := &fakeFeeSource{gasUSD: 4.2}
	e := newGas(src)
	ctx := context.Background()

	first, err := e.Estimate(ctx, ethToken)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if first.Source != domain.CostSourceLive || first.ValueUSD != 4.2 {
		t.Errorf("first estimate = %+v, want live 4.2", first)
	}

	second, err := e.Estimate(ctx, ethToken)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if second.Source != domain.CostSourceCache {
		t.Errorf("second estimate source = %s, want cache", second.Source)
	}
	if src.calls != 1 {
		t.Errorf("source called %d times, want 1", src.calls)
	}
}

func TestGasEstimator_RetriesThenHeuristic(t *testing.T) {
	src := &fakeFeeSource{gasErr: errors.New("rpc down"), rate: 0.00001}
	e := newGas(src)

	got, err := e.Estimate(context.Background(), ethToken)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if src.calls != fastPolicy.maxAttempts {
		t.Errorf("source called %d times, want %d retries", src.calls, fastPolicy.maxAttempts)
	}
	if got.Source != domain.CostSourceHeuristic {
		t.Errorf("source = %s, want heuristic", got.Source)
	}
	want := sellGasLimits[domain.ChainEthereum] * 0.00001
	if math.Abs(got.ValueUSD-want) > 1e-9 {
		t.Errorf("heuristic value = %v, want %v", got.ValueUSD, want)
	}
	if got.Confidence != confidenceHeuristic {
		t.Errorf("confidence = %d, want %d", got.Confidence, confidenceHeuristic)
	}
}

func TestGasEstimator_StaleCacheBeatsHeuristic(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &fakeFeeSource{gasUSD: 4.2, rate: 0.00001}
	e := newGas(src)
	e.cache.WithClock(func() time.Time { return now })

	ctx := context.Background()
	if _, err := e.Estimate(ctx, ethToken); err != nil {
		t.Fatalf("warmup failed: %v", err)
	}

	// Expire the cache, then break the source.
	now = now.Add(GasCacheTTL + time.Second)
	src.mu.Lock()
	src.gasErr = errors.New("rpc down")
	src.mu.Unlock()

	got, err := e.Estimate(ctx, ethToken)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if got.Source != domain.CostSourceStale {
		t.Errorf("source = %s, want stale (expired entry reused)", got.Source)
	}
	if got.ValueUSD != 4.2 {
		t.Errorf("stale value = %v, want 4.2", got.ValueUSD)
	}
	if got.Confidence != confidenceStale {
		t.Errorf("confidence = %d, want %d", got.Confidence, confidenceStale)
	}
}

func TestGasEstimator_HeuristicFallbackFeeRate(t *testing.T) {
	// Both the gas call and the fee-rate call fail: the static default
	// fee rate prices the table.
	src := &fakeFeeSource{gasErr: errors.New("down"), rateErr: errors.New("down")}
	e := newGas(src)

	got, err := e.Estimate(context.Background(), ethToken)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	want := sellGasLimits[domain.ChainEthereum] * defaultFeeRates[domain.ChainEthereum]
	if math.Abs(got.ValueUSD-want) > 1e-9 {
		t.Errorf("value = %v, want %v from default fee rate", got.ValueUSD, want)
	}
}

func TestSlippageEstimator_Live(t *testing.T) {
	src := &fakeQuoteSource{pct: 0.002}
	e := newSlippage(src)

	got, err := e.Estimate(context.Background(), ethToken, 10_000, 90)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if math.Abs(got.ValueUSD-20) > 1e-9 {
		t.Errorf("value = %v, want 20 (0.2%% of 10k)", got.ValueUSD)
	}
	if got.Source != domain.CostSourceLive {
		t.Errorf("source = %s, want live", got.Source)
	}
}

func TestSlippageEstimator_HeuristicTiers(t *testing.T) {
	src := &fakeQuoteSource{err: errors.New("no quotes")}
	e := newSlippage(src)
	ctx := context.Background()

	cases := []struct {
		notional float64
		wantPct  float64
	}{
		{500, 0.001},
		{5_000, 0.003},
		{20_000, 0.008},
		{80_000, 0.020},
	}
	for _, tc := range cases {
		got, err := e.Estimate(ctx, ethToken, tc.notional, 90)
		if err != nil {
			t.Fatalf("Estimate(%v) failed: %v", tc.notional, err)
		}
		want := tc.notional * tc.wantPct
		if math.Abs(got.ValueUSD-want) > 1e-9 {
			t.Errorf("notional %v: value = %v, want %v", tc.notional, got.ValueUSD, want)
		}
		if got.Source != domain.CostSourceHeuristic {
			t.Errorf("notional %v: source = %s, want heuristic", tc.notional, got.Source)
		}
	}
}

func TestSlippageEstimator_LowLiquidityMultiplier(t *testing.T) {
	src := &fakeQuoteSource{err: errors.New("no quotes")}
	e := newSlippage(src)

	got, err := e.Estimate(context.Background(), ethToken, 500, 40)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	want := 500 * 0.001 * lowLiquidityMultiplier
	if math.Abs(got.ValueUSD-want) > 1e-9 {
		t.Errorf("value = %v, want %v with low-liquidity multiplier", got.ValueUSD, want)
	}
}

func TestSlippageEstimator_CacheScalesAcrossNotionalsInBucket(t *testing.T) {
	src := &fakeQuoteSource{pct: 0.003}
	e := newSlippage(src)
	ctx := context.Background()

	if _, err := e.Estimate(ctx, ethToken, 2_000, 90); err != nil {
		t.Fatalf("warmup failed: %v", err)
	}
	got, err := e.Estimate(ctx, ethToken, 8_000, 90) // same 1k-10k bucket
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if src.calls != 1 {
		t.Errorf("source called %d times, want 1 (bucket cached)", src.calls)
	}
	if math.Abs(got.ValueUSD-24) > 1e-9 {
		t.Errorf("value = %v, want 24 (0.3%% of 8k)", got.ValueUSD)
	}
}

func TestEstimators_RecordLookupMetrics(t *testing.T) {
	lookups := observability.DefaultMetrics.CostLookups
	fallbacks := observability.DefaultMetrics.EstimatorFallbacks
	gasLiveBefore := testutil.ToFloat64(lookups.WithLabelValues(lookupKindGas, domain.CostSourceLive))
	gasHeurBefore := testutil.ToFloat64(lookups.WithLabelValues(lookupKindGas, domain.CostSourceHeuristic))
	gasFallbackBefore := testutil.ToFloat64(fallbacks.WithLabelValues(lookupKindGas))
	slipHeurBefore := testutil.ToFloat64(lookups.WithLabelValues(lookupKindSlippage, domain.CostSourceHeuristic))

	ctx := context.Background()
	if _, err := newGas(&fakeFeeSource{gasUSD: 4.2}).Estimate(ctx, ethToken); err != nil {
		t.Fatalf("live estimate failed: %v", err)
	}
	if _, err := newGas(&fakeFeeSource{gasErr: errors.New("down"), rate: 0.00001}).Estimate(ctx, ethToken); err != nil {
		t.Fatalf("degraded estimate failed: %v", err)
	}
	if _, err := newSlippage(&fakeQuoteSource{err: errors.New("no quotes")}).Estimate(ctx, ethToken, 500, 90); err != nil {
		t.Fatalf("degraded slippage estimate failed: %v", err)
	}

	if got := testutil.ToFloat64(lookups.WithLabelValues(lookupKindGas, domain.CostSourceLive)) - gasLiveBefore; got != 1 {
		t.Errorf("live gas lookups recorded = %v, want 1", got)
	}
	if got := testutil.ToFloat64(lookups.WithLabelValues(lookupKindGas, domain.CostSourceHeuristic)) - gasHeurBefore; got != 1 {
		t.Errorf("heuristic gas lookups recorded = %v, want 1", got)
	}
	if got := testutil.ToFloat64(fallbacks.WithLabelValues(lookupKindGas)) - gasFallbackBefore; got != 1 {
		t.Errorf("gas fallbacks recorded = %v, want 1", got)
	}
	if got := testutil.ToFloat64(lookups.WithLabelValues(lookupKindSlippage, domain.CostSourceHeuristic)) - slipHeurBefore; got != 1 {
		t.Errorf("heuristic slippage lookups recorded = %v, want 1", got)
	}
}

func TestEstimator_CombinesComponents(t *testing.T) {
	gasSrc := &fakeFeeSource{gasUSD: 5}
	quoteSrc := &fakeQuoteSource{pct: 0.0003}
	e := NewEstimator(newGas(gasSrc), newSlippage(quoteSrc), DefaultFeeSchedule(), 0)

	got, err := e.Estimate(context.Background(), Request{Token: ethToken, NotionalUSD: 10_000, LiquidityScore: 90})
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if got.GasCostUSD != 5 {
		t.Errorf("GasCostUSD = %v, want 5", got.GasCostUSD)
	}
	if math.Abs(got.SlippageCostUSD-3) > 1e-9 {
		t.Errorf("SlippageCostUSD = %v, want 3", got.SlippageCostUSD)
	}
	if math.Abs(got.TradingFeeUSD-30) > 1e-9 {
		t.Errorf("TradingFeeUSD = %v, want 30 (30 bps)", got.TradingFeeUSD)
	}
	if got.Source != domain.CostSourceLive {
		t.Errorf("source = %s, want live", got.Source)
	}
}

func TestEstimator_WorstSourceWins(t *testing.T) {
	gasSrc := &fakeFeeSource{gasErr: errors.New("down"), rate: 0.00001}
	quoteSrc := &fakeQuoteSource{pct: 0.0003}
	e := NewEstimator(newGas(gasSrc), newSlippage(quoteSrc), DefaultFeeSchedule(), 0)

	got, err := e.Estimate(context.Background(), Request{Token: ethToken, NotionalUSD: 1_000, LiquidityScore: 90})
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if got.Source != domain.CostSourceHeuristic {
		t.Errorf("source = %s, want heuristic (worst component)", got.Source)
	}
	if got.Confidence != confidenceHeuristic {
		t.Errorf("confidence = %d, want %d (min component)", got.Confidence, confidenceHeuristic)
	}
}

func TestEstimator_BatchIsolatesFailures(t *testing.T) {
	gasSrc := &fakeFeeSource{gasUSD: 2}
	quoteSrc := &fakeQuoteSource{pct: 0.001}
	e := NewEstimator(newGas(gasSrc), newSlippage(quoteSrc), DefaultFeeSchedule(), 2)

	// An unknown chain has no gas table, so its heuristic fails hard.
	badToken := domain.Token{Chain: "unknownchain", Symbol: "XXX", Address: "0x0000000000000000000000000000000000000000"}
	gasSrc.mu.Lock()
	gasSrc.gasErr = errors.New("down")
	gasSrc.rateErr = errors.New("down")
	gasSrc.mu.Unlock()

	results := e.EstimateBatch(context.Background(), []Request{
		{Token: solToken, NotionalUSD: 1_000, LiquidityScore: 90},
		{Token: badToken, NotionalUSD: 1_000, LiquidityScore: 90},
	})

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Err != nil {
		t.Errorf("healthy item failed: %v", results[0].Err)
	}
	if results[1].Err == nil {
		t.Error("unknown-chain item should fail")
	}
	if results[0].Request.Token.Key() != solToken.Key() {
		t.Error("batch results out of input order")
	}
}
