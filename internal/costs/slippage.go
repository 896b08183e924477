package costs

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tax-harvest-lab/internal/cache"
	"tax-harvest-lab/internal/domain"
	"tax-harvest-lab/internal/observability"
)

const lookupKindSlippage = "slippage"

// Slippage estimator tuning.
const (
	SlippageCacheTTL = 30 * time.Second

	// Liquidity-tier multiplier applied to the heuristic when the
	// primary quote source is unavailable and the venue is illiquid.
	lowLiquidityMultiplier = 1.2
	lowLiquidityBelow      = 50.0
)

// TradeQuoteSource is the external dependency of the slippage estimator.
type TradeQuoteSource interface {
	// SlippagePct returns the expected slippage, as a fraction of
	// notional, of selling notionalUSD worth of token for quote.
	SlippagePct(ctx context.Context, token domain.Token, notionalUSD float64) (float64, error)
}

// sizeBucket groups notional values so that cache keys stay coarse.
type sizeBucket string

const (
	bucketMicro sizeBucket = "lt1k"
	bucketSmall sizeBucket = "1k-10k"
	bucketMid   sizeBucket = "10k-50k"
	bucketLarge sizeBucket = "gt50k"
)

func bucketFor(notionalUSD float64) sizeBucket {
	switch {
	case notionalUSD < 1_000:
		return bucketMicro
	case notionalUSD < 10_000:
		return bucketSmall
	case notionalUSD < 50_000:
		return bucketMid
	default:
		return bucketLarge
	}
}

// Heuristic slippage tiers by notional size, as fractions.
var heuristicSlippage = map[sizeBucket]float64{
	bucketMicro: 0.001,
	bucketSmall: 0.003,
	bucketMid:   0.008,
	bucketLarge: 0.020,
}

// SlippageEstimator wraps a TradeQuoteSource with caching, retry and the
// size-tier heuristic. Keyed by (chain, token pair, size bucket).
type SlippageEstimator struct {
	source      TradeQuoteSource
	cache       *cache.TTL[string, domain.CostComponent]
	limiter     *rate.Limiter
	retryPolicy retryPolicy
	log         zerolog.Logger
}

// NewSlippageEstimator creates a slippage estimator with the default
// cache TTL and retry policy. limiter may be nil.
func NewSlippageEstimator(source TradeQuoteSource, limiter *rate.Limiter, log zerolog.Logger) *SlippageEstimator {
	return &SlippageEstimator{
		source:      source,
		cache:       cache.NewTTL[string, domain.CostComponent](SlippageCacheTTL),
		limiter:     limiter,
		retryPolicy: defaultRetryPolicy(),
		log:         log.With().Str("component", "slippage_estimator").Logger(),
	}
}

// Estimate returns the slippage cost component of selling notionalUSD of
// token. liquidityScore feeds the heuristic's liquidity multiplier when
// the quote source is unavailable. Cached per (token, size bucket), so
// the USD value is recomputed from the cached percentage each call.
func (e *SlippageEstimator) Estimate(ctx context.Context, token domain.Token, notionalUSD, liquidityScore float64) (domain.CostComponent, error) {
	if notionalUSD <= 0 {
		return domain.CostComponent{Confidence: confidenceLive, Source: domain.CostSourceLive}, nil
	}

	key := slippageKey(token, notionalUSD)
	if cached, ok := e.cache.Get(key); ok {
		// Cached ValueUSD carries the percentage; scale to this notional.
		observability.RecordCostLookup(lookupKindSlippage, domain.CostSourceCache)
		return scaled(cached, notionalUSD, domain.CostSourceCache, cached.Confidence), nil
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return domain.CostComponent{}, err
		}
	}

	var pct float64
	callStart := time.Now()
	err := withRetry(ctx, e.retryPolicy, func(ctx context.Context) error {
		var callErr error
		pct, callErr = e.source.SlippagePct(ctx, token, notionalUSD)
		if callErr == nil && (pct < 0 || pct > 1) {
			callErr = fmt.Errorf("%w: quote source returned slippage %v outside [0, 1]", domain.ErrExternalService, pct)
		}
		return callErr
	})
	observability.ObserveLookupLatency(lookupKindSlippage, time.Since(callStart).Seconds())
	if err == nil {
		component := domain.CostComponent{ValueUSD: pct, Confidence: confidenceLive, Source: domain.CostSourceLive}
		e.cache.Set(key, component)
		observability.RecordCostLookup(lookupKindSlippage, domain.CostSourceLive)
		return scaled(component, notionalUSD, domain.CostSourceLive, confidenceLive), nil
	}
	if ctx.Err() != nil {
		return domain.CostComponent{}, ctx.Err()
	}

	e.log.Warn().Err(err).Str("token", token.Key()).Msg("quote source failed after retries")

	if stale, present, _ := e.cache.GetStale(key); present {
		observability.RecordCostLookup(lookupKindSlippage, domain.CostSourceStale)
		return scaled(stale, notionalUSD, domain.CostSourceStale, confidenceStale), nil
	}

	pct = heuristicSlippage[bucketFor(notionalUSD)]
	if liquidityScore < lowLiquidityBelow {
		pct *= lowLiquidityMultiplier
	}
	component := domain.CostComponent{ValueUSD: pct, Confidence: confidenceHeuristic, Source: domain.CostSourceHeuristic}
	e.cache.SetTTL(key, component, SlippageCacheTTL/2)
	observability.RecordCostLookup(lookupKindSlippage, domain.CostSourceHeuristic)
	return scaled(component, notionalUSD, domain.CostSourceHeuristic, confidenceHeuristic), nil
}

// scaled converts a cached percentage component to a USD component for
// the requested notional.
func scaled(pctComponent domain.CostComponent, notionalUSD float64, source string, confidence int) domain.CostComponent {
	return domain.CostComponent{
		ValueUSD:   pctComponent.ValueUSD * notionalUSD,
		Confidence: confidence,
		Source:     source,
	}
}

func slippageKey(token domain.Token, notionalUSD float64) string {
	// Quote side is USD-stable on every supported venue, so the pair
	// collapses to the token itself.
	return string(token.Chain) + "|" + token.Address + "/USD|" + string(bucketFor(notionalUSD))
}
