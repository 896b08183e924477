// Package costs estimates the execution costs of selling a position:
// network gas, slippage and venue fees. Both estimators share one design:
// try the external source, cache on success, retry with backoff on
// failure, then fall back to a heuristic cached with lower confidence
// and a shorter trust window.
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

const lookupKindGas = "gas"

// Gas estimator tuning.
const (
	GasCacheTTL       = 25 * time.Second
	gasFallbackTTLDiv = 3 // heuristic entries trust window = TTL/3

	confidenceLive      = 95
	confidenceCache     = 95
	confidenceStale     = 50
	confidenceHeuristic = 30
)

// NetworkFeeSource is the external dependency of the gas estimator.
type NetworkFeeSource interface {
	// GasCostUSD returns the USD cost of a token sale on chain.
	GasCostUSD(ctx context.Context, chain domain.Chain) (float64, error)

	// FeeRateUSDPerGas returns the current network fee rate in USD per
	// gas unit, used to price the heuristic gas-limit table.
	FeeRateUSDPerGas(ctx context.Context, chain domain.Chain) (float64, error)
}

// Static per-chain gas limits for a token sale, priced by the current
// fee rate when the primary source is down.
var sellGasLimits = map[domain.Chain]float64{
	domain.ChainEthereum: 180_000,
	domain.ChainPolygon:  180_000,
	domain.ChainArbitrum: 650_000,
	domain.ChainBase:     180_000,
	domain.ChainSolana:   5_000, // compute units priced differently, same shape
}

// Last-resort fee rates (USD per gas unit) when even the fee-rate call
// fails. Deliberately conservative.
var defaultFeeRates = map[domain.Chain]float64{
	domain.ChainEthereum: 0.00005,
	domain.ChainPolygon:  0.0000002,
	domain.ChainArbitrum: 0.0000008,
	domain.ChainBase:     0.0000004,
	domain.ChainSolana:   0.000001,
}

// GasEstimator wraps a NetworkFeeSource with caching, retry and the
// gas-limit-table heuristic. Keyed by (chain, token).
type GasEstimator struct {
	source      NetworkFeeSource
	cache       *cache.TTL[string, domain.CostComponent]
	feeRates    *cache.TTL[domain.Chain, float64]
	limiter     *rate.Limiter
	retryPolicy retryPolicy
	log         zerolog.Logger
	now         func() time.Time
}

// NewGasEstimator creates a gas estimator with the default cache TTL and
// retry policy. limiter may be nil to disable rate limiting.
func NewGasEstimator(source NetworkFeeSource, limiter *rate.Limiter, log zerolog.Logger) *GasEstimator {
	return &GasEstimator{
		source:      source,
		cache:       cache.NewTTL[string, domain.CostComponent](GasCacheTTL),
		feeRates:    cache.NewTTL[domain.Chain, float64](5 * time.Minute),
		limiter:     limiter,
		retryPolicy: defaultRetryPolicy(),
		log:         log.With().Str("component", "gas_estimator").Logger(),
		now:         time.Now,
	}
}

// Estimate returns the gas cost component for selling token on its chain.
// External failure degrades through stale cache, then the heuristic; it
// never returns an error for source unavailability alone.
func (e *GasEstimator) Estimate(ctx context.Context, token domain.Token) (domain.CostComponent, error) {
	key := gasKey(token)
	if cached, ok := e.cache.Get(key); ok {
		cached.Source = domain.CostSourceCache
		observability.RecordCostLookup(lookupKindGas, domain.CostSourceCache)
		return cached, nil
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return domain.CostComponent{}, err
		}
	}

	var costUSD float64
	callStart := e.now()
	err := withRetry(ctx, e.retryPolicy, func(ctx context.Context) error {
		var callErr error
		costUSD, callErr = e.source.GasCostUSD(ctx, token.Chain)
		return callErr
	})
	observability.ObserveLookupLatency(lookupKindGas, e.now().Sub(callStart).Seconds())
	if err == nil {
		component := domain.CostComponent{
			ValueUSD:   costUSD,
			Confidence: confidenceLive,
			Source:     domain.CostSourceLive,
		}
		e.cache.Set(key, component)
		observability.RecordCostLookup(lookupKindGas, domain.CostSourceLive)
		return component, nil
	}
	if ctx.Err() != nil {
		return domain.CostComponent{}, ctx.Err()
	}

	e.log.Warn().Err(err).Str("token", token.Key()).Msg("gas source failed after retries")

	// Expired cache entries beat the static table.
	if stale, present, _ := e.cache.GetStale(key); present {
		stale.Source = domain.CostSourceStale
		stale.Confidence = confidenceStale
		observability.RecordCostLookup(lookupKindGas, domain.CostSourceStale)
		return stale, nil
	}

	component, herr := e.heuristic(ctx, token.Chain)
	if herr != nil {
		return domain.CostComponent{}, herr
	}
	e.cache.SetTTL(key, component, GasCacheTTL/gasFallbackTTLDiv)
	observability.RecordCostLookup(lookupKindGas, domain.CostSourceHeuristic)
	return component, nil
}

// heuristic prices the static gas-limit table with the freshest fee rate
// available: a live call, then the fee-rate cache, then the default.
func (e *GasEstimator) heuristic(ctx context.Context, chain domain.Chain) (domain.CostComponent, error) {
	gasLimit, ok := sellGasLimits[chain]
	if !ok {
		return domain.CostComponent{}, fmt.Errorf("%w: no gas table for chain %s", domain.ErrExternalService, chain)
	}

	feeRate, err := e.source.FeeRateUSDPerGas(ctx, chain)
	if err == nil {
		e.feeRates.Set(chain, feeRate)
	} else if cached, present, _ := e.feeRates.GetStale(chain); present {
		feeRate = cached
	} else {
		feeRate = defaultFeeRates[chain]
	}

	return domain.CostComponent{
		ValueUSD:   gasLimit * feeRate,
		Confidence: confidenceHeuristic,
		Source:     domain.CostSourceHeuristic,
	}, nil
}

func gasKey(token domain.Token) string {
	return string(token.Chain) + "|" + token.Address
}
