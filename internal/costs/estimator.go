package costs

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"tax-harvest-lab/internal/domain"
)

// DefaultBatchConcurrency bounds concurrent external lookups per batch.
const DefaultBatchConcurrency = 8

// Request asks for the full cost of selling one position.
type Request struct {
	Token          domain.Token
	NotionalUSD    float64
	LiquidityScore float64
}

// Result pairs a request with its outcome. Err is set only for
// non-degradable failures (cancellation, unknown chain); source
// unavailability surfaces as lowered confidence instead.
type Result struct {
	Request  Request
	Estimate domain.CostEstimate
	Err      error
}

// Estimator composes the gas and slippage estimators with the fee
// schedule into full per-position cost estimates.
type Estimator struct {
	gas         *GasEstimator
	slippage    *SlippageEstimator
	fees        *FeeSchedule
	concurrency int
	now         func() time.Time
}

// NewEstimator builds the composite estimator. concurrency <= 0 selects
// the default batch bound.
func NewEstimator(gas *GasEstimator, slippage *SlippageEstimator, fees *FeeSchedule, concurrency int) *Estimator {
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}
	return &Estimator{
		gas:         gas,
		slippage:    slippage,
		fees:        fees,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// Estimate produces the full cost estimate for one request. Gas and
// slippage lookups run concurrently; each degrades independently.
func (e *Estimator) Estimate(ctx context.Context, req Request) (domain.CostEstimate, error) {
	var gasC, slipC domain.CostComponent

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		gasC, err = e.gas.Estimate(gctx, req.Token)
		return err
	})
	g.Go(func() error {
		var err error
		slipC, err = e.slippage.Estimate(gctx, req.Token, req.NotionalUSD, req.LiquidityScore)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.CostEstimate{}, err
	}

	feeC := e.fees.FeeUSD(req.Token, req.NotionalUSD)
	return domain.Combine(gasC, slipC, feeC, e.now()), nil
}

// EstimateBatch runs Estimate for every request with bounded
// concurrency. One failing item never fails the batch: failures are
// recorded on the corresponding Result. Output order matches input.
func (e *Estimator) EstimateBatch(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			est, err := e.Estimate(gctx, req)
			results[i] = Result{Request: req, Estimate: est, Err: err}
			return nil // isolate per-item failures
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors

	return results
}
