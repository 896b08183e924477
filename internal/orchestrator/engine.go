// Package orchestrator drives one full opportunity computation:
// fetch history, rebuild lots, price and evaluate positions, fan out
// cost and risk lookups, filter, score and sort. It owns per-user
// single-flight and the result cache.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"tax-harvest-lab/internal/benefit"
	"tax-harvest-lab/internal/cache"
	"tax-harvest-lab/internal/costs"
	"tax-harvest-lab/internal/domain"
	"tax-harvest-lab/internal/eligibility"
	"tax-harvest-lab/internal/idhash"
	"tax-harvest-lab/internal/ledger"
	"tax-harvest-lab/internal/observability"
	"tax-harvest-lab/internal/position"
	"tax-harvest-lab/internal/pricing"
	"tax-harvest-lab/internal/risk"
	"tax-harvest-lab/internal/storage"
	"tax-harvest-lab/internal/tradability"
	"tax-harvest-lab/internal/txsource"
)

// Run stages, in execution order.
const (
	StageFetching        = "fetching"
	StageEvaluating      = "evaluating"
	StageEstimatingCosts = "estimating_costs"
	StageClassifyingRisk = "classifying_risk"
	StageFiltering       = "filtering"
	StageScoring         = "scoring"
	StageSorted          = "sorted"
	StageFailed          = "failed"
)

// Exclusion reason codes recorded on ExcludedLot entries.
const (
	ReasonOversell         = "oversell"
	ReasonMalformedHistory = "malformed_history"
	ReasonPriceUnavailable = "price_unavailable"
	ReasonCostUnavailable  = "cost_unavailable"
	ReasonDeadlineExceeded = "deadline_exceeded"
)

// Timing defaults.
const (
	DefaultLookupTimeout = 5 * time.Second
	DefaultRunDeadline   = 10 * time.Second
	DefaultResultTTL     = 5 * time.Minute
	DefaultWorkers       = 8
)

// Engine composes the pipeline dependencies and serves computation
// requests.
type Engine struct {
	source      txsource.TransactionSource
	oracle      pricing.Oracle
	risk        *risk.Assessor
	costs       *costs.Estimator
	tradability *tradability.Checker
	runStore    storage.HarvestRunStore // optional audit sink

	workers       int
	lookupTimeout time.Duration
	runDeadline   time.Duration

	flight    singleflight.Group
	userLocks sync.Map // userID -> *sync.Mutex, serializes runs per user
	inFlight  sync.Map // userID -> struct{}
	results   *cache.TTL[string, *domain.HarvestReport]

	log zerolog.Logger
	now func() time.Time
}

// Options configures an Engine.
type Options struct {
	Source      txsource.TransactionSource
	Oracle      pricing.Oracle
	Risk        *risk.Assessor
	Costs       *costs.Estimator
	Tradability *tradability.Checker

	// RunStore receives run audit records when set. Writes are
	// best-effort and never fail a run.
	RunStore storage.HarvestRunStore

	// Workers bounds the per-candidate lookup fan-out. Zero selects
	// the default.
	Workers int

	LookupTimeout time.Duration
	RunDeadline   time.Duration
	ResultTTL     time.Duration

	Log zerolog.Logger
}

// New creates an Engine.
func New(opts Options) *Engine {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	lookupTimeout := opts.LookupTimeout
	if lookupTimeout <= 0 {
		lookupTimeout = DefaultLookupTimeout
	}
	runDeadline := opts.RunDeadline
	if runDeadline <= 0 {
		runDeadline = DefaultRunDeadline
	}
	resultTTL := opts.ResultTTL
	if resultTTL <= 0 {
		resultTTL = DefaultResultTTL
	}
	return &Engine{
		source:        opts.Source,
		oracle:        opts.Oracle,
		risk:          opts.Risk,
		costs:         opts.Costs,
		tradability:   opts.Tradability,
		runStore:      opts.RunStore,
		workers:       workers,
		lookupTimeout: lookupTimeout,
		runDeadline:   runDeadline,
		results:       cache.NewTTL[string, *domain.HarvestReport](resultTTL),
		log:           opts.Log.With().Str("component", "orchestrator").Logger(),
		now:           time.Now,
	}
}

// Compute returns the user's harvest report for the given parameters.
// Identical concurrent requests share one in-flight computation, and
// at most one full computation runs per user at a time: requests with
// differing parameters queue behind the running one. A fresh cached
// report is returned directly unless ForceRefresh is set.
func (e *Engine) Compute(ctx context.Context, userID string, cfg domain.HarvestConfig) (*domain.HarvestReport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hash := idhash.ComputeParameterHash(cfg)
	key := userID + "|" + hash

	if !cfg.ForceRefresh {
		if cached, ok := e.results.Get(key); ok {
			observability.RecordResultCacheHit()
			report := *cached
			report.FromCache = true
			return &report, nil
		}
	}
	observability.RecordResultCacheMiss()

	report, err, shared := e.flight.Do(key, func() (interface{}, error) {
		mu := e.userLock(userID)
		mu.Lock()
		defer mu.Unlock()
		e.inFlight.Store(userID, struct{}{})
		defer e.inFlight.Delete(userID)
		return e.run(ctx, userID, hash, cfg)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		observability.RecordSingleflightShared()
	}
	return report.(*domain.HarvestReport), nil
}

// TryCompute behaves like Compute but refuses to wait: when any
// computation for the user is already running, whatever its
// parameters, it returns ErrComputationInFlight immediately.
func (e *Engine) TryCompute(ctx context.Context, userID string, cfg domain.HarvestConfig) (*domain.HarvestReport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if _, busy := e.inFlight.Load(userID); busy {
		return nil, fmt.Errorf("user %s: %w", userID, domain.ErrComputationInFlight)
	}
	return e.Compute(ctx, userID, cfg)
}

// userLock returns the mutex serializing computations for userID.
func (e *Engine) userLock(userID string) *sync.Mutex {
	mu, _ := e.userLocks.LoadOrStore(userID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// evaluated is one candidate after the lookup fan-out.
type evaluated struct {
	candidate domain.OpportunityCandidate
	cost      domain.CostEstimate
	tradable  bool
	excluded  *domain.ExcludedLot
	dropped   bool // run deadline hit mid-lookup
}

func (e *Engine) run(ctx context.Context, userID, hash string, cfg domain.HarvestConfig) (*domain.HarvestReport, error) {
	started := e.now()
	runCtx, cancel := context.WithTimeout(ctx, e.runDeadline)
	defer cancel()

	report := &domain.HarvestReport{
		RunID:         uuid.NewString(),
		UserID:        userID,
		ParameterHash: hash,
		ComputedAt:    started,
	}

	// Fetching. Total source failure aborts the run; everything past
	// this point degrades instead.
	e.logStage(report.RunID, StageFetching)
	txs, err := e.fetchTransactions(runCtx, userID)
	if err != nil {
		e.logStage(report.RunID, StageFailed)
		observability.RecordRun(StageFailed, e.now().Sub(started).Seconds())
		return nil, fmt.Errorf("fetch transactions: %w", err)
	}

	byToken := groupByToken(txs)
	lotsByToken := make(map[string][]domain.Lot, len(byToken))
	tokens := make([]domain.Token, 0, len(byToken))
	for _, key := range sortedKeys(byToken) {
		tokenTxs := byToken[key]
		lots, err := ledger.BuildLots(tokenTxs)
		if err != nil {
			report.Excluded = append(report.Excluded, domain.ExcludedLot{
				Token:  tokenTxs[0].Token,
				Reason: exclusionReason(err),
			})
			continue
		}
		open := ledger.OpenLots(lots)
		if len(open) == 0 {
			continue
		}
		lotsByToken[key] = open
		tokens = append(tokens, tokenTxs[0].Token)
	}

	// Evaluating: one batched price lookup, then pure snapshot math.
	e.logStage(report.RunID, StageEvaluating)
	quotes := e.fetchPrices(runCtx, report, tokens)

	var candidates []domain.PositionSnapshot
	for _, token := range tokens {
		quote, ok := quotes[token.Key()]
		if !ok {
			continue // already excluded by fetchPrices
		}
		for _, snap := range position.EvaluateAll(lotsByToken[token.Key()], quote.UnitPriceUSD, started) {
			if snap.IsLoss() {
				candidates = append(candidates, snap)
			}
		}
	}
	observability.DefaultMetrics.CandidatesSeen.Add(float64(len(candidates)))

	repurchased := map[string]bool{}
	if cfg.ExcludeWashSale {
		repurchased = recentRepurchases(txs, started, cfg.WashSaleWindow)
	}

	// EstimatingCosts + ClassifyingRisk: bounded fan-out, joined
	// before Filtering. On deadline the unfinished candidates are
	// dropped and the report is marked partial.
	e.logStage(report.RunID, StageEstimatingCosts)
	e.logStage(report.RunID, StageClassifyingRisk)
	gathered := e.gather(runCtx, candidates, quotes)
	if len(gathered) < len(candidates) {
		report.Partial = true
	}

	// Filtering and Scoring.
	e.logStage(report.RunID, StageFiltering)
	for _, ev := range gathered {
		if ev.excluded != nil {
			report.Excluded = append(report.Excluded, *ev.excluded)
			continue
		}
		if ev.candidate.Risk.Level.Exceeds(cfg.MaxRiskLevel) {
			continue
		}
		result := eligibility.CheckEligibility(eligibility.Input{
			Candidate:        ev.candidate,
			Cost:             ev.cost,
			Tradable:         ev.tradable,
			RecentRepurchase: repurchased[ev.candidate.Snapshot.Lot.Token.Key()],
		}, cfg)
		if !result.Passed {
			continue
		}

		report.Opportunities = append(report.Opportunities, domain.Opportunity{
			Candidate:   ev.candidate,
			Cost:        ev.cost,
			Benefit:     benefit.FromEstimate(ev.candidate.Snapshot.LossUSD(), cfg.TaxRate, ev.cost),
			Eligibility: result,
		})
	}
	e.logStage(report.RunID, StageScoring)

	sortOpportunities(report.Opportunities)
	sort.SliceStable(report.Excluded, func(i, j int) bool {
		return report.Excluded[i].Token.Key() < report.Excluded[j].Token.Key()
	})
	e.logStage(report.RunID, StageSorted)

	// A run that hit its deadline anywhere is partial, even when every
	// truncated candidate already surfaced as an exclusion.
	if runCtx.Err() != nil {
		report.Partial = true
	}

	report.Duration = e.now().Sub(started)
	observability.DefaultMetrics.OpportunitiesFound.Add(float64(len(report.Opportunities)))
	observability.RecordRun(StageSorted, report.Duration.Seconds())
	if report.Partial {
		observability.RecordPartialRun()
	} else {
		observability.DefaultMetrics.LastSuccessfulRun.Set(float64(e.now().Unix()))
	}

	key := userID + "|" + hash
	e.results.Set(key, report)
	e.persistRun(report)

	e.log.Info().
		Str("run_id", report.RunID).
		Str("user_id", userID).
		Int("opportunities", len(report.Opportunities)).
		Int("excluded", len(report.Excluded)).
		Bool("partial", report.Partial).
		Dur("duration", report.Duration).
		Msg("computation run complete")

	return report, nil
}

// fetchTransactions pulls the user's history under the lookup timeout.
func (e *Engine) fetchTransactions(ctx context.Context, userID string) ([]domain.Transaction, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, e.lookupTimeout)
	defer cancel()

	rows, err := e.source.Fetch(fetchCtx, userID)
	if err != nil {
		return nil, err
	}
	txs := make([]domain.Transaction, 0, len(rows))
	for _, row := range rows {
		txs = append(txs, *row)
	}
	return txs, nil
}

// fetchPrices resolves quotes for all tokens in one batch. Tokens the
// oracle cannot price are excluded from the run with a reason code, not
// dropped silently.
func (e *Engine) fetchPrices(ctx context.Context, report *domain.HarvestReport, tokens []domain.Token) map[string]pricing.Quote {
	if len(tokens) == 0 {
		return nil
	}

	priceCtx, cancel := context.WithTimeout(ctx, e.lookupTimeout)
	defer cancel()

	quotes, err := e.oracle.GetPrices(priceCtx, tokens)
	if err != nil {
		e.log.Warn().Err(err).Str("run_id", report.RunID).Msg("price oracle batch failed")
		quotes = nil
	}
	// Tokens missing because the run deadline cut the lookup short are
	// not the same as tokens the oracle genuinely cannot price.
	reason := ReasonPriceUnavailable
	if ctx.Err() != nil {
		reason = ReasonDeadlineExceeded
	}
	for _, token := range tokens {
		if _, ok := quotes[token.Key()]; !ok {
			report.Excluded = append(report.Excluded, domain.ExcludedLot{
				Token:  token,
				Reason: reason,
			})
		}
	}
	return quotes
}

// gather runs the cost and risk lookups for every candidate on a
// bounded worker pool. Workers stop picking up work once ctx is done;
// results for finished candidates are kept.
func (e *Engine) gather(ctx context.Context, candidates []domain.PositionSnapshot, quotes map[string]pricing.Quote) []evaluated {
	if len(candidates) == 0 {
		return nil
	}

	workCh := make(chan domain.PositionSnapshot, len(candidates))
	resultCh := make(chan evaluated, len(candidates))

	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for snap := range workCh {
				if ctx.Err() != nil {
					return
				}
				resultCh <- e.evaluateCandidate(ctx, snap, quotes)
			}
		}()
	}

	for _, snap := range candidates {
		workCh <- snap
	}
	close(workCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	gathered := make([]evaluated, 0, len(candidates))
	for ev := range resultCh {
		if ev.dropped {
			continue
		}
		gathered = append(gathered, ev)
	}
	return gathered
}

// evaluateCandidate resolves risk, cost and tradability for one loss
// position. The assessors absorb their own provider failures; an error
// here means the cost could not even be derived heuristically.
func (e *Engine) evaluateCandidate(ctx context.Context, snap domain.PositionSnapshot, quotes map[string]pricing.Quote) evaluated {
	lookupCtx, cancel := context.WithTimeout(ctx, e.lookupTimeout)
	defer cancel()

	token := snap.Lot.Token
	assessment := e.risk.Assess(lookupCtx, token)
	candidate := domain.OpportunityCandidate{Snapshot: snap, Risk: assessment}

	notional := snap.Lot.RemainingQuantity * quotes[token.Key()].UnitPriceUSD
	estimate, err := e.costs.Estimate(lookupCtx, costs.Request{
		Token:          token,
		NotionalUSD:    notional,
		LiquidityScore: assessment.LiquidityScore,
	})
	if err != nil {
		if ctx.Err() != nil {
			return evaluated{dropped: true}
		}
		return evaluated{excluded: &domain.ExcludedLot{
			Token:  token,
			Reason: ReasonCostUnavailable,
		}}
	}

	return evaluated{
		candidate: candidate,
		cost:      estimate,
		tradable:  e.tradability.IsTradable(lookupCtx, token),
	}
}

// persistRun writes the audit record. Best-effort: failures are logged,
// never surfaced.
func (e *Engine) persistRun(report *domain.HarvestReport) {
	if e.runStore == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	record := &storage.RunRecord{
		RunID:         report.RunID,
		UserID:        report.UserID,
		ParameterHash: report.ParameterHash,
		ComputedAt:    report.ComputedAt,
		DurationMs:    report.Duration.Milliseconds(),
		Partial:       report.Partial,
		Opportunities: len(report.Opportunities),
		Eligible:      len(report.Opportunities),
		Excluded:      len(report.Excluded),
	}

	rows := make([]*storage.RunOpportunity, 0, len(report.Opportunities))
	for i := range report.Opportunities {
		opp := &report.Opportunities[i]
		rows = append(rows, &storage.RunOpportunity{
			RunID:         report.RunID,
			TokenKey:      opp.Token().Key(),
			Symbol:        opp.Token().Symbol,
			LossUSD:       opp.Candidate.Snapshot.LossUSD(),
			TaxSavingsUSD: opp.Benefit.TaxSavingsUSD,
			TotalCostUSD:  opp.Benefit.TotalCostUSD,
			NetBenefitUSD: opp.Benefit.NetBenefitUSD,
			RiskLevel:     string(opp.Candidate.Risk.Level),
			Confidence:    opp.Cost.Confidence,
			Recommended:   opp.Benefit.Recommended,
		})
	}

	if err := e.runStore.InsertRun(ctx, record, rows); err != nil {
		e.log.Warn().Err(err).Str("run_id", report.RunID).Msg("failed to persist run record")
	}
}

func (e *Engine) logStage(runID, stage string) {
	e.log.Debug().Str("run_id", runID).Str("stage", stage).Msg("stage")
}

// groupByToken splits a history by token key, preserving input order
// inside each group.
func groupByToken(txs []domain.Transaction) map[string][]domain.Transaction {
	grouped := make(map[string][]domain.Transaction)
	for _, tx := range txs {
		key := tx.Token.Key()
		grouped[key] = append(grouped[key], tx)
	}
	return grouped
}

// sortedKeys returns map keys in ascending order so per-token work is
// scheduled deterministically.
func sortedKeys(m map[string][]domain.Transaction) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// recentRepurchases returns the tokens acquired within the wash-sale
// window before asOf.
func recentRepurchases(txs []domain.Transaction, asOf time.Time, window time.Duration) map[string]bool {
	cutoff := asOf.Add(-window)
	out := make(map[string]bool)
	for _, tx := range txs {
		if tx.Type.Acquires() && tx.Timestamp.After(cutoff) && !tx.Timestamp.After(asOf) {
			out[tx.Token.Key()] = true
		}
	}
	return out
}

// sortOpportunities orders by net benefit descending; ties break on
// token key, then acquisition time, so equal inputs always produce the
// same order.
func sortOpportunities(opps []domain.Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		if opps[i].Benefit.NetBenefitUSD != opps[j].Benefit.NetBenefitUSD {
			return opps[i].Benefit.NetBenefitUSD > opps[j].Benefit.NetBenefitUSD
		}
		ki, kj := opps[i].Token().Key(), opps[j].Token().Key()
		if ki != kj {
			return ki < kj
		}
		return opps[i].Candidate.Snapshot.Lot.AcquiredAt.Before(opps[j].Candidate.Snapshot.Lot.AcquiredAt)
	})
}

// exclusionReason maps a ledger error to its reason code.
func exclusionReason(err error) string {
	var insufficient *domain.InsufficientQuantityError
	if errors.As(err, &insufficient) {
		return ReasonOversell
	}
	return ReasonMalformedHistory
}
