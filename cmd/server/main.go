// Package main runs the harvest service: transaction ingestion over
// HTTP, on-demand opportunity computation, run history, and Prometheus
// metrics, with optional scheduled warm runs.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tax-harvest-lab/internal/config"
	"tax-harvest-lab/internal/costs"
	costsstub "tax-harvest-lab/internal/costs/stub"
	"tax-harvest-lab/internal/domain"
	"tax-harvest-lab/internal/idhash"
	"tax-harvest-lab/internal/observability"
	"tax-harvest-lab/internal/orchestrator"
	"tax-harvest-lab/internal/pricing"
	"tax-harvest-lab/internal/risk"
	riskstub "tax-harvest-lab/internal/risk/stub"
	"tax-harvest-lab/internal/storage"
	chstore "tax-harvest-lab/internal/storage/clickhouse"
	"tax-harvest-lab/internal/storage/memory"
	"tax-harvest-lab/internal/storage/migrations"
	pgstore "tax-harvest-lab/internal/storage/postgres"
	"tax-harvest-lab/internal/tradability"
	tradstub "tax-harvest-lab/internal/tradability/stub"
	"tax-harvest-lab/internal/txsource"
)

const providerCacheTTL = 10 * time.Minute

// Static per-chain gas cost table used until real chain fee providers
// are wired in. The gas estimator degrades to its heuristic path when
// a chain is missing here.
// TODO: replace with per-chain RPC fee providers.
var staticGasUSD = map[domain.Chain]float64{
	domain.ChainEthereum: 5.00,
	domain.ChainPolygon:  0.05,
	domain.ChainArbitrum: 0.30,
	domain.ChainBase:     0.10,
	domain.ChainSolana:   0.01,
}

type server struct {
	engine   *orchestrator.Engine
	txStore  storage.TransactionStore
	runStore storage.HarvestRunStore
	defaults domain.HarvestConfig
	log      zerolog.Logger
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (defaults apply when empty)")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	log := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func newLogger(lc config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(lc.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var out zerolog.Logger
	if lc.Format == "json" {
		out = zerolog.New(os.Stdout)
	} else {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return out.Level(level).With().Timestamp().Logger()
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	txStore, runStore, err := buildStores(ctx, cfg, log)
	if err != nil {
		return err
	}

	oracle, err := buildOracle(ctx, cfg, log)
	if err != nil {
		return err
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.Providers.RateLimitRPS), 1)
	gasEst := costs.NewGasEstimator(costsstub.NewFeeSource(staticGasUSD), limiter, log)
	slipEst := costs.NewSlippageEstimator(costsstub.NewQuoteSource(0.01), limiter, log)
	estimator := costs.NewEstimator(gasEst, slipEst, costs.DefaultFeeSchedule(), cfg.Engine.Workers)

	engine := orchestrator.New(orchestrator.Options{
		Source:        txsource.NewStoreSource(txStore),
		Oracle:        oracle,
		Risk:          risk.NewAssessor(riskstub.NewProvider(nil), providerCacheTTL, log),
		Costs:         estimator,
		Tradability:   tradability.NewChecker(tradstub.NewVenue(), providerCacheTTL, log),
		RunStore:      runStore,
		Workers:       cfg.Engine.Workers,
		LookupTimeout: cfg.LookupTimeout(),
		RunDeadline:   cfg.RunDeadline(),
		ResultTTL:     cfg.ResultTTL(),
		Log:           log,
	})

	s := &server{
		engine:   engine,
		txStore:  txStore,
		runStore: runStore,
		defaults: cfg.HarvestDefaults(),
		log:      log.With().Str("component", "http").Logger(),
	}

	var sched *cron.Cron
	if cfg.WarmRuns.Cron != "" {
		sched = cron.New()
		if _, err := sched.AddFunc(cfg.WarmRuns.Cron, func() {
			s.warmRuns(ctx, cfg.WarmRuns.Users)
		}); err != nil {
			return fmt.Errorf("warm run schedule: %w", err)
		}
		sched.Start()
		defer sched.Stop()
		log.Info().Str("cron", cfg.WarmRuns.Cron).Int("users", len(cfg.WarmRuns.Users)).
			Msg("warm runs scheduled")
	}

	httpSrv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: s.routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("http server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func buildStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storage.TransactionStore, storage.HarvestRunStore, error) {
	var txStore storage.TransactionStore
	var runStore storage.HarvestRunStore

	if dsn := cfg.Storage.PostgresDSN; dsn != "" {
		pool, err := pgstore.NewPool(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		txStore = pgstore.NewTransactionStore(pool)
		runStore = pgstore.NewRunStore(pool)
		log.Info().Msg("using postgres storage")
	} else {
		txStore = memory.NewTransactionStore()
		runStore = memory.NewRunStore()
		log.Info().Msg("using in-memory storage")
	}

	// ClickHouse, when configured, replaces the run history sink so
	// audit records land in the analytics database.
	if dsn := cfg.Storage.ClickhouseDSN; dsn != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		runStore = chstore.NewRunHistoryStore(conn)
		log.Info().Msg("using clickhouse run history")
	}

	return txStore, runStore, nil
}

func buildOracle(ctx context.Context, cfg *config.Config, log zerolog.Logger) (pricing.Oracle, error) {
	if cfg.Providers.PriceOracleURL == "" {
		return nil, errors.New("providers.price_oracle_url is required")
	}
	httpOracle := pricing.NewHTTPOracle(cfg.Providers.PriceOracleURL)
	if cfg.Providers.PriceFeedWSURL == "" {
		return httpOracle, nil
	}
	feed := pricing.NewFeed(cfg.Providers.PriceFeedWSURL, pricing.DefaultFeedConfig(), httpOracle, log)
	go func() {
		if err := feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("price feed stopped")
		}
	}()
	return feed, nil
}

func (s *server) warmRuns(ctx context.Context, users []string) {
	cfg := s.defaults
	cfg.ForceRefresh = true
	for _, userID := range users {
		if _, err := s.engine.TryCompute(ctx, userID, cfg); err != nil {
			if errors.Is(err, domain.ErrComputationInFlight) {
				continue
			}
			s.log.Warn().Err(err).Str("user_id", userID).Msg("warm run failed")
		}
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.Handle("GET /metrics", observability.Handler())
	mux.HandleFunc("GET /v1/users/{userID}/opportunities", s.handleOpportunities)
	mux.HandleFunc("POST /v1/users/{userID}/opportunities", s.handleOpportunities)
	mux.HandleFunc("GET /v1/users/{userID}/runs", s.handleRuns)
	mux.HandleFunc("GET /v1/runs/{runID}/opportunities", s.handleRunOpportunities)
	mux.HandleFunc("POST /v1/users/{userID}/transactions", s.handleIngest)
	return mux
}

// opportunityParams carries optional per-request overrides of the
// configured harvest defaults.
type opportunityParams struct {
	TaxRate           *float64 `json:"tax_rate,omitempty"`
	MinLossUSD        *float64 `json:"min_loss_usd,omitempty"`
	MinLiquidityScore *float64 `json:"min_liquidity_score,omitempty"`
	MinRiskScore      *float64 `json:"min_risk_score,omitempty"`
	MaxGasRatio       *float64 `json:"max_gas_ratio,omitempty"`
	MaxRiskLevel      string   `json:"max_risk_level,omitempty"`
	ExcludeWashSale   *bool    `json:"exclude_wash_sale,omitempty"`
	ForceRefresh      bool     `json:"force_refresh,omitempty"`
	ReportAllChecks   bool     `json:"report_all_checks,omitempty"`
	DisabledChecks    []string `json:"disabled_checks,omitempty"`
}

func (p *opportunityParams) apply(cfg domain.HarvestConfig) domain.HarvestConfig {
	if p.TaxRate != nil {
		cfg.TaxRate = *p.TaxRate
	}
	if p.MinLossUSD != nil {
		cfg.MinLossUSD = *p.MinLossUSD
	}
	if p.MinLiquidityScore != nil {
		cfg.MinLiquidityScore = *p.MinLiquidityScore
	}
	if p.MinRiskScore != nil {
		cfg.MinRiskScore = *p.MinRiskScore
	}
	if p.MaxGasRatio != nil {
		cfg.MaxGasRatio = *p.MaxGasRatio
	}
	if p.MaxRiskLevel != "" {
		cfg.MaxRiskLevel = domain.RiskLevel(p.MaxRiskLevel)
	}
	if p.ExcludeWashSale != nil {
		cfg.ExcludeWashSale = *p.ExcludeWashSale
	}
	cfg.ForceRefresh = p.ForceRefresh
	cfg.ReportAllChecks = p.ReportAllChecks
	cfg.DisabledChecks = p.DisabledChecks
	return cfg
}

func (s *server) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	var params opportunityParams
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
			return
		}
	} else {
		parseQueryParams(r, &params)
	}

	report, err := s.engine.Compute(r.Context(), userID, params.apply(s.defaults))
	if err != nil {
		s.writeComputeError(w, userID, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportResponse(report))
}

func parseQueryParams(r *http.Request, params *opportunityParams) {
	q := r.URL.Query()
	if v, err := strconv.ParseFloat(q.Get("tax_rate"), 64); err == nil {
		params.TaxRate = &v
	}
	if v, err := strconv.ParseFloat(q.Get("min_loss_usd"), 64); err == nil {
		params.MinLossUSD = &v
	}
	if v, err := strconv.ParseFloat(q.Get("min_liquidity_score"), 64); err == nil {
		params.MinLiquidityScore = &v
	}
	if v, err := strconv.ParseFloat(q.Get("min_risk_score"), 64); err == nil {
		params.MinRiskScore = &v
	}
	if v, err := strconv.ParseFloat(q.Get("max_gas_ratio"), 64); err == nil {
		params.MaxGasRatio = &v
	}
	if v := q.Get("max_risk_level"); v != "" {
		params.MaxRiskLevel = v
	}
	if v, err := strconv.ParseBool(q.Get("exclude_wash_sale")); err == nil {
		params.ExcludeWashSale = &v
	}
	if v, err := strconv.ParseBool(q.Get("force_refresh")); err == nil {
		params.ForceRefresh = v
	}
	if v, err := strconv.ParseBool(q.Get("report_all_checks")); err == nil {
		params.ReportAllChecks = v
	}
	if v := q.Get("disabled_checks"); v != "" {
		params.DisabledChecks = strings.Split(v, ",")
	}
}

func (s *server) writeComputeError(w http.ResponseWriter, userID string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, domain.ErrComputationInFlight):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, domain.ErrExternalService):
		writeError(w, http.StatusBadGateway, err)
	default:
		s.log.Error().Err(err).Str("user_id", userID).Msg("computation failed")
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *server) handleRuns(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	limit := 20
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}

	runs, err := s.runStore.GetRunsByUser(r.Context(), userID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]runJSON, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunJSON(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (s *server) handleRunOpportunities(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")

	opps, err := s.runStore.GetOpportunities(r.Context(), runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]runOpportunityJSON, 0, len(opps))
	for _, opp := range opps {
		out = append(out, toRunOpportunityJSON(opp))
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "opportunities": out})
}

// transactionJSON is the wire form of one history entry.
type transactionJSON struct {
	TxID         string    `json:"tx_id,omitempty"`
	Chain        string    `json:"chain"`
	Symbol       string    `json:"symbol"`
	Address      string    `json:"address"`
	Type         string    `json:"type"`
	Quantity     float64   `json:"quantity"`
	UnitPriceUSD float64   `json:"unit_price_usd"`
	Timestamp    time.Time `json:"timestamp"`
}

func (s *server) handleIngest(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	var body struct {
		Transactions []transactionJSON `json:"transactions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	txs := make([]*domain.Transaction, 0, len(body.Transactions))
	for i, in := range body.Transactions {
		tx := &domain.Transaction{
			TxID:   in.TxID,
			UserID: userID,
			Token: domain.Token{
				Chain:   domain.Chain(in.Chain),
				Symbol:  in.Symbol,
				Address: in.Address,
			},
			Type:         domain.TxType(in.Type),
			Quantity:     in.Quantity,
			UnitPriceUSD: in.UnitPriceUSD,
			Timestamp:    in.Timestamp,
			Index:        i,
		}
		if err := tx.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("transaction %d: %w", i, err))
			return
		}
		if err := tx.Token.ValidateAddress(); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("transaction %d: %w", i, err))
			return
		}
		if tx.TxID == "" {
			tx.TxID = idhash.ComputeTransactionID(tx)
		}
		txs = append(txs, tx)
	}

	inserted, err := s.txStore.InsertBulk(r.Context(), txs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	observability.RecordTransactionsIngested(inserted)
	writeJSON(w, http.StatusOK, map[string]any{
		"received": len(txs),
		"inserted": inserted,
	})
}

// Wire representation of a computed report.
type reportResponse struct {
	RunID         string            `json:"run_id"`
	UserID        string            `json:"user_id"`
	ParameterHash string            `json:"parameter_hash"`
	ComputedAt    time.Time         `json:"computed_at"`
	DurationMs    int64             `json:"duration_ms"`
	Partial       bool              `json:"partial"`
	FromCache     bool              `json:"from_cache"`
	Opportunities []opportunityJSON `json:"opportunities"`
	Excluded      []excludedJSON    `json:"excluded"`
}

type opportunityJSON struct {
	TokenKey          string    `json:"token_key"`
	Symbol            string    `json:"symbol"`
	AcquiredAt        time.Time `json:"acquired_at"`
	Quantity          float64   `json:"quantity"`
	CostBasisUSD      float64   `json:"cost_basis_usd"`
	CurrentPriceUSD   float64   `json:"current_price_usd"`
	LossUSD           float64   `json:"loss_usd"`
	HoldingPeriodDays int       `json:"holding_period_days"`
	IsLongTerm        bool      `json:"is_long_term"`
	RiskLevel         string    `json:"risk_level"`
	GasCostUSD        float64   `json:"gas_cost_usd"`
	SlippageCostUSD   float64   `json:"slippage_cost_usd"`
	TradingFeeUSD     float64   `json:"trading_fee_usd"`
	CostConfidence    int       `json:"cost_confidence"`
	TaxSavingsUSD     float64   `json:"tax_savings_usd"`
	TotalCostUSD      float64   `json:"total_cost_usd"`
	NetBenefitUSD     float64   `json:"net_benefit_usd"`
	EfficiencyPct     float64   `json:"efficiency_pct"`
	Recommended       bool      `json:"recommended"`
	FailedChecks      []string  `json:"failed_checks,omitempty"`
}

type excludedJSON struct {
	TokenKey string `json:"token_key"`
	Symbol   string `json:"symbol"`
	Reason   string `json:"reason"`
}

func toReportResponse(report *domain.HarvestReport) reportResponse {
	resp := reportResponse{
		RunID:         report.RunID,
		UserID:        report.UserID,
		ParameterHash: report.ParameterHash,
		ComputedAt:    report.ComputedAt,
		DurationMs:    report.Duration.Milliseconds(),
		Partial:       report.Partial,
		FromCache:     report.FromCache,
		Opportunities: make([]opportunityJSON, 0, len(report.Opportunities)),
		Excluded:      make([]excludedJSON, 0, len(report.Excluded)),
	}
	for i := range report.Opportunities {
		opp := &report.Opportunities[i]
		snap := opp.Candidate.Snapshot
		resp.Opportunities = append(resp.Opportunities, opportunityJSON{
			TokenKey:          snap.Lot.Token.Key(),
			Symbol:            snap.Lot.Token.Symbol,
			AcquiredAt:        snap.Lot.AcquiredAt,
			Quantity:          snap.Lot.RemainingQuantity,
			CostBasisUSD:      snap.Lot.CostBasisUSD(),
			CurrentPriceUSD:   snap.CurrentUnitPriceUSD,
			LossUSD:           snap.LossUSD(),
			HoldingPeriodDays: snap.HoldingPeriodDays,
			IsLongTerm:        snap.IsLongTerm,
			RiskLevel:         string(opp.Candidate.Risk.Level),
			GasCostUSD:        opp.Cost.GasCostUSD,
			SlippageCostUSD:   opp.Cost.SlippageCostUSD,
			TradingFeeUSD:     opp.Cost.TradingFeeUSD,
			CostConfidence:    opp.Cost.Confidence,
			TaxSavingsUSD:     opp.Benefit.TaxSavingsUSD,
			TotalCostUSD:      opp.Benefit.TotalCostUSD,
			NetBenefitUSD:     opp.Benefit.NetBenefitUSD,
			EfficiencyPct:     opp.Benefit.EfficiencyPct,
			Recommended:       opp.Benefit.Recommended,
			FailedChecks:      opp.Eligibility.FailedChecks,
		})
	}
	for _, ex := range report.Excluded {
		resp.Excluded = append(resp.Excluded, excludedJSON{
			TokenKey: ex.Token.Key(),
			Symbol:   ex.Token.Symbol,
			Reason:   ex.Reason,
		})
	}
	return resp
}

type runJSON struct {
	RunID         string    `json:"run_id"`
	ParameterHash string    `json:"parameter_hash"`
	ComputedAt    time.Time `json:"computed_at"`
	DurationMs    int64     `json:"duration_ms"`
	Partial       bool      `json:"partial"`
	Opportunities int       `json:"opportunities"`
	Eligible      int       `json:"eligible"`
	Excluded      int       `json:"excluded"`
}

func toRunJSON(run *storage.RunRecord) runJSON {
	return runJSON{
		RunID:         run.RunID,
		ParameterHash: run.ParameterHash,
		ComputedAt:    run.ComputedAt,
		DurationMs:    run.DurationMs,
		Partial:       run.Partial,
		Opportunities: run.Opportunities,
		Eligible:      run.Eligible,
		Excluded:      run.Excluded,
	}
}

type runOpportunityJSON struct {
	TokenKey      string  `json:"token_key"`
	Symbol        string  `json:"symbol"`
	LossUSD       float64 `json:"loss_usd"`
	TaxSavingsUSD float64 `json:"tax_savings_usd"`
	TotalCostUSD  float64 `json:"total_cost_usd"`
	NetBenefitUSD float64 `json:"net_benefit_usd"`
	RiskLevel     string  `json:"risk_level"`
	Confidence    int     `json:"confidence"`
	Recommended   bool    `json:"recommended"`
}

func toRunOpportunityJSON(opp *storage.RunOpportunity) runOpportunityJSON {
	return runOpportunityJSON{
		TokenKey:      opp.TokenKey,
		Symbol:        opp.Symbol,
		LossUSD:       opp.LossUSD,
		TaxSavingsUSD: opp.TaxSavingsUSD,
		TotalCostUSD:  opp.TotalCostUSD,
		NetBenefitUSD: opp.NetBenefitUSD,
		RiskLevel:     opp.RiskLevel,
		Confidence:    opp.Confidence,
		Recommended:   opp.Recommended,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
