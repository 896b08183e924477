package clickhouse

import (
	"context"
	"fmt"
	"time"

	"tax-harvest-lab/internal/storage"
)

// RunHistoryStore implements storage.HarvestRunStore using ClickHouse.
// MergeTree does not enforce uniqueness, so run_id collisions are
// detected with an explicit existence check before insert.
type RunHistoryStore struct {
	conn *Conn
}

// NewRunHistoryStore creates a new RunHistoryStore.
func NewRunHistoryStore(conn *Conn) *RunHistoryStore {
	return &RunHistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.HarvestRunStore = (*RunHistoryStore)(nil)

// UserTotals aggregates a user's run history.
type UserTotals struct {
	Runs             uint64
	Opportunities    uint64
	TotalNetBenefit  float64
	TotalTaxSavings  float64
	RecommendedCount uint64
}

// InsertRun appends a run record with its opportunity rows.
func (s *RunHistoryStore) InsertRun(ctx context.Context, run *storage.RunRecord, opportunities []*storage.RunOpportunity) error {
	if run == nil || run.RunID == "" {
		return storage.ErrInvalidInput
	}

	exists, err := s.runExists(ctx, run.RunID)
	if err != nil {
		return fmt.Errorf("check run exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	query := `
		INSERT INTO harvest_runs (
			run_id, user_id, parameter_hash, computed_at, duration_ms, partial, opportunities, eligible, excluded
		)
	`
	if err := s.conn.Exec(ctx, query+" VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		run.RunID,
		run.UserID,
		run.ParameterHash,
		run.ComputedAt,
		uint64(run.DurationMs),
		run.Partial,
		uint32(run.Opportunities),
		uint32(run.Eligible),
		uint32(run.Excluded),
	); err != nil {
		return fmt.Errorf("insert harvest run: %w", err)
	}

	if len(opportunities) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO harvest_run_opportunities (
			run_id, computed_at, token_key, symbol, loss_usd, tax_savings_usd, total_cost_usd, net_benefit_usd, risk_level, confidence, recommended
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, opp := range opportunities {
		err = batch.Append(
			run.RunID, run.ComputedAt, opp.TokenKey, opp.Symbol,
			opp.LossUSD, opp.TaxSavingsUSD, opp.TotalCostUSD, opp.NetBenefitUSD,
			opp.RiskLevel, uint8(opp.Confidence), opp.Recommended,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetRunsByUser retrieves the most recent runs for a user, newest first.
func (s *RunHistoryStore) GetRunsByUser(ctx context.Context, userID string, limit int) ([]*storage.RunRecord, error) {
	query := `
		SELECT run_id, user_id, parameter_hash, computed_at, duration_ms, partial, opportunities, eligible, excluded
		FROM harvest_runs
		WHERE user_id = ?
		ORDER BY computed_at DESC, run_id ASC
		LIMIT ?
	`

	rows, err := s.conn.Query(ctx, query, userID, uint64(limit))
	if err != nil {
		return nil, fmt.Errorf("query runs by user: %w", err)
	}
	defer rows.Close()

	var runs []*storage.RunRecord
	for rows.Next() {
		var (
			run        storage.RunRecord
			computedAt time.Time
			durationMs uint64
			opps       uint32
			eligible   uint32
			excluded   uint32
		)
		err := rows.Scan(
			&run.RunID, &run.UserID, &run.ParameterHash, &computedAt,
			&durationMs, &run.Partial, &opps, &eligible, &excluded,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		run.ComputedAt = computedAt
		run.DurationMs = int64(durationMs)
		run.Opportunities = int(opps)
		run.Eligible = int(eligible)
		run.Excluded = int(excluded)
		runs = append(runs, &run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}

	return runs, nil
}

// GetOpportunities retrieves the opportunity rows of one run, ordered
// by net benefit DESC, token key ASC.
func (s *RunHistoryStore) GetOpportunities(ctx context.Context, runID string) ([]*storage.RunOpportunity, error) {
	exists, err := s.runExists(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("check run exists: %w", err)
	}
	if !exists {
		return nil, storage.ErrNotFound
	}

	query := `
		SELECT run_id, token_key, symbol, loss_usd, tax_savings_usd, total_cost_usd, net_benefit_usd, risk_level, confidence, recommended
		FROM harvest_run_opportunities
		WHERE run_id = ?
		ORDER BY net_benefit_usd DESC, token_key ASC
	`

	rows, err := s.conn.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query run opportunities: %w", err)
	}
	defer rows.Close()

	var opps []*storage.RunOpportunity
	for rows.Next() {
		var (
			opp        storage.RunOpportunity
			confidence uint8
		)
		err := rows.Scan(
			&opp.RunID, &opp.TokenKey, &opp.Symbol,
			&opp.LossUSD, &opp.TaxSavingsUSD, &opp.TotalCostUSD, &opp.NetBenefitUSD,
			&opp.RiskLevel, &confidence, &opp.Recommended,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run opportunity row: %w", err)
		}
		opp.Confidence = int(confidence)
		opps = append(opps, &opp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run opportunity rows: %w", err)
	}

	return opps, nil
}

// GetUserTotals aggregates across all of a user's recorded runs.
func (s *RunHistoryStore) GetUserTotals(ctx context.Context, userID string) (*UserTotals, error) {
	var totals UserTotals

	err := s.conn.QueryRow(ctx, `
		SELECT count(*) FROM harvest_runs WHERE user_id = ?
	`, userID).Scan(&totals.Runs)
	if err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}

	err = s.conn.QueryRow(ctx, `
		SELECT
			count(*),
			coalesce(sum(net_benefit_usd), 0),
			coalesce(sum(tax_savings_usd), 0),
			countIf(recommended)
		FROM harvest_run_opportunities
		WHERE run_id IN (SELECT run_id FROM harvest_runs WHERE user_id = ?)
	`, userID).Scan(
		&totals.Opportunities,
		&totals.TotalNetBenefit,
		&totals.TotalTaxSavings,
		&totals.RecommendedCount,
	)
	if err != nil {
		return nil, fmt.Errorf("aggregate opportunities: %w", err)
	}

	return &totals, nil
}

// runExists checks if a run with the given id exists.
func (s *RunHistoryStore) runExists(ctx context.Context, runID string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `SELECT count(*) FROM harvest_runs WHERE run_id = ?`, runID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
