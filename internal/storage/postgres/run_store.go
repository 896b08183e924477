package postgres

import (
	"context"
	"fmt"

	"tax-harvest-lab/internal/storage"
)

// RunStore implements storage.HarvestRunStore using PostgreSQL.
type RunStore struct {
	pool *Pool
}

// NewRunStore creates a new RunStore.
func NewRunStore(pool *Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Compile-time interface check.
var _ storage.HarvestRunStore = (*RunStore)(nil)

// InsertRun appends a run record with its opportunity rows atomically.
// Returns ErrDuplicateKey if run_id exists.
func (s *RunStore) InsertRun(ctx context.Context, run *storage.RunRecord, opportunities []*storage.RunOpportunity) error {
	if run == nil || run.RunID == "" {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	runQuery := `
		INSERT INTO harvest_runs (
			run_id, user_id, parameter_hash, computed_at, duration_ms, partial, opportunities, eligible, excluded
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = tx.Exec(ctx, runQuery,
		run.RunID,
		run.UserID,
		run.ParameterHash,
		run.ComputedAt,
		run.DurationMs,
		run.Partial,
		run.Opportunities,
		run.Eligible,
		run.Excluded,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert harvest run: %w", err)
	}

	oppQuery := `
		INSERT INTO harvest_run_opportunities (
			run_id, token_key, symbol, loss_usd, tax_savings_usd, total_cost_usd, net_benefit_usd, risk_level, confidence, recommended
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	for _, opp := range opportunities {
		_, err := tx.Exec(ctx, oppQuery,
			run.RunID,
			opp.TokenKey,
			opp.Symbol,
			opp.LossUSD,
			opp.TaxSavingsUSD,
			opp.TotalCostUSD,
			opp.NetBenefitUSD,
			opp.RiskLevel,
			opp.Confidence,
			opp.Recommended,
		)
		if err != nil {
			return fmt.Errorf("insert run opportunity: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetRunsByUser retrieves the most recent runs for a user, newest first.
func (s *RunStore) GetRunsByUser(ctx context.Context, userID string, limit int) ([]*storage.RunRecord, error) {
	query := `
		SELECT run_id, user_id, parameter_hash, computed_at, duration_ms, partial, opportunities, eligible, excluded
		FROM harvest_runs
		WHERE user_id = $1
		ORDER BY computed_at DESC, run_id ASC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("get runs by user: %w", err)
	}
	defer rows.Close()

	var runs []*storage.RunRecord
	for rows.Next() {
		var run storage.RunRecord
		err := rows.Scan(
			&run.RunID,
			&run.UserID,
			&run.ParameterHash,
			&run.ComputedAt,
			&run.DurationMs,
			&run.Partial,
			&run.Opportunities,
			&run.Eligible,
			&run.Excluded,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, &run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}

	return runs, nil
}

// GetOpportunities retrieves the opportunity rows of one run, ordered
// by net benefit DESC, token key ASC.
func (s *RunStore) GetOpportunities(ctx context.Context, runID string) ([]*storage.RunOpportunity, error) {
	var found string
	err := s.pool.QueryRow(ctx, `SELECT run_id FROM harvest_runs WHERE run_id = $1`, runID).Scan(&found)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("check run exists: %w", err)
	}

	query := `
		SELECT run_id, token_key, symbol, loss_usd, tax_savings_usd, total_cost_usd, net_benefit_usd, risk_level, confidence, recommended
		FROM harvest_run_opportunities
		WHERE run_id = $1
		ORDER BY net_benefit_usd DESC, token_key ASC
	`

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("get run opportunities: %w", err)
	}
	defer rows.Close()

	var opps []*storage.RunOpportunity
	for rows.Next() {
		var opp storage.RunOpportunity
		err := rows.Scan(
			&opp.RunID,
			&opp.TokenKey,
			&opp.Symbol,
			&opp.LossUSD,
			&opp.TaxSavingsUSD,
			&opp.TotalCostUSD,
			&opp.NetBenefitUSD,
			&opp.RiskLevel,
			&opp.Confidence,
			&opp.Recommended,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run opportunity row: %w", err)
		}
		opps = append(opps, &opp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run opportunity rows: %w", err)
	}

	return opps, nil
}
