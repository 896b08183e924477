package storage

import (
	"context"
	"time"

	"tax-harvest-lab/internal/domain"
)

// TransactionStore provides access to transaction history storage.
// Records are append-only; the deterministic TxID dedupes re-ingestion.
type TransactionStore interface {
	// Insert adds a transaction. Returns ErrDuplicateKey if tx_id exists.
	Insert(ctx context.Context, tx *domain.Transaction) error

	// InsertBulk adds multiple transactions, skipping duplicates.
	// Returns the number actually inserted.
	InsertBulk(ctx context.Context, txs []*domain.Transaction) (int, error)

	// GetByUser retrieves all transactions for a user, ordered by
	// (timestamp, ingestion index) ASC.
	GetByUser(ctx context.Context, userID string) ([]*domain.Transaction, error)

	// GetByUserToken retrieves a user's transactions for one token,
	// ordered by (timestamp, ingestion index) ASC.
	GetByUserToken(ctx context.Context, userID string, token domain.Token) ([]*domain.Transaction, error)
}

// RunRecord is the persisted audit trail of one computation run.
type RunRecord struct {
	RunID         string
	UserID        string
	ParameterHash string
	ComputedAt    time.Time
	DurationMs    int64
	Partial       bool
	Opportunities int
	Eligible      int
	Excluded      int
}

// RunOpportunity is one opportunity row inside a run record.
type RunOpportunity struct {
	RunID         string
	TokenKey      string
	Symbol        string
	LossUSD       float64
	TaxSavingsUSD float64
	TotalCostUSD  float64
	NetBenefitUSD float64
	RiskLevel     string
	Confidence    int
	Recommended   bool
}

// HarvestRunStore persists the audit trail of computation runs.
type HarvestRunStore interface {
	// InsertRun appends a run record with its opportunity rows.
	// Returns ErrDuplicateKey if run_id exists.
	InsertRun(ctx context.Context, run *RunRecord, opportunities []*RunOpportunity) error

	// GetRunsByUser retrieves the most recent runs for a user, newest
	// first, limited to limit.
	GetRunsByUser(ctx context.Context, userID string, limit int) ([]*RunRecord, error)

	// GetOpportunities retrieves the opportunity rows of one run,
	// ordered by net benefit DESC, token key ASC.
	GetOpportunities(ctx context.Context, runID string) ([]*RunOpportunity, error)
}
