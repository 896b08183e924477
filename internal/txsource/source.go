// Package txsource provides transaction history sources for the
// opportunity engine: a store-backed source for persisted history and a
// failover source that degrades to a secondary provider when the
// primary keeps failing.
package txsource

import (
	"context"

	"tax-harvest-lab/internal/domain"
)

// TransactionSource provides a user's transaction history. Records may
// be unordered; the ledger enforces deterministic ordering.
type TransactionSource interface {
	Fetch(ctx context.Context, userID string) ([]*domain.Transaction, error)
}
