package txsource

import (
	"context"
	"fmt"

	"tax-harvest-lab/internal/domain"
	"tax-harvest-lab/internal/storage"
)

// StoreSource serves transaction history from a storage.TransactionStore.
type StoreSource struct {
	store storage.TransactionStore
}

// NewStoreSource creates a new StoreSource.
func NewStoreSource(store storage.TransactionStore) *StoreSource {
	return &StoreSource{store: store}
}

// Compile-time interface check.
var _ TransactionSource = (*StoreSource)(nil)

// Fetch returns the user's persisted transactions, ordered by
// (timestamp, ingestion index).
func (s *StoreSource) Fetch(ctx context.Context, userID string) ([]*domain.Transaction, error) {
	txs, err := s.store.GetByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch transactions from store: %w", err)
	}
	return txs, nil
}
