package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"tax-harvest-lab/internal/domain"
	"tax-harvest-lab/internal/storage"
)

// TransactionStore is an in-memory implementation of
// storage.TransactionStore.
type TransactionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Transaction // keyed by tx_id
}

// NewTransactionStore creates a new in-memory transaction store.
func NewTransactionStore() *TransactionStore {
	return &TransactionStore{
		data: make(map[string]*domain.Transaction),
	}
}

// Insert adds a transaction. Returns ErrDuplicateKey if tx_id exists.
func (s *TransactionStore) Insert(_ context.Context, tx *domain.Transaction) error {
	if tx == nil || tx.TxID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[tx.TxID]; exists {
		return storage.ErrDuplicateKey
	}

	// Store a copy to prevent external mutation
	txCopy := *tx
	s.data[tx.TxID] = &txCopy
	return nil
}

// InsertBulk adds multiple transactions, skipping duplicates.
func (s *TransactionStore) InsertBulk(ctx context.Context, txs []*domain.Transaction) (int, error) {
	inserted := 0
	for _, tx := range txs {
		err := s.Insert(ctx, tx)
		if errors.Is(err, storage.ErrDuplicateKey) {
			continue
		}
		if err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}

// GetByUser retrieves all transactions for a user, ordered by
// (timestamp, index) ASC.
func (s *TransactionStore) GetByUser(_ context.Context, userID string) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Transaction
	for _, tx := range s.data {
		if tx.UserID == userID {
			txCopy := *tx
			result = append(result, &txCopy)
		}
	}
	sortTransactions(result)
	return result, nil
}

// GetByUserToken retrieves a user's transactions for one token, ordered
// by (timestamp, index) ASC.
func (s *TransactionStore) GetByUserToken(_ context.Context, userID string, token domain.Token) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := token.Key()
	var result []*domain.Transaction
	for _, tx := range s.data {
		if tx.UserID == userID && tx.Token.Key() == key {
			txCopy := *tx
			result = append(result, &txCopy)
		}
	}
	sortTransactions(result)
	return result, nil
}

func sortTransactions(txs []*domain.Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].Timestamp.Equal(txs[j].Timestamp) {
			return txs[i].Timestamp.Before(txs[j].Timestamp)
		}
		return txs[i].Index < txs[j].Index
	})
}

var _ storage.TransactionStore = (*TransactionStore)(nil)
