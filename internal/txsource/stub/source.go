// Package stub provides a deterministic transaction source for tests
// and the fixture CLI.
package stub

import (
	"context"
	"sync"

	"tax-harvest-lab/internal/domain"
	"tax-harvest-lab/internal/txsource"
)

// Source returns preconfigured transactions per user.
type Source struct {
	mu    sync.Mutex
	txs   map[string][]*domain.Transaction
	err   error
	calls int
}

// NewSource creates a stub with the given per-user histories.
func NewSource(txs map[string][]*domain.Transaction) *Source {
	if txs == nil {
		txs = make(map[string][]*domain.Transaction)
	}
	return &Source{txs: txs}
}

// FailWith makes every subsequent call return err.
func (s *Source) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Calls returns how many fetches were made.
func (s *Source) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Fetch returns copies of the configured transactions for the user.
func (s *Source) Fetch(_ context.Context, userID string) ([]*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([]*domain.Transaction, 0, len(s.txs[userID]))
	for _, tx := range s.txs[userID] {
		txCopy := *tx
		out = append(out, &txCopy)
	}
	return out, nil
}

var _ txsource.TransactionSource = (*Source)(nil)
