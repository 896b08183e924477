package memory

import (
	"context"
	"sort"
	"sync"

	"tax-harvest-lab/internal/storage"
)

// RunStore is an in-memory implementation of storage.HarvestRunStore.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]*storage.RunRecord        // keyed by run_id
	opps map[string][]*storage.RunOpportunity // keyed by run_id
}

// NewRunStore creates a new in-memory run store.
func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]*storage.RunRecord),
		opps: make(map[string][]*storage.RunOpportunity),
	}
}

// InsertRun appends a run record with its opportunity rows.
func (s *RunStore) InsertRun(_ context.Context, run *storage.RunRecord, opportunities []*storage.RunOpportunity) error {
	if run == nil || run.RunID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.RunID]; exists {
		return storage.ErrDuplicateKey
	}

	runCopy := *run
	s.runs[run.RunID] = &runCopy

	copies := make([]*storage.RunOpportunity, 0, len(opportunities))
	for _, o := range opportunities {
		oCopy := *o
		oCopy.RunID = run.RunID
		copies = append(copies, &oCopy)
	}
	s.opps[run.RunID] = copies
	return nil
}

// GetRunsByUser retrieves the most recent runs for a user, newest first.
func (s *RunStore) GetRunsByUser(_ context.Context, userID string, limit int) ([]*storage.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*storage.RunRecord
	for _, run := range s.runs {
		if run.UserID == userID {
			runCopy := *run
			result = append(result, &runCopy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].ComputedAt.Equal(result[j].ComputedAt) {
			return result[i].ComputedAt.After(result[j].ComputedAt)
		}
		return result[i].RunID < result[j].RunID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// GetOpportunities retrieves the opportunity rows of one run.
func (s *RunStore) GetOpportunities(_ context.Context, runID string) ([]*storage.RunOpportunity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, exists := s.opps[runID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	result := make([]*storage.RunOpportunity, 0, len(rows))
	for _, o := range rows {
		oCopy := *o
		result = append(result, &oCopy)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].NetBenefitUSD != result[j].NetBenefitUSD {
			return result[i].NetBenefitUSD > result[j].NetBenefitUSD
		}
		return result[i].TokenKey < result[j].TokenKey
	})
	return result, nil
}

var _ storage.HarvestRunStore = (*RunStore)(nil)
