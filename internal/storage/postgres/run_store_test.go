package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tax-harvest-lab/internal/storage"
)

func createTestRun(runID, userID string, at time.Time) *storage.RunRecord {
	return &storage.RunRecord{
		RunID:         runID,
		UserID:        userID,
		ParameterHash: "abc123",
		ComputedAt:    at,
		DurationMs:    42,
		Partial:       false,
		Opportunities: 2,
		Eligible:      2,
		Excluded:      1,
	}
}

func createTestOpportunity(tokenKey, symbol string, netBenefit float64) *storage.RunOpportunity {
	return &storage.RunOpportunity{
		TokenKey:      tokenKey,
		Symbol:        symbol,
		LossUSD:       200.0,
		TaxSavingsUSD: 48.0,
		TotalCostUSD:  9.0,
		NetBenefitUSD: netBenefit,
		RiskLevel:     "LOW",
		Confidence:    95,
		Recommended:   netBenefit > 0,
	}
}

func TestRunStore_InsertAndGetOpportunities(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewRunStore(pool)

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	run := createTestRun("run-001", "user-1", at)
	opps := []*storage.RunOpportunity{
		createTestOpportunity("ethereum:0xbbb", "UNI", 10.0),
		createTestOpportunity("ethereum:0xaaa", "WETH", 39.0),
	}

	err := store.InsertRun(ctx, run, opps)
	require.NoError(t, err)

	retrieved, err := store.GetOpportunities(ctx, "run-001")
	require.NoError(t, err)
	require.Len(t, retrieved, 2)

	assert.Equal(t, "ethereum:0xaaa", retrieved[0].TokenKey)
	assert.InDelta(t, 39.0, retrieved[0].NetBenefitUSD, 0.0001)
	assert.Equal(t, "run-001", retrieved[0].RunID)
	assert.Equal(t, "LOW", retrieved[0].RiskLevel)
	assert.Equal(t, 95, retrieved[0].Confidence)
	assert.True(t, retrieved[0].Recommended)
}

func TestRunStore_InsertDuplicate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewRunStore(pool)

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	run := createTestRun("run-dup", "user-1", at)

	require.NoError(t, store.InsertRun(ctx, run, nil))

	err := store.InsertRun(ctx, run, nil)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestRunStore_GetRunsByUserNewestFirst(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewRunStore(pool)

	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.InsertRun(ctx, createTestRun("run-a", "user-1", base), nil))
	require.NoError(t, store.InsertRun(ctx, createTestRun("run-b", "user-1", base.Add(time.Hour)), nil))
	require.NoError(t, store.InsertRun(ctx, createTestRun("run-c", "user-2", base.Add(2*time.Hour)), nil))

	runs, err := store.GetRunsByUser(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "run-b", runs[0].RunID)
	assert.Equal(t, "run-a", runs[1].RunID)
	assert.Equal(t, int64(42), runs[0].DurationMs)
	assert.Equal(t, 2, runs[0].Opportunities)

	limited, err := store.GetRunsByUser(ctx, "user-1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRunStore_GetOpportunitiesNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := NewRunStore(pool).GetOpportunities(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
