package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"tax-harvest-lab/internal/storage"
)

func makeRun(id, user string, at time.Time) *storage.RunRecord {
	return &storage.RunRecord{
		RunID:         id,
		UserID:        user,
		ParameterHash: "hash",
		ComputedAt:    at,
		Opportunities: 2,
	}
}

func TestRunStore_InsertAndGet(t *testing.T) {
	store := NewRunStore()
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	opps := []*storage.RunOpportunity{
		{TokenKey: "ethereum:0xb", NetBenefitUSD: 10},
		{TokenKey: "ethereum:0xa", NetBenefitUSD: 40},
	}
	if err := store.InsertRun(ctx, makeRun("r1", "u1", at), opps); err != nil {
		t.Fatalf("InsertRun failed: %v", err)
	}

	if err := store.InsertRun(ctx, makeRun("r1", "u1", at), nil); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey on re-insert, got %v", err)
	}

	got, err := store.GetOpportunities(ctx, "r1")
	if err != nil {
		t.Fatalf("GetOpportunities failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if got[0].NetBenefitUSD != 40 {
		t.Errorf("rows not ordered by net benefit desc: %v", got)
	}
	if got[0].RunID != "r1" {
		t.Errorf("RunID not stamped on rows: %q", got[0].RunID)
	}
}

func TestRunStore_GetRunsByUserNewestFirst(t *testing.T) {
	store := NewRunStore()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	store.InsertRun(ctx, makeRun("r1", "u1", base), nil)
	store.InsertRun(ctx, makeRun("r2", "u1", base.Add(time.Hour)), nil)
	store.InsertRun(ctx, makeRun("r3", "u2", base.Add(2*time.Hour)), nil)

	got, err := store.GetRunsByUser(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("GetRunsByUser failed: %v", err)
	}
	if len(got) != 2 || got[0].RunID != "r2" {
		t.Errorf("runs = %v, want [r2 r1]", got)
	}

	limited, _ := store.GetRunsByUser(ctx, "u1", 1)
	if len(limited) != 1 {
		t.Errorf("limit ignored, got %d runs", len(limited))
	}
}

func TestRunStore_MissingRun(t *testing.T) {
	store := NewRunStore()
	_, err := store.GetOpportunities(context.Background(), "nope")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
