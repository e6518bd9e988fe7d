package database

import (
	"context"
	"testing"
	"time"
)

// TestPricesValid covers the directional price invariant on both sides.
func TestPricesValid(t *testing.T) {
	long := &Trade{Side: SideLong, EntryPrice: 100, StopPrice: 97, TakeProfit: 109}
	if !long.PricesValid() {
		t.Error("Valid long rejected")
	}

	short := &Trade{Side: SideShort, EntryPrice: 100, StopPrice: 103, TakeProfit: 91}
	if !short.PricesValid() {
		t.Error("Valid short rejected")
	}

	bad := []*Trade{
		{Side: SideLong, EntryPrice: 100, StopPrice: 101, TakeProfit: 109}, // stop above entry
		{Side: SideLong, EntryPrice: 100, StopPrice: 97, TakeProfit: 99},   // target below entry
		{Side: SideShort, EntryPrice: 100, StopPrice: 99, TakeProfit: 91},  // stop below entry
		{Side: "", EntryPrice: 100, StopPrice: 97, TakeProfit: 109},        // no side
		{Side: SideLong, EntryPrice: 0, StopPrice: 97, TakeProfit: 109},    // zero entry
	}
	for i, tr := range bad {
		if tr.PricesValid() {
			t.Errorf("Invalid trade %d accepted", i)
		}
	}
}

// TestRiskPerShareAnchorsToInitialStop verifies the R denominator survives
// stop tightening: once the live stop has moved to entry, risk must still
// come from the stop recorded at entry.
func TestRiskPerShareAnchorsToInitialStop(t *testing.T) {
	tr := &Trade{Side: SideLong, EntryPrice: 100, StopPrice: 97, InitialStop: 97}
	if r := tr.RiskPerShare(); r != 3 {
		t.Fatalf("Expected risk 3, got %f", r)
	}

	tr.StopPrice = 100 // tightened to break-even
	if r := tr.RiskPerShare(); r != 3 {
		t.Errorf("Risk collapsed after tightening: %f", r)
	}

	// Without an anchor, fall back to the live stop.
	tr.InitialStop = 0
	if r := tr.RiskPerShare(); r != 0 {
		t.Errorf("Expected fallback risk 0 at break-even, got %f", r)
	}
}

// TestEffectiveTime verifies scoring time wins over creation time.
func TestEffectiveTime(t *testing.T) {
	created := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	scored := created.Add(30 * time.Minute)

	tr := &Trade{CreatedAt: created}
	if !tr.EffectiveTime().Equal(created) {
		t.Error("Expected creation time without a score timestamp")
	}

	tr.ScoredAt = &scored
	if !tr.EffectiveTime().Equal(scored) {
		t.Error("Expected scoring time to win")
	}
}

// TestSymbolNormalization verifies grouping keys are stable.
func TestSymbolNormalization(t *testing.T) {
	tr := &Trade{Ticker: "  nvda "}
	if tr.Symbol() != "NVDA" {
		t.Errorf("Expected NVDA, got %q", tr.Symbol())
	}
}

// TestMemoryStoreRoundTrip verifies upsert, lookup and status listing
// semantics match the SQL store contract.
func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTradeStore()

	if _, err := store.Get(ctx, "missing"); err != ErrTradeNotFound {
		t.Errorf("Expected ErrTradeNotFound, got %v", err)
	}

	tr := &Trade{ID: "t1", Ticker: "NVDA", Side: SideLong, Status: StatusPending,
		EntryPrice: 100, StopPrice: 97, TakeProfit: 109}
	if err := store.Save(ctx, tr); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got.StopPrice = 99 // mutating the copy must not leak back
	again, _ := store.Get(ctx, "t1")
	if again.StopPrice != 97 {
		t.Error("Store returned a shared reference, not a copy")
	}

	tr.Status = StatusOpen
	if err := store.Save(ctx, tr); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	open, _ := store.ListByStatus(ctx, StatusOpen)
	pending, _ := store.ListByStatus(ctx, StatusPending)
	if len(open) != 1 || len(pending) != 0 {
		t.Errorf("Expected the upsert to move the trade: open=%d pending=%d", len(open), len(pending))
	}
}

// TestMemoryStoreListOrdering verifies listings are oldest first.
func TestMemoryStoreListOrdering(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTradeStore()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"c", "a", "b"} {
		tr := &Trade{ID: id, Ticker: "NVDA", Side: SideLong, Status: StatusPending,
			EntryPrice: 100, StopPrice: 97, TakeProfit: 109,
			CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := store.Save(ctx, tr); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	list, _ := store.ListByStatus(ctx, StatusPending)
	want := []string{"c", "a", "b"}
	for i, tr := range list {
		if tr.ID != want[i] {
			t.Errorf("Position %d: expected %s, got %s", i, want[i], tr.ID)
		}
	}
}
