package stops

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"tradegate/internal/broker"
	"tradegate/internal/database"
)

func newTestManager(client *broker.MockClient, store database.TradeStore) *Manager {
	return NewManager(client, store, nil, Config{TickSize: 0.01}, zerolog.Nop())
}

func seedOpen(t *testing.T, store database.TradeStore, tr *database.Trade) {
	t.Helper()
	if err := store.Save(context.Background(), tr); err != nil {
		t.Fatalf("seed trade: %v", err)
	}
}

// TestRunRescuesUnprotectedPosition verifies a live position without a
// tracked stop order gets one created and its id persisted.
func TestRunRescuesUnprotectedPosition(t *testing.T) {
	client := broker.NewMockClient()
	store := database.NewMemoryTradeStore()
	mgr := newTestManager(client, store)

	tr := openLong(97)
	tr.StopOrderID = ""
	seedOpen(t, store, tr)
	client.SetPosition(broker.Position{Symbol: "AAPL", Qty: 100, Side: "long"})
	client.SetQuote("AAPL", broker.Quote{Last: 100.5})

	result, err := mgr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Rescued != 1 {
		t.Fatalf("Expected 1 rescue, got %d", result.Rescued)
	}
	if result.RescueFailures != 0 {
		t.Errorf("Expected no rescue failures, got %d", result.RescueFailures)
	}

	saved, err := store.Get(context.Background(), tr.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if saved.StopOrderID == "" {
		t.Error("Rescued stop order id was not persisted")
	}
	if saved.LastRescueStatus != database.SyncStatusOK {
		t.Errorf("Expected rescue status ok, got %q", saved.LastRescueStatus)
	}
}

// TestRescueIdempotent verifies a position with a tracked stop order makes
// zero rescue-related broker calls across repeated runs.
func TestRescueIdempotent(t *testing.T) {
	client := broker.NewMockClient()
	store := database.NewMemoryTradeStore()
	mgr := newTestManager(client, store)

	tr := openLong(97)
	tr.StopOrderID = "stop-1"
	seedOpen(t, store, tr)
	client.AddOrder(broker.Order{ID: "stop-1", Symbol: "AAPL", Status: broker.OrderStatusAccepted})
	client.SetQuote("AAPL", broker.Quote{Last: 100.5}) // below every tightening trigger

	for i := 0; i < 3; i++ {
		result, err := mgr.Run(context.Background())
		if err != nil {
			t.Fatalf("Run %d failed: %v", i, err)
		}
		if result.Rescued != 0 {
			t.Fatalf("Run %d rescued a protected position", i)
		}
	}

	if n := client.CallCount("GetPosition"); n != 0 {
		t.Errorf("Expected no position lookups for a protected position, got %d", n)
	}
	if n := client.CallCount("CreateOrder"); n != 0 {
		t.Errorf("Expected no orders created, got %d", n)
	}
}

// TestRescueNoLivePosition verifies a trade record with no live broker
// position is left alone for reconciliation, without creating orders.
func TestRescueNoLivePosition(t *testing.T) {
	client := broker.NewMockClient()
	store := database.NewMemoryTradeStore()
	mgr := newTestManager(client, store)

	tr := openLong(97)
	tr.StopOrderID = ""
	seedOpen(t, store, tr)
	client.SetQuote("AAPL", broker.Quote{Last: 100.5})

	result, err := mgr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Rescued != 0 || result.RescueFailures != 0 {
		t.Errorf("Expected no rescue activity, got %+v", result)
	}
	if n := client.CallCount("CreateOrder"); n != 0 {
		t.Errorf("Expected no orders created, got %d", n)
	}
}

// TestRunTightensLongToBreakEven verifies the full replace path: at 1R the
// long stop moves to entry via cancel-then-create and the record is updated.
func TestRunTightensLongToBreakEven(t *testing.T) {
	client := broker.NewMockClient()
	store := database.NewMemoryTradeStore()
	mgr := newTestManager(client, store)

	tr := openLong(97)
	tr.StopOrderID = "stop-1"
	seedOpen(t, store, tr)
	client.AddOrder(broker.Order{ID: "stop-1", Symbol: "AAPL", Status: broker.OrderStatusAccepted})
	client.SetQuote("AAPL", broker.Quote{Last: 103}) // exactly 1R on 3 risk

	result, err := mgr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Updated != 1 {
		t.Fatalf("Expected 1 update, got %d (notes: %v)", result.Updated, result.Notes)
	}

	saved, _ := store.Get(context.Background(), tr.ID)
	if saved.StopPrice != 100 {
		t.Errorf("Expected stop at entry 100, got %f", saved.StopPrice)
	}
	if saved.StopOrderID == "" || saved.StopOrderID == "stop-1" {
		t.Errorf("Expected a fresh stop order id, got %q", saved.StopOrderID)
	}
	if saved.LastStopSyncStatus != database.SyncStatusOK {
		t.Errorf("Expected sync status ok, got %q", saved.LastStopSyncStatus)
	}
	if n := client.CallCount("CancelOrder"); n != 1 {
		t.Errorf("Expected the old stop canceled once, got %d", n)
	}
}

// TestRunStopNeverLoosens verifies repeated passes with a falling price never
// move the stop backwards.
func TestRunStopNeverLoosens(t *testing.T) {
	client := broker.NewMockClient()
	store := database.NewMemoryTradeStore()
	mgr := newTestManager(client, store)

	tr := openLong(97)
	tr.StopOrderID = "stop-1"
	seedOpen(t, store, tr)
	client.AddOrder(broker.Order{ID: "stop-1", Symbol: "AAPL", Status: broker.OrderStatusAccepted})

	// First pass lifts the stop to break-even.
	client.SetQuote("AAPL", broker.Quote{Last: 103})
	if _, err := mgr.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Price retraces; the stop must stay at entry.
	client.SetQuote("AAPL", broker.Quote{Last: 100.2})
	result, err := mgr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Updated != 0 {
		t.Errorf("Expected no update on retrace, got %d", result.Updated)
	}

	saved, _ := store.Get(context.Background(), tr.ID)
	if saved.StopPrice != 100 {
		t.Errorf("Stop loosened on retrace: %f", saved.StopPrice)
	}
}

// TestRunShortLockAndPartial drives a short through 2R: the grade-A partial
// at 1.5R is taken and one full R is locked below entry.
func TestRunShortLockAndPartial(t *testing.T) {
	client := broker.NewMockClient()
	store := database.NewMemoryTradeStore()
	mgr := newTestManager(client, store)

	tr := openShort(100) // already tightened to entry earlier
	tr.StopOrderID = "stop-1"
	seedOpen(t, store, tr)
	client.AddOrder(broker.Order{ID: "stop-1", Symbol: "AAPL", Status: broker.OrderStatusAccepted})
	client.SetQuote("AAPL", broker.Quote{Last: 94}) // 2R on 3 risk

	result, err := mgr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.PartialExits != 1 {
		t.Errorf("Expected 1 partial exit, got %d (notes: %v)", result.PartialExits, result.Notes)
	}
	if result.Updated != 1 {
		t.Errorf("Expected stop update, got %d", result.Updated)
	}

	saved, _ := store.Get(context.Background(), tr.ID)
	if saved.PartialsTaken != 1 {
		t.Errorf("Expected 1 partial recorded, got %d", saved.PartialsTaken)
	}
	if saved.Quantity != 67 {
		t.Errorf("Expected quantity reduced to 67, got %f", saved.Quantity)
	}
	if saved.StopPrice != 97 { // entry 100 minus one 3-point R
		t.Errorf("Expected short stop locked at 97, got %f", saved.StopPrice)
	}
}

// TestRunHardCapFlattens verifies a capped grade is closed outright once R
// reaches the cap, stop canceled and position sold at market.
func TestRunHardCapFlattens(t *testing.T) {
	client := broker.NewMockClient()
	store := database.NewMemoryTradeStore()
	mgr := newTestManager(client, store)

	tr := openLong(97)
	tr.Grade = "C" // cap at 2.0R
	tr.StopOrderID = "stop-1"
	seedOpen(t, store, tr)
	client.AddOrder(broker.Order{ID: "stop-1", Symbol: "AAPL", Status: broker.OrderStatusAccepted})
	client.SetQuote("AAPL", broker.Quote{Last: 106}) // 2R

	result, err := mgr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Flattened != 1 {
		t.Fatalf("Expected 1 flatten, got %d (notes: %v)", result.Flattened, result.Notes)
	}
	if n := client.CallCount("CancelOrder"); n != 1 {
		t.Errorf("Expected the stop canceled, got %d cancels", n)
	}
	if n := client.CallCount("CreateOrder"); n != 1 {
		t.Errorf("Expected one market close order, got %d", n)
	}
}

// TestPartialExitFailureCountsAsFailure verifies a broker-rejected partial
// take-profit marks the pass as failed rather than passing silently.
func TestPartialExitFailureCountsAsFailure(t *testing.T) {
	client := broker.NewMockClient()
	store := database.NewMemoryTradeStore()
	mgr := newTestManager(client, store)

	tr := openLong(100) // stop already at entry, so no replace follows
	tr.StopOrderID = "stop-1"
	seedOpen(t, store, tr)
	client.AddOrder(broker.Order{ID: "stop-1", Symbol: "AAPL", Status: broker.OrderStatusAccepted})
	client.SetQuote("AAPL", broker.Quote{Last: 104.5}) // 1.5R triggers the grade-A partial
	client.Errs["CreateOrder"] = errors.New("insufficient liquidity")

	result, err := mgr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.PartialFailures != 1 {
		t.Fatalf("Expected 1 partial failure, got %d (notes: %v)", result.PartialFailures, result.Notes)
	}
	if !result.Failed() {
		t.Error("A failed partial exit must mark the pass as failed")
	}

	saved, _ := store.Get(context.Background(), tr.ID)
	if saved.PartialsTaken != 0 || saved.Quantity != 100 {
		t.Errorf("Failed partial mutated the record: taken=%d qty=%f", saved.PartialsTaken, saved.Quantity)
	}
}

// TestReplaceCreateFailureLeavesRecoverableState covers the unsafe window of
// cancel-then-create: when the create fails after a successful cancel, the
// record must show a stop-less position so the next pass can rescue it.
func TestReplaceCreateFailureLeavesRecoverableState(t *testing.T) {
	client := broker.NewMockClient()
	store := database.NewMemoryTradeStore()
	mgr := newTestManager(client, store)

	tr := openLong(97)
	tr.StopOrderID = "stop-1"
	seedOpen(t, store, tr)
	client.AddOrder(broker.Order{ID: "stop-1", Symbol: "AAPL", Status: broker.OrderStatusAccepted})
	client.SetQuote("AAPL", broker.Quote{Last: 103})
	client.Errs["CreateOrder"] = errors.New("rate limited")

	result, err := mgr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.SyncFailures != 1 {
		t.Fatalf("Expected 1 sync failure, got %d", result.SyncFailures)
	}

	saved, _ := store.Get(context.Background(), tr.ID)
	if saved.StopOrderID != "" {
		t.Errorf("Stop order id must be cleared after cancel, got %q", saved.StopOrderID)
	}
	if saved.LastStopSyncStatus != database.SyncStatusFailed {
		t.Errorf("Expected sync status failed, got %q", saved.LastStopSyncStatus)
	}

	// Broker recovers; the next pass rescues the now stop-less position.
	delete(client.Errs, "CreateOrder")
	client.SetPosition(broker.Position{Symbol: "AAPL", Qty: 100, Side: "long"})

	result, err = mgr.Run(context.Background())
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	if result.Rescued != 1 {
		t.Fatalf("Expected the stop-less position rescued, got %+v", result)
	}

	saved, _ = store.Get(context.Background(), tr.ID)
	if saved.StopOrderID == "" {
		t.Error("Expected a live stop order after rescue")
	}
}

// TestReplaceCancelFailureKeepsOldStop verifies a failed cancel leaves the
// original protection standing and the order id intact.
func TestReplaceCancelFailureKeepsOldStop(t *testing.T) {
	client := broker.NewMockClient()
	store := database.NewMemoryTradeStore()
	mgr := newTestManager(client, store)

	tr := openLong(97)
	tr.StopOrderID = "stop-1"
	seedOpen(t, store, tr)
	client.AddOrder(broker.Order{ID: "stop-1", Symbol: "AAPL", Status: broker.OrderStatusAccepted})
	client.SetQuote("AAPL", broker.Quote{Last: 103})
	client.Errs["CancelOrder"] = errors.New("broker unavailable")

	result, err := mgr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.SyncFailures != 1 {
		t.Fatalf("Expected 1 sync failure, got %d", result.SyncFailures)
	}

	saved, _ := store.Get(context.Background(), tr.ID)
	if saved.StopOrderID != "stop-1" {
		t.Errorf("Old stop order id must survive a failed cancel, got %q", saved.StopOrderID)
	}
	if saved.StopPrice != 97 {
		t.Errorf("Stop price must be unchanged, got %f", saved.StopPrice)
	}
}

// TestRunFailureIsolation verifies one broken position does not stop the
// rest of the batch from being managed.
func TestRunFailureIsolation(t *testing.T) {
	client := broker.NewMockClient()
	store := database.NewMemoryTradeStore()
	mgr := newTestManager(client, store)

	bad := openLong(97)
	bad.ID = "bad"
	bad.Ticker = "MSFT" // no quote scripted
	bad.StopOrderID = "stop-bad"
	seedOpen(t, store, bad)
	client.AddOrder(broker.Order{ID: "stop-bad", Symbol: "MSFT", Status: broker.OrderStatusAccepted})

	good := openLong(97)
	good.ID = "good"
	good.StopOrderID = "stop-good"
	seedOpen(t, store, good)
	client.AddOrder(broker.Order{ID: "stop-good", Symbol: "AAPL", Status: broker.OrderStatusAccepted})
	client.SetQuote("AAPL", broker.Quote{Last: 103})

	result, err := mgr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Checked != 2 {
		t.Errorf("Expected both positions checked, got %d", result.Checked)
	}
	if result.Updated != 1 {
		t.Errorf("Expected the healthy position updated, got %d", result.Updated)
	}

	saved, _ := store.Get(context.Background(), "good")
	if saved.StopPrice != 100 {
		t.Errorf("Healthy position not tightened: stop %f", saved.StopPrice)
	}
}
