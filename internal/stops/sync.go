package stops

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradegate/internal/broker"
	"tradegate/internal/database"
)

// replaceStop swaps the broker-side protective stop for a more protective
// one. The broker offers no atomic replace, so this is an explicit two-phase
// cancel-then-create with a defined unsafe window: once the old order is
// canceled, a failed create leaves the position stop-less. The stop order id
// is cleared and the failure recorded immediately so the next cycle's rescue
// step re-creates the stop instead of retrying in-flight.
func (m *Manager) replaceStop(ctx context.Context, t *database.Trade, newStop float64, force bool) error {
	now := time.Now().UTC()

	if !force && !StrictlyMoreProtective(t.Side, newStop, t.StopPrice) {
		return nil
	}

	if t.StopOrderID != "" {
		err := m.broker.CancelOrder(ctx, t.StopOrderID)
		if err != nil && !errors.Is(err, broker.ErrNotFound) {
			// Old stop still standing; the position stays protected.
			t.LastStopSyncAt = &now
			t.LastStopSyncStatus = database.SyncStatusFailed
			_ = m.store.Save(ctx, t)
			return fmt.Errorf("cancel old stop: %w", err)
		}
		// From here the position has no live stop. Persist that fact before
		// attempting the create so a crash cannot hide it.
		t.StopOrderID = ""
		if err := m.store.Save(ctx, t); err != nil {
			return fmt.Errorf("persist cancel: %w", err)
		}
	}

	qty, err := m.resolveQuantity(ctx, t)
	if err != nil {
		t.LastStopSyncAt = &now
		t.LastStopSyncStatus = database.SyncStatusFailed
		_ = m.store.Save(ctx, t)
		return err
	}
	if qty <= 0 {
		return nil
	}

	order, err := m.broker.CreateOrder(ctx, broker.OrderRequest{
		Symbol:      t.Symbol(),
		Side:        closingSide(t.Side),
		Type:        broker.TypeStop,
		Qty:         qty,
		StopPrice:   newStop,
		TimeInForce: broker.TIFGTC,
	})
	if err != nil {
		t.LastStopSyncAt = &now
		t.LastStopSyncStatus = database.SyncStatusFailed
		_ = m.store.Save(ctx, t)
		return fmt.Errorf("create replacement stop: %w", err)
	}

	if StrictlyMoreProtective(t.Side, newStop, t.StopPrice) {
		t.StopPrice = newStop
	}
	t.StopOrderID = order.ID
	t.LastStopSyncAt = &now
	t.LastStopSyncStatus = database.SyncStatusOK
	if err := m.store.Save(ctx, t); err != nil {
		return fmt.Errorf("persist stop sync: %w", err)
	}
	return nil
}
