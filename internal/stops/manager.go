package stops

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tradegate/internal/broker"
	"tradegate/internal/database"
	"tradegate/internal/grades"
	"tradegate/internal/telemetry"
)

// Config tunes the stop lifecycle manager.
type Config struct {
	// TickSize is the price grid stops are normalized onto.
	TickSize float64
}

// RunResult summarizes one management pass over all open positions.
type RunResult struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Checked   int `json:"checked"`
	Updated   int `json:"updated"`
	Flattened int `json:"flattened"`

	Rescued         int `json:"rescued"`
	RescueFailures  int `json:"rescue_failures"`
	SyncFailures    int `json:"sync_failures"`
	PartialExits    int `json:"partial_exits"`
	PartialFailures int `json:"partial_failures"`

	Notes []string `json:"notes,omitempty"`
}

// Failed reports whether any position could not be fully managed this pass.
func (r *RunResult) Failed() bool {
	return r.RescueFailures > 0 || r.SyncFailures > 0 || r.PartialFailures > 0
}

// Manager runs the per-position stop lifecycle.
type Manager struct {
	broker broker.Client
	store  database.TradeStore
	sink   telemetry.Sink
	cfg    Config
	log    zerolog.Logger
}

// NewManager creates a stop lifecycle manager.
func NewManager(client broker.Client, store database.TradeStore, sink telemetry.Sink, cfg Config, log zerolog.Logger) *Manager {
	if cfg.TickSize <= 0 {
		cfg.TickSize = 0.01
	}
	if sink == nil {
		sink = telemetry.NoopSink{}
	}
	return &Manager{broker: client, store: store, sink: sink, cfg: cfg, log: log}
}

// Run performs one sequential management pass over all open positions.
// A single failed position is recorded and counted but never aborts the
// pass for the rest of the batch.
func (m *Manager) Run(ctx context.Context) (*RunResult, error) {
	result := &RunResult{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	defer func() { result.FinishedAt = time.Now().UTC() }()

	open, err := m.store.ListByStatus(ctx, database.StatusOpen)
	if err != nil {
		return result, fmt.Errorf("failed to load open trades: %w", err)
	}

	for _, t := range open {
		if ctx.Err() != nil {
			result.Notes = append(result.Notes, "run deadline exceeded, remaining positions skipped")
			break
		}
		result.Checked++
		m.managePosition(ctx, t, result)
	}

	m.log.Info().
		Str("run_id", result.RunID).
		Int("checked", result.Checked).
		Int("updated", result.Updated).
		Int("flattened", result.Flattened).
		Int("rescued", result.Rescued).
		Int("rescue_failures", result.RescueFailures).
		Int("sync_failures", result.SyncFailures).
		Msg("stop lifecycle pass complete")

	return result, nil
}

func (m *Manager) note(result *RunResult, format string, args ...any) {
	result.Notes = append(result.Notes, fmt.Sprintf(format, args...))
}

func (m *Manager) event(result *RunResult, t *database.Trade, outcome, reason string) {
	m.sink.Record(telemetry.Event{
		RunID:   result.RunID,
		Source:  "stops",
		Outcome: outcome,
		Reason:  reason,
		Ticker:  t.Symbol(),
		TradeID: t.ID,
	})
}

// managePosition runs rescue, partial exits, hard-cap flattening, and
// grade-tiered stop tightening for one open position.
func (m *Manager) managePosition(ctx context.Context, t *database.Trade, result *RunResult) {
	sym := t.Symbol()
	log := m.log.With().Str("ticker", sym).Str("trade_id", t.ID).Logger()

	// Rescue first: an unprotected position is the one state this subsystem
	// exists to prevent, so it is handled before anything that could fail.
	if t.StopOrderID == "" {
		rescued, err := m.rescue(ctx, t)
		if err != nil {
			result.RescueFailures++
			m.note(result, "%s: rescue failed: %v", sym, err)
			m.event(result, t, "FAIL", "rescue_failed")
			log.Warn().Err(err).Msg("stop rescue failed")
			return
		}
		if rescued {
			result.Rescued++
			m.event(result, t, "SUCCESS", "stop_rescued")
			log.Info().Str("order_id", t.StopOrderID).Msg("protective stop rescued")
		}
	}

	quote, err := m.broker.GetLatestQuote(ctx, sym)
	if err != nil {
		m.note(result, "%s: quote unavailable: %v", sym, err)
		log.Warn().Err(err).Msg("quote fetch failed, position skipped")
		return
	}
	last := quote.Price()
	if last <= 0 {
		m.note(result, "%s: no usable price in quote", sym)
		return
	}

	risk := t.RiskPerShare()
	if risk <= 0 {
		m.note(result, "%s: zero initial risk, cannot compute R", sym)
		return
	}

	rule := grades.Lookup(t.Grade)
	r := UnrealizedR(t.Side, t.EntryPrice, risk, last)

	// Hard profit cap: flatten outright and let reconciliation close the
	// trade record.
	if rule.HardCapR > 0 && r >= rule.HardCapR {
		if err := m.flatten(ctx, t); err != nil {
			result.SyncFailures++
			m.note(result, "%s: flatten at %.2fR failed: %v", sym, r, err)
			m.event(result, t, "FAIL", "flatten_failed")
			return
		}
		result.Flattened++
		m.note(result, "%s: flattened at %.2fR (cap %.2fR)", sym, r, rule.HardCapR)
		m.event(result, t, "SUCCESS", "hard_cap_flatten")
		log.Info().Float64("r", r).Float64("cap", rule.HardCapR).Msg("position flattened at hard cap")
		return
	}

	// Partial take-profits, in order, one level per crossing.
	resized, err := m.takePartials(ctx, t, rule, r, result)
	if err != nil {
		result.PartialFailures++
		m.note(result, "%s: partial exit failed: %v", sym, err)
		m.event(result, t, "FAIL", "partial_exit_failed")
	}

	next := NextStop(t, rule, r, last)
	normalized := NormalizeTick(t.Side, next, m.cfg.TickSize)

	if !resized && !StrictlyMoreProtective(t.Side, normalized, t.StopPrice) {
		return
	}

	if err := m.replaceStop(ctx, t, normalized, resized); err != nil {
		result.SyncFailures++
		m.note(result, "%s: stop sync failed: %v", sym, err)
		m.event(result, t, "FAIL", "stop_sync_failed")
		log.Warn().Err(err).Msg("stop sync failed")
		return
	}

	result.Updated++
	m.event(result, t, "SUCCESS", "stop_tightened")
	log.Info().
		Float64("r", r).
		Float64("stop", t.StopPrice).
		Str("grade", rule.Grade).
		Msg("protective stop updated")
}

// rescue creates a standalone GTC protective stop for a position that has no
// tracked stop order. Strictly additive: nothing is canceled, the order id is
// persisted only after the broker confirms creation, and re-running it every
// cycle is safe because it checks for an existing id first.
func (m *Manager) rescue(ctx context.Context, t *database.Trade) (bool, error) {
	if t.StopOrderID != "" {
		return false, nil
	}

	now := time.Now().UTC()

	pos, err := m.broker.GetPosition(ctx, t.Symbol())
	if errors.Is(err, broker.ErrNotFound) {
		// Nothing live to protect; reconciliation will close the record.
		return false, nil
	}
	if err != nil {
		t.LastRescueAt = &now
		t.LastRescueStatus = database.SyncStatusFailed
		_ = m.store.Save(ctx, t)
		return false, fmt.Errorf("position lookup: %w", err)
	}

	qty := pos.Qty
	if qty < 0 {
		qty = -qty
	}
	if qty <= 0 {
		return false, nil
	}

	order, err := m.broker.CreateOrder(ctx, broker.OrderRequest{
		Symbol:      t.Symbol(),
		Side:        closingSide(t.Side),
		Type:        broker.TypeStop,
		Qty:         qty,
		StopPrice:   NormalizeTick(t.Side, t.StopPrice, m.cfg.TickSize),
		TimeInForce: broker.TIFGTC,
	})
	if err != nil {
		t.LastRescueAt = &now
		t.LastRescueStatus = database.SyncStatusFailed
		_ = m.store.Save(ctx, t)
		return false, fmt.Errorf("stop order create: %w", err)
	}

	t.StopOrderID = order.ID
	t.LastRescueAt = &now
	t.LastRescueStatus = database.SyncStatusOK
	if err := m.store.Save(ctx, t); err != nil {
		return true, fmt.Errorf("persist rescued stop id: %w", err)
	}
	return true, nil
}

// takePartials executes any partial take-profit levels R has crossed since
// the last pass. Returns whether the position size changed.
func (m *Manager) takePartials(ctx context.Context, t *database.Trade, rule grades.Rule, r float64, result *RunResult) (bool, error) {
	resized := false
	for t.PartialsTaken < len(rule.Partials) {
		level := rule.Partials[t.PartialsTaken]
		if r < level.TriggerR {
			break
		}

		qty := t.Quantity * level.Percent / 100
		if qty <= 0 {
			t.PartialsTaken++
			continue
		}

		_, err := m.broker.CreateOrder(ctx, broker.OrderRequest{
			Symbol:      t.Symbol(),
			Side:        closingSide(t.Side),
			Type:        broker.TypeMarket,
			Qty:         qty,
			TimeInForce: broker.TIFDay,
		})
		if err != nil {
			return resized, fmt.Errorf("partial exit at %.2fR: %w", level.TriggerR, err)
		}

		t.PartialsTaken++
		t.Quantity -= qty
		resized = true
		result.PartialExits++
		m.note(result, "%s: took %.0f%% at %.2fR", t.Symbol(), level.Percent, level.TriggerR)
		if err := m.store.Save(ctx, t); err != nil {
			return resized, fmt.Errorf("persist partial exit: %w", err)
		}
	}
	return resized, nil
}

// flatten cancels the protective stop and closes the whole position at
// market.
func (m *Manager) flatten(ctx context.Context, t *database.Trade) error {
	if t.StopOrderID != "" {
		if err := m.broker.CancelOrder(ctx, t.StopOrderID); err != nil && !errors.Is(err, broker.ErrNotFound) {
			return fmt.Errorf("cancel stop: %w", err)
		}
		t.StopOrderID = ""
		_ = m.store.Save(ctx, t)
	}

	qty, err := m.resolveQuantity(ctx, t)
	if err != nil {
		return err
	}
	if qty <= 0 {
		return nil
	}

	_, err = m.broker.CreateOrder(ctx, broker.OrderRequest{
		Symbol:      t.Symbol(),
		Side:        closingSide(t.Side),
		Type:        broker.TypeMarket,
		Qty:         qty,
		TimeInForce: broker.TIFDay,
	})
	if err != nil {
		return fmt.Errorf("market close: %w", err)
	}
	return nil
}

// resolveQuantity prefers the trade record and falls back to the live broker
// position, which is the authority when the store read was stale.
func (m *Manager) resolveQuantity(ctx context.Context, t *database.Trade) (float64, error) {
	if t.Quantity > 0 {
		return t.Quantity, nil
	}
	pos, err := m.broker.GetPosition(ctx, t.Symbol())
	if errors.Is(err, broker.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("position lookup: %w", err)
	}
	qty := pos.Qty
	if qty < 0 {
		qty = -qty
	}
	return qty, nil
}

// closingSide is the order side that reduces or closes a position.
func closingSide(side string) string {
	if side == database.SideShort {
		return broker.SideBuy
	}
	return broker.SideSell
}
