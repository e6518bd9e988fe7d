// Package autoentry is the admission-control orchestrator: it turns the
// pending candidate stream into at most one execution decision per ticker
// per run, under portfolio limits, duplicate-order guards and the guardrail
// breaker.
package autoentry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tradegate/internal/broker"
	"tradegate/internal/circuit"
	"tradegate/internal/database"
	"tradegate/internal/eligibility"
	"tradegate/internal/telemetry"
)

// Per-candidate decisions
const (
	DecisionWouldExecute = "WOULD_EXECUTE"
	DecisionExecuted     = "EXECUTED"
	DecisionSkip         = "SKIP"
	DecisionFail         = "FAIL"
)

// Skip reasons produced by the orchestrator itself (eligibility verdicts are
// used verbatim as reasons for candidate-local skips).
const (
	ReasonDisabledByConfig  = "disabled_by_config"
	ReasonAutoEntryDisabled = "auto_entry_disabled"
	ReasonClockUnavailable  = "clock_unavailable"
	ReasonStoreUnavailable  = "store_unavailable"
	ReasonPositionExists    = "position_exists"
	ReasonMaxOpenPositions  = "max_open_positions"
	ReasonMaxDailyEntries   = "max_daily_entries"
	ReasonDuplicateOrder    = "duplicate_order"
	ReasonOrderCheckFailed  = "order_check_failed"
	ReasonMarketClosed      = "market_closed"
	ReasonDeadlineExceeded  = "deadline_exceeded"
	ReasonOrderRejected     = "order_rejected"
)

// Config tunes one orchestrator instance.
type Config struct {
	Enabled          bool
	DryRun           bool
	MaxOpenPositions int
	MaxEntriesPerDay int
	MaxFailures      int
	RescoreAfter     time.Duration
	StaleAfter       time.Duration
	BlockCarryover   bool
	RunDeadline      time.Duration
	DefaultQty       float64
}

// Decision is one per-candidate outcome.
type Decision struct {
	TradeID  string `json:"id"`
	Ticker   string `json:"ticker"`
	Side     string `json:"side"`
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`
}

// MarketSnapshot captures the clock state the run was decided under.
type MarketSnapshot struct {
	Open        bool      `json:"open"`
	Timestamp   time.Time `json:"timestamp"`
	SessionDate string    `json:"session_date"`
	SessionTag  string    `json:"session_tag"`
}

// RunResult is the structured result of one auto-entry pass.
type RunResult struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	DryRun     bool           `json:"dry_run"`
	Market     MarketSnapshot `json:"market"`

	PendingCount  int `json:"pending_count"`
	EligibleCount int `json:"eligible_count"`
	OpenPositions int `json:"open_positions"`
	EntriesToday  int `json:"entries_today"`

	SkipsByReason map[string]int `json:"skips_by_reason"`
	Decisions     []Decision     `json:"decisions"`

	Outcome        string `json:"outcome"` // SUCCESS, SKIP or FAIL
	Reason         string `json:"reason,omitempty"`
	Disabled       bool   `json:"disabled"`
	DisabledReason string `json:"disabled_reason,omitempty"`
	Notes          []string `json:"notes,omitempty"`
}

// Orchestrator coordinates one admission pass per invocation.
type Orchestrator struct {
	broker    broker.Client
	store     database.TradeStore
	guardrail database.GuardrailStore
	counter   database.EntryCounter
	sink      telemetry.Sink
	cfg       Config
	log       zerolog.Logger
}

// NewOrchestrator wires an orchestrator.
func NewOrchestrator(
	client broker.Client,
	store database.TradeStore,
	guardrail database.GuardrailStore,
	counter database.EntryCounter,
	sink telemetry.Sink,
	cfg Config,
	log zerolog.Logger,
) *Orchestrator {
	if cfg.MaxFailures < 1 {
		cfg.MaxFailures = 1
	}
	if cfg.DefaultQty <= 0 {
		cfg.DefaultQty = 1
	}
	if sink == nil {
		sink = telemetry.NoopSink{}
	}
	return &Orchestrator{
		broker:    client,
		store:     store,
		guardrail: guardrail,
		counter:   counter,
		sink:      sink,
		cfg:       cfg,
		log:       log,
	}
}

// Run performs one sequential admission pass. It always returns a well-formed
// result; the error return is reserved for configuration-level failures.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	result := &RunResult{
		RunID:         uuid.NewString(),
		StartedAt:     time.Now().UTC(),
		DryRun:        o.cfg.DryRun,
		SkipsByReason: make(map[string]int),
		Outcome:       string(circuit.OutcomeSkip),
	}
	defer func() { result.FinishedAt = time.Now().UTC() }()

	log := o.log.With().Str("run_id", result.RunID).Logger()

	if !o.cfg.Enabled {
		result.Reason = ReasonDisabledByConfig
		return result, nil
	}

	// One clock snapshot frames the whole run: trading day, session tag and
	// the market-open flag all derive from it.
	clock, err := o.broker.GetClock(ctx)
	if err != nil {
		result.Reason = ReasonClockUnavailable
		result.Notes = append(result.Notes, fmt.Sprintf("clock fetch failed: %v", err))
		log.Warn().Err(err).Msg("market clock unavailable, run skipped")
		return result, nil
	}
	day := clock.Timestamp.Format("2006-01-02")
	sess := eligibility.SessionContext{
		SessionDate: day,
		SessionTag:  sessionTag(clock),
		MarketOpen:  clock.IsOpen,
	}
	result.Market = MarketSnapshot{
		Open:        clock.IsOpen,
		Timestamp:   clock.Timestamp,
		SessionDate: sess.SessionDate,
		SessionTag:  sess.SessionTag,
	}

	gstate, err := o.guardrail.State(ctx, day)
	if err != nil {
		result.Reason = ReasonStoreUnavailable
		result.Notes = append(result.Notes, fmt.Sprintf("guardrail state unavailable: %v", err))
		log.Warn().Err(err).Msg("guardrail state unavailable, run skipped")
		return result, nil
	}
	if gstate.Disabled() {
		result.Reason = ReasonAutoEntryDisabled
		result.Disabled = true
		result.DisabledReason = gstate.DisabledReason
		log.Info().Str("disabled_reason", gstate.DisabledReason).Msg("auto-entry disabled by guardrail")
		return result, nil
	}

	open, err := o.store.ListByStatus(ctx, database.StatusOpen)
	if err != nil {
		result.Reason = ReasonStoreUnavailable
		result.Notes = append(result.Notes, fmt.Sprintf("open trades unavailable: %v", err))
		return result, nil
	}
	pending, err := o.store.ListByStatus(ctx, database.StatusPending)
	if err != nil {
		result.Reason = ReasonStoreUnavailable
		result.Notes = append(result.Notes, fmt.Sprintf("pending trades unavailable: %v", err))
		return result, nil
	}
	entriesToday, err := o.counter.EntriesToday(ctx, day)
	if err != nil {
		result.Reason = ReasonStoreUnavailable
		result.Notes = append(result.Notes, fmt.Sprintf("entry counter unavailable: %v", err))
		return result, nil
	}

	result.PendingCount = len(pending)
	result.OpenPositions = len(open)
	result.EntriesToday = entriesToday

	openTickers := make(map[string]bool, len(open))
	for _, t := range open {
		openTickers[t.Symbol()] = true
	}

	now := time.Now().UTC()
	elig := eligibility.Config{
		RescoreAfter:   o.cfg.RescoreAfter,
		StaleAfter:     o.cfg.StaleAfter,
		BlockCarryover: o.cfg.BlockCarryover,
	}
	sel := eligibility.Select(pending, eligibility.PolicyNewestEligible, now, sess, elig)
	result.EligibleCount = len(sel.Canonical)

	for _, rej := range sel.Rejected {
		o.skip(result, rej.Trade, rej.Reason)
	}

	var deadline time.Time
	if o.cfg.RunDeadline > 0 {
		deadline = result.StartedAt.Add(o.cfg.RunDeadline)
	}

	openCount := len(open)
	entries := entriesToday
	executed := 0
	failed := 0

	expired := false
	for _, t := range sel.Canonical {
		if expired || ctx.Err() != nil || (!deadline.IsZero() && time.Now().After(deadline)) {
			// Past the deadline every remaining candidate still gets an
			// accounted decision; silence here would hide dropped work.
			if !expired {
				expired = true
				result.Notes = append(result.Notes, "run deadline exceeded, remaining candidates skipped")
			}
			o.skip(result, t, ReasonDeadlineExceeded)
			continue
		}
		if result.Disabled {
			o.skip(result, t, ReasonAutoEntryDisabled)
			continue
		}

		sym := t.Symbol()
		switch {
		case openTickers[sym]:
			o.skip(result, t, ReasonPositionExists)
		case openCount >= o.cfg.MaxOpenPositions && o.cfg.MaxOpenPositions > 0:
			o.skip(result, t, ReasonMaxOpenPositions)
		case entries >= o.cfg.MaxEntriesPerDay && o.cfg.MaxEntriesPerDay > 0:
			o.skip(result, t, ReasonMaxDailyEntries)
		default:
			// Duplicate-order guard: the broker account is shared state, so
			// re-read it instead of trusting the local store.
			orders, err := o.broker.GetOpenOrders(ctx, sym)
			if err != nil {
				o.skip(result, t, ReasonOrderCheckFailed)
				result.Notes = append(result.Notes, fmt.Sprintf("%s: open-order check failed: %v", sym, err))
				continue
			}
			if len(orders) > 0 {
				o.skip(result, t, ReasonDuplicateOrder)
				continue
			}
			if !clock.IsOpen {
				o.skip(result, t, ReasonMarketClosed)
				continue
			}

			if o.cfg.DryRun {
				o.decide(result, t, DecisionWouldExecute, "")
				continue
			}

			if err := o.execute(ctx, t, day); err != nil {
				failed++
				o.decide(result, t, DecisionFail, ReasonOrderRejected)
				result.Notes = append(result.Notes, fmt.Sprintf("%s: entry failed: %v", sym, err))

				tr := circuit.Apply(circuit.OutcomeFail, ReasonOrderRejected, gstate.Failures, o.cfg.MaxFailures)
				state := o.recordFailure(ctx, day, result.RunID, t, err)
				gstate = state
				if tr.ShouldDisable || state.Disabled() {
					result.Disabled = true
					result.DisabledReason = state.DisabledReason
					log.Warn().Str("disabled_reason", state.DisabledReason).Msg("guardrail tripped, auto-entry disabled")
				}
				continue
			}

			executed++
			entries++
			openCount++
			openTickers[sym] = true
			o.decide(result, t, DecisionExecuted, "")

			if tr := circuit.Apply(circuit.OutcomeSuccess, "", gstate.Failures, o.cfg.MaxFailures); tr.Action == circuit.ActionReset {
				gstate.Failures = tr.FailuresAfter
				if err := o.guardrail.Reset(ctx, day); err != nil {
					result.Notes = append(result.Notes, fmt.Sprintf("guardrail reset failed: %v", err))
				}
			}
		}
	}

	switch {
	case failed > 0:
		result.Outcome = string(circuit.OutcomeFail)
	case executed > 0:
		result.Outcome = string(circuit.OutcomeSuccess)
	default:
		result.Outcome = string(circuit.OutcomeSkip)
	}

	log.Info().
		Bool("dry_run", result.DryRun).
		Int("pending", result.PendingCount).
		Int("eligible", result.EligibleCount).
		Int("executed", executed).
		Int("failed", failed).
		Str("outcome", result.Outcome).
		Msg("auto-entry pass complete")

	return result, nil
}

// execute converts a canonical candidate into a live entry order and opens
// the trade record. The protective stop is attached by the stop lifecycle
// manager's rescue pass on its next cycle.
func (o *Orchestrator) execute(ctx context.Context, t *database.Trade, day string) error {
	qty := t.Quantity
	if qty <= 0 {
		qty = o.cfg.DefaultQty
	}

	entrySide := broker.SideBuy
	if t.Side == database.SideShort {
		entrySide = broker.SideSell
	}

	_, err := o.broker.CreateOrder(ctx, broker.OrderRequest{
		Symbol:      t.Symbol(),
		Side:        entrySide,
		Type:        broker.TypeLimit,
		Qty:         qty,
		LimitPrice:  t.EntryPrice,
		TimeInForce: broker.TIFDay,
	})
	if err != nil {
		return err
	}

	t.Status = database.StatusOpen
	t.Quantity = qty
	t.InitialStop = t.StopPrice
	if err := o.store.Save(ctx, t); err != nil {
		return fmt.Errorf("persist opened trade: %w", err)
	}
	if _, err := o.counter.IncrEntries(ctx, day); err != nil {
		return fmt.Errorf("increment entry counter: %w", err)
	}
	return nil
}

// recordFailure applies a FAIL outcome to the guardrail via its atomic store
// and reports the resulting state.
func (o *Orchestrator) recordFailure(ctx context.Context, day, runID string, t *database.Trade, cause error) *circuit.State {
	state, err := o.guardrail.RecordFailure(ctx, day, circuit.FailureRecord{
		At:      time.Now().UTC(),
		RunID:   runID,
		TradeID: t.ID,
		Reason:  cause.Error(),
	}, o.cfg.MaxFailures)
	if err != nil {
		o.log.Error().Err(err).Msg("failed to record guardrail failure")
		return &circuit.State{Day: day}
	}
	return state
}

func (o *Orchestrator) skip(result *RunResult, t *database.Trade, reason string) {
	o.decide(result, t, DecisionSkip, reason)
}

func (o *Orchestrator) decide(result *RunResult, t *database.Trade, decision, reason string) {
	result.Decisions = append(result.Decisions, Decision{
		TradeID:  t.ID,
		Ticker:   t.Symbol(),
		Side:     t.Side,
		Decision: decision,
		Reason:   reason,
	})
	if decision == DecisionSkip {
		result.SkipsByReason[reason]++
	}
	o.sink.Record(telemetry.Event{
		RunID:   result.RunID,
		Source:  "auto_entry",
		Outcome: decision,
		Reason:  reason,
		Ticker:  t.Symbol(),
		TradeID: t.ID,
	})
}

// sessionTag derives a session tag from the market clock. The scorer stamps
// candidates with the tag it saw; mismatches surface as stale_session.
func sessionTag(clock broker.Clock) string {
	if clock.IsOpen {
		return database.SessionRegular
	}
	ts := clock.Timestamp
	if !clock.NextOpen.IsZero() && sameDay(ts, clock.NextOpen) {
		return database.SessionPreMarket
	}
	if wd := ts.Weekday(); wd != time.Saturday && wd != time.Sunday && ts.Hour() >= 12 {
		return database.SessionPostMarket
	}
	return database.SessionClosed
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
