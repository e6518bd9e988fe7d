package database

import (
	"strings"
	"time"
)

// Trade sides
const (
	SideLong  = "LONG"
	SideShort = "SHORT"
)

// Trade lifecycle statuses
const (
	StatusPending = "PENDING" // scored candidate, not yet executed
	StatusOpen    = "OPEN"    // filled, under live management
	StatusClosed  = "CLOSED"  // closed by external reconciliation
)

// Trading session tags
const (
	SessionPreMarket  = "pre_market"
	SessionRegular    = "regular"
	SessionPostMarket = "post_market"
	SessionClosed     = "closed"
)

// Rescue / stop-sync bookkeeping statuses
const (
	SyncStatusOK     = "ok"
	SyncStatusFailed = "failed"
)

// Trade is the unified candidate / managed-position record. A PENDING trade
// is a scored candidate awaiting admission; an OPEN trade is a filled
// position whose protective stop is managed each cycle.
type Trade struct {
	ID         string  `json:"id"`
	Ticker     string  `json:"ticker"`
	Side       string  `json:"side"`
	EntryPrice float64 `json:"entry_price"`
	StopPrice  float64 `json:"stop_price"`
	// InitialStop is the stop at entry time; it anchors the R-multiple even
	// after the live stop has been tightened to or past break-even.
	InitialStop float64 `json:"initial_stop,omitempty"`
	TakeProfit  float64 `json:"take_profit"`
	Quantity    float64 `json:"quantity"`

	Score *float64 `json:"score,omitempty"`
	Grade string   `json:"grade,omitempty"`

	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ScoredAt    *time.Time `json:"scored_at,omitempty"`
	SessionDate string     `json:"session_date"` // YYYY-MM-DD of the session it was scored under
	SessionTag  string     `json:"session_tag"`

	// Set once a rescore has been attempted, so a candidate can never loop
	// through rescore_required forever.
	RescoreAttempted bool `json:"rescore_attempted"`

	// Broker-side protective stop order, if one is tracked.
	StopOrderID string `json:"stop_order_id,omitempty"`

	// Number of partial take-profit levels already executed.
	PartialsTaken int `json:"partials_taken"`

	LastRescueAt     *time.Time `json:"last_rescue_at,omitempty"`
	LastRescueStatus string     `json:"last_rescue_status,omitempty"`
	LastStopSyncAt   *time.Time `json:"last_stop_sync_at,omitempty"`
	LastStopSyncStatus string   `json:"last_stop_sync_status,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Symbol returns the uppercased ticker used for grouping and broker calls.
func (t *Trade) Symbol() string {
	return strings.ToUpper(strings.TrimSpace(t.Ticker))
}

// EffectiveTime is the timestamp used for ordering duplicates: the scoring
// time when present, otherwise the creation time.
func (t *Trade) EffectiveTime() time.Time {
	if t.ScoredAt != nil && !t.ScoredAt.IsZero() {
		return *t.ScoredAt
	}
	return t.CreatedAt
}

// HasScore reports whether the candidate carries a quality score or grade.
func (t *Trade) HasScore() bool {
	return t.Score != nil || strings.TrimSpace(t.Grade) != ""
}

// PricesValid checks the directional invariant: the stop sits on the loss
// side of entry and the take-profit on the profit side, per the trade side.
func (t *Trade) PricesValid() bool {
	if t.EntryPrice <= 0 || t.StopPrice <= 0 || t.TakeProfit <= 0 {
		return false
	}
	switch t.Side {
	case SideLong:
		return t.StopPrice < t.EntryPrice && t.TakeProfit > t.EntryPrice
	case SideShort:
		return t.StopPrice > t.EntryPrice && t.TakeProfit < t.EntryPrice
	default:
		return false
	}
}

// RiskPerShare is the initial per-share risk |entry - stop|, anchored to the
// stop recorded at entry when available.
func (t *Trade) RiskPerShare() float64 {
	stop := t.InitialStop
	if stop <= 0 {
		stop = t.StopPrice
	}
	d := t.EntryPrice - stop
	if d < 0 {
		d = -d
	}
	return d
}
