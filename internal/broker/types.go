package broker

import "time"

// Order sides
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Order types
const (
	TypeMarket = "market"
	TypeLimit  = "limit"
	TypeStop   = "stop"
)

// Time-in-force values
const (
	TIFDay = "day"
	TIFGTC = "gtc"
)

// Order statuses reported by the broker
const (
	OrderStatusNew             = "new"
	OrderStatusAccepted        = "accepted"
	OrderStatusFilled          = "filled"
	OrderStatusPartiallyFilled = "partially_filled"
	OrderStatusCanceled        = "canceled"
	OrderStatusRejected        = "rejected"
)

// Clock is the market clock snapshot.
type Clock struct {
	IsOpen    bool      `json:"is_open"`
	Timestamp time.Time `json:"timestamp"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

// Position is a live brokerage position.
type Position struct {
	Symbol        string  `json:"symbol"`
	Qty           float64 `json:"qty,string"`
	Side          string  `json:"side"` // "long" or "short"
	AvgEntryPrice float64 `json:"avg_entry_price,string"`
	MarketValue   float64 `json:"market_value,string"`
}

// Order is a brokerage order, possibly with attached legs.
type Order struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Type        string    `json:"type"`
	Qty         float64   `json:"qty,string"`
	LimitPrice  float64   `json:"limit_price,string"`
	StopPrice   float64   `json:"stop_price,string"`
	TimeInForce string    `json:"time_in_force"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	Legs        []Order   `json:"legs,omitempty"`
}

// OrderRequest carries the parameters for a new order.
type OrderRequest struct {
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	Type        string  `json:"type"`
	Qty         float64 `json:"qty,string"`
	LimitPrice  float64 `json:"limit_price,string,omitempty"`
	StopPrice   float64 `json:"stop_price,string,omitempty"`
	TimeInForce string  `json:"time_in_force"`
}

// Quote is the latest quote for a symbol. Fields may be zero when the feed
// has no fresh data for them.
type Quote struct {
	Last float64 `json:"last"`
	Bid  float64 `json:"bid"`
	Ask  float64 `json:"ask"`
}

// Price returns the best usable price from a quote: last trade, then
// bid/ask midpoint, then whichever side is present.
func (q Quote) Price() float64 {
	if q.Last > 0 {
		return q.Last
	}
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	if q.Bid > 0 {
		return q.Bid
	}
	return q.Ask
}
