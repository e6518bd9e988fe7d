// Package broker defines the brokerage client consumed by the decision
// engine and provides a REST implementation plus a scriptable mock.
package broker

import (
	"context"
	"errors"
)

// ErrNotFound is returned for 404s: a missing position, an already-gone
// order. Callers distinguish it from transport failures because several
// lifecycle steps tolerate it.
var ErrNotFound = errors.New("broker: not found")

// Client is the brokerage interface. All calls are synchronous round trips
// and the only suspension points in a run.
type Client interface {
	GetClock(ctx context.Context) (Clock, error)
	GetPositions(ctx context.Context) ([]Position, error)
	GetPosition(ctx context.Context, symbol string) (Position, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]Order, error)
	CreateOrder(ctx context.Context, req OrderRequest) (Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (Order, error)
	GetLatestQuote(ctx context.Context, symbol string) (Quote, error)
}

// Ensure both implementations satisfy the interface
var (
	_ Client = (*RESTClient)(nil)
	_ Client = (*MockClient)(nil)
)
