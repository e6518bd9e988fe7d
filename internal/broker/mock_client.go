package broker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockClient is a scriptable in-memory broker used by tests and dry-run
// tooling. Every method counts its calls and can be made to fail.
type MockClient struct {
	mu sync.Mutex

	Clock     Clock
	Positions map[string]Position
	Orders    map[string]Order
	Quotes    map[string]Quote

	// Errs injects a failure per method name ("CreateOrder", ...).
	Errs map[string]error

	// Calls counts invocations per method name.
	Calls map[string]int

	nextOrderID int
}

// NewMockClient creates a mock broker with an open market and no state.
func NewMockClient() *MockClient {
	return &MockClient{
		Clock:     Clock{IsOpen: true, Timestamp: time.Now()},
		Positions: make(map[string]Position),
		Orders:    make(map[string]Order),
		Quotes:    make(map[string]Quote),
		Errs:      make(map[string]error),
		Calls:     make(map[string]int),
	}
}

func (m *MockClient) record(method string) error {
	m.Calls[method]++
	return m.Errs[method]
}

// CallCount returns how many times a method was invoked.
func (m *MockClient) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[method]
}

// SetQuote scripts the latest quote for a symbol.
func (m *MockClient) SetQuote(symbol string, q Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Quotes[symbol] = q
}

// SetPosition scripts a live position.
func (m *MockClient) SetPosition(p Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Positions[p.Symbol] = p
}

// AddOrder scripts an existing open order.
func (m *MockClient) AddOrder(o Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Orders[o.ID] = o
}

// GetClock returns the scripted clock.
func (m *MockClient) GetClock(ctx context.Context) (Clock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("GetClock"); err != nil {
		return Clock{}, err
	}
	return m.Clock, nil
}

// GetPositions returns all scripted positions.
func (m *MockClient) GetPositions(ctx context.Context) ([]Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("GetPositions"); err != nil {
		return nil, err
	}
	positions := make([]Position, 0, len(m.Positions))
	for _, p := range m.Positions {
		positions = append(positions, p)
	}
	return positions, nil
}

// GetPosition returns the scripted position for a symbol or ErrNotFound.
func (m *MockClient) GetPosition(ctx context.Context, symbol string) (Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("GetPosition"); err != nil {
		return Position{}, err
	}
	p, ok := m.Positions[symbol]
	if !ok {
		return Position{}, ErrNotFound
	}
	return p, nil
}

// GetOpenOrders returns scripted open orders, filtered by symbol when given.
func (m *MockClient) GetOpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("GetOpenOrders"); err != nil {
		return nil, err
	}
	var orders []Order
	for _, o := range m.Orders {
		if o.Status == OrderStatusCanceled || o.Status == OrderStatusFilled {
			continue
		}
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// CreateOrder accepts the order and records it as open.
func (m *MockClient) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("CreateOrder"); err != nil {
		return Order{}, err
	}
	m.nextOrderID++
	order := Order{
		ID:          fmt.Sprintf("mock-%d", m.nextOrderID),
		Symbol:      req.Symbol,
		Side:        req.Side,
		Type:        req.Type,
		Qty:         req.Qty,
		LimitPrice:  req.LimitPrice,
		StopPrice:   req.StopPrice,
		TimeInForce: req.TimeInForce,
		Status:      OrderStatusAccepted,
		CreatedAt:   time.Now(),
	}
	m.Orders[order.ID] = order
	return order, nil
}

// CancelOrder removes an open order, ErrNotFound when absent.
func (m *MockClient) CancelOrder(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("CancelOrder"); err != nil {
		return err
	}
	o, ok := m.Orders[orderID]
	if !ok {
		return ErrNotFound
	}
	o.Status = OrderStatusCanceled
	m.Orders[orderID] = o
	return nil
}

// GetOrder returns a scripted order or ErrNotFound.
func (m *MockClient) GetOrder(ctx context.Context, orderID string) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("GetOrder"); err != nil {
		return Order{}, err
	}
	o, ok := m.Orders[orderID]
	if !ok {
		return Order{}, ErrNotFound
	}
	return o, nil
}

// GetLatestQuote returns the scripted quote for a symbol.
func (m *MockClient) GetLatestQuote(ctx context.Context, symbol string) (Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("GetLatestQuote"); err != nil {
		return Quote{}, err
	}
	q, ok := m.Quotes[symbol]
	if !ok {
		return Quote{}, fmt.Errorf("no quote for %s", symbol)
	}
	return q, nil
}
