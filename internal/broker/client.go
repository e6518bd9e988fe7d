package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// RESTClient talks to an Alpaca-compatible brokerage REST API.
type RESTClient struct {
	apiKey     string
	apiSecret  string
	baseURL    string // trading API, e.g. https://paper-api.alpaca.markets
	dataURL    string // market data API, e.g. https://data.alpaca.markets
	httpClient *http.Client
}

// NewRESTClient creates a brokerage client.
func NewRESTClient(apiKey, apiSecret, baseURL, dataURL string) *RESTClient {
	return &RESTClient{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		baseURL:    baseURL,
		dataURL:    dataURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *RESTClient) do(ctx context.Context, method, rawURL string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("error encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return fmt.Errorf("error building request: %w", err)
	}
	req.Header.Set("APCA-API-KEY-ID", c.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.apiSecret)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("API error %d: %s", resp.StatusCode, string(data))
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("error parsing response: %w", err)
		}
	}
	return nil
}

// GetClock fetches the market clock.
func (c *RESTClient) GetClock(ctx context.Context) (Clock, error) {
	var clock Clock
	err := c.do(ctx, http.MethodGet, c.baseURL+"/v2/clock", nil, &clock)
	if err != nil {
		return Clock{}, fmt.Errorf("error fetching clock: %w", err)
	}
	return clock, nil
}

// GetPositions fetches all open positions.
func (c *RESTClient) GetPositions(ctx context.Context) ([]Position, error) {
	var positions []Position
	err := c.do(ctx, http.MethodGet, c.baseURL+"/v2/positions", nil, &positions)
	if err != nil {
		return nil, fmt.Errorf("error fetching positions: %w", err)
	}
	return positions, nil
}

// GetPosition fetches the live position for one symbol. Returns ErrNotFound
// when the account holds no position in it.
func (c *RESTClient) GetPosition(ctx context.Context, symbol string) (Position, error) {
	var position Position
	err := c.do(ctx, http.MethodGet, c.baseURL+"/v2/positions/"+url.PathEscape(symbol), nil, &position)
	if err == ErrNotFound {
		return Position{}, ErrNotFound
	}
	if err != nil {
		return Position{}, fmt.Errorf("error fetching position %s: %w", symbol, err)
	}
	return position, nil
}

// GetOpenOrders fetches open orders, optionally filtered by symbol.
func (c *RESTClient) GetOpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	params := url.Values{}
	params.Set("status", "open")
	if symbol != "" {
		params.Set("symbols", symbol)
	}

	var orders []Order
	err := c.do(ctx, http.MethodGet, c.baseURL+"/v2/orders?"+params.Encode(), nil, &orders)
	if err != nil {
		return nil, fmt.Errorf("error fetching open orders: %w", err)
	}
	return orders, nil
}

// CreateOrder submits a new order.
func (c *RESTClient) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	var order Order
	err := c.do(ctx, http.MethodPost, c.baseURL+"/v2/orders", req, &order)
	if err != nil {
		return Order{}, fmt.Errorf("error creating order: %w", err)
	}
	return order, nil
}

// CancelOrder cancels an order by id. Returns ErrNotFound when the order is
// already gone, which several callers tolerate.
func (c *RESTClient) CancelOrder(ctx context.Context, orderID string) error {
	err := c.do(ctx, http.MethodDelete, c.baseURL+"/v2/orders/"+url.PathEscape(orderID), nil, nil)
	if err == ErrNotFound {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("error canceling order %s: %w", orderID, err)
	}
	return nil
}

// GetOrder fetches a single order, including attached legs.
func (c *RESTClient) GetOrder(ctx context.Context, orderID string) (Order, error) {
	var order Order
	err := c.do(ctx, http.MethodGet, c.baseURL+"/v2/orders/"+url.PathEscape(orderID), nil, &order)
	if err == ErrNotFound {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("error fetching order %s: %w", orderID, err)
	}
	return order, nil
}

// snapshotResponse is the market-data snapshot wire shape.
type snapshotResponse struct {
	LatestTrade struct {
		Price float64 `json:"p"`
	} `json:"latestTrade"`
	LatestQuote struct {
		AskPrice float64 `json:"ap"`
		BidPrice float64 `json:"bp"`
	} `json:"latestQuote"`
}

// GetLatestQuote fetches the latest trade/quote snapshot for a symbol.
func (c *RESTClient) GetLatestQuote(ctx context.Context, symbol string) (Quote, error) {
	var snap snapshotResponse
	err := c.do(ctx, http.MethodGet, c.dataURL+"/v2/stocks/"+url.PathEscape(symbol)+"/snapshot", nil, &snap)
	if err != nil {
		return Quote{}, fmt.Errorf("error fetching quote %s: %w", symbol, err)
	}
	return Quote{
		Last: snap.LatestTrade.Price,
		Bid:  snap.LatestQuote.BidPrice,
		Ask:  snap.LatestQuote.AskPrice,
	}, nil
}
