// Package remote is the typed HTTP client for the trading server's REST API.
// It complements the push connection: stores pull initial snapshots and push
// optimistic write-backs through it.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/aristath/tradedeck/internal/domain"
)

const (
	defaultTimeout = 10 * time.Second
	maxRetries     = 3
)

// ApiError is a non-2xx response from the trading server. HTTP-level errors
// are never retried; the server has already answered.
type ApiError struct {
	StatusCode int
	Message    string
}

func (e *ApiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error %d", e.StatusCode)
}

// Client talks to the trading server REST API. Transport failures are retried
// with a linearly growing wait; every call takes a context for cancellation.
type Client struct {
	http *resty.Client
	log  zerolog.Logger
}

// New creates a client for the given base URL, e.g. http://localhost:8000.
func New(baseURL string, log zerolog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(defaultTimeout).
		SetRetryCount(maxRetries).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// Retry transport failures only, never HTTP error responses or
			// cancelled contexts.
			if err == nil {
				return false
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return false
			}
			return true
		}).
		SetRetryAfter(func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
			return time.Duration(resp.Request.Attempt) * time.Second, nil
		})

	return &Client{
		http: httpClient,
		log:  log.With().Str("component", "remote").Logger(),
	}
}

// AccountBalance fetches the current account snapshot.
func (c *Client) AccountBalance(ctx context.Context) (*domain.AccountBalance, error) {
	var out domain.AccountBalance
	if err := c.get(ctx, "/api/account/balance", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RefreshAccountBalance asks the server to re-query the broker and returns
// the fresh snapshot.
func (c *Client) RefreshAccountBalance(ctx context.Context) (*domain.AccountBalance, error) {
	var out domain.AccountBalance
	if err := c.post(ctx, "/api/account/balance/refresh", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Watchlist fetches the watched symbols with their latest quotes.
func (c *Client) Watchlist(ctx context.Context) ([]domain.WatchItem, error) {
	var out []domain.WatchItem
	if err := c.get(ctx, "/api/watchlist", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddToWatchlist registers a symbol on the server-side watchlist.
func (c *Client) AddToWatchlist(ctx context.Context, stockCode string) error {
	body := map[string]string{"stock_code": stockCode}
	return c.post(ctx, "/api/watchlist", body, nil)
}

// RemoveFromWatchlist removes a symbol from the server-side watchlist.
func (c *Client) RemoveFromWatchlist(ctx context.Context, stockCode string) error {
	return c.delete(ctx, "/api/watchlist/"+stockCode)
}

// TradingConditions fetches the trading rule set.
func (c *Client) TradingConditions(ctx context.Context) (*domain.TradingConditions, error) {
	var out domain.TradingConditions
	if err := c.get(ctx, "/api/trading/conditions", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveTradingConditions writes the trading rule set back to the server.
func (c *Client) SaveTradingConditions(ctx context.Context, conditions *domain.TradingConditions) error {
	return c.post(ctx, "/api/trading/conditions", conditions, nil)
}

// StartTrading enables automatic trading on the server.
func (c *Client) StartTrading(ctx context.Context) error {
	return c.post(ctx, "/api/trading/start", nil, nil)
}

// StopTrading disables automatic trading on the server.
func (c *Client) StopTrading(ctx context.Context) error {
	return c.post(ctx, "/api/trading/stop", nil, nil)
}

// TradingStatus fetches whether automatic trading is active.
func (c *Client) TradingStatus(ctx context.Context) (*domain.TradingStatusData, error) {
	var out domain.TradingStatusData
	if err := c.get(ctx, "/api/trading/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PlaceBuyOrder submits a buy order and returns the accepted order.
func (c *Client) PlaceBuyOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	req.OrderSide = "buy"
	var out domain.Order
	if err := c.post(ctx, "/api/orders/buy", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PlaceSellOrder submits a sell order and returns the accepted order.
func (c *Client) PlaceSellOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	req.OrderSide = "sell"
	var out domain.Order
	if err := c.post(ctx, "/api/orders/sell", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OrderHistory fetches completed orders.
func (c *Client) OrderHistory(ctx context.Context) ([]domain.Order, error) {
	var out []domain.Order
	if err := c.get(ctx, "/api/orders/history", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PendingOrders fetches orders still awaiting execution.
func (c *Client) PendingOrders(ctx context.Context) ([]domain.Order, error) {
	var out []domain.Order
	if err := c.get(ctx, "/api/orders/pending", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CancelOrder cancels a pending order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.delete(ctx, "/api/orders/"+orderID)
}

// MarketOverview fetches the market index snapshot.
func (c *Client) MarketOverview(ctx context.Context) (*domain.MarketOverview, error) {
	var out domain.MarketOverview
	if err := c.get(ctx, "/api/market/overview", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks whether the trading server is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/health", nil)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req := c.http.R().SetContext(ctx)
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Get(path)
	return c.check(path, resp, err)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Post(path)
	return c.check(path, resp, err)
}

func (c *Client) delete(ctx context.Context, path string) error {
	resp, err := c.http.R().SetContext(ctx).Delete(path)
	return c.check(path, resp, err)
}

func (c *Client) check(path string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	if resp.IsError() {
		apiErr := &ApiError{StatusCode: resp.StatusCode()}
		var body struct {
			Detail  string `json:"detail"`
			Message string `json:"message"`
		}
		if jsonErr := json.Unmarshal(resp.Body(), &body); jsonErr == nil {
			if body.Detail != "" {
				apiErr.Message = body.Detail
			} else {
				apiErr.Message = body.Message
			}
		}
		c.log.Warn().Str("path", path).Int("status", apiErr.StatusCode).Msg("API request rejected")
		return apiErr
	}
	return nil
}
