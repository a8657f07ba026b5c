// Package domain contains the wire and domain models shared by the sync core.
// Field names mirror the remote server's JSON contract.
package domain

import (
	"encoding/json"
	"time"
)

// MessageType identifies a push envelope kind on the persistent connection.
type MessageType string

const (
	AccountUpdate    MessageType = "account_update"
	WatchlistUpdate  MessageType = "watchlist_update"
	PriceUpdate      MessageType = "price_update"
	TradingStatus    MessageType = "trading_status"
	OrderUpdate      MessageType = "order_update"
	ConnectionStatus MessageType = "connection_status"
)

// Envelope is the typed, timestamped wrapper around every push payload.
// The payload stays opaque until a store decodes it for its own domain.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Ping is the outbound keepalive control frame.
type Ping struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"` // epoch millis
}

// NewPing builds a keepalive frame for the given instant.
func NewPing(now time.Time) Ping {
	return Ping{Type: "ping", Timestamp: now.UnixMilli()}
}

// Status is the connection lifecycle state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
)

// ConnectionState is the single connection-state value shared with every
// consumer. Published as immutable copies; readers never mutate it.
type ConnectionState struct {
	Status            Status     `json:"status"`
	LastConnectedAt   *time.Time `json:"last_connected_at,omitempty"`
	ReconnectAttempts int        `json:"reconnect_attempts"`
	LastError         string     `json:"last_error,omitempty"`
}

// Position is a single holding inside the account snapshot.
type Position struct {
	StockCode        string  `json:"stock_code"`
	StockName        string  `json:"stock_name"`
	Quantity         float64 `json:"quantity"`
	SellableQuantity float64 `json:"sellable_quantity"`
	AvgPrice         float64 `json:"avg_price"`
	CurrentPrice     float64 `json:"current_price"`
	ProfitLoss       float64 `json:"profit_loss"`
	ProfitRate       float64 `json:"profit_rate"`
	EvaluationAmount float64 `json:"evaluation_amount"`
	YesterdayPrice   float64 `json:"yesterday_price"`
	ChangeAmount     float64 `json:"change_amount"`
	ChangeRate       float64 `json:"change_rate"`
}

// AccountBalance is the account snapshot. Positions keep arrival order.
type AccountBalance struct {
	TotalValue            float64    `json:"total_value"`
	AvailableCash         float64    `json:"available_cash"`
	TotalPurchaseAmount   float64    `json:"total_purchase_amount"`
	TotalEvaluationAmount float64    `json:"total_evaluation_amount"`
	TotalProfitLoss       float64    `json:"total_profit_loss"`
	TotalProfitLossRate   float64    `json:"total_profit_loss_rate"`
	Positions             []Position `json:"positions"`
}

// Normalize recomputes the derived fields instead of trusting the wire.
// Per-position evaluation amount is always quantity × current price, and the
// totals are rebuilt from the normalized positions.
func (a *AccountBalance) Normalize() {
	var totalEval, totalPurchase, totalPnL float64
	for i := range a.Positions {
		p := &a.Positions[i]
		if p.Quantity < 0 {
			p.Quantity = 0
		}
		p.EvaluationAmount = p.Quantity * p.CurrentPrice
		purchase := p.Quantity * p.AvgPrice
		p.ProfitLoss = p.EvaluationAmount - purchase
		if purchase > 0 {
			p.ProfitRate = p.ProfitLoss / purchase * 100
		} else {
			p.ProfitRate = 0
		}
		if p.YesterdayPrice > 0 {
			p.ChangeAmount = p.CurrentPrice - p.YesterdayPrice
			p.ChangeRate = p.ChangeAmount / p.YesterdayPrice * 100
		}
		totalEval += p.EvaluationAmount
		totalPurchase += purchase
		totalPnL += p.ProfitLoss
	}
	a.TotalEvaluationAmount = totalEval
	a.TotalProfitLoss = totalPnL
	if a.TotalPurchaseAmount <= 0 {
		a.TotalPurchaseAmount = totalPurchase
	}
	if a.TotalPurchaseAmount > 0 {
		a.TotalProfitLossRate = a.TotalProfitLoss / a.TotalPurchaseAmount * 100
	} else {
		a.TotalProfitLossRate = 0
	}
	a.TotalValue = a.AvailableCash + a.TotalEvaluationAmount
}

// WatchItem is one watched symbol with its latest quote and indicators.
// Indicator values are computed by the remote server; this module only
// transports them.
type WatchItem struct {
	StockCode             string  `json:"stock_code"`
	StockName             string  `json:"stock_name,omitempty"`
	CurrentPrice          float64 `json:"current_price"`
	ProfitRate            float64 `json:"profit_rate"`
	AvgPrice              float64 `json:"avg_price"`
	Quantity              float64 `json:"quantity"`
	MACD                  float64 `json:"macd"`
	MACDSignal            float64 `json:"macd_signal"`
	RSI                   float64 `json:"rsi"`
	TrailingStopActivated bool    `json:"trailing_stop_activated"`
	TrailingStopHigh      float64 `json:"trailing_stop_high"`
	Volume                float64 `json:"volume"`
	ChangeAmount          float64 `json:"change_amount"`
	ChangeRate            float64 `json:"change_rate"`
	YesterdayPrice        float64 `json:"yesterday_price"`
	HighPrice             float64 `json:"high_price"`
	LowPrice              float64 `json:"low_price"`
	UpdatedAt             string  `json:"updated_at"`
}

// PriceTick is the payload of a price_update envelope.
type PriceTick struct {
	StockCode    string  `json:"stock_code"`
	CurrentPrice float64 `json:"current_price"`
	ChangeAmount float64 `json:"change_amount"`
	ChangeRate   float64 `json:"change_rate"`
	Volume       float64 `json:"volume"`
	Timestamp    string  `json:"timestamp"`
}

// BuyConditions configures the automatic buy rule.
type BuyConditions struct {
	Amount   float64 `json:"amount"`
	MACDType string  `json:"macd_type"`
	RSIValue float64 `json:"rsi_value"`
	RSIType  string  `json:"rsi_type"`
	Enabled  bool    `json:"enabled"`
}

// SellConditions configures the automatic sell rule.
type SellConditions struct {
	MACDType            string  `json:"macd_type"`
	RSIValue            float64 `json:"rsi_value"`
	RSIType             string  `json:"rsi_type"`
	StopLossRate        float64 `json:"stop_loss_rate"`
	TakeProfitRate      float64 `json:"take_profit_rate"`
	TrailingStopEnabled bool    `json:"trailing_stop_enabled"`
	Enabled             bool    `json:"enabled"`
}

// RiskManagement bounds the automatic trading exposure.
type RiskManagement struct {
	MaxLossPerTrade float64 `json:"max_loss_per_trade"`
	MaxDailyLoss    float64 `json:"max_daily_loss"`
	PositionSizing  string  `json:"position_sizing"`
}

// TradingConditions is the user-editable trading rule set. Local edits are
// optimistic; trading_status pushes are authoritative.
type TradingConditions struct {
	BuyConditions      BuyConditions  `json:"buy_conditions"`
	SellConditions     SellConditions `json:"sell_conditions"`
	AutoTradingEnabled bool           `json:"auto_trading_enabled"`
	MaxPositions       int            `json:"max_positions"`
	RiskManagement     RiskManagement `json:"risk_management"`
}

// TradingStatusData is the payload of a trading_status envelope.
type TradingStatusData struct {
	IsActive  bool   `json:"is_active"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// OrderRequest is an outbound buy/sell order.
type OrderRequest struct {
	StockCode string  `json:"stock_code"`
	Quantity  float64 `json:"quantity"`
	Price     float64 `json:"price,omitempty"`
	OrderType string  `json:"order_type"` // "00" limit, "01" market
	OrderSide string  `json:"order_side"` // "buy" or "sell"
}

// Order is an order as reported by the remote server.
type Order struct {
	OrderID           string  `json:"order_id"`
	StockCode         string  `json:"stock_code"`
	StockName         string  `json:"stock_name"`
	OrderSide         string  `json:"order_side"`
	OrderType         string  `json:"order_type"`
	Quantity          float64 `json:"quantity"`
	Price             float64 `json:"price"`
	FilledQuantity    float64 `json:"filled_quantity"`
	RemainingQuantity float64 `json:"remaining_quantity"`
	Status            string  `json:"status"` // pending, filled, cancelled, failed
	OrderTime         string  `json:"order_time"`
	FilledTime        string  `json:"filled_time,omitempty"`
	FilledPrice       float64 `json:"filled_price,omitempty"`
	Commission        float64 `json:"commission,omitempty"`
}

// OrderBook groups the order lists the dashboard shows.
type OrderBook struct {
	History []Order `json:"history"`
	Pending []Order `json:"pending"`
}

// MarketIndex is a single index/currency quote in the market overview.
type MarketIndex struct {
	Name         string  `json:"name"`
	Code         string  `json:"code"`
	CurrentValue float64 `json:"current_value"`
	ChangeAmount float64 `json:"change_amount"`
	ChangeRate   float64 `json:"change_rate"`
	Volume       float64 `json:"volume"`
	IsUp         bool    `json:"is_up"`
}

// MarketOverview is the market snapshot (indices and currency).
type MarketOverview struct {
	Kospi     MarketIndex  `json:"kospi"`
	Kosdaq    MarketIndex  `json:"kosdaq"`
	USDKRW    MarketIndex  `json:"usd_krw"`
	Gold      *MarketIndex `json:"gold,omitempty"`
	Bitcoin   *MarketIndex `json:"bitcoin,omitempty"`
	UpdatedAt string       `json:"updated_at"`
}
