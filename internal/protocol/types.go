package protocol

import "github.com/shopspring/decimal"

// Client -> server ops.
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpOrder       = "order"
)

// Server -> client ops.
const (
	OpDecision = "decision"
	OpUniverse = "universe"
	OpError    = "error"
)

// ClientRequest is the single envelope for every client -> server message.
// Fields beyond Op are populated per op.
type ClientRequest struct {
	Op         string           `json:"op"`
	Symbols    []string         `json:"symbols,omitempty"`
	Symbol     string           `json:"symbol,omitempty"`
	Side       string           `json:"side,omitempty"`
	Quantity   int64            `json:"quantity,omitempty"`
	OrderType  string           `json:"orderType,omitempty"`
	LimitPrice *decimal.Decimal `json:"limitPrice,omitempty"`
	StrategyID string           `json:"strategyId,omitempty"`
}

// TickFrame is the per-message tick shape on the client feed.
// Timestamp is epoch milliseconds.
type TickFrame struct {
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	Volume     int64           `json:"volume"`
	Timestamp  int64           `json:"timestamp"`
	ProviderID string          `json:"providerId"`
}

// DecisionFrame answers an order op.
type DecisionFrame struct {
	Op      string `json:"op"`
	OrderID string `json:"orderId"`
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
}

// UniverseFrame announces a universe refresh to every connected client.
type UniverseFrame struct {
	Op        string   `json:"op"`
	Added     []string `json:"added"`
	Removed   []string `json:"removed"`
	Universe  []string `json:"universe"`
	Reason    string   `json:"reason"`
	Timestamp int64    `json:"timestamp"`
}

// ErrorFrame reports a malformed request back to its sender.
type ErrorFrame struct {
	Op      string `json:"op"`
	Message string `json:"message"`
}
