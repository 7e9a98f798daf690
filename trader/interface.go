package trader

import (
	"context"
)

// Order sides as the venue expects them.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// OrderStatus is the terminal-or-not state a venue reports for an order.
type OrderStatus string

const (
	OrderStatusOpen     OrderStatus = "OPEN"
	OrderStatusFilled   OrderStatus = "FILLED"
	OrderStatusCanceled OrderStatus = "CANCELED"
	OrderStatusRejected OrderStatus = "REJECTED"
)

// Order is the venue-agnostic view of an order.
// FilledPrice/FilledQty are meaningful once Status is FILLED; venues that
// omit the average fill price report zero and callers fall back to Price.
type Order struct {
	OrderID     string      `json:"order_id"`
	Symbol      string      `json:"symbol"`
	Side        string      `json:"side"` // BUY/SELL
	Price       float64     `json:"price"`
	Quantity    float64     `json:"quantity"`
	Status      OrderStatus `json:"status"`
	FilledPrice float64     `json:"filled_price"`
	FilledQty   float64     `json:"filled_qty"`
}

// Adapter is the single venue contract the grid engine consumes.
// Every call may block on network I/O; implementations must honor the
// context deadline. The engine never talks to an exchange except through
// this interface, and always behind the rate gate.
type Adapter interface {
	// PlaceLimitOrder places a GTC limit order and returns the venue order ID.
	PlaceLimitOrder(ctx context.Context, symbol, side string, price, quantity float64) (string, error)

	// PlaceMarketOrder places a market order. Used only by the risk guard's
	// liquidation path.
	PlaceMarketOrder(ctx context.Context, symbol, side string, quantity float64) error

	// CancelOrder cancels an order. Returns ErrAlreadyFilled if the venue
	// reports the order executed before the cancel landed.
	CancelOrder(ctx context.Context, symbol, orderID string) error

	// GetOrderStatus returns the current state of an order, including fill
	// price and quantity for filled orders.
	GetOrderStatus(ctx context.Context, symbol, orderID string) (*Order, error)

	// GetOpenOrders returns all orders still open for the symbol.
	GetOpenOrders(ctx context.Context, symbol string) ([]Order, error)

	// GetCurrentPrice returns the last traded price for the symbol.
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
}
