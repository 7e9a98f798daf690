package trader

import (
	"context"
	"fmt"
	"sync"

	"gridbot/logger"
)

// PaperAdapter is an in-memory exchange used for paper trading and tests.
// Limit orders rest until a fed price crosses them; SetPrice drives fills.
type PaperAdapter struct {
	mu     sync.Mutex
	prices map[string]float64
	orders map[string]*Order
	nextID int64

	// failStatusQueries makes the next N GetOrderStatus calls fail with a
	// transient error, for exercising reconciler fail-safe paths.
	failStatusQueries int

	// failCancels does the same for CancelOrder calls.
	failCancels int
}

// NewPaperAdapter creates an empty paper exchange.
func NewPaperAdapter() *PaperAdapter {
	return &PaperAdapter{
		prices: make(map[string]float64),
		orders: make(map[string]*Order),
	}
}

// SetPrice feeds a new market price and fills any crossed resting orders.
// A BUY fills when the market trades at or below its limit; a SELL fills
// at or above. Fills execute at the limit price.
func (p *PaperAdapter) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price

	for _, o := range p.orders {
		if o.Symbol != symbol || o.Status != OrderStatusOpen {
			continue
		}
		crossed := (o.Side == SideBuy && price <= o.Price) ||
			(o.Side == SideSell && price >= o.Price)
		if crossed {
			o.Status = OrderStatusFilled
			o.FilledPrice = o.Price
			o.FilledQty = o.Quantity
			logger.Debugf("[Paper] Filled %s %s %.8f @ %.2f (order %s)",
				o.Side, o.Symbol, o.Quantity, o.Price, o.OrderID)
		}
	}
}

// PlaceLimitOrder places a resting limit order
func (p *PaperAdapter) PlaceLimitOrder(ctx context.Context, symbol, side string, price, quantity float64) (string, error) {
	if price <= 0 || quantity <= 0 {
		return "", fmt.Errorf("%w: price=%f quantity=%f", ErrInvalidPrice, price, quantity)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	id := fmt.Sprintf("paper-%d", p.nextID)
	p.orders[id] = &Order{
		OrderID:  id,
		Symbol:   symbol,
		Side:     side,
		Price:    price,
		Quantity: quantity,
		Status:   OrderStatusOpen,
	}
	return id, nil
}

// PlaceMarketOrder executes immediately at the current price
func (p *PaperAdapter) PlaceMarketOrder(ctx context.Context, symbol, side string, quantity float64) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity=%f", ErrInvalidPrice, quantity)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[symbol]
	if !ok {
		return fmt.Errorf("no market price for %s", symbol)
	}

	p.nextID++
	id := fmt.Sprintf("paper-%d", p.nextID)
	p.orders[id] = &Order{
		OrderID:     id,
		Symbol:      symbol,
		Side:        side,
		Price:       price,
		Quantity:    quantity,
		Status:      OrderStatusFilled,
		FilledPrice: price,
		FilledQty:   quantity,
	}
	return nil
}

// CancelOrder cancels a resting order
func (p *PaperAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failCancels > 0 {
		p.failCancels--
		return fmt.Errorf("%w: injected failure", ErrRateLimited)
	}
	o, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if o.Status == OrderStatusFilled {
		return fmt.Errorf("%w: %s", ErrAlreadyFilled, orderID)
	}
	o.Status = OrderStatusCanceled
	return nil
}

// GetOrderStatus returns a copy of the order's current state
func (p *PaperAdapter) GetOrderStatus(ctx context.Context, symbol, orderID string) (*Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failStatusQueries > 0 {
		p.failStatusQueries--
		return nil, fmt.Errorf("%w: injected failure", ErrRateLimited)
	}
	o, ok := p.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	cp := *o
	return &cp, nil
}

// GetOpenOrders returns all resting orders for the symbol
func (p *PaperAdapter) GetOpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var open []Order
	for _, o := range p.orders {
		if o.Symbol == symbol && o.Status == OrderStatusOpen {
			open = append(open, *o)
		}
	}
	return open, nil
}

// GetCurrentPrice returns the last fed price
func (p *PaperAdapter) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no market price for %s", symbol)
	}
	return price, nil
}

// FailStatusQueries makes the next n status queries fail with a transient
// error. Test hook.
func (p *PaperAdapter) FailStatusQueries(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failStatusQueries = n
}

// FailCancels makes the next n cancel calls fail with a transient error.
// Test hook.
func (p *PaperAdapter) FailCancels(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failCancels = n
}

// OpenOrderCount returns the number of resting orders. Test hook.
func (p *PaperAdapter) OpenOrderCount(symbol string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, o := range p.orders {
		if o.Symbol == symbol && o.Status == OrderStatusOpen {
			n++
		}
	}
	return n
}
