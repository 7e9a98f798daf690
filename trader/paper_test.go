package trader

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaperLimitOrderLifecycle(t *testing.T) {
	p := NewPaperAdapter()
	ctx := context.Background()
	p.SetPrice("BTCUSDT", 50000)

	id, err := p.PlaceLimitOrder(ctx, "BTCUSDT", SideBuy, 49500, 0.001)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	order, err := p.GetOrderStatus(ctx, "BTCUSDT", id)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusOpen, order.Status)
	assert.Equal(t, 1, p.OpenOrderCount("BTCUSDT"))

	// Price above the limit leaves the BUY resting.
	p.SetPrice("BTCUSDT", 49600)
	order, err = p.GetOrderStatus(ctx, "BTCUSDT", id)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusOpen, order.Status)

	// Price through the limit fills at the limit price.
	p.SetPrice("BTCUSDT", 49400)
	order, err = p.GetOrderStatus(ctx, "BTCUSDT", id)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusFilled, order.Status)
	assert.InDelta(t, 49500.0, order.FilledPrice, 1e-9)
	assert.InDelta(t, 0.001, order.FilledQty, 1e-12)
	assert.Equal(t, 0, p.OpenOrderCount("BTCUSDT"))
}

func TestPaperSellFillsOnRise(t *testing.T) {
	p := NewPaperAdapter()
	ctx := context.Background()
	p.SetPrice("BTCUSDT", 50000)

	id, err := p.PlaceLimitOrder(ctx, "BTCUSDT", SideSell, 50500, 0.001)
	require.NoError(t, err)

	p.SetPrice("BTCUSDT", 50400)
	order, _ := p.GetOrderStatus(ctx, "BTCUSDT", id)
	assert.Equal(t, OrderStatusOpen, order.Status)

	p.SetPrice("BTCUSDT", 50600)
	order, _ = p.GetOrderStatus(ctx, "BTCUSDT", id)
	assert.Equal(t, OrderStatusFilled, order.Status)
	assert.InDelta(t, 50500.0, order.FilledPrice, 1e-9)
}

func TestPaperCancel(t *testing.T) {
	p := NewPaperAdapter()
	ctx := context.Background()
	p.SetPrice("BTCUSDT", 50000)

	id, err := p.PlaceLimitOrder(ctx, "BTCUSDT", SideBuy, 49000, 0.001)
	require.NoError(t, err)
	require.NoError(t, p.CancelOrder(ctx, "BTCUSDT", id))

	order, err := p.GetOrderStatus(ctx, "BTCUSDT", id)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusCanceled, order.Status)

	// Cancelling a filled order reports the race.
	id2, err := p.PlaceLimitOrder(ctx, "BTCUSDT", SideBuy, 49500, 0.001)
	require.NoError(t, err)
	p.SetPrice("BTCUSDT", 49400)
	err = p.CancelOrder(ctx, "BTCUSDT", id2)
	assert.ErrorIs(t, err, ErrAlreadyFilled)

	// Unknown order.
	assert.ErrorIs(t, p.CancelOrder(ctx, "BTCUSDT", "nope"), ErrOrderNotFound)
}

func TestPaperMarketOrder(t *testing.T) {
	p := NewPaperAdapter()
	ctx := context.Background()

	// No price yet.
	require.Error(t, p.PlaceMarketOrder(ctx, "BTCUSDT", SideSell, 0.001))

	p.SetPrice("BTCUSDT", 50000)
	require.NoError(t, p.PlaceMarketOrder(ctx, "BTCUSDT", SideSell, 0.001))
	assert.Equal(t, 0, p.OpenOrderCount("BTCUSDT"), "market orders never rest")
}

func TestPaperGetOpenOrders(t *testing.T) {
	p := NewPaperAdapter()
	ctx := context.Background()
	p.SetPrice("BTCUSDT", 50000)
	p.SetPrice("ETHUSDT", 3000)

	_, err := p.PlaceLimitOrder(ctx, "BTCUSDT", SideBuy, 49000, 0.001)
	require.NoError(t, err)
	_, err = p.PlaceLimitOrder(ctx, "ETHUSDT", SideBuy, 2900, 0.01)
	require.NoError(t, err)

	orders, err := p.GetOpenOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, orders, 1, "symbols are isolated")
	assert.Equal(t, "BTCUSDT", orders[0].Symbol)
}

func TestPaperRejectsInvalidOrders(t *testing.T) {
	p := NewPaperAdapter()
	ctx := context.Background()

	_, err := p.PlaceLimitOrder(ctx, "BTCUSDT", SideBuy, 0, 0.001)
	assert.ErrorIs(t, err, ErrInvalidPrice)
	_, err = p.PlaceLimitOrder(ctx, "BTCUSDT", SideBuy, 49000, 0)
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestPaperInjectedStatusFailures(t *testing.T) {
	p := NewPaperAdapter()
	ctx := context.Background()
	p.SetPrice("BTCUSDT", 50000)
	id, err := p.PlaceLimitOrder(ctx, "BTCUSDT", SideBuy, 49000, 0.001)
	require.NoError(t, err)

	p.FailStatusQueries(2)
	_, err = p.GetOrderStatus(ctx, "BTCUSDT", id)
	assert.ErrorIs(t, err, ErrRateLimited)
	_, err = p.GetOrderStatus(ctx, "BTCUSDT", id)
	assert.ErrorIs(t, err, ErrRateLimited)
	_, err = p.GetOrderStatus(ctx, "BTCUSDT", id)
	assert.NoError(t, err, "failures are consumed")
}
