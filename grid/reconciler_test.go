package grid

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridbot/gate"
	"gridbot/trader"
)

func testGate() *gate.Gate {
	return gate.New(gate.Policy{
		MaxAttempts: 2,
		MinDelay:    time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		Factor:      2,
		CallTimeout: time.Second,
	}, 10000, 100, trader.IsTransient)
}

// placeOnLevel places a limit order on the paper exchange and binds it.
func placeOnLevel(t *testing.T, paper *trader.PaperAdapter, l *Ledger, index int) string {
	t.Helper()
	lvl, err := l.Level(index)
	require.NoError(t, err)
	id, err := paper.PlaceLimitOrder(context.Background(), "BTCUSDT", lvl.Side, lvl.Price, 0.001)
	require.NoError(t, err)
	require.NoError(t, l.BindOrder(index, id))
	return id
}

func openSet(t *testing.T, paper *trader.PaperAdapter) map[string]bool {
	t.Helper()
	src := NewPollFillSource("BTCUSDT", paper, testGate())
	ids, err := src.OpenOrderIDs(context.Background())
	require.NoError(t, err)
	return ids
}

func TestReconcileDetectsFill(t *testing.T) {
	paper := trader.NewPaperAdapter()
	paper.SetPrice("BTCUSDT", 50000)
	l := newTestLedger(t)
	r := NewReconciler("BTCUSDT", paper, testGate())

	placeOnLevel(t, paper, l, 4) // BUY 49500

	// Price dips through the level; the order fills on the exchange.
	paper.SetPrice("BTCUSDT", 49400)

	intents := r.Reconcile(context.Background(), l, openSet(t, paper))

	require.Len(t, intents, 1)
	assert.Equal(t, 5, intents[0].LevelIndex)
	assert.Equal(t, trader.SideSell, intents[0].Side)
	assert.InDelta(t, 50500.0, intents[0].Price, 1e-9)

	pos := l.Position(49400)
	assert.InDelta(t, 0.001, pos.NetBaseQuantity, 1e-12)
	assert.InDelta(t, 49500.0, pos.AverageEntryPrice, 1e-9)
}

func TestReconcileIsIdempotentAcrossTicks(t *testing.T) {
	paper := trader.NewPaperAdapter()
	paper.SetPrice("BTCUSDT", 50000)
	l := newTestLedger(t)
	r := NewReconciler("BTCUSDT", paper, testGate())

	placeOnLevel(t, paper, l, 4)
	paper.SetPrice("BTCUSDT", 49400)

	first := r.Reconcile(context.Background(), l, openSet(t, paper))
	require.Len(t, first, 1)
	posAfter := l.Position(49400)

	// Reconciling the same disappearance again changes nothing.
	second := r.Reconcile(context.Background(), l, openSet(t, paper))
	assert.Empty(t, second)
	assert.Equal(t, posAfter, l.Position(49400))
}

func TestReconcileCanceledOrderYieldsReplacement(t *testing.T) {
	paper := trader.NewPaperAdapter()
	paper.SetPrice("BTCUSDT", 50000)
	l := newTestLedger(t)
	r := NewReconciler("BTCUSDT", paper, testGate())

	id := placeOnLevel(t, paper, l, 3) // BUY 49000
	require.NoError(t, paper.CancelOrder(context.Background(), "BTCUSDT", id))

	intents := r.Reconcile(context.Background(), l, openSet(t, paper))

	// Unbound without position impact, replacement scheduled on the same level.
	require.Len(t, intents, 1)
	assert.Equal(t, 3, intents[0].LevelIndex)
	assert.Equal(t, trader.SideBuy, intents[0].Side)
	assert.InDelta(t, 49000.0, intents[0].Price, 1e-9)
	assert.Zero(t, l.Position(50000).NetBaseQuantity)

	lvl, err := l.Level(3)
	require.NoError(t, err)
	assert.Equal(t, LevelIdle, lvl.State)
	assert.Empty(t, lvl.OrderID)
}

func TestReconcileQueryFailureMarksUnknown(t *testing.T) {
	paper := trader.NewPaperAdapter()
	paper.SetPrice("BTCUSDT", 50000)
	l := newTestLedger(t)
	r := NewReconciler("BTCUSDT", paper, testGate())

	id := placeOnLevel(t, paper, l, 4)
	paper.SetPrice("BTCUSDT", 49400) // fills on the exchange

	// Enough injected failures to exhaust the gate's attempts.
	paper.FailStatusQueries(2)
	intents := r.Reconcile(context.Background(), l, openSet(t, paper))
	assert.Empty(t, intents, "an unresolved order must not produce intents")

	lvl, err := l.Level(4)
	require.NoError(t, err)
	assert.Equal(t, LevelUnknown, lvl.State)
	assert.Equal(t, id, lvl.OrderID, "binding kept for later resolution")
	assert.Zero(t, l.Position(49400).NetBaseQuantity, "no fill recorded on uncertainty")

	// Next reconciliation succeeds and resolves the fill exactly once.
	intents = r.Reconcile(context.Background(), l, openSet(t, paper))
	require.Len(t, intents, 1)
	assert.InDelta(t, 0.001, l.Position(49400).NetBaseQuantity, 1e-12)
}

func TestReconcileRestoresUnknownStillOpen(t *testing.T) {
	paper := trader.NewPaperAdapter()
	paper.SetPrice("BTCUSDT", 50000)
	l := newTestLedger(t)
	r := NewReconciler("BTCUSDT", paper, testGate())

	placeOnLevel(t, paper, l, 3)
	require.NoError(t, l.MarkUnknown(3))

	intents := r.Reconcile(context.Background(), l, openSet(t, paper))
	assert.Empty(t, intents)

	lvl, err := l.Level(3)
	require.NoError(t, err)
	assert.Equal(t, LevelBound, lvl.State)
}
