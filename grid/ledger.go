package grid

import (
	"fmt"
	"sync"
	"time"

	"gridbot/logger"
	"gridbot/trader"
)

// ============================================================================
// Grid Ledger
// ============================================================================

// Ledger is the authoritative in-memory record of the active generation,
// its order bindings, and position/PnL accounting. One engine goroutine
// owns all mutation; the RWMutex exists for status reads from the HTTP
// surface, not for concurrent writers.
type Ledger struct {
	mu sync.RWMutex

	generation *Generation
	position   Position
	risk       RiskState

	// orderIndex maps a live order ID to its level index.
	orderIndex map[string]int

	// tradesSinceRebalance feeds the planner's dynamic trigger.
	tradesSinceRebalance int

	totalTrades   int
	winningTrades int
	totalProfit   float64
}

// NewLedger creates a ledger owning the given generation.
func NewLedger(gen *Generation) *Ledger {
	l := &Ledger{
		orderIndex: make(map[string]int),
		risk: RiskState{
			LastDailyReset: time.Now().UTC(),
		},
	}
	l.generation = gen
	return l
}

// ApplyGeneration swaps in a new generation. All bindings are dropped
// (the rebalance cancel sweep has already confirmed them gone); Position
// and RiskState survive unchanged.
func (l *Ledger) ApplyGeneration(gen *Generation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.generation = gen
	l.orderIndex = make(map[string]int)
	l.tradesSinceRebalance = 0
}

// Generation returns a deep copy of the active generation for callers
// outside the engine goroutine.
func (l *Ledger) Generation() *Generation {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.copyGeneration()
}

func (l *Ledger) copyGeneration() *Generation {
	if l.generation == nil {
		return nil
	}
	cp := *l.generation
	cp.Levels = make([]Level, len(l.generation.Levels))
	copy(cp.Levels, l.generation.Levels)
	return &cp
}

// Level returns a copy of the level at index.
func (l *Ledger) Level(index int) (Level, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.generation == nil || index < 0 || index >= len(l.generation.Levels) {
		return Level{}, fmt.Errorf("%w: index %d", ErrLevelNotFound, index)
	}
	return l.generation.Levels[index], nil
}

// BindOrder records a live order against a level. Binding an already
// bound level is the duplicate-order bug this ledger exists to prevent,
// so it fails loudly with the full level state.
func (l *Ledger) BindOrder(index int, orderID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	lvl, err := l.levelRef(index)
	if err != nil {
		return err
	}
	if lvl.OrderID != "" {
		logger.Errorf("[Grid] Invariant violation: level %d already bound to %s (attempted %s), state=%s price=%f",
			index, lvl.OrderID, orderID, lvl.State, lvl.Price)
		return fmt.Errorf("%w: level %d carries order %s", ErrLevelAlreadyBound, index, lvl.OrderID)
	}
	if l.generation.Config.CapitalAllocation > 0 {
		notional := l.boundNotionalLocked() + lvl.Price*l.generation.Config.QuantityPerLevel
		if notional > l.generation.Config.CapitalAllocation {
			return fmt.Errorf("%w: bound notional %f would exceed %f",
				ErrCapitalExceeded, notional, l.generation.Config.CapitalAllocation)
		}
	}

	lvl.OrderID = orderID
	lvl.State = LevelBound
	l.orderIndex[orderID] = index
	return nil
}

// Unbind clears a level's order binding without touching Position. Used
// for CANCELED/REJECTED orders and confirmed rebalance cancels.
func (l *Ledger) Unbind(index int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	lvl, err := l.levelRef(index)
	if err != nil {
		return err
	}
	if lvl.OrderID != "" {
		delete(l.orderIndex, lvl.OrderID)
	}
	lvl.OrderID = ""
	lvl.State = LevelIdle
	return nil
}

// MarkUnknown flags a level whose order state could not be confirmed.
// The binding is kept so a later reconciliation can resolve it, but the
// level is excluded from placement meanwhile.
func (l *Ledger) MarkUnknown(index int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	lvl, err := l.levelRef(index)
	if err != nil {
		return err
	}
	lvl.State = LevelUnknown
	return nil
}

// MarkBound restores an UNKNOWN level whose order turned out to still be
// open on the exchange.
func (l *Ledger) MarkBound(index int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	lvl, err := l.levelRef(index)
	if err != nil {
		return err
	}
	if lvl.OrderID != "" {
		lvl.State = LevelBound
	}
	return nil
}

// Disable takes a level out of play until the next rebalance, after a
// permanent venue rejection.
func (l *Ledger) Disable(index int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	lvl, err := l.levelRef(index)
	if err != nil {
		return err
	}
	if lvl.OrderID != "" {
		delete(l.orderIndex, lvl.OrderID)
	}
	lvl.OrderID = ""
	lvl.State = LevelDisabled
	return nil
}

// RecordFill applies a confirmed fill: BUY fills move the weighted
// average entry, SELL fills realize PnL against it. The binding is
// cleared and the counter-level intent is returned (BUY at i yields a
// SELL intent at i+1, SELL at i a BUY at i-1; nil when the neighbor does
// not exist or is not placeable).
//
// Idempotent: the fill is applied only while orderID is still bound to
// the level, so replaying the same fill event is a no-op.
func (l *Ledger) RecordFill(index int, orderID string, fillPrice, fillQty float64) (*OrderIntent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lvl, err := l.levelRef(index)
	if err != nil || lvl.OrderID != orderID || orderID == "" {
		return nil, false
	}
	if fillPrice <= 0 {
		// Venue omitted the fill price; the limit price is the truth for
		// a filled limit order.
		fillPrice = lvl.Price
	}
	if fillQty <= 0 {
		fillQty = l.generation.Config.QuantityPerLevel
	}

	side := lvl.Side
	if side == trader.SideBuy {
		total := l.position.NetBaseQuantity + fillQty
		if total > 0 {
			l.position.AverageEntryPrice = (l.position.AverageEntryPrice*l.position.NetBaseQuantity +
				fillPrice*fillQty) / total
		}
		l.position.NetBaseQuantity = total
	} else {
		// PnL is realized only against inventory actually held. The ladder
		// rests SELL orders above center before anything is bought; a fill
		// with no covering position has no entry basis and books nothing.
		covered := fillQty
		if covered > l.position.NetBaseQuantity {
			covered = l.position.NetBaseQuantity
		}
		realized := (fillPrice - l.position.AverageEntryPrice) * covered
		l.position.RealizedPnL += realized
		l.risk.DailyRealizedPnL += realized
		l.position.NetBaseQuantity -= covered
		if l.position.NetBaseQuantity <= 0 {
			l.position.NetBaseQuantity = 0
			l.position.AverageEntryPrice = 0
		}
		l.totalProfit += realized
		if realized > 0 {
			l.winningTrades++
		}
	}
	l.totalTrades++
	l.tradesSinceRebalance++

	delete(l.orderIndex, orderID)
	lvl.OrderID = ""
	lvl.State = LevelIdle
	lvl.FillSeq++

	logger.Infof("[Grid] Fill recorded: level=%d %s %f @ %f (seq=%d, net=%f, avgEntry=%f)",
		index, side, fillQty, fillPrice, lvl.FillSeq, l.position.NetBaseQuantity, l.position.AverageEntryPrice)

	return l.counterIntentLocked(index, side, fillQty), true
}

// counterIntentLocked builds the replenishing intent for the level
// adjacent to a fill. The intent's side is the opposite of the fill.
func (l *Ledger) counterIntentLocked(index int, fillSide string, fillQty float64) *OrderIntent {
	var counterIdx int
	var side string
	if fillSide == trader.SideBuy {
		counterIdx = index + 1
		side = trader.SideSell
	} else {
		counterIdx = index - 1
		side = trader.SideBuy
	}
	if counterIdx < 0 || counterIdx >= len(l.generation.Levels) {
		return nil
	}
	counter := &l.generation.Levels[counterIdx]
	if counter.State != LevelIdle || counter.OrderID != "" {
		return nil
	}
	return &OrderIntent{
		LevelIndex: counterIdx,
		Side:       side,
		Price:      counter.Price,
		Quantity:   fillQty,
		Action:     ActionPlace,
	}
}

// RecordFlatten realizes the remaining position at price after a
// liquidation market order and zeroes the holding.
func (l *Ledger) RecordFlatten(price float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.position.NetBaseQuantity <= 0 || price <= 0 {
		return
	}
	realized := (price - l.position.AverageEntryPrice) * l.position.NetBaseQuantity
	l.position.RealizedPnL += realized
	l.risk.DailyRealizedPnL += realized
	l.totalProfit += realized
	l.position.NetBaseQuantity = 0
	l.position.AverageEntryPrice = 0
}

// BoundOrders returns a copy of the orderID -> level index map.
func (l *Ledger) BoundOrders() map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]int, len(l.orderIndex))
	for id, idx := range l.orderIndex {
		out[id] = idx
	}
	return out
}

// BoundNotional sums price*quantity of all bound orders.
func (l *Ledger) BoundNotional() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.boundNotionalLocked()
}

func (l *Ledger) boundNotionalLocked() float64 {
	total := 0.0
	qty := l.generation.Config.QuantityPerLevel
	for _, idx := range l.orderIndex {
		total += l.generation.Levels[idx].Price * qty
	}
	return total
}

// Position returns a copy with UnrealizedPnL computed at price.
func (l *Ledger) Position(price float64) Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos := l.position
	pos.UnrealizedPnL = l.unrealizedLocked(price)
	return pos
}

func (l *Ledger) unrealizedLocked(price float64) float64 {
	if l.position.NetBaseQuantity <= 0 || price <= 0 {
		return 0
	}
	return (price - l.position.AverageEntryPrice) * l.position.NetBaseQuantity
}

// Risk returns a copy of the current risk state.
func (l *Ledger) Risk() RiskState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.risk
}

// Halt sets the monotonic halt flag with a reason. Subsequent calls keep
// the first reason.
func (l *Ledger) Halt(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.risk.Halted {
		return
	}
	l.risk.Halted = true
	l.risk.HaltReason = reason
}

// MaybeResetDaily zeroes the daily PnL counter on UTC day change.
func (l *Ledger) MaybeResetDaily(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now = now.UTC()
	last := l.risk.LastDailyReset
	if now.Year() != last.Year() || now.YearDay() != last.YearDay() {
		logger.Infof("[Grid] Daily PnL reset (was %f)", l.risk.DailyRealizedPnL)
		l.risk.DailyRealizedPnL = 0
		l.risk.LastDailyReset = now
	}
}

// UpdatePeakEquity tracks the session equity high-water mark and returns
// (equity, peak). Equity is capital plus realized plus unrealized PnL.
func (l *Ledger) UpdatePeakEquity(price float64) (float64, float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	equity := l.generation.Config.CapitalAllocation + l.position.RealizedPnL + l.unrealizedLocked(price)
	if equity > l.risk.PeakEquity {
		l.risk.PeakEquity = equity
	}
	return equity, l.risk.PeakEquity
}

// TradesSinceRebalance feeds the planner's dynamic trigger.
func (l *Ledger) TradesSinceRebalance() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tradesSinceRebalance
}

// Performance returns aggregate trade statistics.
func (l *Ledger) Performance() Performance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Performance{
		TotalTrades:   l.totalTrades,
		WinningTrades: l.winningTrades,
		TotalProfit:   l.totalProfit,
	}
}

// RestoreState loads persisted position and risk state on recovery.
func (l *Ledger) RestoreState(pos Position, risk RiskState, perf Performance) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.position = pos
	l.risk = risk
	if l.risk.LastDailyReset.IsZero() {
		l.risk.LastDailyReset = time.Now().UTC()
	}
	l.totalTrades = perf.TotalTrades
	l.winningTrades = perf.WinningTrades
	l.totalProfit = perf.TotalProfit
	// Rebuild the order index from level bindings.
	l.orderIndex = make(map[string]int)
	for i := range l.generation.Levels {
		if id := l.generation.Levels[i].OrderID; id != "" {
			l.orderIndex[id] = i
		}
	}
}

func (l *Ledger) levelRef(index int) (*Level, error) {
	if l.generation == nil || index < 0 || index >= len(l.generation.Levels) {
		return nil, fmt.Errorf("%w: index %d", ErrLevelNotFound, index)
	}
	return &l.generation.Levels[index], nil
}
