package grid

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"gridbot/gate"
	"gridbot/logger"
	"gridbot/trader"
)

// ============================================================================
// Engine Loop
// ============================================================================

// State is the engine lifecycle state.
type State string

const (
	StateInitializing State = "INITIALIZING"
	StateActive       State = "ACTIVE"
	StateRebalancing  State = "REBALANCING"
	StateHalted       State = "HALTED"
	StateStopped      State = "STOPPED"
)

// Status is the snapshot returned to operators.
type Status struct {
	InstanceID  string      `json:"instance_id"`
	Symbol      string      `json:"symbol"`
	State       State       `json:"state"`
	Paused      bool        `json:"paused"`
	Position    Position    `json:"position"`
	Risk        RiskState   `json:"risk"`
	Performance Performance `json:"performance"`
	Generation  *Generation `json:"generation"`
	LastPrice   float64     `json:"last_price"`
}

// Engine runs one grid instance. A single goroutine executes ticks
// sequentially and is the only mutator of the ledger; Pause/Resume/Stop
// and Status are safe from other goroutines.
type Engine struct {
	id      string
	cfg     Config
	adapter trader.Adapter
	gate    *gate.Gate
	fills   FillSource
	store   Persister

	ledger     *Ledger
	reconciler *Reconciler
	planner    *Planner
	guard      *RiskGuard

	mu         sync.RWMutex
	state      State
	paused     bool
	lastPrice  float64
	genVersion int64
	pending    []OrderIntent

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewEngine wires one instance. id keys the persisted snapshot; empty
// means a fresh random identity (no recovery across restarts). store and
// fills may be nil; a nil fills falls back to REST polling.
func NewEngine(id string, cfg Config, adapter trader.Adapter, g *gate.Gate, fills FillSource, store Persister) *Engine {
	if id == "" {
		id = uuid.NewString()
	}
	if cfg.TickInterval <= 0 && cfg.TickIntervalSec > 0 {
		cfg.TickInterval = time.Duration(cfg.TickIntervalSec) * time.Second
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Second
	}
	if cfg.IntentRetryCap <= 0 {
		cfg.IntentRetryCap = 3
	}
	if fills == nil {
		fills = NewPollFillSource(cfg.Symbol, adapter, g)
	}
	var vol VolatilityModel
	if cfg.DynamicGrid {
		vol = NewRollingRange(20)
	}
	e := &Engine{
		id:         id,
		cfg:        cfg,
		adapter:    adapter,
		gate:       g,
		fills:      fills,
		store:      store,
		reconciler: NewReconciler(cfg.Symbol, adapter, g),
		planner:    NewPlanner(cfg, vol),
		guard:      NewRiskGuard(cfg),
		state:      StateInitializing,
	}
	e.reconciler.OnFill = func(index int, side string, price, qty float64) {
		e.journal("fill", fmt.Sprintf("level %d %s %f @ %f", index, side, qty, price))
	}
	return e
}

// Start initializes the ledger (recovering a persisted snapshot when one
// exists), performs the first placement sweep, and launches the tick
// loop. Configuration errors are fatal and returned synchronously.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.initialize(ctx); err != nil {
		return err
	}

	ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go e.run(ctx)
	return nil
}

func (e *Engine) initialize(ctx context.Context) error {
	if recovered, err := e.recover(ctx); err != nil {
		return err
	} else if recovered {
		return nil
	}

	cfg := e.cfg
	if cfg.CenterPrice <= 0 {
		price, err := e.currentPrice(ctx)
		if err != nil {
			return fmt.Errorf("fetch initial price for %s: %w", cfg.Symbol, err)
		}
		cfg.CenterPrice = price
	}

	gen, err := BuildGeneration(cfg, 1)
	if err != nil {
		return err
	}
	e.genVersion = 1
	e.ledger = NewLedger(gen)

	logger.Infof("[Grid] %s: generation 1 built, %d levels %f..%f around %f",
		cfg.Symbol, len(gen.Levels), gen.Levels[0].Price, gen.Levels[len(gen.Levels)-1].Price, cfg.CenterPrice)

	e.queuePlacementSweep()
	e.executeIntents(ctx)

	e.setState(StateActive)
	e.journal("start", fmt.Sprintf("generation 1, %d levels", len(gen.Levels)))
	e.persist()
	return nil
}

// recover loads a persisted snapshot. Bindings are restored as-is and
// resolved against exchange truth by the first reconcile pass, never
// re-derived locally.
func (e *Engine) recover(ctx context.Context) (bool, error) {
	if e.store == nil {
		return false, nil
	}
	snap, err := e.store.LoadSnapshot(e.id)
	if err != nil || snap == nil || snap.Generation == nil {
		return false, nil
	}

	e.ledger = NewLedger(snap.Generation)
	e.ledger.RestoreState(snap.Position, snap.Risk, snap.Performance)
	e.genVersion = snap.Generation.Version

	if snap.Risk.Halted {
		// Halt is monotonic across restarts.
		e.setState(StateHalted)
	} else {
		e.setState(StateActive)
	}
	logger.Infof("[Grid] %s: recovered snapshot (generation %d, %d bound orders, state %s)",
		e.cfg.Symbol, snap.Generation.Version, len(e.ledger.BoundOrders()), e.State())
	e.journal("start", fmt.Sprintf("recovered generation %d", snap.Generation.Version))
	return true, nil
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick executes one full cycle: reconcile fills, evaluate risk, evaluate
// rebalance, execute queued intents, persist. The phases are strict
// barriers; each completes before the next reads ledger state.
func (e *Engine) tick(ctx context.Context) {
	price, err := e.currentPrice(ctx)
	if err != nil {
		logger.Warnf("[Grid] %s: price unavailable, skipping tick: %v", e.cfg.Symbol, err)
		return
	}
	e.mu.Lock()
	e.lastPrice = price
	e.mu.Unlock()
	e.planner.Observe(price)

	// Phase 1: reconcile. A fill source failure skips the phase entirely
	// rather than treating every order as disappeared.
	if openIDs, err := e.fills.OpenOrderIDs(ctx); err != nil {
		logger.Warnf("[Grid] %s: open-order set unavailable, skipping reconcile: %v", e.cfg.Symbol, err)
	} else {
		intents := e.reconciler.Reconcile(ctx, e.ledger, openIDs)
		e.pending = append(e.pending, intents...)
	}

	if e.State() == StateHalted {
		// Monitoring only: late fills were reconciled above, but no new
		// orders leave this instance. A cancel the halt sweep could not
		// confirm is retried every tick until the venue confirms it.
		e.dropPlaceIntents()
		if len(e.ledger.BoundOrders()) > 0 {
			if err := e.cancelSweep(ctx); err != nil {
				logger.Warnf("[Grid] %s: halted with live orders, cancel retry incomplete: %v", e.cfg.Symbol, err)
			}
		}
		e.persist()
		return
	}

	// Phase 2: risk.
	if halt, reason := e.guard.Evaluate(e.ledger, price, time.Now()); halt {
		e.doHalt(ctx, reason)
		e.persist()
		return
	}

	// Phase 3: rebalance. Reconciliation already ran, so Position is
	// current before any regeneration reads it.
	if !e.Paused() {
		if e.State() == StateRebalancing {
			e.doRebalance(ctx, price)
		} else if should, reason := e.planner.ShouldRebalance(e.ledger.Generation(), price, e.ledger.TradesSinceRebalance()); should {
			logger.Infof("[Grid] %s: rebalance triggered: %s", e.cfg.Symbol, reason)
			e.setState(StateRebalancing)
			e.journal("rebalance", reason)
			e.doRebalance(ctx, price)
		}
	}

	// Phase 4: execute.
	e.executeIntents(ctx)

	// Phase 5: persist.
	e.persist()
}

// ============================================================================
// Halt and Rebalance
// ============================================================================

// doHalt performs the terminal risk transition: cancel every bound
// order, optionally flatten the net position at market, and stop placing
// forever. The market order here is the only one the engine ever sends.
func (e *Engine) doHalt(ctx context.Context, reason string) {
	logger.Errorf("[Grid] %s: HALTING: %s", e.cfg.Symbol, reason)
	e.ledger.Halt(reason)
	e.setState(StateHalted)
	e.journal("halt", reason)

	e.dropPlaceIntents()
	if err := e.cancelSweep(ctx); err != nil {
		logger.Warnf("[Grid] %s: halt cancel sweep incomplete: %v", e.cfg.Symbol, err)
	}

	if e.cfg.FlattenOnHalt {
		pos := e.ledger.Position(0)
		if pos.NetBaseQuantity > 0 {
			e.executeFlatten(ctx, OrderIntent{
				Side:     trader.SideSell,
				Quantity: pos.NetBaseQuantity,
				Action:   ActionFlatten,
			})
		}
	}
}

// doRebalance runs the two-phase regeneration: confirmed cancellation of
// every bound order, then a new generation centered on the current
// price. If any cancel cannot be confirmed the engine stays in
// REBALANCING and retries next tick; it never regenerates over live
// orders.
func (e *Engine) doRebalance(ctx context.Context, price float64) {
	if err := e.cancelSweep(ctx); err != nil {
		logger.Warnf("[Grid] %s: rebalance waiting on cancellations: %v", e.cfg.Symbol, err)
		return
	}

	cfg := e.cfg
	cfg.CenterPrice = price
	gen, err := BuildGeneration(cfg, e.genVersion+1)
	if err != nil {
		// Spacing/level config was validated at startup; a failure here
		// means a pathological price. Halt rather than run ungridded.
		e.doHalt(ctx, fmt.Sprintf("rebalance regeneration failed: %v", err))
		return
	}
	e.genVersion = gen.Version
	e.ledger.ApplyGeneration(gen)
	e.pending = nil
	e.queuePlacementSweep()
	e.setState(StateActive)
	logger.Infof("[Grid] %s: generation %d active, recentered on %f", e.cfg.Symbol, gen.Version, price)
}

// cancelSweep issues a CANCEL intent for every bound order and waits
// for exchange confirmation. A cancel that loses the race to a fill is
// resolved by recording the fill, so Position is correct before
// regeneration.
func (e *Engine) cancelSweep(ctx context.Context) error {
	var firstErr error
	for orderID, index := range e.ledger.BoundOrders() {
		err := e.executeCancel(ctx, OrderIntent{
			LevelIndex: index,
			OrderID:    orderID,
			Action:     ActionCancel,
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// executeCancel cancels one bound order and unbinds its level. An order
// the venue reports already terminal is settled through resolveTerminal
// instead.
func (e *Engine) executeCancel(ctx context.Context, intent OrderIntent) error {
	err := e.gate.Do(ctx, "cancel_order", func(ctx context.Context) error {
		return e.adapter.CancelOrder(ctx, e.cfg.Symbol, intent.OrderID)
	})
	switch {
	case err == nil:
		if uerr := e.ledger.Unbind(intent.LevelIndex); uerr != nil {
			logger.Warnf("[Grid] Failed to unbind level %d after cancel: %v", intent.LevelIndex, uerr)
		}
		return nil
	case errors.Is(err, trader.ErrAlreadyFilled), errors.Is(err, trader.ErrOrderNotFound):
		e.resolveTerminal(ctx, intent.OrderID, intent.LevelIndex)
		return nil
	default:
		logger.Warnf("[Grid] %s: cancel of %s unconfirmed: %v", e.cfg.Symbol, intent.OrderID, err)
		return err
	}
}

// executeFlatten liquidates the net position at market and realizes the
// proceeds at the last observed price.
func (e *Engine) executeFlatten(ctx context.Context, intent OrderIntent) {
	err := e.gate.Do(ctx, "flatten_position", func(ctx context.Context) error {
		return e.adapter.PlaceMarketOrder(ctx, e.cfg.Symbol, intent.Side, intent.Quantity)
	})
	if err != nil {
		logger.Errorf("[Grid] %s: flatten failed, manual intervention required: %v", e.cfg.Symbol, err)
		return
	}
	e.mu.RLock()
	price := e.lastPrice
	e.mu.RUnlock()
	e.ledger.RecordFlatten(price)
	logger.Warnf("[Grid] %s: flattened %f at market", e.cfg.Symbol, intent.Quantity)
}

// resolveTerminal settles an order the venue reports already terminal:
// filled orders update Position, anything else just unbinds.
func (e *Engine) resolveTerminal(ctx context.Context, orderID string, index int) {
	var order *trader.Order
	qerr := e.gate.Do(ctx, "get_order_status", func(ctx context.Context) error {
		var err error
		order, err = e.adapter.GetOrderStatus(ctx, e.cfg.Symbol, orderID)
		return err
	})
	if qerr == nil && order != nil && order.Status == trader.OrderStatusFilled {
		// Counter intent is dropped: the ladder is about to be rebuilt or
		// the instance is halting.
		if _, applied := e.ledger.RecordFill(index, orderID, order.FilledPrice, order.FilledQty); applied {
			e.journal("fill", fmt.Sprintf("level %d filled during cancel sweep (order %s)", index, orderID))
		}
		return
	}
	if err := e.ledger.Unbind(index); err != nil {
		logger.Warnf("[Grid] Failed to unbind level %d: %v", index, err)
	}
}

// ============================================================================
// Intent Execution
// ============================================================================

// queuePlacementSweep queues a PLACE intent for every idle level.
func (e *Engine) queuePlacementSweep() {
	gen := e.ledger.Generation()
	for _, lvl := range gen.Levels {
		if lvl.State != LevelIdle || lvl.OrderID != "" {
			continue
		}
		e.pending = append(e.pending, OrderIntent{
			LevelIndex: lvl.Index,
			Side:       lvl.Side,
			Price:      lvl.Price,
			Quantity:   gen.Config.QuantityPerLevel,
			Action:     ActionPlace,
		})
	}
}

// executeIntents drains the pending queue through the gate. Only PLACE
// intents cross ticks; cancels and flattens must confirm within their
// own phase and run inline through executeCancel/executeFlatten. Failed
// placements are retried on subsequent ticks up to the retry cap, after
// which the level is disabled until the next rebalance.
func (e *Engine) executeIntents(ctx context.Context) {
	if len(e.pending) == 0 {
		return
	}
	var requeue []OrderIntent
	paused := e.Paused()

	for _, intent := range e.pending {
		if e.State() == StateHalted {
			// A halt mid-drain drops everything still queued.
			break
		}
		if paused {
			requeue = append(requeue, intent)
			continue
		}
		if failed := e.executePlace(ctx, intent); failed != nil {
			requeue = append(requeue, *failed)
		}
	}
	e.pending = requeue
}

// executePlace places one limit order and binds it. Returns the intent
// to requeue on transient failure, nil when settled either way.
func (e *Engine) executePlace(ctx context.Context, intent OrderIntent) *OrderIntent {
	lvl, err := e.ledger.Level(intent.LevelIndex)
	if err != nil || lvl.State != LevelIdle || lvl.OrderID != "" {
		// Level disappeared with a rebalance, went UNKNOWN, or is already
		// covered. Stale intent, drop it.
		return nil
	}

	var orderID string
	err = e.gate.Do(ctx, "place_order", func(ctx context.Context) error {
		var perr error
		orderID, perr = e.adapter.PlaceLimitOrder(ctx, e.cfg.Symbol, intent.Side, intent.Price, intent.Quantity)
		return perr
	})
	if err != nil {
		if trader.IsPermanent(err) {
			logger.Warnf("[Grid] %s: level %d rejected permanently, disabling: %v",
				e.cfg.Symbol, intent.LevelIndex, err)
			if derr := e.ledger.Disable(intent.LevelIndex); derr != nil {
				logger.Warnf("[Grid] Failed to disable level %d: %v", intent.LevelIndex, derr)
			}
			return nil
		}
		return e.requeueOrDisable(intent, err)
	}

	if err := e.ledger.BindOrder(intent.LevelIndex, orderID); err != nil {
		if errors.Is(err, ErrCapitalExceeded) {
			logger.Warnf("[Grid] %s: level %d over capital allocation, cancelling %s",
				e.cfg.Symbol, intent.LevelIndex, orderID)
			e.bestEffortCancel(ctx, orderID)
			return nil
		}
		// Double bind is a programming bug. Cancel the stray order and
		// halt the instance with a full state dump already logged.
		e.bestEffortCancel(ctx, orderID)
		e.doHalt(ctx, fmt.Sprintf("ledger invariant violation on level %d: %v", intent.LevelIndex, err))
		return nil
	}
	logger.Infof("[Grid] %s: placed %s %f @ %f on level %d (order %s)",
		e.cfg.Symbol, intent.Side, intent.Quantity, intent.Price, intent.LevelIndex, orderID)
	return nil
}

func (e *Engine) requeueOrDisable(intent OrderIntent, err error) *OrderIntent {
	intent.Attempts++
	if intent.Attempts >= e.cfg.IntentRetryCap {
		logger.Warnf("[Grid] %s: intent %s exhausted %d ticks, disabling level: %v",
			e.cfg.Symbol, intent.String(), intent.Attempts, err)
		if derr := e.ledger.Disable(intent.LevelIndex); derr != nil {
			logger.Warnf("[Grid] Failed to disable level %d: %v", intent.LevelIndex, derr)
		}
		return nil
	}
	logger.Warnf("[Grid] %s: intent %s failed (attempt %d/%d), retrying next tick: %v",
		e.cfg.Symbol, intent.String(), intent.Attempts, e.cfg.IntentRetryCap, err)
	return &intent
}

func (e *Engine) bestEffortCancel(ctx context.Context, orderID string) {
	err := e.gate.Do(ctx, "cancel_order", func(ctx context.Context) error {
		return e.adapter.CancelOrder(ctx, e.cfg.Symbol, orderID)
	})
	if err != nil {
		logger.Errorf("[Grid] %s: could not cancel stray order %s: %v", e.cfg.Symbol, orderID, err)
	}
}

// dropPlaceIntents clears the queue. It only ever holds PLACE intents,
// none of which may execute once the instance is halted.
func (e *Engine) dropPlaceIntents() {
	e.pending = nil
}

// ============================================================================
// Lifecycle and Status
// ============================================================================

// Pause suspends rebalancing and new order placement. Resting orders and
// reconciliation continue.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
	logger.Infof("[Grid] %s: paused", e.cfg.Symbol)
}

// Resume lifts a pause. A risk halt is terminal and is refused with
// ErrHalted; it never clears through this path.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateHalted {
		return fmt.Errorf("%w: %s", ErrHalted, e.cfg.Symbol)
	}
	e.paused = false
	logger.Infof("[Grid] %s: resumed", e.cfg.Symbol)
	return nil
}

// Paused reports the operator pause flag.
func (e *Engine) Paused() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.paused
}

// Stop ends the tick loop and persists a final snapshot. Resting orders
// are left on the exchange for recovery on restart.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		if e.cancel != nil {
			e.cancel()
		}
		e.wg.Wait()
		if e.State() != StateHalted {
			e.setState(StateStopped)
		}
		e.persist()
		e.journal("stop", "engine stopped")
		logger.Infof("[Grid] %s: stopped", e.cfg.Symbol)
	})
}

// ID returns the instance identifier.
func (e *Engine) ID() string { return e.id }

// Symbol returns the traded pair.
func (e *Engine) Symbol() string { return e.cfg.Symbol }

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != s {
		logger.Infof("[Grid] %s: state %s -> %s", e.cfg.Symbol, e.state, s)
		e.state = s
	}
}

// Status returns a self-consistent snapshot for the HTTP surface.
func (e *Engine) Status() Status {
	e.mu.RLock()
	price := e.lastPrice
	state := e.state
	paused := e.paused
	e.mu.RUnlock()

	return Status{
		InstanceID:  e.id,
		Symbol:      e.cfg.Symbol,
		State:       state,
		Paused:      paused,
		Position:    e.ledger.Position(price),
		Risk:        e.ledger.Risk(),
		Performance: e.ledger.Performance(),
		Generation:  e.ledger.Generation(),
		LastPrice:   price,
	}
}

// ============================================================================
// Helpers
// ============================================================================

func (e *Engine) currentPrice(ctx context.Context) (float64, error) {
	var price float64
	err := e.gate.Do(ctx, "get_price", func(ctx context.Context) error {
		var perr error
		price, perr = e.adapter.GetCurrentPrice(ctx, e.cfg.Symbol)
		return perr
	})
	return price, err
}

func (e *Engine) persist() {
	if e.store == nil {
		return
	}
	e.mu.RLock()
	state := e.state
	e.mu.RUnlock()
	snap := &Snapshot{
		InstanceID:  e.id,
		Symbol:      e.cfg.Symbol,
		State:       state,
		Generation:  e.ledger.Generation(),
		Position:    e.ledger.Position(0),
		Risk:        e.ledger.Risk(),
		Performance: e.ledger.Performance(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := e.store.SaveSnapshot(snap); err != nil {
		logger.Errorf("[Grid] %s: snapshot save failed: %v", e.cfg.Symbol, err)
	}
}

func (e *Engine) journal(eventType, detail string) {
	if e.store == nil {
		return
	}
	ev := &Event{
		InstanceID: e.id,
		Type:       eventType,
		Detail:     detail,
		At:         time.Now().UTC(),
	}
	if err := e.store.AppendEvent(ev); err != nil {
		logger.Warnf("[Grid] %s: journal append failed: %v", e.cfg.Symbol, err)
	}
}
