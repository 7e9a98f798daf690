package grid

import (
	"context"

	"gridbot/gate"
	"gridbot/logger"
	"gridbot/trader"
)

// ============================================================================
// Fill Reconciler
// ============================================================================

// Reconciler bridges exchange-reported order state to ledger transitions.
// It never places or cancels orders itself; it only records outcomes and
// emits replacement intents for the engine to execute.
type Reconciler struct {
	symbol  string
	adapter trader.Adapter
	gate    *gate.Gate

	// OnFill, when set, observes every fill Reconcile applies to the
	// ledger. The engine hooks it to the event journal.
	OnFill func(index int, side string, price, qty float64)
}

// NewReconciler creates a reconciler for one symbol.
func NewReconciler(symbol string, adapter trader.Adapter, g *gate.Gate) *Reconciler {
	return &Reconciler{symbol: symbol, adapter: adapter, gate: g}
}

// Reconcile diffs the ledger's bound orders against the exchange's open
// set. Orders the exchange no longer reports open are resolved by a
// status query: FILLED updates the position and yields the counter-level
// intent; CANCELED/REJECTED unbinds the level and yields a replacement
// PLACE intent. A status query that fails even after gate retries leaves
// the level UNKNOWN so nothing is placed against it (fail-safe).
//
// UNKNOWN levels whose order reappears in the open set are restored to
// BOUND, which is how a level recovers from a transient outage.
func (r *Reconciler) Reconcile(ctx context.Context, ledger *Ledger, openIDs map[string]bool) []OrderIntent {
	var intents []OrderIntent

	for orderID, index := range ledger.BoundOrders() {
		if openIDs[orderID] {
			lvl, err := ledger.Level(index)
			if err == nil && lvl.State == LevelUnknown {
				logger.Infof("[Grid] Level %d order %s confirmed still open, restoring", index, orderID)
				if err := ledger.MarkBound(index); err != nil {
					logger.Warnf("[Grid] Failed to restore level %d: %v", index, err)
				}
			}
			continue
		}

		order, err := r.queryStatus(ctx, orderID)
		if err != nil {
			logger.Warnf("[Grid] Could not resolve order %s on level %d, marking UNKNOWN: %v",
				orderID, index, err)
			if err := ledger.MarkUnknown(index); err != nil {
				logger.Warnf("[Grid] Failed to mark level %d unknown: %v", index, err)
			}
			continue
		}

		switch order.Status {
		case trader.OrderStatusFilled:
			intent, applied := ledger.RecordFill(index, orderID, order.FilledPrice, order.FilledQty)
			if !applied {
				continue
			}
			if r.OnFill != nil {
				if lvl, lerr := ledger.Level(index); lerr == nil {
					price, qty := order.FilledPrice, order.FilledQty
					if price <= 0 {
						price = lvl.Price
					}
					if qty <= 0 {
						qty = ledger.Generation().Config.QuantityPerLevel
					}
					r.OnFill(index, lvl.Side, price, qty)
				}
			}
			if intent != nil {
				intents = append(intents, *intent)
			}
		case trader.OrderStatusCanceled, trader.OrderStatusRejected:
			lvl, lerr := ledger.Level(index)
			if err := ledger.Unbind(index); err != nil {
				logger.Warnf("[Grid] Failed to unbind level %d: %v", index, err)
				continue
			}
			logger.Infof("[Grid] Order %s on level %d reported %s, scheduling replacement",
				orderID, index, order.Status)
			if lerr == nil {
				intents = append(intents, OrderIntent{
					LevelIndex: index,
					Side:       lvl.Side,
					Price:      lvl.Price,
					Quantity:   ledger.Generation().Config.QuantityPerLevel,
					Action:     ActionPlace,
				})
			}
		default:
			// Exchange still reports it open despite missing from the
			// open-order set; trust the status query and keep the binding.
			if err := ledger.MarkBound(index); err != nil {
				logger.Warnf("[Grid] Failed to restore level %d: %v", index, err)
			}
		}
	}

	return intents
}

func (r *Reconciler) queryStatus(ctx context.Context, orderID string) (*trader.Order, error) {
	var order *trader.Order
	err := r.gate.Do(ctx, "get_order_status", func(ctx context.Context) error {
		var err error
		order, err = r.adapter.GetOrderStatus(ctx, r.symbol, orderID)
		return err
	})
	return order, err
}
