package grid

import (
	"context"

	"gridbot/gate"
	"gridbot/trader"
)

// FillSource supplies the set of order IDs the exchange still considers
// open. The reconciler diffs ledger bindings against it, so polling REST
// and a push stream are interchangeable behind this interface.
type FillSource interface {
	OpenOrderIDs(ctx context.Context) (map[string]bool, error)
}

// PollFillSource queries the venue's open-order list through the gate.
type PollFillSource struct {
	symbol  string
	adapter trader.Adapter
	gate    *gate.Gate
}

// NewPollFillSource creates the REST-polling implementation.
func NewPollFillSource(symbol string, adapter trader.Adapter, g *gate.Gate) *PollFillSource {
	return &PollFillSource{symbol: symbol, adapter: adapter, gate: g}
}

// OpenOrderIDs fetches the current open-order set.
func (p *PollFillSource) OpenOrderIDs(ctx context.Context) (map[string]bool, error) {
	var orders []trader.Order
	err := p.gate.Do(ctx, "get_open_orders", func(ctx context.Context) error {
		var err error
		orders, err = p.adapter.GetOpenOrders(ctx, p.symbol)
		return err
	})
	if err != nil {
		return nil, err
	}
	open := make(map[string]bool, len(orders))
	for _, o := range orders {
		open[o.OrderID] = true
	}
	return open, nil
}
