// Package manager runs multiple isolated grid engines, one per trading
// pair, sharing a single rate gate so no instance can starve the others
// of exchange call slots.
package manager

import (
	"context"
	"fmt"
	"sync"

	"gridbot/gate"
	"gridbot/grid"
	"gridbot/logger"
	"gridbot/trader"
)

// GridManager owns the engine instances.
type GridManager struct {
	mu      sync.RWMutex
	engines map[string]*grid.Engine // keyed by symbol

	adapter trader.Adapter
	gate    *gate.Gate
	store   grid.Persister
}

// New creates an empty manager. All engines it starts share the given
// adapter, gate and store.
func New(adapter trader.Adapter, g *gate.Gate, store grid.Persister) *GridManager {
	return &GridManager{
		engines: make(map[string]*grid.Engine),
		adapter: adapter,
		gate:    g,
		store:   store,
	}
}

// StartEngine builds and starts one engine. The symbol doubles as the
// instance ID so a restart recovers the same persisted snapshot. fills
// may be nil for REST polling.
func (m *GridManager) StartEngine(ctx context.Context, cfg grid.Config, fills grid.FillSource) error {
	m.mu.Lock()
	if _, exists := m.engines[cfg.Symbol]; exists {
		m.mu.Unlock()
		return fmt.Errorf("engine for %s already running", cfg.Symbol)
	}
	m.mu.Unlock()

	e := grid.NewEngine(cfg.Symbol, cfg, m.adapter, m.gate, fills, m.store)
	if err := e.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine for %s: %w", cfg.Symbol, err)
	}

	m.mu.Lock()
	m.engines[cfg.Symbol] = e
	m.mu.Unlock()
	logger.Infof("[Manager] Engine started for %s", cfg.Symbol)
	return nil
}

// Engine returns the engine for a symbol.
func (m *GridManager) Engine(symbol string) (*grid.Engine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.engines[symbol]
	return e, ok
}

// Statuses returns a snapshot of every engine.
func (m *GridManager) Statuses() []grid.Status {
	m.mu.RLock()
	engines := make([]*grid.Engine, 0, len(m.engines))
	for _, e := range m.engines {
		engines = append(engines, e)
	}
	m.mu.RUnlock()

	statuses := make([]grid.Status, 0, len(engines))
	for _, e := range engines {
		statuses = append(statuses, e.Status())
	}
	return statuses
}

// StopEngine stops and removes one engine.
func (m *GridManager) StopEngine(symbol string) error {
	m.mu.Lock()
	e, ok := m.engines[symbol]
	if ok {
		delete(m.engines, symbol)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no engine for %s", symbol)
	}
	e.Stop()
	return nil
}

// StopAll stops every engine, in parallel since each waits for its own
// loop to drain.
func (m *GridManager) StopAll() {
	m.mu.Lock()
	engines := m.engines
	m.engines = make(map[string]*grid.Engine)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range engines {
		wg.Add(1)
		go func(e *grid.Engine) {
			defer wg.Done()
			e.Stop()
		}(e)
	}
	wg.Wait()
	logger.Info("[Manager] All engines stopped")
}
