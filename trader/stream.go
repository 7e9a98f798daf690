package trader

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"gridbot/logger"
)

// orderEvent is the wire shape of an order-update push message. Venue
// gateways that bridge user-data streams emit this shape; field names
// follow the Binance executionReport convention.
type orderEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	OrderID   string `json:"i"`
	Status    string `json:"X"` // NEW/FILLED/CANCELED/REJECTED/EXPIRED
}

// OrderStream maintains a live set of open order IDs from a venue
// websocket feed. It produces the same reconciliation input as polling
// GetOpenOrders, so the fill reconciler does not care which transport is
// behind it.
type OrderStream struct {
	url    string
	symbol string

	mu        sync.RWMutex
	open      map[string]bool
	connected bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrderStream creates a stream client for one symbol. Call Start to
// connect and Seed to prime the open set from a REST snapshot.
func NewOrderStream(url, symbol string) *OrderStream {
	return &OrderStream{
		url:    url,
		symbol: symbol,
		open:   make(map[string]bool),
	}
}

// Seed primes the open-order set from a snapshot (typically one
// GetOpenOrders call at startup).
func (s *OrderStream) Seed(orders []Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range orders {
		if o.Status == OrderStatusOpen {
			s.open[o.OrderID] = true
		}
	}
}

// Start connects and keeps the read loop alive until Stop or context
// cancellation, reconnecting with backoff.
func (s *OrderStream) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop disconnects and stops the read loop.
func (s *OrderStream) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// OpenOrderIDs returns a copy of the current open-order set. Returns an
// error while disconnected so the reconciler treats the tick's input as
// unavailable instead of acting on a stale set.
func (s *OrderStream) OpenOrderIDs(ctx context.Context) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return nil, fmt.Errorf("order stream disconnected for %s", s.symbol)
	}
	out := make(map[string]bool, len(s.open))
	for id := range s.open {
		out[id] = true
	}
	return out, nil
}

func (s *OrderStream) run(ctx context.Context) {
	defer s.wg.Done()

	b := &backoff.Backoff{
		Min:    time.Second,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.readLoop(ctx); err != nil {
			logger.Warnf("[Stream] %s disconnected: %v", s.symbol, err)
		}
		s.setConnected(false)

		select {
		case <-ctx.Done():
			return
		case <-time.After(b.Duration()):
		}
	}
}

func (s *OrderStream) readLoop(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	defer conn.Close()

	// Close the connection when the context ends so ReadMessage unblocks
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	s.setConnected(true)
	logger.Infof("[Stream] Connected to order feed for %s", s.symbol)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var ev orderEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			logger.Debugf("[Stream] Skipping unparseable message: %v", err)
			continue
		}
		s.apply(&ev)
	}
}

func (s *OrderStream) apply(ev *orderEvent) {
	if ev.OrderID == "" || (ev.Symbol != "" && ev.Symbol != s.symbol) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Status {
	case "NEW", "PARTIALLY_FILLED":
		s.open[ev.OrderID] = true
	case "FILLED", "CANCELED", "REJECTED", "EXPIRED":
		delete(s.open, ev.OrderID)
	}
}

func (s *OrderStream) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}
