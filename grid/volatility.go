package grid

import "sync"

// VolatilityModel turns recent price history into a single volatility
// reading the planner can compare against grid spacing. Implementations
// are pure accumulators; the planner stays independent of the metric.
type VolatilityModel interface {
	// Observe feeds one tick's price sample.
	Observe(price float64)
	// Value returns current volatility as a percent of price, or 0 until
	// enough samples have accumulated.
	Value() float64
}

// RollingRange is a true-range proxy over tick samples: the mean absolute
// tick-to-tick move as a percentage of price, over a fixed window. Cheap
// to maintain and comparable directly to SpacingPercent.
type RollingRange struct {
	mu     sync.Mutex
	window int
	last   float64
	moves  []float64
}

// NewRollingRange creates a model averaging over the given window of
// tick-to-tick moves.
func NewRollingRange(window int) *RollingRange {
	if window < 2 {
		window = 2
	}
	return &RollingRange{window: window}
}

func (r *RollingRange) Observe(price float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if price <= 0 {
		return
	}
	if r.last > 0 {
		move := (price - r.last) / r.last * 100
		if move < 0 {
			move = -move
		}
		r.moves = append(r.moves, move)
		if len(r.moves) > r.window {
			r.moves = r.moves[1:]
		}
	}
	r.last = price
}

func (r *RollingRange) Value() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.moves) < r.window/2 {
		return 0
	}
	sum := 0.0
	for _, m := range r.moves {
		sum += m
	}
	return sum / float64(len(r.moves))
}
