package grid

import (
	"fmt"
	"time"
)

// ============================================================================
// Grid Configuration
// ============================================================================

// SpacingMode controls how level prices are derived from the center price.
type SpacingMode string

const (
	SpacingArithmetic SpacingMode = "ARITHMETIC"
	SpacingGeometric  SpacingMode = "GEOMETRIC"
)

// Config is the immutable configuration of one grid generation. A
// rebalance builds a new generation from a copy with a new CenterPrice.
type Config struct {
	Symbol           string      `json:"symbol" yaml:"symbol"`
	LevelCount       int         `json:"level_count" yaml:"level_count"`
	SpacingPercent   float64     `json:"spacing_percent" yaml:"spacing_percent"`
	SpacingMode      SpacingMode `json:"spacing_mode" yaml:"spacing_mode"`
	CenterPrice      float64     `json:"center_price" yaml:"center_price"`
	QuantityPerLevel float64     `json:"quantity_per_level" yaml:"quantity_per_level"`

	// CapitalAllocation bounds the total notional of simultaneously bound
	// orders, in quote currency. Zero disables the check.
	CapitalAllocation float64 `json:"capital_allocation" yaml:"capital_allocation"`

	// DriftMarginPercent is how far beyond the outermost level the price
	// may drift before a rebalance triggers.
	DriftMarginPercent float64 `json:"drift_margin_percent" yaml:"drift_margin_percent"`

	// DynamicGrid enables the volatility-adjusted trade-count trigger.
	DynamicGrid         bool `json:"dynamic_grid" yaml:"dynamic_grid"`
	BaseRebalanceTrades int  `json:"base_rebalance_trades" yaml:"base_rebalance_trades"`

	// Risk limits. DailyLossLimit is in quote currency; StopLossPercent is
	// a drawdown percentage from peak equity. Zero disables either limit.
	DailyLossLimit  float64 `json:"daily_loss_limit" yaml:"daily_loss_limit"`
	StopLossPercent float64 `json:"stop_loss_percent" yaml:"stop_loss_percent"`
	FlattenOnHalt   bool    `json:"flatten_on_halt" yaml:"flatten_on_halt"`

	// TickIntervalSec feeds TickInterval from YAML, which has no
	// duration literal.
	TickIntervalSec int           `json:"tick_interval_sec" yaml:"tick_interval_sec"`
	TickInterval    time.Duration `json:"-" yaml:"-"`
	IntentRetryCap  int           `json:"intent_retry_cap" yaml:"intent_retry_cap"`
}

// Validate checks the fields a generation build depends on. All failures
// wrap ErrInvalidConfig and are fatal at startup.
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidConfig)
	}
	if c.LevelCount < 2 {
		return fmt.Errorf("%w: level_count must be >= 2, got %d", ErrInvalidConfig, c.LevelCount)
	}
	if c.SpacingPercent <= 0 {
		return fmt.Errorf("%w: spacing_percent must be > 0, got %f", ErrInvalidConfig, c.SpacingPercent)
	}
	if c.CenterPrice <= 0 {
		return fmt.Errorf("%w: center_price must be > 0, got %f", ErrInvalidConfig, c.CenterPrice)
	}
	if c.QuantityPerLevel <= 0 {
		return fmt.Errorf("%w: quantity_per_level must be > 0, got %f", ErrInvalidConfig, c.QuantityPerLevel)
	}
	switch c.SpacingMode {
	case SpacingArithmetic:
		// Lowest BUY level sits LevelCount/2 steps below center; all
		// prices must stay positive.
		if float64(c.LevelCount/2)*c.SpacingPercent >= 100 {
			return fmt.Errorf("%w: arithmetic spacing %f%% with %d levels pushes prices below zero",
				ErrInvalidConfig, c.SpacingPercent, c.LevelCount)
		}
	case SpacingGeometric:
		if c.SpacingPercent >= 100 {
			return fmt.Errorf("%w: geometric spacing_percent must be < 100, got %f",
				ErrInvalidConfig, c.SpacingPercent)
		}
	default:
		return fmt.Errorf("%w: unknown spacing_mode %q", ErrInvalidConfig, c.SpacingMode)
	}
	return nil
}

// ============================================================================
// Levels and Generations
// ============================================================================

// LevelState tracks whether a level can accept a new order.
type LevelState string

const (
	// LevelIdle has no live order and may be placed against.
	LevelIdle LevelState = "IDLE"
	// LevelBound has exactly one live order.
	LevelBound LevelState = "BOUND"
	// LevelUnknown could not be reconciled against the exchange; excluded
	// from placement until a later reconciliation succeeds.
	LevelUnknown LevelState = "UNKNOWN"
	// LevelDisabled was rejected permanently by the venue; revived only by
	// the next rebalance.
	LevelDisabled LevelState = "DISABLED"
)

// Level is one rung of the ladder. At most one live order is bound to a
// level at any time.
type Level struct {
	Index   int        `json:"index"`
	Price   float64    `json:"price"`
	Side    string     `json:"side"` // BUY below center, SELL above
	OrderID string     `json:"order_id,omitempty"`
	State   LevelState `json:"state"`

	// FillSeq counts confirmed fills on this level across its lifetime.
	// RecordFill advances it exactly once per fill event.
	FillSeq int64 `json:"fill_seq"`
}

// Generation is one immutable version of the ladder. Level bindings and
// states mutate; the configuration and prices never do.
type Generation struct {
	Version   int64     `json:"version"`
	Config    Config    `json:"config"`
	Levels    []Level   `json:"levels"`
	CreatedAt time.Time `json:"created_at"`
}

// ============================================================================
// Position and Risk
// ============================================================================

// Position is the net holding built up by confirmed fills. Mutated only
// by RecordFill.
type Position struct {
	NetBaseQuantity   float64 `json:"net_base_quantity"`
	AverageEntryPrice float64 `json:"average_entry_price"`
	RealizedPnL       float64 `json:"realized_pnl"`
	UnrealizedPnL     float64 `json:"unrealized_pnl"`
}

// RiskState carries the capital-preservation counters. Halted is
// monotonic within a session; daily counters reset on UTC day change.
type RiskState struct {
	DailyRealizedPnL float64   `json:"daily_realized_pnl"`
	PeakEquity       float64   `json:"peak_equity"`
	Halted           bool      `json:"halted"`
	HaltReason       string    `json:"halt_reason,omitempty"`
	LastDailyReset   time.Time `json:"last_daily_reset"`
}

// Performance aggregates trade statistics for the status surface.
type Performance struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	TotalProfit   float64 `json:"total_profit"`
}

// ============================================================================
// Order Intents
// ============================================================================

// IntentAction is what the engine should do with an intent.
type IntentAction string

const (
	ActionPlace   IntentAction = "PLACE"
	ActionCancel  IntentAction = "CANCEL"
	ActionFlatten IntentAction = "FLATTEN"
)

// OrderIntent is one instruction executed through the gate. PLACE
// intents come from the placement sweep and the reconciler and may wait
// in the queue for up to IntentRetryCap ticks; CANCEL and FLATTEN
// intents are built by the cancel and halt sweeps and execute inline,
// since those sweeps must confirm completion within their own phase.
// Intents are never persisted.
type OrderIntent struct {
	LevelIndex int
	Side       string
	Price      float64
	Quantity   float64
	Action     IntentAction
	OrderID    string // set for CANCEL
	Attempts   int
}

func (i OrderIntent) String() string {
	switch i.Action {
	case ActionCancel:
		return fmt.Sprintf("CANCEL level=%d order=%s", i.LevelIndex, i.OrderID)
	case ActionFlatten:
		return fmt.Sprintf("FLATTEN %s qty=%f", i.Side, i.Quantity)
	default:
		return fmt.Sprintf("PLACE level=%d %s %f @ %f", i.LevelIndex, i.Side, i.Quantity, i.Price)
	}
}
