package grid

import (
	"fmt"

	"gridbot/logger"
)

// ============================================================================
// Rebalance Planner
// ============================================================================

// Planner decides when the active generation should be replaced. It is a
// pure policy object: it reads prices and ledger counters and answers
// yes/no; the engine owns the cancel sweep and regeneration.
type Planner struct {
	driftMarginPercent  float64
	dynamic             bool
	baseRebalanceTrades int
	vol                 VolatilityModel
}

// NewPlanner creates a planner from grid config. vol may be nil when
// dynamic mode is off.
func NewPlanner(cfg Config, vol VolatilityModel) *Planner {
	base := cfg.BaseRebalanceTrades
	if base <= 0 {
		base = 20
	}
	return &Planner{
		driftMarginPercent:  cfg.DriftMarginPercent,
		dynamic:             cfg.DynamicGrid,
		baseRebalanceTrades: base,
		vol:                 vol,
	}
}

// Observe feeds the tick's price into the volatility model.
func (p *Planner) Observe(price float64) {
	if p.vol != nil {
		p.vol.Observe(price)
	}
}

// ShouldRebalance evaluates the trigger conditions against the active
// generation: price drifted beyond the outermost level by the configured
// margin, or (dynamic mode) accumulated trades since the last rebalance
// crossed the volatility-adjusted threshold.
func (p *Planner) ShouldRebalance(gen *Generation, price float64, tradesSinceRebalance int) (bool, string) {
	if gen == nil || len(gen.Levels) == 0 || price <= 0 {
		return false, ""
	}

	lower, upper := gen.Bounds()
	margin := p.driftMarginPercent / 100
	if price > upper*(1+margin) {
		return true, fmt.Sprintf("price %f drifted above upper bound %f", price, upper)
	}
	if price < lower*(1-margin) {
		return true, fmt.Sprintf("price %f drifted below lower bound %f", price, lower)
	}

	if p.dynamic {
		threshold := p.tradeThreshold(gen.Config.SpacingPercent)
		if tradesSinceRebalance >= threshold {
			return true, fmt.Sprintf("%d trades since last rebalance (threshold %d)",
				tradesSinceRebalance, threshold)
		}
	}

	return false, ""
}

// tradeThreshold scales the base trade count down when volatility runs
// hotter than the grid spacing, so a choppy market recenters sooner.
func (p *Planner) tradeThreshold(spacingPercent float64) int {
	threshold := p.baseRebalanceTrades
	if p.vol == nil {
		return threshold
	}
	v := p.vol.Value()
	if v > spacingPercent && spacingPercent > 0 {
		threshold = threshold / 2
		if threshold < 1 {
			threshold = 1
		}
		logger.Debugf("[Grid] Volatility %f%% above spacing %f%%, rebalance threshold lowered to %d",
			v, spacingPercent, threshold)
	}
	return threshold
}
