package grid

import (
	"fmt"
	"time"

	"gridbot/logger"
)

// ============================================================================
// Risk Guard
// ============================================================================

// RiskGuard enforces the capital-preservation limits. It only evaluates;
// the engine performs the halt transition, cancel sweep and flatten.
type RiskGuard struct {
	dailyLossLimit  float64 // quote currency, 0 disables
	stopLossPercent float64 // drawdown from peak equity, 0 disables
}

// NewRiskGuard creates a guard from grid config.
func NewRiskGuard(cfg Config) *RiskGuard {
	return &RiskGuard{
		dailyLossLimit:  cfg.DailyLossLimit,
		stopLossPercent: cfg.StopLossPercent,
	}
}

// Evaluate checks both limits against the ledger at the current price.
// Returns (true, reason) when the instance must halt. Unrealized losses
// count toward the daily limit; unrealized gains do not offset it.
func (r *RiskGuard) Evaluate(ledger *Ledger, price float64, now time.Time) (bool, string) {
	ledger.MaybeResetDaily(now)

	if r.dailyLossLimit > 0 {
		risk := ledger.Risk()
		unrealized := ledger.Position(price).UnrealizedPnL
		if unrealized > 0 {
			unrealized = 0
		}
		loss := -(risk.DailyRealizedPnL + unrealized)
		if loss > r.dailyLossLimit {
			reason := fmt.Sprintf("daily loss %.2f exceeds limit %.2f", loss, r.dailyLossLimit)
			logger.Warnf("[Grid] Risk breach: %s", reason)
			return true, reason
		}
	}

	if r.stopLossPercent > 0 {
		equity, peak := ledger.UpdatePeakEquity(price)
		if peak > 0 {
			drawdown := (peak - equity) / peak * 100
			if drawdown > r.stopLossPercent {
				reason := fmt.Sprintf("drawdown %.2f%% from peak equity %.2f exceeds stop-loss %.2f%%",
					drawdown, peak, r.stopLossPercent)
				logger.Warnf("[Grid] Risk breach: %s", reason)
				return true, reason
			}
		}
	}

	return false, ""
}
