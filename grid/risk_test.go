package grid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRiskGuardDailyLossLimit(t *testing.T) {
	cfg := validConfig()
	cfg.DailyLossLimit = 10
	gen, err := BuildGeneration(cfg, 1)
	require.NoError(t, err)
	l := NewLedger(gen)
	guard := NewRiskGuard(cfg)

	// A realized loss under the limit does not halt.
	require.NoError(t, l.BindOrder(4, "o-4"))
	_, _ = l.RecordFill(4, "o-4", 49500, 0.001)
	require.NoError(t, l.BindOrder(5, "o-5"))
	_, _ = l.RecordFill(5, "o-5", 50500, 0.001) // +1 realized
	halt, _ := guard.Evaluate(l, 50500, time.Now())
	assert.False(t, halt)

	// Push daily realized PnL below the limit with losing sells.
	for i := 0; i < 12; i++ {
		require.NoError(t, l.BindOrder(4, "b"))
		_, _ = l.RecordFill(4, "b", 49500, 0.001)
		require.NoError(t, l.BindOrder(5, "s"))
		_, _ = l.RecordFill(5, "s", 48500, 0.001) // -1 per round trip
	}
	halt, reason := guard.Evaluate(l, 48500, time.Now())
	assert.True(t, halt)
	assert.Contains(t, reason, "daily loss")
}

func TestRiskGuardCountsUnrealizedLosses(t *testing.T) {
	cfg := validConfig()
	cfg.DailyLossLimit = 5
	gen, err := BuildGeneration(cfg, 1)
	require.NoError(t, err)
	l := NewLedger(gen)
	guard := NewRiskGuard(cfg)

	require.NoError(t, l.BindOrder(4, "o-4"))
	_, _ = l.RecordFill(4, "o-4", 49500, 0.001)

	// Holding 0.001 from 49500: at 46000 the unrealized loss is 3.5,
	// under the limit.
	halt, _ := guard.Evaluate(l, 46000, time.Now())
	assert.False(t, halt)

	// At 44000 it is 5.5, over the limit.
	halt, reason := guard.Evaluate(l, 44000, time.Now())
	assert.True(t, halt)
	assert.Contains(t, reason, "daily loss")
}

func TestRiskGuardUnrealizedGainsDoNotOffset(t *testing.T) {
	cfg := validConfig()
	cfg.DailyLossLimit = 0.5
	gen, err := BuildGeneration(cfg, 1)
	require.NoError(t, err)
	l := NewLedger(gen)
	guard := NewRiskGuard(cfg)

	// Realized -1 on the day.
	require.NoError(t, l.BindOrder(4, "b"))
	_, _ = l.RecordFill(4, "b", 49500, 0.001)
	require.NoError(t, l.BindOrder(5, "s"))
	_, _ = l.RecordFill(5, "s", 48500, 0.001)

	// Buy back so there is an unrealized gain at a high price. The gain
	// must not mask the realized loss.
	require.NoError(t, l.BindOrder(4, "b2"))
	_, _ = l.RecordFill(4, "b2", 49500, 0.001)

	halt, _ := guard.Evaluate(l, 60000, time.Now())
	assert.True(t, halt)
}

func TestRiskGuardStopLossDrawdown(t *testing.T) {
	cfg := validConfig()
	cfg.StopLossPercent = 5
	cfg.CapitalAllocation = 100
	gen, err := BuildGeneration(cfg, 1)
	require.NoError(t, err)
	l := NewLedger(gen)
	guard := NewRiskGuard(cfg)

	// Establish the equity peak at 100.
	halt, _ := guard.Evaluate(l, 50000, time.Now())
	assert.False(t, halt)

	// 0.001 bought at 49500; at 43000 unrealized is -6.5, a 6.5% drawdown.
	require.NoError(t, l.BindOrder(4, "o-4"))
	_, _ = l.RecordFill(4, "o-4", 49500, 0.001)
	halt, reason := guard.Evaluate(l, 43000, time.Now())
	assert.True(t, halt)
	assert.Contains(t, reason, "drawdown")
}

func TestRiskGuardDisabledLimits(t *testing.T) {
	cfg := validConfig()
	gen, err := BuildGeneration(cfg, 1)
	require.NoError(t, err)
	l := NewLedger(gen)
	guard := NewRiskGuard(cfg)

	require.NoError(t, l.BindOrder(4, "o-4"))
	_, _ = l.RecordFill(4, "o-4", 49500, 0.001)
	halt, _ := guard.Evaluate(l, 1000, time.Now())
	assert.False(t, halt, "zero limits disable the guard")
}

func TestRiskGuardDailyResetClearsCounter(t *testing.T) {
	cfg := validConfig()
	cfg.DailyLossLimit = 0.5
	gen, err := BuildGeneration(cfg, 1)
	require.NoError(t, err)
	l := NewLedger(gen)
	guard := NewRiskGuard(cfg)

	require.NoError(t, l.BindOrder(4, "b"))
	_, _ = l.RecordFill(4, "b", 49500, 0.001)
	require.NoError(t, l.BindOrder(5, "s"))
	_, _ = l.RecordFill(5, "s", 48500, 0.001) // -1 realized today

	halt, _ := guard.Evaluate(l, 48500, time.Now())
	assert.True(t, halt)

	// A fresh ledger with the same loss evaluated on the next UTC day
	// starts from zero.
	l2 := NewLedger(gen)
	require.NoError(t, l2.BindOrder(4, "b"))
	_, _ = l2.RecordFill(4, "b", 49500, 0.001)
	require.NoError(t, l2.BindOrder(5, "s"))
	_, _ = l2.RecordFill(5, "s", 48500, 0.001)

	halt, _ = guard.Evaluate(l2, 48500, l2.Risk().LastDailyReset.Add(24*time.Hour))
	assert.False(t, halt)
}
