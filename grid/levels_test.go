package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridbot/trader"
)

func validConfig() Config {
	return Config{
		Symbol:           "BTCUSDT",
		LevelCount:       10,
		SpacingPercent:   1.0,
		SpacingMode:      SpacingArithmetic,
		CenterPrice:      50000,
		QuantityPerLevel: 0.001,
	}
}

func TestBuildGenerationArithmetic(t *testing.T) {
	gen, err := BuildGeneration(validConfig(), 1)
	require.NoError(t, err)
	require.Len(t, gen.Levels, 10)

	wantPrices := []float64{47500, 48000, 48500, 49000, 49500, 50500, 51000, 51500, 52000, 52500}
	wantSides := []string{
		trader.SideBuy, trader.SideBuy, trader.SideBuy, trader.SideBuy, trader.SideBuy,
		trader.SideSell, trader.SideSell, trader.SideSell, trader.SideSell, trader.SideSell,
	}
	for i, lvl := range gen.Levels {
		assert.Equal(t, i, lvl.Index)
		assert.InDelta(t, wantPrices[i], lvl.Price, 1e-9, "level %d price", i)
		assert.Equal(t, wantSides[i], lvl.Side, "level %d side", i)
		assert.Equal(t, LevelIdle, lvl.State)
		assert.Empty(t, lvl.OrderID)
	}
}

func TestBuildGenerationStrictlyIncreasing(t *testing.T) {
	cases := []struct {
		name string
		mode SpacingMode
		n    int
	}{
		{"arithmetic even", SpacingArithmetic, 10},
		{"arithmetic odd", SpacingArithmetic, 7},
		{"geometric even", SpacingGeometric, 12},
		{"geometric odd", SpacingGeometric, 5},
		{"minimal", SpacingArithmetic, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.SpacingMode = tc.mode
			cfg.LevelCount = tc.n
			gen, err := BuildGeneration(cfg, 1)
			require.NoError(t, err)
			require.Len(t, gen.Levels, tc.n)

			for i := 1; i < len(gen.Levels); i++ {
				assert.Greater(t, gen.Levels[i].Price, gen.Levels[i-1].Price,
					"prices must strictly increase at index %d", i)
			}
			// Exactly one side transition, at the center price.
			transitions := 0
			for i := 1; i < len(gen.Levels); i++ {
				if gen.Levels[i].Side != gen.Levels[i-1].Side {
					transitions++
					assert.Less(t, gen.Levels[i-1].Price, cfg.CenterPrice)
					assert.Greater(t, gen.Levels[i].Price, cfg.CenterPrice)
				}
			}
			assert.Equal(t, 1, transitions)

			below := tc.n / 2
			for i, lvl := range gen.Levels {
				if i < below {
					assert.Equal(t, trader.SideBuy, lvl.Side)
				} else {
					assert.Equal(t, trader.SideSell, lvl.Side)
				}
			}
		})
	}
}

func TestBuildGenerationGeometricPrices(t *testing.T) {
	cfg := validConfig()
	cfg.SpacingMode = SpacingGeometric
	cfg.LevelCount = 4
	cfg.CenterPrice = 100
	cfg.SpacingPercent = 10

	gen, err := BuildGeneration(cfg, 1)
	require.NoError(t, err)

	assert.InDelta(t, 100*0.9*0.9, gen.Levels[0].Price, 1e-9)
	assert.InDelta(t, 100*0.9, gen.Levels[1].Price, 1e-9)
	assert.InDelta(t, 100*1.1, gen.Levels[2].Price, 1e-9)
	assert.InDelta(t, 100*1.1*1.1, gen.Levels[3].Price, 1e-9)
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"level count too small", func(c *Config) { c.LevelCount = 1 }},
		{"zero spacing", func(c *Config) { c.SpacingPercent = 0 }},
		{"negative spacing", func(c *Config) { c.SpacingPercent = -1 }},
		{"zero center", func(c *Config) { c.CenterPrice = 0 }},
		{"zero quantity", func(c *Config) { c.QuantityPerLevel = 0 }},
		{"missing symbol", func(c *Config) { c.Symbol = "" }},
		{"unknown mode", func(c *Config) { c.SpacingMode = "FIBONACCI" }},
		{"geometric spacing 100", func(c *Config) { c.SpacingMode = SpacingGeometric; c.SpacingPercent = 100 }},
		{"arithmetic pushes negative", func(c *Config) { c.LevelCount = 300; c.SpacingPercent = 1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			_, err := BuildGeneration(cfg, 1)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestGenerationBounds(t *testing.T) {
	gen, err := BuildGeneration(validConfig(), 1)
	require.NoError(t, err)
	lower, upper := gen.Bounds()
	assert.InDelta(t, 47500.0, lower, 1e-9)
	assert.InDelta(t, 52500.0, upper, 1e-9)
}
