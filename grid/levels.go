package grid

import (
	"math"
	"time"

	"gridbot/trader"
)

// BuildGeneration computes a new ladder around cfg.CenterPrice.
//
// LevelCount/2 BUY levels sit below center and the remainder SELL above,
// so the side transition is exactly at the center price. Level prices are
// strictly increasing by index; the lowest BUY has index 0.
//
// ARITHMETIC mode steps by a fixed fraction of the center price,
// GEOMETRIC by a fixed ratio per step.
func BuildGeneration(cfg Config, version int64) (*Generation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	below := cfg.LevelCount / 2
	above := cfg.LevelCount - below
	sp := cfg.SpacingPercent / 100

	levels := make([]Level, 0, cfg.LevelCount)

	// BUY side, farthest from center first so prices ascend with index.
	for i := 0; i < below; i++ {
		steps := float64(below - i)
		var price float64
		if cfg.SpacingMode == SpacingGeometric {
			price = cfg.CenterPrice * math.Pow(1-sp, steps)
		} else {
			price = cfg.CenterPrice * (1 - steps*sp)
		}
		levels = append(levels, Level{
			Index: i,
			Price: price,
			Side:  trader.SideBuy,
			State: LevelIdle,
		})
	}

	// SELL side, nearest to center first.
	for j := 0; j < above; j++ {
		steps := float64(j + 1)
		var price float64
		if cfg.SpacingMode == SpacingGeometric {
			price = cfg.CenterPrice * math.Pow(1+sp, steps)
		} else {
			price = cfg.CenterPrice * (1 + steps*sp)
		}
		levels = append(levels, Level{
			Index: below + j,
			Price: price,
			Side:  trader.SideSell,
			State: LevelIdle,
		})
	}

	return &Generation{
		Version:   version,
		Config:    cfg,
		Levels:    levels,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Bounds returns the lowest and highest level prices of a generation.
func (g *Generation) Bounds() (lower, upper float64) {
	if len(g.Levels) == 0 {
		return 0, 0
	}
	return g.Levels[0].Price, g.Levels[len(g.Levels)-1].Price
}
