package tfbuilder

import (
	"fmt"
	"time"

	"signal-engine/internal/model"
	"signal-engine/internal/series"
)

// Cascade chains aggregation levels. Level 0 receives raw bars; every
// other level is built from the level directly below it.
// Designed for single-goroutine usage by the worker owning the series.
type Cascade struct {
	levels []*series.Series

	// OnBar is called for every bar appended to a level above 0 (optional).
	OnBar func(key model.SeriesKey, b model.Bar)
}

// DerivedGap accepts every hole. Aggregated levels use it: the base level
// already vetted contiguity, and a period whose constituents straddle a
// session edge never completes.
func DerivedGap(model.Timeframe, time.Time, time.Time) bool { return true }

// NewCascade validates that each level's timeframe is a multiple of the
// level below and returns the chain. Levels above 0 without a gap policy
// get DerivedGap.
func NewCascade(levels ...*series.Series) (*Cascade, error) {
	if len(levels) == 0 {
		return nil, fmt.Errorf("tfbuilder: cascade needs at least one level")
	}
	for i := 1; i < len(levels); i++ {
		fine, coarse := levels[i-1].Timeframe(), levels[i].Timeframe()
		if coarse == fine || !coarse.MultipleOf(fine) {
			return nil, fmt.Errorf("tfbuilder: level %d (%s) is not a multiple of level %d (%s)", i, coarse, i-1, fine)
		}
	}
	for _, l := range levels[1:] {
		if l.AllowGap == nil {
			l.AllowGap = DerivedGap
		}
	}
	return &Cascade{levels: levels}, nil
}

// Levels returns the chained series, finest first.
func (c *Cascade) Levels() []*series.Series { return c.levels }

// Top returns the coarsest level.
func (c *Cascade) Top() *series.Series { return c.levels[len(c.levels)-1] }

// Push appends b to level 0 and aggregates upwards. emitted[i] holds the
// bars newly appended to level i (emitted[0] is b itself).
func (c *Cascade) Push(b model.Bar) (emitted [][]model.Bar, err error) {
	if err := c.levels[0].Append(b); err != nil {
		return nil, err
	}
	emitted = make([][]model.Bar, len(c.levels))
	emitted[0] = []model.Bar{b}

	for i := 1; i < len(c.levels); i++ {
		if len(emitted[i-1]) == 0 {
			break // nothing new below, nothing can complete above
		}
		bars, err := Aggregate(c.levels[i-1], c.levels[i])
		emitted[i] = bars
		if c.OnBar != nil {
			for _, nb := range bars {
				c.OnBar(c.levels[i].Key(), nb)
			}
		}
		if err != nil {
			return emitted, err
		}
	}
	return emitted, nil
}
