// Package tfbuilder aggregates a finer bar series into coarser,
// boundary-aligned timeframes. A coarse bar is emitted only once every
// constituent fine bar of its period exists, and each period is emitted at
// most once. Levels compose transitively (1m → 5m → 15m).
package tfbuilder

import (
	"fmt"
	"time"

	"signal-engine/internal/model"
	"signal-engine/internal/series"
)

// BuildPeriod builds the coarse bar of length period starting at start from
// the fine series. It returns false while any constituent is missing.
// Pure: neither series is modified.
func BuildPeriod(fine *series.Series, period model.Timeframe, start time.Time) (model.Bar, bool, error) {
	fineTF := fine.Timeframe()
	if !period.MultipleOf(fineTF) {
		return model.Bar{}, false, fmt.Errorf("tfbuilder: %s is not a positive multiple of %s", period, fineTF)
	}
	if !period.Aligned(start) {
		return model.Bar{}, false, fmt.Errorf("tfbuilder: %s not aligned to %s", start.Format(time.RFC3339), period)
	}

	need := int(period / fineTF)
	parts := fine.Bars(start, start.Add(period.Duration()))
	if len(parts) != need {
		return model.Bar{}, false, nil // still waiting for constituents
	}
	return merge(start, parts), true, nil
}

// Aggregate appends to coarse every period that became complete in fine
// since coarse's newest bar, oldest first, and returns the appended bars.
// Periods already present in coarse are never rebuilt, so re-running
// Aggregate is idempotent. An incomplete trailing period yields no bar.
func Aggregate(fine, coarse *series.Series) ([]model.Bar, error) {
	period := coarse.Timeframe()
	if !period.MultipleOf(fine.Timeframe()) {
		return nil, fmt.Errorf("tfbuilder: %s is not a positive multiple of %s", period, fine.Timeframe())
	}

	lastFine, ok := fine.LastPeriodStart()
	if !ok {
		return nil, nil
	}
	end := period.Floor(lastFine) // newest candidate period

	var start time.Time
	if lastCoarse, ok := coarse.LastPeriodStart(); ok {
		start = lastCoarse.Add(period.Duration())
	} else {
		start = period.Floor(fine.BarAt(0).PeriodStart)
	}

	var out []model.Bar
	for p := start; !p.After(end); p = p.Add(period.Duration()) {
		bar, complete, err := BuildPeriod(fine, period, p)
		if err != nil {
			return out, err
		}
		if !complete {
			// Past periods with missing constituents never complete
			// (fine bars only arrive in order). Skip them.
			continue
		}
		if err := coarse.Append(bar); err != nil {
			return out, err
		}
		out = append(out, bar)
	}
	return out, nil
}

// merge folds ordered fine bars into one coarse bar.
func merge(start time.Time, parts []model.Bar) model.Bar {
	b := model.Bar{
		PeriodStart: start,
		Open:        parts[0].Open,
		High:        parts[0].High,
		Low:         parts[0].Low,
		Close:       parts[len(parts)-1].Close,
	}
	for _, p := range parts {
		if p.High.GreaterThan(b.High) {
			b.High = p.High
		}
		if p.Low.LessThan(b.Low) {
			b.Low = p.Low
		}
		b.Volume += p.Volume
	}
	return b
}

// Flat returns a zero-volume bar at ps whose prices all equal prev's close.
// Used to fill minutes the vendor has no trades for.
func Flat(prev model.Bar, ps time.Time) model.Bar {
	c := prev.Close
	return model.Bar{PeriodStart: ps, Open: c, High: c, Low: c, Close: c, Volume: 0}
}
