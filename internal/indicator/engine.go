package indicator

import (
	"fmt"
	"time"

	"signal-engine/internal/model"
	"signal-engine/internal/series"
)

// Periods configures the indicator set of a snapshot.
type Periods struct {
	Fast       int `yaml:"fast" validate:"gt=0"`      // EMA fast
	Slow       int `yaml:"slow" validate:"gt=0"`      // VWMA slow
	ROC        int `yaml:"roc" validate:"gt=0"`       // rate of change lookback
	MACDFast   int `yaml:"macd_fast" validate:"gt=0"` // 12
	MACDSlow   int `yaml:"macd_slow" validate:"gtfield=MACDFast"`
	MACDSignal int `yaml:"macd_signal" validate:"gt=0"` // 9
}

// DefaultPeriods returns EMA(7), VWMA(17), ROC(8) and MACD(12, 26, 9).
func DefaultPeriods() Periods {
	return Periods{Fast: 7, Slow: 17, ROC: 8, MACDFast: 12, MACDSlow: 26, MACDSignal: 9}
}

// Calculator produces one IndicatorSnapshot per bar of a single series.
// Bars must arrive strictly in order; a bar can never be processed twice.
type Calculator struct {
	emaFast *EMA
	vwma    *VWMA
	macd    *MACD
	roc     *ROC

	last  time.Time
	count int
}

// NewCalculator creates a calculator with fresh indicator state.
func NewCalculator(p Periods) *Calculator {
	return &Calculator{
		emaFast: NewEMA(p.Fast),
		vwma:    NewVWMA(p.Slow),
		macd:    NewMACD(p.MACDFast, p.MACDSlow, p.MACDSignal),
		roc:     NewROC(p.ROC),
	}
}

// Update feeds the next bar and returns its snapshot.
func (c *Calculator) Update(b model.Bar) (model.IndicatorSnapshot, error) {
	if c.count > 0 && !b.PeriodStart.After(c.last) {
		return model.IndicatorSnapshot{}, fmt.Errorf("indicator: %w: %s already processed (last %s)",
			model.ErrOutOfOrder, b.PeriodStart.Format(time.RFC3339), c.last.Format(time.RFC3339))
	}

	c.emaFast.Update(b.Close, b.Volume)
	c.vwma.Update(b.Close, b.Volume)
	c.macd.Update(b.Close, b.Volume)
	c.roc.Update(b.Close, b.Volume)
	c.last = b.PeriodStart
	c.count++

	return model.IndicatorSnapshot{
		PeriodStart: b.PeriodStart,
		EMAFast:     c.emaFast.Value(),
		VWMASlow:    c.vwma.Value(),
		EMA12:       c.macd.Fast(),
		EMA26:       c.macd.Slow(),
		MACDLine:    c.macd.Value(),
		MACDSignal:  c.macd.Signal(),
		ROC:         c.roc.Value(),
	}, nil
}

// Count returns the number of bars processed.
func (c *Calculator) Count() int { return c.count }

// Engine keeps one Calculator per series and brings a series' snapshot
// sequence level with its bar sequence.
// Designed for single-goroutine usage by the worker owning the series.
type Engine struct {
	periods Periods
	calcs   map[model.SeriesKey]*Calculator

	// OnSnapshot is called for every computed snapshot (optional).
	OnSnapshot func(key model.SeriesKey, snap model.IndicatorSnapshot)
}

// NewEngine creates an engine computing the given indicator set.
func NewEngine(p Periods) *Engine {
	return &Engine{
		periods: p,
		calcs:   make(map[model.SeriesKey]*Calculator, 8),
	}
}

// Update computes and attaches snapshots for every bar of s that does not
// have one yet, in order, and returns them. Already attached snapshots are
// never recomputed.
func (e *Engine) Update(s *series.Series) ([]model.IndicatorSnapshot, error) {
	key := s.Key()
	calc, ok := e.calcs[key]
	if !ok {
		if s.SnapshotLen() > 0 {
			return nil, fmt.Errorf("indicator: %s has %d snapshots but no calculator state", key, s.SnapshotLen())
		}
		calc = NewCalculator(e.periods)
		e.calcs[key] = calc
	}

	pending := s.Pending()
	out := make([]model.IndicatorSnapshot, 0, len(pending))
	for _, b := range pending {
		snap, err := calc.Update(b)
		if err != nil {
			return out, fmt.Errorf("%s: %w", key, err)
		}
		if err := s.AttachSnapshot(snap); err != nil {
			return out, err
		}
		if e.OnSnapshot != nil {
			e.OnSnapshot(key, snap)
		}
		out = append(out, snap)
	}
	return out, nil
}
