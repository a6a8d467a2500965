package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// DivisionPrecision is the number of decimal places kept by every division
// in the pipeline (reciprocals, averages, ratios). Addition, subtraction and
// multiplication are exact.
const DivisionPrecision int32 = 28

// Bar is one OHLCV record for a fixed, boundary-aligned period.
// A Bar is immutable once its period has fully elapsed.
type Bar struct {
	PeriodStart time.Time       `json:"period_start"` // UTC, timeframe-aligned
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      int64           `json:"volume"`
}

// Validate checks the OHLC envelope and price sign.
func (b Bar) Validate() error {
	if b.PeriodStart.IsZero() {
		return invalidBar(b, "zero period start")
	}
	if !b.Low.IsPositive() {
		return invalidBar(b, "non-positive low")
	}
	if b.High.LessThan(b.Low) {
		return invalidBar(b, "high below low")
	}
	if b.Open.GreaterThan(b.High) || b.Open.LessThan(b.Low) {
		return invalidBar(b, "open outside high/low")
	}
	if b.Close.GreaterThan(b.High) || b.Close.LessThan(b.Low) {
		return invalidBar(b, "close outside high/low")
	}
	if b.Volume < 0 {
		return invalidBar(b, "negative volume")
	}
	return nil
}

// Equal reports whether two bars carry the same period and values.
func (b Bar) Equal(o Bar) bool {
	return b.PeriodStart.Equal(o.PeriodStart) &&
		b.Open.Equal(o.Open) && b.High.Equal(o.High) &&
		b.Low.Equal(o.Low) && b.Close.Equal(o.Close) &&
		b.Volume == o.Volume
}

// JSON returns the JSON-encoded bar.
func (b Bar) JSON() []byte {
	out, _ := json.Marshal(b)
	return out
}

// Invert derives the INVERSE bar from a REGULAR one. Prices become their
// reciprocals; high and low swap so that High >= Low still holds.
// Volume is unchanged.
func Invert(b Bar) (Bar, error) {
	if !b.Open.IsPositive() || !b.High.IsPositive() || !b.Low.IsPositive() || !b.Close.IsPositive() {
		return Bar{}, invalidBar(b, "cannot invert non-positive price")
	}
	return Bar{
		PeriodStart: b.PeriodStart,
		Open:        reciprocal(b.Open),
		High:        reciprocal(b.Low),
		Low:         reciprocal(b.High),
		Close:       reciprocal(b.Close),
		Volume:      b.Volume,
	}, nil
}

func reciprocal(d decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(1).DivRound(d, DivisionPrecision)
}
