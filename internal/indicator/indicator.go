// Package indicator provides incremental technical indicators over bar data.
//
// Every indicator is an O(1)-per-bar recurrence or a fixed trailing window,
// computed in decimal arithmetic. Readings are model.Value: undefined (None)
// until the indicator has enough history.
package indicator

import (
	"github.com/shopspring/decimal"

	"signal-engine/internal/model"
)

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "EMA_7", "VWMA_17").
	Name() string

	// Update feeds the next bar's price and volume.
	Update(price decimal.Decimal, volume int64)

	// Value returns the current reading, undefined until Ready.
	Value() model.Value

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}

var hundred = decimal.NewFromInt(100)

// bound keeps recurrence state at DivisionPrecision places. Exact decimal
// products otherwise gain the scale of the multiplier on every bar.
func bound(d decimal.Decimal) decimal.Decimal {
	return d.Round(model.DivisionPrecision)
}

func div(a, b decimal.Decimal) decimal.Decimal {
	return a.DivRound(b, model.DivisionPrecision)
}

func name(kind string, period int) string {
	return kind + "_" + itoa(period)
}

// itoa converts a non-negative int without pulling strconv into the hot path.
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	buf := [20]byte{}
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
