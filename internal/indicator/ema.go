package indicator

import (
	"github.com/shopspring/decimal"

	"signal-engine/internal/model"
)

// EMA calculates Exponential Moving Average.
// O(1) per update, no window storage.
type EMA struct {
	period     int
	multiplier decimal.Decimal // k = 2/(n+1)
	complement decimal.Decimal // 1-k
	current    decimal.Decimal
	count      int
	sum        decimal.Decimal
}

// NewEMA creates a new EMA indicator with the given period.
func NewEMA(period int) *EMA {
	k := div(decimal.NewFromInt(2), decimal.NewFromInt(int64(period+1)))
	return &EMA{
		period:     period,
		multiplier: k,
		complement: decimal.NewFromInt(1).Sub(k),
	}
}

func (e *EMA) Name() string { return name("EMA", e.period) }

func (e *EMA) Update(price decimal.Decimal, _ int64) {
	e.count++

	if e.count <= e.period {
		// Accumulate for initial SMA seed
		e.sum = e.sum.Add(price)
		if e.count == e.period {
			e.current = div(e.sum, decimal.NewFromInt(int64(e.period)))
		}
		return
	}

	// EMA = (Price * k) + (EMA_prev * (1 - k))
	e.current = bound(price.Mul(e.multiplier).Add(e.current.Mul(e.complement)))
}

func (e *EMA) Value() model.Value {
	if !e.Ready() {
		return model.Undefined()
	}
	return model.Defined(e.current)
}

func (e *EMA) Ready() bool { return e.count >= e.period }
