package indicator

import (
	"github.com/shopspring/decimal"

	"signal-engine/internal/model"
	"signal-engine/internal/ringbuf"
)

// ROC is the Rate of Change in percent: (p_t - p_{t-n}) / p_{t-n} * 100.
// Undefined with fewer than n+1 prices or when p_{t-n} is zero.
type ROC struct {
	period  int
	prices  *ringbuf.Window[decimal.Decimal] // last n+1 prices
	current model.Value
}

// NewROC creates a ROC over period bars.
func NewROC(period int) *ROC {
	return &ROC{
		period:  period,
		prices:  ringbuf.New[decimal.Decimal](period + 1),
		current: model.Undefined(),
	}
}

func (r *ROC) Name() string { return name("ROC", r.period) }

func (r *ROC) Update(price decimal.Decimal, _ int64) {
	r.prices.Push(price)
	if !r.prices.Full() {
		return
	}
	past, _ := r.prices.Oldest()
	if past.IsZero() {
		r.current = model.Undefined()
		return
	}
	r.current = model.Defined(div(price.Sub(past).Mul(hundred), past))
}

func (r *ROC) Value() model.Value { return r.current }
func (r *ROC) Ready() bool        { return r.current.IsSome() }
