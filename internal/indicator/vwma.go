package indicator

import (
	"github.com/shopspring/decimal"

	"signal-engine/internal/model"
	"signal-engine/internal/ringbuf"
)

type weighted struct {
	price  decimal.Decimal
	volume int64
}

// VWMA calculates the Volume Weighted Moving Average over the last n bars:
// sum(price*volume) / sum(volume). The sums are rebuilt from the trailing
// window on every update. Undefined while the window is not full or its
// volume sum is zero.
type VWMA struct {
	period  int
	window  *ringbuf.Window[weighted]
	current model.Value
}

// NewVWMA creates a VWMA over period bars.
func NewVWMA(period int) *VWMA {
	return &VWMA{
		period:  period,
		window:  ringbuf.New[weighted](period),
		current: model.Undefined(),
	}
}

func (v *VWMA) Name() string { return name("VWMA", v.period) }

func (v *VWMA) Update(price decimal.Decimal, volume int64) {
	v.window.Push(weighted{price: price, volume: volume})
	if !v.window.Full() {
		return
	}

	pv := decimal.Zero
	var vol int64
	v.window.Do(func(w weighted) {
		pv = pv.Add(w.price.Mul(decimal.NewFromInt(w.volume)))
		vol += w.volume
	})
	if vol == 0 {
		v.current = model.Undefined()
		return
	}
	v.current = model.Defined(div(pv, decimal.NewFromInt(vol)))
}

func (v *VWMA) Value() model.Value { return v.current }
func (v *VWMA) Ready() bool        { return v.current.IsSome() }
