package strategy

import "signal-engine/internal/model"

// Conditions are the three boolean criteria evaluated per snapshot.
// An undefined operand makes its condition false.
type Conditions struct {
	TrendUp    bool `json:"c1_ema_above_vwma"` // ema_fast > vwma_slow
	MomentumUp bool `json:"c2_macd_above_sig"` // macd_line > macd_signal
	RateUp     bool `json:"c3_roc_positive"`   // roc > 0
}

// Evaluate computes C1..C3 for a snapshot.
func Evaluate(s model.IndicatorSnapshot) Conditions {
	return Conditions{
		TrendUp:    greater(s.EMAFast, s.VWMASlow),
		MomentumUp: greater(s.MACDLine, s.MACDSignal),
		RateUp:     s.ROC.IsSome() && s.ROC.Unwrap().IsPositive(),
	}
}

// Met returns how many conditions hold.
func (c Conditions) Met() int {
	n := 0
	for _, ok := range []bool{c.TrendUp, c.MomentumUp, c.RateUp} {
		if ok {
			n++
		}
	}
	return n
}

func greater(a, b model.Value) bool {
	if a.IsNone() || b.IsNone() {
		return false
	}
	return a.Unwrap().GreaterThan(b.Unwrap())
}
