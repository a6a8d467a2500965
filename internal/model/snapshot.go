package model

import (
	"encoding/json"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

// Value is an indicator reading. None means the indicator does not have
// enough history yet ("undefined").
type Value = optional.Option[decimal.Decimal]

// Defined wraps a decimal as a defined Value.
func Defined(d decimal.Decimal) Value { return optional.Some(d) }

// Undefined returns the "insufficient history" Value.
func Undefined() Value { return optional.None[decimal.Decimal]() }

// ValueEqual compares two readings; two undefined values are equal.
func ValueEqual(a, b Value) bool {
	if a.IsNone() || b.IsNone() {
		return a.IsNone() && b.IsNone()
	}
	return a.Unwrap().Equal(b.Unwrap())
}

// ValueString formats a reading, "" when undefined.
func ValueString(v Value) string {
	if v.IsNone() {
		return ""
	}
	return v.Unwrap().String()
}

// ParseValue is the inverse of ValueString.
func ParseValue(s string) (Value, error) {
	if s == "" {
		return Undefined(), nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Undefined(), err
	}
	return Defined(d), nil
}

// IndicatorSnapshot holds the indicator readings computed for one bar.
// Snapshots are index-aligned with their series' bars and never mutated.
type IndicatorSnapshot struct {
	PeriodStart time.Time `json:"period_start"`
	EMAFast     Value     `json:"ema_fast"`
	VWMASlow    Value     `json:"vwma_slow"`
	EMA12       Value     `json:"ema_12"`
	EMA26       Value     `json:"ema_26"`
	MACDLine    Value     `json:"macd_line"`
	MACDSignal  Value     `json:"macd_signal"`
	ROC         Value     `json:"roc"`
}

// Equal compares period and every reading.
func (s IndicatorSnapshot) Equal(o IndicatorSnapshot) bool {
	return s.PeriodStart.Equal(o.PeriodStart) &&
		ValueEqual(s.EMAFast, o.EMAFast) &&
		ValueEqual(s.VWMASlow, o.VWMASlow) &&
		ValueEqual(s.EMA12, o.EMA12) &&
		ValueEqual(s.EMA26, o.EMA26) &&
		ValueEqual(s.MACDLine, o.MACDLine) &&
		ValueEqual(s.MACDSignal, o.MACDSignal) &&
		ValueEqual(s.ROC, o.ROC)
}

// Values returns the readings in persistence column order.
func (s IndicatorSnapshot) Values() []Value {
	return []Value{s.EMAFast, s.VWMASlow, s.EMA12, s.EMA26, s.MACDLine, s.MACDSignal, s.ROC}
}

// JSON returns the JSON-encoded snapshot; undefined readings encode as null.
func (s IndicatorSnapshot) JSON() []byte {
	out, _ := json.Marshal(s)
	return out
}
