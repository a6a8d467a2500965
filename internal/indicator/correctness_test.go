package indicator

import (
	"testing"

	"github.com/shopspring/decimal"

	"signal-engine/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertValue(t *testing.T, label string, got model.Value, want string) {
	t.Helper()
	if got.IsNone() {
		t.Errorf("%s: got undefined, want %s", label, want)
		return
	}
	if !got.Unwrap().Equal(d(want)) {
		t.Errorf("%s: got %s, want %s", label, got.Unwrap(), want)
	}
}

func assertUndefined(t *testing.T, label string, got model.Value) {
	t.Helper()
	if got.IsSome() {
		t.Errorf("%s: got %s, want undefined", label, got.Unwrap())
	}
}

// ────────────────────────────────────────────────────────────
// EMA
// ────────────────────────────────────────────────────────────

func TestEMA_Correctness_Period3(t *testing.T) {
	// k = 2/(3+1) = 0.5
	// Seed after 3 values: (10+11+12)/3 = 11
	// Next: 13*0.5 + 11*0.5 = 12
	// Next: 9*0.5 + 12*0.5 = 10.5
	ema := NewEMA(3)
	prices := []string{"10", "11", "12", "13", "9"}
	want := []string{"", "", "11", "12", "10.5"}

	for i, p := range prices {
		ema.Update(d(p), 0)
		if want[i] == "" {
			assertUndefined(t, "EMA(3) bar "+itoa(i), ema.Value())
			if ema.Ready() {
				t.Errorf("bar %d: EMA must not be ready", i)
			}
			continue
		}
		assertValue(t, "EMA(3) bar "+itoa(i), ema.Value(), want[i])
	}
}

func TestEMA_ConstantSeriesConvergesExactly(t *testing.T) {
	for _, p := range []string{"187.35", "0.0001234", "42", "12345.6789"} {
		ema := NewEMA(7)
		for i := 0; i < 50; i++ {
			ema.Update(d(p), 100)
			if i >= 6 {
				assertValue(t, "EMA(7) constant "+p+" bar "+itoa(i), ema.Value(), p)
			}
		}
	}
}

// ────────────────────────────────────────────────────────────
// VWMA
// ────────────────────────────────────────────────────────────

func TestVWMA_Correctness_Period3(t *testing.T) {
	// Window (10,1) (20,2) (30,3): (10 + 40 + 90) / 6 = 23.33...
	// Window (20,2) (30,3) (40,4): (40 + 90 + 160) / 9 = 32.22...
	v := NewVWMA(3)
	v.Update(d("10"), 1)
	v.Update(d("20"), 2)
	assertUndefined(t, "VWMA(3) bar 1", v.Value())

	v.Update(d("30"), 3)
	assertValue(t, "VWMA(3) bar 2", v.Value(), "23.3333333333333333333333333333")

	v.Update(d("40"), 4)
	assertValue(t, "VWMA(3) bar 3", v.Value(), "32.2222222222222222222222222222")
}

func TestVWMA_ZeroVolumeIsUndefined(t *testing.T) {
	v := NewVWMA(2)
	v.Update(d("10"), 0)
	v.Update(d("11"), 0)
	assertUndefined(t, "VWMA zero volume", v.Value())

	v.Update(d("12"), 5)
	// Window (11,0) (12,5) → 12
	assertValue(t, "VWMA after volume returns", v.Value(), "12")
}

// ────────────────────────────────────────────────────────────
// ROC
// ────────────────────────────────────────────────────────────

func TestROC_Correctness_Period2(t *testing.T) {
	// Needs n+1 = 3 prices
	// (110-100)/100*100 = 10
	// (99-105)/105*100 = -5.714285...
	r := NewROC(2)
	r.Update(d("100"), 0)
	r.Update(d("105"), 0)
	assertUndefined(t, "ROC(2) bar 1", r.Value())

	r.Update(d("110"), 0)
	assertValue(t, "ROC(2) bar 2", r.Value(), "10")

	r.Update(d("99"), 0)
	assertValue(t, "ROC(2) bar 3", r.Value(), "-5.7142857142857142857142857143")
}

func TestROC_ZeroBaseIsUndefined(t *testing.T) {
	r := NewROC(1)
	r.Update(decimal.Zero, 0)
	r.Update(d("5"), 0)
	assertUndefined(t, "ROC zero base", r.Value())
}

// ────────────────────────────────────────────────────────────
// MACD
// ────────────────────────────────────────────────────────────

func TestMACD_LineAndSignalLookback(t *testing.T) {
	m := NewMACD(3, 5, 2)
	prices := []string{"10", "11", "12", "13", "14", "15", "16"}

	for i, p := range prices {
		m.Update(d(p), 0)
		switch {
		case i < 4:
			assertUndefined(t, "MACD line bar "+itoa(i), m.Value())
			assertUndefined(t, "MACD signal bar "+itoa(i), m.Signal())
		case i == 4:
			// EMA3: seed 11, then 12, 13 → 13; EMA5 seed = 12 → line = 1
			assertValue(t, "MACD line bar 4", m.Value(), "1")
			assertUndefined(t, "MACD signal bar 4", m.Signal())
		}
	}
	// Signal EMA(2) seeds over the first 2 defined line values
	if m.Signal().IsNone() {
		t.Fatal("expected signal defined after 2 line values")
	}
}

func TestMACD_ConstantSeriesIsFlat(t *testing.T) {
	m := NewMACD(12, 26, 9)
	for i := 0; i < 60; i++ {
		m.Update(d("250.5"), 1)
	}
	assertValue(t, "MACD line", m.Value(), "0")
	assertValue(t, "MACD signal", m.Signal(), "0")
	assertValue(t, "EMA12", m.Fast(), "250.5")
	assertValue(t, "EMA26", m.Slow(), "250.5")
}

func TestIndicator_Names(t *testing.T) {
	for _, tc := range []struct {
		ind  Indicator
		want string
	}{
		{NewEMA(7), "EMA_7"},
		{NewVWMA(17), "VWMA_17"},
		{NewROC(8), "ROC_8"},
		{NewMACD(12, 26, 9), "MACD_12_26"},
	} {
		if got := tc.ind.Name(); got != tc.want {
			t.Errorf("expected %s, got %s", tc.want, got)
		}
	}
}
