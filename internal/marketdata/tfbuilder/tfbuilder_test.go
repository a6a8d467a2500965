package tfbuilder

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"signal-engine/internal/model"
	"signal-engine/internal/series"
)

// 09:30 US/Eastern on a Monday, aligned to every timeframe used below.
var baseTS = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// makeBar creates a 1m bar whose prices are derived from i so that
// highs and lows differ from bar to bar.
func makeBar(i int) model.Bar {
	return model.Bar{
		PeriodStart: baseTS.Add(time.Duration(i) * time.Minute),
		Open:        dec(100 + int64(i%4)),
		High:        dec(110 + int64(i%7)*3),
		Low:         dec(90 - int64(i%5)*2),
		Close:       dec(101 + int64(i%3)),
		Volume:      int64(10 + i),
	}
}

func newSeries(tf model.Timeframe) *series.Series {
	return series.New(model.SeriesKey{Symbol: "AAPL", Timeframe: tf, Direction: model.Regular})
}

func TestAggregate_FloorNOverRatio(t *testing.T) {
	for _, tc := range []struct {
		n     int
		ratio model.Timeframe
	}{
		{n: 5, ratio: 5},
		{n: 23, ratio: 5},
		{n: 44, ratio: 15},
		{n: 90, ratio: 30},
		{n: 7, ratio: 10},
	} {
		fine := newSeries(1)
		coarse := newSeries(tc.ratio)

		emitted := 0
		for i := 0; i < tc.n; i++ {
			if err := fine.Append(makeBar(i)); err != nil {
				t.Fatalf("append fine %d: %v", i, err)
			}
			bars, err := Aggregate(fine, coarse)
			if err != nil {
				t.Fatalf("aggregate: %v", err)
			}
			emitted += len(bars)
		}

		want := tc.n / int(tc.ratio)
		if emitted != want || coarse.Len() != want {
			t.Errorf("n=%d ratio=%d: expected %d coarse bars, emitted=%d stored=%d",
				tc.n, tc.ratio, want, emitted, coarse.Len())
		}

		// Every coarse bar: open/close/high/low/volume over its constituents
		for j := 0; j < coarse.Len(); j++ {
			cb := coarse.BarAt(j)
			parts := fine.Bars(cb.PeriodStart, cb.PeriodStart.Add(tc.ratio.Duration()))
			hi, lo := parts[0].High, parts[0].Low
			var vol int64
			for _, p := range parts {
				hi = decimal.Max(hi, p.High)
				lo = decimal.Min(lo, p.Low)
				vol += p.Volume
			}
			if !cb.High.Equal(hi) || !cb.Low.Equal(lo) {
				t.Errorf("bar %d: high/low %s/%s, want %s/%s", j, cb.High, cb.Low, hi, lo)
			}
			if !cb.Open.Equal(parts[0].Open) || !cb.Close.Equal(parts[len(parts)-1].Close) {
				t.Errorf("bar %d: open/close mismatch", j)
			}
			if cb.Volume != vol {
				t.Errorf("bar %d: volume %d, want %d", j, cb.Volume, vol)
			}
		}
	}
}

func TestAggregate_BoundaryScenario(t *testing.T) {
	fine := newSeries(1)
	coarse := newSeries(5)

	// 09:30 .. 09:34
	for i := 0; i < 5; i++ {
		fine.Append(makeBar(i))
		bars, err := Aggregate(fine, coarse)
		if err != nil {
			t.Fatal(err)
		}
		if i < 4 && len(bars) != 0 {
			t.Fatalf("bar emitted before period complete (after minute %d)", i)
		}
	}
	if coarse.Len() != 1 {
		t.Fatalf("expected exactly one 5m bar, got %d", coarse.Len())
	}
	first := coarse.BarAt(0)
	if !first.PeriodStart.Equal(baseTS) {
		t.Fatalf("expected 5m bar at 09:30, got %v", first.PeriodStart)
	}

	// 09:35 opens a new period and must not touch the emitted bar
	fine.Append(makeBar(5))
	bars, err := Aggregate(fine, coarse)
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 0 || coarse.Len() != 1 {
		t.Fatalf("09:35 must not emit, got %d new bars", len(bars))
	}
	if !coarse.BarAt(0).Equal(first) {
		t.Fatal("emitted 5m bar changed after 09:35 bar")
	}
}

func TestAggregate_Idempotent(t *testing.T) {
	fine := newSeries(1)
	coarse := newSeries(5)
	for i := 0; i < 10; i++ {
		fine.Append(makeBar(i))
	}

	bars, err := Aggregate(fine, coarse)
	if err != nil || len(bars) != 2 {
		t.Fatalf("expected 2 bars in first pass, got %d err=%v", len(bars), err)
	}
	again, err := Aggregate(fine, coarse)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 || coarse.Len() != 2 {
		t.Fatalf("re-running must not duplicate: got %d new, %d stored", len(again), coarse.Len())
	}
}

func TestAggregate_SkipsPartialLeadingPeriod(t *testing.T) {
	fine := newSeries(1)
	coarse := newSeries(5)
	// Start at 09:32: the 09:30 period can never complete
	for i := 2; i < 10; i++ {
		fine.Append(makeBar(i))
	}
	bars, err := Aggregate(fine, coarse)
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 1 || !bars[0].PeriodStart.Equal(baseTS.Add(5*time.Minute)) {
		t.Fatalf("expected only the 09:35 bar, got %+v", bars)
	}
}

func TestAggregate_RejectsNonMultiple(t *testing.T) {
	fine := newSeries(5)
	coarse := newSeries(7)
	if _, err := Aggregate(fine, coarse); err == nil {
		t.Fatal("expected error for 7m from 5m")
	}
	if _, _, err := BuildPeriod(fine, 12, baseTS); err == nil {
		t.Fatal("expected error for 12m from 5m")
	}
}

func TestBuildPeriod_WaitsForConstituents(t *testing.T) {
	fine := newSeries(1)
	for i := 0; i < 3; i++ {
		fine.Append(makeBar(i))
	}
	if _, ok, err := BuildPeriod(fine, 5, baseTS); ok || err != nil {
		t.Fatalf("expected incomplete period, ok=%v err=%v", ok, err)
	}
	fine.Append(makeBar(3))
	fine.Append(makeBar(4))
	b, ok, err := BuildPeriod(fine, 5, baseTS)
	if err != nil || !ok {
		t.Fatalf("expected complete period, ok=%v err=%v", ok, err)
	}
	if b.Volume != 10+11+12+13+14 {
		t.Errorf("expected summed volume, got %d", b.Volume)
	}
}

func TestCascade_TransitiveMatchesDirect(t *testing.T) {
	m1, m5, m15 := newSeries(1), newSeries(5), newSeries(15)
	cascade, err := NewCascade(m1, m5, m15)
	if err != nil {
		t.Fatal(err)
	}
	var hooked int
	cascade.OnBar = func(model.SeriesKey, model.Bar) { hooked++ }

	direct1, direct15 := newSeries(1), newSeries(15)

	for i := 0; i < 47; i++ {
		if _, err := cascade.Push(makeBar(i)); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
		direct1.Append(makeBar(i))
		if _, err := Aggregate(direct1, direct15); err != nil {
			t.Fatal(err)
		}
	}

	if m5.Len() != 9 || m15.Len() != 3 {
		t.Fatalf("expected 9x5m and 3x15m, got %d and %d", m5.Len(), m15.Len())
	}
	if hooked != 12 {
		t.Errorf("expected OnBar for 12 coarse bars, got %d", hooked)
	}
	for i := 0; i < m15.Len(); i++ {
		if !m15.BarAt(i).Equal(direct15.BarAt(i)) {
			t.Errorf("15m bar %d differs between cascade and direct aggregation", i)
		}
	}
}

func TestCascade_RejectsBadLevels(t *testing.T) {
	if _, err := NewCascade(); err == nil {
		t.Fatal("expected error for empty cascade")
	}
	if _, err := NewCascade(newSeries(5), newSeries(10), newSeries(15)); err == nil {
		t.Fatal("expected error: 15m is not a multiple of 10m")
	}
}

func TestFlat(t *testing.T) {
	prev := makeBar(0)
	ps := baseTS.Add(time.Minute)
	b := Flat(prev, ps)
	if !b.PeriodStart.Equal(ps) || b.Volume != 0 {
		t.Errorf("unexpected flat bar %+v", b)
	}
	for _, px := range []decimal.Decimal{b.Open, b.High, b.Low, b.Close} {
		if !px.Equal(prev.Close) {
			t.Errorf("flat price %s, want %s", px, prev.Close)
		}
	}
}

func TestCascade_SessionEdgeLeavesCoarseHole(t *testing.T) {
	m1, m60 := newSeries(1), newSeries(60)
	m1.AllowGap = func(model.Timeframe, time.Time, time.Time) bool { return true }
	cascade, err := NewCascade(m1, m60)
	if err != nil {
		t.Fatal(err)
	}

	// 14:30 UTC sits mid-hour: the 14:00 hour can never complete.
	for i := 0; i < 90; i++ {
		if _, err := cascade.Push(makeBar(i)); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	// Next day, same session start.
	for i := 0; i < 90; i++ {
		b := makeBar(i)
		b.PeriodStart = b.PeriodStart.Add(24 * time.Hour)
		if _, err := cascade.Push(b); err != nil {
			t.Fatalf("push day 2 %d: %v", i, err)
		}
	}
	if m60.Len() != 2 {
		t.Fatalf("expected the 15:00 hour of each day, got %d bars", m60.Len())
	}
	if !m60.BarAt(0).PeriodStart.Equal(baseTS.Add(30 * time.Minute)) {
		t.Errorf("first hour bar at %v", m60.BarAt(0).PeriodStart)
	}
}
