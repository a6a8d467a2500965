package indicator

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"signal-engine/internal/model"
	"signal-engine/internal/series"
)

var baseTS = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

func makeBar(i int, close string) model.Bar {
	c := d(close)
	return model.Bar{
		PeriodStart: baseTS.Add(time.Duration(i) * 5 * time.Minute),
		Open:        c,
		High:        c.Add(decimal.NewFromInt(1)),
		Low:         c.Sub(decimal.NewFromInt(1)),
		Close:       c,
		Volume:      int64(100 + i*10),
	}
}

// wave returns a deterministic, non-monotonic price for bar i.
func wave(i int) string {
	p := 100 + (i*7)%13 - (i*3)%5
	return itoa(p) + "." + itoa(i%10)
}

func newSeries() *series.Series {
	return series.New(model.SeriesKey{Symbol: "TEST", Timeframe: 5, Direction: model.Regular})
}

func TestEngine_SnapshotPerBar(t *testing.T) {
	s := newSeries()
	e := NewEngine(DefaultPeriods())

	var hooked int
	e.OnSnapshot = func(model.SeriesKey, model.IndicatorSnapshot) { hooked++ }

	for i := 0; i < 40; i++ {
		if err := s.Append(makeBar(i, wave(i))); err != nil {
			t.Fatal(err)
		}
		snaps, err := e.Update(s)
		if err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
		if len(snaps) != 1 {
			t.Fatalf("bar %d: expected exactly 1 new snapshot, got %d", i, len(snaps))
		}
		if s.SnapshotLen() != s.Len() {
			t.Fatalf("bar %d: snapshots=%d bars=%d", i, s.SnapshotLen(), s.Len())
		}
	}
	if hooked != 40 {
		t.Errorf("expected OnSnapshot 40 times, got %d", hooked)
	}

	// Nothing pending: no new snapshots
	snaps, err := e.Update(s)
	if err != nil || len(snaps) != 0 {
		t.Fatalf("expected no-op update, got %d snaps err=%v", len(snaps), err)
	}
}

func TestEngine_BatchCatchUp(t *testing.T) {
	s := newSeries()
	e := NewEngine(DefaultPeriods())
	for i := 0; i < 25; i++ {
		s.Append(makeBar(i, wave(i)))
	}
	snaps, err := e.Update(s)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 25 || s.SnapshotLen() != 25 {
		t.Fatalf("expected 25 snapshots, got %d (attached %d)", len(snaps), s.SnapshotLen())
	}
}

func TestEngine_AppendOnly(t *testing.T) {
	s := newSeries()
	e := NewEngine(DefaultPeriods())
	for i := 0; i < 30; i++ {
		s.Append(makeBar(i, wave(i)))
	}
	if _, err := e.Update(s); err != nil {
		t.Fatal(err)
	}
	before := s.Snapshots()

	for i := 30; i < 60; i++ {
		s.Append(makeBar(i, wave(i)))
		if _, err := e.Update(s); err != nil {
			t.Fatal(err)
		}
	}
	after := s.Snapshots()
	for i := range before {
		if !before[i].Equal(after[i]) {
			t.Fatalf("snapshot %d changed after appending more bars", i)
		}
	}

	// A second, independent engine over the full series yields the same values
	fresh := newSeries()
	for i := 0; i < 60; i++ {
		fresh.Append(makeBar(i, wave(i)))
	}
	if _, err := NewEngine(DefaultPeriods()).Update(fresh); err != nil {
		t.Fatal(err)
	}
	for i, snap := range fresh.Snapshots() {
		if !snap.Equal(after[i]) {
			t.Fatalf("snapshot %d differs between incremental and batch computation", i)
		}
	}
}

func TestEngine_LookbackDefinedness(t *testing.T) {
	s := newSeries()
	e := NewEngine(DefaultPeriods())
	for i := 0; i < 40; i++ {
		s.Append(makeBar(i, wave(i)))
	}
	if _, err := e.Update(s); err != nil {
		t.Fatal(err)
	}

	firstDefined := func(get func(model.IndicatorSnapshot) model.Value) int {
		for i, snap := range s.Snapshots() {
			if get(snap).IsSome() {
				return i
			}
		}
		return -1
	}

	for _, tc := range []struct {
		name string
		get  func(model.IndicatorSnapshot) model.Value
		want int
	}{
		{"ema_fast", func(s model.IndicatorSnapshot) model.Value { return s.EMAFast }, 6},
		{"vwma_slow", func(s model.IndicatorSnapshot) model.Value { return s.VWMASlow }, 16},
		{"roc", func(s model.IndicatorSnapshot) model.Value { return s.ROC }, 8},
		{"ema_12", func(s model.IndicatorSnapshot) model.Value { return s.EMA12 }, 11},
		{"ema_26", func(s model.IndicatorSnapshot) model.Value { return s.EMA26 }, 25},
		{"macd_line", func(s model.IndicatorSnapshot) model.Value { return s.MACDLine }, 25},
		{"macd_signal", func(s model.IndicatorSnapshot) model.Value { return s.MACDSignal }, 33},
	} {
		if got := firstDefined(tc.get); got != tc.want {
			t.Errorf("%s: first defined at bar %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestCalculator_RejectsReprocessing(t *testing.T) {
	c := NewCalculator(DefaultPeriods())
	if _, err := c.Update(makeBar(1, "10")); err != nil {
		t.Fatal(err)
	}
	_, err := c.Update(makeBar(1, "11"))
	if !errors.Is(err, model.ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder for repeated bar, got %v", err)
	}
	_, err = c.Update(makeBar(0, "11"))
	if !errors.Is(err, model.ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder for older bar, got %v", err)
	}
	if c.Count() != 1 {
		t.Errorf("rejected bars must not be counted, count=%d", c.Count())
	}
}
