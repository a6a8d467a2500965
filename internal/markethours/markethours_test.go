package markethours

import (
	"testing"
	"time"

	"signal-engine/internal/model"
)

func et(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, Eastern)
}

func TestIsMarketOpen(t *testing.T) {
	cases := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"open bell", et(2026, time.March, 4, 9, 30), true},
		{"before open", et(2026, time.March, 4, 9, 29), false},
		{"last minute", et(2026, time.March, 4, 15, 59), true},
		{"close", et(2026, time.March, 4, 16, 0), false},
		{"saturday", et(2026, time.March, 7, 11, 0), false},
		{"good friday", et(2026, time.April, 3, 11, 0), false},
		{"july 3 observed", et(2026, time.July, 3, 11, 0), false},
		{"utc input", time.Date(2026, time.March, 4, 14, 30, 0, 0, time.UTC), true},
	}
	for _, tc := range cases {
		if got := IsMarketOpen(tc.t); got != tc.want {
			t.Errorf("%s: IsMarketOpen(%v) = %v, want %v", tc.name, tc.t, got, tc.want)
		}
	}
}

func TestNextOpen(t *testing.T) {
	cases := []struct {
		now, want time.Time
	}{
		{et(2026, time.March, 4, 8, 0), et(2026, time.March, 4, 9, 30)},
		{et(2026, time.March, 4, 10, 0), et(2026, time.March, 5, 9, 30)},
		{et(2026, time.March, 6, 17, 0), et(2026, time.March, 9, 9, 30)},
		{et(2026, time.April, 2, 17, 0), et(2026, time.April, 6, 9, 30)},
	}
	for _, tc := range cases {
		if got := NextOpen(tc.now); !got.Equal(tc.want) {
			t.Errorf("NextOpen(%v) = %v, want %v", tc.now, got, tc.want)
		}
	}
}

func TestPreviousTradingDayOpen(t *testing.T) {
	got := PreviousTradingDayOpen(et(2026, time.March, 9, 10, 0)) // Monday
	if want := et(2026, time.March, 6, 9, 30); !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
	got = PreviousTradingDayOpen(et(2026, time.January, 20, 8, 0)) // after MLK day
	if want := et(2026, time.January, 16, 9, 30); !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSessionGap(t *testing.T) {
	cases := []struct {
		name       string
		tf         model.Timeframe
		prev, next time.Time
		want       bool
	}{
		{"overnight 1m", 1, et(2026, time.March, 4, 15, 59), et(2026, time.March, 5, 9, 30), true},
		{"weekend 5m", 5, et(2026, time.March, 6, 15, 55), et(2026, time.March, 9, 9, 30), true},
		{"intraday hole", 1, et(2026, time.March, 4, 10, 0), et(2026, time.March, 4, 10, 3), false},
		{"overnight then missing open", 1, et(2026, time.March, 4, 15, 59), et(2026, time.March, 5, 9, 32), false},
		{"hourly overnight", 60, time.Date(2026, time.March, 4, 20, 0, 0, 0, time.UTC), time.Date(2026, time.March, 5, 14, 0, 0, 0, time.UTC), true},
		{"contiguous", 1, et(2026, time.March, 4, 10, 0), et(2026, time.March, 4, 10, 1), true},
	}
	for _, tc := range cases {
		if got := SessionGap(tc.tf, tc.prev, tc.next); got != tc.want {
			t.Errorf("%s: SessionGap = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestStatusString(t *testing.T) {
	if s := StatusString(et(2026, time.March, 4, 15, 0)); s != "Market Open, closes in 1h0m" {
		t.Errorf("open status = %q", s)
	}
	if s := StatusString(et(2026, time.February, 28, 9, 30)); s != "Market Closed, opens Mon 09:30 ET (48h0m)" {
		t.Errorf("closed status = %q", s)
	}
}
