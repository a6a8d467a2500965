package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Timeframe is a bar period length in whole minutes.
type Timeframe int

// Base is the granularity delivered by bar sources.
const Base Timeframe = 1

// Duration returns the period length.
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf) * time.Minute
}

// String returns "5m", "15m", ...
func (tf Timeframe) String() string {
	return strconv.Itoa(int(tf)) + "m"
}

// Valid reports whether tf is a usable period.
func (tf Timeframe) Valid() bool { return tf > 0 }

// Floor returns the start of the period containing t. Periods are aligned to
// multiples of their length from the Unix epoch, so 15m bars start at
// :00/:15/:30/:45.
func (tf Timeframe) Floor(t time.Time) time.Time {
	sec := int64(tf) * 60
	ts := t.Unix()
	return time.Unix(ts-mod(ts, sec), 0).UTC()
}

// Aligned reports whether t sits exactly on a period boundary.
func (tf Timeframe) Aligned(t time.Time) bool {
	return t.Nanosecond() == 0 && tf.Floor(t).Equal(t)
}

// MultipleOf reports whether tf can be built from whole bars of fine.
func (tf Timeframe) MultipleOf(fine Timeframe) bool {
	return fine > 0 && tf > 0 && tf%fine == 0
}

// ParseTimeframe accepts "5", "5m" or "1h".
func ParseTimeframe(in string) (Timeframe, error) {
	s := strings.TrimSpace(strings.ToLower(in))
	mult := 1
	switch {
	case strings.HasSuffix(s, "h"):
		mult = 60
		s = strings.TrimSuffix(s, "h")
	case strings.HasSuffix(s, "m"):
		s = strings.TrimSuffix(s, "m")
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", in)
	}
	return Timeframe(n * mult), nil
}

// mod is a floor modulo so pre-1970 timestamps still align downwards.
func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
