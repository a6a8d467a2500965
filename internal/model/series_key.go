package model

import "fmt"

// Direction distinguishes the raw price series from its reciprocal.
type Direction string

const (
	Regular Direction = "REGULAR"
	Inverse Direction = "INVERSE"
)

// Directions lists both variants in evaluation order.
var Directions = []Direction{Regular, Inverse}

// Label is the trade side a direction models in notifications.
func (d Direction) Label() string {
	if d == Inverse {
		return "SHORT"
	}
	return "LONG"
}

// ParseDirection parses REGULAR/INVERSE (case-sensitive, as persisted).
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case Regular, Inverse:
		return Direction(s), nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

// SeriesKey identifies one bar series.
type SeriesKey struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	Direction Direction `json:"direction"`
}

// String returns "AAPL:5m:REGULAR".
func (k SeriesKey) String() string {
	return k.Symbol + ":" + k.Timeframe.String() + ":" + string(k.Direction)
}

// Pair returns "AAPL:5m", the scheduling unit the key belongs to.
func (k SeriesKey) Pair() string {
	return k.Symbol + ":" + k.Timeframe.String()
}

// Less orders keys by symbol, then timeframe, then direction.
func (k SeriesKey) Less(o SeriesKey) bool {
	if k.Symbol != o.Symbol {
		return k.Symbol < o.Symbol
	}
	if k.Timeframe != o.Timeframe {
		return k.Timeframe < o.Timeframe
	}
	return k.Direction < o.Direction
}
