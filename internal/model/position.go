package model

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

// Status is the position state.
type Status string

const (
	StatusClosed Status = "CLOSED"
	StatusOpen   Status = "OPEN"
)

// Position is the signal state of one series. Exactly one exists per
// SeriesKey; it is created CLOSED and only the state machine mutates it.
type Position struct {
	Key       SeriesKey                  `json:"key"`
	Status    Status                     `json:"status"`
	OpenPrice Value                      `json:"open_price"`
	OpenTime  optional.Option[time.Time] `json:"open_time"`
	TotalPnL  decimal.Decimal            `json:"total_pnl"`
	Trades    int                        `json:"trades"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// NewPosition returns the initial CLOSED position for key.
func NewPosition(key SeriesKey) Position {
	return Position{
		Key:       key,
		Status:    StatusClosed,
		OpenPrice: Undefined(),
		OpenTime:  optional.None[time.Time](),
		TotalPnL:  decimal.Zero,
	}
}

// IsOpen reports whether the position is OPEN.
func (p Position) IsOpen() bool { return p.Status == StatusOpen }

// Equal compares state fields (UpdatedAt is bookkeeping and ignored).
func (p Position) Equal(o Position) bool {
	if p.Key != o.Key || p.Status != o.Status || p.Trades != o.Trades {
		return false
	}
	if !p.TotalPnL.Equal(o.TotalPnL) || !ValueEqual(p.OpenPrice, o.OpenPrice) {
		return false
	}
	if p.OpenTime.IsNone() || o.OpenTime.IsNone() {
		return p.OpenTime.IsNone() && o.OpenTime.IsNone()
	}
	return p.OpenTime.Unwrap().Equal(o.OpenTime.Unwrap())
}
