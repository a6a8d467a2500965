package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

// Action is a position transition.
type Action string

const (
	ActionOpen  Action = "OPEN"
	ActionClose Action = "CLOSE"
)

// SignalEvent is emitted by the state machine on every transition.
type SignalEvent struct {
	ID            uuid.UUID       `json:"id"`
	Key           SeriesKey       `json:"key"`
	Action        Action          `json:"action"`
	Time          time.Time       `json:"time"`  // period start of the triggering bar
	Price         decimal.Decimal `json:"price"` // close of the triggering bar
	ConditionsMet int             `json:"conditions_met"`

	// Close-only fields.
	OpenPrice Value                      `json:"open_price"`
	OpenTime  optional.Option[time.Time] `json:"open_time"`
	PnL       Value                      `json:"pnl"`
	PnLPct    Value                      `json:"pnl_pct"`
	TotalPnL  decimal.Decimal            `json:"total_pnl"`

	// Bootstrap marks events produced while replaying history. They update
	// state but are never delivered to notification sinks.
	Bootstrap bool `json:"bootstrap"`
}

// JSON returns the JSON-encoded event.
func (e SignalEvent) JSON() []byte {
	out, _ := json.Marshal(e)
	return out
}
