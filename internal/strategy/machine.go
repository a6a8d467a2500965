package strategy

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"

	"signal-engine/internal/model"
)

// Hysteresis thresholds: all three conditions to open, at most one
// remaining to close.
const (
	OpenWhenMet  = 3
	CloseWhenMet = 1
)

var hundred = decimal.NewFromInt(100)

// Machine is the CLOSED/OPEN state machine of one series.
// Owned and mutated by a single worker; readers get copies via Position.
type Machine struct {
	pos model.Position

	// NewID generates event IDs. Defaults to uuid.New.
	NewID func() uuid.UUID
}

// NewMachine creates a machine in the CLOSED state.
func NewMachine(key model.SeriesKey) *Machine {
	return &Machine{pos: model.NewPosition(key), NewID: uuid.New}
}

// Position returns a copy of the current state.
func (m *Machine) Position() model.Position { return m.pos }

// Restore replaces the state with a persisted position of the same series.
func (m *Machine) Restore(p model.Position) error {
	if p.Key != m.pos.Key {
		return fmt.Errorf("strategy: restore %s into machine %s", p.Key, m.pos.Key)
	}
	if p.Status == model.StatusOpen && (p.OpenPrice.IsNone() || p.OpenTime.IsNone()) {
		return fmt.Errorf("strategy: %s restored OPEN without open price/time", p.Key)
	}
	m.pos = p
	return nil
}

// Step evaluates the snapshot of bar b and applies at most one transition.
// It returns the transition event, or nil when the state is unchanged.
// Bootstrap events update state exactly like live ones but are flagged so
// that they are never delivered.
func (m *Machine) Step(b model.Bar, snap model.IndicatorSnapshot, bootstrap bool) (*model.SignalEvent, error) {
	if !snap.PeriodStart.Equal(b.PeriodStart) {
		return nil, fmt.Errorf("strategy: %s snapshot %s does not match bar %s", m.pos.Key,
			snap.PeriodStart.Format(time.RFC3339), b.PeriodStart.Format(time.RFC3339))
	}

	met := Evaluate(snap).Met()
	m.pos.UpdatedAt = b.PeriodStart

	switch m.pos.Status {
	case model.StatusClosed:
		if met < OpenWhenMet {
			return nil, nil
		}
		return m.open(b, met, bootstrap), nil

	case model.StatusOpen:
		if met > CloseWhenMet {
			return nil, nil
		}
		return m.close(b, met, bootstrap), nil
	}
	return nil, fmt.Errorf("strategy: %s unknown status %q", m.pos.Key, m.pos.Status)
}

func (m *Machine) open(b model.Bar, met int, bootstrap bool) *model.SignalEvent {
	m.pos.Status = model.StatusOpen
	m.pos.OpenPrice = model.Defined(b.Close)
	m.pos.OpenTime = optional.Some(b.PeriodStart)

	return &model.SignalEvent{
		ID:            m.NewID(),
		Key:           m.pos.Key,
		Action:        model.ActionOpen,
		Time:          b.PeriodStart,
		Price:         b.Close,
		ConditionsMet: met,
		OpenPrice:     model.Undefined(),
		OpenTime:      optional.None[time.Time](),
		PnL:           model.Undefined(),
		PnLPct:        model.Undefined(),
		TotalPnL:      m.pos.TotalPnL,
		Bootstrap:     bootstrap,
	}
}

func (m *Machine) close(b model.Bar, met int, bootstrap bool) *model.SignalEvent {
	openPrice := m.pos.OpenPrice.Unwrap()
	pnl := b.Close.Sub(openPrice)
	pnlPct := pnl.Mul(hundred).DivRound(openPrice, model.DivisionPrecision)

	ev := &model.SignalEvent{
		ID:            m.NewID(),
		Key:           m.pos.Key,
		Action:        model.ActionClose,
		Time:          b.PeriodStart,
		Price:         b.Close,
		ConditionsMet: met,
		OpenPrice:     m.pos.OpenPrice,
		OpenTime:      m.pos.OpenTime,
		PnL:           model.Defined(pnl),
		PnLPct:        model.Defined(pnlPct),
		Bootstrap:     bootstrap,
	}

	m.pos.Status = model.StatusClosed
	m.pos.OpenPrice = model.Undefined()
	m.pos.OpenTime = optional.None[time.Time]()
	m.pos.TotalPnL = m.pos.TotalPnL.Add(pnl)
	m.pos.Trades++

	ev.TotalPnL = m.pos.TotalPnL
	return ev
}
