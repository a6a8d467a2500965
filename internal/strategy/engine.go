// Package strategy runs the per-series position state machine.
//
// Each series has one Machine that moves between CLOSED and OPEN based on
// three indicator conditions, with hysteresis: all three must hold to open,
// and two or more must fail to close. Closing reports P&L.
package strategy

import (
	"sort"

	"signal-engine/internal/model"
)

// Engine owns the machines of one worker and routes snapshots to them.
// Not safe for concurrent use.
type Engine struct {
	machines map[model.SeriesKey]*Machine

	// OnEvent is called for every transition, bootstrap included (optional).
	OnEvent func(ev model.SignalEvent)
}

// NewEngine creates an engine with no machines.
func NewEngine() *Engine {
	return &Engine{machines: make(map[model.SeriesKey]*Machine, 4)}
}

// Machine returns the machine of key, creating it CLOSED if needed.
func (e *Engine) Machine(key model.SeriesKey) *Machine {
	m, ok := e.machines[key]
	if !ok {
		m = NewMachine(key)
		e.machines[key] = m
	}
	return m
}

// Step routes one bar and its snapshot to the machine of key.
func (e *Engine) Step(key model.SeriesKey, b model.Bar, snap model.IndicatorSnapshot, bootstrap bool) (*model.SignalEvent, error) {
	ev, err := e.Machine(key).Step(b, snap, bootstrap)
	if err != nil || ev == nil {
		return ev, err
	}
	if e.OnEvent != nil {
		e.OnEvent(*ev)
	}
	return ev, nil
}

// Restore loads a persisted position into its machine.
func (e *Engine) Restore(p model.Position) error {
	return e.Machine(p.Key).Restore(p)
}

// Positions returns copies of every position, ordered by key.
func (e *Engine) Positions() []model.Position {
	out := make([]model.Position, 0, len(e.machines))
	for _, m := range e.machines {
		out = append(out, m.Position())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}
