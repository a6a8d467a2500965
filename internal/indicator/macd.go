package indicator

import (
	"github.com/shopspring/decimal"

	"signal-engine/internal/model"
)

// MACD tracks the MACD line (EMA fast − EMA slow) and its signal line.
// The signal is an EMA maintained over defined MACD-line values only, so it
// starts accumulating once the slow EMA is seeded.
type MACD struct {
	fast, slow *EMA
	signal     *EMA
	line       model.Value
}

// NewMACD creates a MACD(fast, slow, signal), usually (12, 26, 9).
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fast:   NewEMA(fast),
		slow:   NewEMA(slow),
		signal: NewEMA(signal),
		line:   model.Undefined(),
	}
}

func (m *MACD) Name() string { return "MACD_" + itoa(m.fast.period) + "_" + itoa(m.slow.period) }

func (m *MACD) Update(price decimal.Decimal, volume int64) {
	m.fast.Update(price, volume)
	m.slow.Update(price, volume)
	if !m.fast.Ready() || !m.slow.Ready() {
		return
	}
	line := m.fast.current.Sub(m.slow.current)
	m.line = model.Defined(line)
	m.signal.Update(line, 0)
}

// Value returns the MACD line.
func (m *MACD) Value() model.Value { return m.line }
func (m *MACD) Ready() bool        { return m.line.IsSome() }

// Signal returns the signal line.
func (m *MACD) Signal() model.Value { return m.signal.Value() }

// Fast returns the fast EMA reading.
func (m *MACD) Fast() model.Value { return m.fast.Value() }

// Slow returns the slow EMA reading.
func (m *MACD) Slow() model.Value { return m.slow.Value() }
