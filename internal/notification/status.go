package notification

import (
	"sort"
	"sync"
	"time"

	"signal-engine/internal/model"
)

// Freshness buckets for the age of a series' newest bar.
const (
	FreshWithin = 60 * time.Minute
	StaleWithin = 24 * time.Hour
)

// SeriesStatus is the externally visible state of one series.
type SeriesStatus struct {
	Position    model.Position `json:"position"`
	LastBar     time.Time      `json:"last_bar"`
	LastUpdated time.Time      `json:"last_updated"`
	LastError   string         `json:"last_error,omitempty"`
}

// Freshness classifies the newest bar as "fresh", "stale", "old" or "none".
func (s SeriesStatus) Freshness(now time.Time) string {
	if s.LastBar.IsZero() {
		return "none"
	}
	age := now.Sub(s.LastBar)
	switch {
	case age < FreshWithin:
		return "fresh"
	case age < StaleWithin:
		return "stale"
	}
	return "old"
}

// Status is the live registry of every series. Workers write their own
// keys; API handlers and the health logger read copies.
type Status struct {
	mu     sync.RWMutex
	series map[model.SeriesKey]SeriesStatus
	now    func() time.Time
}

// NewStatus creates an empty registry.
func NewStatus() *Status {
	return &Status{
		series: make(map[model.SeriesKey]SeriesStatus),
		now:    time.Now,
	}
}

// Update records the latest position and bar of a series.
func (s *Status) Update(pos model.Position, lastBar time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.series[pos.Key]
	st.Position = pos
	if lastBar.After(st.LastBar) {
		st.LastBar = lastBar
	}
	st.LastUpdated = s.now()
	st.LastError = ""
	s.series[pos.Key] = st
}

// SetError records a failed cycle for key without touching its position.
func (s *Status) SetError(key model.SeriesKey, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.series[key]
	if !ok {
		st.Position = model.NewPosition(key)
	}
	st.LastError = err.Error()
	st.LastUpdated = s.now()
	s.series[key] = st
}

// Get returns the status of key.
func (s *Status) Get(key model.SeriesKey) (SeriesStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.series[key]
	return st, ok
}

// Snapshot returns every status ordered by symbol, timeframe, direction.
func (s *Status) Snapshot() []SeriesStatus {
	return s.filter(func(model.SeriesKey) bool { return true })
}

// BySymbol returns the statuses of one symbol.
func (s *Status) BySymbol(symbol string) []SeriesStatus {
	return s.filter(func(k model.SeriesKey) bool { return k.Symbol == symbol })
}

// OpenCount returns how many series are OPEN.
func (s *Status) OpenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, st := range s.series {
		if st.Position.IsOpen() {
			n++
		}
	}
	return n
}

func (s *Status) filter(keep func(model.SeriesKey) bool) []SeriesStatus {
	s.mu.RLock()
	out := make([]SeriesStatus, 0, len(s.series))
	for k, st := range s.series {
		if keep(k) {
			out = append(out, st)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Position.Key.Less(out[j].Position.Key) })
	return out
}
