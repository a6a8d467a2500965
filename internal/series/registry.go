package series

import (
	"sync"

	"signal-engine/internal/model"
)

// Registry indexes the series of one worker by key.
type Registry struct {
	mu     sync.RWMutex
	series map[model.SeriesKey]*Series
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{series: make(map[model.SeriesKey]*Series, 4)}
}

// Ensure returns the series for key, creating it if needed. policy is
// installed only on a newly created series.
func (r *Registry) Ensure(key model.SeriesKey, policy GapPolicy) *Series {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.series[key]; ok {
		return s
	}
	s := New(key)
	s.AllowGap = policy
	r.series[key] = s
	return s
}

// Get returns the series for key.
func (r *Registry) Get(key model.SeriesKey) (*Series, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.series[key]
	return s, ok
}
