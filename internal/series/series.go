// Package series is the in-memory bar store. A Series owns the ordered,
// append-only bars of one (symbol, timeframe, direction) together with the
// index-aligned indicator snapshots computed for them.
package series

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"signal-engine/internal/model"
)

// GapPolicy decides whether a hole between prev and next is legitimate
// (e.g. an overnight market close). It returns true to accept the hole.
// A nil policy accepts no gaps.
type GapPolicy func(tf model.Timeframe, prev, next time.Time) bool

// Series is an ordered bar sequence plus its snapshot sequence.
//
// Exactly one goroutine (the owning worker) may call the mutating methods.
// Read methods are safe for concurrent use and return copies.
type Series struct {
	key model.SeriesKey

	mu        sync.RWMutex
	bars      []model.Bar
	snaps     []model.IndicatorSnapshot // snaps[i] belongs to bars[i]
	updatedAt time.Time

	// AllowGap is consulted when a non-contiguous bar arrives.
	AllowGap GapPolicy
}

// New creates an empty series.
func New(key model.SeriesKey) *Series {
	return &Series{
		key:   key,
		bars:  make([]model.Bar, 0, 512),
		snaps: make([]model.IndicatorSnapshot, 0, 512),
	}
}

// Key returns the series identity.
func (s *Series) Key() model.SeriesKey { return s.key }

// Timeframe is a shortcut for Key().Timeframe.
func (s *Series) Timeframe() model.Timeframe { return s.key.Timeframe }

// Append adds the next bar. It rejects duplicates, out-of-order and
// misaligned bars, and holes not accepted by AllowGap (*model.GapError).
func (s *Series) Append(b model.Bar) error {
	tf := s.key.Timeframe
	if !tf.Aligned(b.PeriodStart) {
		return fmt.Errorf("%s: %w: period start %s not aligned to %s",
			s.key, model.ErrInvalidBar, b.PeriodStart.Format(time.RFC3339), tf)
	}
	if err := b.Validate(); err != nil {
		return fmt.Errorf("%s: %w", s.key, err)
	}
	b.PeriodStart = b.PeriodStart.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.bars); n > 0 {
		last := s.bars[n-1].PeriodStart
		switch {
		case b.PeriodStart.Equal(last):
			return fmt.Errorf("%s: %w at %s", s.key, model.ErrDuplicateBar, last.Format(time.RFC3339))
		case b.PeriodStart.Before(last):
			return fmt.Errorf("%s: %w: %s before %s", s.key, model.ErrOutOfOrder,
				b.PeriodStart.Format(time.RFC3339), last.Format(time.RFC3339))
		}
		next := last.Add(tf.Duration())
		if !b.PeriodStart.Equal(next) && (s.AllowGap == nil || !s.AllowGap(tf, last, b.PeriodStart)) {
			return &model.GapError{Key: s.key.String(), Expected: next, Got: b.PeriodStart}
		}
	}

	s.bars = append(s.bars, b)
	s.updatedAt = time.Now()
	return nil
}

// AttachSnapshot appends the snapshot of the oldest bar that has none.
// Snapshots can only be added in bar order and are never replaced.
func (s *Series) AttachSnapshot(snap model.IndicatorSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := len(s.snaps)
	if i >= len(s.bars) {
		return fmt.Errorf("%s: snapshot for %s has no pending bar", s.key, snap.PeriodStart.Format(time.RFC3339))
	}
	if want := s.bars[i].PeriodStart; !snap.PeriodStart.Equal(want) {
		return fmt.Errorf("%s: %w: snapshot for %s, next bar is %s", s.key, model.ErrOutOfOrder,
			snap.PeriodStart.Format(time.RFC3339), want.Format(time.RFC3339))
	}
	s.snaps = append(s.snaps, snap)
	return nil
}

// Len returns the number of bars.
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bars)
}

// SnapshotLen returns the number of snapshots.
func (s *Series) SnapshotLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snaps)
}

// Last returns the newest bar.
func (s *Series) Last() (model.Bar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.bars) == 0 {
		return model.Bar{}, false
	}
	return s.bars[len(s.bars)-1], true
}

// LastPeriodStart returns the period start of the newest bar.
func (s *Series) LastPeriodStart() (time.Time, bool) {
	b, ok := s.Last()
	return b.PeriodStart, ok
}

// LastSnapshot returns the newest snapshot.
func (s *Series) LastSnapshot() (model.IndicatorSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.snaps) == 0 {
		return model.IndicatorSnapshot{}, false
	}
	return s.snaps[len(s.snaps)-1], true
}

// BarAt returns bar i (0 = oldest).
func (s *Series) BarAt(i int) model.Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bars[i]
}

// SnapshotAt returns the snapshot of bar i, if computed.
func (s *Series) SnapshotAt(i int) (model.IndicatorSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.snaps) {
		return model.IndicatorSnapshot{}, false
	}
	return s.snaps[i], true
}

// Index returns the position of the bar starting at ps.
func (s *Series) Index(ps time.Time) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.search(ps)
	return i, i < len(s.bars) && s.bars[i].PeriodStart.Equal(ps)
}

// Bars returns a copy of the bars with from <= PeriodStart < to.
// A zero to means no upper bound.
func (s *Series) Bars(from, to time.Time) []model.Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lo := s.search(from)
	hi := len(s.bars)
	if !to.IsZero() {
		hi = s.search(to)
	}
	if lo >= hi {
		return nil
	}
	out := make([]model.Bar, hi-lo)
	copy(out, s.bars[lo:hi])
	return out
}

// Snapshots returns a copy of all snapshots.
func (s *Series) Snapshots() []model.IndicatorSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.IndicatorSnapshot, len(s.snaps))
	copy(out, s.snaps)
	return out
}

// Pending returns the bars that do not have a snapshot yet.
func (s *Series) Pending() []model.Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Bar, len(s.bars)-len(s.snaps))
	copy(out, s.bars[len(s.snaps):])
	return out
}

// UpdatedAt is the wall-clock time of the last append.
func (s *Series) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// search returns the first index with PeriodStart >= t. Caller holds mu.
func (s *Series) search(t time.Time) int {
	return sort.Search(len(s.bars), func(i int) bool {
		return !s.bars[i].PeriodStart.Before(t)
	})
}
