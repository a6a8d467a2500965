// Package scheduler fires each pair's update cycle shortly after every
// timeframe boundary.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"signal-engine/internal/markethours"
	"signal-engine/internal/metrics"
	"signal-engine/internal/model"
	"signal-engine/internal/notification"
	"signal-engine/internal/pipeline"
)

// Pair is one scheduled unit of work (*pipeline.Worker).
type Pair interface {
	Pair() string
	Timeframe() model.Timeframe
	Cycle(ctx context.Context, now time.Time) (pipeline.Result, error)
}

// Config tunes the scheduler.
type Config struct {
	// SettleOffset delays each fire past the boundary so the vendor has
	// published the closing minute.
	SettleOffset time.Duration
	// HealthInterval is the period of the status log; 0 disables it.
	HealthInterval time.Duration
	// MarketHoursOnly skips boundaries whose period has no regular
	// session minute.
	MarketHoursOnly bool
}

// Scheduler runs one goroutine per pair. Each pair is the only writer of
// its own series, so no cross-pair locking is needed.
type Scheduler struct {
	cfg     Config
	pairs   []Pair
	status  *notification.Status
	metrics *metrics.Metrics

	now   func() time.Time
	after func(d time.Duration) <-chan time.Time
}

// New creates a scheduler. status and m may be nil.
func New(cfg Config, pairs []Pair, status *notification.Status, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		pairs:   pairs,
		status:  status,
		metrics: m,
		now:     time.Now,
		after:   time.After,
	}
}

// NextFire returns the fire time of the first boundary of tf whose fire
// time (boundary + offset) is after now.
func NextFire(now time.Time, tf model.Timeframe, offset time.Duration) time.Time {
	floor := tf.Floor(now)
	if cur := floor.Add(offset); now.Before(cur) {
		return cur
	}
	return floor.Add(tf.Duration()).Add(offset)
}

// nextFire applies market-hours gating on top of NextFire.
func (s *Scheduler) nextFire(now time.Time, tf model.Timeframe) time.Time {
	fire := NextFire(now, tf, s.cfg.SettleOffset)
	if !s.cfg.MarketHoursOnly {
		return fire
	}
	period := fire.Add(-s.cfg.SettleOffset).Add(-tf.Duration())
	if markethours.InSession(period, tf.Duration()) {
		return fire
	}
	open := markethours.NextOpen(period)
	return tf.Floor(open).Add(tf.Duration()).Add(s.cfg.SettleOffset)
}

// Run blocks until ctx is cancelled and every pair goroutine has returned.
// A cycle that already fetched its bars finishes before its goroutine exits.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range s.pairs {
		wg.Add(1)
		go func(p Pair) {
			defer wg.Done()
			s.loop(ctx, p)
		}(p)
	}
	if s.cfg.HealthInterval > 0 && s.status != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.healthLoop(ctx)
		}()
	}

	log.Printf("[scheduler] started %d pairs (settle=%s, market_hours_only=%v)",
		len(s.pairs), s.cfg.SettleOffset, s.cfg.MarketHoursOnly)
	wg.Wait()
	log.Printf("[scheduler] stopped")
}

func (s *Scheduler) loop(ctx context.Context, p Pair) {
	for ctx.Err() == nil {
		fire := s.nextFire(s.now(), p.Timeframe())
		select {
		case <-ctx.Done():
			return
		case <-s.after(fire.Sub(s.now())):
		}

		// No in-cycle retry: a failed pair waits for the next boundary.
		if _, err := p.Cycle(ctx, fire); err != nil {
			log.Printf("[scheduler] %s cycle at %s: %v", p.Pair(), fire.Format(time.RFC3339), err)
		}
	}
}

func (s *Scheduler) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.LogHealth()
		}
	}
}

// LogHealth logs one line per series and refreshes the position gauges.
func (s *Scheduler) LogHealth() {
	now := s.now()
	log.Printf("[health] %s", markethours.StatusString(now))
	for _, st := range s.status.Snapshot() {
		p := st.Position
		line := p.Key.String() + " " + string(p.Status)
		if p.IsOpen() {
			line += " @" + p.OpenPrice.Unwrap().String()
		}
		log.Printf("[health] %s trades=%d pnl=%s last_bar=%s (%s)%s",
			line, p.Trades, p.TotalPnL.StringFixed(4),
			st.LastBar.Format(time.RFC3339), st.Freshness(now), errSuffix(st.LastError))
	}
	if s.metrics != nil {
		s.metrics.OpenPositions.Set(float64(s.status.OpenCount()))
		state := 0.0
		if markethours.IsMarketOpen(now) {
			state = 1
		}
		s.metrics.MarketState.Set(state)
	}
}

func errSuffix(e string) string {
	if e == "" {
		return ""
	}
	return " last_error=" + e
}
