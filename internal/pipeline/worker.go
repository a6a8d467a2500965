// Package pipeline runs one (symbol, timeframe) pair end to end: 1m bars
// in, aggregated bars, indicator snapshots and position transitions out.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"sort"
	"time"

	"signal-engine/internal/indicator"
	"signal-engine/internal/logger"
	"signal-engine/internal/marketdata/tfbuilder"
	"signal-engine/internal/metrics"
	"signal-engine/internal/model"
	"signal-engine/internal/series"
	"signal-engine/internal/strategy"
)

const (
	defaultFetchTimeout = 30 * time.Second
	defaultMaxBackfill  = 390 // one regular session of minutes
	maxGapRounds        = 3
)

// Config describes one pair.
type Config struct {
	Symbol    string
	Timeframe model.Timeframe
	Periods   indicator.Periods

	// FetchTimeout bounds each vendor call.
	FetchTimeout time.Duration
	// MaxBackfill caps the 1m bars requested by one gap backfill.
	MaxBackfill int
	// AllowGap accepts legitimate holes in the 1m series (closed market).
	// Nil means every minute must be present.
	AllowGap series.GapPolicy
}

// EventSink receives live transitions (notification.Dispatcher).
type EventSink interface {
	Enqueue(ev model.SignalEvent) bool
}

// StatusSink receives the per-series state after each batch
// (notification.Status).
type StatusSink interface {
	Update(pos model.Position, lastBar time.Time)
	SetError(key model.SeriesKey, err error)
}

// Deps are the collaborators of a worker. Only Source is required.
type Deps struct {
	Source    model.BarSource
	Writer    model.SeriesWriter
	Publisher model.StatusPublisher
	Events    EventSink
	Status    StatusSink
	Metrics   *metrics.Metrics
	Health    *metrics.HealthStatus
}

// Result summarizes one ingested batch.
type Result struct {
	Appended int                 // 1m bars accepted
	Skipped  int                 // duplicates, stale or malformed bars ignored
	Flat     int                 // flat bars synthesized for in-session holes
	Emitted  int                 // bars completed at the pair's timeframe
	Events   []model.SignalEvent // transitions, bootstrap ones included
}

func (r *Result) add(o Result) {
	r.Appended += o.Appended
	r.Skipped += o.Skipped
	r.Flat += o.Flat
	r.Emitted += o.Emitted
	r.Events = append(r.Events, o.Events...)
}

// Worker owns every series of one pair. All methods must be called from a
// single goroutine; other goroutines read state through the StatusSink.
type Worker struct {
	cfg  Config
	deps Deps
	pair string

	registry *series.Registry
	base     *series.Series
	regular  *series.Series
	inverse  *series.Series
	cascade  *tfbuilder.Cascade

	indicators *indicator.Engine
	strategy   *strategy.Engine

	now func() time.Time
}

// NewWorker validates cfg and builds the pair's series chain.
func NewWorker(cfg Config, deps Deps) (*Worker, error) {
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("pipeline: empty symbol")
	}
	if !cfg.Timeframe.Valid() {
		return nil, fmt.Errorf("pipeline: invalid timeframe %d", cfg.Timeframe)
	}
	if deps.Source == nil {
		return nil, fmt.Errorf("pipeline: nil bar source")
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.MaxBackfill <= 0 {
		cfg.MaxBackfill = defaultMaxBackfill
	}
	if cfg.Periods == (indicator.Periods{}) {
		cfg.Periods = indicator.DefaultPeriods()
	}

	key := func(tf model.Timeframe, d model.Direction) model.SeriesKey {
		return model.SeriesKey{Symbol: cfg.Symbol, Timeframe: tf, Direction: d}
	}

	reg := series.NewRegistry()
	w := &Worker{
		cfg:        cfg,
		deps:       deps,
		pair:       key(cfg.Timeframe, model.Regular).Pair(),
		registry:   reg,
		base:       reg.Ensure(key(model.Base, model.Regular), cfg.AllowGap),
		inverse:    reg.Ensure(key(cfg.Timeframe, model.Inverse), tfbuilder.DerivedGap),
		indicators: indicator.NewEngine(cfg.Periods),
		strategy:   strategy.NewEngine(),
		now:        time.Now,
	}

	// At 1m the regular series is the base itself.
	w.regular = reg.Ensure(key(cfg.Timeframe, model.Regular), tfbuilder.DerivedGap)
	levels := []*series.Series{w.base}
	if w.regular != w.base {
		levels = append(levels, w.regular)
	}
	c, err := tfbuilder.NewCascade(levels...)
	if err != nil {
		return nil, err
	}
	w.cascade = c
	if deps.Metrics != nil {
		c.OnBar = func(k model.SeriesKey, _ model.Bar) {
			deps.Metrics.BarsTotal.WithLabelValues(k.Timeframe.String()).Inc()
		}
	}

	// Both directions start CLOSED and are visible before the first bar.
	for _, d := range model.Directions {
		w.strategy.Machine(key(cfg.Timeframe, d))
	}
	return w, nil
}

// Pair returns "SYMBOL:Tm".
func (w *Worker) Pair() string { return w.pair }

// Timeframe returns the pair's timeframe.
func (w *Worker) Timeframe() model.Timeframe { return w.cfg.Timeframe }

// Series returns the pair's series for a direction.
func (w *Worker) Series(d model.Direction) *series.Series {
	s, ok := w.registry.Get(model.SeriesKey{Symbol: w.cfg.Symbol, Timeframe: w.cfg.Timeframe, Direction: d})
	if !ok {
		return w.regular
	}
	return s
}

// Base returns the 1m series the pair is built from.
func (w *Worker) Base() *series.Series { return w.base }

// Positions returns both positions, INVERSE first.
func (w *Worker) Positions() []model.Position { return w.strategy.Positions() }

// Restore overlays persisted positions after a replay and writes them
// back, since the replay already saved its own. Positions of other pairs
// are ignored. It returns how many positions were applied.
func (w *Worker) Restore(ctx context.Context, positions []model.Position) (int, error) {
	n := 0
	for _, p := range positions {
		if p.Key.Symbol != w.cfg.Symbol || p.Key.Timeframe != w.cfg.Timeframe {
			continue
		}
		cur := w.strategy.Machine(p.Key).Position()
		if !cur.Equal(p) {
			log.Printf("[pipeline] %s: persisted position differs from replay (replay=%s/%d, stored=%s/%d), using stored",
				p.Key, cur.Status, cur.Trades, p.Status, p.Trades)
		}
		if err := w.strategy.Restore(p); err != nil {
			return n, err
		}
		if w.deps.Writer != nil {
			w.checkPersist(w.deps.Writer.SavePosition(ctx, w.strategy.Machine(p.Key).Position()))
		}
		n++
	}
	w.publish(ctx, nil)
	return n, nil
}

// Bootstrap fetches history from since and ingests it silently: state is
// built exactly as live, but no notification is sent.
func (w *Worker) Bootstrap(ctx context.Context, since time.Time) (Result, error) {
	until := model.Base.Floor(w.now())
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(w.pair+":bootstrap", until))

	fetchCtx, cancel := context.WithTimeout(ctx, 4*w.cfg.FetchTimeout)
	bars, err := w.fetch(fetchCtx, since, until)
	cancel()
	if err != nil {
		return Result{}, err
	}

	res, err := w.Replay(ctx, bars)
	slog.InfoContext(ctx, "bootstrap complete",
		"pair", w.pair, "bars_1m", res.Appended, "bars_tf", res.Emitted,
		"flat", res.Flat, "transitions", len(res.Events))
	return res, err
}

// Replay ingests stored or fetched history in bootstrap mode. Holes the
// gap policy does not accept are filled with flat bars first.
func (w *Worker) Replay(ctx context.Context, bars []model.Bar) (Result, error) {
	sorted := sortBars(bars)
	var (
		patched []model.Bar
		flat    int
	)
	if last, ok := w.base.Last(); ok {
		patched, flat = w.patch(last, sorted, time.Time{})
	} else if len(sorted) > 0 {
		rest, n := w.patch(sorted[0], sorted[1:], time.Time{})
		patched, flat = append([]model.Bar{sorted[0]}, rest...), n
	}

	res, err := w.Ingest(ctx, patched, true)
	res.Flat += flat
	return res, err
}

// Cycle runs one scheduled update at now: fetch the newest complete
// minutes, backfill a hole if needed, then ingest. Once the fetch step has
// returned, ingestion completes even if ctx is cancelled.
func (w *Worker) Cycle(ctx context.Context, now time.Time) (Result, error) {
	boundary := w.cfg.Timeframe.Floor(now)
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(w.pair, boundary))
	until := model.Base.Floor(now)

	from := until.Add(-2 * w.cfg.Timeframe.Duration())
	if last, ok := w.base.LastPeriodStart(); ok && last.Add(time.Minute).After(from) {
		from = last.Add(time.Minute)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, w.cfg.FetchTimeout)
	bars, err := w.fetch(fetchCtx, from, until)
	cancel()
	if err != nil {
		w.fail(ctx, "fetch_error", err)
		return Result{}, err
	}

	// Past this point shutdown must not leave a half-applied batch.
	ingestCtx := context.WithoutCancel(ctx)

	var total Result
	res, err := w.Ingest(ingestCtx, bars, false)
	total.add(res)

	var gap *model.GapError
	for round := 0; errors.As(err, &gap); round++ {
		if w.deps.Metrics != nil {
			w.deps.Metrics.GapsTotal.Inc()
		}
		if round == maxGapRounds {
			break
		}
		var (
			filled []model.Bar
			flat   int
		)
		filled, flat, err = w.backfill(ctx, gap)
		total.Flat += flat
		if err != nil {
			break
		}
		res, err = w.Ingest(ingestCtx, append(filled, bars...), false)
		total.add(res)
	}

	if err != nil {
		w.fail(ingestCtx, "skipped", err)
		return total, err
	}

	if w.deps.Metrics != nil {
		w.deps.Metrics.CyclesTotal.WithLabelValues(w.cfg.Timeframe.String(), "ok").Inc()
	}
	slog.InfoContext(ctx, "cycle complete",
		"pair", w.pair, "bars_1m", total.Appended, "bars_tf", total.Emitted,
		"flat", total.Flat, "events", len(total.Events))
	return total, nil
}

// backfill fetches the 1m bars missing before gap.Got, at most MaxBackfill
// of them, and fills holes the vendor has no trades for. A hole larger than
// MaxBackfill is closed over several cycles: the partial fill is ingested
// and ErrDataGap is returned so this cycle is skipped.
func (w *Worker) backfill(ctx context.Context, gap *model.GapError) ([]model.Bar, int, error) {
	last, ok := w.base.Last()
	if !ok {
		return nil, 0, gap
	}
	from, to := gap.Expected, gap.Got
	partial := false
	if limit := from.Add(time.Duration(w.cfg.MaxBackfill) * time.Minute); limit.Before(to) {
		to, partial = limit, true
	}
	log.Printf("[pipeline] %s: backfilling %d missing minutes from %s",
		w.pair, gap.Missing(model.Base), from.Format(time.RFC3339))

	fetchCtx, cancel := context.WithTimeout(ctx, w.cfg.FetchTimeout)
	bars, err := w.fetch(fetchCtx, from, to)
	cancel()
	if err != nil {
		w.backfillResult("error")
		return nil, 0, fmt.Errorf("%w: backfill %s: %w", model.ErrDataGap, w.pair, err)
	}

	filled, flat := w.patch(last, sortBars(bars), to)
	if w.deps.Metrics != nil {
		w.deps.Metrics.FlatFilled.Add(float64(flat))
	}
	if !partial {
		w.backfillResult("ok")
		return filled, flat, nil
	}

	w.backfillResult("partial")
	if _, err := w.Ingest(context.WithoutCancel(ctx), filled, false); err != nil {
		return nil, flat, err
	}
	return nil, flat, fmt.Errorf("%w: %s backfill reached %s, %s still missing", model.ErrDataGap,
		w.pair, to.Format(time.RFC3339), gap.Got.Sub(to))
}

func (w *Worker) backfillResult(result string) {
	if w.deps.Metrics != nil {
		w.deps.Metrics.BackfillTotal.WithLabelValues(result).Inc()
	}
}

// patch returns bars (sorted, after prev) with a flat bar inserted for every
// missing minute the gap policy rejects, up to end when end is non-zero.
func (w *Worker) patch(prev model.Bar, bars []model.Bar, end time.Time) ([]model.Bar, int) {
	out := make([]model.Bar, 0, len(bars))
	flat := 0
	fill := func(next time.Time) {
		for ps := prev.PeriodStart.Add(time.Minute); ps.Before(next); ps = ps.Add(time.Minute) {
			if w.cfg.AllowGap != nil && w.cfg.AllowGap(model.Base, ps.Add(-time.Minute), ps.Add(time.Minute)) {
				continue
			}
			out = append(out, tfbuilder.Flat(prev, ps))
			flat++
		}
	}
	for _, b := range bars {
		if !b.PeriodStart.After(prev.PeriodStart) {
			continue
		}
		fill(b.PeriodStart)
		out = append(out, b)
		prev = b
	}
	if !end.IsZero() {
		fill(end)
	}
	return out, flat
}

// Ingest appends 1m bars in order and runs everything downstream of each:
// aggregation, inversion, indicators, state machines. Duplicates and
// already-covered bars are skipped, so re-ingesting a batch is a no-op.
// A hole returns *model.GapError after the bars before it were applied.
func (w *Worker) Ingest(ctx context.Context, bars []model.Bar, bootstrap bool) (Result, error) {
	var (
		res      Result
		newBase  []model.Bar
		newReg   []model.Bar
		newInv   []model.Bar
		firstErr error
	)

	for _, b := range sortBars(bars) {
		emitted, err := w.cascade.Push(b)
		if err != nil {
			switch {
			case errors.Is(err, model.ErrDuplicateBar), errors.Is(err, model.ErrOutOfOrder):
				res.Skipped++
				continue
			case errors.Is(err, model.ErrInvalidBar):
				log.Printf("[pipeline] %s: dropping bar: %v", w.pair, err)
				res.Skipped++
				continue
			}
			firstErr = err
			break
		}
		res.Appended++
		newBase = append(newBase, b)

		top := emitted[len(emitted)-1]
		for _, tb := range top {
			inv, err := model.Invert(tb)
			if err != nil {
				firstErr = err
				break
			}
			if err := w.inverse.Append(inv); err != nil {
				firstErr = err
				break
			}
			newReg = append(newReg, tb)
			newInv = append(newInv, inv)
			res.Emitted++

			evs, err := w.evaluate(bootstrap)
			res.Events = append(res.Events, evs...)
			if err != nil {
				firstErr = err
				break
			}
		}
		if firstErr != nil {
			break
		}
	}

	w.persist(ctx, newBase, newReg, newInv, res.Events)
	if len(newBase) > 0 {
		if w.deps.Health != nil {
			w.deps.Health.SetLastBarTime(newBase[len(newBase)-1].PeriodStart)
		}
		w.publish(ctx, res.Events)
	}
	w.dispatch(res.Events)
	return res, firstErr
}

// evaluate brings both directions' snapshots level with their bars and
// steps the state machines for the newest bar.
func (w *Worker) evaluate(bootstrap bool) ([]model.SignalEvent, error) {
	var events []model.SignalEvent
	for _, s := range []*series.Series{w.regular, w.inverse} {
		var start time.Time
		if w.deps.Metrics != nil {
			start = time.Now()
		}
		snaps, err := w.indicators.Update(s)
		if w.deps.Metrics != nil {
			w.deps.Metrics.IndicatorComputeDur.Observe(time.Since(start).Seconds())
		}
		if err != nil {
			return events, err
		}
		for _, snap := range snaps {
			i, _ := s.Index(snap.PeriodStart)
			ev, err := w.strategy.Step(s.Key(), s.BarAt(i), snap, bootstrap)
			if err != nil {
				return events, err
			}
			if ev != nil {
				events = append(events, *ev)
			}
		}
	}
	return events, nil
}

func (w *Worker) persist(ctx context.Context, base, reg, inv []model.Bar, events []model.SignalEvent) {
	wr := w.deps.Writer
	if wr == nil || (len(base) == 0 && len(events) == 0) {
		return
	}
	check := w.checkPersist

	if w.regular != w.base {
		check(wr.WriteBars(ctx, w.base.Key(), base, nil))
	}
	for _, out := range []struct {
		s    *series.Series
		bars []model.Bar
	}{{w.regular, reg}, {w.inverse, inv}} {
		if len(out.bars) == 0 {
			continue
		}
		check(wr.WriteBars(ctx, out.s.Key(), out.bars, w.snapshotsFor(out.s, out.bars)))
	}
	for _, ev := range events {
		check(wr.RecordEvent(ctx, ev))
	}
	if len(reg) > 0 {
		for _, p := range w.strategy.Positions() {
			check(wr.SavePosition(ctx, p))
		}
	}
}

// checkPersist logs a write failure. In-memory state stays authoritative.
func (w *Worker) checkPersist(err error) {
	if err == nil {
		return
	}
	if !errors.Is(err, model.ErrPersistence) {
		err = fmt.Errorf("%w: %w", model.ErrPersistence, err)
	}
	log.Printf("[pipeline] %s: %v", w.pair, err)
	if w.deps.Metrics != nil {
		w.deps.Metrics.PersistErrors.Inc()
	}
}

func (w *Worker) snapshotsFor(s *series.Series, bars []model.Bar) []model.IndicatorSnapshot {
	out := make([]model.IndicatorSnapshot, 0, len(bars))
	for _, b := range bars {
		i, ok := s.Index(b.PeriodStart)
		if !ok {
			break
		}
		snap, ok := s.SnapshotAt(i)
		if !ok {
			break
		}
		out = append(out, snap)
	}
	return out
}

func (w *Worker) publish(ctx context.Context, events []model.SignalEvent) {
	for _, p := range w.strategy.Positions() {
		var lastBar time.Time
		if ps, ok := w.Series(p.Key.Direction).LastPeriodStart(); ok {
			lastBar = ps
		}
		if w.deps.Status != nil {
			w.deps.Status.Update(p, lastBar)
		}
		if w.deps.Publisher != nil {
			w.deps.Publisher.PublishStatus(ctx, p, lastBar)
		}
	}
	if w.deps.Publisher == nil {
		return
	}
	for _, ev := range events {
		if !ev.Bootstrap {
			w.deps.Publisher.PublishEvent(ctx, ev)
		}
	}
}

func (w *Worker) dispatch(events []model.SignalEvent) {
	for _, ev := range events {
		if ev.Bootstrap {
			continue
		}
		log.Printf("[pipeline] %s %s at %s price=%s met=%d", ev.Key, ev.Action,
			ev.Time.Format(time.RFC3339), ev.Price, ev.ConditionsMet)
		if w.deps.Metrics != nil {
			w.deps.Metrics.SignalsTotal.WithLabelValues(string(ev.Action), string(ev.Key.Direction)).Inc()
		}
		if w.deps.Events != nil {
			w.deps.Events.Enqueue(ev)
		}
	}
}

func (w *Worker) fetch(ctx context.Context, since, until time.Time) ([]model.Bar, error) {
	if !since.Before(until) {
		return nil, nil
	}
	start := time.Now()
	bars, err := w.deps.Source.FetchBars(ctx, w.cfg.Symbol, since, until)
	if w.deps.Metrics != nil {
		w.deps.Metrics.FetchDur.Observe(time.Since(start).Seconds())
	}
	if w.deps.Health != nil {
		w.deps.Health.SetSourceOK(err == nil)
	}
	if err != nil && !errors.Is(err, model.ErrTransientFetch) {
		err = fmt.Errorf("%s %s: %w: %w", w.deps.Source.Name(), w.cfg.Symbol, model.ErrTransientFetch, err)
	}
	return bars, err
}

func (w *Worker) fail(ctx context.Context, result string, err error) {
	slog.WarnContext(ctx, "cycle failed", "pair", w.pair, "result", result, "err", err)
	if w.deps.Metrics != nil {
		w.deps.Metrics.CyclesTotal.WithLabelValues(w.cfg.Timeframe.String(), result).Inc()
	}
	if w.deps.Status != nil {
		for _, d := range model.Directions {
			w.deps.Status.SetError(w.Series(d).Key(), err)
		}
	}
}

func sortBars(bars []model.Bar) []model.Bar {
	if sort.SliceIsSorted(bars, func(i, j int) bool { return bars[i].PeriodStart.Before(bars[j].PeriodStart) }) {
		return bars
	}
	out := append([]model.Bar(nil), bars...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].PeriodStart.Before(out[j].PeriodStart) })
	return out
}
