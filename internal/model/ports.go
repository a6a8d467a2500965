package model

import (
	"context"
	"time"
)

// ── Port Interfaces ──
// These interfaces decouple the pipeline from concrete collaborators
// (bar vendors, SQLite, Redis). Each adapter satisfies one or more of them.

// BarSource fetches complete 1-minute bars for a symbol.
type BarSource interface {
	// Name identifies the vendor in logs and metrics.
	Name() string

	// FetchBars returns bars with since <= PeriodStart and
	// PeriodStart+1m <= until, ordered ascending. Still-forming periods are
	// excluded. Failures wrap ErrTransientFetch (or ErrAuthExpired).
	FetchBars(ctx context.Context, symbol string, since, until time.Time) ([]Bar, error)
}

// SeriesWriter persists pipeline output. Implementations wrap failures
// with ErrPersistence.
type SeriesWriter interface {
	// WriteBars appends bars and their index-aligned snapshots.
	WriteBars(ctx context.Context, key SeriesKey, bars []Bar, snaps []IndicatorSnapshot) error

	// SavePosition upserts the position row of its series.
	SavePosition(ctx context.Context, pos Position) error

	// RecordEvent appends a signal event to the journal.
	RecordEvent(ctx context.Context, ev SignalEvent) error
}

// SeriesReader loads persisted state for restart and replay.
type SeriesReader interface {
	// ReadBars returns stored bars of key with PeriodStart >= from, ascending.
	ReadBars(ctx context.Context, key SeriesKey, from time.Time) ([]Bar, error)

	// ReadPositions returns every persisted position.
	ReadPositions(ctx context.Context) ([]Position, error)
}

// StatusPublisher mirrors live state to a cache for external dashboards.
// Publishing is best effort and never returns an error to the pipeline.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, pos Position, lastBar time.Time)
	PublishEvent(ctx context.Context, ev SignalEvent)
}
