package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"signal-engine/internal/model"
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/signals.db"
}

// Writer persists bars, snapshots, positions and the event journal.
// It implements model.SeriesWriter. Every write is a single transaction,
// and re-writing the same rows is a no-op, so replays are safe.
type Writer struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	return db, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS series_bars (
			symbol      TEXT    NOT NULL,
			timeframe   INTEGER NOT NULL,
			direction   TEXT    NOT NULL,
			ts          INTEGER NOT NULL,
			open        TEXT    NOT NULL,
			high        TEXT    NOT NULL,
			low         TEXT    NOT NULL,
			close       TEXT    NOT NULL,
			volume      INTEGER NOT NULL,
			has_snap    INTEGER NOT NULL DEFAULT 0,
			ema_fast    TEXT,
			vwma_slow   TEXT,
			ema_12      TEXT,
			ema_26      TEXT,
			macd_line   TEXT,
			macd_signal TEXT,
			roc         TEXT,
			PRIMARY KEY (symbol, timeframe, direction, ts)
		);

		CREATE TABLE IF NOT EXISTS positions (
			symbol     TEXT    NOT NULL,
			timeframe  INTEGER NOT NULL,
			direction  TEXT    NOT NULL,
			status     TEXT    NOT NULL,
			open_price TEXT,
			open_time  INTEGER,
			total_pnl  TEXT    NOT NULL,
			trades     INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (symbol, timeframe, direction)
		);

		CREATE TABLE IF NOT EXISTS signal_events (
			id             TEXT    PRIMARY KEY,
			symbol         TEXT    NOT NULL,
			timeframe      INTEGER NOT NULL,
			direction      TEXT    NOT NULL,
			action         TEXT    NOT NULL,
			ts             INTEGER NOT NULL,
			price          TEXT    NOT NULL,
			conditions_met INTEGER NOT NULL,
			open_price     TEXT,
			open_time      INTEGER,
			pnl            TEXT,
			pnl_pct        TEXT,
			total_pnl      TEXT    NOT NULL,
			bootstrap      INTEGER NOT NULL,
			UNIQUE (symbol, timeframe, direction, action, ts)
		);
	`)
	return err
}

// WriteBars inserts bars of key with their index-aligned snapshots (snaps
// may be shorter than bars, or nil for the 1m base series). Rows that
// already exist are kept; a snapshot is attached to a stored bar that had
// none.
func (w *Writer) WriteBars(ctx context.Context, key model.SeriesKey, bars []model.Bar, snaps []model.IndicatorSnapshot) error {
	if len(bars) == 0 {
		return nil
	}
	start := time.Now()
	err := w.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO series_bars (symbol, timeframe, direction, ts, open, high, low, close, volume,
				has_snap, ema_fast, vwma_slow, ema_12, ema_26, macd_line, macd_signal, roc)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (symbol, timeframe, direction, ts) DO UPDATE SET
				has_snap = 1, ema_fast = excluded.ema_fast, vwma_slow = excluded.vwma_slow,
				ema_12 = excluded.ema_12, ema_26 = excluded.ema_26, macd_line = excluded.macd_line,
				macd_signal = excluded.macd_signal, roc = excluded.roc
			WHERE series_bars.has_snap = 0 AND excluded.has_snap = 1
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, b := range bars {
			args := []any{key.Symbol, int(key.Timeframe), string(key.Direction), b.PeriodStart.Unix(),
				b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(), b.Volume}
			if i < len(snaps) && snaps[i].PeriodStart.Equal(b.PeriodStart) {
				args = append(args, 1)
				for _, v := range snaps[i].Values() {
					args = append(args, nullValue(v))
				}
			} else {
				args = append(args, 0, nil, nil, nil, nil, nil, nil, nil)
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: sqlite write %d bars of %s: %w", model.ErrPersistence, len(bars), key, err)
	}
	if d := time.Since(start); d > 100*time.Millisecond {
		log.Printf("[sqlite] committed %d bars of %s in %v", len(bars), key, d)
	}
	return nil
}

// SavePosition upserts the position row of its series.
func (w *Writer) SavePosition(ctx context.Context, pos model.Position) error {
	var openTime any
	if pos.OpenTime.IsSome() {
		openTime = pos.OpenTime.Unwrap().Unix()
	}
	_, err := w.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO positions
			(symbol, timeframe, direction, status, open_price, open_time, total_pnl, trades, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, pos.Key.Symbol, int(pos.Key.Timeframe), string(pos.Key.Direction), string(pos.Status),
		nullValue(pos.OpenPrice), openTime, pos.TotalPnL.String(), pos.Trades, pos.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("%w: sqlite save position %s: %w", model.ErrPersistence, pos.Key, err)
	}
	return nil
}

// RecordEvent appends ev to the journal. An event for the same series,
// action and bar is recorded once.
func (w *Writer) RecordEvent(ctx context.Context, ev model.SignalEvent) error {
	var openTime any
	if ev.OpenTime.IsSome() {
		openTime = ev.OpenTime.Unwrap().Unix()
	}
	_, err := w.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO signal_events
			(id, symbol, timeframe, direction, action, ts, price, conditions_met,
			 open_price, open_time, pnl, pnl_pct, total_pnl, bootstrap)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID.String(), ev.Key.Symbol, int(ev.Key.Timeframe), string(ev.Key.Direction), string(ev.Action),
		ev.Time.Unix(), ev.Price.String(), ev.ConditionsMet,
		nullValue(ev.OpenPrice), openTime, nullValue(ev.PnL), nullValue(ev.PnLPct),
		ev.TotalPnL.String(), ev.Bootstrap)
	if err != nil {
		return fmt.Errorf("%w: sqlite record event %s %s: %w", model.ErrPersistence, ev.Key, ev.Action, err)
	}
	return nil
}

func (w *Writer) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}

func nullValue(v model.Value) sql.NullString {
	if v.IsNone() {
		return sql.NullString{}
	}
	return sql.NullString{String: v.Unwrap().String(), Valid: true}
}
