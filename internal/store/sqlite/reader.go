package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"

	"signal-engine/internal/model"
)

// Reader provides read-only access to SQLite for replay, restart and export.
// It implements model.SeriesReader.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading. The schema is created
// when missing so a reader on a fresh database returns empty results.
func NewReader(dbPath string) (*Reader, error) {
	db, err := open(dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// Row is one stored bar with its snapshot, if one was written.
type Row struct {
	Bar      model.Bar
	Snapshot optional.Option[model.IndicatorSnapshot]
}

var barColumns = []string{"ts", "open", "high", "low", "close", "volume", "has_snap",
	"ema_fast", "vwma_slow", "ema_12", "ema_26", "macd_line", "macd_signal", "roc"}

func seriesWhere(key model.SeriesKey) sq.Eq {
	return sq.Eq{
		"symbol":    key.Symbol,
		"timeframe": int(key.Timeframe),
		"direction": string(key.Direction),
	}
}

// ReadRows returns stored rows of key with PeriodStart >= from, ascending.
func (r *Reader) ReadRows(ctx context.Context, key model.SeriesKey, from time.Time) ([]Row, error) {
	query, args, err := sq.Select(barColumns...).
		From("series_bars").
		Where(seriesWhere(key)).
		Where(sq.GtOrEq{"ts": from.Unix()}).
		OrderBy("ts ASC").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query series_bars: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			tsUnix     int64
			o, h, l, c string
			hasSnap    bool
			vals       [7]sql.NullString
			row        Row
		)
		if err := rows.Scan(&tsUnix, &o, &h, &l, &c, &row.Bar.Volume, &hasSnap,
			&vals[0], &vals[1], &vals[2], &vals[3], &vals[4], &vals[5], &vals[6]); err != nil {
			return nil, fmt.Errorf("sqlite scan series_bars: %w", err)
		}
		row.Bar.PeriodStart = time.Unix(tsUnix, 0).UTC()
		if row.Bar.Open, err = decimal.NewFromString(o); err != nil {
			return nil, fmt.Errorf("sqlite %s open at %d: %w", key, tsUnix, err)
		}
		if row.Bar.High, err = decimal.NewFromString(h); err != nil {
			return nil, fmt.Errorf("sqlite %s high at %d: %w", key, tsUnix, err)
		}
		if row.Bar.Low, err = decimal.NewFromString(l); err != nil {
			return nil, fmt.Errorf("sqlite %s low at %d: %w", key, tsUnix, err)
		}
		if row.Bar.Close, err = decimal.NewFromString(c); err != nil {
			return nil, fmt.Errorf("sqlite %s close at %d: %w", key, tsUnix, err)
		}
		if hasSnap {
			snap := model.IndicatorSnapshot{PeriodStart: row.Bar.PeriodStart}
			fields := []*model.Value{&snap.EMAFast, &snap.VWMASlow, &snap.EMA12, &snap.EMA26,
				&snap.MACDLine, &snap.MACDSignal, &snap.ROC}
			for i, f := range fields {
				if *f, err = parseNull(vals[i]); err != nil {
					return nil, fmt.Errorf("sqlite %s snapshot at %d: %w", key, tsUnix, err)
				}
			}
			row.Snapshot = optional.Some(snap)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ReadBars returns stored bars of key with PeriodStart >= from, ascending.
func (r *Reader) ReadBars(ctx context.Context, key model.SeriesKey, from time.Time) ([]model.Bar, error) {
	rows, err := r.ReadRows(ctx, key, from)
	if err != nil {
		return nil, err
	}
	bars := make([]model.Bar, len(rows))
	for i, row := range rows {
		bars[i] = row.Bar
	}
	return bars, nil
}

// LastPeriodStart returns the newest stored bar of key.
func (r *Reader) LastPeriodStart(ctx context.Context, key model.SeriesKey) (time.Time, bool, error) {
	query, args, err := sq.Select("MAX(ts)").From("series_bars").Where(seriesWhere(key)).ToSql()
	if err != nil {
		return time.Time{}, false, err
	}
	var ts sql.NullInt64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&ts); err != nil {
		return time.Time{}, false, fmt.Errorf("sqlite last bar %s: %w", key, err)
	}
	if !ts.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(ts.Int64, 0).UTC(), true, nil
}

// Keys lists every series with stored bars.
func (r *Reader) Keys(ctx context.Context) ([]model.SeriesKey, error) {
	query, args, err := sq.Select("DISTINCT symbol", "timeframe", "direction").
		From("series_bars").
		OrderBy("symbol", "timeframe", "direction").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query keys: %w", err)
	}
	defer rows.Close()

	var keys []model.SeriesKey
	for rows.Next() {
		var (
			k   model.SeriesKey
			tf  int
			dir string
		)
		if err := rows.Scan(&k.Symbol, &tf, &dir); err != nil {
			return nil, fmt.Errorf("sqlite scan keys: %w", err)
		}
		k.Timeframe = model.Timeframe(tf)
		if k.Direction, err = model.ParseDirection(dir); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// ReadPositions returns every persisted position.
func (r *Reader) ReadPositions(ctx context.Context) ([]model.Position, error) {
	query, args, err := sq.Select("symbol", "timeframe", "direction", "status", "open_price",
		"open_time", "total_pnl", "trades", "updated_at").
		From("positions").
		OrderBy("symbol", "timeframe", "direction").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query positions: %w", err)
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var (
			p         model.Position
			tf        int
			dir, stat string
			openPrice sql.NullString
			openTime  sql.NullInt64
			total     string
			updated   int64
		)
		if err := rows.Scan(&p.Key.Symbol, &tf, &dir, &stat, &openPrice, &openTime, &total,
			&p.Trades, &updated); err != nil {
			return nil, fmt.Errorf("sqlite scan positions: %w", err)
		}
		p.Key.Timeframe = model.Timeframe(tf)
		if p.Key.Direction, err = model.ParseDirection(dir); err != nil {
			return nil, err
		}
		p.Status = model.Status(stat)
		if p.OpenPrice, err = parseNull(openPrice); err != nil {
			return nil, fmt.Errorf("sqlite position %s: %w", p.Key, err)
		}
		p.OpenTime = nullTime(openTime)
		if p.TotalPnL, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("sqlite position %s: %w", p.Key, err)
		}
		if updated > 0 {
			p.UpdatedAt = time.Unix(updated, 0).UTC()
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ReadEvents returns the newest journal entries, newest first. A zero
// symbol matches every series; limit <= 0 means no limit.
func (r *Reader) ReadEvents(ctx context.Context, symbol string, limit int) ([]model.SignalEvent, error) {
	b := sq.Select("id", "symbol", "timeframe", "direction", "action", "ts", "price", "conditions_met",
		"open_price", "open_time", "pnl", "pnl_pct", "total_pnl", "bootstrap").
		From("signal_events").
		OrderBy("ts DESC", "direction", "action")
	if symbol != "" {
		b = b.Where(sq.Eq{"symbol": symbol})
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query signal_events: %w", err)
	}
	defer rows.Close()

	var out []model.SignalEvent
	for rows.Next() {
		var (
			ev                    model.SignalEvent
			id, dir, action       string
			tf                    int
			ts                    int64
			price, total          string
			openPrice, pnl, pnlPc sql.NullString
			openTime              sql.NullInt64
		)
		if err := rows.Scan(&id, &ev.Key.Symbol, &tf, &dir, &action, &ts, &price, &ev.ConditionsMet,
			&openPrice, &openTime, &pnl, &pnlPc, &total, &ev.Bootstrap); err != nil {
			return nil, fmt.Errorf("sqlite scan signal_events: %w", err)
		}
		if ev.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("sqlite event id %q: %w", id, err)
		}
		ev.Key.Timeframe = model.Timeframe(tf)
		if ev.Key.Direction, err = model.ParseDirection(dir); err != nil {
			return nil, err
		}
		ev.Action = model.Action(action)
		ev.Time = time.Unix(ts, 0).UTC()
		if ev.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("sqlite event %s: %w", id, err)
		}
		if ev.TotalPnL, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("sqlite event %s: %w", id, err)
		}
		for _, f := range []struct {
			dst *model.Value
			src sql.NullString
		}{{&ev.OpenPrice, openPrice}, {&ev.PnL, pnl}, {&ev.PnLPct, pnlPc}} {
			if *f.dst, err = parseNull(f.src); err != nil {
				return nil, fmt.Errorf("sqlite event %s: %w", id, err)
			}
		}
		ev.OpenTime = nullTime(openTime)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}

func parseNull(s sql.NullString) (model.Value, error) {
	if !s.Valid {
		return model.Undefined(), nil
	}
	return model.ParseValue(s.String)
}

func nullTime(v sql.NullInt64) optional.Option[time.Time] {
	if !v.Valid {
		return optional.None[time.Time]()
	}
	return optional.Some(time.Unix(v.Int64, 0).UTC())
}
