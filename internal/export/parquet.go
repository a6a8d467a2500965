// Package export writes stored series to parquet files for offline analysis.
package export

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"signal-engine/internal/model"
	"signal-engine/internal/store/sqlite"
)

// Row is one bar with its indicator readings. Decimals are strings so no
// precision is lost; an empty string is an undefined reading.
type Row struct {
	Symbol      string `parquet:"symbol"`
	Timeframe   int32  `parquet:"timeframe"`
	Direction   string `parquet:"direction"`
	PeriodStart int64  `parquet:"period_start"` // Unix milliseconds, UTC
	Open        string `parquet:"open"`
	High        string `parquet:"high"`
	Low         string `parquet:"low"`
	Close       string `parquet:"close"`
	Volume      int64  `parquet:"volume"`
	EMAFast     string `parquet:"ema_fast"`
	VWMASlow    string `parquet:"vwma_slow"`
	EMA12       string `parquet:"ema_12"`
	EMA26       string `parquet:"ema_26"`
	MACDLine    string `parquet:"macd_line"`
	MACDSignal  string `parquet:"macd_signal"`
	ROC         string `parquet:"roc"`
}

// FileName returns "{symbol}_{tf}_{direction}.parquet".
func FileName(key model.SeriesKey) string {
	return fmt.Sprintf("%s_%s_%s.parquet", key.Symbol, key.Timeframe, key.Direction)
}

// ParquetExporter writes one file per series.
type ParquetExporter struct{}

// Export writes bars of key with their snapshots (matched by period start)
// to dir/FileName(key) and returns the path.
func (ParquetExporter) Export(dir string, key model.SeriesKey, bars []model.Bar, snaps []model.IndicatorSnapshot) (string, error) {
	byStart := make(map[int64]model.IndicatorSnapshot, len(snaps))
	for _, s := range snaps {
		byStart[s.PeriodStart.Unix()] = s
	}

	rows := make([]Row, len(bars))
	for i, b := range bars {
		r := Row{
			Symbol:      key.Symbol,
			Timeframe:   int32(key.Timeframe),
			Direction:   string(key.Direction),
			PeriodStart: b.PeriodStart.UnixMilli(),
			Open:        b.Open.String(),
			High:        b.High.String(),
			Low:         b.Low.String(),
			Close:       b.Close.String(),
			Volume:      b.Volume,
		}
		if s, ok := byStart[b.PeriodStart.Unix()]; ok {
			r.EMAFast = model.ValueString(s.EMAFast)
			r.VWMASlow = model.ValueString(s.VWMASlow)
			r.EMA12 = model.ValueString(s.EMA12)
			r.EMA26 = model.ValueString(s.EMA26)
			r.MACDLine = model.ValueString(s.MACDLine)
			r.MACDSignal = model.ValueString(s.MACDSignal)
			r.ROC = model.ValueString(s.ROC)
		}
		rows[i] = r
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("export: %w", err)
	}
	path := filepath.Join(dir, FileName(key))
	if err := parquet.WriteFile(path, rows); err != nil {
		return "", fmt.Errorf("export %s: %w", key, err)
	}
	return path, nil
}

// ExportStore exports every stored series matching filter (nil: all)
// from r into dir. It returns the written paths.
func (e ParquetExporter) ExportStore(ctx context.Context, r *sqlite.Reader, dir string, filter func(model.SeriesKey) bool) ([]string, error) {
	keys, err := r.Keys(ctx)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, key := range keys {
		if filter != nil && !filter(key) {
			continue
		}
		rows, err := r.ReadRows(ctx, key, time.Time{})
		if err != nil {
			return paths, err
		}
		bars := make([]model.Bar, len(rows))
		snaps := make([]model.IndicatorSnapshot, 0, len(rows))
		for i, row := range rows {
			bars[i] = row.Bar
			if row.Snapshot.IsSome() {
				snaps = append(snaps, row.Snapshot.Unwrap())
			}
		}
		path, err := e.Export(dir, key, bars, snaps)
		if err != nil {
			return paths, err
		}
		log.Printf("[export] %s: %d rows -> %s", key, len(rows), path)
		paths = append(paths, path)
	}
	return paths, nil
}
