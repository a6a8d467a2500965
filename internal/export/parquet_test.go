package export

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-engine/internal/model"
	"signal-engine/internal/store/sqlite"
)

var (
	t0  = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)
	key = model.SeriesKey{Symbol: "AAPL", Timeframe: 5, Direction: model.Inverse}
)

func bars() []model.Bar {
	p := decimal.RequireFromString("0.0053404539385847797062750334")
	return []model.Bar{
		{PeriodStart: t0, Open: p, High: p, Low: p, Close: p, Volume: 10},
		{PeriodStart: t0.Add(5 * time.Minute), Open: p, High: p, Low: p, Close: p, Volume: 0},
	}
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "AAPL_5m_INVERSE.parquet", FileName(key))
}

func TestExportKeepsPrecisionAndUndefined(t *testing.T) {
	dir := t.TempDir()
	snap := model.IndicatorSnapshot{
		PeriodStart: t0.Add(5 * time.Minute),
		EMAFast:     model.Defined(decimal.RequireFromString("0.0053404539385847797062750334")),
		VWMASlow:    model.Undefined(),
		EMA12:       model.Undefined(),
		EMA26:       model.Undefined(),
		MACDLine:    model.Undefined(),
		MACDSignal:  model.Undefined(),
		ROC:         model.Defined(decimal.Zero),
	}

	path, err := ParquetExporter{}.Export(dir, key, bars(), []model.IndicatorSnapshot{snap})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "AAPL_5m_INVERSE.parquet"), path)

	rows, err := parquet.ReadFile[Row](path)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "AAPL", rows[0].Symbol)
	assert.Equal(t, int32(5), rows[0].Timeframe)
	assert.Equal(t, "INVERSE", rows[0].Direction)
	assert.Equal(t, t0.UnixMilli(), rows[0].PeriodStart)
	assert.Equal(t, "0.0053404539385847797062750334", rows[0].Close)
	assert.Empty(t, rows[0].EMAFast, "bar without snapshot")

	assert.Equal(t, "0.0053404539385847797062750334", rows[1].EMAFast)
	assert.Empty(t, rows[1].VWMASlow, "undefined reading")
	assert.Equal(t, "0", rows[1].ROC)
}

func TestExportStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "signals.db")
	w, err := sqlite.New(sqlite.WriterConfig{DBPath: dbPath})
	require.NoError(t, err)
	defer w.Close()
	r, err := sqlite.NewReader(dbPath)
	require.NoError(t, err)
	defer r.Close()

	ctx := context.Background()
	require.NoError(t, w.WriteBars(ctx, key, bars(), nil))
	other := model.SeriesKey{Symbol: "MSFT", Timeframe: 5, Direction: model.Regular}
	require.NoError(t, w.WriteBars(ctx, other, bars()[:1], nil))

	out := t.TempDir()
	paths, err := ParquetExporter{}.ExportStore(ctx, r, out, func(k model.SeriesKey) bool { return k.Symbol == "AAPL" })
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(out, "AAPL_5m_INVERSE.parquet")}, paths)

	rows, err := parquet.ReadFile[Row](paths[0])
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
