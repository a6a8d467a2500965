package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-engine/internal/model"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SYMBOLS", " aapl, msft ,")
	t.Setenv("TIMEFRAMES", "15m,5m,1h,5")
	t.Setenv("POLYGON_API_KEY", "k")
	t.Setenv("SETTLE_OFFSET", "10s")
	t.Setenv("MAX_BACKFILL", "oops")

	cfg := Load()
	assert.Equal(t, []string{"AAPL", "MSFT"}, cfg.Symbols)
	assert.Equal(t, 10*time.Second, cfg.SettleOffset)
	assert.Equal(t, 390, cfg.MaxBackfill, "invalid values fall back")
	assert.Equal(t, 7, cfg.Periods.Fast)
	assert.False(t, cfg.ExtendedHours)
	require.NoError(t, cfg.Validate())

	tfs, err := cfg.ParseTimeframes()
	require.NoError(t, err)
	assert.Equal(t, []model.Timeframe{5, 15, 60}, tfs)
}

func TestYAMLOverridesEnv(t *testing.T) {
	t.Setenv("SYMBOLS", "AAPL")
	t.Setenv("POLYGON_API_KEY", "k")

	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
symbols: [tsla, nvda]
timeframes: ["30m"]
settle_offset: 3s
extended_hours: true
periods:
  fast: 7
  slow: 17
  roc: 8
  macd_fast: 12
  macd_slow: 26
  macd_signal: 9
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"TSLA", "NVDA"}, cfg.Symbols)
	assert.Equal(t, []string{"30m"}, cfg.Timeframes)
	assert.Equal(t, 3*time.Second, cfg.SettleOffset)
	assert.True(t, cfg.ExtendedHours)
	assert.Equal(t, "k", cfg.PolygonAPIKey, "keys absent from the file keep env values")
	assert.NoError(t, cfg.Validate())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	t.Setenv("POLYGON_API_KEY", "k")

	for name, mutate := range map[string]func(*Config){
		"empty symbols":       func(c *Config) { c.Symbols = nil },
		"bad timeframe":       func(c *Config) { c.Timeframes = []string{"5x"} },
		"zero timeframe":      func(c *Config) { c.Timeframes = []string{"0m"} },
		"missing polygon key": func(c *Config) { c.PolygonAPIKey = "" },
		"unknown source":      func(c *Config) { c.BarSource = "iex" },
		"bad webhook":         func(c *Config) { c.WebhookURL = "not a url" },
		"telegram no chat":    func(c *Config) { c.TelegramToken = "t" },
		"bad periods":         func(c *Config) { c.Periods.MACDSlow = c.Periods.MACDFast },
		"bad log level":       func(c *Config) { c.LogLevel = "loud" },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := Load()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Load()
	cfg.Timeframes = []string{"1h", "30m", "5", "1h"}
	tfs, err := cfg.ParseTimeframes()
	require.NoError(t, err)
	assert.Equal(t, []model.Timeframe{5, 30, 60}, tfs, "sorted and de-duplicated")

	cfg.Timeframes = []string{" XM "}
	_, err = cfg.ParseTimeframes()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `" XM "`, "error quotes the configured value")

	cfg = Load()
	cfg.BarSource = "binance"
	cfg.PolygonAPIKey = ""
	assert.NoError(t, cfg.Validate(), "binance needs no key")
}
