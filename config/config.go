package config

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"signal-engine/internal/indicator"
	"signal-engine/internal/model"
)

// Config holds all application configuration. Environment variables give
// the defaults; an optional YAML file overrides them.
type Config struct {
	// Universe
	Symbols    []string `yaml:"symbols" validate:"required,min=1,dive,required"`
	Timeframes []string `yaml:"timeframes" validate:"required,min=1,dive,required"`

	// Bar source
	BarSource     string `yaml:"bar_source" validate:"oneof=polygon binance"`
	PolygonAPIKey string `yaml:"polygon_api_key" validate:"required_if=BarSource polygon"`
	ExtendedHours bool   `yaml:"extended_hours"` // keep pre/post-market equity bars

	// Infrastructure
	SQLitePath    string `yaml:"sqlite_path" validate:"required"`
	RedisAddr     string `yaml:"redis_addr"` // empty disables Redis
	RedisPassword string `yaml:"redis_password"`
	MetricsAddr   string `yaml:"metrics_addr" validate:"required"`

	// Scheduling
	SettleOffset    time.Duration `yaml:"settle_offset" validate:"gte=0"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout" validate:"gt=0"`
	MaxBackfill     int           `yaml:"max_backfill" validate:"gt=0"`
	HealthInterval  time.Duration `yaml:"health_interval" validate:"gt=0"`
	MarketHoursOnly bool          `yaml:"market_hours_only"`

	Periods indicator.Periods `yaml:"periods"`

	// Notifications
	NotifyQueue    int    `yaml:"notify_queue" validate:"gt=0"`
	WebhookURL     string `yaml:"webhook_url" validate:"omitempty,url"`
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id" validate:"required_with=TelegramToken"`

	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn warning error"`
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Symbols:    splitList(getEnv("SYMBOLS", "AAPL,MSFT,NVDA"), strings.ToUpper),
		Timeframes: splitList(getEnv("TIMEFRAMES", "5m,15m,30m,60m"), strings.ToLower),

		BarSource:     getEnv("BAR_SOURCE", "polygon"),
		PolygonAPIKey: getEnv("POLYGON_API_KEY", ""),
		ExtendedHours: getEnv("EXTENDED_HOURS", "false") == "true",

		SQLitePath:    getEnv("SQLITE_PATH", "data/signals.db"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		SettleOffset:    getDuration("SETTLE_OFFSET", 5*time.Second),
		FetchTimeout:    getDuration("FETCH_TIMEOUT", 30*time.Second),
		MaxBackfill:     getInt("MAX_BACKFILL", 390),
		HealthInterval:  getDuration("HEALTH_INTERVAL", 4*time.Minute),
		MarketHoursOnly: getEnv("MARKET_HOURS_ONLY", "true") == "true",

		Periods: indicator.DefaultPeriods(),

		NotifyQueue:    getInt("NOTIFY_QUEUE", 256),
		WebhookURL:     getEnv("WEBHOOK_URL", ""),
		TelegramToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID: getEnv("TELEGRAM_CHAT_ID", ""),

		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}
}

// LoadFile returns Load() overridden by the YAML file at path. Keys absent
// from the file keep their environment value.
func LoadFile(path string) (*Config, error) {
	cfg := Load()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	for i, s := range cfg.Symbols {
		cfg.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	log.Printf("[config] loaded %s", path)
	return cfg, nil
}

// Validate checks struct tags and that every timeframe parses.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	_, err := c.ParseTimeframes()
	return err
}

// ParseTimeframes converts Timeframes ("5m", "1h", "15") into sorted,
// de-duplicated timeframes.
func (c *Config) ParseTimeframes() ([]model.Timeframe, error) {
	seen := make(map[model.Timeframe]bool, len(c.Timeframes))
	tfs := make([]model.Timeframe, 0, len(c.Timeframes))
	for _, s := range c.Timeframes {
		tf, err := model.ParseTimeframe(s)
		if err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		if !seen[tf] {
			seen[tf] = true
			tfs = append(tfs, tf)
		}
	}
	sort.Slice(tfs, func(i, j int) bool { return tfs[i] < tfs[j] })
	return tfs, nil
}

func splitList(s string, norm func(string) string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, norm(p))
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
