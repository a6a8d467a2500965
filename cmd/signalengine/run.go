package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v3"

	"signal-engine/config"
	"signal-engine/internal/api"
	"signal-engine/internal/gateway"
	"signal-engine/internal/logger"
	"signal-engine/internal/markethours"
	"signal-engine/internal/metrics"
	"signal-engine/internal/model"
	"signal-engine/internal/notification"
	"signal-engine/internal/pipeline"
	"signal-engine/internal/scheduler"
	"signal-engine/internal/source"
	redisstore "signal-engine/internal/store/redis"
	sqlitestore "signal-engine/internal/store/sqlite"
)

const replayBufferSize = 512

// loadConfig reads env + optional YAML, validates, and installs the logger.
func loadConfig(cmd *cli.Command, service string) (*config.Config, []model.Timeframe, error) {
	cfg, err := config.LoadFile(cmd.String("config"))
	if err != nil {
		return nil, nil, err
	}
	if lvl := cmd.String("log-level"); lvl != "" {
		cfg.LogLevel = strings.ToLower(lvl)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	logger.Init(service, level)

	tfs, err := cfg.ParseTimeframes()
	return cfg, tfs, err
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	cfg, tfs, err := loadConfig(cmd, "signalengine")
	if err != nil {
		return err
	}
	log.Println("[signalengine] starting...")

	// ---- Metrics & health ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := metrics.NewMetrics(reg)
	health := metrics.NewHealthStatus()

	tfNames := make([]string, len(tfs))
	for i, tf := range tfs {
		tfNames[i] = tf.String()
	}
	health.SetUniverse(cfg.Symbols, tfNames)

	// ---- Bar source ----
	src, err := source.New(cfg.BarSource, cfg.PolygonAPIKey, cfg.ExtendedHours)
	if err != nil {
		return err
	}
	health.SetSource(src.Name())

	// ---- Setup context for graceful shutdown ----
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			log.Println("[signalengine] shutdown signal received, cleaning up...")
			cancel()
		case <-ctx.Done():
		}
	}()

	// ---- SQLite (bars, positions, journal) ----
	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		return fmt.Errorf("sqlite init failed: %w", err)
	}
	defer sqlWriter.Close()
	reader, err := sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("sqlite reader init failed: %w", err)
	}
	defer reader.Close()
	health.SetSQLiteOK(true)
	log.Println("[signalengine] sqlite ready")

	// ---- Live state publishers: websocket hub, optional Redis ----
	hub := gateway.NewHub(replayBufferSize)
	publishers := pipeline.Publishers{hub}

	var redisWriter *redisstore.Writer
	if cfg.RedisAddr != "" {
		redisWriter, err = redisstore.New(redisstore.WriterConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		}, prom)
		if err != nil {
			log.Printf("[signalengine] WARNING: redis init failed: %v (continuing without redis)", err)
		} else {
			publishers = append(publishers, redisWriter)
			health.SetRedisEnabled(true)
			log.Println("[signalengine] redis writer ready")
		}
	}
	if redisWriter != nil {
		health.StartLivenessChecker(ctx, redisWriter.Client(), sqlWriter.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, sqlWriter.DB(), 10*time.Second)
	}

	// ---- Notifications ----
	dispatcher := notification.NewDispatcher(cfg.NotifyQueue, notification.NewLogNotifier())
	if cfg.TelegramToken != "" {
		dispatcher.Add(notification.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.WebhookURL != "" {
		dispatcher.Add(notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	dispatcher.OnDrop = func(model.SignalEvent) { prom.NotifyDrops.Inc() }
	dispatcher.OnError = func(error) { prom.NotifyErrors.Inc() }

	// Cycles past their fetch still finish after shutdown starts, so the
	// dispatcher outlives the scheduler.
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	defer stopDispatch()
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		dispatcher.Run(dispatchCtx)
	}()

	// ---- HTTP: /metrics, /healthz, REST API, websocket stream ----
	status := notification.NewStatus()
	router := api.NewRouter(api.Deps{Status: status, Events: reader, Stream: hub})
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, reg, router)
	metricsSrv.Start()

	// ---- Workers: restore or bootstrap each pair ----
	stored, err := reader.ReadPositions(ctx)
	if err != nil {
		return err
	}
	deps := pipeline.Deps{
		Source:    src,
		Writer:    sqlWriter,
		Publisher: publishers,
		Events:    dispatcher,
		Status:    status,
		Metrics:   prom,
		Health:    health,
	}
	since := markethours.PreviousTradingDayOpen(time.Now())

	var pairs []scheduler.Pair
	for _, sym := range cfg.Symbols {
		for _, tf := range tfs {
			w, err := pipeline.NewWorker(workerConfig(cfg, sym, tf), deps)
			if err != nil {
				return err
			}
			if err := warm(ctx, w, reader, stored, since); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%s: %w", w.Pair(), err)
			}
			pairs = append(pairs, w)
		}
	}
	health.SetSourceOK(true)

	sched := scheduler.New(scheduler.Config{
		SettleOffset:    cfg.SettleOffset,
		HealthInterval:  cfg.HealthInterval,
		MarketHoursOnly: cfg.MarketHoursOnly,
	}, pairs, status, prom)

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(ctx)
	}()

	log.Println("[signalengine] ╔════════════════════════════════════════════════════════════════╗")
	log.Println("[signalengine] ║  Signal Engine                                                 ║")
	log.Println("[signalengine] ║                                                                ║")
	log.Println("[signalengine] ║  [1m bars] → [TF Builder] → [Indicators] → [Positions]         ║")
	log.Printf("[signalengine] ║  Symbols: %-52s ║", strings.Join(cfg.Symbols, ","))
	log.Printf("[signalengine] ║  TFs: %-56s ║", strings.Join(tfNames, ","))
	log.Printf("[signalengine] ║  Source: %-53s ║", src.Name())
	log.Printf("[signalengine] ║  HTTP: %-55s ║", cfg.MetricsAddr)
	log.Println("[signalengine] ╚════════════════════════════════════════════════════════════════╝")
	log.Printf("[signalengine] %s", markethours.StatusString(time.Now()))

	// ---- Wait for shutdown signal ----
	<-ctx.Done()
	<-schedDone
	stopDispatch()
	<-dispatchDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	if redisWriter != nil {
		redisWriter.Close()
	}

	log.Println("[signalengine] shutdown complete.")
	return nil
}

func workerConfig(cfg *config.Config, symbol string, tf model.Timeframe) pipeline.Config {
	return pipeline.Config{
		Symbol:       symbol,
		Timeframe:    tf,
		Periods:      cfg.Periods,
		FetchTimeout: cfg.FetchTimeout,
		MaxBackfill:  cfg.MaxBackfill,
		AllowGap:     markethours.SessionGap,
	}
}

// warm rebuilds a worker before live cycles start. Stored 1m bars are
// replayed and persisted positions overlaid; the rest up to now is fetched
// in bootstrap mode, so nothing here reaches a notifier.
func warm(ctx context.Context, w *pipeline.Worker, r *sqlitestore.Reader, positions []model.Position, since time.Time) error {
	baseKey := model.SeriesKey{Symbol: w.Base().Key().Symbol, Timeframe: model.Base, Direction: model.Regular}
	bars, err := r.ReadBars(ctx, baseKey, since)
	if err != nil {
		return err
	}

	from := since
	if len(bars) > 0 {
		res, err := w.Replay(ctx, bars)
		if err != nil {
			return err
		}
		n, err := w.Restore(ctx, positions)
		if err != nil {
			return err
		}
		log.Printf("[signalengine] %s replayed %d stored bars (%d flat), restored %d positions",
			w.Pair(), res.Appended, res.Flat, n)
		from = bars[len(bars)-1].PeriodStart.Add(model.Base.Duration())
	} else if _, err := w.Restore(ctx, positions); err != nil {
		return err
	}

	_, err = w.Bootstrap(ctx, from)
	if errors.Is(err, model.ErrTransientFetch) {
		log.Printf("[signalengine] WARNING: %s bootstrap fetch failed: %v (live cycles will backfill)", w.Pair(), err)
		return nil
	}
	return err
}
