package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the signal engine.
type Metrics struct {
	// Scheduler / pipeline
	CyclesTotal   *prometheus.CounterVec // labels: tf, result
	FetchDur      prometheus.Histogram
	BarsTotal     *prometheus.CounterVec // labels: tf
	GapsTotal     prometheus.Counter
	BackfillTotal *prometheus.CounterVec // labels: result
	FlatFilled    prometheus.Counter

	// Indicator engine
	IndicatorComputeDur prometheus.Histogram

	// Signals
	SignalsTotal  *prometheus.CounterVec // labels: action, direction
	OpenPositions prometheus.Gauge

	// Sinks
	PersistErrors prometheus.Counter
	NotifyDrops   prometheus.Counter
	NotifyErrors  prometheus.Counter

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisSkippedWrites       prometheus.Counter

	// Market session
	MarketState prometheus.Gauge // 0=closed, 1=open
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg leaves them unregistered (tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_cycles_total",
			Help: "Scheduled update cycles by timeframe and result",
		}, []string{"tf", "result"}),
		FetchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalengine_fetch_duration_seconds",
			Help:    "Bar source fetch latency",
			Buckets: prometheus.DefBuckets,
		}),
		BarsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_bars_total",
			Help: "Bars appended (by timeframe)",
		}, []string{"tf"}),
		GapsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_gaps_total",
			Help: "Fetched batches not contiguous with stored history",
		}),
		BackfillTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_backfills_total",
			Help: "Gap backfill attempts by result",
		}, []string{"result"}),
		FlatFilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_flat_filled_bars_total",
			Help: "Zero-volume bars synthesized for minutes the vendor has no trades for",
		}),

		IndicatorComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalengine_indicator_compute_duration_seconds",
			Help:    "Indicator engine compute latency per series update",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),

		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_signals_total",
			Help: "Position transitions by action and direction (live only)",
		}, []string{"action", "direction"}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalengine_open_positions",
			Help: "Series currently in the OPEN state",
		}),

		PersistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_persist_errors_total",
			Help: "Failed SQLite writes",
		}),
		NotifyDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_notify_drops_total",
			Help: "Signal events dropped because the dispatch queue was full",
		}),
		NotifyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_notify_errors_total",
			Help: "Failed alert deliveries",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalengine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisSkippedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_redis_skipped_writes_total",
			Help: "Status writes skipped while the Redis circuit breaker was open",
		}),

		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalengine_market_state",
			Help: "US equity session state (0=closed, 1=open)",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.CyclesTotal,
			m.FetchDur,
			m.BarsTotal,
			m.GapsTotal,
			m.BackfillTotal,
			m.FlatFilled,
			m.IndicatorComputeDur,
			m.SignalsTotal,
			m.OpenPositions,
			m.PersistErrors,
			m.NotifyDrops,
			m.NotifyErrors,
			m.RedisCircuitBreakerState,
			m.RedisCircuitBreakerTrips,
			m.RedisSkippedWrites,
			m.MarketState,
		)
	}

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	Source         string    `json:"source"`
	SourceOK       bool      `json:"source_ok"`
	LastBarTime    time.Time `json:"last_bar_time"`
	RedisEnabled   bool      `json:"redis_enabled"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	Symbols        []string  `json:"symbols"`
	Timeframes     []string  `json:"timeframes"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetSource(name string) {
	h.mu.Lock()
	h.Source = name
	h.mu.Unlock()
}

// SetSourceOK records the outcome of the latest fetch.
func (h *HealthStatus) SetSourceOK(v bool) {
	h.mu.Lock()
	h.SourceOK = v
	h.mu.Unlock()
}

// SetLastBarTime keeps the newest bar period start seen across all pairs.
func (h *HealthStatus) SetLastBarTime(t time.Time) {
	h.mu.Lock()
	if t.After(h.LastBarTime) {
		h.LastBarTime = t
	}
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisEnabled(v bool) {
	h.mu.Lock()
	h.RedisEnabled = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetUniverse(symbols, tfs []string) {
	h.mu.Lock()
	h.Symbols = symbols
	h.Timeframes = tfs
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Either client may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// Overall returns "healthy", "degraded" or "unhealthy".
func (h *HealthStatus) Overall() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.overallLocked()
}

func (h *HealthStatus) overallLocked() string {
	redisDown := h.RedisEnabled && !h.RedisConnected
	switch {
	case !h.SQLiteOK && !h.SourceOK:
		return "unhealthy"
	case !h.SQLiteOK || !h.SourceOK || redisDown:
		return "degraded"
	}
	return "healthy"
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := h.overallLocked()
	httpCode := http.StatusOK
	if overallStatus != "healthy" {
		httpCode = http.StatusServiceUnavailable
	}

	barAge := ""
	if !h.LastBarTime.IsZero() {
		barAge = time.Since(h.LastBarTime).Round(time.Second).String()
	}

	status := struct {
		Status          string   `json:"status"`
		Uptime          string   `json:"uptime"`
		Source          string   `json:"source"`
		SourceOK        bool     `json:"source_ok"`
		LastBarTime     string   `json:"last_bar_time"`
		BarAge          string   `json:"bar_age"`
		RedisEnabled    bool     `json:"redis_enabled"`
		RedisConnected  bool     `json:"redis_connected"`
		RedisLatencyMs  float64  `json:"redis_latency_ms"`
		SQLiteOK        bool     `json:"sqlite_ok"`
		SQLiteLatencyMs float64  `json:"sqlite_latency_ms"`
		Symbols         []string `json:"symbols"`
		Timeframes      []string `json:"timeframes"`
		LastCheckAt     string   `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		Source:          h.Source,
		SourceOK:        h.SourceOK,
		LastBarTime:     h.LastBarTime.Format(time.RFC3339),
		BarAge:          barAge,
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		Symbols:         h.Symbols,
		Timeframes:      h.Timeframes,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs the HTTP server exposing /metrics, /healthz and the API.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates the metrics and health server. api, when non-nil,
// serves every other path.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer, api http.Handler) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)
	if api != nil {
		mux.Handle("/", api)
	}

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler exposes the mux (tests).
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
