// Package redis mirrors live signal state to Redis for dashboards:
// the latest status of each series under a TTL key, the event journal as a
// capped stream, and both on a per-symbol pub/sub channel. Redis is a
// best-effort sink; failures never reach the pipeline.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"signal-engine/internal/metrics"
	"signal-engine/internal/model"
)

const (
	defaultStatusTTL    = 24 * time.Hour
	defaultEventsMaxLen = 10000
	defaultMaxFailures  = 5
	defaultCooldown     = 10 * time.Second

	// EventsStream is the capped stream of live transitions.
	EventsStream = "signal:events"
)

// StatusKey is the key holding the latest status of a series.
func StatusKey(k model.SeriesKey) string { return "signal:status:" + k.String() }

// Channel is the pub/sub channel carrying updates for one symbol.
func Channel(symbol string) string { return "pub:signal:" + symbol }

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	StatusTTL    time.Duration
	EventsMaxLen int64
	MaxFailures  int
	Cooldown     time.Duration
}

// StatusMessage is the JSON stored under StatusKey and published for
// status changes.
type StatusMessage struct {
	Type     string         `json:"type"` // "status"
	Position model.Position `json:"position"`
	LastBar  time.Time      `json:"last_bar"`
}

// EventMessage is the JSON appended to EventsStream and published for
// transitions.
type EventMessage struct {
	Type  string            `json:"type"` // "event"
	Event model.SignalEvent `json:"event"`
}

// Writer implements model.StatusPublisher on top of go-redis. Calls go
// through a circuit breaker; while it is open, the newest status per series
// is kept and written once Redis recovers, and events are dropped.
type Writer struct {
	client    *goredis.Client
	cb        *CircuitBreaker
	statusTTL time.Duration
	maxLen    int64
	metrics   *metrics.Metrics

	mu      sync.Mutex
	pending map[string]string // status key -> payload
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// Breaker returns the writer's circuit breaker.
func (w *Writer) Breaker() *CircuitBreaker { return w.cb }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig, m *metrics.Metrics) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return NewWithClient(client, cfg, m), nil
}

// NewWithClient wraps an existing client without checking connectivity.
func NewWithClient(client *goredis.Client, cfg WriterConfig, m *metrics.Metrics) *Writer {
	if cfg.StatusTTL <= 0 {
		cfg.StatusTTL = defaultStatusTTL
	}
	if cfg.EventsMaxLen <= 0 {
		cfg.EventsMaxLen = defaultEventsMaxLen
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = defaultMaxFailures
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}

	w := &Writer{
		client:    client,
		cb:        NewCircuitBreaker(cfg.MaxFailures, cfg.Cooldown),
		statusTTL: cfg.StatusTTL,
		maxLen:    cfg.EventsMaxLen,
		metrics:   m,
		pending:   make(map[string]string),
	}
	w.cb.OnStateChange = func(from, to State) {
		log.Printf("[redis] circuit breaker %s -> %s", from, to)
		if m != nil {
			m.RedisCircuitBreakerState.Set(float64(to))
			if to == StateOpen {
				m.RedisCircuitBreakerTrips.Inc()
			}
		}
		if to == StateClosed {
			go w.flush(context.Background())
		}
	}
	return w
}

// PublishStatus stores and publishes the latest state of a series.
func (w *Writer) PublishStatus(ctx context.Context, pos model.Position, lastBar time.Time) {
	payload, err := json.Marshal(StatusMessage{Type: "status", Position: pos, LastBar: lastBar})
	if err != nil {
		log.Printf("[redis] marshal status %s: %v", pos.Key, err)
		return
	}
	key := StatusKey(pos.Key)
	data := string(payload)

	err = w.cb.Execute(func() error {
		pipe := w.client.Pipeline()
		pipe.Set(ctx, key, data, w.statusTTL)
		pipe.Publish(ctx, Channel(pos.Key.Symbol), data)
		_, err := pipe.Exec(ctx)
		return err
	})
	switch {
	case err == ErrCircuitOpen:
		w.mu.Lock()
		w.pending[key] = data
		w.mu.Unlock()
		w.skipped()
	case err != nil:
		log.Printf("[redis] status pipeline error for %s: %v", pos.Key, err)
	}
}

// PublishEvent appends a live transition to the events stream and
// publishes it on the symbol channel.
func (w *Writer) PublishEvent(ctx context.Context, ev model.SignalEvent) {
	payload, err := json.Marshal(EventMessage{Type: "event", Event: ev})
	if err != nil {
		log.Printf("[redis] marshal event %s: %v", ev.Key, err)
		return
	}
	data := string(payload)

	err = w.cb.Execute(func() error {
		pipe := w.client.Pipeline()
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: EventsStream,
			MaxLen: w.maxLen,
			Approx: true,
			Values: map[string]interface{}{"data": data},
		})
		pipe.Publish(ctx, Channel(ev.Key.Symbol), data)
		_, err := pipe.Exec(ctx)
		return err
	})
	switch {
	case err == ErrCircuitOpen:
		log.Printf("[redis] circuit open, dropping %s %s event", ev.Key, ev.Action)
		w.skipped()
	case err != nil:
		log.Printf("[redis] event pipeline error for %s: %v", ev.Key, err)
	}
}

// PendingCount returns the number of statuses waiting for Redis to recover.
func (w *Writer) PendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func (w *Writer) flush(ctx context.Context) {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	toFlush := w.pending
	w.pending = make(map[string]string)
	w.mu.Unlock()

	pipe := w.client.Pipeline()
	for key, data := range toFlush {
		pipe.Set(ctx, key, data, w.statusTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] flush of %d statuses failed: %v", len(toFlush), err)
		return
	}
	log.Printf("[redis] flushed %d buffered statuses", len(toFlush))
}

func (w *Writer) skipped() {
	if w.metrics != nil {
		w.metrics.RedisSkippedWrites.Inc()
	}
}

// ReadStatus loads the stored status of a series. ok is false when the key
// is missing or expired.
func (w *Writer) ReadStatus(ctx context.Context, key model.SeriesKey) (msg StatusMessage, ok bool, err error) {
	data, err := w.client.Get(ctx, StatusKey(key)).Result()
	if err == goredis.Nil {
		return msg, false, nil
	}
	if err != nil {
		return msg, false, fmt.Errorf("redis GET %s: %w", StatusKey(key), err)
	}
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return msg, false, fmt.Errorf("redis decode %s: %w", StatusKey(key), err)
	}
	return msg, true, nil
}

// RecentEvents returns up to n events from the stream, newest first.
func (w *Writer) RecentEvents(ctx context.Context, n int64) ([]model.SignalEvent, error) {
	msgs, err := w.client.XRevRangeN(ctx, EventsStream, "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("redis XREVRANGE %s: %w", EventsStream, err)
	}
	out := make([]model.SignalEvent, 0, len(msgs))
	for _, m := range msgs {
		data, _ := m.Values["data"].(string)
		var em EventMessage
		if err := json.Unmarshal([]byte(data), &em); err != nil {
			log.Printf("[redis] skipping malformed stream entry %s: %v", m.ID, err)
			continue
		}
		out = append(out, em.Event)
	}
	return out, nil
}

// Subscribe listens to the channels of the given symbols.
func (w *Writer) Subscribe(ctx context.Context, symbols ...string) *goredis.PubSub {
	channels := make([]string, len(symbols))
	for i, s := range symbols {
		channels[i] = Channel(s)
	}
	return w.client.Subscribe(ctx, channels...)
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
