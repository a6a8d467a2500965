package notification

import (
	"context"
	"log"
	"sync"
	"time"

	"signal-engine/internal/model"
)

const (
	defaultQueueSize   = 256
	defaultSendTimeout = 15 * time.Second
)

// Dispatcher fans live signal events out to notifiers from its own
// goroutine, so a slow channel never stalls a pipeline worker.
type Dispatcher struct {
	notifiers []Notifier
	queue     chan model.SignalEvent
	timeout   time.Duration

	mu      sync.RWMutex
	stopped bool

	// OnDrop is called when the queue is full (optional).
	OnDrop func(ev model.SignalEvent)
	// OnError is called per failed delivery (optional).
	OnError func(err error)
}

// NewDispatcher creates a dispatcher with a queue of size events
// (defaultQueueSize when size <= 0).
func NewDispatcher(size int, notifiers ...Notifier) *Dispatcher {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Dispatcher{
		notifiers: notifiers,
		queue:     make(chan model.SignalEvent, size),
		timeout:   defaultSendTimeout,
	}
}

// Add registers another notifier. Call before Run.
func (d *Dispatcher) Add(n Notifier) {
	d.notifiers = append(d.notifiers, n)
}

// Enqueue queues ev for delivery without blocking. Bootstrap events are
// never delivered. Returns false if the event was not queued, including
// after Run has returned.
func (d *Dispatcher) Enqueue(ev model.SignalEvent) bool {
	if ev.Bootstrap {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		log.Printf("[dispatch] stopped, dropping %s %s at %s", ev.Key, ev.Action, ev.Time.Format(time.RFC3339))
		if d.OnDrop != nil {
			d.OnDrop(ev)
		}
		return false
	}
	select {
	case d.queue <- ev:
		return true
	default:
		log.Printf("[dispatch] queue full, dropping %s %s at %s", ev.Key, ev.Action, ev.Time.Format(time.RFC3339))
		if d.OnDrop != nil {
			d.OnDrop(ev)
		}
		return false
	}
}

// Pending returns the number of queued events.
func (d *Dispatcher) Pending() int { return len(d.queue) }

// Run delivers queued events until ctx is cancelled, then flushes what is
// already queued with a bounded deadline. Once Run returns, Enqueue refuses
// new events.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.mu.Lock()
			d.stopped = true
			d.mu.Unlock()
			d.flush()
			return
		case ev := <-d.queue:
			d.deliver(ctx, ev)
		}
	}
}

func (d *Dispatcher) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev model.SignalEvent) {
	alert := FormatAlert(ev)
	for _, n := range d.notifiers {
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := n.Send(sendCtx, alert)
		cancel()
		if err != nil {
			log.Printf("[dispatch] %s: %v", ev.Key, err)
			if d.OnError != nil {
				d.OnError(err)
			}
		}
	}
}
