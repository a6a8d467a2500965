// Package gateway streams live signal updates to websocket clients.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"signal-engine/internal/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Envelope is the JSON frame sent to clients.
type Envelope struct {
	Type   string          `json:"type"` // "event" or "status"
	Symbol string          `json:"symbol"`
	Seq    int64           `json:"seq"`
	TS     time.Time       `json:"ts"`
	Data   json.RawMessage `json:"data"`
}

type statusData struct {
	Position model.Position `json:"position"`
	LastBar  time.Time      `json:"last_bar"`
}

// Hub fans live updates out to connected clients. It implements
// model.StatusPublisher so the pipeline publishes to it like to Redis.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	seq     int64
	latest  map[model.SeriesKey][]byte // newest status envelope per series
	replay  *ReplayBuffer

	now func() time.Time
}

// NewHub creates a hub keeping replaySize recent envelopes.
func NewHub(replaySize int) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		latest:  make(map[model.SeriesKey][]byte),
		replay:  NewReplayBuffer(replaySize),
		now:     time.Now,
	}
}

// PublishStatus broadcasts the state of a series and remembers it for
// clients connecting later.
func (h *Hub) PublishStatus(_ context.Context, pos model.Position, lastBar time.Time) {
	data, err := json.Marshal(statusData{Position: pos, LastBar: lastBar})
	if err != nil {
		log.Printf("[gateway] marshal status %s: %v", pos.Key, err)
		return
	}
	h.broadcast("status", pos.Key, data)
}

// PublishEvent broadcasts a live transition.
func (h *Hub) PublishEvent(_ context.Context, ev model.SignalEvent) {
	if ev.Bootstrap {
		return
	}
	h.broadcast("event", ev.Key, ev.JSON())
}

func (h *Hub) broadcast(typ string, key model.SeriesKey, data []byte) {
	h.mu.Lock()
	h.seq++
	env, err := json.Marshal(Envelope{Type: typ, Symbol: key.Symbol, Seq: h.seq, TS: h.now().UTC(), Data: data})
	if err != nil {
		h.mu.Unlock()
		log.Printf("[gateway] marshal envelope: %v", err)
		return
	}
	if typ == "status" {
		h.latest[key] = env
	} else {
		h.replay.Push(h.seq, env)
	}
	for c := range h.clients {
		if !c.wants(key.Symbol) {
			continue
		}
		select {
		case c.send <- env:
		default:
			// slow client; it catches up through replay on reconnect
		}
	}
	h.mu.Unlock()
}

// ServeHTTP upgrades the request to a websocket. Query parameters:
// symbols=AAPL,MSFT limits the stream, since=N replays events after
// sequence N.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] ws upgrade error: %v", err)
		return
	}
	since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	h.register(conn, parseSymbols(r.URL.Query().Get("symbols")), since)
}

func (h *Hub) register(conn *websocket.Conn, symbols map[string]bool, since int64) {
	client := &Client{
		conn:    conn,
		send:    make(chan []byte, 256),
		hub:     h,
		symbols: symbols,
	}
	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	client.sendInitialState(since)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)

	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Seq returns the sequence number of the newest envelope.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}
