package gateway

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu      sync.RWMutex
	symbols map[string]bool // empty: every symbol
}

// controlMsg is what clients may send: SUBSCRIBE / UNSUBSCRIBE with a
// symbol list, or a {"ping": ms} keepalive.
type controlMsg struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
	Ping    int64    `json:"ping"`
}

func parseSymbols(s string) map[string]bool {
	out := make(map[string]bool)
	for _, sym := range strings.Split(s, ",") {
		if sym = strings.ToUpper(strings.TrimSpace(sym)); sym != "" {
			out[sym] = true
		}
	}
	return out
}

func (c *Client) wants(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.symbols) == 0 || c.symbols[symbol]
}

// sendInitialState queues the latest status of every wanted series and
// the events after since. Called with the hub lock held.
func (c *Client) sendInitialState(since int64) {
	for key, env := range c.hub.latest {
		if c.wants(key.Symbol) {
			c.queue(env)
		}
	}
	if since <= 0 {
		return
	}
	for _, env := range c.hub.replay.After(since) {
		var e Envelope
		if json.Unmarshal(env, &e) == nil && c.wants(e.Symbol) {
			c.queue(env)
		}
	}
}

func (c *Client) queue(msg []byte) {
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var m controlMsg
		if json.Unmarshal(msg, &m) != nil {
			continue
		}

		switch m.Type {
		case "SUBSCRIBE":
			c.mu.Lock()
			for _, s := range m.Symbols {
				c.symbols[strings.ToUpper(s)] = true
			}
			c.mu.Unlock()
		case "UNSUBSCRIBE":
			c.mu.Lock()
			for _, s := range m.Symbols {
				delete(c.symbols, strings.ToUpper(s))
			}
			c.mu.Unlock()
		default:
			if m.Ping > 0 {
				pong, _ := json.Marshal(map[string]interface{}{
					"type":      "pong",
					"ping":      m.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
				c.hub.mu.RLock()
				c.queue(pong)
				c.hub.mu.RUnlock()
			}
		}
	}
}
