package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-engine/internal/model"
)

var (
	aapl = model.SeriesKey{Symbol: "AAPL", Timeframe: 5, Direction: model.Regular}
	msft = model.SeriesKey{Symbol: "MSFT", Timeframe: 5, Direction: model.Regular}
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(msg, &env))
	return env
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.ClientCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func event(key model.SeriesKey) model.SignalEvent {
	return model.SignalEvent{
		Key:           key,
		Action:        model.ActionOpen,
		Time:          time.Date(2024, 3, 4, 14, 35, 0, 0, time.UTC),
		Price:         decimal.RequireFromString("187.25"),
		ConditionsMet: 3,
	}
}

func TestHub_StreamsEventsForWantedSymbols(t *testing.T) {
	h := NewHub(16)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv, "symbols=aapl")
	waitClients(t, h, 1)

	ctx := context.Background()
	h.PublishEvent(ctx, event(msft))
	h.PublishEvent(ctx, model.SignalEvent{Key: aapl, Bootstrap: true})
	h.PublishEvent(ctx, event(aapl))

	env := read(t, conn)
	assert.Equal(t, "event", env.Type)
	assert.Equal(t, "AAPL", env.Symbol)
	assert.Equal(t, int64(2), env.Seq, "the MSFT event consumed seq 1")

	var ev model.SignalEvent
	require.NoError(t, json.Unmarshal(env.Data, &ev))
	assert.Equal(t, model.ActionOpen, ev.Action)
	assert.True(t, ev.Price.Equal(decimal.RequireFromString("187.25")))
}

func TestHub_NewClientGetsLatestStatusAndReplay(t *testing.T) {
	h := NewHub(16)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx := context.Background()
	pos := model.NewPosition(aapl)
	h.PublishStatus(ctx, pos, time.Time{})
	pos.Trades = 1
	h.PublishStatus(ctx, pos, time.Time{})
	h.PublishEvent(ctx, event(aapl)) // seq 3
	h.PublishEvent(ctx, event(aapl)) // seq 4

	conn := dial(t, srv, "since=3")
	status := read(t, conn)
	assert.Equal(t, "status", status.Type)
	var sd statusData
	require.NoError(t, json.Unmarshal(status.Data, &sd))
	assert.Equal(t, 1, sd.Position.Trades, "only the newest status is kept")

	replayed := read(t, conn)
	assert.Equal(t, "event", replayed.Type)
	assert.Equal(t, int64(4), replayed.Seq)
}

func TestHub_ClientDisconnectIsRemoved(t *testing.T) {
	h := NewHub(16)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv, "")
	waitClients(t, h, 1)
	conn.Close()
	waitClients(t, h, 0)
}

func TestReplayBuffer_After(t *testing.T) {
	rb := NewReplayBuffer(3)
	for seq := int64(1); seq <= 5; seq++ {
		rb.Push(seq, []byte{byte('0' + seq)})
	}
	assert.Equal(t, 3, rb.Len())
	assert.Equal(t, [][]byte{[]byte("4"), []byte("5")}, rb.After(3))
	assert.Len(t, rb.After(0), 3, "evicted entries are gone")
}
