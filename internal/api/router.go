// Package api serves the read-only HTTP API of the signal engine.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"signal-engine/internal/markethours"
	"signal-engine/internal/model"
	"signal-engine/internal/notification"
)

// EventReader loads the signal journal (sqlite.Reader).
type EventReader interface {
	ReadEvents(ctx context.Context, symbol string, limit int) ([]model.SignalEvent, error)
}

// Deps are the handlers' data sources. Status is required.
type Deps struct {
	Status *notification.Status
	Events EventReader  // optional: /api/v1/events
	Stream http.Handler // optional: /api/v1/stream websocket
	Now    func() time.Time
}

// SeriesView is one row of /api/v1/status.
type SeriesView struct {
	Symbol      string          `json:"symbol"`
	Timeframe   string          `json:"timeframe"`
	Direction   model.Direction `json:"direction"`
	Status      model.Status    `json:"status"`
	OpenPrice   string          `json:"open_price,omitempty"`
	OpenTime    *time.Time      `json:"open_time,omitempty"`
	TotalPnL    string          `json:"total_pnl"`
	Trades      int             `json:"trades"`
	LastBar     *time.Time      `json:"last_bar,omitempty"`
	Freshness   string          `json:"freshness"`
	LastUpdated time.Time       `json:"last_updated"`
	LastError   string          `json:"last_error,omitempty"`
}

type statusResponse struct {
	Market string       `json:"market"`
	Series []SeriesView `json:"series"`
}

// NewRouter sets up HTTP routes for the API server.
func NewRouter(d Deps) *mux.Router {
	if d.Now == nil {
		d.Now = time.Now
	}
	h := &handlers{deps: d}

	r := mux.NewRouter()
	r.HandleFunc("/api/v1/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/status", h.status).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/status/{symbol}", h.symbolStatus).Methods(http.MethodGet)
	if d.Events != nil {
		r.HandleFunc("/api/v1/events", h.events).Methods(http.MethodGet)
	}
	if d.Stream != nil {
		r.Handle("/api/v1/stream", d.Stream)
	}
	return r
}

type handlers struct {
	deps Deps
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	now := h.deps.Now()
	writeJSON(w, http.StatusOK, statusResponse{
		Market: markethours.StatusString(now),
		Series: views(h.deps.Status.Snapshot(), now),
	})
}

func (h *handlers) symbolStatus(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])
	rows := h.deps.Status.BySymbol(symbol)
	if len(rows) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown symbol " + symbol})
		return
	}
	now := h.deps.Now()
	writeJSON(w, http.StatusOK, statusResponse{
		Market: markethours.StatusString(now),
		Series: views(rows, now),
	})
}

func (h *handlers) events(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 1000 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be 1..1000"})
			return
		}
		limit = n
	}
	symbol := strings.ToUpper(r.URL.Query().Get("symbol"))

	evs, err := h.deps.Events.ReadEvents(r.Context(), symbol, limit)
	if err != nil {
		log.Printf("[api] read events: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "events unavailable"})
		return
	}
	if evs == nil {
		evs = []model.SignalEvent{}
	}
	writeJSON(w, http.StatusOK, evs)
}

func views(rows []notification.SeriesStatus, now time.Time) []SeriesView {
	out := make([]SeriesView, 0, len(rows))
	for _, st := range rows {
		p := st.Position
		v := SeriesView{
			Symbol:      p.Key.Symbol,
			Timeframe:   p.Key.Timeframe.String(),
			Direction:   p.Key.Direction,
			Status:      p.Status,
			OpenPrice:   model.ValueString(p.OpenPrice),
			TotalPnL:    p.TotalPnL.String(),
			Trades:      p.Trades,
			Freshness:   st.Freshness(now),
			LastUpdated: st.LastUpdated,
			LastError:   st.LastError,
		}
		if p.OpenTime.IsSome() {
			t := p.OpenTime.Unwrap()
			v.OpenTime = &t
		}
		if !st.LastBar.IsZero() {
			t := st.LastBar
			v.LastBar = &t
		}
		out = append(out, v)
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}
