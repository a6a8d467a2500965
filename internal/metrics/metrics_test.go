package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.CyclesTotal.WithLabelValues("5m", "ok").Inc()
	m.SignalsTotal.WithLabelValues("OPEN", "REGULAR").Add(2)

	if got := testutil.ToFloat64(m.SignalsTotal.WithLabelValues("OPEN", "REGULAR")); got != 2 {
		t.Errorf("signals = %v, want 2", got)
	}
	n, err := testutil.GatherAndCount(reg, "signalengine_cycles_total")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("cycles series = %d, want 1", n)
	}
}

func TestNewMetricsNilRegistry(t *testing.T) {
	// Two unregistered instances must not collide.
	NewMetrics(nil)
	NewMetrics(nil)
}

func TestHealthOverall(t *testing.T) {
	h := NewHealthStatus()
	if got := h.Overall(); got != "unhealthy" {
		t.Errorf("fresh status = %s, want unhealthy", got)
	}

	h.SetSQLiteOK(true)
	h.SetSourceOK(true)
	if got := h.Overall(); got != "healthy" {
		t.Errorf("got %s, want healthy", got)
	}

	h.SetRedisEnabled(true)
	if got := h.Overall(); got != "degraded" {
		t.Errorf("redis enabled but down: got %s, want degraded", got)
	}
}

func TestHealthzHandler(t *testing.T) {
	h := NewHealthStatus()
	h.SetSQLiteOK(true)
	h.SetSourceOK(true)
	h.SetSource("polygon")
	h.SetUniverse([]string{"AAPL"}, []string{"5m"})
	h.SetLastBarTime(time.Now().Add(-2 * time.Minute))
	h.SetLastBarTime(time.Now().Add(-time.Hour)) // older, ignored

	srv := NewServer(":0", h, prometheus.NewRegistry(), nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	var body struct {
		Status  string   `json:"status"`
		Source  string   `json:"source"`
		BarAge  string   `json:"bar_age"`
		Symbols []string `json:"symbols"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "healthy" || body.Source != "polygon" || len(body.Symbols) != 1 {
		t.Errorf("unexpected body %+v", body)
	}
	if !strings.HasPrefix(body.BarAge, "2m") {
		t.Errorf("bar_age = %q, want ~2m", body.BarAge)
	}

	h.SetSourceOK(false)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("degraded status code = %d", rec.Code)
	}
}
