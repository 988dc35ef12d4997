package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestHistogram_Observe(t *testing.T) {
	h := newHistogram([]float64{0.1, 1, 10})

	h.Observe(0.05)
	h.Observe(0.5)
	h.Observe(5)
	h.Observe(50)

	if h.Count() != 4 {
		t.Errorf("expected count 4, got %d", h.Count())
	}
	if h.Sum() != 55.55 {
		t.Errorf("expected sum 55.55, got %g", h.Sum())
	}

	cum := h.cumulativeBuckets()
	want := []int64{1, 2, 3}
	for i, w := range want {
		if cum[i] != w {
			t.Errorf("bucket %d: expected %d, got %d", i, w, cum[i])
		}
	}
}

func TestHistogram_ConcurrentObserve(t *testing.T) {
	h := newHistogram(defaultDurationBuckets)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h.Observe(0.01)
			}
		}()
	}
	wg.Wait()

	if h.Count() != 1000 {
		t.Errorf("expected count 1000, got %d", h.Count())
	}
}

func TestProvider_SessionEvents(t *testing.T) {
	p := NewProvider()

	p.SessionEvent("started")
	p.SessionEvent("started")
	p.SessionEvent("completed")

	if got := p.SessionEventCount("started"); got != 2 {
		t.Errorf("expected 2 started, got %d", got)
	}
	if got := p.SessionEventCount("completed"); got != 1 {
		t.Errorf("expected 1 completed, got %d", got)
	}
	if got := p.SessionEventCount("abandoned"); got != 0 {
		t.Errorf("expected 0 abandoned, got %d", got)
	}
}

func TestProvider_Gauges(t *testing.T) {
	p := NewProvider()

	p.SetActiveModelVersion(3)
	if got := p.Gauge("ml.active_model_version"); got != 3 {
		t.Errorf("expected version 3, got %d", got)
	}

	p.SetDBPoolStats(5, 2)
	if got := p.Gauge("db.pool.active_connections"); got != 5 {
		t.Errorf("expected 5 active connections, got %d", got)
	}
	if got := p.Gauge("db.pool.idle_connections"); got != 2 {
		t.Errorf("expected 2 idle connections, got %d", got)
	}
}

func TestMetricsMiddleware_RecordsRequest(t *testing.T) {
	p := NewProvider()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/triage/sessions/abc", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/v1/triage/sessions/:id")

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}

	mw := p.MetricsMiddleware()
	h := mw(handler)
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hist := p.RequestHistogram(http.MethodGet, "/api/v1/triage/sessions/:id", "200")
	if hist == nil {
		t.Fatal("expected a histogram for the request")
	}
	if hist.Count() != 1 {
		t.Errorf("expected 1 observation, got %d", hist.Count())
	}
	if p.Gauge("http.server.active_requests") != 0 {
		t.Errorf("expected active requests to return to 0, got %d",
			p.Gauge("http.server.active_requests"))
	}
}

func TestPrometheusHandler_Exposition(t *testing.T) {
	p := NewProvider()
	p.SessionEvent("started")
	p.SessionEvent("completed")
	p.RetrainingRun("promoted")
	p.SetActiveModelVersion(2)

	// Record one request through the middleware.
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/triage/sessions", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/v1/triage/sessions")
	mw := p.MetricsMiddleware()
	if err := mw(func(c echo.Context) error {
		return c.String(http.StatusCreated, "created")
	})(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)

	if err := p.PrometheusHandler()(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	expected := []string{
		`triage_sessions_total{event="started"} 1`,
		`triage_sessions_total{event="completed"} 1`,
		`ml_retraining_runs_total{outcome="promoted"} 1`,
		"ml_active_model_version 2",
		"# TYPE http_server_request_duration_seconds histogram",
		`http_server_request_duration_seconds_count{method="POST",route="/api/v1/triage/sessions",status_code="201"} 1`,
	}
	for _, want := range expected {
		if !strings.Contains(body, want) {
			t.Errorf("expected exposition to contain %q\ngot:\n%s", want, body)
		}
	}
}
