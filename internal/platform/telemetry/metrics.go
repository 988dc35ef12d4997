// Package telemetry provides lightweight in-process metrics for the triage
// service: counters, gauges, and Prometheus-style histograms with a text
// exposition endpoint. It deliberately avoids pulling in a metrics SDK;
// everything here is standard library plus echo.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// defaultDurationBuckets are request latency boundaries in seconds.
var defaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// histogram is a thread-safe histogram with configurable bucket boundaries.
// Bucket counts are non-cumulative in storage; cumulative counts are computed
// at export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // stored as math.Float64bits for atomic add
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

// Observe records a single value.
func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			h.mu.Unlock()
			return
		}
	}
	// Value exceeds all boundaries; counted in +Inf at export.
	h.mu.Unlock()
}

// Count returns the total number of observations.
func (h *histogram) Count() int64 {
	return atomic.LoadInt64(&h.count)
}

// Sum returns the total sum of all observations.
func (h *histogram) Sum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	raw := make([]int64, len(h.bucketCounts))
	copy(raw, h.bucketCounts)
	h.mu.Unlock()

	cum := make([]int64, len(raw))
	var running int64
	for i, c := range raw {
		running += c
		cum[i] = running
	}
	return cum
}

// atomicAddFloat64 performs an atomic add on a uint64 that stores a float64
// using CAS.
func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		newVal := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(newVal)) {
			return
		}
	}
}

type counterStore struct {
	mu    sync.RWMutex
	items map[string]*int64
}

func newCounterStore() *counterStore {
	return &counterStore{items: make(map[string]*int64)}
}

func (s *counterStore) inc(key string) {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		atomic.AddInt64(p, 1)
		return
	}
	s.mu.Lock()
	p, ok = s.items[key]
	if !ok {
		p = new(int64)
		s.items[key] = p
	}
	s.mu.Unlock()
	atomic.AddInt64(p, 1)
}

func (s *counterStore) get(key string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.items[key]; ok {
		return atomic.LoadInt64(p)
	}
	return 0
}

func (s *counterStore) snapshot() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]int64, len(s.items))
	for k, p := range s.items {
		cp[k] = atomic.LoadInt64(p)
	}
	return cp
}

type gaugeStore struct {
	mu    sync.RWMutex
	items map[string]*int64
}

func newGaugeStore() *gaugeStore {
	return &gaugeStore{items: make(map[string]*int64)}
}

func (s *gaugeStore) cell(name string) *int64 {
	s.mu.RLock()
	p, ok := s.items[name]
	s.mu.RUnlock()
	if ok {
		return p
	}
	s.mu.Lock()
	p, ok = s.items[name]
	if !ok {
		p = new(int64)
		s.items[name] = p
	}
	s.mu.Unlock()
	return p
}

func (s *gaugeStore) set(name string, val int64) {
	atomic.StoreInt64(s.cell(name), val)
}

func (s *gaugeStore) add(name string, delta int64) {
	atomic.AddInt64(s.cell(name), delta)
}

func (s *gaugeStore) get(name string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.items[name]; ok {
		return atomic.LoadInt64(p)
	}
	return 0
}

// Provider aggregates all metrics for the service.
type Provider struct {
	counters *counterStore
	gauges   *gaugeStore

	histMu     sync.RWMutex
	histograms map[string]*histogram
}

func NewProvider() *Provider {
	return &Provider{
		counters:   newCounterStore(),
		gauges:     newGaugeStore(),
		histograms: make(map[string]*histogram),
	}
}

func (p *Provider) getOrCreateHistogram(key string) *histogram {
	p.histMu.RLock()
	h, ok := p.histograms[key]
	p.histMu.RUnlock()
	if ok {
		return h
	}
	p.histMu.Lock()
	h, ok = p.histograms[key]
	if !ok {
		h = newHistogram(defaultDurationBuckets)
		p.histograms[key] = h
	}
	p.histMu.Unlock()
	return h
}

// labelsKey builds the histogram map key for (method, route, status).
func labelsKey(method, route, statusCode string) string {
	return method + "|" + route + "|" + statusCode
}

// SessionEvent increments the triage session lifecycle counter. Events are
// started, completed, abandoned, failed, expired.
func (p *Provider) SessionEvent(event string) {
	p.counters.inc("triage.sessions|" + event)
}

// SessionEventCount returns the current value of a session lifecycle counter.
func (p *Provider) SessionEventCount(event string) int64 {
	return p.counters.get("triage.sessions|" + event)
}

// RetrainingRun increments the retraining cycle counter by outcome.
func (p *Provider) RetrainingRun(outcome string) {
	p.counters.inc("ml.retraining_runs|" + outcome)
}

// RetrainingRunCount returns the retraining counter for an outcome.
func (p *Provider) RetrainingRunCount(outcome string) int64 {
	return p.counters.get("ml.retraining_runs|" + outcome)
}

// SetActiveModelVersion records the currently promoted model version.
func (p *Provider) SetActiveModelVersion(v int64) {
	p.gauges.set("ml.active_model_version", v)
}

// SetDBPoolStats records connection pool gauges.
func (p *Provider) SetDBPoolStats(active, idle int64) {
	p.gauges.set("db.pool.active_connections", active)
	p.gauges.set("db.pool.idle_connections", idle)
}

// Gauge returns the current value of the named gauge.
func (p *Provider) Gauge(name string) int64 {
	return p.gauges.get(name)
}

// MetricsMiddleware returns an Echo middleware that records HTTP server
// metrics: an active-request gauge and per-route latency histograms.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p.gauges.add("http.server.active_requests", 1)
			start := time.Now()

			err := next(c)

			duration := time.Since(start).Seconds()
			p.gauges.add("http.server.active_requests", -1)

			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			status := fmt.Sprintf("%d", c.Response().Status)

			h := p.getOrCreateHistogram(labelsKey(c.Request().Method, route, status))
			h.Observe(duration)

			return err
		}
	}
}

// RequestHistogram returns the histogram for a (method, route, status) tuple,
// or nil if nothing has been recorded for it.
func (p *Provider) RequestHistogram(method, route, statusCode string) *histogram {
	p.histMu.RLock()
	defer p.histMu.RUnlock()
	return p.histograms[labelsKey(method, route, statusCode)]
}

// PrometheusHandler returns an Echo handler that serves metrics in Prometheus
// text exposition format.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		b.WriteString("# HELP http_server_request_duration_seconds Duration of HTTP requests in seconds.\n")
		b.WriteString("# TYPE http_server_request_duration_seconds histogram\n")
		p.histMu.RLock()
		keys := make([]string, 0, len(p.histograms))
		for k := range p.histograms {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		hists := make(map[string]*histogram, len(keys))
		for _, k := range keys {
			hists[k] = p.histograms[k]
		}
		p.histMu.RUnlock()
		for _, key := range keys {
			parts := strings.SplitN(key, "|", 3)
			if len(parts) != 3 {
				continue
			}
			labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
			writeHistogram(&b, "http_server_request_duration_seconds", labels, hists[key])
		}
		b.WriteByte('\n')

		b.WriteString("# HELP http_server_active_requests Number of active HTTP requests.\n")
		b.WriteString("# TYPE http_server_active_requests gauge\n")
		fmt.Fprintf(&b, "http_server_active_requests %d\n\n", p.gauges.get("http.server.active_requests"))

		writeLabeledCounters(&b, p.counters.snapshot(), "triage.sessions",
			"triage_sessions_total", "event",
			"Total triage sessions by lifecycle event.")
		writeLabeledCounters(&b, p.counters.snapshot(), "ml.retraining_runs",
			"ml_retraining_runs_total", "outcome",
			"Total retraining cycles by outcome.")

		gauges := []struct {
			promName string
			name     string
			help     string
		}{
			{"ml_active_model_version", "ml.active_model_version", "Version of the promoted model."},
			{"db_pool_active_connections", "db.pool.active_connections", "Number of active database pool connections."},
			{"db_pool_idle_connections", "db.pool.idle_connections", "Number of idle database pool connections."},
		}
		for _, g := range gauges {
			fmt.Fprintf(&b, "# HELP %s %s\n", g.promName, g.help)
			fmt.Fprintf(&b, "# TYPE %s gauge\n", g.promName)
			fmt.Fprintf(&b, "%s %d\n\n", g.promName, p.gauges.get(g.name))
		}

		return c.String(http.StatusOK, b.String())
	}
}

func writeLabeledCounters(b *strings.Builder, counters map[string]int64,
	prefix, promName, labelName, help string) {

	fmt.Fprintf(b, "# HELP %s %s\n", promName, help)
	fmt.Fprintf(b, "# TYPE %s counter\n", promName)

	keys := make([]string, 0, len(counters))
	for k := range counters {
		if strings.HasPrefix(k, prefix+"|") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		label := strings.TrimPrefix(k, prefix+"|")
		fmt.Fprintf(b, "%s{%s=%q} %d\n", promName, labelName, label, counters[k])
	}
	b.WriteByte('\n')
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulativeBuckets()
	total := h.Count()

	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, total)
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, total)
}
