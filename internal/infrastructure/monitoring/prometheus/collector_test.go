package prometheus

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/monitoring/logging"
)

func newTestCollector(t *testing.T) MetricsCollector {
	c, err := NewMetricsCollector(CollectorConfig{Namespace: "test", Subsystem: "unit"}, logging.NewNopLogger())
	require.NoError(t, err)
	return c
}

func scrapeMetrics(t *testing.T, collector MetricsCollector) string {
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	collector.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestNewMetricsCollector_EmptyNamespace(t *testing.T) {
	_, err := NewMetricsCollector(CollectorConfig{Subsystem: "unit"}, nil)
	assert.Error(t, err)
}

func TestNewMetricsCollector_WithProcessMetrics(t *testing.T) {
	c, err := NewMetricsCollector(CollectorConfig{Namespace: "test", EnableProcessMetrics: true, EnableGoMetrics: true}, nil)
	require.NoError(t, err)
	out := scrapeMetrics(t, c)
	assert.Contains(t, out, "go_goroutines")
}

func TestRegisterCounter(t *testing.T) {
	c := newTestCollector(t)
	vec := c.RegisterCounter("requests_total", "Requests", "method")
	vec.WithLabelValues("GET").Inc()
	vec.WithLabelValues("GET").Add(2)
	assert.Contains(t, scrapeMetrics(t, c), `test_unit_requests_total{method="GET"} 3`)
}

func TestRegister_SameNameReturnsExisting(t *testing.T) {
	c := newTestCollector(t)
	a := c.RegisterCounter("dup_total", "Dup", "k")
	b := c.RegisterCounter("dup_total", "Dup", "k")
	a.WithLabelValues("x").Inc()
	b.WithLabelValues("x").Inc()
	assert.Contains(t, scrapeMetrics(t, c), `test_unit_dup_total{k="x"} 2`)
}

func TestRegister_TypeMismatchIsNoop(t *testing.T) {
	c := newTestCollector(t)
	c.RegisterCounter("mixed", "Mixed")
	g := c.RegisterGauge("mixed", "Mixed")
	assert.NotPanics(t, func() { g.WithLabelValues().Set(3) })
}

func TestRegisterGaugeAndHistogram(t *testing.T) {
	c := newTestCollector(t)
	c.RegisterGauge("queue_depth", "Depth", "queue").WithLabelValues("a").Set(7)
	h := c.RegisterHistogram("latency_seconds", "Latency", nil, "op")
	NewTimer(h.WithLabelValues("load")).ObserveDuration()

	out := scrapeMetrics(t, c)
	assert.Contains(t, out, `test_unit_queue_depth{queue="a"} 7`)
	assert.Contains(t, out, `test_unit_latency_seconds_count{op="load"} 1`)
}

func TestRegisterer_SharesRegistry(t *testing.T) {
	c := newTestCollector(t)
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "external_gauge", Help: "External"})
	require.NoError(t, c.Registerer().Register(g))
	g.Set(4)
	assert.Contains(t, scrapeMetrics(t, c), "external_gauge 4")
}
