package prometheus

import (
	"strconv"
	"time"

	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/messaging/events"
)

// AppMetrics holds the service-level metrics. Model and cache metrics live
// in the intelligence collector registered on the same registry.
type AppMetrics struct {
	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec
	HTTPActiveRequests  GaugeVec

	EventsTotal CounterVec

	MessagesTotal          CounterVec
	MessageProcessDuration HistogramVec

	HeatmapPoints GaugeVec

	ServiceUptime     GaugeVec
	HealthCheckStatus GaugeVec
	ErrorsTotal       CounterVec
}

var (
	DefaultHTTPDurationBuckets    = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	DefaultMessageDurationBuckets = []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 120}
)

// NewAppMetrics registers all service metrics on collector.
func NewAppMetrics(collector MetricsCollector) *AppMetrics {
	m := &AppMetrics{}

	m.HTTPRequestsTotal = collector.RegisterCounter("http_requests_total", "Total HTTP requests", "method", "path", "status_code")
	m.HTTPRequestDuration = collector.RegisterHistogram("http_request_duration_seconds", "HTTP request duration", DefaultHTTPDurationBuckets, "method", "path")
	m.HTTPActiveRequests = collector.RegisterGauge("http_active_requests", "Active HTTP requests", "method", "path")

	m.EventsTotal = collector.RegisterCounter("events_total", "Engine events published", "event")

	m.MessagesTotal = collector.RegisterCounter("messages_total", "Broker messages handled", "topic", "status")
	m.MessageProcessDuration = collector.RegisterHistogram("message_process_duration_seconds", "Broker message handling duration", DefaultMessageDurationBuckets, "topic")

	m.HeatmapPoints = collector.RegisterGauge("heatmap_points", "Points in the latest generated heatmap")

	m.ServiceUptime = collector.RegisterGauge("service_uptime_seconds", "Service uptime", "service")
	m.HealthCheckStatus = collector.RegisterGauge("health_check_status", "Health check status (1=up, 0=down)", "component")
	m.ErrorsTotal = collector.RegisterCounter("errors_total", "Total errors", "operation", "code")

	return m
}

func RecordHTTPRequest(m *AppMetrics, method, path string, statusCode int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func RecordMessage(m *AppMetrics, topic string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.MessagesTotal.WithLabelValues(topic, status).Inc()
	m.MessageProcessDuration.WithLabelValues(topic).Observe(duration.Seconds())
}

func RecordHealth(m *AppMetrics, component string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	m.HealthCheckStatus.WithLabelValues(component).Set(v)
}

// EventListener returns a bus listener that counts events, tracks heatmap
// sizes and counts error events by operation and code.
func (m *AppMetrics) EventListener() events.Listener {
	return func(e events.Event) {
		m.EventsTotal.WithLabelValues(string(e.Name)).Inc()
		switch p := e.Payload.(type) {
		case events.HeatmapCompletedPayload:
			m.HeatmapPoints.WithLabelValues().Set(float64(p.Points))
		case events.ErrorPayload:
			m.ErrorsTotal.WithLabelValues(p.Operation, p.Code).Inc()
		}
	}
}
