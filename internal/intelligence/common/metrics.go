package common

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ---------------------------------------------------------------------------
// Interfaces
// ---------------------------------------------------------------------------

// IntelligenceMetrics is the telemetry API of the intelligence layer. Model
// registry, grid evaluator, ensemble analyzer and image analyzer record
// through it so that the backend (Prometheus, in-memory, noop) can be swapped.
type IntelligenceMetrics interface {
	// RecordInference records one model invocation over a batch of rows.
	RecordInference(ctx context.Context, params *InferenceMetricParams)

	// RecordBatchProcessing records a finished batch run.
	RecordBatchProcessing(ctx context.Context, params *BatchMetricParams)

	// RecordCacheAccess records a hit or miss in a cache namespace.
	RecordCacheAccess(ctx context.Context, hit bool, namespace string)

	// RecordTraining records an initial training or fine-tune run.
	RecordTraining(ctx context.Context, params *TrainingMetricParams)

	// RecordAssessment records a finished property analysis by risk grade.
	RecordAssessment(ctx context.Context, riskGrade string, durationMs float64)

	// RecordModelLoad records a model load from the artifact store.
	RecordModelLoad(ctx context.Context, kind, version string, durationMs float64, success bool)

	GetInferenceLatencyHistogram() LatencyHistogram
	GetCurrentStats() *IntelligenceStats
}

// LatencyHistogram provides percentile-based latency observation.
type LatencyHistogram interface {
	Observe(durationMs float64)
	// Percentile returns the value at percentile p (0-100).
	Percentile(p float64) float64
	Count() int64
	Sum() float64
}

// ---------------------------------------------------------------------------
// Parameter structs
// ---------------------------------------------------------------------------

// InferenceMetricParams carries one inference event.
type InferenceMetricParams struct {
	Kind       string  `json:"kind"`
	Version    string  `json:"version"`
	Operation  string  `json:"operation"`
	DurationMs float64 `json:"duration_ms"`
	Success    bool    `json:"success"`
	BatchSize  int     `json:"batch_size"`
}

// BatchMetricParams carries one batch processing event.
type BatchMetricParams struct {
	BatchName         string  `json:"batch_name"`
	TotalItems        int     `json:"total_items"`
	SuccessItems      int     `json:"success_items"`
	FailedItems       int     `json:"failed_items"`
	TotalDurationMs   float64 `json:"total_duration_ms"`
	AvgItemDurationMs float64 `json:"avg_item_duration_ms"`
	MaxConcurrency    int     `json:"max_concurrency"`
}

// TrainingMetricParams carries one training run.
type TrainingMetricParams struct {
	Kind       string  `json:"kind"`
	FineTune   bool    `json:"fine_tune"`
	Samples    int     `json:"samples"`
	Epochs     int     `json:"epochs"`
	FinalLoss  float64 `json:"final_loss"`
	DurationMs float64 `json:"duration_ms"`
	Success    bool    `json:"success"`
}

// IntelligenceStats is a point-in-time snapshot of intelligence-layer metrics.
type IntelligenceStats struct {
	TotalInferences       int64            `json:"total_inferences"`
	SuccessfulInferences  int64            `json:"successful_inferences"`
	FailedInferences      int64            `json:"failed_inferences"`
	InferencesByKind      map[string]int64 `json:"inferences_by_kind"`
	AvgInferenceLatencyMs float64          `json:"avg_inference_latency_ms"`
	P50LatencyMs          float64          `json:"p50_latency_ms"`
	P95LatencyMs          float64          `json:"p95_latency_ms"`
	P99LatencyMs          float64          `json:"p99_latency_ms"`
	CacheHitRate          float64          `json:"cache_hit_rate"`
	TrainingRuns          int64            `json:"training_runs"`
}

// ---------------------------------------------------------------------------
// Prometheus implementation
// ---------------------------------------------------------------------------

// DefaultMetricsNamespace prefixes every engine metric.
const DefaultMetricsNamespace = "geovalue"

var defaultLatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

var trainingBuckets = []float64{100, 500, 1000, 5000, 10000, 30000, 60000, 180000, 600000}

type prometheusIntelligenceMetrics struct {
	inferenceLatency *prometheus.HistogramVec
	inferenceTotal   *prometheus.CounterVec
	inferenceRows    *prometheus.CounterVec
	batchDuration    *prometheus.HistogramVec
	batchItemsTotal  *prometheus.CounterVec
	cacheAccessTotal *prometheus.CounterVec
	trainingDuration *prometheus.HistogramVec
	trainingLoss     *prometheus.GaugeVec
	assessmentTotal  *prometheus.CounterVec
	modelLoadLatency *prometheus.HistogramVec

	latencyHist *latencyHistogram
	totalInf    atomic.Int64
	successInf  atomic.Int64
	failedInf   atomic.Int64
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	trainings   atomic.Int64
	byKind      sync.Map // kind -> *atomic.Int64
}

// NewPrometheusIntelligenceMetrics creates a Prometheus-backed collector and
// registers it with registerer (the default registerer when nil).
func NewPrometheusIntelligenceMetrics(registerer prometheus.Registerer, namespace string) (IntelligenceMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = DefaultMetricsNamespace
	}
	const subsystem = "intelligence"

	m := &prometheusIntelligenceMetrics{latencyHist: newLatencyHistogram()}

	m.inferenceLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name:    "inference_duration_milliseconds",
		Help:    "Model inference latency in milliseconds.",
		Buckets: defaultLatencyBuckets,
	}, []string{"kind", "version", "operation"})

	m.inferenceTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "inference_total",
		Help: "Total number of model invocations.",
	}, []string{"kind", "operation", "status"})

	m.inferenceRows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "inference_rows_total",
		Help: "Total number of feature rows scored.",
	}, []string{"kind"})

	m.batchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name:    "batch_processing_duration_milliseconds",
		Help:    "Batch processing duration in milliseconds.",
		Buckets: defaultLatencyBuckets,
	}, []string{"batch_name"})

	m.batchItemsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "batch_items_total",
		Help: "Items processed in batches by outcome.",
	}, []string{"batch_name", "status"})

	m.cacheAccessTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "cache_access_total",
		Help: "Result cache accesses by namespace.",
	}, []string{"namespace", "result"})

	m.trainingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name:    "training_duration_milliseconds",
		Help:    "Training run duration in milliseconds.",
		Buckets: trainingBuckets,
	}, []string{"kind", "mode", "status"})

	m.trainingLoss = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "training_final_loss",
		Help: "Final training loss of the latest run.",
	}, []string{"kind", "mode"})

	m.assessmentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "assessment_total",
		Help: "Property analyses by risk grade.",
	}, []string{"risk_grade"})

	m.modelLoadLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name:    "model_load_duration_milliseconds",
		Help:    "Model artifact load duration in milliseconds.",
		Buckets: defaultLatencyBuckets,
	}, []string{"kind", "version", "status"})

	collectors := []prometheus.Collector{
		m.inferenceLatency, m.inferenceTotal, m.inferenceRows,
		m.batchDuration, m.batchItemsTotal, m.cacheAccessTotal,
		m.trainingDuration, m.trainingLoss, m.assessmentTotal, m.modelLoadLatency,
	}
	for _, c := range collectors {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func statusLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (m *prometheusIntelligenceMetrics) RecordInference(_ context.Context, p *InferenceMetricParams) {
	if p == nil {
		return
	}
	m.inferenceLatency.WithLabelValues(p.Kind, p.Version, p.Operation).Observe(p.DurationMs)
	m.inferenceTotal.WithLabelValues(p.Kind, p.Operation, statusLabel(p.Success)).Inc()
	m.inferenceRows.WithLabelValues(p.Kind).Add(float64(p.BatchSize))

	m.latencyHist.Observe(p.DurationMs)
	m.totalInf.Add(1)
	if p.Success {
		m.successInf.Add(1)
	} else {
		m.failedInf.Add(1)
	}
	c, _ := m.byKind.LoadOrStore(p.Kind, new(atomic.Int64))
	c.(*atomic.Int64).Add(1)
}

func (m *prometheusIntelligenceMetrics) RecordBatchProcessing(_ context.Context, p *BatchMetricParams) {
	if p == nil {
		return
	}
	m.batchDuration.WithLabelValues(p.BatchName).Observe(p.TotalDurationMs)
	m.batchItemsTotal.WithLabelValues(p.BatchName, "success").Add(float64(p.SuccessItems))
	m.batchItemsTotal.WithLabelValues(p.BatchName, "failed").Add(float64(p.FailedItems))
}

func (m *prometheusIntelligenceMetrics) RecordCacheAccess(_ context.Context, hit bool, namespace string) {
	result := "miss"
	if hit {
		result = "hit"
		m.cacheHits.Add(1)
	} else {
		m.cacheMisses.Add(1)
	}
	m.cacheAccessTotal.WithLabelValues(namespace, result).Inc()
}

func (m *prometheusIntelligenceMetrics) RecordTraining(_ context.Context, p *TrainingMetricParams) {
	if p == nil {
		return
	}
	mode := "initial"
	if p.FineTune {
		mode = "fine_tune"
	}
	m.trainingDuration.WithLabelValues(p.Kind, mode, statusLabel(p.Success)).Observe(p.DurationMs)
	if p.Success && !math.IsNaN(p.FinalLoss) {
		m.trainingLoss.WithLabelValues(p.Kind, mode).Set(p.FinalLoss)
	}
	m.trainings.Add(1)
}

func (m *prometheusIntelligenceMetrics) RecordAssessment(_ context.Context, riskGrade string, _ float64) {
	m.assessmentTotal.WithLabelValues(riskGrade).Inc()
}

func (m *prometheusIntelligenceMetrics) RecordModelLoad(_ context.Context, kind, version string, durationMs float64, success bool) {
	m.modelLoadLatency.WithLabelValues(kind, version, statusLabel(success)).Observe(durationMs)
}

func (m *prometheusIntelligenceMetrics) GetInferenceLatencyHistogram() LatencyHistogram {
	return m.latencyHist
}

func (m *prometheusIntelligenceMetrics) GetCurrentStats() *IntelligenceStats {
	total := m.totalInf.Load()
	stats := &IntelligenceStats{
		TotalInferences:      total,
		SuccessfulInferences: m.successInf.Load(),
		FailedInferences:     m.failedInf.Load(),
		InferencesByKind:     map[string]int64{},
		P50LatencyMs:         m.latencyHist.Percentile(50),
		P95LatencyMs:         m.latencyHist.Percentile(95),
		P99LatencyMs:         m.latencyHist.Percentile(99),
		CacheHitRate:         hitRate(m.cacheHits.Load(), m.cacheMisses.Load()),
		TrainingRuns:         m.trainings.Load(),
	}
	if total > 0 {
		stats.AvgInferenceLatencyMs = m.latencyHist.Sum() / float64(total)
	}
	m.byKind.Range(func(k, v any) bool {
		stats.InferencesByKind[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	return stats
}

func hitRate(hits, misses int64) float64 {
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// ---------------------------------------------------------------------------
// Noop implementation
// ---------------------------------------------------------------------------

type noopIntelligenceMetrics struct{}

// NewNoopIntelligenceMetrics returns a metrics implementation that records nothing.
func NewNoopIntelligenceMetrics() IntelligenceMetrics { return noopIntelligenceMetrics{} }

func (noopIntelligenceMetrics) RecordInference(context.Context, *InferenceMetricParams)   {}
func (noopIntelligenceMetrics) RecordBatchProcessing(context.Context, *BatchMetricParams) {}
func (noopIntelligenceMetrics) RecordCacheAccess(context.Context, bool, string)           {}
func (noopIntelligenceMetrics) RecordTraining(context.Context, *TrainingMetricParams)     {}
func (noopIntelligenceMetrics) RecordAssessment(context.Context, string, float64)         {}
func (noopIntelligenceMetrics) RecordModelLoad(context.Context, string, string, float64, bool) {
}
func (noopIntelligenceMetrics) GetInferenceLatencyHistogram() LatencyHistogram {
	return newLatencyHistogram()
}
func (noopIntelligenceMetrics) GetCurrentStats() *IntelligenceStats {
	return &IntelligenceStats{InferencesByKind: map[string]int64{}}
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

// InMemoryIntelligenceMetrics keeps every record in memory. Tests use it to
// count model invocations per kind.
type InMemoryIntelligenceMetrics struct {
	mu sync.Mutex

	inferences  []InferenceMetricParams
	batches     []BatchMetricParams
	trainings   []TrainingMetricParams
	grades      map[string]int64
	modelLoads  []ModelLoadRecord
	cacheHits   int64
	cacheMisses int64
	latencyHist *latencyHistogram
}

// ModelLoadRecord is one RecordModelLoad call.
type ModelLoadRecord struct {
	Kind       string
	Version    string
	DurationMs float64
	Success    bool
	Timestamp  time.Time
}

// NewInMemoryIntelligenceMetrics returns an empty in-memory collector.
func NewInMemoryIntelligenceMetrics() *InMemoryIntelligenceMetrics {
	return &InMemoryIntelligenceMetrics{grades: map[string]int64{}, latencyHist: newLatencyHistogram()}
}

func (m *InMemoryIntelligenceMetrics) RecordInference(_ context.Context, p *InferenceMetricParams) {
	if p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inferences = append(m.inferences, *p)
	m.latencyHist.Observe(p.DurationMs)
}

func (m *InMemoryIntelligenceMetrics) RecordBatchProcessing(_ context.Context, p *BatchMetricParams) {
	if p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, *p)
}

func (m *InMemoryIntelligenceMetrics) RecordCacheAccess(_ context.Context, hit bool, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.cacheHits++
	} else {
		m.cacheMisses++
	}
}

func (m *InMemoryIntelligenceMetrics) RecordTraining(_ context.Context, p *TrainingMetricParams) {
	if p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trainings = append(m.trainings, *p)
}

func (m *InMemoryIntelligenceMetrics) RecordAssessment(_ context.Context, riskGrade string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grades[riskGrade]++
}

func (m *InMemoryIntelligenceMetrics) RecordModelLoad(_ context.Context, kind, version string, durationMs float64, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modelLoads = append(m.modelLoads, ModelLoadRecord{
		Kind: kind, Version: version, DurationMs: durationMs, Success: success, Timestamp: time.Now(),
	})
}

func (m *InMemoryIntelligenceMetrics) GetInferenceLatencyHistogram() LatencyHistogram {
	return m.latencyHist
}

func (m *InMemoryIntelligenceMetrics) GetCurrentStats() *IntelligenceStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &IntelligenceStats{
		TotalInferences:  int64(len(m.inferences)),
		InferencesByKind: map[string]int64{},
		P50LatencyMs:     m.latencyHist.Percentile(50),
		P95LatencyMs:     m.latencyHist.Percentile(95),
		P99LatencyMs:     m.latencyHist.Percentile(99),
		CacheHitRate:     hitRate(m.cacheHits, m.cacheMisses),
		TrainingRuns:     int64(len(m.trainings)),
	}
	var sum float64
	for _, inf := range m.inferences {
		if inf.Success {
			stats.SuccessfulInferences++
		} else {
			stats.FailedInferences++
		}
		stats.InferencesByKind[inf.Kind]++
		sum += inf.DurationMs
	}
	if stats.TotalInferences > 0 {
		stats.AvgInferenceLatencyMs = sum / float64(stats.TotalInferences)
	}
	return stats
}

// InferenceCount returns how many inferences were recorded for kind.
func (m *InMemoryIntelligenceMetrics) InferenceCount(kind ModelKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, inf := range m.inferences {
		if inf.Kind == string(kind) {
			n++
		}
	}
	return n
}

// Inferences returns a copy of all recorded inference events.
func (m *InMemoryIntelligenceMetrics) Inferences() []InferenceMetricParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]InferenceMetricParams(nil), m.inferences...)
}

// Batches returns a copy of all recorded batch events.
func (m *InMemoryIntelligenceMetrics) Batches() []BatchMetricParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]BatchMetricParams(nil), m.batches...)
}

// Trainings returns a copy of all recorded training runs.
func (m *InMemoryIntelligenceMetrics) Trainings() []TrainingMetricParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TrainingMetricParams(nil), m.trainings...)
}

// CacheCounts returns the hit and miss totals.
func (m *InMemoryIntelligenceMetrics) CacheCounts() (hits, misses int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cacheHits, m.cacheMisses
}

// GradeCounts returns a copy of the risk grade counts.
func (m *InMemoryIntelligenceMetrics) GradeCounts() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.grades))
	for k, v := range m.grades {
		out[k] = v
	}
	return out
}

// ModelLoads returns a copy of all model load records.
func (m *InMemoryIntelligenceMetrics) ModelLoads() []ModelLoadRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ModelLoadRecord(nil), m.modelLoads...)
}

// ---------------------------------------------------------------------------
// latencyHistogram
// ---------------------------------------------------------------------------

type latencyHistogram struct {
	mu      sync.Mutex
	samples []float64
	sum     float64
	sorted  bool
}

func newLatencyHistogram() *latencyHistogram {
	return &latencyHistogram{samples: make([]float64, 0, 256)}
}

func (h *latencyHistogram) Observe(durationMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = append(h.samples, durationMs)
	h.sum += durationMs
	h.sorted = false
}

// Percentile interpolates linearly between the two nearest ranks
// (PERCENTILE.INC).
func (h *latencyHistogram) Percentile(p float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.samples)
	if n == 0 {
		return 0
	}
	if !h.sorted {
		sort.Float64s(h.samples)
		h.sorted = true
	}
	if p <= 0 {
		return h.samples[0]
	}
	if p >= 100 {
		return h.samples[n-1]
	}
	rank := (p / 100) * float64(n-1)
	lower := int(math.Floor(rank))
	upper := lower + 1
	if upper >= n {
		return h.samples[n-1]
	}
	frac := rank - float64(lower)
	return h.samples[lower] + frac*(h.samples[upper]-h.samples[lower])
}

func (h *latencyHistogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return int64(len(h.samples))
}

func (h *latencyHistogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

var (
	_ IntelligenceMetrics = (*prometheusIntelligenceMetrics)(nil)
	_ IntelligenceMetrics = noopIntelligenceMetrics{}
	_ IntelligenceMetrics = (*InMemoryIntelligenceMetrics)(nil)
	_ LatencyHistogram    = (*latencyHistogram)(nil)
)
