package heatmap

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/messaging/events"
	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/common"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/features"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/nn"
	"github.com/turtacn/GeoValue-Intelligence/pkg/errors"
)

// Predictor runs one model over a batch of feature rows.
type Predictor interface {
	Predict(ctx context.Context, kind common.ModelKind, x *nn.Matrix) (*nn.Matrix, error)
}

// DefaultBatchSize is the number of grid points per model call.
const DefaultBatchSize = 100

const outputsPerPoint = 4

// Evaluator runs the heatmap model over lattices and single locations.
type Evaluator struct {
	predictor   Predictor
	publisher   events.Publisher
	metrics     common.IntelligenceMetrics
	logger      logging.Logger
	batchSize   int
	calibration Calibration
}

// Option configures an Evaluator.
type Option func(*Evaluator)

func WithPublisher(p events.Publisher) Option {
	return func(e *Evaluator) {
		if p != nil {
			e.publisher = p
		}
	}
}

func WithMetrics(m common.IntelligenceMetrics) Option {
	return func(e *Evaluator) {
		if m != nil {
			e.metrics = m
		}
	}
}

func WithLogger(l logging.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithBatchSize sets the points per model call. Non-positive values keep
// the default.
func WithBatchSize(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

func WithCalibration(c Calibration) Option {
	return func(e *Evaluator) {
		if c.Max > c.Min {
			e.calibration = c
		}
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(name events.Name, payload any) events.Event {
	return events.Event{Name: name, Payload: payload}
}

// NewEvaluator creates an evaluator backed by p.
func NewEvaluator(p Predictor, opts ...Option) *Evaluator {
	e := &Evaluator{
		predictor:   p,
		publisher:   nopPublisher{},
		metrics:     common.NewNoopIntelligenceMetrics(),
		logger:      logging.NewNopLogger(),
		batchSize:   DefaultBatchSize,
		calibration: DefaultCalibration,
	}
	for _, o := range opts {
		o(e)
	}
	e.logger = e.logger.Named("heatmap")
	return e
}

// Calibration returns the intensity window in use.
func (e *Evaluator) Calibration() Calibration { return e.calibration }

// Evaluate predicts every lattice point of b at resolution with the
// attributes in f. Batches run sequentially with one model call each, and
// a heatmap_progress event follows every batch. Predicates in f are not
// applied; see FilterAndRank.
func (e *Evaluator) Evaluate(ctx context.Context, b Bounds, resolution int, f Filters) ([]Point, error) {
	grid, err := GenerateGrid(b, resolution)
	if err != nil {
		return nil, err
	}
	batches := Chunk(grid, e.batchSize)
	points := make([]Point, 0, len(grid))
	start := time.Now()

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := e.predictBatch(ctx, batch, f.HeatmapAttributes)
		if err != nil {
			e.recordBatch(ctx, len(grid), len(points), start)
			return nil, err
		}
		for j, gp := range batch {
			row := out.Row(j)
			points = append(points, Point{
				GridPoint:  gp,
				Value:      row[0],
				Demand:     row[1],
				Investment: row[2],
				Risk:       row[3],
				Intensity:  e.calibration.Normalize(row[0]),
			})
		}
		progress := int(math.Round(100 * float64(i+1) / float64(len(batches))))
		e.publisher.Publish(events.HeatmapProgress, events.ProgressPayload{Progress: progress})
	}

	e.recordBatch(ctx, len(grid), len(points), start)
	e.logger.Debug("grid evaluated",
		logging.Int("points", len(points)),
		logging.Int("batches", len(batches)),
		logging.Duration("elapsed", time.Since(start)))
	return points, nil
}

func (e *Evaluator) predictBatch(ctx context.Context, batch []GridPoint, attrs features.HeatmapAttributes) (*nn.Matrix, error) {
	rows := make([]features.Vector, len(batch))
	for i, gp := range batch {
		rows[i] = features.Heatmap(gp.Latitude, gp.Longitude, attrs)
	}
	x, err := features.Stack(rows, common.MustDescribe(common.KindHeatmap).InputWidth)
	if err != nil {
		return nil, err
	}
	out, err := e.predictor.Predict(ctx, common.KindHeatmap, x)
	if err != nil {
		return nil, err
	}
	if out.Rows != len(batch) || out.Cols != outputsPerPoint {
		return nil, errors.ShapeMismatch(fmt.Sprintf("heatmap model returned %dx%d for %d points", out.Rows, out.Cols, len(batch)))
	}
	return out, nil
}

func (e *Evaluator) recordBatch(ctx context.Context, total, done int, start time.Time) {
	elapsed := float64(time.Since(start).Microseconds()) / 1000
	avg := 0.0
	if done > 0 {
		avg = elapsed / float64(done)
	}
	e.metrics.RecordBatchProcessing(ctx, &common.BatchMetricParams{
		BatchName:         "heatmap_grid",
		TotalItems:        total,
		SuccessItems:      done,
		FailedItems:       total - done,
		TotalDurationMs:   elapsed,
		AvgItemDurationMs: avg,
		MaxConcurrency:    1,
	})
}
