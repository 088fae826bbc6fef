package imaging

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/messaging/events"
	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/common"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/nn"
	"github.com/turtacn/GeoValue-Intelligence/pkg/errors"
)

// Predictor runs one model over a batch of descriptors.
type Predictor interface {
	Predict(ctx context.Context, kind common.ModelKind, x *nn.Matrix) (*nn.Matrix, error)
}

// AnalyzeFunc analyzes one photo. Bulk runs accept one so callers can put a
// cache in front of Analyze.
type AnalyzeFunc func(ctx context.Context, uri string, opts Options) (*Analysis, error)

// Analyzer runs the image heads over photos resolved by an ImageLoader.
type Analyzer struct {
	predictor   Predictor
	loader      ImageLoader
	publisher   events.Publisher
	metrics     common.IntelligenceMetrics
	logger      logging.Logger
	clock       func() time.Time
	concurrency int

	itemTimeout  time.Duration
	batchTimeout time.Duration
	retries      int
	retryBackoff time.Duration
}

// Option configures an Analyzer.
type Option func(*Analyzer)

func WithPublisher(p events.Publisher) Option {
	return func(a *Analyzer) {
		if p != nil {
			a.publisher = p
		}
	}
}

func WithMetrics(m common.IntelligenceMetrics) Option {
	return func(a *Analyzer) {
		if m != nil {
			a.metrics = m
		}
	}
}

func WithLogger(l logging.Logger) Option {
	return func(a *Analyzer) {
		if l != nil {
			a.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) {
		if now != nil {
			a.clock = now
		}
	}
}

// WithConcurrency bounds bulk runs. Values below 1 are ignored.
func WithConcurrency(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// WithTimeouts bounds each photo and the whole bulk run. Non-positive
// values keep the defaults.
func WithTimeouts(item, batch time.Duration) Option {
	return func(a *Analyzer) {
		if item > 0 {
			a.itemTimeout = item
		}
		if batch > 0 {
			a.batchTimeout = batch
		}
	}
}

// WithRetries retries photos that failed with a transient error up to n
// times, backing off exponentially from backoff.
func WithRetries(n int, backoff time.Duration) Option {
	return func(a *Analyzer) {
		if n >= 0 {
			a.retries = n
		}
		if backoff >= 0 {
			a.retryBackoff = backoff
		}
	}
}

// Transient reports whether err is worth retrying: a per-photo timeout or
// an unavailable backend. Missing or undecodable photos are not.
func Transient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch errors.GetCode(err) {
	case errors.ErrCodeTimeout, errors.ErrCodeStorageError,
		errors.ErrCodeExternalService, errors.ErrCodeServiceUnavailable:
		return true
	}
	return false
}

func (a *Analyzer) batchOptions() []common.BatchOption {
	opts := []common.BatchOption{
		common.WithBatchName("image_bulk"),
		common.WithMaxConcurrency(a.concurrency),
		common.WithItemTimeout(a.itemTimeout),
		common.WithBatchTimeout(a.batchTimeout),
		common.WithBatchMetrics(a.metrics),
		common.WithBatchLogger(a.logger),
	}
	if a.retries > 0 {
		opts = append(opts, common.WithRetryPolicy(&common.RetryPolicy{
			MaxRetries:        a.retries,
			InitialBackoff:    a.retryBackoff,
			MaxBackoff:        10 * a.retryBackoff,
			BackoffMultiplier: 2,
			RetryIf:           Transient,
		}))
	}
	return opts
}

type nopPublisher struct{}

func (nopPublisher) Publish(name events.Name, payload any) events.Event {
	return events.Event{Name: name, Payload: payload}
}

// NewAnalyzer returns an Analyzer. A nil loader reads from the filesystem.
func NewAnalyzer(p Predictor, loader ImageLoader, opts ...Option) *Analyzer {
	if loader == nil {
		loader = FileLoader{}
	}
	a := &Analyzer{
		predictor:   p,
		loader:      loader,
		publisher:   nopPublisher{},
		metrics:     common.NewNoopIntelligenceMetrics(),
		logger:      logging.NewNopLogger(),
		clock:       time.Now,
		concurrency: DefaultBulkConcurrency,

		itemTimeout:  DefaultItemTimeout,
		batchTimeout: DefaultBatchTimeout,
	}
	for _, o := range opts {
		o(a)
	}
	a.logger = a.logger.Named("imaging")
	return a
}

// Analyze loads uri and runs the five heads on its descriptor concurrently.
func (a *Analyzer) Analyze(ctx context.Context, uri string, opts Options) (*Analysis, error) {
	start := a.clock()
	desc, err := a.loader.Load(ctx, uri)
	if err != nil {
		return nil, err
	}
	if len(desc) != common.ImageDescriptorWidth {
		return nil, errors.ShapeMismatch(fmt.Sprintf("image descriptor has %d values, want %d", len(desc), common.ImageDescriptorWidth))
	}
	x, err := nn.FromRows([][]float64{desc})
	if err != nil {
		return nil, err
	}

	var (
		pt    PropertyTypeResult
		cond  ConditionResult
		feats FeatureResult
		room  RoomResult
		price PriceEstimate
	)
	g, gctx := errgroup.WithContext(ctx)
	head := func(kind common.ModelKind, compose func(labels []string, out []float64)) {
		g.Go(func() error {
			d := common.MustDescribe(kind)
			out, err := a.predictor.Predict(gctx, kind, x)
			if err != nil {
				return err
			}
			if out.Rows != 1 || out.Cols != d.OutputWidth() {
				return errors.ShapeMismatch(fmt.Sprintf("%s model returned %dx%d, want 1x%d", kind, out.Rows, out.Cols, d.OutputWidth()))
			}
			compose(d.Outputs, out.Row(0))
			return nil
		})
	}
	head(common.KindImagePropertyType, func(l []string, o []float64) { pt = classifyType(l, o) })
	head(common.KindImageCondition, func(l []string, o []float64) { cond = classifyCondition(l, o) })
	head(common.KindImageFeatures, func(l []string, o []float64) { feats = DetectFeatures(l, o, opts.threshold()) })
	head(common.KindImageRoom, func(l []string, o []float64) { room = classifyRoom(l, o) })
	head(common.KindImagePrice, func(_ []string, o []float64) { price = EstimatePrice(o[0]) })
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Analysis{
		ImageURI:        uri,
		Timestamp:       start.UTC(),
		PropertyType:    pt,
		Condition:       cond,
		Features:        feats,
		RoomType:        room,
		PriceEstimate:   price,
		Confidence:      OverallConfidence(pt, cond, feats, room, price),
		Recommendations: Recommendations(pt, cond, feats),
	}
	a.logger.Debug("image analyzed",
		logging.String("uri", uri),
		logging.String("property_type", pt.Type),
		logging.String("condition", cond.Condition),
		logging.Float64("confidence", res.Confidence))
	return res, nil
}

// ItemError records one failed photo of a bulk run.
type ItemError struct {
	Index int    `json:"index"`
	URI   string `json:"uri"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

// BulkResult is the outcome of AnalyzeBulk. Results keep input order and
// exclude failed photos.
type BulkResult struct {
	Results []*Analysis `json:"results"`
	Errors  []ItemError `json:"errors"`
	Summary Summary     `json:"summary"`
}

// AnalyzeBulk analyzes uris with bounded concurrency. A failing photo is
// recorded in Errors and never aborts the run. analyze defaults to
// a.Analyze.
func (a *Analyzer) AnalyzeBulk(ctx context.Context, uris []string, opts Options, analyze AnalyzeFunc) (*BulkResult, error) {
	if analyze == nil {
		analyze = a.Analyze
	}
	total := len(uris)
	a.publisher.Publish(events.BulkAnalysisStarted, events.BulkPayload{Total: total})

	bp := common.NewBatchProcessor[string, *Analysis](append(a.batchOptions(),
		common.WithProgress(func(done, failed, total int) {
			a.publisher.Publish(events.BulkProgress, events.BulkPayload{
				Completed: done,
				Total:     total,
				Progress:  percent(done, total),
				Failed:    failed,
			})
		}))...)
	br, err := bp.Process(ctx, uris, func(ctx context.Context, uri string) (*Analysis, error) {
		return analyze(ctx, uri, opts)
	})
	if err != nil {
		return nil, err
	}

	failed := 0
	out := &BulkResult{Results: br.Succeeded(), Errors: []ItemError{}}
	for _, ir := range br.Results {
		if ir.Status == common.ItemStatusSuccess {
			continue
		}
		failed++
		out.Errors = append(out.Errors, ItemError{
			Index: ir.Index,
			URI:   uris[ir.Index],
			Code:  errors.GetCode(ir.Error).String(),
			Error: errorText(ir.Error),
		})
	}
	out.Summary = Summarize(out.Results)

	a.publisher.Publish(events.BulkAnalysisCompleted, events.BulkPayload{
		Completed: total,
		Total:     total,
		Progress:  100,
		Failed:    failed,
	})
	a.logger.Info("bulk image analysis finished",
		logging.Int("total", total),
		logging.Int("failed", failed))
	return out, nil
}

func percent(done, total int) int {
	if total == 0 {
		return 100
	}
	return int(float64(done)*100/float64(total) + 0.5)
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
