// Package valuation is the engine facade. It owns the model registry, the
// result cache and the event bus, and exposes heatmap generation, property
// analysis, location prediction, fine-tuning and image analysis on top of
// them.
package valuation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/turtacn/GeoValue-Intelligence/internal/config"
	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/cache"
	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/messaging/events"
	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/common"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/features"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/heatmap"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/imaging"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/nn"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/registry"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/scoring"
	"github.com/turtacn/GeoValue-Intelligence/pkg/errors"
)

// Service is the surface used by the CLI and HTTP handlers.
type Service interface {
	Initialize(ctx context.Context) error
	GenerateHeatmap(ctx context.Context, f heatmap.Filters) ([]heatmap.Point, error)
	AnalyzeProperty(ctx context.Context, p features.Property) (*scoring.Analysis, error)
	GetPredictionForLocation(ctx context.Context, lat, lng float64, details features.HeatmapAttributes) (*heatmap.LocationPrediction, error)
	UpdateModelWithNewData(ctx context.Context, samples []features.Sample) (*registry.FineTuneResult, error)
	AnalyzeImage(ctx context.Context, uri string, opts imaging.Options) (*imaging.Analysis, error)
	AnalyzeImagesBulk(ctx context.Context, uris []string, opts imaging.Options) (*imaging.BulkResult, error)
	Models() []registry.ModelInfo
	Subscribe(l events.Listener) *events.Subscription
	Unsubscribe(s *events.Subscription) bool
	Dispose() DisposeReport
}

// Config holds the engine's tunables.
type Config struct {
	Bounds           heatmap.Bounds
	Resolution       int
	BatchSize        int
	Calibration      heatmap.Calibration
	GridTTL          time.Duration
	AnalysisTTL      time.Duration
	ImageTTL         time.Duration
	ImageConcurrency int
	// ImageItemTimeout and ImageBatchTimeout bound bulk photo runs.
	ImageItemTimeout  time.Duration
	ImageBatchTimeout time.Duration
	// ImageRetries retries transiently failing photos; zero disables.
	ImageRetries      int
	ImageRetryBackoff time.Duration
	SlowOperation     time.Duration
}

// DefaultConfig covers the UAE at 50 steps per axis.
func DefaultConfig() Config {
	return Config{
		Bounds:            heatmap.UAEBounds,
		Resolution:        heatmap.DefaultResolution,
		BatchSize:         heatmap.DefaultBatchSize,
		Calibration:       heatmap.DefaultCalibration,
		GridTTL:           config.DefaultGridTTL,
		AnalysisTTL:       config.DefaultAnalysisTTL,
		ImageTTL:          config.DefaultImageTTL,
		ImageConcurrency:  imaging.DefaultBulkConcurrency,
		ImageItemTimeout:  config.DefaultImageItemTimeout,
		ImageBatchTimeout: config.DefaultImageBatchTimeout,
		ImageRetries:      config.DefaultImageRetries,
		ImageRetryBackoff: config.DefaultImageRetryBackoff,
		SlowOperation:     config.DefaultSlowOperation,
	}
}

// ConfigFromApp maps the application configuration onto the engine.
func ConfigFromApp(c *config.Config) Config {
	cfg := DefaultConfig()
	if c == nil {
		return cfg
	}
	if b := heatmap.BoundsFromConfig(c.Engine.Bounds); b.Validate() == nil {
		cfg.Bounds = b
	}
	if c.Engine.Resolution > 0 {
		cfg.Resolution = c.Engine.Resolution
	}
	if c.Engine.BatchSize > 0 {
		cfg.BatchSize = c.Engine.BatchSize
	}
	if c.Engine.IntensityMax > c.Engine.IntensityMin {
		cfg.Calibration = heatmap.Calibration{Min: c.Engine.IntensityMin, Max: c.Engine.IntensityMax}
	}
	if c.Engine.ImageBatchSize > 0 {
		cfg.ImageConcurrency = c.Engine.ImageBatchSize
	}
	if c.Engine.ImageItemTimeout > 0 {
		cfg.ImageItemTimeout = c.Engine.ImageItemTimeout
	}
	if c.Engine.ImageBatchTimeout > 0 {
		cfg.ImageBatchTimeout = c.Engine.ImageBatchTimeout
	}
	switch {
	case c.Engine.ImageRetries < 0:
		cfg.ImageRetries = 0
	case c.Engine.ImageRetries > 0:
		cfg.ImageRetries = c.Engine.ImageRetries
	}
	if c.Engine.ImageRetryBackoff > 0 {
		cfg.ImageRetryBackoff = c.Engine.ImageRetryBackoff
	}
	if c.Engine.SlowOperation > 0 {
		cfg.SlowOperation = c.Engine.SlowOperation
	}
	if c.Cache.GridTTL > 0 {
		cfg.GridTTL = c.Cache.GridTTL
	}
	if c.Cache.AnalysisTTL > 0 {
		cfg.AnalysisTTL = c.Cache.AnalysisTTL
	}
	if c.Cache.ImageTTL > 0 {
		cfg.ImageTTL = c.Cache.ImageTTL
	}
	return cfg
}

// Deps are the collaborators of an Engine. Registry is required; every
// other field has a working default.
type Deps struct {
	Registry    *registry.Registry
	Cache       *cache.Cache
	Bus         *events.Bus
	ImageLoader imaging.ImageLoader
	Metrics     common.IntelligenceMetrics
	Logger      logging.Logger
	Clock       func() time.Time
}

// DisposeReport counts what Dispose released.
type DisposeReport struct {
	Models       int `json:"models"`
	CacheEntries int `json:"cache_entries"`
	Listeners    int `json:"listeners"`
}

// Engine implements Service.
type Engine struct {
	cfg       Config
	registry  *registry.Registry
	cache     *cache.Cache
	bus       *events.Bus
	evaluator *heatmap.Evaluator
	analyzer  *scoring.Analyzer
	images    *imaging.Analyzer
	logger    logging.Logger
	clock     func() time.Time

	initMu      sync.Mutex
	mu          sync.RWMutex
	initialized bool
	disposed    bool
}

var _ Service = (*Engine)(nil)

// New assembles an engine. Models are not loaded until Initialize.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Registry == nil {
		return nil, errors.InvalidParam("engine requires a model registry")
	}
	if err := cfg.Bounds.Validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = common.NewNoopIntelligenceMetrics()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Bus == nil {
		deps.Bus = events.NewBus(events.WithLogger(deps.Logger), events.WithClock(deps.Clock))
	}
	if deps.Cache == nil {
		deps.Cache = cache.New(cache.WithClock(deps.Clock), cache.WithMetrics(deps.Metrics), cache.WithLogger(deps.Logger))
	}

	e := &Engine{
		cfg:      cfg,
		registry: deps.Registry,
		cache:    deps.Cache,
		bus:      deps.Bus,
		logger:   deps.Logger.Named("engine"),
		clock:    deps.Clock,
	}
	e.evaluator = heatmap.NewEvaluator(deps.Registry,
		heatmap.WithPublisher(deps.Bus),
		heatmap.WithMetrics(deps.Metrics),
		heatmap.WithLogger(deps.Logger),
		heatmap.WithBatchSize(cfg.BatchSize),
		heatmap.WithCalibration(cfg.Calibration))
	e.analyzer = scoring.NewAnalyzer(deps.Registry,
		scoring.WithMetrics(deps.Metrics),
		scoring.WithLogger(deps.Logger),
		scoring.WithClock(deps.Clock))
	e.images = imaging.NewAnalyzer(lazyPredictor{deps.Registry}, deps.ImageLoader,
		imaging.WithPublisher(deps.Bus),
		imaging.WithMetrics(deps.Metrics),
		imaging.WithLogger(deps.Logger),
		imaging.WithClock(deps.Clock),
		imaging.WithConcurrency(cfg.ImageConcurrency),
		imaging.WithTimeouts(cfg.ImageItemTimeout, cfg.ImageBatchTimeout),
		imaging.WithRetries(cfg.ImageRetries, cfg.ImageRetryBackoff))
	return e, nil
}

// lazyPredictor loads image heads on first use.
type lazyPredictor struct {
	reg *registry.Registry
}

func (p lazyPredictor) Predict(ctx context.Context, kind common.ModelKind, x *nn.Matrix) (*nn.Matrix, error) {
	if _, err := p.reg.LoadOrCreate(ctx, kind); err != nil {
		return nil, err
	}
	return p.reg.Predict(ctx, kind, x)
}

// Bus exposes the engine's event bus.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Initialize loads or trains the five core models and publishes
// initialized. Calling it again is a no-op.
func (e *Engine) Initialize(ctx context.Context) error {
	const op = "initialize"
	e.initMu.Lock()
	defer e.initMu.Unlock()

	e.mu.RLock()
	disposed, initialized := e.disposed, e.initialized
	e.mu.RUnlock()
	if disposed {
		return e.fail(op, errors.Disposed("engine was disposed"))
	}
	if initialized {
		return nil
	}

	start := e.clock()
	for _, kind := range common.CoreKinds() {
		if _, err := e.registry.LoadOrCreate(ctx, kind); err != nil {
			return e.fail(op, errors.Wrap(err, errors.CodeUnknown, fmt.Sprintf("load model %s", kind)))
		}
	}
	e.mu.Lock()
	e.initialized = true
	e.mu.Unlock()
	e.bus.Publish(events.Initialized, nil)
	logging.LogOperationDuration(e.logger, op, start, e.cfg.SlowOperation,
		logging.Int("models", len(common.CoreKinds())))
	return nil
}

// Ready reports whether the engine accepts requests. Unlike the request
// methods it publishes nothing.
func (e *Engine) Ready() error {
	e.mu.RLock()
	disposed, initialized := e.disposed, e.initialized
	e.mu.RUnlock()
	switch {
	case disposed:
		return errors.Disposed("engine was disposed")
	case !initialized:
		return errors.NotInitialized("engine is not initialized")
	}
	return nil
}

func (e *Engine) ready(op string) error {
	if err := e.Ready(); err != nil {
		return e.fail(op, err)
	}
	return nil
}

// fail publishes err as an error event and returns it unchanged.
func (e *Engine) fail(op string, err error) error {
	code := errors.GetCode(err)
	if code == errors.CodeUnknown {
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			code = errors.ErrCodeTimeout
		default:
			code = errors.CodeInternal
		}
	}
	e.bus.Publish(events.Error, events.ErrorPayload{Operation: op, Code: code.String(), Message: err.Error()})
	e.logger.Error("operation failed", logging.Operation(op), logging.String("code", code.String()), logging.Err(err))
	return err
}

// GenerateHeatmap evaluates the configured lattice with the attributes in
// f, then filters and ranks the points. Results are cached per filter set.
func (e *Engine) GenerateHeatmap(ctx context.Context, f heatmap.Filters) ([]heatmap.Point, error) {
	const op = "generate_heatmap"
	if err := e.ready(op); err != nil {
		return nil, err
	}
	key, err := cache.Key(f)
	if err != nil {
		return nil, e.fail(op, err)
	}

	start := e.clock()
	e.bus.Publish(events.HeatmapGenerationStarted, nil)
	points, hit, err := cache.GetOrCompute(ctx, e.cache, cache.NamespaceGrid, key, e.cfg.GridTTL,
		func(ctx context.Context) ([]heatmap.Point, error) {
			all, err := e.evaluator.Evaluate(ctx, e.cfg.Bounds, e.cfg.Resolution, f)
			if err != nil {
				return nil, err
			}
			return heatmap.FilterAndRank(all, f), nil
		})
	if err != nil {
		return nil, e.fail(op, err)
	}
	e.bus.Publish(events.HeatmapGenerationCompleted, events.HeatmapCompletedPayload{Points: len(points), Cached: hit})
	logging.LogOperationDuration(e.logger, op, start, e.cfg.SlowOperation,
		logging.Int("points", len(points)), logging.Bool("cached", hit))
	return points, nil
}

// AnalyzeProperty runs the ensemble over p. Results are cached by property
// id, coordinates and size. analysis_started is published only when the
// ensemble actually runs; cache hits publish analysis_completed with Cached
// set.
func (e *Engine) AnalyzeProperty(ctx context.Context, p features.Property) (*scoring.Analysis, error) {
	const op = "analyze_property"
	if err := e.ready(op); err != nil {
		return nil, err
	}

	start := e.clock()
	a, hit, err := cache.GetOrCompute(ctx, e.cache, cache.NamespaceAnalysis, scoring.CacheKey(p), e.cfg.AnalysisTTL,
		func(ctx context.Context) (*scoring.Analysis, error) {
			e.bus.Publish(events.AnalysisStarted, events.AnalysisPayload{PropertyID: p.ID})
			return e.analyzer.Analyze(ctx, p)
		})
	if err != nil {
		return nil, e.fail(op, err)
	}
	e.bus.Publish(events.AnalysisCompleted, events.AnalysisPayload{PropertyID: p.ID, OverallScore: a.OverallScore, Cached: hit})
	logging.LogOperationDuration(e.logger, op, start, e.cfg.SlowOperation,
		logging.String("property_id", p.ID), logging.Bool("cached", hit))
	return a, nil
}

// GetPredictionForLocation scores a single coordinate. It is not cached.
func (e *Engine) GetPredictionForLocation(ctx context.Context, lat, lng float64, details features.HeatmapAttributes) (*heatmap.LocationPrediction, error) {
	const op = "predict_location"
	if err := e.ready(op); err != nil {
		return nil, err
	}
	pred, err := e.evaluator.PredictLocation(ctx, lat, lng, details)
	if err != nil {
		return nil, e.fail(op, err)
	}
	return pred, nil
}

// UpdateModelWithNewData fine-tunes the heatmap model on observed samples.
// Only cached grids are dropped; cached analyses do not depend on the
// heatmap model.
func (e *Engine) UpdateModelWithNewData(ctx context.Context, samples []features.Sample) (*registry.FineTuneResult, error) {
	const op = "update_model"
	if err := e.ready(op); err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, e.fail(op, errors.InvalidParam("no samples supplied"))
	}
	x, y, err := features.HeatmapTrainingSet(samples)
	if err != nil {
		return nil, e.fail(op, err)
	}

	start := e.clock()
	res, err := e.registry.FineTune(ctx, common.KindHeatmap, x, y)
	if err != nil {
		return nil, e.fail(op, err)
	}
	dropped := e.cache.Invalidate(ctx, cache.NamespaceGrid)
	e.bus.Publish(events.ModelUpdated, events.ModelUpdatedPayload{
		Model:      string(res.Kind),
		Version:    res.Version,
		DataPoints: len(samples),
	})
	logging.LogOperationDuration(e.logger, op, start, e.cfg.SlowOperation,
		logging.Int("samples", len(samples)),
		logging.Int("grids_dropped", dropped),
		logging.String("version", res.Version))
	return res, nil
}

type imageKey struct {
	URI     string          `json:"uri"`
	Options imaging.Options `json:"options"`
}

// AnalyzeImage runs the image heads over the photo at uri. The heads are
// loaded or trained on first use.
func (e *Engine) AnalyzeImage(ctx context.Context, uri string, opts imaging.Options) (*imaging.Analysis, error) {
	const op = "analyze_image"
	if err := e.ready(op); err != nil {
		return nil, err
	}
	a, err := e.analyzeImage(ctx, uri, opts)
	if err != nil {
		return nil, e.fail(op, err)
	}
	return a, nil
}

func (e *Engine) analyzeImage(ctx context.Context, uri string, opts imaging.Options) (*imaging.Analysis, error) {
	if uri == "" {
		return nil, errors.InvalidParam("image uri is empty")
	}
	key, err := cache.Key(imageKey{URI: uri, Options: opts})
	if err != nil {
		return nil, err
	}
	e.bus.Publish(events.ImageAnalysisStarted, events.ImagePayload{URI: uri})
	a, hit, err := cache.GetOrCompute(ctx, e.cache, cache.NamespaceImage, key, e.cfg.ImageTTL,
		func(ctx context.Context) (*imaging.Analysis, error) {
			return e.images.Analyze(ctx, uri, opts)
		})
	if err != nil {
		return nil, err
	}
	e.bus.Publish(events.ImageAnalysisCompleted, events.ImagePayload{URI: uri, Confidence: a.Confidence, Cached: hit})
	return a, nil
}

// AnalyzeImagesBulk analyzes uris with bounded concurrency. Failed photos
// are reported per item and do not stop the run.
func (e *Engine) AnalyzeImagesBulk(ctx context.Context, uris []string, opts imaging.Options) (*imaging.BulkResult, error) {
	const op = "analyze_images_bulk"
	if err := e.ready(op); err != nil {
		return nil, err
	}
	start := e.clock()
	res, err := e.images.AnalyzeBulk(ctx, uris, opts, e.analyzeImage)
	if err != nil {
		return nil, e.fail(op, err)
	}
	logging.LogOperationDuration(e.logger, op, start, e.cfg.SlowOperation,
		logging.Int("images", len(uris)), logging.Int("failed", len(res.Errors)))
	return res, nil
}

// Models lists the loaded models.
func (e *Engine) Models() []registry.ModelInfo { return e.registry.Models() }

func (e *Engine) Subscribe(l events.Listener) *events.Subscription { return e.bus.Subscribe(l) }

func (e *Engine) Unsubscribe(s *events.Subscription) bool { return e.bus.Unsubscribe(s) }

// Dispose releases every model, empties the caches and drops all
// listeners. Later calls return Disposed errors. A running Initialize is
// allowed to finish first so that every model it loads is released.
func (e *Engine) Dispose() DisposeReport {
	e.initMu.Lock()
	defer e.initMu.Unlock()
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return DisposeReport{}
	}
	e.disposed = true
	e.mu.Unlock()

	report := DisposeReport{
		Models:       e.registry.DisposeAll(),
		CacheEntries: e.cache.Clear(),
		Listeners:    e.bus.Clear(),
	}
	e.logger.Info("engine disposed",
		logging.Int("models", report.Models),
		logging.Int("cache_entries", report.CacheEntries),
		logging.Int("listeners", report.Listeners))
	return report
}
