package valuation

import (
	"context"
	"math"
	"net/http"
	"strings"

	"github.com/turtacn/GeoValue-Intelligence/internal/config"
	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/cache"
	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/database/redis"
	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/messaging/events"
	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/storage/minio"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/bootstrap"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/common"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/imaging"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/onnx"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/registry"
	"github.com/turtacn/GeoValue-Intelligence/pkg/errors"
)

// Runtime is the composition root shared by the CLI and the API server.
type Runtime struct {
	Config  *config.Config
	Logger  logging.Logger
	Engine  *Engine
	Bus     *events.Bus
	Metrics *prometheus.AppMetrics

	collector prometheus.MetricsCollector
	minio     *minio.Client
	redis     *redis.Client
	sink      *kafka.EventSink
	consumer  *kafka.Consumer
}

// RegistryOptions maps the training section onto registry options. Image
// kinds get the bootstrap defaults scaled by ImageSampleScale.
func RegistryOptions(t config.TrainingConfig) registry.Options {
	o := registry.DefaultOptions()
	o.Seed = t.Seed
	if t.ValidationSplit > 0 && t.ValidationSplit < 1 {
		o.ValidationSplit = t.ValidationSplit
	}
	o.EpochOverride = t.EpochOverride
	if t.FineTuneEpochs > 0 {
		o.FineTuneEpochs = t.FineTuneEpochs
	}
	if t.FineTuneBatchSize > 0 {
		o.FineTuneBatchSize = t.FineTuneBatchSize
	}
	if t.FineTuneValidationSplit > 0 && t.FineTuneValidationSplit < 1 {
		o.FineTuneValidationSplit = t.FineTuneValidationSplit
	}

	o.Samples = map[common.ModelKind]int{
		common.KindHeatmap:    t.HeatmapSamples,
		common.KindValuation:  t.ValuationSamples,
		common.KindRisk:       t.RiskSamples,
		common.KindTrend:      t.TrendSamples,
		common.KindInvestment: t.InvestmentSamples,
	}
	if t.ImageSampleScale > 0 {
		for _, k := range common.ImageKinds() {
			o.Samples[k] = int(math.Max(1, math.Round(float64(bootstrap.DefaultSamples[k])*t.ImageSampleScale)))
		}
	}
	return o
}

// Build wires the engine and its infrastructure from cfg. Optional
// backends (Redis, Kafka, MinIO, ONNX) are connected only when configured.
// On error every resource opened so far is closed.
func Build(ctx context.Context, cfg *config.Config, log logging.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.InvalidParam("nil config")
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	rt := &Runtime{Config: cfg, Logger: log}
	if err := rt.build(ctx); err != nil {
		if cerr := rt.closeInfra(ctx); cerr != nil {
			log.Warn("closing partially built runtime", logging.Err(cerr))
		}
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) build(ctx context.Context) error {
	cfg, log := rt.Config, rt.Logger
	var err error

	rt.collector, err = prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace:            metricsNamespace(cfg),
		EnableProcessMetrics: true,
		EnableGoMetrics:      true,
	}, log)
	if err != nil {
		return err
	}
	intel, err := common.NewPrometheusIntelligenceMetrics(rt.collector.Registerer(), metricsNamespace(cfg))
	if err != nil {
		return err
	}
	rt.Metrics = prometheus.NewAppMetrics(rt.collector)

	rt.Bus = events.NewBus(events.WithLogger(log))
	rt.Bus.Subscribe(rt.Metrics.EventListener())

	store, err := rt.artifactStore(ctx)
	if err != nil {
		return err
	}

	cacheOpts := []cache.Option{cache.WithMetrics(intel), cache.WithLogger(log)}
	if cfg.Cache.Durable {
		rt.redis, err = redis.NewClient(cfg.Redis, log)
		if err != nil {
			return err
		}
		cacheOpts = append(cacheOpts, cache.WithDurable(redis.NewResultCache(rt.redis, log, redis.WithPrefix(cfg.Cache.KeyPrefix))))
		prometheus.RecordHealth(rt.Metrics, "redis", true)
	}

	regOpts := []registry.Option{
		registry.WithTrainingData(bootstrap.NewGenerator(cfg.Training.Seed)),
		registry.WithPublisher(rt.Bus),
		registry.WithMetrics(intel),
		registry.WithLogger(log),
		registry.WithOptions(RegistryOptions(cfg.Training)),
	}
	if cfg.ONNX.Enabled {
		regOpts = append(regOpts, registry.WithExternalLoader(onnx.NewLoader(cfg.ONNX, log)))
	}

	var images imaging.ImageLoader = imaging.FileLoader{}
	if rt.minio != nil {
		images = minio.NewImageLoader(rt.minio, imaging.FileLoader{})
	}

	rt.Engine, err = New(ConfigFromApp(cfg), Deps{
		Registry:    registry.New(store, regOpts...),
		Cache:       cache.New(cacheOpts...),
		Bus:         rt.Bus,
		ImageLoader: images,
		Metrics:     intel,
		Logger:      log,
	})
	if err != nil {
		return err
	}

	if cfg.Kafka.Enabled {
		if err = rt.connectKafka(); err != nil {
			return err
		}
	}
	return nil
}

func metricsNamespace(cfg *config.Config) string {
	if cfg.Metrics.Namespace != "" {
		return cfg.Metrics.Namespace
	}
	return common.DefaultMetricsNamespace
}

// artifactStore selects the artifact backend. The MinIO client it opens
// also resolves s3:// photo URIs.
func (rt *Runtime) artifactStore(ctx context.Context) (registry.ArtifactStore, error) {
	cfg := rt.Config
	backend := strings.ToLower(cfg.Storage.Backend)
	if backend == "minio" {
		c, err := minio.NewClient(ctx, cfg.MinIO, rt.Logger)
		if err != nil {
			return nil, err
		}
		rt.minio = c
		prometheus.RecordHealth(rt.Metrics, "minio", true)
	}

	switch backend {
	case "minio":
		return minio.NewArtifactStore(rt.minio), nil
	case "memory":
		return registry.NewMemoryStore(), nil
	case "", "fs":
		return registry.NewFileStore(cfg.Storage.Dir), nil
	default:
		return nil, errors.InvalidParam("unknown storage backend " + cfg.Storage.Backend)
	}
}

func (rt *Runtime) connectKafka() error {
	cfg := rt.Config.Kafka
	sink, err := kafka.NewEventSink(cfg, rt.Logger)
	if err != nil {
		return err
	}
	rt.sink = sink
	rt.Bus.Subscribe(sink.Listen)

	if cfg.SamplesTopic == "" {
		return nil
	}
	consumer, err := kafka.NewConsumer(cfg, SamplesHandler(rt.Engine, rt.Metrics, cfg.SamplesTopic, rt.Logger), rt.Logger)
	if err != nil {
		return err
	}
	rt.consumer = consumer
	return nil
}

// Start initializes the engine and begins consuming samples.
func (rt *Runtime) Start(ctx context.Context) error {
	if err := rt.Engine.Initialize(ctx); err != nil {
		return err
	}
	if rt.consumer != nil {
		if err := rt.consumer.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Check is a named readiness probe.
type Check struct {
	name string
	fn   func(ctx context.Context) error
}

func (c Check) Name() string                    { return c.name }
func (c Check) Check(ctx context.Context) error { return c.fn(ctx) }

// Checks returns readiness probes for the engine and each connected backend.
// Results are mirrored into the health_check_status gauge.
func (rt *Runtime) Checks() []Check {
	probe := func(name string, fn func(ctx context.Context) error) Check {
		return Check{name: name, fn: func(ctx context.Context) error {
			err := fn(ctx)
			prometheus.RecordHealth(rt.Metrics, name, err == nil)
			return err
		}}
	}
	checks := []Check{probe("engine", func(context.Context) error { return rt.Engine.Ready() })}
	if rt.redis != nil {
		checks = append(checks, probe("redis", rt.redis.Ping))
	}
	if rt.minio != nil {
		c := rt.minio
		checks = append(checks, probe("minio", func(ctx context.Context) error {
			status, err := c.HealthCheck(ctx)
			if err != nil {
				return err
			}
			if !status.Healthy {
				return errors.New(errors.ErrCodeStorageError, status.Error)
			}
			return nil
		}))
	}
	return checks
}

// MetricsHandler serves the Prometheus registry.
func (rt *Runtime) MetricsHandler() http.Handler { return rt.collector.Handler() }

// Close disposes the engine, then flushes and closes the backends.
func (rt *Runtime) Close(ctx context.Context) error {
	if rt.Engine != nil {
		report := rt.Engine.Dispose()
		rt.Logger.Info("runtime closing",
			logging.Int("models", report.Models),
			logging.Int("cache_entries", report.CacheEntries))
	}
	return rt.closeInfra(ctx)
}

func (rt *Runtime) closeInfra(ctx context.Context) error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if rt.consumer != nil {
		keep(rt.consumer.Close())
		rt.consumer = nil
	}
	if rt.sink != nil {
		keep(rt.sink.Close(ctx))
		rt.sink = nil
	}
	if rt.redis != nil {
		keep(rt.redis.Close())
		rt.redis = nil
	}
	if rt.minio != nil {
		keep(rt.minio.Close())
		rt.minio = nil
	}
	return first
}
