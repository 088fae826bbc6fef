package config

import "time"

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultServerPort      = 8080
	DefaultServerMode      = "release"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 5 * time.Minute
	DefaultShutdownTimeout = 15 * time.Second
	DefaultRateLimitRPS    = 20.0
	DefaultRateLimitBurst  = 40

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	// UAE bounding box.
	DefaultBoundsNorth = 26.084
	DefaultBoundsSouth = 22.633
	DefaultBoundsEast  = 56.396
	DefaultBoundsWest  = 51.583

	DefaultResolution     = 50
	DefaultBatchSize      = 100
	DefaultIntensityMin   = 2000.0
	DefaultIntensityMax   = 25000.0
	DefaultImageBatchSize = 5
	DefaultSlowOperation  = 5 * time.Second

	DefaultImageItemTimeout  = 2 * time.Minute
	DefaultImageBatchTimeout = 15 * time.Minute
	DefaultImageRetries      = 1
	DefaultImageRetryBackoff = 500 * time.Millisecond

	DefaultGridTTL        = 30 * time.Minute
	DefaultAnalysisTTL    = time.Hour
	DefaultImageTTL       = time.Hour
	DefaultCacheKeyPrefix = "geovalue:"

	DefaultSeed                    = 42
	DefaultHeatmapSamples          = 1000
	DefaultValuationSamples        = 2000
	DefaultRiskSamples             = 1500
	DefaultTrendSamples            = 1000
	DefaultInvestmentSamples       = 1800
	DefaultImageSampleScale        = 1.0
	DefaultValidationSplit         = 0.2
	DefaultFineTuneEpochs          = 10
	DefaultFineTuneBatchSize       = 16
	DefaultFineTuneValidationSplit = 0.1

	DefaultStorageBackend = "fs"
	DefaultStorageDir     = "./models"

	DefaultRedisAddr     = "localhost:6379"
	DefaultRedisPoolSize = 10

	DefaultKafkaBroker = "localhost:9092"
	DefaultKafkaTopic  = "geovalue.engine.events"
	DefaultKafkaGroup  = "geovalue-engine"

	DefaultMinIOEndpoint = "localhost:9000"
	DefaultMinIOBucket   = "geovalue-models"

	DefaultMetricsNamespace = "geovalue"
	DefaultMetricsAddr      = ":9090"

	DefaultONNXModelDir = "./models/onnx"
)

// ─────────────────────────────────────────────────────────────────────────────
// ApplyDefaults
// ─────────────────────────────────────────────────────────────────────────────

// ApplyDefaults fills every zero-value field in cfg with its default. Explicit
// configuration always wins.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Server ────────────────────────────────────────────────────────────────
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = DefaultServerMode
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.RateLimitRPS == 0 {
		cfg.Server.RateLimitRPS = DefaultRateLimitRPS
	}
	if cfg.Server.RateLimitBurst == 0 {
		cfg.Server.RateLimitBurst = DefaultRateLimitBurst
	}

	// ── Log ───────────────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}

	// ── Engine ────────────────────────────────────────────────────────────────
	if cfg.Engine.Bounds == (BoundsConfig{}) {
		cfg.Engine.Bounds = BoundsConfig{
			North: DefaultBoundsNorth,
			South: DefaultBoundsSouth,
			East:  DefaultBoundsEast,
			West:  DefaultBoundsWest,
		}
	}
	if cfg.Engine.Resolution == 0 {
		cfg.Engine.Resolution = DefaultResolution
	}
	if cfg.Engine.BatchSize == 0 {
		cfg.Engine.BatchSize = DefaultBatchSize
	}
	if cfg.Engine.IntensityMin == 0 && cfg.Engine.IntensityMax == 0 {
		cfg.Engine.IntensityMin = DefaultIntensityMin
		cfg.Engine.IntensityMax = DefaultIntensityMax
	}
	if cfg.Engine.ImageBatchSize == 0 {
		cfg.Engine.ImageBatchSize = DefaultImageBatchSize
	}
	if cfg.Engine.ImageItemTimeout == 0 {
		cfg.Engine.ImageItemTimeout = DefaultImageItemTimeout
	}
	if cfg.Engine.ImageBatchTimeout == 0 {
		cfg.Engine.ImageBatchTimeout = DefaultImageBatchTimeout
	}
	if cfg.Engine.ImageRetries == 0 {
		cfg.Engine.ImageRetries = DefaultImageRetries
	}
	if cfg.Engine.ImageRetryBackoff == 0 {
		cfg.Engine.ImageRetryBackoff = DefaultImageRetryBackoff
	}
	if cfg.Engine.SlowOperation == 0 {
		cfg.Engine.SlowOperation = DefaultSlowOperation
	}

	// ── Cache ─────────────────────────────────────────────────────────────────
	if cfg.Cache.GridTTL == 0 {
		cfg.Cache.GridTTL = DefaultGridTTL
	}
	if cfg.Cache.AnalysisTTL == 0 {
		cfg.Cache.AnalysisTTL = DefaultAnalysisTTL
	}
	if cfg.Cache.ImageTTL == 0 {
		cfg.Cache.ImageTTL = DefaultImageTTL
	}
	if cfg.Cache.KeyPrefix == "" {
		cfg.Cache.KeyPrefix = DefaultCacheKeyPrefix
	}

	// ── Training ──────────────────────────────────────────────────────────────
	t := &cfg.Training
	if t.Seed == 0 {
		t.Seed = DefaultSeed
	}
	if t.HeatmapSamples == 0 {
		t.HeatmapSamples = DefaultHeatmapSamples
	}
	if t.ValuationSamples == 0 {
		t.ValuationSamples = DefaultValuationSamples
	}
	if t.RiskSamples == 0 {
		t.RiskSamples = DefaultRiskSamples
	}
	if t.TrendSamples == 0 {
		t.TrendSamples = DefaultTrendSamples
	}
	if t.InvestmentSamples == 0 {
		t.InvestmentSamples = DefaultInvestmentSamples
	}
	if t.ImageSampleScale == 0 {
		t.ImageSampleScale = DefaultImageSampleScale
	}
	if t.ValidationSplit == 0 {
		t.ValidationSplit = DefaultValidationSplit
	}
	if t.FineTuneEpochs == 0 {
		t.FineTuneEpochs = DefaultFineTuneEpochs
	}
	if t.FineTuneBatchSize == 0 {
		t.FineTuneBatchSize = DefaultFineTuneBatchSize
	}
	if t.FineTuneValidationSplit == 0 {
		t.FineTuneValidationSplit = DefaultFineTuneValidationSplit
	}

	// ── Storage ───────────────────────────────────────────────────────────────
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultStorageBackend
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = DefaultStorageDir
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = DefaultRedisPoolSize
	}

	// ── Kafka ─────────────────────────────────────────────────────────────────
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = DefaultKafkaTopic
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = DefaultKafkaGroup
	}

	// ── MinIO ─────────────────────────────────────────────────────────────────
	if cfg.MinIO.Endpoint == "" {
		cfg.MinIO.Endpoint = DefaultMinIOEndpoint
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = DefaultMinIOBucket
	}

	// ── Metrics ───────────────────────────────────────────────────────────────
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = DefaultMetricsAddr
	}

	// ── ONNX ──────────────────────────────────────────────────────────────────
	if cfg.ONNX.ModelDir == "" {
		cfg.ONNX.ModelDir = DefaultONNXModelDir
	}
}

// NewDefaultConfig returns a Config populated entirely from defaults.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
