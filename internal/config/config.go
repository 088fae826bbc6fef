// Package config defines all configuration structures for the GeoValue
// engine. No I/O or parsing logic lives here, only plain data types and
// validation.
package config

import (
	"fmt"
	"time"

	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/monitoring/logging"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server tunables.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // "debug" | "release" | "test"
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimitRPS    float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst"`
}

// BoundsConfig is a geographic bounding box in decimal degrees.
type BoundsConfig struct {
	North float64 `mapstructure:"north"`
	South float64 `mapstructure:"south"`
	East  float64 `mapstructure:"east"`
	West  float64 `mapstructure:"west"`
}

// EngineConfig holds grid evaluation and analysis parameters.
type EngineConfig struct {
	Bounds         BoundsConfig `mapstructure:"bounds"`
	Resolution     int          `mapstructure:"resolution"`
	BatchSize      int          `mapstructure:"batch_size"`
	IntensityMin   float64      `mapstructure:"intensity_min"`
	IntensityMax   float64      `mapstructure:"intensity_max"`
	ImageBatchSize int          `mapstructure:"image_batch_size"`
	// ImageItemTimeout bounds one photo of a bulk run, including lazy
	// training of the image heads on first use.
	ImageItemTimeout  time.Duration `mapstructure:"image_item_timeout"`
	ImageBatchTimeout time.Duration `mapstructure:"image_batch_timeout"`
	// ImageRetries is how often a photo failing with a transient error is
	// retried. Negative disables retries.
	ImageRetries      int           `mapstructure:"image_retries"`
	ImageRetryBackoff time.Duration `mapstructure:"image_retry_backoff"`
	// SlowOperation is the duration above which operations log a warning.
	SlowOperation time.Duration `mapstructure:"slow_operation"`
}

// CacheConfig holds result cache TTLs and the optional durable tier.
type CacheConfig struct {
	GridTTL     time.Duration `mapstructure:"grid_ttl"`
	AnalysisTTL time.Duration `mapstructure:"analysis_ttl"`
	ImageTTL    time.Duration `mapstructure:"image_ttl"`
	Durable     bool          `mapstructure:"durable"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
}

// TrainingConfig holds bootstrap sample counts and fine-tune parameters.
type TrainingConfig struct {
	Seed              int64   `mapstructure:"seed"`
	HeatmapSamples    int     `mapstructure:"heatmap_samples"`
	ValuationSamples  int     `mapstructure:"valuation_samples"`
	RiskSamples       int     `mapstructure:"risk_samples"`
	TrendSamples      int     `mapstructure:"trend_samples"`
	InvestmentSamples int     `mapstructure:"investment_samples"`
	ImageSampleScale  float64 `mapstructure:"image_sample_scale"`
	ValidationSplit   float64 `mapstructure:"validation_split"`
	// EpochOverride replaces every model's epoch count when > 0.
	EpochOverride           int     `mapstructure:"epoch_override"`
	FineTuneEpochs          int     `mapstructure:"fine_tune_epochs"`
	FineTuneBatchSize       int     `mapstructure:"fine_tune_batch_size"`
	FineTuneValidationSplit float64 `mapstructure:"fine_tune_validation_split"`
}

// StorageConfig selects where model artifacts are persisted.
type StorageConfig struct {
	Backend string `mapstructure:"backend"` // "fs" | "minio" | "memory"
	Dir     string `mapstructure:"dir"`
}

// RedisConfig holds Redis connection parameters for the durable cache tier.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// KafkaConfig holds the event sink producer parameters.
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	RequiredAcks int           `mapstructure:"required_acks"`
	Compression  string        `mapstructure:"compression"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	// SamplesTopic carries observed heatmap samples for fine-tuning.
	// Empty disables the consumer.
	SamplesTopic string `mapstructure:"samples_topic"`
	GroupID      string `mapstructure:"group_id"`
}

// MinIOConfig holds object-storage parameters for model artifacts.
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// MetricsConfig controls Prometheus instrumentation.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Addr      string `mapstructure:"addr"`
}

// ONNXConfig enables externally trained ONNX models in place of the built-in networks.
type ONNXConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	LibraryPath string `mapstructure:"library_path"`
	ModelDir    string `mapstructure:"model_dir"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig      `mapstructure:"server"`
	Log      logging.LogConfig `mapstructure:"log"`
	Engine   EngineConfig      `mapstructure:"engine"`
	Cache    CacheConfig       `mapstructure:"cache"`
	Training TrainingConfig    `mapstructure:"training"`
	Storage  StorageConfig     `mapstructure:"storage"`
	Redis    RedisConfig       `mapstructure:"redis"`
	Kafka    KafkaConfig       `mapstructure:"kafka"`
	MinIO    MinIOConfig       `mapstructure:"minio"`
	Metrics  MetricsConfig     `mapstructure:"metrics"`
	ONNX     ONNXConfig        `mapstructure:"onnx"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate performs semantic validation of the fully-populated Config and
// returns the first error encountered.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range [1, 65535]", c.Server.Port)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("config: server.mode %q is invalid; expected debug|release|test", c.Server.Mode)
	}

	switch c.Log.Level {
	case logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError:
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	b := c.Engine.Bounds
	if b.North <= b.South {
		return fmt.Errorf("config: engine.bounds north %.4f must exceed south %.4f", b.North, b.South)
	}
	if b.East <= b.West {
		return fmt.Errorf("config: engine.bounds east %.4f must exceed west %.4f", b.East, b.West)
	}
	if c.Engine.Resolution < 1 {
		return fmt.Errorf("config: engine.resolution must be >= 1, got %d", c.Engine.Resolution)
	}
	if c.Engine.BatchSize < 1 {
		return fmt.Errorf("config: engine.batch_size must be >= 1, got %d", c.Engine.BatchSize)
	}
	if c.Engine.IntensityMax <= c.Engine.IntensityMin {
		return fmt.Errorf("config: engine.intensity_max must exceed intensity_min")
	}
	if c.Engine.ImageItemTimeout < 0 || c.Engine.ImageBatchTimeout < 0 || c.Engine.ImageRetryBackoff < 0 {
		return fmt.Errorf("config: engine.image_item_timeout, image_batch_timeout and image_retry_backoff must not be negative")
	}

	if c.Cache.GridTTL <= 0 || c.Cache.AnalysisTTL <= 0 || c.Cache.ImageTTL <= 0 {
		return fmt.Errorf("config: cache TTLs must be positive")
	}
	if c.Cache.Durable && c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr is required when cache.durable is set")
	}

	if c.Training.ValidationSplit <= 0 || c.Training.ValidationSplit >= 1 {
		return fmt.Errorf("config: training.validation_split must be in (0, 1), got %.2f", c.Training.ValidationSplit)
	}
	if c.Training.FineTuneEpochs < 1 || c.Training.FineTuneBatchSize < 1 {
		return fmt.Errorf("config: training fine-tune epochs and batch size must be >= 1")
	}

	switch c.Storage.Backend {
	case "fs":
		if c.Storage.Dir == "" {
			return fmt.Errorf("config: storage.dir is required for the fs backend")
		}
	case "minio":
		if c.MinIO.Endpoint == "" || c.MinIO.Bucket == "" {
			return fmt.Errorf("config: minio.endpoint and minio.bucket are required for the minio backend")
		}
	case "memory":
	default:
		return fmt.Errorf("config: storage.backend %q is invalid; expected fs|minio|memory", c.Storage.Backend)
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("config: kafka.brokers must contain at least one broker address")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("config: kafka.topic is required")
		}
	}

	if c.ONNX.Enabled && c.ONNX.ModelDir == "" {
		return fmt.Errorf("config: onnx.model_dir is required when onnx is enabled")
	}
	return nil
}
