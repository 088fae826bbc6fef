package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix used by all engine settings.
const envPrefix = "GEOVALUE"

// envKeys lists the nested keys that may be supplied purely through the
// environment. Viper only resolves env overrides for keys it knows about, so
// each one is registered before unmarshalling.
var envKeys = []string{
	"server.port", "server.mode", "server.read_timeout", "server.write_timeout",
	"server.shutdown_timeout", "server.rate_limit_rps", "server.rate_limit_burst",
	"log.level", "log.format", "log.sampling",
	"engine.bounds.north", "engine.bounds.south", "engine.bounds.east", "engine.bounds.west",
	"engine.resolution", "engine.batch_size", "engine.intensity_min", "engine.intensity_max",
	"engine.image_batch_size", "engine.image_item_timeout", "engine.image_batch_timeout",
	"engine.image_retries", "engine.image_retry_backoff", "engine.slow_operation",
	"cache.grid_ttl", "cache.analysis_ttl", "cache.image_ttl", "cache.durable", "cache.key_prefix",
	"training.seed", "training.heatmap_samples", "training.valuation_samples",
	"training.risk_samples", "training.trend_samples", "training.investment_samples",
	"training.image_sample_scale", "training.validation_split", "training.epoch_override",
	"training.fine_tune_epochs", "training.fine_tune_batch_size", "training.fine_tune_validation_split",
	"storage.backend", "storage.dir",
	"redis.addr", "redis.password", "redis.db", "redis.pool_size",
	"kafka.enabled", "kafka.brokers", "kafka.topic", "kafka.required_acks", "kafka.compression",
	"kafka.samples_topic", "kafka.group_id",
	"minio.endpoint", "minio.access_key", "minio.secret_key", "minio.bucket", "minio.region", "minio.use_ssl",
	"metrics.enabled", "metrics.namespace", "metrics.addr",
	"onnx.enabled", "onnx.library_path", "onnx.model_dir",
}

// newViper builds a Viper instance with YAML file type, GEOVALUE_ env prefix
// and a "." -> "_" key replacer, so "engine.batch_size" resolves to
// GEOVALUE_ENGINE_BATCH_SIZE.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
	return v
}

// Load reads the YAML file at configPath, merges GEOVALUE_* overrides, applies
// defaults and validates the result.
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}
	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config from GEOVALUE_* environment variables and defaults.
func LoadFromEnv() (*Config, error) {
	return unmarshalAndFinalize(newViper())
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("config: stat env file %q: %w", p, err)
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load env file %q: %w", p, err)
		}
	}
	return nil
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

// Watch monitors configPath and invokes onChange with the re-parsed Config on
// every write. Invalid intermediate states are reported to onError (when
// non-nil) and do not reach onChange. Only settings that are safe to swap at
// runtime (log level, TTLs, rate limits) should be applied by the callback.
func Watch(configPath string, onChange func(*Config), onError func(error)) error {
	v := newViper()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// MustLoad wraps Load and panics on error. For use in main() only.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}
