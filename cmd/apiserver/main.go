// Command apiserver serves the GeoValue engine over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/turtacn/GeoValue-Intelligence/internal/application/valuation"
	"github.com/turtacn/GeoValue-Intelligence/internal/config"
	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/monitoring/logging"
	httpserver "github.com/turtacn/GeoValue-Intelligence/internal/interfaces/http"
	"github.com/turtacn/GeoValue-Intelligence/internal/interfaces/http/handlers"
	"github.com/turtacn/GeoValue-Intelligence/internal/interfaces/http/middleware"
)

const (
	defaultConfigPath = "configs/config.yaml"
	shutdownTimeout   = 30 * time.Second
)

var version = "dev"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before configuration")
	httpPort := flag.Int("http-port", 0, "HTTP server port (overrides config)")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	cfg, watchable, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	if *httpPort > 0 {
		cfg.Server.Port = *httpPort
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting GeoValue-Intelligence API server",
		logging.String("version", version),
		logging.Int("http_port", cfg.Server.Port),
		logging.String("storage", cfg.Storage.Backend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := valuation.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build runtime", logging.Err(err))
	}

	limiter := middleware.NewIPRateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.Server.RateLimitRPS,
		BurstSize:         cfg.Server.RateLimitBurst,
		CleanupInterval:   5 * time.Minute,
	})
	defer limiter.Stop()

	if watchable {
		err := config.Watch(*configPath, func(next *config.Config) {
			limiter.SetLimit(next.Server.RateLimitRPS, next.Server.RateLimitBurst)
			logger.Info("configuration reloaded",
				logging.Float64("rate_limit_rps", next.Server.RateLimitRPS),
				logging.Int("rate_limit_burst", next.Server.RateLimitBurst))
		}, func(err error) {
			logger.Warn("ignoring invalid configuration change", logging.Err(err))
		})
		if err != nil {
			logger.Warn("configuration watch disabled", logging.Err(err))
		}
	}

	checks := make([]handlers.HealthChecker, 0, 3)
	for _, c := range rt.Checks() {
		checks = append(checks, c)
	}
	// With metrics.enabled the registry gets its own listener; otherwise it
	// is served from the API port.
	var metricsHandler http.Handler = rt.MetricsHandler()
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsHandler, ReadHeaderTimeout: 5 * time.Second}
		metricsHandler = nil
		go func() {
			logger.Info("metrics server listening", logging.String("addr", cfg.Metrics.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", logging.Err(err))
			}
		}()
	}

	rlCfg := middleware.DefaultRateLimitConfig()
	router := httpserver.NewRouter(httpserver.RouterConfig{
		EngineHandler:   handlers.NewEngineHandler(rt.Engine, logger),
		HealthHandler:   handlers.NewHealthHandler(version, checks...),
		RateLimiter:     limiter,
		RateLimitConfig: rlCfg,
		LoggingConfig:   middleware.DefaultLoggingConfig(),
		Logger:          logger,
		Metrics:         rt.Metrics,
		MetricsHandler:  metricsHandler,
		Mode:            cfg.Server.Mode,
	})
	srv := httpserver.NewServer(cfg.Server, router, logger)

	// Probes answer while the models train; readiness flips once Start returns.
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	if err := rt.Start(ctx); err != nil {
		logger.Error("engine initialization failed", logging.Err(err))
		stop()
	} else {
		logger.Info("engine ready", logging.Int("models", len(rt.Engine.Models())))
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("HTTP server error", logging.Err(err))
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", logging.Err(err))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if err := rt.Close(shutdownCtx); err != nil {
		logger.Error("runtime close error", logging.Err(err))
	}
	logger.Info("server stopped")
}

// loadConfig reads path when it exists, otherwise environment and defaults.
// watchable reports whether the result came from a file.
func loadConfig(path string) (cfg *config.Config, watchable bool, err error) {
	if _, statErr := os.Stat(path); statErr == nil {
		cfg, err = config.Load(path)
		return cfg, err == nil, err
	}
	cfg, err = config.LoadFromEnv()
	return cfg, false, err
}
