package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/GeoValue-Intelligence/internal/interfaces/http/handlers"
	"github.com/turtacn/GeoValue-Intelligence/internal/interfaces/http/middleware"
	"github.com/turtacn/GeoValue-Intelligence/pkg/errors"
)

// RouterConfig aggregates the handler and middleware dependencies of the
// route tree. Nil handlers leave their routes unmounted.
type RouterConfig struct {
	// Handlers
	EngineHandler *handlers.EngineHandler
	HealthHandler *handlers.HealthHandler

	// Middleware
	RateLimiter     middleware.RateLimiter
	RateLimitConfig middleware.RateLimitConfig
	LoggingConfig   middleware.LoggingConfig

	// Infrastructure
	Logger         logging.Logger
	Metrics        *prometheus.AppMetrics
	MetricsHandler http.Handler

	// Mode is the gin mode: debug, release or test.
	Mode string
}

// NewRouter builds the route tree: probes and metrics at the root, engine
// endpoints under /api/v1.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogging(cfg.Logger, cfg.Metrics, cfg.LoggingConfig))
	if cfg.RateLimiter != nil {
		r.Use(middleware.RateLimit(cfg.RateLimiter, cfg.RateLimitConfig))
	}

	if cfg.HealthHandler != nil {
		cfg.HealthHandler.RegisterRoutes(r)
	}
	if cfg.MetricsHandler != nil {
		r.GET("/metrics", gin.WrapH(cfg.MetricsHandler))
	}

	api := r.Group("/api/v1")
	registerEngineRoutes(api, cfg.EngineHandler)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, handlers.ErrorResponse{
			Code:    errors.CodeNotFound.String(),
			Message: "route not found",
		})
	})
	return r
}

func registerEngineRoutes(r *gin.RouterGroup, h *handlers.EngineHandler) {
	if h == nil {
		return
	}
	h.RegisterRoutes(r)
}
