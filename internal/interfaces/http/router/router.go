// Package router assembles the gin engine serving the bot's web endpoints.
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/imagebot/backend/internal/infrastructure/logger"
	"github.com/imagebot/backend/internal/interfaces/http/handler"
	"github.com/imagebot/backend/internal/interfaces/http/middleware"
	"go.uber.org/zap"
)

// DefaultMaxBodyBytes bounds webhook bodies; gateway notifications are small.
const DefaultMaxBodyBytes int64 = 64 << 10

// Config configures the engine
type Config struct {
	ServiceName    string
	TracingEnabled bool
	TrustedProxies []string
	MaxBodyBytes   int64
	Mode           string
}

// Deps are the handlers mounted on the engine
type Deps struct {
	Health        *handler.HealthHandler
	Notifications *handler.PaymentNotificationHandler
	Logger        *zap.Logger
}

// Setup builds the gin engine with middleware and routes registered.
func Setup(cfg Config, deps Deps) (*gin.Engine, error) {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}

	engine.Use(
		middleware.Tracing(middleware.TracingConfig{ServiceName: cfg.ServiceName, Enabled: cfg.TracingEnabled}),
		logger.GinMiddleware(log),
		logger.Recovery(log),
		middleware.SpanEnricher(),
		middleware.BodyLimit(cfg.MaxBodyBytes),
	)

	if deps.Health != nil {
		engine.GET("/health", deps.Health.Health)
	}

	api := engine.Group("/api/v1")
	if deps.Notifications != nil {
		payments := api.Group("/payment/notifications")
		payments.POST("/yookassa", deps.Notifications.HandleYooKassa)
	}

	return engine, nil
}
