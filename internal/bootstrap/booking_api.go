package bootstrap

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"

	"booking_worker/adapter/in/http"
	"booking_worker/infra/middleware"
)

// NewAPI builds the fiber app serving the inbound trigger routes.
func NewAPI(deps *Dependencies) *fiber.App {
	cfg := deps.Config

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(deps.Log),
		DisableStartupMessage: cfg.IsProduction(),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             25 * 1024 * 1024,
		ReadTimeout:           30 * time.Second,
		// a synchronous run may take several model round trips
		WriteTimeout: 5 * time.Minute,
	})

	app.Use(middleware.Recover(deps.Log))
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders(deps.Config.IsProduction()))
	app.Use(middleware.RequestLogger(deps.Log))

	checks := map[string]http.Pinger{}
	if deps.Redis != nil {
		checks["redis"] = http.PingFunc(func(ctx context.Context) error { return deps.Redis.Ping(ctx).Err() })
	}
	if deps.Mongo != nil {
		checks["mongo"] = http.PingFunc(func(ctx context.Context) error { return deps.Mongo.Ping(ctx, nil) })
	}
	http.NewHealthHandler(checks).Register(app)

	if cfg.TriggerJWTSecret == "" {
		deps.Log.Warn("TRIGGER_JWT_SECRET not set, inbound routes are unauthenticated")
	}
	app.Use("/v1", middleware.TriggerAuth(cfg.TriggerJWTSecret))
	if cfg.InboundRateLimit > 0 {
		app.Use("/v1", middleware.NewRateLimiter(cfg.InboundRateLimit, time.Minute).Handler())
	}

	handler := http.NewInboundHandler(deps.Pipeline, deps.Publisher, deps.BlobWriter, deps.Log)
	handler.Register(app)

	return app
}
