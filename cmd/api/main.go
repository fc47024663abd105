package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"

	"regapi/internal/app"
	"regapi/internal/config"
	handlers "regapi/internal/http/handler"
	"regapi/internal/http/middleware"
	"regapi/internal/otel"
)

func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()

	log, err := app.NewLogger(cfg.LogLevel, cfg.Debug)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(ctx, log)
	if err != nil {
		log.Fatal("failed to initialize tracing", zap.Error(err))
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err), zap.String("backend", cfg.Storage.Backend))
	}

	metrics, err := middleware.NewPrometheusMiddleware(a.Registry)
	if err != nil {
		log.Fatal("failed to register http metrics", zap.Error(err))
	}

	srv := fiber.New(fiber.Config{
		ErrorHandler:          handlers.ErrorHandler(),
		DisableStartupMessage: true,
	})

	// Register global middleware
	srv.Use(otelfiber.Middleware())
	srv.Use(middleware.RequestID())
	srv.Use(middleware.Logger(log))
	srv.Use(metrics.Handler())

	handlers.RegisterRoutes(srv, a.Routes())

	go func() {
		<-ctx.Done()
		log.Info("shutdown_start", zap.String("component", "app"))
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.ShutdownWithContext(sctx); err != nil {
			log.Error("http_shutdown_failed", zap.Error(err))
		}
	}()

	addr := ":" + cfg.Port
	log.Info("http_listen", zap.String("component", "app"), zap.String("addr", addr))
	if err := srv.Listen(addr); err != nil {
		log.Error("failed to start server", zap.Error(err))
	}

	cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(cctx); err != nil {
		log.Error("storage_close_failed", zap.Error(err))
	}
	if err := shutdownTracing(cctx); err != nil {
		log.Error("tracing_shutdown_failed", zap.Error(err))
	}
}
