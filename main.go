package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"

	"booking_worker/config"
	"booking_worker/core/domain"
	"booking_worker/internal/bootstrap"
	"booking_worker/pkg/logger"
)

const (
	shutdownTimeout = 30 * time.Second // Maximum time to wait for graceful shutdown
)

func main() {
	logger.Init(logger.Config{
		Level:   logger.LevelInfo,
		Service: "booking-worker",
	})

	// Load .env file if exists (for local development)
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	mode := flag.String("mode", "all", "Run mode: api, worker, all, once, replay")
	bucket := flag.String("bucket", "", "Bucket of the message to process (once)")
	key := flag.String("key", "", "Key of the message to process (once)")
	mbox := flag.String("mbox", "", "Path of the mbox file to replay (replay)")
	dryRun := flag.Bool("dry-run", false, "Log replies instead of sending them")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}
	if err := cfg.Validate(*mode); err != nil {
		logger.Fatal("Invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, cleanup, err := bootstrap.NewDependencies(ctx, cfg, bootstrap.Options{Mode: *mode, DryRun: *dryRun})
	if err != nil {
		logger.Fatal("Failed to initialize dependencies: %v", err)
	}
	defer cleanup()

	switch *mode {
	case "api":
		runAPI(ctx, deps)
	case "worker":
		runWorker(ctx, deps)
	case "all":
		go runWorker(ctx, deps)
		runAPI(ctx, deps)
	case "once":
		if *bucket == "" || *key == "" {
			logger.Fatal("-bucket and -key are required in once mode")
		}
		outcome := bootstrap.RunOnce(ctx, deps, domain.Trigger{Bucket: *bucket, Key: *key})
		printJSON(outcome)
		if outcome.Failed() {
			cleanup()
			os.Exit(1)
		}
	case "replay":
		if *mbox == "" {
			logger.Fatal("-mbox is required in replay mode")
		}
		summary, err := bootstrap.RunReplay(ctx, deps, *mbox)
		if err != nil {
			logger.Fatal("Replay failed: %v", err)
		}
		printJSON(summary)
	default:
		logger.Fatal("Unknown mode: %s", *mode)
	}
}

func runAPI(ctx context.Context, deps *bootstrap.Dependencies) {
	app := bootstrap.NewAPI(deps)

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down API server (timeout: %v)...", shutdownTimeout)
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Error("Error shutting down: %v", err)
		} else {
			logger.Info("API server shut down gracefully")
		}
	}()

	addr := ":" + deps.Config.Port
	logger.Info("Starting API server on %s", addr)
	if err := app.Listen(addr); err != nil {
		logger.Fatal("Failed to start server: %v", err)
	}
}

func runWorker(ctx context.Context, deps *bootstrap.Dependencies) {
	w, err := bootstrap.NewWorker(deps)
	if err != nil {
		logger.Fatal("Failed to initialize worker: %v", err)
	}

	logger.Info("Starting worker...")
	if err := w.Run(ctx); err != nil {
		logger.Error("Worker stopped with error: %v", err)
		return
	}
	logger.Info("Worker shut down gracefully")
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		logger.Error("Failed to write result: %v", err)
	}
}
