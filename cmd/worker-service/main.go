package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/media-vetting/internal/archive"
	"github.com/cuongbtq/media-vetting/internal/bootstrap"
	"github.com/cuongbtq/media-vetting/internal/config"
	"github.com/cuongbtq/media-vetting/internal/coordinator"
	"github.com/cuongbtq/media-vetting/internal/events"
	"github.com/cuongbtq/media-vetting/internal/worker"
	"github.com/cuongbtq/media-vetting/shared/postgresql"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

// abortGrace bounds the wait for aborted handlers to release their jobs
const abortGrace = 15 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to the shared store
	store, err := bootstrap.OpenStore(ctx, &cfg.Redis, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer store.Close()

	core, err := bootstrap.NewCore(cfg, store, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to build queue: %w", err)
	}

	kinds, err := cfg.Worker.KindList()
	if err != nil {
		return err
	}

	client := bootstrap.NewCapabilityClient(&cfg.Capability, appLogger.Logger)
	handlers := bootstrap.Handlers(client, core.Coordinator, appLogger.Logger)

	workers := make([]*worker.Worker, 0, len(kinds))
	for _, kind := range kinds {
		w, err := worker.NewWorker(&worker.Config{
			Logger:          appLogger.Logger,
			Queue:           core.Queue,
			Kind:            kind,
			Handler:         handlers[kind],
			LeaseDuration:   cfg.Worker.LeaseDuration,
			PollInterval:    cfg.Worker.PollInterval,
			StalledInterval: cfg.Worker.StalledInterval,
			JobTimeout:      cfg.Worker.JobTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to create %s worker: %w", kind, err)
		}
		workers = append(workers, w)
	}

	bridge := coordinator.NewBridge(&coordinator.BridgeConfig{
		Queue:   core.Queue,
		Tracker: core.Tracker,
		Logger:  appLogger.Logger,
	})
	reconciler := coordinator.NewReconciler(&coordinator.ReconcilerConfig{
		Queue:    core.Queue,
		Tracker:  core.Tracker,
		Bridge:   bridge,
		Interval: cfg.Progress.ReconcileInterval,
		Logger:   appLogger.Logger,
	})

	// Initialize the result archive
	var dbClient *postgresql.Client
	var recorder *archive.Recorder
	if cfg.Database.Enabled {
		dbClient, err = bootstrap.InitPostgreSQL(ctx, &cfg.Database, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer dbClient.Close()

		storage := archive.NewStorage(dbClient.GetDB(), appLogger.Logger)
		if err := storage.EnsureSchema(ctx); err != nil {
			return err
		}
		recorder = archive.NewRecorder(&archive.RecorderConfig{
			Queue:  core.Queue,
			Saver:  storage,
			Logger: appLogger.Logger,
		})
		appLogger.Info("Result archive enabled")
	}

	// Initialize event sinks
	sinks, err := bootstrap.InitSinks(cfg, appLogger.Logger)
	if err != nil {
		return err
	}
	var forwarder *events.Forwarder
	if len(sinks) > 0 {
		eventKinds, err := cfg.Events.KindList()
		if err != nil {
			return err
		}
		forwarder = events.NewForwarder(&events.ForwarderConfig{
			Queue:  core.Queue,
			Sinks:  sinks,
			Kinds:  eventKinds,
			Logger: appLogger.Logger,
		})
		defer forwarder.Close()
	}

	// Subscribers outlive the workers so the terminal events of draining jobs are still seen
	subCtx, cancelSubs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelSubs()

	subs, subsCtx := errgroup.WithContext(subCtx)
	subs.Go(func() error { return bridge.Run(subsCtx) })
	subs.Go(func() error { return reconciler.Run(subsCtx) })
	if recorder != nil {
		subs.Go(func() error { return recorder.Run(subsCtx) })
	}
	if forwarder != nil {
		subs.Go(func() error { return forwarder.Run(subsCtx) })
	}
	subsDone := make(chan error, 1)
	go func() { subsDone <- subs.Wait() }()

	var pool errgroup.Group
	for _, w := range workers {
		w := w
		pool.Go(func() error { return w.Start(subCtx) })
	}
	workersDone := make(chan error, 1)
	go func() { workersDone <- pool.Wait() }()

	appLogger.Info("Worker service started successfully",
		slog.Int("workers", len(workers)),
		slog.Bool("archive", recorder != nil),
		slog.Int("sinks", len(sinks)),
	)

	var runErr error
	select {
	case <-ctx.Done():
		appLogger.Info("Received signal, shutting down gracefully")
	case err := <-subsDone:
		subsDone <- err
		if err != nil && !errors.Is(err, context.Canceled) {
			appLogger.Error("Event subscriber stopped",
				slog.Any("error", err),
			)
			runErr = err
		}
	case err := <-workersDone:
		workersDone <- err
	}

	// Stop claiming, then give running jobs time to finish
	for _, w := range workers {
		w.Stop()
	}

	select {
	case <-workersDone:
		appLogger.Info("Workers stopped gracefully")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Worker shutdown timeout exceeded, releasing running jobs")
		for _, w := range workers {
			w.Abort()
		}
		select {
		case <-workersDone:
		case <-time.After(abortGrace):
			appLogger.Error("Workers did not return after abort")
		}
	}

	cancelSubs()
	if err := <-subsDone; err != nil && !errors.Is(err, context.Canceled) && runErr == nil {
		runErr = err
	}

	appLogger.Info("Worker service shutdown complete")
	return runErr
}
