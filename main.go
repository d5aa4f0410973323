// Command upscaler runs the image super-resolution worker: a WebSocket
// endpoint in front of a single-threaded ONNX inference loop with tiled
// execution, a weight cache, and a SQLite run journal.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"upscaler/backend"
	"upscaler/db"
	"upscaler/logging"
	"upscaler/pipeline"
	"upscaler/shutdown"
	"upscaler/transport"
	"upscaler/worker"
)

func main() {
	// Load .env if present. Logger is not up yet, so plain fmt.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Printf("Warning: could not load .env: %v\n", err)
	}

	if HandleServiceCommand(os.Args[1:]) {
		return
	}
	if ran, err := RunAsService(); ran {
		if err != nil {
			fmt.Printf("Service error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Printf("Fatal: %v\n", err)
		os.Exit(1)
	}
}

// run wires the process together and blocks until shutdown completes.
func run() error {
	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.NewLogger(cfg.DevMode, cfg.LogFilePath)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer logger.Sync()

	sessionID := uuid.NewString()
	color.Cyan("upscaler worker starting")
	color.White("  session  %s", sessionID)
	color.White("  listen   %s", cfg.ListenAddr)
	color.White("  registry %s", cfg.RegistryPath)

	logger.Info("Configuration loaded",
		zap.String("session_id", sessionID),
		zap.String("listen_addr", cfg.ListenAddr),
		zap.String("registry", cfg.RegistryPath),
		zap.String("weights_dir", cfg.WeightsDir),
		zap.String("database", cfg.DatabasePath),
		zap.Bool("shared_memory", cfg.SharedMemory),
		zap.Bool("auth_enabled", cfg.AccessTokenHash != ""),
		zap.Bool("dev_mode", cfg.DevMode),
	)

	if err := os.MkdirAll(cfg.WeightsDir, 0o755); err != nil {
		return fmt.Errorf("create weights directory: %w", err)
	}

	conn, err := db.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := db.MigrateUp(conn, cfg.MigrationsPath); err != nil {
		conn.Close()
		return fmt.Errorf("apply migrations: %w", err)
	}
	journal := db.NewJournal(db.NewRuns(conn), logger)
	journal.Start()

	registry, err := pipeline.LoadRegistry(cfg.RegistryPath)
	if err != nil {
		conn.Close()
		return fmt.Errorf("load model registry: %w", err)
	}
	logger.Info("Model registry loaded", zap.Strings("models", registry.ModelNames()))

	builder := &pipeline.ONNXBuilder{
		Registry:    registry,
		Fetcher:     pipeline.NewHTTPWeightFetcher(cfg.WeightsDir),
		LibraryPath: cfg.ONNXLibraryPath,
	}
	cache := pipeline.NewCache(builder)
	prober := backend.NewProber(backend.WithSharedMemory(cfg.SharedMemory))
	router := transport.NewRunRouter()

	wkr, err := worker.New(worker.Config{
		Prober:        prober,
		Cache:         cache,
		Emit:          router.Dispatch,
		Journal:       journal,
		SessionID:     sessionID,
		Logger:        logger,
		QueueCapacity: cfg.QueueCapacity,
	})
	if err != nil {
		conn.Close()
		return fmt.Errorf("create worker: %w", err)
	}
	wkr.Start()

	manager := shutdown.NewManager(logger.Zap(), shutdown.WithTimeout(cfg.ShutdownTimeout))

	server, err := transport.NewServer(transport.Config{
		Addr:      cfg.ListenAddr,
		TokenHash: cfg.AccessTokenHash,
		Submitter: wkr,
		Router:    router,
		Tracker:   manager.Tracker(),
		Logger:    logger,
	})
	if err != nil {
		wkr.Stop()
		conn.Close()
		return fmt.Errorf("create server: %w", err)
	}

	manager.Register("transport", 10, func(ctx context.Context) error {
		return server.Close(ctx)
	})
	manager.Register("worker", 20, func(ctx context.Context) error {
		wkr.Stop()
		return nil
	})
	manager.Register("journal", 30, func(ctx context.Context) error {
		journal.Close()
		return nil
	})
	manager.Register("database", 35, func(ctx context.Context) error {
		return conn.Close()
	})
	manager.Register("partial-weights", 45, shutdown.CleanupPartialWeights(logger.Zap(), cfg.WeightsDir))
	manager.Start()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error("Server failed", zap.Error(err))
		}
	case <-manager.Context().Done():
	}

	if err := manager.Shutdown(); err != nil {
		return err
	}
	color.Green("upscaler worker stopped")
	return nil
}
