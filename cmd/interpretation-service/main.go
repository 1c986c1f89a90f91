// main package for the interpretation-service
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/interpretation-service/internal/cache"
	"github.com/book-expert/interpretation-service/internal/config"
	"github.com/book-expert/interpretation-service/internal/engine"
	"github.com/book-expert/interpretation-service/internal/export"
	"github.com/book-expert/interpretation-service/internal/httpapi"
	"github.com/book-expert/interpretation-service/internal/objectstore"
	"github.com/book-expert/interpretation-service/internal/persona"
	"github.com/book-expert/interpretation-service/internal/provider"
	"github.com/book-expert/interpretation-service/internal/retry"
	"github.com/book-expert/interpretation-service/internal/worker"
	"github.com/book-expert/logger"
	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func loadCatalogue(path string) (*persona.Registry, error) {
	if path == "" {
		return persona.LoadDefault()
	}

	return persona.LoadFile(path)
}

func tierPolicy(cfg *config.Config) engine.TierPolicy {
	settings := func(model config.ModelConfig) engine.ModelSettings {
		return engine.ModelSettings{
			ModelID:     model.ModelID,
			Temperature: model.Temperature,
			TopP:        model.TopP,
			MaxTokens:   model.MaxTokens,
		}
	}

	return engine.TierPolicy{
		Fast:               settings(cfg.Models.Fast),
		Balanced:           settings(cfg.Models.Balanced),
		Quality:            settings(cfg.Models.Quality),
		FastTokenThreshold: cfg.Generation.FastTokenThreshold,
	}
}

func newOrchestrator(cfg *config.Config, log *logger.Logger) (*engine.Orchestrator, *provider.HTTPClient, error) {
	registry, err := loadCatalogue(cfg.Generation.PersonaCatalogue)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load persona catalogue: %w", err)
	}

	client := provider.NewHTTPClient(cfg.Provider.Endpoint, cfg.ProviderTimeout())

	orchestrator, err := engine.New(engine.Config{
		Catalogue: registry,
		Cache:     cache.New(cfg.Cache.MaxSizeBytes, cfg.Cache.EntryOverheadBytes),
		Executor: retry.NewExecutor(retry.Config{
			MaxAttempts: cfg.Generation.MaxAttempts,
			BaseDelay:   cfg.BaseDelay(),
			Sleep:       retry.SleepContext,
		}, log),
		Provider:       client,
		Tiers:          tierPolicy(cfg),
		MaxConcurrency: cfg.Generation.MaxConcurrency,
		Now:            nil,
		Log:            log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	log.Info("Loaded %d personas.", registry.Len())

	return orchestrator, client, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), "interpretation-service-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, "interpretation-service.log")
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Build the generation pipeline
	orchestrator, client, err := newOrchestrator(cfg, finalLog)
	if err != nil {
		finalLog.Error("%v", err)

		return err
	}

	healthErr := client.HealthCheck(ctx)
	if healthErr != nil {
		finalLog.Warn("Provider health check failed, continuing: %v", healthErr)
	}

	// 5. Connect to NATS and the export bucket
	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name("interpretation-service"))
	if err != nil {
		finalLog.Error("Failed to connect to NATS at %s: %v", cfg.NATS.URL, err)

		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, cfg.NATS.ExportBucket, objectstore.Options{TTL: 0, MaxBytes: 0})
	if err != nil {
		finalLog.Error("Failed to open export bucket: %v", err)

		return fmt.Errorf("failed to open export bucket: %w", err)
	}

	natsWorker, err := worker.NewNatsWorker(natsConnection, orchestrator, worker.Options{
		Subject:       cfg.NATS.RequestSubject,
		QueueGroup:    cfg.NATS.QueueGroup,
		Exporter:      export.NewSink(store, finalLog),
		HandleTimeout: cfg.RequestBudget(),
		MaxInFlight:   cfg.NATS.MaxInFlight,
	}, finalLog)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	// 6. Serve until interrupted
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return natsWorker.Run(groupCtx)
	})

	if cfg.HTTP.Enabled {
		gin.SetMode(gin.ReleaseMode)

		server := httpapi.New(orchestrator, finalLog)

		group.Go(func() error {
			return server.Run(groupCtx, cfg.HTTP.ListenAddr)
		})
	}

	finalLog.System("Interpretation-Service successfully initialized. Listening for requests on subject: %s",
		cfg.NATS.RequestSubject)

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		finalLog.Error("Service stopped with error: %v", err)

		return err
	}

	finalLog.System("Interpretation-Service stopped.")

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
