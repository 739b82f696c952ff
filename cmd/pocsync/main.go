package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pocsync/pocsync/internal/broker"
	"github.com/pocsync/pocsync/internal/config"
	"github.com/pocsync/pocsync/internal/consumer"
	"github.com/pocsync/pocsync/internal/directory"
	"github.com/pocsync/pocsync/internal/ingress"
	"github.com/pocsync/pocsync/internal/integration"
	"github.com/pocsync/pocsync/internal/pipeline"
	"github.com/pocsync/pocsync/internal/registration"
	"github.com/pocsync/pocsync/internal/router"
	"github.com/pocsync/pocsync/internal/server"
	"github.com/pocsync/pocsync/internal/telemetry"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Initialize OpenTelemetry
	shutdownTracer, err := telemetry.InitTracer("pocsync", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	registration.RegisterBuiltins(logger)

	dir, closeDir, err := buildDirectory(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open pipeline directory: %v", err)
	}
	defer closeDir()

	heartbeat := time.Duration(cfg.Broker.HeartbeatSeconds) * time.Second
	publisher := broker.NewPublisher(cfg.Broker.URL, heartbeat, logger)
	defer publisher.Close()

	rules := router.DefaultRules()
	if len(cfg.Routing.Rules) > 0 {
		rules = rules[:0]
		for _, r := range cfg.Routing.Rules {
			rules = append(rules, router.Rule{Queue: r.Queue, Pattern: r.Pattern})
		}
	}
	rt := router.New(rules)

	executor := pipeline.NewExecutor(integration.Default(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	runConsumer := func(queue string, handler broker.HandlerFunc) {
		c := &broker.Consumer{
			URL:           cfg.Broker.URL,
			Queue:         queue,
			Concurrency:   cfg.Broker.Concurrency,
			PrefetchCount: cfg.Broker.PrefetchCount,
			Heartbeat:     heartbeat,
			Handler:       handler,
			Logger:        logger,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Run(ctx); err != nil {
				logger.Error("consumer stopped",
					slog.String("queue", queue),
					slog.String("error", err.Error()))
			}
		}()
	}

	eventConsumer := consumer.NewEventConsumer(dir, rt, publisher, logger)
	runConsumer(cfg.Broker.EventQueue, eventConsumer.HandleMessage)

	pipelineConsumer := consumer.NewPipelineConsumer(executor, logger)
	for _, queue := range rt.Queues() {
		runConsumer(queue, pipelineConsumer.HandleMessage)
	}

	srv := server.New(cfg.Server.Port, logger)
	handler := ingress.NewHandler(publisher, dir, executor, cfg.Broker.EventQueue, logger)
	srv.Router.Route("/api", handler.Routes)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	logger.Info("pocsync started",
		slog.Int("port", cfg.Server.Port),
		slog.String("event_queue", cfg.Broker.EventQueue),
		slog.String("storage", cfg.Storage.Type))

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, stopping...")
	case err := <-serverErr:
		if err != nil {
			logger.Error("server failed", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown: stop accepting requests, then stop consumers.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}

	cancel()
	wg.Wait()

	logger.Info("pocsync shutdown complete")
}

// buildDirectory picks the pipeline source by storage type. The memory
// directory ships with example pipelines so a fresh checkout routes
// something out of the box.
func buildDirectory(cfg *config.Config, logger *slog.Logger) (directory.Directory, func(), error) {
	if cfg.Storage.Type == "sqlite" {
		store, err := directory.NewStore(cfg.Storage.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using sqlite pipeline directory", slog.String("path", cfg.Storage.SQLite.Path))
		return store, func() { store.Close() }, nil
	}

	logger.Info("using in-memory pipeline directory")
	return directory.NewMemory(demoPipelines()...), func() {}, nil
}

// demoPipelines returns the stock definitions the in-memory directory
// starts with.
func demoPipelines() []pipeline.Pipeline {
	orderLog := pipeline.New(
		"shopee order logger",
		"Logs every shopee order webhook",
		map[string]any{"source": "webhook", "path": "/api/webhook/shopee"},
		[]pipeline.Step{
			pipeline.NewStep("trigger", pipeline.StepTrigger, registration.BuiltinIntegration, "pocsync.core.webhook_trigger", nil, 0),
			pipeline.NewStep("log order", pipeline.StepAction, registration.BuiltinIntegration, "pocsync.log.info",
				map[string]any{"message": "shopee order received"}, 1),
		},
	).WithStatus(pipeline.StatusActive)

	userMapping := pipeline.New(
		"user field mapping",
		"Renames incoming user fields for the sync call endpoint",
		map[string]any{"source": "webhook", "path": "/api/call/users"},
		[]pipeline.Step{
			pipeline.NewStep("trigger", pipeline.StepTrigger, registration.BuiltinIntegration, "pocsync.core.webhook_trigger", nil, 0),
			pipeline.NewStep("map fields", pipeline.StepAction, registration.BuiltinIntegration, "pocsync.transform.map_fields",
				map[string]any{"mapping": map[string]any{"user_id": "id", "user_name": "name"}}, 1),
		},
	).WithStatus(pipeline.StatusActive)

	return []pipeline.Pipeline{orderLog, userMapping}
}
