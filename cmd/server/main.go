package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/progress-analytics-server/internal/api"
	"github.com/progress-analytics-server/internal/app"
	"github.com/progress-analytics-server/internal/config"
	"github.com/progress-analytics-server/internal/logging"
	"github.com/progress-analytics-server/internal/stream"
)

func main() {
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := stream.NewHub(logger)
	go hub.Run(ctx)

	components, err := app.Build(ctx, cfg, logger, app.WithNotifier(hub))
	if err != nil {
		logger.WithError(err).Fatal("Failed to assemble progress service")
	}
	defer components.Close()

	opts := []api.Option{api.WithAlertStream(hub.ServeWS)}
	for name, check := range components.HealthChecks() {
		opts = append(opts, api.WithHealthCheck(name, check))
	}
	server := api.NewServer(configManager, components.Service, logger, opts...)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("Server failed")
		return
	}

	logger.Info("Server stopped")
}
