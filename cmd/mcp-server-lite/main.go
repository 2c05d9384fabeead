// Package main provides the lightweight entry point for the progress analytics MCP server.
// This version requires no external services: measurements and alerts live in SQLite.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/progress-analytics-server/internal/config"
	"github.com/progress-analytics-server/internal/mcp"
)

func main() {
	cfg := config.LoadLiteConfig()

	// log, not logrus: the server's logger does not exist yet and stdout is reserved for MCP
	log.SetOutput(os.Stderr)
	log.Printf("Data directory: %s", cfg.DataDir)

	server, err := mcp.NewLiteServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create MCP server: %v", err)
	}
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		log.Printf("MCP server failed: %v", err)
		return
	}

	log.Println("Progress analytics MCP server (lite) stopped")
}
