// Package mcp exposes the progress service as Model Context Protocol tools over stdio.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/progress-analytics-server/internal/domain"
)

// Server represents the progress analytics MCP server
type Server struct {
	mcpServer *mcp.Server
	tools     *ToolHandlers
	logger    *logrus.Logger
	toolCount int
}

// NewServer creates an MCP server around the given service.
func NewServer(cfg domain.MCPConfig, svc ProgressService, logger *logrus.Logger) *Server {
	name := cfg.ServerName
	if name == "" {
		name = "progress-analytics"
	}
	version := cfg.ServerVersion
	if version == "" {
		version = "v1.0.0"
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil)
	tools := NewToolHandlers(svc, logger, cfg.RequestTimeout)

	server := &Server{
		mcpServer: mcpServer,
		tools:     tools,
		logger:    logger,
	}
	server.toolCount = tools.Register(mcpServer)

	logger.WithFields(logrus.Fields{
		"server":     name,
		"version":    version,
		"tool_count": server.toolCount,
	}).Info("MCP server initialized")
	return server
}

// Start serves MCP over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting progress analytics MCP server on stdio")

	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// ToolCount returns the number of registered tools.
func (s *Server) ToolCount() int {
	return s.toolCount
}
