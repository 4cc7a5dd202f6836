package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"

	"github.com/sqlstudio/sqlstudio/internal/bootstrap"
	"github.com/sqlstudio/sqlstudio/internal/config"
	"github.com/sqlstudio/sqlstudio/internal/mcpserver"
	"github.com/sqlstudio/sqlstudio/internal/observability"
)

func main() {
	cfg, err := config.LoadFromEnv("sqlstudio-mcp")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	connectionID := flag.String("connection", cfg.Database.ConnectionID, "connection id the tools operate on")
	flag.Parse()

	// stdout carries the MCP protocol.
	logger := observability.NewLogger(cfg, os.Stderr)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := bootstrap.NewManager(cfg, logger)
	defer func() { _ = manager.CloseAll() }()
	if _, err := bootstrap.RegisterConnections(ctx, manager, cfg, logger); err != nil {
		logger.Warn("connection registration incomplete", slog.Any("error", err))
	}
	if _, err := manager.Get(*connectionID); err != nil {
		logger.Error("mcp connection unavailable", slog.String("connection_id", *connectionID), slog.Any("error", err))
		os.Exit(1)
	}

	client, err := bootstrap.NewChatClient(cfg.AI)
	if err != nil {
		logger.Error("failed to initialize ai client", slog.Any("error", err))
		os.Exit(1)
	}
	kb, err := bootstrap.NewKnowledge(cfg.Knowledge)
	if err != nil {
		logger.Error("failed to open knowledge base", slog.Any("error", err))
		os.Exit(1)
	}

	s, err := mcpserver.New(mcpserver.Dependencies{
		Logger:       logger,
		Connections:  manager,
		Agent:        bootstrap.NewAgentService(cfg, client, manager, kb.Retriever, logger),
		ConnectionID: *connectionID,
	})
	if err != nil {
		logger.Error("failed to build mcp server", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("serving mcp over stdio", slog.String("connection_id", *connectionID))
	stdio := server.NewStdioServer(s)
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		logger.Error("mcp server failed", slog.Any("error", err))
		os.Exit(1)
	}
}
