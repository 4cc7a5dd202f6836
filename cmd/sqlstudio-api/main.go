package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sqlstudio/sqlstudio/internal/api"
	"github.com/sqlstudio/sqlstudio/internal/auth"
	"github.com/sqlstudio/sqlstudio/internal/bootstrap"
	"github.com/sqlstudio/sqlstudio/internal/config"
	"github.com/sqlstudio/sqlstudio/internal/knowledge"
	"github.com/sqlstudio/sqlstudio/internal/observability"
)

func main() {
	cfg, err := config.LoadFromEnv("sqlstudio-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := bootstrap.NewManager(cfg, logger)
	defer func() { _ = manager.CloseAll() }()
	registered, err := bootstrap.RegisterConnections(ctx, manager, cfg, logger)
	if err != nil {
		logger.Warn("connection registration incomplete", slog.Int("registered", registered), slog.Any("error", err))
	}

	client, err := bootstrap.NewChatClient(cfg.AI)
	if err != nil {
		logger.Error("failed to initialize ai client", slog.Any("error", err))
		os.Exit(1)
	}
	if client == nil {
		logger.Warn("ai client not configured; agent runs are disabled")
	}

	kb, err := bootstrap.NewKnowledge(cfg.Knowledge)
	if err != nil {
		logger.Error("failed to open knowledge base", slog.Any("error", err))
		os.Exit(1)
	}

	exporter, err := bootstrap.NewExporter(ctx, cfg.Export, logger)
	if err != nil {
		logger.Error("failed to initialize export store", slog.Any("error", err))
		os.Exit(1)
	}

	svc := bootstrap.NewAgentService(cfg, client, manager, kb.Retriever, logger)
	deps := api.Dependencies{
		Logger:           logger,
		Connections:      manager,
		ConnectionConfig: cfg.Database,
		Agent:            svc,
		Readiness: api.CombineReadinessChecks(
			api.CheckAIConfigured(svc),
			api.CheckConnections(manager),
		),
		DependencyTimeout: time.Second,
	}
	if exporter != nil {
		deps.Exporter = exporter
	}
	if kb.Store != nil {
		deps.Knowledge = kb.Store
	}
	if client != nil {
		deps.Keywords = knowledge.NewKeywordExtractor(client)
		deps.Models = client.Models
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address), slog.Int("connections", registered))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
