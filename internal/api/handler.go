package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sqlstudio/sqlstudio/internal/agent"
	"github.com/sqlstudio/sqlstudio/internal/config"
	"github.com/sqlstudio/sqlstudio/internal/database"
	"github.com/sqlstudio/sqlstudio/internal/export"
	"github.com/sqlstudio/sqlstudio/internal/knowledge"
	"github.com/sqlstudio/sqlstudio/internal/observability"
	"github.com/sqlstudio/sqlstudio/internal/storage"
)

type ReadinessCheck func(ctx context.Context) error

type Exporter interface {
	Export(ctx context.Context, req export.Request) (export.Result, error)
	List(ctx context.Context, connectionID string) ([]storage.ObjectInfo, error)
}

type KnowledgeStore interface {
	List() []knowledge.Item
	Get(id string) (knowledge.Item, error)
	Add(item knowledge.Item) (knowledge.Item, error)
	Update(item knowledge.Item) (knowledge.Item, error)
	Delete(id string) error
}

type KeywordExtractor interface {
	Extract(ctx context.Context, title, content string) ([]string, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Connections       *database.Manager
	ConnectionConfig  config.DatabaseConfig
	Agent             *agent.Service
	Exporter          Exporter
	Knowledge         KnowledgeStore
	Keywords          KeywordExtractor
	Models            func(ctx context.Context) []string
}

type route struct {
	pattern string
	handle  func(Dependencies, http.ResponseWriter, *http.Request)
}

var protectedRoutes = []route{
	{"GET /v1/connections", handleListConnections},
	{"POST /v1/connections", handleCreateConnection},
	{"DELETE /v1/connections/{id}", handleDeleteConnection},
	{"GET /v1/connections/{id}/databases", handleListDatabases},
	{"POST /v1/connections/{id}/use", handleUseDatabase},
	{"GET /v1/connections/{id}/tables", handleListTables},
	{"GET /v1/connections/{id}/schema", handleGetSchema},
	{"POST /v1/connections/{id}/ask", handleAsk},
	{"POST /v1/connections/{id}/execute", handleExecute},
	{"POST /v1/connections/{id}/export", handleExport},
	{"GET /v1/connections/{id}/exports", handleListExports},
	{"GET /v1/models", handleListModels},
	{"POST /v1/knowledge/search", handleKnowledgeSearch},
	{"GET /v1/knowledge", handleListKnowledge},
	{"POST /v1/knowledge", handleAddKnowledge},
	{"GET /v1/knowledge/{id}", handleGetKnowledge},
	{"PUT /v1/knowledge/{id}", handleUpdateKnowledge},
	{"DELETE /v1/knowledge/{id}", handleDeleteKnowledge},
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	for _, rt := range protectedRoutes {
		protected.HandleFunc(rt.pattern, func(w http.ResponseWriter, r *http.Request) {
			rt.handle(deps, w, r)
		})
	}

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	for _, rt := range protectedRoutes {
		mux.Handle(rt.pattern, protectedHandler)
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

// CheckAIConfigured fails readiness while agent runs cannot be served.
func CheckAIConfigured(svc *agent.Service) ReadinessCheck {
	return func(_ context.Context) error {
		if !svc.Configured() {
			return agent.ErrNotConfigured
		}
		return nil
	}
}

// CheckConnections requires at least one registered connection that is
// still connected.
func CheckConnections(manager *database.Manager) ReadinessCheck {
	return func(_ context.Context) error {
		if manager == nil {
			return errors.New("connection registry is not configured")
		}
		for _, info := range manager.List() {
			if info.Connected {
				return nil
			}
		}
		return errors.New("no database connection is established")
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, errorBody(ctx, code, message, retryable, extra))
}

func errorBody(ctx context.Context, code, message string, retryable bool, extra map[string]any) map[string]any {
	return map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	}
}
