package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sqlstudio/sqlstudio/internal/agent"
	"github.com/sqlstudio/sqlstudio/internal/auth"
	"github.com/sqlstudio/sqlstudio/internal/database"
	"github.com/sqlstudio/sqlstudio/internal/observability"
)

func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.HasRole(role) {
		return nil
	}
	return fmt.Errorf("missing required role %q", role)
}

func requireAnyRole(r *http.Request, roles ...string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	for _, role := range roles {
		if identity.HasRole(role) {
			return nil
		}
	}
	return fmt.Errorf("missing required role, expected one of %q", strings.Join(roles, ","))
}

// connectionFor checks role and connection scope, then resolves the path's
// connection. It writes the error response itself and returns false on
// failure.
func connectionFor(deps Dependencies, w http.ResponseWriter, r *http.Request, roles ...string) (string, database.Connector, bool) {
	if deps.Connections == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONNECTIONS_NOT_CONFIGURED", "connection registry is not configured", false, nil)
		return "", nil, false
	}
	if err := requireAnyRole(r, roles...); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return "", nil, false
	}
	id := r.PathValue("id")
	if !canUseConnection(r, id) {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", fmt.Sprintf("connection %q is not allowed for this key", id), false, nil)
		return "", nil, false
	}
	conn, err := deps.Connections.Get(id)
	if err != nil {
		writeConnectionError(w, r, id, err)
		return "", nil, false
	}
	return id, conn, true
}

// auditLogger tags run and execution logs with the caller and connection.
func auditLogger(deps Dependencies, r *http.Request, connectionID string) *slog.Logger {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return logger.With(
		slog.String("trace_id", observability.TraceIDFromContext(r.Context())),
		slog.String("subject", auth.SubjectFromContext(r.Context())),
		slog.String("connection_id", connectionID),
	)
}

func canUseConnection(r *http.Request, id string) bool {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return true
	}
	return identity.CanUse(id)
}

// writeConnectionError maps registry and run errors onto the error envelope.
func writeConnectionError(w http.ResponseWriter, r *http.Request, id string, err error) {
	status, code, retryable := classifyError(err)
	writeError(r.Context(), w, status, code, err.Error(), retryable, map[string]any{"connection_id": id})
}

func classifyError(err error) (int, string, bool) {
	var connErr *database.ConnectionError
	switch {
	case errors.Is(err, database.ErrConnectionNotFound):
		return http.StatusNotFound, "CONNECTION_NOT_FOUND", false
	case errors.Is(err, database.ErrConnectionBusy):
		return http.StatusConflict, "CONNECTION_BUSY", true
	case errors.Is(err, agent.ErrNotConfigured):
		return http.StatusNotImplemented, "AI_NOT_CONFIGURED", false
	case errors.Is(err, agent.ErrCancelled):
		return http.StatusServiceUnavailable, "RUN_CANCELLED", true
	case errors.Is(err, database.ErrNotConnected):
		return http.StatusServiceUnavailable, "NOT_CONNECTED", true
	case errors.As(err, &connErr):
		return http.StatusBadGateway, "CONNECTION_FAILED", true
	default:
		return http.StatusBadGateway, "DATABASE_ERROR", true
	}
}
