package api

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/sqlstudio/sqlstudio/internal/agent"
	"github.com/sqlstudio/sqlstudio/internal/auth"
	"github.com/sqlstudio/sqlstudio/internal/bootstrap"
	"github.com/sqlstudio/sqlstudio/internal/database"
	"github.com/sqlstudio/sqlstudio/internal/database/engines"
)

var connectionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

type connectionCreateRequest struct {
	ID       string            `json:"id"`
	Engine   string            `json:"engine"`
	Host     string            `json:"host"`
	Port     int               `json:"port"`
	Database string            `json:"database"`
	Username string            `json:"username"`
	Password string            `json:"password"`
	Params   map[string]string `json:"params"`
}

type useDatabaseRequest struct {
	Database string `json:"database"`
}

func handleListConnections(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Connections == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONNECTIONS_NOT_CONFIGURED", "connection registry is not configured", false, nil)
		return
	}
	if err := requireAnyRole(r, auth.RoleQueryReader, auth.RoleSQLWriter, auth.RoleConnectionAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	items := make([]database.Info, 0)
	for _, info := range deps.Connections.List() {
		if canUseConnection(r, info.ID) {
			items = append(items, info)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": items})
}

func handleCreateConnection(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Connections == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONNECTIONS_NOT_CONFIGURED", "connection registry is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleConnectionAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var req connectionCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid connection request body", false, map[string]any{"details": err.Error()})
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if !connectionIDPattern.MatchString(req.ID) {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_CONNECTION_ID", "id must start with a letter or digit and contain only letters, digits, '.', '_' or '-'", false, map[string]any{"id": req.ID})
		return
	}
	if !canUseConnection(r, req.ID) {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", "connection is not allowed for this key", false, map[string]any{"connection_id": req.ID})
		return
	}
	engine, err := engines.Parse(req.Engine)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "UNSUPPORTED_ENGINE", err.Error(), false, map[string]any{"supported": engines.All})
		return
	}
	if strings.TrimSpace(req.Database) == "" && engines.IsFileEngine(engine) {
		writeError(r.Context(), w, http.StatusBadRequest, "DATABASE_REQUIRED", "database file path is required for "+string(engine), false, nil)
		return
	}
	if !engines.IsFileEngine(engine) && strings.TrimSpace(req.Host) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "HOST_REQUIRED", "host is required for "+string(engine), false, nil)
		return
	}
	if req.Port == 0 {
		req.Port = engines.DefaultPort(engine)
	}

	// An existing connection must not be swapped out under a running agent.
	_, release, err := deps.Connections.Acquire(req.ID)
	switch {
	case err == nil:
		defer release()
	case !errors.Is(err, database.ErrConnectionNotFound):
		writeConnectionError(w, r, req.ID, err)
		return
	}

	cfg := bootstrap.ConnectionConfig(deps.ConnectionConfig, req.Host, req.Port, req.Database, req.Username, req.Password, req.Params)
	if _, err := deps.Connections.Create(r.Context(), req.ID, string(engine), cfg); err != nil {
		writeConnectionError(w, r, req.ID, err)
		return
	}
	if deps.Logger != nil {
		deps.Logger.InfoContext(r.Context(), "connection created", "connection_id", req.ID, "engine", string(engine))
	}
	for _, info := range deps.Connections.List() {
		if info.ID == req.ID {
			writeJSON(w, http.StatusCreated, info)
			return
		}
	}
	writeJSON(w, http.StatusCreated, database.Info{ID: req.ID, Engine: string(engine)})
}

func handleDeleteConnection(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	id, _, ok := connectionFor(deps, w, r, auth.RoleConnectionAdmin)
	if !ok {
		return
	}
	_, release, err := deps.Connections.Acquire(id)
	if err != nil {
		writeConnectionError(w, r, id, err)
		return
	}
	defer release()
	if err := deps.Connections.Remove(id); err != nil && !errors.Is(err, database.ErrConnectionNotFound) {
		writeConnectionError(w, r, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleListDatabases(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	id, conn, ok := connectionFor(deps, w, r, auth.RoleQueryReader, auth.RoleSQLWriter)
	if !ok {
		return
	}
	names, err := conn.ListDatabases(r.Context())
	if err != nil {
		writeConnectionError(w, r, id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connection_id": id,
		"current":       conn.CurrentDatabase(),
		"databases":     names,
	})
}

func handleUseDatabase(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	id, _, ok := connectionFor(deps, w, r, auth.RoleQueryReader, auth.RoleSQLWriter)
	if !ok {
		return
	}
	var req useDatabaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid use request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.Database) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "DATABASE_REQUIRED", "database is required", false, nil)
		return
	}

	conn, release, err := deps.Connections.Acquire(id)
	if err != nil {
		writeConnectionError(w, r, id, err)
		return
	}
	defer release()
	if err := conn.UseDatabase(r.Context(), strings.TrimSpace(req.Database)); err != nil {
		writeConnectionError(w, r, id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connection_id": id, "database": conn.CurrentDatabase()})
}

func handleListTables(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	id, conn, ok := connectionFor(deps, w, r, auth.RoleQueryReader, auth.RoleSQLWriter)
	if !ok {
		return
	}
	tables, err := conn.ListTables(r.Context())
	if err != nil {
		writeConnectionError(w, r, id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connection_id": id,
		"database":      conn.CurrentDatabase(),
		"tables":        tables,
	})
}

// handleGetSchema accepts an optional tables=a,b query parameter that
// narrows the schema the same way caller-selected tables narrow a run.
func handleGetSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	id, conn, ok := connectionFor(deps, w, r, auth.RoleQueryReader, auth.RoleSQLWriter)
	if !ok {
		return
	}
	schema, err := conn.GetSchema(r.Context())
	if err != nil {
		writeConnectionError(w, r, id, err)
		return
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("tables")); raw != "" {
		schema = schema.Filter(agent.ValidateTables(schema, strings.Split(raw, ",")))
	}
	writeJSON(w, http.StatusOK, schema)
}
