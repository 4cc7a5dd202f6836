package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/sqlstudio/sqlstudio/internal/auth"
	"github.com/sqlstudio/sqlstudio/internal/database"
	"github.com/sqlstudio/sqlstudio/internal/export"
)

type exportRequest struct {
	SQL string `json:"sql"`
}

func handleExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Exporter == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_NOT_CONFIGURED", "result export is not configured", false, nil)
		return
	}
	id, _, ok := connectionFor(deps, w, r, auth.RoleQueryReader)
	if !ok {
		return
	}
	var req exportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid export request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}
	if !database.IsReadOnly(req.SQL) {
		writeError(r.Context(), w, http.StatusBadRequest, database.ErrorCodeNotAllowed, "only read-only statements can be exported", false, nil)
		return
	}

	conn, release, err := deps.Connections.Acquire(id)
	if err != nil {
		writeConnectionError(w, r, id, err)
		return
	}
	res := conn.ExecuteQuery(r.Context(), req.SQL)
	release()
	if !res.Success {
		writeError(r.Context(), w, http.StatusUnprocessableEntity, "QUERY_EXECUTION_FAILED", res.ErrorMessage, false, map[string]any{"error_code": res.ErrorCode})
		return
	}

	out, err := deps.Exporter.Export(r.Context(), export.Request{
		ConnectionID: id,
		RunID:        uuid.NewString(),
		Result:       res.Data,
	})
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "EXPORT_FAILED", "failed to export result", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func handleListExports(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Exporter == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_NOT_CONFIGURED", "result export is not configured", false, nil)
		return
	}
	id, _, ok := connectionFor(deps, w, r, auth.RoleQueryReader)
	if !ok {
		return
	}
	objects, err := deps.Exporter.List(r.Context(), id)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "EXPORT_LIST_FAILED", "failed to list exports", true, map[string]any{"details": err.Error()})
		return
	}
	items := make([]map[string]any, 0, len(objects))
	for _, obj := range objects {
		item := map[string]any{
			"key":           obj.Key,
			"bytes":         obj.Size,
			"last_modified": obj.LastModified,
		}
		if runID := obj.Metadata[export.MetaRunID]; runID != "" {
			item["run_id"] = runID
		}
		if rows, err := strconv.ParseInt(obj.Metadata[export.MetaRows], 10, 64); err == nil {
			item["rows"] = rows
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"connection_id": id, "exports": items})
}
