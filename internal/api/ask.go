package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sqlstudio/sqlstudio/internal/agent"
	"github.com/sqlstudio/sqlstudio/internal/auth"
	"github.com/sqlstudio/sqlstudio/internal/database"
)

type askRequest struct {
	Question string                 `json:"question"`
	Context  string                 `json:"context"`
	Tables   []string               `json:"tables"`
	History  []agent.HistoryMessage `json:"history"`
	Mode     agent.Mode             `json:"mode"`
	Stream   bool                   `json:"stream"`
}

type executeRequest struct {
	SQL  string     `json:"sql"`
	Mode agent.Mode `json:"mode"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Agent == nil || !deps.Agent.Configured() {
		writeError(r.Context(), w, http.StatusNotImplemented, "AI_NOT_CONFIGURED", agent.ErrNotConfigured.Error(), false, nil)
		return
	}
	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	mode, ok := parseMode(req.Mode)
	if !ok {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_MODE", "mode must be query or mutate", false, map[string]any{"mode": req.Mode})
		return
	}
	role := auth.RoleQueryReader
	if mode == agent.ModeMutate {
		role = auth.RoleSQLWriter
	}
	id, conn, ok := connectionFor(deps, w, r, role)
	if !ok {
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	tables := req.Tables
	if len(tables) == 0 && strings.Contains(question, "@") {
		if known, err := conn.ListTables(r.Context()); err == nil {
			if mentioned := agent.ParseMentions(question, known); len(mentioned) > 0 {
				tables = mentioned
				question = agent.StripMentions(question)
			}
		}
	}
	runReq := agent.Request{
		Question: question,
		Context:  req.Context,
		History:  req.History,
		Tables:   tables,
	}
	auditLogger(deps, r, id).InfoContext(r.Context(), "agent run requested",
		slog.String("mode", string(mode)),
		slog.Bool("stream", req.Stream),
		slog.Int("tables", len(tables)),
	)

	if !req.Stream {
		res, err := deps.Agent.Run(r.Context(), id, mode, runReq)
		if err != nil {
			writeConnectionError(w, r, id, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	stream := newNDJSONWriter(w)
	res, err := deps.Agent.Run(r.Context(), id, mode, runReq, func(e agent.Event) {
		stream.write(e)
	})
	if err != nil && !stream.started {
		writeConnectionError(w, r, id, err)
		return
	}
	if err != nil {
		_, code, retryable := classifyError(err)
		stream.write(map[string]any{"result": res, "error": errorBody(r.Context(), code, err.Error(), retryable, map[string]any{"connection_id": id})})
		return
	}
	stream.write(map[string]any{"result": res})
}

func handleExecute(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid execute request body", false, map[string]any{"details": err.Error()})
		return
	}
	mode, ok := parseMode(req.Mode)
	if !ok {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_MODE", "mode must be query or mutate", false, map[string]any{"mode": req.Mode})
		return
	}
	role := auth.RoleQueryReader
	if mode == agent.ModeMutate {
		role = auth.RoleSQLWriter
	}
	id, _, ok := connectionFor(deps, w, r, role)
	if !ok {
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}
	if mode == agent.ModeQuery && !database.IsReadOnly(req.SQL) {
		writeError(r.Context(), w, http.StatusBadRequest, database.ErrorCodeNotAllowed, "query mode only runs read-only statements; use mode mutate", false, nil)
		return
	}

	conn, release, err := deps.Connections.Acquire(id)
	if err != nil {
		writeConnectionError(w, r, id, err)
		return
	}
	defer release()

	var res database.ExecutionResult
	if mode == agent.ModeMutate {
		res = conn.ExecuteNonQuery(r.Context(), req.SQL)
		auditLogger(deps, r, id).InfoContext(r.Context(), "mutating sql executed",
			slog.Bool("success", res.Success),
			slog.Int64("affected_rows", res.AffectedRows),
		)
	} else {
		res = conn.ExecuteQuery(r.Context(), req.SQL)
	}
	writeJSON(w, http.StatusOK, res)
}

func parseMode(mode agent.Mode) (agent.Mode, bool) {
	switch agent.Mode(strings.ToLower(strings.TrimSpace(string(mode)))) {
	case "", agent.ModeQuery:
		return agent.ModeQuery, true
	case agent.ModeMutate:
		return agent.ModeMutate, true
	default:
		return "", false
	}
}

// ndjsonWriter sends one JSON document per line and flushes after each so
// clients see agent progress as it happens. The 200 header goes out with the
// first line, which lets failures before any event still use a real status.
type ndjsonWriter struct {
	w       http.ResponseWriter
	enc     *json.Encoder
	started bool
}

func newNDJSONWriter(w http.ResponseWriter) *ndjsonWriter {
	return &ndjsonWriter{w: w, enc: json.NewEncoder(w)}
}

func (n *ndjsonWriter) write(v any) {
	if !n.started {
		n.w.Header().Set("Content-Type", "application/x-ndjson")
		n.w.Header().Set("Cache-Control", "no-cache")
		n.w.WriteHeader(http.StatusOK)
		n.started = true
	}
	_ = n.enc.Encode(v)
	if f, ok := n.w.(http.Flusher); ok {
		f.Flush()
	}
}
