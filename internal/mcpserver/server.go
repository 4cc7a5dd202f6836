// Package mcpserver exposes one registered connection and the agent as MCP
// tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sqlstudio/sqlstudio/internal/agent"
	"github.com/sqlstudio/sqlstudio/internal/database"
)

const (
	Name    = "sqlstudio"
	Version = "0.1.0"
)

type Dependencies struct {
	Logger       *slog.Logger
	Connections  *database.Manager
	Agent        *agent.Service
	ConnectionID string
}

// New builds the MCP server with ask_database, execute_sql, list_tables and
// describe_table bound to deps.ConnectionID.
func New(deps Dependencies) (*server.MCPServer, error) {
	if deps.Connections == nil {
		return nil, errors.New("connection registry is required")
	}
	if strings.TrimSpace(deps.ConnectionID) == "" {
		return nil, errors.New("connection id is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	t := &tools{deps: deps}

	s := server.NewMCPServer(Name, Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions(fmt.Sprintf("Tools operate on the %q database connection. Prefer ask_database for questions in natural language.", deps.ConnectionID)),
	)

	s.AddTool(mcp.NewTool("ask_database",
		mcp.WithDescription("Answer a question about the database: selects relevant tables, writes SQL, runs it and retries on errors"),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("Question in natural language; @table mentions restrict the tables used"),
		),
		mcp.WithString("tables",
			mcp.Description("Optional comma separated table names to use instead of automatic selection"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	), t.ask)

	s.AddTool(mcp.NewTool("execute_sql",
		mcp.WithDescription("Execute a read-only SQL query and return columns and rows"),
		mcp.WithString("sql",
			mcp.Required(),
			mcp.Description("SQL query to execute"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	), t.execute)

	s.AddTool(mcp.NewTool("list_tables",
		mcp.WithDescription("List the tables of the current database"),
		mcp.WithReadOnlyHintAnnotation(true),
	), t.listTables)

	s.AddTool(mcp.NewTool("describe_table",
		mcp.WithDescription("Show the columns, comment and sample rows of one table"),
		mcp.WithString("table",
			mcp.Required(),
			mcp.Description("Name of the table to describe"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	), t.describeTable)

	return s, nil
}

type tools struct {
	deps Dependencies
}

func (t *tools) ask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil || strings.TrimSpace(question) == "" {
		return mcp.NewToolResultError("Missing question parameter"), nil
	}
	if !t.deps.Agent.Configured() {
		return mcp.NewToolResultError(agent.ErrNotConfigured.Error()), nil
	}

	req := agent.Request{Question: strings.TrimSpace(question)}
	if raw := request.GetString("tables", ""); strings.TrimSpace(raw) != "" {
		req.Tables = strings.Split(raw, ",")
	} else if strings.Contains(question, "@") {
		if conn, err := t.deps.Connections.Get(t.deps.ConnectionID); err == nil {
			if known, err := conn.ListTables(ctx); err == nil {
				if mentioned := agent.ParseMentions(question, known); len(mentioned) > 0 {
					req.Tables = mentioned
					req.Question = agent.StripMentions(question)
				}
			}
		}
	}

	res, err := t.deps.Agent.Run(ctx, t.deps.ConnectionID, agent.ModeQuery, req)
	if err != nil {
		t.deps.Logger.WarnContext(ctx, "mcp ask failed", "connection_id", t.deps.ConnectionID, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("Agent run failed: %v", err)), nil
	}
	if !res.Success {
		return mcp.NewToolResultError(fmt.Sprintf("No working SQL after %d attempts: %s", res.TotalAttempts, res.ErrorMessage)), nil
	}

	out := map[string]any{
		"sql":         res.FinalSQL,
		"explanation": res.FinalExplanation,
		"tables":      res.AnalyzedTables,
		"attempts":    res.TotalAttempts,
	}
	if res.Execution != nil {
		out["result"] = res.Execution.Data
	}
	return jsonResult(out)
}

func (t *tools) execute(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sql, err := request.RequireString("sql")
	if err != nil || strings.TrimSpace(sql) == "" {
		return mcp.NewToolResultError("Missing sql parameter"), nil
	}
	if !database.IsReadOnly(sql) {
		return mcp.NewToolResultError(database.NotAllowed(sql).ErrorMessage), nil
	}
	conn, release, err := t.deps.Connections.Acquire(t.deps.ConnectionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	defer release()

	res := conn.ExecuteQuery(ctx, sql)
	if !res.Success {
		return mcp.NewToolResultError(fmt.Sprintf("Query failed: %s", res.ErrorMessage)), nil
	}
	return jsonResult(res.Data)
}

func (t *tools) listTables(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conn, err := t.deps.Connections.Get(t.deps.ConnectionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tables, err := conn.ListTables(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("List tables failed: %v", err)), nil
	}
	return jsonResult(map[string]any{"database": conn.CurrentDatabase(), "tables": tables})
}

func (t *tools) describeTable(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	table, err := request.RequireString("table")
	if err != nil {
		return mcp.NewToolResultError("Missing table parameter"), nil
	}
	conn, err := t.deps.Connections.Get(t.deps.ConnectionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	schema, err := conn.GetSchema(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Fetch schema failed: %v", err)), nil
	}
	names := agent.ValidateTables(schema, []string{table})
	if len(names) == 0 {
		return mcp.NewToolResultError(fmt.Sprintf("Table %q not found", table)), nil
	}
	return mcp.NewToolResultText(agent.FormatSchema(schema.Filter(names))), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal results: %v", err)), nil
	}
	return mcp.NewToolResultText(string(raw)), nil
}
