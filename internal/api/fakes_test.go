package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sqlstudio/sqlstudio/internal/agent"
	"github.com/sqlstudio/sqlstudio/internal/auth"
	"github.com/sqlstudio/sqlstudio/internal/config"
	"github.com/sqlstudio/sqlstudio/internal/database"
	"github.com/sqlstudio/sqlstudio/internal/llm"
)

type fakeConnector struct {
	mu        sync.Mutex
	engine    string
	database  string
	databases []string
	schema    database.Schema
	result    database.ExecutionResult
	connected bool
	closed    bool

	queries    []string
	nonQueries []string
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		engine:    "SQLite",
		database:  "shop",
		databases: []string{"shop", "archive"},
		connected: true,
		schema: database.Schema{
			DatabaseName: "shop",
			Tables: []database.TableInfo{
				{Name: "users", Columns: []database.ColumnInfo{{Name: "id", DataType: "int", PrimaryKey: true}, {Name: "name", DataType: "text"}}},
				{Name: "orders", Columns: []database.ColumnInfo{{Name: "id", DataType: "int", PrimaryKey: true}, {Name: "user_id", DataType: "int"}}},
			},
		},
		result: database.ExecutionResult{
			Success: true,
			Data:    &database.ResultSet{Columns: []string{"name"}, Rows: [][]any{{"Al"}, {"Bo"}}},
		},
	}
}

func (f *fakeConnector) Engine() string { return f.engine }

func (f *fakeConnector) Connect(context.Context, database.ConnectionConfig) error {
	f.connected = true
	return nil
}

func (f *fakeConnector) Disconnect() error {
	f.connected = false
	return nil
}

func (f *fakeConnector) Close() error {
	f.closed = true
	return f.Disconnect()
}

func (f *fakeConnector) IsConnected() bool       { return f.connected }
func (f *fakeConnector) CurrentDatabase() string { return f.database }

func (f *fakeConnector) ListDatabases(context.Context) ([]string, error) {
	return f.databases, nil
}

func (f *fakeConnector) UseDatabase(_ context.Context, name string) error {
	for _, db := range f.databases {
		if db == name {
			f.database = name
			return nil
		}
	}
	return &database.ConnectionError{Engine: f.engine, Err: errors.New("unknown database " + name)}
}

func (f *fakeConnector) GetSchema(context.Context) (database.Schema, error) { return f.schema, nil }

func (f *fakeConnector) ListTables(context.Context) ([]string, error) {
	return f.schema.TableNames(), nil
}

func (f *fakeConnector) ListColumns(context.Context, string) ([]database.ColumnInfo, error) {
	return nil, nil
}

func (f *fakeConnector) ExecuteQuery(_ context.Context, sql string) database.ExecutionResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, sql)
	res := f.result
	res.ExecutedSQL = sql
	return res
}

func (f *fakeConnector) ExecuteNonQuery(_ context.Context, sql string) database.ExecutionResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonQueries = append(f.nonQueries, sql)
	return database.ExecutionResult{Success: true, AffectedRows: 3, ExecutedSQL: sql}
}

// scriptedCompleter replies in order and records every request.
type scriptedCompleter struct {
	mu       sync.Mutex
	replies  []string
	requests []llm.ChatRequest
	onCall   func()
}

func (c *scriptedCompleter) StreamChat(_ context.Context, req llm.ChatRequest) (llm.ChatStream, error) {
	c.mu.Lock()
	call := len(c.requests)
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	if c.onCall != nil {
		c.onCall()
	}
	if call >= len(c.replies) {
		return nil, errors.New("no scripted reply")
	}
	return &scriptedStream{tokens: []string{c.replies[call]}}, nil
}

type scriptedStream struct{ tokens []string }

func (s *scriptedStream) Recv() (string, error) {
	if len(s.tokens) == 0 {
		return "", io.EOF
	}
	tok := s.tokens[0]
	s.tokens = s.tokens[1:]
	return tok, nil
}

func (s *scriptedStream) Close() error { return nil }

type testServer struct {
	handler   http.Handler
	manager   *database.Manager
	conn      *fakeConnector
	completer *scriptedCompleter
}

// newTestServer registers one fake connection named "main" behind an
// auth-enabled handler with three keys: reader (query_reader on main),
// writer (sql_writer everywhere) and admin (connection_admin everywhere).
func newTestServer(t *testing.T, replies []string, mutate func(*Dependencies)) *testServer {
	t.Helper()
	cfg, err := config.Load("sqlstudio-api", mapLookup(map[string]string{
		"SQLSTUDIO_AUTH_REQUIRED": "true",
	}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	validator, err := auth.NewStaticAPIKeyValidator("reader:ann:query_reader:main,writer:wes:sql_writer|query_reader,admin:ada:connection_admin")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}

	conn := newFakeConnector()
	manager := database.NewManager(func(engine string) (database.Connector, error) {
		created := newFakeConnector()
		created.engine = engine
		return created, nil
	})
	manager.Register("main", conn)
	completer := &scriptedCompleter{replies: replies}

	deps := Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		Connections:    manager,
		Agent:          agent.NewService(completer, manager, nil),
	}
	if mutate != nil {
		mutate(&deps)
	}
	return &testServer{
		handler:   NewHandler(cfg, deps),
		manager:   manager,
		conn:      conn,
		completer: completer,
	}
}

func (s *testServer) do(t *testing.T, method, path, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v body=%s", err, rr.Body.String())
	}
	return body
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
