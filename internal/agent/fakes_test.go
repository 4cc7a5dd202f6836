package agent

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/sqlstudio/sqlstudio/internal/database"
	"github.com/sqlstudio/sqlstudio/internal/knowledge"
	"github.com/sqlstudio/sqlstudio/internal/llm"
)

// scriptedCompleter answers each StreamChat call with the next reply. Replies
// are streamed in two halves so token forwarding is exercised.
type scriptedCompleter struct {
	mu       sync.Mutex
	replies  []string
	errs     map[int]error
	onCall   func(call int)
	requests []llm.ChatRequest
}

func (c *scriptedCompleter) StreamChat(_ context.Context, req llm.ChatRequest) (llm.ChatStream, error) {
	c.mu.Lock()
	call := len(c.requests)
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	if c.onCall != nil {
		c.onCall(call)
	}
	if err := c.errs[call]; err != nil {
		return nil, err
	}
	if call >= len(c.replies) {
		return nil, errors.New("no scripted reply")
	}
	reply := c.replies[call]
	mid := len(reply) / 2
	return &scriptedStream{tokens: []string{reply[:mid], reply[mid:]}}, nil
}

func (c *scriptedCompleter) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func (c *scriptedCompleter) request(i int) llm.ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[i]
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

// fakeConnector serves a fixed schema and replays execution results; the
// last result repeats once the script runs out.
type fakeConnector struct {
	database  string
	schema    database.Schema
	schemaErr error
	results   []database.ExecutionResult

	queries    []string
	nonQueries []string
}

func newFakeConnector(results ...database.ExecutionResult) *fakeConnector {
	return &fakeConnector{
		database: "shop",
		schema:   shopSchema(),
		results:  results,
	}
}

func shopSchema() database.Schema {
	return database.Schema{
		DatabaseName: "shop",
		Tables: []database.TableInfo{
			{
				Name:    "users",
				Comment: "registered customers",
				Columns: []database.ColumnInfo{
					{Name: "id", DataType: "int", PrimaryKey: true},
					{Name: "name", DataType: "varchar"},
					{Name: "email", DataType: "varchar", Nullable: true},
				},
			},
			{
				Name: "orders",
				Columns: []database.ColumnInfo{
					{Name: "id", DataType: "int", PrimaryKey: true},
					{Name: "user_id", DataType: "int"},
					{Name: "total", DataType: "decimal"},
				},
			},
		},
	}
}

func (f *fakeConnector) Engine() string                                           { return "MySQL" }
func (f *fakeConnector) Connect(context.Context, database.ConnectionConfig) error { return nil }
func (f *fakeConnector) Disconnect() error                                        { return nil }
func (f *fakeConnector) Close() error                                             { return nil }
func (f *fakeConnector) IsConnected() bool                                        { return true }
func (f *fakeConnector) CurrentDatabase() string                                  { return f.database }

func (f *fakeConnector) ListDatabases(context.Context) ([]string, error) {
	return []string{f.database}, nil
}

func (f *fakeConnector) UseDatabase(_ context.Context, name string) error {
	f.database = name
	return nil
}

func (f *fakeConnector) GetSchema(context.Context) (database.Schema, error) {
	if f.schemaErr != nil {
		return database.Schema{}, f.schemaErr
	}
	return f.schema, nil
}

func (f *fakeConnector) ListTables(context.Context) ([]string, error) {
	return f.schema.TableNames(), nil
}

func (f *fakeConnector) ListColumns(_ context.Context, table string) ([]database.ColumnInfo, error) {
	for _, t := range f.schema.Tables {
		if t.Name == table {
			return t.Columns, nil
		}
	}
	return nil, nil
}

func (f *fakeConnector) ExecuteQuery(_ context.Context, sql string) database.ExecutionResult {
	f.queries = append(f.queries, sql)
	return f.next(sql, len(f.queries)+len(f.nonQueries))
}

func (f *fakeConnector) ExecuteNonQuery(_ context.Context, sql string) database.ExecutionResult {
	f.nonQueries = append(f.nonQueries, sql)
	return f.next(sql, len(f.queries)+len(f.nonQueries))
}

func (f *fakeConnector) next(sql string, call int) database.ExecutionResult {
	result := database.ExecutionResult{Success: true, Data: &database.ResultSet{}}
	if len(f.results) > 0 {
		result = f.results[min(call, len(f.results))-1]
	}
	result.ExecutedSQL = sql
	return result
}

type fakeRetriever struct {
	items []knowledge.Item
	err   error
	query string
}

func (r *fakeRetriever) Search(_ context.Context, query string) ([]knowledge.Item, error) {
	r.query = query
	return r.items, r.err
}

func failed(message string) database.ExecutionResult {
	return database.ExecutionResult{ErrorMessage: message}
}

// recorder collects events for assertions.
type recorder struct {
	events []Event
}

func (r *recorder) listen(e Event) {
	r.events = append(r.events, e)
}

func (r *recorder) steps() []Step {
	var steps []Step
	for _, e := range r.events {
		if e.Kind == EventStepChanged {
			steps = append(steps, e.Step)
		}
	}
	return steps
}

func (r *recorder) kinds() []EventKind {
	var kinds []EventKind
	for _, e := range r.events {
		if e.Kind != EventStreaming {
			kinds = append(kinds, e.Kind)
		}
	}
	return kinds
}

func (r *recorder) first(kind EventKind) (Event, bool) {
	for _, e := range r.events {
		if e.Kind == kind {
			return e, true
		}
	}
	return Event{}, false
}

func (r *recorder) count(kind EventKind) int {
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
