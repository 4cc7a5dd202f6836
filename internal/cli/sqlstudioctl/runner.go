package sqlstudioctl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Connection string
	Timeout    time.Duration
	RunTimeout time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// call is one resolved API request. Long calls run under the run timeout
// because they wait on the model.
type call struct {
	method string
	path   string
	body   any
	long   bool
}

var errUsage = errors.New("usage")

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("sqlstudioctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "sqlstudio API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	connection := fs.String("connection", firstNonEmpty(defaults.Connection, "default"), "connection id")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 10*time.Second), "HTTP timeout (e.g. 10s)")
	runTimeout := fs.Duration("run-timeout", durationOr(defaults.RunTimeout, 5*time.Minute), "timeout for ask and export")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	command := strings.TrimSpace(fs.Arg(0))
	c, err := resolve(command, fs.Args()[1:], *connection, stderr)
	if err != nil {
		if !errors.Is(err, errUsage) {
			_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
		}
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	limit := *timeout
	if c.long {
		limit = *runTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	endpoint := strings.TrimRight(*baseURL, "/") + c.path
	resp, err := doRequest(ctx, client, c.method, endpoint, *apiKey, c.body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 400 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/x-ndjson") {
		return printStream(resp.Body, stdout, stderr)
	}

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "read response: %v\n", err)
		return 1
	}
	if resp.StatusCode >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", resp.StatusCode, strings.TrimSpace(string(responseBody)))
		return 1
	}
	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func resolve(command string, args []string, connection string, stderr io.Writer) (call, error) {
	conn := "/v1/connections/" + url.PathEscape(connection)
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.SetOutput(stderr)

	switch command {
	case "health":
		return call{method: http.MethodGet, path: "/v1/health"}, nil
	case "ready":
		return call{method: http.MethodGet, path: "/v1/ready"}, nil
	case "models":
		return call{method: http.MethodGet, path: "/v1/models"}, nil
	case "connections":
		return call{method: http.MethodGet, path: "/v1/connections"}, nil
	case "connect":
		engine := fs.String("engine", "", "mysql, postgres, sqlserver, clickhouse, sqlite or duckdb")
		host := fs.String("host", "", "server host")
		port := fs.Int("port", 0, "server port (engine default when 0)")
		database := fs.String("database", "", "database name or file path")
		user := fs.String("user", "", "user name")
		password := fs.String("password", "", "password")
		if err := fs.Parse(args); err != nil {
			return call{}, errUsage
		}
		return call{method: http.MethodPost, path: "/v1/connections", body: map[string]any{
			"id":       connection,
			"engine":   *engine,
			"host":     *host,
			"port":     *port,
			"database": *database,
			"username": *user,
			"password": *password,
		}}, nil
	case "disconnect":
		return call{method: http.MethodDelete, path: conn}, nil
	case "databases":
		return call{method: http.MethodGet, path: conn + "/databases"}, nil
	case "use":
		if len(args) != 1 {
			return call{}, fmt.Errorf("use takes exactly one database name")
		}
		return call{method: http.MethodPost, path: conn + "/use", body: map[string]any{"database": args[0]}}, nil
	case "tables":
		return call{method: http.MethodGet, path: conn + "/tables"}, nil
	case "schema":
		tables := fs.String("tables", "", "comma separated tables to include")
		if err := fs.Parse(args); err != nil {
			return call{}, errUsage
		}
		path := conn + "/schema"
		if strings.TrimSpace(*tables) != "" {
			path += "?" + url.Values{"tables": {*tables}}.Encode()
		}
		return call{method: http.MethodGet, path: path}, nil
	case "ask":
		tables := fs.String("tables", "", "comma separated tables; skips table analysis")
		mode := fs.String("mode", "query", "query or mutate")
		extra := fs.String("context", "", "additional context for the model")
		stream := fs.Bool("stream", false, "print progress events while the agent runs")
		if err := fs.Parse(args); err != nil {
			return call{}, errUsage
		}
		question := strings.TrimSpace(strings.Join(fs.Args(), " "))
		if question == "" {
			return call{}, fmt.Errorf("ask needs a question")
		}
		body := map[string]any{"question": question, "mode": *mode, "stream": *stream}
		if strings.TrimSpace(*extra) != "" {
			body["context"] = *extra
		}
		if list := splitList(*tables); len(list) > 0 {
			body["tables"] = list
		}
		return call{method: http.MethodPost, path: conn + "/ask", body: body, long: true}, nil
	case "exec":
		mode := fs.String("mode", "query", "query or mutate")
		if err := fs.Parse(args); err != nil {
			return call{}, errUsage
		}
		sql := strings.TrimSpace(strings.Join(fs.Args(), " "))
		if sql == "" {
			return call{}, fmt.Errorf("exec needs a SQL statement")
		}
		return call{method: http.MethodPost, path: conn + "/execute", body: map[string]any{"sql": sql, "mode": *mode}}, nil
	case "export":
		sql := strings.TrimSpace(strings.Join(args, " "))
		if sql == "" {
			return call{}, fmt.Errorf("export needs a SQL statement")
		}
		return call{method: http.MethodPost, path: conn + "/export", body: map[string]any{"sql": sql}, long: true}, nil
	case "exports":
		return call{method: http.MethodGet, path: conn + "/exports"}, nil
	case "knowledge":
		return call{method: http.MethodGet, path: "/v1/knowledge"}, nil
	case "knowledge-search":
		query := strings.TrimSpace(strings.Join(args, " "))
		if query == "" {
			return call{}, fmt.Errorf("knowledge-search needs a query")
		}
		return call{method: http.MethodPost, path: "/v1/knowledge/search", body: map[string]any{"query": query}}, nil
	default:
		return call{}, fmt.Errorf("unknown command %q", command)
	}
}

func doRequest(ctx context.Context, client *http.Client, method, endpoint, apiKey string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json, application/x-ndjson")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}
	return client.Do(req)
}

// printStream writes step messages and generated SQL to stderr as they
// arrive and the final result to stdout. A failed or cancelled run exits 1.
func printStream(body io.Reader, stdout, stderr io.Writer) int {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	code := 1
	for scanner.Scan() {
		var line struct {
			Kind    string          `json:"kind"`
			Message string          `json:"message"`
			Attempt int             `json:"attempt"`
			SQL     string          `json:"sql"`
			Result  json.RawMessage `json:"result"`
			Error   json.RawMessage `json:"error"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			_, _ = fmt.Fprintf(stderr, "bad stream line: %v\n", err)
			continue
		}
		switch {
		case line.Result != nil:
			if pretty, ok := prettyJSON(line.Result); ok {
				_, _ = fmt.Fprintln(stdout, pretty)
			}
			var res struct {
				Success bool `json:"success"`
			}
			_ = json.Unmarshal(line.Result, &res)
			if line.Error != nil {
				_, _ = fmt.Fprintf(stderr, "run failed: %s\n", strings.TrimSpace(string(line.Error)))
			} else if res.Success {
				code = 0
			}
		case line.Kind == "step_changed":
			_, _ = fmt.Fprintf(stderr, "> %s\n", line.Message)
		case line.Kind == "sql_generated":
			_, _ = fmt.Fprintf(stderr, "-- attempt %d\n%s\n", line.Attempt, line.SQL)
		}
	}
	if err := scanner.Err(); err != nil {
		_, _ = fmt.Fprintf(stderr, "read stream: %v\n", err)
		return 1
	}
	return code
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: sqlstudioctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                         GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                          GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  models                         GET /v1/models")
	_, _ = fmt.Fprintln(w, "  connections                    list registered connections")
	_, _ = fmt.Fprintln(w, "  connect -engine E [flags]      register -connection")
	_, _ = fmt.Fprintln(w, "  disconnect                     close and remove -connection")
	_, _ = fmt.Fprintln(w, "  databases                      list databases on -connection")
	_, _ = fmt.Fprintln(w, "  use <database>                 switch database")
	_, _ = fmt.Fprintln(w, "  tables                         list tables")
	_, _ = fmt.Fprintln(w, "  schema [-tables a,b]           print schema")
	_, _ = fmt.Fprintln(w, "  ask [flags] <question>         run the agent (-tables, -mode, -context, -stream)")
	_, _ = fmt.Fprintln(w, "  exec [-mode M] <sql>           run SQL directly")
	_, _ = fmt.Fprintln(w, "  export <sql>                   write a query result to the object store")
	_, _ = fmt.Fprintln(w, "  exports                        list exports of -connection")
	_, _ = fmt.Fprintln(w, "  knowledge                      list local knowledge items")
	_, _ = fmt.Fprintln(w, "  knowledge-search <query>       search the knowledge base")
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
