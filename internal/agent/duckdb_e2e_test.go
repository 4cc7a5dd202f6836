package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sqlstudio/sqlstudio/internal/database"
	"github.com/sqlstudio/sqlstudio/internal/database/duckdb"
)

func TestExecuteAgainstDuckDB(t *testing.T) {
	conn := duckdb.New()
	if err := conn.Connect(context.Background(), database.ConnectionConfig{Database: filepath.Join(t.TempDir(), "shop.duckdb")}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	for _, stmt := range []string{
		"CREATE TABLE users (id INTEGER PRIMARY KEY, name VARCHAR NOT NULL, email VARCHAR)",
		"CREATE TABLE orders (id INTEGER PRIMARY KEY, user_id INTEGER, total INTEGER)",
		"CREATE TABLE audit_log (id INTEGER, note VARCHAR)",
		"INSERT INTO users VALUES (1, 'Al', 'al@example.com')",
		"INSERT INTO orders VALUES (1, 1, 50), (2, 1, 30)",
	} {
		if res := conn.ExecuteNonQuery(context.Background(), stmt); !res.Success {
			t.Fatalf("fixture %q failed: %s", stmt, res.ErrorMessage)
		}
	}

	completer := &scriptedCompleter{replies: []string{
		"MAPPING:\nuser -> users (names)\norder amount -> orders (totals)\n\nTABLES: users, orders\nREASON: totals per user",
		"```sql\nSELECT u.name, SUM(o.totl) AS spent\nFROM users u\nJOIN orders o ON o.user_id = u.id\nGROUP BY u.name;\n```",
		"```sql\nSELECT u.name, SUM(o.total) AS spent\nFROM users u\nJOIN orders o ON o.user_id = u.id\nGROUP BY u.name;\n```",
	}}
	executor, rec := newTestExecutor(t, completer, conn)

	res, err := executor.Execute(context.Background(), Request{Question: "how much has each user spent?"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !res.Success || res.TotalAttempts != 2 {
		t.Fatalf("result = %+v", res)
	}
	first := res.Attempts[0].Execution
	if first.Success || first.ErrorCode != "Binder Error" || !strings.Contains(first.ErrorMessage, "totl") {
		t.Fatalf("first execution = %+v", first)
	}
	rows := res.Execution.Data.Rows
	if len(rows) != 1 || rows[0][0] != "Al" || fmt.Sprint(rows[0][1]) != "80" {
		t.Fatalf("rows = %#v", rows)
	}

	prompt, _ := rec.first(EventPromptSending)
	if prompt.FilteredTables != 2 || prompt.TotalTables != 3 || strings.Contains(prompt.SystemPrompt, "audit_log") {
		t.Fatalf("prompt event = %+v", prompt)
	}
	if !strings.Contains(prompt.SystemPrompt, "    - name: VARCHAR [NOT NULL]") {
		t.Fatalf("system prompt:\n%s", prompt.SystemPrompt)
	}
	correction := completer.request(2).Messages
	if !strings.Contains(correction[len(correction)-1].Content, first.ErrorMessage) {
		t.Fatalf("correction prompt = %q", correction[len(correction)-1].Content)
	}
}
