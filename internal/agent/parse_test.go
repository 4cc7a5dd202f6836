package agent

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/sqlstudio/sqlstudio/internal/database"
)

func TestExtractSQL(t *testing.T) {
	tests := []struct {
		name        string
		in          string
		sql         string
		explanation string
	}{
		{name: "sql fence", in: "Here:\n```sql\nSELECT 1;\n```\nDone.", sql: "SELECT 1;", explanation: "Here:\n\nDone."},
		{name: "upper case fence", in: "```SQL\nSELECT 2;\n```", sql: "SELECT 2;"},
		{name: "bare fence", in: "```\nSELECT 3;\n```", sql: "SELECT 3;"},
		{name: "no fence", in: "  SELECT 4;  ", sql: "SELECT 4;"},
		{name: "unterminated", in: "```sql\nSELECT 5;\n", sql: "SELECT 5;"},
		{name: "first block wins", in: "```sql\nSELECT 6;\n```\n```sql\nSELECT 7;\n```", sql: "SELECT 6;", explanation: "```sql\nSELECT 7;\n```"},
		{name: "language tag on bare fence", in: "```postgresql\nSELECT 9;\n```", sql: "SELECT 9;"},
		{name: "sqlite fence", in: "```sqlite\nSELECT 10;\n```", sql: "SELECT 10;"},
		{name: "statement on fence line", in: "```SELECT 11;\n```", sql: "SELECT 11;"},
		{name: "sql fence preferred", in: "```\nnot sql\n```\n```sql\nSELECT 8;\n```", sql: "SELECT 8;", explanation: "```\nnot sql\n```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, explanation := ExtractSQL(tt.in)
			if sql != tt.sql || explanation != tt.explanation {
				t.Fatalf("ExtractSQL(%q) = %q, %q; want %q, %q", tt.in, sql, explanation, tt.sql, tt.explanation)
			}
		})
	}
}

func TestExtractSQLRoundTrip(t *testing.T) {
	for _, sql := range []string{"SELECT 1;", "SELECT a\nFROM t\nWHERE b = 'x';", "DELETE FROM t;\n\nDELETE FROM u;"} {
		got, _ := ExtractSQL("Sure.\n```sql\n" + sql + "\n```\n")
		if got != sql {
			t.Fatalf("ExtractSQL() = %q, want %q", got, sql)
		}
	}
}

func TestParseGenerationRejectsEmptyBlock(t *testing.T) {
	res := parseGeneration("```sql\n   \n```")
	if res.Success || res.ErrorMessage != "Could not extract SQL from the response" || res.Explanation != "```sql\n   \n```" {
		t.Fatalf("parseGeneration() = %+v", res)
	}
}

func TestParseAnalysis(t *testing.T) {
	schema := database.Schema{Tables: []database.TableInfo{
		{Name: "Users"}, {Name: "orders"}, {Name: "order_items"}, {Name: "products"}, {Name: "return_reasons"},
	}}
	tests := []struct {
		name      string
		response  string
		tables    []string
		reasoning string
	}{
		{
			name:      "tables line",
			response:  "ANALYSIS:\n- Intent: x\n\nTABLES: `users`, **orders**、order_items; ghost\nREASON: sales by user",
			tables:    []string{"Users", "orders", "order_items"},
			reasoning: "sales by user",
		},
		{
			name:      "mapping adds tables",
			response:  "MAPPING:\ncustomer -> users (people)\nitem -> table products (catalog)\n\nTABLES: orders\nREASON: r",
			tables:    []string{"orders", "Users", "products"},
			reasoning: "r",
		},
		{
			name:      "inline reason",
			response:  "TABLES: products REASON: catalog only",
			tables:    []string{"products"},
			reasoning: "catalog only",
		},
		{
			name:      "reason inside a table name",
			response:  "TABLES: orders, return_reasons\nREASON: returns by cause",
			tables:    []string{"orders", "return_reasons"},
			reasoning: "returns by cause",
		},
		{
			name:      "full width separators",
			response:  "TABLES: users，orders；products\nREASON: r",
			tables:    []string{"Users", "orders", "products"},
			reasoning: "r",
		},
		{
			name:      "fallback scan longest first",
			response:  "You will need order_items and also USERS.",
			tables:    []string{"order_items", "Users"},
			reasoning: "You will need order_items and also USERS.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := parseAnalysis(tt.response, schema)
			if !res.Success || !slices.Equal(res.RequiredTables, tt.tables) || res.Reasoning != tt.reasoning {
				t.Fatalf("parseAnalysis() = %+v", res)
			}
		})
	}

	res := parseAnalysis("nothing useful", schema)
	if res.Success || res.ErrorMessage != "Could not identify required tables from the response" || res.Reasoning != "nothing useful" {
		t.Fatalf("parseAnalysis() = %+v", res)
	}
}

func TestParseAnalysisNonASCIINames(t *testing.T) {
	schema := database.Schema{Tables: []database.TableInfo{{Name: "用户"}, {Name: "订单"}, {Name: "订单明细"}}}

	res := parseAnalysis("需要查询 用户 和 订单 两张表", schema)
	if !res.Success || !slices.Equal(res.RequiredTables, []string{"用户", "订单"}) {
		t.Fatalf("parseAnalysis() = %+v", res)
	}
	res = parseAnalysis("TABLES: 用户，订单明细\nREASON: 统计", schema)
	if !slices.Equal(res.RequiredTables, []string{"用户", "订单明细"}) || res.Reasoning != "统计" {
		t.Fatalf("parseAnalysis() = %+v", res)
	}
	res = parseAnalysis("MAPPING:\n下单 -> 订单 (交易)", schema)
	if !slices.Equal(res.RequiredTables, []string{"订单"}) {
		t.Fatalf("parseAnalysis() = %+v", res)
	}
}

func TestContainsWord(t *testing.T) {
	tests := []struct {
		text string
		name string
		want bool
	}{
		{text: "use USERS here", name: "users", want: true},
		{text: "users", name: "users", want: true},
		{text: "(订单)", name: "订单", want: true},
		{text: "orders_archive only", name: "orders"},
		{text: "订单明细", name: "订单"},
		{text: "reorders and orders", name: "orders", want: true},
		{text: "anything", name: ""},
	}
	for _, tt := range tests {
		if got := containsWord(tt.text, tt.name); got != tt.want {
			t.Fatalf("containsWord(%q, %q) = %v, want %v", tt.text, tt.name, got, tt.want)
		}
	}
}

func TestAnalyzeTablesTransportError(t *testing.T) {
	completer := &scriptedCompleter{errs: map[int]error{0: errors.New("dial tcp: refused")}}
	res := NewAnalyzer(completer).AnalyzeTables(context.Background(), TableAnalysisRequest{FullSchema: shopSchema()}, nil)
	if res.Success || res.ErrorMessage != "Failed to analyze tables: dial tcp: refused" {
		t.Fatalf("AnalyzeTables() = %+v", res)
	}
}

func TestValidateTables(t *testing.T) {
	schema := shopSchema()
	got := ValidateTables(schema, []string{"ORDERS", "users", "Users", "ghost", " orders "})
	if !slices.Equal(got, []string{"orders", "users"}) {
		t.Fatalf("ValidateTables() = %v", got)
	}
	filtered := schema.Filter(got)
	if again := filtered.Filter(got); !slices.Equal(again.TableNames(), filtered.TableNames()) {
		t.Fatalf("Filter() not idempotent: %v vs %v", again.TableNames(), filtered.TableNames())
	}
	if !slices.Equal(filtered.TableNames(), []string{"users", "orders"}) {
		t.Fatalf("Filter() order = %v", filtered.TableNames())
	}
}

func TestMentions(t *testing.T) {
	tables := []string{"Users", "orders"}
	got := ParseMentions("compare @users with @ORDERS and @users again, skip @ghost", tables)
	if !slices.Equal(got, []string{"Users", "orders"}) {
		t.Fatalf("ParseMentions() = %v", got)
	}
	if got := StripMentions("@users @orders total spend per user"); got != "total spend per user" {
		t.Fatalf("StripMentions() = %q", got)
	}
}

func TestFormatSchema(t *testing.T) {
	schema := database.Schema{
		DatabaseName: "shop",
		Tables: []database.TableInfo{{
			Name:    "users",
			Comment: "people",
			Columns: []database.ColumnInfo{
				{Name: "id", DataType: "int", PrimaryKey: true},
				{Name: "status", DataType: "char(1)", Nullable: true, DefaultValue: "'A'", Comment: "A=active"},
			},
			SampleData: []map[string]string{{"id": "1"}},
		}},
	}
	want := strings.Join([]string{
		"Database: shop",
		"",
		"Table: users",
		"  Comment: people",
		"  Columns:",
		"    - id: int [PK, NOT NULL]",
		"    - status: char(1) [DEFAULT: 'A'] -- A=active",
		"  Sample Data:",
		"    - id=1, status=NULL",
		"",
		"",
	}, "\n")
	if got := FormatSchema(schema); got != want {
		t.Fatalf("FormatSchema() =\n%q\nwant\n%q", got, want)
	}
}

func TestAnalysisPromptMarksKeys(t *testing.T) {
	prompt := analysisSystemPrompt(TableAnalysisRequest{FullSchema: shopSchema(), DatabaseType: "MySQL"})
	for _, want := range []string{
		"You are a MySQL database expert",
		"## The database has 2 tables",
		"- **users**: registered customers",
		"- **orders**: no comment",
		"#### users (registered customers)",
		"  - id (int) [PK]",
		"  - user_id (int) [FK?]",
		"TABLES: table1, table2, table3",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("analysis prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "  - name (varchar) [FK?]") {
		t.Fatal("name should not be flagged as a foreign key")
	}
}

func TestUserPromptContextHeadings(t *testing.T) {
	g := NewGenerator(&scriptedCompleter{})
	_, plain := g.Prompts(GenerationRequest{UserQuery: "list users", AdditionalContext: "only 2024"})
	if !strings.Contains(plain, "\"list users\"") || !strings.Contains(plain, "## Supplementary notes\n\nonly 2024") {
		t.Fatalf("user prompt:\n%s", plain)
	}
	_, none := g.Prompts(GenerationRequest{UserQuery: "list users"})
	if strings.Contains(none, "## Supplementary") || strings.Contains(none, "## Business") {
		t.Fatalf("user prompt:\n%s", none)
	}
}

func TestGenerateReplaysHistory(t *testing.T) {
	completer := &scriptedCompleter{replies: []string{usersReply}}
	res := NewGenerator(completer).Generate(context.Background(), GenerationRequest{
		UserQuery: "and their emails?",
		Schema:    shopSchema(),
		History: []HistoryMessage{
			{Role: "User", Content: "list users"},
			{Role: "tool", Content: "ignored"},
			{Role: "assistant", Content: "SELECT name FROM users;"},
		},
	}, nil)
	if !res.Success {
		t.Fatalf("Generate() = %+v", res)
	}
	msgs := completer.request(0).Messages
	if len(msgs) != 4 || msgs[1].Content != "list users" || msgs[2].Content != "SELECT name FROM users;" {
		t.Fatalf("messages = %+v", msgs)
	}
	if !strings.Contains(msgs[3].Content, "and their emails?") {
		t.Fatalf("last message = %q", msgs[3].Content)
	}
}

func TestRegenerateWithoutPreviousSQLSkipsAssistantTurn(t *testing.T) {
	completer := &scriptedCompleter{replies: []string{usersReply}}
	NewGenerator(completer).Regenerate(context.Background(), GenerationRequest{Schema: shopSchema()}, "", "no sql", nil)
	msgs := completer.request(0).Messages
	if len(msgs) != 3 || strings.Contains(msgs[2].Content, "**Failing SQL:**") {
		t.Fatalf("messages = %+v", msgs)
	}
}
