package database

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

type mockDialect struct {
	ServerCatalog
	dbs   []*sql.DB
	opens int
}

func (d *mockDialect) Engine() string     { return "Mock" }
func (d *mockDialect) DriverName() string { return "sqlmock" }

func (d *mockDialect) Open(ConnectionConfig) (*sql.DB, error) {
	if d.opens >= len(d.dbs) {
		d.opens++
		return nil, errors.New("dial tcp: connection refused")
	}
	db := d.dbs[d.opens]
	d.opens++
	return db, nil
}

func (d *mockDialect) DatabasesQuery() (string, []any, error) {
	return "SELECT name AS database_name FROM databases", nil, nil
}

func (d *mockDialect) TablesQuery(catalog string) (string, []any, error) {
	return "SELECT table_name, table_comment FROM tables WHERE db = ?", []any{catalog}, nil
}

func (d *mockDialect) ColumnsQuery(catalog, table string) (string, []any, error) {
	return "SELECT column_name FROM columns WHERE db = ? AND table_name = ?", []any{catalog, table}, nil
}

func (d *mockDialect) SampleQuery(_, table string, limit int) string {
	return "SELECT * FROM " + QuoteIdent(table, `"`, `"`) + " LIMIT 2"
}

func (d *mockDialect) ErrorCode(err error) string {
	if strings.Contains(err.Error(), "Unknown column") {
		return "1054"
	}
	return ""
}

func TestExecuteWithoutConnectionShortCircuits(t *testing.T) {
	dialect := &mockDialect{}
	conn := NewSQLConnector(dialect)

	result := conn.ExecuteQuery(context.Background(), "SELECT 1")
	if result.Success {
		t.Fatal("expected failure without connection")
	}
	if !strings.Contains(result.ErrorMessage, "not established") {
		t.Fatalf("ErrorMessage = %q", result.ErrorMessage)
	}
	if result.ExecutedSQL != "SELECT 1" {
		t.Fatalf("ExecutedSQL = %q", result.ExecutedSQL)
	}

	nonQuery := conn.ExecuteNonQuery(context.Background(), "DELETE FROM users")
	if nonQuery.Success || !strings.Contains(nonQuery.ErrorMessage, "not established") {
		t.Fatalf("ExecuteNonQuery() = %+v", nonQuery)
	}
	if dialect.opens != 0 {
		t.Fatalf("dialect opened %d pools, want 0", dialect.opens)
	}
	if _, err := conn.GetSchema(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("GetSchema() error = %v, want ErrNotConnected", err)
	}
}

func TestExecuteQueryReturnsRows(t *testing.T) {
	conn, mock := connectedMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name FROM users")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), []byte("Al")).
			AddRow(int64(2), nil))

	result := conn.ExecuteQuery(context.Background(), "SELECT id, name FROM users")
	if !result.Success {
		t.Fatalf("ExecuteQuery() error = %s", result.ErrorMessage)
	}
	if result.AffectedRows != 2 {
		t.Fatalf("AffectedRows = %d", result.AffectedRows)
	}
	if got := strings.Join(result.Data.Columns, ","); got != "id,name" {
		t.Fatalf("Columns = %q", got)
	}
	if name, ok := result.Data.Rows[0][1].(string); !ok || name != "Al" {
		t.Fatalf("Rows[0][1] = %#v", result.Data.Rows[0][1])
	}
	if result.Data.Rows[1][1] != nil {
		t.Fatalf("Rows[1][1] = %#v, want nil", result.Data.Rows[1][1])
	}
	assertSQLMock(t, mock)
}

func TestExecuteQueryCapturesEngineErrors(t *testing.T) {
	conn, mock := connectedMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT emial FROM users")).
		WillReturnError(errors.New("Error 1054 (42S22): Unknown column 'emial' in 'field list'"))

	result := conn.ExecuteQuery(context.Background(), "SELECT emial FROM users")
	if result.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(result.ErrorMessage, "Unknown column 'emial'") {
		t.Fatalf("ErrorMessage = %q", result.ErrorMessage)
	}
	if result.ErrorCode != "1054" {
		t.Fatalf("ErrorCode = %q", result.ErrorCode)
	}
	if result.ExecutedSQL != "SELECT emial FROM users" {
		t.Fatalf("ExecutedSQL = %q", result.ExecutedSQL)
	}
	assertSQLMock(t, mock)
}

func TestExecuteNonQueryReportsAffectedRows(t *testing.T) {
	conn, mock := connectedMock(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET name = 'Bo'")).
		WillReturnResult(sqlmock.NewResult(0, 3))

	result := conn.ExecuteNonQuery(context.Background(), "UPDATE users SET name = 'Bo'")
	if !result.Success {
		t.Fatalf("ExecuteNonQuery() error = %s", result.ErrorMessage)
	}
	if result.AffectedRows != 3 {
		t.Fatalf("AffectedRows = %d", result.AffectedRows)
	}
	if result.Data != nil {
		t.Fatalf("Data = %#v, want nil", result.Data)
	}
	assertSQLMock(t, mock)
}

func TestGetSchemaFetchesColumnsAndSamples(t *testing.T) {
	conn, mock := connectedMock(t, WithSchemaConcurrency(1))
	columns := []string{"column_name", "data_type", "is_nullable", "is_primary_key", "column_default", "column_comment"}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT table_name, table_comment FROM tables WHERE db = ?")).
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "table_comment"}).
			AddRow("users", "registered people").
			AddRow("orders", nil))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT column_name FROM columns WHERE db = ? AND table_name = ?")).
		WithArgs("shop", "users").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("id", "int", "NO", true, nil, "").
			AddRow("bio", "text", "YES", false, "'none'", "free text"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users" LIMIT 2`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "bio"}).
			AddRow(int64(1), strings.Repeat("x", 150)).
			AddRow(int64(2), nil))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT column_name FROM columns WHERE db = ? AND table_name = ?")).
		WithArgs("shop", "orders").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("id", "int", "NO", int64(1), nil, nil))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" LIMIT 2`)).
		WillReturnError(errors.New("permission denied"))

	schema, err := conn.GetSchema(context.Background())
	if err != nil {
		t.Fatalf("GetSchema() error = %v", err)
	}
	if schema.DatabaseName != "shop" {
		t.Fatalf("DatabaseName = %q", schema.DatabaseName)
	}
	if got := strings.Join(schema.TableNames(), ","); got != "users,orders" {
		t.Fatalf("tables = %q", got)
	}
	users := schema.Tables[0]
	if users.Comment != "registered people" {
		t.Fatalf("Comment = %q", users.Comment)
	}
	if !users.Columns[0].PrimaryKey || users.Columns[0].Nullable {
		t.Fatalf("id column = %+v", users.Columns[0])
	}
	if !users.Columns[1].Nullable || users.Columns[1].DefaultValue != "'none'" || users.Columns[1].Comment != "free text" {
		t.Fatalf("bio column = %+v", users.Columns[1])
	}
	if len(users.SampleData) != 2 {
		t.Fatalf("len(SampleData) = %d", len(users.SampleData))
	}
	if got := len(users.SampleData[0]["bio"]); got != 100 {
		t.Fatalf("sample cell length = %d, want 100", got)
	}
	if users.SampleData[1]["bio"] != "NULL" {
		t.Fatalf("null sample = %q", users.SampleData[1]["bio"])
	}
	orders := schema.Tables[1]
	if !orders.Columns[0].PrimaryKey {
		t.Fatalf("orders.id = %+v", orders.Columns[0])
	}
	if orders.SampleData == nil || len(orders.SampleData) != 0 {
		t.Fatalf("orders samples = %#v, want empty", orders.SampleData)
	}
	assertSQLMock(t, mock)
}

func TestListDatabases(t *testing.T) {
	conn, mock := connectedMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT name AS database_name FROM databases")).
		WillReturnRows(sqlmock.NewRows([]string{"database_name"}).AddRow("shop").AddRow([]byte("sales")))

	names, err := conn.ListDatabases(context.Background())
	if err != nil {
		t.Fatalf("ListDatabases() error = %v", err)
	}
	if strings.Join(names, ",") != "shop,sales" {
		t.Fatalf("names = %v", names)
	}
	assertSQLMock(t, mock)
}

func TestUseDatabaseReopensPool(t *testing.T) {
	first, firstMock := newSQLMock(t)
	second, _ := newSQLMock(t)
	dialect := &mockDialect{dbs: []*sql.DB{first, second}}
	conn := NewSQLConnector(dialect)
	if err := conn.Connect(context.Background(), ConnectionConfig{Host: "db", Database: "shop"}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	firstMock.ExpectClose()

	if err := conn.UseDatabase(context.Background(), "sales"); err != nil {
		t.Fatalf("UseDatabase() error = %v", err)
	}
	if conn.CurrentDatabase() != "sales" {
		t.Fatalf("CurrentDatabase() = %q", conn.CurrentDatabase())
	}
	if dialect.opens != 2 {
		t.Fatalf("opens = %d, want 2", dialect.opens)
	}
	assertSQLMock(t, firstMock)
}

func TestConnectWrapsFailures(t *testing.T) {
	conn := NewSQLConnector(&mockDialect{})
	err := conn.Connect(context.Background(), ConnectionConfig{Host: "db.internal", Port: 3306})
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Connect() error = %v, want *ConnectionError", err)
	}
	if connErr.Host != "db.internal:3306" {
		t.Fatalf("Host = %q", connErr.Host)
	}
	if conn.IsConnected() {
		t.Fatal("IsConnected() = true after failed connect")
	}
}

func TestDisconnectClosesOnce(t *testing.T) {
	conn, mock := connectedMock(t)
	mock.ExpectClose()

	if err := conn.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if conn.IsConnected() {
		t.Fatal("IsConnected() = true after Disconnect")
	}
	if conn.CurrentDatabase() != "" {
		t.Fatalf("CurrentDatabase() = %q after Disconnect", conn.CurrentDatabase())
	}
	assertSQLMock(t, mock)
}

func TestSchemaFilterKeepsOrder(t *testing.T) {
	schema := Schema{DatabaseName: "shop", Tables: []TableInfo{{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"}}}
	filtered := schema.Filter([]string{"d", "b", "missing"})
	if got := strings.Join(filtered.TableNames(), ","); got != "b,d" {
		t.Fatalf("filtered = %q", got)
	}
	if len(schema.Tables) != 4 {
		t.Fatal("Filter mutated the source schema")
	}
	again := filtered.Filter(filtered.TableNames())
	if strings.Join(again.TableNames(), ",") != "b,d" {
		t.Fatalf("refiltered = %v", again.TableNames())
	}
}

func connectedMock(t *testing.T, opts ...Option) (*SQLConnector, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newSQLMock(t)
	conn := NewSQLConnector(&mockDialect{dbs: []*sql.DB{db}}, opts...)
	if err := conn.Connect(context.Background(), ConnectionConfig{Host: "db", Database: "shop"}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return conn, mock
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
