package sqlserver

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	mssql "github.com/microsoft/go-mssqldb"

	"github.com/sqlstudio/sqlstudio/internal/database"
)

type mockedDialect struct {
	Dialect
	db *sql.DB
}

func (d mockedDialect) Open(database.ConnectionConfig) (*sql.DB, error) { return d.db, nil }

func TestDSN(t *testing.T) {
	raw := DSN(database.ConnectionConfig{
		Host:        "mssql",
		Username:    "sa",
		Password:    "Secret#1",
		Database:    "Sales",
		ExtraParams: map[string]string{"encrypt": "disable"},
	})
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	if u.Scheme != "sqlserver" || u.Host != "mssql:1433" {
		t.Fatalf("dsn = %q", raw)
	}
	if u.Query().Get("database") != "Sales" || u.Query().Get("encrypt") != "disable" {
		t.Fatalf("query = %v", u.Query())
	}
}

func TestQueriesUseAtPlaceholders(t *testing.T) {
	query, args, err := Dialect{}.ColumnsQuery("Sales", "Orders")
	if err != nil {
		t.Fatalf("ColumnsQuery() error = %v", err)
	}
	if !regexp.MustCompile(`c\.TABLE_CATALOG = @p1 AND c\.TABLE_NAME = @p2`).MatchString(query) {
		t.Fatalf("query = %q", query)
	}
	if fmt.Sprint(args) != "[Sales Orders]" {
		t.Fatalf("args = %v", args)
	}
}

func TestGetSchemaThroughCatalog(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	conn := database.NewSQLConnector(mockedDialect{db: db}, database.WithSchemaConcurrency(1), database.WithSampleRows(1))
	if err := conn.Connect(context.Background(), database.ConnectionConfig{Database: "Sales"}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	mock.ExpectQuery(regexp.QuoteMeta("FROM INFORMATION_SCHEMA.TABLES t LEFT JOIN sys.extended_properties")).
		WithArgs("Sales", "BASE TABLE").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "table_comment"}).AddRow("Orders", nil))
	mock.ExpectQuery(regexp.QuoteMeta("FROM INFORMATION_SCHEMA.COLUMNS c LEFT JOIN")).
		WithArgs("Sales", "Orders").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable", "is_primary_key", "column_default", "column_comment"}).
			AddRow("OrderID", "int", "NO", int64(1), nil, "surrogate key"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT TOP 1 * FROM [Orders]")).
		WillReturnRows(sqlmock.NewRows([]string{"OrderID"}).AddRow(int64(10248)))

	schema, err := conn.GetSchema(context.Background())
	if err != nil {
		t.Fatalf("GetSchema() error = %v", err)
	}
	table := schema.Tables[0]
	if table.Comment != "" || !table.Columns[0].PrimaryKey || table.Columns[0].Comment != "surrogate key" {
		t.Fatalf("table = %+v", table)
	}
	if len(table.SampleData) != 1 || table.SampleData[0]["OrderID"] != "10248" {
		t.Fatalf("sample = %+v", table.SampleData)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestErrorCode(t *testing.T) {
	err := fmt.Errorf("query: %w", mssql.Error{Number: 207, Message: "Invalid column name 'emial'."})
	if got := (Dialect{}).ErrorCode(err); got != "207" {
		t.Fatalf("ErrorCode() = %q", got)
	}
}
