// Package sqlite adapts SQLite database files to database.Connector.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/mattn/go-sqlite3"

	"github.com/sqlstudio/sqlstudio/internal/database"
)

const (
	EngineName = "SQLite"
	// MainSchema is the only catalog an attached file exposes.
	MainSchema = "main"
	memoryDSN  = "file::memory:?cache=shared"
)

type Dialect struct{}

func New(opts ...database.Option) *database.SQLConnector {
	return database.NewSQLConnector(Dialect{}, opts...)
}

func (Dialect) Engine() string     { return EngineName }
func (Dialect) DriverName() string { return "sqlite3" }

func (Dialect) Open(cfg database.ConnectionConfig) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return db, nil
}

// DSN uses cfg.Database as the file path. An empty path or ":memory:" opens
// a shared in-memory database.
func DSN(cfg database.ConnectionConfig) string {
	path := strings.TrimSpace(cfg.Database)
	if path == "" || path == ":memory:" {
		path = memoryDSN
	}
	if len(cfg.ExtraParams) == 0 {
		return path
	}
	q := url.Values{}
	for k, v := range cfg.ExtraParams {
		q.Set(k, v)
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + q.Encode()
}

func (Dialect) CurrentDatabase(database.ConnectionConfig) string {
	return MainSchema
}

func (Dialect) SwitchDatabase(cfg database.ConnectionConfig, name string) (database.ConnectionConfig, bool, error) {
	if !strings.EqualFold(name, MainSchema) {
		return cfg, false, fmt.Errorf("sqlite exposes only the %q database, got %q", MainSchema, name)
	}
	return cfg, false, nil
}

func (Dialect) DatabasesQuery() (string, []any, error) {
	return sq.Select("name AS database_name").
		From("pragma_database_list").
		OrderBy("seq").
		ToSql()
}

func (Dialect) TablesQuery(string) (string, []any, error) {
	return sq.Select("name AS table_name", "'' AS table_comment").
		From("sqlite_master").
		Where(sq.Eq{"type": "table"}).
		Where(sq.NotLike{"name": "sqlite_%"}).
		OrderBy("name").
		ToSql()
}

func (Dialect) ColumnsQuery(_ string, table string) (string, []any, error) {
	return sq.Select(
		"name AS column_name",
		"type AS data_type",
		`CASE WHEN "notnull" = 0 THEN 'YES' ELSE 'NO' END AS is_nullable`,
		"CASE WHEN pk > 0 THEN 1 ELSE 0 END AS is_primary_key",
		"dflt_value AS column_default",
		"'' AS column_comment",
	).
		From(fmt.Sprintf("pragma_table_info(%s)", database.QuoteLiteral(table))).
		OrderBy("cid").
		ToSql()
}

func (Dialect) SampleQuery(_, table string, limit int) string {
	return fmt.Sprintf("SELECT * FROM %s LIMIT %d", database.QuoteIdent(table, `"`, `"`), limit)
}

func (Dialect) ErrorCode(err error) string {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return strconv.Itoa(int(sqliteErr.ExtendedCode))
	}
	return ""
}
