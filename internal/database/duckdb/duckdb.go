// Package duckdb adapts DuckDB database files, or an in-process memory
// database, to database.Connector. Schemas inside the file play the role of
// databases.
package duckdb

import (
	"database/sql"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/sqlstudio/sqlstudio/internal/database"
)

const (
	EngineName    = "DuckDB"
	DefaultSchema = "main"
	// SchemaParam holds the selected schema; it never reaches the driver.
	SchemaParam = "schema"
)

var errorClass = regexp.MustCompile(`^([A-Za-z ]+ Error):`)

type Dialect struct{}

func New(opts ...database.Option) *database.SQLConnector {
	return database.NewSQLConnector(Dialect{}, opts...)
}

func (Dialect) Engine() string     { return EngineName }
func (Dialect) DriverName() string { return "duckdb" }

func (Dialect) Open(cfg database.ConnectionConfig) (*sql.DB, error) {
	db, err := sql.Open("duckdb", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return db, nil
}

// DSN uses cfg.Database as the file path; empty means in-memory. Extra
// parameters other than the schema selector become DuckDB settings.
func DSN(cfg database.ConnectionConfig) string {
	path := strings.TrimSpace(cfg.Database)
	if path == ":memory:" {
		path = ""
	}
	q := url.Values{}
	for k, v := range cfg.ExtraParams {
		if strings.EqualFold(k, SchemaParam) {
			continue
		}
		q.Set(k, v)
	}
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

func (Dialect) CurrentDatabase(cfg database.ConnectionConfig) string {
	if schema, ok := cfg.Param(SchemaParam); ok && strings.TrimSpace(schema) != "" {
		return strings.TrimSpace(schema)
	}
	return DefaultSchema
}

func (Dialect) SwitchDatabase(cfg database.ConnectionConfig, name string) (database.ConnectionConfig, bool, error) {
	next := cfg
	next.ExtraParams = make(map[string]string, len(cfg.ExtraParams)+1)
	for k, v := range cfg.ExtraParams {
		if strings.EqualFold(k, SchemaParam) {
			continue
		}
		next.ExtraParams[k] = v
	}
	next.ExtraParams[SchemaParam] = name
	return next, false, nil
}

func (Dialect) DatabasesQuery() (string, []any, error) {
	return sq.Select("schema_name AS database_name").
		From("information_schema.schemata").
		Where("catalog_name = current_database()").
		OrderBy("schema_name").
		ToSql()
}

func (Dialect) TablesQuery(catalog string) (string, []any, error) {
	return sq.Select("table_name", "COALESCE(comment, '') AS table_comment").
		From("duckdb_tables()").
		Where("database_name = current_database()").
		Where(sq.Eq{"schema_name": catalog}).
		Where("NOT internal").
		OrderBy("table_name").
		ToSql()
}

func (Dialect) ColumnsQuery(catalog, table string) (string, []any, error) {
	return sq.Select(
		"c.column_name",
		"c.data_type",
		"CASE WHEN c.is_nullable THEN 'YES' ELSE 'NO' END AS is_nullable",
		`CASE WHEN EXISTS (
	SELECT 1 FROM duckdb_constraints() k
	WHERE k.database_name = c.database_name AND k.schema_name = c.schema_name AND k.table_name = c.table_name
		AND k.constraint_type = 'PRIMARY KEY' AND list_contains(k.constraint_column_names, c.column_name)
) THEN 1 ELSE 0 END AS is_primary_key`,
		"c.column_default",
		"COALESCE(c.comment, '') AS column_comment",
	).
		From("duckdb_columns() c").
		Where("c.database_name = current_database()").
		Where(sq.Eq{"c.schema_name": catalog}).
		Where(sq.Eq{"c.table_name": table}).
		OrderBy("c.column_index").
		ToSql()
}

func (Dialect) SampleQuery(catalog, table string, limit int) string {
	if catalog == "" {
		catalog = DefaultSchema
	}
	return fmt.Sprintf("SELECT * FROM %s.%s LIMIT %d",
		database.QuoteIdent(catalog, `"`, `"`), database.QuoteIdent(table, `"`, `"`), limit)
}

// ErrorCode returns DuckDB's error class, e.g. "Binder Error".
func (Dialect) ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if m := errorClass.FindStringSubmatch(err.Error()); m != nil {
		return m[1]
	}
	return ""
}
