package database

import (
	"database/sql"
	"strings"
)

// Dialect supplies everything engine specific to SQLConnector: how to open a
// pool, where the catalog lives and how engine errors are coded.
//
// Catalog queries alias their columns in lower case: databases return
// database_name; tables return table_name and optionally table_comment;
// columns return column_name, data_type, is_nullable ('YES'/'NO'),
// is_primary_key, column_default and column_comment.
type Dialect interface {
	Engine() string
	DriverName() string
	Open(cfg ConnectionConfig) (*sql.DB, error)
	// CurrentDatabase reports the active catalog for cfg; empty means none
	// has been selected.
	CurrentDatabase(cfg ConnectionConfig) string
	// SwitchDatabase returns the config for the named catalog and whether the
	// pool must be reopened to reach it.
	SwitchDatabase(cfg ConnectionConfig, name string) (ConnectionConfig, bool, error)
	DatabasesQuery() (string, []any, error)
	TablesQuery(catalog string) (string, []any, error)
	ColumnsQuery(catalog, table string) (string, []any, error)
	SampleQuery(catalog, table string, limit int) string
	ErrorCode(err error) string
}

// ServerCatalog implements CurrentDatabase and SwitchDatabase for engines
// whose catalogs are selected through the connection string.
type ServerCatalog struct{}

func (ServerCatalog) CurrentDatabase(cfg ConnectionConfig) string {
	return strings.TrimSpace(cfg.Database)
}

func (ServerCatalog) SwitchDatabase(cfg ConnectionConfig, name string) (ConnectionConfig, bool, error) {
	next := cfg
	next.Database = name
	return next, true, nil
}

// QuoteIdent wraps name in the given quote characters, doubling any
// embedded closing quote.
func QuoteIdent(name, open, close string) string {
	return open + strings.ReplaceAll(name, close, close+close) + close
}

// QuoteLiteral renders value as a single-quoted SQL string literal.
func QuoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
