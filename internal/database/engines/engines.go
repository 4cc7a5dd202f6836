// Package engines maps engine names onto the dialect packages.
package engines

import (
	"fmt"
	"strings"

	"github.com/sqlstudio/sqlstudio/internal/database"
	"github.com/sqlstudio/sqlstudio/internal/database/clickhouse"
	"github.com/sqlstudio/sqlstudio/internal/database/duckdb"
	"github.com/sqlstudio/sqlstudio/internal/database/mysql"
	"github.com/sqlstudio/sqlstudio/internal/database/postgres"
	"github.com/sqlstudio/sqlstudio/internal/database/sqlite"
	"github.com/sqlstudio/sqlstudio/internal/database/sqlserver"
)

type Type string

const (
	MySQL      Type = mysql.EngineName
	PostgreSQL Type = postgres.EngineName
	SQLServer  Type = sqlserver.EngineName
	ClickHouse Type = clickhouse.EngineName
	SQLite     Type = sqlite.EngineName
	DuckDB     Type = duckdb.EngineName
)

// All lists the supported engines in display order.
var All = []Type{MySQL, PostgreSQL, SQLServer, ClickHouse, SQLite, DuckDB}

var aliases = map[string]Type{
	"mysql":      MySQL,
	"mariadb":    MySQL,
	"postgresql": PostgreSQL,
	"postgres":   PostgreSQL,
	"pg":         PostgreSQL,
	"sqlserver":  SQLServer,
	"sql server": SQLServer,
	"mssql":      SQLServer,
	"clickhouse": ClickHouse,
	"ch":         ClickHouse,
	"sqlite":     SQLite,
	"sqlite3":    SQLite,
	"duckdb":     DuckDB,
}

// Parse resolves an engine name or alias, ignoring case.
func Parse(name string) (Type, error) {
	if t, ok := aliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return t, nil
	}
	return "", fmt.Errorf("unsupported database engine %q", name)
}

// DefaultPort returns the engine's conventional port, or 0 for file engines.
func DefaultPort(t Type) int {
	switch t {
	case MySQL:
		return mysql.DefaultPort
	case PostgreSQL:
		return postgres.DefaultPort
	case SQLServer:
		return sqlserver.DefaultPort
	case ClickHouse:
		return clickhouse.DefaultPort
	default:
		return 0
	}
}

// IsFileEngine reports whether the engine reads a local file instead of
// dialing a server.
func IsFileEngine(t Type) bool {
	return t == SQLite || t == DuckDB
}

// New builds an unconnected connector for engine.
func New(engine string, opts ...database.Option) (database.Connector, error) {
	t, err := Parse(engine)
	if err != nil {
		return nil, err
	}
	switch t {
	case MySQL:
		return mysql.New(opts...), nil
	case PostgreSQL:
		return postgres.New(opts...), nil
	case SQLServer:
		return sqlserver.New(opts...), nil
	case ClickHouse:
		return clickhouse.New(opts...), nil
	case SQLite:
		return sqlite.New(opts...), nil
	case DuckDB:
		return duckdb.New(opts...), nil
	}
	return nil, fmt.Errorf("unsupported database engine %q", engine)
}

// Factory adapts New for database.Manager.
func Factory(opts ...database.Option) database.Factory {
	return func(engine string) (database.Connector, error) {
		return New(engine, opts...)
	}
}
