// Package postgres adapts PostgreSQL servers to database.Connector through
// the pgx stdlib driver.
package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/sqlstudio/sqlstudio/internal/database"
)

const (
	EngineName    = "PostgreSQL"
	DefaultPort   = 5432
	DefaultSchema = "public"
)

// Dialect introspects a single namespace, public unless Schema is set.
type Dialect struct {
	database.ServerCatalog
	Schema string
}

func New(opts ...database.Option) *database.SQLConnector {
	return database.NewSQLConnector(Dialect{}, opts...)
}

func (Dialect) Engine() string     { return EngineName }
func (Dialect) DriverName() string { return "pgx" }

func (Dialect) Open(cfg database.ConnectionConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

// DSN renders cfg as a postgres:// URL. Without a selected catalog the pool
// lands in the maintenance database so ListDatabases still works.
func DSN(cfg database.ConnectionConfig) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port <= 0 {
		port = DefaultPort
	}
	name := strings.TrimSpace(cfg.Database)
	if name == "" {
		name = "postgres"
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + name,
	}
	if cfg.Username != "" {
		if cfg.Password != "" {
			u.User = url.UserPassword(cfg.Username, cfg.Password)
		} else {
			u.User = url.User(cfg.Username)
		}
	}
	q := url.Values{}
	for k, v := range cfg.ExtraParams {
		q.Set(k, v)
	}
	if q.Get("sslmode") == "" {
		q.Set("sslmode", "prefer")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (d Dialect) schema() string {
	if s := strings.TrimSpace(d.Schema); s != "" {
		return s
	}
	return DefaultSchema
}

func (Dialect) DatabasesQuery() (string, []any, error) {
	return sq.Select("datname AS database_name").
		From("pg_database").
		Where("datistemplate = false").
		OrderBy("datname").
		ToSql()
}

// TablesQuery ignores catalog; the pool is already bound to it.
func (d Dialect) TablesQuery(string) (string, []any, error) {
	return sq.Select(
		"t.table_name AS table_name",
		"COALESCE(obj_description(format('%I.%I', t.table_schema, t.table_name)::regclass, 'pg_class'), '') AS table_comment",
	).
		From("information_schema.tables t").
		Where(sq.Eq{"t.table_schema": d.schema()}).
		Where(sq.Eq{"t.table_type": "BASE TABLE"}).
		OrderBy("t.table_name").
		PlaceholderFormat(sq.Dollar).
		ToSql()
}

func (d Dialect) ColumnsQuery(_ string, table string) (string, []any, error) {
	return sq.Select(
		"c.column_name AS column_name",
		"c.data_type AS data_type",
		"c.is_nullable AS is_nullable",
		"CASE WHEN pk.column_name IS NULL THEN 0 ELSE 1 END AS is_primary_key",
		"c.column_default AS column_default",
		"COALESCE(col_description(format('%I.%I', c.table_schema, c.table_name)::regclass, c.ordinal_position::int), '') AS column_comment",
	).
		From("information_schema.columns c").
		LeftJoin(`(SELECT kcu.table_schema, kcu.table_name, kcu.column_name
	FROM information_schema.table_constraints tc
	JOIN information_schema.key_column_usage kcu
		ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
	WHERE tc.constraint_type = 'PRIMARY KEY') pk
	ON pk.table_schema = c.table_schema AND pk.table_name = c.table_name AND pk.column_name = c.column_name`).
		Where(sq.Eq{"c.table_schema": d.schema()}).
		Where(sq.Eq{"c.table_name": table}).
		OrderBy("c.ordinal_position").
		PlaceholderFormat(sq.Dollar).
		ToSql()
}

// SampleQuery draws random rows.
func (d Dialect) SampleQuery(_, table string, limit int) string {
	return fmt.Sprintf("SELECT * FROM %s.%s ORDER BY RANDOM() LIMIT %d",
		database.QuoteIdent(d.schema(), `"`, `"`), database.QuoteIdent(table, `"`, `"`), limit)
}

func (Dialect) ErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
