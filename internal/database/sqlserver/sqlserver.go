// Package sqlserver adapts Microsoft SQL Server to database.Connector.
package sqlserver

import (
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"

	sq "github.com/Masterminds/squirrel"
	mssql "github.com/microsoft/go-mssqldb"

	"github.com/sqlstudio/sqlstudio/internal/database"
)

const (
	EngineName  = "SQL Server"
	DefaultPort = 1433
)

type Dialect struct {
	database.ServerCatalog
}

func New(opts ...database.Option) *database.SQLConnector {
	return database.NewSQLConnector(Dialect{}, opts...)
}

func (Dialect) Engine() string     { return EngineName }
func (Dialect) DriverName() string { return "sqlserver" }

func (Dialect) Open(cfg database.ConnectionConfig) (*sql.DB, error) {
	db, err := sql.Open("sqlserver", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open sqlserver: %w", err)
	}
	return db, nil
}

// DSN renders cfg as a sqlserver:// URL understood by go-mssqldb.
func DSN(cfg database.ConnectionConfig) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port <= 0 {
		port = DefaultPort
	}
	u := url.URL{
		Scheme: "sqlserver",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
	}
	if cfg.Username != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}
	q := url.Values{}
	for k, v := range cfg.ExtraParams {
		q.Set(k, v)
	}
	if cfg.Database != "" {
		q.Set("database", cfg.Database)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// DatabasesQuery skips the four system databases.
func (Dialect) DatabasesQuery() (string, []any, error) {
	return sq.Select("name AS database_name").
		From("sys.databases").
		Where("database_id > 4").
		OrderBy("name").
		ToSql()
}

func (Dialect) TablesQuery(catalog string) (string, []any, error) {
	return sq.Select(
		"t.TABLE_NAME AS table_name",
		"CAST(ep.value AS NVARCHAR(4000)) AS table_comment",
	).
		From("INFORMATION_SCHEMA.TABLES t").
		LeftJoin("sys.extended_properties ep ON ep.major_id = OBJECT_ID(QUOTENAME(t.TABLE_SCHEMA) + '.' + QUOTENAME(t.TABLE_NAME)) AND ep.minor_id = 0 AND ep.name = 'MS_Description'").
		Where(sq.Eq{"t.TABLE_CATALOG": catalog}).
		Where(sq.Eq{"t.TABLE_TYPE": "BASE TABLE"}).
		OrderBy("t.TABLE_NAME").
		PlaceholderFormat(sq.AtP).
		ToSql()
}

func (Dialect) ColumnsQuery(catalog, table string) (string, []any, error) {
	return sq.Select(
		"c.COLUMN_NAME AS column_name",
		"c.DATA_TYPE AS data_type",
		"c.IS_NULLABLE AS is_nullable",
		"CASE WHEN pk.COLUMN_NAME IS NULL THEN 0 ELSE 1 END AS is_primary_key",
		"c.COLUMN_DEFAULT AS column_default",
		"CAST(ep.value AS NVARCHAR(4000)) AS column_comment",
	).
		From("INFORMATION_SCHEMA.COLUMNS c").
		LeftJoin(`(SELECT ku.TABLE_SCHEMA, ku.TABLE_NAME, ku.COLUMN_NAME
	FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
	JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE ku
		ON tc.CONSTRAINT_NAME = ku.CONSTRAINT_NAME AND tc.TABLE_SCHEMA = ku.TABLE_SCHEMA
	WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY') pk
	ON pk.TABLE_SCHEMA = c.TABLE_SCHEMA AND pk.TABLE_NAME = c.TABLE_NAME AND pk.COLUMN_NAME = c.COLUMN_NAME`).
		LeftJoin("sys.extended_properties ep ON ep.major_id = OBJECT_ID(QUOTENAME(c.TABLE_SCHEMA) + '.' + QUOTENAME(c.TABLE_NAME)) AND ep.minor_id = COLUMNPROPERTY(OBJECT_ID(QUOTENAME(c.TABLE_SCHEMA) + '.' + QUOTENAME(c.TABLE_NAME)), c.COLUMN_NAME, 'ColumnId') AND ep.name = 'MS_Description'").
		Where(sq.Eq{"c.TABLE_CATALOG": catalog}).
		Where(sq.Eq{"c.TABLE_NAME": table}).
		OrderBy("c.ORDINAL_POSITION").
		PlaceholderFormat(sq.AtP).
		ToSql()
}

func (Dialect) SampleQuery(_, table string, limit int) string {
	return fmt.Sprintf("SELECT TOP %d * FROM %s", limit, database.QuoteIdent(table, "[", "]"))
}

func (Dialect) ErrorCode(err error) string {
	var mssqlErr mssql.Error
	if errors.As(err, &mssqlErr) {
		return strconv.Itoa(int(mssqlErr.Number))
	}
	return ""
}
