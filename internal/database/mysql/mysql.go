// Package mysql adapts MySQL and MariaDB servers to database.Connector.
package mysql

import (
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"

	"github.com/sqlstudio/sqlstudio/internal/database"
)

const (
	EngineName  = "MySQL"
	DefaultPort = 3306
)

type Dialect struct {
	database.ServerCatalog
}

func New(opts ...database.Option) *database.SQLConnector {
	return database.NewSQLConnector(Dialect{}, opts...)
}

func (Dialect) Engine() string     { return EngineName }
func (Dialect) DriverName() string { return "mysql" }

func (Dialect) Open(cfg database.ConnectionConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	return db, nil
}

// DSN renders cfg for go-sql-driver/mysql. Multi-statement scripts are
// enabled so generated DDL batches run in one call.
func DSN(cfg database.ConnectionConfig) string {
	mc := mysql.NewConfig()
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port <= 0 {
		port = DefaultPort
	}
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	mc.User = cfg.Username
	mc.Passwd = cfg.Password
	mc.DBName = cfg.Database
	mc.MultiStatements = true
	if len(cfg.ExtraParams) > 0 {
		mc.Params = make(map[string]string, len(cfg.ExtraParams))
		for k, v := range cfg.ExtraParams {
			mc.Params[k] = v
		}
	}
	return mc.FormatDSN()
}

func (Dialect) DatabasesQuery() (string, []any, error) {
	return sq.Select("SCHEMA_NAME AS database_name").
		From("INFORMATION_SCHEMA.SCHEMATA").
		OrderBy("SCHEMA_NAME").
		ToSql()
}

func (Dialect) TablesQuery(catalog string) (string, []any, error) {
	return sq.Select("TABLE_NAME AS table_name", "TABLE_COMMENT AS table_comment").
		From("INFORMATION_SCHEMA.TABLES").
		Where(sq.Eq{"TABLE_SCHEMA": catalog}).
		Where(sq.Eq{"TABLE_TYPE": "BASE TABLE"}).
		OrderBy("TABLE_NAME").
		ToSql()
}

func (Dialect) ColumnsQuery(catalog, table string) (string, []any, error) {
	return sq.Select(
		"COLUMN_NAME AS column_name",
		"DATA_TYPE AS data_type",
		"IS_NULLABLE AS is_nullable",
		"CASE WHEN COLUMN_KEY = 'PRI' THEN 1 ELSE 0 END AS is_primary_key",
		"COLUMN_DEFAULT AS column_default",
		"COLUMN_COMMENT AS column_comment",
	).
		From("INFORMATION_SCHEMA.COLUMNS").
		Where(sq.Eq{"TABLE_SCHEMA": catalog}).
		Where(sq.Eq{"TABLE_NAME": table}).
		OrderBy("ORDINAL_POSITION").
		ToSql()
}

func (Dialect) SampleQuery(_, table string, limit int) string {
	return fmt.Sprintf("SELECT * FROM %s LIMIT %d", database.QuoteIdent(table, "`", "`"), limit)
}

func (Dialect) ErrorCode(err error) string {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return strconv.Itoa(int(mysqlErr.Number))
	}
	return ""
}
