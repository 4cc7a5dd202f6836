// Package clickhouse adapts ClickHouse servers to database.Connector over
// either the HTTP or the native protocol.
package clickhouse

import (
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	sq "github.com/Masterminds/squirrel"

	"github.com/sqlstudio/sqlstudio/internal/database"
)

const (
	EngineName        = "ClickHouse"
	DefaultPort       = 8123
	DefaultNativePort = 9000

	// ProtocolParam selects "http" (default) or "native".
	ProtocolParam = "protocol"
	SecureParam   = "secure"
)

var httpErrorCode = regexp.MustCompile(`[Cc]ode:\s*(\d+)`)

type Dialect struct {
	database.ServerCatalog
}

func New(opts ...database.Option) *database.SQLConnector {
	return database.NewSQLConnector(Dialect{}, opts...)
}

func (Dialect) Engine() string     { return EngineName }
func (Dialect) DriverName() string { return "clickhouse" }

func (Dialect) Open(cfg database.ConnectionConfig) (*sql.DB, error) {
	return ch.OpenDB(Options(cfg)), nil
}

// Options maps cfg onto clickhouse-go options. The port defaults follow the
// selected protocol.
func Options(cfg database.ConnectionConfig) *ch.Options {
	protocol := ch.HTTP
	port := DefaultPort
	if p, ok := cfg.Param(ProtocolParam); ok && strings.EqualFold(strings.TrimSpace(p), "native") {
		protocol = ch.Native
		port = DefaultNativePort
	}
	if cfg.Port > 0 {
		port = cfg.Port
	}
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	opts := &ch.Options{
		Addr:     []string{net.JoinHostPort(host, strconv.Itoa(port))},
		Protocol: protocol,
		Auth: ch.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	}
	if secure, ok := cfg.Param(SecureParam); ok {
		if enabled, err := strconv.ParseBool(strings.TrimSpace(secure)); err == nil && enabled {
			opts.TLS = &tls.Config{ServerName: host}
		}
	}
	return opts
}

func (Dialect) DatabasesQuery() (string, []any, error) {
	return sq.Select("name AS database_name").
		From("system.databases").
		Where(sq.NotEq{"name": []string{"system", "INFORMATION_SCHEMA", "information_schema"}}).
		OrderBy("name").
		ToSql()
}

func (Dialect) TablesQuery(catalog string) (string, []any, error) {
	q := sq.Select("name AS table_name", "comment AS table_comment").
		From("system.tables").
		Where("is_temporary = 0")
	if catalog == "" {
		q = q.Where("database = currentDatabase()")
	} else {
		q = q.Where(sq.Eq{"database": catalog})
	}
	return q.OrderBy("name").ToSql()
}

func (Dialect) ColumnsQuery(catalog, table string) (string, []any, error) {
	q := sq.Select(
		"name AS column_name",
		"type AS data_type",
		"if(startsWith(type, 'Nullable'), 'YES', 'NO') AS is_nullable",
		"is_in_primary_key AS is_primary_key",
		"default_expression AS column_default",
		"comment AS column_comment",
	).From("system.columns")
	if catalog == "" {
		q = q.Where("database = currentDatabase()")
	} else {
		q = q.Where(sq.Eq{"database": catalog})
	}
	return q.Where(sq.Eq{"table": table}).OrderBy("position").ToSql()
}

func (Dialect) SampleQuery(_, table string, limit int) string {
	return fmt.Sprintf("SELECT * FROM %s LIMIT %d", database.QuoteIdent(table, "`", "`"), limit)
}

// ErrorCode reports the server exception code. Over HTTP the code only
// survives in the message text.
func (Dialect) ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var exception *ch.Exception
	if errors.As(err, &exception) {
		return strconv.Itoa(int(exception.Code))
	}
	if m := httpErrorCode.FindStringSubmatch(err.Error()); m != nil {
		return m[1]
	}
	return ""
}
