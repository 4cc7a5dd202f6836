package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/sqlstudio/sqlstudio/internal/observability"
)

const (
	defaultSampleRows        = 2
	defaultSchemaConcurrency = 4
	pingTimeout              = 5 * time.Second
)

// SQLConnector implements Connector over database/sql for any Dialect.
type SQLConnector struct {
	dialect     Dialect
	logger      *slog.Logger
	sampleRows  int
	concurrency int

	mu  sync.RWMutex
	db  *sqlx.DB
	cfg ConnectionConfig
}

type Option func(*SQLConnector)

func WithLogger(logger *slog.Logger) Option {
	return func(c *SQLConnector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSchemaConcurrency bounds the per-table fan-out in GetSchema.
func WithSchemaConcurrency(n int) Option {
	return func(c *SQLConnector) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

func WithSampleRows(n int) Option {
	return func(c *SQLConnector) {
		if n >= 0 {
			c.sampleRows = n
		}
	}
}

func NewSQLConnector(dialect Dialect, opts ...Option) *SQLConnector {
	c := &SQLConnector{
		dialect:    dialect,
		logger:     slog.New(slog.DiscardHandler),
		sampleRows: defaultSampleRows,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *SQLConnector) Engine() string {
	return c.dialect.Engine()
}

func (c *SQLConnector) Connect(ctx context.Context, cfg ConnectionConfig) error {
	db, err := c.open(ctx, cfg)
	if err != nil {
		return err
	}
	c.swap(db, cfg)
	c.logger.InfoContext(ctx, "database connected",
		slog.String("engine", c.dialect.Engine()),
		slog.String("host", hostPort(cfg)),
		slog.String("database", c.dialect.CurrentDatabase(cfg)),
	)
	return nil
}

// Disconnect closes the pool. Calling it again, or before Connect, is a no-op.
func (c *SQLConnector) Disconnect() error {
	c.mu.Lock()
	db := c.db
	c.db = nil
	c.mu.Unlock()
	if db == nil {
		return nil
	}
	return db.Close()
}

func (c *SQLConnector) Close() error {
	return c.Disconnect()
}

func (c *SQLConnector) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.db != nil
}

func (c *SQLConnector) CurrentDatabase() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.db == nil {
		return ""
	}
	return c.dialect.CurrentDatabase(c.cfg)
}

func (c *SQLConnector) ListDatabases(ctx context.Context) ([]string, error) {
	db, _, err := c.handle()
	if err != nil {
		return nil, err
	}
	query, args, err := c.dialect.DatabasesQuery()
	if err != nil {
		return nil, fmt.Errorf("build databases query: %w", err)
	}
	rows, err := queryMaps(ctx, db, query, args)
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		if name := stringField(row, "database_name"); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// UseDatabase switches the active catalog. Pools cannot pin a USE statement
// to every connection, so server engines reopen the pool against the new
// catalog.
func (c *SQLConnector) UseDatabase(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("database name is required")
	}
	_, cfg, err := c.handle()
	if err != nil {
		return err
	}
	next, reopen, err := c.dialect.SwitchDatabase(cfg, name)
	if err != nil {
		return err
	}
	if !reopen {
		c.mu.Lock()
		c.cfg = next
		c.mu.Unlock()
		return nil
	}
	db, err := c.open(ctx, next)
	if err != nil {
		return err
	}
	c.swap(db, next)
	c.logger.InfoContext(ctx, "database switched",
		slog.String("engine", c.dialect.Engine()),
		slog.String("database", name),
	)
	return nil
}

type tableRow struct {
	name    string
	comment string
}

func (c *SQLConnector) ListTables(ctx context.Context) ([]string, error) {
	tables, err := c.listTables(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(tables))
	for _, table := range tables {
		names = append(names, table.name)
	}
	return names, nil
}

func (c *SQLConnector) listTables(ctx context.Context) ([]tableRow, error) {
	db, cfg, err := c.handle()
	if err != nil {
		return nil, err
	}
	query, args, err := c.dialect.TablesQuery(c.dialect.CurrentDatabase(cfg))
	if err != nil {
		return nil, fmt.Errorf("build tables query: %w", err)
	}
	rows, err := queryMaps(ctx, db, query, args)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	tables := make([]tableRow, 0, len(rows))
	for _, row := range rows {
		name := stringField(row, "table_name")
		if name == "" {
			continue
		}
		tables = append(tables, tableRow{name: name, comment: stringField(row, "table_comment")})
	}
	return tables, nil
}

func (c *SQLConnector) ListColumns(ctx context.Context, table string) ([]ColumnInfo, error) {
	db, cfg, err := c.handle()
	if err != nil {
		return nil, err
	}
	return c.listColumns(ctx, db, cfg, table)
}

func (c *SQLConnector) listColumns(ctx context.Context, db *sqlx.DB, cfg ConnectionConfig, table string) ([]ColumnInfo, error) {
	query, args, err := c.dialect.ColumnsQuery(c.dialect.CurrentDatabase(cfg), table)
	if err != nil {
		return nil, fmt.Errorf("build columns query: %w", err)
	}
	rows, err := queryMaps(ctx, db, query, args)
	if err != nil {
		return nil, fmt.Errorf("list columns of %s: %w", table, err)
	}
	columns := make([]ColumnInfo, 0, len(rows))
	for _, row := range rows {
		column := ColumnFromRow(row)
		if column.Name == "" {
			continue
		}
		columns = append(columns, column)
	}
	return columns, nil
}

// GetSchema lists tables, then fetches columns and sample rows for every
// table concurrently.
func (c *SQLConnector) GetSchema(ctx context.Context) (Schema, error) {
	db, cfg, err := c.handle()
	if err != nil {
		return Schema{}, err
	}
	tables, err := c.listTables(ctx)
	if err != nil {
		return Schema{}, err
	}

	infos := make([]TableInfo, len(tables))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.fanout(db))
	for i, table := range tables {
		g.Go(func() error {
			columns, err := c.listColumns(gctx, db, cfg, table.name)
			if err != nil {
				return err
			}
			infos[i] = TableInfo{
				Name:       table.name,
				Comment:    table.comment,
				Columns:    columns,
				SampleData: c.samples(gctx, db, cfg, table.name),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Schema{}, err
	}
	observability.SetSchemaTables(c.dialect.Engine(), len(infos))
	return Schema{DatabaseName: c.dialect.CurrentDatabase(cfg), Tables: infos}, nil
}

// samples never fails; sample rows are a prompt nicety.
func (c *SQLConnector) samples(ctx context.Context, db *sqlx.DB, cfg ConnectionConfig, table string) []map[string]string {
	out := []map[string]string{}
	if c.sampleRows == 0 {
		return out
	}
	rows, err := db.QueryxContext(ctx, c.dialect.SampleQuery(c.dialect.CurrentDatabase(cfg), table, c.sampleRows))
	if err != nil {
		c.logger.DebugContext(ctx, "sample rows unavailable", slog.String("table", table), slog.Any("error", err))
		return out
	}
	defer rows.Close()
	columns, err := rows.Columns()
	if err != nil {
		return out
	}
	for rows.Next() && len(out) < c.sampleRows {
		values, err := rows.SliceScan()
		if err != nil {
			c.logger.DebugContext(ctx, "sample row scan failed", slog.String("table", table), slog.Any("error", err))
			return []map[string]string{}
		}
		sample := make(map[string]string, len(columns))
		for i, column := range columns {
			sample[column] = truncateRunes(FormatValue(values[i]), sampleCellMaxRune)
		}
		out = append(out, sample)
	}
	if err := rows.Err(); err != nil {
		return []map[string]string{}
	}
	return out
}

func (c *SQLConnector) ExecuteQuery(ctx context.Context, sql string) ExecutionResult {
	start := time.Now()
	result := ExecutionResult{ExecutedSQL: sql}
	db, _, err := c.handle()
	if err != nil {
		result.ErrorMessage = err.Error()
		return result
	}

	rows, err := db.QueryxContext(ctx, sql)
	if err != nil {
		return c.failed(ctx, result, err, start)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return c.failed(ctx, result, err, start)
	}
	set := &ResultSet{Columns: columns, Rows: make([][]any, 0)}
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return c.failed(ctx, result, err, start)
		}
		set.Rows = append(set.Rows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return c.failed(ctx, result, err, start)
	}

	result.Success = true
	result.Data = set
	result.AffectedRows = int64(len(set.Rows))
	result.ExecutionTime = time.Since(start)
	observability.ObserveSQLExecution(c.dialect.Engine(), true, result.ExecutionTime)
	return result
}

func (c *SQLConnector) ExecuteNonQuery(ctx context.Context, sql string) ExecutionResult {
	start := time.Now()
	result := ExecutionResult{ExecutedSQL: sql}
	db, _, err := c.handle()
	if err != nil {
		result.ErrorMessage = err.Error()
		return result
	}

	res, err := db.ExecContext(ctx, sql)
	if err != nil {
		return c.failed(ctx, result, err, start)
	}
	if affected, err := res.RowsAffected(); err == nil {
		result.AffectedRows = affected
	}
	result.Success = true
	result.ExecutionTime = time.Since(start)
	observability.ObserveSQLExecution(c.dialect.Engine(), true, result.ExecutionTime)
	return result
}

func (c *SQLConnector) failed(ctx context.Context, result ExecutionResult, err error, start time.Time) ExecutionResult {
	result.Success = false
	result.ErrorMessage = err.Error()
	result.ErrorCode = c.dialect.ErrorCode(err)
	result.ExecutionTime = time.Since(start)
	observability.ObserveSQLExecution(c.dialect.Engine(), false, result.ExecutionTime)
	c.logger.DebugContext(ctx, "sql execution failed",
		slog.String("engine", c.dialect.Engine()),
		slog.String("error_code", result.ErrorCode),
		slog.Any("error", err),
	)
	return result
}

func (c *SQLConnector) handle() (*sqlx.DB, ConnectionConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.db == nil {
		return nil, ConnectionConfig{}, ErrNotConnected
	}
	return c.db, c.cfg, nil
}

func (c *SQLConnector) swap(db *sqlx.DB, cfg ConnectionConfig) {
	c.mu.Lock()
	old := c.db
	c.db = db
	c.cfg = cfg
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
}

func (c *SQLConnector) open(ctx context.Context, cfg ConnectionConfig) (*sqlx.DB, error) {
	raw, err := c.dialect.Open(cfg)
	if err != nil {
		return nil, &ConnectionError{Engine: c.dialect.Engine(), Host: hostPort(cfg), Err: err}
	}
	if cfg.MaxOpenConns > 0 {
		raw.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		raw.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		raw.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		raw.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := raw.PingContext(pingCtx); err != nil {
		_ = raw.Close()
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &ConnectionError{Engine: c.dialect.Engine(), Host: hostPort(cfg), Err: err}
	}
	return sqlx.NewDb(raw, c.dialect.DriverName()), nil
}

func (c *SQLConnector) fanout(db *sqlx.DB) int {
	if c.concurrency > 0 {
		return c.concurrency
	}
	if open := db.Stats().MaxOpenConnections; open > 0 {
		return open
	}
	return defaultSchemaConcurrency
}

func queryMaps(ctx context.Context, db *sqlx.DB, query string, args []any) ([]map[string]any, error) {
	rows, err := db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]map[string]any, 0)
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func hostPort(cfg ConnectionConfig) string {
	if cfg.Host == "" {
		return ""
	}
	if cfg.Port <= 0 {
		return cfg.Host
	}
	return net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
}

var _ Connector = (*SQLConnector)(nil)
