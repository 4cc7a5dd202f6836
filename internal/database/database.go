// Package database defines the connector capability the agent drives and the
// shared database/sql implementation every engine dialect plugs into.
package database

import (
	"context"
	"strings"
	"time"
)

// ConnectionConfig locates one database server. Database is the active
// catalog; for file engines it is the file path.
type ConnectionConfig struct {
	Host            string            `json:"host,omitempty"`
	Port            int               `json:"port,omitempty"`
	Database        string            `json:"database,omitempty"`
	Username        string            `json:"username,omitempty"`
	Password        string            `json:"-"`
	ExtraParams     map[string]string `json:"extra_params,omitempty"`
	MaxOpenConns    int               `json:"-"`
	MaxIdleConns    int               `json:"-"`
	ConnMaxIdleTime time.Duration     `json:"-"`
	ConnMaxLifetime time.Duration     `json:"-"`
}

// Param returns an extra parameter by case-insensitive key.
func (c ConnectionConfig) Param(key string) (string, bool) {
	for k, v := range c.ExtraParams {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

type Schema struct {
	DatabaseName string      `json:"database_name"`
	Tables       []TableInfo `json:"tables"`
}

type TableInfo struct {
	Name       string              `json:"table_name"`
	Comment    string              `json:"table_comment,omitempty"`
	Columns    []ColumnInfo        `json:"columns"`
	SampleData []map[string]string `json:"sample_data,omitempty"`
}

type ColumnInfo struct {
	Name         string `json:"column_name"`
	DataType     string `json:"data_type"`
	Nullable     bool   `json:"is_nullable"`
	PrimaryKey   bool   `json:"is_primary_key"`
	DefaultValue string `json:"default_value,omitempty"`
	Comment      string `json:"comment,omitempty"`
}

// TableNames returns the schema's table names in schema order.
func (s Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, table := range s.Tables {
		names = append(names, table.Name)
	}
	return names
}

// Filter returns a new schema holding only the named tables, in schema order.
// Names are matched exactly; callers canonicalize casing first.
func (s Schema) Filter(names []string) Schema {
	keep := make(map[string]struct{}, len(names))
	for _, name := range names {
		keep[name] = struct{}{}
	}
	filtered := Schema{DatabaseName: s.DatabaseName, Tables: make([]TableInfo, 0, len(names))}
	for _, table := range s.Tables {
		if _, ok := keep[table.Name]; ok {
			filtered.Tables = append(filtered.Tables, table)
		}
	}
	return filtered
}

type ResultSet struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// ExecutionResult is returned by every query and non-query call. SQL errors
// are reported here rather than as Go errors.
type ExecutionResult struct {
	Success       bool          `json:"success"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	ErrorCode     string        `json:"error_code,omitempty"`
	Data          *ResultSet    `json:"data,omitempty"`
	AffectedRows  int64         `json:"affected_rows"`
	ExecutionTime time.Duration `json:"execution_time_ns"`
	ExecutedSQL   string        `json:"executed_sql"`
}

// Connector is the capability the agent needs from a database. A single
// Connector must not run overlapping queries from two agent runs.
type Connector interface {
	Engine() string
	Connect(ctx context.Context, cfg ConnectionConfig) error
	Disconnect() error
	Close() error
	IsConnected() bool
	CurrentDatabase() string
	ListDatabases(ctx context.Context) ([]string, error)
	UseDatabase(ctx context.Context, name string) error
	GetSchema(ctx context.Context) (Schema, error)
	ListTables(ctx context.Context) ([]string, error)
	ListColumns(ctx context.Context, table string) ([]ColumnInfo, error)
	ExecuteQuery(ctx context.Context, sql string) ExecutionResult
	ExecuteNonQuery(ctx context.Context, sql string) ExecutionResult
}
