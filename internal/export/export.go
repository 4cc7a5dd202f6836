// Package export writes query results to object storage as Parquet files.
package export

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"

	"github.com/sqlstudio/sqlstudio/internal/database"
	"github.com/sqlstudio/sqlstudio/internal/observability"
	"github.com/sqlstudio/sqlstudio/internal/storage"
)

const (
	ContentType          = "application/vnd.apache.parquet"
	DefaultPresignExpiry = 15 * time.Minute
)

// Object metadata written with every export.
const (
	MetaConnectionID = "connection-id"
	MetaRunID        = "run-id"
	MetaRows         = "rows"
)

type Request struct {
	ConnectionID string
	RunID        string
	Result       *database.ResultSet
}

type Result struct {
	Key     string   `json:"key"`
	Rows    int64    `json:"rows"`
	Bytes   int64    `json:"bytes"`
	Columns []string `json:"columns"`
	URL     string   `json:"url,omitempty"`
}

type Option func(*Exporter)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Exporter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithPresignExpiry(expiry time.Duration) Option {
	return func(e *Exporter) { e.presignExpiry = expiry }
}

func WithClock(now func() time.Time) Option {
	return func(e *Exporter) {
		if now != nil {
			e.now = now
		}
	}
}

type Exporter struct {
	store         storage.ObjectStore
	logger        *slog.Logger
	presignExpiry time.Duration
	now           func() time.Time
}

func New(store storage.ObjectStore, opts ...Option) (*Exporter, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	e := &Exporter{
		store:         store,
		logger:        slog.Default(),
		presignExpiry: DefaultPresignExpiry,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Export encodes req.Result and uploads it under the connection's export
// prefix. An empty RunID gets a fresh UUID.
func (e *Exporter) Export(ctx context.Context, req Request) (Result, error) {
	if req.Result == nil {
		return Result{}, fmt.Errorf("result set is required")
	}
	runID := strings.TrimSpace(req.RunID)
	if runID == "" {
		runID = uuid.NewString()
	}
	key, err := storage.BuildExportPath(req.ConnectionID, runID, e.now())
	if err != nil {
		return Result{}, err
	}

	encoded, err := EncodeResultSet(req.Result)
	if err != nil {
		return Result{}, err
	}
	size := int64(len(encoded.Data))
	opts := storage.PutOptions{
		ContentType: ContentType,
		Metadata:    map[string]string{
			MetaConnectionID: req.ConnectionID,
			MetaRunID:        runID,
			MetaRows:         strconv.FormatInt(encoded.Rows, 10),
		},
	}
	if _, err := e.store.Put(ctx, key, bytes.NewReader(encoded.Data), size, opts); err != nil {
		observability.ObserveExport(false, size)
		return Result{}, fmt.Errorf("upload export: %w", err)
	}
	observability.ObserveExport(true, size)

	out := Result{Key: key, Rows: encoded.Rows, Bytes: size, Columns: encoded.Columns}
	if presigner, ok := e.store.(storage.Presigner); ok && e.presignExpiry > 0 {
		link, err := presigner.PresignGet(ctx, key, e.presignExpiry)
		if err != nil {
			e.logger.Warn("presign export failed", "key", key, "error", err)
		} else {
			out.URL = link
		}
	}
	e.logger.Info("result exported", "connection_id", req.ConnectionID, "key", key, "rows", out.Rows, "bytes", size)
	return out, nil
}

// List returns the stored exports of one connection, newest first.
func (e *Exporter) List(ctx context.Context, connectionID string) ([]storage.ObjectInfo, error) {
	prefix, err := storage.ExportPrefix(connectionID)
	if err != nil {
		return nil, err
	}
	objects, err := e.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(objects, func(a, b storage.ObjectInfo) int {
		if c := b.LastModified.Compare(a.LastModified); c != 0 {
			return c
		}
		return strings.Compare(b.Key, a.Key)
	})
	return objects, nil
}

type Encoded struct {
	Data    []byte
	Rows    int64
	Columns []string
}

// EncodeResultSet writes every column as an optional UTF-8 string. NULL cells
// stay null; other values are rendered with database.FormatValue. Parquet
// groups order their fields by name, so Columns reports the file order.
func EncodeResultSet(rs *database.ResultSet) (Encoded, error) {
	if len(rs.Columns) == 0 {
		return Encoded{}, fmt.Errorf("result set has no columns")
	}
	names := uniqueColumnNames(rs.Columns)
	group := make(parquet.Group, len(names))
	for _, name := range names {
		group[name] = parquet.Optional(parquet.String())
	}
	schema := parquet.NewSchema("result", group)

	// source[i] is the result column feeding parquet column i.
	order := make([]string, 0, len(names))
	for _, path := range schema.Columns() {
		order = append(order, path[0])
	}
	source := make([]int, len(order))
	for i, name := range order {
		source[i] = slices.Index(names, name)
	}

	rows := make([]parquet.Row, 0, len(rs.Rows))
	for n, values := range rs.Rows {
		if len(values) != len(names) {
			return Encoded{}, fmt.Errorf("row %d has %d values, want %d", n, len(values), len(names))
		}
		row := make(parquet.Row, len(order))
		for col, src := range source {
			if values[src] == nil {
				row[col] = parquet.NullValue().Level(0, 0, col)
				continue
			}
			row[col] = parquet.ByteArrayValue([]byte(database.FormatValue(values[src]))).Level(0, 1, col)
		}
		rows = append(rows, row)
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewWriter(buf, schema)
	if len(rows) > 0 {
		if _, err := writer.WriteRows(rows); err != nil {
			return Encoded{}, fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return Encoded{}, fmt.Errorf("close parquet writer: %w", err)
	}
	return Encoded{Data: buf.Bytes(), Rows: int64(len(rows)), Columns: order}, nil
}

func uniqueColumnNames(columns []string) []string {
	taken := make(map[string]bool, len(columns))
	out := make([]string, len(columns))
	for i, name := range columns {
		name = strings.TrimSpace(name)
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		candidate := name
		for n := 2; taken[candidate]; n++ {
			candidate = name + "_" + strconv.Itoa(n)
		}
		taken[candidate] = true
		out[i] = candidate
	}
	return out
}
