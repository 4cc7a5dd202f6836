package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/sqlstudio/sqlstudio/internal/database"
	"github.com/sqlstudio/sqlstudio/internal/export"
	"github.com/sqlstudio/sqlstudio/internal/storage"
)

type fakeExporter struct {
	requests []export.Request
	err      error
	objects  []storage.ObjectInfo
}

func (f *fakeExporter) Export(_ context.Context, req export.Request) (export.Result, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return export.Result{}, f.err
	}
	return export.Result{
		Key:     "exports/" + req.ConnectionID + "/" + req.RunID + ".parquet",
		Rows:    int64(len(req.Result.Rows)),
		Columns: req.Result.Columns,
	}, nil
}

func (f *fakeExporter) List(context.Context, string) ([]storage.ObjectInfo, error) {
	return f.objects, f.err
}

func TestExportRunsQueryAndUploads(t *testing.T) {
	exporter := &fakeExporter{}
	srv := newTestServer(t, nil, func(deps *Dependencies) { deps.Exporter = exporter })

	rr := srv.do(t, http.MethodPost, "/v1/connections/main/export", "reader", `{"sql":"SELECT name FROM users"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["rows"] != float64(2) {
		t.Fatalf("body = %v", body)
	}
	if len(exporter.requests) != 1 || exporter.requests[0].ConnectionID != "main" || exporter.requests[0].RunID == "" {
		t.Fatalf("requests = %+v", exporter.requests)
	}
	if _, release, err := srv.manager.Acquire("main"); err != nil {
		t.Fatalf("connection not released: %v", err)
	} else {
		release()
	}
}

func TestExportErrors(t *testing.T) {
	exporter := &fakeExporter{}
	srv := newTestServer(t, nil, func(deps *Dependencies) { deps.Exporter = exporter })

	if rr := srv.do(t, http.MethodPost, "/v1/connections/main/export", "reader", `{"sql":"DROP TABLE users"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("mutating sql status = %d", rr.Code)
	}

	srv.conn.result = database.ExecutionResult{ErrorMessage: "no such table: ghost", ErrorCode: "SQLITE_ERROR"}
	rr := srv.do(t, http.MethodPost, "/v1/connections/main/export", "reader", `{"sql":"SELECT * FROM ghost"}`)
	if rr.Code != http.StatusUnprocessableEntity || decodeBody(t, rr)["error_code"] != "QUERY_EXECUTION_FAILED" {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	if len(exporter.requests) != 0 {
		t.Fatalf("failed query was exported: %+v", exporter.requests)
	}

	srv.conn.result = newFakeConnector().result
	exporter.err = errors.New("bucket unavailable")
	rr = srv.do(t, http.MethodPost, "/v1/connections/main/export", "reader", `{"sql":"SELECT name FROM users"}`)
	if rr.Code != http.StatusBadGateway || decodeBody(t, rr)["error_code"] != "EXPORT_FAILED" {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestExportNotConfigured(t *testing.T) {
	srv := newTestServer(t, nil, nil)
	for _, tc := range []struct{ method, path, body string }{
		{http.MethodPost, "/v1/connections/main/export", `{"sql":"SELECT 1"}`},
		{http.MethodGet, "/v1/connections/main/exports", ""},
	} {
		rr := srv.do(t, tc.method, tc.path, "reader", tc.body)
		if rr.Code != http.StatusNotImplemented || decodeBody(t, rr)["error_code"] != "EXPORT_NOT_CONFIGURED" {
			t.Fatalf("%s status = %d body=%s", tc.path, rr.Code, rr.Body.String())
		}
	}
}

func TestListExports(t *testing.T) {
	modified := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	exporter := &fakeExporter{objects: []storage.ObjectInfo{{
		Key:          "exports/main/2026/03/04/a.parquet",
		Size:         512,
		LastModified: modified,
		Metadata:     map[string]string{export.MetaRunID: "a", export.MetaRows: "7"},
	}}}
	srv := newTestServer(t, nil, func(deps *Dependencies) { deps.Exporter = exporter })

	rr := srv.do(t, http.MethodGet, "/v1/connections/main/exports", "reader", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	items := decodeBody(t, rr)["exports"].([]any)
	item := items[0].(map[string]any)
	if len(items) != 1 || item["key"] != "exports/main/2026/03/04/a.parquet" || item["bytes"] != float64(512) || item["last_modified"] != "2026-03-04T10:00:00Z" {
		t.Fatalf("exports = %v", items)
	}
	if item["run_id"] != "a" || item["rows"] != float64(7) {
		t.Fatalf("export metadata = %v", item)
	}
}
