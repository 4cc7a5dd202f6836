package knowledge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRemoteSearch(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Api/Knowledge/KnowledgeRetrievaler" || r.Method != http.MethodPost {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"code":200,"message":"ok","data":[
			{"content":"VIP means lifetime spend over 10k","score":0.91,"title":"Customer tiers","file_name":"tiers.md","knowledge_db_name":"sales"},
			{"content":"  ","score":0.5}
		]}`))
	}))
	defer srv.Close()

	remote, err := NewRemote(RemoteConfig{APIURL: srv.URL + "/", DBIDs: []string{"kb-1"}, ScoreThreshold: 0.3})
	if err != nil {
		t.Fatalf("NewRemote() error = %v", err)
	}
	items, err := remote.Search(context.Background(), "list VIP customers")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %+v", items)
	}
	got := items[0]
	if got.Title != "Customer tiers" || got.FileName != "tiers.md" || got.Source != "sales" || got.Score != 0.91 {
		t.Fatalf("item = %+v", got)
	}
	if body["query"] != "list VIP customers" || body["top_k"] != float64(10) || body["score_threshold"] != 0.3 {
		t.Fatalf("body = %+v", body)
	}
	if ids := body["knowledge_db_ids"].([]any); len(ids) != 1 || ids[0] != "kb-1" {
		t.Fatalf("knowledge_db_ids = %v", body["knowledge_db_ids"])
	}
	if files := body["file_ids"].([]any); len(files) != 0 {
		t.Fatalf("file_ids = %v", files)
	}
}

func TestRemoteSearchErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		payload string
		want    string
	}{
		{name: "api code", status: http.StatusOK, payload: `{"code":500,"message":"index offline"}`, want: "index offline"},
		{name: "http status", status: http.StatusBadGateway, payload: `upstream`, want: "status=502"},
		{name: "invalid json", status: http.StatusOK, payload: `<html>`, want: "invalid json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.payload))
			}))
			defer srv.Close()
			remote, err := NewRemote(RemoteConfig{APIURL: srv.URL, DBIDs: []string{"kb"}})
			if err != nil {
				t.Fatalf("NewRemote() error = %v", err)
			}
			_, err = remote.Search(context.Background(), "q")
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Search() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestRemoteRequiresConfiguration(t *testing.T) {
	if (RemoteConfig{APIURL: "http://kb"}).Configured() {
		t.Fatal("Configured() without ids = true")
	}
	if _, err := NewRemote(RemoteConfig{DBIDs: []string{"kb"}}); err == nil {
		t.Fatal("expected error without url")
	}
}
