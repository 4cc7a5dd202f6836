package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const remoteSearchPath = "/Api/Knowledge/KnowledgeRetrievaler"

type RemoteConfig struct {
	APIURL         string
	DBIDs          []string
	TopK           int
	ScoreThreshold float64
	Timeout        time.Duration
}

// Configured reports whether both the endpoint and at least one knowledge
// base id are set.
func (c RemoteConfig) Configured() bool {
	return strings.TrimSpace(c.APIURL) != "" && len(c.DBIDs) > 0
}

// Remote queries a knowledge retrieval API over HTTP.
type Remote struct {
	endpoint       string
	dbIDs          []string
	topK           int
	scoreThreshold float64
	client         *http.Client
}

func NewRemote(cfg RemoteConfig) (*Remote, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("knowledge api url and knowledge base ids are required")
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 10
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Remote{
		endpoint:       strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/") + remoteSearchPath,
		dbIDs:          append([]string(nil), cfg.DBIDs...),
		topK:           topK,
		scoreThreshold: cfg.ScoreThreshold,
		client:         &http.Client{Timeout: timeout},
	}, nil
}

func (r *Remote) Search(ctx context.Context, query string) ([]Item, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Item{}, nil
	}
	body, err := json.Marshal(map[string]any{
		"query":            query,
		"knowledge_db_ids": r.dbIDs,
		"file_ids":         []string{},
		"top_k":            r.topK,
		"score_threshold":  r.scoreThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal knowledge request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build knowledge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request knowledge retrieval: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read knowledge response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("knowledge retrieval failed status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("decode knowledge response: invalid json")
	}
	parsed := gjson.ParseBytes(raw)
	if code := parsed.Get("code").Int(); code != 200 {
		return nil, fmt.Errorf("knowledge retrieval rejected code=%d message=%s", code, parsed.Get("message").String())
	}

	items := make([]Item, 0)
	parsed.Get("data").ForEach(func(_, hit gjson.Result) bool {
		content := strings.TrimSpace(hit.Get("content").String())
		if content == "" {
			return true
		}
		items = append(items, Item{
			Content:  content,
			Score:    hit.Get("score").Float(),
			Title:    hit.Get("title").String(),
			FileName: hit.Get("file_name").String(),
			Source:   hit.Get("knowledge_db_name").String(),
		})
		return true
	})
	return items, nil
}
