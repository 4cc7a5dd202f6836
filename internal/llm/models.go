package llm

import (
	"context"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// AutoModel lets the server pick its default model.
const AutoModel = "auto"

// ListModels returns AutoModel followed by the sorted ids from
// GET {baseURL}/v1/models. Any failure yields just AutoModel.
func ListModels(ctx context.Context, client *http.Client, baseURL, apiKey string) []string {
	models := []string{AutoModel}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return models
	}
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiRoot(baseURL)+"/models", nil)
	if err != nil {
		return models
	}
	if apiKey = strings.TrimSpace(apiKey); apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		return models
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return models
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil || !gjson.ValidBytes(raw) {
		return models
	}

	ids := make([]string, 0)
	for _, id := range gjson.GetBytes(raw, "data.#.id").Array() {
		if name := strings.TrimSpace(id.String()); name != "" && name != AutoModel {
			ids = append(ids, name)
		}
	}
	sort.Strings(ids)
	return append(models, ids...)
}
