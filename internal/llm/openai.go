package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	ProviderOpenAI = "openai"
	ProviderAzure  = "azure"
	ProviderOllama = "ollama"

	defaultModel       = "gpt-4o"
	defaultOllamaURL   = "http://localhost:11434"
	defaultAPIVersion  = "2024-06-01"
	defaultTemperature = 0.1
	defaultMaxTokens   = 2000
	errorBodyLimit     = 4 << 10
	maxSSELineBytes    = 1 << 20
)

// Config configures a Client. Temperature applies when a request sets none
// and defaults to 0.1 when nil. Timeout bounds the wait for response headers
// only; the streamed body runs until the request context ends.
type Config struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Deployment  string
	APIVersion  string
	Temperature *float64
	MaxTokens   int
	Timeout     time.Duration
}

// Client talks to the chat completions endpoint of OpenAI, Azure OpenAI or
// Ollama, always in streaming mode.
type Client struct {
	provider    string
	baseURL     string
	apiKey      string
	model       string
	deployment  string
	apiVersion  string
	temperature float64
	maxTokens   int
	client      *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = ProviderOpenAI
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	apiKey := strings.TrimSpace(cfg.APIKey)
	switch provider {
	case ProviderOpenAI:
		if baseURL == "" {
			return nil, fmt.Errorf("base URL is required")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("api key is required")
		}
	case ProviderAzure:
		if baseURL == "" {
			return nil, fmt.Errorf("base URL is required")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("api key is required")
		}
		if strings.TrimSpace(cfg.Deployment) == "" {
			return nil, fmt.Errorf("azure deployment is required")
		}
	case ProviderOllama:
		if baseURL == "" {
			baseURL = defaultOllamaURL
		}
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", cfg.Provider)
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	apiVersion := strings.TrimSpace(cfg.APIVersion)
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	temperature := defaultTemperature
	if cfg.Temperature != nil && *cfg.Temperature >= 0 {
		temperature = *cfg.Temperature
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		provider:    provider,
		baseURL:     baseURL,
		apiKey:      apiKey,
		model:       model,
		deployment:  strings.TrimSpace(cfg.Deployment),
		apiVersion:  apiVersion,
		temperature: temperature,
		maxTokens:   maxTokens,
		client:      &http.Client{Transport: streamingTransport(timeout)},
	}, nil
}

func streamingTransport(headerTimeout time.Duration) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout
	return transport
}

func (c *Client) Provider() string { return c.provider }
func (c *Client) Model() string    { return c.model }

// Endpoint returns the chat completions URL for the configured provider.
func (c *Client) Endpoint() string {
	if c.provider == ProviderAzure {
		return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			c.baseURL, url.PathEscape(c.deployment), url.QueryEscape(c.apiVersion))
	}
	return apiRoot(c.baseURL) + "/chat/completions"
}

func (c *Client) StreamChat(ctx context.Context, req ChatRequest) (ChatStream, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("at least one message is required")
	}
	temperature := c.temperature
	if req.Settings.Temperature != nil {
		temperature = *req.Settings.Temperature
	}
	maxTokens := c.maxTokens
	if req.Settings.MaxTokens > 0 {
		maxTokens = req.Settings.MaxTokens
	}
	body, err := json.Marshal(map[string]any{
		"model":       c.model,
		"messages":    req.Messages,
		"temperature": temperature,
		"max_tokens":  maxTokens,
		"stream":      true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	c.authorize(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request chat completion: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer func() { _ = resp.Body.Close() }()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return nil, fmt.Errorf("chat completion failed status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return newSSEStream(resp.Body), nil
}

// Models lists the models served by the endpoint, see ListModels.
func (c *Client) Models(ctx context.Context) []string {
	if c.provider == ProviderAzure {
		return []string{AutoModel}
	}
	return ListModels(ctx, c.client, c.baseURL, c.apiKey)
}

func (c *Client) authorize(req *http.Request) {
	switch c.provider {
	case ProviderAzure:
		req.Header.Set("api-key", c.apiKey)
	case ProviderOllama:
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
	default:
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// apiRoot accepts base URLs with or without the /v1 suffix.
func apiRoot(baseURL string) string {
	if strings.HasSuffix(baseURL, "/v1") {
		return baseURL
	}
	return baseURL + "/v1"
}

type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

func newSSEStream(body io.ReadCloser) *sseStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), maxSSELineBytes)
	return &sseStream{body: body, scanner: scanner}
}

func (s *sseStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			s.done = true
			return "", io.EOF
		}
		if msg := gjson.Get(payload, "error.message"); msg.Exists() {
			s.done = true
			return "", fmt.Errorf("chat completion stream error: %s", msg.String())
		}
		if content := gjson.Get(payload, "choices.0.delta.content").String(); content != "" {
			return content, nil
		}
	}
	s.done = true
	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("read chat stream: %w", err)
	}
	return "", io.EOF
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
