package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Database      DatabaseConfig
	AI            AIConfig
	Agent         AgentConfig
	Knowledge     KnowledgeConfig
	Export        ExportConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig describes the default connection registered at start-up.
// An empty Engine means no default connection.
type DatabaseConfig struct {
	ConnectionID    string
	Engine          string
	Host            string
	Port            int
	Name            string
	User            string
	Password        string
	Params          map[string]string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	ConnectionsFile string
}

type AIConfig struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Deployment  string
	APIVersion  string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

type AgentConfig struct {
	MaxRetries        int
	SchemaConcurrency int
}

type KnowledgeConfig struct {
	File           string
	APIURL         string
	DBIDs          []string
	TopK           int
	ScoreThreshold float64
	Timeout        time.Duration
}

type ExportConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

// Enabled reports whether exports should be wired to an object store.
func (c ExportConfig) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("SQLSTUDIO_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid SQLSTUDIO_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	if err := applyString(lookup, "SQLSTUDIO_SERVICE_NAME", &cfg.Service.Name); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLSTUDIO_HTTP_ADDR", &cfg.HTTP.Address); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SQLSTUDIO_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SQLSTUDIO_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SQLSTUDIO_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SQLSTUDIO_HTTP_SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLSTUDIO_DB_CONNECTION_ID", &cfg.Database.ConnectionID); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLSTUDIO_DB_ENGINE", &cfg.Database.Engine); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLSTUDIO_DB_HOST", &cfg.Database.Host); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "SQLSTUDIO_DB_PORT", &cfg.Database.Port); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLSTUDIO_DB_NAME", &cfg.Database.Name); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLSTUDIO_DB_USER", &cfg.Database.User); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLSTUDIO_DB_PASSWORD", &cfg.Database.Password); err != nil {
		return Config{}, err
	}
	if err := applyStringMap(lookup, "SQLSTUDIO_DB_PARAMS", &cfg.Database.Params); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "SQLSTUDIO_DB_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "SQLSTUDIO_DB_MAX_IDLE_CONNS", &cfg.Database.MaxIdleConns); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SQLSTUDIO_DB_CONN_MAX_IDLE_TIME", &cfg.Database.ConnMaxIdleTime); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SQLSTUDIO_DB_CONN_MAX_LIFETIME", &cfg.Database.ConnMaxLifetime); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLSTUDIO_CONNECTIONS_FILE", &cfg.Database.ConnectionsFile); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLSTUDIO_AI_PROVIDER", &cfg.AI.Provider); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLSTUDIO_AI_BASE_URL", &cfg.AI.BaseURL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLSTUDIO_AI_API_KEY", &cfg.AI.APIKey); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLSTUDIO_AI_MODEL", &cfg.AI.Model); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLSTUDIO_AI_DEPLOYMENT", &cfg.AI.Deployment); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLSTUDIO_AI_API_VERSION", &cfg.AI.APIVersion); err != nil {
		return Config{}, err
	}
	if err := applyFloat(lookup, "SQLSTUDIO_AI_TEMPERATURE", &cfg.AI.Temperature); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "SQLSTUDIO_AI_MAX_TOKENS", &cfg.AI.MaxTokens); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SQLSTUDIO_AI_TIMEOUT", &cfg.AI.Timeout); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "SQLSTUDIO_AGENT_MAX_RETRIES", &cfg.Agent.MaxRetries); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "SQLSTUDIO_AGENT_SCHEMA_CONCURRENCY", &cfg.Agent.SchemaConcurrency); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLSTUDIO_KNOWLEDGE_FILE", &cfg.Knowledge.File); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLSTUDIO_KNOWLEDGE_API_URL", &cfg.Knowledge.APIURL); err != nil {
		return Config{}, err
	}
	if err := applyStringList(lookup, "SQLSTUDIO_KNOWLEDGE_DB_IDS", &cfg.Knowledge.DBIDs); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "SQLSTUDIO_KNOWLEDGE_TOP_K", &cfg.Knowledge.TopK); err != nil {
		return Config{}, err
	}
	if err := applyFloat(lookup, "SQLSTUDIO_KNOWLEDGE_SCORE_THRESHOLD", &cfg.Knowledge.ScoreThreshold); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SQLSTUDIO_KNOWLEDGE_TIMEOUT", &cfg.Knowledge.Timeout); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLSTUDIO_EXPORT_ENDPOINT", &cfg.Export.Endpoint); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLSTUDIO_EXPORT_REGION", &cfg.Export.Region); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLSTUDIO_EXPORT_BUCKET", &cfg.Export.Bucket); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLSTUDIO_EXPORT_ACCESS_KEY", &cfg.Export.AccessKeyID); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLSTUDIO_EXPORT_SECRET_KEY", &cfg.Export.SecretAccessKey); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "SQLSTUDIO_EXPORT_USE_SSL", &cfg.Export.UseSSL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLSTUDIO_EXPORT_PREFIX", &cfg.Export.Prefix); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "SQLSTUDIO_EXPORT_AUTO_CREATE_BUCKET", &cfg.Export.AutoCreateBucket); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "SQLSTUDIO_LOG_JSON", &cfg.Observability.LogJSON); err != nil {
		return Config{}, err
	}
	if err := applyLogLevel(lookup, "SQLSTUDIO_LOG_LEVEL", &cfg.Observability.LogLevel); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "SQLSTUDIO_AUTH_REQUIRED", &cfg.Auth.Required); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLSTUDIO_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys); err != nil {
		return Config{}, err
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	if cfg.Agent.MaxRetries < 1 {
		return Config{}, fmt.Errorf("invalid SQLSTUDIO_AGENT_MAX_RETRIES: must be at least 1")
	}
	switch strings.ToLower(cfg.AI.Provider) {
	case "openai", "azure", "ollama":
		cfg.AI.Provider = strings.ToLower(cfg.AI.Provider)
	default:
		return Config{}, fmt.Errorf("invalid SQLSTUDIO_AI_PROVIDER: %q", cfg.AI.Provider)
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "sqlstudio-api"},
		HTTP: HTTPConfig{
			Address:         ":8080",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    5 * time.Minute,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			ConnectionID:    "default",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		AI: AIConfig{
			Provider:    "openai",
			BaseURL:     "https://api.openai.com",
			Model:       "gpt-4o",
			APIVersion:  "2024-06-01",
			Temperature: 0.1,
			MaxTokens:   2000,
			Timeout:     2 * time.Minute,
		},
		Agent: AgentConfig{
			MaxRetries:        3,
			SchemaConcurrency: 4,
		},
		Knowledge: KnowledgeConfig{
			TopK:           10,
			ScoreThreshold: 0.3,
			Timeout:        30 * time.Second,
		},
		Export: ExportConfig{
			Region:           "us-east-1",
			UseSSL:           false,
			AutoCreateBucket: true,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Auth.Required = false
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.Export.UseSSL = true
		cfg.Export.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyStringList(lookup LookupFunc, key string, dst *[]string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	values := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			values = append(values, part)
		}
	}
	*dst = values
	return nil
}

// applyStringMap parses "k=v,k2=v2".
func applyStringMap(lookup LookupFunc, key string, dst *map[string]string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	values := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, found := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if !found || name == "" {
			return fmt.Errorf("invalid %s: entry %q must be key=value", key, part)
		}
		values[name] = strings.TrimSpace(value)
	}
	*dst = values
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
