// Package bootstrap turns configuration into the runtime components the
// binaries share.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sqlstudio/sqlstudio/internal/agent"
	"github.com/sqlstudio/sqlstudio/internal/config"
	"github.com/sqlstudio/sqlstudio/internal/database"
	"github.com/sqlstudio/sqlstudio/internal/database/engines"
	"github.com/sqlstudio/sqlstudio/internal/export"
	"github.com/sqlstudio/sqlstudio/internal/knowledge"
	"github.com/sqlstudio/sqlstudio/internal/llm"
	s3store "github.com/sqlstudio/sqlstudio/internal/storage/s3"
)

// NewManager builds the connection registry with the configured schema
// fan-out.
func NewManager(cfg config.Config, logger *slog.Logger) *database.Manager {
	return database.NewManager(engines.Factory(
		database.WithLogger(logger),
		database.WithSchemaConcurrency(cfg.Agent.SchemaConcurrency),
	))
}

// ConnectionConfig applies the pool settings of defaults to one connection.
func ConnectionConfig(defaults config.DatabaseConfig, host string, port int, name, user, password string, params map[string]string) database.ConnectionConfig {
	return database.ConnectionConfig{
		Host:            strings.TrimSpace(host),
		Port:            port,
		Database:        strings.TrimSpace(name),
		Username:        user,
		Password:        password,
		ExtraParams:     params,
		MaxOpenConns:    defaults.MaxOpenConns,
		MaxIdleConns:    defaults.MaxIdleConns,
		ConnMaxIdleTime: defaults.ConnMaxIdleTime,
		ConnMaxLifetime: defaults.ConnMaxLifetime,
	}
}

// RegisterConnections connects the default connection and every entry of
// the connections file. A connection that fails is logged and skipped; the
// joined failures are returned alongside the number registered.
func RegisterConnections(ctx context.Context, manager *database.Manager, cfg config.Config, logger *slog.Logger) (int, error) {
	type pending struct {
		id     string
		engine string
		conn   database.ConnectionConfig
	}
	var all []pending
	db := cfg.Database
	if strings.TrimSpace(db.Engine) != "" {
		all = append(all, pending{
			id:     db.ConnectionID,
			engine: db.Engine,
			conn:   ConnectionConfig(db, db.Host, db.Port, db.Name, db.User, db.Password, db.Params),
		})
	}
	if path := strings.TrimSpace(db.ConnectionsFile); path != "" {
		entries, err := config.LoadConnectionsFile(path)
		if err != nil {
			return 0, err
		}
		for _, e := range entries {
			all = append(all, pending{
				id:     e.ID,
				engine: e.Engine,
				conn:   ConnectionConfig(db, e.Host, e.Port, e.Database, e.Username, e.Password, e.Params),
			})
		}
	}

	var (
		registered int
		errs       []error
	)
	for _, p := range all {
		if _, err := manager.Create(ctx, p.id, p.engine, p.conn); err != nil {
			logger.Warn("connection not registered", slog.String("connection_id", p.id), slog.String("engine", p.engine), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("connection %q: %w", p.id, err))
			continue
		}
		logger.Info("connection registered", slog.String("connection_id", p.id), slog.String("engine", p.engine))
		registered++
	}
	return registered, errors.Join(errs...)
}

// NewChatClient returns nil without error when no credentials are set, so
// the service starts with agent runs disabled.
func NewChatClient(cfg config.AIConfig) (*llm.Client, error) {
	if cfg.Provider != llm.ProviderOllama && strings.TrimSpace(cfg.APIKey) == "" {
		return nil, nil
	}
	client, err := llm.NewClient(llm.Config{
		Provider:    cfg.Provider,
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		Deployment:  cfg.Deployment,
		APIVersion:  cfg.APIVersion,
		Temperature: llm.Temperature(cfg.Temperature),
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create ai client: %w", err)
	}
	return client, nil
}

// Knowledge holds the optional local store and the retriever chain the
// agent searches. Either may be nil.
type Knowledge struct {
	Store     *knowledge.Store
	Retriever knowledge.Retriever
}

func NewKnowledge(cfg config.KnowledgeConfig) (Knowledge, error) {
	var (
		out   Knowledge
		chain knowledge.Chain
	)
	if strings.TrimSpace(cfg.File) != "" {
		store, err := knowledge.OpenStore(cfg.File)
		if err != nil {
			return Knowledge{}, err
		}
		out.Store = store
		chain = append(chain, store)
	}
	remoteCfg := knowledge.RemoteConfig{
		APIURL:         cfg.APIURL,
		DBIDs:          cfg.DBIDs,
		TopK:           cfg.TopK,
		ScoreThreshold: cfg.ScoreThreshold,
		Timeout:        cfg.Timeout,
	}
	if remoteCfg.Configured() {
		remote, err := knowledge.NewRemote(remoteCfg)
		if err != nil {
			return Knowledge{}, err
		}
		chain = append(chain, remote)
	}
	switch len(chain) {
	case 0:
	case 1:
		out.Retriever = chain[0]
	default:
		out.Retriever = chain
	}
	return out, nil
}

// NewExporter returns nil when no export bucket is configured.
func NewExporter(ctx context.Context, cfg config.ExportConfig, logger *slog.Logger) (*export.Exporter, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	store, err := s3store.New(ctx, s3store.ConfigFromExport(cfg))
	if err != nil {
		return nil, fmt.Errorf("initialize export store: %w", err)
	}
	return export.New(store, export.WithLogger(logger))
}

// NewAgentService wires the agent over manager. A nil client yields a
// service that reports ErrNotConfigured for every run.
func NewAgentService(cfg config.Config, client *llm.Client, manager *database.Manager, retriever knowledge.Retriever, logger *slog.Logger) *agent.Service {
	var completer llm.ChatCompleter
	if client != nil {
		completer = client
	}
	return agent.NewService(completer, manager, retriever,
		agent.WithMaxRetries(cfg.Agent.MaxRetries),
		agent.WithLogger(logger),
	)
}
