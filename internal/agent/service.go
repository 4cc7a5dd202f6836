package agent

import (
	"context"
	"slices"

	"github.com/sqlstudio/sqlstudio/internal/database"
	"github.com/sqlstudio/sqlstudio/internal/knowledge"
	"github.com/sqlstudio/sqlstudio/internal/llm"
)

// Service builds executors over the shared connection registry.
type Service struct {
	completer llm.ChatCompleter
	manager   *database.Manager
	retriever knowledge.Retriever
	opts      []ExecutorOption
}

// NewService accepts a nil completer; every run then fails with
// ErrNotConfigured so the rest of the surface keeps working.
func NewService(completer llm.ChatCompleter, manager *database.Manager, retriever knowledge.Retriever, opts ...ExecutorOption) *Service {
	return &Service{
		completer: completer,
		manager:   manager,
		retriever: retriever,
		opts:      opts,
	}
}

func (s *Service) Configured() bool {
	return s != nil && s.completer != nil
}

func (s *Service) Retriever() knowledge.Retriever {
	return s.retriever
}

// NewExecutor returns an executor bound to a registered connection without
// reserving it. Use Run for exclusive access.
func (s *Service) NewExecutor(connectionID string, opts ...ExecutorOption) (*Executor, error) {
	if !s.Configured() {
		return nil, ErrNotConfigured
	}
	conn, err := s.manager.Get(connectionID)
	if err != nil {
		return nil, err
	}
	return s.executor(conn, opts)
}

// Run reserves the connection for the duration of one agent run. A
// connection already serving another run yields database.ErrConnectionBusy.
func (s *Service) Run(ctx context.Context, connectionID string, mode Mode, req Request, listeners ...Listener) (Result, error) {
	if !s.Configured() {
		return Result{}, ErrNotConfigured
	}
	conn, release, err := s.manager.Acquire(connectionID)
	if err != nil {
		return Result{}, err
	}
	defer release()

	executor, err := s.executor(conn, nil)
	if err != nil {
		return Result{}, err
	}
	for _, listener := range listeners {
		executor.Subscribe(listener)
	}
	return executor.Run(ctx, mode, req)
}

func (s *Service) executor(conn database.Connector, extra []ExecutorOption) (*Executor, error) {
	var opts []ExecutorOption
	if s.retriever != nil {
		opts = append(opts, WithRetriever(s.retriever))
	}
	return NewExecutor(s.completer, conn, slices.Concat(opts, s.opts, extra)...)
}
