package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sqlstudio/sqlstudio/internal/database"
	"github.com/sqlstudio/sqlstudio/internal/knowledge"
	"github.com/sqlstudio/sqlstudio/internal/llm"
	"github.com/sqlstudio/sqlstudio/internal/observability"
)

const (
	knowledgeLimit           = 5
	specifiedTablesReasoning = "tables specified by user"
	noDatabaseMessage        = "select a database first"
)

// Executor drives one connector through schema fetch, table selection,
// generation and execution with error-fed retries. An Executor is meant for
// a single caller at a time; listeners must be registered before running.
type Executor struct {
	connector  database.Connector
	analyzer   *Analyzer
	generator  *Generator
	retriever  knowledge.Retriever
	maxRetries int
	logger     *slog.Logger
	listeners  []Listener
	genOpts    []GeneratorOption
}

type ExecutorOption func(*Executor)

func WithRetriever(retriever knowledge.Retriever) ExecutorOption {
	return func(e *Executor) {
		e.retriever = retriever
	}
}

func WithMaxRetries(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxRetries = n
		}
	}
}

func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithListener(listener Listener) ExecutorOption {
	return func(e *Executor) {
		e.Subscribe(listener)
	}
}

func WithGeneratorOptions(opts ...GeneratorOption) ExecutorOption {
	return func(e *Executor) {
		e.genOpts = append(e.genOpts, opts...)
	}
}

func NewExecutor(completer llm.ChatCompleter, connector database.Connector, opts ...ExecutorOption) (*Executor, error) {
	if completer == nil {
		return nil, fmt.Errorf("%w: chat completer is required", ErrNotConfigured)
	}
	if connector == nil {
		return nil, fmt.Errorf("database connector is required")
	}
	e := &Executor{
		connector:  connector,
		analyzer:   NewAnalyzer(completer),
		maxRetries: DefaultMaxRetries,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.generator = NewGenerator(completer, e.genOpts...)
	return e, nil
}

func (e *Executor) Subscribe(listener Listener) {
	if listener != nil {
		e.listeners = append(e.listeners, listener)
	}
}

func (e *Executor) MaxRetries() int {
	return e.maxRetries
}

// Execute answers a question with a read query.
func (e *Executor) Execute(ctx context.Context, req Request) (Result, error) {
	return e.runMode(ctx, ModeQuery, req)
}

// ExecuteNonQuery generates and runs a mutating statement against the full
// schema. Table analysis and knowledge retrieval are skipped.
func (e *Executor) ExecuteNonQuery(ctx context.Context, req Request) (Result, error) {
	return e.runMode(ctx, ModeMutate, req)
}

// Run dispatches on mode.
func (e *Executor) Run(ctx context.Context, mode Mode, req Request) (Result, error) {
	if mode == ModeMutate {
		return e.ExecuteNonQuery(ctx, req)
	}
	return e.Execute(ctx, req)
}

type run struct {
	*Executor
	id       string
	mode     Mode
	started  time.Time
	logger   *slog.Logger
	attempts []Attempt
}

func (e *Executor) runMode(ctx context.Context, mode Mode, req Request) (Result, error) {
	id := uuid.NewString()
	r := &run{
		Executor: e,
		id:       id,
		mode:     mode,
		started:  time.Now(),
		logger:   e.logger.With(slog.String("run_id", id), slog.String("mode", string(mode))),
	}
	res := Result{RunID: id}

	if e.connector.CurrentDatabase() == "" {
		res.ErrorMessage = noDatabaseMessage
		return r.finish(res, "no_database"), nil
	}

	r.step(StepFetchingSchema, "Fetching database schema...")
	full, err := e.connector.GetSchema(ctx)
	if ctx.Err() != nil {
		return r.cancelled(ctx, res)
	}
	if err != nil {
		r.step(StepFailed, "Fetching database schema failed")
		res.ErrorMessage = err.Error()
		return r.finish(res, "error"), fmt.Errorf("fetch schema: %w", err)
	}

	schema := full
	additional := req.Context
	if mode == ModeQuery {
		var analysis TableAnalysisResult
		schema, analysis = r.resolveTables(ctx, req, full)
		if ctx.Err() != nil {
			return r.cancelled(ctx, res)
		}
		res.AnalyzedTables = analysis.RequiredTables
		res.TableAnalysisReasoning = analysis.Reasoning

		additional = knowledge.CombineContext(req.Context, r.knowledgeContext(ctx, req.Question))
		if ctx.Err() != nil {
			return r.cancelled(ctx, res)
		}
	}

	r.step(StepGeneratingSQL, fmt.Sprintf("Generating SQL (using %d tables)...", len(schema.Tables)))
	genReq := GenerationRequest{
		UserQuery:         req.Question,
		Schema:            schema,
		DatabaseType:      e.connector.Engine(),
		AdditionalContext: additional,
		History:           req.History,
	}
	return r.loop(ctx, res, genReq, len(full.Tables))
}

func (r *run) loop(ctx context.Context, res Result, genReq GenerationRequest, totalTables int) (Result, error) {
	var generated GenerationResult
	var lastExecution *database.ExecutionResult
	for i := 0; i < r.maxRetries; i++ {
		n := i + 1
		onToken := func(token string) {
			r.emit(Event{Kind: EventStreaming, Phase: PhaseSQLGeneration, Token: token, Attempt: n})
		}
		if i == 0 {
			system, user := r.generator.Prompts(genReq)
			r.emit(Event{
				Kind:           EventPromptSending,
				Attempt:        n,
				UserQuery:      genReq.UserQuery,
				SystemPrompt:   system,
				UserPrompt:     user,
				FilteredTables: len(genReq.Schema.Tables),
				TotalTables:    totalTables,
			})
			generated = r.generator.Generate(ctx, genReq, onToken)
		} else {
			previousSQL, previousError := r.previousFailure()
			r.emit(Event{
				Kind:         EventRetrying,
				Attempt:      n,
				MaxAttempts:  r.maxRetries,
				PreviousSQL:  previousSQL,
				ErrorMessage: previousError,
			})
			generated = r.generator.Regenerate(ctx, genReq, previousSQL, previousError, onToken)
		}
		if ctx.Err() != nil {
			return r.cancelled(ctx, res)
		}

		if !generated.Success || generated.SQL == "" {
			r.logger.WarnContext(ctx, "sql generation failed",
				slog.Int("attempt", n),
				slog.String("error", generated.ErrorMessage),
			)
			r.attempts = append(r.attempts, Attempt{Number: n, SQL: generated.SQL, GenerationError: generated.ErrorMessage})
			r.retryStep(n, "SQL generation failed")
			continue
		}

		r.step(StepExecutingSQL, "Executing SQL...")
		r.emit(Event{Kind: EventSQLGenerated, Attempt: n, SQL: generated.SQL, Explanation: generated.Explanation})
		execution := r.execute(ctx, generated.SQL)
		if ctx.Err() != nil {
			return r.cancelled(ctx, res)
		}
		r.emit(Event{Kind: EventSQLExecuted, Attempt: n, SQL: generated.SQL, Execution: &execution})
		r.attempts = append(r.attempts, Attempt{
			Number:      n,
			SQL:         generated.SQL,
			Explanation: generated.Explanation,
			Execution:   &execution,
			Success:     execution.Success,
		})
		lastExecution = &execution

		if execution.Success {
			r.step(StepCompleted, "Execution completed")
			res.Success = true
			res.FinalSQL = generated.SQL
			res.FinalExplanation = generated.Explanation
			res.Execution = &execution
			return r.finish(res, "success"), nil
		}
		r.logger.InfoContext(ctx, "sql execution failed",
			slog.Int("attempt", n),
			slog.String("error_code", execution.ErrorCode),
			slog.String("error", execution.ErrorMessage),
		)
		r.retryStep(n, "SQL execution failed")
	}

	r.step(StepFailed, "Execution failed")
	_, lastError := r.previousFailure()
	res.FinalSQL = generated.SQL
	res.FinalExplanation = generated.Explanation
	res.Execution = lastExecution
	res.ErrorMessage = fmt.Sprintf("Failed after %d attempts. Last error: %s", r.maxRetries, lastError)
	return r.finish(res, "failed"), nil
}

func (r *run) resolveTables(ctx context.Context, req Request, full database.Schema) (database.Schema, TableAnalysisResult) {
	var analysis TableAnalysisResult
	if len(req.Tables) > 0 {
		r.step(StepAnalyzingTables, fmt.Sprintf("Using %d caller-specified tables...", len(req.Tables)))
		valid := ValidateTables(full, req.Tables)
		analysis = TableAnalysisResult{
			Success:        len(valid) > 0,
			RequiredTables: valid,
			Reasoning:      specifiedTablesReasoning,
		}
	} else {
		r.step(StepAnalyzingTables, "Analyzing required tables...")
		r.emit(Event{Kind: EventTableAnalysisStarted, UserQuery: req.Question, TotalTables: len(full.Tables)})
		analysis = r.analyzer.AnalyzeTables(ctx, TableAnalysisRequest{
			UserQuery:    req.Question,
			FullSchema:   full,
			DatabaseType: r.connector.Engine(),
		}, func(token string) {
			r.emit(Event{Kind: EventStreaming, Phase: PhaseTableAnalysis, Token: token})
		})
		if ctx.Err() != nil {
			return full, analysis
		}
		if !analysis.Success {
			r.logger.WarnContext(ctx, "table analysis failed, using full schema", slog.String("error", analysis.ErrorMessage))
		}
	}

	r.emit(Event{
		Kind:           EventTableAnalysisCompleted,
		UserQuery:      req.Question,
		TotalTables:    len(full.Tables),
		SelectedTables: analysis.RequiredTables,
		Reasoning:      analysis.Reasoning,
	})
	if !analysis.Success {
		return full, analysis
	}
	return full.Filter(analysis.RequiredTables), analysis
}

func (r *run) knowledgeContext(ctx context.Context, question string) string {
	if r.retriever == nil {
		return ""
	}
	r.step(StepGeneratingSQL, "Retrieving domain knowledge...")
	items, err := r.retriever.Search(ctx, question)
	if err != nil && ctx.Err() == nil {
		r.logger.WarnContext(ctx, "knowledge retrieval failed", slog.Any("error", err))
	}
	if len(items) > knowledgeLimit {
		items = items[:knowledgeLimit]
	}
	return knowledge.FormatAsContext(items)
}

func (r *run) execute(ctx context.Context, sql string) database.ExecutionResult {
	if r.mode == ModeMutate {
		return r.connector.ExecuteNonQuery(ctx, sql)
	}
	if !database.IsReadOnly(sql) {
		r.logger.WarnContext(ctx, "refused non read-only sql in query mode", slog.String("sql", sql))
		return database.NotAllowed(sql)
	}
	return r.connector.ExecuteQuery(ctx, sql)
}

// previousFailure returns the SQL and error the next correction prompt is
// built from: the last execution error, or the last generation error when
// nothing could be executed.
func (r *run) previousFailure() (string, string) {
	if len(r.attempts) == 0 {
		return "", ""
	}
	last := r.attempts[len(r.attempts)-1]
	if last.Execution != nil {
		return last.Execution.ExecutedSQL, last.Execution.ErrorMessage
	}
	return last.SQL, last.GenerationError
}

func (r *run) retryStep(attempt int, reason string) {
	if attempt >= r.maxRetries {
		return
	}
	r.step(StepRetrying, fmt.Sprintf("%s, retrying (%d/%d)...", reason, attempt+1, r.maxRetries))
}

func (r *run) step(step Step, message string) {
	r.emit(Event{Kind: EventStepChanged, Step: step, Message: message})
}

func (r *run) emit(event Event) {
	event.RunID = r.id
	for _, listener := range r.listeners {
		listener(event.clone())
	}
}

func (r *run) cancelled(ctx context.Context, res Result) (Result, error) {
	r.step(StepCancelled, "Cancelled")
	res.Success = false
	res.Cancelled = true
	res.ErrorMessage = ctx.Err().Error()
	return r.finish(res, "cancelled"), fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
}

func (r *run) finish(res Result, outcome string) Result {
	res.Attempts = append([]Attempt{}, r.attempts...)
	res.TotalAttempts = len(r.attempts)
	observability.ObserveAgentRun(string(r.mode), outcome, res.TotalAttempts, time.Since(r.started))
	r.logger.Info("agent run finished",
		slog.String("outcome", outcome),
		slog.Int("attempts", res.TotalAttempts),
		slog.Duration("elapsed", time.Since(r.started)),
	)
	return res
}
