package agent

import (
	"slices"

	"github.com/sqlstudio/sqlstudio/internal/database"
)

type Step string

const (
	StepFetchingSchema  Step = "fetching_schema"
	StepAnalyzingTables Step = "analyzing_tables"
	StepGeneratingSQL   Step = "generating_sql"
	StepExecutingSQL    Step = "executing_sql"
	StepRetrying        Step = "retrying"
	StepCompleted       Step = "completed"
	StepFailed          Step = "failed"
	StepCancelled       Step = "cancelled"
)

type EventKind string

const (
	EventStepChanged            EventKind = "step_changed"
	EventTableAnalysisStarted   EventKind = "table_analysis_started"
	EventTableAnalysisCompleted EventKind = "table_analysis_completed"
	EventPromptSending          EventKind = "prompt_sending"
	EventStreaming              EventKind = "streaming"
	EventSQLGenerated           EventKind = "sql_generated"
	EventSQLExecuted            EventKind = "sql_executed"
	EventRetrying               EventKind = "retrying"
)

const (
	PhaseTableAnalysis = "TableAnalysis"
	PhaseSQLGeneration = "SqlGeneration"
)

// Event is a flat progress notification. Only the fields relevant to Kind
// are populated.
type Event struct {
	Kind  EventKind `json:"kind"`
	RunID string    `json:"run_id"`

	Step    Step   `json:"step,omitempty"`
	Message string `json:"message,omitempty"`

	Attempt     int `json:"attempt,omitempty"`
	MaxAttempts int `json:"max_attempts,omitempty"`

	Phase string `json:"phase,omitempty"`
	Token string `json:"token,omitempty"`

	UserQuery      string   `json:"user_query,omitempty"`
	TotalTables    int      `json:"total_tables,omitempty"`
	FilteredTables int      `json:"filtered_tables,omitempty"`
	SelectedTables []string `json:"selected_tables,omitempty"`
	Reasoning      string   `json:"reasoning,omitempty"`

	SystemPrompt string `json:"system_prompt,omitempty"`
	UserPrompt   string `json:"user_prompt,omitempty"`

	SQL          string                    `json:"sql,omitempty"`
	Explanation  string                    `json:"explanation,omitempty"`
	Execution    *database.ExecutionResult `json:"execution,omitempty"`
	PreviousSQL  string                    `json:"previous_sql,omitempty"`
	ErrorMessage string                    `json:"error_message,omitempty"`
}

// Listener receives events synchronously on the goroutine running the agent.
type Listener func(Event)

func (e Event) clone() Event {
	e.SelectedTables = slices.Clone(e.SelectedTables)
	if e.Execution != nil {
		execution := *e.Execution
		e.Execution = &execution
	}
	return e
}
