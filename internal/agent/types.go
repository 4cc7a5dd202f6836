// Package agent turns natural-language questions into SQL, executes it and
// feeds engine errors back to the model until the statement runs or the
// retry budget is spent.
package agent

import (
	"errors"

	"github.com/sqlstudio/sqlstudio/internal/database"
)

const DefaultMaxRetries = 3

var (
	ErrCancelled     = errors.New("agent run cancelled")
	ErrNotConfigured = errors.New("AI service is not configured")
)

// Mode selects which connector entry point executes generated SQL.
type Mode string

const (
	ModeQuery  Mode = "query"
	ModeMutate Mode = "mutate"
)

// HistoryMessage is a prior conversation turn. Roles other than user and
// assistant are ignored.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type GenerationRequest struct {
	UserQuery         string
	Schema            database.Schema
	DatabaseType      string
	AdditionalContext string
	History           []HistoryMessage
}

// GenerationResult is never an error: transport failures and unparseable
// answers both come back with Success false.
type GenerationResult struct {
	Success      bool   `json:"success"`
	SQL          string `json:"sql,omitempty"`
	Explanation  string `json:"explanation,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type TableAnalysisRequest struct {
	UserQuery         string
	FullSchema        database.Schema
	DatabaseType      string
	AdditionalContext string
}

type TableAnalysisResult struct {
	Success        bool     `json:"success"`
	RequiredTables []string `json:"required_tables"`
	Reasoning      string   `json:"reasoning,omitempty"`
	ErrorMessage   string   `json:"error_message,omitempty"`
}

// Attempt records one generate-then-execute cycle. Execution is nil when no
// SQL could be generated.
type Attempt struct {
	Number          int                       `json:"number"`
	SQL             string                    `json:"sql,omitempty"`
	Explanation     string                    `json:"explanation,omitempty"`
	GenerationError string                    `json:"generation_error,omitempty"`
	Execution       *database.ExecutionResult `json:"execution,omitempty"`
	Success         bool                      `json:"success"`
}

// Request is one agent run. Tables, when set, bypass table analysis.
type Request struct {
	Question string           `json:"question"`
	Context  string           `json:"context,omitempty"`
	History  []HistoryMessage `json:"history,omitempty"`
	Tables   []string         `json:"tables,omitempty"`
}

type Result struct {
	RunID                  string                    `json:"run_id"`
	Success                bool                      `json:"success"`
	FinalSQL               string                    `json:"final_sql,omitempty"`
	FinalExplanation       string                    `json:"final_explanation,omitempty"`
	Execution              *database.ExecutionResult `json:"execution,omitempty"`
	ErrorMessage           string                    `json:"error_message,omitempty"`
	Attempts               []Attempt                 `json:"attempts"`
	TotalAttempts          int                       `json:"total_attempts"`
	AnalyzedTables         []string                  `json:"analyzed_tables,omitempty"`
	TableAnalysisReasoning string                    `json:"table_analysis_reasoning,omitempty"`
	Cancelled              bool                      `json:"cancelled,omitempty"`
}
