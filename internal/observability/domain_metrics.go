package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	agentRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlstudio_agent_runs_total",
			Help: "Total number of agent runs by mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)
	agentAttempts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlstudio_agent_attempts",
			Help:    "Generate-then-execute attempts consumed per agent run.",
			Buckets: []float64{1, 2, 3, 4, 5, 8, 10},
		},
		[]string{"mode"},
	)
	agentRunDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlstudio_agent_run_duration_seconds",
			Help:    "Wall-clock duration of agent runs.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"mode", "outcome"},
	)
	sqlExecutionDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlstudio_sql_execution_duration_seconds",
			Help:    "SQL execution latency by engine and status.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"engine", "status"},
	)
	llmStreamDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlstudio_llm_stream_duration_seconds",
			Help:    "Duration of streamed chat completions by phase.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"phase", "status"},
	)
	llmStreamTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlstudio_llm_stream_tokens_total",
			Help: "Total streamed completion fragments by phase.",
		},
		[]string{"phase"},
	)
	exportBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlstudio_export_bytes_total",
			Help: "Total Parquet bytes uploaded by result exports.",
		},
		[]string{"status"},
	)
	schemaTables = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sqlstudio_schema_tables",
			Help: "Table count of the most recently fetched schema per engine.",
		},
		[]string{"engine"},
	)
)

func init() {
	prometheus.MustRegister(
		agentRunsTotal,
		agentAttempts,
		agentRunDurationSeconds,
		sqlExecutionDurationSeconds,
		llmStreamDurationSeconds,
		llmStreamTokensTotal,
		exportBytesTotal,
		schemaTables,
	)
}

func ObserveAgentRun(mode, outcome string, attempts int, elapsed time.Duration) {
	agentRunsTotal.WithLabelValues(mode, outcome).Inc()
	agentRunDurationSeconds.WithLabelValues(mode, outcome).Observe(elapsed.Seconds())
	if attempts > 0 {
		agentAttempts.WithLabelValues(mode).Observe(float64(attempts))
	}
}

func ObserveSQLExecution(engine string, success bool, elapsed time.Duration) {
	sqlExecutionDurationSeconds.WithLabelValues(engine, statusLabel(success)).Observe(elapsed.Seconds())
}

func ObserveLLMStream(phase string, tokens int, success bool, elapsed time.Duration) {
	llmStreamDurationSeconds.WithLabelValues(phase, statusLabel(success)).Observe(elapsed.Seconds())
	if tokens > 0 {
		llmStreamTokensTotal.WithLabelValues(phase).Add(float64(tokens))
	}
}

func ObserveExport(success bool, bytes int64) {
	exportBytesTotal.WithLabelValues(statusLabel(success)).Add(float64(max(bytes, 0)))
}

func SetSchemaTables(engine string, tables int) {
	if tables < 0 {
		tables = 0
	}
	schemaTables.WithLabelValues(engine).Set(float64(tables))
}

func statusLabel(success bool) string {
	if success {
		return "ok"
	}
	return "error"
}
