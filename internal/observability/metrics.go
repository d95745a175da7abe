package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Agent turn throughput and latency
//   - LLM request performance and token/cost accounting
//   - Tool execution patterns and latencies
//   - Error rates categorized by component
//   - Active gateway sessions and their lifetime
//   - File-change and preview-restart activity
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.SessionStarted()
//	defer metrics.LLMRequestDuration("anthropic", "claude-sonnet-4").Observe(time.Since(start).Seconds())
type Metrics struct {
	// TurnCounter counts completed agent turns by outcome.
	// Labels: status (success|error|cancelled|busy)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures the wall-clock time of a full chat turn,
	// including every tool dispatch and streamed completion inside it.
	// Buckets: 0.5s, 1s, 2s, 5s, 10s, 30s, 60s, 120s, 300s
	TurnDuration prometheus.Histogram

	// TurnIterations records how many decode/dispatch iterations a turn
	// took before it reached a stop reason or the iteration limit.
	TurnIterations prometheus.Histogram

	// IterationLimitHits counts turns that were cut off by
	// Loop.IterationLimit rather than reaching a natural stop.
	IterationLimitHits prometheus.Counter

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider (anthropic|bedrock), model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider and model.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion|reasoning)
	LLMTokensUsed *prometheus.CounterVec

	// LLMCostUSD tracks estimated cost in USD.
	// Labels: provider, model
	LLMCostUSD *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	// Buckets: 0.001s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s
	ToolExecutionDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors by type and component.
	// Labels: component (gateway|loop|tool|provider), error_type
	ErrorCounter *prometheus.CounterVec

	// ActiveSessions is a gauge tracking currently connected gateway
	// sessions (spec.md §5: one process serves one participant, but a
	// reconnect briefly overlaps the old and new connection).
	ActiveSessions prometheus.Gauge

	// SessionDuration measures a gateway session's connected lifetime in
	// seconds.
	// Buckets: 60s, 300s, 900s, 1800s, 3600s, 7200s, 14400s, 28800s
	SessionDuration prometheus.Histogram

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// FileChangeCounter counts file_changed events emitted by the C4
	// Change Detector.
	// Labels: source (tool|snapshot)
	FileChangeCounter *prometheus.CounterVec

	// PreviewRestartCounter counts restart_preview invocations.
	// Labels: status (success|error)
	PreviewRestartCounter *prometheus.CounterVec

	// RepoMapBuildDuration measures how long a repo-map rebuild took.
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 2s, 5s
	RepoMapBuildDuration prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
//
// All metrics are automatically registered with Prometheus's default registry
// and will be available at the /metrics endpoint when using prometheus HTTP handler.
func NewMetrics() *Metrics {
	return &Metrics{
		TurnCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_turns_total",
				Help: "Total number of agent turns by outcome",
			},
			[]string{"status"},
		),

		TurnDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentd_turn_duration_seconds",
				Help:    "Duration of a full agent turn in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
		),

		TurnIterations: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentd_turn_iterations",
				Help:    "Number of decode/dispatch iterations per agent turn",
				Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 30},
			},
		),

		IterationLimitHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agentd_iteration_limit_hits_total",
				Help: "Total number of turns cut off by the iteration limit",
			},
		),

		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentd_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		LLMCostUSD: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_llm_cost_usd_total",
				Help: "Estimated LLM API cost in USD",
			},
			[]string{"provider", "model"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentd_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool_name"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentd_active_sessions",
				Help: "Current number of connected gateway sessions",
			},
		),

		SessionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentd_session_duration_seconds",
				Help:    "Duration of gateway sessions in seconds",
				Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400, 28800},
			},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentd_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),

		FileChangeCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_file_changes_total",
				Help: "Total number of file_changed events by detection source",
			},
			[]string{"source"},
		),

		PreviewRestartCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_preview_restarts_total",
				Help: "Total number of preview restarts by status",
			},
			[]string{"status"},
		),

		RepoMapBuildDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentd_repo_map_build_duration_seconds",
				Help:    "Duration of repo-map rebuilds in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
		),
	}
}

// RecordTurn records the outcome and duration of one agent turn.
func (m *Metrics) RecordTurn(status string, durationSeconds float64, iterations int) {
	m.TurnCounter.WithLabelValues(status).Inc()
	m.TurnDuration.Observe(durationSeconds)
	m.TurnIterations.Observe(float64(iterations))
}

// RecordIterationLimitHit records a turn cut off by the iteration limit.
func (m *Metrics) RecordIterationLimitHit() {
	m.IterationLimitHits.Inc()
}

// RecordLLMRequest records metrics for an LLM API request.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordLLMCost records estimated API cost.
func (m *Metrics) RecordLLMCost(provider, model string, costUSD float64) {
	m.LLMCostUSD.WithLabelValues(provider, model).Add(costUSD)
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordError increments the error counter for a given component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// SessionStarted increments the active sessions gauge.
func (m *Metrics) SessionStarted() {
	m.ActiveSessions.Inc()
}

// SessionEnded decrements the active sessions gauge and records session duration.
func (m *Metrics) SessionEnded(durationSeconds float64) {
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

// RecordFileChange records one file_changed event by detection source.
func (m *Metrics) RecordFileChange(source string) {
	m.FileChangeCounter.WithLabelValues(source).Inc()
}

// RecordPreviewRestart records one restart_preview invocation.
func (m *Metrics) RecordPreviewRestart(status string) {
	m.PreviewRestartCounter.WithLabelValues(status).Inc()
}

// RecordRepoMapBuild records how long a repo-map rebuild took.
func (m *Metrics) RecordRepoMapBuild(durationSeconds float64) {
	m.RepoMapBuildDuration.Observe(durationSeconds)
}
