package tracker

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/teranos/carbonfill/errors"
)

// Operation types recorded in ai_model_usage.operation_type
const (
	OperationEnrichGroup = "enrich-group"
	OperationOptimize    = "optimize"
	OperationCompletion  = "completion"
	OperationDecompose   = "decompose"
)

// ModelUsage represents one inference call
type ModelUsage struct {
	ID                int        `json:"id" db:"id"`
	OperationType     string     `json:"operation_type" db:"operation_type"`
	Stage             string     `json:"stage" db:"stage"`
	RunID             string     `json:"run_id" db:"run_id"`
	ModelName         string     `json:"model_name" db:"model_name"`
	ModelProvider     string     `json:"model_provider" db:"model_provider"`
	ModelConfig       *string    `json:"model_config,omitempty" db:"model_config"`
	RequestTimestamp  time.Time  `json:"request_timestamp" db:"request_timestamp"`
	ResponseTimestamp *time.Time `json:"response_timestamp,omitempty" db:"response_timestamp"`
	PromptTokens      *int       `json:"prompt_tokens,omitempty" db:"prompt_tokens"`
	CompletionTokens  *int       `json:"completion_tokens,omitempty" db:"completion_tokens"`
	TokensUsed        *int       `json:"tokens_used,omitempty" db:"tokens_used"`
	Success           bool       `json:"success" db:"success"`
	ErrorMessage      *string    `json:"error_message,omitempty" db:"error_message"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}

// ModelConfig represents the sampling configuration used for a request
type ModelConfig struct {
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// RunRecord summarizes one enrichment run
type RunRecord struct {
	RunID          string    `json:"run_id"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	TotalNodes     int       `json:"total_nodes"`
	AIMatched      int       `json:"ai_matched"`
	ManualRequired int       `json:"manual_required"`
	GroupsTotal    int       `json:"groups_total"`
	GroupsDegraded int       `json:"groups_degraded"`
}

// Recorder is the write side used by inference clients and the pipeline.
// A nil *UsageTracker is valid and records nothing.
type Recorder interface {
	TrackUsage(usage *ModelUsage) error
}

// UsageTracker persists inference usage and run summaries
type UsageTracker struct {
	db *sql.DB
}

// NewUsageTracker creates a new usage tracker over a migrated database
func NewUsageTracker(db *sql.DB) *UsageTracker {
	return &UsageTracker{db: db}
}

// TrackUsage records one inference call
func (t *UsageTracker) TrackUsage(usage *ModelUsage) error {
	if t == nil || t.db == nil {
		return nil
	}

	query := `
		INSERT INTO ai_model_usage (
			operation_type, stage, run_id, model_name, model_provider,
			model_config, request_timestamp, response_timestamp,
			prompt_tokens, completion_tokens, tokens_used,
			success, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := t.db.Exec(query,
		usage.OperationType, usage.Stage, usage.RunID,
		usage.ModelName, usage.ModelProvider, usage.ModelConfig,
		usage.RequestTimestamp, usage.ResponseTimestamp,
		usage.PromptTokens, usage.CompletionTokens, usage.TokensUsed,
		usage.Success, usage.ErrorMessage,
	)
	if err != nil {
		return errors.Wrap(err, "insert ai_model_usage")
	}
	return nil
}

// RecordRun stores the summary of a finished enrichment run
func (t *UsageTracker) RecordRun(run RunRecord) error {
	if t == nil || t.db == nil {
		return nil
	}

	query := `
		INSERT OR REPLACE INTO enrichment_runs (
			run_id, started_at, finished_at, total_nodes, ai_matched,
			manual_required, groups_total, groups_degraded
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := t.db.Exec(query,
		run.RunID, run.StartedAt, run.FinishedAt, run.TotalNodes, run.AIMatched,
		run.ManualRequired, run.GroupsTotal, run.GroupsDegraded,
	)
	if err != nil {
		return errors.Wrapf(err, "insert enrichment run %s", run.RunID)
	}
	return nil
}

// GetUsageStats returns usage statistics for a given time period
func (t *UsageTracker) GetUsageStats(since time.Time) (*UsageStats, error) {
	query := `
		SELECT
			COUNT(*) as total_requests,
			COUNT(CASE WHEN success = 1 THEN 1 END) as successful_requests,
			COALESCE(SUM(COALESCE(tokens_used, 0)), 0) as total_tokens,
			COUNT(DISTINCT CASE WHEN model_name IS NOT NULL THEN model_name END) as unique_models
		FROM ai_model_usage
		WHERE request_timestamp >= ?`

	var stats UsageStats
	err := t.db.QueryRow(query, since).Scan(
		&stats.TotalRequests, &stats.SuccessfulRequests,
		&stats.TotalTokens, &stats.UniqueModels,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query usage stats")
	}

	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(stats.SuccessfulRequests) / float64(stats.TotalRequests)
	}

	return &stats, nil
}

// GetStageBreakdown returns successful usage grouped by stage and model
func (t *UsageTracker) GetStageBreakdown(since time.Time) ([]StageBreakdown, error) {
	query := `
		SELECT
			stage,
			model_name,
			model_provider,
			COUNT(*) as request_count,
			SUM(COALESCE(tokens_used, 0)) as total_tokens,
			SUM(COALESCE(prompt_tokens, 0)) as prompt_tokens,
			SUM(COALESCE(completion_tokens, 0)) as completion_tokens,
			AVG(CASE WHEN response_timestamp IS NOT NULL THEN
				(julianday(response_timestamp) - julianday(request_timestamp)) * 86400000
				ELSE NULL END) as avg_response_time_ms
		FROM ai_model_usage
		WHERE request_timestamp >= ? AND success = 1
		GROUP BY stage, model_name, model_provider
		ORDER BY total_tokens DESC`

	rows, err := t.db.Query(query, since)
	if err != nil {
		return nil, errors.Wrap(err, "query stage breakdown")
	}
	defer rows.Close()

	var breakdown []StageBreakdown
	for rows.Next() {
		var sb StageBreakdown
		if err := rows.Scan(&sb.Stage, &sb.ModelName, &sb.ModelProvider, &sb.RequestCount,
			&sb.TotalTokens, &sb.PromptTokens, &sb.CompletionTokens, &sb.AvgResponseTimeMs); err != nil {
			return nil, errors.Wrap(err, "scan stage breakdown")
		}
		if cost, ok := EstimateCost(sb.ModelName, sb.PromptTokens, sb.CompletionTokens); ok {
			sb.EstimatedCostUSD = &cost
		}
		breakdown = append(breakdown, sb)
	}

	return breakdown, rows.Err()
}

// RecentRuns returns the latest enrichment runs, newest first
func (t *UsageTracker) RecentRuns(limit int) ([]RunRecord, error) {
	query := `
		SELECT run_id, started_at, finished_at, total_nodes, ai_matched,
		       manual_required, groups_total, groups_degraded
		FROM enrichment_runs
		ORDER BY started_at DESC
		LIMIT ?`

	rows, err := t.db.Query(query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query enrichment runs")
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.RunID, &r.StartedAt, &r.FinishedAt, &r.TotalNodes, &r.AIMatched,
			&r.ManualRequired, &r.GroupsTotal, &r.GroupsDegraded); err != nil {
			return nil, errors.Wrap(err, "scan enrichment run")
		}
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

// UsageStats represents aggregated usage statistics
type UsageStats struct {
	TotalRequests      int     `json:"total_requests"`
	SuccessfulRequests int     `json:"successful_requests"`
	SuccessRate        float64 `json:"success_rate"`
	TotalTokens        int     `json:"total_tokens"`
	UniqueModels       int     `json:"unique_models"`
}

// StageBreakdown represents usage statistics for one stage and model
type StageBreakdown struct {
	Stage             string   `json:"stage"`
	ModelName         string   `json:"model_name"`
	ModelProvider     string   `json:"model_provider"`
	RequestCount      int      `json:"request_count"`
	TotalTokens       int      `json:"total_tokens"`
	PromptTokens      int      `json:"prompt_tokens"`
	CompletionTokens  int      `json:"completion_tokens"`
	AvgResponseTimeMs *float64 `json:"avg_response_time_ms,omitempty"`
	EstimatedCostUSD  *float64 `json:"estimated_cost_usd,omitempty"` // nil for unpriced models
}

// NewModelConfig creates a ModelConfig and serializes it to JSON
func NewModelConfig(temperature *float64, maxTokens *int) *string {
	if temperature == nil && maxTokens == nil {
		return nil
	}

	data, err := json.Marshal(ModelConfig{
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil
	}

	jsonStr := string(data)
	return &jsonStr
}
