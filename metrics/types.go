// Package metrics aggregates generation outcomes and GPU samples for the
// /metrics endpoint.
package metrics

import "time"

// Outcome is how a finished job ended.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeFailed      Outcome = "failed"
	OutcomeCancelled   Outcome = "cancelled"
	OutcomeInterrupted Outcome = "interrupted"
)

// GenerationRecord is one finished job.
type GenerationRecord struct {
	JobID   int64   `json:"job_id"`
	Outcome Outcome `json:"outcome"`
	Model   string  `json:"model"`
	Backend string  `json:"backend,omitempty"`
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	Steps   int     `json:"steps"`

	// Started is false for jobs cancelled or interrupted while pending;
	// their WaitMS and RunMS are zero.
	Started bool  `json:"started"`
	WaitMS  int64 `json:"wait_ms"`
	RunMS   int64 `json:"run_ms"`

	FinishedAt time.Time `json:"finished_at"`
}

// GPUMetrics is one GPU sample. Memory is in bytes.
type GPUMetrics struct {
	Utilization float64   `json:"utilization"`
	Temperature float64   `json:"temperature"`
	MemoryTotal int64     `json:"memory_total"`
	MemoryUsed  int64     `json:"memory_used"`
	MemoryFree  int64     `json:"memory_free"`
	SampledAt   time.Time `json:"sampled_at"`
}

// ModelStats aggregates finished jobs for one model.
type ModelStats struct {
	Count       int64   `json:"count"`
	Completed   int64   `json:"completed"`
	SuccessRate float64 `json:"success_rate"`
	// AvgRunMS averages completed jobs only.
	AvgRunMS int64 `json:"avg_run_ms"`
}

// Snapshot is the aggregate view served by the metrics endpoint.
type Snapshot struct {
	StartedAt     time.Time `json:"started_at"`
	UptimeSeconds int64     `json:"uptime_seconds"`

	Finished int64             `json:"finished"`
	Outcomes map[Outcome]int64 `json:"outcomes"`
	// AvgWaitMS and AvgRunMS average jobs that started.
	AvgWaitMS int64                 `json:"avg_wait_ms"`
	AvgRunMS  int64                 `json:"avg_run_ms"`
	ByModel   map[string]ModelStats `json:"by_model"`

	// GPU is the latest successful sample, nil until one was taken.
	GPU *GPUMetrics `json:"gpu"`
}
