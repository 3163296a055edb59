package jobs

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ErrorKind classifies why a job failed.
type ErrorKind string

const (
	KindGeneration  ErrorKind = "GenerationError"
	KindInterrupted ErrorKind = "Interrupted"
	KindCancelled   ErrorKind = "Cancelled"
)

// JobError is the failure recorded on a failed job.
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// LoRA is one low-rank adapter applied during generation.
type LoRA struct {
	Path   string  `json:"path"`
	Weight float64 `json:"weight"`
}

// Params are the normalized generation parameters of a job. They are
// fixed at validation time and never change afterwards.
type Params struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	Model          string  `json:"model"`
	Steps          int     `json:"steps"`
	GuidanceScale  float64 `json:"guidance_scale"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	// Seed is nil when the client asked for a random seed.
	Seed  *int64 `json:"seed"`
	LoRAs []LoRA `json:"loras"`
}

// Artifact describes the file produced by a successful generation.
type Artifact struct {
	Name      string `json:"name"`
	Path      string `json:"-"`
	URL       string `json:"url"`
	Seed      int64  `json:"seed"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Backend   string `json:"backend"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// Job is one generation request moving through the queue.
//
// Values handed out by the Queue are copies. Pointer fields are assigned
// once and never written through, so copies stay valid after further
// transitions of the queued original.
type Job struct {
	ID          int64      `json:"id"`
	Status      Status     `json:"status"`
	Params      Params     `json:"params"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at"`
	Result      *Artifact  `json:"result"`
	Error       *JobError  `json:"error"`
}

func (j *Job) start(at time.Time) error {
	if j.Status != StatusQueued {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, StatusRunning)
	}
	j.Status = StatusRunning
	j.StartedAt = &at
	return nil
}

func (j *Job) complete(at time.Time, result Artifact) error {
	if j.Status != StatusRunning {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, StatusCompleted)
	}
	j.Status = StatusCompleted
	j.FinishedAt = &at
	j.Result = &result
	return nil
}

// fail accepts queued jobs only for cancellation and shutdown drains.
func (j *Job) fail(at time.Time, jerr JobError) error {
	switch {
	case j.Status == StatusRunning:
	case j.Status == StatusQueued && (jerr.Kind == KindCancelled || jerr.Kind == KindInterrupted):
	default:
		return fmt.Errorf("%w: %s -> %s (%s)", ErrInvalidTransition, j.Status, StatusFailed, jerr.Kind)
	}
	j.Status = StatusFailed
	j.FinishedAt = &at
	j.Error = &jerr
	return nil
}
