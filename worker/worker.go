// Package worker runs the single consumer of the job queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sdqueue/jobs"
	"sdqueue/sdruntime"
)

// Generator produces the artifact for a running job. It is never called
// concurrently.
type Generator interface {
	Generate(ctx context.Context, job jobs.Job) (jobs.Artifact, error)
}

// Config controls pacing and limits.
type Config struct {
	// PollInterval bounds how long an idle worker sleeps without an
	// enqueue signal.
	PollInterval time.Duration
	// Timeout bounds a single generation. Zero disables it.
	Timeout time.Duration
}

// DefaultConfig returns a one second poll and a ten minute timeout.
func DefaultConfig() Config {
	return Config{PollInterval: time.Second, Timeout: 10 * time.Minute}
}

// Worker moves jobs from pending to terminal, one at a time.
type Worker struct {
	queue   *jobs.Queue
	gen     Generator
	cfg     Config
	logger  *zap.Logger
	stopped chan struct{}

	// abandoned is closed when a generation the worker stopped waiting
	// for (timeout or shutdown) finally returns.
	abandoned <-chan struct{}
}

// New creates a worker. Run starts it.
func New(q *jobs.Queue, gen Generator, cfg Config, logger *zap.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:   q,
		gen:     gen,
		cfg:     cfg,
		logger:  logger,
		stopped: make(chan struct{}),
	}
}

// Stopped is closed when Run returns.
func (w *Worker) Stopped() <-chan struct{} {
	return w.stopped
}

// Run processes jobs until ctx is done. A job running when ctx ends is
// failed with kind Interrupted before Run returns.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.stopped)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.logger.Info("worker started",
		zap.Duration("poll_interval", w.cfg.PollInterval),
		zap.Duration("timeout", w.cfg.Timeout))

	for {
		if ctx.Err() != nil {
			w.logger.Info("worker stopped")
			return
		}
		if !w.waitAbandoned(ctx) {
			continue
		}

		job, ok := w.queue.DequeueNext()
		if !ok {
			select {
			case <-ctx.Done():
			case <-w.queue.Wait():
			case <-ticker.C:
			}
			continue
		}
		w.process(ctx, job)
	}
}

// waitAbandoned blocks until a previously abandoned generation returns,
// so the generator is never entered twice at once.
func (w *Worker) waitAbandoned(ctx context.Context) bool {
	if w.abandoned == nil {
		return true
	}
	select {
	case <-w.abandoned:
		w.abandoned = nil
		return true
	default:
	}
	w.logger.Warn("waiting for an abandoned generation to return")
	select {
	case <-w.abandoned:
		w.abandoned = nil
		return true
	case <-ctx.Done():
		return false
	}
}

type result struct {
	art jobs.Artifact
	err error
}

func (w *Worker) process(ctx context.Context, job jobs.Job) {
	logger := w.logger.With(zap.Int64("job_id", job.ID))
	logger.Info("generation started",
		zap.String("model", job.Params.Model),
		zap.Int("width", job.Params.Width),
		zap.Int("height", job.Params.Height),
		zap.Int("steps", job.Params.Steps))

	var (
		jobCtx context.Context
		cancel context.CancelFunc
	)
	if w.cfg.Timeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, w.cfg.Timeout)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan result, 1)
	returned := make(chan struct{})
	go func() {
		defer close(returned)
		art, err := w.safeGenerate(jobCtx, job)
		done <- result{art: art, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-jobCtx.Done():
		select {
		case res = <-done:
		default:
			w.abandoned = returned
			res = result{err: jobCtx.Err()}
		}
	}

	switch {
	case res.err == nil:
		if w.queue.Complete(job.ID, res.art) {
			logger.Info("generation completed", zap.String("artifact", res.art.Name))
		}
	case ctx.Err() != nil:
		w.queue.Fail(job.ID, jobs.JobError{Kind: jobs.KindInterrupted, Message: "server shut down during generation"})
		logger.Warn("generation interrupted")
	default:
		jerr := w.classify(res.err)
		w.queue.Fail(job.ID, jerr)
		logger.Error("generation failed", zap.String("kind", string(jerr.Kind)), zap.Error(res.err))
	}
}

func (w *Worker) safeGenerate(ctx context.Context, job jobs.Job) (art jobs.Artifact, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("generator panic: %v", r)
		}
	}()
	return w.gen.Generate(ctx, job)
}

func (w *Worker) classify(err error) jobs.JobError {
	timedOut := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sdruntime.ErrGenerationTimeout)
	// Without a worker timeout the deadline came from the backend itself.
	if timedOut && w.cfg.Timeout > 0 {
		return jobs.JobError{
			Kind:    jobs.KindGeneration,
			Message: fmt.Sprintf("generation timed out after %s", w.cfg.Timeout),
		}
	}
	return jobs.JobError{Kind: jobs.KindGeneration, Message: err.Error()}
}
