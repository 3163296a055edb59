package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sdqueue/jobs"
)

// sqliteTime matches SQLite's datetime() text so retention comparisons
// work on stored values.
const sqliteTime = "2006-01-02 15:04:05"

// MaxRecent caps a single Recent query.
const MaxRecent = 500

// Counts are archived totals per terminal status.
type Counts struct {
	Total     int64            `json:"total"`
	ByStatus  map[string]int64 `json:"by_status"`
	ByErrKind map[string]int64 `json:"by_error_kind"`
}

// Archive keeps every finished job, beyond the in-memory history limit.
// It is write-behind: Record never blocks the caller.
type Archive struct {
	db     *Database
	writer *AsyncWriter
	logger *zap.Logger
}

// NewArchive starts the background writer. bufferSize must cover the
// largest burst of finished events, which is a queue Close draining every
// pending job at once; values under DefaultChannelCapacity are raised.
func NewArchive(d *Database, bufferSize int, logger *zap.Logger) *Archive {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize < DefaultChannelCapacity {
		bufferSize = DefaultChannelCapacity
	}
	a := &Archive{db: d, logger: logger}
	a.writer = NewAsyncWriter(a.insert, bufferSize, logger)
	a.writer.Start()
	return a
}

// Observe records finished jobs. It is registered as a queue observer.
func (a *Archive) Observe(e jobs.Event) {
	if e.Type == jobs.EventFinished {
		a.Record(e.Job)
	}
}

// Record queues a terminal job for insertion. Non-terminal jobs and
// writes refused by a full buffer are logged and skipped.
func (a *Archive) Record(j jobs.Job) {
	if !j.Status.Terminal() {
		a.logger.Warn("refusing to archive a job that has not finished",
			zap.Int64("job_id", j.ID), zap.String("status", string(j.Status)))
		return
	}
	if !a.writer.Write(j) {
		a.logger.Warn("archive buffer full, job not archived", zap.Int64("job_id", j.ID))
	}
}

func (a *Archive) insert(ctx context.Context, op WriteOperation) error {
	j, ok := op.Data.(jobs.Job)
	if !ok {
		return fmt.Errorf("unexpected archive payload %T", op.Data)
	}
	raw, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("encode job %d: %w", j.ID, err)
	}

	var errKind, artifact any
	if j.Error != nil {
		errKind = string(j.Error.Kind)
	}
	if j.Result != nil {
		artifact = j.Result.Name
	}
	finished := op.Timestamp
	if j.FinishedAt != nil {
		finished = *j.FinishedAt
	}

	_, err = a.db.exec(ctx, `
		INSERT INTO jobs (job_id, status, error_kind, prompt, artifact_name, job_json, submitted_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, string(j.Status), errKind, j.Params.Prompt, artifact, string(raw),
		j.SubmittedAt.UTC().Format(sqliteTime), finished.UTC().Format(sqliteTime))
	if err != nil {
		return fmt.Errorf("insert job %d: %w", j.ID, err)
	}
	return nil
}

// Recent returns up to limit archived jobs, newest first. Job ids restart
// with the process, so the same id can appear more than once.
func (a *Archive) Recent(ctx context.Context, limit int) ([]jobs.Job, error) {
	if limit <= 0 || limit > MaxRecent {
		limit = MaxRecent
	}
	rows, err := a.db.query(ctx, `SELECT job_json FROM jobs ORDER BY archive_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	defer rows.Close()

	out := make([]jobs.Job, 0, limit)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan archive row: %w", err)
		}
		var j jobs.Job
		if err := json.Unmarshal([]byte(raw), &j); err != nil {
			return nil, fmt.Errorf("decode archived job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Counts aggregates the archive by status and failure kind.
func (a *Archive) Counts(ctx context.Context) (Counts, error) {
	c := Counts{ByStatus: map[string]int64{}, ByErrKind: map[string]int64{}}

	rows, err := a.db.query(ctx, `
		SELECT status, COALESCE(error_kind, ''), COUNT(*)
		FROM jobs GROUP BY status, error_kind`)
	if err != nil {
		return c, fmt.Errorf("count archive: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status, kind string
			n            int64
		)
		if err := rows.Scan(&status, &kind, &n); err != nil {
			return c, fmt.Errorf("scan archive count: %w", err)
		}
		c.Total += n
		c.ByStatus[status] += n
		if kind != "" {
			c.ByErrKind[kind] += n
		}
	}
	return c, rows.Err()
}

// Prune deletes jobs that finished more than retention ago.
func (a *Archive) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("retention must be positive, got %s", retention)
	}
	cutoff := time.Now().Add(-retention).UTC().Format(sqliteTime)
	res, err := a.db.exec(ctx, `DELETE FROM jobs WHERE finished_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune archive: %w", err)
	}
	return res.RowsAffected()
}

// StartPruning prunes once immediately and then every interval until ctx
// ends.
func (a *Archive) StartPruning(ctx context.Context, retention, interval time.Duration) {
	prune := func() {
		n, err := a.Prune(ctx, retention)
		if err != nil {
			if ctx.Err() == nil {
				a.logger.Error("archive pruning failed", zap.Error(err))
			}
			return
		}
		if n > 0 {
			a.logger.Info("archive pruned", zap.Int64("deleted", n), zap.Duration("retention", retention))
		}
	}
	go func() {
		prune()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				prune()
			}
		}
	}()
}

// Flush waits for buffered writes to land, bounded by ctx. The archive
// accepts no further writes afterwards.
func (a *Archive) Flush(ctx context.Context) error {
	pending := a.writer.Pending()
	if !a.writer.Stop(ctx) {
		return fmt.Errorf("archive flush: %w with %d writes pending", ctx.Err(), a.writer.Pending())
	}
	a.logger.Info("archive flushed", zap.Int("writes", pending), zap.Uint64("dropped", a.writer.Dropped()))
	return nil
}
