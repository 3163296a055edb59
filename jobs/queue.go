package jobs

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Queue defaults.
const (
	DefaultMaxPending   = 100
	DefaultHistoryLimit = 50
)

// QueueConfig bounds the queue partitions.
type QueueConfig struct {
	// MaxPending is the admission limit for the pending sequence.
	MaxPending int
	// HistoryLimit is the number of terminal jobs retained, most recent first.
	HistoryLimit int
}

// DefaultQueueConfig returns the default bounds.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxPending:   DefaultMaxPending,
		HistoryLimit: DefaultHistoryLimit,
	}
}

// EventType names a queue transition.
type EventType string

const (
	EventEnqueued EventType = "enqueued"
	EventStarted  EventType = "started"
	EventFinished EventType = "finished"
)

// Event is delivered to observers after each transition. Job is a copy
// taken inside the transition.
type Event struct {
	Type EventType
	Job  Job
}

// Observer receives queue events. Observers run in transition order and
// must not block or call back into the Queue.
type Observer func(Event)

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(q *Queue) { q.observers = append(q.observers, o) }
}

// Queue holds the pending jobs, the single running job and the bounded
// history. All mutation goes through q.mu; a job is in exactly one
// partition at any time.
type Queue struct {
	mu     sync.RWMutex
	emitMu sync.Mutex

	cfg       QueueConfig
	logger    *zap.Logger
	now       func() time.Time
	observers []Observer
	notify    chan struct{}

	nextID   int64
	pending  []*Job
	current  *Job
	history  []*Job
	closed   bool
	accepted uint64
	finished uint64
	failed   uint64
}

// NewQueue creates an empty queue. Non-positive bounds fall back to the
// defaults.
func NewQueue(cfg QueueConfig, logger *zap.Logger, opts ...Option) *Queue {
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = DefaultMaxPending
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Queue{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		notify: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends a new queued job and returns it with its 1-based
// position in the pending sequence. The running job is not counted.
func (q *Queue) Enqueue(p Params) (Job, int, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Job{}, 0, ErrQueueClosed
	}
	if len(q.pending) >= q.cfg.MaxPending {
		q.mu.Unlock()
		return Job{}, 0, ErrQueueFull
	}

	q.nextID++
	j := &Job{
		ID:          q.nextID,
		Status:      StatusQueued,
		Params:      p,
		SubmittedAt: q.now(),
	}
	q.pending = append(q.pending, j)
	q.accepted++
	position := len(q.pending)
	snap := *j
	q.commit(Event{Type: EventEnqueued, Job: snap})

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return snap, position, nil
}

// Wait returns a channel that receives after an enqueue. Signals coalesce,
// so a receive means "check again", not "one new job".
func (q *Queue) Wait() <-chan struct{} {
	return q.notify
}

// DequeueNext moves the head of the pending sequence into the running
// slot. It returns false when nothing is pending or a job is already
// running.
func (q *Queue) DequeueNext() (Job, bool) {
	q.mu.Lock()
	if q.current != nil {
		q.logger.Error("dequeue while a job is still running",
			zap.Int64("current_job_id", q.current.ID))
		q.mu.Unlock()
		return Job{}, false
	}
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return Job{}, false
	}

	j := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	if err := j.start(q.now()); err != nil {
		q.logger.Error("pending job in unexpected state", zap.Int64("job_id", j.ID), zap.Error(err))
		q.mu.Unlock()
		return Job{}, false
	}
	q.current = j
	snap := *j
	q.commit(Event{Type: EventStarted, Job: snap})
	return snap, true
}

// Complete records a successful result for the running job. Calls for any
// other id are logged and ignored.
func (q *Queue) Complete(id int64, result Artifact) bool {
	return q.finish(id, "complete", func(j *Job, at time.Time) error {
		return j.complete(at, result)
	})
}

// Fail records a failure for the running job. Calls for any other id are
// logged and ignored.
func (q *Queue) Fail(id int64, jerr JobError) bool {
	return q.finish(id, "fail", func(j *Job, at time.Time) error {
		return j.fail(at, jerr)
	})
}

func (q *Queue) finish(id int64, op string, transition func(*Job, time.Time) error) bool {
	q.mu.Lock()
	if q.current == nil || q.current.ID != id {
		fields := []zap.Field{zap.String("op", op), zap.Int64("job_id", id)}
		if q.current != nil {
			fields = append(fields, zap.Int64("current_job_id", q.current.ID))
		}
		q.logger.Error("finish called for a job that is not running", fields...)
		q.mu.Unlock()
		return false
	}

	j := q.current
	if err := transition(j, q.now()); err != nil {
		q.logger.Error("running job rejected transition", zap.Int64("job_id", id), zap.Error(err))
		q.mu.Unlock()
		return false
	}
	q.current = nil
	q.retire(j)
	q.commit(Event{Type: EventFinished, Job: *j})
	return true
}

// Cancel fails a job that is still pending with kind Cancelled.
func (q *Queue) Cancel(id int64) (Job, error) {
	q.mu.Lock()
	for i, j := range q.pending {
		if j.ID != id {
			continue
		}
		if err := j.fail(q.now(), JobError{Kind: KindCancelled, Message: "cancelled before it started"}); err != nil {
			q.mu.Unlock()
			return Job{}, err
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		q.retire(j)
		snap := *j
		q.commit(Event{Type: EventFinished, Job: snap})
		return snap, nil
	}

	_, found := q.lookupLocked(id)
	q.mu.Unlock()
	if found {
		return Job{}, ErrNotCancellable
	}
	return Job{}, ErrNotFound
}

// Close stops admission and fails every pending job with kind
// Interrupted. The running job is left to its worker. It returns the
// number of drained jobs and is safe to call more than once.
func (q *Queue) Close(reason string) int {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0
	}
	q.closed = true

	drained := q.pending
	q.pending = nil
	events := make([]Event, 0, len(drained))
	now := q.now()
	for _, j := range drained {
		if err := j.fail(now, JobError{Kind: KindInterrupted, Message: reason}); err != nil {
			q.logger.Error("drain rejected transition", zap.Int64("job_id", j.ID), zap.Error(err))
			continue
		}
		q.retire(j)
		events = append(events, Event{Type: EventFinished, Job: *j})
	}
	q.commit(events...)

	if len(events) > 0 {
		q.logger.Info("queue closed, pending jobs interrupted", zap.Int("count", len(events)))
	}
	return len(events)
}

// retire pushes a terminal job onto the history front, evicting the
// oldest entries past the limit, and updates the counters. Caller holds q.mu.
func (q *Queue) retire(j *Job) {
	q.history = append(q.history, nil)
	copy(q.history[1:], q.history)
	q.history[0] = j
	for len(q.history) > q.cfg.HistoryLimit {
		last := len(q.history) - 1
		q.history[last] = nil
		q.history = q.history[:last]
	}
	q.finished++
	if j.Status == StatusFailed {
		q.failed++
	}
}

// Subscribe adds an observer after construction. It receives events for
// transitions committed after it returns.
func (q *Queue) Subscribe(o Observer) {
	q.mu.Lock()
	q.emitMu.Lock()
	q.observers = append(q.observers, o)
	q.emitMu.Unlock()
	q.mu.Unlock()
}

// commit releases q.mu and delivers events. emitMu is taken before q.mu is
// released so observers see transitions in the order they happened.
func (q *Queue) commit(events ...Event) {
	if len(q.observers) == 0 || len(events) == 0 {
		q.mu.Unlock()
		return
	}
	q.emitMu.Lock()
	q.mu.Unlock()
	defer q.emitMu.Unlock()

	for _, ev := range events {
		for _, o := range q.observers {
			o(ev)
		}
	}
}

// Snapshot is a consistent copy of all three partitions.
type Snapshot struct {
	Current *Job
	Pending []Job
	History []Job
}

// Snapshot copies the queue state under one read lock.
func (q *Queue) Snapshot() Snapshot {
	q.mu.RLock()
	defer q.mu.RUnlock()

	s := Snapshot{
		Pending: make([]Job, len(q.pending)),
		History: make([]Job, len(q.history)),
	}
	if q.current != nil {
		c := *q.current
		s.Current = &c
	}
	for i, j := range q.pending {
		s.Pending[i] = *j
	}
	for i, j := range q.history {
		s.History[i] = *j
	}
	return s
}

// Lookup searches the running slot, then pending, then history.
func (q *Queue) Lookup(id int64) (Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	j, ok := q.lookupLocked(id)
	if !ok {
		return Job{}, ErrNotFound
	}
	return *j, nil
}

func (q *Queue) lookupLocked(id int64) (*Job, bool) {
	if q.current != nil && q.current.ID == id {
		return q.current, true
	}
	for _, j := range q.pending {
		if j.ID == id {
			return j, true
		}
	}
	for _, j := range q.history {
		if j.ID == id {
			return j, true
		}
	}
	return nil, false
}

// Stats are the queue sizes and lifetime counters.
type Stats struct {
	Pending   int
	CurrentID *int64
	Accepted  uint64
	Finished  uint64
	Failed    uint64
}

// Stats reads sizes and counters under one read lock.
func (q *Queue) Stats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	s := Stats{
		Pending:  len(q.pending),
		Accepted: q.accepted,
		Finished: q.finished,
		Failed:   q.failed,
	}
	if q.current != nil {
		id := q.current.ID
		s.CurrentID = &id
	}
	return s
}
