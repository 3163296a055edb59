package metrics

import (
	"sync"
	"time"

	"sdqueue/jobs"
)

// Store keeps running totals of finished jobs, a ring of the most recent
// ones and the latest GPU sample. It is safe for concurrent use.
//
// Usage:
//
//	store := metrics.NewStore(metrics.DefaultStoreConfig(), time.Now())
//	queue := jobs.NewQueue(cfg, logger, jobs.WithObserver(store.Observe))
//	snap := store.Snapshot()
type Store struct {
	mu sync.RWMutex

	recent     []GenerationRecord
	recentHead int
	recentSize int

	finished  int64
	outcomes  map[Outcome]int64
	started   int64
	totalWait time.Duration
	totalRun  time.Duration
	byModel   map[string]*modelStats

	gpu *GPUMetrics

	startTime time.Time
	now       func() time.Time
}

type modelStats struct {
	count     int64
	completed int64
	totalRun  time.Duration
}

// StoreConfig configures a Store.
type StoreConfig struct {
	// RecentCapacity is how many finished jobs Recent can return.
	RecentCapacity int
}

// DefaultStoreConfig returns a default configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{RecentCapacity: 100}
}

// NewStore creates a Store; startTime anchors the reported uptime.
func NewStore(cfg StoreConfig, startTime time.Time) *Store {
	capacity := cfg.RecentCapacity
	if capacity < 1 {
		capacity = DefaultStoreConfig().RecentCapacity
	}
	return &Store{
		recent:    make([]GenerationRecord, capacity),
		outcomes:  make(map[Outcome]int64),
		byModel:   make(map[string]*modelStats),
		startTime: startTime,
		now:       time.Now,
	}
}

// Observe records finished jobs; other events are ignored. It is a
// jobs.Observer.
func (s *Store) Observe(ev jobs.Event) {
	if ev.Type != jobs.EventFinished {
		return
	}
	if rec, ok := RecordFromJob(ev.Job); ok {
		s.Record(rec)
	}
}

// RecordFromJob converts a terminal job. It reports false for jobs that
// have not finished.
func RecordFromJob(j jobs.Job) (GenerationRecord, bool) {
	if !j.Status.Terminal() || j.FinishedAt == nil {
		return GenerationRecord{}, false
	}
	rec := GenerationRecord{
		JobID:      j.ID,
		Outcome:    outcomeOf(j),
		Model:      j.Params.Model,
		Width:      j.Params.Width,
		Height:     j.Params.Height,
		Steps:      j.Params.Steps,
		FinishedAt: *j.FinishedAt,
	}
	if j.StartedAt != nil {
		rec.Started = true
		rec.WaitMS = j.StartedAt.Sub(j.SubmittedAt).Milliseconds()
		rec.RunMS = j.FinishedAt.Sub(*j.StartedAt).Milliseconds()
	}
	if j.Result != nil {
		rec.Backend = j.Result.Backend
	}
	return rec, true
}

func outcomeOf(j jobs.Job) Outcome {
	if j.Status == jobs.StatusCompleted {
		return OutcomeCompleted
	}
	if j.Error != nil {
		switch j.Error.Kind {
		case jobs.KindCancelled:
			return OutcomeCancelled
		case jobs.KindInterrupted:
			return OutcomeInterrupted
		}
	}
	return OutcomeFailed
}

// Record adds one finished job.
func (s *Store) Record(rec GenerationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recent[s.recentHead] = rec
	s.recentHead = (s.recentHead + 1) % len(s.recent)
	if s.recentSize < len(s.recent) {
		s.recentSize++
	}

	s.finished++
	s.outcomes[rec.Outcome]++

	if rec.Started {
		s.started++
		s.totalWait += time.Duration(rec.WaitMS) * time.Millisecond
		s.totalRun += time.Duration(rec.RunMS) * time.Millisecond
	}

	ms, ok := s.byModel[rec.Model]
	if !ok {
		ms = &modelStats{}
		s.byModel[rec.Model] = ms
	}
	ms.count++
	if rec.Outcome == OutcomeCompleted {
		ms.completed++
		ms.totalRun += time.Duration(rec.RunMS) * time.Millisecond
	}
}

// Recent returns up to limit of the most recent records, oldest first.
func (s *Store) Recent(limit int) []GenerationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || s.recentSize == 0 {
		return []GenerationRecord{}
	}
	if limit > s.recentSize {
		limit = s.recentSize
	}
	n := len(s.recent)
	out := make([]GenerationRecord, limit)
	for i := 0; i < limit; i++ {
		out[i] = s.recent[(s.recentHead-limit+i+n)%n]
	}
	return out
}

// UpdateGPU stores the latest GPU sample.
func (s *Store) UpdateGPU(gpu GPUMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gpu = &gpu
}

// Snapshot returns the aggregate view.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		StartedAt:     s.startTime,
		UptimeSeconds: int64(s.now().Sub(s.startTime).Seconds()),
		Finished:      s.finished,
		Outcomes:      make(map[Outcome]int64, len(s.outcomes)),
		ByModel:       make(map[string]ModelStats, len(s.byModel)),
	}
	for k, v := range s.outcomes {
		snap.Outcomes[k] = v
	}
	if s.started > 0 {
		snap.AvgWaitMS = (s.totalWait / time.Duration(s.started)).Milliseconds()
		snap.AvgRunMS = (s.totalRun / time.Duration(s.started)).Milliseconds()
	}
	for model, ms := range s.byModel {
		st := ModelStats{Count: ms.count, Completed: ms.completed}
		if ms.count > 0 {
			st.SuccessRate = float64(ms.completed) / float64(ms.count) * 100
		}
		if ms.completed > 0 {
			st.AvgRunMS = (ms.totalRun / time.Duration(ms.completed)).Milliseconds()
		}
		snap.ByModel[model] = st
	}
	if s.gpu != nil {
		gpu := *s.gpu
		snap.GPU = &gpu
	}
	return snap
}
