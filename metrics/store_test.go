package metrics

import (
	"sync"
	"testing"
	"time"

	"sdqueue/jobs"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func finishedJob(id int64, model string, status jobs.Status, kind jobs.ErrorKind, wait, run time.Duration) jobs.Job {
	j := jobs.Job{
		ID:          id,
		Status:      status,
		Params:      jobs.Params{Prompt: "p", Model: model, Steps: 20, Width: 512, Height: 512},
		SubmittedAt: t0,
	}
	finished := t0.Add(wait + run)
	j.FinishedAt = &finished
	if run > 0 || status == jobs.StatusCompleted {
		started := t0.Add(wait)
		j.StartedAt = &started
	}
	if status == jobs.StatusCompleted {
		j.Result = &jobs.Artifact{Name: "x.png", Backend: "placeholder"}
	} else {
		j.Error = &jobs.JobError{Kind: kind, Message: "m"}
	}
	return j
}

func TestRecordFromJob(t *testing.T) {
	tests := []struct {
		name    string
		job     jobs.Job
		ok      bool
		outcome Outcome
		started bool
	}{
		{"completed", finishedJob(1, "a", jobs.StatusCompleted, "", time.Second, 3*time.Second), true, OutcomeCompleted, true},
		{"generation error", finishedJob(2, "a", jobs.StatusFailed, jobs.KindGeneration, time.Second, time.Second), true, OutcomeFailed, true},
		{"cancelled while pending", finishedJob(3, "a", jobs.StatusFailed, jobs.KindCancelled, time.Second, 0), true, OutcomeCancelled, false},
		{"interrupted", finishedJob(4, "a", jobs.StatusFailed, jobs.KindInterrupted, time.Second, 0), true, OutcomeInterrupted, false},
		{"still running", jobs.Job{ID: 5, Status: jobs.StatusRunning}, false, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok := RecordFromJob(tt.job)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if rec.Outcome != tt.outcome || rec.Started != tt.started {
				t.Errorf("record = %+v", rec)
			}
		})
	}

	rec, _ := RecordFromJob(finishedJob(1, "a", jobs.StatusCompleted, "", time.Second, 3*time.Second))
	if rec.WaitMS != 1000 || rec.RunMS != 3000 || rec.Backend != "placeholder" {
		t.Errorf("timings = %+v", rec)
	}
}

func TestStore_ObserveAndSnapshot(t *testing.T) {
	s := NewStore(DefaultStoreConfig(), t0)
	s.now = func() time.Time { return t0.Add(90 * time.Second) }

	s.Observe(jobs.Event{Type: jobs.EventEnqueued, Job: jobs.Job{ID: 9, Status: jobs.StatusQueued}})
	s.Observe(jobs.Event{Type: jobs.EventFinished, Job: finishedJob(1, "a", jobs.StatusCompleted, "", time.Second, 3*time.Second)})
	s.Observe(jobs.Event{Type: jobs.EventFinished, Job: finishedJob(2, "a", jobs.StatusFailed, jobs.KindGeneration, 3*time.Second, time.Second)})
	s.Observe(jobs.Event{Type: jobs.EventFinished, Job: finishedJob(3, "b", jobs.StatusFailed, jobs.KindCancelled, 5*time.Second, 0)})

	snap := s.Snapshot()
	if snap.UptimeSeconds != 90 {
		t.Errorf("UptimeSeconds = %d", snap.UptimeSeconds)
	}
	if snap.Finished != 3 {
		t.Errorf("Finished = %d", snap.Finished)
	}
	if snap.Outcomes[OutcomeCompleted] != 1 || snap.Outcomes[OutcomeFailed] != 1 || snap.Outcomes[OutcomeCancelled] != 1 {
		t.Errorf("Outcomes = %v", snap.Outcomes)
	}
	// Only the two started jobs count toward averages.
	if snap.AvgWaitMS != 2000 || snap.AvgRunMS != 2000 {
		t.Errorf("averages wait=%d run=%d", snap.AvgWaitMS, snap.AvgRunMS)
	}
	a := snap.ByModel["a"]
	if a.Count != 2 || a.Completed != 1 || a.SuccessRate != 50 || a.AvgRunMS != 3000 {
		t.Errorf("model a = %+v", a)
	}
	if b := snap.ByModel["b"]; b.Count != 1 || b.SuccessRate != 0 {
		t.Errorf("model b = %+v", b)
	}
	if snap.GPU != nil {
		t.Errorf("GPU = %+v before any sample", snap.GPU)
	}

	s.UpdateGPU(GPUMetrics{Utilization: 80, MemoryTotal: 8 << 30})
	if snap := s.Snapshot(); snap.GPU == nil || snap.GPU.Utilization != 80 {
		t.Errorf("GPU = %+v", snap.GPU)
	}
}

func TestStore_RecentWraps(t *testing.T) {
	s := NewStore(StoreConfig{RecentCapacity: 3}, t0)
	for i := int64(1); i <= 5; i++ {
		s.Record(GenerationRecord{JobID: i, Outcome: OutcomeCompleted})
	}

	got := s.Recent(10)
	if len(got) != 3 {
		t.Fatalf("len = %d", len(got))
	}
	for i, want := range []int64{3, 4, 5} {
		if got[i].JobID != want {
			t.Errorf("Recent[%d] = %d, want %d", i, got[i].JobID, want)
		}
	}
	if got := s.Recent(1); len(got) != 1 || got[0].JobID != 5 {
		t.Errorf("Recent(1) = %+v", got)
	}
	if got := s.Recent(0); len(got) != 0 {
		t.Errorf("Recent(0) = %+v", got)
	}
	if s.Snapshot().Finished != 5 {
		t.Error("totals must survive ring eviction")
	}
}

func TestStore_ZeroCapacityDefaults(t *testing.T) {
	s := NewStore(StoreConfig{}, t0)
	if len(s.recent) != DefaultStoreConfig().RecentCapacity {
		t.Errorf("capacity = %d", len(s.recent))
	}
}

func TestStore_ConcurrentRecord(t *testing.T) {
	s := NewStore(DefaultStoreConfig(), t0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(base int64) {
			defer wg.Done()
			for j := int64(0); j < 50; j++ {
				s.Record(GenerationRecord{JobID: base*100 + j, Model: "m", Outcome: OutcomeCompleted, Started: true})
				_ = s.Snapshot()
			}
		}(int64(i))
	}
	wg.Wait()
	if got := s.Snapshot().ByModel["m"].Count; got != 400 {
		t.Errorf("Count = %d, want 400", got)
	}
}
