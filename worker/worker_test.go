package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"sdqueue/jobs"
	"sdqueue/sdruntime"
)

type generatorFunc func(ctx context.Context, job jobs.Job) (jobs.Artifact, error)

func (f generatorFunc) Generate(ctx context.Context, job jobs.Job) (jobs.Artifact, error) {
	return f(ctx, job)
}

func params() jobs.Params {
	return jobs.Params{Prompt: "fox", Steps: 1, GuidanceScale: 1, Width: 64, Height: 64}
}

// harness starts a worker and reports each finished job on a channel.
func harness(t *testing.T, gen Generator, cfg Config) (*jobs.Queue, <-chan jobs.Job, context.CancelFunc, *Worker) {
	t.Helper()
	finished := make(chan jobs.Job, 16)
	q := jobs.NewQueue(jobs.DefaultQueueConfig(), zaptest.NewLogger(t),
		jobs.WithObserver(func(e jobs.Event) {
			if e.Type == jobs.EventFinished {
				finished <- e.Job
			}
		}))
	w := New(q, gen, cfg, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-w.Stopped()
	})
	return q, finished, cancel, w
}

func awaitFinished(t *testing.T, ch <-chan jobs.Job) jobs.Job {
	t.Helper()
	select {
	case j := <-ch:
		return j
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a finished job")
		return jobs.Job{}
	}
}

func TestWorker_CompletesInOrder(t *testing.T) {
	gen := generatorFunc(func(ctx context.Context, job jobs.Job) (jobs.Artifact, error) {
		return jobs.Artifact{Name: fmt.Sprintf("job-%d.png", job.ID)}, nil
	})
	q, finished, _, _ := harness(t, gen, Config{PollInterval: 10 * time.Millisecond, Timeout: time.Second})

	for i := 0; i < 3; i++ {
		if _, _, err := q.Enqueue(params()); err != nil {
			t.Fatal(err)
		}
	}
	for want := int64(1); want <= 3; want++ {
		j := awaitFinished(t, finished)
		if j.ID != want || j.Status != jobs.StatusCompleted {
			t.Fatalf("finished %d (%s), want %d completed", j.ID, j.Status, want)
		}
		if j.Result == nil || j.Result.Name != fmt.Sprintf("job-%d.png", want) {
			t.Errorf("result = %+v", j.Result)
		}
	}
}

func TestWorker_NeverRunsTwoAtOnce(t *testing.T) {
	var active, peak int32
	gen := generatorFunc(func(ctx context.Context, job jobs.Job) (jobs.Artifact, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return jobs.Artifact{Name: "x.png"}, nil
	})
	q, finished, _, _ := harness(t, gen, Config{PollInterval: 5 * time.Millisecond, Timeout: time.Second})

	const n = 10
	for i := 0; i < n; i++ {
		q.Enqueue(params())
	}
	for i := 0; i < n; i++ {
		awaitFinished(t, finished)
	}
	if peak != 1 {
		t.Errorf("peak concurrent generations = %d, want 1", peak)
	}
}

func TestWorker_FailureKinds(t *testing.T) {
	tests := []struct {
		name    string
		gen     generatorFunc
		timeout time.Duration
		wantMsg string
	}{
		{
			name: "generator error",
			gen: func(ctx context.Context, job jobs.Job) (jobs.Artifact, error) {
				return jobs.Artifact{}, errors.New("model exploded")
			},
			timeout: time.Second,
			wantMsg: "model exploded",
		},
		{
			name: "panic",
			gen: func(ctx context.Context, job jobs.Job) (jobs.Artifact, error) {
				panic("nil tensor")
			},
			timeout: time.Second,
			wantMsg: "generator panic: nil tensor",
		},
		{
			name: "deadline honored by generator",
			gen: func(ctx context.Context, job jobs.Job) (jobs.Artifact, error) {
				<-ctx.Done()
				return jobs.Artifact{}, ctx.Err()
			},
			timeout: 20 * time.Millisecond,
			wantMsg: "timed out after 20ms",
		},
		{
			name: "runtime timeout sentinel",
			gen: func(ctx context.Context, job jobs.Job) (jobs.Artifact, error) {
				return jobs.Artifact{}, fmt.Errorf("sampling: %w", sdruntime.ErrGenerationTimeout)
			},
			timeout: time.Minute,
			wantMsg: "timed out after 1m0s",
		},
		{
			name: "runtime timeout sentinel without worker timeout",
			gen: func(ctx context.Context, job jobs.Job) (jobs.Artifact, error) {
				return jobs.Artifact{}, fmt.Errorf("sampling: %w", sdruntime.ErrGenerationTimeout)
			},
			timeout: 0,
			wantMsg: "sampling: sdruntime: image generation timed out",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, finished, _, _ := harness(t, tt.gen, Config{PollInterval: 5 * time.Millisecond, Timeout: tt.timeout})
			q.Enqueue(params())

			j := awaitFinished(t, finished)
			if j.Status != jobs.StatusFailed || j.Error == nil {
				t.Fatalf("job = %+v", j)
			}
			if j.Error.Kind != jobs.KindGeneration {
				t.Errorf("kind = %s, want %s", j.Error.Kind, jobs.KindGeneration)
			}
			if !strings.Contains(j.Error.Message, tt.wantMsg) {
				t.Errorf("message = %q, want it to contain %q", j.Error.Message, tt.wantMsg)
			}
		})
	}
}

func TestWorker_TimeoutWithStuckGenerator(t *testing.T) {
	release := make(chan struct{})
	var calls int32
	gen := generatorFunc(func(ctx context.Context, job jobs.Job) (jobs.Artifact, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			<-release
		}
		return jobs.Artifact{Name: "ok.png"}, nil
	})
	q, finished, _, _ := harness(t, gen, Config{PollInterval: 5 * time.Millisecond, Timeout: 20 * time.Millisecond})

	q.Enqueue(params())
	q.Enqueue(params())

	first := awaitFinished(t, finished)
	if first.Status != jobs.StatusFailed || !strings.Contains(first.Error.Message, "timed out") {
		t.Fatalf("first = %+v", first)
	}

	// The second job must wait for the stuck call to return.
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("generator entered %d times while the first call was stuck", got)
	}
	if st := q.Stats(); st.Pending != 1 {
		t.Errorf("pending = %d, want 1", st.Pending)
	}

	close(release)
	second := awaitFinished(t, finished)
	if second.Status != jobs.StatusCompleted {
		t.Errorf("second = %+v", second)
	}
}

func TestWorker_ShutdownInterruptsRunningJob(t *testing.T) {
	started := make(chan struct{})
	gen := generatorFunc(func(ctx context.Context, job jobs.Job) (jobs.Artifact, error) {
		close(started)
		<-ctx.Done()
		return jobs.Artifact{}, ctx.Err()
	})
	q, finished, cancel, w := harness(t, gen, Config{PollInterval: 5 * time.Millisecond, Timeout: time.Minute})
	q.Enqueue(params())

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("generation never started")
	}
	cancel()

	j := awaitFinished(t, finished)
	if j.Status != jobs.StatusFailed || j.Error.Kind != jobs.KindInterrupted {
		t.Errorf("job = %+v", j)
	}
	select {
	case <-w.Stopped():
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
	if h := q.Health(); h.CurrentJob != nil {
		t.Errorf("current job still set after shutdown: %d", *h.CurrentJob)
	}
}

func TestWorker_IdleWakesOnEnqueue(t *testing.T) {
	done := make(chan struct{}, 1)
	gen := generatorFunc(func(ctx context.Context, job jobs.Job) (jobs.Artifact, error) {
		done <- struct{}{}
		return jobs.Artifact{Name: "x.png"}, nil
	})
	// A long poll interval: only the enqueue signal can wake the worker
	// in time.
	q, _, _, _ := harness(t, gen, Config{PollInterval: time.Hour, Timeout: time.Second})
	time.Sleep(20 * time.Millisecond)
	q.Enqueue(params())

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not wake on enqueue")
	}
}
