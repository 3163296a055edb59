package db

import (
	"context"
	"net/url"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"sdqueue/jobs"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "nested", "jobs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func finishedJob(id int64, status jobs.Status, kind jobs.ErrorKind, finished time.Time) jobs.Job {
	j := jobs.Job{
		ID:          id,
		Status:      status,
		Params:      jobs.Params{Prompt: "lighthouse", Steps: 20, GuidanceScale: 7.5, Width: 512, Height: 512},
		SubmittedAt: finished.Add(-time.Minute),
		FinishedAt:  &finished,
	}
	if status == jobs.StatusCompleted {
		j.Result = &jobs.Artifact{Name: "a.png", URL: "/outputs/a.png", Seed: 42, Width: 512, Height: 512}
	} else {
		j.Error = &jobs.JobError{Kind: kind, Message: "boom"}
	}
	return j
}

func TestOpen_MigratesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")
	d, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	d.Close()

	// Reopening finds no pending migrations.
	d, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer d.Close()

	conn, err := NewSQLiteConnection(DefaultConnectionConfig(path))
	if err != nil {
		t.Fatal(err)
	}
	version, dirty, err := MigrationVersion(conn)
	if err != nil {
		t.Fatal(err)
	}
	if version != 1 || dirty {
		t.Errorf("version=%d dirty=%v, want 1 clean", version, dirty)
	}
}

func TestMigrateDown_RollsBackToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")
	d, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	d.Close()

	conn, err := NewSQLiteConnection(DefaultConnectionConfig(path))
	if err != nil {
		t.Fatal(err)
	}
	if err := MigrateDown(conn, -1); err != nil {
		t.Fatalf("MigrateDown: %v", err)
	}

	conn, err = NewSQLiteConnection(DefaultConnectionConfig(path))
	if err != nil {
		t.Fatal(err)
	}
	if version, _, err := MigrationVersion(conn); err != nil || version != 0 {
		t.Errorf("version=%d err=%v, want 0", version, err)
	}
}

func TestDatabase_ClosedOperations(t *testing.T) {
	d := openTestDB(t)
	if err := d.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if err := d.Ping(context.Background()); err != ErrClosed {
		t.Errorf("Ping after Close = %v", err)
	}
}

func TestArchive_RecordRecentCounts(t *testing.T) {
	a := NewArchive(openTestDB(t), 0, zaptest.NewLogger(t))
	now := time.Now().UTC()

	a.Observe(jobs.Event{Type: jobs.EventFinished, Job: finishedJob(1, jobs.StatusCompleted, "", now)})
	a.Observe(jobs.Event{Type: jobs.EventFinished, Job: finishedJob(2, jobs.StatusFailed, jobs.KindGeneration, now)})
	a.Observe(jobs.Event{Type: jobs.EventFinished, Job: finishedJob(3, jobs.StatusFailed, jobs.KindCancelled, now)})
	// Non-finished events are ignored.
	a.Observe(jobs.Event{Type: jobs.EventEnqueued, Job: jobs.Job{ID: 4, Status: jobs.StatusQueued}})
	a.Record(jobs.Job{ID: 5, Status: jobs.StatusRunning})

	if err := a.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}

	recent, err := a.Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 3 {
		t.Fatalf("recent = %d jobs, want 3", len(recent))
	}
	if recent[0].ID != 3 || recent[2].ID != 1 {
		t.Errorf("order = %d,%d,%d, want newest first", recent[0].ID, recent[1].ID, recent[2].ID)
	}
	if recent[2].Result == nil || recent[2].Result.Seed != 42 {
		t.Errorf("result not round-tripped: %+v", recent[2].Result)
	}

	limited, _ := a.Recent(context.Background(), 1)
	if len(limited) != 1 {
		t.Errorf("limit 1 returned %d", len(limited))
	}

	c, err := a.Counts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if c.Total != 3 || c.ByStatus["failed"] != 2 || c.ByStatus["completed"] != 1 {
		t.Errorf("counts = %+v", c)
	}
	if c.ByErrKind[string(jobs.KindCancelled)] != 1 || c.ByErrKind[string(jobs.KindGeneration)] != 1 {
		t.Errorf("error kinds = %+v", c.ByErrKind)
	}
}

func TestArchive_Prune(t *testing.T) {
	a := NewArchive(openTestDB(t), 0, zaptest.NewLogger(t))
	now := time.Now().UTC()
	a.Record(finishedJob(1, jobs.StatusCompleted, "", now.Add(-72*time.Hour)))
	a.Record(finishedJob(2, jobs.StatusCompleted, "", now))
	if err := a.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}

	n, err := a.Prune(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
	recent, _ := a.Recent(context.Background(), 0)
	if len(recent) != 1 || recent[0].ID != 2 {
		t.Errorf("remaining = %+v", recent)
	}

	if _, err := a.Prune(context.Background(), 0); err == nil {
		t.Error("zero retention accepted")
	}
}

func TestConnectionConfig_DSN(t *testing.T) {
	dsn := DefaultConnectionConfig("data/jobs.db").DSN()
	q, err := url.ParseQuery(strings.SplitN(dsn, "?", 2)[1])
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"busy_timeout(5000)", "journal_mode(WAL)", "synchronous(NORMAL)"}
	if got := q["_pragma"]; !slices.Equal(got, want) {
		t.Errorf("pragmas = %v, want %v", got, want)
	}
	if !strings.HasPrefix(dsn, "data/jobs.db?") {
		t.Errorf("dsn = %q", dsn)
	}
}

func TestArchive_KeepsEveryJobDrainedByClose(t *testing.T) {
	const pending = 300
	a := NewArchive(openTestDB(t), pending+1, zaptest.NewLogger(t))
	q := jobs.NewQueue(jobs.QueueConfig{MaxPending: pending, HistoryLimit: 10}, zaptest.NewLogger(t),
		jobs.WithObserver(a.Observe))

	for i := 0; i < pending; i++ {
		if _, _, err := q.Enqueue(jobs.Params{Prompt: "harbor", Steps: 20, GuidanceScale: 7.5, Width: 512, Height: 512}); err != nil {
			t.Fatal(err)
		}
	}
	if n := q.Close("shutting down"); n != pending {
		t.Fatalf("drained %d, want %d", n, pending)
	}
	if err := a.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}

	c, err := a.Counts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if c.Total != pending || c.ByErrKind[string(jobs.KindInterrupted)] != pending {
		t.Errorf("counts = %+v, want %d interrupted", c, pending)
	}
}

func TestNewArchive_RaisesSmallBuffer(t *testing.T) {
	a := NewArchive(openTestDB(t), 1, zaptest.NewLogger(t))
	defer a.Flush(context.Background())
	if got := cap(a.writer.writeChan); got != DefaultChannelCapacity {
		t.Errorf("buffer = %d, want %d", got, DefaultChannelCapacity)
	}
}
