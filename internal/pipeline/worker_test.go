package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/voxsub/subgen/internal/jobstore"
)

type fakeRunner struct {
	mu   sync.Mutex
	runs []string
	err  error
	slow time.Duration
}

func (f *fakeRunner) Run(ctx context.Context, req Request) (*Result, error) {
	if f.slow > 0 {
		select {
		case <-time.After(f.slow):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	f.runs = append(f.runs, req.JobID)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &Result{ArtifactKey: "subtitles/" + req.JobID + "/en.srt", Cues: 1, SourceLang: "en", TargetLang: "en"}, nil
}

func newTestPool(t *testing.T, runner Runner) (*WorkerPool, *jobstore.Store) {
	t.Helper()
	js, err := jobstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("jobstore.Open: %v", err)
	}
	t.Cleanup(func() { js.Close() })

	wp := NewWorkerPool(WorkerPoolOptions{
		Runner:    runner,
		Jobs:      js,
		Workers:   2,
		QueueSize: 4,
		Log:       zerolog.Nop(),
	})
	return wp, js
}

func createJob(t *testing.T, js *jobstore.Store, id string) {
	t.Helper()
	err := js.Create(context.Background(), &jobstore.Job{
		ID:             id,
		SourceKind:     "link",
		SourceRef:      "http://example.com/v.mp4",
		LanguageCode:   "en",
		SourceLanguage: "en",
		TargetLanguage: "en",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func waitForStatus(t *testing.T, js *jobstore.Store, id string, want jobstore.Status) *jobstore.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		j, err := js.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if j.Status == want {
			return j
		}
		time.Sleep(10 * time.Millisecond)
	}
	j, _ := js.Get(context.Background(), id)
	t.Fatalf("job %s never reached %s (status %s)", id, want, j.Status)
	return nil
}

func TestWorkerPoolCompletesJob(t *testing.T) {
	runner := &fakeRunner{}
	wp, js := newTestPool(t, runner)
	wp.Start()
	defer wp.Stop()

	createJob(t, js, "j1")
	if !wp.Enqueue(Request{JobID: "j1"}) {
		t.Fatal("Enqueue returned false")
	}

	j := waitForStatus(t, js, "j1", jobstore.StatusDone)
	if j.Artifact != "subtitles/j1/en.srt" {
		t.Errorf("Artifact = %q", j.Artifact)
	}
	if j.Error != "" {
		t.Errorf("Error = %q, want empty", j.Error)
	}
}

func TestWorkerPoolRecordsFailure(t *testing.T) {
	runner := &fakeRunner{err: &StageError{Stage: StageTranscribing, Err: errors.New("backend down")}}
	wp, js := newTestPool(t, runner)
	wp.Start()
	defer wp.Stop()

	createJob(t, js, "j2")
	wp.Enqueue(Request{JobID: "j2"})

	j := waitForStatus(t, js, "j2", jobstore.StatusFailed)
	if j.Stage != string(StageTranscribing) {
		t.Errorf("Stage = %q, want transcribing", j.Stage)
	}
	if j.Error == "" {
		t.Error("expected failure detail")
	}
}

func TestWorkerPoolRecordsRunTimeout(t *testing.T) {
	runner := &fakeRunner{slow: time.Hour}
	js, err := jobstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("jobstore.Open: %v", err)
	}
	t.Cleanup(func() { js.Close() })

	wp := NewWorkerPool(WorkerPoolOptions{
		Runner:     runner,
		Jobs:       js,
		Workers:    1,
		QueueSize:  1,
		RunTimeout: 50 * time.Millisecond,
		Log:        zerolog.Nop(),
	})
	wp.Start()
	defer wp.Stop()

	createJob(t, js, "j-timeout")
	wp.Enqueue(Request{JobID: "j-timeout"})

	j := waitForStatus(t, js, "j-timeout", jobstore.StatusFailed)
	if j.Error == "" {
		t.Error("expected timeout detail recorded")
	}
}

func TestWorkerPoolRejectsWhenFull(t *testing.T) {
	runner := &fakeRunner{slow: time.Hour}
	wp, js := newTestPool(t, runner)
	// Not started: nothing drains the queue.
	_ = js

	for i := 0; i < 4; i++ {
		if !wp.Enqueue(Request{JobID: "queued"}) {
			t.Fatalf("Enqueue %d returned false before queue full", i)
		}
	}
	if wp.Enqueue(Request{JobID: "overflow"}) {
		t.Error("Enqueue succeeded on full queue")
	}
	if got := wp.Stats().Pending; got != 4 {
		t.Errorf("Pending = %d, want 4", got)
	}
}

func TestWorkerPoolStopDrains(t *testing.T) {
	runner := &fakeRunner{}
	wp, js := newTestPool(t, runner)
	wp.Start()

	for _, id := range []string{"a", "b", "c"} {
		createJob(t, js, id)
		wp.Enqueue(Request{JobID: id})
	}
	wp.Stop()

	if got := wp.Completed(); got != 3 {
		t.Errorf("Completed = %d, want 3", got)
	}
	for _, id := range []string{"a", "b", "c"} {
		j, err := js.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get %s: %v", id, err)
		}
		if j.Status != jobstore.StatusDone {
			t.Errorf("job %s status = %s, want done", id, j.Status)
		}
	}
}
