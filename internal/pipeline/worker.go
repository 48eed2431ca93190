package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/voxsub/subgen/internal/jobstore"
	"github.com/voxsub/subgen/internal/metrics"
)

// Runner executes one subtitle run. Satisfied by *Orchestrator.
type Runner interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

// QueueStats reports the current state of the job queue.
type QueueStats struct {
	Pending   int   `json:"pending"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// WorkerPoolOptions configures the subtitle worker pool.
type WorkerPoolOptions struct {
	Runner     Runner
	Jobs       *jobstore.Store
	Workers    int
	QueueSize  int
	RunTimeout time.Duration
	Log        zerolog.Logger
}

// WorkerPool runs queued subtitle requests. Jobs survive the queue only
// in the job store: a full queue rejects at submit time rather than
// blocking the API.
type WorkerPool struct {
	queue  chan Request
	runner Runner
	jobs   *jobstore.Store
	opts   WorkerPoolOptions
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	completed atomic.Int64
	failed    atomic.Int64
}

func NewWorkerPool(opts WorkerPoolOptions) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		queue:  make(chan Request, opts.QueueSize),
		runner: opts.Runner,
		jobs:   opts.Jobs,
		opts:   opts,
		log:    opts.Log.With().Str("component", "workers").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.opts.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.log.Info().Int("workers", wp.opts.Workers).Int("queue_size", wp.opts.QueueSize).Msg("worker pool started")
}

// Stop signals workers to drain and waits for completion.
func (wp *WorkerPool) Stop() {
	close(wp.queue)
	wp.wg.Wait()
	wp.cancel()
	wp.log.Info().
		Int64("completed", wp.completed.Load()).
		Int64("failed", wp.failed.Load()).
		Msg("worker pool stopped")
}

// Enqueue adds a request to the queue. Returns false if the queue is full.
func (wp *WorkerPool) Enqueue(req Request) bool {
	select {
	case wp.queue <- req:
		metrics.JobsQueued.Set(float64(len(wp.queue)))
		return true
	default:
		return false
	}
}

// Stats returns current queue statistics.
func (wp *WorkerPool) Stats() QueueStats {
	return QueueStats{
		Pending:   len(wp.queue),
		Completed: wp.completed.Load(),
		Failed:    wp.failed.Load(),
	}
}

// Workers returns the number of worker goroutines.
func (wp *WorkerPool) Workers() int { return wp.opts.Workers }

// Pending, Completed and Failed satisfy metrics.WorkerStats.
func (wp *WorkerPool) Pending() int     { return len(wp.queue) }
func (wp *WorkerPool) Completed() int64 { return wp.completed.Load() }
func (wp *WorkerPool) Failed() int64    { return wp.failed.Load() }

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	log := wp.log.With().Int("worker", id).Logger()

	for req := range wp.queue {
		metrics.JobsQueued.Set(float64(len(wp.queue)))
		if err := wp.process(log, req); err != nil {
			wp.failed.Add(1)
			log.Warn().Err(err).Str("job_id", req.JobID).Msg("job failed")
		} else {
			wp.completed.Add(1)
		}
	}
}

func (wp *WorkerPool) process(log zerolog.Logger, req Request) error {
	start := time.Now()
	ctx := wp.ctx
	var cancel context.CancelFunc
	if wp.opts.RunTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, wp.opts.RunTimeout)
		defer cancel()
	}

	res, runErr := wp.runner.Run(ctx, req)

	// The run context may already be expired (RunTimeout) or canceled
	// (Stop); the terminal state must still land in the store.
	recordCtx, recordCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer recordCancel()

	if runErr != nil {
		stage := string(StageExtracting)
		var se *StageError
		if errors.As(runErr, &se) {
			stage = string(se.Stage)
		}
		if err := wp.jobs.MarkFailed(recordCtx, req.JobID, stage, runErr.Error()); err != nil {
			log.Error().Err(err).Str("job_id", req.JobID).Msg("failed to record job failure")
		}
		return runErr
	}

	if err := wp.jobs.MarkDone(recordCtx, req.JobID, res.ArtifactKey); err != nil {
		log.Error().Err(err).Str("job_id", req.JobID).Msg("failed to record job completion")
		return err
	}

	log.Debug().
		Str("job_id", req.JobID).
		Int("cues", res.Cues).
		Int("duration_ms", int(time.Since(start).Milliseconds())).
		Msg("job complete")
	return nil
}
