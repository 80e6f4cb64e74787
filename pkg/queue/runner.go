package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/domain/repository"
	"SignalGate/pkg/logger"
)

// Runner polls a Store with a fixed set of workers and dispatches claimed
// jobs to the Job registered for their type.
type Runner struct {
	logger    *logger.Logger
	config    Config
	store     Store
	metrics   Recorder
	jobs      map[string]Job
	wg        conc.WaitGroup
	mu        sync.RWMutex
	isRunning bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewRunner creates a runner. metrics may be nil.
func NewRunner(lgr *logger.Logger, config Config, store Store, metrics Recorder, jobs ...Job) *Runner {
	if config.Workers < 0 {
		config.Workers = 0
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 2 * time.Second
	}
	if config.WorkerID == "" {
		host, _ := os.Hostname()
		config.WorkerID = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}

	r := &Runner{
		logger:  lgr,
		config:  config,
		store:   store,
		metrics: metrics,
		jobs:    make(map[string]Job),
	}
	r.RegisterJobs(jobs)
	return r
}

// RegisterJobs registers multiple jobs.
func (r *Runner) RegisterJobs(jobs []Job) {
	for _, job := range jobs {
		r.RegisterJob(job)
	}
}

// RegisterJob registers a single job.
func (r *Runner) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.Type()]; exists {
		r.logger.Warn("job already registered", logger.String("job", job.Name()))
		return
	}

	r.jobs[job.Type()] = job
	r.logger.Info("job registered",
		logger.String("job", job.Name()),
		logger.String("type", job.Type()))
}

// Start launches the polling workers.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isRunning {
		return fmt.Errorf("runner already running")
	}
	if r.config.Workers == 0 {
		r.logger.Info("job runner disabled", logger.Int("workers", 0))
		return nil
	}
	r.isRunning = true
	r.ctx, r.cancel = context.WithCancel(context.Background())

	for i := 0; i < r.config.Workers; i++ {
		id := i
		r.wg.Go(func() { r.worker(id) })
	}
	r.logger.Info("job runner started",
		logger.Int("workers", r.config.Workers),
		logger.String("worker_id", r.config.WorkerID))
	return nil
}

// Stop cancels the workers and waits for in-flight jobs until ctx expires.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.isRunning = false
	r.logger.Info("stopping job runner...")
	r.cancel()
	r.mu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-ctx.Done():
		r.logger.Warn("timeout waiting for job workers", logger.Error(ctx.Err()))
		return fmt.Errorf("timeout: %w", ctx.Err())
	case <-doneCh:
		r.logger.Info("job runner stopped gracefully")
		return nil
	}
}

func (r *Runner) worker(id int) {
	r.logger.Debug("job worker started", logger.Int("worker", id))
	for {
		n, err := r.RunOnce(r.ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("job poll failed", logger.Int("worker", id), logger.Error(err))
		}
		if n > 0 && err == nil {
			continue
		}
		select {
		case <-r.ctx.Done():
			r.logger.Debug("job worker stopping", logger.Int("worker", id))
			return
		case <-time.After(r.config.PollInterval):
		}
	}
}

// RunOnce claims one batch and processes it. It returns how many jobs were
// claimed.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	claimed, err := r.store.Claim(ctx, r.config.BatchSize, r.config.WorkerID)
	if err != nil {
		return 0, fmt.Errorf("claim: %w", err)
	}
	for _, job := range claimed {
		r.process(ctx, job)
	}
	return len(claimed), nil
}

func (r *Runner) process(ctx context.Context, job models.Job) {
	r.mu.RLock()
	handler, exists := r.jobs[job.Type]
	r.mu.RUnlock()

	if !exists {
		r.logger.Error("no job found",
			logger.String("type", job.Type),
			logger.String("id", job.ID))
		r.fail(ctx, job, fmt.Errorf("no handler for job type %q", job.Type))
		return
	}

	start := time.Now()
	result, err := handler.Handle(ctx, job)
	elapsed := time.Since(start)
	if r.metrics != nil {
		r.metrics.RecordLatency("job_"+job.Type, elapsed.Seconds())
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			// the stale-lock sweep hands it to another worker
			r.logger.Warn("job cancelled",
				logger.String("id", job.ID),
				logger.String("job", handler.Name()),
				logger.Int64("elapsed_ms", elapsed.Milliseconds()))
			return
		}
		r.logger.Error("job processing error",
			logger.String("id", job.ID),
			logger.String("job", handler.Name()),
			logger.Int("attempt", job.Attempts+1),
			logger.Error(err))
		r.fail(ctx, job, err)
		return
	}

	if err := r.store.Succeed(ctx, job.ID, r.config.WorkerID, result); err != nil {
		r.completionError(job, "mark job succeeded", err)
		return
	}
	r.record(job.Type, string(models.JobSucceeded))
}

func (r *Runner) fail(ctx context.Context, job models.Job, cause error) {
	if err := r.store.Fail(ctx, job.ID, r.config.WorkerID, cause.Error(), job.Attempts, job.MaxAttempts); err != nil {
		r.completionError(job, "mark job failed", err)
		return
	}
	status := models.JobPending
	if job.Attempts+1 >= job.MaxAttempts {
		status = models.JobFailed
		r.logger.Error("max attempts reached",
			logger.String("id", job.ID),
			logger.String("type", job.Type))
	}
	r.record(job.Type, string(status))
}

// completionError logs a rejected Succeed or Fail. A lost lock means another
// worker reclaimed the job, so its outcome is left alone.
func (r *Runner) completionError(job models.Job, msg string, err error) {
	if errors.Is(err, repository.ErrLockLost) {
		r.logger.Warn("job lock lost before completion",
			logger.String("id", job.ID),
			logger.String("type", job.Type),
			logger.String("worker_id", r.config.WorkerID))
		return
	}
	r.logger.Error(msg, logger.String("id", job.ID), logger.Error(err))
}

func (r *Runner) record(jobType, status string) {
	if r.metrics != nil {
		r.metrics.RecordJob(jobType, status)
	}
}
