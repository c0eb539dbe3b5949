package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ErlanBelekov/cart-recovery/internal/domain"
	"github.com/ErlanBelekov/cart-recovery/internal/metrics"
	"github.com/ErlanBelekov/cart-recovery/internal/repository"
	"github.com/ErlanBelekov/cart-recovery/internal/requestid"
	"github.com/google/uuid"
)

type WorkerConfig struct {
	ID           string // defaults to hostname-pid-suffix
	PollInterval time.Duration
	LockTTL      time.Duration
	JobTimeout   time.Duration // defaults to LockTTL
	Concurrency  int
}

type Worker struct {
	id           string
	repo         repository.JobRepository
	engine       *Engine
	registry     *Registry
	logger       *slog.Logger
	pollInterval time.Duration
	lockTTL      time.Duration
	jobTimeout   time.Duration
	concurrency  int
	sem          chan struct{}
	wg           sync.WaitGroup
}

func NewWorker(engine *Engine, registry *Registry, logger *slog.Logger, cfg WorkerConfig) *Worker {
	id := cfg.ID
	if id == "" {
		hostname, _ := os.Hostname()
		id = fmt.Sprintf("%s-%d-%s", hostname, os.Getpid(), uuid.NewString()[:8])
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = cfg.LockTTL
	}
	return &Worker{
		id:           id,
		repo:         engine.repo,
		engine:       engine,
		registry:     registry,
		logger:       logger.With("component", "worker", "worker_id", id),
		pollInterval: cfg.PollInterval,
		lockTTL:      cfg.LockTTL,
		jobTimeout:   cfg.JobTimeout,
		concurrency:  cfg.Concurrency,
		sem:          make(chan struct{}, cfg.Concurrency),
	}
}

func (w *Worker) ID() string { return w.id }

// Start polls until ctx is cancelled, then waits for in-flight jobs to finish. Running
// jobs are not interrupted by shutdown; they are bounded by the job timeout only.
func (w *Worker) Start(ctx context.Context) {
	metrics.WorkerStartTime.SetToCurrentTime()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("worker started", "concurrency", w.concurrency, "kinds", w.registry.Kinds())

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker draining", "in_flight", len(w.sem))
			w.Wait()
			metrics.WorkerShutdownsTotal.Inc()
			w.logger.Info("worker shut down")
			return
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll claims as many due jobs as there are free slots and starts them. It returns the
// number of jobs claimed.
func (w *Worker) Poll(ctx context.Context) int {
	available := cap(w.sem) - len(w.sem)
	if available == 0 {
		return 0
	}

	jobs, err := w.repo.Claim(ctx, w.id, available, w.lockTTL)
	if err != nil {
		w.logger.Error("claim jobs", "error", err)
		return 0
	}
	if len(jobs) == 0 {
		return 0
	}

	w.logger.Debug("claimed jobs", "count", len(jobs), "slots_used", len(w.sem)+len(jobs), "slots_total", cap(w.sem))

	for _, job := range jobs {
		w.sem <- struct{}{}
		w.wg.Add(1)
		go func(j *domain.Job) {
			metrics.JobsInFlight.Inc()
			defer metrics.JobsInFlight.Dec()
			defer func() { <-w.sem }()
			defer w.wg.Done()
			w.runJob(ctx, j)
		}(job)
	}
	return len(jobs)
}

// Wait blocks until every job started by Poll has finished.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) runJob(ctx context.Context, job *domain.Job) {
	if lag := time.Since(job.RunAt); lag > 0 {
		metrics.JobPickupLatency.Observe(lag.Seconds())
	}

	// Shutdown must not abort a send halfway, so the job context outlives ctx.
	base := requestid.WithJobID(context.WithoutCancel(ctx), job.ID)
	jobCtx, cancel := context.WithTimeout(base, w.jobTimeout)
	defer cancel()

	heartbeatCtx, stopHeartbeat := context.WithCancel(jobCtx)
	defer stopHeartbeat()
	go w.heartbeat(heartbeatCtx, job.ID)

	logger := w.logger.With("job_id", job.ID, "kind", job.Kind, "attempt", job.Attempt)
	logger.Debug("executing job")

	startedAt := time.Now()
	err := w.execute(jobCtx, job)
	stopHeartbeat()
	elapsed := time.Since(startedAt)

	kind := string(job.Kind)
	if err == nil {
		metrics.JobExecutionDuration.WithLabelValues(kind, "success").Observe(elapsed.Seconds())
		metrics.JobsCompletedTotal.WithLabelValues(kind, "success").Inc()
		w.complete(base, logger, job)
		logger.Info("job completed", "duration", elapsed)
		return
	}

	if re, ok := AsRetry(err); ok {
		attempt := job.Attempt
		outcome := "requeue"
		if re.Consume {
			attempt++
			outcome = "retry"
		}
		metrics.JobExecutionDuration.WithLabelValues(kind, outcome).Observe(elapsed.Seconds())

		runAt := time.Now().Add(re.Delay)
		nextID, schedErr := w.engine.scheduleAttempt(base, runAt, job.Payload, attempt)
		if schedErr != nil {
			reason := fmt.Sprintf("%s; reschedule failed: %v", re.Reason, schedErr)
			metrics.JobsCompletedTotal.WithLabelValues(kind, "failed").Inc()
			w.fail(base, logger, job, reason)
			logger.Error("job could not be rescheduled", "error", schedErr)
			return
		}
		metrics.JobsCompletedTotal.WithLabelValues(kind, outcome).Inc()
		w.complete(base, logger, job)
		logger.Warn("job deferred",
			"reason", re.Reason,
			"next_job_id", nextID,
			"next_attempt", attempt,
			"retry_at", runAt,
		)
		return
	}

	metrics.JobExecutionDuration.WithLabelValues(kind, "failure").Observe(elapsed.Seconds())
	metrics.JobsCompletedTotal.WithLabelValues(kind, "failed").Inc()
	w.fail(base, logger, job, err.Error())
	logger.Warn("job failed", "error", err)
}

func (w *Worker) execute(ctx context.Context, job *domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("job handler panicked", "job_id", job.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	h, ok := w.registry.Lookup(job.Kind)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownJobKind, job.Kind)
	}
	return h(ctx, job)
}

func (w *Worker) complete(ctx context.Context, logger *slog.Logger, job *domain.Job) {
	if err := w.repo.Complete(ctx, job.ID, w.id); err != nil {
		if errors.Is(err, domain.ErrLockLost) {
			logger.Warn("lock lost before completion, job may run again")
			return
		}
		logger.Error("mark job complete", "error", err)
	}
}

func (w *Worker) fail(ctx context.Context, logger *slog.Logger, job *domain.Job, reason string) {
	if err := w.repo.Fail(ctx, job.ID, w.id, reason); err != nil {
		logger.Error("mark job failed", "error", err)
	}
}

func (w *Worker) heartbeat(ctx context.Context, jobID string) {
	interval := w.lockTTL / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.repo.ExtendLock(ctx, jobID, w.id, w.lockTTL)
			if errors.Is(err, domain.ErrLockLost) {
				w.logger.Warn("heartbeat lost lock", "job_id", jobID)
				return
			}
			if err != nil {
				w.logger.Warn("heartbeat failed", "job_id", jobID, "error", err)
			}
		}
	}
}
