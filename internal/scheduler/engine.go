// Package scheduler is the durable job substrate: callers persist typed payloads with a
// run time through Engine, and Worker claims due jobs and runs the registered handlers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/cart-recovery/internal/domain"
	"github.com/ErlanBelekov/cart-recovery/internal/metrics"
	"github.com/ErlanBelekov/cart-recovery/internal/repository"
)

var ErrEmptyEntityID = errors.New("entity id is required")

// Engine is the single entry point for scheduling and cancelling work. It is constructed
// once per process and handed to the controllers that produce jobs.
type Engine struct {
	repo   repository.JobRepository
	logger *slog.Logger
	now    func() time.Time
}

type EngineOption func(*Engine)

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func NewEngine(repo repository.JobRepository, logger *slog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		repo:   repo,
		logger: logger.With("component", "engine"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Schedule persists payload to run at runAt. It never executes anything synchronously.
// A zero runAt means now.
func (e *Engine) Schedule(ctx context.Context, runAt time.Time, payload domain.Payload) (string, error) {
	return e.scheduleAttempt(ctx, runAt, payload, 0)
}

func (e *Engine) ScheduleNow(ctx context.Context, payload domain.Payload) (string, error) {
	return e.scheduleAttempt(ctx, e.now(), payload, 0)
}

func (e *Engine) scheduleAttempt(ctx context.Context, runAt time.Time, payload domain.Payload, attempt int) (string, error) {
	if payload == nil {
		return "", fmt.Errorf("schedule job: %w", domain.ErrInvalidPayload)
	}
	if runAt.IsZero() {
		runAt = e.now()
	}

	job, err := e.repo.Create(ctx, &domain.Job{
		Kind:    payload.Kind(),
		Payload: payload,
		RunAt:   runAt,
		Attempt: attempt,
	})
	if err != nil {
		return "", fmt.Errorf("schedule %s: %w", payload.Kind(), err)
	}

	metrics.JobsScheduledTotal.WithLabelValues(string(job.Kind)).Inc()
	e.logger.DebugContext(ctx, "job scheduled",
		"job_id", job.ID,
		"kind", job.Kind,
		"run_at", job.RunAt,
		"attempt", attempt,
	)
	return job.ID, nil
}

func (e *Engine) Get(ctx context.Context, id string) (*domain.Job, error) {
	return e.repo.GetByID(ctx, id)
}

func (e *Engine) JobsMatching(ctx context.Context, filter repository.JobFilter) ([]*domain.Job, error) {
	jobs, err := e.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Cancel removes a single job if it has not started. Cancelling a job that already ran,
// is running or does not exist is not an error.
func (e *Engine) Cancel(ctx context.Context, jobID string) error {
	_, err := e.CancelMatching(ctx, repository.JobFilter{ID: jobID})
	return err
}

// CancelMatching removes every pending job matching filter. Jobs already claimed by a
// worker run to completion.
func (e *Engine) CancelMatching(ctx context.Context, filter repository.JobFilter) (int, error) {
	n, err := e.repo.DeletePending(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("cancel jobs: %w", err)
	}
	if n > 0 {
		metrics.JobsCancelledTotal.Add(float64(n))
		e.logger.InfoContext(ctx, "jobs cancelled", "count", n)
	}
	return n, nil
}

// CancelJobsFor removes pending jobs whose payload references entityID as either a
// campaign or a cart. Calling it twice is a no-op the second time.
func (e *Engine) CancelJobsFor(ctx context.Context, entityID string) (int, error) {
	if entityID == "" {
		return 0, ErrEmptyEntityID
	}
	return e.CancelMatching(ctx, repository.JobFilter{EntityID: entityID})
}

// CancelCartJobs removes pending jobs for one cart. Another platform's cart with the
// same id keeps its jobs.
func (e *Engine) CancelCartJobs(ctx context.Context, platform domain.Platform, cartID string) (int, error) {
	if cartID == "" {
		return 0, ErrEmptyEntityID
	}
	return e.CancelMatching(ctx, repository.JobFilter{CartID: cartID, Platform: platform})
}

func (e *Engine) QueueStatus(ctx context.Context) (domain.QueueStatus, error) {
	st, err := e.repo.Stats(ctx)
	if err != nil {
		return domain.QueueStatus{}, fmt.Errorf("queue status: %w", err)
	}
	return st, nil
}
