package repository

import (
	"context"
	"time"

	"github.com/ErlanBelekov/cart-recovery/internal/domain"
)

// JobFilter selects jobs for management flows. Zero-valued fields match everything.
type JobFilter struct {
	ID         string
	Kind       domain.JobKind
	Status     domain.Status
	CampaignID string
	CartID     string
	EntityID   string // matches either CampaignID or CartID
	// Platform narrows CartID and the cart side of EntityID. Empty matches any platform.
	Platform domain.Platform
	Limit    int
}

// JobRepository is the durable job store behind the scheduler engine.
type JobRepository interface {
	Create(ctx context.Context, job *domain.Job) (*domain.Job, error)
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	List(ctx context.Context, filter JobFilter) ([]*domain.Job, error)

	// DeletePending removes not-yet-claimed jobs matching filter and reports how many went.
	// Running jobs are never removed: cancellation only prevents future runs.
	DeletePending(ctx context.Context, filter JobFilter) (int, error)

	// Claim atomically locks up to limit due jobs for workerID. A job is due when it is
	// pending with run_at <= now, or running with an expired lock (crashed holder).
	Claim(ctx context.Context, workerID string, limit int, lockTTL time.Duration) ([]*domain.Job, error)
	ExtendLock(ctx context.Context, jobID, workerID string, lockTTL time.Duration) error
	Complete(ctx context.Context, jobID, workerID string) error
	Fail(ctx context.Context, jobID, workerID, reason string) error

	Stats(ctx context.Context) (domain.QueueStatus, error)
	PurgeCompleted(ctx context.Context, before time.Time, limit int) (int, error)
}
