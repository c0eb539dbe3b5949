package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ErlanBelekov/cart-recovery/internal/domain"
	"github.com/ErlanBelekov/cart-recovery/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobColumns = `id, kind, payload, run_at, attempt, status, locked_by, locked_until,
		          last_run_at, failed_at, fail_reason, created_at, updated_at`

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) Create(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	query := `
		INSERT INTO jobs (kind, payload, run_at, attempt, status)
		VALUES ($1, $2, $3, $4, 'pending')
		RETURNING ` + jobColumns

	row := r.pool.QueryRow(ctx, query, job.Kind, payload, job.RunAt, job.Attempt)
	created, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return created, nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	if uuid.Validate(id) != nil {
		return nil, domain.ErrJobNotFound
	}
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

func (r *JobRepository) List(ctx context.Context, filter repository.JobFilter) ([]*domain.Job, error) {
	where, args := jobWhere(filter)

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT %s
		FROM jobs
		WHERE %s
		ORDER BY run_at ASC, id ASC
		LIMIT $%d`,
		jobColumns, strings.Join(where, " AND "), len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

func (r *JobRepository) DeletePending(ctx context.Context, filter repository.JobFilter) (int, error) {
	filter.Status = domain.StatusPending
	where, args := jobWhere(filter)

	tag, err := r.pool.Exec(ctx,
		`DELETE FROM jobs WHERE `+strings.Join(where, " AND "), args...)
	if err != nil {
		return 0, fmt.Errorf("delete pending jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *JobRepository) Claim(ctx context.Context, workerID string, limit int, lockTTL time.Duration) ([]*domain.Job, error) {
	// FOR UPDATE SKIP LOCKED keeps concurrent pollers (in this or other processes) off the
	// same rows; an expired lock makes a running job claimable again.
	query := `
		UPDATE jobs
		SET    status       = 'running',
		       locked_by    = $1,
		       locked_until = NOW() + make_interval(secs => $3),
		       updated_at   = NOW()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE  (status = 'pending' AND run_at <= NOW())
			   OR  (status = 'running' AND locked_until < NOW())
			ORDER BY run_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	rows, err := r.pool.Query(ctx, query, workerID, limit, lockTTL.Seconds())
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

func (r *JobRepository) ExtendLock(ctx context.Context, jobID, workerID string, lockTTL time.Duration) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE jobs SET locked_until = NOW() + make_interval(secs => $3), updated_at = NOW()
		WHERE id = $1 AND locked_by = $2 AND status = 'running'`,
		jobID, workerID, lockTTL.Seconds())
	if err != nil {
		return fmt.Errorf("extend lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrLockLost
	}
	return nil
}

func (r *JobRepository) Complete(ctx context.Context, jobID, workerID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE jobs
		SET    status       = 'completed',
		       last_run_at  = NOW(),
		       locked_by    = NULL,
		       locked_until = NULL,
		       updated_at   = NOW()
		WHERE id = $1 AND locked_by = $2`, jobID, workerID)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrLockLost
	}
	return nil
}

func (r *JobRepository) Fail(ctx context.Context, jobID, workerID, reason string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE jobs
		SET    status       = 'failed',
		       failed_at    = NOW(),
		       fail_reason  = $3,
		       last_run_at  = NOW(),
		       locked_by    = NULL,
		       locked_until = NULL,
		       updated_at   = NOW()
		WHERE id = $1 AND locked_by = $2`, jobID, workerID, reason)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrLockLost
	}
	return nil
}

func (r *JobRepository) Stats(ctx context.Context) (domain.QueueStatus, error) {
	var s domain.QueueStatus
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'pending'),
		       COUNT(*) FILTER (WHERE status = 'running' AND locked_until >= NOW()),
		       COUNT(*) FILTER (WHERE status = 'failed'),
		       MIN(run_at) FILTER (WHERE status = 'pending')
		FROM jobs`).Scan(&s.TotalJobs, &s.PendingJobs, &s.RunningJobs, &s.FailedJobs, &s.NextRunTime)
	if err != nil {
		return domain.QueueStatus{}, fmt.Errorf("queue stats: %w", err)
	}
	return s, nil
}

func (r *JobRepository) PurgeCompleted(ctx context.Context, before time.Time, limit int) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM jobs
		WHERE id IN (
			SELECT id FROM jobs
			WHERE  status = 'completed' AND updated_at < $1
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)`, before, limit)
	if err != nil {
		return 0, fmt.Errorf("purge completed jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func jobWhere(filter repository.JobFilter) ([]string, []any) {
	where := []string{"TRUE"}
	var args []any

	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if filter.ID != "" {
		add("id::text = $%d", filter.ID)
	}
	if filter.Kind != "" {
		add("kind = $%d", filter.Kind)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.CampaignID != "" {
		add("payload->>'campaign_id' = $%d", filter.CampaignID)
	}
	if filter.CartID != "" {
		add("payload->>'cart_id' = $%d", filter.CartID)
		if filter.Platform != "" {
			add("payload->>'platform' = $%d", filter.Platform)
		}
	}
	if filter.EntityID != "" {
		args = append(args, filter.EntityID, string(filter.Platform))
		n := len(args) - 1
		where = append(where, fmt.Sprintf(
			"(payload->>'campaign_id' = $%d OR (payload->>'cart_id' = $%d AND ($%d::text = '' OR payload->>'platform' = $%d)))",
			n, n, n+1, n+1))
	}
	return where, args
}

func collectJobs(rows pgx.Rows) ([]*domain.Job, error) {
	var jobs []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// pgx.Row and pgx.Rows both implement this.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		j   domain.Job
		raw []byte
	)
	err := row.Scan(
		&j.ID, &j.Kind, &raw, &j.RunAt, &j.Attempt, &j.Status, &j.LockedBy, &j.LockedUntil,
		&j.LastRunAt, &j.FailedAt, &j.FailReason, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}

	j.Payload, err = domain.DecodePayload(j.Kind, raw)
	if err != nil {
		return nil, err
	}
	return &j, nil
}
