// Package memory holds in-process implementations of the repository interfaces. They keep
// the same claim, lock and cancellation semantics as the Postgres stores.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ErlanBelekov/cart-recovery/internal/domain"
	"github.com/ErlanBelekov/cart-recovery/internal/repository"
	"github.com/google/uuid"
)

type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
	now  func() time.Time
}

func NewJobStore() *JobStore {
	return NewJobStoreWithClock(time.Now)
}

func NewJobStoreWithClock(now func() time.Time) *JobStore {
	return &JobStore{jobs: make(map[string]*domain.Job), now: now}
}

func (s *JobStore) Create(_ context.Context, job *domain.Job) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	j := cloneJob(job)
	j.ID = uuid.NewString()
	j.Kind = job.Payload.Kind()
	j.Status = domain.StatusPending
	j.CreatedAt = now
	j.UpdatedAt = now
	s.jobs[j.ID] = j
	return cloneJob(j), nil
}

func (s *JobStore) GetByID(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return cloneJob(j), nil
}

func (s *JobStore) List(_ context.Context, filter repository.JobFilter) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Job
	for _, j := range s.sorted() {
		if matchJob(filter, j) {
			out = append(out, cloneJob(j))
		}
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *JobStore) DeletePending(_ context.Context, filter repository.JobFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	filter.Status = domain.StatusPending
	n := 0
	for id, j := range s.jobs {
		if matchJob(filter, j) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func (s *JobStore) Claim(_ context.Context, workerID string, limit int, lockTTL time.Duration) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var claimed []*domain.Job
	for _, j := range s.sorted() {
		if len(claimed) >= limit {
			break
		}
		due := j.Status == domain.StatusPending && !j.RunAt.After(now)
		expired := j.Status == domain.StatusRunning && j.LockedUntil != nil && j.LockedUntil.Before(now)
		if !due && !expired {
			continue
		}
		owner := workerID
		until := now.Add(lockTTL)
		j.Status = domain.StatusRunning
		j.LockedBy = &owner
		j.LockedUntil = &until
		j.UpdatedAt = now
		claimed = append(claimed, cloneJob(j))
	}
	return claimed, nil
}

func (s *JobStore) ExtendLock(_ context.Context, jobID, workerID string, lockTTL time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.owned(jobID, workerID)
	if err != nil {
		return err
	}
	until := s.now().Add(lockTTL)
	j.LockedUntil = &until
	return nil
}

func (s *JobStore) Complete(_ context.Context, jobID, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.owned(jobID, workerID)
	if err != nil {
		return err
	}
	now := s.now()
	j.Status = domain.StatusCompleted
	j.LastRunAt = &now
	j.LockedBy = nil
	j.LockedUntil = nil
	j.UpdatedAt = now
	return nil
}

func (s *JobStore) Fail(_ context.Context, jobID, workerID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.owned(jobID, workerID)
	if err != nil {
		return err
	}
	now := s.now()
	j.Status = domain.StatusFailed
	j.FailedAt = &now
	j.FailReason = &reason
	j.LastRunAt = &now
	j.LockedBy = nil
	j.LockedUntil = nil
	j.UpdatedAt = now
	return nil
}

func (s *JobStore) Stats(_ context.Context) (domain.QueueStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	st := domain.QueueStatus{TotalJobs: len(s.jobs)}
	for _, j := range s.jobs {
		switch j.Status {
		case domain.StatusPending:
			st.PendingJobs++
			if st.NextRunTime == nil || j.RunAt.Before(*st.NextRunTime) {
				t := j.RunAt
				st.NextRunTime = &t
			}
		case domain.StatusRunning:
			if j.LockedUntil != nil && !j.LockedUntil.Before(now) {
				st.RunningJobs++
			}
		case domain.StatusFailed:
			st.FailedJobs++
		}
	}
	return st, nil
}

func (s *JobStore) PurgeCompleted(_ context.Context, before time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, j := range s.jobs {
		if n >= limit {
			break
		}
		if j.Status == domain.StatusCompleted && j.UpdatedAt.Before(before) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func (s *JobStore) owned(jobID, workerID string) (*domain.Job, error) {
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if j.LockedBy == nil || *j.LockedBy != workerID {
		return nil, domain.ErrLockLost
	}
	return j, nil
}

// sorted returns jobs ordered by run time, oldest first. Callers hold s.mu.
func (s *JobStore) sorted() []*domain.Job {
	out := make([]*domain.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].RunAt.Equal(out[b].RunAt) {
			return out[a].CreatedAt.Before(out[b].CreatedAt)
		}
		return out[a].RunAt.Before(out[b].RunAt)
	})
	return out
}

func matchJob(f repository.JobFilter, j *domain.Job) bool {
	refs := j.Payload.Refs()
	isCart := func(id string) bool {
		return refs.CartID == id && (f.Platform == "" || refs.Platform == f.Platform)
	}
	switch {
	case f.ID != "" && j.ID != f.ID:
		return false
	case f.Kind != "" && j.Kind != f.Kind:
		return false
	case f.Status != "" && j.Status != f.Status:
		return false
	case f.CampaignID != "" && refs.CampaignID != f.CampaignID:
		return false
	case f.CartID != "" && !isCart(f.CartID):
		return false
	case f.EntityID != "" && refs.CampaignID != f.EntityID && !isCart(f.EntityID):
		return false
	}
	return true
}

func cloneJob(j *domain.Job) *domain.Job {
	c := *j
	c.LockedBy = clonePtr(j.LockedBy)
	c.LockedUntil = clonePtr(j.LockedUntil)
	c.LastRunAt = clonePtr(j.LastRunAt)
	c.FailedAt = clonePtr(j.FailedAt)
	c.FailReason = clonePtr(j.FailReason)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
