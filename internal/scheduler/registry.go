package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ErlanBelekov/cart-recovery/internal/domain"
)

// HandlerFunc executes one claimed job. Returning nil completes the job, returning a
// *RetryError reschedules it, and anything else marks it failed.
type HandlerFunc func(ctx context.Context, job *domain.Job) error

type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.JobKind]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.JobKind]HandlerFunc)}
}

// Register binds a handler to a job kind. Registering the same kind twice panics.
func (r *Registry) Register(kind domain.JobKind, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.handlers[kind]; dup {
		panic(fmt.Sprintf("scheduler: handler for %q registered twice", kind))
	}
	r.handlers[kind] = h
}

func (r *Registry) Lookup(kind domain.JobKind) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[kind]
	return h, ok
}

func (r *Registry) Kinds() []domain.JobKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]domain.JobKind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Handle registers fn for the kind of payload P and hands it the decoded payload.
func Handle[P domain.Payload](r *Registry, fn func(ctx context.Context, job *domain.Job, payload P) error) {
	var zero P
	kind := zero.Kind()
	r.Register(kind, func(ctx context.Context, job *domain.Job) error {
		p, ok := job.Payload.(P)
		if !ok {
			return fmt.Errorf("%w: %s job carries %T", domain.ErrInvalidPayload, kind, job.Payload)
		}
		return fn(ctx, job, p)
	})
}
