package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/ErlanBelekov/cart-recovery/internal/domain"
	"github.com/ErlanBelekov/cart-recovery/internal/infrastructure/memory"
	"github.com/ErlanBelekov/cart-recovery/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func reminderJob(cartID string, runAt time.Time) *domain.Job {
	return &domain.Job{
		Payload: domain.ReminderPayload{CartID: cartID, Platform: domain.PlatformShopify, Stage: domain.FunnelFirst},
		RunAt:   runAt,
	}
}

func TestJobStore_ClaimOnlyDueJobs(t *testing.T) {
	clk := newClock()
	store := memory.NewJobStoreWithClock(clk.now)
	ctx := context.Background()

	due, err := store.Create(ctx, reminderJob("c1", clk.t.Add(-time.Minute)))
	require.NoError(t, err)
	_, err = store.Create(ctx, reminderJob("c2", clk.t.Add(time.Hour)))
	require.NoError(t, err)

	claimed, err := store.Claim(ctx, "w1", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, due.ID, claimed[0].ID)
	assert.Equal(t, domain.StatusRunning, claimed[0].Status)
	assert.Equal(t, domain.KindAbandonedCartReminder, claimed[0].Kind)

	again, err := store.Claim(ctx, "w2", 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again, "a locked job must not be claimed twice")
}

func TestJobStore_ExpiredLockIsReclaimed(t *testing.T) {
	clk := newClock()
	store := memory.NewJobStoreWithClock(clk.now)
	ctx := context.Background()

	job, err := store.Create(ctx, reminderJob("c1", clk.t))
	require.NoError(t, err)
	_, err = store.Claim(ctx, "w1", 1, time.Minute)
	require.NoError(t, err)

	clk.advance(2 * time.Minute)
	claimed, err := store.Claim(ctx, "w2", 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, job.ID, claimed[0].ID)

	assert.ErrorIs(t, store.Complete(ctx, job.ID, "w1"), domain.ErrLockLost)
	assert.NoError(t, store.Complete(ctx, job.ID, "w2"))
}

func TestJobStore_ExtendLockKeepsJobOwned(t *testing.T) {
	clk := newClock()
	store := memory.NewJobStoreWithClock(clk.now)
	ctx := context.Background()

	job, err := store.Create(ctx, reminderJob("c1", clk.t))
	require.NoError(t, err)
	_, err = store.Claim(ctx, "w1", 1, time.Minute)
	require.NoError(t, err)

	clk.advance(50 * time.Second)
	require.NoError(t, store.ExtendLock(ctx, job.ID, "w1", time.Minute))
	clk.advance(50 * time.Second)

	claimed, err := store.Claim(ctx, "w2", 1, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestJobStore_DeletePendingIsIdempotent(t *testing.T) {
	clk := newClock()
	store := memory.NewJobStoreWithClock(clk.now)
	ctx := context.Background()

	_, err := store.Create(ctx, reminderJob("c1", clk.t.Add(time.Hour)))
	require.NoError(t, err)
	_, err = store.Create(ctx, reminderJob("c1", clk.t.Add(2*time.Hour)))
	require.NoError(t, err)
	_, err = store.Create(ctx, reminderJob("c2", clk.t.Add(time.Hour)))
	require.NoError(t, err)

	n, err := store.DeletePending(ctx, repository.JobFilter{EntityID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.DeletePending(ctx, repository.JobFilter{EntityID: "c1"})
	require.NoError(t, err)
	assert.Zero(t, n)

	left, err := store.List(ctx, repository.JobFilter{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "c2", left[0].Payload.Refs().CartID)
}

func TestJobStore_DeletePendingSparesRunningJobs(t *testing.T) {
	clk := newClock()
	store := memory.NewJobStoreWithClock(clk.now)
	ctx := context.Background()

	_, err := store.Create(ctx, reminderJob("c1", clk.t))
	require.NoError(t, err)
	_, err = store.Claim(ctx, "w1", 1, time.Minute)
	require.NoError(t, err)

	n, err := store.DeletePending(ctx, repository.JobFilter{CartID: "c1"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestJobStore_EntityFilterRespectsPlatform(t *testing.T) {
	clk := newClock()
	store := memory.NewJobStoreWithClock(clk.now)
	ctx := context.Background()

	_, err := store.Create(ctx, reminderJob("c1", clk.t.Add(time.Hour)))
	require.NoError(t, err)
	woo := reminderJob("c1", clk.t.Add(time.Hour))
	woo.Payload = domain.ReminderPayload{CartID: "c1", Platform: domain.PlatformWooCommerce, Stage: domain.FunnelFirst}
	_, err = store.Create(ctx, woo)
	require.NoError(t, err)

	n, err := store.DeletePending(ctx, repository.JobFilter{EntityID: "c1", Platform: domain.PlatformShopify})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	left, err := store.List(ctx, repository.JobFilter{CartID: "c1"})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, domain.PlatformWooCommerce, left[0].Payload.Refs().Platform)
}

func TestJobStore_StatsAndPurge(t *testing.T) {
	clk := newClock()
	store := memory.NewJobStoreWithClock(clk.now)
	ctx := context.Background()

	done, err := store.Create(ctx, reminderJob("c1", clk.t))
	require.NoError(t, err)
	_, err = store.Create(ctx, reminderJob("c2", clk.t.Add(time.Hour)))
	require.NoError(t, err)
	_, err = store.Claim(ctx, "w1", 1, time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, done.ID, "w1"))

	st, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalJobs)
	assert.Equal(t, 1, st.PendingJobs)
	require.NotNil(t, st.NextRunTime)
	assert.True(t, st.NextRunTime.Equal(clk.t.Add(time.Hour)))

	clk.advance(48 * time.Hour)
	n, err := store.PurgeCompleted(ctx, clk.t.Add(-24*time.Hour), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
