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

func seedCart(t *testing.T, store *memory.CartStore, cartID string, lastActivity time.Time) {
	t.Helper()
	_, err := store.Upsert(context.Background(), &domain.AbandonedCart{
		Platform:      domain.PlatformWooCommerce,
		CartID:        cartID,
		StoreURL:      "https://shop.example.com",
		CustomerEmail: cartID + "@example.com",
		Status:        domain.CartAbandoned,
		LastActivity:  lastActivity,
		Total:         42,
	})
	require.NoError(t, err)
}

func TestCartStore_StageMarkerCompareAndSet(t *testing.T) {
	clk := newClock()
	store := memory.NewCartStoreWithClock(clk.now)
	ctx := context.Background()
	seedCart(t, store, "c1", clk.t)

	require.NoError(t, store.UpdateStageMarker(ctx, domain.PlatformWooCommerce, "c1", domain.EmailNotSent, domain.EmailFirstScheduled, clk.t))
	err := store.UpdateStageMarker(ctx, domain.PlatformWooCommerce, "c1", domain.EmailNotSent, domain.EmailFirstScheduled, clk.t)
	assert.ErrorIs(t, err, domain.ErrStageConflict)

	require.NoError(t, store.UpdateStageMarker(ctx, domain.PlatformWooCommerce, "c1", domain.EmailFirstScheduled, domain.EmailFirstSent, clk.t))
	cart, err := store.FindOne(ctx, domain.PlatformWooCommerce, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.EmailFirstSent, cart.EmailStatus)
	assert.Equal(t, 1, cart.ReminderAttempts)
	require.NotNil(t, cart.FirstReminderSentAt)
}

func TestCartStore_RejectsSkippedTransition(t *testing.T) {
	clk := newClock()
	store := memory.NewCartStoreWithClock(clk.now)
	seedCart(t, store, "c1", clk.t)

	err := store.UpdateStageMarker(context.Background(), domain.PlatformWooCommerce, "c1", domain.EmailNotSent, domain.EmailSecondScheduled, clk.t)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestCartStore_UpsertKeepsFunnelState(t *testing.T) {
	clk := newClock()
	store := memory.NewCartStoreWithClock(clk.now)
	ctx := context.Background()
	seedCart(t, store, "c1", clk.t)
	require.NoError(t, store.UpdateStageMarker(ctx, domain.PlatformWooCommerce, "c1", domain.EmailNotSent, domain.EmailFirstScheduled, clk.t))

	seedCart(t, store, "c1", clk.t.Add(time.Minute))

	cart, err := store.FindOne(ctx, domain.PlatformWooCommerce, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.EmailFirstScheduled, cart.EmailStatus)
}

func TestCartStore_FindEligibleForStageUsesWindow(t *testing.T) {
	clk := newClock()
	store := memory.NewCartStoreWithClock(clk.now)
	seedCart(t, store, "inside", clk.t.Add(-90*time.Minute))
	seedCart(t, store, "too-fresh", clk.t.Add(-10*time.Minute))
	seedCart(t, store, "too-old", clk.t.Add(-5*time.Hour))

	carts, err := store.FindEligibleForStage(context.Background(), repository.EligibleInput{
		Stage:       domain.FunnelFirst,
		WindowStart: clk.t.Add(-2 * time.Hour),
		WindowEnd:   clk.t.Add(-time.Hour),
		Limit:       10,
	})
	require.NoError(t, err)
	require.Len(t, carts, 1)
	assert.Equal(t, "inside", carts[0].CartID)
}

func TestCartStore_FindByAudienceMatchesEmailsCaseInsensitively(t *testing.T) {
	clk := newClock()
	store := memory.NewCartStoreWithClock(clk.now)
	seedCart(t, store, "Alice", clk.t)
	seedCart(t, store, "bob", clk.t)

	carts, err := store.FindByAudience(context.Background(), repository.AudienceQuery{
		Emails: []string{"alice@example.com"},
	})
	require.NoError(t, err)
	require.Len(t, carts, 1)
	assert.Equal(t, "Alice", carts[0].CartID)
}

func TestCartStore_PurgeAbandoned(t *testing.T) {
	clk := newClock()
	store := memory.NewCartStoreWithClock(clk.now)
	seedCart(t, store, "old", clk.t.Add(-8*24*time.Hour))
	seedCart(t, store, "recent", clk.t.Add(-time.Hour))

	n, err := store.PurgeAbandoned(context.Background(), clk.t.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.FindOne(context.Background(), domain.PlatformWooCommerce, "old")
	assert.ErrorIs(t, err, domain.ErrCartNotFound)
}
