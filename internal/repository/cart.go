package repository

import (
	"context"
	"time"

	"github.com/ErlanBelekov/cart-recovery/internal/domain"
)

type EligibleInput struct {
	Stage       domain.FunnelStage
	WindowStart time.Time
	WindowEnd   time.Time
	Limit       int
}

type AudienceQuery struct {
	Platform domain.Platform     // empty = any platform
	Statuses []domain.CartStatus // empty = any status
	MinTotal *float64
	MaxTotal *float64
	Emails   []string // lower-cased; empty = no email restriction
}

type CartRepository interface {
	// FindEligibleForStage returns carts ready for stage: abandoned, with a customer email,
	// sitting exactly on the stage's previous marker, and whose reference time (last activity
	// for the first stage, the previous stage's sent-at otherwise) falls inside the window.
	FindEligibleForStage(ctx context.Context, input EligibleInput) ([]*domain.AbandonedCart, error)
	FindByAudience(ctx context.Context, query AudienceQuery) ([]*domain.AbandonedCart, error)
	FindOne(ctx context.Context, platform domain.Platform, cartID string) (*domain.AbandonedCart, error)
	Upsert(ctx context.Context, cart *domain.AbandonedCart) (*domain.AbandonedCart, error)

	// UpdateStageMarker moves email_status from -> to only if the cart still holds from.
	// Reaching a sent marker also stamps its *_sent_at and bumps reminder_attempts.
	// Returns domain.ErrStageConflict when the marker moved underneath the caller.
	UpdateStageMarker(ctx context.Context, platform domain.Platform, cartID string, from, to domain.EmailStage, at time.Time) error
	RecordManualReminder(ctx context.Context, platform domain.Platform, cartID string, at time.Time) error
	RecordDiscountOffer(ctx context.Context, platform domain.Platform, cartID, code string, at time.Time) error

	// PurgeAbandoned deletes abandoned carts whose last activity is before cutoff.
	PurgeAbandoned(ctx context.Context, cutoff time.Time) (int, error)
}
