package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ErlanBelekov/cart-recovery/internal/domain"
	"github.com/ErlanBelekov/cart-recovery/internal/funnel"
	"github.com/ErlanBelekov/cart-recovery/internal/repository"
	"github.com/ErlanBelekov/cart-recovery/internal/scheduler"
)

var (
	ErrInvalidPlatform = errors.New("platform must be woocommerce or shopify")
	ErrInvalidDelay    = errors.New("delay must not be negative")
	ErrInvalidStage    = errors.New("stage must be first, second, final or manual")
)

// RecoveryUsecase is the operator-facing surface over the scheduler engine: explicit
// scheduling of reminder, discount and campaign jobs plus queue inspection.
type RecoveryUsecase struct {
	engine          *scheduler.Engine
	carts           repository.CartRepository
	campaigns       repository.CampaignRepository
	discountPercent float64
	now             func() time.Time
}

func NewRecoveryUsecase(engine *scheduler.Engine, carts repository.CartRepository, campaigns repository.CampaignRepository, discountPercent float64) *RecoveryUsecase {
	return &RecoveryUsecase{
		engine:          engine,
		carts:           carts,
		campaigns:       campaigns,
		discountPercent: discountPercent,
		now:             time.Now,
	}
}

func validPlatform(p domain.Platform) bool {
	return p == domain.PlatformWooCommerce || p == domain.PlatformShopify
}

func (u *RecoveryUsecase) runAt(delayHours float64) (time.Time, error) {
	if delayHours < 0 {
		return time.Time{}, ErrInvalidDelay
	}
	return u.now().Add(time.Duration(delayHours * float64(time.Hour))), nil
}

type ReminderInput struct {
	CartID     string
	Platform   domain.Platform
	StoreURL   string
	DelayHours float64
	Stage      domain.FunnelStage
}

// ScheduleReminder enqueues one reminder for a known cart. Funnel stages still obey the
// stage markers when the job runs, so a reminder scheduled here never duplicates a scan.
func (u *RecoveryUsecase) ScheduleReminder(ctx context.Context, in ReminderInput) (string, error) {
	if !validPlatform(in.Platform) {
		return "", ErrInvalidPlatform
	}
	if !in.Stage.Valid() || in.Stage == domain.FunnelDiscount {
		return "", ErrInvalidStage
	}
	at, err := u.runAt(in.DelayHours)
	if err != nil {
		return "", err
	}
	cart, err := u.carts.FindOne(ctx, in.Platform, in.CartID)
	if err != nil {
		return "", fmt.Errorf("find cart: %w", err)
	}
	storeURL := in.StoreURL
	if storeURL == "" {
		storeURL = cart.StoreURL
	}

	return u.engine.Schedule(ctx, at, domain.ReminderPayload{
		CartID:   cart.CartID,
		Platform: cart.Platform,
		StoreURL: storeURL,
		Stage:    in.Stage,
	})
}

type DiscountInput struct {
	CartID     string
	Platform   domain.Platform
	StoreURL   string
	DelayHours float64
	Code       string
	Amount     float64
	Type       domain.DiscountType
}

// ScheduleDiscountOffer enqueues a discount email. Code, amount and type default to a
// fresh code at the configured percentage.
func (u *RecoveryUsecase) ScheduleDiscountOffer(ctx context.Context, in DiscountInput) (jobID, code string, err error) {
	if !validPlatform(in.Platform) {
		return "", "", ErrInvalidPlatform
	}
	at, err := u.runAt(in.DelayHours)
	if err != nil {
		return "", "", err
	}
	cart, err := u.carts.FindOne(ctx, in.Platform, in.CartID)
	if err != nil {
		return "", "", fmt.Errorf("find cart: %w", err)
	}

	p := domain.DiscountOfferPayload{
		CartID:   cart.CartID,
		Platform: cart.Platform,
		StoreURL: in.StoreURL,
		Code:     in.Code,
		Amount:   in.Amount,
		Type:     in.Type,
	}
	if p.StoreURL == "" {
		p.StoreURL = cart.StoreURL
	}
	if p.Code == "" {
		p.Code = funnel.NewDiscountCode()
	}
	if p.Amount <= 0 {
		p.Amount = u.discountPercent
		p.Type = domain.DiscountPercentage
	}
	if p.Type == "" {
		p.Type = domain.DiscountPercentage
	}

	jobID, err = u.engine.Schedule(ctx, at, p)
	if err != nil {
		return "", "", err
	}
	return jobID, p.Code, nil
}

type CampaignEmailInput struct {
	CampaignID string
	Email      string
	CartID     string
	Platform   domain.Platform
	DelayHours float64
}

// ScheduleCampaignEmail enqueues a single campaign email outside any scheduled run. It is
// tracked under its own run key so it never counts against a regular run.
func (u *RecoveryUsecase) ScheduleCampaignEmail(ctx context.Context, in CampaignEmailInput) (string, error) {
	at, err := u.runAt(in.DelayHours)
	if err != nil {
		return "", err
	}
	if in.Platform != "" && !validPlatform(in.Platform) {
		return "", ErrInvalidPlatform
	}
	cmp, err := u.campaigns.Get(ctx, in.CampaignID)
	if err != nil {
		return "", fmt.Errorf("get campaign: %w", err)
	}
	if cmp.IsTerminal() || cmp.Status == domain.CampaignPaused {
		return "", fmt.Errorf("%w: status %s", domain.ErrCampaignNotActive, cmp.Status)
	}

	return u.engine.Schedule(ctx, at, domain.CampaignEmailPayload{
		CampaignID: cmp.ID,
		RunKey:     "manual-" + domain.RunKeyAt(u.now()),
		Email:      in.Email,
		CartID:     in.CartID,
		Platform:   in.Platform,
	})
}

// UpsertCart records a cart snapshot from a store platform. Funnel state on an existing
// cart is preserved.
func (u *RecoveryUsecase) UpsertCart(ctx context.Context, cart *domain.AbandonedCart) (*domain.AbandonedCart, error) {
	if !validPlatform(cart.Platform) {
		return nil, ErrInvalidPlatform
	}
	if cart.Status == "" {
		cart.Status = domain.CartActive
	}
	if cart.LastActivity.IsZero() {
		cart.LastActivity = u.now()
	}
	saved, err := u.carts.Upsert(ctx, cart)
	if err != nil {
		return nil, fmt.Errorf("upsert cart: %w", err)
	}
	return saved, nil
}

func (u *RecoveryUsecase) CancelJobsFor(ctx context.Context, entityID string) (int, error) {
	return u.engine.CancelJobsFor(ctx, entityID)
}

func (u *RecoveryUsecase) CancelCartJobs(ctx context.Context, platform domain.Platform, cartID string) (int, error) {
	if !validPlatform(platform) {
		return 0, ErrInvalidPlatform
	}
	return u.engine.CancelCartJobs(ctx, platform, cartID)
}

func (u *RecoveryUsecase) CancelJob(ctx context.Context, jobID string) error {
	return u.engine.Cancel(ctx, jobID)
}

func (u *RecoveryUsecase) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return u.engine.Get(ctx, jobID)
}

func (u *RecoveryUsecase) ListJobs(ctx context.Context, filter repository.JobFilter) ([]*domain.Job, error) {
	return u.engine.JobsMatching(ctx, filter)
}

func (u *RecoveryUsecase) QueueStatus(ctx context.Context) (domain.QueueStatus, error) {
	return u.engine.QueueStatus(ctx)
}
