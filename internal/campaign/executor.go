package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/cart-recovery/internal/dispatch"
	"github.com/ErlanBelekov/cart-recovery/internal/domain"
	"github.com/ErlanBelekov/cart-recovery/internal/render"
	"github.com/ErlanBelekov/cart-recovery/internal/repository"
	"github.com/ErlanBelekov/cart-recovery/internal/scheduler"
)

type Sender interface {
	Send(ctx context.Context, attempt int, msg dispatch.Message) (dispatch.Result, error)
}

// Executor runs send-campaign-email jobs.
type Executor struct {
	campaigns       repository.CampaignRepository
	carts           repository.CartRepository
	sender          Sender
	logger          *slog.Logger
	unsubscribeBase string
	now             func() time.Time
}

func NewExecutor(campaigns repository.CampaignRepository, carts repository.CartRepository, sender Sender, logger *slog.Logger, unsubscribeBase string) *Executor {
	return &Executor{
		campaigns:       campaigns,
		carts:           carts,
		sender:          sender,
		logger:          logger.With("component", "campaign_executor"),
		unsubscribeBase: unsubscribeBase,
		now:             time.Now,
	}
}

func (e *Executor) Register(reg *scheduler.Registry) {
	scheduler.Handle(reg, e.SendCampaignEmail)
}

func (e *Executor) SendCampaignEmail(ctx context.Context, job *domain.Job, p domain.CampaignEmailPayload) error {
	logger := e.logger.With("campaign_id", p.CampaignID, "run_key", p.RunKey, "to", p.Email)

	cmp, err := e.campaigns.Get(ctx, p.CampaignID)
	if errors.Is(err, domain.ErrCampaignNotFound) {
		logger.Info("campaign no longer exists, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load campaign: %w", err)
	}
	if !cmp.AcceptsSends() {
		logger.Info("campaign not sendable, skipping", "status", cmp.Status)
		return nil
	}

	done, err := e.campaigns.HasRecipient(ctx, cmp.ID, p.Email, p.RunKey)
	if err != nil {
		return fmt.Errorf("check recipient: %w", err)
	}
	if done {
		logger.Info("already delivered in this run, skipping")
		return nil
	}

	cart, err := e.cartFor(ctx, cmp, p)
	if err != nil {
		return err
	}

	email, err := render.Render(render.KindCampaign, cart, cmp.StoreURL,
		render.WithContent(cmp.Content),
		render.WithRecipient(p.Email),
		render.WithUnsubscribeBase(e.unsubscribeBase),
	)
	if err != nil {
		return fmt.Errorf("render campaign: %w", err)
	}

	res, err := e.sender.Send(ctx, job.Attempt, dispatch.Message{
		To:             p.Email,
		Subject:        email.Subject,
		HTML:           email.HTML,
		Template:       string(render.KindCampaign),
		UnsubscribeURL: email.UnsubscribeURL,
	})
	if err != nil {
		return err
	}
	if res.Status != dispatch.StatusSent {
		return res.Outcome()
	}

	err = e.campaigns.AppendRecipient(ctx, cmp.ID, domain.Recipient{
		Email:  p.Email,
		CartID: p.CartID,
		RunKey: p.RunKey,
		SentAt: e.now(),
	})
	if err != nil {
		logger.Error("record recipient", "error", err)
	}
	return nil
}

// cartFor loads the recipient's cart for personalisation. A cart that has since been
// purged still gets the campaign, addressed by email alone.
func (e *Executor) cartFor(ctx context.Context, cmp *domain.Campaign, p domain.CampaignEmailPayload) (*domain.AbandonedCart, error) {
	fallback := &domain.AbandonedCart{
		Platform:      p.Platform,
		CartID:        p.CartID,
		StoreURL:      cmp.StoreURL,
		CustomerEmail: p.Email,
	}
	if p.CartID == "" {
		return fallback, nil
	}
	cart, err := e.carts.FindOne(ctx, p.Platform, p.CartID)
	if errors.Is(err, domain.ErrCartNotFound) {
		return fallback, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	return cart, nil
}
