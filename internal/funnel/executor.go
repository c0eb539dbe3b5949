package funnel

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

// Sender is the part of dispatch.Dispatcher the executors need.
type Sender interface {
	Send(ctx context.Context, attempt int, msg dispatch.Message) (dispatch.Result, error)
}

// Executor runs send-abandoned-cart-reminder and send-discount-offer jobs. Carts are
// re-read at execution time: a cart that converted or already passed the stage since the
// job was enqueued is skipped without error.
type Executor struct {
	carts           repository.CartRepository
	sender          Sender
	logger          *slog.Logger
	unsubscribeBase string
	now             func() time.Time
}

type ExecutorOption func(*Executor)

// WithSendClock sets the clock used for *_sent_at stamps.
func WithSendClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

func NewExecutor(carts repository.CartRepository, sender Sender, logger *slog.Logger, unsubscribeBase string, opts ...ExecutorOption) *Executor {
	e := &Executor{
		carts:           carts,
		sender:          sender,
		logger:          logger.With("component", "funnel_executor"),
		unsubscribeBase: unsubscribeBase,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Register(reg *scheduler.Registry) {
	scheduler.Handle(reg, e.SendReminder)
	scheduler.Handle(reg, e.SendDiscountOffer)
}

func (e *Executor) loadRecoverable(ctx context.Context, logger *slog.Logger, platform domain.Platform, cartID string) (*domain.AbandonedCart, error) {
	cart, err := e.carts.FindOne(ctx, platform, cartID)
	if errors.Is(err, domain.ErrCartNotFound) {
		logger.Info("cart no longer exists, skipping")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if !cart.Recoverable() {
		logger.Info("cart not recoverable, skipping", "status", cart.Status)
		return nil, nil
	}
	return cart, nil
}

func (e *Executor) SendReminder(ctx context.Context, job *domain.Job, p domain.ReminderPayload) error {
	logger := e.logger.With("cart_id", p.CartID, "platform", p.Platform, "stage", p.Stage)

	if p.Stage == domain.FunnelDiscount {
		return fmt.Errorf("%w: discount stage needs a %s job", domain.ErrInvalidPayload, domain.KindDiscountOffer)
	}
	kind, err := render.KindForStage(p.Stage)
	if err != nil {
		return err
	}

	cart, err := e.loadRecoverable(ctx, logger, p.Platform, p.CartID)
	if cart == nil || err != nil {
		return err
	}

	if p.Stage == domain.FunnelManual {
		sent, err := e.send(ctx, job, cart, kind, p.StoreURL)
		if !sent || err != nil {
			return err
		}
		if err := e.carts.RecordManualReminder(ctx, cart.Platform, cart.CartID, e.now()); err != nil {
			logger.Warn("record manual reminder", "error", err)
		}
		return nil
	}

	markers, err := p.Stage.Markers()
	if err != nil {
		return err
	}
	switch status := cart.EmailStatus.Normalize(); status {
	case markers.Scheduled:
	case markers.Previous:
		// Enqueued directly through the ops API rather than by a scan.
		err := e.carts.UpdateStageMarker(ctx, cart.Platform, cart.CartID, markers.Previous, markers.Scheduled, e.now())
		if errors.Is(err, domain.ErrStageConflict) {
			logger.Info("stage claimed concurrently, skipping")
			return nil
		}
		if err != nil {
			return fmt.Errorf("mark stage scheduled: %w", err)
		}
	default:
		logger.Info("stage already handled, skipping", "email_status", status)
		return nil
	}

	sent, err := e.send(ctx, job, cart, kind, p.StoreURL)
	if !sent || err != nil {
		return err
	}

	err = e.carts.UpdateStageMarker(ctx, cart.Platform, cart.CartID, markers.Scheduled, markers.Sent, e.now())
	if err != nil {
		// The email is out; failing the job would only invite a duplicate.
		logger.Error("mark stage sent", "error", err)
	}
	return nil
}

func (e *Executor) SendDiscountOffer(ctx context.Context, job *domain.Job, p domain.DiscountOfferPayload) error {
	logger := e.logger.With("cart_id", p.CartID, "platform", p.Platform, "code", p.Code)

	cart, err := e.loadRecoverable(ctx, logger, p.Platform, p.CartID)
	if cart == nil || err != nil {
		return err
	}
	if cart.DiscountOfferSent {
		logger.Info("discount offer already sent, skipping")
		return nil
	}

	offer := render.Offer{Code: p.Code, Amount: p.Amount, Type: p.Type}
	sent, err := e.send(ctx, job, cart, render.KindDiscount, p.StoreURL, render.WithOffer(offer))
	if !sent || err != nil {
		return err
	}

	if err := e.carts.RecordDiscountOffer(ctx, cart.Platform, cart.CartID, p.Code, e.now()); err != nil {
		logger.Error("record discount offer", "error", err)
	}
	return nil
}

// send renders and dispatches one email. It reports sent=false with a retry error when the
// dispatcher deferred the message.
func (e *Executor) send(ctx context.Context, job *domain.Job, cart *domain.AbandonedCart, kind render.Kind, storeURL string, opts ...render.Option) (bool, error) {
	opts = append(opts, render.WithUnsubscribeBase(e.unsubscribeBase))
	email, err := render.Render(kind, cart, storeURL, opts...)
	if err != nil {
		return false, fmt.Errorf("render %s: %w", kind, err)
	}

	res, err := e.sender.Send(ctx, job.Attempt, dispatch.Message{
		To:             cart.CustomerEmail,
		Subject:        email.Subject,
		HTML:           email.HTML,
		Template:       string(kind),
		UnsubscribeURL: email.UnsubscribeURL,
	})
	if err != nil {
		return false, err
	}
	if res.Status != dispatch.StatusSent {
		return false, res.Outcome()
	}
	return true, nil
}
