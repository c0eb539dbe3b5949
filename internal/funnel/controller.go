// Package funnel drives abandoned carts through the reminder stages. The Controller scans
// for carts that crossed a stage's time threshold and enqueues one job per cart; the
// Executor sends the email when the job runs.
package funnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ErlanBelekov/cart-recovery/internal/dedup"
	"github.com/ErlanBelekov/cart-recovery/internal/domain"
	"github.com/ErlanBelekov/cart-recovery/internal/metrics"
	"github.com/ErlanBelekov/cart-recovery/internal/notify"
	"github.com/ErlanBelekov/cart-recovery/internal/repository"
	"github.com/ErlanBelekov/cart-recovery/internal/scheduler"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

const notifyTTL = 24 * time.Hour

// StageRule says how often a stage is scanned and which carts qualify: those whose
// reference time lies in [now-After-Window, now-After].
type StageRule struct {
	Stage  domain.FunnelStage
	Spec   string // robfig/cron spec
	After  time.Duration
	Window time.Duration
}

func DefaultRules() []StageRule {
	return []StageRule{
		{Stage: domain.FunnelFirst, Spec: "@every 15m", After: time.Hour, Window: time.Hour},
		{Stage: domain.FunnelSecond, Spec: "@every 30m", After: 24 * time.Hour, Window: 2 * time.Hour},
		{Stage: domain.FunnelFinal, Spec: "@every 1h", After: 48 * time.Hour, Window: 2 * time.Hour},
		{Stage: domain.FunnelDiscount, Spec: "@every 1h", After: 24 * time.Hour, Window: 2 * time.Hour},
	}
}

type Controller struct {
	carts     repository.CartRepository
	engine    *scheduler.Engine
	guard     dedup.Guard
	publisher notify.Publisher
	logger    *slog.Logger

	rules           []StageRule
	batchSize       int
	discountPercent float64
	retention       time.Duration
	purgeSpec       string
	now             func() time.Time
}

type Option func(*Controller)

func WithRules(rules []StageRule) Option {
	return func(c *Controller) { c.rules = rules }
}

func WithBatchSize(n int) Option {
	return func(c *Controller) { c.batchSize = n }
}

func WithDiscountPercent(p float64) Option {
	return func(c *Controller) { c.discountPercent = p }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithNotifier enables the cart.abandoned event, published at most once per cart per day.
func WithNotifier(guard dedup.Guard, publisher notify.Publisher) Option {
	return func(c *Controller) {
		c.guard = guard
		c.publisher = publisher
	}
}

func NewController(carts repository.CartRepository, engine *scheduler.Engine, logger *slog.Logger, opts ...Option) *Controller {
	c := &Controller{
		carts:           carts,
		engine:          engine,
		logger:          logger.With("component", "funnel"),
		rules:           DefaultRules(),
		batchSize:       50,
		discountPercent: 10,
		retention:       7 * 24 * time.Hour,
		purgeSpec:       "@daily",
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start registers one cron entry per stage plus the daily purge and blocks until ctx is
// cancelled. A scan still running when the next tick fires is not started twice.
func (c *Controller) Start(ctx context.Context) error {
	logger := cronLogger{c.logger}
	cr := cron.New(cron.WithChain(cron.SkipIfStillRunning(logger), cron.Recover(logger)))

	for _, rule := range c.rules {
		stage := rule.Stage
		if _, err := cr.AddFunc(rule.Spec, func() {
			if _, err := c.Scan(ctx, stage); err != nil {
				c.logger.Error("funnel scan", "stage", stage, "error", err)
			}
		}); err != nil {
			return fmt.Errorf("schedule %s scan %q: %w", stage, rule.Spec, err)
		}
	}
	if _, err := cr.AddFunc(c.purgeSpec, func() {
		if _, err := c.PurgeStale(ctx); err != nil {
			c.logger.Error("purge stale carts", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule purge %q: %w", c.purgeSpec, err)
	}

	cr.Start()
	c.logger.Info("funnel started", "stages", len(c.rules), "batch_size", c.batchSize)

	<-ctx.Done()
	<-cr.Stop().Done()
	c.logger.Info("funnel shut down")
	return nil
}

func (c *Controller) rule(stage domain.FunnelStage) (StageRule, error) {
	for _, r := range c.rules {
		if r.Stage == stage {
			return r, nil
		}
	}
	return StageRule{}, fmt.Errorf("%w: no rule for %q", domain.ErrUnknownFunnelStage, stage)
}

// Scan enqueues the stage's job for every eligible cart and returns how many were enqueued.
// The cart is moved to the stage's scheduled marker before the job is written, with a
// compare-and-set on the previous marker, so overlapping scans in any number of processes
// enqueue at most one job per cart and stage.
func (c *Controller) Scan(ctx context.Context, stage domain.FunnelStage) (int, error) {
	rule, err := c.rule(stage)
	if err != nil {
		return 0, err
	}
	markers, err := stage.Markers()
	if err != nil {
		return 0, err
	}

	start := time.Now()
	defer func() {
		metrics.FunnelScanDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
	}()

	now := c.now()
	windowEnd := now.Add(-rule.After)
	carts, err := c.carts.FindEligibleForStage(ctx, repository.EligibleInput{
		Stage:       stage,
		WindowStart: windowEnd.Add(-rule.Window),
		WindowEnd:   windowEnd,
		Limit:       c.batchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("scan %s stage: %w", stage, err)
	}

	enqueued := 0
	for _, cart := range carts {
		logger := c.logger.With("stage", stage, "cart_id", cart.CartID, "platform", cart.Platform)

		if stage == domain.FunnelFirst {
			c.notifyAbandoned(ctx, cart)
		}

		err := c.carts.UpdateStageMarker(ctx, cart.Platform, cart.CartID, markers.Previous, markers.Scheduled, now)
		if errors.Is(err, domain.ErrStageConflict) || errors.Is(err, domain.ErrCartNotFound) {
			logger.Debug("cart moved since scan, skipping", "reason", err)
			continue
		}
		if err != nil {
			logger.Error("mark stage scheduled", "error", err)
			continue
		}

		jobID, err := c.engine.ScheduleNow(ctx, c.payloadFor(stage, cart))
		if err != nil {
			logger.Error("enqueue reminder, releasing stage", "error", err)
			if rerr := c.carts.UpdateStageMarker(ctx, cart.Platform, cart.CartID, markers.Scheduled, markers.Previous, now); rerr != nil {
				logger.Error("release stage marker", "error", rerr)
			}
			continue
		}
		enqueued++
		logger.Info("reminder enqueued", "job_id", jobID)
	}

	metrics.FunnelEnqueuedTotal.WithLabelValues(string(stage)).Add(float64(enqueued))
	if len(carts) > 0 {
		c.logger.Info("funnel scan finished", "stage", stage, "eligible", len(carts), "enqueued", enqueued)
	}
	return enqueued, nil
}

func (c *Controller) payloadFor(stage domain.FunnelStage, cart *domain.AbandonedCart) domain.Payload {
	if stage == domain.FunnelDiscount {
		return domain.DiscountOfferPayload{
			CartID:   cart.CartID,
			Platform: cart.Platform,
			StoreURL: cart.StoreURL,
			Code:     NewDiscountCode(),
			Amount:   c.discountPercent,
			Type:     domain.DiscountPercentage,
		}
	}
	return domain.ReminderPayload{
		CartID:   cart.CartID,
		Platform: cart.Platform,
		StoreURL: cart.StoreURL,
		Stage:    stage,
	}
}

func (c *Controller) notifyAbandoned(ctx context.Context, cart *domain.AbandonedCart) {
	if c.guard == nil || c.publisher == nil {
		return
	}
	key := fmt.Sprintf("cart-abandoned:%s:%s", cart.Platform, cart.CartID)
	first, err := c.guard.Acquire(ctx, key, notifyTTL)
	if err != nil {
		c.logger.Warn("abandoned notification dedup", "cart_id", cart.CartID, "error", err)
		return
	}
	if !first {
		return
	}
	err = c.publisher.PublishCartAbandoned(ctx, notify.CartAbandonedEvent{
		EventID:       uuid.NewString(),
		Platform:      string(cart.Platform),
		CartID:        cart.CartID,
		StoreURL:      cart.StoreURL,
		CustomerEmail: cart.CustomerEmail,
		Total:         cart.Total,
		Currency:      cart.Currency,
		ItemCount:     len(cart.Items),
		LastActivity:  cart.LastActivity,
		OccurredAt:    c.now(),
	})
	if err != nil {
		c.logger.Warn("publish cart abandoned", "cart_id", cart.CartID, "error", err)
	}
}

// PurgeStale deletes carts that stayed abandoned past the retention period.
func (c *Controller) PurgeStale(ctx context.Context) (int, error) {
	cutoff := c.now().Add(-c.retention)
	n, err := c.carts.PurgeAbandoned(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge stale carts: %w", err)
	}
	if n > 0 {
		c.logger.Info("purged stale carts", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// NewDiscountCode returns a one-off coupon code such as COMEBACK-3F9A1C2B.
func NewDiscountCode() string {
	return "COMEBACK-" + strings.ToUpper(uuid.NewString()[:8])
}

// cronLogger routes robfig/cron's logging into slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
