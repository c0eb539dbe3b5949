// Package dispatch is the single path every outbound email takes: it applies the process
// wide send caps, spaces consecutive sends, attaches compliance headers and turns provider
// failures into bounded, scheduler-driven retries.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/cart-recovery/internal/mailer"
	"github.com/ErlanBelekov/cart-recovery/internal/metrics"
	"github.com/ErlanBelekov/cart-recovery/internal/scheduler"
	"golang.org/x/time/rate"
)

var ErrRetriesExhausted = errors.New("send retries exhausted")

type Config struct {
	MinDelay       time.Duration // minimum gap between two provider calls
	MaxRetries     int           // provider retries per message before giving up
	QueueBackoff   time.Duration // delay when the local limiter is full
	BlockedBackoff time.Duration // delay after an unusual-activity block
	BaseBackoff    time.Duration // first backoff for rate-limit/transient errors
	MaxBackoff     time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinDelay:       500 * time.Millisecond,
		MaxRetries:     3,
		QueueBackoff:   time.Minute,
		BlockedBackoff: 5 * time.Minute,
		BaseBackoff:    30 * time.Second,
		MaxBackoff:     time.Hour,
	}
}

type Message struct {
	To             string
	Subject        string
	HTML           string
	Template       string // metrics label and provider tag
	UnsubscribeURL string
}

type Status string

const (
	StatusSent   Status = "sent"
	StatusQueued Status = "queued" // local limiter was full; not attempted
	StatusRetry  Status = "retry"  // provider refused temporarily; attempt consumed
)

type Result struct {
	Status     Status
	MessageID  string
	RetryAfter time.Duration
	Reason     string
}

// Outcome converts a result into what a job handler returns to the worker: nil once sent,
// otherwise a request to run the job again later.
func (r Result) Outcome() error {
	switch r.Status {
	case StatusQueued:
		return scheduler.Requeue(r.RetryAfter, r.Reason)
	case StatusRetry:
		return scheduler.Retry(r.RetryAfter, r.Reason)
	default:
		return nil
	}
}

type Dispatcher struct {
	sender  mailer.Sender
	limiter *WindowLimiter
	spacing *rate.Limiter
	cfg     Config
	logger  *slog.Logger
}

func New(sender mailer.Sender, limiter *WindowLimiter, logger *slog.Logger, cfg Config) *Dispatcher {
	spacing := rate.NewLimiter(rate.Inf, 1)
	if cfg.MinDelay > 0 {
		spacing = rate.NewLimiter(rate.Every(cfg.MinDelay), 1)
	}
	return &Dispatcher{
		sender:  sender,
		limiter: limiter,
		spacing: spacing,
		cfg:     cfg,
		logger:  logger.With("component", "dispatcher"),
	}
}

// Send attempts delivery of msg. attempt is the number of provider failures this message
// has already seen. A non-nil error is terminal and needs operator attention.
func (d *Dispatcher) Send(ctx context.Context, attempt int, msg Message) (Result, error) {
	if ok, wait := d.limiter.Allow(); !ok {
		metrics.EmailsDeferredTotal.WithLabelValues("limiter").Inc()
		d.logger.InfoContext(ctx, "send cap reached, requeueing", "to", msg.To, "window_frees_in", wait)
		return Result{
			Status:     StatusQueued,
			RetryAfter: d.cfg.QueueBackoff,
			Reason:     "send cap reached",
		}, nil
	}

	if err := d.spacing.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("wait for send slot: %w", err)
	}

	id, err := d.sender.Send(ctx, mailer.Email{
		To:      msg.To,
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    PlainText(msg.HTML),
		Headers: complianceHeaders(msg.UnsubscribeURL),
		Tags:    map[string]string{"template": msg.Template},
	})
	if err == nil {
		metrics.EmailsSentTotal.WithLabelValues(msg.Template).Inc()
		d.logger.InfoContext(ctx, "email sent", "to", msg.To, "template", msg.Template, "message_id", id)
		return Result{Status: StatusSent, MessageID: id}, nil
	}

	err = mailer.Classify(err)
	var delay time.Duration
	switch {
	case errors.Is(err, mailer.ErrProviderBlocked):
		delay = d.cfg.BlockedBackoff
	case errors.Is(err, mailer.ErrRateLimited), errors.Is(err, mailer.ErrTransient):
		delay = max(d.backoff(attempt), mailer.RetryHint(err))
	default:
		return Result{}, fmt.Errorf("send to %s: %w", msg.To, err)
	}

	if attempt >= d.cfg.MaxRetries {
		return Result{}, fmt.Errorf("%w: %d attempts to %s, check the mail provider account: %w",
			ErrRetriesExhausted, attempt+1, msg.To, err)
	}

	metrics.EmailsDeferredTotal.WithLabelValues("provider").Inc()
	d.logger.WarnContext(ctx, "provider refused send, backing off",
		"to", msg.To,
		"attempt", attempt+1,
		"max_retries", d.cfg.MaxRetries,
		"retry_in", delay,
		"error", err,
	)
	return Result{Status: StatusRetry, RetryAfter: delay, Reason: err.Error()}, nil
}

// backoff doubles from BaseBackoff per attempt, capped at MaxBackoff.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.cfg.BaseBackoff
	for i := 0; i < attempt && delay < d.cfg.MaxBackoff; i++ {
		delay *= 2
	}
	return min(delay, d.cfg.MaxBackoff)
}

func complianceHeaders(unsubscribeURL string) map[string]string {
	h := map[string]string{
		"Precedence":               "bulk",
		"X-Auto-Response-Suppress": "OOF, AutoReply",
	}
	if unsubscribeURL != "" {
		h["List-Unsubscribe"] = "<" + unsubscribeURL + ">"
		h["List-Unsubscribe-Post"] = "List-Unsubscribe=One-Click"
	}
	return h
}
