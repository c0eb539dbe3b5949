package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/resend/resend-go/v2"
)

var (
	// ErrRateLimited means the provider throttled us; retry with exponential backoff.
	ErrRateLimited = errors.New("mail provider rate limited")
	// ErrProviderBlocked means the account was flagged for unusual activity and sends are
	// refused for a while; retry after a long pause.
	ErrProviderBlocked = errors.New("mail provider blocked sending")
	ErrTransient       = errors.New("mail provider temporarily unavailable")
)

// ThrottledError is a rate-limit refusal that came with the provider's own wait hint.
// It matches ErrRateLimited.
type ThrottledError struct {
	Wait time.Duration
	Err  error
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("%v: %v (retry in %s)", ErrRateLimited, e.Err, e.Wait)
}

func (e *ThrottledError) Is(target error) bool { return target == ErrRateLimited }
func (e *ThrottledError) Unwrap() error        { return e.Err }

// RetryHint returns the wait the provider asked for, or zero when it gave none.
func RetryHint(err error) time.Duration {
	var te *ThrottledError
	if errors.As(err, &te) {
		return te.Wait
	}
	return 0
}

type Email struct {
	To      string
	Subject string
	HTML    string
	Text    string
	Headers map[string]string
	Tags    map[string]string
}

type Sender interface {
	// Send delivers one message and returns the provider's message id.
	Send(ctx context.Context, email Email) (string, error)
}

// LogSender logs emails instead of sending them. Used in ENV=local.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With("component", "mailer")}
}

func (s *LogSender) Send(ctx context.Context, email Email) (string, error) {
	id := "local-" + uuid.NewString()
	s.logger.InfoContext(ctx, "email (local dev)",
		"message_id", id,
		"to", email.To,
		"subject", email.Subject,
		"headers", email.Headers,
		"text", email.Text,
	)
	return id, nil
}

// ResendSender sends emails via the Resend API. Used in staging/production.
type ResendSender struct {
	client *resend.Client
	from   string
}

func NewResendSender(apiKey, from string) *ResendSender {
	return &ResendSender{client: resend.NewClient(apiKey), from: from}
}

func (s *ResendSender) Send(ctx context.Context, email Email) (string, error) {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{email.To},
		Subject: email.Subject,
		Html:    email.HTML,
		Text:    email.Text,
		Headers: email.Headers,
	}
	for name, value := range email.Tags {
		params.Tags = append(params.Tags, resend.Tag{Name: name, Value: value})
	}

	sent, err := s.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return "", fmt.Errorf("send email: %w", Classify(err))
	}
	return sent.Id, nil
}

// NewSender returns a LogSender for ENV=local, ResendSender otherwise.
func NewSender(env, apiKey, from string, logger *slog.Logger) Sender {
	if env == "local" {
		return NewLogSender(logger)
	}
	return NewResendSender(apiKey, from)
}

var (
	blockedMarkers   = []string{"unusual activity", "blocked", "suspended", "account is restricted"}
	rateLimitMarkers = []string{"rate limit", "too many requests", "429"}
	transientMarkers = []string{"timeout", "temporarily", "502", "503", "504", "connection reset", "eof"}
)

// Classify maps a provider error onto ErrProviderBlocked, ErrRateLimited or ErrTransient.
// Errors that match none of them are returned unchanged and are treated as permanent.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrProviderBlocked) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransient) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if errors.Is(err, resend.ErrRateLimit) {
		var rl *resend.RateLimitError
		if errors.As(err, &rl) {
			if wait := headerSeconds(rl.RetryAfter, rl.Reset); wait > 0 {
				return &ThrottledError{Wait: wait, Err: err}
			}
		}
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, blockedMarkers):
		return fmt.Errorf("%w: %v", ErrProviderBlocked, err)
	case containsAny(msg, rateLimitMarkers):
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case containsAny(msg, transientMarkers):
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}

// headerSeconds reads the first of the raw header values that is a positive number of seconds.
func headerSeconds(values ...string) time.Duration {
	for _, v := range values {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return 0
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
