package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrCartNotFound       = errors.New("cart not found")
	ErrStageConflict      = errors.New("cart email status changed concurrently")
	ErrInvalidTransition  = errors.New("invalid email status transition")
	ErrUnknownFunnelStage = errors.New("unknown funnel stage")
)

type Platform string

const (
	PlatformWooCommerce Platform = "woocommerce"
	PlatformShopify     Platform = "shopify"
)

type CartStatus string

const (
	CartActive    CartStatus = "active"
	CartAbandoned CartStatus = "abandoned"
	CartConverted CartStatus = "converted"
	CartRecovered CartStatus = "recovered"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed_cart"
)

// EmailStage is the reminder funnel marker stored on a cart. A "scheduled" marker means
// a job has been enqueued for the stage; the executor moves it to "sent" after delivery.
type EmailStage string

const (
	EmailNotSent           EmailStage = "not_sent"
	EmailFirstScheduled    EmailStage = "first_reminder_scheduled"
	EmailFirstSent         EmailStage = "first_reminder_sent"
	EmailSecondScheduled   EmailStage = "second_reminder_scheduled"
	EmailSecondSent        EmailStage = "second_reminder_sent"
	EmailFinalScheduled    EmailStage = "final_reminder_scheduled"
	EmailFinalSent         EmailStage = "final_reminder_sent"
	EmailDiscountScheduled EmailStage = "discount_offer_scheduled"
	EmailDiscountSent      EmailStage = "discount_offer_sent"
)

var emailStageOrder = []EmailStage{
	EmailNotSent,
	EmailFirstScheduled,
	EmailFirstSent,
	EmailSecondScheduled,
	EmailSecondSent,
	EmailFinalScheduled,
	EmailFinalSent,
	EmailDiscountScheduled,
	EmailDiscountSent,
}

// emailTransitions lists every legal move. Scheduled markers may fall back to the
// previous sent marker when enqueueing fails.
var emailTransitions = map[EmailStage][]EmailStage{
	EmailNotSent:           {EmailFirstScheduled},
	EmailFirstScheduled:    {EmailFirstSent, EmailNotSent},
	EmailFirstSent:         {EmailSecondScheduled},
	EmailSecondScheduled:   {EmailSecondSent, EmailFirstSent},
	EmailSecondSent:        {EmailFinalScheduled},
	EmailFinalScheduled:    {EmailFinalSent, EmailSecondSent},
	EmailFinalSent:         {EmailDiscountScheduled},
	EmailDiscountScheduled: {EmailDiscountSent, EmailFinalSent},
}

func (s EmailStage) rank() int {
	for i, st := range emailStageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Normalize maps the empty marker of a fresh cart to EmailNotSent.
func (s EmailStage) Normalize() EmailStage {
	if s == "" {
		return EmailNotSent
	}
	return s
}

func (s EmailStage) Valid() bool {
	return s.Normalize().rank() >= 0
}

// AtOrPast reports whether s is the same as, or later in the funnel than, other.
func (s EmailStage) AtOrPast(other EmailStage) bool {
	return s.Normalize().rank() >= other.Normalize().rank()
}

func (s EmailStage) CanTransition(to EmailStage) bool {
	for _, next := range emailTransitions[s.Normalize()] {
		if next == to {
			return true
		}
	}
	return false
}

func ValidateTransition(from, to EmailStage) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from.Normalize(), to)
	}
	return nil
}

// FunnelStage is one step of the reminder funnel. FunnelManual is an operator-triggered
// reminder outside the funnel and carries no markers.
type FunnelStage string

const (
	FunnelFirst    FunnelStage = "first"
	FunnelSecond   FunnelStage = "second"
	FunnelFinal    FunnelStage = "final"
	FunnelDiscount FunnelStage = "discount"
	FunnelManual   FunnelStage = "manual"
)

// FunnelMarkers are the email statuses that bracket one funnel stage.
type FunnelMarkers struct {
	Previous  EmailStage // required before the stage may be scheduled
	Scheduled EmailStage
	Sent      EmailStage
}

var funnelMarkers = map[FunnelStage]FunnelMarkers{
	FunnelFirst:    {Previous: EmailNotSent, Scheduled: EmailFirstScheduled, Sent: EmailFirstSent},
	FunnelSecond:   {Previous: EmailFirstSent, Scheduled: EmailSecondScheduled, Sent: EmailSecondSent},
	FunnelFinal:    {Previous: EmailSecondSent, Scheduled: EmailFinalScheduled, Sent: EmailFinalSent},
	FunnelDiscount: {Previous: EmailFinalSent, Scheduled: EmailDiscountScheduled, Sent: EmailDiscountSent},
}

func (f FunnelStage) Markers() (FunnelMarkers, error) {
	m, ok := funnelMarkers[f]
	if !ok {
		return FunnelMarkers{}, fmt.Errorf("%w: %q", ErrUnknownFunnelStage, f)
	}
	return m, nil
}

func (f FunnelStage) Valid() bool {
	_, ok := funnelMarkers[f]
	return ok || f == FunnelManual
}

// CartItem is a loosely typed line item as delivered by the store platform.
type CartItem map[string]any

type AbandonedCart struct {
	ID            string
	Platform      Platform
	CartID        string
	StoreURL      string
	CustomerEmail string
	CustomerName  string
	Items         []CartItem
	Total         float64
	Currency      string
	CheckoutURL   string
	Status        CartStatus
	LastActivity  time.Time

	EmailStatus          EmailStage
	FirstReminderSentAt  *time.Time
	SecondReminderSentAt *time.Time
	FinalReminderSentAt  *time.Time
	DiscountOfferSentAt  *time.Time
	ReminderAttempts     int
	DiscountOfferSent    bool
	DiscountCode         *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SentAt returns the timestamp recorded when the given sent marker was reached.
func (c *AbandonedCart) SentAt(stage EmailStage) *time.Time {
	switch stage {
	case EmailFirstSent:
		return c.FirstReminderSentAt
	case EmailSecondSent:
		return c.SecondReminderSentAt
	case EmailFinalSent:
		return c.FinalReminderSentAt
	case EmailDiscountSent:
		return c.DiscountOfferSentAt
	default:
		return nil
	}
}

// Recoverable reports whether reminders may still be sent for the cart.
func (c *AbandonedCart) Recoverable() bool {
	return c.Status == CartAbandoned && c.CustomerEmail != ""
}
