package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrCampaignNotFound  = errors.New("campaign not found")
	ErrCampaignNotActive = errors.New("campaign is not in a sendable state")
	ErrCampaignNotPaused = errors.New("campaign is not paused")
	ErrInvalidSchedule   = errors.New("invalid campaign schedule")
	ErrInvalidAudience   = errors.New("invalid campaign audience")
	ErrCampaignConflict  = errors.New("campaign status changed concurrently")
)

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
	CampaignSent      CampaignStatus = "sent"
)

type Frequency string

const (
	FrequencyOnce    Frequency = "once"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

type AudienceType string

const (
	// AudienceAbandonedCarts targets only the explicit customer-email allowlist.
	AudienceAbandonedCarts AudienceType = "abandoned_carts"
	AudienceAllCarts       AudienceType = "all_carts"
	AudienceCartValue      AudienceType = "cart_value"
)

type Audience struct {
	Type           AudienceType `json:"type"`
	Platform       Platform     `json:"platform,omitempty"`
	MinCartValue   *float64     `json:"min_cart_value,omitempty"`
	MaxCartValue   *float64     `json:"max_cart_value,omitempty"`
	CustomerEmails []string     `json:"customer_emails,omitempty"`
}

type Schedule struct {
	StartDate time.Time  `json:"start_date"`
	TimeOfDay string     `json:"time_of_day"` // "HH:MM" in Timezone
	Frequency Frequency  `json:"frequency"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	Timezone  string     `json:"timezone,omitempty"` // IANA name, UTC when empty
}

func (s Schedule) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Clock parses TimeOfDay. An empty value means midnight.
func (s Schedule) Clock() (hour, minute int, err error) {
	if s.TimeOfDay == "" {
		return 0, 0, nil
	}
	hh, mm, ok := strings.Cut(s.TimeOfDay, ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: time of day %q", ErrInvalidSchedule, s.TimeOfDay)
	}
	hour, err = strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%w: time of day %q", ErrInvalidSchedule, s.TimeOfDay)
	}
	minute, err = strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: time of day %q", ErrInvalidSchedule, s.TimeOfDay)
	}
	return hour, minute, nil
}

func (s Schedule) Recurring() bool {
	return s.Frequency == FrequencyDaily || s.Frequency == FrequencyWeekly || s.Frequency == FrequencyMonthly
}

// SameTiming reports whether two schedules would fire at the same times.
func (s Schedule) SameTiming(o Schedule) bool {
	endEq := (s.EndDate == nil && o.EndDate == nil) ||
		(s.EndDate != nil && o.EndDate != nil && s.EndDate.Equal(*o.EndDate))
	return s.StartDate.Equal(o.StartDate) &&
		s.TimeOfDay == o.TimeOfDay &&
		s.Frequency == o.Frequency &&
		s.Timezone == o.Timezone &&
		endEq
}

type CampaignContent struct {
	Subject string `json:"subject"`
	Body    string `json:"body"` // may contain {customer_name}, {cart_items}, {checkout_link}, [Checkout Now]
}

// Recipient is an outcome record; it is appended once per delivered email.
type Recipient struct {
	Email     string    `json:"email"`
	CartID    string    `json:"cart_id"`
	RunKey    string    `json:"run_key"`
	SentAt    time.Time `json:"sent_at"`
	Opened    bool      `json:"opened"`
	Clicked   bool      `json:"clicked"`
	Converted bool      `json:"converted"`
}

type Campaign struct {
	ID             string
	Name           string
	StoreURL       string
	TargetAudience Audience
	Schedule       *Schedule // nil for campaigns that are only sent on demand
	Status         CampaignStatus
	Content        CampaignContent
	Recipients     []Recipient

	CurrentRunKey string // run key of the latest fire; send jobs for that run carry it
	LastRunAt     *time.Time
	NextRunAt     *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsTerminal returns true if the campaign can no longer send.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignCompleted || c.Status == CampaignCancelled
}

// AcceptsSends reports whether queued send jobs for the campaign may still deliver.
func (c *Campaign) AcceptsSends() bool {
	switch c.Status {
	case CampaignScheduled, CampaignActive, CampaignSent:
		return true
	default:
		return false
	}
}

// RunKeyAt derives the run key of a campaign fire scheduled at t.
func RunKeyAt(t time.Time) string {
	return t.UTC().Format("20060102T1504Z")
}
