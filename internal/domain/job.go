package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrUnknownJobKind = errors.New("unknown job kind")
	ErrInvalidPayload = errors.New("invalid job payload")
	ErrLockLost       = errors.New("job lock is held by another worker")
)

// JobKind is the tag of the job payload union. Every kind has exactly one payload type.
type JobKind string

const (
	KindAbandonedCartReminder JobKind = "send-abandoned-cart-reminder"
	KindCampaignEmail         JobKind = "send-campaign-email"
	KindScheduledCampaign     JobKind = "process-scheduled-campaign"
	KindDiscountOffer         JobKind = "send-discount-offer"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// JobRefs names the entities a job touches. Bulk cancellation filters on these.
// A cart is only unique together with its Platform.
type JobRefs struct {
	CampaignID string
	CartID     string
	Platform   Platform
}

type Payload interface {
	Kind() JobKind
	Refs() JobRefs
}

type ReminderPayload struct {
	CartID   string      `json:"cart_id"`
	Platform Platform    `json:"platform"`
	StoreURL string      `json:"store_url"`
	Stage    FunnelStage `json:"stage"`
}

func (ReminderPayload) Kind() JobKind { return KindAbandonedCartReminder }
func (p ReminderPayload) Refs() JobRefs {
	return JobRefs{CartID: p.CartID, Platform: p.Platform}
}

type CampaignEmailPayload struct {
	CampaignID string   `json:"campaign_id"`
	RunKey     string   `json:"run_key"`
	Email      string   `json:"email"`
	CartID     string   `json:"cart_id"`
	Platform   Platform `json:"platform"`
}

func (CampaignEmailPayload) Kind() JobKind { return KindCampaignEmail }
func (p CampaignEmailPayload) Refs() JobRefs {
	return JobRefs{CampaignID: p.CampaignID, CartID: p.CartID, Platform: p.Platform}
}

// ScheduledCampaignPayload deliberately carries no recipients: they are resolved when the job runs.
type ScheduledCampaignPayload struct {
	CampaignID string `json:"campaign_id"`
	RunKey     string `json:"run_key"`
}

func (ScheduledCampaignPayload) Kind() JobKind   { return KindScheduledCampaign }
func (p ScheduledCampaignPayload) Refs() JobRefs { return JobRefs{CampaignID: p.CampaignID} }

type DiscountOfferPayload struct {
	CartID   string       `json:"cart_id"`
	Platform Platform     `json:"platform"`
	StoreURL string       `json:"store_url"`
	Code     string       `json:"code"`
	Amount   float64      `json:"amount"`
	Type     DiscountType `json:"type"`
}

func (DiscountOfferPayload) Kind() JobKind { return KindDiscountOffer }
func (p DiscountOfferPayload) Refs() JobRefs {
	return JobRefs{CartID: p.CartID, Platform: p.Platform}
}

// DecodePayload turns a stored payload back into the typed variant for kind.
func DecodePayload(kind JobKind, raw []byte) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch kind {
	case KindAbandonedCartReminder:
		var v ReminderPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindCampaignEmail:
		var v CampaignEmailPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindScheduledCampaign:
		var v ScheduledCampaignPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindDiscountOffer:
		var v DiscountOfferPayload
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobKind, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, kind, err)
	}
	return p, nil
}

type Job struct {
	ID      string
	Kind    JobKind
	Payload Payload
	RunAt   time.Time
	Attempt int // 0 for the first instance, +1 for every retry job scheduled after it

	Status      Status
	LockedBy    *string // worker ID
	LockedUntil *time.Time
	LastRunAt   *time.Time
	FailedAt    *time.Time
	FailReason  *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// QueueStatus is the observability snapshot served by the ops API.
type QueueStatus struct {
	TotalJobs   int        `json:"total_jobs"`
	PendingJobs int        `json:"pending_jobs"`
	RunningJobs int        `json:"running_jobs"`
	FailedJobs  int        `json:"failed_jobs"`
	NextRunTime *time.Time `json:"next_run_time"`
}
