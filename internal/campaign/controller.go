// Package campaign runs operator-defined campaigns. A scheduled campaign is armed as a
// single process-scheduled-campaign job; recipients are resolved only when that job fires,
// and each recipient then gets its own send-campaign-email job.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/cart-recovery/internal/domain"
	"github.com/ErlanBelekov/cart-recovery/internal/metrics"
	"github.com/ErlanBelekov/cart-recovery/internal/repository"
	"github.com/ErlanBelekov/cart-recovery/internal/scheduler"
)

var ErrUnsupportedStatus = errors.New("unsupported status change; use pause or resume")

const (
	defaultStaggerEvery = 20
	defaultStaggerStep  = time.Minute
	defaultSendNowGap   = 2 * time.Second
)

type Controller struct {
	campaigns repository.CampaignRepository
	carts     repository.CartRepository
	engine    *scheduler.Engine
	logger    *slog.Logger

	staggerEvery int
	staggerStep  time.Duration
	sendNowGap   time.Duration
	now          func() time.Time
}

type Option func(*Controller)

// WithStagger spreads each run's sends: every n recipients move the send time by step.
func WithStagger(n int, step time.Duration) Option {
	return func(c *Controller) {
		c.staggerEvery = n
		c.staggerStep = step
	}
}

func WithSendNowGap(d time.Duration) Option {
	return func(c *Controller) { c.sendNowGap = d }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func NewController(campaigns repository.CampaignRepository, carts repository.CartRepository, engine *scheduler.Engine, logger *slog.Logger, opts ...Option) *Controller {
	c := &Controller{
		campaigns:    campaigns,
		carts:        carts,
		engine:       engine,
		logger:       logger.With("component", "campaign_controller"),
		staggerEvery: defaultStaggerEvery,
		staggerStep:  defaultStaggerStep,
		sendNowGap:   defaultSendNowGap,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.staggerEvery <= 0 {
		c.staggerEvery = defaultStaggerEvery
	}
	return c
}

func (c *Controller) Register(reg *scheduler.Registry) {
	scheduler.Handle(reg, c.Process)
}

// Create stores the campaign. A campaign with a schedule is armed immediately unless it
// is saved as a draft.
func (c *Controller) Create(ctx context.Context, in *domain.Campaign) (*domain.Campaign, error) {
	if err := ValidateAudience(in.TargetAudience); err != nil {
		return nil, err
	}
	if in.Schedule != nil {
		if err := validateSchedule(*in.Schedule); err != nil {
			return nil, err
		}
	}

	arm := in.Schedule != nil && in.Status != domain.CampaignDraft
	switch {
	case arm:
		in.Status = domain.CampaignScheduled
	case in.Status == "":
		in.Status = domain.CampaignDraft
	case in.Status != domain.CampaignDraft:
		return nil, fmt.Errorf("%w: a campaign without a schedule starts as draft", ErrUnsupportedStatus)
	}

	created, err := c.campaigns.Create(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	if !arm {
		return created, nil
	}

	runAt, ok, err := c.firstFire(*created.Schedule)
	if err != nil {
		return nil, err
	}
	if !ok {
		created.Status = domain.CampaignCompleted
		c.logger.Warn("campaign schedule has no future fire", "campaign_id", created.ID)
	} else if _, err := c.arm(ctx, created, runAt); err != nil {
		return nil, err
	}
	if err := c.campaigns.Save(ctx, created); err != nil {
		return nil, fmt.Errorf("save campaign: %w", err)
	}
	return created, nil
}

// firstFire returns the first run time. A one-off schedule in the past fires now; a
// recurring one rolls forward to its next occurrence.
func (c *Controller) firstFire(s domain.Schedule) (time.Time, bool, error) {
	runAt, err := FirstRun(s)
	if err != nil {
		return time.Time{}, false, err
	}
	now := c.now()
	if !runAt.Before(now) {
		return runAt, true, nil
	}
	if !s.Recurring() {
		return now, true, nil
	}
	return NextAfter(s, runAt, now)
}

func (c *Controller) arm(ctx context.Context, cmp *domain.Campaign, runAt time.Time) (string, error) {
	payload := domain.ScheduledCampaignPayload{CampaignID: cmp.ID, RunKey: domain.RunKeyAt(runAt)}
	jobID, err := c.engine.Schedule(ctx, runAt, payload)
	if err != nil {
		return "", fmt.Errorf("arm campaign: %w", err)
	}
	at := runAt
	cmp.NextRunAt = &at
	c.logger.InfoContext(ctx, "campaign armed", "campaign_id", cmp.ID, "run_at", runAt)
	return jobID, nil
}

// withdraw removes jobs this controller just enqueued after the campaign changed status
// underneath it.
func (c *Controller) withdraw(ctx context.Context, campaignID string, jobIDs []string) {
	for _, id := range jobIDs {
		if err := c.engine.Cancel(ctx, id); err != nil {
			c.logger.ErrorContext(ctx, "withdraw campaign job", "campaign_id", campaignID, "job_id", id, "error", err)
		}
	}
	c.logger.InfoContext(ctx, "campaign changed mid-run, jobs withdrawn", "campaign_id", campaignID, "jobs", len(jobIDs))
}

// Process handles one process-scheduled-campaign job: it resolves recipients now, fans out
// the send jobs and re-arms recurring campaigns.
func (c *Controller) Process(ctx context.Context, job *domain.Job, p domain.ScheduledCampaignPayload) error {
	logger := c.logger.With("campaign_id", p.CampaignID)

	cmp, err := c.campaigns.Get(ctx, p.CampaignID)
	if errors.Is(err, domain.ErrCampaignNotFound) {
		logger.Info("campaign no longer exists, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load campaign: %w", err)
	}
	if cmp.Status != domain.CampaignScheduled && cmp.Status != domain.CampaignActive {
		logger.Info("campaign not runnable, skipping", "status", cmp.Status)
		return nil
	}

	runKey := p.RunKey
	if runKey == "" {
		runKey = domain.RunKeyAt(job.RunAt)
	}
	now := c.now()
	readStatus := cmp.Status

	targets, err := c.ResolveRecipients(ctx, cmp)
	if err != nil {
		return err
	}
	jobIDs, err := c.enqueueSends(ctx, cmp, runKey, targets, now, c.stagger)
	if err != nil {
		return err
	}
	n := len(jobIDs)
	metrics.CampaignRunsTotal.WithLabelValues("schedule").Inc()

	cmp.CurrentRunKey = runKey
	cmp.LastRunAt = &now
	cmp.NextRunAt = nil

	var (
		next time.Time
		ok   bool
	)
	if cmp.Schedule != nil && cmp.Schedule.Recurring() {
		next, ok, err = NextOccurrence(*cmp.Schedule, job.RunAt)
		if err == nil && ok && !next.After(now) {
			next, ok, err = NextAfter(*cmp.Schedule, next, now)
		}
		if err != nil {
			return err
		}
	}
	switch {
	case ok:
		cmp.Status = domain.CampaignActive
		armID, err := c.arm(ctx, cmp, next)
		if err != nil {
			return err
		}
		jobIDs = append(jobIDs, armID)
	case cmp.Schedule != nil && cmp.Schedule.Recurring():
		cmp.Status = domain.CampaignCompleted
	default:
		cmp.Status = domain.CampaignSent
	}

	// A pause or cancel that landed during the fan-out wins over this run.
	err = c.campaigns.SaveIfStatus(ctx, cmp, readStatus)
	if errors.Is(err, domain.ErrCampaignConflict) {
		c.withdraw(ctx, cmp.ID, jobIDs)
		return nil
	}
	if err != nil {
		return fmt.Errorf("save campaign: %w", err)
	}
	logger.InfoContext(ctx, "campaign run processed", "run_key", runKey, "recipients", n, "status", cmp.Status)
	return nil
}

// ResolveRecipients returns one target per eligible email address. Audiences that fail
// validation resolve to nobody.
func (c *Controller) ResolveRecipients(ctx context.Context, cmp *domain.Campaign) ([]Target, error) {
	if err := ValidateAudience(cmp.TargetAudience); err != nil {
		c.logger.Warn("audience rejected, no recipients", "campaign_id", cmp.ID, "error", err)
		return nil, nil
	}
	carts, err := c.carts.FindByAudience(ctx, audienceQuery(cmp.TargetAudience))
	if err != nil {
		return nil, fmt.Errorf("resolve audience: %w", err)
	}
	return targetsFrom(carts), nil
}

func (c *Controller) stagger(i int) time.Duration {
	return time.Duration(i/c.staggerEvery) * c.staggerStep
}

func (c *Controller) gapped(i int) time.Duration {
	return time.Duration(i) * c.sendNowGap
}

// enqueueSends schedules one send job per target, skipping anyone already delivered to
// in this run.
func (c *Controller) enqueueSends(ctx context.Context, cmp *domain.Campaign, runKey string, targets []Target, start time.Time, offset func(int) time.Duration) ([]string, error) {
	var jobIDs []string
	for _, t := range targets {
		done, err := c.campaigns.HasRecipient(ctx, cmp.ID, t.Email, runKey)
		if err != nil {
			return jobIDs, fmt.Errorf("check recipient: %w", err)
		}
		if done {
			continue
		}
		payload := domain.CampaignEmailPayload{
			CampaignID: cmp.ID,
			RunKey:     runKey,
			Email:      t.Email,
			CartID:     t.CartID,
			Platform:   t.Platform,
		}
		jobID, err := c.engine.Schedule(ctx, start.Add(offset(len(jobIDs))), payload)
		if err != nil {
			return jobIDs, fmt.Errorf("enqueue campaign email: %w", err)
		}
		jobIDs = append(jobIDs, jobID)
	}
	metrics.CampaignRecipientsTotal.Add(float64(len(jobIDs)))
	return jobIDs, nil
}

// Pause stops the campaign and removes every pending job for it.
func (c *Controller) Pause(ctx context.Context, id string) (*domain.Campaign, error) {
	cmp, err := c.campaigns.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch cmp.Status {
	case domain.CampaignScheduled, domain.CampaignActive, domain.CampaignSent:
	default:
		return nil, fmt.Errorf("%w: status %s", domain.ErrCampaignNotActive, cmp.Status)
	}

	cmp.Status = domain.CampaignPaused
	if err := c.campaigns.Save(ctx, cmp); err != nil {
		return nil, fmt.Errorf("save campaign: %w", err)
	}
	removed, err := c.engine.CancelJobsFor(ctx, cmp.ID)
	if err != nil {
		return nil, fmt.Errorf("cancel campaign jobs: %w", err)
	}
	c.logger.InfoContext(ctx, "campaign paused", "campaign_id", cmp.ID, "jobs_removed", removed)
	return cmp, nil
}

// Resume re-arms a paused campaign. If a run was in progress, its recipients are resolved
// again and re-enqueued; anyone already delivered to in that run is skipped.
func (c *Controller) Resume(ctx context.Context, id string) (*domain.Campaign, int, error) {
	cmp, err := c.campaigns.Get(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	if cmp.Status != domain.CampaignPaused {
		return nil, 0, fmt.Errorf("%w: status %s", domain.ErrCampaignNotPaused, cmp.Status)
	}

	cmp.Status = domain.CampaignScheduled
	if err := c.campaigns.Save(ctx, cmp); err != nil {
		return nil, 0, fmt.Errorf("save campaign: %w", err)
	}

	now := c.now()
	var jobIDs []string
	if cmp.CurrentRunKey != "" {
		targets, err := c.ResolveRecipients(ctx, cmp)
		if err != nil {
			return nil, 0, err
		}
		jobIDs, err = c.enqueueSends(ctx, cmp, cmp.CurrentRunKey, targets, now, c.stagger)
		if err != nil {
			return nil, len(jobIDs), err
		}
	}
	enqueued := len(jobIDs)

	if cmp.Schedule != nil {
		var (
			runAt time.Time
			ok    bool
		)
		switch {
		case cmp.NextRunAt != nil && cmp.NextRunAt.After(now):
			runAt, ok = *cmp.NextRunAt, true
		case cmp.NextRunAt != nil:
			// Missed while paused.
			runAt, ok = now, true
		case cmp.CurrentRunKey == "":
			runAt, ok, err = c.firstFire(*cmp.Schedule)
			if err != nil {
				return nil, enqueued, err
			}
		}
		if ok {
			armID, err := c.arm(ctx, cmp, runAt)
			if err != nil {
				return nil, enqueued, err
			}
			jobIDs = append(jobIDs, armID)
		}
	}

	if cmp.CurrentRunKey != "" {
		// A run already fired: the campaign is mid-flight rather than waiting for its first fire.
		if cmp.NextRunAt != nil {
			cmp.Status = domain.CampaignActive
		} else {
			cmp.Status = domain.CampaignSent
		}
	}
	err = c.campaigns.SaveIfStatus(ctx, cmp, domain.CampaignScheduled)
	if errors.Is(err, domain.ErrCampaignConflict) {
		c.withdraw(ctx, cmp.ID, jobIDs)
		return nil, 0, err
	}
	if err != nil {
		return nil, enqueued, fmt.Errorf("save campaign: %w", err)
	}
	c.logger.InfoContext(ctx, "campaign resumed", "campaign_id", cmp.ID, "jobs_enqueued", enqueued)
	return cmp, enqueued, nil
}

// SendNow drops any pending schedule and sends to the current audience immediately, one
// email every sendNowGap.
func (c *Controller) SendNow(ctx context.Context, id string) (*domain.Campaign, int, error) {
	cmp, err := c.campaigns.Get(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	if cmp.IsTerminal() {
		return nil, 0, fmt.Errorf("%w: status %s", domain.ErrCampaignNotActive, cmp.Status)
	}

	if _, err := c.engine.CancelJobsFor(ctx, cmp.ID); err != nil {
		return nil, 0, fmt.Errorf("cancel campaign jobs: %w", err)
	}

	now := c.now()
	runKey := domain.RunKeyAt(now)
	cmp.Status = domain.CampaignSent
	cmp.CurrentRunKey = runKey
	cmp.LastRunAt = &now
	cmp.NextRunAt = nil
	// Saved first so send jobs that start right away find a sendable campaign.
	if err := c.campaigns.Save(ctx, cmp); err != nil {
		return nil, 0, fmt.Errorf("save campaign: %w", err)
	}

	targets, err := c.ResolveRecipients(ctx, cmp)
	if err != nil {
		return nil, 0, err
	}
	jobIDs, err := c.enqueueSends(ctx, cmp, runKey, targets, now, c.gapped)
	n := len(jobIDs)
	if err != nil {
		return nil, n, err
	}
	metrics.CampaignRunsTotal.WithLabelValues("send_now").Inc()
	c.logger.InfoContext(ctx, "campaign sent now", "campaign_id", cmp.ID, "run_key", runKey, "recipients", n)
	return cmp, n, nil
}

// UpdateInput carries a partial campaign update. Nil fields are left unchanged.
type UpdateInput struct {
	Name           *string
	StoreURL       *string
	Content        *domain.CampaignContent
	TargetAudience *domain.Audience
	Schedule       *domain.Schedule
	Status         *domain.CampaignStatus
}

// Update applies in. A change to the schedule's timing cancels the campaign's pending jobs
// and re-arms it; a paused campaign keeps the new first fire for Resume. Status may only
// move to cancelled, or from draft to scheduled.
func (c *Controller) Update(ctx context.Context, id string, in UpdateInput) (*domain.Campaign, error) {
	cmp, err := c.campaigns.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cmp.IsTerminal() {
		return nil, fmt.Errorf("%w: status %s", domain.ErrCampaignNotActive, cmp.Status)
	}

	promote := false
	if in.Status != nil && *in.Status != cmp.Status {
		switch {
		case *in.Status == domain.CampaignCancelled:
			return c.Cancel(ctx, id)
		case cmp.Status == domain.CampaignDraft && *in.Status == domain.CampaignScheduled:
			promote = true
		default:
			return nil, ErrUnsupportedStatus
		}
	}

	if in.Name != nil {
		cmp.Name = *in.Name
	}
	if in.StoreURL != nil {
		cmp.StoreURL = *in.StoreURL
	}
	if in.Content != nil {
		cmp.Content = *in.Content
	}
	if in.TargetAudience != nil {
		if err := ValidateAudience(*in.TargetAudience); err != nil {
			return nil, err
		}
		cmp.TargetAudience = *in.TargetAudience
	}

	rearm := false
	if in.Schedule != nil {
		if err := validateSchedule(*in.Schedule); err != nil {
			return nil, err
		}
		rearm = cmp.Schedule == nil || !cmp.Schedule.SameTiming(*in.Schedule)
		sch := *in.Schedule
		cmp.Schedule = &sch
	}

	if promote {
		if cmp.Schedule == nil {
			return nil, fmt.Errorf("%w: a draft needs a schedule before it can be scheduled", domain.ErrInvalidSchedule)
		}
		cmp.Status = domain.CampaignScheduled
		rearm = true
	}

	if rearm {
		cmp.NextRunAt = nil
		switch cmp.Status {
		case domain.CampaignScheduled, domain.CampaignActive:
			if _, err := c.engine.CancelJobsFor(ctx, cmp.ID); err != nil {
				return nil, fmt.Errorf("cancel campaign jobs: %w", err)
			}
			runAt, ok, err := c.firstFire(*cmp.Schedule)
			if err != nil {
				return nil, err
			}
			if !ok {
				cmp.Status = domain.CampaignCompleted
			} else if _, err := c.arm(ctx, cmp, runAt); err != nil {
				return nil, err
			}
		case domain.CampaignPaused:
			// Armed by Resume.
			runAt, ok, err := c.firstFire(*cmp.Schedule)
			if err != nil {
				return nil, err
			}
			if ok {
				cmp.NextRunAt = &runAt
			}
		}
	}

	if err := c.campaigns.Save(ctx, cmp); err != nil {
		return nil, fmt.Errorf("save campaign: %w", err)
	}
	return cmp, nil
}

// Cancel is terminal: the campaign stops accepting sends and its pending jobs are removed.
func (c *Controller) Cancel(ctx context.Context, id string) (*domain.Campaign, error) {
	cmp, err := c.campaigns.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cmp.Status == domain.CampaignCancelled {
		return cmp, nil
	}
	cmp.Status = domain.CampaignCancelled
	cmp.NextRunAt = nil
	if err := c.campaigns.Save(ctx, cmp); err != nil {
		return nil, fmt.Errorf("save campaign: %w", err)
	}
	removed, err := c.engine.CancelJobsFor(ctx, cmp.ID)
	if err != nil {
		return nil, fmt.Errorf("cancel campaign jobs: %w", err)
	}
	c.logger.InfoContext(ctx, "campaign cancelled", "campaign_id", cmp.ID, "jobs_removed", removed)
	return cmp, nil
}

func (c *Controller) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return c.campaigns.Get(ctx, id)
}
