package campaign_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ErlanBelekov/cart-recovery/internal/campaign"
	"github.com/ErlanBelekov/cart-recovery/internal/dispatch"
	"github.com/ErlanBelekov/cart-recovery/internal/domain"
	"github.com/ErlanBelekov/cart-recovery/internal/infrastructure/memory"
	"github.com/ErlanBelekov/cart-recovery/internal/repository"
	"github.com/ErlanBelekov/cart-recovery/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu     sync.Mutex
	msgs   []dispatch.Message
	result *dispatch.Result
}

func (s *fakeSender) Send(_ context.Context, _ int, msg dispatch.Message) (dispatch.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result != nil {
		return *s.result, nil
	}
	s.msgs = append(s.msgs, msg)
	return dispatch.Result{Status: dispatch.StatusSent, MessageID: "m"}, nil
}

// 08:00 UTC on the campaign's start date; the schedule fires at 09:00.
var morning = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

type env struct {
	now       time.Time
	carts     *memory.CartStore
	campaigns *memory.CampaignStore
	jobs      *memory.JobStore
	engine    *scheduler.Engine
	ctrl      *campaign.Controller
	exec      *campaign.Executor
	sender    *fakeSender
	registry  *scheduler.Registry
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{now: morning}
	clock := func() time.Time { return e.now }
	e.carts = memory.NewCartStoreWithClock(clock)
	e.campaigns = memory.NewCampaignStoreWithClock(clock)
	e.jobs = memory.NewJobStoreWithClock(clock)
	e.engine = scheduler.NewEngine(e.jobs, discardLogger(), scheduler.WithClock(clock))
	e.ctrl = campaign.NewController(e.campaigns, e.carts, e.engine, discardLogger(), campaign.WithClock(clock))
	e.sender = &fakeSender{}
	e.exec = campaign.NewExecutor(e.campaigns, e.carts, e.sender, discardLogger(), "https://app.example.com/unsubscribe")
	e.registry = scheduler.NewRegistry()
	e.ctrl.Register(e.registry)
	e.exec.Register(e.registry)
	return e
}

func (e *env) seedCart(t *testing.T, cartID, email string, status domain.CartStatus, total float64) {
	t.Helper()
	_, err := e.carts.Upsert(context.Background(), &domain.AbandonedCart{
		Platform:      domain.PlatformShopify,
		CartID:        cartID,
		StoreURL:      "https://shop.example.com",
		CustomerEmail: email,
		CustomerName:  "Alex",
		Status:        status,
		Total:         total,
		LastActivity:  morning.Add(-time.Hour),
	})
	require.NoError(t, err)
}

func (e *env) seedN(t *testing.T, n int) []string {
	t.Helper()
	emails := make([]string, n)
	for i := range n {
		emails[i] = fmt.Sprintf("shopper%d@example.com", i)
		e.seedCart(t, fmt.Sprintf("c%d", i), emails[i], domain.CartAbandoned, 40)
	}
	return emails
}

func (e *env) pending(t *testing.T, campaignID string, kind domain.JobKind) []*domain.Job {
	t.Helper()
	jobs, err := e.engine.JobsMatching(context.Background(), repository.JobFilter{
		CampaignID: campaignID,
		Kind:       kind,
		Status:     domain.StatusPending,
	})
	require.NoError(t, err)
	return jobs
}

func (e *env) run(t *testing.T, job *domain.Job) error {
	t.Helper()
	h, ok := e.registry.Lookup(job.Kind)
	require.True(t, ok)
	return h(context.Background(), job)
}

const testWorker = "test-worker"

// fire claims the campaign's single pending process job at its scheduled time, runs it
// and completes it, the way a worker would.
func (e *env) fire(t *testing.T, campaignID string) *domain.Job {
	t.Helper()
	jobs := e.pending(t, campaignID, domain.KindScheduledCampaign)
	require.Len(t, jobs, 1)
	e.now = jobs[0].RunAt

	ctx := context.Background()
	claimed, err := e.jobs.Claim(ctx, testWorker, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1, "only the process job should be due")
	require.Equal(t, jobs[0].ID, claimed[0].ID)

	require.NoError(t, e.run(t, claimed[0]))
	require.NoError(t, e.jobs.Complete(ctx, claimed[0].ID, testWorker))
	return claimed[0]
}

func (e *env) get(t *testing.T, id string) *domain.Campaign {
	t.Helper()
	c, err := e.campaigns.Get(context.Background(), id)
	require.NoError(t, err)
	return c
}

func newCampaign(freq domain.Frequency, emails ...string) *domain.Campaign {
	return &domain.Campaign{
		Name:     "Spring sale",
		StoreURL: "https://shop.example.com",
		TargetAudience: domain.Audience{
			Type:           domain.AudienceAbandonedCarts,
			CustomerEmails: emails,
		},
		Schedule: &domain.Schedule{
			StartDate: date(2026, 5, 1),
			TimeOfDay: "09:00",
			Frequency: freq,
		},
		Content: domain.CampaignContent{
			Subject: "{customer_name}, your cart misses you",
			Body:    "Hi {customer_name}, come back: [Checkout Now]",
		},
	}
}

func (e *env) create(t *testing.T, c *domain.Campaign) *domain.Campaign {
	t.Helper()
	created, err := e.ctrl.Create(context.Background(), c)
	require.NoError(t, err)
	return created
}

// ---- Create ----

func TestCreate_ArmsOneProcessJob(t *testing.T) {
	e := newEnv(t)
	c := e.create(t, newCampaign(domain.FrequencyDaily, "a@example.com"))

	assert.Equal(t, domain.CampaignScheduled, c.Status)
	jobs := e.pending(t, c.ID, domain.KindScheduledCampaign)
	require.Len(t, jobs, 1)
	assert.Equal(t, time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC), jobs[0].RunAt)

	p, ok := jobs[0].Payload.(domain.ScheduledCampaignPayload)
	require.True(t, ok)
	assert.Equal(t, c.ID, p.CampaignID)
	require.NotNil(t, e.get(t, c.ID).NextRunAt)
}

func TestCreate_DraftIsNotArmed(t *testing.T) {
	e := newEnv(t)
	in := newCampaign(domain.FrequencyOnce, "a@example.com")
	in.Status = domain.CampaignDraft
	c := e.create(t, in)

	assert.Equal(t, domain.CampaignDraft, c.Status)
	assert.Empty(t, e.pending(t, c.ID, domain.KindScheduledCampaign))
}

func TestCreate_RejectsAllowlistAudienceWithoutEmails(t *testing.T) {
	e := newEnv(t)
	_, err := e.ctrl.Create(context.Background(), newCampaign(domain.FrequencyOnce))
	assert.ErrorIs(t, err, domain.ErrInvalidAudience)
}

func TestCreate_PastOneOffFiresNow(t *testing.T) {
	e := newEnv(t)
	e.now = morning.Add(3 * time.Hour)
	c := e.create(t, newCampaign(domain.FrequencyOnce, "a@example.com"))

	jobs := e.pending(t, c.ID, domain.KindScheduledCampaign)
	require.Len(t, jobs, 1)
	assert.Equal(t, e.now, jobs[0].RunAt)
}

// ---- Process ----

func TestProcess_DailyRearmsExactlyOnce(t *testing.T) {
	e := newEnv(t)
	emails := e.seedN(t, 2)
	c := e.create(t, newCampaign(domain.FrequencyDaily, emails...))

	first := e.fire(t, c.ID)

	assert.Len(t, e.pending(t, c.ID, domain.KindCampaignEmail), 2)
	next := e.pending(t, c.ID, domain.KindScheduledCampaign)
	require.Len(t, next, 1)
	assert.Equal(t, first.RunAt.Add(24*time.Hour), next[0].RunAt)

	got := e.get(t, c.ID)
	assert.Equal(t, domain.CampaignActive, got.Status)
	assert.Equal(t, domain.RunKeyAt(first.RunAt), got.CurrentRunKey)
}

func TestProcess_StopsAtEndDate(t *testing.T) {
	e := newEnv(t)
	emails := e.seedN(t, 1)
	in := newCampaign(domain.FrequencyDaily, emails...)
	end := date(2026, 5, 1)
	in.Schedule.EndDate = &end
	c := e.create(t, in)

	e.fire(t, c.ID)

	assert.Empty(t, e.pending(t, c.ID, domain.KindScheduledCampaign))
	assert.Equal(t, domain.CampaignCompleted, e.get(t, c.ID).Status)
}

func TestProcess_OneOffEndsAsSent(t *testing.T) {
	e := newEnv(t)
	emails := e.seedN(t, 1)
	c := e.create(t, newCampaign(domain.FrequencyOnce, emails...))

	e.fire(t, c.ID)

	assert.Empty(t, e.pending(t, c.ID, domain.KindScheduledCampaign))
	assert.Len(t, e.pending(t, c.ID, domain.KindCampaignEmail), 1)
	assert.Equal(t, domain.CampaignSent, e.get(t, c.ID).Status)
}

func TestProcess_EmptyAllowlistSendsToNobody(t *testing.T) {
	e := newEnv(t)
	e.seedN(t, 3)
	ctx := context.Background()

	// Stored directly: Create would reject this audience.
	c, err := e.campaigns.Create(ctx, &domain.Campaign{
		Name:           "Broken",
		TargetAudience: domain.Audience{Type: domain.AudienceAbandonedCarts},
		Status:         domain.CampaignScheduled,
		Content:        domain.CampaignContent{Subject: "s", Body: "b"},
	})
	require.NoError(t, err)
	_, err = e.engine.ScheduleNow(ctx, domain.ScheduledCampaignPayload{CampaignID: c.ID, RunKey: "r1"})
	require.NoError(t, err)

	e.fire(t, c.ID)

	assert.Empty(t, e.pending(t, c.ID, domain.KindCampaignEmail))
}

func TestProcess_SkipsCancelledCampaign(t *testing.T) {
	e := newEnv(t)
	emails := e.seedN(t, 2)
	c := e.create(t, newCampaign(domain.FrequencyDaily, emails...))
	job := e.pending(t, c.ID, domain.KindScheduledCampaign)[0]

	_, err := e.ctrl.Cancel(context.Background(), c.ID)
	require.NoError(t, err)

	require.NoError(t, e.run(t, job))
	assert.Empty(t, e.pending(t, c.ID, domain.KindCampaignEmail))
	assert.Empty(t, e.pending(t, c.ID, domain.KindScheduledCampaign))
}

// pausingCarts runs pause once, in the middle of audience resolution.
type pausingCarts struct {
	repository.CartRepository
	pause func()
}

func (p *pausingCarts) FindByAudience(ctx context.Context, q repository.AudienceQuery) ([]*domain.AbandonedCart, error) {
	if p.pause != nil {
		p.pause()
		p.pause = nil
	}
	return p.CartRepository.FindByAudience(ctx, q)
}

func TestProcess_PauseDuringRunWins(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	emails := e.seedN(t, 2)
	c := e.create(t, newCampaign(domain.FrequencyDaily, emails...))

	carts := &pausingCarts{CartRepository: e.carts}
	ctrl := campaign.NewController(e.campaigns, carts, e.engine, discardLogger(),
		campaign.WithClock(func() time.Time { return e.now }))
	reg := scheduler.NewRegistry()
	ctrl.Register(reg)
	carts.pause = func() {
		_, err := ctrl.Pause(ctx, c.ID)
		require.NoError(t, err)
	}

	e.now = e.pending(t, c.ID, domain.KindScheduledCampaign)[0].RunAt
	claimed, err := e.jobs.Claim(ctx, testWorker, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	h, ok := reg.Lookup(domain.KindScheduledCampaign)
	require.True(t, ok)
	require.NoError(t, h(ctx, claimed[0]))

	assert.Equal(t, domain.CampaignPaused, e.get(t, c.ID).Status)
	assert.Empty(t, e.pending(t, c.ID, domain.KindCampaignEmail))
	assert.Empty(t, e.pending(t, c.ID, domain.KindScheduledCampaign))
}

func TestProcess_StaggersLargeRuns(t *testing.T) {
	e := newEnv(t)
	e.seedN(t, 45)
	in := newCampaign(domain.FrequencyOnce)
	in.TargetAudience = domain.Audience{Type: domain.AudienceAllCarts}
	c := e.create(t, in)

	first := e.fire(t, c.ID)

	jobs := e.pending(t, c.ID, domain.KindCampaignEmail)
	require.Len(t, jobs, 45)
	offsets := map[time.Duration]int{}
	for _, j := range jobs {
		offsets[j.RunAt.Sub(first.RunAt)]++
	}
	assert.Equal(t, map[time.Duration]int{0: 20, time.Minute: 20, 2 * time.Minute: 5}, offsets)
}

func TestResolveRecipients_NormalisesAllowlistAndFilters(t *testing.T) {
	e := newEnv(t)
	e.seedCart(t, "c1", "Ann@Example.com", domain.CartAbandoned, 50)
	e.seedCart(t, "c2", "ann@example.com", domain.CartActive, 80)
	e.seedCart(t, "c3", "bob@example.com", domain.CartAbandoned, 50)
	e.seedCart(t, "c4", "cat@example.com", domain.CartConverted, 50)

	got, err := e.ctrl.ResolveRecipients(context.Background(), &domain.Campaign{
		TargetAudience: domain.Audience{
			Type:           domain.AudienceAbandonedCarts,
			CustomerEmails: []string{"  ANN@example.com ", "cat@example.com"},
		},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ann@example.com", got[0].Email)
}

func TestResolveRecipients_CartValueBounds(t *testing.T) {
	e := newEnv(t)
	e.seedCart(t, "c1", "low@example.com", domain.CartAbandoned, 10)
	e.seedCart(t, "c2", "mid@example.com", domain.CartAbandoned, 75)
	e.seedCart(t, "c3", "high@example.com", domain.CartAbandoned, 500)

	minV, maxV := 50.0, 100.0
	got, err := e.ctrl.ResolveRecipients(context.Background(), &domain.Campaign{
		TargetAudience: domain.Audience{Type: domain.AudienceCartValue, MinCartValue: &minV, MaxCartValue: &maxV},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "mid@example.com", got[0].Email)
}

// ---- Pause / Resume ----

func TestPauseResume_ReenqueuesCurrentAudience(t *testing.T) {
	e := newEnv(t)
	emails := e.seedN(t, 5)
	c := e.create(t, newCampaign(domain.FrequencyDaily, emails...))
	e.fire(t, c.ID)
	require.Len(t, e.pending(t, c.ID, domain.KindCampaignEmail), 5)

	paused, err := e.ctrl.Pause(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignPaused, paused.Status)
	assert.Empty(t, e.pending(t, c.ID, domain.KindCampaignEmail))
	assert.Empty(t, e.pending(t, c.ID, domain.KindScheduledCampaign))

	// One shopper checks out while the campaign is paused.
	e.seedCart(t, "c0", emails[0], domain.CartConverted, 40)

	resumed, n, err := e.ctrl.Resume(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Len(t, e.pending(t, c.ID, domain.KindCampaignEmail), 4)
	assert.Len(t, e.pending(t, c.ID, domain.KindScheduledCampaign), 1)
	assert.True(t, resumed.AcceptsSends())
}

func TestResume_SkipsRecipientsDeliveredThisRun(t *testing.T) {
	e := newEnv(t)
	emails := e.seedN(t, 3)
	c := e.create(t, newCampaign(domain.FrequencyOnce, emails...))
	e.fire(t, c.ID)

	sends := e.pending(t, c.ID, domain.KindCampaignEmail)
	require.Len(t, sends, 3)
	require.NoError(t, e.run(t, sends[0]))

	_, err := e.ctrl.Pause(context.Background(), c.ID)
	require.NoError(t, err)
	_, n, err := e.ctrl.Resume(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestResume_RequiresPausedCampaign(t *testing.T) {
	e := newEnv(t)
	c := e.create(t, newCampaign(domain.FrequencyOnce, "a@example.com"))

	_, _, err := e.ctrl.Resume(context.Background(), c.ID)
	assert.ErrorIs(t, err, domain.ErrCampaignNotPaused)
}

func TestResume_BeforeFirstFireRearmsSchedule(t *testing.T) {
	e := newEnv(t)
	c := e.create(t, newCampaign(domain.FrequencyDaily, "a@example.com"))

	_, err := e.ctrl.Pause(context.Background(), c.ID)
	require.NoError(t, err)
	require.Empty(t, e.pending(t, c.ID, domain.KindScheduledCampaign))

	resumed, _, err := e.ctrl.Resume(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignScheduled, resumed.Status)
	jobs := e.pending(t, c.ID, domain.KindScheduledCampaign)
	require.Len(t, jobs, 1)
	assert.Equal(t, time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC), jobs[0].RunAt)
}

// ---- Send now / Update ----

func TestSendNow_SpacesSendsAndDropsSchedule(t *testing.T) {
	e := newEnv(t)
	emails := e.seedN(t, 3)
	c := e.create(t, newCampaign(domain.FrequencyDaily, emails...))

	got, n, err := e.ctrl.SendNow(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, domain.CampaignSent, got.Status)
	assert.Empty(t, e.pending(t, c.ID, domain.KindScheduledCampaign))

	jobs := e.pending(t, c.ID, domain.KindCampaignEmail)
	require.Len(t, jobs, 3)
	for i, j := range jobs {
		assert.Equal(t, morning.Add(time.Duration(i)*2*time.Second), j.RunAt)
	}
}

func TestUpdate_ScheduleChangeRearms(t *testing.T) {
	e := newEnv(t)
	c := e.create(t, newCampaign(domain.FrequencyDaily, "a@example.com"))
	old := e.pending(t, c.ID, domain.KindScheduledCampaign)[0]

	sched := *c.Schedule
	sched.TimeOfDay = "10:30"
	_, err := e.ctrl.Update(context.Background(), c.ID, campaign.UpdateInput{Schedule: &sched})
	require.NoError(t, err)

	jobs := e.pending(t, c.ID, domain.KindScheduledCampaign)
	require.Len(t, jobs, 1)
	assert.NotEqual(t, old.ID, jobs[0].ID)
	assert.Equal(t, time.Date(2026, 5, 1, 10, 30, 0, 0, time.UTC), jobs[0].RunAt)
}

func TestUpdate_ContentOnlyKeepsJob(t *testing.T) {
	e := newEnv(t)
	c := e.create(t, newCampaign(domain.FrequencyDaily, "a@example.com"))
	old := e.pending(t, c.ID, domain.KindScheduledCampaign)[0]

	name := "Summer sale"
	sched := *c.Schedule
	got, err := e.ctrl.Update(context.Background(), c.ID, campaign.UpdateInput{Name: &name, Schedule: &sched})
	require.NoError(t, err)
	assert.Equal(t, "Summer sale", got.Name)

	jobs := e.pending(t, c.ID, domain.KindScheduledCampaign)
	require.Len(t, jobs, 1)
	assert.Equal(t, old.ID, jobs[0].ID)
}

func TestUpdate_CancelRemovesPendingJobs(t *testing.T) {
	e := newEnv(t)
	emails := e.seedN(t, 2)
	c := e.create(t, newCampaign(domain.FrequencyDaily, emails...))
	e.fire(t, c.ID)

	cancelled := domain.CampaignCancelled
	got, err := e.ctrl.Update(context.Background(), c.ID, campaign.UpdateInput{Status: &cancelled})
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignCancelled, got.Status)
	assert.Empty(t, e.pending(t, c.ID, domain.KindCampaignEmail))
	assert.Empty(t, e.pending(t, c.ID, domain.KindScheduledCampaign))

	_, err = e.ctrl.Update(context.Background(), c.ID, campaign.UpdateInput{Status: &cancelled})
	assert.ErrorIs(t, err, domain.ErrCampaignNotActive)
}

func TestUpdate_RejectsOtherStatusChanges(t *testing.T) {
	e := newEnv(t)
	c := e.create(t, newCampaign(domain.FrequencyDaily, "a@example.com"))

	paused := domain.CampaignPaused
	_, err := e.ctrl.Update(context.Background(), c.ID, campaign.UpdateInput{Status: &paused})
	assert.ErrorIs(t, err, campaign.ErrUnsupportedStatus)
}

func TestUpdate_PausedScheduleChangeArmsNewTimeOnResume(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.create(t, newCampaign(domain.FrequencyOnce, "a@example.com"))

	_, err := e.ctrl.Pause(ctx, c.ID)
	require.NoError(t, err)

	sched := *c.Schedule
	sched.StartDate = date(2026, 6, 1)
	_, err = e.ctrl.Update(ctx, c.ID, campaign.UpdateInput{Schedule: &sched})
	require.NoError(t, err)
	assert.Empty(t, e.pending(t, c.ID, domain.KindScheduledCampaign), "a paused campaign stays unarmed")

	resumed, _, err := e.ctrl.Resume(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignScheduled, resumed.Status)
	jobs := e.pending(t, c.ID, domain.KindScheduledCampaign)
	require.Len(t, jobs, 1)
	assert.Equal(t, time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC), jobs[0].RunAt)
}

func TestUpdate_DraftCanBeScheduled(t *testing.T) {
	e := newEnv(t)
	in := newCampaign(domain.FrequencyDaily, "a@example.com")
	in.Status = domain.CampaignDraft
	c := e.create(t, in)
	require.Empty(t, e.pending(t, c.ID, domain.KindScheduledCampaign))

	scheduled := domain.CampaignScheduled
	got, err := e.ctrl.Update(context.Background(), c.ID, campaign.UpdateInput{Status: &scheduled})
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignScheduled, got.Status)

	jobs := e.pending(t, c.ID, domain.KindScheduledCampaign)
	require.Len(t, jobs, 1)
	assert.Equal(t, time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC), jobs[0].RunAt)
	require.NotNil(t, e.get(t, c.ID).NextRunAt)
}

func TestUpdate_DraftWithoutScheduleCannotBeScheduled(t *testing.T) {
	e := newEnv(t)
	in := newCampaign(domain.FrequencyOnce, "a@example.com")
	in.Schedule = nil
	c := e.create(t, in)

	scheduled := domain.CampaignScheduled
	_, err := e.ctrl.Update(context.Background(), c.ID, campaign.UpdateInput{Status: &scheduled})
	assert.ErrorIs(t, err, domain.ErrInvalidSchedule)
	assert.Equal(t, domain.CampaignDraft, e.get(t, c.ID).Status)
}

// ---- Executor ----

func TestSendCampaignEmail_DeliversAndRecordsRecipient(t *testing.T) {
	e := newEnv(t)
	e.seedCart(t, "c1", "ann@example.com", domain.CartAbandoned, 40)
	c := e.create(t, newCampaign(domain.FrequencyOnce, "ann@example.com"))
	e.fire(t, c.ID)

	sends := e.pending(t, c.ID, domain.KindCampaignEmail)
	require.Len(t, sends, 1)
	require.NoError(t, e.run(t, sends[0]))

	require.Len(t, e.sender.msgs, 1)
	msg := e.sender.msgs[0]
	assert.Equal(t, "ann@example.com", msg.To)
	assert.Equal(t, "Alex, your cart misses you", msg.Subject)
	assert.Contains(t, msg.HTML, "Hi Alex")
	assert.True(t, strings.HasPrefix(msg.UnsubscribeURL, "https://app.example.com/unsubscribe"))

	got := e.get(t, c.ID)
	require.Len(t, got.Recipients, 1)
	assert.Equal(t, got.CurrentRunKey, got.Recipients[0].RunKey)
}

func TestSendCampaignEmail_SkipsSecondDeliveryInRun(t *testing.T) {
	e := newEnv(t)
	e.seedCart(t, "c1", "ann@example.com", domain.CartAbandoned, 40)
	c := e.create(t, newCampaign(domain.FrequencyOnce, "ann@example.com"))
	e.fire(t, c.ID)

	job := e.pending(t, c.ID, domain.KindCampaignEmail)[0]
	require.NoError(t, e.run(t, job))
	require.NoError(t, e.run(t, job))

	assert.Len(t, e.sender.msgs, 1)
}

func TestSendCampaignEmail_AbortsWhenPaused(t *testing.T) {
	e := newEnv(t)
	e.seedCart(t, "c1", "ann@example.com", domain.CartAbandoned, 40)
	c := e.create(t, newCampaign(domain.FrequencyOnce, "ann@example.com"))
	e.fire(t, c.ID)
	job := e.pending(t, c.ID, domain.KindCampaignEmail)[0]

	_, err := e.ctrl.Pause(context.Background(), c.ID)
	require.NoError(t, err)

	require.NoError(t, e.run(t, job))
	assert.Empty(t, e.sender.msgs)
}

func TestSendCampaignEmail_DeferredSendRequeues(t *testing.T) {
	e := newEnv(t)
	e.seedCart(t, "c1", "ann@example.com", domain.CartAbandoned, 40)
	c := e.create(t, newCampaign(domain.FrequencyOnce, "ann@example.com"))
	e.fire(t, c.ID)
	job := e.pending(t, c.ID, domain.KindCampaignEmail)[0]

	e.sender.result = &dispatch.Result{Status: dispatch.StatusQueued, RetryAfter: time.Minute, Reason: "minute cap"}
	err := e.run(t, job)

	retry, ok := scheduler.AsRetry(err)
	require.True(t, ok)
	assert.False(t, retry.Consume)
	assert.Equal(t, time.Minute, retry.Delay)
	assert.Empty(t, e.get(t, c.ID).Recipients)
}
