package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ErlanBelekov/cart-recovery/internal/domain"
	"github.com/google/uuid"
)

type CampaignStore struct {
	mu        sync.Mutex
	campaigns map[string]*domain.Campaign
	now       func() time.Time
}

func NewCampaignStore() *CampaignStore {
	return NewCampaignStoreWithClock(time.Now)
}

func NewCampaignStoreWithClock(now func() time.Time) *CampaignStore {
	return &CampaignStore{campaigns: make(map[string]*domain.Campaign), now: now}
}

func (s *CampaignStore) Create(_ context.Context, c *domain.Campaign) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stored := cloneCampaign(c)
	stored.ID = uuid.NewString()
	stored.Recipients = nil
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.campaigns[stored.ID] = stored
	return cloneCampaign(stored), nil
}

func (s *CampaignStore) Get(_ context.Context, id string) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok {
		return nil, domain.ErrCampaignNotFound
	}
	return cloneCampaign(c), nil
}

func (s *CampaignStore) Save(_ context.Context, c *domain.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.campaigns[c.ID]
	if !ok {
		return domain.ErrCampaignNotFound
	}
	s.store(existing, c)
	return nil
}

func (s *CampaignStore) SaveIfStatus(_ context.Context, c *domain.Campaign, expected domain.CampaignStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.campaigns[c.ID]
	if !ok {
		return domain.ErrCampaignNotFound
	}
	if existing.Status != expected {
		return domain.ErrCampaignConflict
	}
	s.store(existing, c)
	return nil
}

func (s *CampaignStore) store(existing, c *domain.Campaign) {
	updated := cloneCampaign(c)
	updated.Recipients = existing.Recipients
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = s.now()
	s.campaigns[c.ID] = updated
}

func (s *CampaignStore) AppendRecipient(_ context.Context, campaignID string, r domain.Recipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[campaignID]
	if !ok {
		return domain.ErrCampaignNotFound
	}
	c.Recipients = append(c.Recipients, r)
	return nil
}

func (s *CampaignStore) HasRecipient(_ context.Context, campaignID, email, runKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[campaignID]
	if !ok {
		return false, nil
	}
	want := strings.ToLower(strings.TrimSpace(email))
	for _, r := range c.Recipients {
		if r.RunKey == runKey && strings.ToLower(r.Email) == want {
			return true, nil
		}
	}
	return false, nil
}

func cloneCampaign(c *domain.Campaign) *domain.Campaign {
	out := *c
	out.TargetAudience.MinCartValue = clonePtr(c.TargetAudience.MinCartValue)
	out.TargetAudience.MaxCartValue = clonePtr(c.TargetAudience.MaxCartValue)
	out.TargetAudience.CustomerEmails = append([]string(nil), c.TargetAudience.CustomerEmails...)
	if c.Schedule != nil {
		sch := *c.Schedule
		sch.EndDate = clonePtr(c.Schedule.EndDate)
		out.Schedule = &sch
	}
	out.Recipients = append([]domain.Recipient(nil), c.Recipients...)
	out.LastRunAt = clonePtr(c.LastRunAt)
	out.NextRunAt = clonePtr(c.NextRunAt)
	return &out
}
