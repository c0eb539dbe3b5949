package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ErlanBelekov/cart-recovery/internal/domain"
	"github.com/ErlanBelekov/cart-recovery/internal/repository"
	"github.com/google/uuid"
)

type CartStore struct {
	mu    sync.Mutex
	carts map[string]*domain.AbandonedCart
	now   func() time.Time
}

func NewCartStore() *CartStore {
	return NewCartStoreWithClock(time.Now)
}

func NewCartStoreWithClock(now func() time.Time) *CartStore {
	return &CartStore{carts: make(map[string]*domain.AbandonedCart), now: now}
}

func cartKey(platform domain.Platform, cartID string) string {
	return string(platform) + "/" + cartID
}

// referenceTime mirrors the column each stage's eligibility window is measured against.
func referenceTime(stage domain.FunnelStage, c *domain.AbandonedCart) (*time.Time, error) {
	switch stage {
	case domain.FunnelFirst:
		t := c.LastActivity
		return &t, nil
	case domain.FunnelSecond:
		return c.FirstReminderSentAt, nil
	case domain.FunnelFinal:
		return c.SecondReminderSentAt, nil
	case domain.FunnelDiscount:
		return c.FinalReminderSentAt, nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownFunnelStage, stage)
	}
}

func (s *CartStore) FindEligibleForStage(_ context.Context, input repository.EligibleInput) ([]*domain.AbandonedCart, error) {
	markers, err := input.Stage.Markers()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type candidate struct {
		cart *domain.AbandonedCart
		ref  time.Time
	}
	var found []candidate
	for _, c := range s.carts {
		if c.Status != domain.CartAbandoned || c.CustomerEmail == "" {
			continue
		}
		if c.EmailStatus.Normalize() != markers.Previous {
			continue
		}
		if input.Stage == domain.FunnelDiscount && c.DiscountOfferSent {
			continue
		}
		ref, err := referenceTime(input.Stage, c)
		if err != nil {
			return nil, err
		}
		if ref == nil || ref.Before(input.WindowStart) || ref.After(input.WindowEnd) {
			continue
		}
		found = append(found, candidate{cart: c, ref: *ref})
	}
	sort.Slice(found, func(a, b int) bool { return found[a].ref.Before(found[b].ref) })

	out := make([]*domain.AbandonedCart, 0, len(found))
	for _, f := range found {
		if input.Limit > 0 && len(out) >= input.Limit {
			break
		}
		out = append(out, cloneCart(f.cart))
	}
	return out, nil
}

func (s *CartStore) FindByAudience(_ context.Context, q repository.AudienceQuery) ([]*domain.AbandonedCart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.AbandonedCart
	for _, c := range s.carts {
		switch {
		case c.CustomerEmail == "":
			continue
		case q.Platform != "" && c.Platform != q.Platform:
			continue
		case len(q.Statuses) > 0 && !slices.Contains(q.Statuses, c.Status):
			continue
		case q.MinTotal != nil && c.Total < *q.MinTotal:
			continue
		case q.MaxTotal != nil && c.Total > *q.MaxTotal:
			continue
		case len(q.Emails) > 0 && !slices.Contains(q.Emails, strings.ToLower(strings.TrimSpace(c.CustomerEmail))):
			continue
		}
		out = append(out, cloneCart(c))
	}
	sort.Slice(out, func(a, b int) bool { return out[a].LastActivity.After(out[b].LastActivity) })
	return out, nil
}

func (s *CartStore) FindOne(_ context.Context, platform domain.Platform, cartID string) (*domain.AbandonedCart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[cartKey(platform, cartID)]
	if !ok {
		return nil, domain.ErrCartNotFound
	}
	return cloneCart(c), nil
}

func (s *CartStore) Upsert(_ context.Context, cart *domain.AbandonedCart) (*domain.AbandonedCart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := cartKey(cart.Platform, cart.CartID)
	currency := cart.Currency
	if currency == "" {
		currency = "USD"
	}

	existing, ok := s.carts[key]
	if !ok {
		c := cloneCart(cart)
		c.ID = uuid.NewString()
		c.Currency = currency
		c.EmailStatus = domain.EmailNotSent
		c.FirstReminderSentAt = nil
		c.SecondReminderSentAt = nil
		c.FinalReminderSentAt = nil
		c.DiscountOfferSentAt = nil
		c.ReminderAttempts = 0
		c.DiscountOfferSent = false
		c.DiscountCode = nil
		c.CreatedAt = now
		c.UpdatedAt = now
		s.carts[key] = c
		return cloneCart(c), nil
	}

	// Funnel bookkeeping is owned by UpdateStageMarker and never reset here.
	existing.StoreURL = cart.StoreURL
	existing.CustomerEmail = cart.CustomerEmail
	existing.CustomerName = cart.CustomerName
	existing.Items = cloneItems(cart.Items)
	existing.Total = cart.Total
	existing.Currency = currency
	existing.CheckoutURL = cart.CheckoutURL
	existing.Status = cart.Status
	existing.LastActivity = cart.LastActivity
	existing.UpdatedAt = now
	return cloneCart(existing), nil
}

func (s *CartStore) UpdateStageMarker(_ context.Context, platform domain.Platform, cartID string, from, to domain.EmailStage, at time.Time) error {
	if err := domain.ValidateTransition(from, to); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[cartKey(platform, cartID)]
	if !ok {
		return domain.ErrCartNotFound
	}
	if c.EmailStatus.Normalize() != from.Normalize() {
		return domain.ErrStageConflict
	}

	c.EmailStatus = to
	c.UpdatedAt = s.now()
	stamp := at
	switch to {
	case domain.EmailFirstSent:
		c.FirstReminderSentAt = &stamp
	case domain.EmailSecondSent:
		c.SecondReminderSentAt = &stamp
	case domain.EmailFinalSent:
		c.FinalReminderSentAt = &stamp
	case domain.EmailDiscountSent:
		c.DiscountOfferSentAt = &stamp
		c.DiscountOfferSent = true
	default:
		return nil
	}
	c.ReminderAttempts++
	return nil
}

func (s *CartStore) RecordManualReminder(_ context.Context, platform domain.Platform, cartID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[cartKey(platform, cartID)]
	if !ok {
		return domain.ErrCartNotFound
	}
	c.ReminderAttempts++
	c.UpdatedAt = at
	return nil
}

func (s *CartStore) RecordDiscountOffer(_ context.Context, platform domain.Platform, cartID, code string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[cartKey(platform, cartID)]
	if !ok {
		return domain.ErrCartNotFound
	}
	stamp := at
	c.DiscountOfferSent = true
	c.DiscountCode = &code
	c.DiscountOfferSentAt = &stamp
	c.ReminderAttempts++
	if c.EmailStatus == domain.EmailDiscountScheduled {
		c.EmailStatus = domain.EmailDiscountSent
	}
	c.UpdatedAt = s.now()
	return nil
}

func (s *CartStore) PurgeAbandoned(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, c := range s.carts {
		if c.Status == domain.CartAbandoned && c.LastActivity.Before(cutoff) {
			delete(s.carts, key)
			n++
		}
	}
	return n, nil
}

func cloneCart(c *domain.AbandonedCart) *domain.AbandonedCart {
	out := *c
	out.Items = cloneItems(c.Items)
	out.FirstReminderSentAt = clonePtr(c.FirstReminderSentAt)
	out.SecondReminderSentAt = clonePtr(c.SecondReminderSentAt)
	out.FinalReminderSentAt = clonePtr(c.FinalReminderSentAt)
	out.DiscountOfferSentAt = clonePtr(c.DiscountOfferSentAt)
	out.DiscountCode = clonePtr(c.DiscountCode)
	return &out
}

func cloneItems(items []domain.CartItem) []domain.CartItem {
	if items == nil {
		return nil
	}
	out := make([]domain.CartItem, len(items))
	for i, it := range items {
		cp := make(domain.CartItem, len(it))
		for k, v := range it {
			cp[k] = v
		}
		out[i] = cp
	}
	return out
}
