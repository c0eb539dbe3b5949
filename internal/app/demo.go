package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ErlanBelekov/cart-recovery/internal/campaign"
	"github.com/ErlanBelekov/cart-recovery/internal/domain"
	"github.com/ErlanBelekov/cart-recovery/internal/usecase"
)

type DemoResult struct {
	Carts      []*domain.AbandonedCart
	CampaignID string
}

var demoCustomers = []struct {
	name, email string
	platform    domain.Platform
	total       float64
	idle        time.Duration
}{
	{"Ada", "ada@example.com", domain.PlatformShopify, 129.90, 90 * time.Minute},
	{"Grace", "grace@example.com", domain.PlatformWooCommerce, 54.00, 90 * time.Minute},
	{"Linus", "linus@example.com", domain.PlatformShopify, 18.50, 25 * time.Hour},
	{"Barbara", "barbara@example.com", domain.PlatformWooCommerce, 310.00, 10 * time.Minute},
}

// SeedDemo writes a handful of abandoned carts whose idle times fall into different funnel
// windows, plus a daily campaign for carts over 50.
func SeedDemo(ctx context.Context, uc *usecase.RecoveryUsecase, ctrl *campaign.Controller, now time.Time) (*DemoResult, error) {
	res := &DemoResult{}
	for i, c := range demoCustomers {
		cart, err := uc.UpsertCart(ctx, &domain.AbandonedCart{
			Platform:      c.platform,
			CartID:        fmt.Sprintf("demo-%d", i+1),
			StoreURL:      "https://shop.example.com",
			CustomerEmail: c.email,
			CustomerName:  c.name,
			Items:         []domain.CartItem{{"name": "Sample item", "quantity": 1, "price": c.total}},
			Total:         c.total,
			Currency:      "USD",
			CheckoutURL:   fmt.Sprintf("https://shop.example.com/checkout/demo-%d", i+1),
			Status:        domain.CartAbandoned,
			LastActivity:  now.Add(-c.idle),
		})
		if err != nil {
			return nil, fmt.Errorf("seed cart %s: %w", c.email, err)
		}
		res.Carts = append(res.Carts, cart)
	}

	minValue := 50.0
	cmp := &domain.Campaign{
		Name:     "Weekend nudge",
		StoreURL: "https://shop.example.com",
		TargetAudience: domain.Audience{
			Type:         domain.AudienceCartValue,
			MinCartValue: &minValue,
		},
		Schedule: &domain.Schedule{
			StartDate: now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour),
			TimeOfDay: "10:00",
			Frequency: domain.FrequencyDaily,
		},
		Status: domain.CampaignScheduled,
		Content: domain.CampaignContent{
			Subject: "Still thinking it over?",
			Body:    "Hi {customer_name}, your cart is waiting:\n{cart_items}\n[Checkout Now]",
		},
	}
	created, err := ctrl.Create(ctx, cmp)
	if err != nil {
		return nil, fmt.Errorf("seed campaign: %w", err)
	}
	res.CampaignID = created.ID
	return res, nil
}
