package repository

import (
	"context"

	"github.com/ErlanBelekov/cart-recovery/internal/domain"
)

type CampaignRepository interface {
	Create(ctx context.Context, c *domain.Campaign) (*domain.Campaign, error)
	Get(ctx context.Context, id string) (*domain.Campaign, error)
	// Save overwrites the campaign's mutable fields. Recipients are not touched.
	Save(ctx context.Context, c *domain.Campaign) error
	// SaveIfStatus is Save guarded by a compare-and-set on the stored status. It returns
	// domain.ErrCampaignConflict when the stored status is no longer expected.
	SaveIfStatus(ctx context.Context, c *domain.Campaign, expected domain.CampaignStatus) error
	AppendRecipient(ctx context.Context, campaignID string, r domain.Recipient) error
	HasRecipient(ctx context.Context, campaignID, email, runKey string) (bool, error)
}
