package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ErlanBelekov/cart-recovery/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const campaignColumns = `id, name, store_url, target_audience, schedule, status, content,
		       current_run_key, last_run_at, next_run_at, created_at, updated_at`

type CampaignRepository struct {
	pool *pgxpool.Pool
}

func NewCampaignRepository(pool *pgxpool.Pool) *CampaignRepository {
	return &CampaignRepository{pool: pool}
}

type campaignDocs struct {
	audience []byte
	schedule []byte
	content  []byte
}

func encodeCampaign(c *domain.Campaign) (campaignDocs, error) {
	var (
		docs campaignDocs
		err  error
	)
	if docs.audience, err = json.Marshal(c.TargetAudience); err != nil {
		return docs, fmt.Errorf("marshal audience: %w", err)
	}
	if c.Schedule != nil {
		if docs.schedule, err = json.Marshal(c.Schedule); err != nil {
			return docs, fmt.Errorf("marshal schedule: %w", err)
		}
	}
	if docs.content, err = json.Marshal(c.Content); err != nil {
		return docs, fmt.Errorf("marshal content: %w", err)
	}
	return docs, nil
}

func (r *CampaignRepository) Create(ctx context.Context, c *domain.Campaign) (*domain.Campaign, error) {
	docs, err := encodeCampaign(c)
	if err != nil {
		return nil, err
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO campaigns (
			name, store_url, target_audience, schedule, status, content,
			current_run_key, last_run_at, next_run_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+campaignColumns,
		c.Name, c.StoreURL, docs.audience, docs.schedule, c.Status, docs.content,
		c.CurrentRunKey, c.LastRunAt, c.NextRunAt,
	)
	created, err := scanCampaign(row)
	if err != nil {
		return nil, fmt.Errorf("insert campaign: %w", err)
	}
	return created, nil
}

func (r *CampaignRepository) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	if uuid.Validate(id) != nil {
		return nil, domain.ErrCampaignNotFound
	}

	row := r.pool.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	c, err := scanCampaign(row)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT email, cart_id, run_key, sent_at, opened, clicked, converted
		FROM campaign_recipients
		WHERE campaign_id = $1
		ORDER BY sent_at ASC, id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rc domain.Recipient
		if err := rows.Scan(&rc.Email, &rc.CartID, &rc.RunKey, &rc.SentAt, &rc.Opened, &rc.Clicked, &rc.Converted); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		c.Recipients = append(c.Recipients, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipients: %w", err)
	}
	return c, nil
}

func (r *CampaignRepository) Save(ctx context.Context, c *domain.Campaign) error {
	n, err := r.update(ctx, c, "")
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrCampaignNotFound
	}
	return nil
}

func (r *CampaignRepository) SaveIfStatus(ctx context.Context, c *domain.Campaign, expected domain.CampaignStatus) error {
	n, err := r.update(ctx, c, expected)
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.Get(ctx, c.ID); err != nil {
			return err
		}
		return domain.ErrCampaignConflict
	}
	return nil
}

// update writes the mutable columns. A non-empty expected status is added to the WHERE
// clause.
func (r *CampaignRepository) update(ctx context.Context, c *domain.Campaign, expected domain.CampaignStatus) (int64, error) {
	docs, err := encodeCampaign(c)
	if err != nil {
		return 0, err
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE campaigns
		SET name            = $2,
		    store_url       = $3,
		    target_audience = $4,
		    schedule        = $5,
		    status          = $6,
		    content         = $7,
		    current_run_key = $8,
		    last_run_at     = $9,
		    next_run_at     = $10,
		    updated_at      = NOW()
		WHERE id = $1 AND ($11::text = '' OR status = $11::text)`,
		c.ID, c.Name, c.StoreURL, docs.audience, docs.schedule, c.Status, docs.content,
		c.CurrentRunKey, c.LastRunAt, c.NextRunAt, string(expected),
	)
	if err != nil {
		return 0, fmt.Errorf("save campaign: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *CampaignRepository) AppendRecipient(ctx context.Context, campaignID string, rc domain.Recipient) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO campaign_recipients (campaign_id, email, cart_id, run_key, sent_at, opened, clicked, converted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		campaignID, rc.Email, rc.CartID, rc.RunKey, rc.SentAt, rc.Opened, rc.Clicked, rc.Converted,
	)
	if err != nil {
		return fmt.Errorf("append recipient: %w", err)
	}
	return nil
}

func (r *CampaignRepository) HasRecipient(ctx context.Context, campaignID, email, runKey string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM campaign_recipients
			WHERE campaign_id = $1 AND run_key = $2 AND lower(email) = $3
		)`, campaignID, runKey, strings.ToLower(strings.TrimSpace(email))).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check recipient: %w", err)
	}
	return exists, nil
}

func scanCampaign(row rowScanner) (*domain.Campaign, error) {
	var (
		c                           domain.Campaign
		audience, schedule, content []byte
	)
	err := row.Scan(
		&c.ID, &c.Name, &c.StoreURL, &audience, &schedule, &c.Status, &content,
		&c.CurrentRunKey, &c.LastRunAt, &c.NextRunAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCampaignNotFound
		}
		return nil, fmt.Errorf("scan campaign: %w", err)
	}

	if err := json.Unmarshal(audience, &c.TargetAudience); err != nil {
		return nil, fmt.Errorf("decode audience: %w", err)
	}
	if len(schedule) > 0 {
		c.Schedule = &domain.Schedule{}
		if err := json.Unmarshal(schedule, c.Schedule); err != nil {
			return nil, fmt.Errorf("decode schedule: %w", err)
		}
	}
	if err := json.Unmarshal(content, &c.Content); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	return &c, nil
}
