package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ErlanBelekov/cart-recovery/internal/domain"
	"github.com/ErlanBelekov/cart-recovery/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const cartColumns = `id, platform, cart_id, store_url, customer_email, customer_name, items,
		       total, currency, checkout_url, status, last_activity, email_status,
		       first_reminder_sent_at, second_reminder_sent_at, final_reminder_sent_at,
		       discount_offer_sent_at, reminder_attempts, discount_offer_sent, discount_code,
		       created_at, updated_at`

type CartRepository struct {
	pool *pgxpool.Pool
}

func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// referenceColumn is the timestamp a stage's eligibility window is measured against.
func referenceColumn(stage domain.FunnelStage) (string, error) {
	switch stage {
	case domain.FunnelFirst:
		return "last_activity", nil
	case domain.FunnelSecond:
		return "first_reminder_sent_at", nil
	case domain.FunnelFinal:
		return "second_reminder_sent_at", nil
	case domain.FunnelDiscount:
		return "final_reminder_sent_at", nil
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownFunnelStage, stage)
	}
}

func sentColumn(marker domain.EmailStage) string {
	switch marker {
	case domain.EmailFirstSent:
		return "first_reminder_sent_at"
	case domain.EmailSecondSent:
		return "second_reminder_sent_at"
	case domain.EmailFinalSent:
		return "final_reminder_sent_at"
	case domain.EmailDiscountSent:
		return "discount_offer_sent_at"
	default:
		return ""
	}
}

func (r *CartRepository) FindEligibleForStage(ctx context.Context, input repository.EligibleInput) ([]*domain.AbandonedCart, error) {
	markers, err := input.Stage.Markers()
	if err != nil {
		return nil, err
	}
	col, err := referenceColumn(input.Stage)
	if err != nil {
		return nil, err
	}

	extra := ""
	if input.Stage == domain.FunnelDiscount {
		extra = "AND NOT discount_offer_sent"
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM abandoned_carts
		WHERE status = 'abandoned'
		  AND customer_email <> ''
		  AND email_status = $1
		  AND %s BETWEEN $2 AND $3
		  %s
		ORDER BY %s ASC
		LIMIT $4`, cartColumns, col, extra, col)

	rows, err := r.pool.Query(ctx, query, markers.Previous, input.WindowStart, input.WindowEnd, input.Limit)
	if err != nil {
		return nil, fmt.Errorf("find eligible carts: %w", err)
	}
	defer rows.Close()

	return collectCarts(rows)
}

func (r *CartRepository) FindByAudience(ctx context.Context, q repository.AudienceQuery) ([]*domain.AbandonedCart, error) {
	where := []string{"customer_email <> ''"}
	var args []any

	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if q.Platform != "" {
		add("platform = $%d", q.Platform)
	}
	if len(q.Statuses) > 0 {
		statuses := make([]string, len(q.Statuses))
		for i, s := range q.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY($%d)", statuses)
	}
	if q.MinTotal != nil {
		add("total >= $%d", *q.MinTotal)
	}
	if q.MaxTotal != nil {
		add("total <= $%d", *q.MaxTotal)
	}
	if len(q.Emails) > 0 {
		add("lower(trim(customer_email)) = ANY($%d)", q.Emails)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM abandoned_carts
		WHERE %s
		ORDER BY last_activity DESC`, cartColumns, strings.Join(where, " AND "))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find carts by audience: %w", err)
	}
	defer rows.Close()

	return collectCarts(rows)
}

func (r *CartRepository) FindOne(ctx context.Context, platform domain.Platform, cartID string) (*domain.AbandonedCart, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+cartColumns+` FROM abandoned_carts WHERE platform = $1 AND cart_id = $2`,
		platform, cartID)
	return scanCart(row)
}

func (r *CartRepository) Upsert(ctx context.Context, c *domain.AbandonedCart) (*domain.AbandonedCart, error) {
	items, err := json.Marshal(c.Items)
	if err != nil {
		return nil, fmt.Errorf("marshal items: %w", err)
	}
	currency := c.Currency
	if currency == "" {
		currency = "USD"
	}

	// Funnel bookkeeping is owned by UpdateStageMarker and never reset here.
	row := r.pool.QueryRow(ctx, `
		INSERT INTO abandoned_carts (
			platform, cart_id, store_url, customer_email, customer_name, items,
			total, currency, checkout_url, status, last_activity
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (platform, cart_id) DO UPDATE SET
			store_url      = EXCLUDED.store_url,
			customer_email = EXCLUDED.customer_email,
			customer_name  = EXCLUDED.customer_name,
			items          = EXCLUDED.items,
			total          = EXCLUDED.total,
			currency       = EXCLUDED.currency,
			checkout_url   = EXCLUDED.checkout_url,
			status         = EXCLUDED.status,
			last_activity  = EXCLUDED.last_activity,
			updated_at     = NOW()
		RETURNING `+cartColumns,
		c.Platform, c.CartID, c.StoreURL, c.CustomerEmail, c.CustomerName, items,
		c.Total, currency, c.CheckoutURL, c.Status, c.LastActivity,
	)
	saved, err := scanCart(row)
	if err != nil {
		return nil, fmt.Errorf("upsert cart: %w", err)
	}
	return saved, nil
}

func (r *CartRepository) UpdateStageMarker(ctx context.Context, platform domain.Platform, cartID string, from, to domain.EmailStage, at time.Time) error {
	if err := domain.ValidateTransition(from, to); err != nil {
		return err
	}

	set := []string{"email_status = $4", "updated_at = NOW()"}
	args := []any{platform, cartID, from.Normalize(), to}
	if col := sentColumn(to); col != "" {
		args = append(args, at)
		set = append(set,
			fmt.Sprintf("%s = $%d", col, len(args)),
			"reminder_attempts = reminder_attempts + 1",
		)
		if to == domain.EmailDiscountSent {
			set = append(set, "discount_offer_sent = TRUE")
		}
	}

	query := fmt.Sprintf(`
		UPDATE abandoned_carts
		SET %s
		WHERE platform = $1 AND cart_id = $2 AND email_status = $3`, strings.Join(set, ", "))

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update stage marker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.FindOne(ctx, platform, cartID); err != nil {
			return err
		}
		return domain.ErrStageConflict
	}
	return nil
}

func (r *CartRepository) RecordManualReminder(ctx context.Context, platform domain.Platform, cartID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE abandoned_carts
		SET reminder_attempts = reminder_attempts + 1, updated_at = $3
		WHERE platform = $1 AND cart_id = $2`, platform, cartID, at)
	if err != nil {
		return fmt.Errorf("record manual reminder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCartNotFound
	}
	return nil
}

func (r *CartRepository) RecordDiscountOffer(ctx context.Context, platform domain.Platform, cartID, code string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE abandoned_carts
		SET discount_offer_sent    = TRUE,
		    discount_code          = $3,
		    discount_offer_sent_at = $4,
		    reminder_attempts      = reminder_attempts + 1,
		    email_status           = CASE WHEN email_status = 'discount_offer_scheduled'
		                                  THEN 'discount_offer_sent' ELSE email_status END,
		    updated_at             = NOW()
		WHERE platform = $1 AND cart_id = $2`, platform, cartID, code, at)
	if err != nil {
		return fmt.Errorf("record discount offer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCartNotFound
	}
	return nil
}

func (r *CartRepository) PurgeAbandoned(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM abandoned_carts WHERE status = 'abandoned' AND last_activity < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge abandoned carts: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func collectCarts(rows pgx.Rows) ([]*domain.AbandonedCart, error) {
	var carts []*domain.AbandonedCart
	for rows.Next() {
		c, err := scanCart(rows)
		if err != nil {
			return nil, err
		}
		carts = append(carts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate carts: %w", err)
	}
	return carts, nil
}

func scanCart(row rowScanner) (*domain.AbandonedCart, error) {
	var (
		c     domain.AbandonedCart
		items []byte
	)
	err := row.Scan(
		&c.ID, &c.Platform, &c.CartID, &c.StoreURL, &c.CustomerEmail, &c.CustomerName, &items,
		&c.Total, &c.Currency, &c.CheckoutURL, &c.Status, &c.LastActivity, &c.EmailStatus,
		&c.FirstReminderSentAt, &c.SecondReminderSentAt, &c.FinalReminderSentAt,
		&c.DiscountOfferSentAt, &c.ReminderAttempts, &c.DiscountOfferSent, &c.DiscountCode,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCartNotFound
		}
		return nil, fmt.Errorf("scan cart: %w", err)
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &c.Items); err != nil {
			return nil, fmt.Errorf("decode cart items: %w", err)
		}
	}
	return &c, nil
}
