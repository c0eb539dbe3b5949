package campaign

import (
	"fmt"
	"strings"

	"github.com/ErlanBelekov/cart-recovery/internal/domain"
	"github.com/ErlanBelekov/cart-recovery/internal/repository"
)

// Target is one resolved recipient of a campaign run.
type Target struct {
	Email    string
	CartID   string
	Platform domain.Platform
}

// ValidateAudience rejects filters that cannot be resolved safely. An abandoned_carts
// audience without an allowlist is invalid: it would otherwise mean "everyone".
func ValidateAudience(a domain.Audience) error {
	switch a.Type {
	case domain.AudienceAbandonedCarts:
		if len(normalizeEmails(a.CustomerEmails)) == 0 {
			return fmt.Errorf("%w: abandoned_carts audience needs customer emails", domain.ErrInvalidAudience)
		}
	case domain.AudienceCartValue:
		if a.MinCartValue == nil && a.MaxCartValue == nil {
			return fmt.Errorf("%w: cart_value audience needs a min or max", domain.ErrInvalidAudience)
		}
	case domain.AudienceAllCarts:
	default:
		return fmt.Errorf("%w: unknown type %q", domain.ErrInvalidAudience, a.Type)
	}
	if a.MinCartValue != nil && a.MaxCartValue != nil && *a.MinCartValue > *a.MaxCartValue {
		return fmt.Errorf("%w: min cart value above max", domain.ErrInvalidAudience)
	}
	if a.Platform != "" && a.Platform != domain.PlatformWooCommerce && a.Platform != domain.PlatformShopify {
		return fmt.Errorf("%w: unknown platform %q", domain.ErrInvalidAudience, a.Platform)
	}
	return nil
}

// audienceQuery turns a validated audience into a cart query.
func audienceQuery(a domain.Audience) repository.AudienceQuery {
	q := repository.AudienceQuery{
		Platform: a.Platform,
		Statuses: []domain.CartStatus{domain.CartActive, domain.CartAbandoned},
		MinTotal: a.MinCartValue,
		MaxTotal: a.MaxCartValue,
	}
	if a.Type == domain.AudienceAbandonedCarts {
		q.Emails = normalizeEmails(a.CustomerEmails)
	}
	return q
}

func normalizeEmails(emails []string) []string {
	seen := make(map[string]bool, len(emails))
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

// targetsFrom keeps one target per email address, preferring the first (most recently
// active) cart.
func targetsFrom(carts []*domain.AbandonedCart) []Target {
	seen := make(map[string]bool, len(carts))
	out := make([]Target, 0, len(carts))
	for _, c := range carts {
		email := strings.ToLower(strings.TrimSpace(c.CustomerEmail))
		if email == "" || seen[email] {
			continue
		}
		seen[email] = true
		out = append(out, Target{Email: email, CartID: c.CartID, Platform: c.Platform})
	}
	return out
}
