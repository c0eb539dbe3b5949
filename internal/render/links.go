package render

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/ErlanBelekov/cart-recovery/internal/domain"
)

// RecoveryLink returns the URL that restores the customer's cart on their store.
// WooCommerce carts are rebuilt with one add-to-cart query per line item; Shopify carts go
// straight to the checkout.
func RecoveryLink(cart *domain.AbandonedCart, storeURL string) string {
	base := strings.TrimRight(storeURL, "/")
	if base == "" {
		base = strings.TrimRight(cart.StoreURL, "/")
	}

	switch cart.Platform {
	case domain.PlatformShopify:
		if cart.CheckoutURL != "" {
			return cart.CheckoutURL
		}
		return base + "/checkouts/" + url.PathEscape(cart.CartID)
	case domain.PlatformWooCommerce:
		var parts []string
		for _, it := range parseItems(cart.Items) {
			if it.ProductID == "" {
				continue
			}
			parts = append(parts, wooItemQuery(it))
		}
		if len(parts) == 0 {
			return base + "/cart/"
		}
		return base + "/cart/?" + strings.Join(parts, "&")
	default:
		if cart.CheckoutURL != "" {
			return cart.CheckoutURL
		}
		return base
	}
}

func wooItemQuery(it lineItem) string {
	q := []string{"add-to-cart=" + url.QueryEscape(it.ProductID)}
	if it.VariationID != "" {
		q = append(q, "variation_id="+url.QueryEscape(it.VariationID))
	}
	q = append(q, "quantity="+strconv.Itoa(it.Quantity))

	keys := make([]string, 0, len(it.Attributes))
	for k := range it.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		name := k
		if !strings.HasPrefix(name, "attribute_") {
			name = "attribute_" + name
		}
		q = append(q, url.QueryEscape(name)+"="+url.QueryEscape(it.Attributes[k]))
	}
	return strings.Join(q, "&")
}

// UnsubscribeLink is the per-recipient opt-out URL placed in the footer and in the
// List-Unsubscribe header.
func UnsubscribeLink(base, email string) string {
	if base == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "email=" + url.QueryEscape(strings.ToLower(strings.TrimSpace(email)))
}
