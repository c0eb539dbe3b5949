package render

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ErlanBelekov/cart-recovery/internal/domain"
)

// Cart data arrives in whatever shape the store plugin sent, so every field is looked up
// through a list of known aliases.
var (
	nameKeys      = []string{"name", "product_name", "productName", "title"}
	quantityKeys  = []string{"quantity", "qty"}
	priceKeys     = []string{"price", "unit_price", "unitPrice"}
	lineTotalKeys = []string{"line_total", "lineTotal", "total"}
	productKeys   = []string{"product_id", "productId", "id"}
	variationKeys = []string{"variation_id", "variationId", "variant_id"}
	attributeKeys = []string{"variation", "attributes", "meta"}
)

type lineItem struct {
	Name        string
	Quantity    int
	Price       float64
	LineTotal   float64
	ProductID   string
	VariationID string
	Attributes  map[string]string
}

func parseItem(raw domain.CartItem) lineItem {
	it := lineItem{
		Name:     lookupString(raw, nameKeys),
		Quantity: 1,
	}
	if it.Name == "" {
		it.Name = "Item"
	}
	if q, ok := lookupNumber(raw, quantityKeys); ok && q > 0 {
		it.Quantity = int(q)
	}
	it.Price, _ = lookupNumber(raw, priceKeys)
	if total, ok := lookupNumber(raw, lineTotalKeys); ok {
		it.LineTotal = total
	} else {
		it.LineTotal = it.Price * float64(it.Quantity)
	}
	it.ProductID = lookupString(raw, productKeys)
	it.VariationID = lookupString(raw, variationKeys)
	if it.VariationID == "0" {
		it.VariationID = ""
	}
	for _, k := range attributeKeys {
		if m, ok := raw[k].(map[string]any); ok && len(m) > 0 {
			it.Attributes = make(map[string]string, len(m))
			for ak, av := range m {
				it.Attributes[ak] = stringify(av)
			}
			break
		}
	}
	return it
}

func parseItems(items []domain.CartItem) []lineItem {
	out := make([]lineItem, 0, len(items))
	for _, raw := range items {
		out = append(out, parseItem(raw))
	}
	return out
}

func lookupString(raw domain.CartItem, keys []string) string {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			if s := strings.TrimSpace(stringify(v)); s != "" {
				return s
			}
		}
	}
	return ""
}

func lookupNumber(raw domain.CartItem, keys []string) (float64, bool) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, true
		case float32:
			return float64(n), true
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return f, true
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

var currencySymbols = map[string]string{"USD": "$", "EUR": "€", "GBP": "£", "CAD": "CA$", "AUD": "A$"}

func formatMoney(amount float64, currency string) string {
	if sym, ok := currencySymbols[strings.ToUpper(currency)]; ok {
		return fmt.Sprintf("%s%.2f", sym, amount)
	}
	if currency == "" {
		return fmt.Sprintf("%.2f", amount)
	}
	return fmt.Sprintf("%.2f %s", amount, strings.ToUpper(currency))
}
