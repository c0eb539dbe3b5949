package render

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"regexp"
	"strings"
)

// itemsBlockMarker identifies an already rendered cart-items block inside a body.
const itemsBlockMarker = `data-block="cart-items"`

type itemRow struct {
	Name      string
	Quantity  int
	Price     string
	LineTotal string
}

type shellView struct {
	StoreURL    string
	Greeting    string
	Heading     string
	Intro       string
	CustomBody  template.HTML
	Items       []itemRow
	ShowItems   bool
	Total       string
	OfferCode   string
	OfferLabel  string
	CTA         string
	CTALink     string
	Unsubscribe string
}

func itemRows(items []lineItem, currency string) []itemRow {
	rows := make([]itemRow, 0, len(items))
	for _, it := range items {
		rows = append(rows, itemRow{
			Name:      it.Name,
			Quantity:  it.Quantity,
			Price:     formatMoney(it.Price, currency),
			LineTotal: formatMoney(it.LineTotal, currency),
		})
	}
	return rows
}

const itemsBlockHTML = `{{define "items"}}<div data-block="cart-items">
{{- if .Items}}
<table width="100%" cellpadding="6" cellspacing="0" style="border-collapse:collapse">
<tr><th align="left">Product</th><th>Qty</th><th align="right">Price</th><th align="right">Total</th></tr>
{{- range .Items}}
<tr><td>{{.Name}}</td><td align="center">{{.Quantity}}</td><td align="right">{{.Price}}</td><td align="right">{{.LineTotal}}</td></tr>
{{- end}}
<tr><td colspan="3" align="right"><strong>Cart total</strong></td><td align="right"><strong>{{.Total}}</strong></td></tr>
</table>
{{- else}}
<p>Your cart is waiting for you. Come back any time to browse our latest products.</p>
{{- end}}
</div>{{end}}`

const shellHTML = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Heading}}</title></head>
<body style="font-family:Arial,sans-serif;color:#222;max-width:600px;margin:0 auto">
{{- if .Heading}}
<h1>{{.Heading}}</h1>
{{- end}}
<p>{{.Greeting}}</p>
{{- if .CustomBody}}
<div>{{.CustomBody}}</div>
{{- else}}
<p>{{.Intro}}</p>
{{- end}}
{{- if .ShowItems}}
{{template "items" .}}
{{- end}}
{{- if .OfferCode}}
<p style="font-size:18px">Save <strong>{{.OfferLabel}}</strong> with code <strong style="letter-spacing:2px">{{.OfferCode}}</strong></p>
{{- end}}
<p><a href="{{.CTALink}}" style="background:#1a73e8;color:#fff;padding:12px 20px;text-decoration:none;border-radius:4px">{{.CTA}}</a></p>
<hr>
<p style="font-size:12px;color:#888">You received this email because you started a checkout at <a href="{{.StoreURL}}">{{.StoreURL}}</a>.
{{- if .Unsubscribe}} <a href="{{.Unsubscribe}}">Unsubscribe</a>{{end}}</p>
</body>
</html>`

var shell = template.Must(template.Must(template.New("shell").Parse(itemsBlockHTML)).Parse(shellHTML))

func renderItemsBlock(view shellView) (string, error) {
	var buf bytes.Buffer
	if err := shell.ExecuteTemplate(&buf, "items", view); err != nil {
		return "", fmt.Errorf("render cart items: %w", err)
	}
	return buf.String(), nil
}

// ctaPattern matches bracketed call-to-action phrases such as [Checkout Now].
var ctaPattern = regexp.MustCompile(`\[([^\[\]<>]{1,60})\]`)

// Substitute expands campaign placeholders in a merchant-authored body:
// {customer_name}, {checkout_link}, {cart_items} and bracketed CTA phrases. Running it on
// its own output changes nothing, and {cart_items} is dropped when the body already holds
// a rendered items block.
func Substitute(body, customerName, checkoutLink, itemsBlock string) string {
	name := html.EscapeString(firstNonEmpty(customerName, "there"))
	link := html.EscapeString(checkoutLink)

	out := body
	if !strings.Contains(out, "<") && strings.Contains(out, "\n") {
		out = strings.ReplaceAll(out, "\n", "<br>\n")
	}
	out = strings.ReplaceAll(out, "{customer_name}", name)
	out = strings.ReplaceAll(out, "{checkout_link}", link)

	before, block, after := splitItemsBlock(out)
	expand := func(s string) string {
		return ctaPattern.ReplaceAllStringFunc(s, func(m string) string {
			label := strings.TrimSpace(m[1 : len(m)-1])
			return fmt.Sprintf(`<a href="%s" style="font-weight:bold">%s</a>`, link, label)
		})
	}
	before, after = expand(before), expand(after)

	if block != "" {
		return strings.ReplaceAll(before, "{cart_items}", "") + block + strings.ReplaceAll(after, "{cart_items}", "")
	}
	if i := strings.Index(before, "{cart_items}"); i >= 0 {
		return before[:i] + itemsBlock + strings.ReplaceAll(before[i+len("{cart_items}"):], "{cart_items}", "")
	}
	return before
}

// splitItemsBlock cuts out an already rendered items block so placeholder expansion never
// touches product names inside it.
func splitItemsBlock(s string) (before, block, after string) {
	start := strings.Index(s, "<div "+itemsBlockMarker+">")
	if start < 0 {
		return s, "", ""
	}
	end := strings.Index(s[start:], "</div>")
	if end < 0 {
		return s, "", ""
	}
	end += start + len("</div>")
	return s[:start], s[start:end], s[end:]
}
