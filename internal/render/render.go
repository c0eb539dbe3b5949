// Package render turns a cart and a template kind into a finished email. Rendering is
// pure: no I/O, no clock, the same input always yields the same output.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"strconv"
	"strings"

	"github.com/ErlanBelekov/cart-recovery/internal/domain"
)

var (
	ErrUnknownKind  = errors.New("unknown email kind")
	ErrMissingOffer = errors.New("discount email requires an offer")
	ErrMissingBody  = errors.New("campaign email requires content")
)

type Kind string

const (
	KindFirst    Kind = "first"
	KindSecond   Kind = "second"
	KindFinal    Kind = "final"
	KindManual   Kind = "manual-reminder"
	KindDiscount Kind = "discount-offer"
	KindCampaign Kind = "campaign"
)

// KindForStage maps a funnel stage to the template used for it.
func KindForStage(stage domain.FunnelStage) (Kind, error) {
	switch stage {
	case domain.FunnelFirst:
		return KindFirst, nil
	case domain.FunnelSecond:
		return KindSecond, nil
	case domain.FunnelFinal:
		return KindFinal, nil
	case domain.FunnelDiscount:
		return KindDiscount, nil
	case domain.FunnelManual:
		return KindManual, nil
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownFunnelStage, stage)
	}
}

type Offer struct {
	Code   string
	Amount float64
	Type   domain.DiscountType
}

// Label is the human form of the discount, e.g. "10%" or "$5.00".
func (o Offer) Label(currency string) string {
	if o.Type == domain.DiscountFixed {
		return formatMoney(o.Amount, currency)
	}
	return strconv.FormatFloat(o.Amount, 'f', -1, 64) + "%"
}

type Email struct {
	Subject        string
	HTML           string
	RecoveryURL    string
	UnsubscribeURL string
}

type options struct {
	offer           *Offer
	content         *domain.CampaignContent
	unsubscribeBase string
	recipient       string
}

type Option func(*options)

func WithOffer(o Offer) Option {
	return func(opts *options) { opts.offer = &o }
}

func WithContent(c domain.CampaignContent) Option {
	return func(opts *options) { opts.content = &c }
}

// WithUnsubscribeBase sets the opt-out endpoint; the recipient email is appended to it.
func WithUnsubscribeBase(base string) Option {
	return func(opts *options) { opts.unsubscribeBase = base }
}

// WithRecipient overrides the address the email is rendered for. Campaign recipients may
// come from the allowlist with different casing than the cart.
func WithRecipient(email string) Option {
	return func(opts *options) { opts.recipient = email }
}

type copyText struct {
	subject string
	heading string
	intro   string
	cta     string
}

var reminderCopy = map[Kind]copyText{
	KindFirst: {
		subject: "You left something in your cart",
		heading: "Did you forget something?",
		intro:   "We saved the items in your cart so you can pick up right where you left off.",
		cta:     "Return to your cart",
	},
	KindSecond: {
		subject: "Your cart is still waiting for you",
		heading: "Your items are still here",
		intro:   "Popular items sell out fast. Complete your order while everything is still in stock.",
		cta:     "Complete your order",
	},
	KindFinal: {
		subject: "Last chance to complete your order",
		heading: "Last call for your cart",
		intro:   "This is our final reminder. Your cart will expire soon.",
		cta:     "Checkout now",
	},
	KindManual: {
		subject: "A reminder about your cart",
		heading: "Still thinking it over?",
		intro:   "Your cart is saved and ready whenever you are.",
		cta:     "View your cart",
	},
	KindDiscount: {
		subject: "Here's %s off your order",
		heading: "A little something to help you decide",
		intro:   "Use the code below at checkout to save on the items in your cart.",
		cta:     "Claim your discount",
	},
}

// Render builds the subject and HTML body for kind. storeURL falls back to the cart's own
// store URL when empty.
func Render(kind Kind, cart *domain.AbandonedCart, storeURL string, opts ...Option) (Email, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if storeURL == "" {
		storeURL = cart.StoreURL
	}
	recipient := cart.CustomerEmail
	if o.recipient != "" {
		recipient = o.recipient
	}

	items := parseItems(cart.Items)
	link := RecoveryLink(cart, storeURL)
	view := shellView{
		StoreURL:    storeURL,
		Greeting:    greeting(cart.CustomerName),
		Items:       itemRows(items, cart.Currency),
		Total:       formatMoney(cart.Total, cart.Currency),
		CTALink:     link,
		Unsubscribe: UnsubscribeLink(o.unsubscribeBase, recipient),
		ShowItems:   true,
	}

	var subject string
	switch kind {
	case KindFirst, KindSecond, KindFinal, KindManual:
		c := reminderCopy[kind]
		subject = c.subject
		view.Heading, view.Intro, view.CTA = c.heading, c.intro, c.cta
	case KindDiscount:
		if o.offer == nil || o.offer.Code == "" {
			return Email{}, ErrMissingOffer
		}
		c := reminderCopy[kind]
		label := o.offer.Label(cart.Currency)
		subject = fmt.Sprintf(c.subject, label)
		view.Heading, view.Intro, view.CTA = c.heading, c.intro, c.cta
		view.OfferCode = o.offer.Code
		view.OfferLabel = label
	case KindCampaign:
		if o.content == nil || strings.TrimSpace(o.content.Body) == "" {
			return Email{}, ErrMissingBody
		}
		itemsBlock, err := renderItemsBlock(view)
		if err != nil {
			return Email{}, err
		}
		body := Substitute(o.content.Body, cart.CustomerName, link, itemsBlock)
		subject = strings.ReplaceAll(o.content.Subject, "{customer_name}", firstNonEmpty(cart.CustomerName, "there"))
		view.CustomBody = template.HTML(body)
		view.ShowItems = !strings.Contains(body, itemsBlockMarker)
		view.CTA = "Checkout now"
	default:
		return Email{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	var buf bytes.Buffer
	if err := shell.Execute(&buf, view); err != nil {
		return Email{}, fmt.Errorf("render %s email: %w", kind, err)
	}
	return Email{
		Subject:        subject,
		HTML:           buf.String(),
		RecoveryURL:    link,
		UnsubscribeURL: view.Unsubscribe,
	}, nil
}

func greeting(name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return "Hi " + name + ","
	}
	return "Hi there,"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
