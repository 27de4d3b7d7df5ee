// Package payment sells credit packs through Stripe Checkout and turns
// verified webhook events into purchases.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"
)

// WebhookBodyLimit caps the webhook payload read from the request.
const WebhookBodyLimit = 1024 * 1024

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidPurchase  = errors.New("invalid purchase event")
)

// Pack is a fixed bundle of credits; UnitAmount is in the smallest unit of
// the currency.
type Pack struct {
	Credits    int64
	UnitAmount int64
}

// Purchase is a paid checkout that should be turned into credits.
type Purchase struct {
	EventID string
	// SessionID is the grant key. A session is paid once even when both its
	// completed and async success events are delivered.
	SessionID string
	Email     string
	Credits   int64
}

// SessionCreator creates hosted checkout sessions.
type SessionCreator interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// NewStripeSessions returns the Stripe API client for checkout sessions.
func NewStripeSessions(secretKey string) SessionCreator {
	return &session.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey}
}

type Options struct {
	WebhookSecret string
	Currency      string
	SuccessURL    string
	CancelURL     string
	Packs         []Pack
}

type Service struct {
	sessions      SessionCreator
	webhookSecret string
	currency      string
	successURL    string
	cancelURL     string
	packs         []Pack
}

func NewService(sessions SessionCreator, opts Options) *Service {
	return &Service{
		sessions:      sessions,
		webhookSecret: opts.WebhookSecret,
		currency:      strings.ToLower(opts.Currency),
		successURL:    opts.SuccessURL,
		cancelURL:     opts.CancelURL,
		packs:         opts.Packs,
	}
}

// CheckoutURLs creates one hosted checkout per pack, in pack order. A
// non-empty email pre-fills the checkout form.
func (s *Service) CheckoutURLs(ctx context.Context, email string) ([]string, error) {
	urls := make([]string, 0, len(s.packs))
	for _, pack := range s.packs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		params := &stripe.CheckoutSessionParams{
			PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
			Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
			SuccessURL:         stripe.String(s.successURL),
			CancelURL:          stripe.String(s.cancelURL),
			LineItems: []*stripe.CheckoutSessionLineItemParams{
				{
					PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
						Currency: stripe.String(s.currency),
						ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
							Name:        stripe.String(fmt.Sprintf("Credit pack - %d credits", pack.Credits)),
							Description: stripe.String("Credits for generating videos"),
						},
						UnitAmount: stripe.Int64(pack.UnitAmount),
					},
					Quantity: stripe.Int64(1),
				},
			},
		}
		params.AddMetadata("credits", strconv.FormatInt(pack.Credits, 10))
		if email != "" {
			params.CustomerEmail = stripe.String(email)
		}

		sess, err := s.sessions.New(params)
		if err != nil {
			return nil, fmt.Errorf("creating checkout session for %d credits: %w", pack.Credits, err)
		}
		urls = append(urls, sess.URL)
	}
	return urls, nil
}

// VerifyWebhook checks the Stripe-Signature header against the payload.
func (s *Service) VerifyWebhook(payload []byte, sigHeader string) (*stripe.Event, error) {
	if strings.TrimSpace(sigHeader) == "" {
		return nil, ErrInvalidSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return &event, nil
}

type checkoutSession struct {
	ID              string            `json:"id"`
	PaymentStatus   string            `json:"payment_status"`
	CustomerEmail   string            `json:"customer_email"`
	CustomerDetails *customerDetails  `json:"customer_details"`
	Metadata        map[string]string `json:"metadata"`
}

type customerDetails struct {
	Email string `json:"email"`
}

// PurchaseFromEvent extracts a purchase from a paid checkout session event.
// Card payments arrive paid on checkout.session.completed; delayed methods
// complete unpaid and are settled by checkout.session.async_payment_succeeded.
// ok is false for events that grant nothing.
func PurchaseFromEvent(event *stripe.Event) (*Purchase, bool, error) {
	if event == nil || event.Data == nil {
		return nil, false, nil
	}
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
	default:
		return nil, false, nil
	}

	var sess checkoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, false, fmt.Errorf("%w: decoding checkout session: %v", ErrInvalidPurchase, err)
	}
	if sess.PaymentStatus != string(stripe.CheckoutSessionPaymentStatusPaid) {
		return nil, false, nil
	}
	if sess.ID == "" {
		return nil, false, fmt.Errorf("%w: event %s has no checkout session id", ErrInvalidPurchase, event.ID)
	}

	email := ""
	if sess.CustomerDetails != nil {
		email = strings.TrimSpace(sess.CustomerDetails.Email)
	}
	if email == "" {
		email = strings.TrimSpace(sess.CustomerEmail)
	}
	if email == "" {
		return nil, false, fmt.Errorf("%w: session %s has no customer email", ErrInvalidPurchase, sess.ID)
	}

	credits, err := strconv.ParseInt(strings.TrimSpace(sess.Metadata["credits"]), 10, 64)
	if err != nil || credits <= 0 {
		return nil, false, fmt.Errorf("%w: session %s has invalid credits metadata", ErrInvalidPurchase, sess.ID)
	}

	return &Purchase{
		EventID:   event.ID,
		SessionID: sess.ID,
		Email:     email,
		Credits:   credits,
	}, true, nil
}
