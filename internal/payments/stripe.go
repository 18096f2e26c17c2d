package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/promptbazaar/backend/internal/models"
)

// Stripe Checkout rejects expires_at closer than 30 minutes.
const stripeMinExpiry = 30 * time.Minute

// StripeProcessor is the card rail backed by Stripe Checkout Sessions.
type StripeProcessor struct {
	sessions      *session.Client
	webhookSecret string
	currency      string
	now           func() time.Time
}

type StripeOptions struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
	// BaseURL overrides the API endpoint; tests point it at httptest.
	BaseURL    string
	HTTPClient *http.Client
}

func NewStripeProcessor(opts StripeOptions) *StripeProcessor {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	cfg := &stripe.BackendConfig{HTTPClient: hc, LeveledLogger: &stripe.LeveledLogger{Level: stripe.LevelError}}
	if opts.BaseURL != "" {
		cfg.URL = stripe.String(opts.BaseURL)
	}
	currency := strings.ToLower(strings.TrimSpace(opts.Currency))
	if currency == "" {
		currency = "jpy"
	}
	return &StripeProcessor{
		sessions:      &session.Client{B: stripe.GetBackendWithConfig(stripe.APIBackend, cfg), Key: opts.SecretKey},
		webhookSecret: opts.WebhookSecret,
		currency:      currency,
		now:           time.Now,
	}
}

func (p *StripeProcessor) Provider() models.PaymentProvider { return models.ProviderStripe }

func (p *StripeProcessor) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	currency := req.Currency
	if currency == "" {
		currency = p.currency
	}
	exp := req.ExpiresAt
	if earliest := p.now().Add(stripeMinExpiry); exp.Before(earliest) {
		exp = earliest
	}
	params := &stripe.CheckoutSessionParams{
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.Metadata.PurchaseID.String()),
		ExpiresAt:         stripe.Int64(exp.Unix()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(currency),
					UnitAmount: stripe.Int64(req.Metadata.Price),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Title),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx
	for k, v := range req.Metadata.Map() {
		params.AddMetadata(k, v)
	}
	sess, err := p.sessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create checkout session: %w", err)
	}
	if strings.TrimSpace(sess.URL) == "" {
		return nil, errors.New("stripe returned a session without url")
	}
	return &Checkout{CorrelationID: sess.ID, RedirectURL: sess.URL}, nil
}

func (p *StripeProcessor) CheckoutStatus(ctx context.Context, correlationID string) (CheckoutState, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := p.sessions.Get(correlationID, params)
	if err != nil {
		return "", fmt.Errorf("stripe get checkout session: %w", err)
	}
	switch {
	case sess.Status == stripe.CheckoutSessionStatusComplete && sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		return CheckoutPaid, nil
	case sess.Status == stripe.CheckoutSessionStatusExpired:
		return CheckoutExpired, nil
	default:
		// complete+unpaid is an async payment still clearing.
		return CheckoutOpen, nil
	}
}

func (p *StripeProcessor) ParseWebhook(payload []byte, header http.Header) (*Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, header.Get("Stripe-Signature"), p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{ID: event.ID, RawType: string(event.Type), Type: EventIgnored}
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		if event.GetObjectValue("payment_status") == string(stripe.CheckoutSessionPaymentStatusPaid) {
			out.Type = EventConfirmed
		}
	case stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		out.Type = EventConfirmed
	case stripe.EventTypeCheckoutSessionExpired, stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		out.Type = EventFailed
	default:
		return out, nil
	}

	out.CorrelationID = strings.TrimSpace(event.GetObjectValue("id"))
	out.Metadata = MetadataFromMap(map[string]string{
		"purchase_id": event.GetObjectValue("metadata", "purchase_id"),
		"prompt_id":   event.GetObjectValue("metadata", "prompt_id"),
		"buyer_id":    event.GetObjectValue("metadata", "buyer_id"),
		"seller_id":   event.GetObjectValue("metadata", "seller_id"),
		"price":       event.GetObjectValue("metadata", "price"),
	})
	if out.Metadata.PurchaseID == uuid.Nil {
		out.Metadata.PurchaseID, _ = uuid.Parse(event.GetObjectValue("client_reference_id"))
	}
	return out, nil
}
