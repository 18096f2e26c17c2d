// Package payments adapts external payment rails to one checkout/webhook contract.
package payments

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/promptbazaar/backend/internal/models"
)

// ErrInvalidSignature is returned by ParseWebhook when the payload cannot be authenticated.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Metadata is stored with the processor at checkout time so confirmation never
// has to re-derive who bought what.
type Metadata struct {
	PurchaseID uuid.UUID
	PromptID   uuid.UUID
	BuyerID    uuid.UUID
	SellerID   uuid.UUID
	Price      int64
}

func (m Metadata) Map() map[string]string {
	return map[string]string{
		"purchase_id": m.PurchaseID.String(),
		"prompt_id":   m.PromptID.String(),
		"buyer_id":    m.BuyerID.String(),
		"seller_id":   m.SellerID.String(),
		"price":       strconv.FormatInt(m.Price, 10),
	}
}

// MetadataFromMap parses what Map produced. Missing or malformed fields stay zero.
func MetadataFromMap(v map[string]string) Metadata {
	var m Metadata
	m.PurchaseID, _ = uuid.Parse(v["purchase_id"])
	m.PromptID, _ = uuid.Parse(v["prompt_id"])
	m.BuyerID, _ = uuid.Parse(v["buyer_id"])
	m.SellerID, _ = uuid.Parse(v["seller_id"])
	m.Price, _ = strconv.ParseInt(v["price"], 10, 64)
	return m
}

type CheckoutRequest struct {
	Metadata   Metadata
	Title      string
	Currency   string
	SuccessURL string
	CancelURL  string
	ExpiresAt  time.Time
}

// Checkout is the processor's answer: a correlation id to store and a URL to send the buyer to.
type Checkout struct {
	CorrelationID string
	RedirectURL   string
}

// CheckoutState is the processor's view of a checkout, used by reconciliation.
type CheckoutState string

const (
	CheckoutOpen    CheckoutState = "open"
	CheckoutPaid    CheckoutState = "paid"
	CheckoutFailed  CheckoutState = "failed"
	CheckoutExpired CheckoutState = "expired"
)

type EventType string

const (
	EventConfirmed EventType = "confirmed"
	EventFailed    EventType = "failed"
	// EventIgnored covers event types that carry no settlement meaning.
	EventIgnored EventType = "ignored"
)

// Event is a verified webhook delivery.
type Event struct {
	ID            string
	Type          EventType
	RawType       string
	CorrelationID string
	Metadata      Metadata
}

// Processor is one external payment rail.
type Processor interface {
	Provider() models.PaymentProvider
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error)
	CheckoutStatus(ctx context.Context, correlationID string) (CheckoutState, error)
	ParseWebhook(payload []byte, header http.Header) (*Event, error)
}
