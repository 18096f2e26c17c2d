package models

import (
	"time"

	"github.com/google/uuid"
)

// Purchase statuses.
const (
	PurchaseStatusPending   = "pending"
	PurchaseStatusCompleted = "completed"
	PurchaseStatusFailed    = "failed"
	PurchaseStatusRefunded  = "refunded"
)

// PaymentProvider identifies the rail a purchase was paid through.
type PaymentProvider string

const (
	ProviderCredits PaymentProvider = "credits"
	ProviderStripe  PaymentProvider = "stripe"
	ProviderOrynth  PaymentProvider = "orynth"
)

// Valid reports whether p is a known rail.
func (p PaymentProvider) Valid() bool {
	switch p {
	case ProviderCredits, ProviderStripe, ProviderOrynth:
		return true
	}
	return false
}

// External reports whether settlement is deferred to a payment processor.
func (p PaymentProvider) External() bool {
	return p == ProviderStripe || p == ProviderOrynth
}

type Purchase struct {
	ID                uuid.UUID       `json:"id"`
	UserID            uuid.UUID       `json:"user_id"`
	PromptID          uuid.UUID       `json:"prompt_id"`
	SellerID          uuid.UUID       `json:"seller_id"`
	PriceAtPurchase   int64           `json:"price_at_purchase"`
	Status            string          `json:"status"`
	PaymentProvider   PaymentProvider `json:"payment_provider"`
	ProcessorRef      *string         `json:"processor_ref,omitempty"`
	ClawbackShortfall int64           `json:"clawback_shortfall"`
	RefundReason      *string         `json:"refund_reason,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	RefundedAt        *time.Time      `json:"refunded_at,omitempty"`
}
