package models

import (
	"time"

	"github.com/google/uuid"
)

// Credit history entry types.
const (
	CreditTypeBonus     = "bonus"
	CreditTypePurchase  = "purchase"
	CreditTypeSale      = "sale"
	CreditTypeExecution = "execution"
	CreditTypeRefund    = "refund"
)

// CreditHistory is an append-only signed ledger row. The sum of a user's rows
// always equals Account.Credits.
type CreditHistory struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	PurchaseID  *uuid.UUID `json:"purchase_id,omitempty"`
	Type        string     `json:"type"`
	Amount      int64      `json:"amount"`
	Description string     `json:"description"`
	CreatedAt   time.Time  `json:"created_at"`
}
