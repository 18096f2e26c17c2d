package models

import (
	"time"

	"github.com/google/uuid"
)

// Wallet transaction types.
const (
	WalletTxPurchaseRevenue = "purchase_revenue"
	WalletTxPayout          = "payout"
	WalletTxRelease         = "release"
	WalletTxRefund          = "refund"
)

// Wallet buckets. Rows in BucketAvailable sum to Wallet.Balance, rows in
// BucketPending sum to Wallet.PendingBalance.
const (
	BucketAvailable = "available"
	BucketPending   = "pending"
)

// Payout request statuses.
const (
	PayoutStatusPending    = "pending"
	PayoutStatusProcessing = "processing"
	PayoutStatusCompleted  = "completed"
	PayoutStatusFailed     = "failed"
	PayoutStatusCancelled  = "cancelled"
)

// Wallet holds a seller's revenue from externally processed rails.
type Wallet struct {
	ID             uuid.UUID `json:"id"`
	UserID         uuid.UUID `json:"user_id"`
	Balance        int64     `json:"balance"`
	PendingBalance int64     `json:"pending_balance"`
	TotalEarned    int64     `json:"total_earned"`
	TotalWithdrawn int64     `json:"total_withdrawn"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// WalletTransaction is an immutable ledger row scoped to a wallet.
type WalletTransaction struct {
	ID          uuid.UUID  `json:"id"`
	WalletID    uuid.UUID  `json:"wallet_id"`
	Type        string     `json:"type"`
	Bucket      string     `json:"bucket"`
	Amount      int64      `json:"amount"`
	Description string     `json:"description"`
	PurchaseID  *uuid.UUID `json:"purchase_id,omitempty"`
	PayoutID    *uuid.UUID `json:"payout_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// BankDetails is the payout destination.
type BankDetails struct {
	BankName      string `json:"bank_name"`
	BranchName    string `json:"branch_name"`
	AccountType   string `json:"account_type"`
	AccountNumber string `json:"account_number"`
	AccountHolder string `json:"account_holder"`
}

type PayoutRequest struct {
	ID            uuid.UUID   `json:"id"`
	WalletID      uuid.UUID   `json:"wallet_id"`
	Amount        int64       `json:"amount"`
	Fee           int64       `json:"fee"`
	NetAmount     int64       `json:"net_amount"`
	Bank          BankDetails `json:"bank"`
	Status        string      `json:"status"`
	FailureReason *string     `json:"failure_reason,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	ProcessedAt   *time.Time  `json:"processed_at,omitempty"`
}

// InFlight reports whether the request still reserves wallet funds.
func (p *PayoutRequest) InFlight() bool {
	return p.Status == PayoutStatusPending || p.Status == PayoutStatusProcessing
}
