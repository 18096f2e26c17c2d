package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/promptbazaar/backend/internal/models"
	"github.com/promptbazaar/backend/internal/repository"
)

// AccountStore is the minimal users-table interface the engines mutate credits through.
type AccountStore interface {
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error)
	DeductCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) (int64, error)
	AddCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) (int64, error)
}

// CreditWriter appends credit_history rows.
type CreditWriter interface {
	CreateTx(ctx context.Context, tx pgx.Tx, c *models.CreditHistory) error
}

type PromptReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Prompt, error)
}

type PurchaseStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, p *models.Purchase) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Purchase, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Purchase, error)
	GetByProcessorRefForUpdate(ctx context.Context, tx pgx.Tx, ref string) (*models.Purchase, error)
	FindActive(ctx context.Context, userID, promptID uuid.UUID) (*models.Purchase, error)
	SetProcessorRefTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, ref string) error
	UpdateStatusTx(ctx context.Context, tx pgx.Tx, p *models.Purchase) error
}

// StalePurchaseLister feeds the reconciliation sweep.
type StalePurchaseLister interface {
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*models.Purchase, error)
}

type WalletStore interface {
	GetOrCreateTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Wallet, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	GetByUserIDForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Wallet, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Wallet, error)
	AdjustTx(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, d repository.WalletDelta) (*models.Wallet, error)
	CreateTransactionTx(ctx context.Context, tx pgx.Tx, t *models.WalletTransaction) error
	PendingForPurchaseTx(ctx context.Context, tx pgx.Tx, purchaseID uuid.UUID) (int64, error)
	ListReleasable(ctx context.Context, cutoff time.Time, limit int) ([]repository.ReleaseCandidate, error)
}

type PayoutStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, p *models.PayoutRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.PayoutRequest, error)
	GetInFlightTx(ctx context.Context, tx pgx.Tx, walletID uuid.UUID) (*models.PayoutRequest, error)
	GetInFlight(ctx context.Context, walletID uuid.UUID) (*models.PayoutRequest, error)
	UpdateStatusTx(ctx context.Context, tx pgx.Tx, p *models.PayoutRequest) error
	ListByWallet(ctx context.Context, walletID uuid.UUID, limit int) ([]*models.PayoutRequest, error)
}
