package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/promptbazaar/backend/internal/models"
)

// UserStore is the users-table surface auth needs. *repository.AccountRepo satisfies it.
type UserStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, a *models.Account) error
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
}

// BonusGranter credits the signup bonus inside the registration transaction.
type BonusGranter interface {
	GrantBonusTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64, description string) error
}
