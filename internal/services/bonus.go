package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/promptbazaar/backend/internal/ledger"
	"github.com/promptbazaar/backend/internal/models"
)

// BonusService grants promotional credits (signup, referral and social rewards).
type BonusService struct {
	Tx       ledger.TxBeginner
	Accounts AccountStore
	Credits  CreditWriter
	Logger   *slog.Logger
}

// GrantBonus credits amount to userID with a bonus history row.
func (s *BonusService) GrantBonus(ctx context.Context, userID uuid.UUID, amount int64, description string) error {
	err := ledger.WithTx(ctx, s.Tx, func(tx pgx.Tx) error {
		return s.GrantBonusTx(ctx, tx, userID, amount, description)
	})
	if err != nil {
		if isBusiness(err) {
			return err
		}
		s.log().ErrorContext(ctx, "grant bonus", "user_id", userID, "amount", amount, "error", err)
		return wrapInternal(err)
	}
	return nil
}

// GrantBonusTx is GrantBonus inside the caller's transaction, used at signup.
func (s *BonusService) GrantBonusTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64, description string) error {
	if amount <= 0 {
		return fmt.Errorf("%w: bonus must be positive", ErrInvalidAmount)
	}
	if _, err := s.Accounts.GetByIDForUpdate(ctx, tx, userID); err != nil {
		return fmt.Errorf("lock account: %w", err)
	}
	if _, err := s.Accounts.AddCredits(ctx, tx, userID, amount); err != nil {
		return fmt.Errorf("add bonus credits: %w", err)
	}
	return s.Credits.CreateTx(ctx, tx, &models.CreditHistory{
		ID: uuid.New(), UserID: userID, Type: models.CreditTypeBonus, Amount: amount, Description: description,
	})
}

func (s *BonusService) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
