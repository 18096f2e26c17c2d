package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promptbazaar/backend/internal/models"
)

type CreditRepo struct {
	pool *pgxpool.Pool
}

func NewCreditRepo(pool *pgxpool.Pool) *CreditRepo {
	return &CreditRepo{pool: pool}
}

// CreateTx appends a history row inside the given transaction.
func (r *CreditRepo) CreateTx(ctx context.Context, tx pgx.Tx, c *models.CreditHistory) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO credit_history (id, user_id, purchase_id, type, amount, description)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, c.ID, c.UserID, c.PurchaseID, c.Type, c.Amount, c.Description).Scan(&c.CreatedAt)
	return mapErr(err)
}

func (r *CreditRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.CreditHistory, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, purchase_id, type, amount, description, created_at
		FROM credit_history WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.CreditHistory
	for rows.Next() {
		var c models.CreditHistory
		if err := rows.Scan(&c.ID, &c.UserID, &c.PurchaseID, &c.Type, &c.Amount, &c.Description, &c.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &c)
	}
	return list, rows.Err()
}

// SumByUser returns the signed total of a user's history. It must equal users.credits.
func (r *CreditRepo) SumByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var sum int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM credit_history WHERE user_id = $1`, userID).Scan(&sum)
	return sum, err
}
