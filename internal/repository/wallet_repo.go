package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promptbazaar/backend/internal/models"
)

const walletColumns = `id, user_id, balance, pending_balance, total_earned, total_withdrawn, created_at, updated_at`

// WalletDelta is a signed adjustment applied to a wallet row in one statement.
// The table CHECK constraints reject any delta that would go negative.
type WalletDelta struct {
	Balance   int64
	Pending   int64
	Earned    int64
	Withdrawn int64
}

// ReleaseCandidate is a purchase whose revenue still sits in a wallet's pending bucket.
type ReleaseCandidate struct {
	PurchaseID uuid.UUID
	WalletID   uuid.UUID
	Amount     int64
}

type WalletRepo struct {
	pool *pgxpool.Pool
}

func NewWalletRepo(pool *pgxpool.Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// GetOrCreateTx returns the user's wallet, creating it on first revenue, and locks it.
func (r *WalletRepo) GetOrCreateTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Wallet, error) {
	if _, err := tx.Exec(ctx, `INSERT INTO wallets (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return nil, mapErr(err)
	}
	return r.GetByUserIDForUpdate(ctx, tx, userID)
}

func (r *WalletRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	return scanWallet(r.pool.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID))
}

// GetByUserIDForUpdate locks the wallet row. Call within a transaction.
func (r *WalletRepo) GetByUserIDForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Wallet, error) {
	return scanWallet(tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 FOR UPDATE`, userID))
}

func (r *WalletRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Wallet, error) {
	return scanWallet(tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, id))
}

// AdjustTx applies d and returns the updated wallet.
func (r *WalletRepo) AdjustTx(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, d WalletDelta) (*models.Wallet, error) {
	return scanWallet(tx.QueryRow(ctx, `
		UPDATE wallets SET
			balance = balance + $2,
			pending_balance = pending_balance + $3,
			total_earned = total_earned + $4,
			total_withdrawn = total_withdrawn + $5,
			updated_at = now()
		WHERE id = $1
		RETURNING `+walletColumns, walletID, d.Balance, d.Pending, d.Earned, d.Withdrawn))
}

func (r *WalletRepo) CreateTransactionTx(ctx context.Context, tx pgx.Tx, t *models.WalletTransaction) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO wallet_transactions (id, wallet_id, type, bucket, amount, description, purchase_id, payout_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, t.ID, t.WalletID, t.Type, t.Bucket, t.Amount, t.Description, t.PurchaseID, t.PayoutID).Scan(&t.CreatedAt)
	return mapErr(err)
}

// PendingForPurchaseTx returns how much of a purchase's revenue is still in the pending bucket.
func (r *WalletRepo) PendingForPurchaseTx(ctx context.Context, tx pgx.Tx, purchaseID uuid.UUID) (int64, error) {
	var sum int64
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM wallet_transactions
		WHERE purchase_id = $1 AND bucket = 'pending'
	`, purchaseID).Scan(&sum)
	return sum, err
}

// ListReleasable returns completed purchases settled before cutoff whose revenue
// has not been released or refunded yet.
func (r *WalletRepo) ListReleasable(ctx context.Context, cutoff time.Time, limit int) ([]ReleaseCandidate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT t.purchase_id, t.wallet_id, t.amount
		FROM wallet_transactions t
		JOIN purchases p ON p.id = t.purchase_id
		WHERE t.type = 'purchase_revenue' AND t.bucket = 'pending'
			AND p.status = 'completed' AND p.completed_at < $1
			AND NOT EXISTS (
				SELECT 1 FROM wallet_transactions x
				WHERE x.purchase_id = t.purchase_id AND x.type IN ('release', 'refund')
			)
		ORDER BY p.completed_at ASC
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []ReleaseCandidate
	for rows.Next() {
		var c ReleaseCandidate
		if err := rows.Scan(&c.PurchaseID, &c.WalletID, &c.Amount); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

func (r *WalletRepo) ListTransactions(ctx context.Context, walletID uuid.UUID, limit int) ([]*models.WalletTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, wallet_id, type, bucket, amount, description, purchase_id, payout_id, created_at
		FROM wallet_transactions WHERE wallet_id = $1 ORDER BY created_at DESC LIMIT $2
	`, walletID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.WalletTransaction
	for rows.Next() {
		var t models.WalletTransaction
		if err := rows.Scan(&t.ID, &t.WalletID, &t.Type, &t.Bucket, &t.Amount, &t.Description, &t.PurchaseID, &t.PayoutID, &t.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}

func scanWallet(row pgx.Row) (*models.Wallet, error) {
	var w models.Wallet
	if err := row.Scan(&w.ID, &w.UserID, &w.Balance, &w.PendingBalance, &w.TotalEarned, &w.TotalWithdrawn, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &w, nil
}
