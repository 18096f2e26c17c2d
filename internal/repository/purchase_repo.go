package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promptbazaar/backend/internal/models"
)

const purchaseColumns = `id, user_id, prompt_id, seller_id, price_at_purchase, status, payment_provider,
	processor_ref, clawback_shortfall, refund_reason, created_at, updated_at, completed_at, refunded_at`

type PurchaseRepo struct {
	pool *pgxpool.Pool
}

func NewPurchaseRepo(pool *pgxpool.Pool) *PurchaseRepo {
	return &PurchaseRepo{pool: pool}
}

// CreateTx inserts a purchase. A second live purchase of the same prompt by the
// same buyer violates purchases_active_uniq and yields ErrDuplicate.
func (r *PurchaseRepo) CreateTx(ctx context.Context, tx pgx.Tx, p *models.Purchase) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO purchases (id, user_id, prompt_id, seller_id, price_at_purchase, status, payment_provider, processor_ref, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, p.ID, p.UserID, p.PromptID, p.SellerID, p.PriceAtPurchase, p.Status, p.PaymentProvider, p.ProcessorRef, p.CompletedAt).Scan(&p.CreatedAt, &p.UpdatedAt)
	return mapErr(err)
}

func (r *PurchaseRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Purchase, error) {
	return scanPurchase(r.pool.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`, id))
}

// GetByIDForUpdate locks the purchase row. Call within a transaction.
func (r *PurchaseRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Purchase, error) {
	return scanPurchase(tx.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1 FOR UPDATE`, id))
}

// GetByProcessorRefForUpdate locks the purchase created for an external checkout.
func (r *PurchaseRepo) GetByProcessorRefForUpdate(ctx context.Context, tx pgx.Tx, ref string) (*models.Purchase, error) {
	return scanPurchase(tx.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE processor_ref = $1 FOR UPDATE`, ref))
}

// FindActive returns the pending or completed purchase for (userID, promptID), if any.
func (r *PurchaseRepo) FindActive(ctx context.Context, userID, promptID uuid.UUID) (*models.Purchase, error) {
	return scanPurchase(r.pool.QueryRow(ctx, `
		SELECT `+purchaseColumns+` FROM purchases
		WHERE user_id = $1 AND prompt_id = $2 AND status IN ('pending', 'completed')
	`, userID, promptID))
}

func (r *PurchaseRepo) SetProcessorRefTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, ref string) error {
	tag, err := tx.Exec(ctx, `UPDATE purchases SET processor_ref = $2, updated_at = now() WHERE id = $1`, id, ref)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatusTx persists the mutable lifecycle fields of p.
func (r *PurchaseRepo) UpdateStatusTx(ctx context.Context, tx pgx.Tx, p *models.Purchase) error {
	err := tx.QueryRow(ctx, `
		UPDATE purchases SET status = $2, processor_ref = $3, clawback_shortfall = $4, refund_reason = $5,
			completed_at = $6, refunded_at = $7, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, p.ID, p.Status, p.ProcessorRef, p.ClawbackShortfall, p.RefundReason, p.CompletedAt, p.RefundedAt).Scan(&p.UpdatedAt)
	return mapErr(err)
}

// ListStalePending returns pending purchases created before cutoff, oldest first.
func (r *PurchaseRepo) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*models.Purchase, error) {
	return r.list(ctx, `
		SELECT `+purchaseColumns+` FROM purchases
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC LIMIT $2
	`, cutoff, limit)
}

func (r *PurchaseRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Purchase, error) {
	return r.list(ctx, `
		SELECT `+purchaseColumns+` FROM purchases WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
}

// ListBySeller is the seller-side read of purchases of their prompts.
func (r *PurchaseRepo) ListBySeller(ctx context.Context, sellerID uuid.UUID, limit int) ([]*models.Purchase, error) {
	return r.list(ctx, `
		SELECT `+purchaseColumns+` FROM purchases
		WHERE seller_id = $1 AND status IN ('completed', 'refunded')
		ORDER BY created_at DESC LIMIT $2
	`, sellerID, limit)
}

func (r *PurchaseRepo) list(ctx context.Context, sql string, args ...any) ([]*models.Purchase, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func scanPurchase(row pgx.Row) (*models.Purchase, error) {
	var p models.Purchase
	err := row.Scan(&p.ID, &p.UserID, &p.PromptID, &p.SellerID, &p.PriceAtPurchase, &p.Status, &p.PaymentProvider,
		&p.ProcessorRef, &p.ClawbackShortfall, &p.RefundReason, &p.CreatedAt, &p.UpdatedAt, &p.CompletedAt, &p.RefundedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}
