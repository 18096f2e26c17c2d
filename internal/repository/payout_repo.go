package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promptbazaar/backend/internal/models"
)

const payoutColumns = `id, wallet_id, amount, fee, net_amount, bank_name, branch_name, account_type, account_number,
	account_holder, status, failure_reason, created_at, updated_at, processed_at`

type PayoutRepo struct {
	pool *pgxpool.Pool
}

func NewPayoutRepo(pool *pgxpool.Pool) *PayoutRepo {
	return &PayoutRepo{pool: pool}
}

// CreateTx inserts a payout request. A second in-flight request for the wallet
// violates payout_requests_inflight_uniq and yields ErrDuplicate.
func (r *PayoutRepo) CreateTx(ctx context.Context, tx pgx.Tx, p *models.PayoutRequest) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO payout_requests (id, wallet_id, amount, fee, net_amount, bank_name, branch_name, account_type, account_number, account_holder, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`, p.ID, p.WalletID, p.Amount, p.Fee, p.NetAmount, p.Bank.BankName, p.Bank.BranchName, p.Bank.AccountType,
		p.Bank.AccountNumber, p.Bank.AccountHolder, p.Status).Scan(&p.CreatedAt, &p.UpdatedAt)
	return mapErr(err)
}

func (r *PayoutRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error) {
	return scanPayout(r.pool.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payout_requests WHERE id = $1`, id))
}

// GetByIDForUpdate locks the request row. Lock the owning wallet first.
func (r *PayoutRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.PayoutRequest, error) {
	return scanPayout(tx.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payout_requests WHERE id = $1 FOR UPDATE`, id))
}

// GetInFlightTx returns the wallet's pending or processing request, or ErrNotFound.
func (r *PayoutRepo) GetInFlightTx(ctx context.Context, tx pgx.Tx, walletID uuid.UUID) (*models.PayoutRequest, error) {
	return scanPayout(tx.QueryRow(ctx, `
		SELECT `+payoutColumns+` FROM payout_requests
		WHERE wallet_id = $1 AND status IN ('pending', 'processing')
	`, walletID))
}

func (r *PayoutRepo) GetInFlight(ctx context.Context, walletID uuid.UUID) (*models.PayoutRequest, error) {
	return scanPayout(r.pool.QueryRow(ctx, `
		SELECT `+payoutColumns+` FROM payout_requests
		WHERE wallet_id = $1 AND status IN ('pending', 'processing')
	`, walletID))
}

func (r *PayoutRepo) UpdateStatusTx(ctx context.Context, tx pgx.Tx, p *models.PayoutRequest) error {
	err := tx.QueryRow(ctx, `
		UPDATE payout_requests SET status = $2, failure_reason = $3, processed_at = $4, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, p.ID, p.Status, p.FailureReason, p.ProcessedAt).Scan(&p.UpdatedAt)
	return mapErr(err)
}

func (r *PayoutRepo) ListByWallet(ctx context.Context, walletID uuid.UUID, limit int) ([]*models.PayoutRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+payoutColumns+` FROM payout_requests WHERE wallet_id = $1 ORDER BY created_at DESC LIMIT $2
	`, walletID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.PayoutRequest
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func scanPayout(row pgx.Row) (*models.PayoutRequest, error) {
	var p models.PayoutRequest
	err := row.Scan(&p.ID, &p.WalletID, &p.Amount, &p.Fee, &p.NetAmount, &p.Bank.BankName, &p.Bank.BranchName,
		&p.Bank.AccountType, &p.Bank.AccountNumber, &p.Bank.AccountHolder, &p.Status, &p.FailureReason,
		&p.CreatedAt, &p.UpdatedAt, &p.ProcessedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}
