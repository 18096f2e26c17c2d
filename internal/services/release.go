package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/promptbazaar/backend/internal/ledger"
	"github.com/promptbazaar/backend/internal/models"
	"github.com/promptbazaar/backend/internal/repository"
)

const releaseBatch = 500

// WalletReleaser moves matured external-rail revenue from pending to withdrawable balance.
type WalletReleaser struct {
	Tx        ledger.TxBeginner
	Purchases PurchaseStore
	Wallets   WalletStore
	// After is the hold period measured from purchase completion.
	After  time.Duration
	Now    func() time.Time
	Logger *slog.Logger
}

// ReleaseDue releases every purchase whose hold period has passed and returns the count released.
func (r *WalletReleaser) ReleaseDue(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.After)
	candidates, err := r.Wallets.ListReleasable(ctx, cutoff, releaseBatch)
	if err != nil {
		return 0, fmt.Errorf("list releasable revenue: %w", err)
	}
	released := 0
	for _, c := range candidates {
		ok, err := r.release(ctx, c.PurchaseID)
		if err != nil {
			r.log().ErrorContext(ctx, "release revenue", "purchase_id", c.PurchaseID, "error", err)
			continue
		}
		if ok {
			released++
		}
	}
	if released > 0 {
		r.log().InfoContext(ctx, "wallet revenue released", "count", released)
	}
	return released, nil
}

// release re-checks under the purchase lock, so a concurrent refund either
// wins (nothing to release) or waits for this to commit.
func (r *WalletReleaser) release(ctx context.Context, purchaseID uuid.UUID) (bool, error) {
	done := false
	err := ledger.WithTx(ctx, r.Tx, func(tx pgx.Tx) error {
		p, err := r.Purchases.GetByIDForUpdate(ctx, tx, purchaseID)
		if err != nil {
			return err
		}
		if p.Status != models.PurchaseStatusCompleted {
			return nil
		}
		amount, err := r.Wallets.PendingForPurchaseTx(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if amount <= 0 {
			return nil
		}
		w, err := r.Wallets.GetByUserIDForUpdate(ctx, tx, p.SellerID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		amount = min(amount, w.PendingBalance)
		if amount <= 0 {
			return nil
		}
		if _, err := r.Wallets.AdjustTx(ctx, tx, w.ID, repository.WalletDelta{Pending: -amount, Balance: amount}); err != nil {
			return err
		}
		for _, leg := range []struct {
			bucket string
			amount int64
		}{{models.BucketPending, -amount}, {models.BucketAvailable, amount}} {
			if err := r.Wallets.CreateTransactionTx(ctx, tx, &models.WalletTransaction{
				ID: uuid.New(), WalletID: w.ID, Type: models.WalletTxRelease, Bucket: leg.bucket,
				Amount: leg.amount, Description: "Revenue released", PurchaseID: &p.ID,
			}); err != nil {
				return err
			}
		}
		done = true
		return nil
	})
	return done, err
}

func (r *WalletReleaser) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *WalletReleaser) log() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
