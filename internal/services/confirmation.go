package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/promptbazaar/backend/internal/ledger"
	"github.com/promptbazaar/backend/internal/models"
	"github.com/promptbazaar/backend/internal/payments"
	"github.com/promptbazaar/backend/internal/repository"
)

// errSuperseded aborts a confirmation whose purchase slot was taken by a newer attempt.
var errSuperseded = errors.New("purchase superseded by a newer attempt")

// ConfirmSettlement completes a deferred purchase once the processor reports payment.
// Unknown correlation ids and repeated deliveries are no-ops.
func (e *SettlementEngine) ConfirmSettlement(ctx context.Context, provider models.PaymentProvider, correlationID string, md payments.Metadata) error {
	var (
		settled *models.Purchase
		share   int64
	)
	err := ledger.WithTx(ctx, e.Tx, func(tx pgx.Tx) error {
		p, err := e.lookupDeferred(ctx, tx, correlationID, md)
		if err != nil {
			return err
		}
		if p == nil {
			e.log().InfoContext(ctx, "confirmation for unknown purchase ignored",
				"provider", provider, "processor_ref", correlationID, "purchase_id", md.PurchaseID)
			return nil
		}
		if p.Status == models.PurchaseStatusCompleted || p.Status == models.PurchaseStatusRefunded {
			e.log().InfoContext(ctx, "duplicate confirmation ignored", "purchase_id", p.ID, "status", p.Status)
			return nil
		}
		if md.Price != 0 && md.Price != p.PriceAtPurchase {
			e.log().WarnContext(ctx, "confirmation metadata price differs from snapshot",
				"purchase_id", p.ID, "metadata_price", md.Price, "amount", p.PriceAtPurchase)
		}

		now := e.now()
		p.Status = models.PurchaseStatusCompleted
		p.CompletedAt = &now
		if p.ProcessorRef == nil && correlationID != "" {
			ref := correlationID
			p.ProcessorRef = &ref
		}
		if err := e.Purchases.UpdateStatusTx(ctx, tx, p); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return errSuperseded
			}
			return fmt.Errorf("complete purchase: %w", err)
		}

		share = e.Revenue.SellerShare(p.PriceAtPurchase)
		if _, err := e.Accounts.GetByIDForUpdate(ctx, tx, p.SellerID); err != nil {
			return fmt.Errorf("lock seller: %w", err)
		}
		if err := e.creditSeller(ctx, tx, p, share, "Sale via "+string(p.PaymentProvider)); err != nil {
			return err
		}
		if err := e.Credits.CreateTx(ctx, tx, &models.CreditHistory{
			ID: uuid.New(), UserID: p.UserID, PurchaseID: &p.ID,
			Type: models.CreditTypePurchase, Amount: 0,
			Description: fmt.Sprintf("Paid %d via %s", p.PriceAtPurchase, p.PaymentProvider),
		}); err != nil {
			return fmt.Errorf("record buyer history: %w", err)
		}

		if share > 0 {
			w, err := e.Wallets.GetOrCreateTx(ctx, tx, p.SellerID)
			if err != nil {
				return fmt.Errorf("load seller wallet: %w", err)
			}
			if _, err := e.Wallets.AdjustTx(ctx, tx, w.ID, repository.WalletDelta{Pending: share, Earned: share}); err != nil {
				return fmt.Errorf("credit wallet: %w", err)
			}
			if err := e.Wallets.CreateTransactionTx(ctx, tx, &models.WalletTransaction{
				ID: uuid.New(), WalletID: w.ID, Type: models.WalletTxPurchaseRevenue, Bucket: models.BucketPending,
				Amount: share, Description: "Revenue via " + string(p.PaymentProvider), PurchaseID: &p.ID,
			}); err != nil {
				return fmt.Errorf("record wallet revenue: %w", err)
			}
		}
		settled = p
		return nil
	})
	if errors.Is(err, errSuperseded) {
		// The buyer already holds another live purchase of this prompt; money moved
		// twice at the processor and needs an operator refund there.
		e.log().ErrorContext(ctx, "payment confirmed for superseded purchase; refund at processor required",
			"provider", provider, "processor_ref", correlationID, "purchase_id", md.PurchaseID)
		return nil
	}
	if err != nil {
		return e.internal(ctx, "confirm settlement", err, "provider", provider, "processor_ref", correlationID,
			"purchase_id", md.PurchaseID, "buyer_id", md.BuyerID, "seller_id", md.SellerID, "amount", md.Price)
	}
	if settled != nil {
		e.log().InfoContext(ctx, "purchase settled", "purchase_id", settled.ID, "provider", settled.PaymentProvider,
			"buyer_id", settled.UserID, "seller_id", settled.SellerID, "amount", settled.PriceAtPurchase, "seller_share", share)
		e.notifySettled(ctx, settled, share)
	}
	return nil
}

// FailSettlement marks a pending purchase failed. Completed purchases are never downgraded.
func (e *SettlementEngine) FailSettlement(ctx context.Context, provider models.PaymentProvider, correlationID string, md payments.Metadata) error {
	err := ledger.WithTx(ctx, e.Tx, func(tx pgx.Tx) error {
		p, err := e.lookupDeferred(ctx, tx, correlationID, md)
		if err != nil || p == nil {
			return err
		}
		return e.failLocked(ctx, tx, p)
	})
	if err != nil {
		return e.internal(ctx, "fail settlement", err, "provider", provider, "processor_ref", correlationID, "purchase_id", md.PurchaseID)
	}
	return nil
}

func (e *SettlementEngine) failByID(ctx context.Context, id uuid.UUID) error {
	return ledger.WithTx(ctx, e.Tx, func(tx pgx.Tx) error {
		p, err := e.Purchases.GetByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		return e.failLocked(ctx, tx, p)
	})
}

func (e *SettlementEngine) failLocked(ctx context.Context, tx pgx.Tx, p *models.Purchase) error {
	if p.Status != models.PurchaseStatusPending {
		return nil
	}
	p.Status = models.PurchaseStatusFailed
	if err := e.Purchases.UpdateStatusTx(ctx, tx, p); err != nil {
		return fmt.Errorf("fail purchase: %w", err)
	}
	e.log().InfoContext(ctx, "purchase failed", "purchase_id", p.ID, "provider", p.PaymentProvider, "buyer_id", p.UserID)
	return nil
}

// lookupDeferred locks the purchase by processor ref, falling back to the purchase id
// stored in checkout metadata. Returns nil, nil when neither matches.
func (e *SettlementEngine) lookupDeferred(ctx context.Context, tx pgx.Tx, correlationID string, md payments.Metadata) (*models.Purchase, error) {
	if correlationID != "" {
		p, err := e.Purchases.GetByProcessorRefForUpdate(ctx, tx, correlationID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	if md.PurchaseID == uuid.Nil {
		return nil, nil
	}
	p, err := e.Purchases.GetByIDForUpdate(ctx, tx, md.PurchaseID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !p.PaymentProvider.External() {
		return nil, nil
	}
	return p, nil
}
