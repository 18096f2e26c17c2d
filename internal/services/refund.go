package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/promptbazaar/backend/internal/config"
	"github.com/promptbazaar/backend/internal/ledger"
	"github.com/promptbazaar/backend/internal/models"
	"github.com/promptbazaar/backend/internal/repository"
)

// RefundEngine reverses completed purchases inside the refund window.
type RefundEngine struct {
	Tx        ledger.TxBeginner
	Accounts  AccountStore
	Credits   CreditWriter
	Purchases PurchaseStore
	Wallets   WalletStore
	Notifier  Notifier
	Revenue   config.RevenueConfig
	Period    time.Duration

	Now    func() time.Time
	Logger *slog.Logger
}

type RefundResult struct {
	PurchaseID     uuid.UUID `json:"purchase_id"`
	RefundedAmount int64     `json:"refunded_amount"`
	ClawedBack     int64     `json:"clawed_back"`
	Shortfall      int64     `json:"clawback_shortfall"`
}

// RefundEligibility is the read-only answer to "can I refund this now?".
type RefundEligibility struct {
	Eligible      bool      `json:"eligible"`
	Expired       bool      `json:"expired"`
	DaysRemaining int       `json:"days_remaining"`
	Deadline      time.Time `json:"deadline"`
	Reason        string    `json:"reason"`
}

// GetRefundEligibility reports whether the requester can refund the purchase right now.
func (e *RefundEngine) GetRefundEligibility(ctx context.Context, purchaseID, requesterID uuid.UUID) (*RefundEligibility, error) {
	p, err := e.Purchases.GetByID(ctx, purchaseID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPurchaseNotFound
		}
		return nil, e.internal(ctx, "load purchase", err, "purchase_id", purchaseID)
	}
	if p.UserID != requesterID {
		return nil, ErrForbidden
	}
	el := e.eligibility(p, e.now())
	return &el, nil
}

// eligibility is inclusive at the deadline: created+period is still refundable, one second later is not.
func (e *RefundEngine) eligibility(p *models.Purchase, now time.Time) RefundEligibility {
	deadline := p.CreatedAt.Add(e.Period)
	el := RefundEligibility{Deadline: deadline}
	switch p.Status {
	case models.PurchaseStatusRefunded:
		el.Reason = "purchase has already been refunded"
		return el
	case models.PurchaseStatusPending:
		el.Reason = "payment for this purchase has not completed"
		return el
	case models.PurchaseStatusFailed:
		el.Reason = "payment for this purchase failed"
		return el
	}
	periodDays := int(e.Period / (24 * time.Hour))
	if now.After(deadline) {
		el.Expired = true
		ago := int(math.Ceil(now.Sub(deadline).Hours() / 24))
		el.Reason = fmt.Sprintf("refund period of %d days expired %d day(s) ago", periodDays, ago)
		return el
	}
	el.Eligible = true
	el.DaysRemaining = int(math.Ceil(deadline.Sub(now).Hours() / 24))
	el.Reason = fmt.Sprintf("%d day(s) remaining in the %d-day refund period", el.DaysRemaining, periodDays)
	return el
}

// Refund returns the price to the buyer and claws the seller's share back.
// The clawback is capped at what the seller still holds; the rest is recorded as shortfall.
func (e *RefundEngine) Refund(ctx context.Context, purchaseID, requesterID uuid.UUID, reason string) (*RefundResult, error) {
	var (
		res *RefundResult
		p   *models.Purchase
	)
	err := ledger.WithTx(ctx, e.Tx, func(tx pgx.Tx) error {
		var err error
		p, err = e.Purchases.GetByIDForUpdate(ctx, tx, purchaseID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrPurchaseNotFound
			}
			return fmt.Errorf("lock purchase: %w", err)
		}
		if p.UserID != requesterID {
			return ErrForbidden
		}
		if el := e.eligibility(p, e.now()); !el.Eligible {
			return fmt.Errorf("%w: %s", ErrNotRefundable, el.Reason)
		}

		locked := make(map[uuid.UUID]*models.Account, 2)
		for _, id := range ledger.LockOrder(p.UserID, p.SellerID) {
			acc, err := e.Accounts.GetByIDForUpdate(ctx, tx, id)
			if err != nil {
				return fmt.Errorf("lock account %s: %w", id, err)
			}
			locked[id] = acc
		}

		price := p.PriceAtPurchase
		share := e.Revenue.SellerShare(price)
		res = &RefundResult{PurchaseID: p.ID}

		// Refunds always land as credits, whatever rail the purchase was paid on.
		if price > 0 {
			if _, err := e.Accounts.AddCredits(ctx, tx, p.UserID, price); err != nil {
				return fmt.Errorf("credit buyer: %w", err)
			}
			if err := e.Credits.CreateTx(ctx, tx, &models.CreditHistory{
				ID: uuid.New(), UserID: p.UserID, PurchaseID: &p.ID,
				Type: models.CreditTypeRefund, Amount: price, Description: "Refund",
			}); err != nil {
				return fmt.Errorf("record buyer refund: %w", err)
			}
			res.RefundedAmount = price
		}

		var shortfall int64
		take := min(share, locked[p.SellerID].Credits)
		if take > 0 {
			if _, err := e.Accounts.DeductCredits(ctx, tx, p.SellerID, take); err != nil {
				return fmt.Errorf("debit seller: %w", err)
			}
			if err := e.Credits.CreateTx(ctx, tx, &models.CreditHistory{
				ID: uuid.New(), UserID: p.SellerID, PurchaseID: &p.ID,
				Type: models.CreditTypeRefund, Amount: -take, Description: "Refund clawback",
			}); err != nil {
				return fmt.Errorf("record seller clawback: %w", err)
			}
			res.ClawedBack += take
		} else {
			take = 0
		}
		shortfall += share - take

		if p.PaymentProvider.External() && share > 0 {
			taken, err := e.clawbackWallet(ctx, tx, p, share)
			if err != nil {
				return err
			}
			res.ClawedBack += taken
			shortfall += share - taken
		}

		now := e.now()
		p.Status = models.PurchaseStatusRefunded
		p.RefundedAt = &now
		p.ClawbackShortfall = shortfall
		if reason != "" {
			p.RefundReason = &reason
		}
		if err := e.Purchases.UpdateStatusTx(ctx, tx, p); err != nil {
			return fmt.Errorf("mark refunded: %w", err)
		}
		res.Shortfall = shortfall
		return nil
	})
	if err != nil {
		if isBusiness(err) {
			return nil, err
		}
		return nil, e.internal(ctx, "refund", err, "purchase_id", purchaseID, "buyer_id", requesterID)
	}

	if res.Shortfall > 0 {
		e.log().WarnContext(ctx, "refund clawback shortfall", "purchase_id", p.ID, "seller_id", p.SellerID,
			"amount", p.PriceAtPurchase, "shortfall", res.Shortfall)
	}
	e.log().InfoContext(ctx, "purchase refunded", "purchase_id", p.ID, "buyer_id", p.UserID,
		"seller_id", p.SellerID, "amount", res.RefundedAmount, "clawed_back", res.ClawedBack)

	n := notifierOrNop(e.Notifier)
	n.Notify(ctx, p.UserID, NotifyPurchaseRefunded, map[string]any{"purchase_id": p.ID.String(), "amount": res.RefundedAmount})
	n.Notify(ctx, p.SellerID, NotifySaleRefunded, map[string]any{"purchase_id": p.ID.String(), "amount": res.ClawedBack})
	return res, nil
}

// clawbackWallet removes up to share from the seller wallet, pending bucket first
// (revenue not yet released), then the withdrawable balance.
func (e *RefundEngine) clawbackWallet(ctx context.Context, tx pgx.Tx, p *models.Purchase, share int64) (int64, error) {
	w, err := e.Wallets.GetByUserIDForUpdate(ctx, tx, p.SellerID)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("lock seller wallet: %w", err)
	}
	stillPending, err := e.Wallets.PendingForPurchaseTx(ctx, tx, p.ID)
	if err != nil {
		return 0, fmt.Errorf("pending revenue for purchase: %w", err)
	}
	fromPending := min(share, max(stillPending, 0), w.PendingBalance)
	fromBalance := min(share-fromPending, w.Balance)
	if fromPending+fromBalance == 0 {
		return 0, nil
	}
	if _, err := e.Wallets.AdjustTx(ctx, tx, w.ID, repository.WalletDelta{
		Pending: -fromPending, Balance: -fromBalance, Earned: -(fromPending + fromBalance),
	}); err != nil {
		return 0, fmt.Errorf("debit wallet: %w", err)
	}
	for _, leg := range []struct {
		bucket string
		amount int64
	}{{models.BucketPending, fromPending}, {models.BucketAvailable, fromBalance}} {
		if leg.amount == 0 {
			continue
		}
		if err := e.Wallets.CreateTransactionTx(ctx, tx, &models.WalletTransaction{
			ID: uuid.New(), WalletID: w.ID, Type: models.WalletTxRefund, Bucket: leg.bucket,
			Amount: -leg.amount, Description: "Refund clawback", PurchaseID: &p.ID,
		}); err != nil {
			return 0, fmt.Errorf("record wallet clawback: %w", err)
		}
	}
	return fromPending + fromBalance, nil
}

func (e *RefundEngine) internal(ctx context.Context, op string, err error, attrs ...any) error {
	e.log().ErrorContext(ctx, op, append(attrs, "error", err)...)
	return wrapInternal(err)
}

func (e *RefundEngine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *RefundEngine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}
