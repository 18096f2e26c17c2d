package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/promptbazaar/backend/internal/models"
	"github.com/promptbazaar/backend/internal/payments"
)

const reconcileBatch = 200

// abandonFactor is how many pending TTLs an open checkout may linger before it is failed.
const abandonFactor = 4

// Reconciler resolves pending purchases whose confirmation webhook never arrived.
type Reconciler struct {
	Purchases  StalePurchaseLister
	Settlement *SettlementEngine
	PendingTTL time.Duration
	Now        func() time.Time
	Logger     *slog.Logger
}

type ReconcileReport struct {
	Scanned   int `json:"scanned"`
	Confirmed int `json:"confirmed"`
	Failed    int `json:"failed"`
	StillOpen int `json:"still_open"`
	Skipped   int `json:"skipped"`
}

// Sweep asks the processor about every pending purchase older than the pending TTL.
// Processor errors skip the row; the next sweep retries it.
func (r *Reconciler) Sweep(ctx context.Context) (*ReconcileReport, error) {
	now := r.now()
	stale, err := r.Purchases.ListStalePending(ctx, now.Add(-r.PendingTTL), reconcileBatch)
	if err != nil {
		return nil, fmt.Errorf("list stale purchases: %w", err)
	}
	rep := &ReconcileReport{Scanned: len(stale)}
	for _, p := range stale {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		outcome, err := r.reconcile(ctx, p, now)
		if err != nil {
			rep.Skipped++
			r.log().WarnContext(ctx, "reconcile purchase", "purchase_id", p.ID, "provider", p.PaymentProvider, "error", err)
			continue
		}
		switch outcome {
		case payments.CheckoutPaid:
			rep.Confirmed++
		case payments.CheckoutFailed, payments.CheckoutExpired:
			rep.Failed++
		default:
			rep.StillOpen++
		}
	}
	if rep.Scanned > 0 {
		r.log().InfoContext(ctx, "reconciliation sweep", "scanned", rep.Scanned, "confirmed", rep.Confirmed,
			"failed", rep.Failed, "still_open", rep.StillOpen, "skipped", rep.Skipped)
	}
	return rep, nil
}

func (r *Reconciler) reconcile(ctx context.Context, p *models.Purchase, now time.Time) (payments.CheckoutState, error) {
	s := r.Settlement
	// Checkout creation never returned a reference; nothing can confirm this purchase.
	if p.ProcessorRef == nil {
		return payments.CheckoutFailed, s.failByID(ctx, p.ID)
	}
	proc := s.Processors[p.PaymentProvider]
	if proc == nil {
		return "", fmt.Errorf("processor %s not configured", p.PaymentProvider)
	}

	cctx, cancel := context.WithTimeout(ctx, s.checkoutTimeout())
	state, err := proc.CheckoutStatus(cctx, *p.ProcessorRef)
	cancel()
	if err != nil {
		return "", err
	}

	md := payments.Metadata{PurchaseID: p.ID, PromptID: p.PromptID, BuyerID: p.UserID, SellerID: p.SellerID, Price: p.PriceAtPurchase}
	switch state {
	case payments.CheckoutPaid:
		return state, s.ConfirmSettlement(ctx, p.PaymentProvider, *p.ProcessorRef, md)
	case payments.CheckoutFailed, payments.CheckoutExpired:
		return state, s.FailSettlement(ctx, p.PaymentProvider, *p.ProcessorRef, md)
	}
	if now.Sub(p.CreatedAt) > abandonFactor*r.PendingTTL {
		return payments.CheckoutExpired, s.FailSettlement(ctx, p.PaymentProvider, *p.ProcessorRef, md)
	}
	return payments.CheckoutOpen, nil
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Reconciler) log() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
