package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/promptbazaar/backend/internal/config"
	"github.com/promptbazaar/backend/internal/ledger"
	"github.com/promptbazaar/backend/internal/models"
	"github.com/promptbazaar/backend/internal/repository"
)

// PayoutEngine manages seller withdrawals from the wallet balance.
type PayoutEngine struct {
	Tx       ledger.TxBeginner
	Wallets  WalletStore
	Payouts  PayoutStore
	Notifier Notifier
	Config   config.PayoutConfig

	Now    func() time.Time
	Logger *slog.Logger
}

type PayoutResult struct {
	PayoutID         uuid.UUID `json:"payout_id"`
	Amount           int64     `json:"amount"`
	Fee              int64     `json:"fee"`
	NetAmount        int64     `json:"net_amount"`
	EstimatedArrival time.Time `json:"estimated_arrival"`
}

// WalletSummary is the seller's wallet view plus the payout policy in force.
type WalletSummary struct {
	Balance        int64                 `json:"balance"`
	PendingBalance int64                 `json:"pending_balance"`
	TotalEarned    int64                 `json:"total_earned"`
	TotalWithdrawn int64                 `json:"total_withdrawn"`
	InFlight       *models.PayoutRequest `json:"in_flight_payout,omitempty"`
	MinimumPayout  int64                 `json:"minimum_payout"`
	PayoutFee      int64                 `json:"payout_fee"`
	ProcessingDays int                   `json:"processing_days"`
	CanRequest     bool                  `json:"can_request_payout"`
}

// RequestPayout reserves amount from the wallet balance and files a pending request.
func (e *PayoutEngine) RequestPayout(ctx context.Context, sellerID uuid.UUID, amount int64, bank models.BankDetails) (*PayoutResult, error) {
	if amount < e.Config.MinimumAmount {
		return nil, fmt.Errorf("%w: minimum is %d, requested %d", ErrBelowMinimumPayout, e.Config.MinimumAmount, amount)
	}
	if err := validateBank(bank); err != nil {
		return nil, err
	}

	fee := e.Config.FixedFee
	req := &models.PayoutRequest{
		ID:        uuid.New(),
		Amount:    amount,
		Fee:       fee,
		NetAmount: amount - fee,
		Bank:      bank,
		Status:    models.PayoutStatusPending,
	}
	err := ledger.WithTx(ctx, e.Tx, func(tx pgx.Tx) error {
		w, err := e.Wallets.GetByUserIDForUpdate(ctx, tx, sellerID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrWalletNotFound
			}
			return fmt.Errorf("lock wallet: %w", err)
		}
		// A second request conflicts whatever the balance.
		if existing, err := e.Payouts.GetInFlightTx(ctx, tx, w.ID); err == nil {
			return fmt.Errorf("%w: request %s is %s; wait for it to finish or cancel it",
				ErrPayoutInProgress, existing.ID, existing.Status)
		} else if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("check in-flight payout: %w", err)
		}
		if w.Balance < amount {
			return fmt.Errorf("%w: available %d, requested %d, short by %d",
				ErrInsufficientBalance, w.Balance, amount, amount-w.Balance)
		}
		if req.NetAmount <= 0 {
			return fmt.Errorf("%w: fee %d leaves nothing of %d", ErrFeeExceedsAmount, fee, amount)
		}

		req.WalletID = w.ID
		if _, err := e.Wallets.AdjustTx(ctx, tx, w.ID, repository.WalletDelta{Balance: -amount, Withdrawn: amount}); err != nil {
			return fmt.Errorf("reserve balance: %w", err)
		}
		if err := e.Payouts.CreateTx(ctx, tx, req); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return ErrPayoutInProgress
			}
			return fmt.Errorf("insert payout request: %w", err)
		}
		if err := e.Wallets.CreateTransactionTx(ctx, tx, &models.WalletTransaction{
			ID: uuid.New(), WalletID: w.ID, Type: models.WalletTxPayout, Bucket: models.BucketAvailable,
			Amount: -amount, Description: "Payout to " + bank.BankName, PayoutID: &req.ID,
		}); err != nil {
			return fmt.Errorf("record payout: %w", err)
		}
		return nil
	})
	if err != nil {
		if isBusiness(err) {
			return nil, err
		}
		return nil, e.internal(ctx, "request payout", err, "seller_id", sellerID, "amount", amount)
	}

	e.log().InfoContext(ctx, "payout requested", "payout_id", req.ID, "seller_id", sellerID, "amount", amount, "fee", fee)
	notifierOrNop(e.Notifier).Notify(ctx, sellerID, NotifyPayoutRequested, map[string]any{
		"payout_id": req.ID.String(), "amount": amount, "net_amount": req.NetAmount,
	})
	return &PayoutResult{
		PayoutID:         req.ID,
		Amount:           amount,
		Fee:              fee,
		NetAmount:        req.NetAmount,
		EstimatedArrival: e.now().AddDate(0, 0, e.Config.ProcessingDays),
	}, nil
}

// CancelPayout returns a still-pending request's amount to the wallet balance.
func (e *PayoutEngine) CancelPayout(ctx context.Context, payoutID, sellerID uuid.UUID) (*models.PayoutRequest, error) {
	return e.transition(ctx, payoutID, &sellerID, models.PayoutStatusCancelled, "")
}

// MarkPayoutProcessing is the back-office hand-off to the bank.
func (e *PayoutEngine) MarkPayoutProcessing(ctx context.Context, payoutID uuid.UUID) (*models.PayoutRequest, error) {
	return e.transition(ctx, payoutID, nil, models.PayoutStatusProcessing, "")
}

func (e *PayoutEngine) CompletePayout(ctx context.Context, payoutID uuid.UUID) (*models.PayoutRequest, error) {
	return e.transition(ctx, payoutID, nil, models.PayoutStatusCompleted, "")
}

// FailPayout restores the reserved amount exactly like a cancellation.
func (e *PayoutEngine) FailPayout(ctx context.Context, payoutID uuid.UUID, reason string) (*models.PayoutRequest, error) {
	return e.transition(ctx, payoutID, nil, models.PayoutStatusFailed, reason)
}

var payoutTransitions = map[string][]string{
	models.PayoutStatusProcessing: {models.PayoutStatusPending},
	models.PayoutStatusCompleted:  {models.PayoutStatusPending, models.PayoutStatusProcessing},
	models.PayoutStatusFailed:     {models.PayoutStatusPending, models.PayoutStatusProcessing},
	models.PayoutStatusCancelled:  {models.PayoutStatusPending},
}

// transition moves a request to status. owner, when set, must own the wallet.
func (e *PayoutEngine) transition(ctx context.Context, payoutID uuid.UUID, owner *uuid.UUID, status, reason string) (*models.PayoutRequest, error) {
	var (
		req    *models.PayoutRequest
		wallet *models.Wallet
	)
	err := ledger.WithTx(ctx, e.Tx, func(tx pgx.Tx) error {
		// Read first to find the wallet, then lock wallet before request, the same
		// order RequestPayout uses.
		peek, err := e.Payouts.GetByID(ctx, payoutID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrPayoutNotFound
			}
			return fmt.Errorf("load payout: %w", err)
		}
		wallet, err = e.Wallets.GetByIDForUpdate(ctx, tx, peek.WalletID)
		if err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}
		if owner != nil && wallet.UserID != *owner {
			return ErrForbidden
		}
		req, err = e.Payouts.GetByIDForUpdate(ctx, tx, payoutID)
		if err != nil {
			return fmt.Errorf("lock payout: %w", err)
		}
		if !slices.Contains(payoutTransitions[status], req.Status) {
			if status == models.PayoutStatusCancelled {
				return fmt.Errorf("%w: status is %s", ErrPayoutNotCancellable, req.Status)
			}
			return fmt.Errorf("%w: %s -> %s", ErrInvalidPayoutTransition, req.Status, status)
		}

		now := e.now()
		req.Status = status
		switch status {
		case models.PayoutStatusCompleted, models.PayoutStatusFailed, models.PayoutStatusCancelled:
			req.ProcessedAt = &now
		}
		if reason != "" {
			req.FailureReason = &reason
		}
		if status == models.PayoutStatusCancelled || status == models.PayoutStatusFailed {
			if _, err := e.Wallets.AdjustTx(ctx, tx, wallet.ID, repository.WalletDelta{Balance: req.Amount, Withdrawn: -req.Amount}); err != nil {
				return fmt.Errorf("restore balance: %w", err)
			}
			if err := e.Wallets.CreateTransactionTx(ctx, tx, &models.WalletTransaction{
				ID: uuid.New(), WalletID: wallet.ID, Type: models.WalletTxPayout, Bucket: models.BucketAvailable,
				Amount: req.Amount, Description: "Payout " + status, PayoutID: &req.ID,
			}); err != nil {
				return fmt.Errorf("record payout reversal: %w", err)
			}
		}
		return e.Payouts.UpdateStatusTx(ctx, tx, req)
	})
	if err != nil {
		if isBusiness(err) {
			return nil, err
		}
		return nil, e.internal(ctx, "payout "+status, err, "payout_id", payoutID)
	}

	e.log().InfoContext(ctx, "payout status changed", "payout_id", req.ID, "seller_id", wallet.UserID,
		"status", req.Status, "amount", req.Amount)
	kind := map[string]string{
		models.PayoutStatusCancelled: NotifyPayoutCancelled,
		models.PayoutStatusCompleted: NotifyPayoutCompleted,
		models.PayoutStatusFailed:    NotifyPayoutFailed,
	}[status]
	if kind != "" {
		notifierOrNop(e.Notifier).Notify(ctx, wallet.UserID, kind, map[string]any{
			"payout_id": req.ID.String(), "amount": req.Amount, "reason": reason,
		})
	}
	return req, nil
}

// GetWalletSummary returns a zero summary for sellers who have not earned yet.
func (e *PayoutEngine) GetWalletSummary(ctx context.Context, sellerID uuid.UUID) (*WalletSummary, error) {
	sum := &WalletSummary{
		MinimumPayout:  e.Config.MinimumAmount,
		PayoutFee:      e.Config.FixedFee,
		ProcessingDays: e.Config.ProcessingDays,
	}
	w, err := e.Wallets.GetByUserID(ctx, sellerID)
	if errors.Is(err, repository.ErrNotFound) {
		return sum, nil
	}
	if err != nil {
		return nil, e.internal(ctx, "load wallet", err, "seller_id", sellerID)
	}
	sum.Balance = w.Balance
	sum.PendingBalance = w.PendingBalance
	sum.TotalEarned = w.TotalEarned
	sum.TotalWithdrawn = w.TotalWithdrawn

	inflight, err := e.Payouts.GetInFlight(ctx, w.ID)
	switch {
	case err == nil:
		sum.InFlight = inflight
	case !errors.Is(err, repository.ErrNotFound):
		return nil, e.internal(ctx, "load in-flight payout", err, "seller_id", sellerID)
	}
	sum.CanRequest = sum.InFlight == nil && w.Balance >= e.Config.MinimumAmount && w.Balance > e.Config.FixedFee
	return sum, nil
}

func (e *PayoutEngine) GetPayoutHistory(ctx context.Context, sellerID uuid.UUID, limit int) ([]*models.PayoutRequest, error) {
	w, err := e.Wallets.GetByUserID(ctx, sellerID)
	if errors.Is(err, repository.ErrNotFound) {
		return []*models.PayoutRequest{}, nil
	}
	if err != nil {
		return nil, e.internal(ctx, "load wallet", err, "seller_id", sellerID)
	}
	list, err := e.Payouts.ListByWallet(ctx, w.ID, limit)
	if err != nil {
		return nil, e.internal(ctx, "list payouts", err, "seller_id", sellerID)
	}
	return list, nil
}

func validateBank(b models.BankDetails) error {
	var missing []string
	for name, v := range map[string]string{
		"bank_name": b.BankName, "branch_name": b.BranchName, "account_type": b.AccountType,
		"account_number": b.AccountNumber, "account_holder": b.AccountHolder,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("%w: missing %s", ErrInvalidBankDetails, strings.Join(missing, ", "))
	}
	return nil
}

func (e *PayoutEngine) internal(ctx context.Context, op string, err error, attrs ...any) error {
	e.log().ErrorContext(ctx, op, append(attrs, "error", err)...)
	return wrapInternal(err)
}

func (e *PayoutEngine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *PayoutEngine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}
