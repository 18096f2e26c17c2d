package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/promptbazaar/backend/internal/config"
	"github.com/promptbazaar/backend/internal/ledger"
	"github.com/promptbazaar/backend/internal/models"
	"github.com/promptbazaar/backend/internal/payments"
	"github.com/promptbazaar/backend/internal/repository"
)

// SettlementEngine executes purchases across the credits, card and stablecoin
// rails and completes deferred ones when the processor confirms payment.
type SettlementEngine struct {
	Tx        ledger.TxBeginner
	Prompts   PromptReader
	Accounts  AccountStore
	Credits   CreditWriter
	Purchases PurchaseStore
	Wallets   WalletStore
	Notifier  Notifier
	Revenue   config.RevenueConfig

	// Processors holds only rails configured at startup. A missing entry means
	// the rail is unavailable, not unsupported.
	Processors map[models.PaymentProvider]payments.Processor

	CheckoutTimeout time.Duration
	PendingTTL      time.Duration
	Currency        string
	PublicBaseURL   string

	Now    func() time.Time
	Logger *slog.Logger
}

type SettleRequest struct {
	BuyerID   uuid.UUID
	PromptID  uuid.UUID
	Provider  models.PaymentProvider
	ReturnURL string
}

// SettleResult is either a completed purchase (credits rail) or a redirect
// to the processor's hosted checkout (deferred rails).
type SettleResult struct {
	PurchaseID  uuid.UUID `json:"purchase_id"`
	Status      string    `json:"status"`
	Price       int64     `json:"price"`
	RedirectURL string    `json:"redirect_url,omitempty"`
}

// SettlePurchase runs the purchase preconditions in order and settles through the requested rail.
func (e *SettlementEngine) SettlePurchase(ctx context.Context, req SettleRequest) (*SettleResult, error) {
	prompt, err := e.Prompts.GetByID(ctx, req.PromptID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPromptNotFound
		}
		return nil, e.internal(ctx, "load prompt", err, "prompt_id", req.PromptID)
	}
	if !prompt.Published {
		return nil, ErrNotPublished
	}

	// Fast path for a friendly error. The unique index is what actually enforces this.
	if _, err := e.Purchases.FindActive(ctx, req.BuyerID, prompt.ID); err == nil {
		return nil, ErrAlreadyPurchased
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, e.internal(ctx, "find active purchase", err, "buyer_id", req.BuyerID, "prompt_id", prompt.ID)
	}

	if req.BuyerID == prompt.OwnerID {
		return nil, ErrSelfPurchaseForbidden
	}

	if req.Provider == "" {
		req.Provider = models.ProviderCredits
	}
	if !req.Provider.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, req.Provider)
	}
	// Nothing to charge on an external rail for a free prompt.
	if prompt.Price == 0 || req.Provider == models.ProviderCredits {
		return e.settleCredits(ctx, req.BuyerID, prompt)
	}
	proc := e.Processors[req.Provider]
	if proc == nil {
		return nil, fmt.Errorf("%w: %s", ErrProcessorUnavailable, req.Provider)
	}
	return e.settleDeferred(ctx, req, prompt, proc)
}

// settleCredits debits the buyer, credits the seller and records the purchase in one transaction.
func (e *SettlementEngine) settleCredits(ctx context.Context, buyerID uuid.UUID, prompt *models.Prompt) (*SettleResult, error) {
	now := e.now()
	price := prompt.Price
	share := e.Revenue.SellerShare(price)
	p := &models.Purchase{
		ID:              uuid.New(),
		UserID:          buyerID,
		PromptID:        prompt.ID,
		SellerID:        prompt.OwnerID,
		PriceAtPurchase: price,
		Status:          models.PurchaseStatusCompleted,
		PaymentProvider: models.ProviderCredits,
		CompletedAt:     &now,
	}

	err := ledger.WithTx(ctx, e.Tx, func(tx pgx.Tx) error {
		locked := make(map[uuid.UUID]*models.Account, 2)
		for _, id := range ledger.LockOrder(buyerID, prompt.OwnerID) {
			acc, err := e.Accounts.GetByIDForUpdate(ctx, tx, id)
			if err != nil {
				return fmt.Errorf("lock account %s: %w", id, err)
			}
			locked[id] = acc
		}
		if buyer := locked[buyerID]; price > 0 && buyer.Credits < price {
			return fmt.Errorf("%w: balance %d, price %d, short by %d credits",
				ErrInsufficientFunds, buyer.Credits, price, price-buyer.Credits)
		}

		if err := e.Purchases.CreateTx(ctx, tx, p); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return ErrAlreadyPurchased
			}
			return fmt.Errorf("insert purchase: %w", err)
		}
		if price == 0 {
			return nil
		}

		if _, err := e.Accounts.DeductCredits(ctx, tx, buyerID, price); err != nil {
			return fmt.Errorf("debit buyer: %w", err)
		}
		if err := e.Credits.CreateTx(ctx, tx, &models.CreditHistory{
			ID: uuid.New(), UserID: buyerID, PurchaseID: &p.ID,
			Type: models.CreditTypePurchase, Amount: -price,
			Description: "Purchased: " + prompt.Title,
		}); err != nil {
			return fmt.Errorf("record buyer history: %w", err)
		}
		return e.creditSeller(ctx, tx, p, share, "Sale: "+prompt.Title)
	})
	if err != nil {
		if isBusiness(err) {
			return nil, err
		}
		return nil, e.internal(ctx, "credits settlement", err,
			"buyer_id", buyerID, "seller_id", prompt.OwnerID, "prompt_id", prompt.ID, "amount", price)
	}

	e.log().InfoContext(ctx, "purchase settled", "purchase_id", p.ID, "provider", p.PaymentProvider,
		"buyer_id", buyerID, "seller_id", prompt.OwnerID, "amount", price, "seller_share", share)
	e.notifySettled(ctx, p, share)
	return &SettleResult{PurchaseID: p.ID, Status: p.Status, Price: price}, nil
}

// creditSeller adds the seller's share to credits with a sale row. Caller holds the seller lock.
func (e *SettlementEngine) creditSeller(ctx context.Context, tx pgx.Tx, p *models.Purchase, share int64, desc string) error {
	if share <= 0 {
		return nil
	}
	if _, err := e.Accounts.AddCredits(ctx, tx, p.SellerID, share); err != nil {
		return fmt.Errorf("credit seller: %w", err)
	}
	if err := e.Credits.CreateTx(ctx, tx, &models.CreditHistory{
		ID: uuid.New(), UserID: p.SellerID, PurchaseID: &p.ID,
		Type: models.CreditTypeSale, Amount: share, Description: desc,
	}); err != nil {
		return fmt.Errorf("record seller history: %w", err)
	}
	return nil
}

// settleDeferred records a pending purchase, then opens a hosted checkout
// outside any transaction. Settlement finishes in ConfirmSettlement.
func (e *SettlementEngine) settleDeferred(ctx context.Context, req SettleRequest, prompt *models.Prompt, proc payments.Processor) (*SettleResult, error) {
	p := &models.Purchase{
		ID:              uuid.New(),
		UserID:          req.BuyerID,
		PromptID:        prompt.ID,
		SellerID:        prompt.OwnerID,
		PriceAtPurchase: prompt.Price,
		Status:          models.PurchaseStatusPending,
		PaymentProvider: req.Provider,
	}
	err := ledger.WithTx(ctx, e.Tx, func(tx pgx.Tx) error {
		if err := e.Purchases.CreateTx(ctx, tx, p); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return ErrAlreadyPurchased
			}
			return err
		}
		return nil
	})
	if err != nil {
		if isBusiness(err) {
			return nil, err
		}
		return nil, e.internal(ctx, "insert pending purchase", err, "buyer_id", req.BuyerID, "prompt_id", prompt.ID)
	}

	successURL, cancelURL := e.returnURLs(prompt.ID, req.ReturnURL)
	cctx, cancel := context.WithTimeout(ctx, e.checkoutTimeout())
	defer cancel()
	checkout, err := proc.CreateCheckout(cctx, payments.CheckoutRequest{
		Metadata: payments.Metadata{
			PurchaseID: p.ID,
			PromptID:   prompt.ID,
			BuyerID:    req.BuyerID,
			SellerID:   prompt.OwnerID,
			Price:      prompt.Price,
		},
		Title:      prompt.Title,
		Currency:   e.Currency,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
		ExpiresAt:  e.now().Add(e.pendingTTL()),
	})
	if err != nil {
		e.log().WarnContext(ctx, "checkout creation failed", "purchase_id", p.ID, "provider", req.Provider, "error", err)
		// Free the (buyer, prompt) slot so the buyer can retry right away.
		if ferr := e.failByID(ctx, p.ID); ferr != nil {
			e.log().ErrorContext(ctx, "mark purchase failed", "purchase_id", p.ID, "error", ferr)
		}
		return nil, fmt.Errorf("%w: %v", ErrProcessor, err)
	}

	// If this write is lost, the webhook still finds the purchase through metadata.purchase_id
	// and the reconciliation sweep fails it after the pending TTL.
	if err := ledger.WithTx(ctx, e.Tx, func(tx pgx.Tx) error {
		return e.Purchases.SetProcessorRefTx(ctx, tx, p.ID, checkout.CorrelationID)
	}); err != nil {
		e.log().ErrorContext(ctx, "store processor ref", "purchase_id", p.ID, "processor_ref", checkout.CorrelationID, "error", err)
	}

	e.log().InfoContext(ctx, "checkout created", "purchase_id", p.ID, "provider", req.Provider,
		"buyer_id", req.BuyerID, "prompt_id", prompt.ID, "amount", prompt.Price)
	return &SettleResult{
		PurchaseID:  p.ID,
		Status:      models.PurchaseStatusPending,
		Price:       prompt.Price,
		RedirectURL: checkout.RedirectURL,
	}, nil
}

// returnURLs only honours caller-supplied return URLs on our own origin.
func (e *SettlementEngine) returnURLs(promptID uuid.UUID, requested string) (success, cancel string) {
	base := strings.TrimRight(e.PublicBaseURL, "/")
	page := base + "/prompts/" + promptID.String()
	success = page + "?purchase=success"
	if requested != "" && base != "" && strings.HasPrefix(requested, base+"/") {
		success = requested
	}
	return success, page + "?purchase=cancelled"
}

func (e *SettlementEngine) notifySettled(ctx context.Context, p *models.Purchase, share int64) {
	n := notifierOrNop(e.Notifier)
	n.Notify(ctx, p.UserID, NotifyPurchaseCompleted, map[string]any{
		"purchase_id": p.ID.String(), "prompt_id": p.PromptID.String(), "amount": p.PriceAtPurchase,
	})
	n.Notify(ctx, p.SellerID, NotifySaleCompleted, map[string]any{
		"purchase_id": p.ID.String(), "prompt_id": p.PromptID.String(), "amount": share,
	})
}

// internal logs an unexpected failure with context and returns ErrInternal.
func (e *SettlementEngine) internal(ctx context.Context, op string, err error, attrs ...any) error {
	e.log().ErrorContext(ctx, op, append(attrs, "error", err)...)
	return wrapInternal(err)
}

func (e *SettlementEngine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *SettlementEngine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *SettlementEngine) checkoutTimeout() time.Duration {
	if e.CheckoutTimeout > 0 {
		return e.CheckoutTimeout
	}
	return 15 * time.Second
}

func (e *SettlementEngine) pendingTTL() time.Duration {
	if e.PendingTTL > 0 {
		return e.PendingTTL
	}
	return 2 * time.Hour
}
