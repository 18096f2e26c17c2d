// Package dashboard serves the read-only account views: profile, credit
// history, purchases, sales and wallet activity.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/promptbazaar/backend/internal/handlers"
	"github.com/promptbazaar/backend/internal/middleware"
	"github.com/promptbazaar/backend/internal/models"
	"github.com/promptbazaar/backend/internal/repository"
	"github.com/promptbazaar/backend/internal/services"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

type AccountReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

type CreditLister interface {
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.CreditHistory, error)
}

type PurchaseLister interface {
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Purchase, error)
	ListBySeller(ctx context.Context, sellerID uuid.UUID, limit int) ([]*models.Purchase, error)
}

type WalletReader interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	ListTransactions(ctx context.Context, walletID uuid.UUID, limit int) ([]*models.WalletTransaction, error)
}

type Handler struct {
	accounts  AccountReader
	credits   CreditLister
	purchases PurchaseLister
	wallets   WalletReader
	log       *slog.Logger
}

func NewHandler(accounts AccountReader, credits CreditLister, purchases PurchaseLister, wallets WalletReader, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{accounts: accounts, credits: credits, purchases: purchases, wallets: wallets, log: log}
}

// GET /api/v1/account/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromCtx(r.Context())
	if !ok {
		handlers.WriteProblem(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}
	acc, err := h.accounts.GetByID(r.Context(), userID)
	if errors.Is(err, repository.ErrNotFound) {
		handlers.WriteProblem(w, http.StatusNotFound, "account_not_found", "account not found")
		return
	}
	if err != nil {
		handlers.WriteError(w, r, h.log, internal("get account", err))
		return
	}
	handlers.WriteJSON(w, http.StatusOK, acc)
}

// GET /api/v1/credit-history
func (h *Handler) ListCreditHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromCtx(r.Context())
	if !ok {
		handlers.WriteProblem(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}
	entries, err := h.credits.ListByUser(r.Context(), userID, limitParam(r))
	if err != nil {
		handlers.WriteError(w, r, h.log, internal("list credit history", err))
		return
	}
	if entries == nil {
		entries = []*models.CreditHistory{}
	}
	handlers.WriteJSON(w, http.StatusOK, entries)
}

// GET /api/v1/purchases
func (h *Handler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	h.listPurchases(w, r, h.purchases.ListByUser)
}

// GET /api/v1/sales
func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	h.listPurchases(w, r, h.purchases.ListBySeller)
}

func (h *Handler) listPurchases(w http.ResponseWriter, r *http.Request, list func(context.Context, uuid.UUID, int) ([]*models.Purchase, error)) {
	userID, ok := middleware.UserIDFromCtx(r.Context())
	if !ok {
		handlers.WriteProblem(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}
	out, err := list(r.Context(), userID, limitParam(r))
	if err != nil {
		handlers.WriteError(w, r, h.log, internal("list purchases", err))
		return
	}
	if out == nil {
		out = []*models.Purchase{}
	}
	handlers.WriteJSON(w, http.StatusOK, out)
}

// GET /api/v1/wallet/transactions
func (h *Handler) ListWalletTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromCtx(r.Context())
	if !ok {
		handlers.WriteProblem(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}
	wallet, err := h.wallets.GetByUserID(r.Context(), userID)
	if errors.Is(err, repository.ErrNotFound) {
		handlers.WriteJSON(w, http.StatusOK, []*models.WalletTransaction{})
		return
	}
	if err != nil {
		handlers.WriteError(w, r, h.log, internal("get wallet", err))
		return
	}
	txs, err := h.wallets.ListTransactions(r.Context(), wallet.ID, limitParam(r))
	if err != nil {
		handlers.WriteError(w, r, h.log, internal("list wallet transactions", err))
		return
	}
	if txs == nil {
		txs = []*models.WalletTransaction{}
	}
	handlers.WriteJSON(w, http.StatusOK, txs)
}

// limitParam reads ?limit=, falling back to the default on junk.
func limitParam(r *http.Request) int {
	n := cast.ToInt(r.URL.Query().Get("limit"))
	switch {
	case n <= 0:
		return defaultLimit
	case n > maxLimit:
		return maxLimit
	}
	return n
}

func internal(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", services.ErrInternal, op, err)
}
