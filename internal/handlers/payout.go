package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/promptbazaar/backend/internal/middleware"
	"github.com/promptbazaar/backend/internal/models"
	"github.com/promptbazaar/backend/internal/services"
)

// PayoutManager is the payout engine as seen by the wallet and back-office endpoints.
type PayoutManager interface {
	RequestPayout(ctx context.Context, sellerID uuid.UUID, amount int64, bank models.BankDetails) (*services.PayoutResult, error)
	CancelPayout(ctx context.Context, payoutID, sellerID uuid.UUID) (*models.PayoutRequest, error)
	MarkPayoutProcessing(ctx context.Context, payoutID uuid.UUID) (*models.PayoutRequest, error)
	CompletePayout(ctx context.Context, payoutID uuid.UUID) (*models.PayoutRequest, error)
	FailPayout(ctx context.Context, payoutID uuid.UUID, reason string) (*models.PayoutRequest, error)
	GetWalletSummary(ctx context.Context, sellerID uuid.UUID) (*services.WalletSummary, error)
	GetPayoutHistory(ctx context.Context, sellerID uuid.UUID, limit int) ([]*models.PayoutRequest, error)
}

// DocValidator hard-rejects request bodies that fail their JSON schema.
type DocValidator interface {
	Validate(ctx context.Context, name string, doc json.RawMessage) error
}

// PayoutHandler serves /api/v1/wallet and the admin payout transitions.
type PayoutHandler struct {
	Payouts   PayoutManager
	Validator DocValidator
	Logger    *slog.Logger
}

type payoutRequest struct {
	Amount int64 `json:"amount"`
	models.BankDetails
}

type failPayoutRequest struct {
	Reason string `json:"reason"`
}

// WalletSummary handles GET /api/v1/wallet.
func (h *PayoutHandler) WalletSummary(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := middleware.UserIDFromCtx(r.Context())
	if !ok {
		WriteProblem(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}
	sum, err := h.Payouts.GetWalletSummary(r.Context(), sellerID)
	if err != nil {
		WriteError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, sum)
}

// ListPayouts handles GET /api/v1/wallet/payouts.
func (h *PayoutHandler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := middleware.UserIDFromCtx(r.Context())
	if !ok {
		WriteProblem(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}
	limit := cast.ToInt(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	list, err := h.Payouts.GetPayoutHistory(r.Context(), sellerID, limit)
	if err != nil {
		WriteError(w, r, h.Logger, err)
		return
	}
	if list == nil {
		list = []*models.PayoutRequest{}
	}
	WriteJSON(w, http.StatusOK, list)
}

// RequestPayout handles POST /api/v1/wallet/payouts.
// Schema check (hard reject) -> reserve balance -> 201.
func (h *PayoutHandler) RequestPayout(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := middleware.UserIDFromCtx(r.Context())
	if !ok {
		WriteProblem(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid_body", "request body too large or unreadable")
		return
	}
	if h.Validator != nil {
		if err := h.Validator.Validate(r.Context(), services.SchemaPayoutRequest, raw); err != nil {
			if errors.Is(err, services.ErrValidation) {
				WriteProblem(w, http.StatusBadRequest, services.ErrInvalidBankDetails.Code, err.Error())
				return
			}
			WriteError(w, r, h.Logger, err)
			return
		}
	}
	var req payoutRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid_json", "invalid JSON")
		return
	}
	res, err := h.Payouts.RequestPayout(r.Context(), sellerID, req.Amount, req.BankDetails)
	if err != nil {
		WriteError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, res)
}

// CancelPayout handles POST /api/v1/wallet/payouts/{id}/cancel.
func (h *PayoutHandler) CancelPayout(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := middleware.UserIDFromCtx(r.Context())
	if !ok {
		WriteProblem(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}
	payoutID, ok := PathUUID(r, "id")
	if !ok {
		WriteProblem(w, http.StatusBadRequest, "invalid_id", "invalid payout id")
		return
	}
	p, err := h.Payouts.CancelPayout(r.Context(), payoutID, sellerID)
	if err != nil {
		WriteError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, p)
}

// MarkProcessing handles POST /api/v1/admin/payouts/{id}/processing.
func (h *PayoutHandler) MarkProcessing(w http.ResponseWriter, r *http.Request) {
	h.adminTransition(w, r, func(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error) {
		return h.Payouts.MarkPayoutProcessing(ctx, id)
	})
}

// Complete handles POST /api/v1/admin/payouts/{id}/complete.
func (h *PayoutHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.adminTransition(w, r, h.Payouts.CompletePayout)
}

// Fail handles POST /api/v1/admin/payouts/{id}/fail with an optional {"reason"}.
func (h *PayoutHandler) Fail(w http.ResponseWriter, r *http.Request) {
	var req failPayoutRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid_json", "invalid JSON")
		return
	}
	h.adminTransition(w, r, func(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error) {
		return h.Payouts.FailPayout(ctx, id, req.Reason)
	})
}

func (h *PayoutHandler) adminTransition(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID) (*models.PayoutRequest, error)) {
	payoutID, ok := PathUUID(r, "id")
	if !ok {
		WriteProblem(w, http.StatusBadRequest, "invalid_id", "invalid payout id")
		return
	}
	p, err := fn(r.Context(), payoutID)
	if err != nil {
		WriteError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, p)
}
