package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/promptbazaar/backend/internal/middleware"
	"github.com/promptbazaar/backend/internal/models"
	"github.com/promptbazaar/backend/internal/services"
)

// PurchaseSettler is the settlement engine as seen by the purchase endpoint.
type PurchaseSettler interface {
	SettlePurchase(ctx context.Context, req services.SettleRequest) (*services.SettleResult, error)
}

// Refunder reverses completed purchases.
type Refunder interface {
	Refund(ctx context.Context, purchaseID, requesterID uuid.UUID, reason string) (*services.RefundResult, error)
	GetRefundEligibility(ctx context.Context, purchaseID, requesterID uuid.UUID) (*services.RefundEligibility, error)
}

// PurchaseHandler serves purchase and refund endpoints.
type PurchaseHandler struct {
	Settlement PurchaseSettler
	Refunds    Refunder
	Logger     *slog.Logger
}

type purchaseRequest struct {
	Provider  string `json:"provider"`
	ReturnURL string `json:"return_url"`
}

type refundRequest struct {
	Reason string `json:"reason"`
}

// Purchase handles POST /api/v1/prompts/{id}/purchase.
// Credits settle immediately (201); card and stablecoin answer 202 with a redirect.
func (h *PurchaseHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := middleware.UserIDFromCtx(r.Context())
	if !ok {
		WriteProblem(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}
	promptID, ok := PathUUID(r, "id")
	if !ok {
		WriteProblem(w, http.StatusBadRequest, "invalid_id", "invalid prompt id")
		return
	}
	var req purchaseRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid_json", "invalid JSON")
		return
	}
	provider := models.PaymentProvider(strings.ToLower(strings.TrimSpace(req.Provider)))
	if provider == "" {
		provider = models.ProviderCredits
	}

	res, err := h.Settlement.SettlePurchase(r.Context(), services.SettleRequest{
		BuyerID:   buyerID,
		PromptID:  promptID,
		Provider:  provider,
		ReturnURL: req.ReturnURL,
	})
	if err != nil {
		WriteError(w, r, h.Logger, err)
		return
	}
	status := http.StatusCreated
	if res.Status == models.PurchaseStatusPending {
		status = http.StatusAccepted
	}
	WriteJSON(w, status, res)
}

// Refund handles POST /api/v1/purchases/{id}/refund.
func (h *PurchaseHandler) Refund(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromCtx(r.Context())
	if !ok {
		WriteProblem(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}
	purchaseID, ok := PathUUID(r, "id")
	if !ok {
		WriteProblem(w, http.StatusBadRequest, "invalid_id", "invalid purchase id")
		return
	}
	var req refundRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid_json", "invalid JSON")
		return
	}
	res, err := h.Refunds.Refund(r.Context(), purchaseID, userID, strings.TrimSpace(req.Reason))
	if err != nil {
		WriteError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// RefundEligibility handles GET /api/v1/purchases/{id}/refund-eligibility.
func (h *PurchaseHandler) RefundEligibility(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromCtx(r.Context())
	if !ok {
		WriteProblem(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}
	purchaseID, ok := PathUUID(r, "id")
	if !ok {
		WriteProblem(w, http.StatusBadRequest, "invalid_id", "invalid purchase id")
		return
	}
	res, err := h.Refunds.GetRefundEligibility(r.Context(), purchaseID, userID)
	if err != nil {
		WriteError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}
