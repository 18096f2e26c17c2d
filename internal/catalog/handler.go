package catalog

import (
	"log/slog"
	"net/http"

	"github.com/promptbazaar/backend/internal/handlers"
	"github.com/promptbazaar/backend/internal/middleware"
	"github.com/promptbazaar/backend/internal/models"
)

type CreatePromptRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
}

type UpdatePriceRequest struct {
	Price *int64 `json:"price"`
}

type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// POST /api/v1/prompts
func (h *Handler) CreatePrompt(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromCtx(r.Context())
	if !ok {
		handlers.WriteProblem(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}
	var req CreatePromptRequest
	if err := handlers.DecodeJSON(w, r, &req); err != nil {
		handlers.WriteProblem(w, http.StatusBadRequest, "invalid_json", "invalid JSON")
		return
	}
	p, err := h.svc.CreatePrompt(r.Context(), userID, req.Title, req.Description, req.Price)
	if err != nil {
		handlers.WriteError(w, r, h.log, err)
		return
	}
	handlers.WriteJSON(w, http.StatusCreated, p)
}

// GET /api/v1/prompts
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromCtx(r.Context())
	if !ok {
		handlers.WriteProblem(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}
	list, err := h.svc.ListMine(r.Context(), userID)
	if err != nil {
		handlers.WriteError(w, r, h.log, err)
		return
	}
	if list == nil {
		list = []*models.Prompt{}
	}
	handlers.WriteJSON(w, http.StatusOK, list)
}

// GET /api/v1/prompts/{id}
func (h *Handler) GetPrompt(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromCtx(r.Context())
	promptID, ok := handlers.PathUUID(r, "id")
	if !ok {
		handlers.WriteProblem(w, http.StatusBadRequest, "invalid_id", "invalid prompt id")
		return
	}
	p, err := h.svc.GetPrompt(r.Context(), userID, promptID)
	if err != nil {
		handlers.WriteError(w, r, h.log, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, p)
}

// POST /api/v1/prompts/{id}/publish
func (h *Handler) PublishPrompt(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromCtx(r.Context())
	if !ok {
		handlers.WriteProblem(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}
	promptID, ok := handlers.PathUUID(r, "id")
	if !ok {
		handlers.WriteProblem(w, http.StatusBadRequest, "invalid_id", "invalid prompt id")
		return
	}
	p, err := h.svc.PublishPrompt(r.Context(), userID, promptID)
	if err != nil {
		handlers.WriteError(w, r, h.log, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, p)
}

// PUT /api/v1/prompts/{id}/price
func (h *Handler) UpdatePrice(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromCtx(r.Context())
	if !ok {
		handlers.WriteProblem(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}
	promptID, ok := handlers.PathUUID(r, "id")
	if !ok {
		handlers.WriteProblem(w, http.StatusBadRequest, "invalid_id", "invalid prompt id")
		return
	}
	var req UpdatePriceRequest
	if err := handlers.DecodeJSON(w, r, &req); err != nil || req.Price == nil {
		handlers.WriteProblem(w, http.StatusBadRequest, "invalid_input", "price is required")
		return
	}
	p, err := h.svc.UpdatePrice(r.Context(), userID, promptID, *req.Price)
	if err != nil {
		handlers.WriteError(w, r, h.log, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, p)
}
