package resultlogs

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/promptbazaar/backend/internal/handlers"
	"github.com/promptbazaar/backend/internal/middleware"
)

const maxLogBytes = 16 << 10

type Handler struct {
	svc *Service
	log *slog.Logger
}

func NewHandler(svc *Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// POST /api/v1/prompts/{id}/results
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
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
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxLogBytes))
	if err != nil {
		handlers.WriteProblem(w, http.StatusBadRequest, "invalid_body", "request body too large or unreadable")
		return
	}
	sub, err := h.svc.SubmitResultLog(r.Context(), userID, promptID, raw)
	if err != nil {
		handlers.WriteError(w, r, h.log, err)
		return
	}
	handlers.WriteJSON(w, http.StatusCreated, sub)
}

// GET /api/v1/prompts/{id}/results/summary
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
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
	sum, err := h.svc.ResultSummary(r.Context(), userID, promptID)
	if err != nil {
		handlers.WriteError(w, r, h.log, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, map[string]any{"prompt_id": promptID, "metrics": sum})
}
