package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/promptbazaar/backend/internal/services"
)

const maxBodyBytes = 1 << 20

// ErrorBody is the JSON shape of every non-2xx API response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusFor maps a business error kind to its HTTP status.
func StatusFor(k services.Kind) int {
	switch k {
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindForbidden:
		return http.StatusForbidden
	case services.KindConflict:
		return http.StatusConflict
	case services.KindInvalidInput:
		return http.StatusBadRequest
	case services.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case services.KindNotRefundable:
		return http.StatusUnprocessableEntity
	case services.KindProcessorError:
		return http.StatusBadGateway
	case services.KindProcessorUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteProblem writes an error body with an explicit status and code.
func WriteProblem(w http.ResponseWriter, status int, code, msg string) {
	WriteJSON(w, status, ErrorBody{Error: code, Message: msg})
}

// WriteError writes err using its business kind. Untyped and internal errors
// are logged and reported without detail.
func WriteError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	kind := services.KindOf(err)
	if kind == services.KindInternal {
		if log == nil {
			log = slog.Default()
		}
		log.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		WriteProblem(w, http.StatusInternalServerError, services.ErrInternal.Code, services.ErrInternal.Message)
		return
	}
	WriteProblem(w, StatusFor(kind), services.CodeOf(err), err.Error())
}

// DecodeJSON reads a bounded JSON body into v. An empty body leaves v untouched.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// PathUUID parses the named path wildcard.
func PathUUID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	return id, err == nil
}
