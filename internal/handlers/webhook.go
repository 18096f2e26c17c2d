package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/promptbazaar/backend/internal/models"
	"github.com/promptbazaar/backend/internal/payments"
)

const maxWebhookBytes = 64 << 10

// ConfirmationSink completes or fails deferred purchases. Both calls are idempotent.
type ConfirmationSink interface {
	ConfirmSettlement(ctx context.Context, provider models.PaymentProvider, correlationID string, md payments.Metadata) error
	FailSettlement(ctx context.Context, provider models.PaymentProvider, correlationID string, md payments.Metadata) error
}

// WebhookHandler receives processor callbacks. It answers 400 only when the
// signature does not verify, and 500 when settlement failed so the processor
// redelivers. Everything else is acknowledged.
type WebhookHandler struct {
	Processors map[models.PaymentProvider]payments.Processor
	Settlement ConfirmationSink
	Logger     *slog.Logger
}

// Handle returns the endpoint for one provider, e.g. POST /webhooks/stripe.
func (h *WebhookHandler) Handle(provider models.PaymentProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := h.log().With("provider", provider)
		proc, ok := h.Processors[provider]
		if !ok || proc == nil {
			WriteProblem(w, http.StatusNotFound, "processor_unavailable", "provider is not configured")
			return
		}
		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
		if err != nil {
			WriteProblem(w, http.StatusBadRequest, "invalid_body", "unreadable body")
			return
		}

		ev, err := proc.ParseWebhook(payload, r.Header)
		if errors.Is(err, payments.ErrInvalidSignature) {
			log.WarnContext(r.Context(), "webhook signature rejected", "error", err)
			WriteProblem(w, http.StatusBadRequest, "invalid_signature", "invalid signature")
			return
		}
		if err != nil {
			log.WarnContext(r.Context(), "webhook payload ignored", "error", err)
			w.WriteHeader(http.StatusOK)
			return
		}

		switch ev.Type {
		case payments.EventConfirmed:
			err = h.Settlement.ConfirmSettlement(r.Context(), provider, ev.CorrelationID, ev.Metadata)
		case payments.EventFailed:
			err = h.Settlement.FailSettlement(r.Context(), provider, ev.CorrelationID, ev.Metadata)
		default:
			log.DebugContext(r.Context(), "webhook event ignored", "event_id", ev.ID, "event_type", ev.RawType)
		}
		if err != nil {
			log.ErrorContext(r.Context(), "webhook settlement failed", "event_id", ev.ID, "event_type", ev.RawType,
				"processor_ref", ev.CorrelationID, "purchase_id", ev.Metadata.PurchaseID, "error", err)
			WriteProblem(w, http.StatusInternalServerError, "internal_error", "settlement failed")
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (h *WebhookHandler) log() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
