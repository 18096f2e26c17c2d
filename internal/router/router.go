package router

import (
	"net/http"

	"github.com/promptbazaar/backend/internal/auth"
	"github.com/promptbazaar/backend/internal/catalog"
	"github.com/promptbazaar/backend/internal/dashboard"
	"github.com/promptbazaar/backend/internal/handlers"
	"github.com/promptbazaar/backend/internal/middleware"
	"github.com/promptbazaar/backend/internal/models"
	"github.com/promptbazaar/backend/internal/resultlogs"
)

// Handlers groups everything the API serves.
type Handlers struct {
	Auth      *auth.Handler
	Catalog   *catalog.Handler
	Purchases *handlers.PurchaseHandler
	Payouts   *handlers.PayoutHandler
	Results   *resultlogs.Handler
	Dashboard *dashboard.Handler
	Webhooks  *handlers.WebhookHandler
}

// New returns an http.Handler that serves the API under /api/v1 and processor
// callbacks under /webhooks.
func New(h Handlers, tokens middleware.TokenValidator, adminSecret string) http.Handler {
	mux := http.NewServeMux()
	user := middleware.RequireUser(tokens)
	admin := middleware.RequireAdminSecret(adminSecret)
	authed := func(fn http.HandlerFunc) http.Handler { return user(fn) }
	const base = "/api/v1"

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("POST "+base+"/auth/register", h.Auth.Register)
	mux.HandleFunc("POST "+base+"/auth/login", h.Auth.Login)

	mux.Handle("POST "+base+"/prompts", authed(h.Catalog.CreatePrompt))
	mux.Handle("GET "+base+"/prompts", authed(h.Catalog.ListMine))
	mux.Handle("GET "+base+"/prompts/{id}", authed(h.Catalog.GetPrompt))
	mux.Handle("POST "+base+"/prompts/{id}/publish", authed(h.Catalog.PublishPrompt))
	mux.Handle("PUT "+base+"/prompts/{id}/price", authed(h.Catalog.UpdatePrice))
	mux.Handle("POST "+base+"/prompts/{id}/purchase", authed(h.Purchases.Purchase))
	mux.Handle("POST "+base+"/prompts/{id}/results", authed(h.Results.Submit))
	mux.Handle("GET "+base+"/prompts/{id}/results/summary", authed(h.Results.Summary))

	mux.Handle("POST "+base+"/purchases/{id}/refund", authed(h.Purchases.Refund))
	mux.Handle("GET "+base+"/purchases/{id}/refund-eligibility", authed(h.Purchases.RefundEligibility))

	mux.Handle("GET "+base+"/wallet", authed(h.Payouts.WalletSummary))
	mux.Handle("GET "+base+"/wallet/transactions", authed(h.Dashboard.ListWalletTransactions))
	mux.Handle("GET "+base+"/wallet/payouts", authed(h.Payouts.ListPayouts))
	mux.Handle("POST "+base+"/wallet/payouts", authed(h.Payouts.RequestPayout))
	mux.Handle("POST "+base+"/wallet/payouts/{id}/cancel", authed(h.Payouts.CancelPayout))

	mux.Handle("GET "+base+"/account/me", authed(h.Dashboard.GetMe))
	mux.Handle("GET "+base+"/credit-history", authed(h.Dashboard.ListCreditHistory))
	mux.Handle("GET "+base+"/purchases", authed(h.Dashboard.ListPurchases))
	mux.Handle("GET "+base+"/sales", authed(h.Dashboard.ListSales))

	mux.Handle("POST "+base+"/admin/payouts/{id}/processing", admin(http.HandlerFunc(h.Payouts.MarkProcessing)))
	mux.Handle("POST "+base+"/admin/payouts/{id}/complete", admin(http.HandlerFunc(h.Payouts.Complete)))
	mux.Handle("POST "+base+"/admin/payouts/{id}/fail", admin(http.HandlerFunc(h.Payouts.Fail)))

	mux.HandleFunc("POST /webhooks/stripe", h.Webhooks.Handle(models.ProviderStripe))
	mux.HandleFunc("POST /webhooks/orynth", h.Webhooks.Handle(models.ProviderOrynth))

	return mux
}
