package main

import (
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promptbazaar/backend/internal/auth"
	"github.com/promptbazaar/backend/internal/catalog"
	"github.com/promptbazaar/backend/internal/config"
	"github.com/promptbazaar/backend/internal/dashboard"
	"github.com/promptbazaar/backend/internal/handlers"
	"github.com/promptbazaar/backend/internal/ledger"
	"github.com/promptbazaar/backend/internal/models"
	"github.com/promptbazaar/backend/internal/payments"
	"github.com/promptbazaar/backend/internal/repository"
	"github.com/promptbazaar/backend/internal/resultlogs"
	"github.com/promptbazaar/backend/internal/router"
	"github.com/promptbazaar/backend/internal/services"
)

type app struct {
	handlers   router.Handlers
	tokens     auth.Service
	reconciler *services.Reconciler
	releaser   *services.WalletReleaser
}

// buildApp wires repositories, engines and handlers. Processors without
// credentials are left out, so the engines report them unavailable.
func buildApp(cfg *config.Config, store *ledger.Store, pool *pgxpool.Pool, notifier services.Notifier, validator *services.SchemaValidator, logger *slog.Logger) *app {
	accounts := repository.NewAccountRepo(pool)
	credits := repository.NewCreditRepo(pool)
	prompts := repository.NewPromptRepo(pool)
	purchases := repository.NewPurchaseRepo(pool)
	wallets := repository.NewWalletRepo(pool)
	payouts := repository.NewPayoutRepo(pool)
	resultLogs := repository.NewResultLogRepo(pool)

	processors := map[models.PaymentProvider]payments.Processor{}
	if cfg.Stripe.Enabled() {
		processors[models.ProviderStripe] = payments.NewStripeProcessor(payments.StripeOptions{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			Currency:      cfg.Stripe.Currency,
		})
	}
	if cfg.Orynth.Enabled() {
		processors[models.ProviderOrynth] = payments.NewOrynthProcessor(cfg.Orynth.BaseURL, cfg.Orynth.APIKey, cfg.Orynth.WebhookSecret, nil)
	}

	bonus := &services.BonusService{Tx: store, Accounts: accounts, Credits: credits, Logger: logger}
	settlement := &services.SettlementEngine{
		Tx:              store,
		Prompts:         prompts,
		Accounts:        accounts,
		Credits:         credits,
		Purchases:       purchases,
		Wallets:         wallets,
		Notifier:        notifier,
		Revenue:         cfg.Revenue,
		Processors:      processors,
		CheckoutTimeout: cfg.Checkout.Timeout,
		PendingTTL:      cfg.Checkout.PendingTTL,
		Currency:        cfg.Stripe.Currency,
		PublicBaseURL:   cfg.Server.PublicBaseURL,
		Logger:          logger,
	}
	refunds := &services.RefundEngine{
		Tx:        store,
		Accounts:  accounts,
		Credits:   credits,
		Purchases: purchases,
		Wallets:   wallets,
		Notifier:  notifier,
		Revenue:   cfg.Revenue,
		Period:    cfg.Refund.Period(),
		Logger:    logger,
	}
	payoutEngine := &services.PayoutEngine{
		Tx:       store,
		Wallets:  wallets,
		Payouts:  payouts,
		Notifier: notifier,
		Config:   cfg.Payout,
		Logger:   logger,
	}

	authSvc := auth.NewService(auth.Options{
		Tx:          store,
		Users:       accounts,
		Bonus:       bonus,
		Secret:      cfg.Auth.JWTSecret,
		SignupBonus: cfg.Auth.SignupBonus,
		Logger:      logger,
	})

	results := &resultlogs.Service{
		Logs:      resultLogs,
		Prompts:   prompts,
		Purchases: purchases,
		Schema:    validator,
		Metrics:   services.NewMetricValidator(cfg.Metrics),
		Anomaly:   services.NewAnomalyDetector(),
		Logger:    logger,
	}

	return &app{
		tokens: authSvc,
		handlers: router.Handlers{
			Auth:      auth.NewHandler(authSvc, logger),
			Catalog:   catalog.NewHandler(catalog.NewService(prompts, logger), logger),
			Purchases: &handlers.PurchaseHandler{Settlement: settlement, Refunds: refunds, Logger: logger},
			Payouts:   &handlers.PayoutHandler{Payouts: payoutEngine, Validator: validator, Logger: logger},
			Results:   resultlogs.NewHandler(results, logger),
			Dashboard: dashboard.NewHandler(accounts, credits, purchases, wallets, logger),
			Webhooks:  &handlers.WebhookHandler{Processors: processors, Settlement: settlement, Logger: logger},
		},
		reconciler: &services.Reconciler{
			Purchases:  purchases,
			Settlement: settlement,
			PendingTTL: cfg.Checkout.PendingTTL,
			Logger:     logger,
		},
		releaser: &services.WalletReleaser{
			Tx:        store,
			Purchases: purchases,
			Wallets:   wallets,
			After:     time.Duration(cfg.Wallet.ReleaseAfterDays) * 24 * time.Hour,
			Logger:    logger,
		},
	}
}
