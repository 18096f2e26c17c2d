package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/promptbazaar/backend/internal/config"
	"github.com/promptbazaar/backend/internal/ledger"
	"github.com/promptbazaar/backend/internal/middleware"
	"github.com/promptbazaar/backend/internal/notify"
	"github.com/promptbazaar/backend/internal/router"
	"github.com/promptbazaar/backend/internal/services"
	"github.com/promptbazaar/backend/internal/tasks"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Could not read .env file", "error", err)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DB.URL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	store := ledger.NewStore(pool)
	if err := store.Migrate(ctx); err != nil {
		slog.Error("Ledger schema migration failed", "error", err)
		os.Exit(1)
	}

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	sink, err := notify.New(ctx, cfg.Notify, logger)
	if err != nil {
		slog.Error("Notification sink init failed", "sink", cfg.Notify.Sink, "error", err)
		os.Exit(1)
	}

	validator, err := services.NewSchemaValidator(ctx, cfg.SchemaDir)
	if err != nil {
		slog.Error("Schema validator init failed", "schema_dir", cfg.SchemaDir, "error", err)
		os.Exit(1)
	}

	// Notifications: insert func is set after River client is created (breaks init cycle)
	var insertMu sync.Mutex
	var insertFn tasks.InsertNotifyFunc
	dispatcher := &tasks.Dispatcher{
		Insert: func(ctx context.Context, args tasks.NotifyArgs) error {
			insertMu.Lock()
			fn := insertFn
			insertMu.Unlock()
			if fn == nil {
				return errors.New("river insert not wired")
			}
			return fn(ctx, args)
		},
		Logger: logger,
	}

	app := buildApp(cfg, store, pool, dispatcher, validator, logger)

	workers := river.NewWorkers()
	tasks.Register(workers,
		tasks.NewNotifyWorker(sink, logger),
		tasks.NewReconcileWorker(app.reconciler),
		tasks.NewReleaseWorker(app.releaser),
	)

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:       tasks.Queues(),
		Workers:      workers,
		PeriodicJobs: tasks.PeriodicJobs(cfg.Checkout.ReconcileInterval),
		Logger:       logger,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, args tasks.NotifyArgs) error {
		_, err := riverClient.Insert(ctx, args, nil)
		return err
	}
	insertMu.Unlock()

	if err := riverClient.Start(ctx); err != nil {
		slog.Error("River client failed to start", "error", err)
		os.Exit(1)
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", middleware.AdminSecretHeader},
		AllowCredentials: true,
	}).Handler(router.New(app.handlers, app.tokens, cfg.Admin.Secret))

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Server.Port,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("Starting HTTP server", "addr", srv.Addr, "stripe", cfg.Stripe.Enabled(), "orynth", cfg.Orynth.Enabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		slog.Error("River shutdown", "error", err)
	}
}
